package webapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"caseflow/pkg/dispatch"
	"caseflow/pkg/evidence"
	"caseflow/pkg/persistence"
	"caseflow/pkg/proto"
	"caseflow/pkg/stage"
)

// snippetPayload is one evidence snippet as supplied by the client.
type snippetPayload struct {
	SnippetID      string `json:"snippet_id"`
	Text           string `json:"text"`
	SourceID       string `json:"source_id,omitempty"`
	SourceType     string `json:"source_type,omitempty"`
	SourceURL      string `json:"source_url,omitempty"`
	SourceCitation string `json:"source_citation,omitempty"`
}

// createCaseRequest is the POST /api/cases body.
type createCaseRequest struct {
	Title          string           `json:"title,omitempty"`
	PatientSummary string           `json:"patient_summary"`
	CurrentMeds    string           `json:"current_meds,omitempty"`
	Allergies      string           `json:"allergies,omitempty"`
	Labs           string           `json:"labs,omitempty"`
	Imaging        string           `json:"imaging,omitempty"`
	Evidence       []snippetPayload `json:"evidence"`
}

func (s *Server) handleCreateCase(w http.ResponseWriter, r *http.Request, userID string) {
	var req createCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}

	snippets := make([]evidence.Snippet, 0, len(req.Evidence))
	for _, p := range req.Evidence {
		snippets = append(snippets, evidence.Snippet{
			SnippetID:      p.SnippetID,
			Text:           p.Text,
			SourceID:       p.SourceID,
			SourceType:     p.SourceType,
			SourceURL:      p.SourceURL,
			SourceCitation: p.SourceCitation,
		})
	}
	set, err := evidence.NewSet(snippets)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	input := &stage.CaseInput{
		PatientSummary: req.PatientSummary,
		Evidence:       set,
		CurrentMeds:    req.CurrentMeds,
		Allergies:      req.Allergies,
		Labs:           req.Labs,
		Imaging:        req.Imaging,
	}
	if err := input.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caseID := uuid.New().String()
	requestJSON, err := json.Marshal(req)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to encode request")
		return
	}

	record := &persistence.Case{
		CaseID:  caseID,
		UserID:  userID,
		Title:   req.Title,
		Request: requestJSON,
	}
	if err := s.store.CreateCase(record); err != nil {
		s.logger.Error("failed to create case: %v", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create case")
		return
	}
	if len(snippets) > 0 {
		if err := s.store.AddEvidenceSnippets(caseID, snippets); err != nil {
			s.logger.Error("failed to store evidence for case %s: %v", caseID, err)
			s.writeError(w, http.StatusInternalServerError, "failed to store evidence")
			return
		}
	}

	job := dispatch.Job{CaseID: caseID, UserID: userID, Title: req.Title, Input: input}
	if err := s.dispatcher.Enqueue(job); err != nil {
		if dbErr := s.store.SetCaseError(caseID, err.Error()); dbErr != nil {
			s.logger.Error("failed to mark case %s errored: %v", caseID, dbErr)
		}
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	s.logger.Info("created case %s for user %s", caseID, userID)
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"case_id": caseID,
		"status":  proto.StatusCreated,
	})
}

func (s *Server) handleListCases(w http.ResponseWriter, _ *http.Request, userID string) {
	cases, err := s.store.ListCases(userID, 0)
	if err != nil {
		s.logger.Error("failed to list cases for user %s: %v", userID, err)
		s.writeError(w, http.StatusInternalServerError, "failed to list cases")
		return
	}
	if cases == nil {
		cases = []*persistence.Case{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"cases": cases})
}

func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request, userID string) {
	caseID := r.PathValue("id")

	c, err := s.store.GetCase(caseID, userID)
	if errors.Is(err, persistence.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "case not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get case %s: %v", caseID, err)
		s.writeError(w, http.StatusInternalServerError, "failed to get case")
		return
	}

	messages, err := s.store.GetMessages(caseID, userID)
	if err != nil {
		s.logger.Error("failed to get messages for case %s: %v", caseID, err)
		s.writeError(w, http.StatusInternalServerError, "failed to get case messages")
		return
	}
	if messages == nil {
		messages = []*persistence.Message{}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"case":     c,
		"messages": messages,
	})
}

// handleStreamCase streams a case's stage events as server-sent events.
// Frames carry event types status, message, done, error, and timeout.
func (s *Server) handleStreamCase(w http.ResponseWriter, r *http.Request, userID string) {
	caseID := r.PathValue("id")

	c, err := s.store.GetCase(caseID, userID)
	if errors.Is(err, persistence.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "case not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get case %s: %v", caseID, err)
		s.writeError(w, http.StatusInternalServerError, "failed to get case")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Subscribe before replaying history so no live event falls in the gap.
	events, cancel := s.dispatcher.Broker().Subscribe(caseID)
	defer cancel()

	s.writeFrame(w, flusher, "status", map[string]any{"status": c.Status})

	seen := make(map[string]bool)
	messages, err := s.store.GetMessages(caseID, userID)
	if err != nil {
		s.logger.Warn("failed to replay messages for case %s: %v", caseID, err)
	}
	for _, m := range messages {
		seen[m.MessageID] = true
		s.writeFrame(w, flusher, "message", m)
	}

	if c.Status == proto.StatusCompleted {
		s.writeFrame(w, flusher, "done", map[string]any{"final_document": c.FinalDocument})
		return
	}
	if c.Status == proto.StatusError {
		s.writeFrame(w, flusher, "error", map[string]string{"error": c.RunError})
		return
	}

	timeout := time.NewTimer(s.streamTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-timeout.C:
			s.writeFrame(w, flusher, "timeout", map[string]string{
				"error": fmt.Sprintf("case did not finish within %s", s.streamTimeout),
			})
			return
		case event, open := <-events:
			if !open {
				return
			}
			if seen[event.ID] {
				continue
			}
			seen[event.ID] = true

			switch event.Kind {
			case proto.EventError:
				s.writeFrame(w, flusher, "error", event)
				return
			case proto.EventFinal:
				s.writeFrame(w, flusher, "message", event)
				s.writeFrame(w, flusher, "done", map[string]any{"final_document": event.Output})
				return
			default:
				s.writeFrame(w, flusher, "message", event)
			}
		}
	}
}

func (s *Server) writeFrame(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		s.logger.Warn("failed to encode %s frame: %v", eventType, err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, payload)
	flusher.Flush()
}
