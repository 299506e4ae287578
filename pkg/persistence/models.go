package persistence

import (
	"encoding/json"
	"time"

	"caseflow/pkg/proto"
)

// Case is one clinical case record.
type Case struct {
	CaseID        string           `json:"case_id"`
	UserID        string           `json:"user_id"`
	Title         string           `json:"title,omitempty"`
	Status        proto.CaseStatus `json:"status"`
	Request       json.RawMessage  `json:"request,omitempty"`
	FinalDocument json.RawMessage  `json:"final_document,omitempty"`
	RunError      string           `json:"run_error,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Message is one persisted stage event for a case.
type Message struct {
	MessageID string          `json:"message_id"`
	CaseID    string          `json:"case_id"`
	UserID    string          `json:"user_id"`
	Stage     string          `json:"stage"`
	Kind      string          `json:"kind"`
	Degraded  bool            `json:"degraded,omitempty"`
	Output    json.RawMessage `json:"output"`
	Citations []string        `json:"citations_used"`
	CreatedAt time.Time       `json:"created_at"`
}

// EvidenceRecord is one persisted evidence snippet scoped to a case.
type EvidenceRecord struct {
	CaseID         string `json:"case_id"`
	SnippetID      string `json:"snippet_id"`
	Index          int    `json:"index"`
	Text           string `json:"text"`
	SourceID       string `json:"source_id,omitempty"`
	SourceType     string `json:"source_type,omitempty"`
	SourceURL      string `json:"source_url,omitempty"`
	SourceCitation string `json:"source_citation,omitempty"`
}
