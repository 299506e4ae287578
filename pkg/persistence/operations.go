package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"caseflow/pkg/evidence"
	"caseflow/pkg/proto"
)

// ErrNotFound is returned when a requested record does not exist or is not
// visible to the requesting user.
var ErrNotFound = errors.New("record not found")

// Store performs all case, message, and evidence operations. Writes are
// append-only per case, so concurrent runs never contend on each other's
// records.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over the given connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateCase inserts a new case in CREATED status.
func (s *Store) CreateCase(c *Case) error {
	request := c.Request
	if request == nil {
		request = json.RawMessage("{}")
	}
	_, err := s.db.Exec(`
		INSERT INTO cases (case_id, user_id, title, status, request_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		c.CaseID, c.UserID, c.Title, string(proto.StatusCreated), string(request),
	)
	if err != nil {
		return fmt.Errorf("failed to create case %s: %w", c.CaseID, err)
	}
	return nil
}

// GetCase fetches a case by id. A non-empty userID scopes the lookup to that
// user's cases.
func (s *Store) GetCase(caseID, userID string) (*Case, error) {
	query := `
		SELECT case_id, user_id, title, status, request_json, final_document, run_error, created_at, updated_at
		FROM cases WHERE case_id = ?`
	args := []any{caseID}
	if userID != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}

	var (
		c        Case
		request  string
		finalDoc sql.NullString
	)
	err := s.db.QueryRow(query, args...).Scan(
		&c.CaseID, &c.UserID, &c.Title, &c.Status, &request, &finalDoc, &c.RunError, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get case %s: %w", caseID, err)
	}
	c.Request = json.RawMessage(request)
	if finalDoc.Valid {
		c.FinalDocument = json.RawMessage(finalDoc.String)
	}
	return &c, nil
}

// ListCases returns a user's cases, newest first.
func (s *Store) ListCases(userID string, limit int) ([]*Case, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT case_id, user_id, title, status, run_error, created_at, updated_at
		FROM cases WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cases []*Case
	for rows.Next() {
		var c Case
		if err := rows.Scan(&c.CaseID, &c.UserID, &c.Title, &c.Status, &c.RunError, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan case row: %w", err)
		}
		cases = append(cases, &c)
	}
	return cases, rows.Err() //nolint:wrapcheck // Iteration error surfaces as-is
}

// UpdateCaseStatus moves a case to a new run status.
func (s *Store) UpdateCaseStatus(caseID string, status proto.CaseStatus) error {
	res, err := s.db.Exec(
		"UPDATE cases SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE case_id = ?",
		string(status), caseID,
	)
	if err != nil {
		return fmt.Errorf("failed to update case %s status: %w", caseID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetFinalDocument stores the run's terminal artifact and marks the case
// COMPLETED.
func (s *Store) SetFinalDocument(caseID string, doc json.RawMessage) error {
	res, err := s.db.Exec(`
		UPDATE cases SET status = ?, final_document = ?, updated_at = CURRENT_TIMESTAMP
		WHERE case_id = ?`,
		string(proto.StatusCompleted), string(doc), caseID,
	)
	if err != nil {
		return fmt.Errorf("failed to store final document for case %s: %w", caseID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetCaseError marks a case ERROR with the run-level failure message. No
// final document is stored; partial stage messages remain for diagnostics.
func (s *Store) SetCaseError(caseID, runError string) error {
	res, err := s.db.Exec(`
		UPDATE cases SET status = ?, run_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE case_id = ?`,
		string(proto.StatusError), runError, caseID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark case %s errored: %w", caseID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddMessage persists one stage event for a case.
func (s *Store) AddMessage(m *Message) error {
	citations, err := json.Marshal(m.Citations)
	if err != nil {
		return fmt.Errorf("failed to encode citations: %w", err)
	}
	output := m.Output
	if output == nil {
		output = json.RawMessage("{}")
	}
	_, err = s.db.Exec(`
		INSERT INTO messages (message_id, case_id, user_id, stage, kind, degraded, output_json, citations_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.MessageID, m.CaseID, m.UserID, m.Stage, m.Kind, m.Degraded, string(output), string(citations),
		m.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to add message to case %s: %w", m.CaseID, err)
	}
	return nil
}

// GetMessages returns a case's stage messages in creation order. A
// non-empty userID scopes the read.
func (s *Store) GetMessages(caseID, userID string) ([]*Message, error) {
	query := `
		SELECT message_id, case_id, user_id, stage, kind, degraded, output_json, citations_json, created_at
		FROM messages WHERE case_id = ?`
	args := []any{caseID}
	if userID != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY created_at"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages for case %s: %w", caseID, err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*Message
	for rows.Next() {
		var (
			m         Message
			output    string
			citations string
		)
		if err := rows.Scan(&m.MessageID, &m.CaseID, &m.UserID, &m.Stage, &m.Kind, &m.Degraded, &output, &citations, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		m.Output = json.RawMessage(output)
		if err := json.Unmarshal([]byte(citations), &m.Citations); err != nil {
			m.Citations = nil
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err() //nolint:wrapcheck // Iteration error surfaces as-is
}

// AddEvidenceSnippets persists a case's evidence set. Snippets are immutable
// once supplied.
func (s *Store) AddEvidenceSnippets(caseID string, snippets []evidence.Snippet) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin evidence insert: %w", err)
	}
	for i := range snippets {
		sn := &snippets[i]
		if _, err := tx.Exec(`
			INSERT INTO evidence_snippets (case_id, snippet_id, idx, text, source_id, source_type, source_url, source_citation)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			caseID, sn.SnippetID, i, sn.Text, sn.SourceID, sn.SourceType, sn.SourceURL, sn.SourceCitation,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to add snippet %s to case %s: %w", sn.SnippetID, caseID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit evidence insert: %w", err)
	}
	return nil
}

// GetEvidenceSnippets returns a case's evidence snippets in supplied order.
func (s *Store) GetEvidenceSnippets(caseID string) ([]evidence.Snippet, error) {
	rows, err := s.db.Query(`
		SELECT snippet_id, idx, text, source_id, source_type, source_url, source_citation
		FROM evidence_snippets WHERE case_id = ? ORDER BY idx`, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to get evidence for case %s: %w", caseID, err)
	}
	defer func() { _ = rows.Close() }()

	var snippets []evidence.Snippet
	for rows.Next() {
		var sn evidence.Snippet
		if err := rows.Scan(&sn.SnippetID, &sn.Index, &sn.Text, &sn.SourceID, &sn.SourceType, &sn.SourceURL, &sn.SourceCitation); err != nil {
			return nil, fmt.Errorf("failed to scan snippet row: %w", err)
		}
		snippets = append(snippets, sn)
	}
	return snippets, rows.Err() //nolint:wrapcheck // Iteration error surfaces as-is
}
