// Package proto defines the shared types that flow between the pipeline,
// the dispatcher, persistence, and the HTTP API: run states, case statuses,
// and the stage event envelope.
package proto

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State identifies a position in the pipeline state machine.
type State string

const (
	StateDifferential State = "DIFFERENTIAL"
	StateWarning      State = "WARNING"
	StateReview       State = "REVIEW"
	StateVerification State = "VERIFICATION"
	StateReasoning    State = "REASONING"
	StateAction       State = "ACTION"
	StateSynthesize   State = "SYNTHESIZE"
	StateDone         State = "DONE"
	StateFailed       State = "FAILED"
)

// IsTerminal reports whether the state ends a run.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// CaseStatus is the run-level status surfaced to API clients.
type CaseStatus string

const (
	StatusCreated    CaseStatus = "CREATED"
	StatusProcessing CaseStatus = "PROCESSING"
	StatusCompleted  CaseStatus = "COMPLETED"
	StatusError      CaseStatus = "ERROR"
)

// ValidStatuses returns all valid case statuses.
func ValidStatuses() []CaseStatus {
	return []CaseStatus{StatusCreated, StatusProcessing, StatusCompleted, StatusError}
}

// EventKind distinguishes intermediate stage events from the final document
// event and run-level failures.
type EventKind string

const (
	EventIntermediate EventKind = "intermediate"
	EventFinal        EventKind = "final"
	EventError        EventKind = "error"
)

// StageEvent is published once per completed (or degraded) stage and once for
// the final document. The delivery layer subscribes and fans events out to
// streaming clients; persistence records them as case messages.
type StageEvent struct {
	ID            string          `json:"id"`
	CaseID        string          `json:"case_id"`
	Stage         string          `json:"stage"`
	Kind          EventKind       `json:"kind"`
	Degraded      bool            `json:"degraded,omitempty"`
	Output        json.RawMessage `json:"output,omitempty"`
	CitationsUsed []string        `json:"citations_used,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// NewStageEvent creates a stage event with a fresh id and timestamp.
func NewStageEvent(caseID, stage string, kind EventKind) *StageEvent {
	return &StageEvent{
		ID:        uuid.New().String(),
		CaseID:    caseID,
		Stage:     stage,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
	}
}

// SetOutput attaches a JSON-serializable payload to the event.
func (e *StageEvent) SetOutput(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to serialize stage output: %w", err)
	}
	e.Output = data
	return nil
}

// ToJSON serializes the event for the event log and SSE delivery.
func (e *StageEvent) ToJSON() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize stage event: %w", err)
	}
	return data, nil
}

// EventFromJSON parses a stage event previously written with ToJSON.
func EventFromJSON(data []byte) (*StageEvent, error) {
	var event StageEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to parse stage event: %w", err)
	}
	return &event, nil
}
