// Package pipeline orchestrates the six-stage clinical diagnosis chain:
// it owns the per-run state, sequences the stages with one fan-out, handles
// partial failure by degrading slots, and produces the final document.
package pipeline

import (
	"fmt"
	"sync"

	"caseflow/pkg/agent/llm"
	"caseflow/pkg/proto"
	"caseflow/pkg/stage"
)

// RunState is the accumulating record threaded through all stages of one
// run. The orchestrator exclusively owns and mutates it; each stage output
// slot is written exactly once and read-only afterward. Histories are
// per-stage and never shared across stages.
type RunState struct {
	mu sync.Mutex

	caseID  string
	input   *stage.CaseInput
	current proto.State

	slots     map[proto.State]stage.Output
	histories map[proto.State][]llm.CompletionMessage

	final *stage.FinalDocument
}

// NewRunState creates the state for one run, positioned at the first stage.
func NewRunState(caseID string, input *stage.CaseInput) *RunState {
	return &RunState{
		caseID:    caseID,
		input:     input,
		current:   proto.StateDifferential,
		slots:     make(map[proto.State]stage.Output),
		histories: make(map[proto.State][]llm.CompletionMessage),
	}
}

// CaseID returns the run's case identifier.
func (rs *RunState) CaseID() string { return rs.caseID }

// Current returns the orchestrator state the run is in.
func (rs *RunState) Current() proto.State {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.current
}

func (rs *RunState) setCurrent(s proto.State) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.current = s
}

// writeSlot stores a stage output. Writing an already-written slot is
// rejected: slots are write-once.
func (rs *RunState) writeSlot(s proto.State, out stage.Output) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if _, exists := rs.slots[s]; exists {
		return fmt.Errorf("slot %s already written", s)
	}
	rs.slots[s] = out
	return nil
}

// Slot returns the output written by the given state, if any.
func (rs *RunState) Slot(s proto.State) (stage.Output, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out, ok := rs.slots[s]
	return out, ok
}

// setHistory replaces a stage's conversation history with the appended
// sequence returned by the invoker. Histories only grow.
func (rs *RunState) setHistory(s proto.State, history []llm.CompletionMessage) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.histories[s] = history
}

// History returns a copy of the stage's conversation history.
func (rs *RunState) History(s proto.State) []llm.CompletionMessage {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	h := rs.histories[s]
	out := make([]llm.CompletionMessage, len(h))
	copy(out, h)
	return out
}

// Final returns the final document once Synthesize has completed.
func (rs *RunState) Final() *stage.FinalDocument {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.final
}

func (rs *RunState) setFinal(doc *stage.FinalDocument) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.final = doc
}

// projection builds the stage input view from the written slots. Each
// contract's BuildInput reads only its allow-listed fields.
func (rs *RunState) projection() *stage.Input {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	in := &stage.Input{Case: rs.input}
	if out, ok := rs.slots[proto.StateDifferential]; ok {
		in.Differential, _ = out.(*stage.DifferentialOutput)
	}
	if out, ok := rs.slots[proto.StateWarning]; ok {
		in.Warning, _ = out.(*stage.WarningOutput)
	}
	if out, ok := rs.slots[proto.StateReview]; ok {
		in.Review, _ = out.(*stage.ReviewOutput)
	}
	if out, ok := rs.slots[proto.StateVerification]; ok {
		in.Verification, _ = out.(*stage.VerificationOutput)
	}
	if out, ok := rs.slots[proto.StateReasoning]; ok {
		in.Reasoning, _ = out.(*stage.ReasoningOutput)
	}
	if out, ok := rs.slots[proto.StateAction]; ok {
		in.Action, _ = out.(*stage.ActionOutput)
	}
	return in
}
