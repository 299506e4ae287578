package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseflow/pkg/agent"
	"caseflow/pkg/agent/llm"
	"caseflow/pkg/agent/llmerrors"
	"caseflow/pkg/evidence"
	"caseflow/pkg/proto"
	"caseflow/pkg/stage"
)

// memorySink collects published events. Publish must be safe for concurrent
// use because the fan-out stages publish from separate goroutines.
type memorySink struct {
	mu     sync.Mutex
	events []*proto.StageEvent
}

func (s *memorySink) Publish(e *proto.StageEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *memorySink) all() []*proto.StageEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*proto.StageEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *memorySink) byStage(name string) *proto.StageEvent {
	for _, e := range s.all() {
		if e.Stage == name {
			return e
		}
	}
	return nil
}

func fullCaseInput(t *testing.T) *stage.CaseInput {
	t.Helper()
	set, err := evidence.NewSet([]evidence.Snippet{
		{SnippetID: "hf_guidelines_1", Text: "HF guideline", SourceID: "s1", SourceType: "guideline"},
		{SnippetID: "ckd_considerations_1", Text: "CKD dosing", SourceID: "s2", SourceType: "guideline"},
		{SnippetID: "bnp_interpretation_1", Text: "BNP cutoffs", SourceID: "s3", SourceType: "reference"},
	})
	require.NoError(t, err)
	return &stage.CaseInput{
		PatientSummary: "72yo with progressive dyspnea, orthopnea, bilateral edema",
		Evidence:       set,
		CurrentMeds:    "lisinopril 10mg",
		Labs:           "BNP 1450 pg/mL, Cr 1.9 mg/dL",
	}
}

func simulatorOrchestrator(sink EventSink) *Orchestrator {
	invoker := NewInvoker(agent.NewSimulatorClient("mock"), nil)
	return NewOrchestrator(stage.NewRegistry(), invoker, nil, WithEventSink(sink))
}

func TestRunEndToEnd(t *testing.T) {
	sink := &memorySink{}
	orch := simulatorOrchestrator(sink)

	doc, err := orch.Run(context.Background(), "case-e2e", fullCaseInput(t))
	require.NoError(t, err)
	require.NotNil(t, doc)

	assert.NotEmpty(t, doc.Text)
	assert.NotNil(t, doc.Diagnoses)
	assert.NotNil(t, doc.RedFlags)
	assert.NotNil(t, doc.TreatmentPlan.InitialManagement)

	events := sink.all()
	require.Len(t, events, 7, "six stage events plus the final document")

	// The first two events are the fan-out pair, in either order.
	fanOut := map[string]bool{events[0].Stage: true, events[1].Stage: true}
	assert.True(t, fanOut[stage.NameDifferential] && fanOut[stage.NameWarning],
		"fan-out events = %s, %s", events[0].Stage, events[1].Stage)

	wantTail := []string{stage.NameReview, stage.NameVerification, stage.NameReasoning, stage.NameAction, stage.NameSynthesize}
	for i, name := range wantTail {
		assert.Equal(t, name, events[i+2].Stage)
	}
	assert.Equal(t, proto.EventFinal, events[6].Kind)
	for _, e := range events[:6] {
		assert.Equal(t, proto.EventIntermediate, e.Kind)
		assert.False(t, e.Degraded)
	}
}

func TestRunDeterministicAcrossFanOutOrder(t *testing.T) {
	run := func() *stage.FinalDocument {
		orch := simulatorOrchestrator(&memorySink{})
		doc, err := orch.Run(context.Background(), "case-order", fullCaseInput(t))
		require.NoError(t, err)
		return doc
	}

	a, err := json.Marshal(run())
	require.NoError(t, err)
	b, err := json.Marshal(run())
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b), "final document must not depend on fan-out completion order")
}

func TestRunFailsBeforeStagesOnBadInput(t *testing.T) {
	sink := &memorySink{}
	orch := simulatorOrchestrator(sink)

	_, err := orch.Run(context.Background(), "case-bad", &stage.CaseInput{Evidence: fullCaseInput(t).Evidence})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration error")
	assert.Empty(t, sink.all(), "no stage may execute on invalid input")
}

// selectiveClient fails specific stage tools and delegates the rest to the
// simulator.
type selectiveClient struct {
	inner   llm.LLMClient
	failFor string
	err     error
}

func (c *selectiveClient) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	if len(req.Tools) > 0 && req.Tools[0].Name == c.failFor {
		return llm.CompletionResponse{}, c.err
	}
	return c.inner.Complete(ctx, req)
}

func (c *selectiveClient) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return c.inner.Stream(ctx, req)
}

func (c *selectiveClient) GetModelName() string { return "selective" }

func TestWarningDegradationStillCompletes(t *testing.T) {
	client := &selectiveClient{
		inner:   agent.NewSimulatorClient("mock"),
		failFor: "record_warnings",
		err:     llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeRateLimit, 429, "quota exceeded"),
	}
	sink := &memorySink{}
	orch := NewOrchestrator(stage.NewRegistry(), NewInvoker(client, nil), nil, WithEventSink(sink))

	doc, err := orch.Run(context.Background(), "case-degraded", fullCaseInput(t))
	require.NoError(t, err, "model unavailability degrades the slot, it does not fail the run")
	require.NotNil(t, doc)

	warning := sink.byStage(stage.NameWarning)
	require.NotNil(t, warning)
	assert.True(t, warning.Degraded)

	// The final document still carries the red_flags field.
	assert.NotNil(t, doc.RedFlags)

	final := sink.byStage(stage.NameSynthesize)
	require.NotNil(t, final)
	assert.Equal(t, proto.EventFinal, final.Kind)
}

func TestStageTimeoutIsFatal(t *testing.T) {
	client := &selectiveClient{
		inner:   agent.NewSimulatorClient("mock"),
		failFor: "record_verification",
		err:     llmerrors.NewError(llmerrors.ErrorTypeTimeout, "stage bound exceeded"),
	}
	sink := &memorySink{}
	orch := NewOrchestrator(stage.NewRegistry(), NewInvoker(client, nil), nil, WithEventSink(sink))

	_, err := orch.Run(context.Background(), "case-timeout", fullCaseInput(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Nil(t, sink.byStage(stage.NameSynthesize), "no final document after a fatal timeout")
}

func TestSynthesizerFailureFailsRun(t *testing.T) {
	client := &selectiveClient{
		inner:   agent.NewSimulatorClient("mock"),
		failFor: "record_final_document",
		err:     llmerrors.NewError(llmerrors.ErrorTypeTransient, "connection reset"),
	}
	orch := NewOrchestrator(stage.NewRegistry(), NewInvoker(client, nil), nil)

	_, err := orch.Run(context.Background(), "case-synth-fail", fullCaseInput(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "synthesize failed")
}

func TestFinalEvidenceListIsSubsetOfSupplied(t *testing.T) {
	orch := simulatorOrchestrator(&memorySink{})
	input := fullCaseInput(t)

	doc, err := orch.Run(context.Background(), "case-subset", input)
	require.NoError(t, err)

	for _, snip := range doc.EvidenceList {
		assert.True(t, input.Evidence.Has(snip.SnippetID),
			"final evidence %s was never supplied", snip.SnippetID)
	}
}
