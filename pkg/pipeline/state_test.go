package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseflow/pkg/agent/llm"
	"caseflow/pkg/evidence"
	"caseflow/pkg/proto"
	"caseflow/pkg/stage"
)

func newTestState(t *testing.T) *RunState {
	t.Helper()
	set, err := evidence.NewSet([]evidence.Snippet{
		{SnippetID: "hf_guidelines_1", Text: "HF guideline"},
	})
	require.NoError(t, err)
	return NewRunState("case-1", &stage.CaseInput{
		PatientSummary: "72yo with dyspnea",
		Evidence:       set,
	})
}

func TestSlotsAreWriteOnce(t *testing.T) {
	rs := newTestState(t)

	first := &stage.DifferentialOutput{
		Differential: []stage.DifferentialCandidate{{Label: "heart failure", Rationale: "BNP"}},
	}
	require.NoError(t, rs.writeSlot(proto.StateDifferential, first))

	err := rs.writeSlot(proto.StateDifferential, &stage.DifferentialOutput{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already written")

	// The original write is untouched.
	out, ok := rs.Slot(proto.StateDifferential)
	require.True(t, ok)
	assert.Same(t, first, out)
}

func TestProjectionReflectsWrittenSlots(t *testing.T) {
	rs := newTestState(t)

	in := rs.projection()
	assert.Nil(t, in.Differential)
	assert.Nil(t, in.Review)
	assert.NotNil(t, in.Case)

	require.NoError(t, rs.writeSlot(proto.StateWarning, &stage.WarningOutput{RedFlags: []string{"hypoxia"}}))
	in = rs.projection()
	require.NotNil(t, in.Warning)
	assert.Equal(t, []string{"hypoxia"}, in.Warning.RedFlags)
	assert.Nil(t, in.Differential)
}

func TestHistoryReturnsCopy(t *testing.T) {
	rs := newTestState(t)
	rs.setHistory(proto.StateReview, []llm.CompletionMessage{llm.NewSystemMessage("instructions")})

	h := rs.History(proto.StateReview)
	require.Len(t, h, 1)
	h[0].Content = "mutated"

	again := rs.History(proto.StateReview)
	assert.Equal(t, "instructions", again[0].Content)
}

func TestCurrentTransitions(t *testing.T) {
	rs := newTestState(t)
	assert.Equal(t, proto.StateDifferential, rs.Current())

	rs.setCurrent(proto.StateDone)
	assert.Equal(t, proto.StateDone, rs.Current())
	assert.True(t, rs.Current().IsTerminal())
}
