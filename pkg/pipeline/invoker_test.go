package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseflow/pkg/agent"
	"caseflow/pkg/agent/llm"
	"caseflow/pkg/agent/llmerrors"
	"caseflow/pkg/proto"
	"caseflow/pkg/stage"
)

func warningToolCall(redFlags ...any) llm.CompletionResponse {
	return llm.CompletionResponse{
		ToolCalls: []llm.ToolCall{{
			ID:   "call-1",
			Name: "record_warnings",
			Parameters: map[string]any{
				"red_flags":      redFlags,
				"urgent_actions": []any{},
			},
		}},
		StopReason: "tool_use",
	}
}

func warningContractForTest(t *testing.T) *stage.Contract {
	t.Helper()
	c, ok := stage.NewRegistry().Get(proto.StateWarning)
	require.True(t, ok)
	return c
}

func TestInvokeSucceedsFirstAttempt(t *testing.T) {
	client := agent.NewMockLLMClient([]llm.CompletionResponse{
		warningToolCall("hypoxia risk <cite>hf_guidelines_1</cite>"),
	}, nil)
	iv := NewInvoker(client, nil)
	input := fullCaseInput(t)

	out, history, err := iv.Invoke(context.Background(), warningContractForTest(t),
		&stage.Input{Case: input}, input.Evidence, nil)
	require.NoError(t, err)

	w := out.(*stage.WarningOutput)
	assert.Equal(t, []string{"hypoxia risk <cite>hf_guidelines_1</cite>"}, w.RedFlags)

	// system + user + assistant.
	require.Len(t, history, 3)
	assert.Equal(t, llm.RoleSystem, history[0].Role)
	assert.Equal(t, llm.RoleAssistant, history[2].Role)
}

func TestInvokeRepromptsOnMissingToolCall(t *testing.T) {
	client := agent.NewMockLLMClient([]llm.CompletionResponse{
		{Content: "Here are the warnings in prose.", StopReason: "end_turn"},
		warningToolCall("renal decline <cite>ckd_considerations_1</cite>"),
	}, nil)
	iv := NewInvoker(client, nil)
	input := fullCaseInput(t)

	out, history, err := iv.Invoke(context.Background(), warningContractForTest(t),
		&stage.Input{Case: input}, input.Evidence, nil)
	require.NoError(t, err)
	assert.Len(t, out.(*stage.WarningOutput).RedFlags, 1)

	// system + user + bad assistant + correction user + good assistant.
	require.Len(t, history, 5)
	assert.Contains(t, history[3].Content, "failed validation")
}

func TestInvokeRepromptsOnFabricatedCitation(t *testing.T) {
	client := agent.NewMockLLMClient([]llm.CompletionResponse{
		warningToolCall("per <cite>invented_source_9</cite>"),
		warningToolCall("per <cite>bnp_interpretation_1</cite>"),
	}, nil)
	iv := NewInvoker(client, nil)
	input := fullCaseInput(t)

	out, _, err := iv.Invoke(context.Background(), warningContractForTest(t),
		&stage.Input{Case: input}, input.Evidence, nil)
	require.NoError(t, err)
	assert.Contains(t, out.(*stage.WarningOutput).RedFlags[0], "bnp_interpretation_1")
}

func TestInvokeSurfacesInvalidOutputAfterRetry(t *testing.T) {
	client := agent.NewMockLLMClient([]llm.CompletionResponse{
		warningToolCall("first <cite>fake_a</cite>"),
		warningToolCall("second <cite>fake_b</cite>"),
	}, nil)
	iv := NewInvoker(client, nil)
	input := fullCaseInput(t)

	_, history, err := iv.Invoke(context.Background(), warningContractForTest(t),
		&stage.Input{Case: input}, input.Evidence, nil)
	require.Error(t, err)
	assert.True(t, llmerrors.IsInvalidOutput(err))
	assert.Empty(t, history, "caller history is unchanged on failure")
}

func TestInvokeTransportErrorNotReprompted(t *testing.T) {
	rateLimit := llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeRateLimit, 429, "quota")
	client := agent.NewMockLLMClient(nil, []error{rateLimit})
	iv := NewInvoker(client, nil)
	input := fullCaseInput(t)

	_, _, err := iv.Invoke(context.Background(), warningContractForTest(t),
		&stage.Input{Case: input}, input.Evidence, nil)
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeRateLimit), "transport errors surface unchanged")
}

func TestCitationsUsed(t *testing.T) {
	out := &stage.WarningOutput{
		RedFlags: []string{"a <cite>hf_guidelines_1</cite>", "b <cite>hf_guidelines_1</cite> <cite>ckd_considerations_1</cite>"},
	}
	assert.Equal(t, []string{"hf_guidelines_1", "ckd_considerations_1"}, CitationsUsed(out))
	assert.Nil(t, CitationsUsed(&stage.WarningOutput{RedFlags: []string{}}))
}
