package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseflow/pkg/agent/llm"
	"caseflow/pkg/schema"
	"caseflow/pkg/stage"
)

func TestSimulatorConformsToEveryStageSchema(t *testing.T) {
	sim := NewSimulatorClient("mock")

	contracts := make([]*stage.Contract, 0, 7)
	for _, c := range stage.NewRegistry().Contracts() {
		contracts = append(contracts, c)
	}
	contracts = append(contracts, stage.SynthesizeContract())

	for _, c := range contracts {
		t.Run(c.Name, func(t *testing.T) {
			req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("case")})
			req.Tools = []schema.ToolDefinition{c.Tool}
			req.ToolChoice = "any"

			resp, err := sim.Complete(context.Background(), req)
			require.NoError(t, err)
			require.Len(t, resp.ToolCalls, 1)
			assert.Equal(t, c.Tool.Name, resp.ToolCalls[0].Name)

			params := resp.ToolCalls[0].Parameters
			require.NoError(t, c.Tool.InputSchema.Validate(params))

			out, err := c.Parse(params)
			require.NoError(t, err)
			assert.Equal(t, c.Name, out.StageName())
		})
	}
}

func TestSimulatorPlainCompletionWithoutTools(t *testing.T) {
	sim := NewSimulatorClient("")
	resp, err := sim.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Empty(t, resp.ToolCalls)
	assert.NotEmpty(t, resp.Content)
	assert.Equal(t, "mock", sim.GetModelName())
}

func TestMockClientConsumesInOrder(t *testing.T) {
	client := NewMockLLMClient([]llm.CompletionResponse{
		{Content: "first"},
		{Content: "second"},
	}, nil)

	resp, err := client.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Content)

	resp, err = client.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Content)

	_, err = client.Complete(context.Background(), llm.CompletionRequest{})
	assert.Error(t, err, "exhausted mock must error")
}

func TestFactoryRejectsMissingKey(t *testing.T) {
	f := NewFactory(nil, nil)

	_, err := f.NewClient(ClientOptions{Provider: ProviderAnthropic})
	assert.Error(t, err)

	_, err = f.NewClient(ClientOptions{Provider: "unheard-of"})
	assert.Error(t, err)

	client, err := f.NewClient(ClientOptions{Provider: ProviderMock, Model: "sim"})
	require.NoError(t, err)
	assert.Equal(t, "sim", client.GetModelName())
}
