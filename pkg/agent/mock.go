package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"caseflow/pkg/agent/llm"
	"caseflow/pkg/schema"
)

// MockLLMClient provides a controllable implementation of llm.LLMClient for
// testing. Responses and errors are consumed in order.
type MockLLMClient struct {
	mu            sync.Mutex
	responses     []llm.CompletionResponse
	responseIndex int
	errors        []error
	errorIndex    int
}

// NewMockLLMClient creates a new mock client with predefined responses.
func NewMockLLMClient(responses []llm.CompletionResponse, errs []error) *MockLLMClient {
	return &MockLLMClient{responses: responses, errors: errs}
}

// Complete returns the next predefined response or error.
func (m *MockLLMClient) Complete(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.errorIndex < len(m.errors) && m.errors[m.errorIndex] != nil {
		err := m.errors[m.errorIndex]
		m.errorIndex++
		return llm.CompletionResponse{}, err
	}
	if m.errorIndex < len(m.errors) {
		m.errorIndex++
	}

	if m.responseIndex >= len(m.responses) {
		return llm.CompletionResponse{}, fmt.Errorf("mock client: no more responses")
	}
	resp := m.responses[m.responseIndex]
	m.responseIndex++
	return resp, nil
}

// Stream returns a channel that delivers the next predefined response.
func (m *MockLLMClient) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	resp, err := m.Complete(ctx, in)
	if err != nil {
		return nil, err
	}
	ch := make(chan llm.StreamChunk, 2)
	go func() {
		defer close(ch)
		ch <- llm.StreamChunk{Content: resp.Content}
		ch <- llm.StreamChunk{Done: true}
	}()
	return ch, nil
}

// GetModelName returns the mock model name.
func (m *MockLLMClient) GetModelName() string {
	return "mock"
}

// SimulatorClient is a deterministic offline LLM stand-in. When the request
// forces a tool call it synthesizes parameters that conform to the tool's
// input schema, which lets the full pipeline run without any provider
// credentials.
type SimulatorClient struct {
	model string
}

// NewSimulatorClient creates a new simulator. The model name is reported
// as-is so runs are distinguishable in logs and metrics.
func NewSimulatorClient(model string) *SimulatorClient {
	if model == "" {
		model = "mock"
	}
	return &SimulatorClient{model: model}
}

// Complete implements the llm.LLMClient interface.
func (s *SimulatorClient) Complete(_ context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if len(in.Tools) == 0 || in.ToolChoice != "any" {
		return llm.CompletionResponse{
			Content:    "Simulated response.",
			StopReason: "end_turn",
		}, nil
	}

	tool := &in.Tools[0]
	params := make(map[string]any, len(tool.InputSchema.Required))
	for _, name := range tool.InputSchema.Required {
		prop, ok := tool.InputSchema.Properties[name]
		if !ok {
			continue
		}
		params[name] = synthesizeValue(name, &prop)
	}

	return llm.CompletionResponse{
		ToolCalls: []llm.ToolCall{{
			ID:         uuid.NewString(),
			Name:       tool.Name,
			Parameters: params,
		}},
		StopReason: "tool_use",
	}, nil
}

// Stream implements the llm.LLMClient interface.
func (s *SimulatorClient) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	resp, err := s.Complete(ctx, in)
	if err != nil {
		return nil, err
	}
	ch := make(chan llm.StreamChunk, 2)
	go func() {
		defer close(ch)
		ch <- llm.StreamChunk{Content: resp.Content}
		ch <- llm.StreamChunk{Done: true}
	}()
	return ch, nil
}

// GetModelName returns the simulated model name.
func (s *SimulatorClient) GetModelName() string {
	return s.model
}

// synthesizeValue produces a schema-conforming placeholder for a property.
func synthesizeValue(name string, prop *schema.Property) any {
	switch prop.Type {
	case "string":
		if len(prop.Enum) > 0 {
			return prop.Enum[0]
		}
		return fmt.Sprintf("simulated %s", name)
	case "number":
		return 0.5
	case "integer":
		return 1
	case "boolean":
		return false
	case "array":
		if prop.Items == nil {
			return []any{}
		}
		return []any{synthesizeValue(name, prop.Items)}
	case "object":
		obj := make(map[string]any, len(prop.Required))
		for _, childName := range prop.Required {
			if child, ok := prop.Properties[childName]; ok && child != nil {
				obj[childName] = synthesizeValue(childName, child)
			}
		}
		return obj
	default:
		return nil
	}
}
