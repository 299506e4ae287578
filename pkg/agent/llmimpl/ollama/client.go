// Package ollama provides the Ollama client implementation for the LLM
// interface. Ollama is a local LLM runtime for running open-source models.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"caseflow/pkg/agent/llm"
	"caseflow/pkg/agent/llmerrors"
	"caseflow/pkg/schema"
)

// DefaultHostURL is the standard local Ollama endpoint.
const DefaultHostURL = "http://localhost:11434"

// Client wraps the Ollama API client to implement llm.LLMClient.
type Client struct {
	client *api.Client
	model  string
}

// NewClient creates a new Ollama client. hostURL should be the Ollama server
// URL; an empty or invalid URL falls back to the local default.
func NewClient(hostURL, model string) llm.LLMClient {
	parsedURL, err := url.Parse(hostURL)
	if hostURL == "" || err != nil {
		parsedURL, _ = url.Parse(DefaultHostURL)
	}
	return &Client{
		client: api.NewClient(parsedURL, http.DefaultClient),
		model:  model,
	}
}

// Complete implements the llm.LLMClient interface.
func (o *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if len(in.Messages) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "message list cannot be empty")
	}

	messages := make([]api.Message, 0, len(in.Messages))
	for i := range in.Messages {
		messages = append(messages, api.Message{
			Role:    string(in.Messages[i].Role),
			Content: in.Messages[i].Content,
		})
	}

	stream := false
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": in.MaxTokens,
		},
	}
	if len(in.Tools) > 0 {
		req.Tools = convertTools(in.Tools)
	}

	var response api.ChatResponse
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}

	result := llm.CompletionResponse{
		Content:    response.Message.Content,
		StopReason: stopReason(&response),
	}
	if len(response.Message.ToolCalls) > 0 {
		result.ToolCalls = convertToolCalls(response.Message.ToolCalls)
	}
	if result.Content == "" && len(result.ToolCalls) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "response contained no text or tool calls")
	}

	return result, nil
}

// Stream implements the llm.LLMClient interface using Ollama's native
// streaming chat API.
func (o *Client) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	if len(in.Messages) == 0 {
		return nil, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "message list cannot be empty")
	}

	messages := make([]api.Message, 0, len(in.Messages))
	for i := range in.Messages {
		messages = append(messages, api.Message{
			Role:    string(in.Messages[i].Role),
			Content: in.Messages[i].Content,
		})
	}

	stream := true
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": in.MaxTokens,
		},
	}

	ch := make(chan llm.StreamChunk, 16)
	go func() {
		defer close(ch)
		err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if resp.Message.Content != "" {
				ch <- llm.StreamChunk{Content: resp.Message.Content}
			}
			if resp.Done {
				ch <- llm.StreamChunk{Done: true}
			}
			return nil
		})
		if err != nil {
			ch <- llm.StreamChunk{Error: classifyError(err)}
		}
	}()
	return ch, nil
}

// GetModelName returns the model name for this client.
func (o *Client) GetModelName() string {
	return o.model
}

// convertTools converts our tool definitions to Ollama's Tool format.
func convertTools(toolDefs []schema.ToolDefinition) api.Tools {
	ollamaTools := make(api.Tools, len(toolDefs))
	for i := range toolDefs {
		td := &toolDefs[i]
		properties := api.NewToolPropertiesMap()
		for name := range td.InputSchema.Properties {
			prop := td.InputSchema.Properties[name]
			properties.Set(name, convertProperty(&prop))
		}
		ollamaTools[i] = api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        td.Name,
				Description: td.Description,
				Parameters: api.ToolFunctionParameters{
					Type:       td.InputSchema.Type,
					Properties: properties,
					Required:   td.InputSchema.Required,
				},
			},
		}
	}
	return ollamaTools
}

// convertProperty converts a schema property to Ollama format.
func convertProperty(prop *schema.Property) api.ToolProperty {
	ollamaProp := api.ToolProperty{
		Type:        api.PropertyType{prop.Type},
		Description: prop.Description,
	}

	if len(prop.Enum) > 0 {
		enumVals := make([]any, len(prop.Enum))
		for i, v := range prop.Enum {
			enumVals[i] = v
		}
		ollamaProp.Enum = enumVals
	}

	if prop.Properties != nil {
		nested := make(map[string]api.ToolProperty)
		for name, child := range prop.Properties {
			if child != nil {
				nested[name] = convertProperty(child)
			}
		}
		ollamaProp.Items = map[string]any{
			"type":       "object",
			"properties": nested,
		}
	}
	if prop.Items != nil {
		ollamaProp.Items = convertProperty(prop.Items)
	}

	return ollamaProp
}

// convertToolCalls extracts tool calls from an Ollama response.
func convertToolCalls(calls []api.ToolCall) []llm.ToolCall {
	result := make([]llm.ToolCall, len(calls))
	for i := range calls {
		call := &calls[i]
		id := call.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		result[i] = llm.ToolCall{
			ID:         id,
			Name:       call.Function.Name,
			Parameters: call.Function.Arguments.ToMap(),
		}
	}
	return result
}

// stopReason converts Ollama's done_reason to our stop reason format.
func stopReason(resp *api.ChatResponse) string {
	if !resp.Done {
		return "incomplete"
	}
	switch resp.DoneReason {
	case "stop", "":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return resp.DoneReason
	}
}

// classifyError converts Ollama errors to our error types.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "connection refused"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "Ollama server not reachable")
	case strings.Contains(errStr, "model") && strings.Contains(errStr, "not found"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "Ollama model not found")
	case strings.Contains(errStr, "context deadline exceeded"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTimeout, err, "request timeout")
	case strings.Contains(errStr, "context canceled"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request canceled")
	default:
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "Ollama API error")
	}
}
