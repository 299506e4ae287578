// Package openai provides the OpenAI client implementation using the
// official OpenAI Go package's Responses API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"caseflow/pkg/agent/llm"
	"caseflow/pkg/agent/llmerrors"
	"caseflow/pkg/schema"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o"

// Client wraps the official OpenAI Go client to implement llm.LLMClient.
type Client struct {
	client openai.Client
	model  string
}

// NewClient creates a new OpenAI client (raw client, middleware applied at a
// higher level).
func NewClient(apiKey, model string) llm.LLMClient {
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// convertPropertyToSchema recursively converts a schema property to OpenAI
// JSON-schema format.
func convertPropertyToSchema(prop *schema.Property) map[string]any {
	out := map[string]any{
		"type":        prop.Type,
		"description": prop.Description,
	}
	if len(prop.Enum) > 0 {
		out["enum"] = prop.Enum
	}
	if prop.Type == "array" && prop.Items != nil {
		out["items"] = convertPropertyToSchema(prop.Items)
	}
	if prop.Type == "object" && prop.Properties != nil {
		properties := make(map[string]any)
		for name, child := range prop.Properties {
			if child != nil {
				properties[name] = convertPropertyToSchema(child)
			}
		}
		out["properties"] = properties
		if len(prop.Required) > 0 {
			out["required"] = prop.Required
		}
	}
	return out
}

// Complete implements the llm.LLMClient interface using the Responses API.
func (o *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	// The Responses API takes a single input string; fold the conversation
	// into it with role markers.
	var inputText string
	for i := range in.Messages {
		msg := &in.Messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			inputText += fmt.Sprintf("System: %s\n\n", msg.Content)
		case llm.RoleAssistant:
			inputText += fmt.Sprintf("Assistant: %s\n\n", msg.Content)
		default:
			inputText += msg.Content + "\n\n"
		}
	}

	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(int64(in.MaxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(inputText)},
	}

	if len(in.Tools) > 0 {
		toolParams := make([]responses.ToolUnionParam, len(in.Tools))
		for i := range in.Tools {
			tool := &in.Tools[i]
			properties := make(map[string]any)
			for name := range tool.InputSchema.Properties {
				prop := tool.InputSchema.Properties[name]
				properties[name] = convertPropertyToSchema(&prop)
			}
			toolParams[i] = responses.ToolUnionParam{
				OfFunction: &responses.FunctionToolParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters: openai.FunctionParameters(map[string]any{
						"type":       "object",
						"properties": properties,
						"required":   tool.InputSchema.Required,
					}),
				},
			}
		}
		params.Tools = toolParams
		if in.ToolChoice == "any" {
			params.ToolChoice = responses.ResponseNewParamsToolChoiceUnion{
				OfToolChoiceMode: openai.Opt(responses.ToolChoiceOptionsRequired),
			}
		}
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if resp == nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from OpenAI Responses API")
	}

	var content string
	var toolCalls []llm.ToolCall
	for i := range resp.Output {
		item := &resp.Output[i]
		switch item.Type {
		case "function_call":
			funcItem := item.AsFunctionCall()
			var args map[string]any
			if funcItem.Arguments != "" {
				if err := json.Unmarshal([]byte(funcItem.Arguments), &args); err != nil {
					continue
				}
			}
			toolCalls = append(toolCalls, llm.ToolCall{
				ID:         funcItem.ID,
				Name:       funcItem.Name,
				Parameters: args,
			})
		default:
			// Text is collected via OutputText below; reasoning items are
			// internal and excluded from the final content.
			continue
		}
	}
	if content == "" {
		content = resp.OutputText()
	}

	if content == "" && len(toolCalls) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "response contained no text or tool calls")
	}

	return llm.CompletionResponse{
		Content:   content,
		ToolCalls: toolCalls,
	}, nil
}

// Stream implements the llm.LLMClient interface. Adapted from Complete;
// clients observe stage progress via the case event stream.
func (o *Client) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 1)
	go func() {
		defer close(ch)
		resp, err := o.Complete(ctx, in)
		if err != nil {
			ch <- llm.StreamChunk{Error: err}
			return
		}
		ch <- llm.StreamChunk{Content: resp.Content}
		ch <- llm.StreamChunk{Done: true}
	}()
	return ch, nil
}

// GetModelName returns the model name for this client.
func (o *Client) GetModelName() string {
	return o.model
}

// classifyError maps OpenAI SDK errors to our structured error types.
func classifyError(err error) *llmerrors.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTimeout, err, "request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request canceled")
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeAuth, apiErr.StatusCode, "authentication failed - check API key")
		case http.StatusTooManyRequests:
			return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeRateLimit, apiErr.StatusCode, "rate limit exceeded")
		case http.StatusBadRequest:
			return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeBadPrompt, apiErr.StatusCode, "bad request - check prompt format and parameters")
		}
		if apiErr.StatusCode >= 500 {
			return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeTransient, apiErr.StatusCode, "server error")
		}
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "rate") || strings.Contains(errStr, "quota"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeRateLimit, err, "rate limiting detected")
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "eof") || strings.Contains(errStr, "reset"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "network or connection error")
	default:
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "unclassified error")
	}
}
