// Package anthropic provides the Anthropic Claude client implementation for
// the LLM interface.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"caseflow/pkg/agent/llm"
	"caseflow/pkg/agent/llmerrors"
	"caseflow/pkg/schema"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-20250514"

// ClaudeClient wraps the Anthropic API client to implement llm.LLMClient.
type ClaudeClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClient creates a new Claude client (raw client, middleware applied at a
// higher level).
func NewClient(apiKey, model string) llm.LLMClient {
	if model == "" {
		model = DefaultModel
	}
	return &ClaudeClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// ensureAlternation prepares messages for Anthropic API requirements:
// system messages are extracted to the top-level system parameter,
// consecutive user messages are merged, and the sequence must end with a
// user message.
func ensureAlternation(messages []llm.CompletionMessage) (systemPrompt string, alternating []llm.CompletionMessage, err error) {
	if len(messages) == 0 {
		return "", nil, fmt.Errorf("message list cannot be empty")
	}

	var systemParts []string
	var nonSystem []llm.CompletionMessage
	for i := range messages {
		if messages[i].Role == llm.RoleSystem {
			systemParts = append(systemParts, messages[i].Content)
		} else {
			nonSystem = append(nonSystem, messages[i])
		}
	}
	systemPrompt = strings.Join(systemParts, "\n\n")

	if len(nonSystem) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}

	var merged []llm.CompletionMessage
	var userParts []string
	for i := range nonSystem {
		msg := &nonSystem[i]
		if msg.Role == llm.RoleAssistant {
			if len(userParts) > 0 {
				merged = append(merged, llm.NewUserMessage(strings.Join(userParts, "\n\n")))
				userParts = nil
			}
			merged = append(merged, *msg)
		} else {
			userParts = append(userParts, msg.Content)
		}
	}
	if len(userParts) > 0 {
		merged = append(merged, llm.NewUserMessage(strings.Join(userParts, "\n\n")))
	}

	for i := range merged {
		if i > 0 && merged[i].Role == merged[i-1].Role {
			return "", nil, fmt.Errorf("alternation violation at index %d: consecutive %s messages", i, merged[i].Role)
		}
	}
	if merged[0].Role != llm.RoleUser {
		return "", nil, fmt.Errorf("first message must be user role, got: %s", merged[0].Role)
	}
	if merged[len(merged)-1].Role != llm.RoleUser {
		return "", nil, fmt.Errorf("last message must be user role, got: %s", merged[len(merged)-1].Role)
	}

	return systemPrompt, merged, nil
}

// propertyToMap converts a schema property to the generic JSON-schema map
// the Anthropic API expects, recursing into arrays and nested objects.
func propertyToMap(prop *schema.Property) map[string]any {
	m := map[string]any{"type": prop.Type}
	if prop.Description != "" {
		m["description"] = prop.Description
	}
	if len(prop.Enum) > 0 {
		m["enum"] = prop.Enum
	}
	if prop.Items != nil {
		m["items"] = propertyToMap(prop.Items)
	}
	if len(prop.Properties) > 0 {
		nested := make(map[string]any, len(prop.Properties))
		for name, p := range prop.Properties {
			nested[name] = propertyToMap(p)
		}
		m["properties"] = nested
	}
	if len(prop.Required) > 0 {
		m["required"] = prop.Required
	}
	return m
}

// Complete implements the llm.LLMClient interface.
func (c *ClaudeClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	systemPrompt, alternating, err := ensureAlternation(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message alternation error: %v", err))
	}

	messages := make([]anthropic.MessageParam, 0, len(alternating))
	for i := range alternating {
		msg := &alternating[i]
		messages = append(messages, anthropic.MessageParam{
			Role:    anthropic.MessageParamRole(msg.Role),
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)},
		})
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(in.MaxTokens),
		Temperature: anthropic.Float(float64(in.Temperature)),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{
			Text: systemPrompt,
			Type: "text",
		}}
	}

	if len(in.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(in.Tools))
		for i := range in.Tools {
			tool := &in.Tools[i]
			props := make(map[string]any, len(tool.InputSchema.Properties))
			for name := range tool.InputSchema.Properties {
				prop := tool.InputSchema.Properties[name]
				props[name] = propertyToMap(&prop)
			}
			inputSchema := anthropic.ToolInputSchemaParam{
				Type:       "object",
				Properties: props,
				Required:   tool.InputSchema.Required,
			}
			tools = append(tools, anthropic.ToolUnionParamOfTool(inputSchema, tool.Name))
		}
		params.Tools = tools

		switch in.ToolChoice {
		case "any":
			params.ToolChoice = anthropic.ToolChoiceUnionParam{
				OfAny: &anthropic.ToolChoiceAnyParam{},
			}
		default:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{
				OfAuto: &anthropic.ToolChoiceAutoParam{},
			}
		}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received empty or nil response from Claude API")
	}

	var responseText string
	var toolCalls []llm.ToolCall
	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case "text":
			responseText += block.AsText().Text
		case "tool_use":
			toolUse := block.AsToolUse()
			var args map[string]any
			if err := json.Unmarshal(toolUse.Input, &args); err != nil {
				return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeInvalidOutput, err, "failed to parse tool input")
			}
			toolCalls = append(toolCalls, llm.ToolCall{
				ID:         toolUse.ID,
				Name:       toolUse.Name,
				Parameters: args,
			})
		}
	}

	return llm.CompletionResponse{
		Content:    responseText,
		ToolCalls:  toolCalls,
		StopReason: string(resp.StopReason),
	}, nil
}

// Stream implements the llm.LLMClient interface. Stage outputs reach clients
// through the case event stream rather than token by token, so streaming is
// adapted from Complete.
func (c *ClaudeClient) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 1)
	go func() {
		defer close(ch)
		resp, err := c.Complete(ctx, in)
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
func (c *ClaudeClient) GetModelName() string {
	return string(c.model)
}

// classifyError maps Anthropic SDK errors to our structured error types.
func classifyError(err error) *llmerrors.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTimeout, err, "request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request canceled")
	}

	var apiErr *anthropic.Error
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
	case strings.Contains(errStr, "auth") || strings.Contains(errStr, "unauthorized"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeAuth, err, "authentication error")
	default:
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "unclassified error")
	}
}
