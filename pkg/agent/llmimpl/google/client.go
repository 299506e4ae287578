// Package google provides the Google Gemini client implementation for the
// LLM interface.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"caseflow/pkg/agent/llm"
	"caseflow/pkg/agent/llmerrors"
	"caseflow/pkg/schema"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// GeminiClient wraps the Google GenAI client to implement llm.LLMClient.
type GeminiClient struct {
	client *genai.Client
	apiKey string
	model  string
}

// NewClient creates a new Gemini client (raw client, middleware applied at a
// higher level). Client creation requires a context, so the underlying SDK
// client is created lazily on first use.
func NewClient(apiKey, model string) llm.LLMClient {
	if model == "" {
		model = DefaultModel
	}
	return &GeminiClient{
		apiKey: apiKey,
		model:  model,
	}
}

// Complete implements the llm.LLMClient interface.
func (g *GeminiClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if g.client == nil {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "failed to create Gemini client")
		}
		g.client = client
	}

	contents, systemInstruction, err := convertMessages(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}

	temperature := in.Temperature
	config := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(in.MaxTokens), //nolint:gosec // MaxTokens validated at higher layer
	}
	if systemInstruction != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		}
	}

	if len(in.Tools) > 0 {
		config.Tools = []*genai.Tool{
			{FunctionDeclarations: convertTools(in.Tools)},
		}
		// Gemini may return empty responses when not forced to use tools,
		// so "any" maps to mode ANY and everything else to AUTO.
		mode := genai.FunctionCallingConfigModeAuto
		if in.ToolChoice == "any" {
			mode = genai.FunctionCallingConfigModeAny
		}
		config.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: mode},
		}
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if result == nil || len(result.Candidates) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Gemini API")
	}

	response := llm.CompletionResponse{
		Content:    result.Text(),
		StopReason: stopReason(result),
	}
	if calls := result.FunctionCalls(); len(calls) > 0 {
		response.ToolCalls = convertFunctionCalls(calls)
	}
	if response.Content == "" && len(response.ToolCalls) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "response contained no text or function calls")
	}

	return response, nil
}

// Stream implements the llm.LLMClient interface. Adapted from Complete;
// clients observe stage progress via the case event stream.
func (g *GeminiClient) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 1)
	go func() {
		defer close(ch)
		resp, err := g.Complete(ctx, in)
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
func (g *GeminiClient) GetModelName() string {
	return g.model
}

// convertMessages converts our message format to Gemini's Content format.
// System messages are folded into a separate system instruction.
func convertMessages(messages []llm.CompletionMessage) ([]*genai.Content, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("message list cannot be empty")
	}

	var systemInstruction string
	var contents []*genai.Content
	for i := range messages {
		msg := &messages[i]

		if msg.Role == llm.RoleSystem {
			if systemInstruction != "" {
				systemInstruction += "\n\n" + msg.Content
			} else {
				systemInstruction = msg.Content
			}
			continue
		}

		var role string
		switch msg.Role {
		case llm.RoleUser:
			role = "user"
		case llm.RoleAssistant:
			role = "model"
		default:
			return nil, "", fmt.Errorf("unsupported message role: %s", msg.Role)
		}

		if msg.Content == "" {
			continue
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}

	return contents, systemInstruction, nil
}

// convertTools converts our tool definitions to Gemini's function declarations.
func convertTools(toolDefs []schema.ToolDefinition) []*genai.FunctionDeclaration {
	declarations := make([]*genai.FunctionDeclaration, len(toolDefs))
	for i := range toolDefs {
		tool := &toolDefs[i]
		properties := make(map[string]*genai.Schema)
		for name := range tool.InputSchema.Properties {
			prop := tool.InputSchema.Properties[name]
			properties[name] = convertProperty(&prop)
		}
		declarations[i] = &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: properties,
				Required:   tool.InputSchema.Required,
			},
		}
	}
	return declarations
}

// convertProperty recursively converts a schema property to Gemini schema format.
func convertProperty(prop *schema.Property) *genai.Schema {
	out := &genai.Schema{Description: prop.Description}

	switch prop.Type {
	case "string":
		out.Type = genai.TypeString
	case "number":
		out.Type = genai.TypeNumber
	case "integer":
		out.Type = genai.TypeInteger
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
		if prop.Items != nil {
			out.Items = convertProperty(prop.Items)
		}
	case "object":
		out.Type = genai.TypeObject
		if prop.Properties != nil {
			properties := make(map[string]*genai.Schema)
			for name, child := range prop.Properties {
				if child != nil {
					properties[name] = convertProperty(child)
				}
			}
			out.Properties = properties
			out.Required = prop.Required
		}
	default:
		out.Type = genai.TypeString
	}

	if len(prop.Enum) > 0 {
		out.Enum = prop.Enum
	}

	return out
}

// convertFunctionCalls converts Gemini function calls to our format.
// Gemini doesn't always provide call IDs, so the function name is used as a
// fallback ID.
func convertFunctionCalls(calls []*genai.FunctionCall) []llm.ToolCall {
	toolCalls := make([]llm.ToolCall, len(calls))
	for i := range calls {
		id := calls[i].ID
		if id == "" {
			id = calls[i].Name
		}
		toolCalls[i] = llm.ToolCall{
			ID:         id,
			Name:       calls[i].Name,
			Parameters: calls[i].Args,
		}
	}
	return toolCalls
}

func stopReason(result *genai.GenerateContentResponse) string {
	if len(result.Candidates) == 0 {
		return ""
	}
	return string(result.Candidates[0].FinishReason)
}

// classifyError maps GenAI SDK errors to our structured error types.
func classifyError(err error) *llmerrors.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTimeout, err, "request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request canceled")
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeAuth, apiErr.Code, "authentication failed - check API key")
		case http.StatusTooManyRequests:
			return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeRateLimit, apiErr.Code, "rate limit exceeded")
		case http.StatusBadRequest:
			return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeBadPrompt, apiErr.Code, "bad request - check prompt format and parameters")
		}
		if apiErr.Code >= 500 {
			return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeTransient, apiErr.Code, "server error")
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
