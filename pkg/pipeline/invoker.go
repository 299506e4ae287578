package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"caseflow/pkg/agent/llm"
	"caseflow/pkg/agent/llmerrors"
	"caseflow/pkg/evidence"
	"caseflow/pkg/logx"
	"caseflow/pkg/schema"
	"caseflow/pkg/stage"
)

// Invoker wraps one call to the language model with a stage's fixed
// instruction set and required structured-output schema. It returns a
// validated output and the appended conversation history, or a classified
// failure. The caller's history slice is never mutated in place.
type Invoker struct {
	client llm.LLMClient
	logger *logx.Logger
}

// NewInvoker creates an invoker backed by the given client.
func NewInvoker(client llm.LLMClient, logger *logx.Logger) *Invoker {
	if logger == nil {
		logger = logx.NewLogger("invoker")
	}
	return &Invoker{client: client, logger: logger}
}

// Invoke runs one stage call. On structured-output validation failure
// (schema mismatch or a fabricated citation id) it re-prompts once with the
// validation error appended before surfacing ErrorTypeInvalidOutput.
func (iv *Invoker) Invoke(
	ctx context.Context,
	contract *stage.Contract,
	in *stage.Input,
	ev *evidence.Set,
	history []llm.CompletionMessage,
) (stage.Output, []llm.CompletionMessage, error) {
	msgs := make([]llm.CompletionMessage, 0, len(history)+2)
	if len(history) == 0 {
		msgs = append(msgs, llm.NewSystemMessage(contract.Instructions))
	} else {
		msgs = append(msgs, history...)
	}
	msgs = append(msgs, llm.NewUserMessage(contract.BuildInput(in)))

	out, msgs, err := iv.attempt(ctx, contract, ev, msgs)
	if err == nil {
		return out, msgs, nil
	}
	if !llmerrors.IsInvalidOutput(err) {
		return nil, history, err
	}

	// One bounded re-prompt with the validation error.
	iv.logger.Warn("stage %s output invalid, re-prompting once: %v", contract.Name, err)
	msgs = append(msgs, llm.NewUserMessage(fmt.Sprintf(
		"Your previous output failed validation: %v\nRespond again using the %s tool, correcting the problem. Cite only the provided snippet ids.",
		err, contract.Tool.Name)))

	out, msgs, retryErr := iv.attempt(ctx, contract, ev, msgs)
	if retryErr != nil {
		if llmerrors.IsInvalidOutput(retryErr) {
			return nil, history, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeInvalidOutput, retryErr,
				fmt.Sprintf("stage %s output invalid after retry", contract.Name))
		}
		return nil, history, retryErr
	}
	return out, msgs, nil
}

// attempt performs a single completion and validation pass. On success it
// returns the messages extended with the assistant turn.
func (iv *Invoker) attempt(
	ctx context.Context,
	contract *stage.Contract,
	ev *evidence.Set,
	msgs []llm.CompletionMessage,
) (stage.Output, []llm.CompletionMessage, error) {
	req := llm.NewCompletionRequest(msgs)
	req.Tools = []schema.ToolDefinition{contract.Tool}
	req.ToolChoice = "any"

	resp, err := iv.client.Complete(ctx, req)
	if err != nil {
		return nil, msgs, err //nolint:wrapcheck // Classified by the client layer
	}

	call, err := findToolCall(&resp, contract.Tool.Name)
	if err != nil {
		return nil, appendAssistantTurn(msgs, &resp), invalidOutput(err)
	}

	if err := contract.Tool.InputSchema.Validate(call.Parameters); err != nil {
		return nil, appendAssistantTurn(msgs, &resp), invalidOutput(err)
	}

	if err := validateCitations(call.Parameters, ev); err != nil {
		return nil, appendAssistantTurn(msgs, &resp), invalidOutput(err)
	}

	out, err := contract.Parse(call.Parameters)
	if err != nil {
		return nil, appendAssistantTurn(msgs, &resp), invalidOutput(err)
	}

	return out, appendAssistantTurn(msgs, &resp), nil
}

func findToolCall(resp *llm.CompletionResponse, name string) (*llm.ToolCall, error) {
	for i := range resp.ToolCalls {
		if resp.ToolCalls[i].Name == name {
			return &resp.ToolCalls[i], nil
		}
	}
	return nil, fmt.Errorf("response contains no %s tool call", name)
}

// validateCitations checks every <cite> reference in the structured output
// against the run's evidence set. Fabricated ids are a validation failure.
func validateCitations(params map[string]any, ev *evidence.Set) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode output for citation check: %w", err)
	}
	return ev.ValidateCitations(string(data)) //nolint:wrapcheck // Message already names the unknown ids
}

// appendAssistantTurn extends the message sequence with the assistant's
// response, serializing tool calls so re-prompts carry the full turn.
func appendAssistantTurn(msgs []llm.CompletionMessage, resp *llm.CompletionResponse) []llm.CompletionMessage {
	content := resp.Content
	if len(resp.ToolCalls) > 0 {
		if data, err := json.Marshal(resp.ToolCalls); err == nil {
			if content != "" {
				content += "\n"
			}
			content += string(data)
		}
	}
	out := make([]llm.CompletionMessage, len(msgs), len(msgs)+1)
	copy(out, msgs)
	return append(out, llm.NewAssistantMessage(content))
}

func invalidOutput(err error) error {
	if llmerrors.IsInvalidOutput(err) {
		return err
	}
	return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeInvalidOutput, err, err.Error())
}

// CitationsUsed extracts the ordered, deduplicated citation ids present in
// a stage output. Used for event emission.
func CitationsUsed(out stage.Output) []string {
	data, err := json.Marshal(out)
	if err != nil {
		return nil
	}
	return evidence.ExtractCitations(string(data))
}
