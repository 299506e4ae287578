package metrics

import (
	"context"
	"encoding/json"
	"time"

	"caseflow/pkg/agent/llm"
	"caseflow/pkg/agent/llmerrors"
	"caseflow/pkg/logx"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// UsageExtractor is a function that extracts token usage from a request and response.
type UsageExtractor func(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int)

// DefaultUsageExtractor counts tokens with the GPT-4 encoding. Tool call
// parameters count toward completion tokens since the providers bill them
// as output.
func DefaultUsageExtractor(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int) {
	var promptText string
	for i := range req.Messages {
		promptText += req.Messages[i].Content + "\n"
	}
	promptTokens = CountTokens(promptText)

	completionText := resp.Content
	for i := range resp.ToolCalls {
		if params, err := json.Marshal(resp.ToolCalls[i].Parameters); err == nil {
			completionText += string(params)
		}
	}
	completionTokens = CountTokens(completionText)

	return promptTokens, completionTokens
}

// Middleware returns a middleware function that records metrics for LLM operations.
// It tracks request latency, token usage, success/failure rates, and error types.
// Case and stage labels are read from the context via WithLabels.
func Middleware(recorder Recorder, usageExtractor UsageExtractor, logger *logx.Logger) llm.Middleware {
	if usageExtractor == nil {
		usageExtractor = DefaultUsageExtractor
	}

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				model := next.GetModelName()

				resp, err := next.Complete(ctx, req)
				duration := time.Since(start)

				var promptTokens, completionTokens int
				if err == nil {
					promptTokens, completionTokens = usageExtractor(req, resp)
				}

				errorType := ""
				if err != nil {
					errorType = llmerrors.TypeOf(err).String()
				}

				labels := labelsFrom(ctx)
				cost := EstimateCost(model, promptTokens, completionTokens)
				recorder.ObserveRequest(
					model, labels.CaseID, labels.Stage,
					promptTokens, completionTokens, cost,
					err == nil, errorType, duration,
				)

				if logger != nil {
					status := statusSuccess
					if err != nil {
						status = statusError
					}
					logger.Info("LLM request: model=%s case=%s stage=%s tokens=%d+%d status=%s duration=%dms",
						model, labels.CaseID, labels.Stage, promptTokens, completionTokens, status, duration.Milliseconds())
				}

				return resp, err //nolint:wrapcheck // Middleware passes through errors unchanged
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				start := time.Now()
				model := next.GetModelName()

				ch, err := next.Stream(ctx, req)
				duration := time.Since(start)

				// Only the dial is observed; counting stream tokens would
				// require consuming the channel.
				errorType := ""
				if err != nil {
					errorType = llmerrors.TypeOf(err).String()
				}

				labels := labelsFrom(ctx)
				recorder.ObserveRequest(
					model, labels.CaseID, labels.Stage,
					0, 0, 0,
					err == nil, errorType, duration,
				)

				return ch, err //nolint:wrapcheck // Middleware passes through errors unchanged
			},
			next.GetModelName,
		)
	}
}
