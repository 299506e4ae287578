// Package logging provides request/response logging middleware for LLM clients.
package logging

import (
	"context"
	"time"

	"caseflow/pkg/agent/llm"
	"caseflow/pkg/logx"
)

// Middleware returns a middleware that logs each LLM call with its latency
// and outcome. Prompt bodies are not logged; they may contain patient data.
func Middleware(logger *logx.Logger) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				resp, err := next.Complete(ctx, req)
				duration := time.Since(start)

				if err != nil {
					logger.Warn("completion failed: model=%s messages=%d tools=%d duration=%dms err=%v",
						next.GetModelName(), len(req.Messages), len(req.Tools), duration.Milliseconds(), err)
					return resp, err //nolint:wrapcheck // Middleware passes through errors unchanged
				}

				logger.Debug("completion ok: model=%s messages=%d tool_calls=%d stop=%s duration=%dms",
					next.GetModelName(), len(req.Messages), len(resp.ToolCalls), resp.StopReason, duration.Milliseconds())
				return resp, nil
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				start := time.Now()
				ch, err := next.Stream(ctx, req)
				if err != nil {
					logger.Warn("stream failed: model=%s duration=%dms err=%v",
						next.GetModelName(), time.Since(start).Milliseconds(), err)
					return nil, err //nolint:wrapcheck // Middleware passes through errors unchanged
				}
				logger.Debug("stream opened: model=%s messages=%d", next.GetModelName(), len(req.Messages))
				return ch, nil
			},
			next.GetModelName,
		)
	}
}
