// Package resilience provides retry middleware for LLM clients with
// per-error-type exponential backoff.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"caseflow/pkg/agent/llm"
	"caseflow/pkg/agent/llmerrors"
	"caseflow/pkg/logx"
)

// Middleware returns a middleware that retries transient provider failures.
// Retry counts and backoff come from the classified error's retry config;
// non-retryable errors (auth, bad prompt, invalid output, timeout) surface
// immediately.
func Middleware(logger *logx.Logger) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				var lastErr error

				attempt := 0
				for {
					resp, err := next.Complete(ctx, req)
					if err == nil {
						return resp, nil
					}
					lastErr = err

					// Context cancellation and deadline overruns are never retried.
					if ctx.Err() != nil || llmerrors.IsTimeout(err) {
						return llm.CompletionResponse{}, err
					}

					cfg := retryConfigFor(err)
					if cfg.MaxRetries == 0 || attempt >= cfg.MaxRetries {
						break
					}

					delay := backoffDelay(cfg, attempt)
					if logger != nil {
						logger.Warn("retrying %s request after %s (attempt %d/%d): %v",
							next.GetModelName(), delay, attempt+1, cfg.MaxRetries, err)
					}

					select {
					case <-ctx.Done():
						return llm.CompletionResponse{}, ctx.Err()
					case <-time.After(delay):
					}
					attempt++
				}

				return llm.CompletionResponse{}, fmt.Errorf("request failed after %d attempts: %w", attempt+1, lastErr)
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				// Streams are not re-established mid-flight; only the initial
				// dial is retried.
				ch, err := next.Stream(ctx, req)
				if err == nil {
					return ch, nil
				}
				if ctx.Err() != nil || llmerrors.IsTimeout(err) {
					return nil, err
				}
				cfg := retryConfigFor(err)
				if cfg.MaxRetries == 0 {
					return nil, err
				}
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(backoffDelay(cfg, 0)):
				}
				ch, retryErr := next.Stream(ctx, req)
				if retryErr != nil {
					return nil, fmt.Errorf("stream failed after retry: %w", retryErr)
				}
				return ch, nil
			},
			next.GetModelName,
		)
	}
}

func retryConfigFor(err error) llmerrors.RetryConfig {
	var llmErr *llmerrors.Error
	if errors.As(err, &llmErr) {
		if !llmErr.IsRetryable() {
			return llmerrors.RetryConfig{MaxRetries: 0}
		}
		return llmErr.GetRetryConfig()
	}
	return llmerrors.DefaultRetryConfigs[llmerrors.ErrorTypeUnknown]
}

func backoffDelay(cfg llmerrors.RetryConfig, attempt int) time.Duration {
	delay := time.Duration(float64(cfg.InitialDelay) * math.Pow(cfg.BackoffFactor, float64(attempt)))
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.Jitter {
		// Up to ±10% jitter.
		jitter := time.Duration(rand.Int63n(int64(delay)/5+1)) - delay/10 //nolint:gosec // Non-cryptographic jitter
		delay += jitter
		if delay < 0 {
			delay = cfg.InitialDelay
		}
	}
	return delay
}
