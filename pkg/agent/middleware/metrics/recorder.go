// Package metrics provides Prometheus-based metrics recording for LLM operations.
package metrics

import (
	"context"
	"time"
)

// Recorder records observations about LLM requests.
type Recorder interface {
	// ObserveRequest records a completed LLM request.
	ObserveRequest(
		model, caseID, stage string,
		promptTokens, completionTokens int,
		cost float64,
		success bool,
		errorType string,
		duration time.Duration,
	)
}

// NoopRecorder discards all observations. Used when metrics are disabled.
type NoopRecorder struct{}

// ObserveRequest implements Recorder.
func (NoopRecorder) ObserveRequest(string, string, string, int, int, float64, bool, string, time.Duration) {
}

type labelKey struct{}

// requestLabels carries per-call metric labels through the context so that
// concurrently running stages report under their own stage label.
type requestLabels struct {
	CaseID string
	Stage  string
}

// WithLabels annotates the context with the case and stage that own
// subsequent LLM calls.
func WithLabels(ctx context.Context, caseID, stage string) context.Context {
	return context.WithValue(ctx, labelKey{}, requestLabels{CaseID: caseID, Stage: stage})
}

func labelsFrom(ctx context.Context) requestLabels {
	if labels, ok := ctx.Value(labelKey{}).(requestLabels); ok {
		return labels
	}
	return requestLabels{CaseID: "unknown", Stage: "unknown"}
}
