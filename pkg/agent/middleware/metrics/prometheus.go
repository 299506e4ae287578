package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	requestsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	costsTotal      *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a new Prometheus-based metrics recorder.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Total number of LLM requests by model, case, stage, and status",
			},
			[]string{"model", "case_id", "stage", "status", "error_type"},
		),
		tokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Total number of tokens used in LLM requests",
			},
			[]string{"model", "case_id", "stage", "type"},
		),
		costsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_costs_total",
				Help: "Total cost in USD for LLM requests",
			},
			[]string{"model", "case_id", "stage"},
		),
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model", "case_id", "stage"},
		),
	}
}

// ObserveRequest records metrics for a completed LLM request.
func (p *PrometheusRecorder) ObserveRequest(
	model, caseID, stage string,
	promptTokens, completionTokens int,
	cost float64,
	success bool,
	errorType string,
	duration time.Duration,
) {
	status := statusSuccess
	if !success {
		status = statusError
	}

	p.requestsTotal.WithLabelValues(model, caseID, stage, status, errorType).Inc()

	// Tokens and costs are only meaningful on success.
	if success {
		p.tokensTotal.WithLabelValues(model, caseID, stage, "prompt").Add(float64(promptTokens))
		p.tokensTotal.WithLabelValues(model, caseID, stage, "completion").Add(float64(completionTokens))
		p.costsTotal.WithLabelValues(model, caseID, stage).Add(cost)
	}

	p.requestDuration.WithLabelValues(model, caseID, stage).Observe(duration.Seconds())
}
