// Package metrics provides services for querying and aggregating metrics data.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// CaseMetrics represents aggregated LLM usage for one case run.
type CaseMetrics struct {
	CaseID           string  `json:"case_id"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	TotalCost        float64 `json:"total_cost_usd"`
}

// QueryService provides methods to query metrics from Prometheus.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

// sumQuery evaluates a sum() query and returns the scalar result, or zero
// when no samples match.
func (q *QueryService) sumQuery(ctx context.Context, query string) (float64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("query %q failed: %w", query, err)
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return float64(vector[0].Value), nil
	}
	return 0, nil
}

// GetCaseMetrics retrieves aggregated token and cost metrics for a case,
// summed across all six stages and the synthesizer.
func (q *QueryService) GetCaseMetrics(ctx context.Context, caseID string) (*CaseMetrics, error) {
	metrics := &CaseMetrics{CaseID: caseID}

	prompt, err := q.sumQuery(ctx, fmt.Sprintf(`sum(llm_tokens_total{case_id=%q, type="prompt"})`, caseID))
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}
	metrics.PromptTokens = int64(prompt)

	completion, err := q.sumQuery(ctx, fmt.Sprintf(`sum(llm_tokens_total{case_id=%q, type="completion"})`, caseID))
	if err != nil {
		return nil, fmt.Errorf("failed to query completion tokens: %w", err)
	}
	metrics.CompletionTokens = int64(completion)
	metrics.TotalTokens = metrics.PromptTokens + metrics.CompletionTokens

	cost, err := q.sumQuery(ctx, fmt.Sprintf(`sum(llm_costs_total{case_id=%q})`, caseID))
	if err != nil {
		return nil, fmt.Errorf("failed to query total cost: %w", err)
	}
	metrics.TotalCost = cost

	return metrics, nil
}

// GetCaseMetricsByStage retrieves metrics broken down by pipeline stage,
// showing where a case spent its tokens.
func (q *QueryService) GetCaseMetricsByStage(ctx context.Context, caseID string) (map[string]*CaseMetrics, error) {
	stagesResult, _, err := q.queryAPI.Query(ctx,
		fmt.Sprintf(`group by (stage) (llm_tokens_total{case_id=%q})`, caseID), time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query stages: %w", err)
	}

	var stages []string
	if vector, ok := stagesResult.(model.Vector); ok {
		for _, sample := range vector {
			if name, ok := sample.Metric["stage"]; ok {
				stages = append(stages, string(name))
			}
		}
	}

	result := make(map[string]*CaseMetrics)
	for _, stageName := range stages {
		metrics := &CaseMetrics{CaseID: caseID}

		prompt, err := q.sumQuery(ctx,
			fmt.Sprintf(`sum(llm_tokens_total{case_id=%q, stage=%q, type="prompt"})`, caseID, stageName))
		if err != nil {
			return nil, fmt.Errorf("failed to query prompt tokens for stage %s: %w", stageName, err)
		}
		metrics.PromptTokens = int64(prompt)

		completion, err := q.sumQuery(ctx,
			fmt.Sprintf(`sum(llm_tokens_total{case_id=%q, stage=%q, type="completion"})`, caseID, stageName))
		if err != nil {
			return nil, fmt.Errorf("failed to query completion tokens for stage %s: %w", stageName, err)
		}
		metrics.CompletionTokens = int64(completion)
		metrics.TotalTokens = metrics.PromptTokens + metrics.CompletionTokens

		cost, err := q.sumQuery(ctx,
			fmt.Sprintf(`sum(llm_costs_total{case_id=%q, stage=%q})`, caseID, stageName))
		if err != nil {
			return nil, fmt.Errorf("failed to query cost for stage %s: %w", stageName, err)
		}
		metrics.TotalCost = cost

		result[stageName] = metrics
	}

	return result, nil
}
