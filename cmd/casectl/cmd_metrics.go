package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"caseflow/pkg/metrics"
)

var metricsFlags struct {
	prometheusURL string
	byStage       bool
}

var metricsCmd = &cobra.Command{
	Use:   "metrics <case-id>",
	Short: "Query token and cost usage for a case from Prometheus",
	Args:  cobra.ExactArgs(1),
	RunE:  queryMetrics,
}

func init() {
	f := metricsCmd.Flags()
	f.StringVar(&metricsFlags.prometheusURL, "prometheus-url", "http://localhost:9090", "Prometheus server URL")
	f.BoolVar(&metricsFlags.byStage, "by-stage", false, "Break usage down by pipeline stage")
}

func queryMetrics(cmd *cobra.Command, args []string) error {
	caseID := args[0]

	svc, err := metrics.NewQueryService(metricsFlags.prometheusURL)
	if err != nil {
		return fmt.Errorf("failed to connect to Prometheus: %w", err)
	}

	var result any
	if metricsFlags.byStage {
		result, err = svc.GetCaseMetricsByStage(cmd.Context(), caseID)
	} else {
		result, err = svc.GetCaseMetrics(cmd.Context(), caseID)
	}
	if err != nil {
		return fmt.Errorf("metrics query failed: %w", err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format metrics: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
