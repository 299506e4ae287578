// casectl is the operator CLI: run a case locally, list and fetch cases from
// a running daemon, query per-case usage metrics, and mint development
// tokens.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "casectl",
	Short: "Operate the case pipeline",
	Long: `casectl runs clinical cases through the pipeline and inspects the results.

Local runs execute the full pipeline in-process without a daemon; the
remaining commands talk to a running caseflowd instance or Prometheus.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(casesCmd)
	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
