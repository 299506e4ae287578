package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var casesFlags struct {
	server string
	token  string
}

var casesCmd = &cobra.Command{
	Use:   "cases",
	Short: "List and fetch cases from a running daemon",
}

var casesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your cases, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return apiGet(cmd.OutOrStdout(), "/api/cases")
	},
}

var casesGetCmd = &cobra.Command{
	Use:   "get <case-id>",
	Short: "Fetch a case with its stage messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return apiGet(cmd.OutOrStdout(), "/api/cases/"+args[0])
	},
}

var casesSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a case file to the daemon for processing",
	RunE:  submitCase,
}

var submitFile string

func init() {
	pf := casesCmd.PersistentFlags()
	pf.StringVar(&casesFlags.server, "server", "http://localhost:8080", "Daemon base URL")
	pf.StringVar(&casesFlags.token, "token", "", "Bearer token (default: $CASEFLOW_TOKEN)")

	casesSubmitCmd.Flags().StringVarP(&submitFile, "file", "f", "", "Path to case JSON file (required)")
	_ = casesSubmitCmd.MarkFlagRequired("file")

	casesCmd.AddCommand(casesListCmd)
	casesCmd.AddCommand(casesGetCmd)
	casesCmd.AddCommand(casesSubmitCmd)
}

func bearerToken() string {
	if casesFlags.token != "" {
		return casesFlags.token
	}
	return os.Getenv("CASEFLOW_TOKEN")
}

func apiDo(method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequest(method, casesFlags.server+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if token := bearerToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, data)
	}
	return data, nil
}

func apiGet(out io.Writer, path string) error {
	data, err := apiDo(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return printJSON(out, data)
}

func submitCase(cmd *cobra.Command, _ []string) error {
	f, err := os.Open(submitFile)
	if err != nil {
		return fmt.Errorf("failed to open case file: %w", err)
	}
	defer func() { _ = f.Close() }()

	data, err := apiDo(http.MethodPost, "/api/cases", f)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), data)
}

func printJSON(out io.Writer, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		fmt.Fprintln(out, string(data))
		return nil
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format response: %w", err)
	}
	fmt.Fprintln(out, string(pretty))
	return nil
}
