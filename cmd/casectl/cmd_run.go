package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"caseflow/pkg/agent"
	"caseflow/pkg/evidence"
	"caseflow/pkg/logx"
	"caseflow/pkg/pipeline"
	"caseflow/pkg/proto"
	"caseflow/pkg/stage"
)

var runFlags struct {
	caseFile string
	provider string
	model    string
	apiKey   string
	hostURL  string
	verbose  bool
}

// caseFile is the on-disk case format shared with the POST /api/cases body.
type caseFile struct {
	Title          string             `json:"title,omitempty"`
	PatientSummary string             `json:"patient_summary"`
	CurrentMeds    string             `json:"current_meds,omitempty"`
	Allergies      string             `json:"allergies,omitempty"`
	Labs           string             `json:"labs,omitempty"`
	Imaging        string             `json:"imaging,omitempty"`
	Evidence       []evidence.Snippet `json:"evidence"`
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a case through the pipeline locally",
	Long: `Run executes the full pipeline in-process and prints the final document
as JSON on stdout. With --verbose, each stage's output is printed as it
completes.

The default provider is mock, which produces deterministic placeholder
output without network access. Use --provider with --api-key (or --host-url
for ollama) to run against a real model.`,
	RunE: runLocalCase,
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runFlags.caseFile, "file", "f", "", "Path to case JSON file (required)")
	f.StringVar(&runFlags.provider, "provider", agent.ProviderMock, "LLM provider: anthropic, openai, google, ollama, or mock")
	f.StringVar(&runFlags.model, "model", "", "Model name (provider default if empty)")
	f.StringVar(&runFlags.apiKey, "api-key", "", "Provider API key (default: $CASEFLOW_API_KEY)")
	f.StringVar(&runFlags.hostURL, "host-url", "", "Ollama host URL")
	f.BoolVarP(&runFlags.verbose, "verbose", "v", false, "Print each stage's output as it completes")
	_ = runCmd.MarkFlagRequired("file")
}

// stdoutSink prints stage events for verbose runs.
type stdoutSink struct{}

func (stdoutSink) Publish(event *proto.StageEvent) {
	data, err := event.ToJSON()
	if err != nil {
		return
	}
	fmt.Fprintf(os.Stderr, "%s\n", data)
}

func runLocalCase(cmd *cobra.Command, _ []string) error {
	data, err := os.ReadFile(runFlags.caseFile)
	if err != nil {
		return fmt.Errorf("failed to read case file: %w", err)
	}
	var cf caseFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("case file is not valid JSON: %w", err)
	}

	set, err := evidence.NewSet(cf.Evidence)
	if err != nil {
		return fmt.Errorf("invalid evidence: %w", err)
	}
	input := &stage.CaseInput{
		PatientSummary: cf.PatientSummary,
		Evidence:       set,
		CurrentMeds:    cf.CurrentMeds,
		Allergies:      cf.Allergies,
		Labs:           cf.Labs,
		Imaging:        cf.Imaging,
	}

	apiKey := runFlags.apiKey
	if apiKey == "" {
		apiKey = os.Getenv("CASEFLOW_API_KEY")
	}

	factory := agent.NewFactory(nil, logx.NewLogger("llm"))
	client, err := factory.NewClient(agent.ClientOptions{
		Provider: runFlags.provider,
		Model:    runFlags.model,
		APIKey:   apiKey,
		HostURL:  runFlags.hostURL,
	})
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}

	logger := logx.NewLogger("run")
	invoker := pipeline.NewInvoker(client, logger)
	opts := []pipeline.Option{}
	if runFlags.verbose {
		opts = append(opts, pipeline.WithEventSink(stdoutSink{}))
	}
	orch := pipeline.NewOrchestrator(stage.NewRegistry(), invoker, logger, opts...)

	doc, err := orch.Run(cmd.Context(), uuid.New().String(), input)
	if err != nil {
		return fmt.Errorf("pipeline failed: %w", err)
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode final document: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
