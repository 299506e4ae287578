// Package agent provides LLM client construction with middleware chain
// assembly and a deterministic simulator for offline runs.
package agent

import (
	"fmt"

	"caseflow/pkg/agent/llm"
	"caseflow/pkg/agent/llmimpl/anthropic"
	"caseflow/pkg/agent/llmimpl/google"
	"caseflow/pkg/agent/llmimpl/ollama"
	"caseflow/pkg/agent/llmimpl/openai"
	"caseflow/pkg/agent/middleware/logging"
	"caseflow/pkg/agent/middleware/metrics"
	"caseflow/pkg/agent/middleware/resilience"
	"caseflow/pkg/logx"
)

// Supported provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
	ProviderMock      = "mock"
)

// Factory creates LLM clients with properly configured middleware chains.
type Factory struct {
	recorder metrics.Recorder
	logger   *logx.Logger
}

// NewFactory creates a client factory. A nil recorder disables metrics.
func NewFactory(recorder metrics.Recorder, logger *logx.Logger) *Factory {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if logger == nil {
		logger = logx.NewLogger("llm")
	}
	return &Factory{recorder: recorder, logger: logger}
}

// ClientOptions describes the provider-level settings for a client.
type ClientOptions struct {
	Provider string
	Model    string
	APIKey   string
	HostURL  string // Ollama only
}

// NewClient creates a fully wrapped LLM client for the given provider.
// The middleware chain is logging -> metrics -> retry -> raw client.
func (f *Factory) NewClient(opts ClientOptions) (llm.LLMClient, error) {
	var raw llm.LLMClient
	switch opts.Provider {
	case ProviderAnthropic:
		if opts.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an API key")
		}
		raw = anthropic.NewClient(opts.APIKey, opts.Model)
	case ProviderOpenAI:
		if opts.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		raw = openai.NewClient(opts.APIKey, opts.Model)
	case ProviderGoogle:
		if opts.APIKey == "" {
			return nil, fmt.Errorf("google provider requires an API key")
		}
		raw = google.NewClient(opts.APIKey, opts.Model)
	case ProviderOllama:
		raw = ollama.NewClient(opts.HostURL, opts.Model)
	case ProviderMock:
		raw = NewSimulatorClient(opts.Model)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", opts.Provider)
	}

	return llm.Chain(raw,
		logging.Middleware(f.logger),
		metrics.Middleware(f.recorder, nil, f.logger),
		resilience.Middleware(f.logger),
	), nil
}
