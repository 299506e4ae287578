package stage

import (
	"encoding/json"
	"fmt"

	"caseflow/pkg/proto"
	"caseflow/pkg/schema"
)

// Contract describes one specialist stage: its instruction text, forced
// output tool, input projection, and fail-safe placeholder. The orchestrator
// depends only on this shape, never on a specific model-calling library.
type Contract struct {
	// Name is the unique stage name used for logging and event tagging.
	Name string

	// State is the orchestrator state that owns this stage.
	State proto.State

	// Instructions is the fixed system prompt for the stage.
	Instructions string

	// Tool declares the structured output schema. The invoker forces the
	// model to call it.
	Tool schema.ToolDefinition

	// BuildInput projects the pipeline state into the stage's user prompt.
	// Only the stage's allow-listed fields are rendered.
	BuildInput func(in *Input) string

	// Parse validates and converts the tool call parameters into the
	// stage's typed output.
	Parse func(params map[string]any) (Output, error)

	// Placeholder returns the degraded output used when the stage fails
	// with a recoverable kind. The slot is marked uncertain/unavailable
	// and the run proceeds.
	Placeholder func() Output
}

// decodeOutput converts tool call parameters into a typed stage output via
// a JSON round trip.
func decodeOutput(params map[string]any, out any) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode tool parameters: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode stage output: %w", err)
	}
	return nil
}

// Registry holds the stage contracts, constructed once at process start and
// passed into the orchestrator.
type Registry struct {
	contracts map[proto.State]*Contract
}

// NewRegistry constructs the registry with all six specialist stages.
func NewRegistry() *Registry {
	r := &Registry{contracts: make(map[proto.State]*Contract)}
	for _, c := range []*Contract{
		differentialContract(),
		warningContract(),
		reviewContract(),
		verificationContract(),
		reasoningContract(),
		actionContract(),
	} {
		r.contracts[c.State] = c
	}
	return r
}

// Get returns the contract owned by the given orchestrator state.
func (r *Registry) Get(state proto.State) (*Contract, bool) {
	c, ok := r.contracts[state]
	return c, ok
}

// Contracts returns all registered contracts keyed by state.
func (r *Registry) Contracts() map[proto.State]*Contract {
	return r.contracts
}
