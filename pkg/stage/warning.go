package stage

import (
	"fmt"

	"caseflow/pkg/proto"
	"caseflow/pkg/schema"
)

const warningInstructions = `You detect immediate dangers and can't-miss diagnoses (red flags) from the case inputs.

OUTPUT (via the record_warnings tool)
- red_flags: up to 5 items, each a short sentence with evidence <cite>snippet_id</cite>.
- urgent_actions: up to 3 items (diagnostic stabilization ideas, not definitive treatment).

CONSTRAINTS
- Keep it brief. No probabilities.
- Use only evidence_snippets for citations.`

// Bounds declared by the warning stage schema.
const (
	maxRedFlags      = 5
	maxUrgentActions = 3
)

func warningContract() *Contract {
	return &Contract{
		Name:         NameWarning,
		State:        proto.StateWarning,
		Instructions: warningInstructions,
		Tool: schema.ToolDefinition{
			Name:        "record_warnings",
			Description: "Record red flags and urgent actions for the case.",
			InputSchema: schema.InputSchema{
				Type: "object",
				Properties: map[string]schema.Property{
					"red_flags":      schema.StringArray("Up to 5 red flags, each with <cite>snippet_id</cite> citations."),
					"urgent_actions": schema.StringArray("Up to 3 urgent diagnostic/stabilization actions."),
				},
				Required: []string{"red_flags", "urgent_actions"},
			},
		},
		BuildInput: func(in *Input) string {
			var p promptBuilder
			p.caseSections(in.Case)
			return p.String()
		},
		Parse: func(params map[string]any) (Output, error) {
			var out WarningOutput
			if err := decodeOutput(params, &out); err != nil {
				return nil, err
			}
			if len(out.RedFlags) > maxRedFlags {
				return nil, fmt.Errorf("red_flags exceeds bound: %d > %d", len(out.RedFlags), maxRedFlags)
			}
			if len(out.UrgentActions) > maxUrgentActions {
				return nil, fmt.Errorf("urgent_actions exceeds bound: %d > %d", len(out.UrgentActions), maxUrgentActions)
			}
			return &out, nil
		},
		Placeholder: func() Output {
			return &WarningOutput{
				RedFlags:      []string{},
				UrgentActions: []string{},
				Degraded:      true,
			}
		},
	}
}
