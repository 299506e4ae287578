package stage

import (
	"fmt"

	"caseflow/pkg/proto"
	"caseflow/pkg/schema"
)

const reasoningInstructions = `You write the detailed diagnostic narrative for each verified diagnosis.

FOR EACH DIAGNOSIS (via the record_reasoning tool)
- why_this: 2-4 sentences connecting findings to pathophysiology, with citations <cite>snippet_id</cite>.
- why_not_others: up to 2 short points contrasting key alternatives, with citations.
- evidence_list: 3-6 points quoting short fragments or paraphrasing, each with <cite>id</cite>.

STYLE
- Clear, clinical, concise; no treatment.
- Only cite available evidence_snippets.`

func reasoningContract() *Contract {
	return &Contract{
		Name:         NameReasoning,
		State:        proto.StateReasoning,
		Instructions: reasoningInstructions,
		Tool: schema.ToolDefinition{
			Name:        "record_reasoning",
			Description: "Record the detailed diagnostic narrative for each verified diagnosis.",
			InputSchema: schema.InputSchema{
				Type: "object",
				Properties: map[string]schema.Property{
					"detailed_differential": {
						Type:        "array",
						Description: "Per-diagnosis narrative sections.",
						Items: &schema.Property{
							Type: "object",
							Properties: map[string]*schema.Property{
								"label":   {Type: "string", Description: "Diagnosis name."},
								"why_this": {
									Type:        "string",
									Description: "2-4 sentences connecting findings to pathophysiology, with <cite>snippet_id</cite> citations.",
								},
								"why_not_others": {
									Type:        "array",
									Description: "Short points contrasting key alternatives, with citations.",
									Items:       &schema.Property{Type: "string"},
								},
								"evidence_list": {
									Type:        "array",
									Description: "3-6 evidence points, each with <cite>id</cite>.",
									Items:       &schema.Property{Type: "string"},
								},
							},
							Required: []string{"label", "why_this", "why_not_others", "evidence_list"},
						},
					},
				},
				Required: []string{"detailed_differential"},
			},
		},
		// Reasoning sees only the verification output and the evidence.
		BuildInput: func(in *Input) string {
			var p promptBuilder
			if in.Verification != nil {
				p.jsonSection("verification_output", in.Verification)
			}
			p.jsonSection("evidence_snippets", in.Case.Evidence.Snippets())
			return p.String()
		},
		Parse: func(params map[string]any) (Output, error) {
			var out ReasoningOutput
			if err := decodeOutput(params, &out); err != nil {
				return nil, err
			}
			if len(out.DetailedDifferential) == 0 {
				return nil, fmt.Errorf("detailed differential is empty")
			}
			return &out, nil
		},
		Placeholder: func() Output {
			return &ReasoningOutput{Degraded: true}
		},
	}
}
