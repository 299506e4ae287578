package stage

import (
	"fmt"

	"caseflow/pkg/proto"
	"caseflow/pkg/schema"
)

const reviewInstructions = `You merge (A) the multi-specialist differential and (B) the warning stage red flags.

OUTPUT (via the record_review tool)
- A single prioritized differential list (top 5-8).
- For each diagnosis: one-line rationale with citations <cite>snippet_id</cite>.
- Mark any diagnosis that directly addresses a red flag.

CONSTRAINTS
- Do not add new diagnoses without evidence.`

func reviewContract() *Contract {
	return &Contract{
		Name:         NameReview,
		State:        proto.StateReview,
		Instructions: reviewInstructions,
		Tool: schema.ToolDefinition{
			Name:        "record_review",
			Description: "Record the merged, prioritized differential.",
			InputSchema: schema.InputSchema{
				Type: "object",
				Properties: map[string]schema.Property{
					"merged_differential": {
						Type:        "array",
						Description: "Merged prioritized differential, top 5-8.",
						Items: &schema.Property{
							Type: "object",
							Properties: map[string]*schema.Property{
								"label":              {Type: "string", Description: "Diagnosis name."},
								"rationale":          {Type: "string", Description: "One-line rationale with <cite>snippet_id</cite> citations."},
								"addresses_red_flag": {Type: "boolean", Description: "True if this diagnosis directly addresses a red flag."},
							},
							Required: []string{"label", "rationale"},
						},
					},
				},
				Required: []string{"merged_differential"},
			},
		},
		BuildInput: func(in *Input) string {
			var p promptBuilder
			if in.Differential != nil {
				p.jsonSection("multi_specialist_output", in.Differential)
			}
			if in.Warning != nil {
				p.jsonSection("warning_output", in.Warning)
			}
			p.caseSections(in.Case)
			return p.String()
		},
		Parse: func(params map[string]any) (Output, error) {
			var out ReviewOutput
			if err := decodeOutput(params, &out); err != nil {
				return nil, err
			}
			if len(out.MergedDifferential) == 0 {
				return nil, fmt.Errorf("merged differential is empty")
			}
			return &out, nil
		},
		Placeholder: func() Output {
			return &ReviewOutput{Degraded: true}
		},
	}
}
