package stage

import (
	"fmt"

	"caseflow/pkg/proto"
	"caseflow/pkg/schema"
)

const differentialInstructions = `You are a panel of board-certified specialists (cardiology, nephrology, endocrinology, infectious disease, geriatrics).
Task: propose a comprehensive differential diagnosis list for the current clinical case.

INPUTS
- patient_summary: a summary of the patient's clinical history, including symptoms, medical history, and medications.
- evidence_snippets: JSON array of evidence objects; each has snippet_id and text.
- current_meds / allergies / labs / imaging if provided.

REQUIRED OUTPUT (via the record_differential tool)
- 5-10 candidate diagnoses prioritized (highest first).
- For each item:
  - one-line rationale referencing key evidence with <cite>snippet_id</cite>.
  - optional probability (0-1) if you're confident.

CONSTRAINTS
- Be precise and concise (no more than 2 lines per diagnosis).
- Only cite from evidence_snippets using <cite>id</cite>.
- No treatment recommendations here.`

func differentialContract() *Contract {
	return &Contract{
		Name:         NameDifferential,
		State:        proto.StateDifferential,
		Instructions: differentialInstructions,
		Tool: schema.ToolDefinition{
			Name:        "record_differential",
			Description: "Record the prioritized differential diagnosis list.",
			InputSchema: schema.InputSchema{
				Type: "object",
				Properties: map[string]schema.Property{
					"differential": {
						Type:        "array",
						Description: "5-10 candidate diagnoses, highest priority first.",
						Items: &schema.Property{
							Type: "object",
							Properties: map[string]*schema.Property{
								"label":       {Type: "string", Description: "Diagnosis name."},
								"rationale":   {Type: "string", Description: "One-line rationale with <cite>snippet_id</cite> citations."},
								"probability": {Type: "number", Description: "Optional probability between 0 and 1."},
							},
							Required: []string{"label", "rationale"},
						},
					},
				},
				Required: []string{"differential"},
			},
		},
		BuildInput: func(in *Input) string {
			var p promptBuilder
			p.caseSections(in.Case)
			return p.String()
		},
		Parse: func(params map[string]any) (Output, error) {
			var out DifferentialOutput
			if err := decodeOutput(params, &out); err != nil {
				return nil, err
			}
			if len(out.Differential) == 0 {
				return nil, fmt.Errorf("differential list is empty")
			}
			return &out, nil
		},
		Placeholder: func() Output {
			return &DifferentialOutput{Degraded: true}
		},
	}
}
