package stage

import (
	"caseflow/pkg/proto"
	"caseflow/pkg/schema"
)

const actionInstructions = `You propose a concise treatment and next-step plan tailored to the verified diagnoses and patient comorbidities.

OUTPUT (via the record_actions tool)
- initial_management: 3-6 items (med changes/starts, monitoring), each with one-line rationale + <cite>id</cite>.
- diagnostic_workup: 2-4 items with expected value (why it changes management) + <cite>id</cite>.
- safety_checks: potassium/renal/BP/volume status, drug-drug/contraindications (each with citation).
- follow_up: timing and targets (labs, vitals, symptoms).

CONSTRAINTS
- Respect CKD/age/comorbidity constraints from evidence.
- Keep total length tight but complete.`

func actionContract() *Contract {
	return &Contract{
		Name:         NameAction,
		State:        proto.StateAction,
		Instructions: actionInstructions,
		Tool: schema.ToolDefinition{
			Name:        "record_actions",
			Description: "Record the treatment and next-step plan.",
			InputSchema: schema.InputSchema{
				Type: "object",
				Properties: map[string]schema.Property{
					"treatment_plan": {
						Type:        "object",
						Description: "Structured treatment and next-step plan.",
						Properties: map[string]*schema.Property{
							"initial_management": {
								Type:        "array",
								Description: "3-6 management items with rationale and citations.",
								Items:       &schema.Property{Type: "string"},
							},
							"diagnostic_workup": {
								Type:        "array",
								Description: "2-4 workup items with expected impact and citations.",
								Items:       &schema.Property{Type: "string"},
							},
							"safety_checks": {
								Type:        "array",
								Description: "Safety checks with citations.",
								Items:       &schema.Property{Type: "string"},
							},
							"follow_up": {
								Type:        "array",
								Description: "Follow-up timing and targets.",
								Items:       &schema.Property{Type: "string"},
							},
						},
						Required: []string{"initial_management", "diagnostic_workup", "safety_checks", "follow_up"},
					},
				},
				Required: []string{"treatment_plan"},
			},
		},
		BuildInput: func(in *Input) string {
			var p promptBuilder
			if in.Reasoning != nil {
				p.jsonSection("reasoning_output", in.Reasoning)
			}
			p.caseSections(in.Case)
			return p.String()
		},
		Parse: func(params map[string]any) (Output, error) {
			var out ActionOutput
			if err := decodeOutput(params, &out); err != nil {
				return nil, err
			}
			return &out, nil
		},
		Placeholder: func() Output {
			return &ActionOutput{
				TreatmentPlan: TreatmentPlan{
					InitialManagement: []string{},
					DiagnosticWorkup:  []string{},
					SafetyChecks:      []string{},
					FollowUp:          []string{},
				},
				Degraded: true,
			}
		},
	}
}
