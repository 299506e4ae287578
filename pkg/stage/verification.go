package stage

import (
	"fmt"

	"caseflow/pkg/proto"
	"caseflow/pkg/schema"
)

const verificationInstructions = `You verify each diagnosis against contemporary clinical guidelines and major trial evidence present in evidence_snippets.

TASK (via the record_verification tool)
- For each diagnosis in the review list:
  - guideline_fit: "fit" | "uncertain" | "not_fit"
  - notes: one line with citations <cite>snippet_id</cite>.
  - life_threatening: true if the condition is clearly life-threatening if missed.

OUTPUT
- A cleaned, ordered differential (top 3-6) with guideline_fit and notes.

CONSTRAINTS
- Cite only from evidence_snippets (<cite>id</cite>); if evidence is lacking, mark "uncertain".`

func verificationContract() *Contract {
	return &Contract{
		Name:         NameVerification,
		State:        proto.StateVerification,
		Instructions: verificationInstructions,
		Tool: schema.ToolDefinition{
			Name:        "record_verification",
			Description: "Record guideline fit assessments for the reviewed differential.",
			InputSchema: schema.InputSchema{
				Type: "object",
				Properties: map[string]schema.Property{
					"verified_differential": {
						Type:        "array",
						Description: "Cleaned, ordered differential with guideline fit, top 3-6.",
						Items: &schema.Property{
							Type: "object",
							Properties: map[string]*schema.Property{
								"label": {Type: "string", Description: "Diagnosis name."},
								"guideline_fit": {
									Type:        "string",
									Description: "Guideline fit assessment.",
									Enum:        []string{GuidelineFitFit, GuidelineFitUncertain, GuidelineFitNotFit},
								},
								"notes":            {Type: "string", Description: "One line with <cite>snippet_id</cite> citations."},
								"life_threatening": {Type: "boolean", Description: "True if clearly life-threatening if missed."},
							},
							Required: []string{"label", "guideline_fit", "notes"},
						},
					},
				},
				Required: []string{"verified_differential"},
			},
		},
		// Verification sees only the review output and the evidence, never
		// the raw case.
		BuildInput: func(in *Input) string {
			var p promptBuilder
			if in.Review != nil {
				p.jsonSection("review_output", in.Review)
			}
			p.jsonSection("evidence_snippets", in.Case.Evidence.Snippets())
			return p.String()
		},
		Parse: func(params map[string]any) (Output, error) {
			var out VerificationOutput
			if err := decodeOutput(params, &out); err != nil {
				return nil, err
			}
			for i := range out.VerifiedDifferential {
				fit := out.VerifiedDifferential[i].GuidelineFit
				switch fit {
				case GuidelineFitFit, GuidelineFitUncertain, GuidelineFitNotFit:
				default:
					return nil, fmt.Errorf("invalid guideline_fit value: %q", fit)
				}
			}
			out.VerifiedDifferential = FilterVerified(out.VerifiedDifferential)
			return &out, nil
		},
		Placeholder: func() Output {
			return &VerificationOutput{Degraded: true}
		},
	}
}
