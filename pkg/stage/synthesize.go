package stage

import (
	"encoding/json"
	"fmt"

	"caseflow/pkg/evidence"
	"caseflow/pkg/proto"
	"caseflow/pkg/schema"
)

const synthesizeInstructions = `You synthesize the full pipeline's accumulated outputs into a single final clinical document.

GLOBAL INPUTS
- patient_summary, current_meds / allergies / labs / imaging if provided.
- evidence_snippets: the run's full evidence set.
- The outputs of every upstream stage (differential, warnings, review, verification, reasoning, actions).

OUTPUT (via the record_final_document tool)
- text: final summary of the clinical case, including the differential diagnosis, the treatment plan, and the next steps, in markdown.
- diagnoses: one entry per verified diagnosis with priority, probability (or null), guideline_fit ("fit" or "uncertain"), why_this, why_not_others, evidence_list.
- red_flags: short sentences with <cite>id</cite>.
- treatment_plan: initial_management, diagnostic_workup, safety_checks, follow_up.

RENDERING & CITATIONS
- All clinical claims must cite evidence_snippets using <cite>snippet_id</cite>.
- Do NOT invent IDs; only use provided snippet_ids.
- Prefer concise, high-yield sentences.

FAIL-SAFE
- If a required component is missing from upstream stages, degrade gracefully: still produce every field with the best available content and note "uncertain" where needed.
- If inputs conflict (for example verification marks a diagnosis uncertain but the plan still treats it), document the conflict briefly in text with citations.`

func (d *FinalDocument) StageName() string { return NameSynthesize }

// IsDegraded reports false: the final document is either produced whole or
// the run fails.
func (d *FinalDocument) IsDegraded() bool { return false }

// SynthesizeContract returns the terminal stage that produces the final
// document from the entire accumulated state.
func SynthesizeContract() *Contract {
	return &Contract{
		Name:         NameSynthesize,
		State:        proto.StateSynthesize,
		Instructions: synthesizeInstructions,
		Tool: schema.ToolDefinition{
			Name:        "record_final_document",
			Description: "Record the final clinical decision document.",
			InputSchema: schema.InputSchema{
				Type: "object",
				Properties: map[string]schema.Property{
					"text": {
						Type:        "string",
						Description: "Final markdown summary of the clinical case analysis.",
					},
					"diagnoses": {
						Type:        "array",
						Description: "Final diagnoses with details.",
						Items: &schema.Property{
							Type: "object",
							Properties: map[string]*schema.Property{
								"label":       {Type: "string", Description: "Diagnosis name."},
								"priority":    {Type: "integer", Description: "Priority rank, 1 is highest."},
								"probability": {Type: "number", Description: "Probability between 0 and 1, omit if unknown."},
								"guideline_fit": {
									Type:        "string",
									Description: "Guideline fit for the final document.",
									Enum:        []string{GuidelineFitFit, GuidelineFitUncertain},
								},
								"why_this": {Type: "string", Description: "2-4 sentences with <cite>id</cite> citations."},
								"why_not_others": {
									Type:        "array",
									Description: "Short contrasting points with citations.",
									Items:       &schema.Property{Type: "string"},
								},
								"evidence_list": {
									Type:        "array",
									Description: "Evidence points with citations.",
									Items:       &schema.Property{Type: "string"},
								},
							},
							Required: []string{"label", "priority", "guideline_fit", "why_this", "why_not_others", "evidence_list"},
						},
					},
					"red_flags": schema.StringArray("Red flags, each with <cite>id</cite> citations."),
					"treatment_plan": {
						Type:        "object",
						Description: "Structured treatment plan.",
						Properties: map[string]*schema.Property{
							"initial_management": {Type: "array", Items: &schema.Property{Type: "string"}},
							"diagnostic_workup":  {Type: "array", Items: &schema.Property{Type: "string"}},
							"safety_checks":      {Type: "array", Items: &schema.Property{Type: "string"}},
							"follow_up":          {Type: "array", Items: &schema.Property{Type: "string"}},
						},
						Required: []string{"initial_management", "diagnostic_workup", "safety_checks", "follow_up"},
					},
				},
				Required: []string{"text", "diagnoses", "red_flags", "treatment_plan"},
			},
		},
		BuildInput: func(in *Input) string {
			var p promptBuilder
			p.caseSections(in.Case)
			if in.Differential != nil {
				p.jsonSection("multi_specialist_output", in.Differential)
			}
			if in.Warning != nil {
				p.jsonSection("warning_output", in.Warning)
			}
			if in.Review != nil {
				p.jsonSection("review_output", in.Review)
			}
			if in.Verification != nil {
				p.jsonSection("verification_output", in.Verification)
			}
			if in.Reasoning != nil {
				p.jsonSection("reasoning_output", in.Reasoning)
			}
			if in.Action != nil {
				p.jsonSection("action_output", in.Action)
			}
			return p.String()
		},
		Parse: func(params map[string]any) (Output, error) {
			var doc FinalDocument
			if err := decodeOutput(params, &doc); err != nil {
				return nil, err
			}
			if doc.Text == "" {
				return nil, fmt.Errorf("final document text is empty")
			}
			// Every top-level field is present even under degraded
			// upstream data.
			if doc.Diagnoses == nil {
				doc.Diagnoses = []Diagnosis{}
			}
			if doc.RedFlags == nil {
				doc.RedFlags = []string{}
			}
			normalizePlan(&doc.TreatmentPlan)
			for i := range doc.Diagnoses {
				d := &doc.Diagnoses[i]
				if d.GuidelineFit != GuidelineFitFit && d.GuidelineFit != GuidelineFitUncertain {
					return nil, fmt.Errorf("diagnosis %q has invalid guideline_fit %q", d.Label, d.GuidelineFit)
				}
				if d.WhyNotOthers == nil {
					d.WhyNotOthers = []string{}
				}
				if d.EvidenceList == nil {
					d.EvidenceList = []string{}
				}
			}
			return &doc, nil
		},
		// The synthesizer has no placeholder: if it fails, the run fails.
		Placeholder: nil,
	}
}

// CitedSnippetIDs returns the ordered, deduplicated snippet ids cited
// anywhere in the final document.
func CitedSnippetIDs(doc *FinalDocument) []string {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil
	}
	return evidence.ExtractCitations(string(data))
}

func normalizePlan(plan *TreatmentPlan) {
	if plan.InitialManagement == nil {
		plan.InitialManagement = []string{}
	}
	if plan.DiagnosticWorkup == nil {
		plan.DiagnosticWorkup = []string{}
	}
	if plan.SafetyChecks == nil {
		plan.SafetyChecks = []string{}
	}
	if plan.FollowUp == nil {
		plan.FollowUp = []string{}
	}
}
