package stage

import (
	"encoding/json"
	"fmt"
	"strings"

	"caseflow/pkg/evidence"
)

// CaseInput holds the immutable case facts supplied by the caller.
type CaseInput struct {
	PatientSummary string
	Evidence       *evidence.Set
	CurrentMeds    string
	Allergies      string
	Labs           string
	Imaging        string
}

// Validate checks that the case carries enough input to run. A missing
// patient summary fails the run before any stage executes.
func (c *CaseInput) Validate() error {
	if strings.TrimSpace(c.PatientSummary) == "" {
		return fmt.Errorf("case input requires a patient summary")
	}
	if c.Evidence == nil {
		return fmt.Errorf("case input requires an evidence set (may be empty)")
	}
	return nil
}

// Input is the projection source handed to a stage's input builder. Each
// stage reads only its allow-listed fields; upstream slots it does not
// declare are simply never rendered into its prompt.
type Input struct {
	Case         *CaseInput
	Differential *DifferentialOutput
	Warning      *WarningOutput
	Review       *ReviewOutput
	Verification *VerificationOutput
	Reasoning    *ReasoningOutput
	Action       *ActionOutput
}

// promptBuilder renders named sections in a fixed order, mirroring the
// XML-style input framing the stages are instructed against.
type promptBuilder struct {
	b strings.Builder
}

func (p *promptBuilder) section(name, content string) {
	if strings.TrimSpace(content) == "" {
		return
	}
	fmt.Fprintf(&p.b, "<%s>\n%s\n</%s>\n\n", name, strings.TrimSpace(content), name)
}

func (p *promptBuilder) jsonSection(name string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	p.section(name, string(data))
}

func (p *promptBuilder) String() string {
	return strings.TrimSpace(p.b.String())
}

// caseSections renders the full set of case-input sections.
func (p *promptBuilder) caseSections(c *CaseInput) {
	p.section("patient_summary", c.PatientSummary)
	p.jsonSection("evidence_snippets", c.Evidence.Snippets())
	p.section("current_meds", c.CurrentMeds)
	p.section("allergies", c.Allergies)
	p.section("labs", c.Labs)
	p.section("imaging", c.Imaging)
}
