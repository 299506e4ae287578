package stage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseflow/pkg/evidence"
	"caseflow/pkg/proto"
)

func testCaseInput(t *testing.T) *CaseInput {
	t.Helper()
	set, err := evidence.NewSet([]evidence.Snippet{
		{SnippetID: "hf_guidelines_1", Text: "HF guideline", SourceID: "s1", SourceType: "guideline"},
		{SnippetID: "bnp_interpretation_1", Text: "BNP cutoffs", SourceID: "s2", SourceType: "reference"},
	})
	require.NoError(t, err)
	return &CaseInput{
		PatientSummary: "72yo with dyspnea on exertion and bilateral edema",
		Evidence:       set,
		Labs:           "BNP 1450 pg/mL, Cr 1.9",
	}
}

func TestCaseInputValidate(t *testing.T) {
	in := testCaseInput(t)
	require.NoError(t, in.Validate())

	missing := &CaseInput{Evidence: in.Evidence}
	assert.Error(t, missing.Validate(), "empty patient summary must fail")

	blank := &CaseInput{PatientSummary: "   ", Evidence: in.Evidence}
	assert.Error(t, blank.Validate(), "whitespace-only summary must fail")

	noEvidence := &CaseInput{PatientSummary: "ok"}
	assert.Error(t, noEvidence.Validate(), "nil evidence set must fail")
}

func TestRegistryCoversAllStages(t *testing.T) {
	r := NewRegistry()
	states := []proto.State{
		proto.StateDifferential, proto.StateWarning, proto.StateReview,
		proto.StateVerification, proto.StateReasoning, proto.StateAction,
	}
	for _, s := range states {
		c, ok := r.Get(s)
		require.True(t, ok, "missing contract for %s", s)
		assert.NotEmpty(t, c.Instructions)
		assert.NotEmpty(t, c.Tool.Name)
		assert.NotNil(t, c.BuildInput)
		assert.NotNil(t, c.Parse)
		assert.NotNil(t, c.Placeholder)
	}
	_, ok := r.Get(proto.StateSynthesize)
	assert.False(t, ok, "synthesizer is not a registry stage")
}

func TestWarningParseBounds(t *testing.T) {
	c, _ := NewRegistry().Get(proto.StateWarning)

	out, err := c.Parse(map[string]any{
		"red_flags":      []any{"possible acute decompensation <cite>hf_guidelines_1</cite>"},
		"urgent_actions": []any{"repeat BNP", "telemetry"},
	})
	require.NoError(t, err)
	w := out.(*WarningOutput)
	assert.Len(t, w.RedFlags, 1)
	assert.Len(t, w.UrgentActions, 2)
	assert.False(t, w.IsDegraded())

	tooMany := []any{"a", "b", "c", "d", "e", "f"}
	_, err = c.Parse(map[string]any{"red_flags": tooMany, "urgent_actions": []any{}})
	assert.Error(t, err, "six red flags must exceed the bound")

	_, err = c.Parse(map[string]any{"red_flags": []any{}, "urgent_actions": []any{"a", "b", "c", "d"}})
	assert.Error(t, err, "four urgent actions must exceed the bound")
}

func TestWarningPlaceholderShape(t *testing.T) {
	c, _ := NewRegistry().Get(proto.StateWarning)
	w := c.Placeholder().(*WarningOutput)
	assert.True(t, w.IsDegraded())
	assert.NotNil(t, w.RedFlags, "red_flags must be present even when degraded")
	assert.NotNil(t, w.UrgentActions)
	assert.Empty(t, w.RedFlags)
}

func TestVerificationParseAppliesDropRule(t *testing.T) {
	c, _ := NewRegistry().Get(proto.StateVerification)

	out, err := c.Parse(map[string]any{
		"verified_differential": []any{
			map[string]any{"label": "heart failure", "guideline_fit": "fit", "notes": "<cite>hf_guidelines_1</cite>"},
			map[string]any{"label": "anemia", "guideline_fit": "not_fit", "notes": "no supporting labs"},
			map[string]any{"label": "pulmonary embolism", "guideline_fit": "not_fit", "notes": "low suspicion", "life_threatening": true},
		},
	})
	require.NoError(t, err)
	v := out.(*VerificationOutput)

	require.Len(t, v.VerifiedDifferential, 2)
	assert.Equal(t, "heart failure", v.VerifiedDifferential[0].Label)
	assert.Equal(t, GuidelineFitFit, v.VerifiedDifferential[0].GuidelineFit)

	// not_fit + life_threatening survives retagged uncertain.
	assert.Equal(t, "pulmonary embolism", v.VerifiedDifferential[1].Label)
	assert.Equal(t, GuidelineFitUncertain, v.VerifiedDifferential[1].GuidelineFit)
}

func TestVerificationParseRejectsBadFit(t *testing.T) {
	c, _ := NewRegistry().Get(proto.StateVerification)
	_, err := c.Parse(map[string]any{
		"verified_differential": []any{
			map[string]any{"label": "x", "guideline_fit": "plausible", "notes": "n"},
		},
	})
	assert.Error(t, err)
}

func TestFilterVerified(t *testing.T) {
	in := []VerifiedDiagnosis{
		{Label: "keep", GuidelineFit: GuidelineFitFit},
		{Label: "drop", GuidelineFit: GuidelineFitNotFit},
		{Label: "retag", GuidelineFit: GuidelineFitNotFit, LifeThreatening: true},
		{Label: "uncertain", GuidelineFit: GuidelineFitUncertain},
	}
	out := FilterVerified(in)
	require.Len(t, out, 3)
	for _, d := range out {
		assert.NotEqual(t, GuidelineFitNotFit, d.GuidelineFit, "no not_fit entry may survive filtering")
	}
	assert.Equal(t, GuidelineFitUncertain, out[1].GuidelineFit)
	assert.Equal(t, "retag", out[1].Label)
}

func TestDifferentialParse(t *testing.T) {
	c, _ := NewRegistry().Get(proto.StateDifferential)
	out, err := c.Parse(map[string]any{
		"differential": []any{
			map[string]any{"label": "heart failure", "rationale": "elevated BNP <cite>bnp_interpretation_1</cite>", "probability": 0.6},
			map[string]any{"label": "CKD progression", "rationale": "rising creatinine"},
		},
	})
	require.NoError(t, err)
	d := out.(*DifferentialOutput)
	require.Len(t, d.Differential, 2)
	require.NotNil(t, d.Differential[0].Probability)
	assert.InDelta(t, 0.6, *d.Differential[0].Probability, 1e-9)
	assert.Nil(t, d.Differential[1].Probability, "omitted probability stays nil")
}

func TestStageProjectionsAreAllowListed(t *testing.T) {
	in := &Input{
		Case: testCaseInput(t),
		Review: &ReviewOutput{
			MergedDifferential: []ReviewedDiagnosis{{Label: "heart failure", Rationale: "merged"}},
		},
		Verification: &VerificationOutput{
			VerifiedDifferential: []VerifiedDiagnosis{{Label: "heart failure", GuidelineFit: GuidelineFitFit, Notes: "n"}},
		},
		Warning: &WarningOutput{RedFlags: []string{"hypoxia"}},
	}
	r := NewRegistry()

	// Verification sees the review output but never the raw patient summary.
	vc, _ := r.Get(proto.StateVerification)
	prompt := vc.BuildInput(in)
	assert.Contains(t, prompt, "review_output")
	assert.NotContains(t, prompt, "dyspnea on exertion")

	// Reasoning sees the verified differential, not the warnings.
	rc, _ := r.Get(proto.StateReasoning)
	prompt = rc.BuildInput(in)
	assert.Contains(t, prompt, "verification_output")
	assert.NotContains(t, prompt, "hypoxia")

	// Differential sees only the case inputs.
	dc, _ := r.Get(proto.StateDifferential)
	prompt = dc.BuildInput(in)
	assert.Contains(t, prompt, "patient_summary")
	assert.NotContains(t, prompt, "review_output")
}

func TestSynthesizeParseNormalizes(t *testing.T) {
	c := SynthesizeContract()
	require.Nil(t, c.Placeholder, "synthesizer failure must fail the run")

	out, err := c.Parse(map[string]any{
		"text":      "## Assessment\nHeart failure likely <cite>hf_guidelines_1</cite>",
		"diagnoses": []any{},
		"red_flags": nil,
		"treatment_plan": map[string]any{
			"initial_management": []any{"start loop diuretic"},
			"diagnostic_workup":  []any{},
			"safety_checks":      []any{},
			"follow_up":          []any{},
		},
	})
	require.NoError(t, err)
	doc := out.(*FinalDocument)

	assert.NotNil(t, doc.Diagnoses)
	assert.NotNil(t, doc.RedFlags)
	assert.NotNil(t, doc.TreatmentPlan.DiagnosticWorkup)
	assert.NotNil(t, doc.TreatmentPlan.FollowUp)
	assert.Equal(t, NameSynthesize, doc.StageName())
	assert.False(t, doc.IsDegraded())
}

func TestSynthesizeParseRejects(t *testing.T) {
	c := SynthesizeContract()

	_, err := c.Parse(map[string]any{
		"text":           "",
		"diagnoses":      []any{},
		"red_flags":      []any{},
		"treatment_plan": map[string]any{},
	})
	assert.Error(t, err, "empty text must be rejected")

	_, err = c.Parse(map[string]any{
		"text": "doc",
		"diagnoses": []any{
			map[string]any{
				"label": "x", "priority": 1, "guideline_fit": "not_fit",
				"why_this": "w", "why_not_others": []any{}, "evidence_list": []any{},
			},
		},
		"red_flags":      []any{},
		"treatment_plan": map[string]any{},
	})
	assert.Error(t, err, "not_fit may not appear in the final document")
}

func TestCitedSnippetIDs(t *testing.T) {
	doc := &FinalDocument{
		Text:     "likely HF <cite>hf_guidelines_1</cite>",
		RedFlags: []string{"rising creatinine <cite>ckd_considerations_1</cite>"},
		Diagnoses: []Diagnosis{{
			Label:        "heart failure",
			GuidelineFit: GuidelineFitFit,
			WhyThis:      "BNP elevated <cite>bnp_interpretation_1</cite> <cite>hf_guidelines_1</cite>",
		}},
	}
	ids := CitedSnippetIDs(doc)
	assert.Equal(t, []string{"hf_guidelines_1", "ckd_considerations_1", "bnp_interpretation_1"}, ids)
}

func TestPromptBuilderSkipsEmptySections(t *testing.T) {
	var p promptBuilder
	p.section("labs", "")
	p.section("imaging", "CXR: pulmonary congestion")
	got := p.String()

	assert.NotContains(t, got, "<labs>")
	assert.Contains(t, got, "<imaging>\nCXR: pulmonary congestion\n</imaging>")
	assert.False(t, strings.HasSuffix(got, "\n\n"), "trailing whitespace is trimmed")
}
