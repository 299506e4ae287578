// Package stage defines the six specialist stages of the clinical diagnosis
// chain plus the final synthesizer: their input projections, structured
// output schemas, and instruction contracts.
package stage

import (
	"caseflow/pkg/evidence"
)

// Stage names. Also used for logging and event tagging.
const (
	NameDifferential = "differential"
	NameWarning      = "warning"
	NameReview       = "review"
	NameVerification = "verification"
	NameReasoning    = "reasoning"
	NameAction       = "action"
	NameSynthesize   = "synthesize"
)

// Guideline fit values assigned by the verification stage.
const (
	GuidelineFitFit       = "fit"
	GuidelineFitUncertain = "uncertain"
	GuidelineFitNotFit    = "not_fit"
)

// Output is implemented by every stage output type.
type Output interface {
	StageName() string
	IsDegraded() bool
}

// DifferentialCandidate is one entry in the initial differential.
type DifferentialCandidate struct {
	Label       string   `json:"label"`
	Rationale   string   `json:"rationale"`
	Probability *float64 `json:"probability,omitempty"`
}

// DifferentialOutput is the differential stage's structured result:
// 5-10 candidate diagnoses, highest priority first.
type DifferentialOutput struct {
	Differential []DifferentialCandidate `json:"differential"`
	Degraded     bool                    `json:"degraded,omitempty"`
}

func (o *DifferentialOutput) StageName() string { return NameDifferential }
func (o *DifferentialOutput) IsDegraded() bool  { return o.Degraded }

// WarningOutput is the warning stage's structured result: up to 5 red flags
// and up to 3 urgent actions.
type WarningOutput struct {
	RedFlags      []string `json:"red_flags"`
	UrgentActions []string `json:"urgent_actions"`
	Degraded      bool     `json:"degraded,omitempty"`
}

func (o *WarningOutput) StageName() string { return NameWarning }
func (o *WarningOutput) IsDegraded() bool  { return o.Degraded }

// ReviewedDiagnosis is one entry in the merged differential.
type ReviewedDiagnosis struct {
	Label            string `json:"label"`
	Rationale        string `json:"rationale"`
	AddressesRedFlag bool   `json:"addresses_red_flag,omitempty"`
}

// ReviewOutput is the review stage's structured result: a single merged,
// prioritized differential (top 5-8) with red-flag cross-references.
type ReviewOutput struct {
	MergedDifferential []ReviewedDiagnosis `json:"merged_differential"`
	Degraded           bool                `json:"degraded,omitempty"`
}

func (o *ReviewOutput) StageName() string { return NameReview }
func (o *ReviewOutput) IsDegraded() bool  { return o.Degraded }

// VerifiedDiagnosis is one entry in the cleaned differential.
type VerifiedDiagnosis struct {
	Label           string `json:"label"`
	GuidelineFit    string `json:"guideline_fit"`
	Notes           string `json:"notes"`
	LifeThreatening bool   `json:"life_threatening,omitempty"`
}

// VerificationOutput is the verification stage's structured result: a
// cleaned, ordered differential (top 3-6) with guideline fit assessments.
// Entries tagged not_fit have already been dropped or retagged by
// FilterVerified.
type VerificationOutput struct {
	VerifiedDifferential []VerifiedDiagnosis `json:"verified_differential"`
	Degraded             bool                `json:"degraded,omitempty"`
}

func (o *VerificationOutput) StageName() string { return NameVerification }
func (o *VerificationOutput) IsDegraded() bool  { return o.Degraded }

// FilterVerified applies the verification drop rule: not_fit entries are
// removed unless flagged life-threatening, in which case they are retained
// retagged uncertain.
func FilterVerified(entries []VerifiedDiagnosis) []VerifiedDiagnosis {
	out := make([]VerifiedDiagnosis, 0, len(entries))
	for _, e := range entries {
		if e.GuidelineFit == GuidelineFitNotFit {
			if !e.LifeThreatening {
				continue
			}
			e.GuidelineFit = GuidelineFitUncertain
		}
		out = append(out, e)
	}
	return out
}

// DiagnosisNarrative is the reasoning stage's per-diagnosis section.
type DiagnosisNarrative struct {
	Label        string   `json:"label"`
	WhyThis      string   `json:"why_this"`
	WhyNotOthers []string `json:"why_not_others"`
	EvidenceList []string `json:"evidence_list"`
}

// ReasoningOutput is the reasoning stage's structured result: a detailed
// diagnostic narrative for each verified diagnosis.
type ReasoningOutput struct {
	DetailedDifferential []DiagnosisNarrative `json:"detailed_differential"`
	Degraded             bool                 `json:"degraded,omitempty"`
}

func (o *ReasoningOutput) StageName() string { return NameReasoning }
func (o *ReasoningOutput) IsDegraded() bool  { return o.Degraded }

// TreatmentPlan is the structured treatment and next-step plan.
type TreatmentPlan struct {
	InitialManagement []string `json:"initial_management"`
	DiagnosticWorkup  []string `json:"diagnostic_workup"`
	SafetyChecks      []string `json:"safety_checks"`
	FollowUp          []string `json:"follow_up"`
}

// ActionOutput is the action stage's structured result.
type ActionOutput struct {
	TreatmentPlan TreatmentPlan `json:"treatment_plan"`
	Degraded      bool          `json:"degraded,omitempty"`
}

func (o *ActionOutput) StageName() string { return NameAction }
func (o *ActionOutput) IsDegraded() bool  { return o.Degraded }

// Diagnosis is one entry in the final document.
type Diagnosis struct {
	Label        string   `json:"label"`
	Priority     int      `json:"priority"`
	Probability  *float64 `json:"probability"`
	GuidelineFit string   `json:"guideline_fit"`
	WhyThis      string   `json:"why_this"`
	WhyNotOthers []string `json:"why_not_others"`
	EvidenceList []string `json:"evidence_list"`
}

// FinalDocument is the run's sole terminal artifact. Every top-level field
// is always present, even under degraded upstream data. The shape is a wire
// contract consumed by the API and must not change without a version bump.
type FinalDocument struct {
	Text          string             `json:"text"`
	Diagnoses     []Diagnosis        `json:"diagnoses"`
	RedFlags      []string           `json:"red_flags"`
	TreatmentPlan TreatmentPlan      `json:"treatment_plan"`
	EvidenceList  []evidence.Snippet `json:"evidence_list"`
}
