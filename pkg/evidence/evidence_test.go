package evidence

import (
	"reflect"
	"testing"
)

func TestExtractCitations(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "no citations",
			text: "Elevated BNP supports heart failure.",
			want: nil,
		},
		{
			name: "single citation",
			text: "Elevated BNP supports heart failure <cite>bnp_interpretation_1</cite>.",
			want: []string{"bnp_interpretation_1"},
		},
		{
			name: "duplicates collapse in first-seen order",
			text: "<cite>a</cite> then <cite>b</cite> then <cite>a</cite> again",
			want: []string{"a", "b"},
		},
		{
			name: "malformed tags ignored",
			text: "<cite></cite> <cite >x</cite> <cite>ok_1</cite>",
			want: []string{"ok_1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractCitations(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractCitations(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func testSet(t *testing.T) *Set {
	t.Helper()
	set, err := NewSet([]Snippet{
		{SnippetID: "hf_guidelines_1", Text: "HF guideline text", SourceID: "src1", SourceType: "guideline"},
		{SnippetID: "ckd_considerations_1", Text: "CKD text", SourceID: "src2", SourceType: "guideline"},
		{SnippetID: "bnp_interpretation_1", Text: "BNP text", SourceID: "src3", SourceType: "reference"},
	})
	if err != nil {
		t.Fatalf("NewSet failed: %v", err)
	}
	return set
}

func TestNewSetRejectsDuplicates(t *testing.T) {
	_, err := NewSet([]Snippet{
		{SnippetID: "a", Text: "one"},
		{SnippetID: "a", Text: "two"},
	})
	if err == nil {
		t.Fatal("expected duplicate snippet id to be rejected")
	}
}

func TestNewSetRejectsEmptyID(t *testing.T) {
	_, err := NewSet([]Snippet{{Text: "no id"}})
	if err == nil {
		t.Fatal("expected empty snippet id to be rejected")
	}
}

func TestSetPreservesSupplyOrder(t *testing.T) {
	set := testSet(t)

	want := []string{"hf_guidelines_1", "ckd_considerations_1", "bnp_interpretation_1"}
	if got := set.IDs(); !reflect.DeepEqual(got, want) {
		t.Errorf("IDs() = %v, want %v", got, want)
	}
	if set.Len() != 3 {
		t.Errorf("Len() = %d, want 3", set.Len())
	}
}

func TestSubsetKeepsSupplyOrder(t *testing.T) {
	set := testSet(t)

	// Requested out of order, returned in supply order. Unknown ids skipped.
	got := set.Subset([]string{"bnp_interpretation_1", "made_up", "hf_guidelines_1"})
	if len(got) != 2 {
		t.Fatalf("Subset returned %d snippets, want 2", len(got))
	}
	if got[0].SnippetID != "hf_guidelines_1" || got[1].SnippetID != "bnp_interpretation_1" {
		t.Errorf("Subset order = [%s %s], want supply order", got[0].SnippetID, got[1].SnippetID)
	}
}

func TestValidateCitations(t *testing.T) {
	set := testSet(t)

	if err := set.ValidateCitations("supported by <cite>hf_guidelines_1</cite>"); err != nil {
		t.Errorf("known citation rejected: %v", err)
	}
	if err := set.ValidateCitations("no citations at all"); err != nil {
		t.Errorf("citation-free text rejected: %v", err)
	}

	err := set.ValidateCitations("per <cite>fabricated_guideline_9</cite>")
	if err == nil {
		t.Fatal("expected fabricated citation to fail validation")
	}
}

func TestValidateCitationIDs(t *testing.T) {
	set := testSet(t)

	if err := set.ValidateCitationIDs([]string{"ckd_considerations_1"}); err != nil {
		t.Errorf("known id rejected: %v", err)
	}
	if err := set.ValidateCitationIDs([]string{"ckd_considerations_1", "nope"}); err == nil {
		t.Error("expected unknown id to fail validation")
	}
}

func TestEmptySetRejectsAnyCitation(t *testing.T) {
	set, err := NewSet(nil)
	if err != nil {
		t.Fatalf("NewSet(nil) failed: %v", err)
	}
	if set.Len() != 0 {
		t.Errorf("empty set Len() = %d", set.Len())
	}
	if err := set.ValidateCitations("<cite>anything</cite>"); err == nil {
		t.Error("empty set accepted a citation")
	}
}
