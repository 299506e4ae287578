// Package evidence defines citable evidence snippets and the citation rules
// every stage output must obey: inline references use <cite>snippet_id</cite>,
// and a citation may only reference a snippet supplied for the run.
package evidence

import (
	"fmt"
	"regexp"
	"sort"
)

// Snippet is an atomic, citable piece of evidence with a stable id.
// Snippets are immutable once supplied; stages reference them by id only.
type Snippet struct {
	SnippetID      string `json:"snippet_id"`
	Text           string `json:"text"`
	SourceID       string `json:"source_id"`
	SourceType     string `json:"source_type"`
	SourceURL      string `json:"source_url,omitempty"`
	SourceCitation string `json:"source_citation,omitempty"`
	Index          int    `json:"index"`
}

var citeRe = regexp.MustCompile(`<cite>([^<>]+)</cite>`)

// ExtractCitations returns the snippet ids cited in the given text, in order
// of first appearance, without duplicates.
func ExtractCitations(text string) []string {
	matches := citeRe.FindAllStringSubmatch(text, -1)
	seen := make(map[string]struct{}, len(matches))
	var ids []string
	for _, m := range matches {
		id := m[1]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// Set is the evidence supplied for one run, indexed by snippet id.
type Set struct {
	snippets map[string]Snippet
	order    []string
}

// NewSet builds an evidence set from the caller-supplied snippets.
// Duplicate snippet ids are rejected.
func NewSet(snippets []Snippet) (*Set, error) {
	set := &Set{snippets: make(map[string]Snippet, len(snippets))}
	for _, s := range snippets {
		if s.SnippetID == "" {
			return nil, fmt.Errorf("evidence snippet with empty id")
		}
		if _, ok := set.snippets[s.SnippetID]; ok {
			return nil, fmt.Errorf("duplicate evidence snippet id %q", s.SnippetID)
		}
		set.snippets[s.SnippetID] = s
		set.order = append(set.order, s.SnippetID)
	}
	return set, nil
}

// Has reports whether the set contains the given snippet id.
func (s *Set) Has(id string) bool {
	_, ok := s.snippets[id]
	return ok
}

// Get returns the snippet with the given id.
func (s *Set) Get(id string) (Snippet, bool) {
	snip, ok := s.snippets[id]
	return snip, ok
}

// Len returns the number of snippets in the set.
func (s *Set) Len() int {
	return len(s.snippets)
}

// IDs returns the snippet ids in supply order.
func (s *Set) IDs() []string {
	ids := make([]string, len(s.order))
	copy(ids, s.order)
	return ids
}

// Snippets returns the snippets in supply order.
func (s *Set) Snippets() []Snippet {
	out := make([]Snippet, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.snippets[id])
	}
	return out
}

// Subset returns the snippets with the given ids, in supply order. Unknown ids
// are skipped; callers validate ids before asking for a subset.
func (s *Set) Subset(ids []string) []Snippet {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var out []Snippet
	for _, id := range s.order {
		if _, ok := want[id]; ok {
			out = append(out, s.snippets[id])
		}
	}
	return out
}

// ValidateCitations extracts all citations from the text and returns an error
// naming every cited id that is not in the set. Fabricated ids are a
// validation failure, not a warning.
func (s *Set) ValidateCitations(text string) error {
	var unknown []string
	for _, id := range ExtractCitations(text) {
		if !s.Has(id) {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("citation references unknown snippet ids %v", unknown)
	}
	return nil
}

// ValidateCitationIDs checks an explicit list of ids against the set.
func (s *Set) ValidateCitationIDs(ids []string) error {
	var unknown []string
	for _, id := range ids {
		if !s.Has(id) {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("citation references unknown snippet ids %v", unknown)
	}
	return nil
}
