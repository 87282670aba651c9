// Package diff compares two JSON documents structurally (by path) and
// textually (by line over their canonical form).
package diff

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

// Kind is the category of a reported difference.
type Kind string

const (
	KindTypeChange   Kind = "type_change"
	KindMissingLeft  Kind = "missing_left"
	KindMissingRight Kind = "missing_right"
	KindValueChange  Kind = "value_change"
	KindLineChange   Kind = "line_change"
)

// Missing marks the absent side of a missing_left/missing_right record.
const Missing = "MISSING"

// maxRendered is the rune length after which renderings are truncated.
const maxRendered = 100

// Record is one reported discrepancy. Structural records address a path in
// the document; line records use a line_<N> path and carry line indices.
type Record struct {
	Path      string `json:"path"`
	Kind      Kind   `json:"kind"`
	Left      string `json:"left"`
	Right     string `json:"right"`
	LineLeft  *int   `json:"line_left"`
	LineRight *int   `json:"line_right"`
}

// Result is the full comparison of two documents.
type Result struct {
	LeftLines       []string `json:"left_content"`
	RightLines      []string `json:"right_content"`
	Differences     []Record `json:"differences"`
	HasDifferences  bool     `json:"has_differences"`
	DifferenceCount int      `json:"difference_count"`
}

// Summary counts records per kind.
type Summary struct {
	TypeChanges  int `json:"type_changes"`
	MissingLeft  int `json:"missing_left"`
	MissingRight int `json:"missing_right"`
	ValueChanges int `json:"value_changes"`
	LineChanges  int `json:"line_changes"`
	Structural   int `json:"structural"`
	Total        int `json:"total"`
}

// Summary tallies the differences of r.
func (r *Result) Summary() Summary {
	s := Summary{Total: len(r.Differences)}
	for _, d := range r.Differences {
		switch d.Kind {
		case KindTypeChange:
			s.TypeChanges++
		case KindMissingLeft:
			s.MissingLeft++
		case KindMissingRight:
			s.MissingRight++
		case KindValueChange:
			s.ValueChanges++
		case KindLineChange:
			s.LineChanges++
		}
	}
	s.Structural = s.Total - s.LineChanges
	return s
}

// Option configures a Differ.
type Option func(*Differ) error

// WithExcludePatterns suppresses structural records whose path matches one
// of the regular expressions. Patterns are anchored at the start of the path.
func WithExcludePatterns(patterns []string) Option {
	return func(d *Differ) error {
		for _, p := range patterns {
			re, err := regexp.Compile(`^(?:` + p + `)`)
			if err != nil {
				return fmt.Errorf("exclude pattern %q: %w", p, err)
			}
			d.exclude = append(d.exclude, re)
		}
		return nil
	}
}

// Differ computes comparisons. A Differ is immutable once built and safe for
// concurrent use.
type Differ struct {
	exclude []*regexp.Regexp
}

// NewDiffer creates a Differ with the given options.
func NewDiffer(opts ...Option) (*Differ, error) {
	d := &Differ{}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Excluded reports whether records at path are suppressed.
func (d *Differ) Excluded(path string) bool {
	for _, re := range d.exclude {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxRendered {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRendered]) + "..."
}

func intPtr(i int) *int { return &i }
