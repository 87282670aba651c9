package diff

import (
	"github.com/dshills/respdiff/internal/jsonvalue"
)

// Build compares two documents. Structural records come first in traversal
// order, followed by line records in text order. Malformed values fail with
// domain.ErrMalformedInput.
func (d *Differ) Build(left, right jsonvalue.Value) (*Result, error) {
	leftLines, rightLines, lineRecords, err := Reconcile(left, right)
	if err != nil {
		return nil, err
	}

	differences := d.Diff(left, right)
	differences = append(differences, lineRecords...)
	if differences == nil {
		differences = []Record{}
	}

	return &Result{
		LeftLines:       leftLines,
		RightLines:      rightLines,
		Differences:     differences,
		HasDifferences:  len(differences) > 0,
		DifferenceCount: len(differences),
	}, nil
}

// BuildJSON parses both documents and compares them.
func (d *Differ) BuildJSON(left, right []byte) (*Result, error) {
	l, err := jsonvalue.Parse(left)
	if err != nil {
		return nil, err
	}
	r, err := jsonvalue.Parse(right)
	if err != nil {
		return nil, err
	}
	return d.Build(l, r)
}
