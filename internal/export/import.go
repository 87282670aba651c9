package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dshills/respdiff/internal/domain"
	"github.com/dshills/respdiff/internal/repository"
	"github.com/dshills/respdiff/internal/validator"
)

// ImportSummary counts what an import wrote.
type ImportSummary struct {
	Progress int `json:"progress"`
	Sessions int `json:"sessions"`
}

// ValidationError reports an import document rejected by the export schema.
type ValidationError struct {
	Result validator.ValidationResult
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s", domain.ErrValidationFailed, e.Result.Error())
}

func (e *ValidationError) Unwrap() error {
	return domain.ErrValidationFailed
}

// importProgress is lenient about null fields and timestamp formats so that
// older exports still load.
type importProgress struct {
	Flag          *string         `json:"flag"`
	Comment       *string         `json:"comment"`
	Resolved      *bool           `json:"resolved"`
	ResolvedDiffs json.RawMessage `json:"resolved_diffs"`
	LastUpdated   *string         `json:"last_updated"`
}

func (p importProgress) update() domain.ProgressUpdate {
	return domain.ProgressUpdate{
		Flag:          p.Flag,
		Comment:       p.Comment,
		Resolved:      p.Resolved,
		ResolvedDiffs: objectOrNil(p.ResolvedDiffs),
	}
}

func (p importProgress) progress() *domain.Progress {
	out := domain.EmptyProgress()
	out.Flag = p.Flag
	if p.Comment != nil {
		out.Comment = *p.Comment
	}
	if p.Resolved != nil {
		out.Resolved = *p.Resolved
	}
	if diffs := objectOrNil(p.ResolvedDiffs); diffs != nil {
		out.ResolvedDiffs = diffs
	}
	if p.LastUpdated != nil {
		if t, ok := parseTimestamp(*p.LastUpdated); ok {
			out.LastUpdated = &t
		}
	}
	return out
}

type importSession struct {
	ProgressData map[string]importProgress `json:"progress_data"`
	Stats        *domain.Stats             `json:"stats"`
	CreatedAt    *string                   `json:"created_at"`
}

type importDocument struct {
	Progress map[string]importProgress `json:"progress"`
	Sessions map[string]importSession  `json:"sessions"`
}

// Import validates data against the export schema and applies its progress
// and sessions to repo in a single transaction. Progress entries merge into
// existing records; sessions replace those with the same name.
func Import(ctx context.Context, repo repository.Repository, v *validator.Validator, data []byte) (*ImportSummary, error) {
	if result := v.ValidateExport(data); !result.Valid {
		return nil, &ValidationError{Result: result}
	}

	var doc importDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedInput, err)
	}

	summary := &ImportSummary{}
	err := repo.WithTx(ctx, func(tx repository.Repository) error {
		for _, key := range sortedKeys(doc.Progress) {
			if err := tx.SaveProgress(ctx, key, doc.Progress[key].update()); err != nil {
				return err
			}
			summary.Progress++
		}

		for _, name := range sortedKeys(doc.Sessions) {
			s := doc.Sessions[name]
			session := &domain.Session{
				Name:         name,
				ProgressData: make(map[string]*domain.Progress, len(s.ProgressData)),
				Stats:        s.Stats,
			}
			for key, p := range s.ProgressData {
				session.ProgressData[key] = p.progress()
			}
			if s.CreatedAt != nil {
				if t, ok := parseTimestamp(*s.CreatedAt); ok {
					session.CreatedAt = t
				}
			}
			if err := tx.SaveSession(ctx, session); err != nil {
				return err
			}
			summary.Sessions++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("import: %w", err)
	}
	return summary, nil
}

// objectOrNil drops absent and null values.
func objectOrNil(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return raw
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// parseTimestamp accepts RFC 3339 and the zone-less forms written by
// earlier versions of the tool, which are taken as UTC.
func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
