// Package export writes the review state (progress and sessions) to a
// portable JSON document and reads it back.
package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dshills/respdiff/internal/domain"
	"github.com/dshills/respdiff/internal/repository"
	"github.com/google/uuid"
)

// Filename returns the download name for an export taken at t.
func Filename(t time.Time) string {
	return "api_diff_export_" + t.Format("20060102_150405") + ".json"
}

// Build collects all progress and sessions from repo.
func Build(ctx context.Context, repo repository.Repository) (*domain.ExportDocument, error) {
	progress, err := repo.ListProgress(ctx)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}

	sessions, err := repo.ListSessionsFull(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	doc := &domain.ExportDocument{
		ID:         uuid.New(),
		Progress:   progress,
		Sessions:   make(map[string]domain.ExportedSession, len(sessions)),
		ExportedAt: time.Now().UTC(),
	}
	for _, s := range sessions {
		doc.Sessions[s.Name] = domain.ExportedSession{
			ProgressData: s.ProgressData,
			Stats:        s.Stats,
			CreatedAt:    s.CreatedAt,
		}
	}
	return doc, nil
}

// Write encodes doc as indented JSON. Non-ASCII and HTML characters are
// written literally.
func Write(doc *domain.ExportDocument, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	return nil
}

// WriteZip writes the export document together with a markdown review
// report to a zip archive.
func WriteZip(doc *domain.ExportDocument, w io.Writer) error {
	var data bytes.Buffer
	if err := Write(doc, &data); err != nil {
		return err
	}

	zw := zip.NewWriter(w)

	files := []struct {
		name string
		data []byte
	}{
		{Filename(doc.ExportedAt), data.Bytes()},
		{"REVIEW.md", renderReviewMarkdown(doc)},
	}

	for _, f := range files {
		fw, err := zw.Create(f.name)
		if err != nil {
			return fmt.Errorf("create %s: %w", f.name, err)
		}
		if _, err := fw.Write(f.data); err != nil {
			return fmt.Errorf("write %s: %w", f.name, err)
		}
	}

	return zw.Close()
}

func renderReviewMarkdown(doc *domain.ExportDocument) []byte {
	var buf bytes.Buffer
	buf.WriteString("# API Response Review\n\n")
	buf.WriteString(fmt.Sprintf("Exported: %s\n\n", doc.ExportedAt.UTC().Format(time.RFC3339)))

	resolved := 0
	for _, p := range doc.Progress {
		if p.Resolved {
			resolved++
		}
	}
	buf.WriteString(fmt.Sprintf("Reviewed files: %d (%d resolved)\n\n", len(doc.Progress), resolved))
	buf.WriteString("---\n\n")

	if len(doc.Progress) > 0 {
		buf.WriteString("## Progress\n\n")
		buf.WriteString("| File | Flag | Resolved | Comment |\n")
		buf.WriteString("|------|------|----------|---------|\n")
		for _, key := range sortedKeys(doc.Progress) {
			p := doc.Progress[key]
			flag := ""
			if p.Flag != nil {
				flag = *p.Flag
			}
			mark := ""
			if p.Resolved {
				mark = "yes"
			}
			buf.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
				cell(key), cell(flag), mark, cell(p.Comment)))
		}
		buf.WriteString("\n")
	}

	if len(doc.Sessions) > 0 {
		buf.WriteString("## Sessions\n\n")
		for _, name := range sortedKeys(doc.Sessions) {
			s := doc.Sessions[name]
			buf.WriteString(fmt.Sprintf("- **%s** (%s): %d files",
				name, s.CreatedAt.UTC().Format(time.RFC3339), len(s.ProgressData)))
			if s.Stats != nil {
				buf.WriteString(fmt.Sprintf(", %d/%d ready", s.Stats.ReadyFiles, s.Stats.TotalFiles))
			}
			buf.WriteString("\n")
		}
	}

	return buf.Bytes()
}

// cell escapes a value for a markdown table cell.
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
