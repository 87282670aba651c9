// Package terminal prints comparison results for the command line.
package terminal

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/dshills/respdiff/internal/diff"
)

// Options controls what Render prints.
type Options struct {
	// ShowLines includes line records after the structural ones.
	ShowLines bool
	// NoColor disables ANSI styling regardless of the terminal.
	NoColor bool
}

type kindStyle struct {
	marker string
	style  lipgloss.Style
}

type styles struct {
	header lipgloss.Style
	path   lipgloss.Style
	dim    lipgloss.Style
	kinds  map[diff.Kind]kindStyle
}

func newStyles(r *lipgloss.Renderer) styles {
	color := func(c string) lipgloss.Style {
		return r.NewStyle().Foreground(lipgloss.Color(c))
	}
	return styles{
		header: r.NewStyle().Bold(true),
		path:   r.NewStyle().Bold(true),
		dim:    r.NewStyle().Faint(true),
		kinds: map[diff.Kind]kindStyle{
			diff.KindTypeChange:   {"!", color("#c678dd")},
			diff.KindMissingLeft:  {"+", color("#98c379")},
			diff.KindMissingRight: {"-", color("#e06c75")},
			diff.KindValueChange:  {"~", color("#e5c07b")},
			diff.KindLineChange:   {"#", color("#61afef")},
		},
	}
}

// Render writes a report of res to w: a summary line followed by one line
// per record.
func Render(w io.Writer, res *diff.Result, opts Options) error {
	r := lipgloss.NewRenderer(w)
	if opts.NoColor {
		r.SetColorProfile(termenv.Ascii)
	}
	return render(w, newStyles(r), res, opts)
}

func render(w io.Writer, st styles, res *diff.Result, opts Options) error {
	var b strings.Builder

	if !res.HasDifferences {
		b.WriteString(st.header.Render("No differences"))
		b.WriteByte('\n')
		_, err := io.WriteString(w, b.String())
		return err
	}

	s := res.Summary()
	b.WriteString(st.header.Render(fmt.Sprintf("%d differences", s.Total)))
	fmt.Fprintf(&b, ": %d type, %d missing left, %d missing right, %d value, %d line\n",
		s.TypeChanges, s.MissingLeft, s.MissingRight, s.ValueChanges, s.LineChanges)

	width := 0
	for _, rec := range res.Differences {
		if rec.Kind == diff.KindLineChange && !opts.ShowLines {
			continue
		}
		width = max(width, len(displayPath(rec.Path)))
	}

	hidden := 0
	for _, rec := range res.Differences {
		if rec.Kind == diff.KindLineChange && !opts.ShowLines {
			hidden++
			continue
		}
		ks := st.kinds[rec.Kind]
		b.WriteString("  ")
		b.WriteString(ks.style.Render(ks.marker))
		b.WriteByte(' ')
		b.WriteString(st.path.Render(fmt.Sprintf("%-*s", width, displayPath(rec.Path))))
		b.WriteString("  ")
		b.WriteString(describe(st, rec))
		b.WriteByte('\n')
	}

	if hidden > 0 {
		b.WriteString(st.dim.Render(fmt.Sprintf("  (%d line differences not shown)", hidden)))
		b.WriteByte('\n')
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func describe(st styles, rec diff.Record) string {
	switch rec.Kind {
	case diff.KindMissingLeft:
		return "only right: " + rec.Right
	case diff.KindMissingRight:
		return "only left: " + rec.Left
	case diff.KindLineChange:
		return fmt.Sprintf("%s %s %s", lineText(rec.Left, rec.LineLeft), st.dim.Render("->"), lineText(rec.Right, rec.LineRight))
	default:
		return fmt.Sprintf("%s %s %s", rec.Left, st.dim.Render("->"), rec.Right)
	}
}

func displayPath(p string) string {
	if p == "" {
		return "(root)"
	}
	return p
}

// lineText marks the side a line record has no line on.
func lineText(s string, index *int) string {
	if index == nil {
		return "(none)"
	}
	return strings.TrimSpace(s)
}
