// Package pdftest builds small PDFs for tests.
package pdftest

import (
	"bytes"
	"testing"

	"codeberg.org/go-pdf/fpdf"
	"github.com/stretchr/testify/require"
)

// Text is one string drawn with a standard font. X and Baseline are in points
// from the top-left corner of the page.
type Text struct {
	X, Baseline float64
	Value       string
	Family      string // Helvetica when empty
	Style       string
	Size        float64 // 12 when zero
}

// Page is one page of a generated document.
type Page struct {
	Width, Height float64 // US Letter when zero
	Texts         []Text
}

// Build renders pages into an uncompressed PDF.
func Build(tb testing.TB, pages ...Page) []byte {
	tb.Helper()

	pdf := fpdf.New("P", "pt", "", "")
	pdf.SetCompression(false)
	pdf.SetAutoPageBreak(false, 0)

	for _, p := range pages {
		w, h := p.Width, p.Height
		if w == 0 || h == 0 {
			w, h = 612, 792
		}
		pdf.AddPageFormat("P", fpdf.SizeType{Wd: w, Ht: h})

		for _, t := range p.Texts {
			family, size := t.Family, t.Size
			if family == "" {
				family = "Helvetica"
			}
			if size == 0 {
				size = 12
			}
			pdf.SetFont(family, t.Style, size)
			pdf.Text(t.X, t.Baseline, t.Value)
		}
	}

	var buf bytes.Buffer
	require.NoError(tb, pdf.Output(&buf))
	return buf.Bytes()
}

// Resume is a one-page document with a few sections.
func Resume(tb testing.TB) []byte {
	tb.Helper()
	return Build(tb, Page{Texts: []Text{
		{X: 72, Baseline: 72, Value: "Jane Doe", Style: "B", Size: 18},
		{X: 72, Baseline: 96, Value: "jane@example.com", Size: 10},
		{X: 72, Baseline: 140, Value: "Experience", Style: "B", Size: 14},
		{X: 72, Baseline: 160, Value: "Senior Engineer", Size: 11},
		{X: 72, Baseline: 176, Value: "- Built the billing pipeline", Size: 11},
		{X: 72, Baseline: 220, Value: "Education", Style: "B", Size: 14},
		{X: 72, Baseline: 240, Value: "BSc Computer Science 2015", Size: 11},
		{X: 72, Baseline: 284, Value: "Skills", Style: "B", Size: 14},
		{X: 72, Baseline: 304, Value: "Go and distributed systems", Family: "Times", Size: 11},
	}})
}
