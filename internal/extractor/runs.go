package extractor

import (
	"math"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
)

// Glyph grouping thresholds, in ems of the current run's font size.
const (
	baselineTolerance = 0.2
	spaceGap          = 0.3
	breakGap          = 2.0
	overlapTolerance  = 0.5
)

// run is a horizontally contiguous sequence of glyphs sharing font, size and
// baseline, in PDF user space.
type run struct {
	font     string
	size     float64
	x        float64
	baseline float64
	endX     float64
	text     strings.Builder
}

// groupRuns folds the per-glyph output of the reader into text runs, in
// content-stream order.
func groupRuns(glyphs []pdf.Text) []*run {
	var (
		runs []*run
		cur  *run
	)

	for _, g := range glyphs {
		if g.S == "" {
			continue
		}
		size := math.Abs(g.FontSize)

		if cur != nil && cur.accepts(g, size) {
			gap := g.X - cur.endX
			if gap > cur.size*spaceGap && !cur.endsWithSpace() && !isBlank(g.S) {
				cur.text.WriteByte(' ')
			}
			cur.text.WriteString(g.S)
			cur.endX = math.Max(cur.endX, g.X+g.W)
			continue
		}

		if isBlank(g.S) {
			// Leading whitespace never starts a run.
			if cur != nil {
				runs = append(runs, cur)
				cur = nil
			}
			continue
		}

		if cur != nil {
			runs = append(runs, cur)
		}
		cur = &run{font: g.Font, size: size, x: g.X, baseline: g.Y, endX: g.X + g.W}
		cur.text.WriteString(g.S)
	}

	if cur != nil {
		runs = append(runs, cur)
	}
	return runs
}

func (r *run) accepts(g pdf.Text, size float64) bool {
	if g.Font != r.font || math.Abs(size-r.size) > 0.01 {
		return false
	}
	if math.Abs(g.Y-r.baseline) > r.size*baselineTolerance {
		return false
	}
	gap := g.X - r.endX
	return gap >= -r.size*overlapTolerance && gap <= r.size*breakGap
}

func (r *run) endsWithSpace() bool {
	s := r.text.String()
	return s != "" && unicode.IsSpace(rune(s[len(s)-1]))
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// matrix is a PDF affine transform [a b c d e f].
type matrix [6]float64

// multiply returns m × n in the PDF row-vector convention: m is applied first.
func (m matrix) multiply(n matrix) matrix {
	return matrix{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

// viewportTransform maps PDF user space to a top-left-origin pixel space at
// the given scale.
func viewportTransform(box Box, scale float64) matrix {
	return matrix{scale, 0, 0, -scale, -box.X0 * scale, box.Y1 * scale}
}

// placement is a run positioned in viewport pixels.
type placement struct {
	x, y, width, height, fontSize float64
}

func (r *run) place(viewport matrix, scale float64) placement {
	tm := matrix{r.size, 0, 0, r.size, r.x, r.baseline}
	m := tm.multiply(viewport)

	fontSize := math.Hypot(m[0], m[1])
	return placement{
		x:        m[4],
		y:        m[5] - fontSize,
		width:    (r.endX - r.x) * scale,
		height:   fontSize,
		fontSize: fontSize,
	}
}
