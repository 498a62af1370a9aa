/**
 * Recomposition of edited blocks into a new PDF
 *
 * Every page of the original is imported as a template. For each dirty
 * block an opaque cover is painted over the original glyphs and the
 * replacement text is drawn on top in the closest standard font at the
 * original size. Untouched pages are imported as-is.
 */

package export

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strings"

	"codeberg.org/go-pdf/fpdf"
	"codeberg.org/go-pdf/fpdf/contrib/gofpdi"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	overlayerrors "github.com/adverant/nexus/overlay-editor/internal/errors"
	"github.com/adverant/nexus/overlay-editor/internal/extractor"
	"github.com/adverant/nexus/overlay-editor/internal/fontclass"
	"github.com/adverant/nexus/overlay-editor/internal/logging"
	"github.com/adverant/nexus/overlay-editor/internal/model"
)

// LineHeight is the multiplier applied to the font size between lines of
// replacement text.
const LineHeight = 1.2

const fallbackFontSize = 12.0

// BlockState is what the exporter needs to know about a block's edit.
type BlockState struct {
	Text  string `json:"text"`
	Dirty bool   `json:"dirty"`
}

// Recomposer produces edited PDFs.
type Recomposer struct {
	classifier *fontclass.Classifier
	logger     *logging.Logger
}

// NewRecomposer creates a recomposer. classifier may be shared with the
// overlay session so both sides agree on fonts.
func NewRecomposer(classifier *fontclass.Classifier) *Recomposer {
	if classifier == nil {
		classifier = fontclass.NewClassifier()
	}
	return &Recomposer{
		classifier: classifier,
		logger:     logging.NewLogger("Recomposer"),
	}
}

// CoverRect returns the rectangle painted over a block in PDF user space
// (bottom-left origin), given the replacement's rendered size.
func CoverRect(block model.TextBlock, pageHeight, textWidth, textHeight float64) model.Rect {
	w := math.Max(block.Width, textWidth)
	h := math.Max(block.Height, textHeight)
	return model.Rect{
		X:      block.X,
		Y:      pageHeight - block.Y - h,
		Width:  w,
		Height: h,
	}
}

// Export returns a PDF with every dirty block's replacement drawn in. With no
// dirty blocks the original bytes are returned unchanged.
func (r *Recomposer) Export(original []byte, blocks []model.TextBlock, states map[string]BlockState) (out []byte, err error) {
	byPage := make(map[int][]model.TextBlock)
	dirty := 0
	for _, b := range blocks {
		if st, ok := states[b.ID]; ok && st.Dirty {
			byPage[b.Page] = append(byPage[b.Page], b)
			dirty++
		}
	}
	if dirty == 0 {
		return original, nil
	}

	doc, err := extractor.Open(original)
	if err != nil {
		return nil, overlayerrors.NewExportFailedError("", err)
	}

	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = overlayerrors.NewExportFailedError("", fmt.Errorf("recomposition panicked: %v", rec))
		}
	}()

	pdf := fpdf.New("P", "pt", "", "")
	pdf.SetAutoPageBreak(false, 0)
	importer := gofpdi.NewImporter()
	rs := io.ReadSeeker(bytes.NewReader(original))
	encoder := encoding.ReplaceUnsupported(charmap.Windows1252.NewEncoder())

	for pageNumber := 1; pageNumber <= doc.NumPages(); pageNumber++ {
		box, err := doc.PageBox(pageNumber)
		if err != nil {
			return nil, overlayerrors.NewExportFailedError("", err)
		}
		w, h := box.Width(), box.Height()

		pdf.AddPageFormat("P", fpdf.SizeType{Wd: w, Ht: h})
		tpl := importer.ImportPageFromStream(pdf, &rs, pageNumber, "/MediaBox")
		importer.UseImportedTemplate(pdf, tpl, 0, 0, w, h)

		for _, b := range byPage[pageNumber-1] {
			if err := r.drawBlock(pdf, encoder, b, states[b.ID].Text, h); err != nil {
				return nil, overlayerrors.NewExportFailedError("", err)
			}
		}
	}

	if err := pdf.Error(); err != nil {
		return nil, overlayerrors.NewExportFailedError("", err)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, overlayerrors.NewExportFailedError("", err)
	}

	r.logger.Info("Document recomposed",
		"pages", doc.NumPages(),
		"dirty_blocks", dirty,
		"size_bytes", buf.Len())

	return buf.Bytes(), nil
}

func (r *Recomposer) drawBlock(pdf *fpdf.Fpdf, encoder *encoding.Encoder, b model.TextBlock, text string, pageHeight float64) error {
	size := b.FontSize
	if size <= 0 {
		size = b.Height
	}
	if size <= 0 {
		size = fallbackFontSize
	}

	handle := r.classifier.Classify(b.FontName).Handle()
	pdf.SetFont(handle.Family, handle.Style, size)

	if lost := unencodable(text); len(lost) > 0 {
		r.logger.Warn("Replacing characters the standard fonts cannot show",
			"block_id", b.ID,
			"characters", string(lost))
	}

	lines := splitLines(text)
	encoded := make([]string, len(lines))
	widest := 0.0
	for i, line := range lines {
		s, err := encoder.String(line)
		if err != nil {
			return fmt.Errorf("failed to encode text for %s: %w", b.ID, err)
		}
		encoded[i] = s
		widest = math.Max(widest, pdf.GetStringWidth(s))
	}

	step := size * LineHeight
	cover := CoverRect(b, pageHeight, widest, float64(len(lines))*step)
	top := pageHeight - cover.Y - cover.Height

	pdf.SetFillColor(255, 255, 255)
	pdf.Rect(cover.X, top, cover.Width, cover.Height, "F")

	pdf.SetTextColor(0, 0, 0)
	for i, s := range encoded {
		if s == "" {
			continue
		}
		pdf.Text(b.X, b.Y+size+float64(i)*step, s)
	}

	return nil
}

// unencodable returns the runes of text outside Windows-1252. They are drawn
// as "?".
func unencodable(text string) []rune {
	var out []rune
	for _, c := range text {
		if c == '\n' || c == '\r' {
			continue
		}
		if _, ok := charmap.Windows1252.EncodeRune(c); !ok {
			out = append(out, c)
		}
	}
	return out
}

func splitLines(text string) []string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], "\r")
	}
	return lines
}
