package extractor

import (
	"bytes"
	"fmt"
	"math"

	"github.com/ledongthuc/pdf"
)

// Letter-size fallback for pages without a readable MediaBox.
const (
	defaultPageWidth  = 612.0
	defaultPageHeight = 792.0
)

// Box is a page box in PDF user space (bottom-left origin).
type Box struct {
	X0, Y0, X1, Y1 float64
}

func (b Box) Width() float64  { return b.X1 - b.X0 }
func (b Box) Height() float64 { return b.Y1 - b.Y0 }

// Document is a parsed, read-only view of a PDF.
type Document struct {
	reader *pdf.Reader
}

// Open parses data as a PDF. The reader panics on some malformed inputs; those
// panics are reported as errors.
func Open(data []byte) (doc *Document, err error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("document is empty")
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		return nil, fmt.Errorf("document does not start with a %%PDF header")
	}

	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = fmt.Errorf("malformed PDF: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	if reader.NumPage() == 0 {
		return nil, fmt.Errorf("PDF contains no pages")
	}

	return &Document{reader: reader}, nil
}

// NumPages returns the number of pages.
func (d *Document) NumPages() int {
	return d.reader.NumPage()
}

// PageBox returns the MediaBox of a 1-based page, following inheritance
// through the page tree.
func (d *Document) PageBox(pageNumber int) (box Box, err error) {
	if pageNumber < 1 || pageNumber > d.NumPages() {
		return Box{}, fmt.Errorf("page %d out of range (1-%d)", pageNumber, d.NumPages())
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed page %d: %v", pageNumber, r)
		}
	}()

	v := d.reader.Page(pageNumber).V
	for depth := 0; depth < 32 && v.Kind() == pdf.Dict; depth++ {
		mb := v.Key("MediaBox")
		if mb.Kind() == pdf.Array && mb.Len() == 4 {
			x0, y0 := mb.Index(0).Float64(), mb.Index(1).Float64()
			x1, y1 := mb.Index(2).Float64(), mb.Index(3).Float64()
			box = Box{
				X0: math.Min(x0, x1), Y0: math.Min(y0, y1),
				X1: math.Max(x0, x1), Y1: math.Max(y0, y1),
			}
			if box.Width() > 0 && box.Height() > 0 {
				return box, nil
			}
		}
		v = v.Key("Parent")
	}

	return Box{X1: defaultPageWidth, Y1: defaultPageHeight}, nil
}

// glyphs returns the positioned glyphs the reader reports for a page.
func (d *Document) glyphs(pageNumber int) (texts []pdf.Text, err error) {
	defer func() {
		if r := recover(); r != nil {
			texts = nil
			err = fmt.Errorf("malformed content stream on page %d: %v", pageNumber, r)
		}
	}()

	page := d.reader.Page(pageNumber)
	if page.V.IsNull() {
		return nil, fmt.Errorf("page %d not found", pageNumber)
	}
	return page.Content().Text, nil
}
