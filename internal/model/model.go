// Package model holds the data shared by extraction, reconciliation, the
// overlay controller and the exporter.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// BlockType is the coarse role of a text block on the page.
type BlockType string

const (
	BlockHeader    BlockType = "header"
	BlockParagraph BlockType = "paragraph"
	BlockBullet    BlockType = "bullet"
	BlockContact   BlockType = "contact"
	BlockDateEntry BlockType = "date_entry"
)

// TextBlock is one positioned fragment of text on one page. Geometry is in
// pre-scale page space (points) with a top-left origin.
type TextBlock struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Page      int       `json:"page"` // 0-based
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Width     float64   `json:"width"`
	Height    float64   `json:"height"`
	FontSize  float64   `json:"font_size"`
	FontName  string    `json:"font_name"`
	BlockType BlockType `json:"block_type"`
	Section   string    `json:"section,omitempty"`
}

// BlockID builds the canonical block identity. pageNumber is 1-based, index is
// the fragment's position in extraction order.
func BlockID(pageNumber, index int) string {
	return fmt.Sprintf("block-%d-%d", pageNumber, index)
}

// Rect is an axis-aligned rectangle.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PageInfo describes the geometry of one page.
type PageInfo struct {
	PageNumber int     `json:"page_number"` // 0-based
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	WidthMM    float64 `json:"width_mm"`
	HeightMM   float64 `json:"height_mm"`
}

// NewPageInfo converts a page size in points.
func NewPageInfo(pageIndex int, width, height float64) PageInfo {
	return PageInfo{
		PageNumber: pageIndex,
		Width:      width,
		Height:     height,
		WidthMM:    width * 25.4 / 72,
		HeightMM:   height * 25.4 / 72,
	}
}

// PageResult is the output of extracting one page at one scale.
type PageResult struct {
	PageNumber int         `json:"page_number"` // 1-based, as requested
	Blocks     []TextBlock `json:"blocks"`
	PageWidth  float64     `json:"page_width"`
	PageHeight float64     `json:"page_height"`
	Scale      float64     `json:"scale"`
}

// Viewport returns where the overlay for b sits in the scaled rendering.
func (r *PageResult) Viewport(b TextBlock) Rect {
	s := r.Scale
	if s <= 0 {
		s = 1
	}
	return Rect{X: b.X * s, Y: b.Y * s, Width: b.Width * s, Height: b.Height * s}
}

// Extraction is a whole-document extraction, in the shape the block
// extraction service returns.
type Extraction struct {
	Pages    []PageInfo             `json:"pages"`
	Blocks   []TextBlock            `json:"blocks"`
	Sections map[string][]TextBlock `json:"sections"`
	Metadata ExtractionMetadata     `json:"metadata"`
}

// ExtractionMetadata summarises the extracted document.
type ExtractionMetadata struct {
	TotalPages int    `json:"total_pages"`
	Filename   string `json:"filename"`
}

// GroupSections buckets blocks by section, using "other" for untagged blocks.
func GroupSections(blocks []TextBlock) map[string][]TextBlock {
	sections := make(map[string][]TextBlock)
	for _, b := range blocks {
		key := b.Section
		if key == "" {
			key = "other"
		}
		sections[key] = append(sections[key], b)
	}
	return sections
}

// PageBlocks returns the blocks of a document extraction that belong to the
// given 1-based page.
func (e *Extraction) PageBlocks(pageNumber int) []TextBlock {
	var out []TextBlock
	for _, b := range e.Blocks {
		if b.Page == pageNumber-1 {
			out = append(out, b)
		}
	}
	return out
}

// Document is an immutable source document plus its identity. ID keys the
// edit stores; Digest tells apart two uploads that share an ID.
type Document struct {
	ID     string
	Name   string
	Data   []byte
	Digest string // hex sha256 of Data
}

// NewDocument names an uploaded document after its file name.
func NewDocument(name string, data []byte) *Document {
	return &Document{ID: name, Name: name, Data: data, Digest: digest(data)}
}

// Version returns the content digest, computing it when the document was
// built without one.
func (d *Document) Version() string {
	if d.Digest == "" {
		return digest(d.Data)
	}
	return d.Digest
}

// SameAs reports whether d and o are the same bytes under the same ID.
func (d *Document) SameAs(o *Document) bool {
	return o != nil && d.ID == o.ID && d.Version() == o.Version()
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// StoredEdit is the durable local record of edits for one document.
type StoredEdit struct {
	Edits        map[string]string `json:"edits"`
	Timestamp    int64             `json:"timestamp"` // unix milliseconds
	DocumentName string            `json:"documentName"`
	IsDirty      bool              `json:"isDirty"`
}

// RemoteEditSet is the remote store's accepted edits for one document.
type RemoteEditSet map[string]string
