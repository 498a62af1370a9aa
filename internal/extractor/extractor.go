/**
 * Positioned text extraction
 *
 * Reads one page (or a whole document) and returns text blocks in
 * pre-scale page space with a top-left origin. Block ids are derived from
 * the requested page number and the block's position in extraction order,
 * so repeated extraction of the same page yields the same ids.
 */

package extractor

import (
	"context"
	"math"
	"regexp"
	"strings"

	overlayerrors "github.com/adverant/nexus/overlay-editor/internal/errors"
	"github.com/adverant/nexus/overlay-editor/internal/logging"
	"github.com/adverant/nexus/overlay-editor/internal/model"
)

type sectionTrigger struct {
	section string
	pattern *regexp.Regexp
}

// Section triggers, checked in order. The first hit becomes the current
// section for the fragments that follow.
var sectionTriggers = []sectionTrigger{
	{"experience", regexp.MustCompile(`\b(experience|work)`)},
	{"education", regexp.MustCompile(`\beducation`)},
	{"skills", regexp.MustCompile(`\bskill`)},
	{"projects", regexp.MustCompile(`\bproject`)},
	{"summary", regexp.MustCompile(`\b(summary|objective)`)},
	{"certifications", regexp.MustCompile(`\bcertific`)},
}

// Headings recognised when classifying block types.
var headingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(experience|work\s*history|employment|professional\s*experience)\b`),
	regexp.MustCompile(`\b(education|academic|qualifications|degrees?)\b`),
	regexp.MustCompile(`\b(skills|technical\s*skills|competencies|technologies)\b`),
	regexp.MustCompile(`\b(projects|portfolio|personal\s*projects)\b`),
	regexp.MustCompile(`\b(certifications?|certificates?|licenses?)\b`),
	regexp.MustCompile(`\b(summary|objective|profile|about\s*me)\b`),
	regexp.MustCompile(`\b(contact|email|phone|address)\b`),
}

var (
	emailPattern = regexp.MustCompile(`[\w.-]+@[\w.-]+\.\w+`)
	phonePattern = regexp.MustCompile(`\+?[\d\s\-()]{10,}`)
	urlPattern   = regexp.MustCompile(`https?://|www\.|linkedin\.com|github\.com`)
	datePattern  = regexp.MustCompile(`\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec|present|\d{4})\b`)
)

var bulletPrefixes = []string{"-", "*", "•", "●", "◦"}

// Extractor turns document bytes into positioned text blocks.
type Extractor struct {
	logger *logging.Logger
}

// New creates an extractor
func New() *Extractor {
	return &Extractor{logger: logging.NewLogger("Extractor")}
}

// ExtractPage extracts the blocks of one 1-based page. scale only affects the
// reported Scale; block geometry is always pre-scale.
func (e *Extractor) ExtractPage(ctx context.Context, data []byte, pageNumber int, scale float64) (*model.PageResult, error) {
	if scale <= 0 {
		scale = 1
	}

	doc, err := Open(data)
	if err != nil {
		return nil, overlayerrors.NewExtractionFailedError("", pageNumber, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := e.extractPage(doc, pageNumber, scale)
	if err != nil {
		return nil, overlayerrors.NewExtractionFailedError("", pageNumber, err)
	}

	assignSections(result.Blocks, "")

	e.logger.Debug("Page extracted",
		"page", pageNumber,
		"scale", scale,
		"blocks", len(result.Blocks))

	return result, nil
}

// ExtractDocument extracts every page at scale 1. Sections carry across page
// boundaries.
func (e *Extractor) ExtractDocument(ctx context.Context, data []byte, filename string) (*model.Extraction, error) {
	doc, err := Open(data)
	if err != nil {
		return nil, overlayerrors.NewExtractionFailedError(filename, 0, err)
	}

	extraction := &model.Extraction{
		Metadata: model.ExtractionMetadata{
			TotalPages: doc.NumPages(),
			Filename:   filename,
		},
	}

	for pageNumber := 1; pageNumber <= doc.NumPages(); pageNumber++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := e.extractPage(doc, pageNumber, 1)
		if err != nil {
			return nil, overlayerrors.NewExtractionFailedError(filename, pageNumber, err)
		}

		extraction.Pages = append(extraction.Pages, model.NewPageInfo(pageNumber-1, page.PageWidth, page.PageHeight))
		extraction.Blocks = append(extraction.Blocks, page.Blocks...)
	}

	assignSections(extraction.Blocks, "")
	extraction.Sections = model.GroupSections(extraction.Blocks)

	e.logger.Info("Document extracted",
		"filename", filename,
		"pages", extraction.Metadata.TotalPages,
		"blocks", len(extraction.Blocks))

	return extraction, nil
}

func (e *Extractor) extractPage(doc *Document, pageNumber int, scale float64) (*model.PageResult, error) {
	box, err := doc.PageBox(pageNumber)
	if err != nil {
		return nil, err
	}
	glyphs, err := doc.glyphs(pageNumber)
	if err != nil {
		return nil, err
	}

	viewport := viewportTransform(box, scale)
	result := &model.PageResult{
		PageNumber: pageNumber,
		PageWidth:  round2(box.Width()),
		PageHeight: round2(box.Height()),
		Scale:      scale,
		Blocks:     []model.TextBlock{},
	}

	for _, r := range groupRuns(glyphs) {
		text := strings.TrimSpace(r.text.String())
		if text == "" {
			continue
		}

		p := r.place(viewport, scale)
		fontSize := round2(p.fontSize / scale)
		result.Blocks = append(result.Blocks, model.TextBlock{
			ID:        model.BlockID(pageNumber, len(result.Blocks)),
			Text:      text,
			Page:      pageNumber - 1,
			X:         round2(p.x / scale),
			Y:         round2(p.y / scale),
			Width:     round2(p.width / scale),
			Height:    round2(p.height / scale),
			FontSize:  fontSize,
			FontName:  r.font,
			BlockType: blockType(text, fontSize),
		})
	}

	return result, nil
}

// assignSections tags blocks in order with the most recent section trigger.
// Only short fragments and headings can switch the section. Returns the
// section in effect after the last block.
func assignSections(blocks []model.TextBlock, current string) string {
	for i := range blocks {
		b := &blocks[i]
		if b.BlockType == model.BlockHeader || len(strings.Fields(b.Text)) <= 4 {
			if s := sectionFor(b.Text); s != "" {
				current = s
			}
		}
		b.Section = current
	}
	return current
}

func sectionFor(text string) string {
	lower := strings.ToLower(text)
	for _, t := range sectionTriggers {
		if t.pattern.MatchString(lower) {
			return t.section
		}
	}
	return ""
}

func blockType(text string, fontSize float64) model.BlockType {
	lower := strings.ToLower(text)

	for _, p := range headingPatterns {
		if p.MatchString(lower) && (fontSize >= 12 || len(strings.Fields(text)) <= 4) {
			return model.BlockHeader
		}
	}

	trimmed := strings.TrimSpace(text)
	for _, prefix := range bulletPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return model.BlockBullet
		}
	}

	if emailPattern.MatchString(text) || phonePattern.MatchString(text) || urlPattern.MatchString(text) {
		return model.BlockContact
	}

	if datePattern.MatchString(lower) {
		return model.BlockDateEntry
	}

	return model.BlockParagraph
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
