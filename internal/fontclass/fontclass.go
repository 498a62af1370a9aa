// Package fontclass maps opaque PDF font identifiers to a coarse
// category/weight/style description and a standard-font handle that both the
// overlay renderer and the exporter can use.
package fontclass

import (
	"regexp"
	"strings"
	"sync"
	"unicode"
)

type Category string

const (
	Serif     Category = "serif"
	SansSerif Category = "sans-serif"
	Monospace Category = "monospace"
)

type Weight string

const (
	WeightNormal Weight = "normal"
	WeightBold   Weight = "bold"
	WeightLight  Weight = "light"
)

type Style string

const (
	StyleNormal Style = "normal"
	StyleItalic Style = "italic"
)

// Font is the classification of one font identifier.
type Font struct {
	Category Category `json:"category"`
	Weight   Weight   `json:"weight"`
	Style    Style    `json:"style"`
}

// Handle identifies the closest standard font for a classification.
type Handle struct {
	Family         string `json:"family"`          // Times, Helvetica, Courier
	Style          string `json:"style"`           // "", B, I, BI
	PostScriptName string `json:"postscript_name"` // e.g. Times-BoldItalic
	CSSStack       string `json:"css_stack"`
}

// Checked in order; the first list with a hit decides the category.
var (
	monospaceKeywords = []string{
		"mono", "courier", "consola", "menlo", "inconsolata", "fixed", "typewriter",
		"source code", "sourcecode", "lucida console", "lucidaconsole", "andale",
	}
	sansKeywords = []string{
		"sans", "arial", "helvetica", "calibri", "verdana", "tahoma", "segoe", "roboto",
		"opensans", "open sans", "lato", "montserrat", "inter", "gill", "futura", "franklin",
		"trebuchet", "avenir", "ubuntu", "nunito", "poppins", "raleway", "carlito", "candara",
		"corbel", "century gothic", "centurygothic", "myriad", "frutiger", "univers", "geneva",
	}
	serifKeywords = []string{
		"serif", "times", "georgia", "garamond", "cambria", "palatino", "book antiqua",
		"bookantiqua", "baskerville", "didot", "bodoni", "minion", "caslon", "merriweather",
		"playfair", "charter", "constantia", "roman", "century", "tinos", "lora", "crimson",
	}
	// Weight and style keywords match whole name tokens, not substrings.
	boldKeywords   = []string{"bold", "black", "heavy", "semibold", "demibold", "demi", "extrabold", "ultrabold"}
	lightKeywords  = []string{"light", "thin", "hairline", "extralight", "ultralight"}
	italicKeywords = []string{"italic", "oblique", "ital", "it", "slanted"}

	subsetPrefix = regexp.MustCompile(`^[A-Z]{6}\+`)
	// Auto-generated resource or loader names carry no family information.
	genericIdentifier = regexp.MustCompile(`^(g_d\d+_f\d+|f\d+(_\d+)?|t\d+(_\d+)?|tt\d+(_\d+)?|c\d+_\d+|r\d+|font\d*|[a-z]{6}\+.*)$`)
)

// Classifier memoizes classifications for the lifetime of one editing
// session. It is safe for concurrent use.
type Classifier struct {
	mu    sync.RWMutex
	cache map[string]Font
}

// NewClassifier returns an empty classifier.
func NewClassifier() *Classifier {
	return &Classifier{cache: make(map[string]Font)}
}

// Classify maps a font identifier to its classification. Unknown input falls
// back to sans-serif normal.
func (c *Classifier) Classify(fontID string) Font {
	c.mu.RLock()
	f, ok := c.cache[fontID]
	c.mu.RUnlock()
	if ok {
		return f
	}

	f = classify(fontID)

	c.mu.Lock()
	c.cache[fontID] = f
	c.mu.Unlock()
	return f
}

// Len reports how many identifiers are cached.
func (c *Classifier) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// Reset drops all cached classifications.
func (c *Classifier) Reset() {
	c.mu.Lock()
	c.cache = make(map[string]Font)
	c.mu.Unlock()
}

func classify(fontID string) Font {
	name := strings.ToLower(strings.TrimSpace(fontID))
	bare := subsetPrefix.ReplaceAllString(strings.TrimSpace(fontID), "")
	words := tokens(bare)

	return Font{
		Category: category(name, strings.ToLower(bare)),
		Weight:   weight(words),
		Style:    style(words),
	}
}

func category(name, stripped string) Category {
	switch {
	case containsAny(stripped, monospaceKeywords):
		return Monospace
	case containsAny(stripped, sansKeywords):
		return SansSerif
	case containsAny(stripped, serifKeywords):
		return Serif
	case genericIdentifier.MatchString(name), genericIdentifier.MatchString(stripped):
		return Serif
	default:
		return SansSerif
	}
}

func weight(words []string) Weight {
	switch {
	case hasToken(words, boldKeywords):
		return WeightBold
	case hasToken(words, lightKeywords):
		return WeightLight
	default:
		return WeightNormal
	}
}

func style(words []string) Style {
	if hasToken(words, italicKeywords) {
		return StyleItalic
	}
	return StyleNormal
}

// tokens splits a font name on punctuation, case changes and digit runs:
// "OpenSans-SemiBoldItalic" -> open, sans, semi, bold, italic.
func tokens(name string) []string {
	var out []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			out = append(out, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}

	rs := []rune(name)
	for i, r := range rs {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if len(cur) > 0 {
			prev := rs[i-1]
			switch {
			case unicode.IsUpper(r) && unicode.IsLower(prev):
				flush()
			case unicode.IsUpper(r) && unicode.IsUpper(prev) && i+1 < len(rs) && unicode.IsLower(rs[i+1]):
				flush()
			case unicode.IsDigit(r) != unicode.IsDigit(prev):
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return out
}

func hasToken(words, keywords []string) bool {
	for _, w := range words {
		for _, k := range keywords {
			if w == k {
				return true
			}
		}
	}
	return false
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// Handle maps the classification onto the standard fonts. Light weights have
// no standard face and render as normal.
func (f Font) Handle() Handle {
	var h Handle
	switch f.Category {
	case Serif:
		h.Family = "Times"
		h.CSSStack = `Georgia, "Times New Roman", Times, serif`
	case Monospace:
		h.Family = "Courier"
		h.CSSStack = `"Courier New", Courier, monospace`
	default:
		h.Family = "Helvetica"
		h.CSSStack = `Helvetica, Arial, sans-serif`
	}

	bold := f.Weight == WeightBold
	italic := f.Style == StyleItalic
	if bold {
		h.Style += "B"
	}
	if italic {
		h.Style += "I"
	}
	h.PostScriptName = postScriptName(h.Family, bold, italic)
	return h
}

func postScriptName(family string, bold, italic bool) string {
	if family == "Times" {
		switch {
		case bold && italic:
			return "Times-BoldItalic"
		case bold:
			return "Times-Bold"
		case italic:
			return "Times-Italic"
		default:
			return "Times-Roman"
		}
	}

	suffix := ""
	if bold {
		suffix += "Bold"
	}
	if italic {
		suffix += "Oblique"
	}
	if suffix == "" {
		return family
	}
	return family + "-" + suffix
}
