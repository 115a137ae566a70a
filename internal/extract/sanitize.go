package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/hyperifyio/goquiz/internal/fault"
)

// DefaultMaxChars bounds the extracted content for every tier.
const DefaultMaxChars = 4000

// UntitledTitle is used when a page has neither <title> nor <h1> text.
const UntitledTitle = "Untitled"

// Document is the plain-text view of a page.
type Document struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// removedSelectors lists elements dropped before text extraction: structural
// chrome plus common ad/sidebar/menu class names.
var removedSelectors = []string{
	"script",
	"style",
	"noscript",
	"nav",
	"header",
	"footer",
	"aside",
	".advertisement",
	".ads",
	".ad",
	".banner",
	".sidebar",
	".navigation",
	".menu",
	".footer",
	".header",
}

var removedMatcher = cascadia.MustCompile(strings.Join(removedSelectors, ", "))

// Sanitizer strips non-content markup and returns bounded plain text.
type Sanitizer struct {
	// MaxChars caps Content in runes. Zero means DefaultMaxChars.
	MaxChars int
}

// Extract implements Extractor.
func (s Sanitizer) Extract(raw string, _ string) (Document, error) {
	return s.Sanitize(raw)
}

// Sanitize parses raw markup and returns its title and collapsed body text.
// It fails with fault.NoContent when no text remains.
func (s Sanitizer) Sanitize(raw string) (Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return Document{}, fault.New(fault.NoContent, err)
	}

	// Title is resolved before removal so an <h1> inside <header> still counts.
	title := resolveTitle(
		doc.Find("title").First().Text(),
		doc.Find("h1").First().Text(),
	)

	doc.FindMatcher(removedMatcher).Remove()

	content := truncateRunes(collapseWhitespace(doc.Find("body").Text()), s.maxChars())
	if content == "" {
		return Document{}, fault.New(fault.NoContent, nil)
	}
	return Document{Title: title, Content: content}, nil
}

func (s Sanitizer) maxChars() int {
	if s.MaxChars <= 0 {
		return DefaultMaxChars
	}
	return s.MaxChars
}

func resolveTitle(candidates ...string) string {
	for _, c := range candidates {
		if t := strings.TrimSpace(c); t != "" {
			return t
		}
	}
	return UntitledTitle
}

// collapseWhitespace turns every run of Unicode whitespace into one space and
// trims both ends.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
