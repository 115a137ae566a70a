package extract

import (
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"

	"github.com/hyperifyio/goquiz/internal/fault"
)

// Extractor converts raw HTML into a Document. pageURL is only a hint for
// strategies that resolve relative links; it may be empty.
type Extractor interface {
	Extract(raw string, pageURL string) (Document, error)
}

const (
	ModeSelector    = "selector"
	ModeReadability = "readability"
)

// New returns the extractor for mode. Unknown modes get the selector
// sanitizer.
func New(mode string, maxChars int) Extractor {
	if strings.EqualFold(strings.TrimSpace(mode), ModeReadability) {
		return ReadabilityExtractor{MaxChars: maxChars}
	}
	return Sanitizer{MaxChars: maxChars}
}

// ReadabilityExtractor scores the page for its main article before
// flattening it. Title fallback, whitespace handling and the length bound
// match Sanitizer.
type ReadabilityExtractor struct {
	MaxChars int
}

func (r ReadabilityExtractor) Extract(raw string, pageURL string) (Document, error) {
	base, _ := url.Parse(pageURL)
	if base == nil {
		base = &url.URL{}
	}
	article, err := readability.FromReader(strings.NewReader(raw), base)
	if err != nil {
		// Readability gives up on pages without an article body; the
		// selector sanitizer still has a chance at those.
		return Sanitizer{MaxChars: r.MaxChars}.Sanitize(raw)
	}
	s := Sanitizer{MaxChars: r.MaxChars}
	content := truncateRunes(collapseWhitespace(article.TextContent), s.maxChars())
	if content == "" {
		return Document{}, fault.New(fault.NoContent, nil)
	}
	title := article.Title
	if strings.TrimSpace(title) == "" {
		// Fall back to the selector rules for the title only.
		if doc, err := s.Sanitize(raw); err == nil {
			title = doc.Title
		}
	}
	return Document{Title: resolveTitle(title), Content: content}, nil
}
