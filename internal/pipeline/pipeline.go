// Package pipeline runs the tiered extraction: the first-party relay, then
// the public proxy chain. It is the only place that decides whether a tier's
// failure escalates.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/goquiz/internal/extract"
	"github.com/hyperifyio/goquiz/internal/fault"
	"github.com/hyperifyio/goquiz/internal/fetch"
)

// DefaultTimeout bounds a whole Extract call across all tiers.
const DefaultTimeout = 60 * time.Second

// Tier names used in logs.
const (
	TierValidate = "validate"
	TierRelay    = "relay"
	TierSanitize = "sanitize"
	TierProxy    = "proxy"
	TierDirect   = "direct"
)

// PageFetcher returns raw markup for a URL. fetch.Direct and fetch.Relay
// implement it.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (fetch.Page, error)
}

// CursorFetcher returns an already sanitized document and the cursor to use
// next. fetch.ProxyChain implements it.
type CursorFetcher interface {
	Fetch(ctx context.Context, rawURL string, cursor int) (extract.Document, int, error)
}

// Result is the outcome shown to the user. Success implies Title and a
// non-empty Content; failure carries only Error.
type Result struct {
	Success bool   `json:"success"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Succeeded builds a successful Result, or a NoContent failure when doc has
// no content.
func Succeeded(doc extract.Document) Result {
	if doc.Content == "" {
		return Failed(fault.New(fault.NoContent, nil))
	}
	title := doc.Title
	if title == "" {
		title = extract.UntitledTitle
	}
	return Result{Success: true, Title: title, Content: doc.Content}
}

// Failed builds a failure Result from err's user-facing message.
func Failed(err error) Result {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return Result{Error: fe.Error()}
	}
	return Result{Error: fault.Unknown.Message()}
}

// Orchestrator wires the tiers together. Relay and Proxies may be nil, in
// which case that tier behaves as unavailable.
type Orchestrator struct {
	Relay     PageFetcher
	Proxies   CursorFetcher
	Direct    PageFetcher
	Extractor extract.Extractor
	Timeout   time.Duration
}

// Extract runs ValidatingURL → TryRelay → TrySanitizeRelayResult →
// TryProxyChain. It returns the result and the proxy cursor for the next
// call; the cursor only moves when the proxy chain ran.
func (o *Orchestrator) Extract(ctx context.Context, rawURL string, cursor int) (Result, int) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout())
	defer cancel()

	logger := log.With().Str("url", rawURL).Logger()

	logger.Debug().Str("tier", TierValidate).Msg("validating url")
	if _, err := fetch.ParseTargetURL(rawURL); err != nil {
		return Failed(err), cursor
	}

	logger.Debug().Str("tier", TierRelay).Msg("trying relay")
	page, err := o.fetchRelay(ctx, rawURL)
	if err == nil {
		logger.Debug().Str("tier", TierSanitize).Msg("sanitizing relay result")
		doc, err := o.extractor().Extract(page.HTML, rawURL)
		if err != nil {
			logger.Debug().Str("tier", TierSanitize).Err(err).Msg("relay result unusable")
			return Failed(err), cursor
		}
		return Succeeded(doc), cursor
	}
	if !fault.Is(err, fault.RelayUnreachable) {
		// The relay reached the site and reported why it failed.
		logger.Debug().Str("tier", TierRelay).Err(err).Msg("relay reported failure")
		return Failed(err), cursor
	}

	logger.Debug().Str("tier", TierProxy).Int("cursor", cursor).Err(err).Msg("relay unreachable, trying proxy chain")
	if o.Proxies == nil {
		return Failed(fault.New(fault.AllProxiesFailed, errors.New("no proxy chain configured"))), cursor
	}
	doc, next, err := o.Proxies.Fetch(ctx, rawURL, cursor)
	if err != nil {
		logger.Debug().Str("tier", TierProxy).Int("cursor", next).Err(err).Msg("proxy chain failed")
		return Failed(err), next
	}
	logger.Debug().Str("tier", TierProxy).Int("cursor", next).Msg("proxy chain succeeded")
	return Succeeded(doc), next
}

// ExtractDirect is the single-shot path: fetch the site ourselves and
// sanitize it, with no fallback.
func (o *Orchestrator) ExtractDirect(ctx context.Context, rawURL string) Result {
	ctx, cancel := context.WithTimeout(ctx, o.timeout())
	defer cancel()
	if o.Direct == nil {
		return Failed(fault.New(fault.Unknown, errors.New("direct fetch not configured")))
	}
	doc, err := FetchDocument(ctx, o.Direct, o.extractor(), rawURL)
	if err != nil {
		return Failed(err)
	}
	return Succeeded(doc)
}

// FetchDocument fetches rawURL with f and extracts it with ex.
func FetchDocument(ctx context.Context, f PageFetcher, ex extract.Extractor, rawURL string) (extract.Document, error) {
	if _, err := fetch.ParseTargetURL(rawURL); err != nil {
		return extract.Document{}, err
	}
	log.Debug().Str("tier", TierDirect).Str("url", rawURL).Msg("fetching")
	page, err := f.Fetch(ctx, rawURL)
	if err != nil {
		return extract.Document{}, err
	}
	return ex.Extract(page.HTML, page.FinalURL)
}

func (o *Orchestrator) fetchRelay(ctx context.Context, rawURL string) (fetch.Page, error) {
	if o.Relay == nil {
		return fetch.Page{}, fault.New(fault.RelayUnreachable, errors.New("no relay configured"))
	}
	return o.Relay.Fetch(ctx, rawURL)
}

func (o *Orchestrator) extractor() extract.Extractor {
	if o.Extractor == nil {
		return extract.Sanitizer{}
	}
	return o.Extractor
}

func (o *Orchestrator) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}
