package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/goquiz/internal/extract"
	"github.com/hyperifyio/goquiz/internal/fault"
)

// DefaultProxies are public CORS relays tried in order when our own relay is
// down. They are unauthenticated and rate limited.
var DefaultProxies = []string{
	"https://api.cors.lol/?url=",
	"https://thingproxy.freeboard.io/fetch/",
}

// ProxyChain walks a fixed list of public proxies, one at a time.
type ProxyChain struct {
	HTTPClient *http.Client
	// Bases are prefixes the escaped target URL is appended to.
	Bases     []string
	Extractor extract.Extractor
	UserAgent string
	// Timeout bounds each proxy attempt.
	Timeout  time.Duration
	MaxBytes int64
}

// Fetch tries the proxies starting at cursor and returns the sanitized page
// plus the cursor to use next time. A failed attempt advances the cursor by
// one. When every proxy has failed the error is fault.AllProxiesFailed and
// the returned cursor is the last index. Out-of-range cursors start at 0.
func (p *ProxyChain) Fetch(ctx context.Context, rawURL string, cursor int) (extract.Document, int, error) {
	if len(p.Bases) == 0 {
		return extract.Document{}, 0, fault.New(fault.AllProxiesFailed, fmt.Errorf("no proxies configured"))
	}
	if cursor < 0 || cursor >= len(p.Bases) {
		cursor = 0
	}
	for {
		if err := ctx.Err(); err != nil {
			return extract.Document{}, cursor, fault.New(fault.Timeout, err)
		}
		html, err := p.fetchOne(ctx, p.Bases[cursor], rawURL)
		if err == nil {
			doc, err := p.extractor().Extract(html, rawURL)
			if err != nil {
				return extract.Document{}, cursor, err
			}
			return doc, cursor, nil
		}
		log.Debug().Err(err).Int("cursor", cursor).Str("proxy", p.Bases[cursor]).Msg("proxy attempt failed")
		if cursor >= len(p.Bases)-1 {
			return extract.Document{}, cursor, fault.New(fault.AllProxiesFailed, err)
		}
		cursor++
	}
}

func (p *ProxyChain) fetchOne(ctx context.Context, base string, rawURL string) (string, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+EncodeURIComponent(rawURL), nil)
	if err != nil {
		return "", err
	}
	ua := p.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)

	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("proxy status: %d", resp.StatusCode)
	}
	max := p.MaxBytes
	if max <= 0 {
		max = DefaultMaxBytes
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, max+1))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if int64(len(b)) > max {
		return "", errTooLarge
	}
	return string(b), nil
}

func (p *ProxyChain) extractor() extract.Extractor {
	if p.Extractor == nil {
		return extract.Sanitizer{}
	}
	return p.Extractor
}

// EncodeURIComponent escapes s the way browsers' encodeURIComponent does:
// everything except A-Z a-z 0-9 - _ . ! ~ * ' ( ) is percent-encoded and
// spaces become %20.
func EncodeURIComponent(s string) string {
	escaped := url.QueryEscape(s)
	return uriComponentReplacer.Replace(escaped)
}

var uriComponentReplacer = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)
