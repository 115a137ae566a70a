package fetch

import (
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"

	"github.com/hyperifyio/goquiz/internal/fault"
)

const (
	DefaultTimeout      = 15 * time.Second
	DefaultMaxRedirects = 2
	DefaultMaxBytes     = 20 << 20
	DefaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

var errTooManyRedirects = errors.New("too many redirects")
var errTooLarge = errors.New("response exceeds size limit")

// Page is a fetched document decoded to UTF-8.
type Page struct {
	HTML        string
	ContentType string
	StatusCode  int
	FinalURL    string
}

// Direct performs the target-site GET with strict limits. The zero value is
// usable and applies the package defaults.
type Direct struct {
	HTTPClient *http.Client
	UserAgent  string
	// Timeout bounds the whole request including the body read.
	Timeout time.Duration
	// MaxRedirects caps redirect following. Zero means DefaultMaxRedirects.
	MaxRedirects int
	// MaxBytes caps the decoded body size. Zero means DefaultMaxBytes.
	MaxBytes int64
	// MaxConcurrent limits concurrent in-flight requests per instance.
	// Zero means unlimited.
	MaxConcurrent int

	limiter     chan struct{}
	limiterOnce sync.Once
}

func (d *Direct) getHTTPClient() *http.Client {
	if d.HTTPClient != nil {
		// Clone to attach our redirect policy without mutating caller's client
		base := *d.HTTPClient
		base.CheckRedirect = d.checkRedirectFunc()
		return &base
	}
	return &http.Client{CheckRedirect: d.checkRedirectFunc()}
}

// Fetch GETs rawURL and returns its body. Every failure is a *fault.Error.
func (d *Direct) Fetch(ctx context.Context, rawURL string) (Page, error) {
	u, err := ParseTargetURL(rawURL)
	if err != nil {
		return Page{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()

	// Waiting for a slot counts against the timeout.
	if err := d.acquire(ctx); err != nil {
		return Page{}, fault.New(fault.Timeout, err)
	}
	defer d.release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Page{}, fault.New(fault.InvalidURL, err)
	}
	setBrowserHeaders(req, d.userAgent())

	resp, err := d.getHTTPClient().Do(req)
	if err != nil {
		return Page{}, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Page{}, classifyStatus(resp.StatusCode)
	}

	body, err := decodeBody(resp, d.maxBytes())
	if err != nil {
		return Page{}, classifyTransport(err)
	}
	finalURL := u.String()
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return Page{
		HTML:        body,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
		FinalURL:    finalURL,
	}, nil
}

func (d *Direct) timeout() time.Duration {
	if d.Timeout <= 0 {
		return DefaultTimeout
	}
	return d.Timeout
}

func (d *Direct) maxBytes() int64 {
	if d.MaxBytes <= 0 {
		return DefaultMaxBytes
	}
	return d.MaxBytes
}

func (d *Direct) userAgent() string {
	if strings.TrimSpace(d.UserAgent) == "" {
		return DefaultUserAgent
	}
	return d.UserAgent
}

// ParseTargetURL accepts only absolute http(s) URLs with a host.
func ParseTargetURL(rawURL string) (*url.URL, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fault.New(fault.InvalidURL, errors.New("empty url"))
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fault.New(fault.InvalidURL, err)
	}
	if !isHTTPScheme(u) || u.Host == "" {
		return nil, fault.New(fault.InvalidURL, fmt.Errorf("unsupported url: %q", rawURL))
	}
	return u, nil
}

func setBrowserHeaders(req *http.Request, ua string) {
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
}

// decodeBody undoes Content-Encoding (we set Accept-Encoding ourselves, so
// the transport leaves it to us), enforces the size cap and converts the
// declared or sniffed charset to UTF-8.
func decodeBody(resp *http.Response, maxBytes int64) (string, error) {
	var r io.Reader = resp.Body
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return "", fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	case "deflate":
		zr, err := zlib.NewReader(resp.Body)
		if err != nil {
			return "", fmt.Errorf("deflate: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	raw, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if int64(len(raw)) > maxBytes {
		return "", errTooLarge
	}

	if utf8.Valid(raw) {
		return string(raw), nil
	}
	enc, _, _ := charset.DetermineEncoding(raw, resp.Header.Get("Content-Type"))
	decoded, _, err := transform.Bytes(enc.NewDecoder(), raw)
	if err != nil {
		// Mislabelled pages are common; keep the raw bytes.
		return string(raw), nil
	}
	return string(decoded), nil
}

func classifyStatus(status int) *fault.Error {
	cause := fmt.Errorf("unexpected status: %d", status)
	switch status {
	case http.StatusForbidden:
		return fault.New(fault.Blocked, cause)
	case http.StatusNotFound:
		return fault.New(fault.NotFound, cause)
	default:
		return fault.New(fault.Unknown, cause)
	}
}

// classifyTransport maps client errors onto the failure taxonomy.
func classifyTransport(err error) *fault.Error {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fault.New(fault.Timeout, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return fault.New(fault.Timeout, err)
		}
		return fault.New(fault.NotFound, err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fault.New(fault.Refused, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fault.New(fault.Timeout, err)
	}
	return fault.New(fault.Unknown, err)
}

func (d *Direct) checkRedirectFunc() func(req *http.Request, via []*http.Request) error {
	max := d.MaxRedirects
	if max <= 0 {
		max = DefaultMaxRedirects
	}
	return func(req *http.Request, via []*http.Request) error {
		if len(via) > max {
			return errTooManyRedirects
		}
		// Only allow http/https during redirects
		if req.URL == nil || !isHTTPScheme(req.URL) {
			return errors.New("redirect to unsupported scheme")
		}
		return nil
	}
}

func isHTTPScheme(u *url.URL) bool {
	if u == nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

func (d *Direct) acquire(ctx context.Context) error {
	if d.MaxConcurrent <= 0 {
		return nil
	}
	d.limiterOnce.Do(func() {
		d.limiter = make(chan struct{}, d.MaxConcurrent)
	})
	select {
	case d.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Direct) release() {
	if d.MaxConcurrent <= 0 || d.limiter == nil {
		return
	}
	select {
	case <-d.limiter:
	default:
	}
}
