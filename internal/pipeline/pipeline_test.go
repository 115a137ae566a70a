package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hyperifyio/goquiz/internal/extract"
	"github.com/hyperifyio/goquiz/internal/fault"
	"github.com/hyperifyio/goquiz/internal/fetch"
)

type fakeRelay struct {
	page  fetch.Page
	err   error
	calls int
}

func (f *fakeRelay) Fetch(ctx context.Context, rawURL string) (fetch.Page, error) {
	f.calls++
	return f.page, f.err
}

// fakeChain fails the first failures attempts, one per cursor position.
type fakeChain struct {
	size     int
	failures int
	doc      extract.Document
	calls    int
}

func (f *fakeChain) Fetch(ctx context.Context, rawURL string, cursor int) (extract.Document, int, error) {
	f.calls++
	for i := 0; ; i++ {
		if i >= f.failures {
			return f.doc, cursor, nil
		}
		if cursor >= f.size-1 {
			return extract.Document{}, cursor, fault.New(fault.AllProxiesFailed, nil)
		}
		cursor++
	}
}

func TestExtract_InvalidURLMakesNoCalls(t *testing.T) {
	relay := &fakeRelay{}
	chain := &fakeChain{size: 2}
	o := &Orchestrator{Relay: relay, Proxies: chain}
	for _, raw := range []string{"", "example.com", "ftp://example.com", "http://"} {
		res, next := o.Extract(context.Background(), raw, 1)
		if res.Success || res.Error != "Invalid URL format" {
			t.Fatalf("%q: unexpected result %+v", raw, res)
		}
		if next != 1 {
			t.Fatalf("cursor should not move, got %d", next)
		}
	}
	if relay.calls != 0 || chain.calls != 0 {
		t.Fatalf("expected no network calls, relay=%d chain=%d", relay.calls, chain.calls)
	}
}

func TestExtract_RelaySuccess(t *testing.T) {
	relay := &fakeRelay{page: fetch.Page{HTML: "<html><head><title>T</title></head><body><p>Hello   world</p></body></html>"}}
	chain := &fakeChain{size: 2}
	o := &Orchestrator{Relay: relay, Proxies: chain}
	res, next := o.Extract(context.Background(), "https://example.com", 0)
	if !res.Success || res.Title != "T" || res.Content != "Hello world" || res.Error != "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if next != 0 || chain.calls != 0 {
		t.Fatalf("proxy chain should not run")
	}
}

func TestExtract_UpstreamFailureIsTerminal(t *testing.T) {
	relay := &fakeRelay{err: fault.FromUpstream("Access denied")}
	chain := &fakeChain{size: 2}
	o := &Orchestrator{Relay: relay, Proxies: chain}
	res, _ := o.Extract(context.Background(), "https://example.com", 0)
	if res.Success || res.Error != "Access denied" || res.Title != "" || res.Content != "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if chain.calls != 0 {
		t.Fatalf("proxy chain must not run after an upstream failure")
	}
}

func TestExtract_RelayNoContentIsTerminal(t *testing.T) {
	relay := &fakeRelay{page: fetch.Page{HTML: "<html><body><script>x()</script></body></html>"}}
	chain := &fakeChain{size: 2}
	o := &Orchestrator{Relay: relay, Proxies: chain}
	res, _ := o.Extract(context.Background(), "https://example.com", 0)
	if res.Success || res.Error != "No readable content found on the website" {
		t.Fatalf("unexpected result %+v", res)
	}
	if chain.calls != 0 {
		t.Fatalf("proxy chain must not run after NoContent")
	}
}

func TestExtract_RelayUnreachableFallsBackToProxies(t *testing.T) {
	relay := &fakeRelay{err: fault.New(fault.RelayUnreachable, errors.New("dial"))}
	chain := &fakeChain{size: 2, failures: 1, doc: extract.Document{Title: "P", Content: "proxied"}}
	o := &Orchestrator{Relay: relay, Proxies: chain}
	res, next := o.Extract(context.Background(), "https://example.com", 0)
	if !res.Success || res.Content != "proxied" {
		t.Fatalf("unexpected result %+v", res)
	}
	if next != 1 {
		t.Fatalf("expected cursor 1, got %d", next)
	}
}

func TestExtract_AllProxiesFailed(t *testing.T) {
	chain := &fakeChain{size: 2, failures: 5}
	o := &Orchestrator{Proxies: chain}
	res, next := o.Extract(context.Background(), "https://example.com", 0)
	if res.Success || res.Error != "Failed to fetch website content. All proxies failed." {
		t.Fatalf("unexpected result %+v", res)
	}
	if next != 1 {
		t.Fatalf("expected last index, got %d", next)
	}
}

func TestExtract_EndToEnd(t *testing.T) {
	relaySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer relaySrv.Close()
	var seen []string
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, "down")
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, "up")
		_, _ = w.Write([]byte("<html><body><h1>Heading</h1><p>Body text</p><aside>skip</aside></body></html>"))
	}))
	defer up.Close()

	o := &Orchestrator{
		Relay:   &fetch.Relay{Endpoint: relaySrv.URL},
		Proxies: &fetch.ProxyChain{Bases: []string{down.URL + "/?url=", up.URL + "/?url="}},
		Timeout: 5 * time.Second,
	}
	res, next := o.Extract(context.Background(), "https://example.com/page", 0)
	if !res.Success || res.Title != "Heading" || res.Content != "HeadingBody text" {
		t.Fatalf("unexpected result %+v", res)
	}
	if next != 1 || len(seen) != 2 {
		t.Fatalf("unexpected cursor %d or calls %v", next, seen)
	}
}

func TestExtractDirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<title>Direct</title><p>content here</p>"))
	}))
	defer srv.Close()

	o := &Orchestrator{Direct: &fetch.Direct{}}
	res := o.ExtractDirect(context.Background(), srv.URL)
	if !res.Success || res.Title != "Direct" || res.Content != "content here" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestResultJSONShape(t *testing.T) {
	b, _ := json.Marshal(Failed(fault.New(fault.Timeout, nil)))
	if string(b) != `{"success":false,"error":"Request timeout - website took too long to respond"}` {
		t.Fatalf("unexpected failure json %s", b)
	}
	b, _ = json.Marshal(Succeeded(extract.Document{Title: "a", Content: "b"}))
	if string(b) != `{"success":true,"title":"a","content":"b"}` {
		t.Fatalf("unexpected success json %s", b)
	}
	if r := Failed(errors.New("boom")); r.Error != "Failed to fetch website content" {
		t.Fatalf("unclassified errors should use the generic message, got %q", r.Error)
	}
}
