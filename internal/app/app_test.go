package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperifyio/goquiz/internal/fetch"
	"github.com/hyperifyio/goquiz/internal/llm"
	"github.com/hyperifyio/goquiz/internal/quizgen"
	"github.com/hyperifyio/goquiz/internal/storage"
	"github.com/hyperifyio/goquiz/internal/store"
)

var pinned = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const page = `<html><head><title>Gophers</title></head><body><header>site</header><p>Gophers dig tunnels.</p></body></html>`

// proxy answers with status; a 200 proxy serves page.
func proxy(t *testing.T, status int, hits *int32) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = io.WriteString(w, page)
		}
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/?url="
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CacheDir = ""
	cfg.ProxyURLs = nil
	cfg.PipelineTimeout = 10 * time.Second
	cfg.FetchTimeout = 5 * time.Second
	return cfg
}

func newTestApp(t *testing.T, cfg Config, kv storage.KV) *App {
	t.Helper()
	a, err := newWithKV(context.Background(), cfg, kv)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	a.Now = func() time.Time { return pinned }
	t.Cleanup(a.Close)
	return a
}

func TestExtract_FallsBackAndPersistsCursor(t *testing.T) {
	var badHits int32
	cfg := testConfig()
	cfg.ProxyURLs = []string{proxy(t, http.StatusBadGateway, &badHits), proxy(t, http.StatusOK, nil)}
	kv := storage.NewMemoryKV()
	a := newTestApp(t, cfg, kv)

	res, err := a.Extract(context.Background(), "https://example.com/gophers", ExtractOptions{Cursor: NoCursor})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Title != "Gophers" || res.Content != "Gophers dig tunnels." {
		t.Fatalf("unexpected result %+v", res)
	}
	if c, _ := store.LoadCursor(kv); c != 1 {
		t.Fatalf("cursor not persisted: %d", c)
	}

	// Resume skips the failing proxy; a fresh session starts over.
	if _, err := a.Extract(context.Background(), "https://example.com/x", ExtractOptions{Cursor: NoCursor, Resume: true}); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got := atomic.LoadInt32(&badHits); got != 1 {
		t.Fatalf("resume should not retry proxy 0, hits=%d", got)
	}
	if _, err := a.Extract(context.Background(), "https://example.com/y", ExtractOptions{Cursor: NoCursor}); err != nil {
		t.Fatalf("fresh: %v", err)
	}
	if got := atomic.LoadInt32(&badHits); got != 2 {
		t.Fatalf("fresh session should start at proxy 0, hits=%d", got)
	}
}

func TestExtract_AllProxiesFailed(t *testing.T) {
	cfg := testConfig()
	cfg.ProxyURLs = []string{proxy(t, http.StatusInternalServerError, nil), proxy(t, http.StatusForbidden, nil)}
	kv := storage.NewMemoryKV()
	a := newTestApp(t, cfg, kv)

	res, err := a.Extract(context.Background(), "https://example.com", ExtractOptions{Cursor: NoCursor})
	if !errors.Is(err, ErrExtractionFailed) {
		t.Fatalf("expected extraction failure, got %v", err)
	}
	if res.Error != "Failed to fetch website content. All proxies failed." {
		t.Fatalf("unexpected message %q", res.Error)
	}
	if c, _ := store.LoadCursor(kv); c != 1 {
		t.Fatalf("cursor should rest at last index, got %d", c)
	}
}

func TestExtract_Direct(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, page)
	}))
	defer site.Close()
	a := newTestApp(t, testConfig(), storage.NewMemoryKV())
	res, err := a.Extract(context.Background(), site.URL, ExtractOptions{Direct: true, Cursor: NoCursor})
	if err != nil || res.Content != "Gophers dig tunnels." {
		t.Fatalf("direct: %+v %v", res, err)
	}
}

func TestGenerate_StoresQuiz(t *testing.T) {
	stub := httptest.NewServer(llm.NewStubHandler("stub"))
	defer stub.Close()

	cfg := testConfig()
	cfg.ProxyURLs = []string{proxy(t, http.StatusOK, nil)}
	cfg.LLMBaseURL = stub.URL + "/v1"
	cfg.LLMModel = "stub"
	cfg.Questions = 3
	cfg.CacheDir = t.TempDir()
	a := newTestApp(t, cfg, storage.NewMemoryKV())

	q, err := a.Generate(context.Background(), "https://example.com/gophers", GenerateOptions{ExtractOptions: ExtractOptions{Cursor: NoCursor}})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if q.Title != "Gophers" || q.Description != "Quiz generated from Gophers" || len(q.Questions) != 3 {
		t.Fatalf("unexpected quiz %+v", q)
	}
	if !q.CreatedAt.Equal(pinned) || q.SourceURL != "https://example.com/gophers" {
		t.Fatalf("unexpected metadata %+v", q)
	}
	if _, ok := a.Quizzes.Get(q.ID); !ok {
		t.Fatalf("quiz not stored")
	}
	entries, _ := os.ReadDir(cfg.CacheDir)
	if len(entries) != 1 {
		t.Fatalf("expected one cached response, got %d", len(entries))
	}
}

func TestGenerate_NotConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.ProxyURLs = []string{proxy(t, http.StatusOK, nil)}
	a := newTestApp(t, cfg, storage.NewMemoryKV())
	_, err := a.Generate(context.Background(), "https://example.com", GenerateOptions{ExtractOptions: ExtractOptions{Cursor: NoCursor}, QuizTitle: "T"})
	if !errors.Is(err, quizgen.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

const quizFile = `{
  "id": "imported-1",
  "title": "Go Basics",
  "description": "About Go",
  "questions": [
    {"question": "What is Go?", "options": ["A language", "A game"], "correctAnswer": 0},
    {"question": "Who made Go?", "options": ["Google", "Nobody", "Cats"], "correctAnswer": 0}
  ]
}`

func TestImportExportFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.json")
	if err := os.WriteFile(src, []byte(quizFile), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	a := newTestApp(t, testConfig(), storage.NewMemoryKV())

	q, err := a.ImportFile(src, true)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if q.ID != "imported-1" || a.Quizzes.Count() != 1 {
		t.Fatalf("unexpected import %+v", q)
	}
	if _, err := a.ImportFile(src, true); !errors.Is(err, store.ErrQuizExists) {
		t.Fatalf("second preserved import should collide, got %v", err)
	}

	path, err := a.ExportFile(q.ID, "json", dir)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if filepath.Base(path) != "go_basics_1709294400000.json" {
		t.Fatalf("unexpected path %s", path)
	}
	b, _ := os.ReadFile(path)
	if !strings.Contains(string(b), `"title": "Go Basics"`) {
		t.Fatalf("unexpected export %s", b)
	}

	pdfPath, err := a.ExportFile(q.ID, "pdf", filepath.Join(dir, "sheet.pdf"))
	if err != nil {
		t.Fatalf("export pdf: %v", err)
	}
	pb, _ := os.ReadFile(pdfPath)
	if !strings.HasPrefix(string(pb), "%PDF-") {
		t.Fatalf("not a pdf")
	}
	if _, err := a.ExportFile("missing", "json", dir); !errors.Is(err, store.ErrQuizNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := a.ExportFile(q.ID, "csv", dir); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}

func TestTake_RecordsScore(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.json")
	if err := os.WriteFile(src, []byte(quizFile), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	a := newTestApp(t, testConfig(), storage.NewMemoryKV())
	q, err := a.ImportFile(src, false)
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	res, err := a.Take(q.ID, []int{0, 1})
	if err != nil {
		t.Fatalf("take as guest: %v", err)
	}
	if res.Score != nil || res.Attempt.Score != 1 || !res.Attempt.Completed() {
		t.Fatalf("unexpected guest result %+v", res)
	}

	if _, err := a.Profile.Create("Ada", "ada@example.com", "", nil); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	res, err = a.Take(q.ID, []int{0, 0})
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if res.Score == nil || res.Score.Percentage != 100 {
		t.Fatalf("unexpected score %+v", res.Score)
	}
	if best, ok := a.Scores.BestScoreForQuiz(q.ID); !ok || best.Score != 2 {
		t.Fatalf("best score not recorded: %+v", best)
	}
	if cur, _ := a.Quizzes.Current(); cur != nil {
		t.Fatalf("current quiz should be cleared")
	}

	if _, err := a.Take(q.ID, []int{0}); err == nil {
		t.Fatalf("expected answer count error")
	}
	if _, err := a.Take(q.ID, []int{0, 5}); !errors.Is(err, store.ErrAnswerIndex) {
		t.Fatalf("expected answer index error, got %v", err)
	}
}

func TestNew_UsesFileStore(t *testing.T) {
	cfg := testConfig()
	cfg.DataDir = t.TempDir()
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()
	if _, err := a.Profile.Create("Ada", "", "", nil); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.DataDir, store.KeyProfile+".json")); err != nil {
		t.Fatalf("profile not persisted: %v", err)
	}
}

func TestServer_BoundsUpstreamFetches(t *testing.T) {
	cfg := testConfig()
	cfg.RelayMaxConcurrent = 3
	cfg.ParseTimeout = 12 * time.Second
	a := newTestApp(t, cfg, storage.NewMemoryKV())
	srv := a.Server()
	relay, ok := srv.RelayFetcher.(*fetch.Direct)
	if !ok {
		t.Fatalf("relay fetcher is %T", srv.RelayFetcher)
	}
	parse, ok := srv.ParseFetcher.(*fetch.Direct)
	if !ok {
		t.Fatalf("parse fetcher is %T", srv.ParseFetcher)
	}
	if relay.MaxConcurrent != 3 || parse.MaxConcurrent != 3 {
		t.Fatalf("MaxConcurrent relay=%d parse=%d", relay.MaxConcurrent, parse.MaxConcurrent)
	}
	if relay.Timeout != cfg.FetchTimeout || parse.Timeout != 12*time.Second {
		t.Fatalf("timeouts relay=%v parse=%v", relay.Timeout, parse.Timeout)
	}
}
