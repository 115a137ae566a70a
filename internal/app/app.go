package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/goquiz/internal/cache"
	"github.com/hyperifyio/goquiz/internal/extract"
	"github.com/hyperifyio/goquiz/internal/fetch"
	"github.com/hyperifyio/goquiz/internal/llm"
	"github.com/hyperifyio/goquiz/internal/pipeline"
	"github.com/hyperifyio/goquiz/internal/quiz"
	"github.com/hyperifyio/goquiz/internal/quizgen"
	"github.com/hyperifyio/goquiz/internal/server"
	"github.com/hyperifyio/goquiz/internal/storage"
	"github.com/hyperifyio/goquiz/internal/store"
)

// ErrExtractionFailed wraps the user-facing message of a failed extraction.
var ErrExtractionFailed = errors.New("extraction failed")

// App wires the extraction tiers, quiz generation and the local stores.
type App struct {
	cfg        Config
	httpClient *http.Client
	kv         storage.KV

	extractor    extract.Extractor
	orchestrator *pipeline.Orchestrator
	generator    *quizgen.Generator

	Quizzes *store.QuizStore
	Scores  *store.ScoreStore
	Profile *store.ProfileStore

	// Now defaults to time.Now; tests pin it.
	Now func() time.Time
}

// New builds an App from a validated configuration.
func New(ctx context.Context, cfg Config) (*App, error) {
	kv := &storage.FileKV{Dir: cfg.DataDir, StrictPerms: cfg.StrictPerms}
	return newWithKV(ctx, cfg, kv)
}

func newWithKV(ctx context.Context, cfg Config, kv storage.KV) (*App, error) {
	hc := newHTTPClient(cfg.PipelineTimeout)
	ex := extract.New(cfg.ExtractMode, cfg.ContentMaxChars)

	a := &App{
		cfg:        cfg,
		httpClient: hc,
		kv:         kv,
		extractor:  ex,
		Now:        time.Now,
	}
	a.orchestrator = &pipeline.Orchestrator{
		Relay: &fetch.Relay{HTTPClient: hc, Endpoint: cfg.RelayURL},
		Proxies: &fetch.ProxyChain{
			HTTPClient: hc,
			Bases:      cfg.ProxyURLs,
			Extractor:  ex,
			UserAgent:  cfg.UserAgent,
			Timeout:    cfg.FetchTimeout,
			MaxBytes:   cfg.FetchMaxBytes,
		},
		Direct:    a.directFetcher(cfg.FetchTimeout, cfg.FetchMaxRedirects),
		Extractor: ex,
		Timeout:   cfg.PipelineTimeout,
	}

	a.generator = &quizgen.Generator{
		Model:       cfg.LLMModel,
		Temperature: cfg.LLMTemperature,
		MaxTokens:   cfg.LLMMaxTokens,
		Questions:   cfg.Questions,
		CacheOnly:   cfg.LLMCacheOnly,
		Now:         func() time.Time { return a.now() },
	}
	if cfg.CacheDir != "" {
		prepareCache(cfg)
		a.generator.Cache = &cache.LLMCache{Dir: cfg.CacheDir, StrictPerms: cfg.StrictPerms}
	}
	if cfg.LLMConfigured() {
		provider := llm.NewOpenAI(cfg.LLMAPIKey, cfg.LLMBaseURL, newHTTPClient(0))
		a.generator.Client = provider
		preflight(ctx, provider)
	}

	var err error
	if a.Quizzes, err = store.NewQuizStore(kv); err != nil {
		return nil, fmt.Errorf("load quizzes: %w", err)
	}
	if a.Profile, err = store.NewProfileStore(kv); err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if a.Scores, err = store.NewScoreStore(kv, a.Profile); err != nil {
		return nil, fmt.Errorf("load scores: %w", err)
	}
	return a, nil
}

// prepareCache applies the cache invalidation controls. Failures only warn;
// a broken cache must not stop startup.
func prepareCache(cfg Config) {
	if cfg.CacheClear {
		if err := cache.ClearDir(cfg.CacheDir); err != nil {
			log.Warn().Err(err).Str("dir", cfg.CacheDir).Msg("cache clear failed")
		}
	}
	if n, err := cache.PurgeByAge(cfg.CacheDir, cfg.CacheMaxAge); err != nil {
		log.Warn().Err(err).Msg("cache purge failed")
	} else if n > 0 {
		log.Debug().Int("removed", n).Msg("purged stale cache entries")
	}
	if n, err := cache.EnforceLimits(cfg.CacheDir, cfg.CacheMaxBytes, cfg.CacheMaxCount); err != nil {
		log.Warn().Err(err).Msg("cache limit enforcement failed")
	} else if n > 0 {
		log.Debug().Int("evicted", n).Msg("evicted cache entries")
	}
}

// preflight lists models so a misconfigured endpoint shows up at startup.
// It never fails; generation surfaces the real error later.
func preflight(ctx context.Context, ml llm.ModelLister) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	models, err := ml.ListModels(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("LLM model list failed; continuing")
		return
	}
	if len(models.Models) > 0 {
		log.Debug().Int("count", len(models.Models)).Msg("LLM models available")
	} else {
		log.Warn().Msg("LLM returned zero models")
	}
}

func (a *App) directFetcher(timeout time.Duration, redirects int) *fetch.Direct {
	return &fetch.Direct{
		HTTPClient:   a.httpClient,
		UserAgent:    a.cfg.UserAgent,
		Timeout:      timeout,
		MaxRedirects: redirects,
		MaxBytes:     a.cfg.FetchMaxBytes,
	}
}

// limitedFetcher bounds concurrent upstream fetches made on behalf of
// HTTP clients.
func (a *App) limitedFetcher(timeout time.Duration, redirects int) *fetch.Direct {
	d := a.directFetcher(timeout, redirects)
	d.MaxConcurrent = a.cfg.RelayMaxConcurrent
	return d
}

// Config returns the configuration the app was built with.
func (a *App) Config() Config { return a.cfg }

// Close releases idle connections.
func (a *App) Close() {
	a.httpClient.CloseIdleConnections()
}

// Server returns the HTTP surface: the relay, the single-shot parser and the
// quiz functions.
func (a *App) Server() *server.Server {
	return &server.Server{
		RelayFetcher: a.limitedFetcher(a.cfg.FetchTimeout, a.cfg.FetchMaxRedirects),
		ParseFetcher: a.limitedFetcher(a.cfg.ParseTimeout, a.cfg.ParseMaxRedirects),
		Extractor:    a.extractor,
		Generator:    a.generator,
		CORSOrigin:   a.cfg.CORSOrigin,
		Now:          a.now,
	}
}

// Serve runs the HTTP server until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	return a.Server().ListenAndServe(ctx, a.cfg.ListenAddr)
}

// NoCursor leaves the start cursor to ExtractOptions.Resume.
const NoCursor = -1

// ExtractOptions selects the extraction path and the proxy cursor.
type ExtractOptions struct {
	// Direct skips the relay and proxies and fetches the site ourselves.
	Direct bool
	// Cursor starts the proxy chain at this index. NoCursor means 0, or the
	// persisted cursor when Resume is set.
	Cursor int
	// Resume continues from the cursor persisted by the previous run.
	Resume bool
}

// Extract runs the extraction pipeline. Each call is its own session: the
// proxy cursor starts at 0 unless the caller asks otherwise, and the cursor
// the chain ends on is persisted for a later Resume.
func (a *App) Extract(ctx context.Context, rawURL string, opts ExtractOptions) (pipeline.Result, error) {
	if opts.Direct {
		res := a.orchestrator.ExtractDirect(ctx, rawURL)
		return res, resultErr(res)
	}

	cursor, err := a.startCursor(opts)
	if err != nil {
		return pipeline.Result{}, err
	}
	res, next := a.orchestrator.Extract(ctx, rawURL, cursor)
	log.Debug().Str("url", rawURL).Int("cursor", cursor).Int("next", next).Bool("success", res.Success).Msg("extraction finished")
	if err := store.SaveCursor(a.kv, next); err != nil {
		log.Warn().Err(err).Msg("persist proxy cursor failed")
	}
	return res, resultErr(res)
}

func (a *App) startCursor(opts ExtractOptions) (int, error) {
	switch {
	case opts.Cursor >= 0:
		return opts.Cursor, nil
	case opts.Resume:
		c, err := store.LoadCursor(a.kv)
		if err != nil {
			return 0, fmt.Errorf("load proxy cursor: %w", err)
		}
		return c, nil
	default:
		return 0, nil
	}
}

func resultErr(res pipeline.Result) error {
	if res.Success {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrExtractionFailed, res.Error)
}

// GenerateOptions describes the quiz to create from a page.
type GenerateOptions struct {
	ExtractOptions
	// QuizTitle defaults to the page title.
	QuizTitle   string
	Description string
}

// Generate extracts rawURL, asks the model for a quiz and stores it.
func (a *App) Generate(ctx context.Context, rawURL string, opts GenerateOptions) (quiz.Quiz, error) {
	res, err := a.Extract(ctx, rawURL, opts.ExtractOptions)
	if err != nil {
		return quiz.Quiz{}, err
	}
	title := strings.TrimSpace(opts.QuizTitle)
	if title == "" {
		title = res.Title
	}
	q, err := a.generator.Generate(ctx, quizgen.Request{
		Content:     res.Content,
		Title:       res.Title,
		QuizTitle:   title,
		Description: opts.Description,
		SourceURL:   rawURL,
	})
	if err != nil {
		return quiz.Quiz{}, err
	}
	if err := a.Quizzes.Add(q); err != nil {
		return quiz.Quiz{}, fmt.Errorf("save quiz: %w", err)
	}
	log.Info().Str("id", q.ID).Str("title", q.Title).Int("questions", len(q.Questions)).Msg("quiz generated")
	return q, nil
}

// ImportFile reads a quiz JSON file and adds it to the library.
func (a *App) ImportFile(path string, preserveID bool) (quiz.Quiz, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return quiz.Quiz{}, fmt.Errorf("read %s: %w", path, err)
	}
	q, err := quiz.Import(b, preserveID, a.now())
	if err != nil {
		return quiz.Quiz{}, err
	}
	if err := a.Quizzes.Add(q); err != nil {
		return quiz.Quiz{}, fmt.Errorf("save quiz: %w", err)
	}
	return q, nil
}

// ExportFile writes quiz id as JSON or PDF and returns the written path. An
// empty out derives the file name from the quiz title in the working
// directory; an existing directory gets the derived name inside it.
func (a *App) ExportFile(id, format, out string) (string, error) {
	q, ok := a.Quizzes.Get(id)
	if !ok {
		return "", store.ErrQuizNotFound
	}
	now := a.now()

	var (
		body []byte
		name string
		err  error
	)
	switch strings.ToLower(format) {
	case "", server.FormatJSON:
		body, name, err = quiz.Export(q, "", now)
	case server.FormatPDF:
		body, err = quiz.ExportPDF(q)
		name = quiz.DefaultFilename(q.Title, now, ".pdf")
	default:
		return "", fmt.Errorf("unsupported export format %q", format)
	}
	if err != nil {
		return "", err
	}

	path := out
	if path == "" {
		path = name
	} else if info, statErr := os.Stat(path); statErr == nil && info.IsDir() {
		path = filepath.Join(path, name)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// TakeResult is the outcome of answering a whole quiz.
type TakeResult struct {
	Attempt store.Attempt
	// Score is nil when no profile exists to record it under.
	Score *store.Score
}

// Take answers quiz id in one go and records the score for the current user.
func (a *App) Take(id string, answers []int) (TakeResult, error) {
	q, ok := a.Quizzes.Get(id)
	if !ok {
		return TakeResult{}, store.ErrQuizNotFound
	}
	if len(answers) != len(q.Questions) {
		return TakeResult{}, fmt.Errorf("quiz has %d questions, got %d answers", len(q.Questions), len(answers))
	}
	attempt, err := a.Quizzes.StartAttempt(id)
	if err != nil {
		return TakeResult{}, err
	}
	for i, ans := range answers {
		if attempt, err = a.Quizzes.SubmitAnswer(i, ans); err != nil {
			return TakeResult{}, fmt.Errorf("question %d: %w", i+1, err)
		}
	}

	res := TakeResult{Attempt: attempt}
	sc, err := a.Scores.AddScore(q.ID, q.Title, attempt.Score, attempt.TotalQuestions)
	switch {
	case errors.Is(err, store.ErrNoProfile):
		log.Warn().Msg("no profile; score not recorded")
	case err != nil:
		return res, fmt.Errorf("record score: %w", err)
	default:
		res.Score = &sc
	}
	if err := a.Quizzes.ClearCurrent(); err != nil {
		return res, err
	}
	return res, nil
}

func (a *App) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}
