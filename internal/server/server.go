// Package server exposes the relay and quiz functions over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/goquiz/internal/extract"
	"github.com/hyperifyio/goquiz/internal/fetch"
	"github.com/hyperifyio/goquiz/internal/pipeline"
	"github.com/hyperifyio/goquiz/internal/quiz"
	"github.com/hyperifyio/goquiz/internal/quizgen"
)

// maxRequestBytes bounds every JSON request body.
const maxRequestBytes = 4 << 20

// Limits of the single-shot parse route.
const (
	DefaultParseTimeout   = 30 * time.Second
	DefaultParseRedirects = 3
)

const (
	msgMethodNotAllowed = "Method not allowed"
	msgURLRequired      = "URL is required"
	msgQuizRequired     = "Quiz data is required"
	msgProblematic      = "This website may be too slow or complex to parse. Please try a different website."
	msgFormat           = "Only JSON and PDF formats are supported"
	msgGenerateFailed   = "Failed to generate quiz. Please try again."
	msgExportFailed     = "Failed to export quiz. Please try again."
	msgBadRequest       = "Invalid request body"
)

// ProblematicDomains are hosts the parse route refuses up front because they
// are known to be slow or hostile to scraping. Matching is by substring of
// the lower-cased hostname.
var ProblematicDomains = []string{
	"wikipedia.org",
	"github.com",
	"stackoverflow.com",
	"reddit.com",
	"medium.com",
	"dev.to",
}

// QuizGenerator produces a quiz from extracted content.
type QuizGenerator interface {
	Generate(ctx context.Context, req quizgen.Request) (quiz.Quiz, error)
}

// Server holds the route dependencies. Nil fetchers fall back to a direct
// fetch with the route's default limits; a nil Generator reports that quiz
// generation is not configured.
type Server struct {
	// RelayFetcher backs /extract and /cors-proxy.
	RelayFetcher pipeline.PageFetcher
	// ParseFetcher backs /parse-website.
	ParseFetcher pipeline.PageFetcher
	Extractor    extract.Extractor
	Generator    QuizGenerator
	// CORSOrigin is "*" or a comma-separated allow list.
	CORSOrigin string
	// Logger defaults to the global logger.
	Logger *zerolog.Logger
	Now    func() time.Time
}

// Handler returns the routed handler wrapped in CORS and access logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/extract", s.post(s.handleExtract))
	mux.HandleFunc("/cors-proxy", s.post(s.handleExtract))
	mux.HandleFunc("/parse-website", s.post(s.handleParseWebsite))
	mux.HandleFunc("/generate-quiz", s.post(s.handleGenerateQuiz))
	mux.HandleFunc("/import-quiz", s.post(s.handleImportQuiz))
	mux.HandleFunc("/export-quiz", s.post(s.handleExportQuiz))
	mux.HandleFunc("/health", s.handleHealth)

	var h http.Handler = corsMiddleware(mux, s.CORSOrigin)
	h = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	})(h)
	h = hlog.RequestIDHandler("req_id", "X-Request-Id")(h)
	h = hlog.URLHandler("path")(h)
	h = hlog.MethodHandler("method")(h)
	h = hlog.RemoteAddrHandler("remote")(h)
	h = hlog.NewHandler(s.logger())(h)
	return h
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		l := s.logger()
		l.Info().Str("addr", addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler, originConfig string) http.Handler {
	if strings.TrimSpace(originConfig) == "" {
		originConfig = "*"
	}
	origins := strings.Split(originConfig, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestOrigin := r.Header.Get("Origin")

		if len(origins) == 1 && origins[0] == "*" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if requestOrigin != "" && slices.Contains(origins, requestOrigin) {
			// Only one origin may be echoed back.
			w.Header().Set("Access-Control-Allow-Origin", requestOrigin)
			w.Header().Add("Vary", "Origin")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// post rejects every method but POST with 405.
func (s *Server) post(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(w, r, http.StatusMethodNotAllowed, errorBody{Success: false, Error: msgMethodNotAllowed})
			return
		}
		h(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeJSON(w, r, http.StatusMethodNotAllowed, errorBody{Success: false, Error: msgMethodNotAllowed})
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// decodeBody reads a bounded JSON body into v. An empty body decodes as {}.
func decodeBody(r *http.Request, v any) error {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("response write error")
	}
}

func (s *Server) logger() zerolog.Logger {
	if s.Logger == nil {
		return log.Logger
	}
	return *s.Logger
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Server) relayFetcher() pipeline.PageFetcher {
	if s.RelayFetcher != nil {
		return s.RelayFetcher
	}
	return &fetch.Direct{}
}

func (s *Server) parseFetcher() pipeline.PageFetcher {
	if s.ParseFetcher != nil {
		return s.ParseFetcher
	}
	return &fetch.Direct{Timeout: DefaultParseTimeout, MaxRedirects: DefaultParseRedirects}
}

func (s *Server) extractor() extract.Extractor {
	if s.Extractor != nil {
		return s.Extractor
	}
	return extract.Sanitizer{}
}
