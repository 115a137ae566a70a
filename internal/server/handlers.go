package server

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/hlog"

	"github.com/hyperifyio/goquiz/internal/fault"
	"github.com/hyperifyio/goquiz/internal/fetch"
	"github.com/hyperifyio/goquiz/internal/pipeline"
	"github.com/hyperifyio/goquiz/internal/quiz"
	"github.com/hyperifyio/goquiz/internal/quizgen"
)

// handleExtract is the relay: it fetches the target and returns the raw
// markup. Fetch failures are reported in the body with status 200 so the
// client can tell them apart from the relay being down.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req fetch.RelayRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, errorBody{Error: msgBadRequest})
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeJSON(w, r, http.StatusBadRequest, errorBody{Error: msgURLRequired})
		return
	}
	if _, err := fetch.ParseTargetURL(req.URL); err != nil {
		writeJSON(w, r, http.StatusBadRequest, errorBody{Error: fault.InvalidURL.Message()})
		return
	}

	logger := hlog.FromRequest(r)
	logger.Info().Str("url", req.URL).Msg("relay fetch")
	page, err := s.relayFetcher().Fetch(r.Context(), req.URL)
	if err != nil {
		logger.Warn().Str("url", req.URL).Str("kind", string(fault.KindOf(err))).Err(err).Msg("relay fetch failed")
		writeJSON(w, r, http.StatusOK, fetch.RelayResponse{Success: false, Error: pipeline.Failed(err).Error})
		return
	}
	logger.Info().Str("url", req.URL).Int("chars", len(page.HTML)).Msg("relay fetch ok")
	writeJSON(w, r, http.StatusOK, fetch.RelayResponse{
		Success:     true,
		HTML:        page.HTML,
		ContentType: page.ContentType,
		StatusCode:  page.StatusCode,
	})
}

// handleParseWebsite fetches and sanitizes in one shot, without fallback.
func (s *Server) handleParseWebsite(w http.ResponseWriter, r *http.Request) {
	var req fetch.RelayRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, errorBody{Error: msgBadRequest})
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeJSON(w, r, http.StatusBadRequest, errorBody{Error: msgURLRequired})
		return
	}
	u, err := fetch.ParseTargetURL(req.URL)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, errorBody{Error: fault.InvalidURL.Message()})
		return
	}
	if IsProblematicHost(u) {
		writeJSON(w, r, http.StatusBadRequest, errorBody{Error: msgProblematic})
		return
	}

	doc, err := pipeline.FetchDocument(r.Context(), s.parseFetcher(), s.extractor(), req.URL)
	if err != nil {
		status := http.StatusInternalServerError
		if k := fault.KindOf(err); k == fault.NoContent || k == fault.InvalidURL {
			status = http.StatusBadRequest
		}
		hlog.FromRequest(r).Warn().Str("url", req.URL).Err(err).Msg("parse website failed")
		writeJSON(w, r, status, pipeline.Failed(err))
		return
	}
	writeJSON(w, r, http.StatusOK, pipeline.Succeeded(doc))
}

// IsProblematicHost reports whether u's host contains one of
// ProblematicDomains.
func IsProblematicHost(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	for _, d := range ProblematicDomains {
		if strings.Contains(host, d) {
			return true
		}
	}
	return false
}

type generateResponse struct {
	Success bool       `json:"success"`
	Quiz    *quiz.Quiz `json:"quiz,omitempty"`
	Error   string     `json:"error,omitempty"`
}

func (s *Server) handleGenerateQuiz(w http.ResponseWriter, r *http.Request) {
	if s.Generator == nil {
		writeJSON(w, r, http.StatusInternalServerError, generateResponse{Error: quizgen.ErrNotConfigured.Error()})
		return
	}
	var req quizgen.Request
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, generateResponse{Error: msgBadRequest})
		return
	}
	q, err := s.Generator.Generate(r.Context(), req)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("quiz generation failed")
		switch {
		case errors.Is(err, quizgen.ErrMissingFields):
			writeJSON(w, r, http.StatusBadRequest, generateResponse{Error: err.Error()})
		case errors.Is(err, quizgen.ErrNotConfigured),
			errors.Is(err, quizgen.ErrNoResponse),
			errors.Is(err, quizgen.ErrUnparseable),
			errors.Is(err, quizgen.ErrInvalidFormat):
			writeJSON(w, r, http.StatusInternalServerError, generateResponse{Error: sentinelMessage(err)})
		default:
			writeJSON(w, r, http.StatusInternalServerError, generateResponse{Error: msgGenerateFailed})
		}
		return
	}
	writeJSON(w, r, http.StatusOK, generateResponse{Success: true, Quiz: &q})
}

// sentinelMessage returns the text of the outermost known quizgen sentinel
// so wrapped details stay in the logs.
func sentinelMessage(err error) string {
	for _, s := range []error{quizgen.ErrNotConfigured, quizgen.ErrNoResponse, quizgen.ErrUnparseable, quizgen.ErrInvalidFormat} {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return msgGenerateFailed
}

type importRequest struct {
	QuizData   string `json:"quizData"`
	PreserveID bool   `json:"preserveId"`
}

func (s *Server) handleImportQuiz(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, generateResponse{Error: msgBadRequest})
		return
	}
	if strings.TrimSpace(req.QuizData) == "" {
		writeJSON(w, r, http.StatusBadRequest, generateResponse{Error: msgQuizRequired})
		return
	}
	q, err := quiz.Import([]byte(req.QuizData), req.PreserveID, s.now())
	if err != nil {
		hlog.FromRequest(r).Info().Err(err).Msg("quiz import rejected")
		msg := quiz.ErrInvalidQuiz.Error()
		if errors.Is(err, quiz.ErrInvalidJSON) {
			msg = quiz.ErrInvalidJSON.Error()
		}
		writeJSON(w, r, http.StatusBadRequest, generateResponse{Error: msg})
		return
	}
	writeJSON(w, r, http.StatusOK, generateResponse{Success: true, Quiz: &q})
}

type exportRequest struct {
	Quiz     *quiz.Quiz `json:"quiz"`
	Format   string     `json:"format"`
	Filename string     `json:"filename"`
}

// Export formats.
const (
	FormatJSON = "json"
	FormatPDF  = "pdf"
)

func (s *Server) handleExportQuiz(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, errorBody{Error: msgBadRequest})
		return
	}
	if req.Quiz == nil {
		writeJSON(w, r, http.StatusBadRequest, errorBody{Error: msgQuizRequired})
		return
	}
	format := strings.ToLower(strings.TrimSpace(req.Format))
	if format == "" {
		format = FormatJSON
	}

	var (
		body        []byte
		filename    string
		contentType string
		err         error
	)
	switch format {
	case FormatJSON:
		body, filename, err = quiz.Export(*req.Quiz, req.Filename, s.now())
		contentType = "application/json"
	case FormatPDF:
		body, err = quiz.ExportPDF(*req.Quiz)
		filename = req.Filename
		if strings.TrimSpace(filename) == "" {
			filename = quiz.DefaultFilename(req.Quiz.Title, s.now(), ".pdf")
		}
		contentType = "application/pdf"
	default:
		writeJSON(w, r, http.StatusBadRequest, errorBody{Error: msgFormat})
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("format", format).Msg("quiz export failed")
		writeJSON(w, r, http.StatusInternalServerError, errorBody{Error: msgExportFailed})
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+headerSafeFilename(filename)+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("response write error")
	}
}

// headerSafeFilename drops characters that would break the quoted
// Content-Disposition parameter.
func headerSafeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		if r == '"' || r == '\\' || r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
}
