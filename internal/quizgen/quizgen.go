// Package quizgen turns extracted page text into a multiple-choice quiz by
// asking a chat model for strict JSON and validating what comes back.
package quizgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/goquiz/internal/cache"
	"github.com/hyperifyio/goquiz/internal/llm"
	"github.com/hyperifyio/goquiz/internal/quiz"
)

const (
	DefaultModel       = "gpt-3.5-turbo"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2000
	DefaultQuestions   = 5
	// PromptContentChars bounds how much page text goes into the prompt.
	PromptContentChars = 3000
)

var (
	ErrNotConfigured = errors.New("OpenAI API key not configured")
	ErrMissingFields = errors.New("Content, title, and quiz title are required")
	ErrNoResponse    = errors.New("No response from OpenAI")
	ErrUnparseable   = errors.New("Failed to parse quiz data from AI response")
	ErrInvalidFormat = errors.New("Invalid quiz format from AI")
	ErrCacheOnlyMiss = errors.New("quiz generation cache-only: not found")
)

const defaultExplanation = "No explanation provided"

const systemMessage = "You are a helpful assistant that creates educational quizzes based on website content. Always respond with valid JSON format."

// Request is the input of a generation call.
type Request struct {
	Content     string `json:"content"`
	Title       string `json:"title"`
	QuizTitle   string `json:"quizTitle"`
	Description string `json:"description,omitempty"`
	SourceURL   string `json:"sourceUrl,omitempty"`
}

// Generator calls an OpenAI-compatible endpoint and enforces the quiz JSON
// contract.
type Generator struct {
	Client      llm.Client
	Model       string
	Temperature float32
	MaxTokens   int
	// Questions is how many questions the prompt asks for.
	Questions int
	Cache     *cache.LLMCache
	// CacheOnly, when true, returns from cache and fails fast if missing.
	CacheOnly bool
	// Now defaults to time.Now; tests pin it.
	Now func() time.Time
}

// Generate builds the prompt, calls the model and returns a validated quiz
// with fresh identifiers.
func (g *Generator) Generate(ctx context.Context, req Request) (quiz.Quiz, error) {
	if strings.TrimSpace(req.Content) == "" || strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.QuizTitle) == "" {
		return quiz.Quiz{}, ErrMissingFields
	}
	if g.Client == nil {
		return quiz.Quiz{}, ErrNotConfigured
	}

	model := g.model()
	user := BuildPrompt(req.Title, req.Content, g.questions())
	key := cache.KeyFrom(model, systemMessage+"\n\n"+user)

	var raw []byte
	if g.Cache != nil {
		if b, ok, _ := g.Cache.Get(ctx, key); ok {
			log.Debug().Str("stage", "quizgen").Str("model", model).Msg("cache hit")
			raw = b
		}
	}
	if raw == nil {
		if g.CacheOnly {
			return quiz.Quiz{}, ErrCacheOnlyMiss
		}
		log.Debug().Str("stage", "quizgen").Str("model", model).Int("user_len", len(user)).Msg("quiz prompt")
		resp, err := g.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemMessage},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
			Temperature: g.temperature(),
			MaxTokens:   g.maxTokens(),
			N:           1,
		})
		if err != nil {
			return quiz.Quiz{}, fmt.Errorf("quiz generation call: %w", err)
		}
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			return quiz.Quiz{}, ErrNoResponse
		}
		span, err := jsonSpan(resp.Choices[0].Message.Content)
		if err != nil {
			return quiz.Quiz{}, err
		}
		raw = span
	}

	questions, err := ParseQuestions(raw)
	if err != nil {
		return quiz.Quiz{}, err
	}
	if g.Cache != nil && !g.CacheOnly {
		_ = g.Cache.Save(ctx, key, raw)
	}

	now := g.now()
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "Quiz generated from " + req.Title
	}
	return quiz.Quiz{
		ID:          uuid.NewString(),
		Title:       req.QuizTitle,
		Description: description,
		SourceURL:   req.SourceURL,
		Questions:   questions,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// BuildPrompt renders the user message. Content beyond PromptContentChars
// runes is dropped.
func BuildPrompt(title, content string, n int) string {
	if r := []rune(content); len(r) > PromptContentChars {
		content = string(r[:PromptContentChars])
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Based on the following website content, generate a quiz with %d multiple choice questions. ", n)
	sb.WriteString("Each question should have 4 options (A, B, C, D) and only one correct answer.\n\n")
	sb.WriteString("Website Title: ")
	sb.WriteString(title)
	sb.WriteString("\nWebsite Content: ")
	sb.WriteString(content)
	sb.WriteString(`

Please generate a JSON response in the following format:
{
  "questions": [
    {
      "question": "Question text here?",
      "options": ["Option A", "Option B", "Option C", "Option D"],
      "correctAnswer": 0,
      "explanation": "Explanation of why this is the correct answer"
    }
  ]
}

Make sure the questions are relevant to the content and test understanding of the key concepts. The correctAnswer should be the index (0-3) of the correct option.`)
	return sb.String()
}

// jsonSpan returns the text from the first '{' to the last '}', which strips
// prose or code fences around the payload.
func jsonSpan(s string) ([]byte, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return nil, ErrUnparseable
	}
	span := []byte(s[start : end+1])
	if !json.Valid(span) {
		return nil, ErrUnparseable
	}
	return span, nil
}

type generatedQuestion struct {
	Question      *string  `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer *int     `json:"correctAnswer"`
	Explanation   *string  `json:"explanation"`
}

// ParseQuestions decodes the model payload into validated questions. Missing
// question text and explanations get placeholders; anything that still
// fails validation rejects the whole payload.
func ParseQuestions(raw []byte) ([]quiz.Question, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, ErrUnparseable
	}
	list, ok := envelope["questions"]
	if !ok || !bytes.HasPrefix(bytes.TrimSpace(list), []byte("[")) {
		return nil, ErrInvalidFormat
	}
	var items []generatedQuestion
	if err := json.Unmarshal(list, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if len(items) == 0 {
		return nil, ErrInvalidFormat
	}

	out := make([]quiz.Question, 0, len(items))
	for i, it := range items {
		q := quiz.Question{
			ID:          quiz.QuestionID(i),
			Question:    fmt.Sprintf("Question %d", i+1),
			Options:     it.Options,
			Explanation: defaultExplanation,
		}
		if it.Question != nil && strings.TrimSpace(*it.Question) != "" {
			q.Question = *it.Question
		}
		if it.Explanation != nil && strings.TrimSpace(*it.Explanation) != "" {
			q.Explanation = *it.Explanation
		}
		if it.CorrectAnswer != nil {
			q.CorrectAnswer = *it.CorrectAnswer
		}
		if err := quiz.ValidateQuestion(q); err != nil {
			return nil, fmt.Errorf("%w: question %d: %v", ErrInvalidFormat, i+1, err)
		}
		out = append(out, q)
	}
	return out, nil
}

func (g *Generator) model() string {
	if g.Model == "" {
		return DefaultModel
	}
	return g.Model
}

func (g *Generator) temperature() float32 {
	if g.Temperature <= 0 {
		return DefaultTemperature
	}
	return g.Temperature
}

func (g *Generator) maxTokens() int {
	if g.MaxTokens <= 0 {
		return DefaultMaxTokens
	}
	return g.MaxTokens
}

func (g *Generator) questions() int {
	if g.Questions <= 0 {
		return DefaultQuestions
	}
	return g.Questions
}

func (g *Generator) now() time.Time {
	if g.Now == nil {
		return time.Now().UTC()
	}
	return g.Now()
}
