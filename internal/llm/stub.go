package llm

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

var (
	stubCountPattern = regexp.MustCompile(`generate a quiz with (\d+) multiple choice questions`)
	stubTitlePattern = regexp.MustCompile(`(?m)^Website Title: (.*)$`)
)

// NewStubHandler returns an offline OpenAI-compatible endpoint for tests and
// demos. It serves /v1/models and /v1/chat/completions and answers quiz
// prompts with deterministic questions built from the prompt's title.
func NewStubHandler(model string) http.Handler {
	if strings.TrimSpace(model) == "" {
		model = "test-model"
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		writeStubJSON(w, openai.ModelsList{Models: []openai.Model{{ID: model, Object: "model"}}})
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		var user string
		for _, m := range req.Messages {
			if m.Role == openai.ChatMessageRoleUser {
				user = m.Content
			}
		}
		m := stubCountPattern.FindStringSubmatch(user)
		if m == nil {
			http.Error(w, "unexpected prompt", http.StatusBadRequest)
			return
		}
		n, _ := strconv.Atoi(m[1])
		title := "the page"
		if t := stubTitlePattern.FindStringSubmatch(user); t != nil && strings.TrimSpace(t[1]) != "" {
			title = strings.TrimSpace(t[1])
		}
		writeStubJSON(w, openai.ChatCompletionResponse{
			Model: model,
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleAssistant,
					Content: StubQuizJSON(title, n),
				},
				FinishReason: openai.FinishReasonStop,
			}},
		})
	})
	return mux
}

// StubQuizJSON renders n questions about title in the quiz payload format.
// Question i has its correct answer at index i%4.
func StubQuizJSON(title string, n int) string {
	type question struct {
		Question      string   `json:"question"`
		Options       []string `json:"options"`
		CorrectAnswer int      `json:"correctAnswer"`
		Explanation   string   `json:"explanation"`
	}
	qs := make([]question, 0, n)
	for i := 0; i < n; i++ {
		correct := i % 4
		opts := make([]string, 4)
		for j := range opts {
			if j == correct {
				opts[j] = fmt.Sprintf("Fact %d about %s", i+1, title)
			} else {
				opts[j] = fmt.Sprintf("Distractor %d.%d", i+1, j+1)
			}
		}
		qs = append(qs, question{
			Question:      fmt.Sprintf("Which statement about %s is true? (%d)", title, i+1),
			Options:       opts,
			CorrectAnswer: correct,
			Explanation:   fmt.Sprintf("The page states fact %d.", i+1),
		})
	}
	b, _ := json.Marshal(map[string]any{"questions": qs})
	return string(b)
}

func writeStubJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
