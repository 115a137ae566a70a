package quiz

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidJSON = errors.New("Invalid JSON format")
	ErrInvalidQuiz = errors.New("Invalid quiz format")
)

// importedQuiz mirrors Quiz with pointers so absent fields can be told apart
// from zero values.
type importedQuiz struct {
	ID          *string            `json:"id"`
	Title       *string            `json:"title"`
	Description *string            `json:"description"`
	SourceURL   *string            `json:"sourceUrl"`
	Questions   []importedQuestion `json:"questions"`
	CreatedAt   *time.Time         `json:"createdAt"`
	UpdatedAt   *time.Time         `json:"updatedAt"`
}

type importedQuestion struct {
	ID            *string  `json:"id"`
	Question      *string  `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer *int     `json:"correctAnswer"`
	Explanation   *string  `json:"explanation"`
}

// Import parses a serialized quiz and validates it. The quiz gets a fresh id
// unless preserveID is set and the data carries one. UpdatedAt is set to now;
// CreatedAt only when absent.
func Import(data []byte, preserveID bool, now time.Time) (Quiz, error) {
	if !json.Valid(data) {
		return Quiz{}, ErrInvalidJSON
	}
	var in importedQuiz
	if err := json.Unmarshal(data, &in); err != nil {
		// Valid JSON of the wrong shape, e.g. a string title given as a number.
		return Quiz{}, fmt.Errorf("%w: %v", ErrInvalidQuiz, err)
	}
	if in.Questions == nil {
		return Quiz{}, fmt.Errorf("%w: questions missing", ErrInvalidQuiz)
	}

	q := Quiz{
		Title:       deref(in.Title),
		Description: deref(in.Description),
		SourceURL:   deref(in.SourceURL),
		Questions:   make([]Question, 0, len(in.Questions)),
		UpdatedAt:   now,
	}
	for i, iq := range in.Questions {
		if iq.CorrectAnswer == nil {
			return Quiz{}, fmt.Errorf("%w: question %d has no correctAnswer", ErrInvalidQuiz, i+1)
		}
		id := deref(iq.ID)
		if id == "" {
			id = QuestionID(i)
		}
		q.Questions = append(q.Questions, Question{
			ID:            id,
			Question:      deref(iq.Question),
			Options:       iq.Options,
			CorrectAnswer: *iq.CorrectAnswer,
			Explanation:   deref(iq.Explanation),
		})
	}
	if err := Validate(q); err != nil {
		return Quiz{}, fmt.Errorf("%w: %v", ErrInvalidQuiz, err)
	}

	if preserveID && deref(in.ID) != "" {
		q.ID = *in.ID
	} else {
		q.ID = uuid.NewString()
	}
	if in.CreatedAt != nil && !in.CreatedAt.IsZero() {
		q.CreatedAt = *in.CreatedAt
	} else {
		q.CreatedAt = now
	}
	return q, nil
}

// Export renders q as two-space indented JSON. When filename is empty a name
// is derived from the title and now.
func Export(q Quiz, filename string, now time.Time) ([]byte, string, error) {
	b, err := json.MarshalIndent(q, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("encode quiz: %w", err)
	}
	if strings.TrimSpace(filename) == "" {
		filename = DefaultFilename(q.Title, now, ".json")
	}
	return b, filename, nil
}

// DefaultFilename returns "<sanitized-title>_<unix-millis><ext>".
func DefaultFilename(title string, now time.Time, ext string) string {
	return SanitizeFilename(title) + "_" + strconv.FormatInt(now.UnixMilli(), 10) + ext
}

// SanitizeFilename replaces every character outside [A-Za-z0-9] with '_' and
// lowercases the result.
func SanitizeFilename(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
