// Package quiz holds the quiz model and its JSON import/export formats.
package quiz

import (
	"fmt"
	"time"
)

// Question is one multiple-choice item. CorrectAnswer indexes Options.
type Question struct {
	ID            string   `json:"id"`
	Question      string   `json:"question" validate:"required"`
	Options       []string `json:"options" validate:"min=2"`
	CorrectAnswer int      `json:"correctAnswer" validate:"gte=0"`
	Explanation   string   `json:"explanation,omitempty"`
}

// Quiz is a titled set of questions generated from or about a source page.
type Quiz struct {
	ID          string     `json:"id"`
	Title       string     `json:"title" validate:"required"`
	Description string     `json:"description" validate:"required"`
	SourceURL   string     `json:"sourceUrl"`
	Questions   []Question `json:"questions" validate:"required,min=1,dive"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// QuestionID returns the identifier given to the n-th question (0-based)
// when none is supplied.
func QuestionID(n int) string {
	return fmt.Sprintf("question-%d", n+1)
}

// IsCorrect reports whether answer is the right option for q.
func (q Question) IsCorrect(answer int) bool {
	return answer == q.CorrectAnswer
}
