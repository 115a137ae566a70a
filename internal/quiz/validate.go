package quiz

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var goValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(answerInRange, Question{})
	return v
}

// answerInRange enforces 0 <= CorrectAnswer < len(Options), which tags alone
// cannot express.
func answerInRange(sl validator.StructLevel) {
	q := sl.Current().Interface().(Question)
	if q.CorrectAnswer >= len(q.Options) {
		sl.ReportError(q.CorrectAnswer, "correctAnswer", "CorrectAnswer", "answerinrange", fmt.Sprint(len(q.Options)))
	}
}

// ValidationError lists every failed rule of a quiz.
type ValidationError struct {
	Fields []string `json:"errors"`
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid quiz"
	}
	return "invalid quiz: " + strings.Join(e.Fields, "; ")
}

// Validate checks the structural rules every stored or imported quiz must
// satisfy. It returns a *ValidationError on failure.
func Validate(q Quiz) error {
	return validateStruct(q)
}

// ValidateQuestion checks a single question.
func ValidateQuestion(q Question) error {
	return validateStruct(q)
}

func validateStruct(s any) error {
	err := goValidator.Struct(s)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		out := &ValidationError{}
		for _, fe := range ve {
			out.Fields = append(out.Fields, fmt.Sprintf("%s %s", fe.StructNamespace(), fe.ActualTag()))
		}
		return out
	}
	return err
}
