package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hyperifyio/goquiz/internal/quiz"
	"github.com/hyperifyio/goquiz/internal/storage"
)

// Unanswered marks an answer slot the user has not filled yet.
const Unanswered = -1

// Attempt is one run through a quiz. Answers has one slot per question.
type Attempt struct {
	ID             string     `json:"id"`
	QuizID         string     `json:"quizId"`
	Answers        []int      `json:"answers"`
	Score          int        `json:"score"`
	TotalQuestions int        `json:"totalQuestions"`
	StartedAt      time.Time  `json:"startedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// Answered counts filled answer slots.
func (a Attempt) Answered() int {
	n := 0
	for _, v := range a.Answers {
		if v != Unanswered {
			n++
		}
	}
	return n
}

// Completed reports whether every question has an answer.
func (a Attempt) Completed() bool {
	return a.CompletedAt != nil
}

type quizState struct {
	Quizzes        []quiz.Quiz `json:"quizzes"`
	CurrentQuiz    *quiz.Quiz  `json:"currentQuiz"`
	CurrentAttempt *Attempt    `json:"currentAttempt"`
}

// QuizUpdate holds the fields Update may change; nil leaves a field as is.
type QuizUpdate struct {
	Title       *string
	Description *string
	SourceURL   *string
	Questions   []quiz.Question
}

// QuizStore is the quiz library plus the quiz currently being taken.
type QuizStore struct {
	// Now defaults to the UTC wall clock.
	Now func() time.Time

	kv    storage.KV
	mu    sync.Mutex
	state quizState
}

// NewQuizStore loads the library from kv.
func NewQuizStore(kv storage.KV) (*QuizStore, error) {
	s := &QuizStore{kv: kv, Now: nowUTC}
	if _, err := storage.Load(kv, KeyQuizzes, &s.state); err != nil {
		return nil, fmt.Errorf("load quizzes: %w", err)
	}
	return s, nil
}

// commit persists next and makes it the live state only if that succeeded.
func (s *QuizStore) commit(next quizState) error {
	if next.Quizzes == nil {
		next.Quizzes = []quiz.Quiz{}
	}
	if err := storage.Save(s.kv, KeyQuizzes, next); err != nil {
		return err
	}
	s.state = next
	return nil
}

func (s *QuizStore) cloneState() quizState {
	next := s.state
	next.Quizzes = append([]quiz.Quiz(nil), s.state.Quizzes...)
	return next
}

func (s *QuizStore) indexOf(id string) int {
	for i, q := range s.state.Quizzes {
		if q.ID == id {
			return i
		}
	}
	return -1
}

// List returns the quizzes in insertion order.
func (s *QuizStore) List() []quiz.Quiz {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]quiz.Quiz(nil), s.state.Quizzes...)
}

func (s *QuizStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.Quizzes)
}

func (s *QuizStore) Get(id string) (quiz.Quiz, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		return s.state.Quizzes[i], true
	}
	return quiz.Quiz{}, false
}

// Add validates q and appends it. Ids must be unique.
func (s *QuizStore) Add(q quiz.Quiz) error {
	if err := quiz.Validate(q); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if s.indexOf(q.ID) >= 0 {
		return fmt.Errorf("%w: %s", ErrQuizExists, q.ID)
	}
	next := s.cloneState()
	next.Quizzes = append(next.Quizzes, q)
	return s.commit(next)
}

// Update applies u to the quiz with id and bumps its UpdatedAt.
func (s *QuizStore) Update(id string, u QuizUpdate) (quiz.Quiz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return quiz.Quiz{}, ErrQuizNotFound
	}
	q := s.state.Quizzes[i]
	if u.Title != nil {
		q.Title = *u.Title
	}
	if u.Description != nil {
		q.Description = *u.Description
	}
	if u.SourceURL != nil {
		q.SourceURL = *u.SourceURL
	}
	if u.Questions != nil {
		q.Questions = u.Questions
	}
	q.UpdatedAt = s.Now()
	if err := quiz.Validate(q); err != nil {
		return quiz.Quiz{}, err
	}
	next := s.cloneState()
	next.Quizzes[i] = q
	if next.CurrentQuiz != nil && next.CurrentQuiz.ID == id {
		next.CurrentQuiz = &q
		// Answers of an open attempt index the old question list.
		if u.Questions != nil {
			next.CurrentAttempt = nil
		}
	}
	return q, s.commit(next)
}

// Remove deletes the quiz and drops it as current quiz if it was.
func (s *QuizStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return ErrQuizNotFound
	}
	next := s.cloneState()
	next.Quizzes = append(next.Quizzes[:i], next.Quizzes[i+1:]...)
	if next.CurrentQuiz != nil && next.CurrentQuiz.ID == id {
		next.CurrentQuiz = nil
		next.CurrentAttempt = nil
	}
	return s.commit(next)
}

// SetCurrent selects a quiz without starting an attempt. An empty id
// clears the selection.
func (s *QuizStore) SetCurrent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cloneState()
	next.CurrentAttempt = nil
	if id == "" {
		next.CurrentQuiz = nil
		return s.commit(next)
	}
	i := s.indexOf(id)
	if i < 0 {
		return ErrQuizNotFound
	}
	q := s.state.Quizzes[i]
	next.CurrentQuiz = &q
	return s.commit(next)
}

// Current returns the selected quiz and attempt, either of which may be nil.
func (s *QuizStore) Current() (*quiz.Quiz, *Attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var q *quiz.Quiz
	var a *Attempt
	if s.state.CurrentQuiz != nil {
		c := *s.state.CurrentQuiz
		q = &c
	}
	if s.state.CurrentAttempt != nil {
		c := *s.state.CurrentAttempt
		c.Answers = append([]int(nil), c.Answers...)
		a = &c
	}
	return q, a
}

// StartAttempt makes the quiz current and opens a fresh attempt on it.
func (s *QuizStore) StartAttempt(id string) (Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return Attempt{}, ErrQuizNotFound
	}
	q := s.state.Quizzes[i]
	answers := make([]int, len(q.Questions))
	for j := range answers {
		answers[j] = Unanswered
	}
	a := Attempt{
		ID:             uuid.NewString(),
		QuizID:         id,
		Answers:        answers,
		TotalQuestions: len(q.Questions),
		StartedAt:      s.Now(),
	}
	next := s.cloneState()
	next.CurrentQuiz = &q
	next.CurrentAttempt = &a
	return a, s.commit(next)
}

// SubmitAnswer records answerIndex for questionIndex in the current attempt.
// Answers may be changed; the score is recomputed from all answers so a
// repeated submission never counts twice. The attempt is completed once every
// question has an answer.
func (s *QuizStore) SubmitAnswer(questionIndex, answerIndex int) (Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.CurrentAttempt == nil || s.state.CurrentQuiz == nil {
		return Attempt{}, ErrNoAttempt
	}
	q := s.state.CurrentQuiz
	if questionIndex < 0 || questionIndex >= len(q.Questions) || questionIndex >= len(s.state.CurrentAttempt.Answers) {
		return Attempt{}, ErrQuestionIndex
	}
	if answerIndex < 0 || answerIndex >= len(q.Questions[questionIndex].Options) {
		return Attempt{}, ErrAnswerIndex
	}

	a := *s.state.CurrentAttempt
	a.Answers = append([]int(nil), a.Answers...)
	a.Answers[questionIndex] = answerIndex
	a.Score = score(*q, a.Answers)
	if a.Answered() == len(q.Questions) && a.CompletedAt == nil {
		t := s.Now()
		a.CompletedAt = &t
	}

	next := s.cloneState()
	next.CurrentAttempt = &a
	return a, s.commit(next)
}

// Progress is the share of answered questions in the current attempt, in
// percent.
func (s *QuizStore) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.state.CurrentAttempt
	if a == nil || s.state.CurrentQuiz == nil || len(s.state.CurrentQuiz.Questions) == 0 {
		return 0
	}
	return float64(a.Answered()) / float64(len(s.state.CurrentQuiz.Questions)) * 100
}

// ClearCurrent drops the current quiz and attempt.
func (s *QuizStore) ClearCurrent() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cloneState()
	next.CurrentQuiz = nil
	next.CurrentAttempt = nil
	return s.commit(next)
}

func score(q quiz.Quiz, answers []int) int {
	n := 0
	for i, ans := range answers {
		if i < len(q.Questions) && q.Questions[i].IsCorrect(ans) {
			n++
		}
	}
	return n
}
