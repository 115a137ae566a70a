package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperifyio/goquiz/internal/quiz"
	"github.com/hyperifyio/goquiz/internal/storage"
)

var t0 = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func fixedClock(start time.Time) func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return start.Add(time.Duration(n) * time.Minute)
	}
}

func testQuiz(id string) quiz.Quiz {
	return quiz.Quiz{
		ID:          id,
		Title:       "Quiz " + id,
		Description: "desc",
		Questions: []quiz.Question{
			{ID: "question-1", Question: "1+1?", Options: []string{"1", "2", "3"}, CorrectAnswer: 1},
			{ID: "question-2", Question: "2+2?", Options: []string{"4", "5"}, CorrectAnswer: 0},
		},
		CreatedAt: t0,
		UpdatedAt: t0,
	}
}

func newQuizStore(t *testing.T, kv storage.KV) *QuizStore {
	t.Helper()
	s, err := NewQuizStore(kv)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	s.Now = fixedClock(t0)
	return s
}

func TestQuizStore_AddGetRemove(t *testing.T) {
	s := newQuizStore(t, storage.NewMemoryKV())
	if err := s.Add(testQuiz("a")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Add(testQuiz("b")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Add(testQuiz("a")); !errors.Is(err, ErrQuizExists) {
		t.Fatalf("expected ErrQuizExists, got %v", err)
	}
	if s.Count() != 2 {
		t.Fatalf("expected 2 quizzes, got %d", s.Count())
	}
	if q, ok := s.Get("b"); !ok || q.Title != "Quiz b" {
		t.Fatalf("get b failed")
	}
	bad := testQuiz("c")
	bad.Questions[0].CorrectAnswer = 9
	if err := s.Add(bad); err == nil {
		t.Fatalf("invalid quiz accepted")
	}
	if err := s.Remove("a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.Remove("a"); !errors.Is(err, ErrQuizNotFound) {
		t.Fatalf("expected ErrQuizNotFound, got %v", err)
	}
	if list := s.List(); len(list) != 1 || list[0].ID != "b" {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestQuizStore_UpdateBumpsUpdatedAt(t *testing.T) {
	s := newQuizStore(t, storage.NewMemoryKV())
	_ = s.Add(testQuiz("a"))
	title := "Renamed"
	q, err := s.Update("a", QuizUpdate{Title: &title})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if q.Title != "Renamed" || !q.UpdatedAt.After(t0) || !q.CreatedAt.Equal(t0) {
		t.Fatalf("unexpected quiz %+v", q)
	}
	if _, err := s.Update("zzz", QuizUpdate{Title: &title}); !errors.Is(err, ErrQuizNotFound) {
		t.Fatalf("expected ErrQuizNotFound, got %v", err)
	}
}

func TestQuizStore_AttemptFlow(t *testing.T) {
	s := newQuizStore(t, storage.NewMemoryKV())
	_ = s.Add(testQuiz("a"))
	if _, err := s.StartAttempt("missing"); !errors.Is(err, ErrQuizNotFound) {
		t.Fatalf("expected ErrQuizNotFound, got %v", err)
	}
	if _, err := s.SubmitAnswer(0, 0); !errors.Is(err, ErrNoAttempt) {
		t.Fatalf("expected ErrNoAttempt, got %v", err)
	}
	a, err := s.StartAttempt("a")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if a.TotalQuestions != 2 || a.Answers[0] != Unanswered || a.Completed() {
		t.Fatalf("unexpected attempt %+v", a)
	}

	a, _ = s.SubmitAnswer(0, 1)
	if a.Score != 1 || s.Progress() != 50 || a.Completed() {
		t.Fatalf("after first answer: %+v progress=%v", a, s.Progress())
	}
	// Re-submitting the same correct answer must not count twice.
	a, _ = s.SubmitAnswer(0, 1)
	if a.Score != 1 {
		t.Fatalf("score double counted: %d", a.Score)
	}
	a, _ = s.SubmitAnswer(1, 1)
	if a.Score != 1 || !a.Completed() || s.Progress() != 100 {
		t.Fatalf("after last answer: %+v", a)
	}
	a, _ = s.SubmitAnswer(1, 0)
	if a.Score != 2 {
		t.Fatalf("changed answer should be rescored, got %d", a.Score)
	}

	if _, err := s.SubmitAnswer(5, 0); !errors.Is(err, ErrQuestionIndex) {
		t.Fatalf("expected ErrQuestionIndex, got %v", err)
	}
	if _, err := s.SubmitAnswer(0, 3); !errors.Is(err, ErrAnswerIndex) {
		t.Fatalf("expected ErrAnswerIndex, got %v", err)
	}

	if err := s.ClearCurrent(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if q, a := s.Current(); q != nil || a != nil || s.Progress() != 0 {
		t.Fatalf("current not cleared")
	}
}

func TestQuizStore_RemoveClearsCurrent(t *testing.T) {
	s := newQuizStore(t, storage.NewMemoryKV())
	_ = s.Add(testQuiz("a"))
	if err := s.SetCurrent("a"); err != nil {
		t.Fatalf("set current: %v", err)
	}
	if q, a := s.Current(); q == nil || q.ID != "a" || a != nil {
		t.Fatalf("unexpected current")
	}
	_ = s.Remove("a")
	if q, _ := s.Current(); q != nil {
		t.Fatalf("removed quiz still current")
	}
}

func TestQuizStore_PersistsAcrossInstances(t *testing.T) {
	kv := &storage.FileKV{Dir: filepath.Join(t.TempDir(), "data")}
	s := newQuizStore(t, kv)
	_ = s.Add(testQuiz("a"))
	_, _ = s.StartAttempt("a")
	_, _ = s.SubmitAnswer(0, 1)

	reloaded := newQuizStore(t, kv)
	q, ok := reloaded.Get("a")
	if !ok || !q.CreatedAt.Equal(t0) {
		t.Fatalf("quiz not reloaded: %+v", q)
	}
	cur, att := reloaded.Current()
	if cur == nil || att == nil || att.Score != 1 || att.Answers[0] != 1 {
		t.Fatalf("attempt not reloaded: %+v %+v", cur, att)
	}
}

func TestQuizStore_UpdateQuestionsDropsOpenAttempt(t *testing.T) {
	s := newQuizStore(t, storage.NewMemoryKV())
	if err := s.Add(testQuiz("a")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := s.StartAttempt("a"); err != nil {
		t.Fatalf("start: %v", err)
	}
	qs := append(testQuiz("a").Questions, quiz.Question{ID: "question-3", Question: "3+3?", Options: []string{"6", "7"}, CorrectAnswer: 0})
	if _, err := s.Update("a", QuizUpdate{Questions: qs}); err != nil {
		t.Fatalf("update: %v", err)
	}
	cur, att := s.Current()
	if cur == nil || len(cur.Questions) != 3 {
		t.Fatalf("current quiz should follow the update: %+v", cur)
	}
	if att != nil {
		t.Fatalf("open attempt should be dropped, got %+v", att)
	}
	if _, err := s.SubmitAnswer(2, 0); !errors.Is(err, ErrNoAttempt) {
		t.Fatalf("expected ErrNoAttempt, got %v", err)
	}

	title := "Renamed"
	if _, err := s.StartAttempt("a"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if _, err := s.Update("a", QuizUpdate{Title: &title}); err != nil {
		t.Fatalf("update title: %v", err)
	}
	if _, att := s.Current(); att == nil {
		t.Fatalf("title change should keep the attempt")
	}
	if at, err := s.SubmitAnswer(2, 0); err != nil || at.Answers[2] != 0 {
		t.Fatalf("submit: %+v %v", at, err)
	}
}

func TestQuizStore_SubmitAnswerRejectsShortAttempt(t *testing.T) {
	kv := storage.NewMemoryKV()
	q := testQuiz("a")
	state := quizState{
		Quizzes:        []quiz.Quiz{q},
		CurrentQuiz:    &q,
		CurrentAttempt: &Attempt{ID: "x", QuizID: "a", Answers: []int{Unanswered}, TotalQuestions: 1},
	}
	if err := storage.Save(kv, KeyQuizzes, state); err != nil {
		t.Fatalf("seed: %v", err)
	}
	s := newQuizStore(t, kv)
	if _, err := s.SubmitAnswer(1, 0); !errors.Is(err, ErrQuestionIndex) {
		t.Fatalf("expected ErrQuestionIndex, got %v", err)
	}
}
