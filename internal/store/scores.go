package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hyperifyio/goquiz/internal/storage"
)

// Score is one completed attempt in the history.
type Score struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	QuizID         string    `json:"quizId"`
	QuizTitle      string    `json:"quizTitle"`
	Score          int       `json:"score"`
	TotalQuestions int       `json:"totalQuestions"`
	Percentage     float64   `json:"percentage"`
	CompletedAt    time.Time `json:"completedAt"`
}

// UserSource identifies the current user; "" means nobody.
type UserSource interface {
	CurrentUserID() string
}

type scoreState struct {
	ScoreHistory []Score `json:"scoreHistory"`
}

// ScoreStore is the score history of every profile that used this store.
// Queries only see the current user's scores.
type ScoreStore struct {
	Now func() time.Time

	kv    storage.KV
	users UserSource
	mu    sync.Mutex
	state scoreState
}

func NewScoreStore(kv storage.KV, users UserSource) (*ScoreStore, error) {
	s := &ScoreStore{kv: kv, users: users, Now: nowUTC}
	if _, err := storage.Load(kv, KeyScores, &s.state); err != nil {
		return nil, fmt.Errorf("load scores: %w", err)
	}
	return s, nil
}

func (s *ScoreStore) commit(next scoreState) error {
	if next.ScoreHistory == nil {
		next.ScoreHistory = []Score{}
	}
	if err := storage.Save(s.kv, KeyScores, next); err != nil {
		return err
	}
	s.state = next
	return nil
}

// Percentage is score/total in percent, 0 for an empty quiz.
func Percentage(score, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(score) / float64(total) * 100
}

// AddScore records a finished attempt for the current user.
func (s *ScoreStore) AddScore(quizID, quizTitle string, score, total int) (Score, error) {
	uid := s.users.CurrentUserID()
	if uid == "" {
		return Score{}, ErrNoProfile
	}
	sc := Score{
		ID:             uuid.NewString(),
		UserID:         uid,
		QuizID:         quizID,
		QuizTitle:      quizTitle,
		Score:          score,
		TotalQuestions: total,
		Percentage:     Percentage(score, total),
		CompletedAt:    s.Now(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := scoreState{ScoreHistory: append(append([]Score(nil), s.state.ScoreHistory...), sc)}
	return sc, s.commit(next)
}

// UserScores returns the current user's scores in recording order.
func (s *ScoreStore) UserScores() []Score {
	uid := s.users.CurrentUserID()
	if uid == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Score
	for _, sc := range s.state.ScoreHistory {
		if sc.UserID == uid {
			out = append(out, sc)
		}
	}
	return out
}

// BestScoresByQuiz maps quiz id to the current user's highest percentage.
// Ties keep the earliest score.
func (s *ScoreStore) BestScoresByQuiz() map[string]Score {
	best := map[string]Score{}
	for _, sc := range s.UserScores() {
		if cur, ok := best[sc.QuizID]; !ok || sc.Percentage > cur.Percentage {
			best[sc.QuizID] = sc
		}
	}
	return best
}

func (s *ScoreStore) BestScoreForQuiz(quizID string) (Score, bool) {
	sc, ok := s.BestScoresByQuiz()[quizID]
	return sc, ok
}

// HistoryForQuiz returns the current user's scores for quizID, newest first.
func (s *ScoreStore) HistoryForQuiz(quizID string) []Score {
	var out []Score
	for _, sc := range s.UserScores() {
		if sc.QuizID == quizID {
			out = append(out, sc)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CompletedAt.After(out[j].CompletedAt) })
	return out
}

// ClearHistory removes the current user's scores and keeps everyone else's.
func (s *ScoreStore) ClearHistory() error {
	uid := s.users.CurrentUserID()
	if uid == "" {
		return ErrNoProfile
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := make([]Score, 0, len(s.state.ScoreHistory))
	for _, sc := range s.state.ScoreHistory {
		if sc.UserID != uid {
			kept = append(kept, sc)
		}
	}
	return s.commit(scoreState{ScoreHistory: kept})
}
