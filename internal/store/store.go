// Package store keeps the quiz library, the score history and the local user
// profile. Each store loads its full state from one storage key when built
// and writes it back after every mutation.
package store

import (
	"errors"
	"time"

	"github.com/hyperifyio/goquiz/internal/storage"
)

// Storage keys, one per store.
const (
	KeyQuizzes     = "quizzes"
	KeyScores      = "quizScores"
	KeyProfile     = "userProfile"
	KeyProxyCursor = "proxyCursor"
)

var (
	ErrQuizNotFound  = errors.New("Quiz not found")
	ErrQuizExists    = errors.New("quiz already exists")
	ErrNoAttempt     = errors.New("no quiz attempt in progress")
	ErrQuestionIndex = errors.New("question index out of range")
	ErrAnswerIndex   = errors.New("answer index out of range")
	ErrNoProfile     = errors.New("User not logged in")
)

func nowUTC() time.Time { return time.Now().UTC() }

// LoadCursor returns the persisted proxy cursor, or 0 when none is stored.
func LoadCursor(kv storage.KV) (int, error) {
	var c int
	if _, err := storage.Load(kv, KeyProxyCursor, &c); err != nil {
		return 0, err
	}
	return c, nil
}

// SaveCursor persists the proxy cursor for the next extraction.
func SaveCursor(kv storage.KV, cursor int) error {
	return storage.Save(kv, KeyProxyCursor, cursor)
}
