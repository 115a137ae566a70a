package store

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hyperifyio/goquiz/internal/storage"
)

const (
	ThemeDark  = "dark"
	ThemeLight = "light"
	// GuestName is shown when no profile exists.
	GuestName = "Guest"
	// MaxDescription is the profile description limit in characters; it
	// must match the max tag on Profile.Description.
	MaxDescription = 250
	// DefaultGravatarSize is the avatar edge length in pixels.
	DefaultGravatarSize = 80
)

var profileValidator = validator.New()

// Preferences are per-user UI settings.
type Preferences struct {
	Theme         string `json:"theme" validate:"oneof=dark light"`
	Notifications bool   `json:"notifications"`
}

// DefaultPreferences apply when no profile exists.
func DefaultPreferences() Preferences {
	return Preferences{Theme: ThemeDark, Notifications: true}
}

// Profile is the local, unauthenticated user identity.
type Profile struct {
	ID          string      `json:"id"`
	Name        string      `json:"name" validate:"required"`
	Email       string      `json:"email" validate:"omitempty,email"`
	Description string      `json:"description,omitempty" validate:"max=250"`
	Interests   []string    `json:"interests,omitempty"`
	Preferences Preferences `json:"preferences"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// ProfileUpdate holds the fields Update may change; nil leaves a field as is.
type ProfileUpdate struct {
	Name        *string
	Email       *string
	Description *string
	Interests   []string
}

// PreferencesUpdate is a partial Preferences.
type PreferencesUpdate struct {
	Theme         *string
	Notifications *bool
}

type profileState struct {
	Profile *Profile `json:"profile"`
}

// ProfileStore holds at most one profile.
type ProfileStore struct {
	Now func() time.Time

	kv    storage.KV
	mu    sync.Mutex
	state profileState
}

func NewProfileStore(kv storage.KV) (*ProfileStore, error) {
	s := &ProfileStore{kv: kv, Now: nowUTC}
	if _, err := storage.Load(kv, KeyProfile, &s.state); err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	return s, nil
}

func (s *ProfileStore) commit(next profileState) error {
	if err := storage.Save(s.kv, KeyProfile, next); err != nil {
		return err
	}
	s.state = next
	return nil
}

// Create replaces any existing profile with a new one.
func (s *ProfileStore) Create(name, email, description string, interests []string) (Profile, error) {
	now := s.Now()
	p := Profile{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(name),
		Email:       strings.TrimSpace(email),
		Description: description,
		Interests:   interests,
		Preferences: DefaultPreferences(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := validateProfile(p); err != nil {
		return Profile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return p, s.commit(profileState{Profile: &p})
}

// Update merges u into the profile.
func (s *ProfileStore) Update(u ProfileUpdate) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Profile == nil {
		return Profile{}, ErrNoProfile
	}
	p := *s.state.Profile
	if u.Name != nil {
		p.Name = strings.TrimSpace(*u.Name)
	}
	if u.Email != nil {
		p.Email = strings.TrimSpace(*u.Email)
	}
	if u.Description != nil {
		p.Description = *u.Description
	}
	if u.Interests != nil {
		p.Interests = u.Interests
	}
	p.UpdatedAt = s.Now()
	if err := validateProfile(p); err != nil {
		return Profile{}, err
	}
	return p, s.commit(profileState{Profile: &p})
}

// UpdatePreferences merges u into the profile's preferences.
func (s *ProfileStore) UpdatePreferences(u PreferencesUpdate) (Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Profile == nil {
		return Preferences{}, ErrNoProfile
	}
	p := *s.state.Profile
	if u.Theme != nil {
		p.Preferences.Theme = *u.Theme
	}
	if u.Notifications != nil {
		p.Preferences.Notifications = *u.Notifications
	}
	p.UpdatedAt = s.Now()
	if err := validateProfile(p); err != nil {
		return Preferences{}, err
	}
	return p.Preferences, s.commit(profileState{Profile: &p})
}

// Clear forgets the profile. Scores recorded under it are kept.
func (s *ProfileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(profileState{})
}

// Current returns the profile if one exists.
func (s *ProfileStore) Current() (Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Profile == nil {
		return Profile{}, false
	}
	return *s.state.Profile, true
}

func (s *ProfileStore) LoggedIn() bool {
	_, ok := s.Current()
	return ok
}

// CurrentUserID returns the profile id, or "" without a profile.
func (s *ProfileStore) CurrentUserID() string {
	p, _ := s.Current()
	return p.ID
}

// Name returns the profile name, or GuestName.
func (s *ProfileStore) Name() string {
	if p, ok := s.Current(); ok && p.Name != "" {
		return p.Name
	}
	return GuestName
}

func (s *ProfileStore) Preferences() Preferences {
	if p, ok := s.Current(); ok {
		return p.Preferences
	}
	return DefaultPreferences()
}

// Gravatar returns the avatar URL for the profile's email.
func (s *ProfileStore) Gravatar(size int) string {
	p, _ := s.Current()
	return GravatarURL(p.Email, size)
}

// GravatarURL builds a Gravatar image URL with the "mystery person"
// fallback. An empty email maps to the all-zero hash.
func GravatarURL(email string, size int) string {
	if size <= 0 {
		size = DefaultGravatarSize
	}
	hash := strings.Repeat("0", 32)
	if e := strings.ToLower(strings.TrimSpace(email)); e != "" {
		sum := md5.Sum([]byte(e))
		hash = hex.EncodeToString(sum[:])
	}
	return fmt.Sprintf("https://www.gravatar.com/avatar/%s?s=%d&d=mp", hash, size)
}

// ProfileError describes which profile fields failed validation.
type ProfileError struct {
	Fields []string
}

func (e *ProfileError) Error() string {
	return "invalid profile: " + strings.Join(e.Fields, "; ")
}

func validateProfile(p Profile) error {
	err := profileValidator.Struct(p)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		out := &ProfileError{}
		for _, fe := range ve {
			out.Fields = append(out.Fields, fmt.Sprintf("%s %s", fe.Field(), fe.ActualTag()))
		}
		return out
	}
	return err
}
