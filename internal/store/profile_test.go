package store

import (
	"errors"
	"strings"
	"testing"

	"github.com/hyperifyio/goquiz/internal/storage"
)

func newProfileStore(t *testing.T, kv storage.KV) *ProfileStore {
	t.Helper()
	s, err := NewProfileStore(kv)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	s.Now = fixedClock(t0)
	return s
}

func TestProfileStore_Defaults(t *testing.T) {
	s := newProfileStore(t, storage.NewMemoryKV())
	if s.LoggedIn() || s.Name() != GuestName || s.CurrentUserID() != "" {
		t.Fatalf("empty store should act as guest")
	}
	if p := s.Preferences(); p.Theme != ThemeDark || !p.Notifications {
		t.Fatalf("unexpected default preferences %+v", p)
	}
	if _, err := s.Update(ProfileUpdate{}); !errors.Is(err, ErrNoProfile) {
		t.Fatalf("expected ErrNoProfile, got %v", err)
	}
}

func TestProfileStore_CreateUpdateClear(t *testing.T) {
	kv := storage.NewMemoryKV()
	s := newProfileStore(t, kv)
	p, err := s.Create("Ada", "ada@example.com", "likes maths", []string{"go"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.ID == "" || p.Preferences.Theme != ThemeDark || !p.Preferences.Notifications {
		t.Fatalf("unexpected profile %+v", p)
	}
	if !s.LoggedIn() || s.Name() != "Ada" {
		t.Fatalf("profile not active")
	}

	name := "Ada L."
	p2, err := s.Update(ProfileUpdate{Name: &name})
	if err != nil || p2.Name != "Ada L." || p2.ID != p.ID || !p2.UpdatedAt.After(p.UpdatedAt) {
		t.Fatalf("update: %+v %v", p2, err)
	}

	theme, off := ThemeLight, false
	prefs, err := s.UpdatePreferences(PreferencesUpdate{Theme: &theme, Notifications: &off})
	if err != nil || prefs.Theme != ThemeLight || prefs.Notifications {
		t.Fatalf("prefs: %+v %v", prefs, err)
	}
	bogus := "neon"
	if _, err := s.UpdatePreferences(PreferencesUpdate{Theme: &bogus}); err == nil {
		t.Fatalf("unknown theme accepted")
	}

	reloaded := newProfileStore(t, kv)
	if got, ok := reloaded.Current(); !ok || got.Name != "Ada L." || got.Preferences.Theme != ThemeLight {
		t.Fatalf("profile not persisted: %+v", got)
	}

	if err := s.Clear(); err != nil || s.LoggedIn() {
		t.Fatalf("clear failed: %v", err)
	}
}

func TestProfileStore_Validation(t *testing.T) {
	s := newProfileStore(t, storage.NewMemoryKV())
	if _, err := s.Create("Ada", "", strings.Repeat("é", MaxDescription), nil); err != nil {
		t.Fatalf("description at the limit should pass: %v", err)
	}
	if _, err := s.Create("Ada", "", strings.Repeat("x", MaxDescription+1), nil); err == nil {
		t.Fatalf("long description accepted")
	}
	if _, err := s.Create("Ada", "not-an-email", "", nil); err == nil {
		t.Fatalf("bad email accepted")
	}
	if _, err := s.Create("  ", "", "", nil); err == nil {
		t.Fatalf("blank name accepted")
	}
}

func TestGravatarURL(t *testing.T) {
	got := GravatarURL("  MyEmailAddress@example.com ", 0)
	want := "https://www.gravatar.com/avatar/0bc83cb571cd1c50ba6f3e8a78ef1346?s=80&d=mp"
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
	if got := GravatarURL("", 120); got != "https://www.gravatar.com/avatar/00000000000000000000000000000000?s=120&d=mp" {
		t.Fatalf("unexpected empty-email url %s", got)
	}
}
