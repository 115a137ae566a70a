// Package storage is the local key-value byte store behind the quiz, score
// and profile stores. Each key holds one store's full JSON state.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
)

// ErrNotFound is returned by Get for keys that were never set or were deleted.
var ErrNotFound = errors.New("storage: key not found")

var validKey = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// KV stores opaque values by key.
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Clear() error
}

// Load decodes the JSON value under key into v. A missing key leaves v
// untouched and reports found=false. Hand-edited files may carry // and /* */
// comments and trailing commas; keys and strings must stay double-quoted.
func Load(kv KV, key string, v any) (found bool, err error) {
	b, err := kv.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		if err5 := json5.Unmarshal(b, v); err5 != nil {
			return false, fmt.Errorf("decode %s: %w", key, err)
		}
	}
	return true, nil
}

// Save encodes v as JSON under key.
func Save(kv KV, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return kv.Set(key, b)
}

// FileKV keeps one <key>.json file per key under Dir. Writes go through a
// temporary file and a rename so readers never see partial state.
type FileKV struct {
	Dir string
	// StrictPerms, when true, enforces 0700 on Dir and 0600 on files.
	StrictPerms bool

	mu sync.Mutex
}

func (f *FileKV) ensureDir() error {
	if f == nil || strings.TrimSpace(f.Dir) == "" {
		return errors.New("storage dir not configured")
	}
	perm := os.FileMode(0o755)
	if f.StrictPerms {
		perm = 0o700
	}
	if err := os.MkdirAll(f.Dir, perm); err != nil {
		return err
	}
	if f.StrictPerms {
		if info, err := os.Stat(f.Dir); err == nil && info.Mode()&0o777 != 0o700 {
			_ = os.Chmod(f.Dir, 0o700)
		}
	}
	return nil
}

func (f *FileKV) pathFor(key string) (string, error) {
	if !validKey.MatchString(key) {
		return "", fmt.Errorf("storage: invalid key %q", key)
	}
	return filepath.Join(f.Dir, key+".json"), nil
}

func (f *FileKV) Get(key string) ([]byte, error) {
	p, err := f.pathFor(key)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return b, err
}

func (f *FileKV) Set(key string, value []byte) error {
	p, err := f.pathFor(key)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ensureDir(); err != nil {
		return err
	}
	mode := os.FileMode(0o644)
	if f.StrictPerms {
		mode = 0o600
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, value, mode); err != nil {
		return err
	}
	if err := os.Chmod(tmp, mode); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, p)
}

func (f *FileKV) Delete(key string) error {
	p, err := f.pathFor(key)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Clear removes every key. Files that do not look like entries are left
// alone.
func (f *FileKV) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := os.ReadDir(f.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || !validKey.MatchString(strings.TrimSuffix(name, ".json")) {
			continue
		}
		if err := os.Remove(filepath.Join(f.Dir, name)); err != nil {
			return err
		}
	}
	return nil
}

// Keys lists the stored keys in lexical order.
func (f *FileKV) Keys() ([]string, error) {
	entries, err := os.ReadDir(f.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		k := strings.TrimSuffix(e.Name(), ".json")
		if !e.IsDir() && k != e.Name() && validKey.MatchString(k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// MemoryKV is an in-process KV for tests and ephemeral sessions.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: map[string][]byte{}}
}

func (m *MemoryKV) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (m *MemoryKV) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryKV) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryKV) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = map[string][]byte{}
	return nil
}
