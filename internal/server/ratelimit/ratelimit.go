// Package ratelimit implements a fixed-window counter per key. The limit is
// advisory: concurrent requests for the same key can both pass the same
// remaining token, which is accepted (soft limit, not admission control).
package ratelimit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// State is the persisted window for one key.
type State struct {
	ResetAt   int64 `json:"reset_at"`
	Remaining int   `json:"remaining"`
}

// Store persists per-key window state.
type Store interface {
	// Load returns the state for key and whether usable state existed.
	Load(key string) (State, bool, error)
	Save(key string, st State) error
}

// Limiter applies the fixed-window policy over a Store.
type Limiter struct {
	store Store
	now   func() time.Time
}

// New creates a limiter over the given store.
func New(store Store) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// SetNow overrides the limiter's clock; tests only.
func (l *Limiter) SetNow(now func() time.Time) {
	l.now = now
}

// Allow consumes one token from the key's current window. Missing or
// elapsed windows reinitialize to a full budget; an exhausted window denies
// without touching stored state.
func (l *Limiter) Allow(key string, limit int, window time.Duration) (bool, error) {
	key = SanitizeKey(key)
	now := l.now().Unix()

	st, ok, err := l.store.Load(key)
	if err != nil {
		return false, fmt.Errorf("failed to load rate limit state: %w", err)
	}
	if !ok || st.ResetAt <= now {
		st = State{
			ResetAt:   now + int64(window/time.Second),
			Remaining: limit,
		}
	}

	if st.Remaining <= 0 {
		return false, nil
	}

	st.Remaining--
	if err := l.store.Save(key, st); err != nil {
		return false, fmt.Errorf("failed to save rate limit state: %w", err)
	}
	return true, nil
}

// SanitizeKey maps an arbitrary key (user ID, IP) onto a filesystem-safe
// name: anything outside [a-zA-Z0-9_-] becomes an underscore.
func SanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, key)
}

// FileStore keeps one JSON state file per key.
type FileStore struct {
	dir string
}

// NewFileStore creates a file-backed store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// EnsureDir creates the state directory if it doesn't exist.
func (fs *FileStore) EnsureDir() error {
	if err := os.MkdirAll(fs.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create rate limit directory %s: %w", fs.dir, err)
	}
	return nil
}

func (fs *FileStore) path(key string) string {
	return filepath.Join(fs.dir, key+".json")
}

// Load reads the state for key. Malformed state reads as absent so a
// corrupted file resets the window instead of wedging the key.
func (fs *FileStore) Load(key string) (State, bool, error) {
	contents, err := os.ReadFile(fs.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, false, nil
		}
		return State{}, false, fmt.Errorf("failed to read rate limit file: %w", err)
	}
	var st State
	if err := json.Unmarshal(contents, &st); err != nil {
		return State{}, false, nil
	}
	return st, true, nil
}

// Save writes the state for key.
func (fs *FileStore) Save(key string, st State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode rate limit state: %w", err)
	}
	if err := os.WriteFile(fs.path(key), data, 0o644); err != nil {
		return fmt.Errorf("failed to write rate limit file: %w", err)
	}
	return nil
}

// MemoryStore is an in-process store for tests and single-process setups.
type MemoryStore struct {
	mu sync.Mutex
	m  map[string]State
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]State)}
}

func (ms *MemoryStore) Load(key string) (State, bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	st, ok := ms.m[key]
	return st, ok, nil
}

func (ms *MemoryStore) Save(key string, st State) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.m[key] = st
	return nil
}
