package admin

import (
	"bufio"
	"os"
	"strings"
	"sync"
	"time"

	"picbin/internal/server/ident"
)

// AllowList is the pool of user IDs eligible for elevation. Injectable so
// tests substitute a fixed list.
type AllowList interface {
	Contains(userID string) bool
}

// StaticAllowList is a fixed in-memory allow-list.
type StaticAllowList []string

func (l StaticAllowList) Contains(userID string) bool {
	for _, id := range l {
		if id == userID {
			return true
		}
	}
	return false
}

const allowListRefreshInterval = time.Minute

// FileAllowList reads IDs from a text file, one per line; blank lines and
// `#` comments are skipped, as is anything that is not a well-formed user
// ID. The file is re-read when its modification time changes, throttled to
// at most one stat per refresh interval.
type FileAllowList struct {
	path string
	now  func() time.Time

	mu       sync.Mutex
	ids      map[string]struct{}
	loadedAt time.Time
	mtime    time.Time
}

// NewFileAllowList creates an allow-list backed by the file at path. A
// missing file means an empty list, not an error.
func NewFileAllowList(path string) *FileAllowList {
	return &FileAllowList{path: path, now: time.Now}
}

// SetNow overrides the list's clock; tests only.
func (l *FileAllowList) SetNow(now func() time.Time) {
	l.now = now
}

func (l *FileAllowList) Contains(userID string) bool {
	if userID == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshLocked()
	_, ok := l.ids[userID]
	return ok
}

func (l *FileAllowList) refreshLocked() {
	now := l.now()
	if l.ids != nil && now.Sub(l.loadedAt) < allowListRefreshInterval {
		return
	}

	var mtime time.Time
	if info, err := os.Stat(l.path); err == nil {
		mtime = info.ModTime()
	}
	if l.ids != nil && mtime.Equal(l.mtime) {
		l.loadedAt = now
		return
	}

	l.ids = parseAllowList(l.path)
	l.loadedAt = now
	l.mtime = mtime
}

func parseAllowList(path string) map[string]struct{} {
	ids := make(map[string]struct{})
	f, err := os.Open(path)
	if err != nil {
		return ids
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if ident.IsUserID(line) {
			ids[line] = struct{}{}
		}
	}
	return ids
}
