package service

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"picbin/internal/server/database"
)

// Sweeper removes expired uploads. It is driven opportunistically from
// read-heavy request paths and throttled through a timestamp lock file so
// concurrent processes do not pile onto the same work.
type Sweeper struct {
	repo        *database.Repository
	uploads     *UploadService
	lockPath    string
	minInterval time.Duration
	now         func() time.Time
}

// NewSweeper creates a sweeper over the upload service's stores.
func NewSweeper(repo *database.Repository, uploads *UploadService, lockPath string, minInterval time.Duration) *Sweeper {
	return &Sweeper{
		repo:        repo,
		uploads:     uploads,
		lockPath:    lockPath,
		minInterval: minInterval,
		now:         time.Now,
	}
}

// SetNow overrides the sweeper's clock; tests only.
func (s *Sweeper) SetNow(now func() time.Time) {
	s.now = now
}

// MaybeSweep runs a sweep unless one ran within the minimum interval.
// The lock timestamp is written before sweeping so a slow sweep still
// holds off its neighbors. Returns whether a sweep ran.
func (s *Sweeper) MaybeSweep(ctx context.Context) bool {
	now := s.now()
	if last, ok := s.readLock(); ok && now.Sub(last) < s.minInterval {
		return false
	}
	if err := s.writeLock(now); err != nil {
		slog.Warn("failed to write sweep lock", "path", s.lockPath, "error", err)
	}
	s.Sweep(ctx)
	return true
}

// Sweep finds every expired upload in the index and removes all its
// traces. Individual failures are logged and skipped so one bad entry
// cannot wedge the whole pass. Expired short codes are purged last.
func (s *Sweeper) Sweep(ctx context.Context) (cleaned, failed int) {
	now := s.now()
	ids, err := s.repo.ExpiredUploadIDs(ctx, now.Unix())
	if err != nil {
		slog.Error("failed to list expired uploads", "error", err)
		return 0, 0
	}

	for _, id := range ids {
		if err := s.uploads.Destroy(ctx, id); err != nil {
			slog.Error("failed to remove expired upload", "upload_id", id, "error", err)
			failed++
			continue
		}
		cleaned++
	}

	purged, err := s.repo.PurgeExpiredShortcodes(ctx, now.Unix())
	if err != nil {
		slog.Error("failed to purge expired short codes", "error", err)
	}

	if cleaned > 0 || failed > 0 || purged > 0 {
		slog.Info("sweep finished",
			"cleaned", cleaned,
			"failed", failed,
			"codes_purged", purged,
		)
	}
	return cleaned, failed
}

func (s *Sweeper) readLock() (time.Time, bool) {
	data, err := os.ReadFile(s.lockPath)
	if err != nil {
		return time.Time{}, false
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil || ts <= 0 {
		return time.Time{}, false
	}
	return time.Unix(ts, 0), true
}

func (s *Sweeper) writeLock(now time.Time) error {
	return os.WriteFile(s.lockPath, []byte(strconv.FormatInt(now.Unix(), 10)), 0o644)
}
