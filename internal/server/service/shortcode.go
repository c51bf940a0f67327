package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"picbin/internal/server/database"
	"picbin/internal/server/ident"
	"picbin/internal/server/storage"
)

const (
	// maxAllocateAttempts bounds the retry loop when a freshly generated
	// code collides with a live one.
	maxAllocateAttempts = 10

	// shortcodeForeverTTL caps the code expiry for uploads that never
	// expire themselves.
	shortcodeForeverTTL = 10 * 365 * 24 * time.Hour
)

// ShortcodeAllocator hands out short view codes and keeps them tied to
// their uploads.
type ShortcodeAllocator struct {
	repo *database.Repository
	now  func() time.Time
}

// NewShortcodeAllocator creates an allocator over the given repository.
func NewShortcodeAllocator(repo *database.Repository) *ShortcodeAllocator {
	return &ShortcodeAllocator{repo: repo, now: time.Now}
}

// SetNow overrides the allocator's clock; tests only.
func (a *ShortcodeAllocator) SetNow(now func() time.Time) {
	a.now = now
}

// Ensure makes sure the upload carries a live short code. A recorded code
// that still resolves to this upload and has not expired is kept so
// already-shared links survive edits; otherwise a fresh code is allocated
// and written onto the upload.
func (a *ShortcodeAllocator) Ensure(ctx context.Context, u *storage.Upload) error {
	now := a.now()
	if u.ShortCode != nil && ident.IsShortcode(*u.ShortCode) {
		sc, err := a.repo.ResolveShortcode(ctx, *u.ShortCode)
		if err == nil && sc.UploadID == u.ID && sc.ExpiresAt > now.Unix() {
			return nil
		}
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			return err
		}
	}

	code, err := a.Allocate(ctx, u.ID, codeExpiry(u))
	if err != nil {
		return err
	}
	u.ShortCode = &code
	return nil
}

// Allocate reserves a new unique code for the upload, retrying on
// collision a fixed number of times before giving up.
func (a *ShortcodeAllocator) Allocate(ctx context.Context, uploadID string, expiresAt time.Time) (string, error) {
	for attempt := 0; attempt < maxAllocateAttempts; attempt++ {
		code, err := ident.NewToken(6, 8)
		if err != nil {
			return "", fmt.Errorf("failed to generate short code: %w", err)
		}
		err = a.repo.InsertShortcode(ctx, database.Shortcode{
			Code:      code,
			UploadID:  uploadID,
			ExpiresAt: expiresAt.Unix(),
			CreatedAt: a.now().Unix(),
		})
		if errors.Is(err, database.ErrConflict) {
			continue
		}
		if err != nil {
			return "", err
		}
		return code, nil
	}
	return "", fmt.Errorf("failed to allocate a short code after %d attempts", maxAllocateAttempts)
}

// Resolve looks up a code without any expiry filtering; callers decide what
// an expired code means.
func (a *ShortcodeAllocator) Resolve(ctx context.Context, code string) (*database.Shortcode, error) {
	sc, err := a.repo.ResolveShortcode(ctx, code)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sc, nil
}

// codeExpiry derives a code's lifetime from its upload: codes die with
// their upload, and codes for never-expiring uploads get a far-future cap
// so the codespace is eventually reclaimed.
func codeExpiry(u *storage.Upload) time.Time {
	if u.ExpiresAt != nil {
		return *u.ExpiresAt
	}
	return u.CreatedAt.Add(shortcodeForeverTTL)
}
