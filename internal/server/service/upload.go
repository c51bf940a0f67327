package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"picbin/internal/server/config"
	"picbin/internal/server/database"
	"picbin/internal/server/ident"
	"picbin/internal/server/storage"
)

// Sentinel errors for the service layer. Expired and nonexistent uploads
// share ErrNotFound on purpose; clients never learn which it was.
var (
	ErrNotFound        = errors.New("upload not found")
	ErrUnauthorized    = errors.New("not authorized")
	ErrBanned          = errors.New("account banned")
	ErrTooManyFiles    = errors.New("too many files in one request")
	ErrFileTooLarge    = errors.New("file exceeds maximum allowed size")
	ErrRequestTooLarge = errors.New("request exceeds maximum total size")
	ErrNoValidFiles    = errors.New("no valid image files in request")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrUserNotFound    = errors.New("user not found")
	ErrInvalidTTL      = errors.New("invalid ttl selection")
)

// extensionForMime maps the accepted image types onto stored-file
// extensions. Anything else is skipped at ingestion.
var extensionForMime = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// FileInput is one already-sniffed file handed over by the ingestion layer.
type FileInput struct {
	TempPath     string
	OriginalName string
	Mime         string
	Size         int64
}

// Actor identifies the caller of a mutation: an optional anonymous user ID
// plus whether the credential layer found them elevated.
type Actor struct {
	UserID *string
	Admin  bool
}

// IngestResult reports what a create or add-files call did.
type IngestResult struct {
	Upload  *storage.Upload
	Added   int
	Skipped []string
}

// UploadService owns the upload lifecycle: both store representations, the
// file artifacts, and the short code attached to each upload.
type UploadService struct {
	repo     *database.Repository
	docs     *storage.DocumentStore
	files    *storage.FileStore
	codes    *ShortcodeAllocator
	accounts *AccountService
	cfg      *config.Config
	now      func() time.Time
}

// NewUploadService creates the upload lifecycle service.
func NewUploadService(repo *database.Repository, docs *storage.DocumentStore, files *storage.FileStore, codes *ShortcodeAllocator, accounts *AccountService, cfg *config.Config) *UploadService {
	return &UploadService{
		repo:     repo,
		docs:     docs,
		files:    files,
		codes:    codes,
		accounts: accounts,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetNow overrides the service's clock; tests only.
func (s *UploadService) SetNow(now func() time.Time) {
	s.now = now
}

// Get loads an upload by ID. Expired uploads read as not-found even before
// the sweeper has removed their artifacts.
func (s *UploadService) Get(ctx context.Context, id string) (*storage.Upload, error) {
	id = ident.SanitizeUploadID(id)
	if id == "" {
		return nil, ErrNotFound
	}
	u, err := s.docs.Load(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

// AdminGet loads an upload for inspection without the expiry filter, so
// elevated callers can examine records the sweeper has not reclaimed yet.
func (s *UploadService) AdminGet(ctx context.Context, id string) (*storage.Upload, error) {
	id = ident.SanitizeUploadID(id)
	if id == "" {
		return nil, ErrNotFound
	}
	u, err := s.docs.LoadAny(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

// Create ingests the given files into a brand-new upload. The upload is
// only persisted once at least one file made it in; its expiry follows the
// caller's effective TTL.
func (s *UploadService) Create(ctx context.Context, actor Actor, inputs []FileInput) (*IngestResult, error) {
	if err := s.checkBanned(ctx, actor); err != nil {
		return nil, err
	}
	if err := s.checkCeilings(inputs); err != nil {
		return nil, err
	}

	expiresAt, err := s.accounts.EffectiveExpiry(ctx, actor)
	if err != nil {
		return nil, err
	}

	id, err := ident.NewBinaryID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate upload id: %w", err)
	}

	now := s.now()
	u := &storage.Upload{
		ID:        id,
		UserID:    actor.UserID,
		CreatedAt: now,
		Type:      storage.TypeSingle,
		ExpiresAt: expiresAt,
	}

	result := s.ingest(u, inputs)
	if result.Added == 0 {
		s.files.RemoveAll(u.ID)
		return nil, ErrNoValidFiles
	}

	u.Type = storage.TypeFor(len(u.Files))
	if err := s.codes.Ensure(ctx, u); err != nil {
		s.files.RemoveAll(u.ID)
		return nil, err
	}
	if err := s.save(ctx, u); err != nil {
		// Roll back what we can; the upload was never announced.
		s.files.RemoveAll(u.ID)
		s.docs.Delete(u.ID)
		s.repo.DeleteShortcodesForUpload(ctx, u.ID)
		return nil, err
	}

	slog.Info("upload created",
		"upload_id", u.ID,
		"type", u.Type,
		"added", result.Added,
		"skipped", len(result.Skipped),
	)
	return result, nil
}

// AddFiles ingests more files into an existing upload. A live short code
// already pointing at the upload is kept so shared links stay valid.
func (s *UploadService) AddFiles(ctx context.Context, actor Actor, uploadID string, inputs []FileInput) (*IngestResult, error) {
	if err := s.checkBanned(ctx, actor); err != nil {
		return nil, err
	}
	if err := s.checkCeilings(inputs); err != nil {
		return nil, err
	}

	u, err := s.Get(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if err := s.checkOwnership(u, actor); err != nil {
		return nil, err
	}

	result := s.ingest(u, inputs)
	if result.Added == 0 {
		return nil, ErrNoValidFiles
	}

	u.Type = storage.TypeFor(len(u.Files))
	if err := s.codes.Ensure(ctx, u); err != nil {
		return nil, err
	}
	if err := s.save(ctx, u); err != nil {
		return nil, err
	}

	slog.Info("upload extended",
		"upload_id", u.ID,
		"type", u.Type,
		"added", result.Added,
		"skipped", len(result.Skipped),
	)
	return result, nil
}

// RemoveFile deletes a single file from an upload. Removing the last file
// destroys the upload itself.
func (s *UploadService) RemoveFile(ctx context.Context, actor Actor, uploadID, fileID string) (remaining int, kind string, err error) {
	if err := s.checkBanned(ctx, actor); err != nil {
		return 0, "", err
	}

	u, err := s.Get(ctx, uploadID)
	if err != nil {
		return 0, "", err
	}
	if err := s.checkOwnership(u, actor); err != nil {
		return 0, "", err
	}

	kept := u.Files[:0]
	found := false
	for _, f := range u.Files {
		if f.ID == fileID {
			found = true
			if err := s.files.Remove(u.ID, f.Filename); err != nil {
				return 0, "", err
			}
			continue
		}
		kept = append(kept, f)
	}
	if !found {
		return 0, "", ErrNotFound
	}

	if len(kept) == 0 {
		if err := s.Destroy(ctx, u.ID); err != nil {
			return 0, "", err
		}
		return 0, storage.TypeSingle, nil
	}

	u.Files = kept
	u.Type = storage.TypeFor(len(u.Files))
	if err := s.save(ctx, u); err != nil {
		return 0, "", err
	}
	return len(u.Files), u.Type, nil
}

// Delete removes an upload on behalf of an actor, enforcing ownership.
func (s *UploadService) Delete(ctx context.Context, actor Actor, uploadID string) error {
	if err := s.checkBanned(ctx, actor); err != nil {
		return err
	}
	u, err := s.Get(ctx, uploadID)
	if err != nil {
		return err
	}
	if err := s.checkOwnership(u, actor); err != nil {
		return err
	}
	return s.Destroy(ctx, u.ID)
}

// Destroy removes every trace of an upload: file artifacts, the
// authoritative document, the index row, and any short codes. Each step
// tolerates the target already being gone, so Destroy is idempotent and
// safe to re-run after a partial failure.
func (s *UploadService) Destroy(ctx context.Context, uploadID string) error {
	var firstErr error

	if err := s.files.RemoveAll(uploadID); err != nil {
		firstErr = err
	}
	if err := s.docs.Delete(uploadID); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.repo.DeleteUpload(ctx, uploadID); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.repo.DeleteShortcodesForUpload(ctx, uploadID); err != nil && firstErr == nil {
		firstErr = err
	}

	if firstErr != nil {
		return fmt.Errorf("failed to destroy upload %s: %w", uploadID, firstErr)
	}
	slog.Info("upload destroyed", "upload_id", uploadID)
	return nil
}

// FilePath maps an upload's file onto its on-disk location.
func (s *UploadService) FilePath(uploadID, filename string) string {
	return s.files.Path(uploadID, filename)
}

// Resolve maps a short code to its upload. Expired codes and codes whose
// upload is gone both read as not-found.
func (s *UploadService) Resolve(ctx context.Context, code string) (*storage.Upload, error) {
	if !ident.IsShortcode(code) {
		return nil, ErrNotFound
	}
	sc, err := s.codes.Resolve(ctx, code)
	if err != nil {
		return nil, err
	}
	if sc.ExpiresAt <= s.now().Unix() {
		return nil, ErrNotFound
	}
	return s.Get(ctx, sc.UploadID)
}

// List returns one page of the user's live uploads, newest first.
func (s *UploadService) List(ctx context.Context, userID string, page, perPage int) ([]database.UploadRow, int, error) {
	limit, offset := pageBounds(page, perPage)
	return s.repo.ListUserUploads(ctx, userID, s.now().Unix(), limit, offset)
}

// AdminList returns one page over all uploads, optionally narrowed to one
// owner, with ban flags joined in.
func (s *UploadService) AdminList(ctx context.Context, filterUserID *string, page, perPage int) ([]database.AdminUploadRow, int, error) {
	limit, offset := pageBounds(page, perPage)
	return s.repo.ListAllUploads(ctx, filterUserID, limit, offset)
}

// --- internals ---

// save writes the authoritative document, then re-derives and upserts the
// index row. The two writes are deliberately not one transaction: a crash
// in between leaves a stale index row that the next save self-heals.
func (s *UploadService) save(ctx context.Context, u *storage.Upload) error {
	if err := s.docs.Save(u); err != nil {
		return err
	}

	row := database.UploadRow{
		UploadID:  u.ID,
		UserID:    u.UserID,
		CreatedAt: u.CreatedAt.Unix(),
		Type:      u.Type,
		ShortCode: u.ShortCode,
		FileCount: len(u.Files),
	}
	if u.ExpiresAt != nil {
		ts := u.ExpiresAt.Unix()
		row.ExpiresAt = &ts
	}
	if len(u.Files) > 0 {
		row.PreviewFile = &u.Files[0].Filename
	}
	return s.repo.UpsertUpload(ctx, row)
}

// ingest moves each acceptable input into the upload's directory and
// appends a File entry. Inputs with an unsupported type are skipped by
// original name.
func (s *UploadService) ingest(u *storage.Upload, inputs []FileInput) *IngestResult {
	result := &IngestResult{Upload: u}
	for _, in := range inputs {
		ext, ok := extensionForMime[in.Mime]
		if !ok {
			slog.Warn("skipping unsupported file",
				"upload_id", u.ID,
				"name", in.OriginalName,
				"mime", in.Mime,
			)
			result.Skipped = append(result.Skipped, in.OriginalName)
			continue
		}

		fileID, err := ident.NewBinaryID()
		if err != nil {
			result.Skipped = append(result.Skipped, in.OriginalName)
			continue
		}
		filename := fileID + "." + ext

		if err := s.files.Add(u.ID, filename, in.TempPath); err != nil {
			slog.Error("failed to store file",
				"upload_id", u.ID,
				"name", in.OriginalName,
				"error", err,
			)
			result.Skipped = append(result.Skipped, in.OriginalName)
			continue
		}

		original := in.OriginalName
		if original == "" {
			original = filename
		}
		u.Files = append(u.Files, storage.File{
			ID:       fileID,
			Filename: filename,
			Original: original,
			Mime:     in.Mime,
			Size:     in.Size,
		})
		result.Added++
	}
	return result
}

func (s *UploadService) checkCeilings(inputs []FileInput) error {
	if len(inputs) > s.cfg.MaxFilesPerRequest {
		return ErrTooManyFiles
	}
	var total int64
	for _, in := range inputs {
		if in.Size > s.cfg.MaxFileSize {
			return ErrFileTooLarge
		}
		total += in.Size
	}
	if total > s.cfg.MaxRequestSize {
		return ErrRequestTooLarge
	}
	return nil
}

func (s *UploadService) checkBanned(ctx context.Context, actor Actor) error {
	if actor.UserID == nil || actor.Admin {
		return nil
	}
	user, err := s.repo.GetUser(ctx, *actor.UserID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil
		}
		return err
	}
	if user.IsBanned {
		return ErrBanned
	}
	return nil
}

func (s *UploadService) checkOwnership(u *storage.Upload, actor Actor) error {
	if u.UserID == nil || actor.Admin {
		return nil
	}
	if actor.UserID == nil || *actor.UserID != *u.UserID {
		return ErrUnauthorized
	}
	return nil
}

func pageBounds(page, perPage int) (limit, offset int) {
	if page < 1 {
		page = 1
	}
	if perPage < 6 {
		perPage = 6
	}
	if perPage > 100 {
		perPage = 100
	}
	return perPage, (page - 1) * perPage
}
