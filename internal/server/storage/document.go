// Package storage owns the authoritative per-upload JSON documents and the
// image file artifacts on disk. The relational index in the database package
// is a projection of what lives here.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNotFound covers true absence, expiry, and unreadable documents alike;
// callers must not distinguish them.
var ErrNotFound = errors.New("upload not found")

const (
	TypeSingle = "single"
	TypeAlbum  = "album"
)

// Upload is the full authoritative record of one upload.
type Upload struct {
	ID        string
	UserID    *string // nil = anonymous
	CreatedAt time.Time
	UpdatedAt time.Time
	Type      string
	Files     []File
	ExpiresAt *time.Time // nil = never expires
	ShortCode *string
}

// File is one image belonging to an upload.
type File struct {
	ID       string
	Filename string
	Original string
	Mime     string
	Size     int64
}

// TypeFor derives the upload kind from its file count.
func TypeFor(fileCount int) string {
	if fileCount > 1 {
		return TypeAlbum
	}
	return TypeSingle
}

// uploadDoc is the on-disk JSON shape; timestamps are unix seconds.
type uploadDoc struct {
	ID        string    `json:"id"`
	CreatedAt int64     `json:"created_at"`
	UpdatedAt int64     `json:"updated_at"`
	Type      string    `json:"type"`
	Files     []fileDoc `json:"files"`
	UserID    *string   `json:"user_id"`
	ExpiresAt *int64    `json:"expires_at"`
	ShortCode *string   `json:"short_code"`
}

type fileDoc struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Original string `json:"original"`
	Mime     string `json:"mime"`
	Size     int64  `json:"size"`
}

// DocumentStore persists upload documents, one JSON file per upload ID.
type DocumentStore struct {
	dir string
	now func() time.Time
}

// NewDocumentStore creates a document store rooted at dir.
func NewDocumentStore(dir string) *DocumentStore {
	return &DocumentStore{dir: dir, now: time.Now}
}

// SetNow overrides the store's clock; tests only.
func (s *DocumentStore) SetNow(now func() time.Time) {
	s.now = now
}

// EnsureDir creates the document directory if it doesn't exist.
func (s *DocumentStore) EnsureDir() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create document directory %s: %w", s.dir, err)
	}
	return nil
}

func (s *DocumentStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Load reads the authoritative document. A document whose expiry has passed
// reads as not-found even before the sweeper has removed it, and a
// malformed or unreadable document reads as not-found rather than failing.
func (s *DocumentStore) Load(id string) (*Upload, error) {
	u, err := s.LoadAny(id)
	if err != nil {
		return nil, err
	}
	if u.ExpiresAt != nil && u.ExpiresAt.Before(s.now()) {
		return nil, ErrNotFound
	}
	return u, nil
}

// LoadAny reads the document without the lazy-expiry filter. The sweeper
// uses it to reach artifacts Load already hides.
func (s *DocumentStore) LoadAny(id string) (*Upload, error) {
	contents, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, ErrNotFound
	}
	var doc uploadDoc
	if err := json.Unmarshal(contents, &doc); err != nil {
		return nil, ErrNotFound
	}
	if doc.ID == "" {
		return nil, ErrNotFound
	}

	u := &Upload{
		ID:        doc.ID,
		UserID:    doc.UserID,
		CreatedAt: time.Unix(doc.CreatedAt, 0),
		UpdatedAt: time.Unix(doc.UpdatedAt, 0),
		Type:      doc.Type,
		ShortCode: doc.ShortCode,
	}
	if doc.ExpiresAt != nil {
		t := time.Unix(*doc.ExpiresAt, 0)
		u.ExpiresAt = &t
	}
	for _, f := range doc.Files {
		u.Files = append(u.Files, File(f))
	}
	return u, nil
}

// Save writes the document atomically (temp file + rename) so a concurrent
// reader never observes a partial document. UpdatedAt is stamped here.
func (s *DocumentStore) Save(u *Upload) error {
	u.UpdatedAt = s.now()

	doc := uploadDoc{
		ID:        u.ID,
		CreatedAt: u.CreatedAt.Unix(),
		UpdatedAt: u.UpdatedAt.Unix(),
		Type:      u.Type,
		Files:     []fileDoc{},
		UserID:    u.UserID,
		ShortCode: u.ShortCode,
	}
	if u.ExpiresAt != nil {
		ts := u.ExpiresAt.Unix()
		doc.ExpiresAt = &ts
	}
	for _, f := range u.Files {
		doc.Files = append(doc.Files, fileDoc(f))
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode upload document: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, u.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp document: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write upload document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close upload document: %w", err)
	}
	if err := os.Rename(tmpPath, s.path(u.ID)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace upload document: %w", err)
	}
	return nil
}

// Delete removes the document. An already-missing document is not an error.
func (s *DocumentStore) Delete(id string) error {
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete upload document %s: %w", id, err)
	}
	return nil
}
