package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileStore keeps image artifacts on the local filesystem under one
// directory per upload: <base>/<uploadID>/<fileID>.<ext>.
type FileStore struct {
	basePath string
}

// NewFileStore creates a filesystem artifact store.
func NewFileStore(basePath string) *FileStore {
	return &FileStore{basePath: basePath}
}

// EnsureDir creates the storage directory if it doesn't exist.
func (fs *FileStore) EnsureDir() error {
	if err := os.MkdirAll(fs.basePath, 0o755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", fs.basePath, err)
	}
	return nil
}

// Path returns the on-disk path of a stored file.
func (fs *FileStore) Path(uploadID, filename string) string {
	return filepath.Join(fs.basePath, uploadID, filename)
}

// Add moves an ingested temp file into the upload's directory. Falls back
// to copy+remove when the temp file lives on another filesystem.
func (fs *FileStore) Add(uploadID, filename, tempPath string) error {
	dir := filepath.Join(fs.basePath, uploadID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create upload directory %s: %w", dir, err)
	}

	dest := filepath.Join(dir, filename)
	if err := os.Rename(tempPath, dest); err == nil {
		return nil
	}

	src, err := os.Open(tempPath)
	if err != nil {
		return fmt.Errorf("failed to open temp file %s: %w", tempPath, err)
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", dest, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("failed to write file %s: %w", dest, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return fmt.Errorf("failed to close file %s: %w", dest, err)
	}
	os.Remove(tempPath)
	return nil
}

// Remove deletes a single stored file. Already-missing files are skipped.
func (fs *FileStore) Remove(uploadID, filename string) error {
	path := fs.Path(uploadID, filename)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file %s: %w", path, err)
	}
	return nil
}

// RemoveAll deletes the upload's whole directory, tolerating any subset of
// the files already being gone.
func (fs *FileStore) RemoveAll(uploadID string) error {
	dir := filepath.Join(fs.basePath, uploadID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete upload directory %s: %w", dir, err)
	}
	return nil
}
