package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	fs := NewFileStore(filepath.Join(t.TempDir(), "files"))
	if err := fs.EnsureDir(); err != nil {
		t.Fatalf("ensure dir: %v", err)
	}
	return fs
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "ingest-*")
	if err != nil {
		t.Fatalf("create temp: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	f.Close()
	return f.Name()
}

func TestFileStoreAdd(t *testing.T) {
	fs := newTestFileStore(t)

	tmp := writeTemp(t, "fake image bytes")
	if err := fs.Add("a1b2c3d4e5f60718", "f1.jpg", tmp); err != nil {
		t.Fatalf("add: %v", err)
	}

	data, err := os.ReadFile(fs.Path("a1b2c3d4e5f60718", "f1.jpg"))
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if string(data) != "fake image bytes" {
		t.Errorf("unexpected content: %q", data)
	}
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Error("expected temp file consumed")
	}
}

func TestFileStoreRemove(t *testing.T) {
	fs := newTestFileStore(t)

	if err := fs.Add("a1b2c3d4e5f60718", "f1.jpg", writeTemp(t, "x")); err != nil {
		t.Fatalf("add: %v", err)
	}

	t.Run("removes existing file", func(t *testing.T) {
		if err := fs.Remove("a1b2c3d4e5f60718", "f1.jpg"); err != nil {
			t.Fatalf("remove: %v", err)
		}
		if _, err := os.Stat(fs.Path("a1b2c3d4e5f60718", "f1.jpg")); !os.IsNotExist(err) {
			t.Error("expected file gone")
		}
	})

	t.Run("missing file is skipped, not errored", func(t *testing.T) {
		if err := fs.Remove("a1b2c3d4e5f60718", "f1.jpg"); err != nil {
			t.Errorf("remove missing: %v", err)
		}
		if err := fs.Remove("ffffffffffffffff", "nope.png"); err != nil {
			t.Errorf("remove from missing upload: %v", err)
		}
	})
}

func TestFileStoreRemoveAll(t *testing.T) {
	fs := newTestFileStore(t)

	if err := fs.Add("a1b2c3d4e5f60718", "f1.jpg", writeTemp(t, "x")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := fs.Add("a1b2c3d4e5f60718", "f2.png", writeTemp(t, "y")); err != nil {
		t.Fatalf("add: %v", err)
	}

	// Simulate one artifact already gone.
	os.Remove(fs.Path("a1b2c3d4e5f60718", "f1.jpg"))

	if err := fs.RemoveAll("a1b2c3d4e5f60718"); err != nil {
		t.Fatalf("remove all: %v", err)
	}
	if _, err := os.Stat(filepath.Join(fs.basePath, "a1b2c3d4e5f60718")); !os.IsNotExist(err) {
		t.Error("expected upload directory gone")
	}

	// Idempotent on a missing directory.
	if err := fs.RemoveAll("a1b2c3d4e5f60718"); err != nil {
		t.Errorf("second remove all: %v", err)
	}
}
