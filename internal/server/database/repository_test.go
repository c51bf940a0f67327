package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	ctx := context.Background()
	db, err := New(ctx, filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(db.Close)
	if err := db.RunMigrations(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return NewRepository(db)
}

func strPtr(s string) *string { return &s }
func i64Ptr(n int64) *int64   { return &n }

func TestUpsertUpload(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	row := UploadRow{
		UploadID:    "a1b2c3d4e5f60718",
		UserID:      strPtr("UserAbc123Def4"),
		CreatedAt:   1000,
		ExpiresAt:   i64Ptr(2000),
		Type:        "single",
		ShortCode:   strPtr("Ab12Cd"),
		PreviewFile: strPtr("f1.jpg"),
		FileCount:   1,
	}

	t.Run("insert then update via same call", func(t *testing.T) {
		if err := repo.UpsertUpload(ctx, row); err != nil {
			t.Fatalf("first upsert: %v", err)
		}

		row.Type = "album"
		row.FileCount = 3
		if err := repo.UpsertUpload(ctx, row); err != nil {
			t.Fatalf("second upsert: %v", err)
		}

		rows, total, err := repo.ListAllUploads(ctx, nil, 10, 0)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if total != 1 || len(rows) != 1 {
			t.Fatalf("expected exactly one row, got total=%d len=%d", total, len(rows))
		}
		if rows[0].Type != "album" || rows[0].FileCount != 3 {
			t.Errorf("update not applied: %+v", rows[0])
		}
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		if err := repo.DeleteUpload(ctx, row.UploadID); err != nil {
			t.Fatalf("first delete: %v", err)
		}
		if err := repo.DeleteUpload(ctx, row.UploadID); err != nil {
			t.Fatalf("second delete: %v", err)
		}
	})
}

func TestListUserUploads(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	owner := "UserAbc123Def4"

	seed := []UploadRow{
		{UploadID: "upload00000001", UserID: strPtr(owner), CreatedAt: 100, ExpiresAt: i64Ptr(5000), Type: "single", FileCount: 1},
		{UploadID: "upload00000002", UserID: strPtr(owner), CreatedAt: 200, ExpiresAt: nil, Type: "album", FileCount: 2},
		{UploadID: "upload00000003", UserID: strPtr(owner), CreatedAt: 300, ExpiresAt: i64Ptr(50), Type: "single", FileCount: 1}, // expired at now=1000
		{UploadID: "upload00000004", UserID: strPtr("OtherUser12345"), CreatedAt: 400, ExpiresAt: nil, Type: "single", FileCount: 1},
		{UploadID: "upload00000005", UserID: nil, CreatedAt: 500, ExpiresAt: nil, Type: "single", FileCount: 1},
	}
	for _, row := range seed {
		if err := repo.UpsertUpload(ctx, row); err != nil {
			t.Fatalf("seed upsert %s: %v", row.UploadID, err)
		}
	}

	t.Run("filters owner and expired, newest first", func(t *testing.T) {
		rows, total, err := repo.ListUserUploads(ctx, owner, 1000, 10, 0)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if total != 2 {
			t.Errorf("expected total 2, got %d", total)
		}
		if len(rows) != 2 {
			t.Fatalf("expected 2 rows, got %d", len(rows))
		}
		if rows[0].UploadID != "upload00000002" || rows[1].UploadID != "upload00000001" {
			t.Errorf("unexpected order: %s, %s", rows[0].UploadID, rows[1].UploadID)
		}
	})

	t.Run("count and page share the predicate", func(t *testing.T) {
		rows, total, err := repo.ListUserUploads(ctx, owner, 1000, 1, 0)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if total != 2 || len(rows) != 1 {
			t.Errorf("expected total=2 page=1, got total=%d page=%d", total, len(rows))
		}
	})

	t.Run("admin listing sees everything", func(t *testing.T) {
		_, total, err := repo.ListAllUploads(ctx, nil, 100, 0)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if total != 5 {
			t.Errorf("expected total 5, got %d", total)
		}

		rows, total, err := repo.ListAllUploads(ctx, strPtr(owner), 100, 0)
		if err != nil {
			t.Fatalf("filtered list: %v", err)
		}
		if total != 3 || len(rows) != 3 {
			t.Errorf("expected 3 rows for owner, got total=%d len=%d", total, len(rows))
		}
	})
}

func TestShortcodes(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("insert and resolve", func(t *testing.T) {
		sc := Shortcode{Code: "Ab12Cd", UploadID: "upload00000001", ExpiresAt: 2000, CreatedAt: 1000}
		if err := repo.InsertShortcode(ctx, sc); err != nil {
			t.Fatalf("insert: %v", err)
		}
		got, err := repo.ResolveShortcode(ctx, "Ab12Cd")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if got.UploadID != sc.UploadID || got.ExpiresAt != sc.ExpiresAt {
			t.Errorf("resolved %+v, want %+v", got, sc)
		}
	})

	t.Run("duplicate code yields ErrConflict", func(t *testing.T) {
		err := repo.InsertShortcode(ctx, Shortcode{Code: "Ab12Cd", UploadID: "other000000001", ExpiresAt: 3000, CreatedAt: 1000})
		if !errors.Is(err, ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("resolve does not filter expiry", func(t *testing.T) {
		if err := repo.InsertShortcode(ctx, Shortcode{Code: "Zz99Xx", UploadID: "upload00000002", ExpiresAt: 1, CreatedAt: 1}); err != nil {
			t.Fatalf("insert: %v", err)
		}
		got, err := repo.ResolveShortcode(ctx, "Zz99Xx")
		if err != nil {
			t.Fatalf("resolve expired code: %v", err)
		}
		if got.ExpiresAt != 1 {
			t.Errorf("unexpected expiry: %d", got.ExpiresAt)
		}
	})

	t.Run("purge removes only expired codes", func(t *testing.T) {
		purged, err := repo.PurgeExpiredShortcodes(ctx, 1500)
		if err != nil {
			t.Fatalf("purge: %v", err)
		}
		if purged != 1 {
			t.Errorf("expected 1 purged code, got %d", purged)
		}
		if _, err := repo.ResolveShortcode(ctx, "Zz99Xx"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected expired code gone, got %v", err)
		}
		if _, err := repo.ResolveShortcode(ctx, "Ab12Cd"); err != nil {
			t.Errorf("expected live code to survive purge: %v", err)
		}
	})

	t.Run("delete by upload", func(t *testing.T) {
		if err := repo.DeleteShortcodesForUpload(ctx, "upload00000001"); err != nil {
			t.Fatalf("delete for upload: %v", err)
		}
		if _, err := repo.ResolveShortcode(ctx, "Ab12Cd"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected code gone after upload delete, got %v", err)
		}
		// Second call is a no-op, not an error.
		if err := repo.DeleteShortcodesForUpload(ctx, "upload00000001"); err != nil {
			t.Errorf("second delete for upload: %v", err)
		}
	})
}

func TestUsers(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	u := User{UserID: "UserAbc123Def4", CreatedAt: 1000, TTLSeconds: i64Ptr(3600)}
	if err := repo.InsertUser(ctx, u); err != nil {
		t.Fatalf("insert: %v", err)
	}

	t.Run("duplicate id yields ErrConflict", func(t *testing.T) {
		if err := repo.InsertUser(ctx, u); !errors.Is(err, ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("roundtrip", func(t *testing.T) {
		got, err := repo.GetUser(ctx, u.UserID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.TTLSeconds == nil || *got.TTLSeconds != 3600 || got.IsBanned {
			t.Errorf("unexpected user: %+v", got)
		}
	})

	t.Run("ttl update and clear", func(t *testing.T) {
		if err := repo.SetUserTTL(ctx, u.UserID, i64Ptr(7200)); err != nil {
			t.Fatalf("set ttl: %v", err)
		}
		if err := repo.SetUserTTL(ctx, u.UserID, nil); err != nil {
			t.Fatalf("clear ttl: %v", err)
		}
		got, err := repo.GetUser(ctx, u.UserID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.TTLSeconds != nil {
			t.Errorf("expected nil ttl, got %d", *got.TTLSeconds)
		}
	})

	t.Run("ban toggle", func(t *testing.T) {
		if err := repo.SetUserBanned(ctx, u.UserID, true); err != nil {
			t.Fatalf("ban: %v", err)
		}
		got, _ := repo.GetUser(ctx, u.UserID)
		if !got.IsBanned {
			t.Error("expected banned flag set")
		}
	})

	t.Run("unknown user yields ErrNotFound", func(t *testing.T) {
		if _, err := repo.GetUser(ctx, "NoSuchUser1234"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := repo.SetUserBanned(ctx, "NoSuchUser1234", true); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestSettings(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("absent key reads as nil", func(t *testing.T) {
		val, err := repo.GetSetting(ctx, "default_ttl_seconds")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil, got %q", *val)
		}
	})

	t.Run("set then overwrite", func(t *testing.T) {
		if err := repo.SetSetting(ctx, "default_ttl_seconds", "3600"); err != nil {
			t.Fatalf("set: %v", err)
		}
		if err := repo.SetSetting(ctx, "default_ttl_seconds", "unlimited"); err != nil {
			t.Fatalf("overwrite: %v", err)
		}
		val, err := repo.GetSetting(ctx, "default_ttl_seconds")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if val == nil || *val != "unlimited" {
			t.Errorf("expected %q, got %v", "unlimited", val)
		}
	})
}

func TestExpiredUploadIDs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rows := []UploadRow{
		{UploadID: "expired0000001", CreatedAt: 100, ExpiresAt: i64Ptr(500), Type: "single"},
		{UploadID: "live0000000001", CreatedAt: 100, ExpiresAt: i64Ptr(5000), Type: "single"},
		{UploadID: "forever0000001", CreatedAt: 100, ExpiresAt: nil, Type: "single"},
	}
	for _, row := range rows {
		if err := repo.UpsertUpload(ctx, row); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	ids, err := repo.ExpiredUploadIDs(ctx, 1000)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(ids) != 1 || ids[0] != "expired0000001" {
		t.Errorf("expected only the expired id, got %v", ids)
	}
}
