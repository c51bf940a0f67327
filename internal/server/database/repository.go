package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("unique constraint violation")
)

// Repository provides access to the relational index tables.
type Repository struct {
	db *DB
}

// NewRepository creates a new Repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// --- uploads index ---

// UpsertUpload inserts or updates the index row for an upload. Idempotent,
// keyed by upload_id.
func (r *Repository) UpsertUpload(ctx context.Context, row UploadRow) error {
	_, err := r.db.SQL.ExecContext(ctx, `
		INSERT INTO uploads (upload_id, user_id, created_at, expires_at, type, short_code, preview_file, file_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(upload_id) DO UPDATE SET
			user_id      = excluded.user_id,
			created_at   = excluded.created_at,
			expires_at   = excluded.expires_at,
			type         = excluded.type,
			short_code   = excluded.short_code,
			preview_file = excluded.preview_file,
			file_count   = excluded.file_count
	`,
		row.UploadID,
		row.UserID,
		row.CreatedAt,
		row.ExpiresAt,
		row.Type,
		row.ShortCode,
		row.PreviewFile,
		row.FileCount,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert upload row: %w", err)
	}
	return nil
}

// DeleteUpload removes the index row. Deleting an absent row is not an error.
func (r *Repository) DeleteUpload(ctx context.Context, uploadID string) error {
	if _, err := r.db.SQL.ExecContext(ctx, "DELETE FROM uploads WHERE upload_id = ?", uploadID); err != nil {
		return fmt.Errorf("failed to delete upload row: %w", err)
	}
	return nil
}

// ExpiredUploadIDs returns the IDs of all uploads whose expiry has passed.
// Uploads with a NULL expiry never expire.
func (r *Repository) ExpiredUploadIDs(ctx context.Context, now int64) ([]string, error) {
	rows, err := r.db.SQL.QueryContext(ctx,
		"SELECT upload_id FROM uploads WHERE expires_at IS NOT NULL AND expires_at <= ?", now)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired uploads: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan expired upload id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListUserUploads returns one page of a user's live uploads, newest first,
// together with the total count under the same predicate.
func (r *Repository) ListUserUploads(ctx context.Context, userID string, now int64, limit, offset int) ([]UploadRow, int, error) {
	var total int
	err := r.db.SQL.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM uploads
		WHERE user_id = ? AND (expires_at IS NULL OR expires_at > ?)
	`, userID, now).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count user uploads: %w", err)
	}

	rows, err := r.db.SQL.QueryContext(ctx, `
		SELECT upload_id, user_id, created_at, expires_at, type, short_code, preview_file, file_count
		FROM uploads
		WHERE user_id = ? AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, userID, now, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list user uploads: %w", err)
	}
	defer rows.Close()

	var out []UploadRow
	for rows.Next() {
		var row UploadRow
		if err := rows.Scan(&row.UploadID, &row.UserID, &row.CreatedAt, &row.ExpiresAt,
			&row.Type, &row.ShortCode, &row.PreviewFile, &row.FileCount); err != nil {
			return nil, 0, fmt.Errorf("failed to scan upload row: %w", err)
		}
		out = append(out, row)
	}
	return out, total, rows.Err()
}

// ListAllUploads returns one page of every upload in the index, newest
// first, with the owner's ban flag joined in. filterUserID narrows the
// listing to a single owner; the count uses the same predicate as the page.
func (r *Repository) ListAllUploads(ctx context.Context, filterUserID *string, limit, offset int) ([]AdminUploadRow, int, error) {
	where := ""
	countArgs := []any{}
	pageArgs := []any{}
	if filterUserID != nil {
		where = "WHERE uploads.user_id = ?"
		countArgs = append(countArgs, *filterUserID)
		pageArgs = append(pageArgs, *filterUserID)
	}

	var total int
	err := r.db.SQL.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM uploads "+where, countArgs...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count uploads: %w", err)
	}

	pageArgs = append(pageArgs, limit, offset)
	rows, err := r.db.SQL.QueryContext(ctx, `
		SELECT uploads.upload_id, uploads.user_id, uploads.created_at, uploads.expires_at,
			   uploads.type, uploads.short_code, uploads.preview_file, uploads.file_count,
			   COALESCE(users.is_banned, 0)
		FROM uploads
		LEFT JOIN users ON users.user_id = uploads.user_id
		`+where+`
		ORDER BY uploads.created_at DESC
		LIMIT ? OFFSET ?
	`, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list uploads: %w", err)
	}
	defer rows.Close()

	var out []AdminUploadRow
	for rows.Next() {
		var row AdminUploadRow
		var banned int
		if err := rows.Scan(&row.UploadID, &row.UserID, &row.CreatedAt, &row.ExpiresAt,
			&row.Type, &row.ShortCode, &row.PreviewFile, &row.FileCount, &banned); err != nil {
			return nil, 0, fmt.Errorf("failed to scan upload row: %w", err)
		}
		row.IsBanned = banned == 1
		out = append(out, row)
	}
	return out, total, rows.Err()
}

// --- shortcodes ---

// InsertShortcode inserts a new code. Returns ErrConflict when the code is
// already taken; callers retry with a fresh code.
func (r *Repository) InsertShortcode(ctx context.Context, sc Shortcode) error {
	_, err := r.db.SQL.ExecContext(ctx,
		"INSERT INTO shortcodes (code, upload_id, expires_at, created_at) VALUES (?, ?, ?, ?)",
		sc.Code, sc.UploadID, sc.ExpiresAt, sc.CreatedAt)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to insert shortcode: %w", err)
	}
	return nil
}

// ResolveShortcode is a pure lookup; expiry is not filtered here.
func (r *Repository) ResolveShortcode(ctx context.Context, code string) (*Shortcode, error) {
	sc := &Shortcode{}
	err := r.db.SQL.QueryRowContext(ctx,
		"SELECT code, upload_id, expires_at, created_at FROM shortcodes WHERE code = ? LIMIT 1",
		code).Scan(&sc.Code, &sc.UploadID, &sc.ExpiresAt, &sc.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to resolve shortcode: %w", err)
	}
	return sc, nil
}

// PurgeExpiredShortcodes bulk-deletes every code whose expiry has passed
// and reports how many were removed.
func (r *Repository) PurgeExpiredShortcodes(ctx context.Context, now int64) (int64, error) {
	result, err := r.db.SQL.ExecContext(ctx, "DELETE FROM shortcodes WHERE expires_at <= ?", now)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired shortcodes: %w", err)
	}
	purged, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged shortcodes: %w", err)
	}
	return purged, nil
}

// DeleteShortcodesForUpload removes any codes pointing at the given upload.
func (r *Repository) DeleteShortcodesForUpload(ctx context.Context, uploadID string) error {
	if _, err := r.db.SQL.ExecContext(ctx, "DELETE FROM shortcodes WHERE upload_id = ?", uploadID); err != nil {
		return fmt.Errorf("failed to delete shortcodes for upload: %w", err)
	}
	return nil
}

// --- users ---

// InsertUser inserts a new user. Returns ErrConflict on an ID collision.
func (r *Repository) InsertUser(ctx context.Context, u User) error {
	banned := 0
	if u.IsBanned {
		banned = 1
	}
	_, err := r.db.SQL.ExecContext(ctx,
		"INSERT INTO users (user_id, created_at, ttl_seconds, is_banned) VALUES (?, ?, ?, ?)",
		u.UserID, u.CreatedAt, u.TTLSeconds, banned)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (r *Repository) GetUser(ctx context.Context, userID string) (*User, error) {
	u := &User{}
	var banned int
	err := r.db.SQL.QueryRowContext(ctx,
		"SELECT user_id, created_at, ttl_seconds, is_banned FROM users WHERE user_id = ? LIMIT 1",
		userID).Scan(&u.UserID, &u.CreatedAt, &u.TTLSeconds, &banned)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.IsBanned = banned == 1
	return u, nil
}

// SetUserTTL updates a user's TTL override. nil restores the global default.
func (r *Repository) SetUserTTL(ctx context.Context, userID string, ttlSeconds *int64) error {
	tag, err := r.db.SQL.ExecContext(ctx,
		"UPDATE users SET ttl_seconds = ? WHERE user_id = ?", ttlSeconds, userID)
	if err != nil {
		return fmt.Errorf("failed to set user ttl: %w", err)
	}
	if n, _ := tag.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetUserBanned toggles the ban flag.
func (r *Repository) SetUserBanned(ctx context.Context, userID string, banned bool) error {
	val := 0
	if banned {
		val = 1
	}
	tag, err := r.db.SQL.ExecContext(ctx,
		"UPDATE users SET is_banned = ? WHERE user_id = ?", val, userID)
	if err != nil {
		return fmt.Errorf("failed to set ban flag: %w", err)
	}
	if n, _ := tag.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- settings ---

// GetSetting returns the value for key, or nil when the key is absent.
func (r *Repository) GetSetting(ctx context.Context, key string) (*string, error) {
	var value sql.NullString
	err := r.db.SQL.QueryRowContext(ctx,
		"SELECT value FROM settings WHERE key = ? LIMIT 1", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	if !value.Valid {
		return nil, nil
	}
	return &value.String, nil
}

// SetSetting inserts or updates a setting.
func (r *Repository) SetSetting(ctx context.Context, key, value string) error {
	_, err := r.db.SQL.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}
