package database

// UploadRow is the read-optimized projection of an upload kept in the
// relational index. The JSON document is authoritative; this row is
// re-derived on every save.
type UploadRow struct {
	UploadID    string
	UserID      *string
	CreatedAt   int64
	ExpiresAt   *int64 // nil = never expires
	Type        string
	ShortCode   *string
	PreviewFile *string
	FileCount   int
}

// AdminUploadRow is an UploadRow joined with the owner's ban flag for the
// admin listing.
type AdminUploadRow struct {
	UploadRow
	IsBanned bool
}

// Shortcode maps a short public code to an upload.
type Shortcode struct {
	Code      string
	UploadID  string
	ExpiresAt int64
	CreatedAt int64
}

// User is an anonymous identity known only by its bearer cookie.
type User struct {
	UserID     string
	CreatedAt  int64
	TTLSeconds *int64 // nil = use the global default
	IsBanned   bool
}
