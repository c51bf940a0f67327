package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"picbin/internal/server/admin"
	"picbin/internal/server/config"
	"picbin/internal/server/database"
	"picbin/internal/server/ident"
	"picbin/internal/server/service"
	"picbin/internal/server/storage"

	"github.com/labstack/echo/v4"
)

const (
	userCookieName  = "uid"
	adminCookieName = "admin_session"

	// userCookieMaxAge keeps anonymous identities around effectively
	// forever; losing the cookie is losing the account.
	userCookieMaxAge = 10 * 365 * 24 * time.Hour
)

// Handler contains the HTTP handlers for the picbin API.
type Handler struct {
	uploads  *service.UploadService
	accounts *service.AccountService
	admin    *admin.Service
	sweeper  *service.Sweeper
	db       *database.DB
	cfg      *config.Config
}

// NewHandler creates a new handler with the given dependencies.
func NewHandler(uploads *service.UploadService, accounts *service.AccountService, adminSvc *admin.Service, sweeper *service.Sweeper, db *database.DB, cfg *config.Config) *Handler {
	return &Handler{
		uploads:  uploads,
		accounts: accounts,
		admin:    adminSvc,
		sweeper:  sweeper,
		db:       db,
		cfg:      cfg,
	}
}

// currentActor derives the caller's identity from cookies. A structurally
// invalid user cookie reads as anonymous; elevation additionally requires
// a valid admin session cookie for the same user.
func (h *Handler) currentActor(c echo.Context) service.Actor {
	var actor service.Actor

	cookie, err := c.Cookie(userCookieName)
	if err != nil || !ident.IsUserID(cookie.Value) {
		return actor
	}
	userID := cookie.Value
	actor.UserID = &userID

	if session, err := c.Cookie(adminCookieName); err == nil {
		actor.Admin = h.admin.IsElevated(userID, session.Value)
	}
	return actor
}

// RateLimitKey buckets upload traffic by user when known, by address
// otherwise.
func (h *Handler) RateLimitKey(c echo.Context) string {
	actor := h.currentActor(c)
	if actor.UserID != nil {
		return "upload_" + *actor.UserID
	}
	return "upload_" + c.RealIP()
}

// HandleRegister handles POST /api/register.
// Mints a new anonymous identity, or returns the caller's existing one.
func (h *Handler) HandleRegister(c echo.Context) error {
	actor := h.currentActor(c)
	if actor.UserID != nil {
		if _, err := h.accounts.Get(c.Request().Context(), *actor.UserID); err == nil {
			return c.JSON(http.StatusOK, echo.Map{"ok": true, "user_id": *actor.UserID})
		}
	}

	user, err := h.accounts.Register(c.Request().Context())
	if err != nil {
		return mapServiceError(c, err)
	}
	h.setCookie(c, userCookieName, user.UserID, userCookieMaxAge)
	return c.JSON(http.StatusCreated, echo.Map{"ok": true, "user_id": user.UserID})
}

// HandleMe handles GET /api/me.
// Returns the caller's account state and retention choices.
func (h *Handler) HandleMe(c echo.Context) error {
	actor := h.currentActor(c)
	if actor.UserID == nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"ok": false, "error": "not registered"})
	}

	ctx := c.Request().Context()
	user, err := h.accounts.Get(ctx, *actor.UserID)
	if err != nil {
		return mapServiceError(c, err)
	}
	opts, err := h.accounts.TTLOptions(ctx, actor.Admin)
	if err != nil {
		return mapServiceError(c, err)
	}

	options := make([]echo.Map, 0, len(opts))
	for _, o := range opts {
		entry := echo.Map{"label": o.Label}
		if o.Seconds != nil {
			entry["seconds"] = *o.Seconds
		} else {
			entry["seconds"] = "unlimited"
		}
		options = append(options, entry)
	}

	resp := echo.Map{
		"ok":          true,
		"user_id":     user.UserID,
		"is_admin":    actor.Admin,
		"is_banned":   user.IsBanned,
		"ttl_options": options,
	}
	if user.TTLSeconds != nil {
		resp["ttl_seconds"] = *user.TTLSeconds
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleSetTTL handles POST /api/me/ttl.
// Stores the caller's retention preference. The form value is either a
// number of seconds, "unlimited", or "default" to clear it.
func (h *Handler) HandleSetTTL(c echo.Context) error {
	actor := h.currentActor(c)
	if actor.UserID == nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"ok": false, "error": "not registered"})
	}

	ttl, err := parseTTLValue(c.FormValue("ttl"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"ok": false, "error": "invalid ttl value"})
	}
	if err := h.accounts.SetTTL(c.Request().Context(), *actor.UserID, ttl, actor.Admin); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

// HandleUpload handles POST /api/upload.
// Accepts a multipart form with one or more image parts. When an
// "upload_id" field names an existing upload the files are appended to
// it, otherwise a new upload is created.
func (h *Handler) HandleUpload(c echo.Context) error {
	if c.Request().ContentLength > h.cfg.MaxRequestSize {
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{
			"ok":    false,
			"error": "request exceeds maximum total size",
		})
	}

	actor := h.currentActor(c)
	inputs, cleanup, err := h.collectFiles(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"ok":    false,
			"error": "expected a multipart form with image files",
		})
	}
	defer cleanup()

	if len(inputs) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"ok":    false,
			"error": "no files in request (use form field 'files[]')",
		})
	}

	ctx := c.Request().Context()
	var result *service.IngestResult
	if uploadID := c.FormValue("upload_id"); uploadID != "" {
		result, err = h.uploads.AddFiles(ctx, actor, uploadID, inputs)
	} else {
		result, err = h.uploads.Create(ctx, actor, inputs)
	}
	if err != nil {
		return mapServiceError(c, err)
	}

	resp := h.uploadPayload(result.Upload)
	resp["added"] = result.Added
	resp["skipped"] = result.Skipped
	return c.JSON(http.StatusCreated, resp)
}

// HandleDelete handles POST /api/delete.
// With only "upload_id" the whole upload is removed; with "file_id" as
// well, just that file. Removing the last file removes the upload.
func (h *Handler) HandleDelete(c echo.Context) error {
	actor := h.currentActor(c)
	uploadID := c.FormValue("upload_id")
	fileID := c.FormValue("file_id")
	ctx := c.Request().Context()

	if fileID != "" {
		remaining, kind, err := h.uploads.RemoveFile(ctx, actor, uploadID, fileID)
		if err != nil {
			return mapServiceError(c, err)
		}
		return c.JSON(http.StatusOK, echo.Map{
			"ok":        true,
			"remaining": remaining,
			"type":      kind,
		})
	}

	if err := h.uploads.Delete(ctx, actor, uploadID); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

// HandleListUploads handles GET /api/uploads.
// Pages through the caller's live uploads, newest first.
func (h *Handler) HandleListUploads(c echo.Context) error {
	ctx := c.Request().Context()
	h.sweeper.MaybeSweep(ctx)

	actor := h.currentActor(c)
	if actor.UserID == nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"ok": false, "error": "not registered"})
	}

	page, perPage := paging(c)
	rows, total, err := h.uploads.List(ctx, *actor.UserID, page, perPage)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"ok":      true,
		"uploads": rowPayloads(rows),
		"total":   total,
		"page":    page,
	})
}

// HandleView handles GET /api/view/:code.
// Resolves a short code to its upload.
func (h *Handler) HandleView(c echo.Context) error {
	ctx := c.Request().Context()
	h.sweeper.MaybeSweep(ctx)

	u, err := h.uploads.Resolve(ctx, c.Param("code"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, h.uploadPayload(u))
}

// HandleServeFile handles GET /i/:id/:filename.
// Serves one stored artifact, but only while its upload is live and the
// name appears in the upload's record.
func (h *Handler) HandleServeFile(c echo.Context) error {
	u, err := h.uploads.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}

	filename := c.Param("filename")
	for _, f := range u.Files {
		if f.Filename == filename {
			return c.File(h.uploads.FilePath(u.ID, filename))
		}
	}
	return c.JSON(http.StatusNotFound, echo.Map{"ok": false, "error": "file not found"})
}

// HandleAdminLogin handles POST /api/admin/login.
func (h *Handler) HandleAdminLogin(c echo.Context) error {
	actor := h.currentActor(c)
	if actor.UserID == nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"ok": false, "error": "not registered"})
	}

	session, ok := h.admin.Login(*actor.UserID, c.FormValue("token"))
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"ok": false, "error": "login failed"})
	}
	h.setCookie(c, adminCookieName, session, admin.CookieMaxAge)
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

// HandleAdminUploads handles GET /api/admin/uploads.
// Pages over every upload, expired ones included, optionally narrowed to
// one owner via ?user_id=.
func (h *Handler) HandleAdminUploads(c echo.Context) error {
	if _, err := h.requireAdmin(c); err != nil {
		return err
	}

	var filter *string
	if uid := c.QueryParam("user_id"); uid != "" {
		filter = &uid
	}
	page, perPage := paging(c)
	rows, total, err := h.uploads.AdminList(c.Request().Context(), filter, page, perPage)
	if err != nil {
		return mapServiceError(c, err)
	}

	payloads := make([]echo.Map, 0, len(rows))
	for _, row := range rows {
		p := rowPayload(row.UploadRow)
		p["is_banned"] = row.IsBanned
		payloads = append(payloads, p)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"ok":      true,
		"uploads": payloads,
		"total":   total,
		"page":    page,
	})
}

// HandleAdminUploadDetail handles GET /api/admin/uploads/:id.
// Shows the full record even when the upload has expired but not yet been
// swept.
func (h *Handler) HandleAdminUploadDetail(c echo.Context) error {
	if _, err := h.requireAdmin(c); err != nil {
		return err
	}

	u, err := h.uploads.AdminGet(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, h.uploadPayload(u))
}

// HandleAdminBan handles POST /api/admin/ban.
func (h *Handler) HandleAdminBan(c echo.Context) error {
	if _, err := h.requireAdmin(c); err != nil {
		return err
	}

	userID := c.FormValue("user_id")
	if !ident.IsUserID(userID) {
		return c.JSON(http.StatusBadRequest, echo.Map{"ok": false, "error": "invalid user id"})
	}
	banned := c.FormValue("banned") != "false"
	if err := h.accounts.SetBanned(c.Request().Context(), userID, banned); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true, "user_id": userID, "banned": banned})
}

// HandleAdminSettings handles GET /api/admin/settings.
func (h *Handler) HandleAdminSettings(c echo.Context) error {
	if _, err := h.requireAdmin(c); err != nil {
		return err
	}

	def, err := h.accounts.DefaultTTL(c.Request().Context())
	if err != nil {
		return mapServiceError(c, err)
	}
	resp := echo.Map{"ok": true}
	if def != nil {
		resp["default_ttl_seconds"] = *def
	} else {
		resp["default_ttl_seconds"] = "unlimited"
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleAdminUpdateSettings handles POST /api/admin/settings.
func (h *Handler) HandleAdminUpdateSettings(c echo.Context) error {
	if _, err := h.requireAdmin(c); err != nil {
		return err
	}

	raw := c.FormValue("default_ttl")
	var seconds *int64
	if raw != "unlimited" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"ok": false, "error": "invalid default ttl"})
		}
		seconds = &n
	}
	if err := h.accounts.SetDefaultTTL(c.Request().Context(), seconds); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including database connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.db.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// --- helpers ---

func (h *Handler) requireAdmin(c echo.Context) (service.Actor, error) {
	actor := h.currentActor(c)
	if !actor.Admin {
		return actor, c.JSON(http.StatusForbidden, echo.Map{"ok": false, "error": "admin session required"})
	}
	return actor, nil
}

func (h *Handler) setCookie(c echo.Context, name, value string, maxAge time.Duration) {
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// uploadPayload renders the full upload record, including per-file
// entries and share URLs.
func (h *Handler) uploadPayload(u *storage.Upload) echo.Map {
	files := make([]echo.Map, 0, len(u.Files))
	for _, f := range u.Files {
		files = append(files, echo.Map{
			"id":       f.ID,
			"filename": f.Filename,
			"original": f.Original,
			"mime":     f.Mime,
			"size":     f.Size,
			"url":      fmt.Sprintf("%s/i/%s/%s", h.cfg.BaseURL, u.ID, f.Filename),
		})
	}

	resp := echo.Map{
		"ok":         true,
		"id":         u.ID,
		"type":       u.Type,
		"created_at": u.CreatedAt.Unix(),
		"files":      files,
	}
	if u.ShortCode != nil {
		resp["code"] = *u.ShortCode
		resp["url"] = fmt.Sprintf("%s/api/view/%s", h.cfg.BaseURL, *u.ShortCode)
	}
	if u.ExpiresAt != nil {
		resp["expires_at"] = u.ExpiresAt.Unix()
	}
	return resp
}

// rowPayload renders one index row for listings.
func rowPayload(row database.UploadRow) echo.Map {
	p := echo.Map{
		"id":         row.UploadID,
		"type":       row.Type,
		"created_at": row.CreatedAt,
		"file_count": row.FileCount,
	}
	if row.UserID != nil {
		p["user_id"] = *row.UserID
	}
	if row.ExpiresAt != nil {
		p["expires_at"] = *row.ExpiresAt
	}
	if row.ShortCode != nil {
		p["code"] = *row.ShortCode
	}
	if row.PreviewFile != nil {
		p["preview"] = *row.PreviewFile
	}
	return p
}

func rowPayloads(rows []database.UploadRow) []echo.Map {
	out := make([]echo.Map, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowPayload(row))
	}
	return out
}

// parseTTLValue maps the wire form of a retention choice onto the stored
// one: "default" clears, "unlimited" is the never-expire sentinel, and
// anything else must be a positive number of seconds.
func parseTTLValue(raw string) (*int64, error) {
	switch raw {
	case "default":
		return nil, nil
	case "unlimited":
		zero := int64(0)
		return &zero, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return nil, errors.New("invalid ttl value")
	}
	return &n, nil
}

func paging(c echo.Context) (page, perPage int) {
	page, _ = strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ = strconv.Atoi(c.QueryParam("per_page"))
	if perPage < 1 {
		perPage = 20
	}
	return page, perPage
}

// mapServiceError translates service-layer errors into appropriate HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"ok": false, "error": "upload not found"})
	case errors.Is(err, service.ErrUserNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"ok": false, "error": "user not found"})
	case errors.Is(err, service.ErrUnauthorized):
		return c.JSON(http.StatusForbidden, echo.Map{"ok": false, "error": "not authorized"})
	case errors.Is(err, service.ErrBanned):
		return c.JSON(http.StatusForbidden, echo.Map{"ok": false, "error": "account banned"})
	case errors.Is(err, service.ErrTooManyFiles):
		return c.JSON(http.StatusBadRequest, echo.Map{"ok": false, "error": "too many files in one request"})
	case errors.Is(err, service.ErrNoValidFiles):
		return c.JSON(http.StatusBadRequest, echo.Map{"ok": false, "error": "no valid image files in request"})
	case errors.Is(err, service.ErrInvalidTTL):
		return c.JSON(http.StatusBadRequest, echo.Map{"ok": false, "error": "invalid ttl selection"})
	case errors.Is(err, service.ErrFileTooLarge):
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{"ok": false, "error": "file exceeds maximum allowed size"})
	case errors.Is(err, service.ErrRequestTooLarge):
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{"ok": false, "error": "request exceeds maximum total size"})
	case errors.Is(err, service.ErrRateLimited):
		return c.JSON(http.StatusTooManyRequests, echo.Map{"ok": false, "error": "rate limit exceeded, try again later"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"ok": false, "error": "internal server error"})
	}
}
