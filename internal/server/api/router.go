package api

import (
	"picbin/internal/server/config"
	"picbin/internal/server/ratelimit"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler, limiter *ratelimit.Limiter, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: true,
	}))
	e.Use(RequestLogger())

	// Health
	e.GET("/health", handler.HandleHealth)

	// Accounts
	e.POST("/api/register", handler.HandleRegister)
	e.GET("/api/me", handler.HandleMe)
	e.POST("/api/me/ttl", handler.HandleSetTTL)

	// Uploads (creation is rate-limited per caller)
	uploadLimit := RateLimit(limiter, cfg.RateLimitMax, cfg.RateLimitWindow, handler.RateLimitKey)
	e.POST("/api/upload", handler.HandleUpload, uploadLimit)
	e.POST("/api/delete", handler.HandleDelete)
	e.GET("/api/uploads", handler.HandleListUploads)

	// Viewing
	e.GET("/api/view/:code", handler.HandleView)
	e.GET("/i/:id/:filename", handler.HandleServeFile)

	// Admin
	e.POST("/api/admin/login", handler.HandleAdminLogin)
	e.GET("/api/admin/uploads", handler.HandleAdminUploads)
	e.GET("/api/admin/uploads/:id", handler.HandleAdminUploadDetail)
	e.POST("/api/admin/ban", handler.HandleAdminBan)
	e.GET("/api/admin/settings", handler.HandleAdminSettings)
	e.POST("/api/admin/settings", handler.HandleAdminUpdateSettings)

	return e
}
