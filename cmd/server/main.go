package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"picbin/internal/server/admin"
	"picbin/internal/server/api"
	"picbin/internal/server/config"
	"picbin/internal/server/database"
	"picbin/internal/server/ratelimit"
	"picbin/internal/server/service"
	"picbin/internal/server/storage"
)

func main() {
	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load config
	cfg := config.Load()
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"db_path", cfg.DBPath,
		"document_path", cfg.DocumentPath,
		"storage_path", cfg.StoragePath,
		"max_file_size", cfg.MaxFileSize,
		"default_ttl", cfg.DefaultTTL,
	)

	// Open the index database
	ctx := context.Background()
	db, err := database.New(ctx, cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	if err := db.RunMigrations(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database migrations complete")

	// Initialize the document and file stores
	docs := storage.NewDocumentStore(cfg.DocumentPath)
	if err := docs.EnsureDir(); err != nil {
		slog.Error("failed to initialize document store", "error", err)
		os.Exit(1)
	}
	files := storage.NewFileStore(cfg.StoragePath)
	if err := files.EnsureDir(); err != nil {
		slog.Error("failed to initialize file storage", "error", err)
		os.Exit(1)
	}
	limitStore := ratelimit.NewFileStore(cfg.RateLimitPath)
	if err := limitStore.EnsureDir(); err != nil {
		slog.Error("failed to initialize rate limit storage", "error", err)
		os.Exit(1)
	}
	slog.Info("storage initialized",
		"documents", cfg.DocumentPath,
		"files", cfg.StoragePath,
	)

	// Wire up the services
	repo := database.NewRepository(db)
	codes := service.NewShortcodeAllocator(repo)
	accounts := service.NewAccountService(repo, cfg.DefaultTTL)
	uploads := service.NewUploadService(repo, docs, files, codes, accounts, cfg)
	sweeper := service.NewSweeper(repo, uploads, cfg.SweepLockPath, cfg.SweepInterval)

	adminSvc := admin.New(admin.NewFileAllowList(cfg.AdminIDsPath), cfg.AdminHMACSecret, cfg.AdminLoginToken)
	if cfg.AdminHMACSecret == "" || cfg.AdminLoginToken == "" {
		slog.Warn("admin login disabled; set ADMIN_HMAC_SECRET and ADMIN_LOGIN_TOKEN to enable")
	}

	// Setup HTTP router
	limiter := ratelimit.New(limitStore)
	handler := api.NewHandler(uploads, accounts, adminSvc, sweeper, db, cfg)
	e := api.SetupRouter(handler, limiter, cfg)

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr, "base_url", cfg.BaseURL)
		if err := e.Start(addr); err != nil {
			slog.Info("server stopped", "reason", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("server exited cleanly")
}
