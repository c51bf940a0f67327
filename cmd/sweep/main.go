package main

import (
	"context"
	"log/slog"
	"os"

	"picbin/internal/server/config"
	"picbin/internal/server/database"
	"picbin/internal/server/service"
	"picbin/internal/server/storage"
)

// One-shot expiry sweep for cron. The server already sweeps
// opportunistically on read traffic; this catches idle instances.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()

	ctx := context.Background()
	db, err := database.New(ctx, cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	docs := storage.NewDocumentStore(cfg.DocumentPath)
	files := storage.NewFileStore(cfg.StoragePath)
	repo := database.NewRepository(db)
	codes := service.NewShortcodeAllocator(repo)
	accounts := service.NewAccountService(repo, cfg.DefaultTTL)
	uploads := service.NewUploadService(repo, docs, files, codes, accounts, cfg)

	sweeper := service.NewSweeper(repo, uploads, cfg.SweepLockPath, cfg.SweepInterval)
	cleaned, failed := sweeper.Sweep(ctx)
	if failed > 0 {
		slog.Error("sweep finished with failures", "cleaned", cleaned, "failed", failed)
		os.Exit(1)
	}
	slog.Info("sweep complete", "cleaned", cleaned)
}
