package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/patrickcsouzadev/todo-app/config"
	"github.com/patrickcsouzadev/todo-app/storage"
	bboltstorage "github.com/patrickcsouzadev/todo-app/storage/bbolt"
	"github.com/patrickcsouzadev/todo-app/storage/postgres"
)

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openRepository picks the backend from configuration: postgres when
// DATABASE_URL is set, otherwise a bbolt file under the data directory.
func openRepository(ctx context.Context, cfg *config.Config) (storage.Repository, func(), error) {
	if cfg.DatabaseURL != "" {
		repo, err := postgres.NewRepositoryFromDSN(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("opening postgres storage: %w", err)
		}
		return repo, repo.Close, nil
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating data directory: %w", err)
	}
	repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(cfg.DataDir, "todoapp.db"), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("opening bbolt storage: %w", err)
	}
	return repo, func() { repo.Close() }, nil
}
