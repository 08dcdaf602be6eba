package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/medstock-api/internal/config"
	"github.com/phrazzld/medstock-api/internal/platform/logger"
	"github.com/phrazzld/medstock-api/internal/platform/postgres"
)

// errNoDatabase is returned by migration commands when no database is configured.
var errNoDatabase = errors.New("database URL is not configured")

// handleMigrations runs a goose command against the configured database.
func handleMigrations(ctx context.Context, cfg *config.Config, log *slog.Logger, command string) error {
	if cfg.Database.URL == "" {
		return errNoDatabase
	}

	db, err := setupAppDatabase(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			log.Error("Error closing database connection", "error", cerr)
		}
	}()

	log.Info("Executing migrations", "command", command)
	if err := postgres.Migrate(logger.WithContext(ctx, log), db, command); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
