package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/vietddude/questwatch/internal/core/config"
	"github.com/vietddude/questwatch/internal/infra/storage/postgres"
)

// openDB connects to the configured database or exits. Operator commands
// act on persisted state, so memory storage is not an option here.
func openDB(ctx context.Context, cfg *config.AppConfig) *postgres.DB {
	if cfg.Database.URL == "" {
		slog.Error("Failed to connect to database", "error", errors.New("database.url is not set"))
		os.Exit(1)
	}
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	return db
}
