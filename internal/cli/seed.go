package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/questwatch/internal/core/config"

	"github.com/vietddude/questwatch/internal/infra/storage/postgres"
)

var seedCmd = &cobra.Command{
	Use:   "seed [file.sql]",
	Short: "Apply migrations, then execute a SQL file (tasks, wallets, claims)",
	Args:  cobra.ExactArgs(1),
	Run:   runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) {
	content, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Printf("Failed to read %s: %v\n", args[0], err)
		os.Exit(1)
	}

	cfg, closeLog := loadConfig(config.WithoutPayout)
	defer closeLog()

	ctx := context.Background()
	db := openDB(ctx, cfg)
	defer func() {
		_ = db.Close()
	}()

	if err := postgres.Migrate(ctx, db); err != nil {
		slog.Error("Failed to migrate database", "error", err)
		os.Exit(1)
	}
	if _, err := db.ExecContext(ctx, string(content)); err != nil {
		slog.Error("Failed to execute seed file", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Successfully applied %s\n", args[0])
}
