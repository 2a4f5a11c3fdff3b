package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vietddude/questwatch/internal/core/config"

	"github.com/vietddude/questwatch/internal/infra/storage/postgres"
)

var resetCursorCmd = &cobra.Command{
	Use:   "reset-cursor [task_id] [block]",
	Short: "Set the last scanned block of a task",
	Long: `Set the last scanned block of a task. The next scan cycle resumes at
block+1, so this doubles as a manual rescan after a reorg.`,
	Args: cobra.ExactArgs(2),
	Run:  runResetCursor,
}

func init() {
	rootCmd.AddCommand(resetCursorCmd)
}

func runResetCursor(cmd *cobra.Command, args []string) {
	taskID := args[0]
	block, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		fmt.Printf("Invalid block: %v\n", err)
		os.Exit(1)
	}

	cfg, closeLog := loadConfig(config.WithoutPayout)
	defer closeLog()

	ctx := context.Background()
	db := openDB(ctx, cfg)
	defer func() {
		_ = db.Close()
	}()

	if err := postgres.NewCursorRepo(db).Reset(ctx, taskID, block); err != nil {
		slog.Error("Failed to reset cursor", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Successfully reset cursor for %s to block %d\n", taskID, block)
}
