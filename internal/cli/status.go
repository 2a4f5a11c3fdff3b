package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/questwatch/internal/core/config"
	"github.com/vietddude/questwatch/internal/core/domain"
	"github.com/vietddude/questwatch/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show task cursors and claim counts",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, closeLog := loadConfig(config.WithoutPayout)
	defer closeLog()

	ctx := context.Background()
	db := openDB(ctx, cfg)
	defer func() {
		_ = db.Close()
	}()

	cursors, err := postgres.NewCursorRepo(db).List(ctx)
	if err != nil {
		slog.Error("Failed to list cursors", "error", err)
		os.Exit(1)
	}
	counts, err := postgres.NewClaimRepo(db).CountByStatus(ctx)
	if err != nil {
		slog.Error("Failed to count claims", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "TASK\tBLOCK\tUPDATED")
	for _, c := range cursors {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", c.TaskID, c.LastScannedBlock, c.UpdatedAt.Format(time.RFC3339))
	}
	_ = w.Flush()

	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "CLAIM STATUS\tCOUNT")
	for _, s := range []domain.ClaimStatus{
		domain.ClaimStatusPending,
		domain.ClaimStatusPaid,
		domain.ClaimStatusRejected,
	} {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", s, counts[s])
	}
	_ = w.Flush()
}
