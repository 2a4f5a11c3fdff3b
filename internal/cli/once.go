package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/questwatch/internal/control"
	"github.com/vietddude/questwatch/internal/core/config"
)

var scanOnceCmd = &cobra.Command{
	Use:   "scan-once",
	Short: "Run a single scanner cycle and exit",
	Args:  cobra.NoArgs,
	Run:   runScanOnce,
}

var payoutOnceCmd = &cobra.Command{
	Use:   "payout-once",
	Short: "Settle at most one pending claim and exit",
	Args:  cobra.NoArgs,
	Run:   runPayoutOnce,
}

func init() {
	rootCmd.AddCommand(scanOnceCmd)
	rootCmd.AddCommand(payoutOnceCmd)
}

func runScanOnce(cmd *cobra.Command, args []string) {
	// One-shot scans never need the treasury signer.
	cfg, closeLog := loadConfig(config.WithoutPayout)
	defer closeLog()

	ctx := context.Background()
	app, err := control.New(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize app", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if err := app.Scanner().RunCycle(ctx); err != nil {
		slog.Error("Scan cycle failed", "error", err)
		os.Exit(1)
	}
	fmt.Println("Scan cycle completed")
}

func runPayoutOnce(cmd *cobra.Command, args []string) {
	cfg, closeLog := loadConfig(func(c *config.AppConfig) { c.Payout.Enabled = true })
	defer closeLog()

	ctx := context.Background()
	app, err := control.New(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize app", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	processed, err := app.Payout().ProcessNext(ctx)
	if err != nil {
		slog.Error("Payout failed", "error", err)
		os.Exit(1)
	}
	if !processed {
		fmt.Println("No pending claims")
		return
	}
	fmt.Println("Settled one claim")
}
