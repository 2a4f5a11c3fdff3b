package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/questwatch/internal/control"
	"github.com/vietddude/questwatch/internal/core/config"
)

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "questwatch",
	Short: "Quest verification and reward payout service",
	Long: `Questwatch scans the chain for quest task events, records verified
completions and pays out rewards for claimed quests.`,
	Run: runServe,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scanner, payout worker and health server",
	Run:   runServe,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(runCmd)
}

// loadConfig reads .env and the config file, then installs the logger.
// The returned func flushes any file output.
func loadConfig(overrides ...config.Override) (*config.AppConfig, func()) {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath, overrides...)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	closeLog, err := setupLogging(cfg.Logging, isDebug)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to set up logging", "error", err)
		os.Exit(1)
	}
	return cfg, closeLog
}

func runServe(cmd *cobra.Command, args []string) {
	cfg, closeLog := loadConfig()
	defer closeLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := control.New(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize app", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start app", "error", err)
		app.Close()
		os.Exit(1)
	}

	slog.Info("Questwatch started", "config", cfgPath)

	sig := <-sigChan
	slog.Info("Received signal, shutting down...", "signal", sig)

	// A payout in flight waits for its receipt, so give it room to settle.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Payout.ConfirmTimeout+15*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Questwatch stopped gracefully")
}
