package cli

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/vietddude/questwatch/internal/core/config"
)

func TestSetupLogging_JSONFile(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	path := filepath.Join(t.TempDir(), "questwatch.log")
	closeLog, err := setupLogging(config.LoggingConfig{
		Level:     "info",
		Format:    "json",
		File:      path,
		MaxSizeMB: 1,
	}, false)
	if err != nil {
		t.Fatalf("setupLogging failed: %v", err)
	}
	slog.Info("claim settled", "claim_id", "c-1")
	closeLog()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	var last map[string]any
	if err := json.Unmarshal(lines[len(lines)-1], &last); err != nil {
		t.Fatalf("last line is not json: %v", err)
	}
	if last["msg"] != "claim settled" || last["claim_id"] != "c-1" {
		t.Errorf("unexpected record: %v", last)
	}
}

func TestSetupLogging_UnknownLevel(t *testing.T) {
	if _, err := setupLogging(config.LoggingConfig{Level: "loud"}, false); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
