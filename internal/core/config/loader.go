package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/questwatch/internal/core/domain"
)

// Override adjusts a parsed config before it is validated.
type Override func(*AppConfig)

// WithoutPayout disables the payout worker, so commands that never pay do not
// need the treasury settings.
func WithoutPayout(c *AppConfig) {
	c.Payout.Enabled = false
}

// Load reads configuration from a YAML file.
func Load(path string, overrides ...Override) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data, overrides...)
}

// Parse decodes YAML configuration, expanding environment variables and
// applying defaults. Overrides run after defaults and before validation.
func Parse(data []byte, overrides ...Override) (*AppConfig, error) {
	// Fields that may legitimately be zero get their defaults before decoding.
	cfg := AppConfig{
		Scanner: ScannerConfig{Enabled: true, DefaultStartBlock: 52_000_000},
		Payout:  PayoutConfig{Enabled: true},
	}
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	for _, o := range overrides {
		o(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = 30
	}

	if c.Redis.LeaseTTL == 0 {
		c.Redis.LeaseTTL = 10 * time.Minute
	}

	if c.Chain.ChainID == "" {
		c.Chain.ChainID = domain.ChainIDPolygon
	}
	if c.Chain.MaxBlockRange == 0 {
		c.Chain.MaxBlockRange = 2000
	}
	if c.Chain.RPCTimeout == 0 {
		c.Chain.RPCTimeout = 30 * time.Second
	}

	if c.Scanner.Interval == 0 {
		c.Scanner.Interval = 5 * time.Second
	}

	if c.Payout.IdleInterval == 0 {
		c.Payout.IdleInterval = 4 * time.Second
	}
	if c.Payout.ErrorBackoff == 0 {
		c.Payout.ErrorBackoff = 4 * time.Second
	}
	if c.Payout.ConfirmTimeout == 0 {
		c.Payout.ConfirmTimeout = 5 * time.Minute
	}
}

// Validate checks settings that have no usable default.
func (c *AppConfig) Validate() error {
	var errs []error

	if _, err := ParseLogLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Logging.Format))
	}

	if c.Payout.Enabled {
		if c.Payout.TokenAddress == "" {
			errs = append(errs, errors.New("payout.token_address is required when payout is enabled"))
		}
		if c.Payout.SignerKey == "" {
			errs = append(errs, errors.New("payout.signer_key is required when payout is enabled"))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ParseLogLevel maps a configured level name to a slog level.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", level)
}
