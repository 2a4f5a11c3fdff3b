package config

import (
	"time"

	"github.com/vietddude/questwatch/internal/core/domain"
	redisclient "github.com/vietddude/questwatch/internal/infra/redis"
	"github.com/vietddude/questwatch/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Logging  LoggingConfig      `yaml:"logging"`
	Database postgres.Config    `yaml:"database"`
	Redis    redisclient.Config `yaml:"redis"`
	Chain    ChainConfig        `yaml:"chain"`
	Scanner  ScannerConfig      `yaml:"scanner"`
	Payout   PayoutConfig       `yaml:"payout"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	// File enables rotated file output when set.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// ChainConfig holds settings for the monitored chain.
type ChainConfig struct {
	ChainID       domain.ChainID `yaml:"id"`
	RPCURL        string         `yaml:"rpc_url"`
	Confirmations uint64         `yaml:"confirmations"`
	MaxBlockRange uint64         `yaml:"max_block_range"`
	RPCTimeout    time.Duration  `yaml:"rpc_timeout"`
}

// ScannerConfig holds event scanner settings.
type ScannerConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Interval          time.Duration `yaml:"interval"`
	DefaultStartBlock uint64        `yaml:"default_start_block"`
}

// PayoutConfig holds payout worker settings.
type PayoutConfig struct {
	Enabled        bool          `yaml:"enabled"`
	IdleInterval   time.Duration `yaml:"idle_interval"`
	ErrorBackoff   time.Duration `yaml:"error_backoff"`
	TokenAddress   string        `yaml:"token_address"`
	SignerKey      string        `yaml:"signer_key"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
}
