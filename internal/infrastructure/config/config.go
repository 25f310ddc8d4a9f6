package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all service configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	Pipeline  PipelineConfig
	Notify    NotifyConfig
	Recovery  RecoveryConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8090"`
	Host string `envconfig:"HOST" default:"127.0.0.1"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// PipelineConfig tunes the core error pipeline.
type PipelineConfig struct {
	// SweepInterval drives the cooldown-ledger prune task.
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
	// RecoveryDelay defers background recovery after an error is handled.
	RecoveryDelay time.Duration `envconfig:"RECOVERY_DELAY" default:"100ms"`
	// RulesFile optionally layers YAML-defined rules and throttle
	// overrides over the defaults.
	RulesFile string `envconfig:"RULES_FILE" default:""`
}

// NotifyConfig tunes user-facing notification delivery.
type NotifyConfig struct {
	FlushInterval time.Duration `envconfig:"NOTIFY_FLUSH_INTERVAL" default:"2s"`
	PruneInterval time.Duration `envconfig:"NOTIFY_PRUNE_INTERVAL" default:"5m"`
	ReportURL     string        `envconfig:"NOTIFY_REPORT_URL" default:"https://github.com/capturekit/capture/issues/new"`
}

// RecoveryConfig tunes automated recovery.
type RecoveryConfig struct {
	MaxRetryAttempts int           `envconfig:"RECOVERY_MAX_ATTEMPTS" default:"3"`
	ProbeURL         string        `envconfig:"RECOVERY_PROBE_URL" default:"https://clients3.google.com/generate_204"`
	ProbeTimeout     time.Duration `envconfig:"RECOVERY_PROBE_TIMEOUT" default:"5s"`
}

// RateLimitConfig holds report-endpoint rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"50"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"100"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8090",
			Host: "127.0.0.1",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Pipeline: PipelineConfig{
			SweepInterval: time.Minute,
			RecoveryDelay: 100 * time.Millisecond,
		},
		Notify: NotifyConfig{
			FlushInterval: 2 * time.Second,
			PruneInterval: 5 * time.Minute,
			ReportURL:     "https://github.com/capturekit/capture/issues/new",
		},
		Recovery: RecoveryConfig{
			MaxRetryAttempts: 3,
			ProbeURL:         "https://clients3.google.com/generate_204",
			ProbeTimeout:     5 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
	}
}
