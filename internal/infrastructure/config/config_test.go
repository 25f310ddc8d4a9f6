package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8090", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	assert.Equal(t, time.Minute, cfg.Pipeline.SweepInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.Pipeline.RecoveryDelay)

	assert.Equal(t, 2*time.Second, cfg.Notify.FlushInterval)
	assert.Equal(t, 5*time.Minute, cfg.Notify.PruneInterval)

	assert.Equal(t, 3, cfg.Recovery.MaxRetryAttempts)

	assert.Equal(t, 50, cfg.RateLimit.RequestsPerSecond)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadOrDefault(t *testing.T) {
	cfg := LoadOrDefault()

	assert.NotNil(t, cfg)
	assert.Equal(t, "8090", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                  "9000",
		"HOST":                  "0.0.0.0",
		"LOG_LEVEL":             "debug",
		"LOG_DEV":               "true",
		"SWEEP_INTERVAL":        "30s",
		"RECOVERY_DELAY":        "250ms",
		"RULES_FILE":            "/etc/capturekit/rules.yaml",
		"NOTIFY_FLUSH_INTERVAL": "1s",
		"RECOVERY_MAX_ATTEMPTS": "5",
		"RATE_LIMIT_RPS":        "500",
		"RATE_LIMIT_ENABLED":    "false",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.SweepInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.Pipeline.RecoveryDelay)
	assert.Equal(t, "/etc/capturekit/rules.yaml", cfg.Pipeline.RulesFile)
	assert.Equal(t, time.Second, cfg.Notify.FlushInterval)
	assert.Equal(t, 5, cfg.Recovery.MaxRetryAttempts)
	assert.Equal(t, 500, cfg.RateLimit.RequestsPerSecond)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("SWEEP_INTERVAL", "not-a-duration")

	_, err := Load()
	assert.Error(t, err)
}

func TestEnvDefaultsApply(t *testing.T) {
	// With a clean environment, Load fills every field from its default
	// tag.
	for _, key := range []string{"PORT", "HOST", "SWEEP_INTERVAL", "NOTIFY_FLUSH_INTERVAL"} {
		require.NoError(t, os.Unsetenv(key))
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8090", cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Notify.FlushInterval)
}
