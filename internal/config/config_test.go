package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "", cfg.ServerAddress)
	assert.Equal(t, 90.0, cfg.CPUAlertThreshold)
	assert.Equal(t, 90.0, cfg.GPUAlertThreshold)
	assert.Equal(t, 20.0, cfg.DiskAlertThreshold)
	assert.Equal(t, ".", cfg.LogFolder)
	assert.Equal(t, 14, cfg.LogRetentionDays)
	assert.Equal(t, 30, cfg.SampleIntervalSeconds)
	assert.Equal(t, 60, cfg.PingIntervalSeconds)
	assert.Equal(t, 30, cfg.TickIntervalSeconds)
	assert.Equal(t, 60, cfg.ErrorBackoffSeconds)
	assert.Equal(t, 10, cfg.SendTimeoutSeconds)
	assert.Equal(t, "@every 6h", cfg.ExternalCheckSchedule)
	assert.Equal(t, 30, cfg.OfflineThresholdMinutes)
	assert.Equal(t, "sqlite", cfg.DBDriver)

	require.NoError(t, cfg.ValidateAgent())
	require.NoError(t, cfg.ValidateServer())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	body := "server_address: 10.0.0.1:5000\ncpu_alert_threshold: 75\nlog_retention_days: -1\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1:5000", cfg.ServerAddress)
	assert.Equal(t, 75.0, cfg.CPUAlertThreshold)
	assert.Equal(t, -1, cfg.LogRetentionDays)
	// untouched keys keep their defaults
	assert.Equal(t, 60, cfg.PingIntervalSeconds)
	assert.NoError(t, cfg.ValidateAgent(), "negative retention is a no-op, not an error")
}

func TestLoadEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ping_interval_seconds: 45\n"), 0o600))
	t.Setenv("USAGE_PING_INTERVAL_SECONDS", "120")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 120, cfg.PingIntervalSeconds)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateAgent(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"zero ping interval", func(c *Config) { c.PingIntervalSeconds = 0 }, ErrInvalidInterval},
		{"cpu above 100", func(c *Config) { c.CPUAlertThreshold = 101 }, ErrInvalidThreshold},
		{"negative disk", func(c *Config) { c.DiskAlertThreshold = -1 }, ErrInvalidDisk},
		{"bad exporter", func(c *Config) { c.MetricsExporter = "prometheus" }, ErrUnknownExporter},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.ErrorIs(t, cfg.ValidateAgent(), tc.want)
		})
	}
}

func TestValidateServer(t *testing.T) {
	cfg := Default()
	cfg.DBDriver = "oracle"
	assert.ErrorIs(t, cfg.ValidateServer(), ErrUnknownDBDriver)

	cfg = Default()
	cfg.DataPort = 0
	assert.ErrorIs(t, cfg.ValidateServer(), ErrInvalidPort)

	cfg = Default()
	cfg.OfflineThresholdMinutes = 0
	assert.ErrorIs(t, cfg.ValidateServer(), ErrInvalidInterval)
}
