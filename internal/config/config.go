// Package config provides configuration management for the usage agent and collector.
// It uses Viper to load settings from files, environment variables, and CLI flags.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration. It is loaded once at process start and
// treated as immutable afterwards.
type Config struct {
	// ── Agent: delivery ──────────────────────────────────────────────────────
	// ServerAddress is the collector data-plane address ("host:port").
	// Empty disables remote delivery entirely.
	ServerAddress      string `mapstructure:"server_address"`
	SendTimeoutSeconds int    `mapstructure:"send_timeout_seconds"`

	// ── Agent: thresholds ────────────────────────────────────────────────────
	CPUAlertThreshold  float64 `mapstructure:"cpu_alert_threshold"`
	GPUAlertThreshold  float64 `mapstructure:"gpu_alert_threshold"`
	DiskAlertThreshold float64 `mapstructure:"disk_space_alert_threshold_gb"`
	DiskPath           string  `mapstructure:"disk_path"`

	// ── Agent: local log ─────────────────────────────────────────────────────
	LogFolder        string `mapstructure:"log_folder"`
	LogRetentionDays int    `mapstructure:"log_retention_days"`

	// ── Agent: scheduling ────────────────────────────────────────────────────
	SampleIntervalSeconds int `mapstructure:"sample_interval_seconds"`
	PingIntervalSeconds   int `mapstructure:"ping_interval_seconds"`
	TickIntervalSeconds   int `mapstructure:"tick_interval_seconds"`
	ErrorBackoffSeconds   int `mapstructure:"error_backoff_seconds"`

	// ExternalCheckCommand is run by the patch-compliance task; empty disables it.
	ExternalCheckCommand        string `mapstructure:"external_check_command"`
	ExternalCheckSchedule       string `mapstructure:"external_check_schedule"`
	ExternalCheckTimeoutSeconds int    `mapstructure:"external_check_timeout_seconds"`

	// ── Collector ────────────────────────────────────────────────────────────
	ServerHost  string `mapstructure:"server_host"`
	DataPort    int    `mapstructure:"data_port"`    // agent ingestion
	ControlPort int    `mapstructure:"control_port"` // dashboard + operator API
	DBDriver    string `mapstructure:"db_driver"`    // sqlite | postgres | mysql
	DBPath      string `mapstructure:"db_path"`
	DBDSN       string `mapstructure:"db_dsn"` // used by postgres and mysql

	// Collector-side alert thresholds, independent of the agent's pre-filtering.
	CollectorCPUAlertThreshold float64 `mapstructure:"collector_cpu_alert_threshold"`
	CollectorGPUAlertThreshold float64 `mapstructure:"collector_gpu_alert_threshold"`
	OfflineThresholdMinutes    int     `mapstructure:"offline_threshold_minutes"`

	// ── Security (control plane only) ────────────────────────────────────────
	JWTSecret string `mapstructure:"jwt_secret"`
	AdminUser string `mapstructure:"admin_user"`
	AdminPass string `mapstructure:"admin_pass"`

	// ── Ambient ──────────────────────────────────────────────────────────────
	LogLevel        string `mapstructure:"log_level"`
	LogDebug        bool   `mapstructure:"log_debug"`
	MetricsExporter string `mapstructure:"metrics_exporter"` // none | stdout | otlp
	OTLPEndpoint    string `mapstructure:"otlp_endpoint"`
}

// Validation errors returned by Validate.
var (
	ErrInvalidInterval  = errors.New("intervals must be positive")
	ErrInvalidThreshold = errors.New("cpu/gpu thresholds must be within 0-100")
	ErrInvalidDisk      = errors.New("disk_space_alert_threshold_gb must not be negative")
	ErrInvalidPort      = errors.New("ports must be within 1-65535")
	ErrUnknownDBDriver  = errors.New("db_driver must be sqlite, postgres or mysql")
	ErrUnknownExporter  = errors.New("metrics_exporter must be none, stdout or otlp")
)

// Load reads config from file (path, or ./config.yaml, or ~/.usage-agent/config.yaml)
// and falls back to smart defaults. Environment variables with prefix USAGE_
// override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.usage-agent")
	}
	if err := v.ReadInConfig(); err != nil {
		// config file is optional unless named explicitly
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("USAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration produced by Load with no file and no environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_address", "")
	v.SetDefault("send_timeout_seconds", 10)

	v.SetDefault("cpu_alert_threshold", 90)
	v.SetDefault("gpu_alert_threshold", 90)
	v.SetDefault("disk_space_alert_threshold_gb", 20)
	v.SetDefault("disk_path", defaultDiskPath())

	v.SetDefault("log_folder", ".")
	v.SetDefault("log_retention_days", 14)

	v.SetDefault("sample_interval_seconds", 30)
	v.SetDefault("ping_interval_seconds", 60)
	v.SetDefault("tick_interval_seconds", 30)
	v.SetDefault("error_backoff_seconds", 60)

	v.SetDefault("external_check_command", "")
	v.SetDefault("external_check_schedule", "@every 6h")
	v.SetDefault("external_check_timeout_seconds", 300)

	v.SetDefault("server_host", "0.0.0.0")
	v.SetDefault("data_port", 5000)
	v.SetDefault("control_port", 6677)
	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_path", "usage.db")
	v.SetDefault("db_dsn", "")

	v.SetDefault("collector_cpu_alert_threshold", 90)
	v.SetDefault("collector_gpu_alert_threshold", 90)
	v.SetDefault("offline_threshold_minutes", 30)

	// MUST be overridden in production via config.yaml or env vars.
	v.SetDefault("jwt_secret", "uS4g3#kP9!wQ2^zR7&mT1*vB6")
	v.SetDefault("admin_user", "admin")
	v.SetDefault("admin_pass", "admin")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_debug", false)
	v.SetDefault("metrics_exporter", "none")
	v.SetDefault("otlp_endpoint", "")
}

func defaultDiskPath() string {
	if runtime.GOOS == "windows" {
		return `C:\`
	}
	return "/"
}

// ValidateAgent checks the settings the agent depends on.
// A negative log_retention_days is accepted; cleanup treats it as a no-op.
func (c *Config) ValidateAgent() error {
	if c.SampleIntervalSeconds <= 0 || c.PingIntervalSeconds <= 0 ||
		c.TickIntervalSeconds <= 0 || c.ErrorBackoffSeconds <= 0 ||
		c.SendTimeoutSeconds <= 0 || c.ExternalCheckTimeoutSeconds <= 0 {
		return ErrInvalidInterval
	}
	if !percent(c.CPUAlertThreshold) || !percent(c.GPUAlertThreshold) {
		return ErrInvalidThreshold
	}
	if c.DiskAlertThreshold < 0 {
		return ErrInvalidDisk
	}
	return c.validateAmbient()
}

// ValidateServer checks the settings the collector depends on.
func (c *Config) ValidateServer() error {
	if !port(c.DataPort) || !port(c.ControlPort) {
		return ErrInvalidPort
	}
	switch c.DBDriver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("%w: got %q", ErrUnknownDBDriver, c.DBDriver)
	}
	if c.OfflineThresholdMinutes <= 0 {
		return ErrInvalidInterval
	}
	if !percent(c.CollectorCPUAlertThreshold) || !percent(c.CollectorGPUAlertThreshold) {
		return ErrInvalidThreshold
	}
	return c.validateAmbient()
}

func (c *Config) validateAmbient() error {
	switch c.MetricsExporter {
	case "", "none", "stdout", "otlp":
		return nil
	default:
		return fmt.Errorf("%w: got %q", ErrUnknownExporter, c.MetricsExporter)
	}
}

func percent(v float64) bool { return v >= 0 && v <= 100 }

func port(p int) bool { return p > 0 && p <= 65535 }
