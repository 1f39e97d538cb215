// Package logging provides JSON structured logging using zerolog.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config selects level, destination and timestamp format.
type Config struct {
	Level      string `mapstructure:"level"`
	Debug      bool   `mapstructure:"debug"`
	Output     string `mapstructure:"output"` // stdout | stderr
	TimeFormat string `mapstructure:"time_format"`
}

// New builds a timestamped JSON logger writing to the configured output.
// An unparsable level is reported as an error alongside an info-level logger.
func New(cfg Config) (zerolog.Logger, error) {
	var out io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		out = os.Stderr
	}
	return NewWithWriter(cfg, out)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(cfg Config, out io.Writer) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	var err error

	if cfg.Debug {
		level = zerolog.DebugLevel
	} else if cfg.Level != "" {
		var parsed zerolog.Level
		parsed, err = zerolog.ParseLevel(cfg.Level)
		if err == nil {
			level = parsed
		}
	}

	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	} else {
		zerolog.TimeFieldFormat = time.RFC3339
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), err
}

// WithComponent returns a child logger tagged with component=<name>.
func WithComponent(l zerolog.Logger, component string) zerolog.Logger {
	return l.With().Str("component", component).Logger()
}

// Nop discards everything; used by tests and disabled subsystems.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
