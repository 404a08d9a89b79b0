// Package logging builds the zerolog logger used by the daemon.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config describes the logger.
type Config struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `yaml:"level" validate:"oneof=trace debug info warn error"`

	// Format is either console (human readable) or json.
	Format string `yaml:"format" validate:"oneof=console json"`

	// Output is stdout, stderr, or a file path. Files are appended to.
	Output string `yaml:"output" validate:"required"`
}

// Default returns the default logging configuration.
func Default() Config {
	return Config{
		Level:  "info",
		Format: "console",
		Output: "stderr",
	}
}

// nopCloser is returned for the standard streams.
type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New creates a logger from cfg. The returned closer releases the output
// file, if any.
func New(cfg Config) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("parse log level: %w", err)
	}
	var (
		out    io.Writer
		closer io.Closer = nopCloser{}
	)
	switch cfg.Output {
	case "", "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
		}
		out, closer = f, f
	}
	return NewWriter(cfg, out).Level(level), closer, nil
}

// NewWriter creates a logger writing to out in the configured format. The
// level of cfg is not applied.
func NewWriter(cfg Config, out io.Writer) zerolog.Logger {
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}
