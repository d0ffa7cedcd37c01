// Package logging configures zerolog for the gateway and attaches a
// request-scoped logger to every proxied request.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level is a textual log level as found in configuration files.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum level written.
	Level Level

	// Pretty switches from JSON lines to zerolog's console format.
	Pretty bool

	// Output defaults to os.Stderr.
	Output io.Writer
}

// DefaultConfig returns JSON logging at info level on stderr.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// Setup builds the root logger from cfg and installs it as the zerolog
// global logger. An unknown level falls back to info.
func Setup(cfg Config) zerolog.Logger {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel converts a configured level to a zerolog level. The empty
// string means info.
func ParseLevel(level Level) (zerolog.Level, error) {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// NewLogger returns a child of the global logger tagged with component.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Levels used across the gateway:
//
// Debug: per-request cache flow
//   - hit, miss, stored record (key, status_code, size)
//   - responses skipped as not cacheable
//
// Info: lifecycle and access log
//   - server startup and shutdown, selected store
//   - one access line per request
//
// Warn: degraded but served
//   - fail-open lookup or write failures
//   - corrupt entries treated as miss
//   - upstream retries and fallbacks
//
// Error: the request failed or the process cannot continue
//   - fail-closed lookup failures, corrupt entries
//   - store unreachable at startup, invalid configuration
//
// Common fields: req_id, method, url, status, size, duration, key, route,
// upstream, error_class.
