// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel converts a LogLevel to a zerolog.Level. Unknown values map to info.
func ParseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(string(level))) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Record set loaded into the paginator
//   - Batch reveal scheduled or revealed
//   - Advance requests ignored (loading, exhausted, failed, disposed)
//   - Sentinel observer (re)attached or disconnected
//   - Reveals dropped after unmount
//   - Fetches that end after unmount, cancelled or not
//
// Info: Normal operation events
//   - Record list fetched from the source
//   - Feed loaded (first batch shown)
//   - Session created, closed or reaped
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Upstream returned a non-2xx status or an undecodable body
//   - Session limit reached
//   - Malformed visibility reports
//
// Error: Error conditions requiring attention
//   - Initial fetch failed (feed enters the failed state)
//   - Server failed to start or shut down cleanly
//   - Configuration errors
//
// Context Fields:
//   - component: Emitting component (feed-source, feed, server, main)
//   - session_id: Host session identifier
//   - endpoint: Source URL
//   - status: Upstream HTTP status code
//   - status_code: Host response status code
//   - duration: Request duration
//   - error_class: Error classification (client, server, network, decode)
//   - cursor: Number of revealed records
//   - total: Size of the full record set
//   - ratio: Reported sentinel intersection ratio
