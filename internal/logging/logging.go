// Package logging provides structured logging for the UDP mirror relay.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates a structured logger writing to stderr.
// Supported levels: debug, info, warn, error
// Supported formats: text, json
func NewLogger(level, format string) *slog.Logger {
	return NewLoggerWithWriter(level, format, os.Stderr)
}

// NewLoggerWithWriter creates a structured logger with a custom writer.
func NewLoggerWithWriter(level, format string, w io.Writer) *slog.Logger {
	return slog.New(newHandler(parseLevel(level), format, w))
}

// NewVerboseLogger creates the per-datagram logger. It writes to stdout
// regardless of the configured log level.
func NewVerboseLogger(format string) *slog.Logger {
	return NewLoggerWithWriter("debug", format, os.Stdout)
}

func newHandler(lvl slog.Level, format string, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: lvl,
	}

	switch strings.ToLower(format) {
	case "json":
		return slog.NewJSONHandler(w, opts)
	default:
		return slog.NewTextHandler(w, opts)
	}
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsValidLevel reports whether level is one of debug, info, warn, error.
func IsValidLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

// IsValidFormat reports whether format is text or json.
func IsValidFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}

// NopLogger returns a logger that discards all output.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Common attribute keys for consistent logging.
const (
	KeyReceiver    = "receiver"
	KeyDestination = "destination"
	KeyMirror      = "mirror"
	KeySender      = "sender"
	KeyBytes       = "bytes"
	KeySuppressed  = "suppressed"
	KeyError       = "error"
	KeyComponent   = "component"
	KeyAddress     = "address"
	KeyCount       = "count"
	KeyMode        = "mode"
	KeyPID         = "pid"
	KeyDuration    = "duration"
	KeyGoroutine   = "goroutine"
	KeyPanic       = "panic"
	KeyStack       = "stack"
)
