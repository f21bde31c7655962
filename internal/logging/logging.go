// Package logging configures the process slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/rcliao/brandkeeper/internal/session"
)

// Init configures the global slog logger and returns it.
// format "json" selects the JSON handler for log aggregation; anything else
// uses the human-readable text handler. Logs go to stderr so command output on
// stdout stays machine-readable.
func Init(format, level string) *slog.Logger {
	return InitWriter(os.Stderr, format, level)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a logger carrying the caller's role, plan and trace.
func With(logger *slog.Logger, sc session.Context) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(sc.Attrs()...)
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
