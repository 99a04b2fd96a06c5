// Package util holds the small ambient helpers shared across the engine:
// structured logging, retry with backoff, API rate limiting, and the
// weekday trading grid.
package util

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the engine's structured JSON logger at the given level
// ("debug", "info", "warn", "error"; anything else means "info"). It logs
// to stderr so backtest result tables on stdout stay machine-readable.
func NewLogger(level string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetDefault installs the logger as the process-wide slog default, which
// the simulator and gatherer pick up for their component loggers.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}
