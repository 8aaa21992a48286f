// Package logging builds the structured logger used across the service.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates a text slog.Logger writing to stdout at the given level.
// Unrecognized level names fall back to info.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}
