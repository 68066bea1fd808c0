// Package corelog builds the slog.Logger shared by the daemon and bridge
// binaries, following the text/JSON handler switch the teacher's
// cmd/mcp-broker-router/main.go uses.
package corelog

import (
	"log/slog"
	"os"
	"strings"
)

// New builds a slog.Logger writing to stderr (stdout is reserved for the
// MCP wire protocol on both the daemon's control socket and the bridge's
// stdio tunnel).
func New(level string, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// Component returns a derived logger tagged with the given component name,
// following the teacher's "sub-component" logging convention.
func Component(logger *slog.Logger, name string) *slog.Logger {
	return logger.With("component", name)
}
