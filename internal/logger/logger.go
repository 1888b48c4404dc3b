// Package logger builds the process-wide slog logger for the hub.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/switchboard-hq/switchboard/internal/config"
)

// New returns a JSON logger writing to stdout at the configured level.
// Every record carries the service name so hub logs stay identifiable
// when aggregated with worker logs.
func New(cfg config.Logging) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})
	return slog.New(handler).With("service", cfg.Service)
}

// parseLevel maps a config string to a slog.Level. Unknown values fall
// back to info rather than failing startup.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
