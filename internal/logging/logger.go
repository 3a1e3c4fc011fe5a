package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// ParseLevel maps debug|info|warn|error to a slog level. Unknown values yield info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// New builds the root logger. format is "json" or "text"; every record is
// enriched with the correlation IDs carried by its context.
func New(w io.Writer, level, format string) *slog.Logger {
	return NewLeveled(w, ParseLevel(level), format)
}

// NewLeveled is New with a caller-owned level, e.g. a *slog.LevelVar that
// is adjusted on config reload.
func NewLeveled(w io.Writer, level slog.Leveler, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var inner slog.Handler
	if strings.EqualFold(format, "json") {
		inner = slog.NewJSONHandler(w, opts)
	} else {
		inner = slog.NewTextHandler(w, opts)
	}
	return slog.New(NewCorrelationHandler(inner))
}

// EnsureRequestID returns ctx with a fresh request ID unless one is set.
func EnsureRequestID(ctx context.Context) context.Context {
	if RequestID(ctx) != "" {
		return ctx
	}
	return WithRequestID(ctx, uuid.NewString())
}
