package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	graphIDKey
	sessionIDKey
)

// WithRequestID returns a context with the request ID set.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// WithGraphID returns a context with the graph ID set.
func WithGraphID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, graphIDKey, id)
}

// WithSessionID returns a context with the session ID set.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// RequestID extracts the request ID from the context, or "" if absent.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// GraphID extracts the graph ID from the context, or "" if absent.
func GraphID(ctx context.Context) string {
	v, _ := ctx.Value(graphIDKey).(string)
	return v
}

// SessionID extracts the session ID from the context, or "" if absent.
func SessionID(ctx context.Context) string {
	v, _ := ctx.Value(sessionIDKey).(string)
	return v
}

// WithIDs sets all three correlation IDs on the context at once.
func WithIDs(ctx context.Context, requestID, graphID, sessionID string) context.Context {
	ctx = WithRequestID(ctx, requestID)
	ctx = WithGraphID(ctx, graphID)
	ctx = WithSessionID(ctx, sessionID)
	return ctx
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if reqID := RequestID(ctx); reqID != "" {
		logger = logger.With(slog.String("request_id", reqID))
	}
	if gID := GraphID(ctx); gID != "" {
		logger = logger.With(slog.String("graph_id", gID))
	}
	if sesID := SessionID(ctx); sesID != "" {
		logger = logger.With(slog.String("session_id", sesID))
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := RequestID(ctx); v != "" {
		r.AddAttrs(slog.String("request_id", v))
	}
	if v := GraphID(ctx); v != "" {
		r.AddAttrs(slog.String("graph_id", v))
	}
	if v := SessionID(ctx); v != "" {
		r.AddAttrs(slog.String("session_id", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
