package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
type NoopMetrics struct{}

var _ MetricsRecorder = NoopMetrics{}

func (NoopMetrics) RecordConversion(_ context.Context, _ string, _ bool, _ time.Duration) {}

func (NoopMetrics) RecordValidationFailure(_ context.Context, _ string) {}

func (NoopMetrics) RecordCacheLookup(_ context.Context, _ bool) {}

// NoopSpanManager is a SpanManager that does nothing.
type NoopSpanManager struct{}

var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

// StartConversionSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartConversionSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartStageSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartStageSpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

func (NoopSpanManager) EndSpanWithError(_ trace.Span, _ error) {}

func (NoopSpanManager) AddSpanEvent(_ context.Context, _ string, _ ...attribute.KeyValue) {}
