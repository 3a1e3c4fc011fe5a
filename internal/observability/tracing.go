package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanManager handles trace span lifecycle.
// Use NewSpanManager for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartConversionSpan starts the root span of one conversion.
	StartConversionSpan(ctx context.Context, source, requestID string) (context.Context, trace.Span)

	// StartStageSpan starts a child span for one pipeline stage.
	StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct {
	tracer trace.Tracer
}

// NewSpanManager returns a SpanManager backed by tp, or by the global tracer
// provider when tp is nil.
func NewSpanManager(tp trace.TracerProvider) SpanManager {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &otelSpanManager{tracer: tp.Tracer(instrumentationName)}
}

func (m *otelSpanManager) StartConversionSpan(ctx context.Context, source, requestID string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "flowos.convert",
		trace.WithAttributes(
			attribute.String("conversion.source", source),
			attribute.String("request.id", requestID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "flowos.stage."+stage,
		trace.WithAttributes(attribute.String("stage", stage)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
