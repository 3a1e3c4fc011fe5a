// Package observability records OpenTelemetry metrics and spans for
// conversions. Providers are injected; nil selects the global ones.
package observability

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/rendis/flowos"

// MetricsRecorder records Flow-OS metrics.
// Use NewMetricsRecorder for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordConversion records one conversion attempt from the given source
	// (parse, generate, import) with its outcome and duration.
	RecordConversion(ctx context.Context, source string, success bool, duration time.Duration)

	// RecordValidationFailure records a graph rejected with the given error code.
	RecordValidationFailure(ctx context.Context, code string)

	// RecordCacheLookup records a conversion cache hit or miss.
	RecordCacheLookup(ctx context.Context, hit bool)
}

type otelMetrics struct {
	conversions        metric.Int64Counter
	conversionLatency  metric.Float64Histogram
	validationFailures metric.Int64Counter
	cacheLookups       metric.Int64Counter
}

func newOtelMetrics(mp metric.MeterProvider) (*otelMetrics, error) {
	meter := mp.Meter(instrumentationName)

	conversions, err := meter.Int64Counter("flowos.conversions",
		metric.WithDescription("Number of text-to-graph conversions"),
	)
	if err != nil {
		return nil, err
	}

	conversionLatency, err := meter.Float64Histogram("flowos.conversion.latency_ms",
		metric.WithDescription("Conversion latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	validationFailures, err := meter.Int64Counter("flowos.validation.failures",
		metric.WithDescription("Number of graphs rejected by validation"),
	)
	if err != nil {
		return nil, err
	}

	cacheLookups, err := meter.Int64Counter("flowos.cache.lookups",
		metric.WithDescription("Number of conversion cache lookups"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		conversions:        conversions,
		conversionLatency:  conversionLatency,
		validationFailures: validationFailures,
		cacheLookups:       cacheLookups,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder backed by mp, or by the global
// meter provider when mp is nil. If instrument creation fails, a no-op
// recorder is returned.
func NewMetricsRecorder(mp metric.MeterProvider) MetricsRecorder {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	m, err := newOtelMetrics(mp)
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func (m *otelMetrics) RecordConversion(ctx context.Context, source string, success bool, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("source", source),
		attribute.Bool("success", success),
	)
	m.conversions.Add(ctx, 1, attrs)
	m.conversionLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

func (m *otelMetrics) RecordValidationFailure(ctx context.Context, code string) {
	m.validationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}

func (m *otelMetrics) RecordCacheLookup(ctx context.Context, hit bool) {
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.Bool("hit", hit)))
}
