package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Telemetry bundles the recorder and span manager the server runs with,
// plus the SDK providers behind them when enabled.
type Telemetry struct {
	Metrics MetricsRecorder
	Spans   SpanManager

	reader *sdkmetric.ManualReader
	mp     *sdkmetric.MeterProvider
	tp     *sdktrace.TracerProvider
}

// Setup builds SDK-backed telemetry, or no-op telemetry when disabled.
// Metrics are pulled on demand through Snapshot.
func Setup(enabled bool) *Telemetry {
	if !enabled {
		return &Telemetry{Metrics: NoopMetrics{}, Spans: NoopSpanManager{}}
	}
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	tp := sdktrace.NewTracerProvider()
	return &Telemetry{
		Metrics: NewMetricsRecorder(mp),
		Spans:   NewSpanManager(tp),
		reader:  reader,
		mp:      mp,
		tp:      tp,
	}
}

// Enabled reports whether telemetry is SDK-backed.
func (t *Telemetry) Enabled() bool { return t.reader != nil }

// MetricPoint is one data point of a metric snapshot.
type MetricPoint struct {
	Attributes map[string]string `json:"attributes,omitempty"`
	Value      float64           `json:"value"`
	Count      uint64            `json:"count,omitempty"`
}

// MetricSnapshot is the JSON-friendly form of one collected metric.
type MetricSnapshot struct {
	Name   string        `json:"name"`
	Unit   string        `json:"unit,omitempty"`
	Points []MetricPoint `json:"points"`
}

// Snapshot collects the current metric values, sorted by name.
func (t *Telemetry) Snapshot(ctx context.Context) ([]MetricSnapshot, error) {
	if t.reader == nil {
		return nil, errors.New("metrics are disabled")
	}
	var rm metricdata.ResourceMetrics
	if err := t.reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}
	out := []MetricSnapshot{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out = append(out, MetricSnapshot{Name: m.Name, Unit: m.Unit, Points: points(m.Data)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Handler serves Snapshot as JSON.
func (t *Telemetry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap, err := t.Snapshot(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		json.NewEncoder(w).Encode(snap)
	})
}

// Shutdown flushes and stops the SDK providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.mp != nil {
		errs = append(errs, t.mp.Shutdown(ctx))
	}
	if t.tp != nil {
		errs = append(errs, t.tp.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

func points(data metricdata.Aggregation) []MetricPoint {
	var out []MetricPoint
	switch d := data.(type) {
	case metricdata.Sum[int64]:
		for _, dp := range d.DataPoints {
			out = append(out, MetricPoint{Attributes: attrMap(dp.Attributes), Value: float64(dp.Value)})
		}
	case metricdata.Sum[float64]:
		for _, dp := range d.DataPoints {
			out = append(out, MetricPoint{Attributes: attrMap(dp.Attributes), Value: dp.Value})
		}
	case metricdata.Gauge[int64]:
		for _, dp := range d.DataPoints {
			out = append(out, MetricPoint{Attributes: attrMap(dp.Attributes), Value: float64(dp.Value)})
		}
	case metricdata.Gauge[float64]:
		for _, dp := range d.DataPoints {
			out = append(out, MetricPoint{Attributes: attrMap(dp.Attributes), Value: dp.Value})
		}
	case metricdata.Histogram[float64]:
		for _, dp := range d.DataPoints {
			out = append(out, MetricPoint{Attributes: attrMap(dp.Attributes), Value: dp.Sum, Count: dp.Count})
		}
	}
	return out
}

func attrMap(set attribute.Set) map[string]string {
	if set.Len() == 0 {
		return nil
	}
	m := make(map[string]string, set.Len())
	for iter := set.Iter(); iter.Next(); {
		kv := iter.Attribute()
		m[string(kv.Key)] = kv.Value.Emit()
	}
	return m
}
