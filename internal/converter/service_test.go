package converter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowos/internal/cache"
	"github.com/rendis/flowos/internal/classifier"
	"github.com/rendis/flowos/internal/expressions"
	"github.com/rendis/flowos/internal/layout"
	"github.com/rendis/flowos/internal/streaming"
	"github.com/rendis/flowos/pkg/schema"
)

type mockGenerator struct {
	raw   json.RawMessage
	err   error
	calls int
}

func (m *mockGenerator) Generate(_ context.Context, _ string) (json.RawMessage, error) {
	m.calls++
	return m.raw, m.err
}

type countingMetrics struct {
	conversions map[string]int
	failures    []string
	hits        int
	misses      int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{conversions: map[string]int{}}
}

func (m *countingMetrics) RecordConversion(_ context.Context, source string, _ bool, _ time.Duration) {
	m.conversions[source]++
}

func (m *countingMetrics) RecordValidationFailure(_ context.Context, code string) {
	m.failures = append(m.failures, code)
}

func (m *countingMetrics) RecordCacheLookup(_ context.Context, hit bool) {
	if hit {
		m.hits++
	} else {
		m.misses++
	}
}

type fixture struct {
	svc     *Service
	gen     *mockGenerator
	metrics *countingMetrics
	hub     *streaming.MemoryHub
	events  <-chan streaming.StreamEvent
	logs    *bytes.Buffer
}

func newFixture(t *testing.T, gen *mockGenerator) *fixture {
	t.Helper()
	mc, err := cache.NewMemoryCache(16)
	require.NoError(t, err)

	hub := streaming.NewMemoryHub()
	events, cancel, err := hub.Subscribe(context.Background(), streaming.EventFilter{})
	require.NoError(t, err)
	t.Cleanup(cancel)

	var logs bytes.Buffer
	metrics := newCountingMetrics()
	d := Deps{
		Cache:   mc,
		Hub:     hub,
		Metrics: metrics,
		Logger:  slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}
	if gen != nil {
		d.Generator = gen
	}
	svc, err := NewService(d)
	require.NoError(t, err)
	return &fixture{svc: svc, gen: gen, metrics: metrics, hub: hub, events: events, logs: &logs}
}

func (f *fixture) nextEvent(t *testing.T) streaming.StreamEvent {
	t.Helper()
	select {
	case ev := <-f.events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return streaming.StreamEvent{}
	}
}

// --- Parse ---

func TestService_ParseCachesSuccess(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first := f.svc.Parse(ctx, "a -> b", layout.Options{})
	require.True(t, first.Success)
	second := f.svc.Parse(ctx, "a -> b", layout.Options{})
	assert.Equal(t, first, second)

	assert.Equal(t, 1, f.metrics.misses)
	assert.Equal(t, 1, f.metrics.hits)
	assert.Equal(t, 2, f.metrics.conversions[SourceParse])

	ev := f.nextEvent(t)
	assert.Equal(t, schema.EventGraphConverted, ev.EventType)
	payload, ok := ev.Payload.(ConversionEvent)
	require.True(t, ok)
	assert.Equal(t, 2, payload.Nodes)
	assert.Equal(t, 1, payload.Edges)
	assert.NotEmpty(t, payload.RequestID)
}

func TestService_ParseFailureNotCached(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res := f.svc.Parse(ctx, "  ", layout.Options{})
	assert.False(t, res.Success)
	_ = f.svc.Parse(ctx, "  ", layout.Options{})

	assert.Equal(t, 0, f.metrics.hits)
	assert.Equal(t, []string{schema.ErrCodeInputEmpty, schema.ErrCodeInputEmpty}, f.metrics.failures)
	assert.Equal(t, schema.EventGraphRejected, f.nextEvent(t).EventType)
	assert.Contains(t, f.logs.String(), "conversion failed")
}

func TestService_ParseCacheKeyedByRules(t *testing.T) {
	mc, err := cache.NewMemoryCache(16)
	require.NoError(t, err)
	reg, err := expressions.DefaultRegistry()
	require.NoError(t, err)
	rs, err := classifier.ParseRules([]byte(`
rules:
  - name: reviews end the flow
    when: 'step.lower contains "review"'
    type: exit
`))
	require.NoError(t, err)
	rc, err := classifier.NewRuleClassifier(rs, reg, nil, nil)
	require.NoError(t, err)

	plain, err := NewService(Deps{Cache: mc})
	require.NoError(t, err)
	ruled, err := NewService(Deps{Cache: mc, Pipeline: NewPipeline(rc, nil)})
	require.NoError(t, err)

	ctx := context.Background()
	first := plain.Parse(ctx, "Plan -> Review -> Ship", layout.Options{})
	require.True(t, first.Success)
	assert.Equal(t, schema.StepTypeIntermediate, first.Graph.Node("step-2").Type)

	// Same text and options, different rules: the cached result is not reused.
	second := ruled.Parse(ctx, "Plan -> Review -> Ship", layout.Options{})
	require.True(t, second.Success)
	assert.Equal(t, schema.StepTypeExit, second.Graph.Node("step-2").Type)
}

// --- Generate ---

func TestService_GenerateWithoutGeneratorFallsBack(t *testing.T) {
	f := newFixture(t, nil)

	res := f.svc.Generate(context.Background(), "Start -> Finish", layout.Options{})
	require.True(t, res.Success)
	assert.Equal(t, "arrow", res.Format)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "generator not configured")
	assert.Contains(t, f.logs.String(), "falling back")
}

func TestService_GenerateImportsModelOutput(t *testing.T) {
	gen := &mockGenerator{raw: json.RawMessage(`{"nodes":[{"id":"x","label":"Collect"},{"id":"y","label":"Report"}],"edges":[{"source":"x","target":"y"}]}`)}
	f := newFixture(t, gen)
	ctx := context.Background()

	res := f.svc.Generate(ctx, "collect data and report it", layout.Options{})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "import", res.Format)
	assert.Equal(t, "Collect", res.Graph.Nodes[0].Label)
	assert.Empty(t, res.Warnings)

	again := f.svc.Generate(ctx, "collect data and report it", layout.Options{})
	assert.Equal(t, res, again)
	assert.Equal(t, 1, gen.calls)
}

func TestService_GenerateErrorFallsBack(t *testing.T) {
	gen := &mockGenerator{err: errors.New("upstream 503")}
	f := newFixture(t, gen)

	res := f.svc.Generate(context.Background(), "Fetch, Store", layout.Options{})
	require.True(t, res.Success)
	assert.Equal(t, "comma", res.Format)
	assert.Contains(t, res.Warnings[0], "upstream 503")
}

func TestService_GenerateRejectedOutputFallsBack(t *testing.T) {
	gen := &mockGenerator{raw: json.RawMessage(`{"nodes":[]}`)}
	f := newFixture(t, gen)

	res := f.svc.Generate(context.Background(), "Fetch then Store", layout.Options{})
	require.True(t, res.Success)
	assert.Equal(t, "then", res.Format)
	assert.Contains(t, res.Warnings[0], "generated graph rejected")
}

// --- Import / Validate ---

func TestService_ImportPublishesImported(t *testing.T) {
	f := newFixture(t, nil)

	res := f.svc.Import(context.Background(), json.RawMessage(`{"nodes":[{"id":"solo"}]}`), layout.Options{})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, schema.EventGraphImported, f.nextEvent(t).EventType)
	assert.Equal(t, 1, f.metrics.conversions[SourceImport])
}

func TestService_Validate(t *testing.T) {
	f := newFixture(t, nil)

	vr := f.svc.Validate(context.Background(), &schema.GraphStructure{
		Nodes: []schema.GraphNode{{ID: "n1"}},
		Edges: []schema.GraphEdge{{ID: "e", Source: "n1", Target: "missing"}},
	})
	assert.False(t, vr.Valid())
	assert.Equal(t, []string{schema.ErrCodeValidation}, f.metrics.failures)
}

func TestNewService_Defaults(t *testing.T) {
	svc, err := NewService(Deps{})
	require.NoError(t, err)
	res := svc.Parse(context.Background(), "a -> b", layout.Options{})
	assert.True(t, res.Success)
}
