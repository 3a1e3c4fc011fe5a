package converter

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/rendis/flowos/internal/cache"
	"github.com/rendis/flowos/internal/importer"
	"github.com/rendis/flowos/internal/layout"
	"github.com/rendis/flowos/internal/llm"
	"github.com/rendis/flowos/internal/logging"
	"github.com/rendis/flowos/internal/observability"
	"github.com/rendis/flowos/internal/streaming"
	"github.com/rendis/flowos/internal/validation"
	"github.com/rendis/flowos/pkg/schema"
)

// Conversion sources, used for cache keys, metrics and events.
const (
	SourceParse    = "parse"
	SourceGenerate = "generate"
	SourceImport   = "import"
)

// Deps holds the collaborators of a Service. Only Importer may fail to
// default; everything else falls back to a no-op or in-process value.
type Deps struct {
	Pipeline  *Pipeline
	Importer  *importer.Importer
	Generator llm.Generator
	Cache     cache.Cache
	Hub       streaming.EventHub
	Metrics   observability.MetricsRecorder
	Spans     observability.SpanManager
	Logger    *slog.Logger
}

// Service wraps the pipeline with caching, LLM generation, import,
// telemetry and event publication.
type Service struct {
	pipeline  *Pipeline
	importer  *importer.Importer
	generator llm.Generator
	cache     cache.Cache
	hub       streaming.EventHub
	metrics   observability.MetricsRecorder
	spans     observability.SpanManager
	logger    *slog.Logger
}

// ConversionEvent is the payload published for every conversion.
type ConversionEvent struct {
	Source    string `json:"source"`
	Success   bool   `json:"success"`
	Format    string `json:"format,omitempty"`
	Nodes     int    `json:"nodes"`
	Edges     int    `json:"edges"`
	Error     string `json:"error,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// NewService creates a Service, filling unset dependencies with defaults.
func NewService(d Deps) (*Service, error) {
	if d.Spans == nil {
		d.Spans = observability.NoopSpanManager{}
	}
	if d.Pipeline == nil {
		d.Pipeline = NewPipeline(nil, d.Spans)
	}
	if d.Importer == nil {
		im, err := importer.New(nil, nil, "")
		if err != nil {
			return nil, err
		}
		d.Importer = im
	}
	if d.Cache == nil {
		d.Cache = cache.Nop{}
	}
	if d.Metrics == nil {
		d.Metrics = observability.NoopMetrics{}
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Service{
		pipeline:  d.Pipeline,
		importer:  d.Importer,
		generator: d.Generator,
		cache:     d.Cache,
		hub:       d.Hub,
		metrics:   d.Metrics,
		spans:     d.Spans,
		logger:    d.Logger,
	}, nil
}

// Parse converts text with the deterministic pipeline.
func (s *Service) Parse(ctx context.Context, text string, opts layout.Options) *schema.ConversionResult {
	ctx, span, start := s.begin(ctx, SourceParse)

	key := cache.Key(text, opts, SourceParse, s.pipeline.Fingerprint())
	if res, ok := s.cached(ctx, key); ok {
		s.finish(ctx, SourceParse, res, start, span)
		return res
	}

	res := s.pipeline.Convert(ctx, text, opts)
	s.store(ctx, key, res)
	s.finish(ctx, SourceParse, res, start, span)
	return res
}

// Generate asks the LLM for a graph and imports it. When no generator is
// configured, or generation or import fails, the description is converted
// with the deterministic pipeline instead and the reason is added to the
// result warnings.
func (s *Service) Generate(ctx context.Context, description string, opts layout.Options) *schema.ConversionResult {
	ctx, span, start := s.begin(ctx, SourceGenerate)

	key := cache.Key(description, opts, SourceGenerate, s.pipeline.Fingerprint())
	if res, ok := s.cached(ctx, key); ok {
		s.finish(ctx, SourceGenerate, res, start, span)
		return res
	}

	var reason string
	if s.generator == nil {
		reason = "generator not configured"
	} else if raw, err := s.generator.Generate(ctx, description); err != nil {
		reason = "generation failed: " + err.Error()
	} else if res := s.importer.Import(ctx, raw, opts); !res.Success {
		reason = "generated graph rejected: " + res.Error
	} else {
		s.store(ctx, key, res)
		s.finish(ctx, SourceGenerate, res, start, span)
		return res
	}

	logging.LogWith(ctx, s.logger).Warn("falling back to deterministic parser", slog.String("reason", reason))
	res := s.pipeline.Convert(ctx, description, opts)
	res.Warnings = append([]string{reason + "; used deterministic parser"}, res.Warnings...)
	s.finish(ctx, SourceGenerate, res, start, span)
	return res
}

// Import checks and lays out a graph document produced elsewhere.
func (s *Service) Import(ctx context.Context, data json.RawMessage, opts layout.Options) *schema.ConversionResult {
	ctx, span, start := s.begin(ctx, SourceImport)
	res := s.importer.Import(ctx, data, opts)
	s.finish(ctx, SourceImport, res, start, span)
	return res
}

// Validate runs the structural graph checks.
func (s *Service) Validate(ctx context.Context, g *schema.GraphStructure) *schema.ValidationResult {
	vr := validation.ValidateGraph(g)
	if !vr.Valid() {
		s.metrics.RecordValidationFailure(ctx, schema.ErrCodeValidation)
	}
	return vr
}

func (s *Service) begin(ctx context.Context, source string) (context.Context, trace.Span, time.Time) {
	ctx = logging.EnsureRequestID(ctx)
	ctx, span := s.spans.StartConversionSpan(ctx, source, logging.RequestID(ctx))
	return ctx, span, time.Now()
}

func (s *Service) cached(ctx context.Context, key string) (*schema.ConversionResult, bool) {
	res, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		logging.LogWith(ctx, s.logger).Warn("cache lookup failed", slog.String("error", err.Error()))
		return nil, false
	}
	s.metrics.RecordCacheLookup(ctx, ok)
	return res, ok
}

// store caches successful results only.
func (s *Service) store(ctx context.Context, key string, res *schema.ConversionResult) {
	if !res.Success {
		return
	}
	if err := s.cache.Set(ctx, key, res); err != nil {
		logging.LogWith(ctx, s.logger).Warn("cache store failed", slog.String("error", err.Error()))
	}
}

func (s *Service) finish(ctx context.Context, source string, res *schema.ConversionResult, start time.Time, span trace.Span) {
	elapsed := time.Since(start)
	s.metrics.RecordConversion(ctx, source, res.Success, elapsed)

	var spanErr error
	if !res.Success {
		if res.ErrorCode != "" {
			s.metrics.RecordValidationFailure(ctx, res.ErrorCode)
		}
		spanErr = schema.NewError(res.ErrorCode, res.Error)
	}
	s.spans.EndSpanWithError(span, spanErr)

	ev := ConversionEvent{
		Source:    source,
		Success:   res.Success,
		Format:    res.Format,
		Error:     res.Error,
		RequestID: logging.RequestID(ctx),
	}
	if res.Graph != nil {
		ev.Nodes = len(res.Graph.Nodes)
		ev.Edges = len(res.Graph.Edges)
	}

	log := logging.LogWith(ctx, s.logger)
	if res.Success {
		log.Info("conversion succeeded",
			slog.String("source", source),
			slog.String("format", res.Format),
			slog.Int("nodes", ev.Nodes),
			slog.Duration("elapsed", elapsed),
		)
	} else {
		log.Info("conversion failed",
			slog.String("source", source),
			slog.String("code", res.ErrorCode),
			slog.String("error", res.Error),
		)
	}

	if s.hub == nil {
		return
	}
	eventType := schema.EventGraphConverted
	switch {
	case !res.Success:
		eventType = schema.EventGraphRejected
	case source == SourceImport:
		eventType = schema.EventGraphImported
	}
	if err := s.hub.Publish(ctx, streaming.StreamEvent{EventType: eventType, Payload: ev}); err != nil {
		log.Warn("publish conversion event failed", slog.String("error", err.Error()))
	}
}
