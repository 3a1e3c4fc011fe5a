// Package converter runs the text-to-graph pipeline and the services built
// around it.
package converter

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rendis/flowos/internal/classifier"
	"github.com/rendis/flowos/internal/layout"
	"github.com/rendis/flowos/internal/observability"
	"github.com/rendis/flowos/internal/parser"
	"github.com/rendis/flowos/internal/validation"
	"github.com/rendis/flowos/pkg/schema"
)

// Pipeline is the deterministic parse, level, layout, validate chain.
// It holds no per-call state and is safe for concurrent use.
type Pipeline struct {
	parser      *parser.Parser
	spans       observability.SpanManager
	fingerprint string
}

// NewPipeline returns a Pipeline classifying steps with c (keyword table
// when nil) and tracing stages with spans (no-op when nil).
func NewPipeline(c classifier.Classifier, spans observability.SpanManager) *Pipeline {
	if spans == nil {
		spans = observability.NoopSpanManager{}
	}
	return &Pipeline{parser: parser.New(c), spans: spans, fingerprint: classifier.Fingerprint(c)}
}

// Fingerprint identifies the classifier configuration. Results cached under
// one fingerprint must not be served to a pipeline with another.
func (p *Pipeline) Fingerprint() string {
	return p.fingerprint
}

var defaultPipeline = NewPipeline(nil, nil)

// Convert runs the default pipeline.
func Convert(ctx context.Context, text string, opts layout.Options) *schema.ConversionResult {
	return defaultPipeline.Convert(ctx, text, opts)
}

// Convert turns text into a graph. It never panics: failures, including
// recovered panics, come back as a result with Success false.
func (p *Pipeline) Convert(ctx context.Context, text string, opts layout.Options) (res *schema.ConversionResult) {
	var raw *schema.RawParsed
	defer func() {
		if r := recover(); r != nil {
			res = schema.Failed(schema.NewErrorf(schema.ErrCodeInternal, "internal error: %v", r), raw)
		}
	}()

	if err := ctx.Err(); err != nil {
		return schema.Failed(schema.NewError(schema.ErrCodeInternal, err.Error()).WithCause(err), nil)
	}

	var warnings []string
	if _, err := opts.Normalize(); err != nil {
		warnings = append(warnings, fmt.Sprintf("unknown layout direction %q, using %s", opts.Direction, layout.DirectionTB))
	}

	stageCtx, span := p.spans.StartStageSpan(ctx, "parse")
	steps, format, err := p.parser.Parse(text)
	p.spans.EndSpanWithError(span, err)
	if err != nil {
		res := schema.Failed(err, nil)
		res.Format = string(format)
		return res
	}
	raw = &schema.RawParsed{Steps: steps}
	p.spans.AddSpanEvent(stageCtx, "steps.parsed",
		attribute.Int("steps", len(steps)),
		attribute.String("format", string(format)),
	)

	_, span = p.spans.StartStageSpan(ctx, "layout")
	levels, err := layout.AssignLevels(steps)
	if err != nil {
		p.spans.EndSpanWithError(span, err)
		res := schema.Failed(err, raw)
		res.Format = string(format)
		return res
	}
	positions := layout.Layout(steps, levels, opts)
	p.spans.EndSpanWithError(span, nil)

	graph := BuildGraph(steps, levels, positions)

	_, span = p.spans.StartStageSpan(ctx, "validate")
	vr := validation.ValidateGraph(graph)
	verr := vr.ToError()
	p.spans.EndSpanWithError(span, verr)
	warnings = append(warnings, vr.WarningMessages()...)
	if verr != nil {
		res := schema.Failed(verr, raw)
		res.Warnings = warnings
		res.Format = string(format)
		return res
	}

	return &schema.ConversionResult{
		Success:   true,
		Graph:     graph,
		RawParsed: raw,
		Warnings:  warnings,
		Format:    string(format),
	}
}

// BuildGraph projects steps into nodes at their positions and one edge per
// dependency.
func BuildGraph(steps []schema.Step, levels map[string]int, positions map[string]schema.Position) *schema.GraphStructure {
	g := &schema.GraphStructure{
		Nodes: make([]schema.GraphNode, 0, len(steps)),
		Edges: make([]schema.GraphEdge, 0, len(steps)),
	}
	for _, s := range steps {
		g.Nodes = append(g.Nodes, schema.GraphNode{
			ID:          s.ID,
			Type:        s.Type,
			Position:    positions[s.ID],
			Label:       s.Name,
			Description: fmt.Sprintf("%s step (level %d)", s.Type, levels[s.ID]),
		})
		for _, dep := range s.Dependencies {
			g.Edges = append(g.Edges, schema.GraphEdge{
				ID:     EdgeID(dep, s.ID),
				Source: dep,
				Target: s.ID,
			})
		}
	}
	return g
}

// EdgeID names the edge from source to target.
func EdgeID(source, target string) string {
	return "edge-" + source + "-" + target
}
