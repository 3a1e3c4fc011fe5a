// Package importer accepts graph JSON produced outside the deterministic
// parser (typically by an LLM), checks it and lays it out when needed.
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rendis/flowos/internal/expressions"
	"github.com/rendis/flowos/internal/layout"
	"github.com/rendis/flowos/internal/validation"
	"github.com/rendis/flowos/pkg/schema"
)

// DefaultPath extracts a nested "graph" member or falls back to the document.
const DefaultPath = ".graph // ."

// FormatImport is reported as the result format of imported graphs.
const FormatImport = "import"

// Importer turns a raw response document into a validated graph.
type Importer struct {
	schema *validation.SchemaValidator
	jq     *expressions.GoJQEngine
	path   string
}

// New returns an Importer extracting the graph with the jq expression path.
// An empty path selects DefaultPath.
func New(sv *validation.SchemaValidator, jq *expressions.GoJQEngine, path string) (*Importer, error) {
	if sv == nil {
		var err error
		if sv, err = validation.NewSchemaValidator(); err != nil {
			return nil, err
		}
	}
	if jq == nil {
		jq = expressions.NewGoJQEngine()
	}
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	return &Importer{schema: sv, jq: jq, path: path}, nil
}

// rawNode mirrors schema.GraphNode but keeps track of an absent position.
type rawNode struct {
	ID          string           `json:"id"`
	Type        schema.StepType  `json:"type"`
	Position    *schema.Position `json:"position"`
	Label       string           `json:"label"`
	Description string           `json:"description"`
}

type rawGraph struct {
	Nodes []rawNode          `json:"nodes"`
	Edges []schema.GraphEdge `json:"edges"`
}

// Import extracts, checks and normalizes the graph held in data. Nodes
// without a type are typed by their position in the graph; when any node
// lacks a position the whole graph is laid out with opts.
func (im *Importer) Import(ctx context.Context, data []byte, opts layout.Options) *schema.ConversionResult {
	g, raw, err := im.decode(ctx, data, opts)
	if err != nil {
		res := schema.Failed(err, raw)
		res.Format = FormatImport
		return res
	}

	vr := validation.ValidateGraph(g)
	if !vr.Valid() {
		res := schema.Failed(vr.ToError(), raw)
		res.Warnings = vr.WarningMessages()
		res.Format = FormatImport
		return res
	}

	res := &schema.ConversionResult{
		Success:   true,
		Graph:     g,
		RawParsed: raw,
		Format:    FormatImport,
	}
	if len(vr.Warnings) > 0 {
		res.Warnings = vr.WarningMessages()
	}
	return res
}

func (im *Importer) decode(ctx context.Context, data []byte, opts layout.Options) (*schema.GraphStructure, *schema.RawParsed, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil, schema.NewError(schema.ErrCodeInputEmpty, "graph document is empty")
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, schema.NewError(schema.ErrCodeValidation, "graph document is not valid JSON").WithCause(err)
	}

	extracted, err := im.extract(ctx, doc)
	if err != nil {
		return nil, nil, err
	}

	jsonDoc, err := validation.ToJSONValue(extracted)
	if err != nil {
		return nil, nil, schema.NewError(schema.ErrCodeInternal, "re-encode extracted graph").WithCause(err)
	}
	if err := im.schema.ValidateDocument(jsonDoc); err != nil {
		return nil, nil, err
	}

	b, err := json.Marshal(extracted)
	if err != nil {
		return nil, nil, schema.NewError(schema.ErrCodeInternal, "re-encode extracted graph").WithCause(err)
	}
	var rg rawGraph
	if err := json.Unmarshal(b, &rg); err != nil {
		return nil, nil, schema.NewError(schema.ErrCodeValidation, "decode graph").WithCause(err)
	}

	return normalize(rg, opts)
}

// extract runs the jq path. A string result is treated as embedded JSON,
// which is how chat completions usually carry structured output.
func (im *Importer) extract(ctx context.Context, doc any) (any, error) {
	results, err := im.jq.EvaluateAll(ctx, im.path, doc)
	if err != nil {
		return nil, err
	}
	if len(results) != 1 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"graph path %q produced %d values, want 1", im.path, len(results))
	}

	out := results[0]
	if s, ok := out.(string); ok {
		var inner any
		if err := json.Unmarshal([]byte(stripFences(s)), &inner); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"graph path %q produced a string that is not JSON", im.path).WithCause(err)
		}
		return inner, nil
	}
	return out, nil
}

// stripFences removes a surrounding markdown code fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func normalize(rg rawGraph, opts layout.Options) (*schema.GraphStructure, *schema.RawParsed, error) {
	g := &schema.GraphStructure{
		Nodes: make([]schema.GraphNode, len(rg.Nodes)),
		Edges: make([]schema.GraphEdge, len(rg.Edges)),
	}

	incoming := make(map[string][]string, len(rg.Nodes))
	outgoing := make(map[string]bool, len(rg.Nodes))
	for i, e := range rg.Edges {
		if e.ID == "" {
			e.ID = fmt.Sprintf("edge-%s-%s", e.Source, e.Target)
		}
		g.Edges[i] = e
		if e.Source == e.Target {
			continue
		}
		incoming[e.Target] = append(incoming[e.Target], e.Source)
		outgoing[e.Source] = true
	}

	needsLayout := false
	steps := make([]schema.Step, len(rg.Nodes))
	for i, n := range rg.Nodes {
		node := schema.GraphNode{
			ID:          n.ID,
			Type:        n.Type,
			Label:       n.Label,
			Description: n.Description,
		}
		if node.Label == "" {
			node.Label = n.ID
		}
		if node.Type == "" {
			node.Type = inferType(len(incoming[n.ID]) > 0, outgoing[n.ID])
		}
		if n.Position == nil {
			needsLayout = true
		} else {
			node.Position = *n.Position
		}
		g.Nodes[i] = node
		steps[i] = schema.Step{ID: n.ID, Name: node.Label, Type: node.Type, Dependencies: incoming[n.ID]}
	}
	raw := &schema.RawParsed{Steps: steps}

	if needsLayout {
		if vr := validation.ValidateAcyclic(g); !vr.Valid() {
			return nil, raw, schema.NewError(schema.ErrCodeCycleDetected, vr.Errors[0].Message)
		}
		levels, err := layout.AssignLevels(steps)
		if err != nil {
			return nil, raw, err
		}
		positions := layout.Layout(steps, levels, opts)
		for i := range g.Nodes {
			g.Nodes[i].Position = positions[g.Nodes[i].ID]
		}
	}

	return g, raw, nil
}

func inferType(hasIncoming, hasOutgoing bool) schema.StepType {
	switch {
	case !hasIncoming:
		return schema.StepTypeEntry
	case !hasOutgoing:
		return schema.StepTypeExit
	default:
		return schema.StepTypeIntermediate
	}
}
