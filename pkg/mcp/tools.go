package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/flowos/internal/diagram"
	"github.com/rendis/flowos/internal/layout"
	"github.com/rendis/flowos/internal/store"
	"github.com/rendis/flowos/pkg/schema"
)

// handleParse converts text into a graph, deterministically or via the LLM.
func (s *FlowServer) handleParse(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError("text is required"), nil
	}
	opts, optErr := s.requestLayout(req)
	if optErr != nil {
		return mcp.NewToolResultError(optErr.Error()), nil
	}

	var res *schema.ConversionResult
	switch mode := req.GetString("mode", "parse"); mode {
	case "parse", "":
		res = s.service.Parse(ctx, text, opts)
	case "generate":
		res = s.service.Generate(ctx, text, opts)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown mode: %s", mode)), nil
	}
	return conversionResult(res)
}

// handleValidate runs the structural checks on a graph.
func (s *FlowServer) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	g, err := graphArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if g == nil {
		return mcp.NewToolResultError("graph is required"), nil
	}
	vr := s.service.Validate(ctx, g)
	return marshalResult(vr.Report())
}

// handleDiagram renders a saved or inline graph in the requested format.
func (s *FlowServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	formatName, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	format, fmtErr := diagram.ParseFormat(formatName)
	if fmtErr != nil {
		return mcp.NewToolResultError(fmtErr.Error()), nil
	}

	direction := req.GetString("direction", "")
	title := ""
	var g *schema.GraphStructure

	if graphID := req.GetString("graph_id", ""); graphID != "" {
		saved, getErr := s.graphs.Get(ctx, graphID)
		if getErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("graph lookup failed: %v", getErr)), nil
		}
		s.captureSession(ctx, graphID)
		g, title = saved.Graph, saved.Name
		if direction == "" && saved.Options != nil {
			direction = string(saved.Options.Direction)
		}
	} else {
		inline, argErr := graphArg(req)
		if argErr != nil {
			return mcp.NewToolResultError(argErr.Error()), nil
		}
		if inline == nil {
			return mcp.NewToolResultError("one of graph_id or graph is required"), nil
		}
		g = inline
	}

	opts, optErr := s.layoutOptions(direction)
	if optErr != nil {
		return mcp.NewToolResultError(optErr.Error()), nil
	}
	model, buildErr := diagram.Build(g, diagram.Options{Title: title, Direction: opts.Direction})
	if buildErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", buildErr)), nil
	}
	out, renderErr := diagram.Render(ctx, model, format)
	if renderErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram render failed: %v", renderErr)), nil
	}
	if format.Binary() {
		return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(out)), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// handleSave persists a graph. Text is converted first when no graph is given.
func (s *FlowServer) handleSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	g, err := graphArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text := req.GetString("text", "")
	if g == nil && text == "" {
		return mcp.NewToolResultError("one of text or graph is required"), nil
	}
	opts, optErr := s.requestLayout(req)
	if optErr != nil {
		return mcp.NewToolResultError(optErr.Error()), nil
	}

	var warnings []string
	if g == nil {
		res := s.service.Parse(ctx, text, opts)
		if !res.Success {
			return conversionResult(res)
		}
		g, warnings = res.Graph, res.Warnings
	}

	sg := &store.SavedGraph{
		ID:         req.GetString("id", ""),
		Name:       req.GetString("name", ""),
		SourceText: text,
		Options:    &opts,
		Graph:      g,
	}
	if saveErr := s.graphs.Save(ctx, sg); saveErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("save failed: %v", saveErr)), nil
	}
	s.captureSession(ctx, sg.ID)

	return marshalResult(map[string]any{
		"id":       sg.ID,
		"name":     sg.Name,
		"nodes":    len(g.Nodes),
		"edges":    len(g.Edges),
		"warnings": warnings,
	})
}

// handleQuery lists saved graphs, graph events, or node positions.
func (s *FlowServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "graphs":
		return s.queryGraphs(ctx, filter)
	case "events":
		return s.queryEvents(ctx, filter)
	case "positions":
		return s.queryPositions(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- Query helpers ---

func (s *FlowServer) queryGraphs(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	gf := store.GraphFilter{
		Limit:  extractInt(filter, "limit", 50),
		Offset: extractInt(filter, "offset", 0),
	}
	if name, ok := filter["name"].(string); ok {
		gf.NameContains = name
	}

	list, err := s.graphs.List(ctx, gf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	summaries := make([]map[string]any, 0, len(list))
	for _, g := range list {
		summaries = append(summaries, map[string]any{
			"id":         g.ID,
			"name":       g.Name,
			"nodes":      len(g.Graph.Nodes),
			"edges":      len(g.Graph.Edges),
			"updated_at": g.UpdatedAt,
		})
	}
	return marshalResult(map[string]any{"graphs": summaries})
}

func (s *FlowServer) queryEvents(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	graphID, _ := filter["graph_id"].(string)
	if graphID == "" {
		return mcp.NewToolResultError("event query requires 'graph_id' in filter"), nil
	}
	limit := extractInt(filter, "limit", 0)

	var (
		events []*store.Event
		err    error
	)
	if eventType, _ := filter["type"].(string); eventType != "" {
		events, err = s.graphs.EventsByType(ctx, graphID, eventType, limit)
	} else {
		events, err = s.graphs.History(ctx, graphID, int64(extractInt(filter, "since", 0)))
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	s.captureSession(ctx, graphID)
	if events == nil {
		events = []*store.Event{}
	}
	return marshalResult(map[string]any{"events": events})
}

func (s *FlowServer) queryPositions(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	graphID, _ := filter["graph_id"].(string)
	if graphID == "" {
		return mcp.NewToolResultError("position query requires 'graph_id' in filter"), nil
	}
	if replay, _ := filter["replay"].(bool); replay {
		replayed, err := s.graphs.ReplayedPositions(ctx, graphID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"positions": replayed})
	}
	positions, err := s.graphs.Positions(ctx, graphID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	if positions == nil {
		positions = []*store.NodePosition{}
	}
	return marshalResult(map[string]any{"positions": positions})
}

// --- Internal helpers ---

// layoutOptions merges a requested direction with the server defaults.
func (s *FlowServer) layoutOptions(direction string) (layout.Options, error) {
	return s.mergeLayout(layout.Options{}, direction)
}

// requestLayout merges the direction, node_spacing and level_spacing
// arguments with the server defaults. Unset or zero spacing keeps the default.
func (s *FlowServer) requestLayout(req mcp.CallToolRequest) (layout.Options, error) {
	requested := layout.Options{
		NodeSpacing:  req.GetFloat("node_spacing", 0),
		LevelSpacing: req.GetFloat("level_spacing", 0),
	}
	if requested.NodeSpacing < 0 || requested.LevelSpacing < 0 {
		return layout.Options{}, fmt.Errorf("spacing must not be negative")
	}
	return s.mergeLayout(requested, req.GetString("direction", ""))
}

func (s *FlowServer) mergeLayout(requested layout.Options, direction string) (layout.Options, error) {
	if direction != "" {
		dir, err := layout.ParseDirection(direction)
		if err != nil {
			return layout.Options{}, err
		}
		requested.Direction = dir
	}
	return requested.Or(s.defaults), nil
}

// graphArg decodes the optional "graph" object argument. Returns nil when absent.
func graphArg(req mcp.CallToolRequest) (*schema.GraphStructure, error) {
	raw := mcp.ParseStringMap(req, "graph", nil)
	if raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid graph: %w", err)
	}
	var g schema.GraphStructure
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("invalid graph: %w", err)
	}
	return &g, nil
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// captureSession subscribes the calling MCP session to notifications for graphID.
func (s *FlowServer) captureSession(ctx context.Context, graphID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(graphID, session.SessionID())
	}
}

// conversionResult returns the envelope as JSON, flagged as an error on failure.
func conversionResult(res *schema.ConversionResult) (*mcp.CallToolResult, error) {
	out, err := marshalResult(res)
	if err != nil || out == nil {
		return out, err
	}
	out.IsError = !res.Success
	return out, nil
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
