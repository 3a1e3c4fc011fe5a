package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/flowos/internal/converter"
	"github.com/rendis/flowos/internal/graphs"
	"github.com/rendis/flowos/internal/layout"
	"github.com/rendis/flowos/internal/streaming"
	"github.com/rendis/flowos/pkg/schema"
)

// FlowServerDeps holds the dependencies for creating a FlowServer.
type FlowServerDeps struct {
	Service  *converter.Service
	Graphs   *graphs.Manager
	Hub      streaming.EventHub
	Defaults layout.Options
	Logger   *slog.Logger
}

// FlowServer wraps an MCP server with flowos tool handlers.
type FlowServer struct {
	service   *converter.Service
	graphs    *graphs.Manager
	hub       streaming.EventHub
	defaults  layout.Options
	logger    *slog.Logger
	sessions  *SessionRegistry
	notifier  GraphNotifier
	mcpServer *server.MCPServer
}

// NewFlowServer creates a new FlowServer with all 5 tools registered.
func NewFlowServer(deps FlowServerDeps) *FlowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &FlowServer{
		service:  deps.Service,
		graphs:   deps.Graphs,
		hub:      deps.Hub,
		defaults: deps.Defaults,
		logger:   logger,
		sessions: NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"flowos",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Flow-OS turns step-by-step text into workflow graphs. Use flowos.parse to convert text (or a description with mode=generate), flowos.validate to check a graph, flowos.diagram to render one, flowos.save to persist it, and flowos.query to list saved graphs, their history or node positions."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
// Graph events from the hub are forwarded to the sessions watching each graph.
func (s *FlowServer) Serve(ctx context.Context) error {
	if s.hub != nil {
		ch, unsub, err := s.hub.Subscribe(ctx, streaming.EventFilter{})
		if err != nil {
			return err
		}
		defer unsub()
		go s.forward(ctx, ch)
	}
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *FlowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// forward pushes graph-scoped hub events to watching sessions until ch closes.
func (s *FlowServer) forward(ctx context.Context, ch <-chan streaming.StreamEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.GraphID == "" {
				continue
			}
			payload := map[string]any{
				"level":  "info",
				"logger": "flowos",
				"data":   ev,
			}
			if err := s.notifier.Notify(ctx, ev.GraphID, payload); err != nil {
				s.logger.Warn("graph notification failed", "graph_id", ev.GraphID, "event_type", ev.EventType, "error", err)
			}
			if ev.EventType == schema.EventGraphDeleted {
				s.sessions.Forget(ev.GraphID)
			}
		}
	}
}

// tools returns the 5 registered MCP tools as ServerTool entries.
func (s *FlowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: parseTool(), Handler: s.handleParse},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: diagramTool(), Handler: s.handleDiagram},
		{Tool: saveTool(), Handler: s.handleSave},
		{Tool: queryTool(), Handler: s.handleQuery},
	}
}

// --- Tool definitions ---

func parseTool() mcp.Tool {
	return mcp.NewTool("flowos.parse",
		mcp.WithDescription("Convert step-by-step text into a workflow graph"),
		mcp.WithString("text", mcp.Required(), mcp.Description("Steps joined by arrows (->), one per line (optionally numbered), separated by commas or by 'then', or a free-form description when mode is generate")),
		mcp.WithString("mode",
			mcp.Enum("parse", "generate"),
			mcp.Description("parse runs the deterministic parser (default); generate asks the LLM and falls back to the parser"),
		),
		mcp.WithString("direction",
			mcp.Enum("TB", "BT", "LR", "RL"),
			mcp.Description("Layout direction (default: server setting)"),
		),
		mcp.WithNumber("node_spacing",
			mcp.Min(1),
			mcp.Description("Gap between nodes sharing a level (default: server setting)"),
		),
		mcp.WithNumber("level_spacing",
			mcp.Min(1),
			mcp.Description("Gap between consecutive levels (default: server setting)"),
		),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("flowos.validate",
		mcp.WithDescription("Check a workflow graph for structural errors and warnings"),
		mcp.WithObject("graph", mcp.Required(), mcp.Description("Graph with nodes and edges arrays")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("flowos.diagram",
		mcp.WithDescription("Render a workflow graph as ASCII art, Mermaid, DOT, SVG or base64-encoded PNG"),
		mcp.WithString("graph_id", mcp.Description("ID of a saved graph to render")),
		mcp.WithObject("graph", mcp.Description("Unsaved graph to render (used when graph_id is empty)")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "dot", "svg", "png"),
			mcp.Description("Output format"),
		),
		mcp.WithString("direction",
			mcp.Enum("TB", "BT", "LR", "RL"),
			mcp.Description("Diagram direction (default: the saved or server direction)"),
		),
	)
}

func saveTool() mcp.Tool {
	return mcp.NewTool("flowos.save",
		mcp.WithDescription("Persist a workflow graph, converting text first when no graph is given"),
		mcp.WithString("name", mcp.Description("Display name (default: the generated ID)")),
		mcp.WithString("id", mcp.Description("Existing graph ID to overwrite")),
		mcp.WithString("text", mcp.Description("Step text to convert and save")),
		mcp.WithObject("graph", mcp.Description("Graph to save as-is")),
		mcp.WithString("direction",
			mcp.Enum("TB", "BT", "LR", "RL"),
			mcp.Description("Layout direction used when converting text"),
		),
		mcp.WithNumber("node_spacing",
			mcp.Min(1),
			mcp.Description("Gap between nodes sharing a level (default: server setting)"),
		),
		mcp.WithNumber("level_spacing",
			mcp.Min(1),
			mcp.Description("Gap between consecutive levels (default: server setting)"),
		),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("flowos.query",
		mcp.WithDescription("Query saved graphs, graph history, or node positions"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("graphs", "events", "positions"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria: graph_id, name, since, type, limit, offset, and replay for positions rebuilt from history")),
	)
}
