package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"
)

// GraphNotifier pushes notifications to the sessions watching a graph.
type GraphNotifier interface {
	Notify(ctx context.Context, graphID string, payload map[string]any) error
}

// clientSender is the subset of *server.MCPServer used for pushes.
type clientSender interface {
	SendNotificationToSpecificClient(sessionID string, method string, params map[string]any) error
}

// MCPNotifier implements GraphNotifier using MCP server notifications.
type MCPNotifier struct {
	sender   clientSender
	sessions *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes via the MCP server.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{sender: mcpServer, sessions: sessions}
}

// Notify sends a notification to every session watching graphID.
// Best-effort: expired sessions are dropped and not reported.
func (n *MCPNotifier) Notify(_ context.Context, graphID string, payload map[string]any) error {
	var errs []error
	for _, sessionID := range n.sessions.SessionsFor(graphID) {
		err := n.sender.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
		if errors.Is(err, server.ErrSessionNotFound) {
			n.sessions.Remove(sessionID)
			continue
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
