// Package graphs manages saved graphs: persistence, history and change events.
package graphs

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/rendis/flowos/internal/logging"
	"github.com/rendis/flowos/internal/store"
	"github.com/rendis/flowos/internal/streaming"
	"github.com/rendis/flowos/internal/validation"
	"github.com/rendis/flowos/pkg/schema"
)

// Deps holds the collaborators of a Manager. Hub and Logger are optional.
type Deps struct {
	Store   store.Store
	History store.History
	Hub     streaming.EventHub
	Logger  *slog.Logger
}

// Manager saves, reads and edits graphs on behalf of the API surfaces.
type Manager struct {
	store   store.Store
	history store.History
	hub     streaming.EventHub
	logger  *slog.Logger
}

// SavedEvent is the payload of graph.saved events.
type SavedEvent struct {
	Name  string `json:"name"`
	Nodes int    `json:"nodes"`
	Edges int    `json:"edges"`

	// PositionsReset marks a save whose new structure dropped earlier drags.
	PositionsReset bool `json:"positions_reset,omitempty"`
}

// NewManager creates a Manager.
func NewManager(d Deps) *Manager {
	if d.Logger == nil {
		d.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Manager{store: d.Store, history: d.History, hub: d.Hub, logger: d.Logger}
}

// Save validates and stores a graph, then records and publishes graph.saved.
// Graphs with blocking validation errors are rejected with VALIDATION_ERROR.
func (m *Manager) Save(ctx context.Context, g *store.SavedGraph) error {
	if g.Graph == nil {
		return schema.NewError(schema.ErrCodeValidation, "graph is required")
	}
	if err := validation.ValidateGraph(g.Graph).ToError(); err != nil {
		return err
	}
	if err := m.store.SaveGraph(ctx, g); err != nil {
		return err
	}

	ctx = logging.WithGraphID(ctx, g.ID)
	payload := SavedEvent{
		Name:           g.Name,
		Nodes:          len(g.Graph.Nodes),
		Edges:          len(g.Graph.Edges),
		PositionsReset: g.PositionsReset,
	}
	m.record(ctx, g.ID, "", schema.EventGraphSaved, payload)
	m.publish(ctx, streaming.StreamEvent{GraphID: g.ID, EventType: schema.EventGraphSaved, Payload: payload})
	logging.LogWith(ctx, m.logger).Info("graph saved",
		slog.String("name", g.Name),
		slog.Int("nodes", payload.Nodes),
	)
	return nil
}

// Get returns a saved graph with its position overrides applied.
func (m *Manager) Get(ctx context.Context, id string) (*store.SavedGraph, error) {
	return m.store.GetGraph(ctx, id)
}

// List returns saved graphs matching the filter.
func (m *Manager) List(ctx context.Context, filter store.GraphFilter) ([]*store.SavedGraph, error) {
	return m.store.ListGraphs(ctx, filter)
}

// Delete removes a saved graph and publishes graph.deleted.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.store.DeleteGraph(ctx, id); err != nil {
		return err
	}
	ctx = logging.WithGraphID(ctx, id)
	m.publish(ctx, streaming.StreamEvent{GraphID: id, EventType: schema.EventGraphDeleted})
	logging.LogWith(ctx, m.logger).Info("graph deleted")
	return nil
}

// MoveNode stores a dragged node position and publishes position.updated.
func (m *Manager) MoveNode(ctx context.Context, graphID, nodeID string, pos schema.Position) error {
	if _, err := m.history.MoveNode(ctx, graphID, nodeID, pos); err != nil {
		return err
	}
	m.publish(logging.WithGraphID(ctx, graphID), streaming.StreamEvent{
		GraphID:   graphID,
		NodeID:    nodeID,
		EventType: schema.EventPositionUpdated,
		Payload:   pos,
	})
	return nil
}

// History returns the events of a saved graph after sequence since.
// Fails with NOT_FOUND for unknown graphs.
func (m *Manager) History(ctx context.Context, graphID string, since int64) ([]*store.Event, error) {
	if _, err := m.store.GetGraph(ctx, graphID); err != nil {
		return nil, err
	}
	return m.history.GetEvents(ctx, graphID, since)
}

// Positions returns the stored position overrides of a saved graph.
func (m *Manager) Positions(ctx context.Context, graphID string) ([]*store.NodePosition, error) {
	if _, err := m.store.GetGraph(ctx, graphID); err != nil {
		return nil, err
	}
	return m.store.ListNodePositions(ctx, graphID)
}

// EventsByType returns the events of one type recorded for a saved graph,
// oldest first. limit <= 0 returns them all.
func (m *Manager) EventsByType(ctx context.Context, graphID, eventType string, limit int) ([]*store.Event, error) {
	if _, err := m.store.GetGraph(ctx, graphID); err != nil {
		return nil, err
	}
	return m.history.GetEventsByType(ctx, eventType, store.EventFilter{GraphID: graphID, Limit: limit})
}

// ReplayedPositions rebuilds a saved graph's node positions from its history.
// A history with sequence gaps fails with STORE_ERROR.
func (m *Manager) ReplayedPositions(ctx context.Context, graphID string) (map[string]schema.Position, error) {
	if _, err := m.store.GetGraph(ctx, graphID); err != nil {
		return nil, err
	}
	return m.history.ReplayPositions(ctx, graphID)
}

func (m *Manager) record(ctx context.Context, graphID, nodeID, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	ev := &store.Event{GraphID: graphID, NodeID: nodeID, Type: eventType, Payload: data}
	if err := m.history.AppendEvent(ctx, ev); err != nil {
		logging.LogWith(ctx, m.logger).Warn("history append failed",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Manager) publish(ctx context.Context, ev streaming.StreamEvent) {
	if m.hub == nil {
		return
	}
	if err := m.hub.Publish(ctx, ev); err != nil {
		logging.LogWith(ctx, m.logger).Warn("event publish failed",
			slog.String("event_type", ev.EventType),
			slog.String("error", err.Error()),
		)
	}
}
