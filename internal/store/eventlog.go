package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rendis/flowos/pkg/schema"
)

// History is the graph history contract. Satisfied by *EventLog.
type History interface {
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, graphID string, since int64) ([]*Event, error)
	GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error)
	MoveNode(ctx context.Context, graphID, nodeID string, pos schema.Position) (*Event, error)
	ReplayPositions(ctx context.Context, graphID string) (map[string]schema.Position, error)
}

var _ History = (*EventLog)(nil)

// EventLog provides history operations on top of a LibSQLStore.
type EventLog struct {
	store *LibSQLStore
}

// NewEventLog wraps a LibSQLStore to provide history operations.
func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent appends an event with a monotonically increasing per-graph sequence.
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	db := el.store.DB()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin immediate tx: %w", err)
	}
	defer tx.Rollback()

	// In WAL mode BeginTx may start a deferred transaction; a write forces the lock
	// before the sequence is read.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM graph_events WHERE graph_id = ?`, event.GraphID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO graph_events (graph_id, node_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.GraphID, nullStr(event.NodeID), event.Type, nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// GetEvents returns events for a graph with sequence > since, ordered by sequence ASC.
func (el *EventLog) GetEvents(ctx context.Context, graphID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, graphID, since)
}

// GetEventsByType returns events of a specific type matching the filter.
func (el *EventLog) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	return el.store.GetEventsByType(ctx, eventType, filter)
}

// MoveNode stores a position override and records it in the graph history.
func (el *EventLog) MoveNode(ctx context.Context, graphID, nodeID string, pos schema.Position) (*Event, error) {
	if err := el.store.SetNodePosition(ctx, graphID, nodeID, pos); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(pos)
	if err != nil {
		return nil, fmt.Errorf("marshal position: %w", err)
	}
	ev := &Event{
		GraphID: graphID,
		NodeID:  nodeID,
		Type:    schema.EventPositionUpdated,
		Payload: payload,
	}
	if err := el.AppendEvent(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// ReplayPositions replays a graph's history and returns the last recorded
// position of every moved node. A graph.saved event flagged positions_reset
// discards the positions recorded before it. Returns an error if sequence gaps
// are detected.
func (el *EventLog) ReplayPositions(ctx context.Context, graphID string) (map[string]schema.Position, error) {
	events, err := el.store.GetEvents(ctx, graphID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	positions := make(map[string]schema.Position)
	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in graph %s: expected %d, got %d", graphID, expected, e.Sequence)
		}
	}

	for _, e := range events {
		if e.Type == schema.EventGraphSaved {
			var saved struct {
				PositionsReset bool `json:"positions_reset"`
			}
			if json.Unmarshal(e.Payload, &saved) == nil && saved.PositionsReset {
				clear(positions)
			}
			continue
		}
		if e.Type != schema.EventPositionUpdated || e.NodeID == "" {
			continue
		}
		var p schema.Position
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"event %d of graph %s has an invalid position payload", e.Sequence, graphID).WithCause(err)
		}
		positions[e.NodeID] = p
	}
	return positions, nil
}
