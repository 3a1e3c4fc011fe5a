package store

import (
	"context"
	"time"

	"github.com/rendis/flowos/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Graphs
	SaveGraph(ctx context.Context, g *SavedGraph) error
	GetGraph(ctx context.Context, id string) (*SavedGraph, error)
	ListGraphs(ctx context.Context, filter GraphFilter) ([]*SavedGraph, error)
	DeleteGraph(ctx context.Context, id string) error
	PurgeGraphsBefore(ctx context.Context, cutoff time.Time) ([]string, error)

	// Node positions
	SetNodePosition(ctx context.Context, graphID, nodeID string, pos schema.Position) error
	ListNodePositions(ctx context.Context, graphID string) ([]*NodePosition, error)

	// History (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, graphID string, since int64) ([]*Event, error)
	GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
