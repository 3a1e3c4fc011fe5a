package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/flowos/internal/layout"
	"github.com/rendis/flowos/pkg/schema"
)

// SavedGraph is a converted graph persisted for later editing.
type SavedGraph struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	SourceText string                 `json:"source_text,omitempty"`
	Options    *layout.Options        `json:"options,omitempty"`
	Graph      *schema.GraphStructure `json:"graph"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`

	// PositionsReset is set by SaveGraph when a changed structure dropped the
	// stored position overrides.
	PositionsReset bool `json:"-"`
}

// NodePosition is a position override stored when a node is dragged.
type NodePosition struct {
	GraphID   string          `json:"graph_id"`
	NodeID    string          `json:"node_id"`
	Position  schema.Position `json:"position"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Event is an immutable entry in a saved graph's history.
type Event struct {
	ID        int64           `json:"id"`
	GraphID   string          `json:"graph_id"`
	NodeID    string          `json:"node_id,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// GraphFilter specifies criteria for listing saved graphs.
type GraphFilter struct {
	NameContains  string     `json:"name_contains,omitempty"`
	UpdatedBefore *time.Time `json:"updated_before,omitempty"`
	Limit         int        `json:"limit,omitempty"`
	Offset        int        `json:"offset,omitempty"`
}

// EventFilter specifies criteria for querying graph history by type.
type EventFilter struct {
	GraphID string     `json:"graph_id,omitempty"`
	NodeID  string     `json:"node_id,omitempty"`
	Since   *time.Time `json:"since,omitempty"`
	Limit   int        `json:"limit,omitempty"`
}
