package streaming

import (
	"context"
	"errors"
	"time"
)

// ErrHubClosed is returned by Subscribe after the hub was closed.
var ErrHubClosed = errors.New("streaming: hub closed")

// StreamEvent is a real-time event about converted or saved graphs.
// GraphID is empty for conversions that were never persisted.
type StreamEvent struct {
	GraphID   string    `json:"graph_id,omitempty"`
	NodeID    string    `json:"node_id,omitempty"`
	EventType string    `json:"event_type"`
	Payload   any       `json:"payload,omitempty"`
	Time      time.Time `json:"time"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	GraphID    string   `json:"graph_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time graph events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
