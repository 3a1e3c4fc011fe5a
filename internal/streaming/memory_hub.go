package streaming

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// subscription is one live subscriber. Its channel is closed exactly once,
// by remove.
type subscription struct {
	ch      chan StreamEvent
	filter  EventFilter
	dropped atomic.Uint64
}

// MemoryHub is an in-memory EventHub. Publishing never blocks: events for a
// subscriber whose buffer is full are dropped and counted.
type MemoryHub struct {
	buffer int

	mu     sync.RWMutex
	subs   map[uint64]*subscription
	nextID uint64
	closed bool

	dropped atomic.Uint64
}

// HubOption configures a MemoryHub.
type HubOption func(*MemoryHub)

// WithBuffer sets the per-subscriber channel capacity.
func WithBuffer(n int) HubOption {
	return func(h *MemoryHub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub(opts ...HubOption) *MemoryHub {
	h := &MemoryHub{buffer: DefaultBuffer, subs: make(map[uint64]*subscription)}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Publish delivers event to every matching subscriber. A zero Time is
// stamped with the current UTC time.
func (h *MemoryHub) Publish(ctx context.Context, event StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if !sub.filter.Matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			sub.dropped.Add(1)
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a subscriber. The returned channel is closed when the
// cancel func is called, when ctx ends, or when the hub is closed.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	sub := &subscription{ch: make(chan StreamEvent, h.buffer), filter: filter}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, nil, ErrHubClosed
	}
	h.nextID++
	id := h.nextID
	h.subs[id] = sub
	h.mu.Unlock()

	stop := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(stop)
			h.remove(id)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-stop:
		}
	}()
	return sub.ch, cancel, nil
}

func (h *MemoryHub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// Subscribers returns the number of live subscriptions.
func (h *MemoryHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many events were discarded for slow subscribers.
func (h *MemoryHub) Dropped() uint64 { return h.dropped.Load() }

// Close ends every subscription. Later Subscribe calls fail with
// ErrHubClosed; Publish becomes a no-op.
func (h *MemoryHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
	return nil
}

// Matches reports whether e passes the filter.
func (f EventFilter) Matches(e StreamEvent) bool {
	if f.GraphID != "" && f.GraphID != e.GraphID {
		return false
	}
	return len(f.EventTypes) == 0 || slices.Contains(f.EventTypes, e.EventType)
}
