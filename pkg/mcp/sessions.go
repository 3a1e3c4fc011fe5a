package mcp

import (
	"sort"
	"sync"
)

// SessionRegistry maps graph IDs to the MCP sessions watching them.
// Populated automatically when a session saves, renders or queries a graph.
type SessionRegistry struct {
	mu       sync.RWMutex
	watchers map[string]map[string]struct{} // graphID → sessionIDs
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{watchers: make(map[string]map[string]struct{})}
}

// Register adds sessionID to the watchers of graphID.
func (r *SessionRegistry) Register(graphID, sessionID string) {
	if graphID == "" || sessionID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.watchers[graphID]
	if !ok {
		set = make(map[string]struct{})
		r.watchers[graphID] = set
	}
	set[sessionID] = struct{}{}
}

// SessionsFor returns the sessions watching graphID, sorted.
func (r *SessionRegistry) SessionsFor(graphID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.watchers[graphID]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for sid := range set {
		out = append(out, sid)
	}
	sort.Strings(out)
	return out
}

// Remove drops the session from every graph it watches.
// Called when a session disconnects.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for gid, set := range r.watchers {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(r.watchers, gid)
		}
	}
}

// Forget drops all watchers of a graph, e.g. after it is deleted.
func (r *SessionRegistry) Forget(graphID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.watchers, graphID)
}
