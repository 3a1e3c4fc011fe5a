package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rendis/flowos/internal/streaming"
)

// handleSSEGlobal streams all events, optionally narrowed by ?types=a,b.
func (s *Server) handleSSEGlobal(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, streaming.EventFilter{EventTypes: splitTypes(r)})
}

// handleSSEGraph streams events for a specific saved graph.
func (s *Server) handleSSEGraph(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, streaming.EventFilter{GraphID: r.PathValue("id"), EventTypes: splitTypes(r)})
}

func splitTypes(r *http.Request) []string {
	raw := r.URL.Query().Get("types")
	if raw == "" {
		return nil
	}
	var types []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, t)
		}
	}
	return types
}

// serveSSE is the common SSE implementation.
func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, filter streaming.EventFilter) {
	if s.deps.Hub == nil {
		writeError(w, http.StatusInternalServerError, "event streaming not configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch, cancel, err := s.deps.Hub.Subscribe(r.Context(), filter)
	if err != nil {
		s.deps.Logger.Error("SSE subscribe failed", "error", err)
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType, data)
			flusher.Flush()
		}
	}
}
