package httpapi

import (
	"net/http"
	"strconv"

	"github.com/rendis/flowos/internal/layout"
	"github.com/rendis/flowos/internal/store"
	"github.com/rendis/flowos/pkg/schema"
)

// saveRequest is the body of POST /api/graphs. When Graph is absent,
// Text is converted first and the result is saved.
type saveRequest struct {
	ID     string                 `json:"id,omitempty"`
	Name   string                 `json:"name"`
	Text   string                 `json:"text,omitempty"`
	Graph  *schema.GraphStructure `json:"graph,omitempty"`
	Layout *layout.Options        `json:"layout,omitempty"`
}

// saveResponse echoes the saved graph with any conversion warnings.
type saveResponse struct {
	*store.SavedGraph
	Warnings []string `json:"warnings,omitempty"`
}

// handleSaveGraph stores a graph, converting text first when needed.
func (s *Server) handleSaveGraph(w http.ResponseWriter, r *http.Request) {
	var body saveRequest
	if !decodeBody(w, r, s.deps.MaxBodyBytes, &body) {
		return
	}

	opts := s.layoutOptions(body.Layout)
	sg := &store.SavedGraph{ID: body.ID, Name: body.Name, SourceText: body.Text, Graph: body.Graph, Options: &opts}
	var warnings []string
	if sg.Graph == nil {
		res := s.deps.Service.Parse(r.Context(), body.Text, opts)
		if !res.Success {
			writeResult(w, res)
			return
		}
		sg.Graph = res.Graph
		warnings = res.Warnings
	}

	if err := s.deps.Graphs.Save(r.Context(), sg); err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saveResponse{SavedGraph: sg, Warnings: warnings})
}

// handleListGraphs lists saved graphs (?name=, ?limit=, ?offset=).
func (s *Server) handleListGraphs(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Graphs.List(r.Context(), store.GraphFilter{
		NameContains: r.URL.Query().Get("name"),
		Limit:        queryInt(r, "limit", 50),
		Offset:       queryInt(r, "offset", 0),
	})
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if list == nil {
		list = []*store.SavedGraph{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	g, err := s.deps.Graphs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleDeleteGraph(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Graphs.Delete(r.Context(), id); err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "id": id})
}

// handleSetPosition stores a dragged node position.
func (s *Server) handleSetPosition(w http.ResponseWriter, r *http.Request) {
	var pos schema.Position
	if !decodeBody(w, r, s.deps.MaxBodyBytes, &pos) {
		return
	}
	graphID, nodeID := r.PathValue("id"), r.PathValue("nodeId")
	if err := s.deps.Graphs.MoveNode(r.Context(), graphID, nodeID, pos); err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"graph_id": graphID, "node_id": nodeID, "position": pos})
}

// handleGetPositions lists the stored position overrides of a saved graph.
// With ?replay=1 the positions are rebuilt from the graph history instead.
func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if replay, _ := strconv.ParseBool(r.URL.Query().Get("replay")); replay {
		positions, err := s.deps.Graphs.ReplayedPositions(r.Context(), id)
		if err != nil {
			writeFlowError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, positions)
		return
	}

	list, err := s.deps.Graphs.Positions(r.Context(), id)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	positions := make(map[string]schema.Position, len(list))
	for _, p := range list {
		positions[p.NodeID] = p.Position
	}
	writeJSON(w, http.StatusOK, positions)
}

// handleGraphEvents returns the history of a saved graph after ?since=N.
// ?type= narrows it to one event type, capped by ?limit=.
func (s *Server) handleGraphEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		events []*store.Event
		err    error
	)
	if eventType := q.Get("type"); eventType != "" {
		events, err = s.deps.Graphs.EventsByType(r.Context(), r.PathValue("id"), eventType, queryInt(r, "limit", 0))
	} else {
		since, perr := strconv.ParseInt(q.Get("since"), 10, 64)
		if perr != nil {
			since = 0
		}
		events, err = s.deps.Graphs.History(r.Context(), r.PathValue("id"), since)
	}
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if events == nil {
		events = []*store.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// handleGraphDiagram renders a saved graph (?format=, ?direction=).
// The direction defaults to the one the graph was saved with.
func (s *Server) handleGraphDiagram(w http.ResponseWriter, r *http.Request) {
	g, err := s.deps.Graphs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	q := r.URL.Query()
	direction := q.Get("direction")
	if direction == "" && g.Options != nil {
		direction = string(g.Options.Direction)
	}
	s.renderDiagram(w, r, g.Graph, q.Get("format"), direction, g.Name)
}
