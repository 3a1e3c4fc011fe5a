package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/rendis/flowos/internal/diagram"
	"github.com/rendis/flowos/internal/layout"
	"github.com/rendis/flowos/pkg/schema"
)

// convertRequest is the body of POST /api/parse and POST /api/generate.
type convertRequest struct {
	Text        string          `json:"text"`
	Description string          `json:"description"`
	Layout      *layout.Options `json:"layout,omitempty"`
}

// layoutOptions fills unset request options from the server defaults.
func (s *Server) layoutOptions(o *layout.Options) layout.Options {
	if o == nil {
		return s.deps.Defaults
	}
	return o.Or(s.deps.Defaults)
}

// writeResult writes a ConversionResult with a status derived from its error code.
func writeResult(w http.ResponseWriter, res *schema.ConversionResult) {
	writeJSON(w, resultStatus(res), res)
}

// resultStatus maps a ConversionResult to an HTTP status. A failure without
// a code is a 500, never a 200.
func resultStatus(res *schema.ConversionResult) int {
	if !res.Success && res.ErrorCode == "" {
		return http.StatusInternalServerError
	}
	return statusForCode(res.ErrorCode)
}

// handleParse converts text with the deterministic pipeline.
func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	var body convertRequest
	if !decodeBody(w, r, s.deps.MaxBodyBytes, &body) {
		return
	}
	writeResult(w, s.deps.Service.Parse(r.Context(), body.Text, s.layoutOptions(body.Layout)))
}

// handleGenerate converts a description with the LLM, falling back to the parser.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var body convertRequest
	if !decodeBody(w, r, s.deps.MaxBodyBytes, &body) {
		return
	}
	desc := body.Description
	if desc == "" {
		desc = body.Text
	}
	writeResult(w, s.deps.Service.Generate(r.Context(), desc, s.layoutOptions(body.Layout)))
}

// handleImport checks a raw graph document. Layout options come from
// ?direction= since the body is the document itself.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if !decodeBody(w, r, s.deps.MaxBodyBytes, &raw) {
		return
	}
	opts := layout.Options{Direction: layout.Direction(r.URL.Query().Get("direction"))}
	writeResult(w, s.deps.Service.Import(r.Context(), raw, opts.Or(s.deps.Defaults)))
}

// handleValidate runs the structural checks on a posted graph.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var g schema.GraphStructure
	if !decodeBody(w, r, s.deps.MaxBodyBytes, &g) {
		return
	}
	vr := s.deps.Service.Validate(r.Context(), &g)
	writeJSON(w, http.StatusOK, vr.Report())
}

// diagramRequest is the body of POST /api/diagram.
type diagramRequest struct {
	Graph     *schema.GraphStructure `json:"graph"`
	Format    string                 `json:"format"`
	Direction string                 `json:"direction"`
	Title     string                 `json:"title"`
}

// handleDiagram renders an unsaved graph.
func (s *Server) handleDiagram(w http.ResponseWriter, r *http.Request) {
	var body diagramRequest
	if !decodeBody(w, r, s.deps.MaxBodyBytes, &body) {
		return
	}
	s.renderDiagram(w, r, body.Graph, body.Format, body.Direction, body.Title)
}

// renderDiagram builds and renders g, writing the output with its content type.
func (s *Server) renderDiagram(w http.ResponseWriter, r *http.Request, g *schema.GraphStructure, format, direction, title string) {
	f, err := diagram.ParseFormat(format)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if direction == "" {
		direction = string(s.deps.Defaults.Direction)
	}
	dir, err := layout.ParseDirection(direction)
	if err != nil {
		writeFlowError(w, err)
		return
	}

	model, err := diagram.Build(g, diagram.Options{Title: title, Direction: dir})
	if err != nil {
		writeFlowError(w, err)
		return
	}
	out, err := diagram.Render(r.Context(), model, f)
	if err != nil {
		writeFlowError(w, err)
		return
	}

	w.Header().Set("Content-Type", f.ContentType())
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}
