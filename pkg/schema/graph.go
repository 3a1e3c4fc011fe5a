package schema

import "errors"

// StepType is the role a step plays in the workflow.
type StepType string

const (
	StepTypeEntry        StepType = "entry"
	StepTypeIntermediate StepType = "intermediate"
	StepTypeExit         StepType = "exit"
)

// Valid reports whether t is one of the three known step roles.
func (t StepType) Valid() bool {
	switch t {
	case StepTypeEntry, StepTypeIntermediate, StepTypeExit:
		return true
	}
	return false
}

// Step is one unit of work inferred from the raw text, before layout.
type Step struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Type         StepType `json:"type"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// Position is a point on the diagram plane.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// GraphNode is the renderable projection of a Step.
type GraphNode struct {
	ID          string   `json:"id"`
	Type        StepType `json:"type"`
	Position    Position `json:"position"`
	Label       string   `json:"label"`
	Description string   `json:"description,omitempty"`
}

// GraphEdge is a directed connection between two nodes.
type GraphEdge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}

// GraphStructure is the node/edge graph handed back to the caller.
type GraphStructure struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// Node returns the node with the given id, or nil.
func (g *GraphStructure) Node(id string) *GraphNode {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// RawParsed carries the parser output alongside a conversion result.
type RawParsed struct {
	Steps []Step `json:"steps"`
}

// ConversionResult is the discriminated result of a text-to-graph conversion.
// Graph is set only on success. RawParsed is set whenever parsing succeeded,
// including when a later stage rejected the graph.
type ConversionResult struct {
	Success   bool            `json:"success"`
	Graph     *GraphStructure `json:"graph,omitempty"`
	RawParsed *RawParsed      `json:"rawParsed,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorCode string          `json:"errorCode,omitempty"`
	Warnings  []string        `json:"warnings,omitempty"`
	Format    string          `json:"format,omitempty"`
}

// Failed builds a failure result from an error. FlowError codes are preserved.
func Failed(err error, raw *RawParsed) *ConversionResult {
	res := &ConversionResult{Success: false, Error: err.Error(), RawParsed: raw}
	var fe *FlowError
	if errors.As(err, &fe) {
		res.Error = fe.Message
		res.ErrorCode = fe.Code
	}
	return res
}
