package diagram

import (
	"fmt"

	"github.com/rendis/flowos/internal/layout"
	"github.com/rendis/flowos/pkg/schema"
)

// Options controls model construction.
type Options struct {
	Title     string
	Direction layout.Direction
}

// Build constructs a DiagramModel from a graph. Levels come from the edge
// topology, not from node positions. Edges to unknown nodes are dropped and
// self-loops are drawn but do not affect levels.
func Build(g *schema.GraphStructure, opts Options) (*DiagramModel, error) {
	if g == nil || len(g.Nodes) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "graph has no nodes")
	}
	dir := opts.Direction
	if dir == "" {
		dir = layout.DirectionTB
	}

	known := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		known[n.ID] = true
	}

	deps := make(map[string][]string, len(g.Nodes))
	touched := make(map[string]bool, len(g.Nodes))
	selfLoop := make(map[string]bool)
	var edges []Edge
	for _, e := range g.Edges {
		if !known[e.Source] || !known[e.Target] {
			continue
		}
		edges = append(edges, Edge{ID: e.ID, From: e.Source, To: e.Target, Label: e.Label})
		touched[e.Source] = true
		touched[e.Target] = true
		if e.Source == e.Target {
			selfLoop[e.Source] = true
			continue
		}
		deps[e.Target] = append(deps[e.Target], e.Source)
	}

	steps := make([]schema.Step, len(g.Nodes))
	for i, n := range g.Nodes {
		steps[i] = schema.Step{ID: n.ID, Name: n.Label, Type: n.Type, Dependencies: deps[n.ID]}
	}
	levels, err := layout.AssignLevels(steps)
	if err != nil {
		return nil, fmt.Errorf("diagram: assign levels: %w", err)
	}

	nodes := make([]*Node, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		node := &Node{
			ID:       n.ID,
			Label:    nodeLabel(n),
			Kind:     stepTypeToKind(n.Type),
			Level:    levels[n.ID],
			Position: n.Position,
		}
		if len(g.Nodes) > 1 && !touched[n.ID] {
			node.Marks = append(node.Marks, MarkIsolated)
		}
		if selfLoop[n.ID] {
			node.Marks = append(node.Marks, MarkSelfLoop)
		}
		nodes = append(nodes, node)
	}

	title := opts.Title
	if title == "" {
		title = "Workflow"
	}
	return &DiagramModel{
		Title:     title,
		Direction: dir,
		Nodes:     nodes,
		Edges:     edges,
		Levels:    layout.Group(steps, levels),
	}, nil
}

// stepTypeToKind converts a schema.StepType to a NodeKind.
func stepTypeToKind(st schema.StepType) NodeKind {
	switch st {
	case schema.StepTypeEntry:
		return NodeKindEntry
	case schema.StepTypeExit:
		return NodeKindExit
	default:
		return NodeKindIntermediate
	}
}

func nodeLabel(n schema.GraphNode) string {
	if n.Label != "" {
		return n.Label
	}
	return n.ID
}

// findNode looks up a node by ID in the model's node list.
func findNode(nodes []*Node, id string) *Node {
	for _, n := range nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
