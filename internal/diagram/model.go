package diagram

import (
	"github.com/rendis/flowos/internal/layout"
	"github.com/rendis/flowos/pkg/schema"
)

// NodeKind classifies a diagram node by its step role.
type NodeKind string

const (
	NodeKindEntry        NodeKind = "entry"
	NodeKindIntermediate NodeKind = "intermediate"
	NodeKindExit         NodeKind = "exit"
)

// Node markers derived from graph warnings.
const (
	MarkIsolated = "isolated"
	MarkSelfLoop = "self-loop"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title     string
	Direction layout.Direction
	Nodes     []*Node
	Edges     []Edge
	Levels    [][]string
}

// Node represents a single step in the diagram.
type Node struct {
	ID       string
	Label    string
	Kind     NodeKind
	Level    int
	Position schema.Position
	Marks    []string
}

// Edge represents a dependency between two nodes.
type Edge struct {
	ID    string
	From  string
	To    string
	Label string
}
