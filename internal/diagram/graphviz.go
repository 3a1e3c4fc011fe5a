package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/rendis/flowos/internal/layout"
)

// RenderGraphviz renders a DiagramModel with graphviz in the given output format
// (graphviz.XDOT, graphviz.SVG or graphviz.PNG).
func RenderGraphviz(ctx context.Context, model *DiagramModel, format graphviz.Format) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: create graphviz: %w", err)
	}
	defer gv.Close()

	gv.SetLayout(graphviz.DOT)

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: create graph: %w", err)
	}
	defer graph.Close()

	graph.SetRankDir(rankDir(model.Direction))
	if model.Title != "" {
		graph.SetLabel(model.Title)
	}

	gvNodes := make(map[string]*cgraph.Node, len(model.Nodes))
	for _, node := range model.Nodes {
		gvNode, nErr := graph.CreateNodeByName(node.ID)
		if nErr != nil {
			return nil, fmt.Errorf("diagram: create node %s: %w", node.ID, nErr)
		}
		gvNode.SetLabel(firstLine(node.Label))
		applyNodeStyle(gvNode, node)
		gvNodes[node.ID] = gvNode
	}

	for _, edge := range model.Edges {
		fromGV, toGV := gvNodes[edge.From], gvNodes[edge.To]
		if fromGV == nil || toGV == nil {
			continue
		}
		e, eErr := graph.CreateEdgeByName(edge.ID, fromGV, toGV)
		if eErr != nil {
			return nil, fmt.Errorf("diagram: create edge %s: %w", edge.ID, eErr)
		}
		if edge.Label != "" && edge.Label != edge.ID {
			e.SetLabel(edge.Label)
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, format, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

// RenderImage renders a DiagramModel as PNG bytes.
func RenderImage(ctx context.Context, model *DiagramModel) ([]byte, error) {
	return RenderGraphviz(ctx, model, graphviz.PNG)
}

func rankDir(d layout.Direction) cgraph.RankDir {
	switch d {
	case layout.DirectionBT:
		return cgraph.BTRank
	case layout.DirectionLR:
		return cgraph.LRRank
	case layout.DirectionRL:
		return cgraph.RLRank
	default:
		return cgraph.TBRank
	}
}

// applyNodeStyle sets graphviz attributes based on node kind and markers.
func applyNodeStyle(gvNode *cgraph.Node, node *Node) {
	switch node.Kind {
	case NodeKindEntry:
		gvNode.SetShape(cgraph.EllipseShape)
		gvNode.SetStyle(cgraph.FilledNodeStyle)
		gvNode.SetFillColor("#2d6a2d")
		gvNode.SetFontColor("white")
	case NodeKindExit:
		gvNode.SetShape(cgraph.DoubleCircleShape)
		gvNode.SetStyle(cgraph.FilledNodeStyle)
		gvNode.SetFillColor("#1a5276")
		gvNode.SetFontColor("white")
	default:
		gvNode.SetShape(cgraph.BoxShape)
	}

	for _, m := range node.Marks {
		if m == MarkIsolated {
			gvNode.SetStyle(cgraph.DashedNodeStyle)
			gvNode.SetColor("#b7791a")
		}
	}
}
