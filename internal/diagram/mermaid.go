package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/flowos/internal/layout"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("flowchart %s\n", mermaidDirection(model.Direction)))

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", model.Title))
	}

	for _, node := range model.Nodes {
		b.WriteString(fmt.Sprintf("    %s\n", mermaidNodeDef(node)))
	}

	for _, edge := range model.Edges {
		label := ""
		if edge.Label != "" && edge.Label != edge.ID {
			label = fmt.Sprintf("|%s|", mermaidEscapeLabel(edge.Label))
		}
		b.WriteString(fmt.Sprintf("    %s -->%s %s\n",
			mermaidSafeID(edge.From), label, mermaidSafeID(edge.To)))
	}

	b.WriteString("\n")
	b.WriteString("    classDef entry fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef exit fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef isolated stroke:#b7791a,stroke-dasharray:5 5\n")

	for _, node := range model.Nodes {
		switch node.Kind {
		case NodeKindEntry:
			b.WriteString(fmt.Sprintf("    class %s entry\n", mermaidSafeID(node.ID)))
		case NodeKindExit:
			b.WriteString(fmt.Sprintf("    class %s exit\n", mermaidSafeID(node.ID)))
		}
		for _, m := range node.Marks {
			if m == MarkIsolated {
				b.WriteString(fmt.Sprintf("    class %s isolated\n", mermaidSafeID(node.ID)))
			}
		}
	}

	return b.String()
}

// mermaidDirection maps a layout direction to a flowchart orientation.
func mermaidDirection(d layout.Direction) string {
	switch d {
	case layout.DirectionBT:
		return "BT"
	case layout.DirectionLR:
		return "LR"
	case layout.DirectionRL:
		return "RL"
	default:
		return "TD"
	}
}

// mermaidNodeDef returns a Mermaid node definition with the appropriate shape.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := mermaidEscapeLabel(firstLine(node.Label))

	switch node.Kind {
	case NodeKindEntry:
		return fmt.Sprintf("%s([\"%s\"])", id, label)
	case NodeKindExit:
		return fmt.Sprintf("%s((\"%s\"))", id, label)
	default:
		return fmt.Sprintf("%s[\"%s\"]", id, label)
	}
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

// mermaidEscapeLabel escapes characters that terminate a quoted Mermaid label.
func mermaidEscapeLabel(s string) string {
	r := strings.NewReplacer(`"`, "#quot;", "|", "#124;")
	return r.Replace(s)
}
