package diagram

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// kindTag returns a short ASCII indicator for a node kind.
func kindTag(kind NodeKind) string {
	switch kind {
	case NodeKindEntry:
		return "[IN]"
	case NodeKindExit:
		return "[OUT]"
	default:
		return ""
	}
}

// markTag returns a short ASCII indicator for a node marker.
func markTag(mark string) string {
	switch mark {
	case MarkIsolated:
		return "[ISOLATED]"
	case MarkSelfLoop:
		return "[LOOP]"
	default:
		return ""
	}
}

// RenderASCII renders a DiagramModel as rows of boxes, one row per level.
// Reversed directions (BT, RL) list the deepest level first with upward connectors.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("=== %s ===\n\n", model.Title))
	}

	levels := model.Levels
	arrow := "▼"
	if model.Direction.Reversed() {
		levels = make([][]string, len(model.Levels))
		for i, lvl := range model.Levels {
			levels[len(model.Levels)-1-i] = lvl
		}
		arrow = "▲"
	}

	for levelIdx, level := range levels {
		var boxes []asciiBox
		for _, nodeID := range level {
			node := findNode(model.Nodes, nodeID)
			if node == nil {
				continue
			}
			boxes = append(boxes, makeBox(node))
		}

		renderBoxRow(&b, boxes)

		if levelIdx < len(levels)-1 {
			renderConnector(&b, len(boxes), arrow)
		}
	}

	if len(model.Edges) > 0 {
		b.WriteString("\n--- edges ---\n")
		for _, e := range model.Edges {
			label := ""
			if e.Label != "" && e.Label != e.ID {
				label = fmt.Sprintf(" (%s)", e.Label)
			}
			b.WriteString(fmt.Sprintf("  %s ─→ %s%s\n", e.From, e.To, label))
		}
	}

	return b.String()
}

// asciiBox holds the rendered lines of a single box.
type asciiBox struct {
	lines []string
	width int
}

// makeBox creates an ASCII box for a node.
func makeBox(node *Node) asciiBox {
	contentLines := []string{firstLine(node.Label)}
	var tags []string
	if tag := kindTag(node.Kind); tag != "" {
		tags = append(tags, tag)
	}
	for _, m := range node.Marks {
		if tag := markTag(m); tag != "" {
			tags = append(tags, tag)
		}
	}
	if len(tags) > 0 {
		contentLines = append(contentLines, strings.Join(tags, " "))
	}

	maxLen := 0
	for _, line := range contentLines {
		if n := utf8.RuneCountInString(line); n > maxLen {
			maxLen = n
		}
	}
	width := maxLen + 4 // 2 border + 2 padding

	var lines []string
	lines = append(lines, "┌"+strings.Repeat("─", width-2)+"┐")
	for _, content := range contentLines {
		padded := content + strings.Repeat(" ", maxLen-utf8.RuneCountInString(content))
		lines = append(lines, "│ "+padded+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", width-2)+"┘")

	return asciiBox{lines: lines, width: width}
}

// firstLine returns only the first line of a multi-line label.
func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}

// renderBoxRow writes boxes side by side.
func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	if len(boxes) == 0 {
		return
	}

	maxHeight := 0
	for _, box := range boxes {
		if len(box.lines) > maxHeight {
			maxHeight = len(box.lines)
		}
	}

	for row := 0; row < maxHeight; row++ {
		for i, box := range boxes {
			if i > 0 {
				b.WriteString("  ")
			}
			if row < len(box.lines) {
				b.WriteString(box.lines[row])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}

// renderConnector draws a vertical connector between levels.
func renderConnector(b *strings.Builder, boxCount int, arrow string) {
	if boxCount == 0 {
		return
	}
	b.WriteString("       │\n")
	b.WriteString("       " + arrow + "\n")
}
