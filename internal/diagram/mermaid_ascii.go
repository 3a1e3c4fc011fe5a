package diagram

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// RenderASCIIAuto tries to render using the mermaid-ascii CLI binary if available,
// falling back to RenderASCII.
func RenderASCIIAuto(ctx context.Context, model *DiagramModel, binDir string) string {
	if binDir != "" {
		binPath := filepath.Join(binDir, "mermaid-ascii")
		if _, err := os.Stat(binPath); err == nil {
			result, err := RenderASCIIViaCLI(ctx, model, binPath)
			if err == nil {
				return result
			}
		}
	}
	return RenderASCII(model)
}

// RenderASCIIViaCLI pipes simplified Mermaid syntax through the mermaid-ascii binary.
func RenderASCIIViaCLI(ctx context.Context, model *DiagramModel, binPath string) (string, error) {
	mermaid := RenderMermaidForCLI(model)

	cmd := exec.CommandContext(ctx, binPath)
	cmd.Stdin = strings.NewReader(mermaid)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("mermaid-ascii: %w: %s", err, stderr.String())
	}
	return stdout.String(), nil
}

// RenderMermaidForCLI generates Mermaid syntax the mermaid-ascii CLI can parse:
// no quoted node declarations, labels embedded in the edge-referenced IDs.
// Nodes without edges are emitted as bare IDs.
func RenderMermaidForCLI(model *DiagramModel) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("graph %s\n", cliDirection(model)))

	displayID := make(map[string]string, len(model.Nodes))
	for _, node := range model.Nodes {
		displayID[node.ID] = cliNodeID(node)
	}
	resolve := func(id string) string {
		if d, ok := displayID[id]; ok {
			return d
		}
		return mermaidSafeID(id)
	}

	linked := make(map[string]bool, len(model.Nodes))
	for _, edge := range model.Edges {
		label := ""
		if edge.Label != "" && edge.Label != edge.ID {
			label = fmt.Sprintf("|%s|", edge.Label)
		}
		b.WriteString(fmt.Sprintf("    %s -->%s %s\n", resolve(edge.From), label, resolve(edge.To)))
		linked[edge.From] = true
		linked[edge.To] = true
	}
	for _, node := range model.Nodes {
		if !linked[node.ID] {
			b.WriteString(fmt.Sprintf("    %s\n", resolve(node.ID)))
		}
	}

	return b.String()
}

// mermaid-ascii only understands TD and LR.
func cliDirection(model *DiagramModel) string {
	if model.Direction.Horizontal() {
		return "LR"
	}
	return "TD"
}

// cliNodeID builds a display ID for the mermaid-ascii CLI.
func cliNodeID(node *Node) string {
	id := firstLine(node.Label)
	if id == "" {
		id = node.ID
	}
	if tag := cliKindTag(node.Kind); tag != "" {
		id += "-" + tag
	}
	return strings.ReplaceAll(id, " ", "-")
}

func cliKindTag(kind NodeKind) string {
	switch kind {
	case NodeKindEntry:
		return "IN"
	case NodeKindExit:
		return "OUT"
	default:
		return ""
	}
}
