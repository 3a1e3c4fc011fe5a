package diagram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowos/internal/layout"
)

func TestRenderASCIILinear(t *testing.T) {
	model, err := Build(linearGraph(), Options{Title: "Orders"})
	require.NoError(t, err)

	output := RenderASCII(model)
	assert.NotEmpty(t, output)

	assert.Contains(t, output, "=== Orders ===")

	assert.Contains(t, output, "┌")
	assert.Contains(t, output, "┐")
	assert.Contains(t, output, "└")
	assert.Contains(t, output, "┘")
	assert.Contains(t, output, "│")
	assert.Contains(t, output, "▼")

	assert.Contains(t, output, "Receive order")
	assert.Contains(t, output, "Check stock")
	assert.Contains(t, output, "Ship")
	assert.Contains(t, output, "[IN]")
	assert.Contains(t, output, "[OUT]")
	assert.Contains(t, output, "step-1 ─→ step-2")

	// Levels render top to bottom.
	assert.Less(t, strings.Index(output, "Receive order"), strings.Index(output, "Ship"))
}

func TestRenderASCIISiblingsShareRow(t *testing.T) {
	model, err := Build(diamondGraph(), Options{})
	require.NoError(t, err)

	output := RenderASCII(model)
	var row string
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "Left") {
			row = line
		}
	}
	assert.Contains(t, row, "Right")
	assert.Contains(t, output, "a ─→ c (fast path)")
}

func TestRenderASCIIReversed(t *testing.T) {
	model, err := Build(linearGraph(), Options{Direction: layout.DirectionBT})
	require.NoError(t, err)

	output := RenderASCII(model)
	assert.Contains(t, output, "▲")
	assert.NotContains(t, output, "▼")
	assert.Less(t, strings.Index(output, "Ship"), strings.Index(output, "Receive order"))
}

func TestRenderASCIIMarks(t *testing.T) {
	model := &DiagramModel{
		Nodes: []*Node{
			{ID: "a", Label: "a", Kind: NodeKindIntermediate, Marks: []string{MarkIsolated}},
			{ID: "b", Label: "b", Kind: NodeKindIntermediate, Marks: []string{MarkSelfLoop}},
		},
		Levels: [][]string{{"a", "b"}},
	}
	output := RenderASCII(model)
	assert.Contains(t, output, "[ISOLATED]")
	assert.Contains(t, output, "[LOOP]")
	assert.NotContains(t, output, "===")
}
