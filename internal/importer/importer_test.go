package importer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowos/internal/layout"
	"github.com/rendis/flowos/pkg/schema"
)

func newImporter(t *testing.T, path string) *Importer {
	t.Helper()
	im, err := New(nil, nil, path)
	require.NoError(t, err)
	return im
}

// --- Success paths ---

func TestImport_PositionedGraphKeptAsIs(t *testing.T) {
	doc := `{
		"nodes": [
			{"id": "a", "type": "entry", "label": "Start", "position": {"x": 10, "y": 20}},
			{"id": "b", "type": "exit", "label": "Done", "position": {"x": 10, "y": 120}}
		],
		"edges": [{"id": "e1", "source": "a", "target": "b"}]
	}`
	res := newImporter(t, "").Import(context.Background(), []byte(doc), layout.Options{})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, FormatImport, res.Format)

	require.Len(t, res.Graph.Nodes, 2)
	assert.Equal(t, schema.Position{X: 10, Y: 20}, res.Graph.Nodes[0].Position)
	assert.Equal(t, schema.Position{X: 10, Y: 120}, res.Graph.Nodes[1].Position)
	assert.Equal(t, "e1", res.Graph.Edges[0].ID)

	require.NotNil(t, res.RawParsed)
	assert.Equal(t, []string{"a"}, res.RawParsed.Steps[1].Dependencies)
}

func TestImport_NestedGraphWithDefaults(t *testing.T) {
	doc := `{
		"model": "gpt",
		"graph": {
			"nodes": [{"id": "fetch"}, {"id": "clean"}, {"id": "store"}],
			"edges": [{"source": "fetch", "target": "clean"}, {"source": "clean", "target": "store"}]
		}
	}`
	res := newImporter(t, "").Import(context.Background(), []byte(doc), layout.Options{})
	require.True(t, res.Success, res.Error)

	g := res.Graph
	assert.Equal(t, schema.StepTypeEntry, g.Nodes[0].Type)
	assert.Equal(t, schema.StepTypeIntermediate, g.Nodes[1].Type)
	assert.Equal(t, schema.StepTypeExit, g.Nodes[2].Type)
	assert.Equal(t, "fetch", g.Nodes[0].Label)
	assert.Equal(t, "edge-fetch-clean", g.Edges[0].ID)

	assert.Equal(t, schema.Position{X: 250, Y: 50}, g.Nodes[0].Position)
	assert.Equal(t, schema.Position{X: 250, Y: 200}, g.Nodes[1].Position)
	assert.Equal(t, schema.Position{X: 250, Y: 350}, g.Nodes[2].Position)
}

func TestImport_LayoutHonorsOptions(t *testing.T) {
	doc := `{"nodes": [{"id": "a"}, {"id": "b"}], "edges": [{"source": "a", "target": "b"}]}`
	res := newImporter(t, "").Import(context.Background(), []byte(doc), layout.Options{Direction: layout.DirectionLR})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, schema.Position{X: 400, Y: 50}, res.Graph.Nodes[1].Position)
}

func TestImport_ChatCompletionString(t *testing.T) {
	doc := `{"choices": [{"message": {"content": "` + "```json\\n{\\\"nodes\\\": [{\\\"id\\\": \\\"only\\\"}]}\\n```" + `"}}]}`
	res := newImporter(t, ".choices[0].message.content").Import(context.Background(), []byte(doc), layout.Options{})
	require.True(t, res.Success, res.Error)
	require.Len(t, res.Graph.Nodes, 1)
	assert.Equal(t, "only", res.Graph.Nodes[0].ID)
	assert.Equal(t, schema.StepTypeEntry, res.Graph.Nodes[0].Type)
}

func TestImport_WarningsSurface(t *testing.T) {
	doc := `{"nodes": [{"id": "a"}, {"id": "b"}, {"id": "c"}], "edges": [{"source": "a", "target": "b"}, {"source": "a", "target": "a"}]}`
	res := newImporter(t, "").Import(context.Background(), []byte(doc), layout.Options{})
	require.True(t, res.Success, res.Error)
	assert.Len(t, res.Warnings, 2)
}

// --- Failures ---

func TestImport_Failures(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		code string
	}{
		{"empty", "  ", schema.ErrCodeInputEmpty},
		{"not json", `{"nodes": [`, schema.ErrCodeValidation},
		{"schema violation", `{"nodes": [{"id": "a", "type": "decision"}]}`, schema.ErrCodeValidation},
		{"missing nodes", `{"graph": {"edges": []}}`, schema.ErrCodeValidation},
		{"dangling edge", `{"nodes": [{"id": "n1", "position": {"x": 0, "y": 0}}], "edges": [{"source": "n1", "target": "missing"}]}`, schema.ErrCodeValidation},
		{"cycle needs layout", `{"nodes": [{"id": "a"}, {"id": "b"}], "edges": [{"source": "a", "target": "b"}, {"source": "b", "target": "a"}]}`, schema.ErrCodeCycleDetected},
		{"embedded string not json", `"not a graph"`, schema.ErrCodeValidation},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := newImporter(t, "").Import(context.Background(), []byte(tc.doc), layout.Options{})
			assert.False(t, res.Success)
			assert.Nil(t, res.Graph)
			assert.NotEmpty(t, res.Error)
			assert.Equal(t, tc.code, res.ErrorCode)
		})
	}
}

func TestImport_DanglingEdgeKeepsRawParsed(t *testing.T) {
	doc := `{"nodes": [{"id": "n1", "position": {"x": 0, "y": 0}}], "edges": [{"source": "n1", "target": "missing"}]}`
	res := newImporter(t, "").Import(context.Background(), []byte(doc), layout.Options{})
	require.False(t, res.Success)
	require.NotNil(t, res.RawParsed)
	assert.Contains(t, res.Error, "missing")
}

func TestImport_PathProducesManyValues(t *testing.T) {
	res := newImporter(t, ".[]").Import(context.Background(), []byte(`[{"nodes": []}, {"nodes": []}]`), layout.Options{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "produced 2 values")
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("```\n{\"a\":1}```"))
	assert.Equal(t, `{"a":1}`, stripFences(` {"a":1} `))
}
