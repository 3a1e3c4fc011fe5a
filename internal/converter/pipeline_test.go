package converter

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowos/internal/layout"
	"github.com/rendis/flowos/internal/validation"
	"github.com/rendis/flowos/pkg/schema"
)

func convert(t *testing.T, text string) *schema.ConversionResult {
	t.Helper()
	return Convert(context.Background(), text, layout.Options{})
}

func labels(g *schema.GraphStructure) []string {
	out := make([]string, len(g.Nodes))
	for i, n := range g.Nodes {
		out[i] = n.Label
	}
	return out
}

// --- Scenarios ---

func TestConvert_StartProcessEnd(t *testing.T) {
	res := convert(t, "Start -> Process -> End")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "arrow", res.Format)

	g := res.Graph
	require.Len(t, g.Nodes, 3)
	assert.Equal(t, schema.StepTypeEntry, g.Nodes[0].Type)
	assert.Equal(t, schema.StepTypeIntermediate, g.Nodes[1].Type)
	assert.Equal(t, schema.StepTypeExit, g.Nodes[2].Type)
	assert.Greater(t, g.Nodes[1].Position.Y, g.Nodes[0].Position.Y)
	assert.Greater(t, g.Nodes[2].Position.Y, g.Nodes[1].Position.Y)

	require.Len(t, g.Edges, 2)
	assert.Equal(t, schema.GraphEdge{ID: "edge-step-1-step-2", Source: "step-1", Target: "step-2"}, g.Edges[0])
	assert.Equal(t, schema.GraphEdge{ID: "edge-step-2-step-3", Source: "step-2", Target: "step-3"}, g.Edges[1])

	assert.Equal(t, "entry step (level 0)", g.Nodes[0].Description)
	assert.Equal(t, "exit step (level 2)", g.Nodes[2].Description)

	require.NotNil(t, res.RawParsed)
	assert.Len(t, res.RawParsed.Steps, 3)
	assert.Empty(t, res.Warnings)
}

func TestConvert_NumberedList(t *testing.T) {
	res := convert(t, "1. Receive Order\n2. Validate Payment\n3. Process Order\n4. Ship Package")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"Receive Order", "Validate Payment", "Process Order", "Ship Package"}, labels(res.Graph))
	assert.Len(t, res.Graph.Edges, 3)
}

func TestConvert_FormatPriority(t *testing.T) {
	res := convert(t, "A -> B, C")
	require.True(t, res.Success)
	assert.Equal(t, []string{"A", "B, C"}, labels(res.Graph))
}

func TestConvert_SingleStep(t *testing.T) {
	res := convert(t, "Process Data")
	require.True(t, res.Success)
	require.Len(t, res.Graph.Nodes, 1)
	assert.Empty(t, res.Graph.Edges)
	assert.Equal(t, schema.StepTypeEntry, res.Graph.Nodes[0].Type)
	assert.Equal(t, schema.Position{X: 250, Y: 50}, res.Graph.Nodes[0].Position)
}

// --- Properties ---

func TestConvert_StepCountInvariant(t *testing.T) {
	inputs := []string{
		"a -> b -> c -> d",
		"a\nb\nc\nd",
		"a, b, c, d",
		"a then b then c then d",
	}
	for _, in := range inputs {
		res := convert(t, in)
		require.True(t, res.Success, in)
		assert.Len(t, res.Graph.Nodes, 4, in)
		assert.Len(t, res.Graph.Edges, 3, in)
	}
}

func TestConvert_IDIntegrity(t *testing.T) {
	for n := 1; n <= 12; n++ {
		parts := make([]string, n)
		for i := range parts {
			parts[i] = fmt.Sprintf("Task %d", i)
		}
		res := convert(t, strings.Join(parts, " -> "))
		require.True(t, res.Success)
		vr := validation.ValidateGraph(res.Graph)
		assert.Empty(t, vr.Errors)
	}
}

func TestConvert_Idempotent(t *testing.T) {
	text := "Receive request, Check inventory, Reserve stock, Send confirmation"
	opts := layout.Options{Direction: layout.DirectionLR}
	a := Convert(context.Background(), text, opts)
	b := Convert(context.Background(), text, opts)
	assert.Equal(t, a, b)
}

func TestConvert_DirectionApplied(t *testing.T) {
	res := Convert(context.Background(), "a -> b", layout.Options{Direction: "left-to-right"})
	require.True(t, res.Success)
	assert.Equal(t, schema.Position{X: 250, Y: 50}, res.Graph.Nodes[0].Position)
	assert.Equal(t, schema.Position{X: 400, Y: 50}, res.Graph.Nodes[1].Position)
}

func TestConvert_UnknownDirectionWarns(t *testing.T) {
	res := Convert(context.Background(), "a -> b", layout.Options{Direction: "diagonal"})
	require.True(t, res.Success)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "diagonal")
	assert.Equal(t, schema.Position{X: 250, Y: 200}, res.Graph.Nodes[1].Position)
}

// --- Failures ---

func TestConvert_EmptyInput(t *testing.T) {
	for _, in := range []string{"", "   "} {
		res := convert(t, in)
		assert.False(t, res.Success)
		assert.NotEmpty(t, res.Error)
		assert.Nil(t, res.Graph)
		assert.Nil(t, res.RawParsed)
		assert.Equal(t, schema.ErrCodeInputEmpty, res.ErrorCode)
	}
}

func TestConvert_NoSegments(t *testing.T) {
	res := convert(t, "-> ->")
	assert.False(t, res.Success)
	assert.Equal(t, schema.ErrCodeParseEmptyResult, res.ErrorCode)
	assert.Equal(t, "could not parse any steps", res.Error)
	assert.Equal(t, "arrow", res.Format)
}

func TestConvert_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := Convert(ctx, "a -> b", layout.Options{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "canceled")
	assert.Equal(t, schema.ErrCodeInternal, res.ErrorCode)
}

type panickingClassifier struct{}

func (panickingClassifier) Classify(string, int, int) schema.StepType {
	panic("classifier exploded")
}

func TestConvert_RecoversPanics(t *testing.T) {
	p := NewPipeline(panickingClassifier{}, nil)
	var res *schema.ConversionResult
	require.NotPanics(t, func() {
		res = p.Convert(context.Background(), "a -> b", layout.Options{})
	})
	assert.False(t, res.Success)
	assert.Equal(t, schema.ErrCodeInternal, res.ErrorCode)
	assert.Contains(t, res.Error, "classifier exploded")
}

// --- BuildGraph ---

func TestBuildGraph_OneEdgePerDependency(t *testing.T) {
	steps := []schema.Step{
		{ID: "a", Name: "A", Type: schema.StepTypeEntry},
		{ID: "b", Name: "B", Type: schema.StepTypeEntry},
		{ID: "c", Name: "C", Type: schema.StepTypeExit, Dependencies: []string{"a", "b"}},
	}
	levels, err := layout.AssignLevels(steps)
	require.NoError(t, err)
	g := BuildGraph(steps, levels, layout.Layout(steps, levels, layout.Options{}))

	require.Len(t, g.Edges, 2)
	assert.Equal(t, "edge-a-c", g.Edges[0].ID)
	assert.Equal(t, "edge-b-c", g.Edges[1].ID)
	assert.Equal(t, "C", g.Node("c").Label)
	assert.Equal(t, "exit step (level 1)", g.Node("c").Description)
}
