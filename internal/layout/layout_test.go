package layout

import (
	"testing"

	"github.com/rendis/flowos/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chain(ids ...string) []schema.Step {
	steps := make([]schema.Step, len(ids))
	for i, id := range ids {
		steps[i] = schema.Step{ID: id, Name: id}
		if i > 0 {
			steps[i].Dependencies = []string{ids[i-1]}
		}
	}
	return steps
}

// --- AssignLevels ---

func TestAssignLevels_Chain(t *testing.T) {
	levels, err := AssignLevels(chain("a", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 0, "b": 1, "c": 2}, levels)
}

func TestAssignLevels_Diamond(t *testing.T) {
	steps := []schema.Step{
		{ID: "d", Dependencies: []string{"b", "c"}},
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "c", Dependencies: []string{"b"}},
		{ID: "a"},
	}
	levels, err := AssignLevels(steps)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 0, "b": 1, "c": 2, "d": 3}, levels)
}

func TestAssignLevels_UnknownDependencyIgnored(t *testing.T) {
	steps := []schema.Step{
		{ID: "a", Dependencies: []string{"ghost"}},
		{ID: "b", Dependencies: []string{"a", "phantom"}},
	}
	levels, err := AssignLevels(steps)
	require.NoError(t, err)
	assert.Equal(t, 0, levels["a"])
	assert.Equal(t, 1, levels["b"])
}

func TestAssignLevels_Empty(t *testing.T) {
	levels, err := AssignLevels(nil)
	require.NoError(t, err)
	assert.Empty(t, levels)
}

func TestAssignLevels_Cycle(t *testing.T) {
	steps := []schema.Step{
		{ID: "a", Dependencies: []string{"c"}},
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "c", Dependencies: []string{"b"}},
	}
	_, err := AssignLevels(steps)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeCycleDetected))
}

func TestAssignLevels_SelfLoop(t *testing.T) {
	_, err := AssignLevels([]schema.Step{{ID: "a", Dependencies: []string{"a"}}})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeCycleDetected))
}

func TestGroup_PreservesInputOrder(t *testing.T) {
	steps := []schema.Step{{ID: "root"}, {ID: "z", Dependencies: []string{"root"}}, {ID: "a", Dependencies: []string{"root"}}}
	levels, err := AssignLevels(steps)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"root"}, {"z", "a"}}, Group(steps, levels))
}

// --- Direction ---

func TestParseDirection(t *testing.T) {
	tests := []struct {
		in   string
		want Direction
	}{
		{"", DirectionTB},
		{"TB", DirectionTB},
		{"td", DirectionTB},
		{"top-to-bottom", DirectionTB},
		{"BT", DirectionBT},
		{"Bottom-To-Top", DirectionBT},
		{"lr", DirectionLR},
		{"left-to-right", DirectionLR},
		{" RL ", DirectionRL},
		{"right-to-left", DirectionRL},
	}
	for _, tc := range tests {
		got, err := ParseDirection(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, err := ParseDirection("diagonal")
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestOptions_Normalize(t *testing.T) {
	o, err := Options{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, DirectionTB, o.Direction)
	assert.Equal(t, DefaultNodeSpacing, o.NodeSpacing)
	assert.Equal(t, DefaultLevelSpacing, o.LevelSpacing)
	assert.Equal(t, schema.Position{X: 250, Y: 50}, *o.StartPosition)

	o, err = Options{Direction: "left-to-right", NodeSpacing: 10}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, DirectionLR, o.Direction)
	assert.Equal(t, 10.0, o.NodeSpacing)
}

func TestOptions_Key(t *testing.T) {
	assert.Equal(t, Options{}.Key(), Options{Direction: "top-to-bottom"}.Key())
	assert.NotEqual(t, Options{}.Key(), Options{Direction: DirectionLR}.Key())
	assert.NotEqual(t, Options{}.Key(), Options{NodeSpacing: 90}.Key())
}

// --- Layout ---

func TestLayout_TopToBottomChain(t *testing.T) {
	steps := chain("s1", "s2", "s3")
	levels, err := AssignLevels(steps)
	require.NoError(t, err)

	pos := Layout(steps, levels, Options{})
	assert.Equal(t, schema.Position{X: 250, Y: 50}, pos["s1"])
	assert.Equal(t, schema.Position{X: 250, Y: 200}, pos["s2"])
	assert.Equal(t, schema.Position{X: 250, Y: 350}, pos["s3"])
}

func TestLayout_SiblingsCentered(t *testing.T) {
	steps := []schema.Step{
		{ID: "root"},
		{ID: "a", Dependencies: []string{"root"}},
		{ID: "b", Dependencies: []string{"root"}},
		{ID: "c", Dependencies: []string{"root"}},
	}
	levels, err := AssignLevels(steps)
	require.NoError(t, err)

	pos := Layout(steps, levels, Options{})
	assert.Equal(t, 50.0, pos["a"].X)
	assert.Equal(t, 250.0, pos["b"].X)
	assert.Equal(t, 450.0, pos["c"].X)
	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, 200.0, pos[id].Y)
	}
}

func TestLayout_TwoSiblingsStraddleStart(t *testing.T) {
	steps := []schema.Step{{ID: "a"}, {ID: "b"}}
	pos := Layout(steps, map[string]int{"a": 0, "b": 0}, Options{})
	assert.Equal(t, 150.0, pos["a"].X)
	assert.Equal(t, 350.0, pos["b"].X)
}

func TestLayout_BottomToTop(t *testing.T) {
	steps := chain("s1", "s2", "s3")
	levels, err := AssignLevels(steps)
	require.NoError(t, err)

	pos := Layout(steps, levels, Options{Direction: DirectionBT})
	assert.Equal(t, 350.0, pos["s1"].Y)
	assert.Equal(t, 200.0, pos["s2"].Y)
	assert.Equal(t, 50.0, pos["s3"].Y)
}

func TestLayout_LeftToRight(t *testing.T) {
	steps := chain("s1", "s2")
	levels, err := AssignLevels(steps)
	require.NoError(t, err)

	pos := Layout(steps, levels, Options{Direction: DirectionLR, LevelSpacing: 100, StartPosition: &schema.Position{X: 0, Y: 0}})
	assert.Equal(t, schema.Position{X: 0, Y: 0}, pos["s1"])
	assert.Equal(t, schema.Position{X: 100, Y: 0}, pos["s2"])
}

func TestLayout_RightToLeft(t *testing.T) {
	steps := chain("s1", "s2")
	levels, err := AssignLevels(steps)
	require.NoError(t, err)

	pos := Layout(steps, levels, Options{Direction: "right-to-left"})
	assert.Equal(t, schema.Position{X: 400, Y: 50}, pos["s1"])
	assert.Equal(t, schema.Position{X: 250, Y: 50}, pos["s2"])
}

func TestLayout_UnknownDirectionFallsBackToTB(t *testing.T) {
	steps := chain("s1", "s2")
	levels, err := AssignLevels(steps)
	require.NoError(t, err)

	pos := Layout(steps, levels, Options{Direction: "sideways"})
	assert.Equal(t, schema.Position{X: 250, Y: 200}, pos["s2"])
}

func TestLayout_Deterministic(t *testing.T) {
	steps := []schema.Step{{ID: "r"}, {ID: "x", Dependencies: []string{"r"}}, {ID: "y", Dependencies: []string{"r"}}}
	levels, err := AssignLevels(steps)
	require.NoError(t, err)
	assert.Equal(t, Layout(steps, levels, Options{}), Layout(steps, levels, Options{}))
}

func TestOptions_Or(t *testing.T) {
	start := schema.Position{X: 1, Y: 2}
	fallback := Options{Direction: DirectionLR, NodeSpacing: 50, LevelSpacing: 60, StartPosition: &start}

	got := Options{NodeSpacing: 10}.Or(fallback)
	assert.Equal(t, DirectionLR, got.Direction)
	assert.Equal(t, 10.0, got.NodeSpacing)
	assert.Equal(t, 60.0, got.LevelSpacing)
	assert.Equal(t, &start, got.StartPosition)

	assert.Equal(t, Options{Direction: DirectionBT}, Options{Direction: DirectionBT}.Or(Options{}))
}
