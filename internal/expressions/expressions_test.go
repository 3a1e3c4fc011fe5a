package expressions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rendis/flowos/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stepData(name string, index, total int) map[string]any {
	return map[string]any{
		"step": map[string]any{
			"name":  name,
			"lower": name,
			"index": index,
			"total": total,
			"first": index == 0,
			"last":  index == total-1,
		},
	}
}

// --- Expr ---

func TestExpr_StepRule(t *testing.T) {
	e := NewExprEngine()
	assert.Equal(t, "expr", e.Name())

	out, err := e.Evaluate(context.Background(), `step.lower contains "approve" && !step.last`, stepData("approve order", 1, 3))
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = e.Evaluate(context.Background(), `step.lower contains "approve" && !step.last`, stepData("approve order", 2, 3))
	require.NoError(t, err)
	assert.Equal(t, false, out)
}

func TestExpr_Arithmetic(t *testing.T) {
	e := NewExprEngine()
	out, err := e.Evaluate(context.Background(), "a + b", map[string]any{"a": 10, "b": 3})
	require.NoError(t, err)
	assert.Equal(t, 13, out)
}

func TestExpr_Empty(t *testing.T) {
	_, err := NewExprEngine().Evaluate(context.Background(), "", nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeExpression))
}

func TestExpr_CompileError(t *testing.T) {
	e := NewExprEngine()
	err := e.Compile("step.name ===")
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeExpression))
}

func TestExpr_CachesPrograms(t *testing.T) {
	e := NewExprEngine()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), "x * 2", map[string]any{"x": i})
			assert.NoError(t, err)
			assert.Equal(t, i*2, out)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, e.programs.Len())
}

// --- CEL ---

func TestCEL_StepRule(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	assert.Equal(t, "cel", e.Name())

	out, err := e.Evaluate(context.Background(), `step.lower.contains("review") && step.index > 0`, stepData("peer review", 1, 3))
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_MissingVariablesDefaultToEmptyMaps(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), `size(step) == 0`, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_CompileError(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	err = e.Compile(`step.name ==`)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeExpression))
}

func TestCEL_UnknownVariable(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), `inputs.x == 1`, nil)
	require.Error(t, err)
}

// --- GoJQ ---

func TestGoJQ_ExtractNested(t *testing.T) {
	e := NewGoJQEngine()
	assert.Equal(t, "jq", e.Name())

	doc := map[string]any{
		"result": map[string]any{
			"graph": map[string]any{"nodes": []any{map[string]any{"id": "a"}}},
		},
	}
	out, err := e.Evaluate(context.Background(), ".result.graph.nodes[0].id", doc)
	require.NoError(t, err)
	assert.Equal(t, "a", out)
}

func TestGoJQ_AlternativeOperator(t *testing.T) {
	e := NewGoJQEngine()
	doc := map[string]any{"nodes": []any{}}

	out, err := e.Evaluate(context.Background(), ".graph // .", doc)
	require.NoError(t, err)
	assert.Equal(t, doc, out)
}

func TestGoJQ_MultipleOutputs(t *testing.T) {
	e := NewGoJQEngine()
	out, err := e.EvaluateValue(context.Background(), ".[]", []any{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), float64(2), float64(3)}, out)
}

func TestGoJQ_NoOutput(t *testing.T) {
	e := NewGoJQEngine()
	out, err := e.EvaluateValue(context.Background(), "empty", map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGoJQ_ParseError(t *testing.T) {
	_, err := NewGoJQEngine().Evaluate(context.Background(), ".[", nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeExpression))
}

func TestGoJQ_EnvBlocked(t *testing.T) {
	out, err := NewGoJQEngine().Evaluate(context.Background(), "$ENV | length", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 0, out)
}

func TestGoJQ_Compile(t *testing.T) {
	e := NewGoJQEngine()
	assert.NoError(t, e.Compile(".graph // ."))
	assert.Error(t, e.Compile(""))
	assert.Error(t, e.Compile(".["))
	assert.Equal(t, 1, e.programs.Len())
}

// --- program cache ---

func TestPrograms_FailedCompileNotCached(t *testing.T) {
	calls := 0
	p := newPrograms(func(src string) (int, error) {
		calls++
		if src == "bad" {
			return 0, errors.New("nope")
		}
		return len(src), nil
	})

	_, err := p.get("bad")
	require.Error(t, err)
	_, err = p.get("bad")
	require.Error(t, err)
	assert.Equal(t, 2, calls)

	v, err := p.get("good")
	require.NoError(t, err)
	assert.Equal(t, 4, v)
	_, _ = p.get("good")
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, p.Len())
}

func TestPrograms_Bounded(t *testing.T) {
	p := newPrograms(func(src string) (string, error) { return src, nil })
	for i := 0; i < programCacheSize+10; i++ {
		_, err := p.get(fmt.Sprintf("q%d", i))
		require.NoError(t, err)
	}
	assert.Equal(t, programCacheSize, p.Len())
}

func TestExprError_CarriesSource(t *testing.T) {
	err := NewExprEngine().Compile("1 +")
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "expr", fe.Details["engine"])
	assert.Equal(t, "1 +", fe.Details["expression"])
}

// --- Registry ---

func TestDefaultRegistry(t *testing.T) {
	r, err := DefaultRegistry()
	require.NoError(t, err)

	for _, name := range []string{"expr", "cel", "jq"} {
		e, ok := r.Get(name)
		require.True(t, ok, name)
		assert.Equal(t, name, e.Name())
	}
	_, ok := r.Get("lua")
	assert.False(t, ok)
}
