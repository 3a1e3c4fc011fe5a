package expressions

import (
	"context"

	"github.com/itchyny/gojq"
)

// GoJQEngine evaluates jq queries. The importer uses it to pull a graph out
// of an arbitrary model response.
type GoJQEngine struct {
	programs *programs[*gojq.Code]
}

// NewGoJQEngine creates a jq engine. Queries cannot read the process
// environment.
func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{programs: newPrograms(func(src string) (*gojq.Code, error) {
		q, err := gojq.Parse(src)
		if err != nil {
			return nil, exprError("jq", "parse", src, err)
		}
		code, err := gojq.Compile(q, gojq.WithEnvironLoader(func() []string { return nil }))
		if err != nil {
			return nil, exprError("jq", "compile", src, err)
		}
		return code, nil
	})}
}

func (e *GoJQEngine) Name() string { return "jq" }

// Evaluate runs expression over data; see EvaluateValue.
func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	return e.EvaluateValue(ctx, expression, data)
}

// EvaluateValue runs expression over any decoded JSON value. No output
// yields nil, one output is returned as is, several come back as []any.
func (e *GoJQEngine) EvaluateValue(ctx context.Context, expression string, input any) (any, error) {
	results, err := e.EvaluateAll(ctx, expression, input)
	if err != nil {
		return nil, err
	}
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	}
	return results, nil
}

// EvaluateAll returns every output of expression.
func (e *GoJQEngine) EvaluateAll(ctx context.Context, expression string, input any) ([]any, error) {
	if expression == "" {
		return nil, emptyExpression("jq")
	}
	code, err := e.programs.get(expression)
	if err != nil {
		return nil, err
	}

	var results []any
	iter := code.RunWithContext(ctx, jqValue(input))
	for {
		v, ok := iter.Next()
		if !ok {
			return results, nil
		}
		if err, isErr := v.(error); isErr {
			return nil, exprError("jq", "evaluate", expression, err)
		}
		results = append(results, v)
	}
}

// Compile checks that expression parses and compiles.
func (e *GoJQEngine) Compile(expression string) error {
	if expression == "" {
		return emptyExpression("jq")
	}
	_, err := e.programs.get(expression)
	return err
}

// jqValue converts Go numbers to the float64 jq expects, recursing into
// maps and slices.
func jqValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, x := range val {
			out[k] = jqValue(x)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = jqValue(x)
		}
		return out
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	}
	return v
}

var (
	_ Engine   = (*GoJQEngine)(nil)
	_ Compiler = (*GoJQEngine)(nil)
)
