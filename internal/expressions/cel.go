package expressions

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

// stepVars are the CEL variables rules may reference. Both are
// map(string, dyn): step holds name, lower, index, total, first and last;
// graph is reserved for graph-wide facts.
var stepVars = [...]string{"step", "graph"}

// CELEngine evaluates Common Expression Language rules.
type CELEngine struct {
	env      *cel.Env
	programs *programs[cel.Program]
}

// NewCELEngine creates a CEL engine over the step and graph variables.
func NewCELEngine() (*CELEngine, error) {
	var opts []cel.EnvOption
	for _, v := range stepVars {
		opts = append(opts, cel.Variable(v, cel.MapType(cel.StringType, cel.DynType)))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	e := &CELEngine{env: env}
	e.programs = newPrograms(e.build)
	return e, nil
}

func (e *CELEngine) build(src string) (cel.Program, error) {
	ast, issues := e.env.Compile(src)
	if err := issues.Err(); err != nil {
		return nil, exprError("CEL", "compile", src, err)
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, exprError("CEL", "program", src, err)
	}
	return prg, nil
}

func (e *CELEngine) Name() string { return "cel" }

// Evaluate runs expression. Variables missing from data are bound to empty
// maps so field access yields a CEL error rather than a nil dereference.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, emptyExpression("CEL")
	}
	prg, err := e.programs.get(expression)
	if err != nil {
		return nil, err
	}

	vars := make(map[string]any, len(stepVars))
	for _, k := range stepVars {
		vars[k] = map[string]any{}
		if v := data[k]; v != nil {
			vars[k] = v
		}
	}
	out, _, err := prg.ContextEval(ctx, vars)
	if err != nil {
		return nil, exprError("CEL", "evaluate", expression, err)
	}
	return out.Value(), nil
}

// Compile checks that expression compiles against the step variables.
func (e *CELEngine) Compile(expression string) error {
	if expression == "" {
		return emptyExpression("CEL")
	}
	_, err := e.programs.get(expression)
	return err
}

var (
	_ Engine   = (*CELEngine)(nil)
	_ Compiler = (*CELEngine)(nil)
)
