package expressions

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ExprEngine evaluates expr-lang expressions. Rules read naturally:
// `step.lower contains "approve" && !step.last`.
type ExprEngine struct {
	programs *programs[*vm.Program]
}

// NewExprEngine creates an expr engine. Programs compile against an untyped
// environment, so one program serves every data map.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{programs: newPrograms(func(src string) (*vm.Program, error) {
		prg, err := expr.Compile(src, expr.AllowUndefinedVariables())
		if err != nil {
			return nil, exprError("expr", "compile", src, err)
		}
		return prg, nil
	})}
}

func (e *ExprEngine) Name() string { return "expr" }

// Evaluate runs expression with the keys of data as top-level variables.
func (e *ExprEngine) Evaluate(_ context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, emptyExpression("expr")
	}
	prg, err := e.programs.get(expression)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]any{}
	}
	out, err := vm.Run(prg, data)
	if err != nil {
		return nil, exprError("expr", "evaluate", expression, err)
	}
	return out, nil
}

// Compile checks that expression compiles.
func (e *ExprEngine) Compile(expression string) error {
	if expression == "" {
		return emptyExpression("expr")
	}
	_, err := e.programs.get(expression)
	return err
}

var (
	_ Engine   = (*ExprEngine)(nil)
	_ Compiler = (*ExprEngine)(nil)
)
