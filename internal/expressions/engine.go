// Package expressions evaluates user-supplied expressions for classifier
// rules (expr, CEL) and importer document paths (jq).
package expressions

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rendis/flowos/pkg/schema"
)

// Engine evaluates expressions against a data map.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Compiler is implemented by engines that can check an expression up front.
type Compiler interface {
	Compile(expression string) error
}

// programCacheSize bounds compiled programs per engine. Rule sets are small;
// jq paths arrive per request.
const programCacheSize = 256

// programs caches compiled programs by source text. Safe for concurrent use.
type programs[P any] struct {
	lru     *lru.Cache[string, P]
	compile func(string) (P, error)
}

func newPrograms[P any](compile func(string) (P, error)) *programs[P] {
	c, err := lru.New[string, P](programCacheSize)
	if err != nil {
		panic(err) // only for a non-positive size
	}
	return &programs[P]{lru: c, compile: compile}
}

// get returns the compiled program for src, compiling on a miss. Two racing
// misses may both compile; the later result wins.
func (p *programs[P]) get(src string) (P, error) {
	if prg, ok := p.lru.Get(src); ok {
		return prg, nil
	}
	prg, err := p.compile(src)
	if err != nil {
		return prg, err
	}
	p.lru.Add(src, prg)
	return prg, nil
}

// Len returns the number of cached programs.
func (p *programs[P]) Len() int { return p.lru.Len() }

// exprError wraps an engine failure as an EXPRESSION_ERROR carrying the source.
func exprError(engine, phase, expression string, err error) error {
	return schema.NewErrorf(schema.ErrCodeExpression, "%s %s %q: %s", engine, phase, expression, err).
		WithCause(err).
		WithDetails(map[string]any{"engine": engine, "expression": expression})
}

func emptyExpression(engine string) error {
	return schema.NewError(schema.ErrCodeExpression, fmt.Sprintf("empty %s expression", engine))
}

// Registry holds engines by name.
type Registry struct {
	engines map[string]Engine
}

// NewRegistry builds a registry from the given engines.
func NewRegistry(engines ...Engine) *Registry {
	r := &Registry{engines: make(map[string]Engine, len(engines))}
	for _, e := range engines {
		r.engines[e.Name()] = e
	}
	return r
}

// DefaultRegistry returns a registry with the expr, cel and jq engines.
func DefaultRegistry() (*Registry, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return NewRegistry(NewExprEngine(), celEngine, NewGoJQEngine()), nil
}

// Get returns the engine registered under name.
func (r *Registry) Get(name string) (Engine, bool) {
	e, ok := r.engines[name]
	return e, ok
}
