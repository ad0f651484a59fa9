package executor

import (
	"github.com/sealdb/sealdb/pkg/engine/expr"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
	"github.com/sealdb/sealdb/pkg/engine/planner/logical"
)

// resolver maps column references to ordinals of a schema. Resolved names
// are memoized; a resolver must not be shared between goroutines.
type resolver struct {
	schema []string
	cache  map[string]int
}

func newResolver(schema []string) *resolver {
	return &resolver{schema: schema, cache: make(map[string]int, len(schema))}
}

func (r *resolver) index(name string) (int, error) {
	if i, ok := r.cache[name]; ok {
		return i, nil
	}
	i, err := logical.ColumnIndex(r.schema, name)
	if err != nil {
		return -1, err
	}
	r.cache[name] = i
	return i, nil
}

// bind returns the bindings of row.
func (r *resolver) bind(row []types.Value) *rowBindings {
	return &rowBindings{r: r, row: row}
}

type rowBindings struct {
	r   *resolver
	row []types.Value
}

var _ expr.Bindings = (*rowBindings)(nil)

func (b *rowBindings) Get(name string) (types.Value, error) {
	i, err := b.r.index(name)
	if err != nil {
		return types.Null, err
	}
	return b.row[i], nil
}

// evaluator evaluates a fixed list of expressions against rows of one
// schema.
type evaluator struct {
	r     *resolver
	exprs []expr.Expr
	b     rowBindings
}

func newEvaluator(schema []string, exprs []expr.Expr) *evaluator {
	e := &evaluator{r: newResolver(schema), exprs: exprs}
	e.b.r = e.r
	return e
}

// eval returns the value of every expression for row.
func (e *evaluator) eval(row []types.Value) ([]types.Value, error) {
	e.b.row = row
	out := make([]types.Value, len(e.exprs))
	for i, x := range e.exprs {
		v, err := expr.Eval(x, &e.b)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// predicate evaluates a condition against rows of one schema.
type predicate struct {
	cond expr.Expr
	b    rowBindings
}

func newPredicate(schema []string, cond expr.Expr) *predicate {
	return &predicate{cond: cond, b: rowBindings{r: newResolver(schema)}}
}

func (p *predicate) match(row []types.Value) (bool, error) {
	if p.cond == nil {
		return true, nil
	}
	p.b.row = row
	return expr.EvalPredicate(p.cond, &p.b)
}
