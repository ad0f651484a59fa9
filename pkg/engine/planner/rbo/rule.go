// Package rbo rewrites logical plans with a fixed sequence of algebraic
// rules.
package rbo

import (
	"strings"

	"github.com/sealdb/sealdb/pkg/engine/expr"
	"github.com/sealdb/sealdb/pkg/engine/planner/cost"
	"github.com/sealdb/sealdb/pkg/engine/planner/logical"
	"github.com/sealdb/sealdb/pkg/engine/planner/stats"
)

// RuleSetVersion identifies the rules returned by [DefaultRules] and their
// order. It changes whenever a rule is added, removed or reordered.
const RuleSetVersion = 1

// Rule rewrites a logical plan into an equivalent one.
//
// Apply returns its input unchanged (the same node) when the rule does not
// apply or it cannot prove the rewrite is equivalent. It never modifies the
// input tree.
type Rule interface {
	Name() string
	Apply(logical.Node) (logical.Node, error)
}

// Env is what rules know about the data being queried.
type Env struct {
	// Stats is the statistics snapshot to estimate cardinalities with. Tables
	// missing from it are assumed to have default statistics.
	Stats *stats.Snapshot
	// Cost supplies the selectivity of predicates.
	Cost *cost.Model
}

func (env Env) withDefaults() Env {
	if env.Stats == nil {
		env.Stats = &stats.Snapshot{}
	}
	if env.Cost == nil {
		m := cost.DefaultModel()
		env.Cost = &m
	}
	return env
}

// DefaultRules returns the rule sequence in the order it is applied.
func DefaultRules(env Env) []Rule {
	env = env.withDefaults()
	return []Rule{
		constantFolding{},
		expressionSimplification{},
		subqueryFlattening{},
		predicatePushdown{},
		columnPruning{},
		joinReorder{env: env},
		indexSelection{env: env},
		orderByOptimization{},
		groupByOptimization{},
		distinctOptimization{},
		limitOptimization{},
		unionOptimization{},
	}
}

// transformUp applies fn to every node of the tree bottom-up.
func transformUp(root logical.Node, fn func(logical.Node) logical.Node) logical.Node {
	out, _ := logical.Transform(root, func(n logical.Node) (logical.Node, error) {
		return fn(n), nil
	})
	return out
}

// rewriteExpr rebuilds e bottom-up with fn. Aggregate calls are left alone:
// the operators above an aggregate refer to its result by the call's string
// form.
func rewriteExpr(e expr.Expr, fn func(expr.Expr) expr.Expr) expr.Expr {
	switch n := e.(type) {
	case nil:
		return nil
	case *expr.BinaryOp:
		l, r := rewriteExpr(n.Left, fn), rewriteExpr(n.Right, fn)
		if l != n.Left || r != n.Right {
			e = &expr.BinaryOp{Left: l, Op: n.Op, Right: r}
		}
	case *expr.Function:
		if expr.IsAggregate(n) {
			return e
		}
		var args []expr.Expr
		for i, a := range n.Args {
			na := rewriteExpr(a, fn)
			if na != a && args == nil {
				args = append(make([]expr.Expr, 0, len(n.Args)), n.Args[:i]...)
			}
			if args != nil {
				args = append(args, na)
			}
		}
		if args != nil {
			e = &expr.Function{Name: n.Name, Args: args}
		}
	}
	return fn(e)
}

// rewriteNodeExprs applies fn to the expressions held by n itself. Aggregate
// group keys and calls are not rewritten since they name the aggregate's
// output columns. It returns n when nothing changed.
func rewriteNodeExprs(n logical.Node, fn func(expr.Expr) expr.Expr) logical.Node {
	rw := func(e expr.Expr) expr.Expr { return rewriteExpr(e, fn) }

	switch n := n.(type) {
	case *logical.Filter:
		if c := rw(n.Condition); c != n.Condition {
			return &logical.Filter{Condition: c, Child: n.Child}
		}
	case *logical.Join:
		if c := rw(n.Condition); c != n.Condition {
			j := *n
			j.Condition = c
			return &j
		}
	case *logical.Project:
		var cols []logical.NamedExpr
		for i, c := range n.Columns {
			if e := rw(c.Expr); e != c.Expr {
				if cols == nil {
					cols = append([]logical.NamedExpr(nil), n.Columns...)
				}
				cols[i].Expr = e
			}
		}
		if cols != nil {
			return &logical.Project{Columns: cols, Child: n.Child}
		}
	case *logical.Sort:
		var keys []logical.SortKey
		for i, k := range n.Keys {
			if e := rw(k.Expr); e != k.Expr {
				if keys == nil {
					keys = append([]logical.SortKey(nil), n.Keys...)
				}
				keys[i].Expr = e
			}
		}
		if keys != nil {
			return &logical.Sort{Keys: keys, Child: n.Child}
		}
	case *logical.Values:
		var rows [][]expr.Expr
		for i, row := range n.Rows {
			for j, v := range row {
				if e := rw(v); e != v {
					if rows == nil {
						rows = make([][]expr.Expr, len(n.Rows))
						for k := range n.Rows {
							rows[k] = append([]expr.Expr(nil), n.Rows[k]...)
						}
					}
					rows[i][j] = e
				}
			}
		}
		if rows != nil {
			return &logical.Values{Columns: n.Columns, Rows: rows}
		}
	case *logical.Update:
		var set []logical.Assignment
		for i, a := range n.Set {
			if e := rw(a.Value); e != a.Value {
				if set == nil {
					set = append([]logical.Assignment(nil), n.Set...)
				}
				set[i].Value = e
			}
		}
		if set != nil {
			u := *n
			u.Set = set
			return &u
		}
	}
	return n
}

// resolveColumns resolves every column e references against schema and
// returns the matching schema names. It reports false if any column does
// not resolve.
func resolveColumns(e expr.Expr, schema []string) ([]string, bool) {
	var out []string
	ok := true
	expr.Inspect(e, func(e expr.Expr) bool {
		if !ok {
			return false
		}
		switch e := e.(type) {
		case *expr.Column:
			if e.Name == expr.Star {
				return true
			}
			idx, err := logical.ColumnIndex(schema, e.Name)
			if err != nil {
				ok = false
				return false
			}
			out = append(out, schema[idx])
		case *expr.Function:
			if expr.IsAggregate(e) {
				if idx, err := logical.ColumnIndex(schema, e.String()); err == nil {
					out = append(out, schema[idx])
					return false
				}
			}
		}
		return true
	})
	return out, ok
}

// substitute replaces every column of e that resolves against schema with
// the expression at the same position of with.
func substitute(e expr.Expr, schema []string, with []expr.Expr) (expr.Expr, bool) {
	ok := true
	out := rewriteExpr(e, func(e expr.Expr) expr.Expr {
		c, isCol := e.(*expr.Column)
		if !isCol || !ok {
			return e
		}
		idx, err := logical.ColumnIndex(schema, c.Name)
		if err != nil {
			ok = false
			return e
		}
		return with[idx]
	})
	return out, ok
}

// requalify rewrites `from.col` column references to `to.col`.
func requalify(e expr.Expr, from, to string) expr.Expr {
	return rewriteExpr(e, func(e expr.Expr) expr.Expr {
		c, ok := e.(*expr.Column)
		if !ok {
			return e
		}
		if q, col := logical.SplitQualified(c.Name); q != "" && strings.EqualFold(q, from) {
			return expr.NewColumn(to + "." + col)
		}
		return e
	})
}
