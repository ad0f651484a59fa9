package logical

import (
	"github.com/sealdb/sealdb/pkg/engine/expr"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
)

// Builder stacks plan nodes on top of each other.
type Builder struct {
	node Node
}

// NewBuilder starts a plan at the leaf node.
func NewBuilder(node Node) *Builder {
	return &Builder{node: node}
}

// Filter applies a Filter node.
func (b *Builder) Filter(cond expr.Expr) *Builder {
	return &Builder{node: &Filter{Condition: cond, Child: b.node}}
}

// Project applies a Project node.
func (b *Builder) Project(columns ...NamedExpr) *Builder {
	return &Builder{node: &Project{Columns: columns, Child: b.node}}
}

// Select projects columns by name, naming each output after the
// unqualified column.
func (b *Builder) Select(names ...string) *Builder {
	cols := make([]NamedExpr, len(names))
	for i, n := range names {
		_, col := SplitQualified(n)
		cols[i] = NamedExpr{Expr: expr.NewColumn(n), Name: col}
	}
	return b.Project(cols...)
}

// Join joins the current plan with right.
func (b *Builder) Join(right Node, cond expr.Expr, typ types.JoinType) *Builder {
	return &Builder{node: &Join{Left: b.node, Right: right, Condition: cond, JoinType: typ}}
}

// Aggregate applies an Aggregate node.
func (b *Builder) Aggregate(groupBy []expr.Expr, aggregates ...*expr.Function) *Builder {
	return &Builder{node: &Aggregate{GroupBy: groupBy, Aggregates: aggregates, Child: b.node}}
}

// Sort applies a Sort node.
func (b *Builder) Sort(keys ...SortKey) *Builder {
	return &Builder{node: &Sort{Keys: keys, Child: b.node}}
}

// Limit applies a Limit node.
func (b *Builder) Limit(skip, fetch uint64) *Builder {
	return &Builder{node: &Limit{Skip: skip, Fetch: fetch, Child: b.node}}
}

// Distinct applies a Distinct node.
func (b *Builder) Distinct() *Builder {
	return &Builder{node: &Distinct{Child: b.node}}
}

// SetOp combines the current plan with right.
func (b *Builder) SetOp(kind types.SetOpKind, all bool, right Node) *Builder {
	return &Builder{node: &SetOp{Kind: kind, All: all, Left: b.node, Right: right}}
}

// Alias wraps the current plan as a derived table.
func (b *Builder) Alias(alias string) *Builder {
	return &Builder{node: &SubqueryAlias{Alias: alias, Child: b.node}}
}

// Node returns the current root.
func (b *Builder) Node() Node { return b.node }

// Plan wraps the current root in a [QueryPlan].
func (b *Builder) Plan() *QueryPlan { return &QueryPlan{Root: b.node} }
