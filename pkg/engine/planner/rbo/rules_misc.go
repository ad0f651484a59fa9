package rbo

import (
	"slices"

	"github.com/sealdb/sealdb/pkg/engine/expr"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
	"github.com/sealdb/sealdb/pkg/engine/planner/logical"
)

// orderByOptimization removes sorts whose input is already in the requested
// order: a sort directly below another sort, and an ascending sort on the
// primary key of an unindexed scan of a table with a string key, which
// reads rows in key order.
type orderByOptimization struct{}

func (orderByOptimization) Name() string { return "OrderByOptimization" }

func (orderByOptimization) Apply(root logical.Node) (logical.Node, error) {
	return transformUp(root, func(n logical.Node) logical.Node {
		s, ok := n.(*logical.Sort)
		if !ok {
			return n
		}
		if inner, ok := s.Child.(*logical.Sort); ok {
			return &logical.Sort{Keys: s.Keys, Child: inner.Child}
		}
		if sortedByKey(s) {
			return s.Child
		}
		return n
	}), nil
}

func sortedByKey(s *logical.Sort) bool {
	if len(s.Keys) != 1 || s.Keys[0].Order != types.SortOrderAsc {
		return false
	}
	col, ok := s.Keys[0].Expr.(*expr.Column)
	if !ok {
		return false
	}

	child := s.Child
	for {
		f, ok := child.(*logical.Filter)
		if !ok {
			break
		}
		child = f.Child
	}
	scan, ok := child.(*logical.Scan)
	if !ok || !keyOrdered(scan) {
		return false
	}
	idx, err := logical.ColumnIndex(scan.Schema(), col.Name)
	if err != nil || !scan.Table.IsPrimaryKey(scan.Columns[idx]) {
		return false
	}
	pk, ok := scan.Table.Column(scan.Table.PrimaryKey)
	return ok && pk.Type == types.ValueTypeStr
}

// keyOrdered reports whether every access path the physical planner may pick
// for scan reads the table in key order. Primary key lookups fetch rows in
// list order and index scans in index order.
func keyOrdered(scan *logical.Scan) bool {
	if scan.Index != "" {
		return false
	}
	for _, f := range scan.Filters {
		if scan.Table.IsPrimaryKey(f.Column) && (f.Op == types.FilterOpEqual || f.Op == types.FilterOpIn) {
			return false
		}
		if _, ok := scan.Table.IndexOn(f.Column); ok && (f.Op == types.FilterOpEqual || f.Op.IsRange()) {
			return false
		}
	}
	return true
}

// groupByOptimization drops duplicate and constant group keys. The reduced
// aggregate is wrapped in a projection that restores the original output
// columns.
type groupByOptimization struct{}

func (groupByOptimization) Name() string { return "GroupByOptimization" }

func (groupByOptimization) Apply(root logical.Node) (logical.Node, error) {
	return transformUp(root, func(n logical.Node) logical.Node {
		agg, ok := n.(*logical.Aggregate)
		if !ok || len(agg.GroupBy) == 0 {
			return n
		}
		keys := reduceGroupKeys(agg.GroupBy)
		if len(keys) == len(agg.GroupBy) {
			return n
		}

		reduced := &logical.Aggregate{GroupBy: keys, Aggregates: agg.Aggregates, Child: agg.Child}
		cols := make([]logical.NamedExpr, 0, len(agg.GroupBy)+len(agg.Aggregates))
		for _, g := range agg.GroupBy {
			var e expr.Expr = g
			if i := slices.IndexFunc(keys, func(k expr.Expr) bool { return expr.Equal(k, g) }); i >= 0 {
				e = expr.NewColumn(keys[i].String())
			}
			cols = append(cols, logical.NamedExpr{Expr: e, Name: g.String()})
		}
		for _, a := range agg.Aggregates {
			cols = append(cols, logical.NamedExpr{Expr: expr.NewColumn(a.String()), Name: a.String()})
		}
		return &logical.Project{Columns: cols, Child: reduced}
	}), nil
}

// reduceGroupKeys removes duplicates and literals. If every key is a literal
// the first one is kept so the input still collapses into one group.
func reduceGroupKeys(groupBy []expr.Expr) []expr.Expr {
	var keys []expr.Expr
	for _, g := range groupBy {
		if _, isLit := g.(*expr.Literal); isLit {
			continue
		}
		if slices.ContainsFunc(keys, func(k expr.Expr) bool { return expr.Equal(k, g) }) {
			continue
		}
		keys = append(keys, g)
	}
	if len(keys) == 0 {
		return groupBy[:1]
	}
	return keys
}

// distinctOptimization removes a distinct whose input has no duplicate rows:
// another distinct, or an aggregate, possibly below a projection that keeps
// every group key.
type distinctOptimization struct{}

func (distinctOptimization) Name() string { return "DistinctOptimization" }

func (distinctOptimization) Apply(root logical.Node) (logical.Node, error) {
	return transformUp(root, func(n logical.Node) logical.Node {
		d, ok := n.(*logical.Distinct)
		if !ok {
			return n
		}
		switch c := d.Child.(type) {
		case *logical.Distinct, *logical.Aggregate:
			return c
		case *logical.Project:
			if agg, ok := c.Child.(*logical.Aggregate); ok && keepsGroupKeys(c, agg) {
				return c
			}
		}
		return n
	}), nil
}

func keepsGroupKeys(p *logical.Project, agg *logical.Aggregate) bool {
	schema := agg.Schema()
	kept := make([]bool, len(agg.GroupBy))
	for _, c := range p.Columns {
		col, ok := c.Expr.(*expr.Column)
		if !ok {
			continue
		}
		if idx, err := logical.ColumnIndex(schema, col.Name); err == nil && idx < len(kept) {
			kept[idx] = true
		}
	}
	return !slices.Contains(kept, false)
}

// limitOptimization merges stacked limits and lets a scan stop early when a
// limit sits above it with nothing but a projection in between.
type limitOptimization struct{}

func (limitOptimization) Name() string { return "LimitOptimization" }

func (limitOptimization) Apply(root logical.Node) (logical.Node, error) {
	return transformUp(root, func(n logical.Node) logical.Node {
		l, ok := n.(*logical.Limit)
		if !ok {
			return n
		}
		if inner, ok := l.Child.(*logical.Limit); ok {
			return mergeLimits(l, inner)
		}
		if out, ok := pushLimitToScan(l); ok {
			return out
		}
		return n
	}), nil
}

func mergeLimits(outer, inner *logical.Limit) *logical.Limit {
	avail := inner.Fetch
	if avail != logical.NoFetch {
		avail = subSat(avail, outer.Skip)
	}
	return &logical.Limit{
		Skip:  addSat(inner.Skip, outer.Skip),
		Fetch: min(outer.Fetch, avail),
		Child: inner.Child,
	}
}

func pushLimitToScan(l *logical.Limit) (logical.Node, bool) {
	if l.Fetch == logical.NoFetch || l.Fetch == 0 {
		return nil, false
	}
	proj, hasProj := l.Child.(*logical.Project)
	child := l.Child
	if hasProj {
		child = proj.Child
	}
	scan, ok := child.(*logical.Scan)
	if !ok {
		return nil, false
	}
	need := addSat(l.Skip, l.Fetch)
	if scan.Limit != 0 && scan.Limit <= need {
		return nil, false
	}

	limited := *scan
	limited.Limit = need
	var out logical.Node = &limited
	if hasProj {
		out = &logical.Project{Columns: proj.Columns, Child: out}
	}
	return &logical.Limit{Skip: l.Skip, Fetch: l.Fetch, Child: out}, true
}

func addSat(a, b uint64) uint64 {
	if s := a + b; s >= a {
		return s
	}
	return logical.NoFetch
}

func subSat(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}

// unionOptimization makes chains of UNION ALL left-deep, keeping the order
// of their inputs, and replaces a UNION of two identical inputs with a
// distinct over one of them.
type unionOptimization struct{}

func (unionOptimization) Name() string { return "UnionOptimization" }

func (unionOptimization) Apply(root logical.Node) (logical.Node, error) {
	return transformUp(root, func(n logical.Node) logical.Node {
		s, ok := n.(*logical.SetOp)
		if !ok || s.Kind != types.SetOpUnion {
			return n
		}
		if s.All {
			if !isUnionAll(s.Right) {
				return n
			}
			inputs := unionAllInputs(s)
			out := inputs[0]
			for _, in := range inputs[1:] {
				out = &logical.SetOp{Kind: types.SetOpUnion, All: true, Left: out, Right: in}
			}
			return out
		}
		if samePlan(s.Left, s.Right) {
			return &logical.Distinct{Child: s.Left}
		}
		return n
	}), nil
}

func isUnionAll(n logical.Node) bool {
	s, ok := n.(*logical.SetOp)
	return ok && s.Kind == types.SetOpUnion && s.All
}

// unionAllInputs returns the inputs of the UNION ALL chain rooted at n, in
// order.
func unionAllInputs(n logical.Node) []logical.Node {
	if !isUnionAll(n) {
		return []logical.Node{n}
	}
	s := n.(*logical.SetOp)
	return append(unionAllInputs(s.Left), unionAllInputs(s.Right)...)
}

func samePlan(a, b logical.Node) bool {
	return (&logical.QueryPlan{Root: a}).String() == (&logical.QueryPlan{Root: b}).String()
}
