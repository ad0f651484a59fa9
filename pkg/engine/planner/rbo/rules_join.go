package rbo

import (
	"math"

	"github.com/sealdb/sealdb/pkg/engine/internal/types"
	"github.com/sealdb/sealdb/pkg/engine/planner/cost"
	"github.com/sealdb/sealdb/pkg/engine/planner/logical"
	"github.com/sealdb/sealdb/pkg/engine/planner/stats"
)

// joinReorder puts the input with fewer estimated rows on the right of inner
// joins, where it is used to build the hash table. Joins are only swapped
// where the column order of their output does not matter, that is below a
// projection or aggregation.
type joinReorder struct {
	env Env
}

func (joinReorder) Name() string { return "JoinReorder" }

func (r joinReorder) Apply(root logical.Node) (logical.Node, error) {
	return r.reorder(root, false), nil
}

// reorder rewrites the joins below n. free reports whether the parent of n
// resolves the columns of n by name rather than by position.
func (r joinReorder) reorder(n logical.Node, free bool) logical.Node {
	childFree := false
	switch n := n.(type) {
	case *logical.Project, *logical.Aggregate:
		childFree = true
	case *logical.Filter, *logical.Sort, *logical.Limit, *logical.Distinct, *logical.SubqueryAlias:
		childFree = free
	case *logical.Join:
		left, right := r.reorder(n.Left, free), r.reorder(n.Right, free)
		if free && n.JoinType == types.JoinTypeInner {
			est := estimator{env: r.env}
			if est.rows(left) < est.rows(right) {
				left, right = right, left
			}
		}
		if left == n.Left && right == n.Right {
			return n
		}
		out := *n
		out.Left, out.Right = left, right
		return &out
	}

	children := n.Children()
	if len(children) == 0 {
		return n
	}
	out := make([]logical.Node, len(children))
	for i, c := range children {
		out[i] = r.reorder(c, childFree)
	}
	return withChildren(n, out...)
}

// estimator guesses the number of rows produced by logical nodes.
type estimator struct {
	env Env
}

func (e estimator) tableStats(name string) *stats.TableStats {
	if ts, ok := e.env.Stats.Table(name); ok {
		return ts
	}
	ts := stats.DefaultTableStats()
	return &ts
}

func (e estimator) rows(n logical.Node) float64 {
	m := e.env.Cost
	switch n := n.(type) {
	case *logical.Scan:
		rows := float64(e.tableStats(n.Table.Name).RowCount)
		for _, f := range n.Filters {
			rows *= m.FilterSelectivity(f.Op)
		}
		if n.Limit > 0 {
			rows = math.Min(rows, float64(n.Limit))
		}
		return rows
	case *logical.Filter:
		return e.rows(n.Child) * m.PredicateSelectivity(n.Condition)
	case *logical.Join:
		return cost.JoinRows(e.rows(n.Left), e.rows(n.Right), m.JoinSelectivity(n.Condition), n.JoinType)
	case *logical.Aggregate:
		if len(n.GroupBy) == 0 {
			return 1
		}
		return math.Max(1, e.rows(n.Child)*m.Selectivity.Equal)
	case *logical.Limit:
		rows := math.Max(0, e.rows(n.Child)-float64(n.Skip))
		if n.Fetch != logical.NoFetch {
			rows = math.Min(rows, float64(n.Fetch))
		}
		return rows
	case *logical.SetOp:
		l, r := e.rows(n.Left), e.rows(n.Right)
		switch n.Kind {
		case types.SetOpIntersect:
			return math.Min(l, r)
		case types.SetOpExcept:
			return l
		}
		return l + r
	case *logical.Values:
		return float64(len(n.Rows))
	}
	if children := n.Children(); len(children) == 1 {
		return e.rows(children[0])
	}
	return 0
}

// indexSelection picks the secondary index that drives a scan: the one over
// the leading column of the most selective equality or range filter.
type indexSelection struct {
	env Env
}

func (indexSelection) Name() string { return "IndexSelection" }

func (r indexSelection) Apply(root logical.Node) (logical.Node, error) {
	return transformUp(root, func(n logical.Node) logical.Node {
		s, ok := n.(*logical.Scan)
		if !ok || s.Index != "" || len(s.Filters) == 0 {
			return n
		}
		if name := r.bestIndex(s); name != "" {
			out := *s
			out.Index = name
			return &out
		}
		return n
	}), nil
}

func (r indexSelection) bestIndex(s *logical.Scan) string {
	var (
		best    string
		bestSel = math.Inf(1)
	)
	ts, haveStats := r.env.Stats.Table(s.Table.Name)
	for _, f := range s.Filters {
		if f.Op != types.FilterOpEqual && !f.Op.IsRange() {
			continue
		}
		idx, ok := s.Table.IndexOn(f.Column)
		if !ok {
			continue
		}
		sel := r.env.Cost.FilterSelectivity(f.Op)
		if f.Op == types.FilterOpEqual && haveStats {
			if is, ok := ts.Index(idx.Name); ok && is.Selectivity > 0 {
				sel = is.Selectivity
			}
		}
		if sel < bestSel {
			best, bestSel = idx.Name, sel
		}
	}
	return best
}
