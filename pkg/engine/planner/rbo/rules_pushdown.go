package rbo

import (
	"slices"

	"github.com/sealdb/sealdb/pkg/engine/expr"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
	"github.com/sealdb/sealdb/pkg/engine/planner/logical"
)

// subqueryFlattening inlines a derived table that only renames a scan: an
// alias over a projection of plain columns (keeping their names) over
// filters over a scan becomes the filtered scan under the alias.
type subqueryFlattening struct{}

func (subqueryFlattening) Name() string { return "SubqueryFlattening" }

func (subqueryFlattening) Apply(root logical.Node) (logical.Node, error) {
	return transformUp(root, func(n logical.Node) logical.Node {
		sa, ok := n.(*logical.SubqueryAlias)
		if !ok {
			return n
		}
		if flat, ok := flattenSubquery(sa); ok {
			return flat
		}
		return n
	}), nil
}

func flattenSubquery(sa *logical.SubqueryAlias) (logical.Node, bool) {
	child := sa.Child
	proj, hasProj := child.(*logical.Project)
	if hasProj {
		child = proj.Child
	}

	var conds []expr.Expr
	for {
		f, ok := child.(*logical.Filter)
		if !ok {
			break
		}
		conds = append(conds, f.Condition)
		child = f.Child
	}
	scan, ok := child.(*logical.Scan)
	if !ok {
		return nil, false
	}

	flat := *scan
	flat.Alias = sa.Alias
	if hasProj {
		cols, ok := preservedColumns(proj, scan)
		if !ok {
			return nil, false
		}
		// Filters below the projection must not need the columns it drops.
		for _, c := range conds {
			names, ok := resolveColumns(c, scan.Schema())
			if !ok {
				return nil, false
			}
			for _, name := range names {
				if _, col := logical.SplitQualified(name); !slices.Contains(cols, col) {
					return nil, false
				}
			}
		}
		flat.Columns = cols
	}

	var out logical.Node = &flat
	for i := len(conds) - 1; i >= 0; i-- {
		out = &logical.Filter{Condition: requalify(conds[i], scan.Alias, sa.Alias), Child: out}
	}
	return out, true
}

// preservedColumns returns the scan columns proj selects, if every projected
// expression is a distinct plain column of scan output under its own name.
func preservedColumns(proj *logical.Project, scan *logical.Scan) ([]string, bool) {
	schema := scan.Schema()
	cols := make([]string, 0, len(proj.Columns))
	for _, c := range proj.Columns {
		col, ok := c.Expr.(*expr.Column)
		if !ok {
			return nil, false
		}
		idx, err := logical.ColumnIndex(schema, col.Name)
		if err != nil {
			return nil, false
		}
		name := scan.Columns[idx]
		if name != c.Name || slices.Contains(cols, name) {
			return nil, false
		}
		cols = append(cols, name)
	}
	return cols, true
}

// predicatePushdown moves the conjuncts of filters as close to the scans as
// they can go: through projections, sorts, distincts and derived tables,
// below the grouping of an aggregate when they only use group keys, and
// into the side of a join they reference. Conjuncts that compare a scan
// column with literals become scan filters.
type predicatePushdown struct{}

func (predicatePushdown) Name() string { return "PredicatePushdown" }

func (predicatePushdown) Apply(root logical.Node) (logical.Node, error) {
	return transformUp(root, func(n logical.Node) logical.Node {
		switch n := n.(type) {
		case *logical.Filter:
			if out, changed := push(expr.SplitConjunction(n.Condition), n.Child); changed {
				return out
			}
		case *logical.Join:
			if out, changed := pushJoinCondition(n); changed {
				return out
			}
		}
		return n
	}), nil
}

func wrapFilter(conds []expr.Expr, child logical.Node) logical.Node {
	if len(conds) == 0 {
		return child
	}
	return &logical.Filter{Condition: expr.Conjoin(conds), Child: child}
}

// push returns a plan equivalent to filtering child by the conjunction of
// conds, and whether any conjunct moved.
func push(conds []expr.Expr, child logical.Node) (logical.Node, bool) {
	switch c := child.(type) {
	case *logical.Filter:
		out, _ := push(append(slices.Clone(conds), expr.SplitConjunction(c.Condition)...), c.Child)
		return out, true

	case *logical.Sort:
		out, _ := push(conds, c.Child)
		return &logical.Sort{Keys: c.Keys, Child: out}, true

	case *logical.Distinct:
		out, _ := push(conds, c.Child)
		return &logical.Distinct{Child: out}, true

	case *logical.Project:
		with := make([]expr.Expr, len(c.Columns))
		for i, col := range c.Columns {
			with[i] = col.Expr
		}
		down, keep := substituteAll(conds, c.Schema(), with)
		if len(down) == 0 {
			return wrapFilter(conds, child), false
		}
		out, _ := push(down, c.Child)
		return wrapFilter(keep, &logical.Project{Columns: c.Columns, Child: out}), true

	case *logical.SubqueryAlias:
		inner := c.Child.Schema()
		with := make([]expr.Expr, len(inner))
		for i, name := range inner {
			with[i] = expr.NewColumn(name)
		}
		down, keep := substituteAll(conds, c.Schema(), with)
		if len(down) == 0 {
			return wrapFilter(conds, child), false
		}
		out, _ := push(down, c.Child)
		return wrapFilter(keep, &logical.SubqueryAlias{Alias: c.Alias, Child: out}), true

	case *logical.Aggregate:
		return pushIntoAggregate(conds, c)

	case *logical.Join:
		return pushIntoJoin(conds, c)

	case *logical.Scan:
		var (
			filters []logical.ScanFilter
			keep    []expr.Expr
		)
		for _, cond := range conds {
			if f, ok := logical.FilterFromExpr(cond, c.Alias); ok && c.Table.ColumnIndex(f.Column) >= 0 {
				filters = append(filters, f)
				continue
			}
			keep = append(keep, cond)
		}
		if len(filters) == 0 {
			return wrapFilter(conds, child), false
		}
		s := *c
		s.Filters = append(slices.Clone(c.Filters), filters...)
		return wrapFilter(keep, &s), true
	}
	return wrapFilter(conds, child), false
}

// substituteAll rewrites the conds that resolve against schema in terms of
// with. Conjuncts without columns are never moved.
func substituteAll(conds []expr.Expr, schema []string, with []expr.Expr) (down, keep []expr.Expr) {
	for _, cond := range conds {
		if len(expr.Columns(cond)) == 0 {
			keep = append(keep, cond)
			continue
		}
		s, ok := substitute(cond, schema, with)
		if !ok {
			keep = append(keep, cond)
			continue
		}
		down = append(down, s)
	}
	return down, keep
}

func pushIntoAggregate(conds []expr.Expr, agg *logical.Aggregate) (logical.Node, bool) {
	schema := agg.Schema()
	groupKeys := schema[:len(agg.GroupBy)]
	with := make([]expr.Expr, len(schema))
	copy(with, agg.GroupBy)

	var down, keep []expr.Expr
	for _, cond := range conds {
		names, ok := resolveColumns(cond, schema)
		if !ok || len(names) == 0 || expr.ContainsAggregate(cond) {
			keep = append(keep, cond)
			continue
		}
		onKeys := true
		for _, name := range names {
			onKeys = onKeys && slices.Contains(groupKeys, name)
		}
		if !onKeys {
			keep = append(keep, cond)
			continue
		}
		s, ok := substitute(cond, schema, with)
		if !ok {
			keep = append(keep, cond)
			continue
		}
		down = append(down, s)
	}
	if len(down) == 0 {
		return wrapFilter(conds, agg), false
	}
	out, _ := push(down, agg.Child)
	return wrapFilter(keep, &logical.Aggregate{GroupBy: agg.GroupBy, Aggregates: agg.Aggregates, Child: out}), true
}

func pushIntoJoin(conds []expr.Expr, j *logical.Join) (logical.Node, bool) {
	ls, rs := j.Left.Schema(), j.Right.Schema()
	both := append(slices.Clone(ls), rs...)
	toLeftOK := j.JoinType == types.JoinTypeInner || j.JoinType == types.JoinTypeLeft
	toRightOK := j.JoinType == types.JoinTypeInner || j.JoinType == types.JoinTypeRight

	var toLeft, toRight, toJoin, keep []expr.Expr
	for _, cond := range conds {
		switch {
		case toLeftOK && logical.RefersOnly(cond, ls):
			toLeft = append(toLeft, cond)
		case toRightOK && logical.RefersOnly(cond, rs):
			toRight = append(toRight, cond)
		case j.JoinType == types.JoinTypeInner && logical.RefersOnly(cond, both):
			toJoin = append(toJoin, cond)
		default:
			keep = append(keep, cond)
		}
	}
	if len(toLeft)+len(toRight)+len(toJoin) == 0 {
		return wrapFilter(conds, j), false
	}

	out := *j
	if len(toLeft) > 0 {
		out.Left, _ = push(toLeft, j.Left)
	}
	if len(toRight) > 0 {
		out.Right, _ = push(toRight, j.Right)
	}
	if len(toJoin) > 0 {
		out.Condition = expr.Conjoin(append(expr.SplitConjunction(j.Condition), toJoin...))
	}
	return wrapFilter(keep, &out), true
}

// pushJoinCondition moves the conjuncts of a join condition that only
// reference one input into that input. Conjuncts over the preserved side of
// an outer join stay in the condition.
func pushJoinCondition(j *logical.Join) (logical.Node, bool) {
	if j.Condition == nil || j.JoinType == types.JoinTypeFull {
		return j, false
	}
	ls, rs := j.Left.Schema(), j.Right.Schema()
	toLeftOK := j.JoinType == types.JoinTypeInner || j.JoinType == types.JoinTypeRight
	toRightOK := j.JoinType == types.JoinTypeInner || j.JoinType == types.JoinTypeLeft

	var toLeft, toRight, keep []expr.Expr
	for _, cond := range expr.SplitConjunction(j.Condition) {
		switch {
		case toLeftOK && logical.RefersOnly(cond, ls):
			toLeft = append(toLeft, cond)
		case toRightOK && logical.RefersOnly(cond, rs):
			toRight = append(toRight, cond)
		default:
			keep = append(keep, cond)
		}
	}
	if len(toLeft)+len(toRight) == 0 {
		return j, false
	}

	out := *j
	out.Condition = expr.Conjoin(keep)
	if len(toLeft) > 0 {
		out.Left, _ = push(toLeft, j.Left)
	}
	if len(toRight) > 0 {
		out.Right, _ = push(toRight, j.Right)
	}
	return &out, true
}

// columnPruning narrows the columns read by scans to the ones the plan
// above them uses. Requirements start at the first projection or
// aggregation; a plan without one reads every column.
type columnPruning struct{}

func (columnPruning) Name() string { return "ColumnPruning" }

func (columnPruning) Apply(root logical.Node) (logical.Node, error) {
	return prune(root, nil), nil
}

// prune rewrites n so that it still produces the columns of its schema
// listed in req. A nil req means every column.
func prune(n logical.Node, req []string) logical.Node {
	switch n := n.(type) {
	case *logical.Scan:
		return pruneScan(n, req)

	case *logical.Project:
		var need []string
		for _, c := range n.Columns {
			names, ok := resolveColumns(c.Expr, n.Child.Schema())
			if !ok {
				return withChildren(n, prune(n.Child, nil))
			}
			need = append(need, names...)
		}
		return withChildren(n, prune(n.Child, nonNil(need)))

	case *logical.Aggregate:
		var need []string
		exprs := slices.Clone(n.GroupBy)
		for _, a := range n.Aggregates {
			exprs = append(exprs, a.Args...)
		}
		for _, e := range exprs {
			names, ok := resolveColumns(e, n.Child.Schema())
			if !ok {
				return withChildren(n, prune(n.Child, nil))
			}
			need = append(need, names...)
		}
		return withChildren(n, prune(n.Child, nonNil(need)))

	case *logical.Filter:
		return withChildren(n, prune(n.Child, extend(req, n.Child.Schema(), n.Condition)))

	case *logical.Sort:
		keys := make([]expr.Expr, len(n.Keys))
		for i, k := range n.Keys {
			keys[i] = k.Expr
		}
		return withChildren(n, prune(n.Child, extend(req, n.Child.Schema(), keys...)))

	case *logical.Limit:
		return withChildren(n, prune(n.Child, req))

	case *logical.Join:
		need := extend(req, n.Schema(), n.Condition)
		if need == nil {
			return withChildren(n, prune(n.Left, nil), prune(n.Right, nil))
		}
		ls := n.Left.Schema()
		var left, right []string
		for _, name := range need {
			if slices.Contains(ls, name) {
				left = append(left, name)
			} else {
				right = append(right, name)
			}
		}
		return withChildren(n, prune(n.Left, nonNil(left)), prune(n.Right, nonNil(right)))

	case *logical.SubqueryAlias:
		if req == nil {
			return withChildren(n, prune(n.Child, nil))
		}
		schema, inner := n.Schema(), n.Child.Schema()
		need := make([]string, 0, len(req))
		for _, name := range req {
			if idx := slices.Index(schema, name); idx >= 0 {
				need = append(need, inner[idx])
			}
		}
		return withChildren(n, prune(n.Child, need))
	}

	// Every other node needs all columns of its inputs.
	children := n.Children()
	if len(children) == 0 {
		return n
	}
	pruned := make([]logical.Node, len(children))
	for i, c := range children {
		pruned[i] = prune(c, nil)
	}
	return withChildren(n, pruned...)
}

func pruneScan(s *logical.Scan, req []string) logical.Node {
	if req == nil {
		return s
	}
	schema := s.Schema()
	var cols []string
	for i, c := range s.Columns {
		if slices.Contains(req, schema[i]) {
			cols = append(cols, c)
		}
	}
	if len(cols) == 0 {
		// Something still has to be read to count rows.
		cols = []string{s.Columns[0]}
		if pk := s.Table.PrimaryKey; slices.Contains(s.Columns, pk) {
			cols = []string{pk}
		}
	}
	if len(cols) == len(s.Columns) {
		return s
	}
	out := *s
	out.Columns = cols
	return &out
}

// extend adds the columns of exprs, resolved against schema, to req. A nil
// req stays nil.
func extend(req []string, schema []string, exprs ...expr.Expr) []string {
	if req == nil {
		return nil
	}
	out := slices.Clone(req)
	for _, e := range exprs {
		names, ok := resolveColumns(e, schema)
		if !ok {
			return nil
		}
		out = append(out, names...)
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// withChildren returns n unchanged if children are the current children.
func withChildren(n logical.Node, children ...logical.Node) logical.Node {
	current := n.Children()
	same := len(current) == len(children)
	for i := 0; same && i < len(children); i++ {
		same = current[i] == children[i]
	}
	if same {
		return n
	}
	return n.WithChildren(children...)
}
