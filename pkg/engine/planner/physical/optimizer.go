package physical

import (
	"context"
	"math"
	"slices"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sealdb/sealdb/pkg/engine/catalog"
	"github.com/sealdb/sealdb/pkg/engine/expr"
	qerrors "github.com/sealdb/sealdb/pkg/engine/internal/errors"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
	"github.com/sealdb/sealdb/pkg/engine/planner/cost"
	"github.com/sealdb/sealdb/pkg/engine/planner/logical"
	"github.com/sealdb/sealdb/pkg/engine/planner/stats"
)

var tracer = otel.Tracer("pkg/engine/planner/physical")

// indexEntriesPerPage is the number of index entries assumed to fit in one
// page when the index was never analyzed.
const indexEntriesPerPage = 300

// StatsProvider supplies the statistics used to plan one query.
type StatsProvider interface {
	Snapshot() *stats.Snapshot
}

// Optimizer converts logical plans into the cheapest physical plan it can
// find.
//
// Alternatives are enumerated in a fixed order and an alternative replaces
// the current best one only if it is strictly cheaper, so planning the same
// query with the same statistics always yields the same plan.
type Optimizer struct {
	cfg     Config
	stats   StatsProvider
	logger  log.Logger
	metrics *metrics
}

func NewOptimizer(cfg Config, stats StatsProvider, logger log.Logger) *Optimizer {
	return &Optimizer{cfg: cfg, stats: stats, logger: logger, metrics: newMetrics()}
}

// Register registers the optimizer metrics to reg.
func (o *Optimizer) Register(reg prometheus.Registerer) error { return o.metrics.Register(reg) }

// Unregister unregisters the optimizer metrics from reg.
func (o *Optimizer) Unregister(reg prometheus.Registerer) { o.metrics.Unregister(reg) }

// Optimize returns the physical plan of plan. Tables without statistics are
// planned with defaults and reported in [Plan.Warnings].
func (o *Optimizer) Optimize(ctx context.Context, plan *logical.QueryPlan) (*Plan, error) {
	ctx, span := tracer.Start(ctx, "cbo.Optimize")
	defer span.End()

	out, err := o.optimize(ctx, plan)
	if err != nil {
		o.metrics.optimizations.WithLabelValues("error").Inc()
		span.RecordError(err)
		kind := qerrors.KindOptimization
		if k := qerrors.KindOf(err); k == qerrors.KindCancelled || k == qerrors.KindResource {
			kind = k
		}
		return nil, qerrors.New(kind, err)
	}

	total := out.Cost().Total
	o.metrics.optimizations.WithLabelValues("success").Inc()
	o.metrics.planCost.Observe(total)
	span.SetAttributes(attribute.Float64("cost", total))
	return out, nil
}

func (o *Optimizer) optimize(ctx context.Context, plan *logical.QueryPlan) (*Plan, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	snap := &stats.Snapshot{}
	if o.stats != nil {
		snap = o.stats.Snapshot()
	}
	p := &planner{
		ctx:   ctx,
		cfg:   &o.cfg,
		model: &o.cfg.Cost,
		snap:  snap,
		seen:  map[string]bool{},
	}

	root, err := p.plan(plan.Root, 0)
	o.metrics.plansConsidered.Add(float64(p.considered))
	if err != nil {
		return nil, err
	}

	out := &Plan{Root: root}
	if len(p.missing) > 0 {
		o.metrics.missingStats.Add(float64(len(p.missing)))
		level.Warn(o.logger).Log("msg", "no statistics for tables, using defaults", "tables", strings.Join(p.missing, ","))
		for _, t := range p.missing {
			out.Warnings = append(out.Warnings, "no statistics for table "+t)
		}
	}
	level.Debug(o.logger).Log("msg", "chose physical plan", "cost", root.Cost().Total, "rows", root.Cost().Rows, "considered", p.considered)
	return out, nil
}

// planner holds the state of planning a single query.
type planner struct {
	ctx   context.Context
	cfg   *Config
	model *cost.Model
	snap  *stats.Snapshot

	missing    []string
	seen       map[string]bool
	considered int
}

// choose returns the cheapest candidate. Nil candidates are skipped and on
// ties the earlier candidate wins.
func (p *planner) choose(candidates ...Node) Node {
	var best Node
	for _, c := range candidates {
		if c == nil {
			continue
		}
		p.considered++
		if best == nil || c.Cost().Less(best.Cost()) {
			best = c
		}
	}
	return best
}

func (p *planner) tableStats(t *catalog.Table) *stats.TableStats {
	if ts, ok := p.snap.Table(t.Name); ok {
		return ts
	}
	if !p.seen[t.Name] {
		p.seen[t.Name] = true
		p.missing = append(p.missing, t.Name)
	}
	d := stats.DefaultTableStats()
	return &d
}

func relation(ts *stats.TableStats) cost.Relation {
	rel := cost.Relation{
		Rows:  float64(ts.RowCount),
		Pages: float64(ts.PageCount),
		Width: ts.AvgRowSize,
	}
	if rel.Pages == 0 {
		rel.Pages = cost.Pages(rel.Rows)
	}
	if rel.Width == 0 {
		rel.Width = stats.DefaultAvgRowSize
	}
	return rel
}

// plan converts n. limit is the number of rows the parent needs from n, or
// zero when it needs all of them.
func (p *planner) plan(n logical.Node, limit uint64) (Node, error) {
	if err := p.ctx.Err(); err != nil {
		return nil, err
	}

	switch n := n.(type) {
	case *logical.Scan:
		return p.planScan(n), nil

	case *logical.Filter:
		child, err := p.plan(n.Child, 0)
		if err != nil {
			return nil, err
		}
		return p.chain(child, func(c Node) Node { return p.filter(n.Condition, c) }), nil

	case *logical.Project:
		child, err := p.plan(n.Child, limit)
		if err != nil {
			return nil, err
		}
		return p.chain(child, func(c Node) Node { return p.project(n.Columns, c) }), nil

	case *logical.SubqueryAlias:
		child, err := p.plan(n.Child, limit)
		if err != nil {
			return nil, err
		}
		in, out := n.Child.Schema(), n.Schema()
		cols := make([]logical.NamedExpr, len(in))
		for i := range in {
			cols[i] = logical.NamedExpr{Expr: expr.NewColumn(in[i]), Name: out[i]}
		}
		return p.chain(child, func(c Node) Node { return p.project(cols, c) }), nil

	case *logical.Join:
		return p.planJoin(n)

	case *logical.Aggregate:
		child, err := p.plan(n.Child, 0)
		if err != nil {
			return nil, err
		}
		return p.planAggregate(n, child), nil

	case *logical.Sort:
		child, err := p.plan(n.Child, 0)
		if err != nil {
			return nil, err
		}
		return p.planSort(child, n.Keys, limit, true), nil

	case *logical.Limit:
		var need uint64
		if n.Fetch != logical.NoFetch && n.Fetch > 0 {
			need = n.Skip + n.Fetch
			if need < n.Skip {
				need = 0
			}
		}
		child, err := p.plan(n.Child, need)
		if err != nil {
			return nil, err
		}
		fetch := math.Inf(1)
		if n.Fetch != logical.NoFetch {
			fetch = float64(n.Fetch)
		}
		est := p.model.Limit(child.Cost(), float64(n.Skip), fetch)
		return &Limit{Estimated: Estimated{est}, Skip: n.Skip, Fetch: n.Fetch, Child: child}, nil

	case *logical.Distinct:
		child, err := p.plan(n.Child, 0)
		if err != nil {
			return nil, err
		}
		in := child.Cost()
		est := p.model.Distinct(in, in.Rows, len(child.Schema()))
		return &Distinct{Estimated: Estimated{est}, Child: child}, nil

	case *logical.SetOp:
		left, err := p.plan(n.Left, 0)
		if err != nil {
			return nil, err
		}
		right, err := p.plan(n.Right, 0)
		if err != nil {
			return nil, err
		}
		est := p.model.SetOp(left.Cost(), right.Cost(), n.Kind, n.All)
		return &SetOp{Estimated: Estimated{est}, Kind: n.Kind, All: n.All, Left: left, Right: right}, nil

	case *logical.Values:
		est := p.model.Values(len(n.Rows), valueWidth*float64(len(n.Columns)))
		return &Values{Estimated: Estimated{est}, Columns: n.Columns, Rows: n.Rows}, nil

	case *logical.Insert:
		src, err := p.plan(n.Source, 0)
		if err != nil {
			return nil, err
		}
		est := p.model.Write(src.Cost(), len(n.Table.Indexes))
		return &Insert{Estimated: Estimated{est}, Table: n.Table, Columns: n.Columns, Source: src}, nil

	case *logical.Update:
		child, err := p.plan(n.Child, 0)
		if err != nil {
			return nil, err
		}
		est := p.model.Write(child.Cost(), len(n.Table.Indexes))
		return &Update{Estimated: Estimated{est}, Table: n.Table, Set: n.Set, Child: child}, nil

	case *logical.Delete:
		child, err := p.plan(n.Child, 0)
		if err != nil {
			return nil, err
		}
		est := p.model.Write(child.Cost(), len(n.Table.Indexes))
		return &Delete{Estimated: Estimated{est}, Table: n.Table, Child: child}, nil

	case *logical.CreateTable:
		return &CreateTable{Table: n.Table, IfNotExists: n.IfNotExists}, nil
	case *logical.CreateIndex:
		return &CreateIndex{Table: n.Table, Index: n.Index}, nil
	case *logical.DropTable:
		return &DropTable{Name: n.Name, IfExists: n.IfExists}, nil
	}
	return nil, errors.Errorf("unsupported logical node %s", n.Type())
}

// valueWidth is the width assumed for a computed column.
const valueWidth = 8

func (p *planner) filter(cond expr.Expr, child Node) *Filter {
	est := p.model.Filter(child.Cost(), p.model.PredicateSelectivity(cond), len(expr.SplitConjunction(cond)))
	return &Filter{Estimated: Estimated{est}, Condition: cond, Child: child}
}

func (p *planner) project(cols []logical.NamedExpr, child Node) *Project {
	in := child.Cost()
	width := in.Width
	if n := len(child.Schema()); n > 0 {
		width = in.Width * float64(len(cols)) / float64(n)
	}
	est := p.model.Project(in, len(cols), width)
	return &Project{Estimated: Estimated{est}, Columns: cols, Child: child}
}

func (p *planner) considerParallel(rows float64) bool {
	return p.cfg.EnableParallelization && p.cfg.ParallelWorkers > 1 && rows > float64(p.cfg.ParallelRowThreshold)
}

func (p *planner) parallel(n Node) *Parallel {
	est := p.model.Parallel(n.Cost(), p.cfg.ParallelWorkers)
	return &Parallel{Estimated: Estimated{est}, Workers: p.cfg.ParallelWorkers, Child: n}
}

// chain builds a streaming node over child, and a parallel variant of it
// when child is a large scan pipeline.
func (p *planner) chain(child Node, build func(Node) Node) Node {
	serial := build(child)
	if !p.considerParallel(child.Cost().Rows) {
		return serial
	}
	inner := build(serialOf(child))
	if !pipeline(inner) {
		return serial
	}
	return p.choose(serial, p.parallel(inner))
}

// serialOf strips a parallel wrapper off n.
func serialOf(n Node) Node {
	if par, ok := n.(*Parallel); ok {
		return par.Child
	}
	return n
}

// pipeline reports whether n is a chain of filters and projections over a
// scan, which can run on partitions of the scan's rows.
func pipeline(n Node) bool {
	switch n := n.(type) {
	case *Scan:
		return true
	case *Filter:
		return pipeline(n.Child)
	case *Project:
		return pipeline(n.Child)
	}
	return false
}

func (p *planner) planScan(s *logical.Scan) Node {
	ts := p.tableStats(s.Table)
	rel := relation(ts)

	sels := make([]float64, len(s.Filters))
	for i, f := range s.Filters {
		sels[i] = p.model.FilterSelectivity(f.Op)
	}
	sel := cost.ConjunctionSelectivity(sels...)
	nf := len(s.Filters)

	scan := func(m ScanMethod, est cost.Estimate) *Scan {
		if s.Limit > 0 {
			est = p.model.Limit(est, 0, float64(s.Limit))
		}
		return &Scan{
			Estimated: Estimated{est},
			Method:    m,
			Table:     s.Table,
			Alias:     s.Alias,
			Columns:   s.Columns,
			Filters:   s.Filters,
			Limit:     s.Limit,
		}
	}

	candidates := []Node{scan(ScanMethodSeq, p.model.SeqScan(rel, sel, nf))}
	if p.cfg.EnableIndexSelection {
		paths := p.indexPaths(s, ts, rel)
		for _, ip := range paths {
			c := scan(ScanMethodIndex, p.model.IndexScan(rel, ip.pages, ip.sel, sel, nf))
			c.Indexes, c.IndexFilters = []string{ip.index}, []logical.ScanFilter{ip.filter}
			candidates = append(candidates, c)
		}
		if keys := primaryKeys(s); len(keys) > 0 {
			c := scan(ScanMethodBatch, p.model.BatchScan(rel, len(keys), nf))
			c.Keys = keys
			candidates = append(candidates, c)
		}
		if len(paths) >= 2 {
			pages, isels := make([]float64, len(paths)), make([]float64, len(paths))
			for i, ip := range paths {
				pages[i], isels[i] = ip.pages, ip.sel
			}
			c := scan(ScanMethodBitmap, p.model.BitmapScan(rel, pages, isels, sel, nf))
			for _, ip := range paths {
				c.Indexes = append(c.Indexes, ip.index)
				c.IndexFilters = append(c.IndexFilters, ip.filter)
			}
			candidates = append(candidates, c)
		}
	}

	best := p.choose(candidates...)
	if !p.considerParallel(rel.Rows) {
		return best
	}
	return p.choose(best, p.parallel(best))
}

type indexPath struct {
	index  string
	filter logical.ScanFilter
	sel    float64
	pages  float64
}

// indexPaths lists the secondary indexes that can serve an equality or
// range filter of s, at most one filter per index. The index chosen by the
// logical optimizer comes first.
func (p *planner) indexPaths(s *logical.Scan, ts *stats.TableStats, rel cost.Relation) []indexPath {
	var paths []indexPath
	for _, f := range s.Filters {
		if f.Op != types.FilterOpEqual && !f.Op.IsRange() {
			continue
		}
		idx, ok := s.Table.IndexOn(f.Column)
		if !ok || slices.ContainsFunc(paths, func(ip indexPath) bool { return ip.index == idx.Name }) {
			continue
		}
		ip := indexPath{
			index:  idx.Name,
			filter: f,
			sel:    p.model.FilterSelectivity(f.Op),
			pages:  math.Ceil(rel.Rows / indexEntriesPerPage),
		}
		if is, ok := ts.Index(idx.Name); ok {
			if f.Op == types.FilterOpEqual && is.Selectivity > 0 {
				ip.sel = is.Selectivity
			}
			if is.PageCount > 0 {
				ip.pages = float64(is.PageCount)
			}
		}
		paths = append(paths, ip)
	}
	slices.SortStableFunc(paths, func(a, b indexPath) int {
		switch {
		case a.index == s.Index && b.index != s.Index:
			return -1
		case b.index == s.Index && a.index != s.Index:
			return 1
		}
		return 0
	})
	return paths
}

// primaryKeys returns the distinct keys of the first equality or IN filter
// on the primary key of s.
func primaryKeys(s *logical.Scan) []types.Value {
	for _, f := range s.Filters {
		if !s.Table.IsPrimaryKey(f.Column) || (f.Op != types.FilterOpEqual && f.Op != types.FilterOpIn) {
			continue
		}
		var keys []types.Value
		for _, v := range f.Values {
			if !slices.ContainsFunc(keys, v.Equal) {
				keys = append(keys, v)
			}
		}
		return keys
	}
	return nil
}

func (p *planner) planAggregate(n *logical.Aggregate, child Node) Node {
	in := child.Cost()
	groups := 1.0
	if len(n.GroupBy) > 0 {
		groups = math.Max(1, math.Min(in.Rows, in.Rows*p.model.Selectivity.Equal))
	}
	width := valueWidth * float64(len(n.GroupBy)+len(n.Aggregates))

	hash := func(c Node) *Aggregate {
		est := p.model.HashAggregate(c.Cost(), groups, len(n.GroupBy), len(n.Aggregates), width)
		return &Aggregate{Estimated: Estimated{est}, Strategy: AggregateHash, GroupBy: n.GroupBy, Aggregates: n.Aggregates, Child: c}
	}

	candidates := []Node{hash(child)}
	if p.cfg.EnableAggregationOptimization && len(n.GroupBy) > 0 {
		sorted := p.planSort(child, ascending(n.GroupBy), 0, false)
		est := p.model.GroupAggregate(sorted.Cost(), groups, len(n.GroupBy), len(n.Aggregates), width)
		candidates = append(candidates, &Aggregate{Estimated: Estimated{est}, Strategy: AggregateGroup, GroupBy: n.GroupBy, Aggregates: n.Aggregates, Child: sorted})
	}
	if p.considerParallel(in.Rows) && pipeline(serialOf(child)) {
		candidates = append(candidates, p.parallel(hash(serialOf(child))))
	}
	return p.choose(candidates...)
}

func ascending(exprs []expr.Expr) []logical.SortKey {
	keys := make([]logical.SortKey, len(exprs))
	for i, e := range exprs {
		keys[i] = logical.SortKey{Expr: e, Order: types.SortOrderAsc}
	}
	return keys
}

func (p *planner) sortEstimate(s SortStrategy, in cost.Estimate, keys int, n uint64) cost.Estimate {
	switch s {
	case SortExternal:
		return p.model.ExternalSort(in, keys, float64(p.cfg.SortMemory.Bytes()))
	case SortTopN:
		return p.model.TopN(in, keys, float64(n))
	}
	return p.model.Sort(in, keys)
}

// planSort orders child by keys. limit is the number of leading rows the
// parent needs, zero for all.
func (p *planner) planSort(child Node, keys []logical.SortKey, limit uint64, allowParallel bool) Node {
	in := child.Cost()
	budget := float64(p.cfg.SortMemory.Bytes())

	sort := func(s SortStrategy, c Node) *Sort {
		out := &Sort{
			Estimated: Estimated{p.sortEstimate(s, c.Cost(), len(keys), limit)},
			Strategy:  s,
			Keys:      keys,
			Child:     c,
		}
		switch s {
		case SortTopN:
			out.N = limit
		case SortExternal:
			out.MemoryBytes = p.cfg.SortMemory.Bytes()
		}
		return out
	}

	var candidates []Node
	if in.Rows*in.Width <= budget || !p.cfg.EnableSortOptimization {
		candidates = append(candidates, sort(SortInMemory, child))
	}
	if p.cfg.EnableSortOptimization {
		candidates = append(candidates, sort(SortExternal, child))
		if limit > 0 {
			candidates = append(candidates, sort(SortTopN, child))
		}
	}
	best := p.choose(candidates...).(*Sort)

	if allowParallel && p.considerParallel(in.Rows) && pipeline(serialOf(child)) {
		return p.choose(best, p.parallel(sort(best.Strategy, serialOf(child))))
	}
	return best
}

func (p *planner) planJoin(j *logical.Join) (Node, error) {
	if j.JoinType == types.JoinTypeInner && p.cfg.EnableJoinReorder {
		var (
			leaves []logical.Node
			conds  []expr.Expr
		)
		flattenInner(j, &leaves, &conds)
		if len(leaves) <= p.cfg.MaxJoinReorderTables {
			return p.reorderJoins(j.Schema(), leaves, conds)
		}
	}

	left, err := p.plan(j.Left, 0)
	if err != nil {
		return nil, err
	}
	right, err := p.plan(j.Right, 0)
	if err != nil {
		return nil, err
	}
	return p.join(left, right, j.Condition, j.JoinType), nil
}

// flattenInner collects the inputs and the condition conjuncts of a tree of
// inner joins.
func flattenInner(n logical.Node, leaves *[]logical.Node, conds *[]expr.Expr) {
	j, ok := n.(*logical.Join)
	if !ok || j.JoinType != types.JoinTypeInner {
		*leaves = append(*leaves, n)
		return
	}
	flattenInner(j.Left, leaves, conds)
	flattenInner(j.Right, leaves, conds)
	*conds = append(*conds, expr.SplitConjunction(j.Condition)...)
}

// reorderJoins prices left-deep join trees over the permutations of inputs,
// in lexicographic order, up to MaxPlansPerGroup of them. Plans that change
// the column order are topped with a projection restoring schema.
func (p *planner) reorderJoins(schema []string, leaves []logical.Node, conds []expr.Expr) (Node, error) {
	inputs := make([]Node, len(leaves))
	for i, l := range leaves {
		in, err := p.plan(l, 0)
		if err != nil {
			return nil, err
		}
		inputs[i] = in
	}

	var (
		best  Node
		count int
	)
	permute(len(inputs), func(perm []int) bool {
		n := p.leftDeep(inputs, perm, conds)
		if !identity(perm) {
			cols := make([]logical.NamedExpr, len(schema))
			for i, name := range schema {
				cols[i] = logical.NamedExpr{Expr: expr.NewColumn(name), Name: name}
			}
			// Reordering columns does no per-row work.
			n = &Project{Estimated: Estimated{n.Cost()}, Columns: cols, Child: n}
		}
		best = p.choose(best, n)
		count++
		return count < p.cfg.MaxPlansPerGroup
	})
	return best, nil
}

func (p *planner) leftDeep(inputs []Node, perm []int, conds []expr.Expr) Node {
	acc := inputs[perm[0]]
	pending := conds
	for i := 1; i < len(perm); i++ {
		right := inputs[perm[i]]
		schema := append(slices.Clone(acc.Schema()), right.Schema()...)
		last := i == len(perm)-1

		var here, rest []expr.Expr
		for _, c := range pending {
			if last || logical.CheckColumns(c, schema) == nil {
				here = append(here, c)
			} else {
				rest = append(rest, c)
			}
		}
		pending = rest
		acc = p.join(acc, right, expr.Conjoin(here), types.JoinTypeInner)
	}
	return acc
}

// permute calls fn with every permutation of [0, n) in lexicographic order
// until fn returns false. fn must not retain perm.
func permute(n int, fn func(perm []int) bool) {
	perm := make([]int, 0, n)
	used := make([]bool, n)
	var rec func() bool
	rec = func() bool {
		if len(perm) == n {
			return fn(perm)
		}
		for i := range n {
			if used[i] {
				continue
			}
			used[i] = true
			perm = append(perm, i)
			ok := rec()
			perm = perm[:len(perm)-1]
			used[i] = false
			if !ok {
				return false
			}
		}
		return true
	}
	rec()
}

func identity(perm []int) bool {
	for i, v := range perm {
		if i != v {
			return false
		}
	}
	return true
}

// join picks the cheapest algorithm to join left and right.
func (p *planner) join(left, right Node, cond expr.Expr, typ types.JoinType) Node {
	sel := p.joinSelectivity(cond)
	lk, rk := equiKeys(cond, left.Schema(), right.Schema())

	nl := &Join{
		Estimated: Estimated{p.model.NestedLoopJoin(left.Cost(), right.Cost(), sel, typ)},
		Algorithm: JoinNestedLoop,
		JoinType:  typ,
		Condition: cond,
		Left:      left,
		Right:     right,
	}
	candidates := []Node{nl}
	if len(lk) > 0 {
		candidates = append(candidates, &Join{
			Estimated: Estimated{p.model.HashJoin(left.Cost(), right.Cost(), sel, typ, len(lk))},
			Algorithm: JoinHash,
			JoinType:  typ,
			Condition: cond,
			LeftKeys:  lk,
			RightKeys: rk,
			Left:      left,
			Right:     right,
		})
		if typ == types.JoinTypeInner {
			ls := p.planSort(left, ascending(lk), 0, false)
			rs := p.planSort(right, ascending(rk), 0, false)
			candidates = append(candidates, &Join{
				Estimated: Estimated{p.model.MergeJoin(ls.Cost(), rs.Cost(), sel, typ, len(lk))},
				Algorithm: JoinMerge,
				JoinType:  typ,
				Condition: cond,
				LeftKeys:  lk,
				RightKeys: rk,
				Left:      ls,
				Right:     rs,
			})
		}
	}
	return p.choose(candidates...)
}

// joinSelectivity multiplies the selectivities of the conjuncts of cond.
func (p *planner) joinSelectivity(cond expr.Expr) float64 {
	if cond == nil {
		return 1
	}
	conj := expr.SplitConjunction(cond)
	sels := make([]float64, len(conj))
	for i, c := range conj {
		sels[i] = p.model.JoinSelectivity(c)
	}
	return cost.ConjunctionSelectivity(sels...)
}

// equiKeys extracts the `left = right` conjuncts of cond whose sides each
// refer to one input only.
func equiKeys(cond expr.Expr, ls, rs []string) (left, right []expr.Expr) {
	for _, c := range expr.SplitConjunction(cond) {
		bin, ok := c.(*expr.BinaryOp)
		if !ok || bin.Op != types.BinOpKindEq {
			continue
		}
		switch {
		case logical.RefersOnly(bin.Left, ls) && logical.RefersOnly(bin.Right, rs):
			left, right = append(left, bin.Left), append(right, bin.Right)
		case logical.RefersOnly(bin.Left, rs) && logical.RefersOnly(bin.Right, ls):
			left, right = append(left, bin.Right), append(right, bin.Left)
		}
	}
	return left, right
}
