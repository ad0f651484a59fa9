package executor

import (
	"context"

	"github.com/pkg/errors"

	"github.com/sealdb/sealdb/pkg/engine/expr"
	qerrors "github.com/sealdb/sealdb/pkg/engine/internal/errors"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
	"github.com/sealdb/sealdb/pkg/engine/planner/physical"
)

// aggState is the running state of one aggregate over one group. States of
// the same aggregate can be merged, which lets partitions be aggregated
// separately.
type aggState struct {
	fn    types.AggregateFunc
	count int64
	sum   types.Value
	best  types.Value
}

func newAggState(fn types.AggregateFunc) aggState {
	return aggState{fn: fn, sum: types.Null, best: types.Null}
}

func (s *aggState) add(v types.Value) error {
	if v.IsNull() {
		return nil
	}
	s.count++
	switch s.fn {
	case types.AggregateFuncSum, types.AggregateFuncAvg:
		if !v.IsNumeric() {
			return errors.Wrapf(types.ErrType, "%s of %s", s.fn, v.Type())
		}
		s.sum = addNumeric(s.sum, v)
	case types.AggregateFuncMin, types.AggregateFuncMax:
		if s.best.IsNull() {
			s.best = v
			return nil
		}
		cmp, err := types.Compare(v, s.best)
		if err != nil {
			return err
		}
		if (s.fn == types.AggregateFuncMin && cmp < 0) || (s.fn == types.AggregateFuncMax && cmp > 0) {
			s.best = v
		}
	}
	return nil
}

func (s *aggState) merge(o aggState) error {
	s.count += o.count
	switch s.fn {
	case types.AggregateFuncSum, types.AggregateFuncAvg:
		if !o.sum.IsNull() {
			s.sum = addNumeric(s.sum, o.sum)
		}
	case types.AggregateFuncMin, types.AggregateFuncMax:
		if !o.best.IsNull() {
			count := s.count
			err := s.add(o.best)
			s.count = count
			return err
		}
	}
	return nil
}

func (s *aggState) result() types.Value {
	switch s.fn {
	case types.AggregateFuncCount:
		return types.NewInt(s.count)
	case types.AggregateFuncSum:
		return s.sum
	case types.AggregateFuncAvg:
		if s.count == 0 {
			return types.Null
		}
		f, _ := s.sum.AsFloat()
		return types.NewFloat(f / float64(s.count))
	}
	return s.best
}

// addNumeric adds two numbers, staying integral while both are integers.
// NULL acts as zero.
func addNumeric(a, b types.Value) types.Value {
	if a.IsNull() {
		return b
	}
	if a.Type() == types.ValueTypeInt && b.Type() == types.ValueTypeInt {
		return types.NewInt(a.Int() + b.Int())
	}
	x, _ := a.AsFloat()
	y, _ := b.AsFloat()
	return types.NewFloat(x + y)
}

// aggregator computes aggregates per group, keeping groups in order of first
// appearance.
type aggregator struct {
	funcs   []types.AggregateFunc
	star    []bool
	groupEv *evaluator
	argEv   *evaluator
	grouped bool

	groups *tupleSet
	states [][]aggState
	res    *reservation
}

func newAggregator(schema []string, groupBy []expr.Expr, aggs []*expr.Function, res *reservation) (*aggregator, error) {
	a := &aggregator{
		funcs:   make([]types.AggregateFunc, len(aggs)),
		star:    make([]bool, len(aggs)),
		grouped: len(groupBy) > 0,
		groups:  newTupleSet(0),
		res:     res,
	}
	args := make([]expr.Expr, len(aggs))
	for i, f := range aggs {
		fn, ok := types.ParseAggregateFunc(f.Name)
		if !ok || len(f.Args) != 1 {
			return nil, qerrors.Newf(qerrors.KindExecution, "invalid aggregate %s", f)
		}
		a.funcs[i] = fn
		args[i] = f.Args[0]
		if col, ok := f.Args[0].(*expr.Column); ok && col.Name == expr.Star {
			a.star[i] = true
			args[i] = expr.Bool(true)
		}
	}
	a.groupEv = newEvaluator(schema, groupBy)
	a.argEv = newEvaluator(schema, args)
	return a, nil
}

func (a *aggregator) newStates() []aggState {
	states := make([]aggState, len(a.funcs))
	for i, fn := range a.funcs {
		states[i] = newAggState(fn)
	}
	return states
}

// group returns the states of key, creating the group when needed.
func (a *aggregator) group(key []types.Value) ([]aggState, error) {
	id, added := a.groups.insert(key)
	if added {
		if err := a.res.grow(rowSize(key) + uint64(len(a.funcs)*rowOverhead*3)); err != nil {
			return nil, err
		}
		a.states = append(a.states, a.newStates())
	}
	return a.states[id], nil
}

func (a *aggregator) add(row []types.Value) error {
	key, err := a.groupEv.eval(row)
	if err != nil {
		return qerrors.New(qerrors.KindExecution, err)
	}
	states, err := a.group(key)
	if err != nil {
		return err
	}
	return a.update(states, row)
}

func (a *aggregator) update(states []aggState, row []types.Value) error {
	args, err := a.argEv.eval(row)
	if err != nil {
		return qerrors.New(qerrors.KindExecution, err)
	}
	for i := range states {
		if a.star[i] {
			states[i].count++
			continue
		}
		if err := states[i].add(args[i]); err != nil {
			return qerrors.New(qerrors.KindExecution, err)
		}
	}
	return nil
}

// merge folds the groups of o into a. Groups new to a are appended in the
// order o first saw them.
func (a *aggregator) merge(o *aggregator) error {
	for id, key := range o.groups.tuples {
		states, err := a.group(key)
		if err != nil {
			return err
		}
		for i := range states {
			if err := states[i].merge(o.states[id][i]); err != nil {
				return qerrors.New(qerrors.KindExecution, err)
			}
		}
	}
	return nil
}

// rows returns one row per group: the group key followed by the aggregates.
// Without GROUP BY exactly one row is returned, even for an empty input.
func (a *aggregator) rows() [][]types.Value {
	if !a.grouped && a.groups.len() == 0 {
		return [][]types.Value{resultRow(nil, a.newStates())}
	}
	out := make([][]types.Value, a.groups.len())
	for id, key := range a.groups.tuples {
		out[id] = resultRow(key, a.states[id])
	}
	return out
}

func resultRow(key []types.Value, states []aggState) []types.Value {
	row := make([]types.Value, 0, len(key)+len(states))
	row = append(row, key...)
	for i := range states {
		row = append(row, states[i].result())
	}
	return row
}

func (c *Context) executeAggregate(n *physical.Aggregate, input Operator) Operator {
	res := c.reservation()
	agg, err := newAggregator(n.Child.Schema(), n.GroupBy, n.Aggregates, res)
	if err != nil {
		return errorOperator(context.Background(), err)
	}

	var op *genericOperator
	if n.Strategy == physical.AggregateGroup {
		op = newGroupAggregate(agg, n.Schema(), c.cfg.BatchSize, input)
	} else {
		var e *emitter
		op = newGenericOperator(func(ctx context.Context, inputs []Operator) (Batch, error) {
			if e == nil {
				if err := forEachRow(ctx, inputs[0], agg.add); err != nil {
					return Batch{}, err
				}
				e = &emitter{columns: n.Schema(), rows: agg.rows(), size: c.cfg.BatchSize}
			}
			return e.next()
		}, input)
	}
	op.close = res.release
	return op
}

// newGroupAggregate aggregates an input sorted on the group keys, emitting
// each group as soon as the next one starts.
func newGroupAggregate(agg *aggregator, columns []string, size int, input Operator) *genericOperator {
	var (
		key    []types.Value
		states []aggState
		done   bool
		seen   bool
	)
	return newGenericOperator(func(ctx context.Context, inputs []Operator) (Batch, error) {
		if done {
			return Batch{}, EOF
		}
		var out [][]types.Value
		for len(out) < size {
			batch, err := inputs[0].Read(ctx)
			if errors.Is(err, EOF) {
				done = true
				switch {
				case seen:
					out = append(out, resultRow(key, states))
				case !agg.grouped:
					out = append(out, resultRow(nil, agg.newStates()))
				}
				break
			} else if err != nil {
				return Batch{}, err
			}
			for _, row := range batch.Rows {
				k, err := agg.groupEv.eval(row)
				if err != nil {
					return Batch{}, qerrors.New(qerrors.KindExecution, err)
				}
				if !seen || !tuplesEqual(k, key) {
					if seen {
						out = append(out, resultRow(key, states))
					}
					key, states, seen = k, agg.newStates(), true
				}
				if err := agg.update(states, row); err != nil {
					return Batch{}, err
				}
			}
		}
		if len(out) == 0 {
			return Batch{}, EOF
		}
		return Batch{Columns: columns, Rows: out}, nil
	}, input)
}
