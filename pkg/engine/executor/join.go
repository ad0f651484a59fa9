package executor

import (
	"context"
	"encoding/binary"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/dolthub/swiss"

	"github.com/sealdb/sealdb/pkg/engine/expr"
	qerrors "github.com/sealdb/sealdb/pkg/engine/internal/errors"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
	"github.com/sealdb/sealdb/pkg/engine/planner/physical"
)

func (c *Context) executeJoin(n *physical.Join, left, right Operator) Operator {
	j := &joiner{
		ctx:       c,
		typ:       n.JoinType,
		leftCols:  n.Left.Schema(),
		rightCols: n.Right.Schema(),
		res:       c.reservation(),
	}
	j.columns = append(append([]string{}, j.leftCols...), j.rightCols...)
	j.cond = newPredicate(j.columns, n.Condition)

	var run func(ctx context.Context, left, right Operator) ([][]types.Value, error)
	switch n.Algorithm {
	case physical.JoinNestedLoop:
		run = j.nestedLoop
	case physical.JoinHash:
		j.leftKeys, j.rightKeys = n.LeftKeys, n.RightKeys
		run = j.hash
	case physical.JoinMerge:
		j.leftKeys, j.rightKeys = n.LeftKeys, n.RightKeys
		run = j.merge
	default:
		return errorOperator(context.Background(), unexpectedNode(n.Algorithm))
	}

	var e *emitter
	op := newGenericOperator(func(ctx context.Context, inputs []Operator) (Batch, error) {
		if e == nil {
			rows, err := run(ctx, inputs[0], inputs[1])
			if err != nil {
				return Batch{}, err
			}
			e = &emitter{columns: j.columns, rows: rows, size: c.cfg.BatchSize}
		}
		return e.next()
	}, left, right)
	op.close = j.res.release
	return op
}

// joiner holds the state shared by the join algorithms.
type joiner struct {
	ctx                 *Context
	typ                 types.JoinType
	columns             []string
	leftCols, rightCols []string
	leftKeys, rightKeys []expr.Expr
	cond                *predicate
	res                 *reservation
}

func (j *joiner) combine(l, r []types.Value) []types.Value {
	out := make([]types.Value, 0, len(j.leftCols)+len(j.rightCols))
	if l == nil {
		l = nulls(len(j.leftCols))
	}
	if r == nil {
		r = nulls(len(j.rightCols))
	}
	return append(append(out, l...), r...)
}

func nulls(n int) []types.Value {
	row := make([]types.Value, n)
	for i := range row {
		row[i] = types.Null
	}
	return row
}

func (j *joiner) keepLeft() bool {
	return j.typ == types.JoinTypeLeft || j.typ == types.JoinTypeFull
}

func (j *joiner) keepRight() bool {
	return j.typ == types.JoinTypeRight || j.typ == types.JoinTypeFull
}

// match evaluates the join condition on a pair of rows and returns the
// combined row when it holds.
func (j *joiner) match(l, r []types.Value) ([]types.Value, error) {
	row := j.combine(l, r)
	ok, err := j.cond.match(row)
	if err != nil {
		return nil, qerrors.New(qerrors.KindExecution, err)
	}
	if !ok {
		return nil, nil
	}
	return row, nil
}

// materialize reads every row of op and accounts their memory.
func (j *joiner) materialize(ctx context.Context, op Operator) ([][]types.Value, error) {
	rows, err := readAll(ctx, op)
	if err != nil {
		return nil, err
	}
	return rows, j.res.grow(rowsSize(rows))
}

// emitUnmatchedRight appends the right rows no left row matched, padded
// with NULLs.
func (j *joiner) emitUnmatchedRight(out [][]types.Value, right [][]types.Value, matched []bool) [][]types.Value {
	if !j.keepRight() {
		return out
	}
	for i, r := range right {
		if !matched[i] {
			out = append(out, j.combine(nil, r))
		}
	}
	return out
}

func (j *joiner) nestedLoop(ctx context.Context, left, right Operator) ([][]types.Value, error) {
	inner, err := j.materialize(ctx, right)
	if err != nil {
		return nil, err
	}
	matched := make([]bool, len(inner))

	var out [][]types.Value
	err = forEachRow(ctx, left, func(l []types.Value) error {
		found := false
		for i, r := range inner {
			row, err := j.match(l, r)
			if err != nil {
				return err
			}
			if row != nil {
				found, matched[i] = true, true
				out = append(out, row)
			}
		}
		if !found && j.keepLeft() {
			out = append(out, j.combine(l, nil))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return j.emitUnmatchedRight(out, inner, matched), j.res.grow(rowsSize(out))
}

// hashTable indexes the build side of a hash join by the hash of its keys.
type hashTable struct {
	h       *hasher
	buckets *swiss.Map[uint64, []int]
	filter  *bloom.BloomFilter
	rows    [][]types.Value
	keys    [][]types.Value
}

func (t *hashTable) bloomKey(sum uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], sum)
	return b[:]
}

func (j *joiner) build(ctx context.Context, op Operator) (*hashTable, error) {
	rows, err := j.materialize(ctx, op)
	if err != nil {
		return nil, err
	}
	t := &hashTable{
		h:       newHasher(),
		buckets: swiss.NewMap[uint64, []int](uint32(max(len(rows), 16))),
		filter:  bloom.NewWithEstimates(uint(max(len(rows), 1)), j.ctx.cfg.BloomFalsePositiveRate),
		rows:    rows,
		keys:    make([][]types.Value, len(rows)),
	}
	ev := newEvaluator(j.rightCols, j.rightKeys)
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key, err := ev.eval(row)
		if err != nil {
			return nil, qerrors.New(qerrors.KindExecution, err)
		}
		t.keys[i] = key
		if hasNull(key) {
			// NULL keys never match; the row is only kept by outer joins.
			continue
		}
		sum := t.h.sum(key)
		ids, _ := t.buckets.Get(sum)
		t.buckets.Put(sum, append(ids, i))
		t.filter.Add(t.bloomKey(sum))
	}
	return t, nil
}

// hash builds a hash table over the right input and probes it with the
// rows of the left input. A bloom filter over the build keys rejects most
// probe rows without a match before the table lookup. The whole condition
// is evaluated on every candidate pair.
func (j *joiner) hash(ctx context.Context, left, right Operator) ([][]types.Value, error) {
	table, err := j.build(ctx, right)
	if err != nil {
		return nil, err
	}
	matched := make([]bool, len(table.rows))
	ev := newEvaluator(j.leftCols, j.leftKeys)
	probe := newHasher()

	var out [][]types.Value
	err = forEachRow(ctx, left, func(l []types.Value) error {
		key, err := ev.eval(l)
		if err != nil {
			return qerrors.New(qerrors.KindExecution, err)
		}
		found := false
		if !hasNull(key) {
			sum := probe.sum(key)
			if !table.filter.Test(table.bloomKey(sum)) {
				j.ctx.metrics.bloomSkipped.Inc()
			} else {
				ids, _ := table.buckets.Get(sum)
				for _, id := range ids {
					if !tuplesEqual(table.keys[id], key) {
						continue
					}
					row, err := j.match(l, table.rows[id])
					if err != nil {
						return err
					}
					if row != nil {
						found, matched[id] = true, true
						out = append(out, row)
					}
				}
			}
		}
		if !found && j.keepLeft() {
			out = append(out, j.combine(l, nil))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return j.emitUnmatchedRight(out, table.rows, matched), j.res.grow(rowsSize(out))
}

func (j *joiner) keyed(ctx context.Context, op Operator, cols []string, keys []expr.Expr) ([]keyedRow, error) {
	rows, err := j.materialize(ctx, op)
	if err != nil {
		return nil, err
	}
	ev := newEvaluator(cols, keys)
	out := make([]keyedRow, len(rows))
	for i, row := range rows {
		key, err := ev.eval(row)
		if err != nil {
			return nil, qerrors.New(qerrors.KindExecution, err)
		}
		out[i] = keyedRow{key: key, row: row}
	}
	return out, nil
}

func compareKeys(a, b []types.Value) (int, error) {
	for i := range a {
		c, err := types.Compare(a[i], b[i])
		if err != nil || c != 0 {
			return c, err
		}
	}
	return 0, nil
}

// merge joins two inputs sorted ascending on their keys by advancing over
// runs of equal keys on both sides. Only inner joins are merged; other join
// types are evaluated as hash joins.
func (j *joiner) merge(ctx context.Context, left, right Operator) ([][]types.Value, error) {
	if j.typ != types.JoinTypeInner {
		return j.hash(ctx, left, right)
	}
	ls, err := j.keyed(ctx, left, j.leftCols, j.leftKeys)
	if err != nil {
		return nil, err
	}
	rs, err := j.keyed(ctx, right, j.rightCols, j.rightKeys)
	if err != nil {
		return nil, err
	}

	var out [][]types.Value
	li, ri := 0, 0
	for li < len(ls) && ri < len(rs) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// NULL sorts first and never matches.
		if hasNull(ls[li].key) {
			li++
			continue
		}
		if hasNull(rs[ri].key) {
			ri++
			continue
		}
		cmp, err := compareKeys(ls[li].key, rs[ri].key)
		if err != nil {
			return nil, qerrors.New(qerrors.KindExecution, err)
		}
		switch {
		case cmp < 0:
			li++
		case cmp > 0:
			ri++
		default:
			lEnd, rEnd := li+1, ri+1
			for lEnd < len(ls) && tuplesEqual(ls[lEnd].key, ls[li].key) {
				lEnd++
			}
			for rEnd < len(rs) && tuplesEqual(rs[rEnd].key, rs[ri].key) {
				rEnd++
			}
			for _, l := range ls[li:lEnd] {
				for _, r := range rs[ri:rEnd] {
					row, err := j.match(l.row, r.row)
					if err != nil {
						return nil, err
					}
					if row != nil {
						out = append(out, row)
					}
				}
			}
			li, ri = lEnd, rEnd
		}
	}
	return out, j.res.grow(rowsSize(out))
}
