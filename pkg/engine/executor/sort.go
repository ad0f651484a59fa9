package executor

import (
	"container/heap"
	"context"
	"errors"
	"sort"

	"github.com/sealdb/sealdb/pkg/engine/expr"
	qerrors "github.com/sealdb/sealdb/pkg/engine/internal/errors"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
	"github.com/sealdb/sealdb/pkg/engine/planner/logical"
	"github.com/sealdb/sealdb/pkg/engine/planner/physical"
)

// keyedRow is a row and the values of its sort or join keys.
type keyedRow struct {
	key []types.Value
	row []types.Value
}

// ordering compares rows on a list of sort keys. NULL sorts first in
// ascending order and last in descending order.
type ordering struct {
	ev   *evaluator
	desc []bool
}

func newOrdering(schema []string, keys []logical.SortKey) *ordering {
	exprs := make([]expr.Expr, len(keys))
	desc := make([]bool, len(keys))
	for i, k := range keys {
		exprs[i] = k.Expr
		desc[i] = k.Order == types.SortOrderDesc
	}
	return &ordering{ev: newEvaluator(schema, exprs), desc: desc}
}

func (o *ordering) keyed(row []types.Value) (keyedRow, error) {
	key, err := o.ev.eval(row)
	if err != nil {
		return keyedRow{}, qerrors.New(qerrors.KindExecution, err)
	}
	return keyedRow{key: key, row: row}, nil
}

func (o *ordering) compare(a, b []types.Value) (int, error) {
	for i := range a {
		c, err := types.Compare(a[i], b[i])
		if err != nil {
			return 0, qerrors.New(qerrors.KindExecution, err)
		}
		if c != 0 {
			if o.desc[i] {
				return -c, nil
			}
			return c, nil
		}
	}
	return 0, nil
}

// sortRows stably sorts rows by their keys.
func (o *ordering) sortRows(rows []keyedRow) error {
	var cmpErr error
	sort.SliceStable(rows, func(i, j int) bool {
		c, err := o.compare(rows[i].key, rows[j].key)
		if err != nil && cmpErr == nil {
			cmpErr = err
		}
		return c < 0
	})
	return cmpErr
}

func (c *Context) executeSort(n *physical.Sort, input Operator) Operator {
	ord := newOrdering(n.Child.Schema(), n.Keys)
	columns := n.Schema()
	res := c.reservation()

	var (
		next    func() ([]types.Value, error)
		cleanup func()
	)
	op := newGenericOperator(func(ctx context.Context, inputs []Operator) (Batch, error) {
		if next == nil {
			var err error
			switch n.Strategy {
			case physical.SortTopN:
				next, err = c.topN(ctx, ord, n.N, inputs[0], res)
			case physical.SortExternal:
				var s *spiller
				s, err = c.newSpiller(ord, n.MemoryBytes, res)
				if err == nil {
					cleanup = s.close
					next, err = s.sort(ctx, inputs[0])
				}
			default:
				next, err = c.inMemorySort(ctx, ord, inputs[0], res)
			}
			if err != nil {
				return Batch{}, err
			}
		}
		return drainRows(ctx, columns, c.cfg.BatchSize, next)
	}, input)
	op.close = func() {
		if cleanup != nil {
			cleanup()
		}
		res.release()
	}
	return op
}

// drainRows reads up to size rows from next into a batch.
func drainRows(ctx context.Context, columns []string, size int, next func() ([]types.Value, error)) (Batch, error) {
	var rows [][]types.Value
	for len(rows) < size {
		if err := ctx.Err(); err != nil {
			return Batch{}, err
		}
		row, err := next()
		if errors.Is(err, EOF) {
			break
		} else if err != nil {
			return Batch{}, err
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return Batch{}, EOF
	}
	return Batch{Columns: columns, Rows: rows}, nil
}

// sliceRows returns the rows of a sorted slice one at a time.
func sliceRows(rows []keyedRow) func() ([]types.Value, error) {
	return func() ([]types.Value, error) {
		if len(rows) == 0 {
			return nil, EOF
		}
		r := rows[0]
		rows = rows[1:]
		return r.row, nil
	}
}

// sortInput reads and sorts every row of input.
func sortInput(ctx context.Context, ord *ordering, input Operator, res *reservation) ([]keyedRow, error) {
	var rows []keyedRow
	err := forEachRow(ctx, input, func(row []types.Value) error {
		k, err := ord.keyed(row)
		if err != nil {
			return err
		}
		if err := res.grow(rowSize(row) + rowSize(k.key)); err != nil {
			return err
		}
		rows = append(rows, k)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, ord.sortRows(rows)
}

func (c *Context) inMemorySort(ctx context.Context, ord *ordering, input Operator, res *reservation) (func() ([]types.Value, error), error) {
	rows, err := sortInput(ctx, ord, input, res)
	if err != nil {
		return nil, err
	}
	return sliceRows(rows), nil
}

// topHeap keeps the n first rows seen so far. Its root is the last of them,
// ties broken by arrival so that the result is the prefix of a stable sort.
type topHeap struct {
	ord  *ordering
	rows []keyedRow
	seq  []int
	err  error
}

func (h *topHeap) Len() int { return len(h.rows) }

func (h *topHeap) Less(i, j int) bool {
	c, err := h.ord.compare(h.rows[i].key, h.rows[j].key)
	if err != nil && h.err == nil {
		h.err = err
	}
	if c == 0 {
		return h.seq[i] > h.seq[j]
	}
	return c > 0
}

func (h *topHeap) Swap(i, j int) {
	h.rows[i], h.rows[j] = h.rows[j], h.rows[i]
	h.seq[i], h.seq[j] = h.seq[j], h.seq[i]
}

func (h *topHeap) Push(x any) {
	e := x.(topEntry)
	h.rows = append(h.rows, e.row)
	h.seq = append(h.seq, e.seq)
}

func (h *topHeap) Pop() any {
	n := len(h.rows) - 1
	e := topEntry{row: h.rows[n], seq: h.seq[n]}
	h.rows, h.seq = h.rows[:n], h.seq[:n]
	return e
}

type topEntry struct {
	row keyedRow
	seq int
}

func (c *Context) topN(ctx context.Context, ord *ordering, n uint64, input Operator, res *reservation) (func() ([]types.Value, error), error) {
	if n == 0 {
		return func() ([]types.Value, error) { return nil, EOF }, nil
	}
	h := &topHeap{ord: ord}
	seq := 0
	err := forEachRow(ctx, input, func(row []types.Value) error {
		k, err := ord.keyed(row)
		if err != nil {
			return err
		}
		seq++
		if uint64(h.Len()) < n {
			if err := res.grow(rowSize(row)); err != nil {
				return err
			}
			heap.Push(h, topEntry{row: k, seq: seq})
			return h.err
		}
		// Later rows only replace the root when strictly smaller.
		if cmp, err := ord.compare(k.key, h.rows[0].key); err != nil {
			return err
		} else if cmp < 0 {
			h.rows[0], h.seq[0] = k, seq
			heap.Fix(h, 0)
		}
		return h.err
	})
	if err != nil {
		return nil, err
	}

	out := make([]keyedRow, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(topEntry).row
	}
	if h.err != nil {
		return nil, h.err
	}
	return sliceRows(out), nil
}

// rowSource yields rows in sorted order.
type rowSource interface {
	next() (keyedRow, error)
}

type sliceSource struct{ rows []keyedRow }

func (s *sliceSource) next() (keyedRow, error) {
	if len(s.rows) == 0 {
		return keyedRow{}, EOF
	}
	r := s.rows[0]
	s.rows = s.rows[1:]
	return r, nil
}

// mergeHeap merges sorted sources. Ties are broken by source index, so that
// merging the sorted partitions of an input matches a stable sort of it.
type mergeHeap struct {
	ord     *ordering
	heads   []keyedRow
	sources []int
	err     error
}

func (h *mergeHeap) Len() int { return len(h.heads) }

func (h *mergeHeap) Less(i, j int) bool {
	c, err := h.ord.compare(h.heads[i].key, h.heads[j].key)
	if err != nil && h.err == nil {
		h.err = err
	}
	if c == 0 {
		return h.sources[i] < h.sources[j]
	}
	return c < 0
}

func (h *mergeHeap) Swap(i, j int) {
	h.heads[i], h.heads[j] = h.heads[j], h.heads[i]
	h.sources[i], h.sources[j] = h.sources[j], h.sources[i]
}

func (h *mergeHeap) Push(x any) {
	e := x.(mergeEntry)
	h.heads = append(h.heads, e.row)
	h.sources = append(h.sources, e.source)
}

func (h *mergeHeap) Pop() any {
	n := len(h.heads) - 1
	e := mergeEntry{row: h.heads[n], source: h.sources[n]}
	h.heads, h.sources = h.heads[:n], h.sources[:n]
	return e
}

type mergeEntry struct {
	row    keyedRow
	source int
}

// mergeSorted returns the rows of every source in merged order.
func mergeSorted(ord *ordering, sources []rowSource) (func() ([]types.Value, error), error) {
	h := &mergeHeap{ord: ord}
	for i, s := range sources {
		r, err := s.next()
		if errors.Is(err, EOF) {
			continue
		} else if err != nil {
			return nil, err
		}
		heap.Push(h, mergeEntry{row: r, source: i})
	}
	return func() ([]types.Value, error) {
		if h.err != nil {
			return nil, h.err
		}
		if h.Len() == 0 {
			return nil, EOF
		}
		top := h.heads[0]
		src := h.sources[0]
		r, err := sources[src].next()
		switch {
		case errors.Is(err, EOF):
			heap.Pop(h)
		case err != nil:
			return nil, err
		default:
			h.heads[0] = r
			heap.Fix(h, 0)
		}
		return top.row, h.err
	}, nil
}
