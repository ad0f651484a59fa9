package executor

import (
	"context"

	"github.com/sealdb/sealdb/pkg/engine/expr"
	qerrors "github.com/sealdb/sealdb/pkg/engine/internal/errors"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
	"github.com/sealdb/sealdb/pkg/engine/planner/physical"
)

func (c *Context) executeDistinct(n *physical.Distinct, input Operator) Operator {
	res := c.reservation()
	seen := newTupleSet(0)
	op := newGenericOperator(func(ctx context.Context, inputs []Operator) (Batch, error) {
		for {
			batch, err := inputs[0].Read(ctx)
			if err != nil {
				return Batch{}, err
			}
			rows := batch.Rows[:0:0]
			for _, row := range batch.Rows {
				if _, added := seen.insert(row); added {
					if err := res.grow(rowSize(row)); err != nil {
						return Batch{}, err
					}
					rows = append(rows, row)
				}
			}
			if len(rows) > 0 {
				return Batch{Columns: batch.Columns, Rows: rows}, nil
			}
		}
	}, input)
	op.close = res.release
	return op
}

// executeSetOp combines two inputs with multiset semantics when All is set
// and set semantics otherwise. Output keeps the order of the left input,
// followed by the right input for unions.
func (c *Context) executeSetOp(n *physical.SetOp, left, right Operator) Operator {
	columns := n.Schema()
	width, rightWidth := len(columns), len(n.Right.Schema())
	res := c.reservation()

	var e *emitter
	op := newGenericOperator(func(ctx context.Context, inputs []Operator) (Batch, error) {
		if e == nil {
			if width != rightWidth {
				return Batch{}, qerrors.New(qerrors.KindExecution, schemaMismatch(n.Kind.String(), width, rightWidth))
			}
			rows, err := c.setOp(ctx, n.Kind, n.All, inputs[0], inputs[1], res)
			if err != nil {
				return Batch{}, err
			}
			e = &emitter{columns: columns, rows: rows, size: c.cfg.BatchSize}
		}
		return e.next()
	}, left, right)
	op.close = res.release
	return op
}

func (c *Context) setOp(ctx context.Context, kind types.SetOpKind, all bool, left, right Operator, res *reservation) ([][]types.Value, error) {
	if kind == types.SetOpUnion {
		var out [][]types.Value
		seen := newTupleSet(0)
		add := func(row []types.Value) error {
			if !all {
				if _, added := seen.insert(row); !added {
					return nil
				}
			}
			out = append(out, row)
			return res.grow(rowSize(row))
		}
		if err := forEachRow(ctx, left, add); err != nil {
			return nil, err
		}
		if err := forEachRow(ctx, right, add); err != nil {
			return nil, err
		}
		return out, nil
	}

	// Count the occurrences of every right row.
	counts := newTupleSet(0)
	var remaining []int
	err := forEachRow(ctx, right, func(row []types.Value) error {
		id, added := counts.insert(row)
		if added {
			remaining = append(remaining, 0)
			if err := res.grow(rowSize(row)); err != nil {
				return err
			}
		}
		remaining[id]++
		return nil
	})
	if err != nil {
		return nil, err
	}

	var out [][]types.Value
	emitted := newTupleSet(0)
	err = forEachRow(ctx, left, func(row []types.Value) error {
		id, found := counts.find(row)
		inRight := found && remaining[id] > 0

		var keep bool
		switch {
		case kind == types.SetOpIntersect && all:
			keep = inRight
			if keep {
				remaining[id]--
			}
		case kind == types.SetOpIntersect:
			keep = found
		case all: // EXCEPT ALL
			keep = !inRight
			if inRight {
				remaining[id]--
			}
		default: // EXCEPT
			keep = !found
		}
		if !keep {
			return nil
		}
		if !all {
			if _, added := emitted.insert(row); !added {
				return nil
			}
		}
		out = append(out, row)
		return res.grow(rowSize(row))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Context) executeValues(n *physical.Values) Operator {
	var e *emitter
	return newGenericOperator(func(context.Context, []Operator) (Batch, error) {
		if e == nil {
			rows := make([][]types.Value, len(n.Rows))
			for i, exprs := range n.Rows {
				if len(exprs) != len(n.Columns) {
					return Batch{}, qerrors.New(qerrors.KindExecution, schemaMismatch("VALUES", len(n.Columns), len(exprs)))
				}
				row := make([]types.Value, len(exprs))
				for j, x := range exprs {
					v, err := expr.Eval(x, expr.NoBindings)
					if err != nil {
						return Batch{}, qerrors.New(qerrors.KindExecution, err)
					}
					row[j] = v
				}
				rows[i] = row
			}
			e = &emitter{columns: n.Columns, rows: rows, size: c.cfg.BatchSize}
		}
		return e.next()
	})
}
