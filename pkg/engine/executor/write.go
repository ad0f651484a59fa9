package executor

import (
	"context"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/sealdb/sealdb/pkg/engine/catalog"
	"github.com/sealdb/sealdb/pkg/engine/expr"
	qerrors "github.com/sealdb/sealdb/pkg/engine/internal/errors"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
	"github.com/sealdb/sealdb/pkg/engine/planner/logical"
	"github.com/sealdb/sealdb/pkg/engine/planner/physical"
)

// writeOperator runs a statement without a result set once and reports the
// rows it affected.
func writeOperator(run func(ctx context.Context, inputs []Operator) (Batch, error), inputs ...Operator) Operator {
	done := false
	return newGenericOperator(func(ctx context.Context, inputs []Operator) (Batch, error) {
		if done {
			return Batch{}, EOF
		}
		done = true
		return run(ctx, inputs)
	}, inputs...)
}

func (c *Context) executeInsert(n *physical.Insert, input Operator) Operator {
	return writeOperator(func(ctx context.Context, inputs []Operator) (Batch, error) {
		ords := make([]int, len(n.Columns))
		for i, name := range n.Columns {
			if ords[i] = n.Table.ColumnIndex(name); ords[i] < 0 {
				return Batch{}, qerrors.New(qerrors.KindExecution, errors.Wrapf(qerrors.ErrColumnNotFound, "%s.%s", n.Table.Name, name))
			}
		}
		pk := n.Table.PrimaryKeyIndex()

		var out Batch
		err := forEachRow(ctx, inputs[0], func(values []types.Value) error {
			if len(values) != len(ords) {
				return qerrors.New(qerrors.KindExecution, schemaMismatch("INSERT", len(ords), len(values)))
			}
			row := nulls(len(n.Table.Columns))
			for i, ord := range ords {
				row[ord] = values[i]
			}
			if err := c.env.View.Insert(ctx, n.Table, row); err != nil {
				return err
			}
			out.Affected++
			if pk >= 0 && row[pk].Type() == types.ValueTypeInt {
				out.LastInsertID = row[pk].Int()
			}
			return nil
		})
		return out, err
	}, input)
}

// targetRows reads every row produced by input and fetches the stored row
// of each one by primary key. Rows are collected before any write, so that
// writes never feed back into the scan.
func (c *Context) targetRows(ctx context.Context, t *catalog.Table, schema []string, input Operator) ([][]types.Value, error) {
	if t.PrimaryKeyIndex() < 0 {
		return nil, qerrors.Newf(qerrors.KindExecution, "table %s has no primary key", t.Name)
	}
	pkOrd, err := logical.ColumnIndex(schema, t.Name+"."+t.PrimaryKey)
	if err != nil {
		return nil, qerrors.New(qerrors.KindExecution, err)
	}

	var keys []types.Value
	if err := forEachRow(ctx, input, func(row []types.Value) error {
		keys = append(keys, row[pkOrd])
		return nil
	}); err != nil {
		return nil, err
	}
	return c.env.View.MultiGet(ctx, t, keys)
}

func (c *Context) executeUpdate(n *physical.Update, input Operator) Operator {
	return writeOperator(func(ctx context.Context, inputs []Operator) (Batch, error) {
		targets, err := c.targetRows(ctx, n.Table, n.Child.Schema(), inputs[0])
		if err != nil {
			return Batch{}, err
		}

		schema := make([]string, len(n.Table.Columns))
		for i, col := range n.Table.Columns {
			schema[i] = n.Table.Name + "." + col.Name
		}
		exprs := make([]expr.Expr, len(n.Set))
		ords := make([]int, len(n.Set))
		for i, a := range n.Set {
			if n.Table.IsPrimaryKey(a.Column) {
				return Batch{}, qerrors.Newf(qerrors.KindExecution, "cannot update primary key column %s", a.Column)
			}
			if ords[i] = n.Table.ColumnIndex(a.Column); ords[i] < 0 {
				return Batch{}, qerrors.New(qerrors.KindExecution, errors.Wrapf(qerrors.ErrColumnNotFound, "%s.%s", n.Table.Name, a.Column))
			}
			exprs[i] = a.Value
		}
		ev := newEvaluator(schema, exprs)

		var out Batch
		for _, old := range targets {
			if err := ctx.Err(); err != nil {
				return Batch{}, err
			}
			values, err := ev.eval(old)
			if err != nil {
				return Batch{}, qerrors.New(qerrors.KindExecution, err)
			}
			updated := append([]types.Value(nil), old...)
			for i, ord := range ords {
				updated[ord] = values[i]
			}
			if err := c.env.View.Update(ctx, n.Table, old, updated); err != nil {
				return Batch{}, err
			}
			out.Affected++
		}
		return out, nil
	}, input)
}

func (c *Context) executeDelete(n *physical.Delete, input Operator) Operator {
	return writeOperator(func(ctx context.Context, inputs []Operator) (Batch, error) {
		targets, err := c.targetRows(ctx, n.Table, n.Child.Schema(), inputs[0])
		if err != nil {
			return Batch{}, err
		}
		var out Batch
		for _, row := range targets {
			if err := c.env.View.Delete(ctx, n.Table, row); err != nil {
				return Batch{}, err
			}
			out.Affected++
		}
		return out, nil
	}, input)
}

func (c *Context) executeDDL(node physical.Node) Operator {
	return writeOperator(func(ctx context.Context, _ []Operator) (Batch, error) {
		if c.env.Schema == nil {
			return Batch{}, qerrors.Newf(qerrors.KindExecution, "%s needs a schema store", node.Type())
		}
		switch n := node.(type) {
		case *physical.CreateTable:
			if err := c.env.Schema.Create(ctx, n.Table, n.IfNotExists); err != nil {
				return Batch{}, err
			}
			level.Info(c.logger).Log("msg", "created table", "table", n.Table.Name)

		case *physical.CreateIndex:
			if err := c.env.View.BuildIndex(ctx, n.Table, n.Index); err != nil {
				return Batch{}, err
			}
			if _, err := c.env.Schema.AddIndex(ctx, n.Table.Name, n.Index); err != nil {
				return Batch{}, err
			}
			level.Info(c.logger).Log("msg", "created index", "table", n.Table.Name, "index", n.Index.Name)

		case *physical.DropTable:
			t, err := c.env.Schema.Drop(ctx, n.Name, n.IfExists)
			if err != nil || t == nil {
				return Batch{}, err
			}
			deleted, err := c.env.View.Truncate(ctx, t.Name)
			if err != nil {
				return Batch{}, err
			}
			level.Info(c.logger).Log("msg", "dropped table", "table", t.Name, "rows", deleted)
			return Batch{Affected: uint64(deleted)}, nil

		default:
			return Batch{}, unexpectedNode(node)
		}
		return Batch{}, nil
	})
}
