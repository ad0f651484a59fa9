package executor

import (
	"context"

	"github.com/sealdb/sealdb/pkg/engine/expr"
	qerrors "github.com/sealdb/sealdb/pkg/engine/internal/errors"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
	"github.com/sealdb/sealdb/pkg/engine/planner/logical"
	"github.com/sealdb/sealdb/pkg/engine/planner/physical"
)

func (c *Context) executeFilter(n *physical.Filter, input Operator) Operator {
	return newFilterOperator(n.Condition, input)
}

// newFilterOperator keeps the rows of input for which cond is true. Batches
// left empty by the filter are skipped.
func newFilterOperator(cond expr.Expr, input Operator) Operator {
	var p *predicate
	return newGenericOperator(func(ctx context.Context, inputs []Operator) (Batch, error) {
		for {
			batch, err := inputs[0].Read(ctx)
			if err != nil {
				return Batch{}, err
			}
			if p == nil {
				p = newPredicate(batch.Columns, cond)
			}
			rows := batch.Rows[:0:0]
			for _, row := range batch.Rows {
				ok, err := p.match(row)
				if err != nil {
					return Batch{}, qerrors.New(qerrors.KindExecution, err)
				}
				if ok {
					rows = append(rows, row)
				}
			}
			if len(rows) > 0 {
				return Batch{Columns: batch.Columns, Rows: rows}, nil
			}
		}
	}, input)
}

func (c *Context) executeProject(n *physical.Project, input Operator) Operator {
	return newProjectOperator(n.Columns, input)
}

// newProjectOperator evaluates columns for every row of input.
func newProjectOperator(columns []logical.NamedExpr, input Operator) Operator {
	names := make([]string, len(columns))
	exprs := make([]expr.Expr, len(columns))
	for i, col := range columns {
		names[i] = col.Name
		exprs[i] = col.Expr
	}

	var ev *evaluator
	return newGenericOperator(func(ctx context.Context, inputs []Operator) (Batch, error) {
		batch, err := inputs[0].Read(ctx)
		if err != nil {
			return Batch{}, err
		}
		if ev == nil {
			ev = newEvaluator(batch.Columns, exprs)
		}
		rows := make([][]types.Value, len(batch.Rows))
		for i, row := range batch.Rows {
			if rows[i], err = ev.eval(row); err != nil {
				return Batch{}, qerrors.New(qerrors.KindExecution, err)
			}
		}
		return Batch{Columns: names, Rows: rows}, nil
	}, input)
}
