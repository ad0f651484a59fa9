package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"

	"github.com/sealdb/sealdb/pkg/engine"
	"github.com/sealdb/sealdb/pkg/engine/expr"
	"github.com/sealdb/sealdb/pkg/engine/syntax"
)

func demoStatements() []syntax.Statement {
	users := &syntax.CreateTable{
		Name: "users",
		Columns: []syntax.ColumnDef{
			{Name: "id", Type: syntax.TypeInt, NotNull: true},
			{Name: "name", Type: syntax.TypeString},
			{Name: "age", Type: syntax.TypeInt},
		},
		PrimaryKey:  "id",
		Indexes:     []syntax.IndexDef{{Name: "idx_age", Columns: []string{"age"}}},
		IfNotExists: true,
	}
	orders := &syntax.CreateTable{
		Name: "orders",
		Columns: []syntax.ColumnDef{
			{Name: "id", Type: syntax.TypeInt, NotNull: true},
			{Name: "user_id", Type: syntax.TypeInt},
			{Name: "amount", Type: syntax.TypeFloat},
		},
		PrimaryKey:  "id",
		IfNotExists: true,
	}

	byUser := &syntax.Select{
		Items: []syntax.SelectItem{
			{Expr: expr.NewColumn("u.name")},
			{Expr: expr.Call("COUNT", expr.NewColumn(expr.Star)), Alias: "orders"},
			{Expr: expr.Call("SUM", expr.NewColumn("o.amount")), Alias: "total"},
		},
		From: &syntax.JoinExpr{
			Left:  &syntax.TableName{Name: "users", Alias: "u"},
			Right: &syntax.TableName{Name: "orders", Alias: "o"},
			Type:  syntax.InnerJoin,
			On:    expr.Eq(expr.NewColumn("u.id"), expr.NewColumn("o.user_id")),
		},
		GroupBy: []expr.Expr{expr.NewColumn("u.name")},
		OrderBy: []syntax.OrderItem{{Expr: expr.NewColumn("total"), Order: syntax.Desc}},
	}

	return []syntax.Statement{
		&syntax.DropTable{Name: "orders", IfExists: true},
		&syntax.DropTable{Name: "users", IfExists: true},
		users,
		orders,
		&syntax.Insert{Table: "users", Rows: [][]expr.Expr{
			{expr.Int(1), expr.Str("alice"), expr.Int(34)},
			{expr.Int(2), expr.Str("bob"), expr.Int(27)},
			{expr.Int(3), expr.Str("carol"), expr.Null()},
		}},
		&syntax.Insert{Table: "orders", Rows: [][]expr.Expr{
			{expr.Int(10), expr.Int(1), expr.Float(12.5)},
			{expr.Int(11), expr.Int(1), expr.Float(40)},
			{expr.Int(12), expr.Int(2), expr.Float(7.25)},
		}},
		&syntax.Select{
			Items: []syntax.SelectItem{{Expr: expr.NewColumn(expr.Star)}},
			From:  &syntax.TableName{Name: "users"},
			Where: expr.Eq(expr.NewColumn("id"), expr.Int(2)),
		},
		&syntax.Explain{Statement: byUser},
		byUser,
		&syntax.Update{
			Table: "users",
			Set:   []syntax.Assignment{{Column: "age", Value: expr.Binary(expr.NewColumn("age"), expr.OpAdd, expr.Int(1))}},
			Where: expr.Binary(expr.NewColumn("age"), expr.OpGte, expr.Int(30)),
		},
		&syntax.Delete{Table: "orders", Where: expr.Binary(expr.NewColumn("amount"), expr.OpLt, expr.Float(10))},
	}
}

// runDemo executes the example statements and prints every result to w.
// Statistics are collected once the tables are loaded so the later plans use
// real estimates.
func runDemo(ctx context.Context, eng *engine.Engine, w io.Writer) error {
	for i, stmt := range demoStatements() {
		if i == 6 {
			if err := eng.Analyze(ctx); err != nil {
				return errors.Wrap(err, "analyze")
			}
		}
		res, err := eng.Execute(ctx, stmt)
		if err != nil {
			return errors.Wrapf(err, "executing %q", stmt.String())
		}
		printResult(w, stmt, res)
	}
	return nil
}

func printResult(w io.Writer, stmt syntax.Statement, res *engine.Result) {
	fmt.Fprintf(w, "sealdb> %s\n", stmt.String())
	if len(res.Columns) == 0 {
		fmt.Fprintf(w, "%d row(s) affected (%s)\n\n", res.AffectedRows, res.Duration)
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(res.Columns, "\t"))
	for _, row := range res.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = v.String()
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	_ = tw.Flush()

	rec := res.Record(nil)
	defer rec.Release()
	fmt.Fprintf(w, "%d row(s) (%s) schema: %s\n", len(res.Rows), res.Duration, strings.ReplaceAll(rec.Schema().String(), "\n", " "))
	for _, warning := range res.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	fmt.Fprintln(w)
}
