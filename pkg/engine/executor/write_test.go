package executor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sealdb/sealdb/pkg/engine/catalog"
	"github.com/sealdb/sealdb/pkg/engine/expr"
	qerrors "github.com/sealdb/sealdb/pkg/engine/internal/errors"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
	"github.com/sealdb/sealdb/pkg/engine/planner/logical"
	"github.com/sealdb/sealdb/pkg/engine/planner/physical"
	"github.com/sealdb/sealdb/pkg/engine/storage"
)

// target is the scan under a write statement, reading every column of the
// table under its own name.
func (f *fixture) target(table string, filters ...logical.ScanFilter) *physical.Scan {
	t := f.table(table)
	return &physical.Scan{Method: physical.ScanMethodSeq, Table: t, Alias: t.Name, Columns: t.ColumnNames(), Filters: filters}
}

func (f *fixture) contents(table string) [][]types.Value {
	f.t.Helper()
	var out [][]types.Value
	require.NoError(f.t, f.env.View.Scan(f.t.Context(), f.table(table), 0, func(row []types.Value) error {
		out = append(out, row)
		return nil
	}))
	return out
}

func TestExecutor_Insert(t *testing.T) {
	f := newFixture(t, testConfig())

	res := f.run(&physical.Insert{
		Table:   f.table("users"),
		Columns: []string{"name", "id"},
		Source:  values([]string{"name", "id"}, vals("Frank", 6), vals("Grace", 7)),
	})
	require.Equal(t, uint64(2), res.AffectedRows)
	require.Equal(t, int64(7), res.LastInsertID)
	require.Empty(t, res.Rows)
	require.Equal(t, vals(6, "Frank", nil), f.contents("users")[5])

	t.Run("duplicate primary key", func(t *testing.T) {
		_, err := f.query(&physical.Insert{
			Table:   f.table("users"),
			Columns: []string{"id", "name"},
			Source:  values([]string{"id", "name"}, vals(1, "Zed")),
		})
		require.ErrorIs(t, err, storage.ErrDuplicateKey)
	})

	t.Run("duplicate unique index value", func(t *testing.T) {
		_, err := f.query(&physical.Insert{
			Table:   f.table("users"),
			Columns: []string{"id", "name"},
			Source:  values([]string{"id", "name"}, vals(8, "Alice")),
		})
		require.ErrorIs(t, err, storage.ErrDuplicateKey)
	})

	t.Run("width mismatch", func(t *testing.T) {
		_, err := f.query(&physical.Insert{
			Table:   f.table("users"),
			Columns: []string{"id"},
			Source:  values([]string{"id", "name"}, vals(9, "Ivy")),
		})
		require.Error(t, err)
		require.Equal(t, qerrors.KindExecution, qerrors.KindOf(err))
	})

	t.Run("unknown column", func(t *testing.T) {
		_, err := f.query(&physical.Insert{
			Table:   f.table("users"),
			Columns: []string{"email"},
			Source:  values([]string{"email"}, vals("x@example.com")),
		})
		require.ErrorIs(t, err, qerrors.ErrColumnNotFound)
	})
}

func TestExecutor_Update(t *testing.T) {
	f := newFixture(t, testConfig())

	res := f.run(&physical.Update{
		Table: f.table("users"),
		Set: []logical.Assignment{
			{Column: "age", Value: expr.Binary(expr.NewColumn("age"), types.BinOpKindAdd, expr.Int(1))},
		},
		Child: f.target("users", eq("age", 30)),
	})
	require.Equal(t, uint64(2), res.AffectedRows)
	require.Equal(t, rows(
		vals(1, "Alice", 31), vals(2, "Bob", 25), vals(3, "Carol", 31), vals(4, "Dave", nil), vals(5, "Eve", 41),
	), f.contents("users"))

	// The index follows the new values.
	res = f.run(&physical.Scan{
		Method: physical.ScanMethodIndex, Table: f.table("users"), Alias: "u", Columns: []string{"id"},
		Indexes: []string{"idx_age"}, IndexFilters: []logical.ScanFilter{eq("age", 31)},
	})
	require.Equal(t, rows(vals(1), vals(3)), res.Rows)

	t.Run("primary key", func(t *testing.T) {
		_, err := f.query(&physical.Update{
			Table: f.table("users"),
			Set:   []logical.Assignment{{Column: "id", Value: expr.Int(100)}},
			Child: f.target("users"),
		})
		require.ErrorContains(t, err, "cannot update primary key column id")
	})

	t.Run("no rows", func(t *testing.T) {
		res := f.run(&physical.Update{
			Table: f.table("users"),
			Set:   []logical.Assignment{{Column: "name", Value: expr.Str("Nobody")}},
			Child: f.target("users", eq("age", 99)),
		})
		require.Zero(t, res.AffectedRows)
	})
}

func TestExecutor_Delete(t *testing.T) {
	f := newFixture(t, testConfig())

	res := f.run(&physical.Delete{
		Table: f.table("orders"),
		Child: f.target("orders", eq("user_id", 1)),
	})
	require.Equal(t, uint64(2), res.AffectedRows)
	require.Equal(t, rows(vals(12, 2, 70), vals(13, 9, 5)), f.contents("orders"))

	res = f.run(&physical.Scan{
		Method: physical.ScanMethodIndex, Table: f.table("orders"), Alias: "o", Columns: []string{"id"},
		Indexes: []string{"idx_user"}, IndexFilters: []logical.ScanFilter{eq("user_id", 1)},
	})
	require.Empty(t, res.Rows)
}

func TestExecutor_DDL(t *testing.T) {
	f := newFixture(t, testConfig())
	items := &catalog.Table{
		Name: "items",
		Columns: []catalog.Column{
			{Name: "sku", Type: types.ValueTypeStr, NotNull: true},
			{Name: "price", Type: types.ValueTypeFloat},
		},
		PrimaryKey: "sku",
	}

	f.run(&physical.CreateTable{Table: items})
	_, err := f.query(&physical.CreateTable{Table: items})
	require.ErrorIs(t, err, qerrors.ErrTableExists)
	f.run(&physical.CreateTable{Table: items, IfNotExists: true})

	f.run(&physical.Insert{
		Table:   f.table("items"),
		Columns: []string{"sku", "price"},
		Source:  values([]string{"sku", "price"}, vals("a-1", 9.5), vals("b-2", 3.0), vals("c-3", 9.5)),
	})

	idx := catalog.Index{Name: "idx_price", Columns: []string{"price"}}
	f.run(&physical.CreateIndex{Table: f.table("items"), Index: idx})
	_, ok := f.table("items").Index("idx_price")
	require.True(t, ok)

	res := f.run(&physical.Scan{
		Method: physical.ScanMethodIndex, Table: f.table("items"), Alias: "i", Columns: []string{"sku"},
		Indexes: []string{"idx_price"}, IndexFilters: []logical.ScanFilter{eq("price", 9.5)},
	})
	require.Equal(t, rows(vals("a-1"), vals("c-3")), res.Rows)

	res = f.run(&physical.DropTable{Name: "items"})
	require.Equal(t, uint64(3), res.AffectedRows)
	_, err = f.store.Table("items")
	require.ErrorIs(t, err, qerrors.ErrTableNotFound)

	res = f.run(&physical.DropTable{Name: "items", IfExists: true})
	require.Zero(t, res.AffectedRows)
	_, err = f.query(&physical.DropTable{Name: "items"})
	require.ErrorIs(t, err, qerrors.ErrTableNotFound)

	t.Run("no schema store", func(t *testing.T) {
		env := f.env
		env.Schema = nil
		_, err := Drain(t.Context(), f.exec.Run(t.Context(), &physical.Plan{Root: &physical.DropTable{Name: "users"}}, env))
		require.ErrorContains(t, err, "needs a schema store")
	})
}
