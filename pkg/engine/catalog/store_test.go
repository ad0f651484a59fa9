package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	qerrors "github.com/sealdb/sealdb/pkg/engine/internal/errors"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
	"github.com/sealdb/sealdb/pkg/kv"
)

func usersTable() *Table {
	return &Table{
		Name: "users",
		Columns: []Column{
			{Name: "id", Type: types.ValueTypeInt, NotNull: true},
			{Name: "name", Type: types.ValueTypeStr},
			{Name: "age", Type: types.ValueTypeInt},
		},
		PrimaryKey: "id",
		Indexes:    []Index{{Name: "idx_age", Columns: []string{"age"}}},
	}
}

func TestTable_Validate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		modify func(*Table)
		errMsg string
	}{
		{name: "valid", modify: func(*Table) {}},
		{name: "default primary key", modify: func(t *Table) { t.PrimaryKey = "" }},
		{name: "empty name", modify: func(t *Table) { t.Name = "" }, errMsg: "must not be empty"},
		{name: "colon in name", modify: func(t *Table) { t.Name = "a:b" }, errMsg: "must not contain"},
		{name: "duplicate column", modify: func(t *Table) { t.Columns[1].Name = "ID" }, errMsg: "duplicate column"},
		{name: "unknown primary key", modify: func(t *Table) { t.PrimaryKey = "email" }, errMsg: "primary key"},
		{name: "unknown index column", modify: func(t *Table) { t.Indexes[0].Columns = []string{"email"} }, errMsg: "unknown column"},
		{name: "duplicate index", modify: func(t *Table) { t.Indexes = append(t.Indexes, t.Indexes[0]) }, errMsg: "duplicate index"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			table := usersTable()
			tc.modify(table)
			err := table.Validate()
			if tc.errMsg == "" {
				require.NoError(t, err)
				require.Equal(t, "id", table.PrimaryKey)
				return
			}
			require.ErrorContains(t, err, tc.errMsg)
		})
	}
}

func TestTable_Lookups(t *testing.T) {
	table := usersTable()
	require.Equal(t, 2, table.ColumnIndex("users.age"))
	require.Equal(t, -1, table.ColumnIndex("orders.age"))
	require.True(t, table.IsPrimaryKey("users.id"))

	idx, ok := table.IndexOn("age")
	require.True(t, ok)
	require.Equal(t, "idx_age", idx.Name)
	_, ok = table.IndexOn("name")
	require.False(t, ok)
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	engine := kv.NewMemory()

	s, err := Open(ctx, engine, nil)
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, usersTable(), false))

	err = s.Create(ctx, usersTable(), false)
	require.ErrorIs(t, err, qerrors.ErrTableExists)
	require.NoError(t, s.Create(ctx, usersTable(), true))

	_, err = s.AddIndex(ctx, "users", Index{Name: "idx_name", Columns: []string{"name"}})
	require.NoError(t, err)

	// A fresh store sees the persisted schemas.
	reopened, err := Open(ctx, engine, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"users"}, reopened.Tables())

	table, err := reopened.Table("USERS")
	require.NoError(t, err)
	require.Equal(t, []string{"id", "name", "age"}, table.ColumnNames())
	require.Len(t, table.Indexes, 2)
	require.Equal(t, types.ValueTypeStr, table.Columns[1].Type)
	require.False(t, table.CreatedAt.IsZero())

	dropped, err := reopened.Drop(ctx, "users", false)
	require.NoError(t, err)
	require.Equal(t, "users", dropped.Name)

	_, err = reopened.Table("users")
	require.ErrorIs(t, err, qerrors.ErrTableNotFound)
	_, err = reopened.Drop(ctx, "users", false)
	require.ErrorIs(t, err, qerrors.ErrTableNotFound)
	dropped, err = reopened.Drop(ctx, "users", true)
	require.NoError(t, err)
	require.Nil(t, dropped)

	_, err = engine.Get(ctx, []byte(MetaPrefix+"users"))
	require.ErrorIs(t, err, kv.ErrNotFound)
}
