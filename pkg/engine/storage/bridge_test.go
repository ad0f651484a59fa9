package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/sealdb/sealdb/pkg/engine/catalog"
	qerrors "github.com/sealdb/sealdb/pkg/engine/internal/errors"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
	"github.com/sealdb/sealdb/pkg/engine/planner/logical"
	"github.com/sealdb/sealdb/pkg/kv"
)

func usersTable() *catalog.Table {
	return &catalog.Table{
		Name: "users",
		Columns: []catalog.Column{
			{Name: "id", Type: types.ValueTypeInt, NotNull: true},
			{Name: "name", Type: types.ValueTypeStr},
			{Name: "age", Type: types.ValueTypeInt},
		},
		PrimaryKey: "id",
		Indexes: []catalog.Index{
			{Name: "idx_age", Columns: []string{"age"}},
			{Name: "idx_name", Columns: []string{"name"}, Unique: true},
		},
	}
}

func testConfig() Config {
	return Config{ScanLimit: 1000, ScanPageSize: 2}
}

func newTestBridge(t *testing.T, tables ...*catalog.Table) (*Bridge, *kv.Memory) {
	t.Helper()
	engine := kv.NewMemory()
	t.Cleanup(func() { _ = engine.Close() })
	return NewBridge(testConfig(), engine, catalog.NewStatic(tables...), log.NewNopLogger()), engine
}

func row(id int64, name string, age int64) []types.Value {
	return []types.Value{types.NewInt(id), types.NewString(name), types.NewInt(age)}
}

func TestKeys(t *testing.T) {
	require.Equal(t, "table:users:1", string(RowKey("users", "1")))
	require.Equal(t, "table:users:", string(TablePrefix("users")))
	require.Equal(t, "users:1", LogicalKey("users", "1"))

	table, key, ok := SplitLogicalKey("users:1")
	require.True(t, ok)
	require.Equal(t, "users", table)
	require.Equal(t, "1", key)

	for _, s := range []string{"users", ":1", "users:"} {
		_, _, ok := SplitLogicalKey(s)
		require.False(t, ok, s)
	}
}

func TestCodec(t *testing.T) {
	users := usersTable()
	for _, tc := range []struct {
		name  string
		row   []types.Value
		key   string
		value string
	}{
		{name: "plain", row: row(1, "Alice", 30), key: "1", value: "Alice,30"},
		{name: "quoted", row: row(2, "Doe, Jane", 41), key: "2", value: `"Doe, Jane",41`},
		{name: "null", row: []types.Value{types.NewInt(3), types.Null, types.Null}, key: "3", value: ","},
		{name: "coerced", row: []types.Value{types.NewString("4"), types.NewString("Bob"), types.NewString("22")}, key: "4", value: "Bob,22"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			key, value, err := EncodeRow(users, tc.row)
			require.NoError(t, err)
			require.Equal(t, tc.key, key)
			require.Equal(t, tc.value, string(value))

			decoded, err := DecodeRow(users, key, value)
			require.NoError(t, err)
			want, err := CoerceRow(users, tc.row)
			require.NoError(t, err)
			require.Equal(t, want, decoded)
		})
	}

	t.Run("errors", func(t *testing.T) {
		_, _, err := EncodeRow(users, []types.Value{types.Null, types.NewString("x"), types.NewInt(1)})
		require.Error(t, err)
		_, _, err = EncodeRow(users, row(1, "x", 1)[:2])
		require.Error(t, err)
		_, _, err = EncodeRow(users, []types.Value{types.NewInt(1), types.NewString("x"), types.NewString("old")})
		require.ErrorIs(t, err, types.ErrType)
		_, err = DecodeRow(users, "1", []byte("Alice"))
		require.Error(t, err)
	})
}

func TestBridge_PointQuery(t *testing.T) {
	ctx := context.Background()
	b, engine := newTestBridge(t, usersTable())

	n, err := b.InsertRow(ctx, "users", "1", []byte("Alice,30"))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	stored, err := engine.Get(ctx, []byte("table:users:1"))
	require.NoError(t, err)
	require.Equal(t, "Alice,30", string(stored))

	rs, err := b.PointQuery(ctx, "users", "1")
	require.NoError(t, err)
	require.Equal(t, []string{"id", "name", "age"}, rs.Columns)
	require.Equal(t, [][]types.Value{row(1, "Alice", 30)}, rs.Rows)

	rs, err = b.PointQuery(ctx, "users", "2")
	require.NoError(t, err)
	require.Empty(t, rs.Rows)

	_, err = b.InsertRow(ctx, "users", "1", []byte("Bob,20"))
	require.ErrorIs(t, err, ErrDuplicateKey)
	require.True(t, qerrors.Is(err, qerrors.KindExecution))
}

func TestBridge_Schemaless(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBridge(t)

	for i := 1; i <= 3; i++ {
		_, err := b.InsertRow(ctx, "kv", fmt.Sprintf("user%d", i), []byte(fmt.Sprintf("user%d", i)))
		require.NoError(t, err)
	}
	n, err := b.DeleteRow(ctx, "kv", "user2")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = b.DeleteRow(ctx, "kv", "user2")
	require.NoError(t, err)
	require.EqualValues(t, 0, n)

	rs, err := b.ScanTable(ctx, "kv", nil, 0)
	require.NoError(t, err)
	require.Equal(t, []string{ValueColumn}, rs.Columns)
	require.Equal(t, [][]types.Value{{types.NewString("user1")}, {types.NewString("user3")}}, rs.Rows)

	n, err = b.UpdateRow(ctx, "kv", "user3", []byte("changed"))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	n, err = b.UpdateRow(ctx, "kv", "user9", []byte("missing"))
	require.NoError(t, err)
	require.EqualValues(t, 0, n)

	rs, err = b.PointQuery(ctx, "kv", "user3")
	require.NoError(t, err)
	require.Equal(t, [][]types.Value{{types.NewString("changed")}}, rs.Rows)
}

func TestBridge_ScanTable(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBridge(t, usersTable())
	b.cfg.ScanLimit = 3

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, b.View().Insert(ctx, usersTable(), row(i, fmt.Sprintf("user%d", i), 20+i)))
	}

	rs, err := b.ScanTable(ctx, "users", []string{"name"}, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"name"}, rs.Columns)
	require.Len(t, rs.Rows, 3)

	var all int
	require.NoError(t, b.ForEachRow(ctx, usersTable(), func([]types.Value) error {
		all++
		return nil
	}))
	require.Equal(t, 5, all)

	_, err = b.ScanTable(ctx, "users", []string{"missing"}, 0)
	require.ErrorIs(t, err, qerrors.ErrColumnNotFound)
}

func TestView_Indexes(t *testing.T) {
	ctx := context.Background()
	users := usersTable()
	b, engine := newTestBridge(t, users)
	v := b.View()

	require.NoError(t, v.Insert(ctx, users, row(1, "alice", 30)))
	require.NoError(t, v.Insert(ctx, users, row(2, "bob", 25)))
	require.NoError(t, v.Insert(ctx, users, row(3, "carol", 30)))

	age := users.Indexes[0]
	lookup := func(f logical.ScanFilter) []types.Value {
		t.Helper()
		keys, err := v.IndexLookup(ctx, users, age, f)
		require.NoError(t, err)
		return keys
	}

	require.Equal(t, []types.Value{types.NewInt(1), types.NewInt(3)},
		lookup(logical.ScanFilter{Column: "age", Op: types.FilterOpEqual, Values: []types.Value{types.NewInt(30)}}))
	require.Equal(t, []types.Value{types.NewInt(2)},
		lookup(logical.ScanFilter{Column: "age", Op: types.FilterOpLt, Values: []types.Value{types.NewInt(30)}}))
	require.Equal(t, []types.Value{types.NewInt(2), types.NewInt(1), types.NewInt(3)},
		lookup(logical.ScanFilter{Column: "age", Op: types.FilterOpIn, Values: []types.Value{types.NewInt(25), types.NewInt(30), types.NewInt(25)}}))

	rows, err := v.MultiGet(ctx, users, []types.Value{types.NewInt(3), types.NewInt(9), types.NewInt(1)})
	require.NoError(t, err)
	require.Equal(t, [][]types.Value{row(3, "carol", 30), row(1, "alice", 30)}, rows)

	t.Run("update moves entries", func(t *testing.T) {
		require.NoError(t, v.Update(ctx, users, row(3, "carol", 30), row(4, "carol", 31)))
		require.Equal(t, []types.Value{types.NewInt(1)},
			lookup(logical.ScanFilter{Column: "age", Op: types.FilterOpEqual, Values: []types.Value{types.NewInt(30)}}))
		require.Equal(t, []types.Value{types.NewInt(4)},
			lookup(logical.ScanFilter{Column: "age", Op: types.FilterOpGte, Values: []types.Value{types.NewInt(31)}}))
		_, ok, err := v.Get(ctx, users, types.NewInt(3))
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("unique", func(t *testing.T) {
		err := v.Insert(ctx, users, row(5, "bob", 50))
		require.ErrorIs(t, err, ErrDuplicateKey)
		// Keeping its own value is not a violation.
		require.NoError(t, v.Update(ctx, users, row(2, "bob", 25), row(2, "bob", 26)))
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, v.Delete(ctx, users, row(1, "alice", 30)))
		require.Empty(t, lookup(logical.ScanFilter{Column: "age", Op: types.FilterOpEqual, Values: []types.Value{types.NewInt(30)}}))
	})

	t.Run("truncate", func(t *testing.T) {
		n, err := v.Truncate(ctx, "users")
		require.NoError(t, err)
		require.Equal(t, 2, n)
		pairs, err := engine.Scan(ctx, []byte("index:users:"), kv.PrefixEnd([]byte("index:users:")), 0)
		require.NoError(t, err)
		require.Empty(t, pairs)
	})
}

func TestView_BuildIndex(t *testing.T) {
	ctx := context.Background()
	users := usersTable()
	users.Indexes = nil
	b, _ := newTestBridge(t, users)
	v := b.View()

	require.NoError(t, v.Insert(ctx, users, row(1, "alice", 30)))
	require.NoError(t, v.Insert(ctx, users, row(2, "bob", 30)))

	idx := catalog.Index{Name: "idx_age", Columns: []string{"age"}}
	require.NoError(t, v.BuildIndex(ctx, users, idx))
	keys, err := v.IndexLookup(ctx, users, idx, logical.ScanFilter{Column: "age", Op: types.FilterOpEqual, Values: []types.Value{types.NewInt(30)}})
	require.NoError(t, err)
	require.Len(t, keys, 2)

	err = v.BuildIndex(ctx, users, catalog.Index{Name: "uniq_age", Columns: []string{"age"}, Unique: true})
	require.ErrorIs(t, err, ErrDuplicateKey)
}
