package storage

import (
	"context"
	"testing"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/sealdb/sealdb/pkg/engine/catalog"
	qerrors "github.com/sealdb/sealdb/pkg/engine/internal/errors"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
	"github.com/sealdb/sealdb/pkg/kv"
)

// countingEngine counts the writes that reach the engine.
type countingEngine struct {
	kv.Engine
	puts int
}

func (e *countingEngine) Put(ctx context.Context, key, value []byte) error {
	e.puts++
	return e.Engine.Put(ctx, key, value)
}

func TestExecuteBatch(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBridge(t, usersTable())

	ops := []Operation{
		{ID: "a", Kind: OperationInsert, Table: "users", Key: "1", Value: []byte("Alice,30")},
		{Kind: OperationInsert, Key: "users:2", Value: []byte("Bob,25")},
		{ID: "c", Kind: OperationSelect, Table: "users", Key: "1"},
		{ID: "d", Kind: OperationInsert, Table: "users", Key: "1", Value: []byte("Again,1")},
		{ID: "e", Kind: OperationDelete, Table: "users", Key: "2"},
		{ID: "f", Kind: OperationScan, Table: "users"},
	}
	results, err := b.ExecuteBatch(ctx, ops)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrDuplicateKey)
	require.Len(t, results, len(ops))

	require.Equal(t, "a", results[0].ID)
	require.NotEmpty(t, results[1].ID, "missing ids are generated")
	for i, want := range []bool{true, true, true, false, true, true} {
		require.Equal(t, want, results[i].Success, "operation %d", i)
	}
	require.Equal(t, [][]types.Value{row(1, "Alice", 30)}, results[2].Rows)
	require.EqualValues(t, 1, results[4].AffectedRows)
	require.Equal(t, [][]types.Value{row(1, "Alice", 30)}, results[5].Rows)
}

func TestExecuteBatch_Validation(t *testing.T) {
	ctx := context.Background()
	engine := &countingEngine{Engine: kv.NewMemory()}
	b := NewBridge(testConfig(), engine, catalog.NewStatic(), log.NewNopLogger())

	for _, tc := range []struct {
		name string
		op   Operation
	}{
		{name: "unknown kind", op: Operation{Table: "t", Key: "1"}},
		{name: "no table", op: Operation{Kind: OperationDelete, Key: "1"}},
		{name: "no key", op: Operation{Kind: OperationSelect, Table: "t"}},
		{name: "no value", op: Operation{Kind: OperationInsert, Table: "t", Key: "1"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ops := []Operation{{ID: "ok", Kind: OperationInsert, Table: "t", Key: tc.name, Value: []byte("v")}, tc.op}
			results, err := b.ExecuteBatch(ctx, ops)
			require.ErrorIs(t, err, ErrInvalidOperation)
			require.True(t, results[0].Success)
			require.False(t, results[1].Success)
			require.ErrorIs(t, results[1].Error, ErrInvalidOperation)
		})
	}

	t.Run("validated before storage", func(t *testing.T) {
		engine.puts = 0
		_, err := b.ExecuteBatchInTransaction(ctx, []Operation{
			{Kind: OperationInsert, Table: "t", Key: "x", Value: []byte("v")},
			{Kind: OperationUpdate, Table: "t", Key: "x"},
		})
		require.ErrorIs(t, err, ErrInvalidOperation)
		require.Zero(t, engine.puts)
	})
}

func TestExecuteInTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("rollback", func(t *testing.T) {
		b, engine := newTestBridge(t)
		errAbort := errors.New("abort")
		err := b.ExecuteInTransaction(ctx, func(ctx context.Context, v *View) error {
			if _, err := v.InsertRow(ctx, "kv", "a", []byte("1")); err != nil {
				return err
			}
			if _, err := v.InsertRow(ctx, "kv", "b", []byte("2")); err != nil {
				return err
			}
			rs, err := v.ScanTable(ctx, "kv", nil, 0)
			require.NoError(t, err)
			require.Len(t, rs.Rows, 2, "transactions read their own writes")
			return errAbort
		})
		require.ErrorIs(t, err, errAbort)

		for _, k := range []string{"a", "b"} {
			_, err := engine.Get(ctx, RowKey("kv", k))
			require.ErrorIs(t, err, kv.ErrNotFound)
		}
	})

	t.Run("commit", func(t *testing.T) {
		b, engine := newTestBridge(t, usersTable())
		err := b.ExecuteInTransaction(ctx, func(ctx context.Context, v *View) error {
			return v.Insert(ctx, usersTable(), row(1, "alice", 30))
		})
		require.NoError(t, err)
		_, err = engine.Get(ctx, RowKey("users", "1"))
		require.NoError(t, err)
	})

	t.Run("batch is atomic", func(t *testing.T) {
		b, engine := newTestBridge(t, usersTable())
		results, err := b.ExecuteBatchInTransaction(ctx, []Operation{
			{ID: "1", Kind: OperationInsert, Table: "users", Key: "1", Value: []byte("alice,30")},
			{ID: "2", Kind: OperationInsert, Table: "users", Key: "2", Value: []byte("alice,31")},
			{ID: "3", Kind: OperationInsert, Table: "users", Key: "3", Value: []byte("carol,32")},
		})
		require.ErrorIs(t, err, ErrDuplicateKey)
		require.True(t, qerrors.Is(err, qerrors.KindExecution) || qerrors.Is(err, qerrors.KindTransaction))
		require.Len(t, results, 3)
		for _, r := range results {
			require.False(t, r.Success)
		}
		require.ErrorIs(t, results[0].Error, errRolledBack)
		require.ErrorIs(t, results[1].Error, ErrDuplicateKey)
		require.ErrorIs(t, results[2].Error, errRolledBack)

		_, err = engine.Get(ctx, RowKey("users", "1"))
		require.ErrorIs(t, err, kv.ErrNotFound)
	})
}
