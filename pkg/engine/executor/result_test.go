package executor

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"

	"github.com/sealdb/sealdb/pkg/engine/internal/types"
)

func TestQueryResult_Record(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	res := &QueryResult{
		Columns: []string{"id", "name", "score", "active", "nothing"},
		Rows: [][]types.Value{
			vals(1, "Alice", 1.5, true, nil),
			vals(2, nil, 2, false, nil),
		},
	}
	rec := res.Record(mem)
	defer rec.Release()

	require.EqualValues(t, 2, rec.NumRows())
	want := []arrow.DataType{
		arrow.PrimitiveTypes.Int64,
		arrow.BinaryTypes.String,
		arrow.PrimitiveTypes.Float64,
		arrow.FixedWidthTypes.Boolean,
		arrow.Null,
	}
	for i, typ := range want {
		require.True(t, arrow.TypeEqual(typ, rec.Schema().Field(i).Type), "column %s", res.Columns[i])
	}

	require.Equal(t, []int64{1, 2}, rec.Column(0).(*array.Int64).Int64Values())
	names := rec.Column(1).(*array.String)
	require.Equal(t, "Alice", names.Value(0))
	require.True(t, names.IsNull(1))
	require.Equal(t, []float64{1.5, 2}, rec.Column(2).(*array.Float64).Float64Values())
	require.Equal(t, 2, rec.Column(4).NullN())
}

func TestDrain(t *testing.T) {
	op := NewRowsOperator([]string{"x"}, rows(vals(1), vals(2), vals(3)), 2)
	res, err := Drain(t.Context(), op)
	require.NoError(t, err)
	require.Equal(t, []string{"x"}, res.Columns)
	require.Equal(t, rows(vals(1), vals(2), vals(3)), res.Rows)
}
