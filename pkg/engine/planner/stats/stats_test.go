package stats

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/sealdb/sealdb/pkg/engine/catalog"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
)

type sliceSource map[string][][]types.Value

func (s sliceSource) ForEachRow(ctx context.Context, table *catalog.Table, fn func([]types.Value) error) error {
	rows, ok := s[table.Name]
	if !ok {
		return errors.New("no such table")
	}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

func usersTable() *catalog.Table {
	return &catalog.Table{
		Name: "users",
		Columns: []catalog.Column{
			{Name: "id", Type: types.ValueTypeInt},
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

// usersRows returns n rows whose age cycles through 10 values and whose name
// is NULL for every fourth row.
func usersRows(n int) [][]types.Value {
	rows := make([][]types.Value, n)
	for i := range rows {
		name := types.NewString(fmt.Sprintf("user%03d", i))
		if i%4 == 3 {
			name = types.Null
		}
		rows[i] = []types.Value{types.NewInt(int64(i + 1)), name, types.NewInt(int64(20 + i%10))}
	}
	return rows
}

func testCollectorConfig() CollectorConfig {
	return CollectorConfig{SampleSize: 1000, HistogramBuckets: 10, MostCommonValues: 3, Concurrency: 2}
}

func TestDefaultTableStats(t *testing.T) {
	ts := DefaultTableStats()
	require.Equal(t, uint64(10000), ts.RowCount)
	require.Equal(t, uint64(100), ts.PageCount)

	require.Equal(t, uint64(0), PagesFor(0))
	require.Equal(t, uint64(1), PagesFor(1))
	require.Equal(t, uint64(2), PagesFor(101))
}

func TestManager(t *testing.T) {
	m := NewManager(log.NewNopLogger())
	before := m.Snapshot()
	_, ok := before.Table("users")
	require.False(t, ok)

	m.Update("Users", TableStats{RowCount: 42})
	after := m.Snapshot()

	ts, ok := after.Table("users")
	require.True(t, ok)
	require.Equal(t, uint64(42), ts.RowCount)

	// Published snapshots never change.
	_, ok = before.Table("users")
	require.False(t, ok)
	require.Equal(t, 0, before.Len())

	m.Remove("users")
	_, ok = m.Snapshot().Table("users")
	require.False(t, ok)
	_, ok = after.Table("users")
	require.True(t, ok)
}

func TestCollector_AnalyzeTable(t *testing.T) {
	table := usersTable()
	c := NewCollector(testCollectorConfig(), sliceSource{"users": usersRows(100)}, NewManager(log.NewNopLogger()), log.NewNopLogger())

	ts, err := c.AnalyzeTable(context.Background(), table)
	require.NoError(t, err)
	require.Equal(t, uint64(100), ts.RowCount)
	require.Equal(t, uint64(1), ts.PageCount)
	require.Equal(t, uint64(100), ts.SampleSize)
	require.False(t, ts.LastAnalyzed.IsZero())
	require.Greater(t, ts.AvgRowSize, 16.0)

	t.Run("primary key", func(t *testing.T) {
		id, ok := ts.Column("id")
		require.True(t, ok)
		require.InDelta(t, 100, float64(id.DistinctCount), 3)
		require.Equal(t, 0.0, id.NullFraction)
		require.Equal(t, types.NewInt(1), id.Min)
		require.Equal(t, types.NewInt(100), id.Max)
		require.Empty(t, id.MostCommon)
		require.Len(t, id.HistogramBounds, 11)
		require.Equal(t, 1.0, id.HistogramBounds[0])
		for i := 1; i < len(id.HistogramBounds); i++ {
			require.LessOrEqual(t, id.HistogramBounds[i-1], id.HistogramBounds[i])
		}
	})

	t.Run("repeated values", func(t *testing.T) {
		age, ok := ts.Column("AGE")
		require.True(t, ok)
		require.InDelta(t, 10, float64(age.DistinctCount), 1)
		require.Equal(t, []types.Value{types.NewInt(20), types.NewInt(21), types.NewInt(22)}, age.MostCommon)
		require.Equal(t, []float64{0.1, 0.1, 0.1}, age.MostCommonFreqs)
		require.Equal(t, 8.0, age.AvgWidth)
	})

	t.Run("nullable string", func(t *testing.T) {
		name, ok := ts.Column("name")
		require.True(t, ok)
		require.Equal(t, 0.25, name.NullFraction)
		require.InDelta(t, 75, float64(name.DistinctCount), 3)
		require.Empty(t, name.HistogramBounds)
		require.Equal(t, types.NewString("user000"), name.Min)
	})

	t.Run("indexes", func(t *testing.T) {
		age, ok := ts.Index("idx_age")
		require.True(t, ok)
		require.False(t, age.Unique)
		require.InDelta(t, 10, float64(age.DistinctCount), 1)
		require.InDelta(t, 0.1, age.Selectivity, 0.02)
		require.Equal(t, uint64(1), age.PageCount)

		name, ok := ts.Index("idx_name")
		require.True(t, ok)
		require.True(t, name.Unique)
		require.Equal(t, uint64(100), name.DistinctCount)
		require.Equal(t, 0.01, name.Selectivity)
	})
}

func TestCollector_EmptyTable(t *testing.T) {
	c := NewCollector(testCollectorConfig(), sliceSource{"users": nil}, NewManager(log.NewNopLogger()), log.NewNopLogger())
	ts, err := c.AnalyzeTable(context.Background(), usersTable())
	require.NoError(t, err)
	require.Equal(t, uint64(0), ts.RowCount)
	require.Equal(t, uint64(0), ts.PageCount)
	require.Equal(t, 0.0, ts.AvgRowSize)

	id, ok := ts.Column("id")
	require.True(t, ok)
	require.Equal(t, uint64(0), id.DistinctCount)
}

func TestCollector_Analyze(t *testing.T) {
	orders := &catalog.Table{
		Name:       "orders",
		Columns:    []catalog.Column{{Name: "id", Type: types.ValueTypeInt}, {Name: "amount", Type: types.ValueTypeFloat}},
		PrimaryKey: "id",
	}
	source := sliceSource{
		"users":  usersRows(250),
		"orders": {{types.NewInt(1), types.NewFloat(9.5)}, {types.NewInt(2), types.NewFloat(3)}},
	}
	m := NewManager(log.NewNopLogger())
	c := NewCollector(testCollectorConfig(), source, m, log.NewNopLogger())

	require.NoError(t, c.Analyze(context.Background(), usersTable(), orders))

	snap := m.Snapshot()
	require.Equal(t, 2, snap.Len())
	users, ok := snap.Table("users")
	require.True(t, ok)
	require.Equal(t, uint64(250), users.RowCount)
	require.Equal(t, uint64(3), users.PageCount)

	o, ok := snap.Table("orders")
	require.True(t, ok)
	require.Equal(t, uint64(2), o.RowCount)

	t.Run("failures are reported", func(t *testing.T) {
		missing := &catalog.Table{Name: "missing", Columns: []catalog.Column{{Name: "id", Type: types.ValueTypeInt}}}
		err := c.Analyze(context.Background(), missing)
		require.ErrorContains(t, err, "analyze table missing")
	})
}

func TestCollectorConfig_Validate(t *testing.T) {
	cfg := testCollectorConfig()
	require.NoError(t, cfg.Validate())

	cfg.SampleSize = 0
	require.ErrorContains(t, cfg.Validate(), "sample size")
}
