package executor

import (
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/sealdb/sealdb/pkg/engine/expr"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
	"github.com/sealdb/sealdb/pkg/engine/planner/logical"
	"github.com/sealdb/sealdb/pkg/engine/planner/physical"
)

func TestExecutor_Sort(t *testing.T) {
	spillDir := t.TempDir()
	cfg := testConfig()
	cfg.SpillDir = spillDir
	f := newFixture(t, cfg)

	keys := []logical.SortKey{
		{Expr: expr.NewColumn("u.age"), Order: types.SortOrderDesc},
		{Expr: expr.NewColumn("u.id"), Order: types.SortOrderAsc},
	}
	all := rows(vals(5), vals(1), vals(3), vals(2), vals(4))

	for _, tc := range []struct {
		name string
		sort *physical.Sort
		want [][]types.Value
	}{
		{
			name: "in memory",
			sort: &physical.Sort{Strategy: physical.SortInMemory, Keys: keys},
			want: all,
		},
		{
			name: "top n",
			sort: &physical.Sort{Strategy: physical.SortTopN, Keys: keys, N: 2},
			want: rows(vals(5), vals(1)),
		},
		{
			name: "top n larger than input",
			sort: &physical.Sort{Strategy: physical.SortTopN, Keys: keys, N: 10},
			want: all,
		},
		{
			name: "top zero",
			sort: &physical.Sort{Strategy: physical.SortTopN, Keys: keys, N: 0},
		},
		{
			name: "external",
			sort: &physical.Sort{Strategy: physical.SortExternal, Keys: keys, MemoryBytes: 1},
			want: all,
		},
		{
			name: "external within budget",
			sort: &physical.Sort{Strategy: physical.SortExternal, Keys: keys, MemoryBytes: 1 << 20},
			want: all,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tc.sort.Child = f.scan("users", "u", "id", "age")
			res := f.run(&physical.Project{
				Columns: []logical.NamedExpr{{Expr: expr.NewColumn("u.id"), Name: "id"}},
				Child:   tc.sort,
			})
			require.Equal(t, tc.want, res.Rows)

			entries, err := os.ReadDir(spillDir)
			require.NoError(t, err)
			require.Empty(t, entries, "spilled runs are removed once the sort closes")
		})
	}

	t.Run("spilled runs are counted", func(t *testing.T) {
		before := testutil.ToFloat64(f.exec.metrics.spilledRuns)
		f.run(&physical.Sort{Strategy: physical.SortExternal, Keys: keys, MemoryBytes: 1, Child: f.scan("users", "u", "id", "age")})
		require.Greater(t, testutil.ToFloat64(f.exec.metrics.spilledRuns), before)
	})

	t.Run("nulls sort first", func(t *testing.T) {
		res := f.run(&physical.Sort{
			Keys:  []logical.SortKey{{Expr: expr.NewColumn("u.age"), Order: types.SortOrderAsc}},
			Child: f.scan("users", "u", "age"),
		})
		require.Equal(t, rows(vals(nil), vals(25), vals(30), vals(30), vals(41)), res.Rows)
	})
}

func TestMergeSorted(t *testing.T) {
	ord := newOrdering([]string{"x"}, []logical.SortKey{{Expr: expr.NewColumn("x"), Order: types.SortOrderAsc}})
	source := func(xs ...int) rowSource {
		s := &sliceSource{}
		for _, x := range xs {
			k, err := ord.keyed(vals(x))
			require.NoError(t, err)
			s.rows = append(s.rows, k)
		}
		return s
	}

	next, err := mergeSorted(ord, []rowSource{source(1, 4, 7), source(), source(2, 4, 9), source(3)})
	require.NoError(t, err)

	var got [][]types.Value
	for {
		row, err := next()
		if err == EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, row)
	}
	require.Equal(t, rows(vals(1), vals(2), vals(3), vals(4), vals(4), vals(7), vals(9)), got)
}
