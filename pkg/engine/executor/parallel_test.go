package executor

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sealdb/sealdb/pkg/engine/expr"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
	"github.com/sealdb/sealdb/pkg/engine/planner/logical"
	"github.com/sealdb/sealdb/pkg/engine/planner/physical"
)

func TestExecutor_Parallel(t *testing.T) {
	f := newFixture(t, testConfig())
	users := f.table("users")
	for i := 100; i < 400; i++ {
		var age any
		if i%7 != 0 {
			age = 20 + i%13
		}
		require.NoError(t, f.env.View.Insert(t.Context(), users, vals(i, fmt.Sprintf("user-%d", i), age)))
	}

	age := expr.NewColumn("u.age")
	pipelines := map[string]func() physical.Node{
		"scan": func() physical.Node {
			return f.scan("users", "u", "id", "name", "age")
		},
		"filter project": func() physical.Node {
			return &physical.Project{
				Columns: []logical.NamedExpr{{Expr: expr.NewColumn("u.id"), Name: "id"}},
				Child: &physical.Filter{
					Condition: expr.Binary(age, types.BinOpKindGt, expr.Int(25)),
					Child:     f.scan("users", "u", "id", "age"),
				},
			}
		},
		"aggregate": func() physical.Node {
			return &physical.Aggregate{
				GroupBy: []expr.Expr{age},
				Aggregates: []*expr.Function{
					expr.Call("COUNT", expr.NewColumn(expr.Star)),
					expr.Call("SUM", expr.NewColumn("u.id")),
					expr.Call("AVG", expr.NewColumn("u.id")),
					expr.Call("MIN", expr.NewColumn("u.name")),
					expr.Call("MAX", expr.NewColumn("u.id")),
				},
				Child: f.scan("users", "u", "id", "name", "age"),
			}
		},
		"sort": func() physical.Node {
			return &physical.Sort{
				Keys: []logical.SortKey{
					{Expr: age, Order: types.SortOrderDesc},
					{Expr: expr.NewColumn("u.id"), Order: types.SortOrderAsc},
				},
				Child: f.scan("users", "u", "id", "age"),
			}
		},
		"top n": func() physical.Node {
			return &physical.Sort{
				Strategy: physical.SortTopN,
				N:        17,
				Keys:     []logical.SortKey{{Expr: expr.NewColumn("u.name"), Order: types.SortOrderAsc}},
				Child:    f.scan("users", "u", "id", "name"),
			}
		},
		"index scan": func() physical.Node {
			filter := logical.ScanFilter{Column: "age", Op: types.FilterOpGte, Values: vals(30)}
			return &physical.Scan{
				Method: physical.ScanMethodIndex, Table: users, Alias: "u", Columns: []string{"id", "age"},
				Filters: []logical.ScanFilter{filter}, Indexes: []string{"idx_age"}, IndexFilters: []logical.ScanFilter{filter},
			}
		},
		"batch scan": func() physical.Node {
			return &physical.Scan{
				Method: physical.ScanMethodBatch, Table: users, Alias: "u", Columns: []string{"id", "name"},
				Keys: vals(305, 120, 399, 200),
			}
		},
		"limited scan": func() physical.Node {
			scan := f.scan("users", "u", "id")
			scan.Limit = 11
			return scan
		},
	}

	for name, pipeline := range pipelines {
		for _, workers := range []int{1, 3, 8} {
			t.Run(fmt.Sprintf("%s/workers=%d", name, workers), func(t *testing.T) {
				serial := f.run(pipeline())
				parallel := f.run(&physical.Parallel{Workers: workers, Child: pipeline()})
				require.Equal(t, serial.Columns, parallel.Columns)
				require.Equal(t, serial.Rows, parallel.Rows)
				require.NotEmpty(t, parallel.Rows)
			})
		}
	}

	t.Run("not a scan pipeline", func(t *testing.T) {
		_, err := f.query(&physical.Parallel{Workers: 2, Child: values([]string{"x"}, vals(1))})
		require.ErrorContains(t, err, "is not a scan pipeline")
	})
}

func TestShardRangesCoverTable(t *testing.T) {
	f := newFixture(t, testConfig())
	users := f.table("users")
	scan := f.scan("users", "u", "id")

	for _, shards := range []int{1, 2, 5, 300} {
		ctx := &Context{cfg: f.exec.cfg, env: f.env, logger: f.exec.logger, metrics: f.exec.metrics}
		parts, res, err := ctx.shardScan(t.Context(), scan, shards)
		require.NoError(t, err)
		res.release()

		var got [][]types.Value
		for _, p := range parts {
			got = append(got, p...)
		}
		var want [][]types.Value
		require.NoError(t, f.env.View.Scan(t.Context(), users, 0, func(row []types.Value) error {
			want = append(want, row[:1])
			return nil
		}))
		require.Equal(t, want, got, "shards=%d", shards)
	}
}
