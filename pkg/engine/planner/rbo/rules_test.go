package rbo

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sealdb/sealdb/pkg/engine/catalog"
	"github.com/sealdb/sealdb/pkg/engine/expr"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
	"github.com/sealdb/sealdb/pkg/engine/planner/logical"
	"github.com/sealdb/sealdb/pkg/engine/planner/stats"
)

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
			{Name: "idx_name", Columns: []string{"name"}},
		},
	}
}

func ordersTable() *catalog.Table {
	return &catalog.Table{
		Name: "orders",
		Columns: []catalog.Column{
			{Name: "id", Type: types.ValueTypeInt},
			{Name: "user_id", Type: types.ValueTypeInt},
			{Name: "amount", Type: types.ValueTypeFloat},
		},
		PrimaryKey: "id",
	}
}

func tagsTable() *catalog.Table {
	return &catalog.Table{
		Name: "tags",
		Columns: []catalog.Column{
			{Name: "id", Type: types.ValueTypeStr},
			{Name: "label", Type: types.ValueTypeStr},
		},
		PrimaryKey: "id",
	}
}

func labelledTagsTable() *catalog.Table {
	t := tagsTable()
	t.Indexes = []catalog.Index{{Name: "idx_label", Columns: []string{"label"}}}
	return t
}

func filteredScan(t *catalog.Table, filters ...logical.ScanFilter) *logical.Scan {
	scan := logical.NewScan(t, "")
	scan.Filters = filters
	return scan
}

func col(name string) *expr.Column { return expr.NewColumn(name) }

func gt(name string, v int64) expr.Expr {
	return expr.Binary(col(name), types.BinOpKindGt, expr.Int(v))
}

func printPlan(n logical.Node) string {
	return (&logical.QueryPlan{Root: n}).String()
}

func apply(t *testing.T, r Rule, n logical.Node) logical.Node {
	t.Helper()
	out, err := r.Apply(n)
	require.NoError(t, err)
	require.NoError(t, (&logical.QueryPlan{Root: out}).Validate())
	return out
}

func TestConstantFolding(t *testing.T) {
	r := constantFolding{}

	t.Run("arithmetic", func(t *testing.T) {
		in := logical.NewBuilder(logical.NewScan(usersTable(), "")).
			Filter(expr.Binary(col("age"), types.BinOpKindGt, expr.Binary(expr.Int(10), types.BinOpKindAdd, expr.Int(5)))).
			Node()
		out := apply(t, r, in)
		require.Equal(t, "age > 15", out.(*logical.Filter).Condition.String())
	})

	t.Run("comparison of literals", func(t *testing.T) {
		in := &logical.Filter{Condition: expr.Binary(expr.Int(1), types.BinOpKindLt, expr.Int(2)), Child: logical.NewScan(usersTable(), "")}
		out := apply(t, r, in)
		require.True(t, expr.IsBoolLiteral(out.(*logical.Filter).Condition, true))
	})

	t.Run("division by zero is left alone", func(t *testing.T) {
		in := logical.NewBuilder(&logical.Values{Rows: [][]expr.Expr{{}}}).
			Project(logical.NamedExpr{Expr: expr.Binary(expr.Int(1), types.BinOpKindDiv, expr.Int(0)), Name: "x"}).
			Node()
		require.Same(t, in, apply(t, r, in))
	})

	t.Run("aggregate arguments are left alone", func(t *testing.T) {
		sum := expr.Call("SUM", expr.Binary(expr.Int(1), types.BinOpKindAdd, expr.Int(1)))
		agg := logical.NewBuilder(logical.NewScan(usersTable(), "")).Aggregate(nil, sum).Node()
		in := logical.NewBuilder(agg).Project(logical.NamedExpr{Expr: sum, Name: "s"}).Node()
		require.Same(t, in, apply(t, r, in))
	})
}

func TestExpressionSimplification(t *testing.T) {
	age := gt("age", 1)
	for _, tc := range []struct {
		name string
		cond expr.Expr
		want string // empty when the filter is removed
	}{
		{name: "and true", cond: expr.And(age, expr.Bool(true)), want: "age > 1"},
		{name: "or false", cond: expr.Or(expr.Bool(false), age), want: "age > 1"},
		{name: "and false", cond: expr.And(age, expr.Bool(false)), want: "false"},
		{name: "or true", cond: expr.Or(age, expr.Bool(true))},
		{name: "double negation", cond: expr.Not(expr.Not(age)), want: "age > 1"},
		{name: "duplicate conjunct", cond: expr.And(age, gt("age", 1)), want: "age > 1"},
		{name: "nested", cond: expr.And(expr.Or(age, expr.Bool(false)), expr.Not(expr.Not(expr.Bool(true)))), want: "age > 1"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			scan := logical.NewScan(usersTable(), "")
			out := apply(t, expressionSimplification{}, &logical.Filter{Condition: tc.cond, Child: scan})
			if tc.want == "" {
				require.Same(t, scan, out)
				return
			}
			require.Equal(t, tc.want, out.(*logical.Filter).Condition.String())
		})
	}

	t.Run("unchanged", func(t *testing.T) {
		in := &logical.Filter{Condition: expr.And(age, gt("id", 3)), Child: logical.NewScan(usersTable(), "")}
		require.Same(t, in, apply(t, expressionSimplification{}, in))
	})

	t.Run("true join condition", func(t *testing.T) {
		in := &logical.Join{Left: logical.NewScan(usersTable(), "u"), Right: logical.NewScan(ordersTable(), "o"), Condition: expr.Bool(true)}
		out := apply(t, expressionSimplification{}, in)
		require.Nil(t, out.(*logical.Join).Condition)
	})
}

func TestExpressionRules_Idempotent(t *testing.T) {
	age := gt("age", 1)
	scan := func() logical.Node { return logical.NewScan(usersTable(), "") }
	filter := func(cond expr.Expr) logical.Node { return &logical.Filter{Condition: cond, Child: scan()} }

	for _, tc := range []struct {
		name string
		node logical.Node
	}{
		{name: "nested connectives", node: filter(expr.And(expr.And(age, expr.Bool(true)), gt("age", 1)))},
		{name: "triple negation", node: filter(expr.Not(expr.Not(expr.Not(age))))},
		{name: "or of and", node: filter(expr.Or(expr.And(age, expr.Bool(false)), expr.Or(gt("id", 2), expr.Bool(false))))},
		{name: "folded comparison", node: filter(expr.Binary(col("age"), types.BinOpKindGt, expr.Binary(expr.Int(10), types.BinOpKindAdd, expr.Int(5))))},
		{name: "comparison of literals", node: filter(expr.And(age, expr.Binary(expr.Int(1), types.BinOpKindLt, expr.Int(2))))},
		{name: "nested arithmetic", node: logical.NewBuilder(scan()).
			Project(logical.NamedExpr{Expr: expr.Binary(expr.Binary(expr.Int(2), types.BinOpKindMul, expr.Int(3)), types.BinOpKindAdd, col("age")), Name: "x"}).
			Node()},
		{name: "division by zero", node: filter(expr.Binary(col("age"), types.BinOpKindGt, expr.Binary(expr.Int(1), types.BinOpKindDiv, expr.Int(0))))},
	} {
		for _, r := range []Rule{constantFolding{}, expressionSimplification{}} {
			t.Run(tc.name+"/"+r.Name(), func(t *testing.T) {
				once := apply(t, r, tc.node)
				require.Same(t, once, apply(t, r, once))
			})
		}
		t.Run(tc.name+"/both", func(t *testing.T) {
			once := apply(t, expressionSimplification{}, apply(t, constantFolding{}, tc.node))
			require.Same(t, once, apply(t, constantFolding{}, once))
			require.Same(t, once, apply(t, expressionSimplification{}, once))
		})
	}

	t.Run("triple negation keeps one NOT", func(t *testing.T) {
		out := apply(t, expressionSimplification{}, filter(expr.Not(expr.Not(expr.Not(age)))))
		require.Equal(t, "NOT (age > 1)", out.(*logical.Filter).Condition.String())
	})
}

func TestSubqueryFlattening(t *testing.T) {
	r := subqueryFlattening{}

	t.Run("projection of kept columns", func(t *testing.T) {
		in := logical.NewBuilder(logical.NewScan(usersTable(), "")).
			Filter(gt("users.age", 1)).
			Select("id", "age").
			Alias("t").
			Node()
		out := apply(t, r, in)
		require.Equal(t, `Filter condition=t.age > 1
└── Scan table=users columns=(id, age) alias=t
`, printPlan(out))
		require.Equal(t, in.Schema(), out.Schema())
	})

	t.Run("no projection", func(t *testing.T) {
		in := logical.NewBuilder(logical.NewScan(usersTable(), "")).Alias("t").Node()
		out := apply(t, r, in)
		scan := out.(*logical.Scan)
		require.Equal(t, "t", scan.Alias)
		require.Equal(t, []string{"t.id", "t.name", "t.age"}, out.Schema())
	})

	for _, tc := range []struct {
		name string
		node logical.Node
	}{
		{
			name: "renamed column",
			node: logical.NewBuilder(logical.NewScan(usersTable(), "")).
				Project(logical.NamedExpr{Expr: col("id"), Name: "uid"}).
				Alias("t").Node(),
		},
		{
			name: "filter on dropped column",
			node: logical.NewBuilder(logical.NewScan(usersTable(), "")).
				Filter(gt("age", 1)).
				Select("id").
				Alias("t").Node(),
		},
		{
			name: "aggregate",
			node: logical.NewBuilder(logical.NewScan(usersTable(), "")).
				Aggregate([]expr.Expr{col("age")}).
				Alias("t").Node(),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.Same(t, tc.node, apply(t, r, tc.node))
		})
	}
}

func TestPredicatePushdown(t *testing.T) {
	r := predicatePushdown{}

	t.Run("split across an inner join", func(t *testing.T) {
		in := logical.NewBuilder(logical.NewScan(usersTable(), "u")).
			Join(logical.NewScan(ordersTable(), "o"), nil, types.JoinTypeInner).
			Filter(expr.Conjoin([]expr.Expr{gt("u.age", 30), gt("o.amount", 100), expr.Eq(col("u.id"), col("o.user_id"))})).
			Node()
		out := apply(t, r, in)
		require.Equal(t, `Join type=INNER on=u.id = o.user_id
├── Scan table=users columns=(id, name, age) alias=u filters=(age > 30)
└── Scan table=orders columns=(id, user_id, amount) alias=o filters=(amount > 100)
`, printPlan(out))
	})

	t.Run("join condition on one input", func(t *testing.T) {
		in := logical.NewBuilder(logical.NewScan(usersTable(), "u")).
			Join(logical.NewScan(ordersTable(), "o"), expr.And(expr.Eq(col("u.id"), col("o.user_id")), gt("o.amount", 100)), types.JoinTypeLeft).
			Node()
		out := apply(t, r, in).(*logical.Join)
		require.Equal(t, "u.id = o.user_id", out.Condition.String())
		require.Len(t, out.Right.(*logical.Scan).Filters, 1)
		require.Empty(t, out.Left.(*logical.Scan).Filters)
	})

	t.Run("outer join keeps filters on the nullable side", func(t *testing.T) {
		in := logical.NewBuilder(logical.NewScan(usersTable(), "u")).
			Join(logical.NewScan(ordersTable(), "o"), expr.Eq(col("u.id"), col("o.user_id")), types.JoinTypeLeft).
			Filter(gt("o.amount", 100)).
			Node()
		require.Same(t, in, apply(t, r, in))
	})

	t.Run("through a projection", func(t *testing.T) {
		in := logical.NewBuilder(logical.NewScan(usersTable(), "")).
			Project(logical.NamedExpr{Expr: col("age"), Name: "years"}).
			Filter(gt("years", 18)).
			Node()
		out := apply(t, r, in)
		require.Equal(t, `Project columns=(age AS years)
└── Scan table=users columns=(id, name, age) filters=(age > 18)
`, printPlan(out))
	})

	t.Run("below grouping on group keys only", func(t *testing.T) {
		count := expr.Call("COUNT", col(expr.Star))
		in := logical.NewBuilder(logical.NewScan(usersTable(), "")).
			Aggregate([]expr.Expr{col("age")}, count).
			Filter(expr.And(gt("age", 30), expr.Binary(count, types.BinOpKindGt, expr.Int(1)))).
			Node()
		out := apply(t, r, in)
		require.Equal(t, `Filter condition=COUNT(*) > 1
└── Aggregate group_by=(age) aggregates=(COUNT(*))
    └── Scan table=users columns=(id, name, age) filters=(age > 30)
`, printPlan(out))
	})

	t.Run("into a derived table", func(t *testing.T) {
		in := logical.NewBuilder(logical.NewScan(usersTable(), "")).
			Alias("t").
			Filter(gt("t.age", 30)).
			Node()
		out := apply(t, r, in).(*logical.SubqueryAlias)
		require.Equal(t, []logical.ScanFilter{{Column: "age", Op: types.FilterOpGt, Values: []types.Value{types.NewInt(30)}}}, out.Child.(*logical.Scan).Filters)
	})

	for _, tc := range []struct {
		name string
		node logical.Node
	}{
		{
			name: "limit",
			node: logical.NewBuilder(logical.NewScan(usersTable(), "")).Limit(0, 10).Filter(gt("age", 30)).Node(),
		},
		{
			name: "column comparison",
			node: logical.NewBuilder(logical.NewScan(usersTable(), "")).Filter(expr.Binary(col("age"), types.BinOpKindGt, col("id"))).Node(),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.Same(t, tc.node, apply(t, r, tc.node))
		})
	}
}

func TestColumnPruning(t *testing.T) {
	r := columnPruning{}

	t.Run("projection and filter", func(t *testing.T) {
		in := logical.NewBuilder(logical.NewScan(usersTable(), "u")).
			Filter(gt("u.age", 30)).
			Select("u.name").
			Node()
		out := apply(t, r, in)
		require.Equal(t, `Project columns=(u.name)
└── Filter condition=u.age > 30
    └── Scan table=users columns=(name, age) alias=u
`, printPlan(out))
	})

	t.Run("join", func(t *testing.T) {
		in := logical.NewBuilder(logical.NewScan(usersTable(), "u")).
			Join(logical.NewScan(ordersTable(), "o"), expr.Eq(col("u.id"), col("o.user_id")), types.JoinTypeInner).
			Select("u.name").
			Node()
		out := apply(t, r, in)
		join := out.(*logical.Project).Child.(*logical.Join)
		require.Equal(t, []string{"id", "name"}, join.Left.(*logical.Scan).Columns)
		require.Equal(t, []string{"user_id"}, join.Right.(*logical.Scan).Columns)
	})

	t.Run("count star reads the key", func(t *testing.T) {
		in := logical.NewBuilder(logical.NewScan(usersTable(), "")).
			Aggregate(nil, expr.Call("COUNT", col(expr.Star))).
			Node()
		out := apply(t, r, in)
		require.Equal(t, []string{"id"}, out.(*logical.Aggregate).Child.(*logical.Scan).Columns)
	})

	t.Run("no projection", func(t *testing.T) {
		in := logical.NewBuilder(logical.NewScan(usersTable(), "")).Filter(gt("age", 30)).Node()
		require.Same(t, in, apply(t, r, in))
	})

	t.Run("distinct needs every column", func(t *testing.T) {
		in := logical.NewBuilder(logical.NewScan(usersTable(), "")).Distinct().Limit(0, 3).Node()
		require.Same(t, in, apply(t, r, in))
	})
}

func testEnv(tables map[string]stats.TableStats) Env {
	return Env{Stats: stats.NewSnapshot(tables)}.withDefaults()
}

func TestJoinReorder(t *testing.T) {
	env := testEnv(map[string]stats.TableStats{
		"users":  {RowCount: 100},
		"orders": {RowCount: 100000},
	})
	r := joinReorder{env: env}
	join := func(typ types.JoinType) logical.Node {
		return &logical.Join{
			Left:      logical.NewScan(usersTable(), "u"),
			Right:     logical.NewScan(ordersTable(), "o"),
			Condition: expr.Eq(col("u.id"), col("o.user_id")),
			JoinType:  typ,
		}
	}

	t.Run("smaller input moves right", func(t *testing.T) {
		in := logical.NewBuilder(join(types.JoinTypeInner)).Select("u.name", "o.amount").Node()
		out := apply(t, r, in)
		j := out.(*logical.Project).Child.(*logical.Join)
		require.Equal(t, "orders", j.Left.(*logical.Scan).Table.Name)
		require.Equal(t, "users", j.Right.(*logical.Scan).Table.Name)
		require.Equal(t, in.Schema(), out.Schema())

		// Applying again changes nothing.
		require.Same(t, out, apply(t, r, out))
	})

	t.Run("column order visible", func(t *testing.T) {
		in := join(types.JoinTypeInner)
		require.Same(t, in, apply(t, r, in))
	})

	t.Run("outer join", func(t *testing.T) {
		in := logical.NewBuilder(join(types.JoinTypeLeft)).Select("u.name").Node()
		require.Same(t, in, apply(t, r, in))
	})

	t.Run("default statistics", func(t *testing.T) {
		in := logical.NewBuilder(join(types.JoinTypeInner)).Select("u.name").Node()
		require.Same(t, in, apply(t, joinReorder{env: Env{}.withDefaults()}, in))
	})
}

func TestIndexSelection(t *testing.T) {
	scan := func(filters ...logical.ScanFilter) *logical.Scan {
		s := logical.NewScan(usersTable(), "")
		s.Filters = filters
		return s
	}
	eq := func(column string, v types.Value) logical.ScanFilter {
		return logical.ScanFilter{Column: column, Op: types.FilterOpEqual, Values: []types.Value{v}}
	}
	ageEq := eq("age", types.NewInt(30))
	nameEq := eq("name", types.NewString("bob"))

	for _, tc := range []struct {
		name  string
		env   Env
		scan  *logical.Scan
		index string
	}{
		{
			name:  "most selective index from statistics",
			env:   testEnv(map[string]stats.TableStats{"users": {RowCount: 1000, Indexes: map[string]stats.IndexStats{"idx_age": {Selectivity: 0.1}, "idx_name": {Selectivity: 0.001}}}}),
			scan:  scan(ageEq, nameEq),
			index: "idx_name",
		},
		{
			name:  "ties keep the first filter",
			env:   testEnv(nil),
			scan:  scan(ageEq, nameEq),
			index: "idx_age",
		},
		{
			name:  "equality beats range",
			env:   testEnv(nil),
			scan:  scan(logical.ScanFilter{Column: "age", Op: types.FilterOpGt, Values: []types.Value{types.NewInt(1)}}, nameEq),
			index: "idx_name",
		},
		{
			name:  "range",
			env:   testEnv(nil),
			scan:  scan(logical.ScanFilter{Column: "age", Op: types.FilterOpLte, Values: []types.Value{types.NewInt(1)}}),
			index: "idx_age",
		},
		{
			name: "no index on column",
			env:  testEnv(nil),
			scan: scan(eq("id", types.NewInt(1))),
		},
		{
			name: "not equal",
			env:  testEnv(nil),
			scan: scan(logical.ScanFilter{Column: "age", Op: types.FilterOpNotEqual, Values: []types.Value{types.NewInt(1)}}),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			out := apply(t, indexSelection{env: tc.env}, tc.scan)
			if tc.index == "" {
				require.Same(t, tc.scan, out)
				return
			}
			require.Equal(t, tc.index, out.(*logical.Scan).Index)
		})
	}
}

func TestOrderByOptimization(t *testing.T) {
	r := orderByOptimization{}
	asc := func(name string) logical.SortKey { return logical.SortKey{Expr: col(name), Order: types.SortOrderAsc} }

	t.Run("sort over sort", func(t *testing.T) {
		scan := logical.NewScan(usersTable(), "")
		in := logical.NewBuilder(scan).Sort(asc("age")).Sort(asc("name")).Node()
		out := apply(t, r, in).(*logical.Sort)
		require.Equal(t, []logical.SortKey{asc("name")}, out.Keys)
		require.Same(t, scan, out.Child)
	})

	t.Run("string key order", func(t *testing.T) {
		filter := logical.NewBuilder(logical.NewScan(tagsTable(), "")).Filter(gt("label", 1)).Node()
		in := logical.NewBuilder(filter).Sort(asc("tags.id")).Node()
		require.Same(t, filter, apply(t, r, in))
	})

	t.Run("range on the key", func(t *testing.T) {
		scan := filteredScan(tagsTable(), logical.ScanFilter{Column: "id", Op: types.FilterOpGte, Values: []types.Value{types.NewString("b")}})
		in := logical.NewBuilder(scan).Sort(asc("id")).Node()
		require.Same(t, scan, apply(t, r, in))
	})

	for _, tc := range []struct {
		name string
		node logical.Node
	}{
		{name: "integer key", node: logical.NewBuilder(logical.NewScan(usersTable(), "")).Sort(asc("id")).Node()},
		{name: "descending", node: logical.NewBuilder(logical.NewScan(tagsTable(), "")).Sort(logical.SortKey{Expr: col("id"), Order: types.SortOrderDesc}).Node()},
		{name: "not the key", node: logical.NewBuilder(logical.NewScan(tagsTable(), "")).Sort(asc("label")).Node()},
		{name: "key lookup", node: logical.NewBuilder(filteredScan(tagsTable(), logical.ScanFilter{
			Column: "id", Op: types.FilterOpIn, Values: []types.Value{types.NewString("c"), types.NewString("a")},
		})).Sort(asc("id")).Node()},
		{name: "indexed filter", node: logical.NewBuilder(filteredScan(labelledTagsTable(), logical.ScanFilter{
			Column: "label", Op: types.FilterOpGt, Values: []types.Value{types.NewString("m")},
		})).Sort(asc("id")).Node()},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.Same(t, tc.node, apply(t, r, tc.node))
		})
	}
}

func TestGroupByOptimization(t *testing.T) {
	r := groupByOptimization{}
	count := expr.Call("COUNT", col(expr.Star))

	t.Run("duplicate and constant keys", func(t *testing.T) {
		in := logical.NewBuilder(logical.NewScan(usersTable(), "")).
			Aggregate([]expr.Expr{col("age"), expr.Int(1), col("age")}, count).
			Node()
		out := apply(t, r, in)
		require.Equal(t, in.Schema(), out.Schema())
		agg := out.(*logical.Project).Child.(*logical.Aggregate)
		require.Equal(t, []expr.Expr{col("age")}, agg.GroupBy)

		require.Same(t, out, apply(t, r, out))
	})

	t.Run("only constants", func(t *testing.T) {
		in := logical.NewBuilder(logical.NewScan(usersTable(), "")).
			Aggregate([]expr.Expr{expr.Int(1), expr.Int(2)}, count).
			Node()
		out := apply(t, r, in)
		require.Equal(t, in.Schema(), out.Schema())
		require.Equal(t, []expr.Expr{expr.Int(1)}, out.(*logical.Project).Child.(*logical.Aggregate).GroupBy)
	})

	t.Run("already minimal", func(t *testing.T) {
		in := logical.NewBuilder(logical.NewScan(usersTable(), "")).
			Aggregate([]expr.Expr{col("age"), col("name")}, count).
			Node()
		require.Same(t, in, apply(t, r, in))
	})
}

func TestDistinctOptimization(t *testing.T) {
	r := distinctOptimization{}
	agg := func() logical.Node {
		return logical.NewBuilder(logical.NewScan(usersTable(), "")).
			Aggregate([]expr.Expr{col("age"), col("name")}, expr.Call("COUNT", col(expr.Star))).
			Node()
	}

	t.Run("distinct over distinct", func(t *testing.T) {
		inner := logical.NewBuilder(logical.NewScan(usersTable(), "")).Distinct().Node()
		require.Same(t, inner, apply(t, r, &logical.Distinct{Child: inner}))
	})

	t.Run("distinct over aggregate", func(t *testing.T) {
		a := agg()
		require.Same(t, a, apply(t, r, &logical.Distinct{Child: a}))
	})

	t.Run("projection keeps group keys", func(t *testing.T) {
		p := logical.NewBuilder(agg()).Select("name", "age").Node()
		require.Same(t, p, apply(t, r, &logical.Distinct{Child: p}))
	})

	t.Run("projection drops a group key", func(t *testing.T) {
		in := logical.NewBuilder(agg()).Select("age").Distinct().Node()
		require.Same(t, in, apply(t, r, in))
	})
}

func TestLimitOptimization(t *testing.T) {
	r := limitOptimization{}

	for _, tc := range []struct {
		name                  string
		outerSkip, outerFetch uint64
		innerSkip, innerFetch uint64
		wantSkip, wantFetch   uint64
	}{
		{name: "offsets add up", outerSkip: 2, outerFetch: 5, innerSkip: 1, innerFetch: 10, wantSkip: 3, wantFetch: 5},
		{name: "inner bound wins", outerSkip: 0, outerFetch: 10, innerSkip: 0, innerFetch: 3, wantSkip: 0, wantFetch: 3},
		{name: "outer skips past inner", outerSkip: 5, outerFetch: 10, innerSkip: 0, innerFetch: 3, wantSkip: 5, wantFetch: 0},
		{name: "unbounded inner", outerSkip: 1, outerFetch: 4, innerSkip: 2, innerFetch: logical.NoFetch, wantSkip: 3, wantFetch: 4},
	} {
		t.Run(tc.name, func(t *testing.T) {
			in := logical.NewBuilder(logical.NewScan(usersTable(), "")).
				Filter(gt("age", 1)).
				Limit(tc.innerSkip, tc.innerFetch).
				Limit(tc.outerSkip, tc.outerFetch).
				Node()
			out := apply(t, r, in).(*logical.Limit)
			require.Equal(t, tc.wantSkip, out.Skip)
			require.Equal(t, tc.wantFetch, out.Fetch)
			require.IsType(t, &logical.Filter{}, out.Child)
		})
	}

	t.Run("into the scan", func(t *testing.T) {
		in := logical.NewBuilder(logical.NewScan(usersTable(), "")).Select("name").Limit(2, 5).Node()
		out := apply(t, r, in)
		require.Equal(t, `Limit offset=2 fetch=5
└── Project columns=(name)
    └── Scan table=users columns=(id, name, age) limit=7
`, printPlan(out))
		require.Same(t, out, apply(t, r, out))
	})

	for _, tc := range []struct {
		name string
		node logical.Node
	}{
		{name: "filter in between", node: logical.NewBuilder(logical.NewScan(usersTable(), "")).Filter(gt("age", 1)).Limit(0, 5).Node()},
		{name: "zero fetch", node: logical.NewBuilder(logical.NewScan(usersTable(), "")).Limit(0, 0).Node()},
		{name: "offset only", node: logical.NewBuilder(logical.NewScan(usersTable(), "")).Limit(3, logical.NoFetch).Node()},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.Same(t, tc.node, apply(t, r, tc.node))
		})
	}
}

func TestUnionOptimization(t *testing.T) {
	r := unionOptimization{}
	ids := func(tbl *catalog.Table) logical.Node {
		return logical.NewBuilder(logical.NewScan(tbl, "")).Select("id").Node()
	}

	t.Run("left-deep union all", func(t *testing.T) {
		a, b, c := ids(usersTable()), ids(ordersTable()), ids(tagsTable())
		in := logical.NewBuilder(a).SetOp(types.SetOpUnion, true, logical.NewBuilder(b).SetOp(types.SetOpUnion, true, c).Node()).Node()
		out := apply(t, r, in).(*logical.SetOp)
		require.Same(t, c, out.Right)
		left := out.Left.(*logical.SetOp)
		require.Same(t, a, left.Left)
		require.Same(t, b, left.Right)
	})

	t.Run("identical inputs", func(t *testing.T) {
		left := ids(usersTable())
		in := logical.NewBuilder(left).SetOp(types.SetOpUnion, false, ids(usersTable())).Node()
		out := apply(t, r, in)
		require.Same(t, left, out.(*logical.Distinct).Child)
	})

	t.Run("different inputs", func(t *testing.T) {
		in := logical.NewBuilder(ids(usersTable())).SetOp(types.SetOpUnion, false, ids(ordersTable())).Node()
		require.Same(t, in, apply(t, r, in))
	})
}
