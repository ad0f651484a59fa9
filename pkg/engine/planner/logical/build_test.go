package logical

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sealdb/sealdb/pkg/engine/catalog"
	"github.com/sealdb/sealdb/pkg/engine/expr"
	qerrors "github.com/sealdb/sealdb/pkg/engine/internal/errors"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
	"github.com/sealdb/sealdb/pkg/engine/syntax"
)

func testCatalog() catalog.Static {
	return catalog.NewStatic(
		&catalog.Table{
			Name: "users",
			Columns: []catalog.Column{
				{Name: "id", Type: types.ValueTypeInt},
				{Name: "name", Type: types.ValueTypeStr},
				{Name: "age", Type: types.ValueTypeInt},
			},
			PrimaryKey: "id",
			Indexes:    []catalog.Index{{Name: "idx_age", Columns: []string{"age"}}},
		},
		&catalog.Table{
			Name: "orders",
			Columns: []catalog.Column{
				{Name: "id", Type: types.ValueTypeInt},
				{Name: "user_id", Type: types.ValueTypeInt},
				{Name: "amount", Type: types.ValueTypeFloat},
			},
			PrimaryKey: "id",
		},
	)
}

func star() []syntax.SelectItem {
	return []syntax.SelectItem{{Expr: expr.NewColumn(expr.Star)}}
}

func col(name string) *expr.Column { return expr.NewColumn(name) }

func TestBuild_Select(t *testing.T) {
	for _, tc := range []struct {
		name string
		stmt syntax.Statement
		want string
	}{
		{
			name: "point lookup",
			stmt: &syntax.Select{
				Items: star(),
				From:  &syntax.TableName{Name: "users"},
				Where: expr.Eq(col("id"), expr.Int(1)),
			},
			want: `Project columns=(users.id, users.name, users.age)
└── Filter condition=id = 1
    └── Scan table=users columns=(id, name, age)
`,
		},
		{
			name: "group by with having and order",
			stmt: &syntax.Select{
				Items: []syntax.SelectItem{
					{Expr: col("age")},
					{Expr: expr.Call("count", col(expr.Star)), Alias: "n"},
				},
				From:    &syntax.TableName{Name: "users"},
				GroupBy: []expr.Expr{col("age")},
				Having:  expr.Binary(expr.Call("COUNT", col(expr.Star)), types.BinOpKindGt, expr.Int(1)),
				OrderBy: []syntax.OrderItem{{Expr: col("n"), Order: types.SortOrderDesc}},
				Limit:   syntax.Limit(3),
			},
			want: `Limit offset=0 fetch=3
└── Project columns=(age, COUNT(*) AS n)
    └── Sort keys=(COUNT(*) DESC)
        └── Filter condition=COUNT(*) > 1
            └── Aggregate group_by=(age) aggregates=(COUNT(*))
                └── Scan table=users columns=(id, name, age)
`,
		},
		{
			name: "join",
			stmt: &syntax.Select{
				Items: []syntax.SelectItem{{Expr: col("u.name")}, {Expr: col("o.amount")}},
				From: &syntax.JoinExpr{
					Left:  &syntax.TableName{Name: "users", Alias: "u"},
					Right: &syntax.TableName{Name: "orders", Alias: "o"},
					Type:  types.JoinTypeInner,
					On:    expr.Eq(col("u.id"), col("o.user_id")),
				},
			},
			want: `Project columns=(u.name, o.amount)
└── Join type=INNER on=u.id = o.user_id
    ├── Scan table=users columns=(id, name, age) alias=u
    └── Scan table=orders columns=(id, user_id, amount) alias=o
`,
		},
		{
			name: "union with order by",
			stmt: &syntax.Select{
				Items: []syntax.SelectItem{{Expr: col("id")}},
				From:  &syntax.TableName{Name: "users"},
				SetOp: &syntax.SetOperation{Kind: types.SetOpUnion, Right: &syntax.Select{
					Items: []syntax.SelectItem{{Expr: col("user_id")}},
					From:  &syntax.TableName{Name: "orders"},
				}},
				OrderBy: []syntax.OrderItem{{Expr: col("id")}},
			},
			want: `Sort keys=(id ASC)
└── SetOp kind=UNION
    ├── Project columns=(id)
    │   └── Scan table=users columns=(id, name, age)
    └── Project columns=(user_id)
        └── Scan table=orders columns=(id, user_id, amount)
`,
		},
		{
			name: "select without from",
			stmt: &syntax.Select{Items: []syntax.SelectItem{{Expr: expr.Binary(expr.Int(1), types.BinOpKindAdd, expr.Int(2))}}},
			want: `Project columns=(1 + 2)
└── Values columns=() rows=1
`,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			plan, err := Build(tc.stmt, testCatalog())
			require.NoError(t, err)
			require.Equal(t, tc.want, plan.String())
		})
	}
}

func TestBuild_Write(t *testing.T) {
	plan, err := Build(&syntax.Insert{
		Table: "users",
		Rows:  [][]expr.Expr{{expr.Int(1), expr.Str("Alice"), expr.Int(30)}},
	}, testCatalog())
	require.NoError(t, err)
	ins := plan.Root.(*Insert)
	require.Equal(t, []string{"id", "name", "age"}, ins.Columns)
	require.Equal(t, NodeTypeValues, ins.Source.Type())

	plan, err = Build(&syntax.Update{
		Table: "users",
		Set:   []syntax.Assignment{{Column: "AGE", Value: expr.Binary(col("age"), types.BinOpKindAdd, expr.Int(1))}},
		Where: expr.Eq(col("id"), expr.Int(1)),
	}, testCatalog())
	require.NoError(t, err)
	upd := plan.Root.(*Update)
	require.Equal(t, "age", upd.Set[0].Column)
	require.Equal(t, NodeTypeFilter, upd.Child.Type())

	plan, err = Build(&syntax.Explain{Statement: &syntax.Delete{Table: "users"}}, testCatalog())
	require.NoError(t, err)
	require.Equal(t, NodeTypeScan, plan.Root.(*Delete).Child.Type())
}

func TestBuild_Errors(t *testing.T) {
	for _, tc := range []struct {
		name   string
		stmt   syntax.Statement
		errMsg string
	}{
		{
			name:   "unknown table",
			stmt:   &syntax.Select{Items: star(), From: &syntax.TableName{Name: "missing"}},
			errMsg: "table not found",
		},
		{
			name:   "unknown column",
			stmt:   &syntax.Select{Items: []syntax.SelectItem{{Expr: col("email")}}, From: &syntax.TableName{Name: "users"}},
			errMsg: "column not found",
		},
		{
			name: "ambiguous column",
			stmt: &syntax.Select{
				Items: []syntax.SelectItem{{Expr: col("id")}},
				From: &syntax.JoinExpr{
					Left:  &syntax.TableName{Name: "users"},
					Right: &syntax.TableName{Name: "orders"},
					On:    expr.Eq(col("users.id"), col("orders.user_id")),
				},
			},
			errMsg: "ambiguous",
		},
		{
			name: "aggregate in where",
			stmt: &syntax.Select{
				Items: star(),
				From:  &syntax.TableName{Name: "users"},
				Where: expr.Binary(expr.Call("SUM", col("age")), types.BinOpKindGt, expr.Int(1)),
			},
			errMsg: "not allowed in WHERE",
		},
		{
			name: "star with group by",
			stmt: &syntax.Select{
				Items:   star(),
				From:    &syntax.TableName{Name: "users"},
				GroupBy: []expr.Expr{col("age")},
			},
			errMsg: "SELECT *",
		},
		{
			name: "set operation arity",
			stmt: &syntax.Select{
				Items: star(),
				From:  &syntax.TableName{Name: "users"},
				SetOp: &syntax.SetOperation{Kind: types.SetOpExcept, Right: &syntax.Select{
					Items: []syntax.SelectItem{{Expr: col("id")}},
					From:  &syntax.TableName{Name: "orders"},
				}},
			},
			errMsg: "same number of columns",
		},
		{
			name:   "insert without primary key",
			stmt:   &syntax.Insert{Table: "users", Columns: []string{"name"}, Rows: [][]expr.Expr{{expr.Str("x")}}},
			errMsg: "primary key",
		},
		{
			name:   "insert non constant",
			stmt:   &syntax.Insert{Table: "users", Columns: []string{"id"}, Rows: [][]expr.Expr{{col("age")}}},
			errMsg: "not a constant",
		},
		{
			name:   "update primary key",
			stmt:   &syntax.Update{Table: "users", Set: []syntax.Assignment{{Column: "id", Value: expr.Int(2)}}},
			errMsg: "cannot update primary key",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Build(tc.stmt, testCatalog())
			require.ErrorContains(t, err, tc.errMsg)
			require.True(t, qerrors.Is(err, qerrors.KindPlanning))
		})
	}
}

func TestQueryPlan_Validate(t *testing.T) {
	users, _ := testCatalog().Table("users")
	scan := NewScan(users, "")

	shared := &Join{Left: scan, Right: scan, JoinType: types.JoinTypeInner}
	require.ErrorContains(t, (&QueryPlan{Root: shared}).Validate(), "not a tree")

	missing := &Filter{Condition: expr.Bool(true)}
	require.ErrorContains(t, (&QueryPlan{Root: missing}).Validate(), "missing child")

	require.NoError(t, NewBuilder(scan).Filter(expr.Bool(true)).Limit(0, 1).Plan().Validate())
}

func TestTransform_SharesUntouchedSubtrees(t *testing.T) {
	users, _ := testCatalog().Table("users")
	orders, _ := testCatalog().Table("orders")
	left := NewBuilder(NewScan(users, "")).Filter(expr.Eq(col("id"), expr.Int(1))).Node()
	right := NewScan(orders, "")
	root := NewBuilder(left).Join(right, nil, types.JoinTypeInner).Node()

	out, err := Transform(root, func(n Node) (Node, error) {
		if s, ok := n.(*Scan); ok && s.Table.Name == "orders" {
			c := *s
			c.Limit = 10
			return &c, nil
		}
		return n, nil
	})
	require.NoError(t, err)

	j := out.(*Join)
	require.NotSame(t, root, j)
	require.Same(t, left, j.Left)
	require.Equal(t, uint64(10), j.Right.(*Scan).Limit)
	require.Zero(t, right.Limit, "input tree must not be modified")
}

func TestColumnIndex(t *testing.T) {
	schema := []string{"u.id", "u.name", "o.id", "COUNT(*)"}
	for _, tc := range []struct {
		name string
		want int
		err  error
	}{
		{name: "u.name", want: 1},
		{name: "NAME", want: 1},
		{name: "o.id", want: 2},
		{name: "COUNT(*)", want: 3},
		{name: "id", err: qerrors.ErrAmbiguous},
		{name: "x.id", err: qerrors.ErrColumnNotFound},
		{name: "age", err: qerrors.ErrColumnNotFound},
	} {
		t.Run(tc.name, func(t *testing.T) {
			idx, err := ColumnIndex(schema, tc.name)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, idx)
		})
	}
}

func TestFilterFromExpr(t *testing.T) {
	for _, tc := range []struct {
		name string
		e    expr.Expr
		want string
		ok   bool
	}{
		{name: "column op literal", e: expr.Eq(col("users.id"), expr.Int(1)), want: "id = 1", ok: true},
		{name: "literal op column", e: expr.Binary(expr.Int(18), types.BinOpKindLt, col("age")), want: "age > 18", ok: true},
		{name: "in list", e: expr.In(col("id"), expr.Int(1), expr.Int(2)), want: "id IN (1, 2)", ok: true},
		{name: "other table", e: expr.Eq(col("orders.id"), expr.Int(1))},
		{name: "null literal", e: expr.Eq(col("id"), expr.Null())},
		{name: "two columns", e: expr.Eq(col("id"), col("age"))},
		{name: "function", e: expr.Not(expr.Eq(col("id"), expr.Int(1)))},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f, ok := FilterFromExpr(tc.e, "users")
			require.Equal(t, tc.ok, ok)
			if ok {
				require.Equal(t, tc.want, f.String())
			}
		})
	}
}

func TestScanFilter_Matches(t *testing.T) {
	f := ScanFilter{Column: "age", Op: types.FilterOpGte, Values: []types.Value{types.NewInt(18)}}
	ok, err := f.Matches(types.NewInt(30))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = f.Matches(types.Null)
	require.NoError(t, err)
	require.False(t, ok)

	in := ScanFilter{Column: "name", Op: types.FilterOpIn, Values: []types.Value{types.NewString("a"), types.NewString("b")}}
	ok, err = in.Matches(types.NewString("b"))
	require.NoError(t, err)
	require.True(t, ok)
}
