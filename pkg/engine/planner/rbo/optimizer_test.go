package rbo

import (
	"context"
	"testing"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/sealdb/sealdb/pkg/engine/expr"
	qerrors "github.com/sealdb/sealdb/pkg/engine/internal/errors"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
	"github.com/sealdb/sealdb/pkg/engine/planner/logical"
	"github.com/sealdb/sealdb/pkg/engine/planner/stats"
)

func TestDefaultRules_Order(t *testing.T) {
	var names []string
	for _, r := range DefaultRules(Env{}) {
		names = append(names, r.Name())
	}
	require.Equal(t, []string{
		"ConstantFolding",
		"ExpressionSimplification",
		"SubqueryFlattening",
		"PredicatePushdown",
		"ColumnPruning",
		"JoinReorder",
		"IndexSelection",
		"OrderByOptimization",
		"GroupByOptimization",
		"DistinctOptimization",
		"LimitOptimization",
		"UnionOptimization",
	}, names)
	require.Equal(t, 1, RuleSetVersion)
}

// reportQuery joins users and orders below a derived table, with filters
// that can all be pushed to the scans.
func reportQuery() *logical.QueryPlan {
	users := logical.NewBuilder(logical.NewScan(usersTable(), "")).
		Filter(expr.Binary(col("users.age"), types.BinOpKindGt, expr.Binary(expr.Int(20), types.BinOpKindAdd, expr.Int(10)))).
		Select("id", "name", "age").
		Alias("u").
		Node()
	return logical.NewBuilder(users).
		Join(logical.NewScan(ordersTable(), "o"), nil, types.JoinTypeInner).
		Filter(expr.And(expr.Eq(col("u.id"), col("o.user_id")), expr.And(gt("o.amount", 100), expr.Bool(true)))).
		Select("u.name", "o.amount").
		Limit(0, 10).
		Plan()
}

func TestOptimizer_Optimize(t *testing.T) {
	o := NewOptimizer(DefaultConfig(), log.NewNopLogger())
	env := Env{Stats: stats.NewSnapshot(map[string]stats.TableStats{
		"users":  {RowCount: 50},
		"orders": {RowCount: 5000},
	})}

	in := reportQuery()
	before := in.String()
	out, err := o.Optimize(context.Background(), in, env)
	require.NoError(t, err)
	require.Equal(t, before, in.String(), "input plan must not change")

	require.Equal(t, `Limit offset=0 fetch=10
└── Project columns=(u.name, o.amount)
    └── Join type=INNER on=u.id = o.user_id
        ├── Scan table=orders columns=(user_id, amount) alias=o filters=(amount > 100)
        └── Scan table=users columns=(id, name) alias=u index=idx_age filters=(age > 30)
`, out.String())

	t.Run("idempotent", func(t *testing.T) {
		again, err := o.Optimize(context.Background(), out, env)
		require.NoError(t, err)
		require.Equal(t, out.String(), again.String())
	})
}

func TestOptimizer_DisabledRules(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnablePredicatePushdown = false
	o := NewOptimizer(cfg, log.NewNopLogger())

	in := logical.NewBuilder(logical.NewScan(usersTable(), "")).Filter(gt("age", 30)).Select("name").Plan()
	out, err := o.Optimize(context.Background(), in, Env{})
	require.NoError(t, err)
	require.Equal(t, `Project columns=(name)
└── Filter condition=age > 30
    └── Scan table=users columns=(name, age)
`, out.String())
}

func TestOptimizer_Errors(t *testing.T) {
	o := NewOptimizer(DefaultConfig(), log.NewNopLogger())

	t.Run("invalid plan", func(t *testing.T) {
		_, err := o.Optimize(context.Background(), &logical.QueryPlan{}, Env{})
		require.True(t, qerrors.Is(err, qerrors.KindOptimization))
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := o.Optimize(ctx, reportQuery(), Env{})
		require.ErrorIs(t, err, context.Canceled)
		require.True(t, qerrors.Is(err, qerrors.KindCancelled))
	})
}

func TestOptimizer_Metrics(t *testing.T) {
	o := NewOptimizer(DefaultConfig(), log.NewNopLogger())
	reg := prometheus.NewRegistry()
	require.NoError(t, o.Register(reg))
	defer o.Unregister(reg)

	_, err := o.Optimize(context.Background(), reportQuery(), Env{})
	require.NoError(t, err)
	require.Equal(t, 1.0, testutil.ToFloat64(o.metrics.optimizations.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(o.metrics.ruleApplications.WithLabelValues("ConstantFolding")))
}

func TestOptimizer_SinglePass(t *testing.T) {
	ids := func(name string) logical.Node {
		return logical.NewBuilder(logical.NewScan(usersTable(), "")).
			Project(logical.NamedExpr{Expr: col("id"), Name: name}).
			Node()
	}
	a, b, c, d := ids("a"), ids("b"), ids("c"), ids("d")
	union := func(l, r logical.Node) logical.Node {
		return logical.NewBuilder(l).SetOp(types.SetOpUnion, true, r).Node()
	}
	in := &logical.QueryPlan{Root: union(a, union(b, union(c, d)))}

	o := NewOptimizer(DefaultConfig(), log.NewNopLogger())
	out, err := o.Optimize(context.Background(), in, Env{})
	require.NoError(t, err)
	require.Equal(t, 1.0, testutil.ToFloat64(o.metrics.ruleApplications.WithLabelValues("UnionOptimization")))

	// Walk the chain from the last input to the first.
	var names []string
	n := out.Root
	for {
		s, ok := n.(*logical.SetOp)
		if !ok {
			names = append(names, n.Schema()[0])
			break
		}
		_, nested := s.Right.(*logical.SetOp)
		require.False(t, nested, "union all chain is not left-deep:\n%s", out)
		names = append(names, s.Right.Schema()[0])
		n = s.Left
	}
	require.Equal(t, []string{"d", "c", "b", "a"}, names)

	t.Run("rule application limit", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MaxRuleApplications = 1
		o := NewOptimizer(cfg, log.NewNopLogger())

		out, err := o.Optimize(context.Background(), reportQuery(), Env{})
		require.NoError(t, err)
		require.Equal(t, 1.0, testutil.ToFloat64(o.metrics.ruleApplications.WithLabelValues("ConstantFolding")))
		require.Equal(t, 0.0, testutil.ToFloat64(o.metrics.ruleApplications.WithLabelValues("PredicatePushdown")))
		require.Contains(t, out.String(), "Filter condition=users.age > 30")
	})
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 10, cfg.MaxRuleApplications)
	require.True(t, cfg.EnableUnionOptimization)

	cfg.MaxRuleApplications = 0
	require.Error(t, cfg.Validate())
}
