package expr

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sealdb/sealdb/pkg/engine/internal/types"
)

type mapBindings map[string]types.Value

func (m mapBindings) Get(name string) (types.Value, error) {
	v, ok := m[name]
	if !ok {
		return types.Null, fmt.Errorf("no column %s", name)
	}
	return v, nil
}

func TestEval(t *testing.T) {
	row := mapBindings{
		"id":   types.NewInt(7),
		"name": types.NewString("Alice"),
		"age":  types.NewInt(30),
		"bio":  types.Null,
	}

	for _, tc := range []struct {
		expr     Expr
		expected types.Value
	}{
		{Eq(NewColumn("id"), Int(7)), types.NewBool(true)},
		{Binary(NewColumn("age"), types.BinOpKindGt, Int(40)), types.NewBool(false)},
		{Binary(NewColumn("age"), types.BinOpKindAdd, Int(5)), types.NewInt(35)},
		{Binary(NewColumn("age"), types.BinOpKindDiv, Float(4)), types.NewFloat(7.5)},
		{Binary(Int(7), types.BinOpKindDiv, Int(2)), types.NewInt(3)},
		{Binary(NewColumn("name"), types.BinOpKindLike, Str("Al%")), types.NewBool(true)},
		{Binary(NewColumn("name"), types.BinOpKindLike, Str("_lice")), types.NewBool(true)},
		{Binary(NewColumn("name"), types.BinOpKindLike, Str("a%")), types.NewBool(false)},
		{In(NewColumn("id"), Int(1), Int(7)), types.NewBool(true)},
		{In(NewColumn("id"), Int(1), Int(2)), types.NewBool(false)},
		{In(NewColumn("id"), Int(1), Null()), types.Null},
		{Eq(NewColumn("bio"), Str("x")), types.Null},
		{And(Eq(NewColumn("bio"), Str("x")), Bool(false)), types.NewBool(false)},
		{Or(Eq(NewColumn("bio"), Str("x")), Bool(true)), types.NewBool(true)},
		{And(Eq(NewColumn("bio"), Str("x")), Bool(true)), types.Null},
		{Not(Eq(NewColumn("id"), Int(1))), types.NewBool(true)},
		{Call("upper", NewColumn("name")), types.NewString("ALICE")},
		{Call("coalesce", NewColumn("bio"), Str("n/a")), types.NewString("n/a")},
		{Call("abs", Int(-3)), types.NewInt(3)},
	} {
		t.Run(tc.expr.String(), func(t *testing.T) {
			v, err := Eval(tc.expr, row)
			require.NoError(t, err)
			require.Equal(t, tc.expected.Type(), v.Type())
			require.True(t, tc.expected.Equal(v), "expected %s, got %s", tc.expected, v)
		})
	}
}

func TestEval_Errors(t *testing.T) {
	_, err := Eval(Binary(Int(1), types.BinOpKindDiv, Int(0)), NoBindings)
	require.ErrorIs(t, err, ErrDivideByZero)

	_, err = Eval(Binary(Str("a"), types.BinOpKindLt, Int(1)), NoBindings)
	require.ErrorIs(t, err, types.ErrType)

	_, err = Eval(Call("nope"), NoBindings)
	require.ErrorIs(t, err, ErrUnknownFunction)

	_, err = Eval(NewColumn("id"), NoBindings)
	require.Error(t, err)
}

func TestEval_AggregateReadsColumn(t *testing.T) {
	row := mapBindings{"COUNT(*)": types.NewInt(4)}
	v, err := Eval(Binary(Call("count", NewColumn(Star)), types.BinOpKindMul, Int(2)), row)
	require.NoError(t, err)
	require.Equal(t, int64(8), v.Int())
}

func TestString(t *testing.T) {
	e := And(Eq(NewColumn("id"), Int(1)), Or(NewColumn("a"), Not(NewColumn("b"))))
	require.Equal(t, "(id = 1) AND (a OR (NOT b))", e.String())
	require.Equal(t, "name IN ('x', 'y''z')", In(NewColumn("name"), Str("x"), Str("y'z")).String())
	require.Equal(t, "COUNT(*)", Call("count", NewColumn(Star)).String())
}

func TestTransform(t *testing.T) {
	orig := And(Eq(NewColumn("a"), Int(1)), Eq(NewColumn("b"), Int(2)))

	out, err := Transform(orig, func(e Expr) (Expr, error) {
		if c, ok := e.(*Column); ok && c.Name == "b" {
			return NewColumn("c"), nil
		}
		return e, nil
	})
	require.NoError(t, err)
	require.Equal(t, "(a = 1) AND (c = 2)", out.String())
	require.Equal(t, "(a = 1) AND (b = 2)", orig.String(), "input must not be mutated")

	// The untouched left conjunct is shared with the result.
	require.Same(t, orig.Args[0], out.(*Function).Args[0])
}

func TestHelpers(t *testing.T) {
	pred := And(And(Eq(NewColumn("a"), Int(1)), Eq(NewColumn("b"), NewColumn("a"))), NewColumn("c"))

	conjuncts := SplitConjunction(pred)
	require.Len(t, conjuncts, 3)
	require.True(t, Equal(pred, Conjoin(conjuncts)))
	require.Equal(t, []string{"a", "b", "c"}, Columns(pred))

	require.True(t, IsConstant(Binary(Int(1), types.BinOpKindAdd, Int(2))))
	require.False(t, IsConstant(Eq(NewColumn("a"), Int(1))))
	require.True(t, ContainsAggregate(Binary(Call("sum", NewColumn("x")), types.BinOpKindAdd, Int(1))))
	require.Nil(t, Conjoin(nil))
}
