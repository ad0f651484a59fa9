package cost

import (
	"github.com/sealdb/sealdb/pkg/engine/expr"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
)

// PredicateSelectivity estimates the fraction of rows for which e holds.
//
// Comparisons are priced by their operator and the boolean connectives by
// their name. The operands are not inspected: `a AND b` has the selectivity
// of AND regardless of a and b.
func (m *Model) PredicateSelectivity(e expr.Expr) float64 {
	s := &m.Selectivity
	switch e := e.(type) {
	case *expr.BinaryOp:
		switch e.Op {
		case types.BinOpKindEq:
			return s.Equal
		case types.BinOpKindLt, types.BinOpKindLte, types.BinOpKindGt, types.BinOpKindGte:
			return s.Range
		case types.BinOpKindNeq:
			return s.NotEqual
		}
		return s.Default
	case *expr.Function:
		switch e.Name {
		case expr.FuncAnd:
			return s.And
		case expr.FuncOr:
			return s.Or
		case expr.FuncNot:
			return s.Not
		}
		return s.Default
	}
	return s.Default
}

// FilterSelectivity estimates the fraction of rows that pass a scan filter
// with operator op.
func (m *Model) FilterSelectivity(op types.FilterOp) float64 {
	s := &m.Selectivity
	switch {
	case op == types.FilterOpEqual:
		return s.Equal
	case op == types.FilterOpNotEqual:
		return s.NotEqual
	case op.IsRange():
		return s.Range
	}
	return s.Default
}

// ConjunctionSelectivity multiplies the selectivities of independent
// conjuncts. An empty list selects every row.
func ConjunctionSelectivity(sels ...float64) float64 {
	out := 1.0
	for _, s := range sels {
		out *= s
	}
	return out
}

// JoinSelectivity estimates the fraction of the cross product that satisfies
// a join condition. A nil condition is a cross join.
func (m *Model) JoinSelectivity(cond expr.Expr) float64 {
	if cond == nil {
		return 1
	}
	s := &m.Selectivity
	if bin, ok := cond.(*expr.BinaryOp); ok {
		if bin.Op == types.BinOpKindEq {
			return s.EquiJoin
		}
		return s.Join
	}
	return s.OtherJoin
}
