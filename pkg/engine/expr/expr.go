// Package expr implements the scalar expression trees shared by the planner
// and the executor.
package expr

import (
	"fmt"
	"strings"

	"github.com/sealdb/sealdb/pkg/engine/internal/types"
)

// ExprType represents the type of an expression.
type ExprType uint32

const (
	_ ExprType = iota // zero-value is an invalid type

	ExprTypeColumn
	ExprTypeLiteral
	ExprTypeBinary
	ExprTypeFunction
)

// String returns the string representation of the [ExprType].
func (t ExprType) String() string {
	switch t {
	case ExprTypeColumn:
		return "Column"
	case ExprTypeLiteral:
		return "Literal"
	case ExprTypeBinary:
		return "BinaryOp"
	case ExprTypeFunction:
		return "Function"
	default:
		panic(fmt.Sprintf("unknown expression type %d", t))
	}
}

// Expr is the common interface for all scalar expressions. Expressions are
// immutable once built and evaluation has no side effects.
type Expr interface {
	fmt.Stringer
	Type() ExprType
	isExpr()
}

// Names of the built-in boolean connectives and the value list used by IN.
const (
	FuncAnd  = "AND"
	FuncOr   = "OR"
	FuncNot  = "NOT"
	FuncList = "LIST"
)

// Star is the column name that stands for every column of the input.
const Star = "*"

// Column references a column of the input row by name. The name may be
// qualified as "table.column".
type Column struct {
	Name string
}

func (*Column) isExpr()          {}
func (*Column) Type() ExprType   { return ExprTypeColumn }
func (c *Column) String() string { return c.Name }

// Unqualified returns the column name without a table qualifier.
func (c *Column) Unqualified() string {
	if i := strings.LastIndexByte(c.Name, '.'); i >= 0 {
		return c.Name[i+1:]
	}
	return c.Name
}

// Qualifier returns the table qualifier of the column, if any.
func (c *Column) Qualifier() string {
	if i := strings.LastIndexByte(c.Name, '.'); i >= 0 {
		return c.Name[:i]
	}
	return ""
}

// Literal is a constant value.
type Literal struct {
	Value types.Value
}

func (*Literal) isExpr()        {}
func (*Literal) Type() ExprType { return ExprTypeLiteral }

func (l *Literal) String() string {
	if l.Value.Type() == types.ValueTypeStr {
		return "'" + strings.ReplaceAll(l.Value.Str(), "'", "''") + "'"
	}
	return l.Value.String()
}

// BinaryOp applies a comparison or arithmetic operator to two operands.
type BinaryOp struct {
	Left  Expr
	Op    types.BinOpKind
	Right Expr
}

func (*BinaryOp) isExpr()        {}
func (*BinaryOp) Type() ExprType { return ExprTypeBinary }

func (b *BinaryOp) String() string {
	return fmt.Sprintf("%s %s %s", wrap(b.Left), b.Op, wrap(b.Right))
}

// Function is a named call. Boolean connectives are functions named AND, OR
// and NOT; aggregates are functions named after their [types.AggregateFunc].
type Function struct {
	Name string
	Args []Expr
}

func (*Function) isExpr()        {}
func (*Function) Type() ExprType { return ExprTypeFunction }

func (f *Function) String() string {
	switch {
	case (f.Name == FuncAnd || f.Name == FuncOr) && len(f.Args) > 0:
		parts := make([]string, len(f.Args))
		for i, a := range f.Args {
			parts[i] = wrap(a)
		}
		return strings.Join(parts, " "+f.Name+" ")
	case f.Name == FuncNot && len(f.Args) == 1:
		return "NOT " + wrap(f.Args[0])
	case f.Name == FuncList:
		return "(" + joinArgs(f.Args) + ")"
	}
	return f.Name + "(" + joinArgs(f.Args) + ")"
}

func joinArgs(args []Expr) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}

// wrap parenthesizes compound operands.
func wrap(e Expr) string {
	switch e := e.(type) {
	case *BinaryOp:
		return "(" + e.String() + ")"
	case *Function:
		if e.Name == FuncAnd || e.Name == FuncOr || e.Name == FuncNot {
			return "(" + e.String() + ")"
		}
	}
	return e.String()
}

func NewColumn(name string) *Column { return &Column{Name: name} }

func NewLiteral(v types.Value) *Literal { return &Literal{Value: v} }

func Int(v int64) *Literal     { return NewLiteral(types.NewInt(v)) }
func Float(v float64) *Literal { return NewLiteral(types.NewFloat(v)) }
func Str(v string) *Literal    { return NewLiteral(types.NewString(v)) }
func Bool(v bool) *Literal     { return NewLiteral(types.NewBool(v)) }
func Null() *Literal           { return NewLiteral(types.Null) }

// Binary builds a [BinaryOp].
func Binary(left Expr, op types.BinOpKind, right Expr) *BinaryOp {
	return &BinaryOp{Left: left, Op: op, Right: right}
}

// Eq builds `left = right`.
func Eq(left, right Expr) *BinaryOp { return Binary(left, types.BinOpKindEq, right) }

// In builds `left IN (values...)`.
func In(left Expr, values ...Expr) *BinaryOp {
	return Binary(left, types.BinOpKindIn, &Function{Name: FuncList, Args: values})
}

// Call builds a [Function].
func Call(name string, args ...Expr) *Function {
	return &Function{Name: strings.ToUpper(name), Args: args}
}

// And joins two predicates with AND.
func And(left, right Expr) *Function { return Call(FuncAnd, left, right) }

// Or joins two predicates with OR.
func Or(left, right Expr) *Function { return Call(FuncOr, left, right) }

// Not negates a predicate.
func Not(e Expr) *Function { return Call(FuncNot, e) }

// IsBoolLiteral reports whether e is the literal boolean b.
func IsBoolLiteral(e Expr, b bool) bool {
	lit, ok := e.(*Literal)
	return ok && lit.Value.Type() == types.ValueTypeBool && lit.Value.Bool() == b
}

// IsAggregate reports whether e is a call to an aggregate function.
func IsAggregate(e Expr) bool {
	f, ok := e.(*Function)
	if !ok {
		return false
	}
	_, ok = types.ParseAggregateFunc(f.Name)
	return ok
}

// ContainsAggregate reports whether any sub-expression of e is an aggregate.
func ContainsAggregate(e Expr) bool {
	found := false
	Inspect(e, func(e Expr) bool {
		if IsAggregate(e) {
			found = true
		}
		return !found
	})
	return found
}
