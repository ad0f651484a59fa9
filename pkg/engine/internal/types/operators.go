package types

import "fmt"

// BinOpKind denotes the kind of binary operation of an expression.
type BinOpKind int

// Recognized values of [BinOpKind].
const (
	// BinOpKindInvalid indicates an invalid binary operation.
	BinOpKindInvalid BinOpKind = iota

	BinOpKindEq   // Equality comparison (=).
	BinOpKindNeq  // Inequality comparison (!=).
	BinOpKindGt   // Greater than comparison (>).
	BinOpKindGte  // Greater than or equal comparison (>=).
	BinOpKindLt   // Less than comparison (<).
	BinOpKindLte  // Less than or equal comparison (<=).
	BinOpKindLike // SQL LIKE pattern match.
	BinOpKindIn   // Membership in a value list.

	BinOpKindAdd // Addition operation (+).
	BinOpKindSub // Subtraction operation (-).
	BinOpKindMul // Multiplication operation (*).
	BinOpKindDiv // Division operation (/).
	BinOpKindMod // Modulo operation (%).
)

var binOpKindStrings = map[BinOpKind]string{
	BinOpKindInvalid: "invalid",

	BinOpKindEq:   "=",
	BinOpKindNeq:  "!=",
	BinOpKindGt:   ">",
	BinOpKindGte:  ">=",
	BinOpKindLt:   "<",
	BinOpKindLte:  "<=",
	BinOpKindLike: "LIKE",
	BinOpKindIn:   "IN",

	BinOpKindAdd: "+",
	BinOpKindSub: "-",
	BinOpKindMul: "*",
	BinOpKindDiv: "/",
	BinOpKindMod: "%",
}

// String returns a human-readable representation of the binary operation kind.
func (k BinOpKind) String() string {
	if s, ok := binOpKindStrings[k]; ok {
		return s
	}
	return fmt.Sprintf("BinOpKind(%d)", k)
}

// IsComparison reports whether k yields a boolean from two operands.
func (k BinOpKind) IsComparison() bool {
	return k >= BinOpKindEq && k <= BinOpKindIn
}

// IsArithmetic reports whether k is one of + - * / %.
func (k BinOpKind) IsArithmetic() bool {
	return k >= BinOpKindAdd && k <= BinOpKindMod
}

// Flip returns the comparison with its operands swapped, so that
// `lit < col` can be rewritten as `col > lit`.
func (k BinOpKind) Flip() BinOpKind {
	switch k {
	case BinOpKindGt:
		return BinOpKindLt
	case BinOpKindGte:
		return BinOpKindLte
	case BinOpKindLt:
		return BinOpKindGt
	case BinOpKindLte:
		return BinOpKindGte
	}
	return k
}

// FilterOp is the operator of a pushed-down scan filter.
type FilterOp int

// Recognized values of [FilterOp].
const (
	FilterOpInvalid FilterOp = iota

	FilterOpEqual
	FilterOpNotEqual
	FilterOpLt
	FilterOpLte
	FilterOpGt
	FilterOpGte
	FilterOpLike
	FilterOpIn
)

var filterOpStrings = map[FilterOp]string{
	FilterOpInvalid:  "invalid",
	FilterOpEqual:    "=",
	FilterOpNotEqual: "!=",
	FilterOpLt:       "<",
	FilterOpLte:      "<=",
	FilterOpGt:       ">",
	FilterOpGte:      ">=",
	FilterOpLike:     "LIKE",
	FilterOpIn:       "IN",
}

func (op FilterOp) String() string {
	if s, ok := filterOpStrings[op]; ok {
		return s
	}
	return fmt.Sprintf("FilterOp(%d)", op)
}

// IsRange reports whether op bounds a range of values.
func (op FilterOp) IsRange() bool {
	return op >= FilterOpLt && op <= FilterOpGte
}

// FilterOpFromBinOp maps a comparison to its scan filter operator.
func FilterOpFromBinOp(k BinOpKind) (FilterOp, bool) {
	switch k {
	case BinOpKindEq:
		return FilterOpEqual, true
	case BinOpKindNeq:
		return FilterOpNotEqual, true
	case BinOpKindLt:
		return FilterOpLt, true
	case BinOpKindLte:
		return FilterOpLte, true
	case BinOpKindGt:
		return FilterOpGt, true
	case BinOpKindGte:
		return FilterOpGte, true
	case BinOpKindLike:
		return FilterOpLike, true
	case BinOpKindIn:
		return FilterOpIn, true
	}
	return FilterOpInvalid, false
}

// BinOp returns the comparison corresponding to op.
func (op FilterOp) BinOp() BinOpKind {
	switch op {
	case FilterOpEqual:
		return BinOpKindEq
	case FilterOpNotEqual:
		return BinOpKindNeq
	case FilterOpLt:
		return BinOpKindLt
	case FilterOpLte:
		return BinOpKindLte
	case FilterOpGt:
		return BinOpKindGt
	case FilterOpGte:
		return BinOpKindGte
	case FilterOpLike:
		return BinOpKindLike
	case FilterOpIn:
		return BinOpKindIn
	}
	return BinOpKindInvalid
}

// JoinType is the type of a join.
type JoinType int

const (
	JoinTypeInner JoinType = iota
	JoinTypeLeft
	JoinTypeRight
	JoinTypeFull
)

func (t JoinType) String() string {
	switch t {
	case JoinTypeInner:
		return "INNER"
	case JoinTypeLeft:
		return "LEFT"
	case JoinTypeRight:
		return "RIGHT"
	case JoinTypeFull:
		return "FULL"
	}
	return fmt.Sprintf("JoinType(%d)", t)
}

// AggregateFunc is an aggregation function.
type AggregateFunc int

const (
	AggregateFuncInvalid AggregateFunc = iota
	AggregateFuncCount
	AggregateFuncSum
	AggregateFuncAvg
	AggregateFuncMin
	AggregateFuncMax
)

var aggregateFuncStrings = map[AggregateFunc]string{
	AggregateFuncInvalid: "invalid",
	AggregateFuncCount:   "COUNT",
	AggregateFuncSum:     "SUM",
	AggregateFuncAvg:     "AVG",
	AggregateFuncMin:     "MIN",
	AggregateFuncMax:     "MAX",
}

func (f AggregateFunc) String() string {
	if s, ok := aggregateFuncStrings[f]; ok {
		return s
	}
	return fmt.Sprintf("AggregateFunc(%d)", f)
}

// ParseAggregateFunc resolves an aggregate by its SQL name.
func ParseAggregateFunc(name string) (AggregateFunc, bool) {
	for f, s := range aggregateFuncStrings {
		if f != AggregateFuncInvalid && s == name {
			return f, true
		}
	}
	return AggregateFuncInvalid, false
}

// SortOrder is the direction of a sort key.
type SortOrder int

const (
	SortOrderAsc SortOrder = iota
	SortOrderDesc
)

func (o SortOrder) String() string {
	if o == SortOrderDesc {
		return "DESC"
	}
	return "ASC"
}

// SetOpKind is the kind of a set operation.
type SetOpKind int

const (
	SetOpUnion SetOpKind = iota
	SetOpIntersect
	SetOpExcept
)

func (k SetOpKind) String() string {
	switch k {
	case SetOpUnion:
		return "UNION"
	case SetOpIntersect:
		return "INTERSECT"
	case SetOpExcept:
		return "EXCEPT"
	}
	return fmt.Sprintf("SetOpKind(%d)", k)
}
