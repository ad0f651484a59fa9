package expr

import (
	"math"
	"strings"

	"github.com/grafana/regexp"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/sealdb/sealdb/pkg/engine/internal/types"
)

var (
	// ErrDivideByZero is returned when dividing or taking a modulo by zero.
	ErrDivideByZero = errors.New("division by zero")
	// ErrUnknownFunction is returned for calls to functions that do not exist.
	ErrUnknownFunction = errors.New("unknown function")
)

// Bindings resolves column references to values of the row being evaluated.
type Bindings interface {
	Get(name string) (types.Value, error)
}

// NoBindings evaluates constant expressions. Any column reference fails.
var NoBindings Bindings = noBindings{}

type noBindings struct{}

func (noBindings) Get(name string) (types.Value, error) {
	return types.Null, errors.Errorf("column %q referenced in constant expression", name)
}

// Eval evaluates e against the row b. Comparisons involving NULL yield NULL;
// boolean connectives follow three-valued logic.
func Eval(e Expr, b Bindings) (types.Value, error) {
	switch e := e.(type) {
	case *Literal:
		return e.Value, nil
	case *Column:
		return b.Get(e.Name)
	case *BinaryOp:
		return evalBinary(e, b)
	case *Function:
		return evalFunction(e, b)
	}
	return types.Null, errors.Errorf("cannot evaluate expression %T", e)
}

// EvalPredicate evaluates e and reports whether it is true. NULL counts as
// false.
func EvalPredicate(e Expr, b Bindings) (bool, error) {
	if e == nil {
		return true, nil
	}
	v, err := Eval(e, b)
	if err != nil {
		return false, err
	}
	if !v.IsNull() && v.Type() != types.ValueTypeBool {
		return false, errors.Wrapf(types.ErrType, "predicate %s is %s, not bool", e, v.Type())
	}
	return v.Truthy(), nil
}

func evalBinary(e *BinaryOp, b Bindings) (types.Value, error) {
	left, err := Eval(e.Left, b)
	if err != nil {
		return types.Null, err
	}

	if e.Op == types.BinOpKindIn {
		return evalIn(left, e.Right, b)
	}

	right, err := Eval(e.Right, b)
	if err != nil {
		return types.Null, err
	}
	return Apply(e.Op, left, right)
}

// Apply computes `left op right` on two values.
func Apply(op types.BinOpKind, left, right types.Value) (types.Value, error) {
	if left.IsNull() || right.IsNull() {
		return types.Null, nil
	}

	switch {
	case op.IsArithmetic():
		return arith(op, left, right)
	case op == types.BinOpKindLike:
		if left.Type() != types.ValueTypeStr || right.Type() != types.ValueTypeStr {
			return types.Null, errors.Wrapf(types.ErrType, "LIKE requires strings, got %s and %s", left.Type(), right.Type())
		}
		ok, err := Like(left.Str(), right.Str())
		return types.NewBool(ok), err
	case op.IsComparison():
		c, err := types.Compare(left, right)
		if err != nil {
			return types.Null, err
		}
		switch op {
		case types.BinOpKindEq:
			return types.NewBool(c == 0), nil
		case types.BinOpKindNeq:
			return types.NewBool(c != 0), nil
		case types.BinOpKindLt:
			return types.NewBool(c < 0), nil
		case types.BinOpKindLte:
			return types.NewBool(c <= 0), nil
		case types.BinOpKindGt:
			return types.NewBool(c > 0), nil
		case types.BinOpKindGte:
			return types.NewBool(c >= 0), nil
		}
	}
	return types.Null, errors.Errorf("unsupported operator %s", op)
}

func arith(op types.BinOpKind, left, right types.Value) (types.Value, error) {
	if !left.IsNumeric() || !right.IsNumeric() {
		return types.Null, errors.Wrapf(types.ErrType, "operator %s requires numbers, got %s and %s", op, left.Type(), right.Type())
	}

	if left.Type() == types.ValueTypeInt && right.Type() == types.ValueTypeInt {
		l, r := left.Int(), right.Int()
		switch op {
		case types.BinOpKindAdd:
			return types.NewInt(l + r), nil
		case types.BinOpKindSub:
			return types.NewInt(l - r), nil
		case types.BinOpKindMul:
			return types.NewInt(l * r), nil
		case types.BinOpKindDiv:
			if r == 0 {
				return types.Null, ErrDivideByZero
			}
			return types.NewInt(l / r), nil
		case types.BinOpKindMod:
			if r == 0 {
				return types.Null, ErrDivideByZero
			}
			return types.NewInt(l % r), nil
		}
	}

	l, _ := left.AsFloat()
	r, _ := right.AsFloat()
	switch op {
	case types.BinOpKindAdd:
		return types.NewFloat(l + r), nil
	case types.BinOpKindSub:
		return types.NewFloat(l - r), nil
	case types.BinOpKindMul:
		return types.NewFloat(l * r), nil
	case types.BinOpKindDiv:
		if r == 0 {
			return types.Null, ErrDivideByZero
		}
		return types.NewFloat(l / r), nil
	case types.BinOpKindMod:
		if r == 0 {
			return types.Null, ErrDivideByZero
		}
		return types.NewFloat(math.Mod(l, r)), nil
	}
	return types.Null, errors.Errorf("unsupported operator %s", op)
}

func evalIn(left types.Value, list Expr, b Bindings) (types.Value, error) {
	fn, ok := list.(*Function)
	if !ok || fn.Name != FuncList {
		return types.Null, errors.Errorf("IN expects a value list, got %s", list)
	}
	if left.IsNull() {
		return types.Null, nil
	}
	sawNull := false
	for _, arg := range fn.Args {
		v, err := Eval(arg, b)
		if err != nil {
			return types.Null, err
		}
		if v.IsNull() {
			sawNull = true
			continue
		}
		c, err := types.Compare(left, v)
		if err != nil {
			return types.Null, err
		}
		if c == 0 {
			return types.NewBool(true), nil
		}
	}
	if sawNull {
		return types.Null, nil
	}
	return types.NewBool(false), nil
}

func evalFunction(f *Function, b Bindings) (types.Value, error) {
	if IsAggregate(f) {
		// Aggregates are computed by the aggregation operator and exposed to
		// the operators above it as a column named after the call.
		return b.Get(f.String())
	}

	switch f.Name {
	case FuncAnd, FuncOr:
		return evalConnective(f, b)
	case FuncNot:
		if len(f.Args) != 1 {
			return types.Null, errors.Errorf("NOT expects 1 argument, got %d", len(f.Args))
		}
		v, err := Eval(f.Args[0], b)
		if err != nil || v.IsNull() {
			return types.Null, err
		}
		if v.Type() != types.ValueTypeBool {
			return types.Null, errors.Wrapf(types.ErrType, "NOT requires bool, got %s", v.Type())
		}
		return types.NewBool(!v.Bool()), nil
	}

	args := make([]types.Value, len(f.Args))
	for i, a := range f.Args {
		v, err := Eval(a, b)
		if err != nil {
			return types.Null, err
		}
		args[i] = v
	}
	return callScalar(f.Name, args)
}

func evalConnective(f *Function, b Bindings) (types.Value, error) {
	// short is the value that decides the result on its own.
	short := f.Name == FuncOr
	sawNull := false
	for _, a := range f.Args {
		v, err := Eval(a, b)
		if err != nil {
			return types.Null, err
		}
		if v.IsNull() {
			sawNull = true
			continue
		}
		if v.Type() != types.ValueTypeBool {
			return types.Null, errors.Wrapf(types.ErrType, "%s requires bool, got %s", f.Name, v.Type())
		}
		if v.Bool() == short {
			return types.NewBool(short), nil
		}
	}
	if sawNull {
		return types.Null, nil
	}
	return types.NewBool(!short), nil
}

func callScalar(name string, args []types.Value) (types.Value, error) {
	switch name {
	case "UPPER", "LOWER", "LENGTH":
		if len(args) != 1 {
			return types.Null, errors.Errorf("%s expects 1 argument, got %d", name, len(args))
		}
		if args[0].IsNull() {
			return types.Null, nil
		}
		if args[0].Type() != types.ValueTypeStr {
			return types.Null, errors.Wrapf(types.ErrType, "%s requires string, got %s", name, args[0].Type())
		}
		s := args[0].Str()
		switch name {
		case "UPPER":
			return types.NewString(strings.ToUpper(s)), nil
		case "LOWER":
			return types.NewString(strings.ToLower(s)), nil
		}
		return types.NewInt(int64(len(s))), nil
	case "ABS":
		if len(args) != 1 {
			return types.Null, errors.Errorf("ABS expects 1 argument, got %d", len(args))
		}
		switch args[0].Type() {
		case types.ValueTypeNull:
			return types.Null, nil
		case types.ValueTypeInt:
			if v := args[0].Int(); v < 0 {
				return types.NewInt(-v), nil
			}
			return args[0], nil
		case types.ValueTypeFloat:
			return types.NewFloat(math.Abs(args[0].Float())), nil
		}
		return types.Null, errors.Wrapf(types.ErrType, "ABS requires a number, got %s", args[0].Type())
	case "COALESCE":
		for _, a := range args {
			if !a.IsNull() {
				return a, nil
			}
		}
		return types.Null, nil
	}
	return types.Null, errors.Wrapf(ErrUnknownFunction, "%s", name)
}

var likeCache, _ = lru.New[string, *regexp.Regexp](256)

// Like reports whether s matches the SQL LIKE pattern, where % matches any
// run of characters and _ matches exactly one.
func Like(s, pattern string) (bool, error) {
	re, ok := likeCache.Get(pattern)
	if !ok {
		var sb strings.Builder
		sb.WriteString("(?s)^")
		for _, r := range pattern {
			switch r {
			case '%':
				sb.WriteString(".*")
			case '_':
				sb.WriteString(".")
			default:
				sb.WriteString(regexp.QuoteMeta(string(r)))
			}
		}
		sb.WriteString("$")

		var err error
		re, err = regexp.Compile(sb.String())
		if err != nil {
			return false, errors.Wrapf(err, "compile LIKE pattern %q", pattern)
		}
		likeCache.Add(pattern, re)
	}
	return re.MatchString(s), nil
}

// IsConstant reports whether e references no columns and no aggregates.
func IsConstant(e Expr) bool {
	constant := true
	Inspect(e, func(e Expr) bool {
		switch e.(type) {
		case *Column:
			constant = false
		case *Function:
			if IsAggregate(e) {
				constant = false
			}
		}
		return constant
	})
	return constant
}
