package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	typeInvalid = "invalid"
)

// ValueType represents the type of a value, which can either be a literal value, or a column value.
type ValueType uint32

const (
	ValueTypeInvalid ValueType = iota // zero-value is an invalid type

	ValueTypeNull  // NULL value.
	ValueTypeBool  // Boolean value
	ValueTypeInt   // Signed 64bit integer value
	ValueTypeFloat // 64bit floating point value
	ValueTypeStr   // String value
)

// String returns the string representation of the ValueType.
func (t ValueType) String() string {
	switch t {
	case ValueTypeInvalid:
		return typeInvalid
	case ValueTypeNull:
		return "null"
	case ValueTypeBool:
		return "bool"
	case ValueTypeFloat:
		return "float"
	case ValueTypeInt:
		return "int"
	case ValueTypeStr:
		return "string"
	default:
		return typeInvalid
	}
}

// ParseValueType parses the SQL-ish spelling of a column type.
func ParseValueType(s string) (ValueType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BOOL", "BOOLEAN":
		return ValueTypeBool, nil
	case "INT", "INTEGER", "BIGINT", "SMALLINT":
		return ValueTypeInt, nil
	case "FLOAT", "DOUBLE", "REAL", "DECIMAL", "NUMERIC":
		return ValueTypeFloat, nil
	case "TEXT", "STRING", "VARCHAR", "CHAR":
		return ValueTypeStr, nil
	}
	return ValueTypeInvalid, fmt.Errorf("unknown column type %q", s)
}

// Value is a single scalar. The zero value is NULL.
type Value struct {
	typ ValueType
	b   bool
	i   int64
	f   float64
	s   string
}

// Null is the NULL value.
var Null = Value{typ: ValueTypeNull}

func NewBool(v bool) Value      { return Value{typ: ValueTypeBool, b: v} }
func NewInt(v int64) Value      { return Value{typ: ValueTypeInt, i: v} }
func NewFloat(v float64) Value  { return Value{typ: ValueTypeFloat, f: v} }
func NewString(v string) Value  { return Value{typ: ValueTypeStr, s: v} }
func (v Value) Type() ValueType { return v.normalized().typ }
func (v Value) IsNull() bool    { return v.Type() == ValueTypeNull }

func (v Value) normalized() Value {
	if v.typ == ValueTypeInvalid {
		return Null
	}
	return v
}

// Bool returns the boolean payload. It panics if v is not a boolean.
func (v Value) Bool() bool {
	v.mustBe(ValueTypeBool)
	return v.b
}

// Int returns the integer payload. It panics if v is not an integer.
func (v Value) Int() int64 {
	v.mustBe(ValueTypeInt)
	return v.i
}

// Float returns the float payload. It panics if v is not a float.
func (v Value) Float() float64 {
	v.mustBe(ValueTypeFloat)
	return v.f
}

// Str returns the string payload. It panics if v is not a string.
func (v Value) Str() string {
	v.mustBe(ValueTypeStr)
	return v.s
}

func (v Value) mustBe(t ValueType) {
	if v.Type() != t {
		panic(fmt.Sprintf("value is %s, not %s", v.Type(), t))
	}
}

// IsNumeric reports whether v is an int or a float.
func (v Value) IsNumeric() bool {
	return v.typ == ValueTypeInt || v.typ == ValueTypeFloat
}

// AsFloat converts a numeric value to float64.
func (v Value) AsFloat() (float64, bool) {
	switch v.typ {
	case ValueTypeInt:
		return float64(v.i), true
	case ValueTypeFloat:
		return v.f, true
	}
	return 0, false
}

// Truthy reports whether v is the boolean true. NULL is not truthy.
func (v Value) Truthy() bool {
	return v.typ == ValueTypeBool && v.b
}

// String renders the value the way it would be written back to storage.
func (v Value) String() string {
	switch v.Type() {
	case ValueTypeNull:
		return "NULL"
	case ValueTypeBool:
		return strconv.FormatBool(v.b)
	case ValueTypeInt:
		return strconv.FormatInt(v.i, 10)
	case ValueTypeFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case ValueTypeStr:
		return v.s
	}
	return typeInvalid
}

// Width is the estimated in-memory width of the value in bytes.
func (v Value) Width() int {
	switch v.Type() {
	case ValueTypeBool:
		return 1
	case ValueTypeInt, ValueTypeFloat:
		return 8
	case ValueTypeStr:
		return len(v.s)
	}
	return 0
}

// Equal reports whether two values are equal. Ints and floats compare
// numerically; NULL equals only NULL.
func (v Value) Equal(o Value) bool {
	c, err := Compare(v, o)
	return err == nil && c == 0
}

// Compare orders two values. NULL sorts before everything else. Numeric values
// of different kinds compare numerically; any other type mismatch is an
// [ErrType] error.
func Compare(a, b Value) (int, error) {
	a, b = a.normalized(), b.normalized()
	switch {
	case a.typ == ValueTypeNull && b.typ == ValueTypeNull:
		return 0, nil
	case a.typ == ValueTypeNull:
		return -1, nil
	case b.typ == ValueTypeNull:
		return 1, nil
	}

	if a.typ == ValueTypeInt && b.typ == ValueTypeInt {
		return cmpOrdered(a.i, b.i), nil
	}
	if a.IsNumeric() && b.IsNumeric() {
		af, _ := a.AsFloat()
		bf, _ := b.AsFloat()
		return cmpOrdered(af, bf), nil
	}
	if a.typ != b.typ {
		return 0, errors.Wrapf(ErrType, "cannot compare %s with %s", a.typ, b.typ)
	}
	switch a.typ {
	case ValueTypeBool:
		switch {
		case a.b == b.b:
			return 0, nil
		case !a.b:
			return -1, nil
		}
		return 1, nil
	case ValueTypeStr:
		return strings.Compare(a.s, b.s), nil
	}
	return 0, errors.Wrapf(ErrType, "cannot compare %s values", a.typ)
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// ParseValue decodes the textual form of a value of type t. An empty string
// or the literal NULL decodes to [Null].
func ParseValue(s string, t ValueType) (Value, error) {
	if s == "" || strings.EqualFold(s, "NULL") {
		return Null, nil
	}
	switch t {
	case ValueTypeBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return Null, errors.Wrapf(ErrType, "parse bool %q", s)
		}
		return NewBool(b), nil
	case ValueTypeInt:
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Null, errors.Wrapf(ErrType, "parse int %q", s)
		}
		return NewInt(i), nil
	case ValueTypeFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) {
			return Null, errors.Wrapf(ErrType, "parse float %q", s)
		}
		return NewFloat(f), nil
	case ValueTypeStr:
		return NewString(s), nil
	}
	return Null, errors.Wrapf(ErrType, "unsupported type %s", t)
}

// ErrType is returned when values of incompatible types are combined.
var ErrType = errors.New("type error")
