// Package datatype maps value types to the Arrow types query results are
// exported with.
package datatype

import (
	"github.com/apache/arrow-go/v18/arrow"

	"github.com/sealdb/sealdb/pkg/engine/internal/types"
)

var (
	ArrowType = struct {
		Null    arrow.DataType
		Bool    arrow.DataType
		String  arrow.DataType
		Integer arrow.DataType
		Float   arrow.DataType
	}{
		Null:    arrow.Null,
		Bool:    arrow.FixedWidthTypes.Boolean,
		String:  arrow.BinaryTypes.String,
		Integer: arrow.PrimitiveTypes.Int64,
		Float:   arrow.PrimitiveTypes.Float64,
	}

	ToArrow = map[types.ValueType]arrow.DataType{
		types.ValueTypeNull:  ArrowType.Null,
		types.ValueTypeBool:  ArrowType.Bool,
		types.ValueTypeStr:   ArrowType.String,
		types.ValueTypeInt:   ArrowType.Integer,
		types.ValueTypeFloat: ArrowType.Float,
	}

	ToValueType = map[arrow.Type]types.ValueType{
		arrow.NULL:    types.ValueTypeNull,
		arrow.BOOL:    types.ValueTypeBool,
		arrow.STRING:  types.ValueTypeStr,
		arrow.INT64:   types.ValueTypeInt,
		arrow.FLOAT64: types.ValueTypeFloat,
	}
)

// ColumnType returns the value type a column holding vals is exported as.
// NULLs are ignored; integers mixed with floats widen to float and any
// other mix falls back to string.
func ColumnType(vals []types.Value) types.ValueType {
	typ := types.ValueTypeNull
	for _, v := range vals {
		t := v.Type()
		switch {
		case t == types.ValueTypeNull || t == typ:
		case typ == types.ValueTypeNull:
			typ = t
		case isNumeric(t) && isNumeric(typ):
			typ = types.ValueTypeFloat
		default:
			return types.ValueTypeStr
		}
	}
	return typ
}

func isNumeric(t types.ValueType) bool {
	return t == types.ValueTypeInt || t == types.ValueTypeFloat
}
