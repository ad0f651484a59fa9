package syntax

import "github.com/sealdb/sealdb/pkg/engine/internal/types"

// Aliases of the engine's value and operator types, so callers outside the
// engine can build statements.
type (
	ValueType = types.ValueType
	JoinType  = types.JoinType
	SortOrder = types.SortOrder
)

const (
	TypeBool   = types.ValueTypeBool
	TypeInt    = types.ValueTypeInt
	TypeFloat  = types.ValueTypeFloat
	TypeString = types.ValueTypeStr

	InnerJoin = types.JoinTypeInner
	LeftJoin  = types.JoinTypeLeft
	RightJoin = types.JoinTypeRight
	FullJoin  = types.JoinTypeFull

	Asc  = types.SortOrderAsc
	Desc = types.SortOrderDesc
)
