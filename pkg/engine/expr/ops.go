package expr

import "github.com/sealdb/sealdb/pkg/engine/internal/types"

// BinOpKind is the operator of a [BinaryOp].
type BinOpKind = types.BinOpKind

const (
	OpEq   = types.BinOpKindEq
	OpNeq  = types.BinOpKindNeq
	OpGt   = types.BinOpKindGt
	OpGte  = types.BinOpKindGte
	OpLt   = types.BinOpKindLt
	OpLte  = types.BinOpKindLte
	OpLike = types.BinOpKindLike
	OpAdd  = types.BinOpKindAdd
	OpSub  = types.BinOpKindSub
	OpMul  = types.BinOpKindMul
	OpDiv  = types.BinOpKindDiv
	OpMod  = types.BinOpKindMod
)
