package rbo

import (
	"github.com/sealdb/sealdb/pkg/engine/expr"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
	"github.com/sealdb/sealdb/pkg/engine/planner/logical"
)

// constantFolding evaluates arithmetic over numeric literals and
// comparisons between literals. Division and modulo by zero are left for
// the executor to report.
type constantFolding struct{}

func (constantFolding) Name() string { return "ConstantFolding" }

func (constantFolding) Apply(root logical.Node) (logical.Node, error) {
	return transformUp(root, func(n logical.Node) logical.Node {
		return rewriteNodeExprs(n, foldConstant)
	}), nil
}

func foldConstant(e expr.Expr) expr.Expr {
	bin, ok := e.(*expr.BinaryOp)
	if !ok {
		return e
	}
	l, lok := bin.Left.(*expr.Literal)
	r, rok := bin.Right.(*expr.Literal)
	if !lok || !rok {
		return e
	}

	switch {
	case bin.Op.IsArithmetic():
		if !l.Value.IsNumeric() || !r.Value.IsNumeric() {
			return e
		}
	case bin.Op.IsComparison() && bin.Op != types.BinOpKindIn:
	default:
		return e
	}

	v, err := expr.Apply(bin.Op, l.Value, r.Value)
	if err != nil {
		return e
	}
	return expr.NewLiteral(v)
}

// expressionSimplification removes redundant boolean connectives:
//
//	x AND x     -> x        x OR x      -> x
//	x AND true  -> x        x OR false  -> x
//	x AND false -> false    x OR true   -> true
//	NOT NOT x   -> x
//
// A filter whose condition simplifies to true is removed.
type expressionSimplification struct{}

func (expressionSimplification) Name() string { return "ExpressionSimplification" }

func (expressionSimplification) Apply(root logical.Node) (logical.Node, error) {
	return transformUp(root, func(n logical.Node) logical.Node {
		n = rewriteNodeExprs(n, simplify)
		switch f := n.(type) {
		case *logical.Filter:
			if expr.IsBoolLiteral(f.Condition, true) {
				return f.Child
			}
		case *logical.Join:
			if f.JoinType == types.JoinTypeInner && expr.IsBoolLiteral(f.Condition, true) {
				j := *f
				j.Condition = nil
				return &j
			}
		}
		return n
	}), nil
}

func simplify(e expr.Expr) expr.Expr {
	f, ok := e.(*expr.Function)
	if !ok {
		return e
	}
	switch f.Name {
	case expr.FuncNot:
		if len(f.Args) != 1 {
			return e
		}
		if inner, ok := f.Args[0].(*expr.Function); ok && inner.Name == expr.FuncNot && len(inner.Args) == 1 {
			return inner.Args[0]
		}
		return e
	case expr.FuncAnd, expr.FuncOr:
		return simplifyConnective(f)
	}
	return e
}

// simplifyConnective reduces an AND or OR call. identity is the literal
// that can be dropped, absorbing the literal that decides the result.
func simplifyConnective(f *expr.Function) expr.Expr {
	identity := f.Name == expr.FuncAnd
	absorbing := !identity

	var args []expr.Expr
	changed := false
	for _, a := range f.Args {
		switch {
		case expr.IsBoolLiteral(a, absorbing):
			return expr.Bool(absorbing)
		case expr.IsBoolLiteral(a, identity):
			changed = true
			continue
		}
		dup := false
		for _, seen := range args {
			if expr.Equal(seen, a) {
				dup = true
				break
			}
		}
		if dup {
			changed = true
			continue
		}
		args = append(args, a)
	}

	switch {
	case !changed:
		return f
	case len(args) == 0:
		return expr.Bool(identity)
	case len(args) == 1:
		return args[0]
	}
	return &expr.Function{Name: f.Name, Args: args}
}
