package expr

import "slices"

// Children returns the direct operands of e.
func Children(e Expr) []Expr {
	switch e := e.(type) {
	case *BinaryOp:
		return []Expr{e.Left, e.Right}
	case *Function:
		return e.Args
	}
	return nil
}

// Inspect traverses e in pre-order. If f returns false, the children of the
// current expression are skipped.
func Inspect(e Expr, f func(Expr) bool) {
	if e == nil || !f(e) {
		return
	}
	for _, c := range Children(e) {
		Inspect(c, f)
	}
}

// Transform rebuilds e bottom-up, replacing every sub-expression with the
// result of fn. The input tree is left untouched; untouched subtrees are
// shared with the result.
func Transform(e Expr, fn func(Expr) (Expr, error)) (Expr, error) {
	switch e := e.(type) {
	case *BinaryOp:
		left, err := Transform(e.Left, fn)
		if err != nil {
			return nil, err
		}
		right, err := Transform(e.Right, fn)
		if err != nil {
			return nil, err
		}
		if left != e.Left || right != e.Right {
			return fn(&BinaryOp{Left: left, Op: e.Op, Right: right})
		}
		return fn(e)
	case *Function:
		var args []Expr
		for i, a := range e.Args {
			na, err := Transform(a, fn)
			if err != nil {
				return nil, err
			}
			if na != a && args == nil {
				args = slices.Clone(e.Args[:i:i])
			}
			if args != nil {
				args = append(args, na)
			}
		}
		if args != nil {
			return fn(&Function{Name: e.Name, Args: args})
		}
		return fn(e)
	}
	return fn(e)
}

// Equal reports whether two expressions are structurally identical.
func Equal(a, b Expr) bool {
	switch a := a.(type) {
	case *Column:
		b, ok := b.(*Column)
		return ok && a.Name == b.Name
	case *Literal:
		b, ok := b.(*Literal)
		return ok && a.Value.Type() == b.Value.Type() && a.Value.Equal(b.Value)
	case *BinaryOp:
		b, ok := b.(*BinaryOp)
		return ok && a.Op == b.Op && Equal(a.Left, b.Left) && Equal(a.Right, b.Right)
	case *Function:
		b, ok := b.(*Function)
		if !ok || a.Name != b.Name || len(a.Args) != len(b.Args) {
			return false
		}
		for i := range a.Args {
			if !Equal(a.Args[i], b.Args[i]) {
				return false
			}
		}
		return true
	}
	return a == nil && b == nil
}

// Columns returns the distinct column names referenced by e, in order of
// first appearance.
func Columns(e Expr) []string {
	var cols []string
	Inspect(e, func(e Expr) bool {
		if c, ok := e.(*Column); ok && !slices.Contains(cols, c.Name) {
			cols = append(cols, c.Name)
		}
		return true
	})
	return cols
}

// SplitConjunction flattens nested AND calls into their conjuncts.
func SplitConjunction(e Expr) []Expr {
	if f, ok := e.(*Function); ok && f.Name == FuncAnd {
		var out []Expr
		for _, a := range f.Args {
			out = append(out, SplitConjunction(a)...)
		}
		return out
	}
	if e == nil {
		return nil
	}
	return []Expr{e}
}

// Conjoin combines predicates with AND, left-deep. It returns nil for an
// empty list.
func Conjoin(preds []Expr) Expr {
	if len(preds) == 0 {
		return nil
	}
	out := preds[0]
	for _, p := range preds[1:] {
		out = And(out, p)
	}
	return out
}
