package logical

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/pkg/errors"

	"github.com/sealdb/sealdb/pkg/engine/expr"
	qerrors "github.com/sealdb/sealdb/pkg/engine/internal/errors"
	"github.com/sealdb/sealdb/pkg/engine/internal/util/dag"
)

// QueryPlan is a logical plan with a single root.
type QueryPlan struct {
	Root Node
}

// String renders the plan as an indented tree.
func (p *QueryPlan) String() string { return PrintAsTree(p) }

// Validate checks that the plan is a well formed tree: every node has the
// children its type requires, no node is reachable twice and there are no
// cycles.
func (p *QueryPlan) Validate() error {
	if p == nil || p.Root == nil {
		return errors.New("plan has no root")
	}
	err := dag.Walk(p.Root, Node.Children, validateNode, dag.PreOrderWalk)
	if errors.Is(err, dag.ErrCycle) || errors.Is(err, dag.ErrShared) {
		return errors.Wrap(err, "plan is not a tree")
	}
	return err
}

func validateNode(n Node) error {
	for i, c := range n.Children() {
		if c == nil {
			return fmt.Errorf("%s is missing child %d", n.Type(), i)
		}
	}
	switch n := n.(type) {
	case *Scan:
		if n.Table == nil {
			return errors.New("Scan has no table")
		}
	case *Project:
		if len(n.Columns) == 0 {
			return errors.New("Project has no columns")
		}
	case *Filter:
		if n.Condition == nil {
			return errors.New("Filter has no condition")
		}
	case *Sort:
		if len(n.Keys) == 0 {
			return errors.New("Sort has no keys")
		}
	case *SetOp:
		if l, r := len(n.Left.Schema()), len(n.Right.Schema()); l != r {
			return fmt.Errorf("%s inputs have %d and %d columns", n.Kind, l, r)
		}
	case *Values:
		for i, row := range n.Rows {
			if len(row) != len(n.Columns) {
				return fmt.Errorf("Values row %d has %d values, want %d", i, len(row), len(n.Columns))
			}
		}
	}
	return nil
}

// Walk visits every node of the tree below root in pre-order.
func Walk(root Node, f func(Node) error) error {
	return dag.Walk(root, Node.Children, f, dag.PreOrderWalk)
}

// Transform rebuilds the tree below root bottom-up, replacing every node with
// the result of fn. Nodes whose children did not change are passed to fn as
// is, so untouched subtrees are shared with the input.
func Transform(root Node, fn func(Node) (Node, error)) (Node, error) {
	children := root.Children()
	var changed []Node
	for i, c := range children {
		nc, err := Transform(c, fn)
		if err != nil {
			return nil, err
		}
		if nc != c && changed == nil {
			changed = make([]Node, len(children))
			copy(changed, children)
		}
		if changed != nil {
			changed[i] = nc
		}
	}
	if changed != nil {
		root = root.WithChildren(changed...)
	}
	return fn(root)
}

// SplitQualified splits `qualifier.column` into its parts. Names that are not
// a plain qualified identifier, such as the string form of an expression,
// are returned whole as the column.
func SplitQualified(name string) (qualifier, column string) {
	q, c, ok := strings.Cut(name, ".")
	if !ok || !isIdent(q) || !isIdent(c) {
		return "", name
	}
	return q, c
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// ColumnIndex resolves name against the output columns of a node. An exact
// (case-insensitive) match wins; otherwise an unqualified name matches a
// qualified column with the same column part, and must do so uniquely.
func ColumnIndex(schema []string, name string) (int, error) {
	for i, c := range schema {
		if strings.EqualFold(c, name) {
			return i, nil
		}
	}
	q, col := SplitQualified(name)
	if q != "" {
		return -1, errors.Wrapf(qerrors.ErrColumnNotFound, "%q", name)
	}

	found := -1
	for i, c := range schema {
		if _, cc := SplitQualified(c); strings.EqualFold(cc, col) {
			if found >= 0 {
				return -1, errors.Wrapf(qerrors.ErrAmbiguous, "%q", name)
			}
			found = i
		}
	}
	if found < 0 {
		return -1, errors.Wrapf(qerrors.ErrColumnNotFound, "%q", name)
	}
	return found, nil
}

// CheckColumns verifies that every column e references resolves against
// schema. Aggregate calls must appear in schema under their string form.
func CheckColumns(e expr.Expr, schema []string) error {
	var err error
	expr.Inspect(e, func(e expr.Expr) bool {
		if err != nil {
			return false
		}
		switch e := e.(type) {
		case *expr.Column:
			_, err = ColumnIndex(schema, e.Name)
		case *expr.Function:
			if expr.IsAggregate(e) {
				_, err = ColumnIndex(schema, e.String())
				return false
			}
		}
		return true
	})
	return err
}

// RefersOnly reports whether e references at least one column and all of its
// columns resolve against schema.
func RefersOnly(e expr.Expr, schema []string) bool {
	cols := expr.Columns(e)
	if len(cols) == 0 {
		return false
	}
	return CheckColumns(e, schema) == nil
}
