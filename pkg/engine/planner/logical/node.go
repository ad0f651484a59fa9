// Package logical provides the logical query plan: a tree of relational
// operators built from a parsed statement and rewritten by the rule-based
// optimizer.
package logical

import (
	"fmt"
	"math"
	"slices"

	"github.com/sealdb/sealdb/pkg/engine/expr"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
)

// NodeType identifies the kind of a [Node].
type NodeType int

const (
	NodeTypeInvalid NodeType = iota
	NodeTypeScan
	NodeTypeFilter
	NodeTypeProject
	NodeTypeJoin
	NodeTypeAggregate
	NodeTypeSort
	NodeTypeLimit
	NodeTypeDistinct
	NodeTypeSetOp
	NodeTypeSubqueryAlias
	NodeTypeValues
	NodeTypeInsert
	NodeTypeUpdate
	NodeTypeDelete
	NodeTypeCreateTable
	NodeTypeCreateIndex
	NodeTypeDropTable
)

var nodeTypeStrings = map[NodeType]string{
	NodeTypeInvalid:       "Invalid",
	NodeTypeScan:          "Scan",
	NodeTypeFilter:        "Filter",
	NodeTypeProject:       "Project",
	NodeTypeJoin:          "Join",
	NodeTypeAggregate:     "Aggregate",
	NodeTypeSort:          "Sort",
	NodeTypeLimit:         "Limit",
	NodeTypeDistinct:      "Distinct",
	NodeTypeSetOp:         "SetOp",
	NodeTypeSubqueryAlias: "SubqueryAlias",
	NodeTypeValues:        "Values",
	NodeTypeInsert:        "Insert",
	NodeTypeUpdate:        "Update",
	NodeTypeDelete:        "Delete",
	NodeTypeCreateTable:   "CreateTable",
	NodeTypeCreateIndex:   "CreateIndex",
	NodeTypeDropTable:     "DropTable",
}

func (t NodeType) String() string {
	if s, ok := nodeTypeStrings[t]; ok {
		return s
	}
	return fmt.Sprintf("NodeType(%d)", t)
}

// Node is a vertex of the logical plan.
//
// Nodes are immutable once built. Rewrites go through [Node.WithChildren] or
// construct new nodes, so a tree can be read concurrently while another tree
// derived from it is being built.
type Node interface {
	Type() NodeType
	// Children returns the inputs of the node. The number of children is
	// fixed per node type.
	Children() []Node
	// WithChildren returns a shallow copy of the node with its inputs
	// replaced. It panics if the number of children does not match.
	WithChildren(children ...Node) Node
	// Schema returns the names of the output columns.
	Schema() []string

	isNode()
}

// NoFetch is the [Limit.Fetch] of a limit without an upper bound.
const NoFetch = math.MaxUint64

// NamedExpr is a projected expression and its output name.
type NamedExpr struct {
	Expr expr.Expr
	Name string
}

// SortKey is an expression and direction to sort by.
type SortKey struct {
	Expr  expr.Expr
	Order types.SortOrder
}

func (k SortKey) String() string { return k.Expr.String() + " " + k.Order.String() }

// Filter keeps the rows of its input for which Condition is true.
type Filter struct {
	Condition expr.Expr
	Child     Node
}

// Project computes Columns for every input row.
type Project struct {
	Columns []NamedExpr
	Child   Node
}

// Aggregate groups its input by GroupBy and computes Aggregates per group.
// Output columns are the group expressions followed by the aggregates, each
// named by its string form.
type Aggregate struct {
	GroupBy    []expr.Expr
	Aggregates []*expr.Function
	Child      Node
}

// Sort orders its input by Keys.
type Sort struct {
	Keys  []SortKey
	Child Node
}

// Limit skips Skip rows and then returns at most Fetch rows.
type Limit struct {
	Skip  uint64
	Fetch uint64
	Child Node
}

// Distinct removes duplicate rows.
type Distinct struct {
	Child Node
}

// SetOp combines two inputs with the same number of columns.
type SetOp struct {
	Kind  types.SetOpKind
	All   bool
	Left  Node
	Right Node
}

// SubqueryAlias renames the output of a derived table to Alias.
type SubqueryAlias struct {
	Alias string
	Child Node
}

// Values produces literal rows.
type Values struct {
	Columns []string
	Rows    [][]expr.Expr
}

func (*Filter) Type() NodeType        { return NodeTypeFilter }
func (*Project) Type() NodeType       { return NodeTypeProject }
func (*Aggregate) Type() NodeType     { return NodeTypeAggregate }
func (*Sort) Type() NodeType          { return NodeTypeSort }
func (*Limit) Type() NodeType         { return NodeTypeLimit }
func (*Distinct) Type() NodeType      { return NodeTypeDistinct }
func (*SetOp) Type() NodeType         { return NodeTypeSetOp }
func (*SubqueryAlias) Type() NodeType { return NodeTypeSubqueryAlias }
func (*Values) Type() NodeType        { return NodeTypeValues }

func (n *Filter) Children() []Node        { return []Node{n.Child} }
func (n *Project) Children() []Node       { return []Node{n.Child} }
func (n *Aggregate) Children() []Node     { return []Node{n.Child} }
func (n *Sort) Children() []Node          { return []Node{n.Child} }
func (n *Limit) Children() []Node         { return []Node{n.Child} }
func (n *Distinct) Children() []Node      { return []Node{n.Child} }
func (n *SetOp) Children() []Node         { return []Node{n.Left, n.Right} }
func (n *SubqueryAlias) Children() []Node { return []Node{n.Child} }
func (*Values) Children() []Node          { return nil }

func (n *Filter) WithChildren(children ...Node) Node {
	c := *n
	c.Child = one(n, children)
	return &c
}

func (n *Project) WithChildren(children ...Node) Node {
	c := *n
	c.Child = one(n, children)
	return &c
}

func (n *Aggregate) WithChildren(children ...Node) Node {
	c := *n
	c.Child = one(n, children)
	return &c
}

func (n *Sort) WithChildren(children ...Node) Node {
	c := *n
	c.Child = one(n, children)
	return &c
}

func (n *Limit) WithChildren(children ...Node) Node {
	c := *n
	c.Child = one(n, children)
	return &c
}

func (n *Distinct) WithChildren(children ...Node) Node {
	c := *n
	c.Child = one(n, children)
	return &c
}

func (n *SetOp) WithChildren(children ...Node) Node {
	mustArity(n, children, 2)
	c := *n
	c.Left, c.Right = children[0], children[1]
	return &c
}

func (n *SubqueryAlias) WithChildren(children ...Node) Node {
	c := *n
	c.Child = one(n, children)
	return &c
}

func (n *Values) WithChildren(children ...Node) Node {
	mustArity(n, children, 0)
	c := *n
	return &c
}

func (n *Filter) Schema() []string   { return n.Child.Schema() }
func (n *Sort) Schema() []string     { return n.Child.Schema() }
func (n *Limit) Schema() []string    { return n.Child.Schema() }
func (n *Distinct) Schema() []string { return n.Child.Schema() }
func (n *SetOp) Schema() []string    { return n.Left.Schema() }
func (n *Values) Schema() []string   { return slices.Clone(n.Columns) }

func (n *Project) Schema() []string {
	names := make([]string, len(n.Columns))
	for i, c := range n.Columns {
		names[i] = c.Name
	}
	return names
}

func (n *Aggregate) Schema() []string {
	names := make([]string, 0, len(n.GroupBy)+len(n.Aggregates))
	for _, g := range n.GroupBy {
		names = append(names, g.String())
	}
	for _, a := range n.Aggregates {
		names = append(names, a.String())
	}
	return names
}

func (n *SubqueryAlias) Schema() []string {
	in := n.Child.Schema()
	names := make([]string, len(in))
	for i, name := range in {
		_, col := SplitQualified(name)
		names[i] = n.Alias + "." + col
	}
	return names
}

func (*Filter) isNode()        {}
func (*Project) isNode()       {}
func (*Aggregate) isNode()     {}
func (*Sort) isNode()          {}
func (*Limit) isNode()         {}
func (*Distinct) isNode()      {}
func (*SetOp) isNode()         {}
func (*SubqueryAlias) isNode() {}
func (*Values) isNode()        {}

func mustArity(n Node, children []Node, want int) {
	if len(children) != want {
		panic(fmt.Sprintf("%s expects %d children, got %d", n.Type(), want, len(children)))
	}
}

func one(n Node, children []Node) Node {
	mustArity(n, children, 1)
	return children[0]
}
