package logical

import (
	"github.com/sealdb/sealdb/pkg/engine/catalog"
	"github.com/sealdb/sealdb/pkg/engine/expr"
)

// Assignment sets Column to the value of Value in an UPDATE.
type Assignment struct {
	Column string
	Value  expr.Expr
}

// Insert writes the rows produced by Source into Table. Source yields the
// values of Columns in order.
type Insert struct {
	Table   *catalog.Table
	Columns []string
	Source  Node
}

// Update rewrites the rows of Table produced by Child.
type Update struct {
	Table *catalog.Table
	Set   []Assignment
	Child Node
}

// Delete removes the rows of Table produced by Child.
type Delete struct {
	Table *catalog.Table
	Child Node
}

// CreateTable creates a table.
type CreateTable struct {
	Table       *catalog.Table
	IfNotExists bool
}

// CreateIndex adds a secondary index to an existing table and backfills it.
type CreateIndex struct {
	Table *catalog.Table
	Index catalog.Index
}

// DropTable removes a table and its rows.
type DropTable struct {
	Name     string
	IfExists bool
}

func (*Insert) Type() NodeType      { return NodeTypeInsert }
func (*Update) Type() NodeType      { return NodeTypeUpdate }
func (*Delete) Type() NodeType      { return NodeTypeDelete }
func (*CreateTable) Type() NodeType { return NodeTypeCreateTable }
func (*CreateIndex) Type() NodeType { return NodeTypeCreateIndex }
func (*DropTable) Type() NodeType   { return NodeTypeDropTable }

func (n *Insert) Children() []Node    { return []Node{n.Source} }
func (n *Update) Children() []Node    { return []Node{n.Child} }
func (n *Delete) Children() []Node    { return []Node{n.Child} }
func (*CreateTable) Children() []Node { return nil }
func (*CreateIndex) Children() []Node { return nil }
func (*DropTable) Children() []Node   { return nil }

// Write statements produce no columns, only an affected row count.
func (*Insert) Schema() []string      { return nil }
func (*Update) Schema() []string      { return nil }
func (*Delete) Schema() []string      { return nil }
func (*CreateTable) Schema() []string { return nil }
func (*CreateIndex) Schema() []string { return nil }
func (*DropTable) Schema() []string   { return nil }

func (n *Insert) WithChildren(children ...Node) Node {
	c := *n
	c.Source = one(n, children)
	return &c
}

func (n *Update) WithChildren(children ...Node) Node {
	c := *n
	c.Child = one(n, children)
	return &c
}

func (n *Delete) WithChildren(children ...Node) Node {
	c := *n
	c.Child = one(n, children)
	return &c
}

func (n *CreateTable) WithChildren(children ...Node) Node {
	mustArity(n, children, 0)
	c := *n
	return &c
}

func (n *CreateIndex) WithChildren(children ...Node) Node {
	mustArity(n, children, 0)
	c := *n
	return &c
}

func (n *DropTable) WithChildren(children ...Node) Node {
	mustArity(n, children, 0)
	c := *n
	return &c
}

func (*Insert) isNode()      {}
func (*Update) isNode()      {}
func (*Delete) isNode()      {}
func (*CreateTable) isNode() {}
func (*CreateIndex) isNode() {}
func (*DropTable) isNode()   {}
