// Package physical chooses how a logical plan is executed: the access path
// of every scan, the join algorithms and order, the aggregation and sort
// strategies and where to run in parallel. Choices are made by comparing
// [cost.Estimate]s.
package physical

import (
	"fmt"
	"slices"

	"github.com/sealdb/sealdb/pkg/engine/catalog"
	"github.com/sealdb/sealdb/pkg/engine/expr"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
	"github.com/sealdb/sealdb/pkg/engine/planner/cost"
	"github.com/sealdb/sealdb/pkg/engine/planner/logical"
)

// NodeType identifies the kind of a [Node].
type NodeType uint32

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
	NodeTypeValues
	NodeTypeParallel
	NodeTypeInsert
	NodeTypeUpdate
	NodeTypeDelete
	NodeTypeCreateTable
	NodeTypeCreateIndex
	NodeTypeDropTable
)

var nodeTypeStrings = map[NodeType]string{
	NodeTypeInvalid:     "Invalid",
	NodeTypeScan:        "Scan",
	NodeTypeFilter:      "Filter",
	NodeTypeProject:     "Project",
	NodeTypeJoin:        "Join",
	NodeTypeAggregate:   "Aggregate",
	NodeTypeSort:        "Sort",
	NodeTypeLimit:       "Limit",
	NodeTypeDistinct:    "Distinct",
	NodeTypeSetOp:       "SetOp",
	NodeTypeValues:      "Values",
	NodeTypeParallel:    "Parallel",
	NodeTypeInsert:      "Insert",
	NodeTypeUpdate:      "Update",
	NodeTypeDelete:      "Delete",
	NodeTypeCreateTable: "CreateTable",
	NodeTypeCreateIndex: "CreateIndex",
	NodeTypeDropTable:   "DropTable",
}

func (t NodeType) String() string {
	if s, ok := nodeTypeStrings[t]; ok {
		return s
	}
	return fmt.Sprintf("NodeType(%d)", t)
}

// Node is a vertex of a physical plan. Every node carries the estimated
// cost of the subtree it roots.
type Node interface {
	Type() NodeType
	Children() []Node
	// Schema returns the names of the output columns.
	Schema() []string
	// Cost returns the estimate of the node including its inputs.
	Cost() cost.Estimate

	isNode()
}

// Estimated holds the cost of a node. It is embedded by every node.
type Estimated struct {
	Estimate cost.Estimate
}

func (e *Estimated) Cost() cost.Estimate { return e.Estimate }

// ScanMethod is the access path of a [Scan].
type ScanMethod int

const (
	// ScanMethodSeq reads the whole key range of the table.
	ScanMethodSeq ScanMethod = iota
	// ScanMethodIndex reads the entries of one secondary index matching a
	// filter and fetches their rows.
	ScanMethodIndex
	// ScanMethodBatch fetches the rows of a list of primary keys.
	ScanMethodBatch
	// ScanMethodBitmap intersects the row sets of several indexed filters
	// and fetches the surviving rows.
	ScanMethodBitmap
)

var scanMethodStrings = map[ScanMethod]string{
	ScanMethodSeq:    "SeqScan",
	ScanMethodIndex:  "IndexScan",
	ScanMethodBatch:  "BatchScan",
	ScanMethodBitmap: "BitmapScan",
}

func (m ScanMethod) String() string {
	if s, ok := scanMethodStrings[m]; ok {
		return s
	}
	return fmt.Sprintf("ScanMethod(%d)", m)
}

// Scan reads rows of a stored table.
//
// Filters are evaluated on every row read, including the ones already
// implied by the access path. Output columns are named `alias.column`.
type Scan struct {
	Estimated
	Method  ScanMethod
	Table   *catalog.Table
	Alias   string
	Columns []string
	Filters []logical.ScanFilter

	// Indexes lists the secondary indexes used by an index or bitmap scan,
	// IndexFilters the filter driving each of them.
	Indexes      []string
	IndexFilters []logical.ScanFilter
	// Keys are the primary keys fetched by a batch scan.
	Keys []types.Value
	// Limit caps the number of rows produced when non zero.
	Limit uint64
}

// Filter keeps the rows for which Condition is true.
type Filter struct {
	Estimated
	Condition expr.Expr
	Child     Node
}

// Project computes Columns for every input row.
type Project struct {
	Estimated
	Columns []logical.NamedExpr
	Child   Node
}

// JoinAlgorithm is the way a [Join] matches rows.
type JoinAlgorithm int

const (
	JoinNestedLoop JoinAlgorithm = iota
	JoinHash
	JoinMerge
)

func (a JoinAlgorithm) String() string {
	switch a {
	case JoinNestedLoop:
		return "NestedLoopJoin"
	case JoinHash:
		return "HashJoin"
	case JoinMerge:
		return "MergeJoin"
	}
	return fmt.Sprintf("JoinAlgorithm(%d)", a)
}

// Join combines Left and Right. Hash and merge joins match LeftKeys with
// RightKeys and evaluate the rest of Condition on the matched pairs; the
// inputs of a merge join are sorted on their keys.
type Join struct {
	Estimated
	Algorithm JoinAlgorithm
	JoinType  types.JoinType
	Condition expr.Expr
	LeftKeys  []expr.Expr
	RightKeys []expr.Expr
	Left      Node
	Right     Node
}

// AggregateStrategy is the way an [Aggregate] forms groups.
type AggregateStrategy int

const (
	AggregateHash AggregateStrategy = iota
	AggregateGroup
)

func (s AggregateStrategy) String() string {
	if s == AggregateGroup {
		return "GroupAggregate"
	}
	return "HashAggregate"
}

// Aggregate groups its input by GroupBy and computes Aggregates per group.
// A group aggregate expects its input sorted on GroupBy.
type Aggregate struct {
	Estimated
	Strategy   AggregateStrategy
	GroupBy    []expr.Expr
	Aggregates []*expr.Function
	Child      Node
}

// SortStrategy is the way a [Sort] orders its input.
type SortStrategy int

const (
	SortInMemory SortStrategy = iota
	SortExternal
	SortTopN
)

func (s SortStrategy) String() string {
	switch s {
	case SortInMemory:
		return "InMemorySort"
	case SortExternal:
		return "ExternalSort"
	case SortTopN:
		return "TopN"
	}
	return fmt.Sprintf("SortStrategy(%d)", s)
}

// Sort orders its input by Keys. A TopN sort only keeps the first N rows;
// an external sort spills runs larger than MemoryBytes.
type Sort struct {
	Estimated
	Strategy    SortStrategy
	Keys        []logical.SortKey
	N           uint64
	MemoryBytes uint64
	Child       Node
}

// Limit skips Skip rows and then returns at most Fetch rows.
type Limit struct {
	Estimated
	Skip  uint64
	Fetch uint64
	Child Node
}

// Distinct removes duplicate rows.
type Distinct struct {
	Estimated
	Child Node
}

// SetOp combines two inputs with the same number of columns.
type SetOp struct {
	Estimated
	Kind  types.SetOpKind
	All   bool
	Left  Node
	Right Node
}

// Values produces literal rows.
type Values struct {
	Estimated
	Columns []string
	Rows    [][]expr.Expr
}

// Parallel runs Child on Workers partitions of its input. Child is a
// pipeline of filters and projections over a single scan, optionally topped
// by an aggregate or a sort; partial results are merged in partition order.
type Parallel struct {
	Estimated
	Workers int
	Child   Node
}

// Insert writes the rows produced by Source into Table.
type Insert struct {
	Estimated
	Table   *catalog.Table
	Columns []string
	Source  Node
}

// Update rewrites the rows of Table produced by Child.
type Update struct {
	Estimated
	Table *catalog.Table
	Set   []logical.Assignment
	Child Node
}

// Delete removes the rows of Table produced by Child.
type Delete struct {
	Estimated
	Table *catalog.Table
	Child Node
}

// CreateTable creates a table.
type CreateTable struct {
	Estimated
	Table       *catalog.Table
	IfNotExists bool
}

// CreateIndex adds a secondary index to a table and backfills it.
type CreateIndex struct {
	Estimated
	Table *catalog.Table
	Index catalog.Index
}

// DropTable removes a table and its rows.
type DropTable struct {
	Estimated
	Name     string
	IfExists bool
}

func (*Scan) Type() NodeType        { return NodeTypeScan }
func (*Filter) Type() NodeType      { return NodeTypeFilter }
func (*Project) Type() NodeType     { return NodeTypeProject }
func (*Join) Type() NodeType        { return NodeTypeJoin }
func (*Aggregate) Type() NodeType   { return NodeTypeAggregate }
func (*Sort) Type() NodeType        { return NodeTypeSort }
func (*Limit) Type() NodeType       { return NodeTypeLimit }
func (*Distinct) Type() NodeType    { return NodeTypeDistinct }
func (*SetOp) Type() NodeType       { return NodeTypeSetOp }
func (*Values) Type() NodeType      { return NodeTypeValues }
func (*Parallel) Type() NodeType    { return NodeTypeParallel }
func (*Insert) Type() NodeType      { return NodeTypeInsert }
func (*Update) Type() NodeType      { return NodeTypeUpdate }
func (*Delete) Type() NodeType      { return NodeTypeDelete }
func (*CreateTable) Type() NodeType { return NodeTypeCreateTable }
func (*CreateIndex) Type() NodeType { return NodeTypeCreateIndex }
func (*DropTable) Type() NodeType   { return NodeTypeDropTable }

func (*Scan) Children() []Node        { return nil }
func (n *Filter) Children() []Node    { return []Node{n.Child} }
func (n *Project) Children() []Node   { return []Node{n.Child} }
func (n *Join) Children() []Node      { return []Node{n.Left, n.Right} }
func (n *Aggregate) Children() []Node { return []Node{n.Child} }
func (n *Sort) Children() []Node      { return []Node{n.Child} }
func (n *Limit) Children() []Node     { return []Node{n.Child} }
func (n *Distinct) Children() []Node  { return []Node{n.Child} }
func (n *SetOp) Children() []Node     { return []Node{n.Left, n.Right} }
func (*Values) Children() []Node      { return nil }
func (n *Parallel) Children() []Node  { return []Node{n.Child} }
func (n *Insert) Children() []Node    { return []Node{n.Source} }
func (n *Update) Children() []Node    { return []Node{n.Child} }
func (n *Delete) Children() []Node    { return []Node{n.Child} }
func (*CreateTable) Children() []Node { return nil }
func (*CreateIndex) Children() []Node { return nil }
func (*DropTable) Children() []Node   { return nil }

func (n *Scan) Schema() []string {
	names := make([]string, len(n.Columns))
	for i, c := range n.Columns {
		names[i] = n.Alias + "." + c
	}
	return names
}

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

func (n *Join) Schema() []string      { return slices.Concat(n.Left.Schema(), n.Right.Schema()) }
func (n *Filter) Schema() []string    { return n.Child.Schema() }
func (n *Sort) Schema() []string      { return n.Child.Schema() }
func (n *Limit) Schema() []string     { return n.Child.Schema() }
func (n *Distinct) Schema() []string  { return n.Child.Schema() }
func (n *SetOp) Schema() []string     { return n.Left.Schema() }
func (n *Values) Schema() []string    { return n.Columns }
func (n *Parallel) Schema() []string  { return n.Child.Schema() }
func (*Insert) Schema() []string      { return nil }
func (*Update) Schema() []string      { return nil }
func (*Delete) Schema() []string      { return nil }
func (*CreateTable) Schema() []string { return nil }
func (*CreateIndex) Schema() []string { return nil }
func (*DropTable) Schema() []string   { return nil }

func (*Scan) isNode()        {}
func (*Filter) isNode()      {}
func (*Project) isNode()     {}
func (*Join) isNode()        {}
func (*Aggregate) isNode()   {}
func (*Sort) isNode()        {}
func (*Limit) isNode()       {}
func (*Distinct) isNode()    {}
func (*SetOp) isNode()       {}
func (*Values) isNode()      {}
func (*Parallel) isNode()    {}
func (*Insert) isNode()      {}
func (*Update) isNode()      {}
func (*Delete) isNode()      {}
func (*CreateTable) isNode() {}
func (*CreateIndex) isNode() {}
func (*DropTable) isNode()   {}

// Plan is a physical plan ready to be turned into operators.
type Plan struct {
	Root Node
	// Warnings lists the problems met while planning that did not prevent
	// it, such as tables without statistics.
	Warnings []string
}

// Cost returns the estimated cost of the whole plan.
func (p *Plan) Cost() cost.Estimate { return p.Root.Cost() }

// String renders the plan with the estimated cost of every node.
func (p *Plan) String() string { return PrintAsTree(p) }

// Walk visits every node of the plan in pre-order.
func Walk(n Node, f func(Node) bool) {
	if !f(n) {
		return
	}
	for _, c := range n.Children() {
		Walk(c, f)
	}
}
