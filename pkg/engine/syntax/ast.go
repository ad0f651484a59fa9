// Package syntax holds the parsed form of SQL statements handed to the query
// engine. Producing these values from text is the job of an external parser.
package syntax

import (
	"github.com/sealdb/sealdb/pkg/engine/expr"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
)

// StatementType identifies the kind of a [Statement].
type StatementType int

const (
	StatementTypeInvalid StatementType = iota
	StatementTypeSelect
	StatementTypeInsert
	StatementTypeUpdate
	StatementTypeDelete
	StatementTypeCreateTable
	StatementTypeCreateIndex
	StatementTypeDropTable
	StatementTypeExplain
)

var statementTypeStrings = map[StatementType]string{
	StatementTypeInvalid:     "invalid",
	StatementTypeSelect:      "select",
	StatementTypeInsert:      "insert",
	StatementTypeUpdate:      "update",
	StatementTypeDelete:      "delete",
	StatementTypeCreateTable: "create_table",
	StatementTypeCreateIndex: "create_index",
	StatementTypeDropTable:   "drop_table",
	StatementTypeExplain:     "explain",
}

func (t StatementType) String() string {
	if s, ok := statementTypeStrings[t]; ok {
		return s
	}
	return "invalid"
}

// Statement is a parsed SQL statement. String renders it back as SQL and is
// stable for equal statements, so it doubles as a cache fingerprint.
type Statement interface {
	Type() StatementType
	String() string
	isStatement()
}

// TableExpr is an entry of a FROM clause.
type TableExpr interface {
	String() string
	isTableExpr()
}

// TableName references a stored table, optionally aliased.
type TableName struct {
	Name  string
	Alias string
}

// Subquery is a derived table: `(SELECT ...) AS alias`.
type Subquery struct {
	Select *Select
	Alias  string
}

// JoinExpr joins two table expressions.
type JoinExpr struct {
	Left  TableExpr
	Right TableExpr
	Type  types.JoinType
	// On is nil for a cross join.
	On expr.Expr
}

func (*TableName) isTableExpr() {}
func (*Subquery) isTableExpr()  {}
func (*JoinExpr) isTableExpr()  {}

// SelectItem is one projected expression. A [expr.Column] named [expr.Star]
// selects every column of the input.
type SelectItem struct {
	Expr  expr.Expr
	Alias string
}

// OrderItem is one ORDER BY key.
type OrderItem struct {
	Expr  expr.Expr
	Order types.SortOrder
}

// SetOperation combines a SELECT with another one.
type SetOperation struct {
	Kind  types.SetOpKind
	All   bool
	Right *Select
}

// Select is a SELECT statement.
type Select struct {
	Distinct bool
	Items    []SelectItem
	// From is nil for a SELECT without a FROM clause.
	From    TableExpr
	Where   expr.Expr
	GroupBy []expr.Expr
	Having  expr.Expr
	OrderBy []OrderItem
	// Limit is nil when the statement has no LIMIT clause.
	Limit  *uint64
	Offset uint64
	SetOp  *SetOperation
}

// Insert is an INSERT ... VALUES statement.
type Insert struct {
	Table string
	// Columns is empty when values are given in table column order.
	Columns []string
	Rows    [][]expr.Expr
}

// Assignment is one `column = value` of an UPDATE.
type Assignment struct {
	Column string
	Value  expr.Expr
}

// Update is an UPDATE statement.
type Update struct {
	Table string
	Set   []Assignment
	Where expr.Expr
}

// Delete is a DELETE statement.
type Delete struct {
	Table string
	Where expr.Expr
}

// ColumnDef declares a column in CREATE TABLE.
type ColumnDef struct {
	Name    string
	Type    types.ValueType
	NotNull bool
}

// IndexDef declares a secondary index.
type IndexDef struct {
	Name    string
	Columns []string
	Unique  bool
}

// CreateTable is a CREATE TABLE statement.
type CreateTable struct {
	Name        string
	Columns     []ColumnDef
	PrimaryKey  string
	Indexes     []IndexDef
	IfNotExists bool
}

// CreateIndex is a CREATE INDEX statement.
type CreateIndex struct {
	Table string
	Index IndexDef
}

// DropTable is a DROP TABLE statement.
type DropTable struct {
	Name     string
	IfExists bool
}

// Explain wraps a statement whose plan should be printed instead of run.
type Explain struct {
	Statement Statement
}

func (*Select) Type() StatementType      { return StatementTypeSelect }
func (*Insert) Type() StatementType      { return StatementTypeInsert }
func (*Update) Type() StatementType      { return StatementTypeUpdate }
func (*Delete) Type() StatementType      { return StatementTypeDelete }
func (*CreateTable) Type() StatementType { return StatementTypeCreateTable }
func (*CreateIndex) Type() StatementType { return StatementTypeCreateIndex }
func (*DropTable) Type() StatementType   { return StatementTypeDropTable }
func (*Explain) Type() StatementType     { return StatementTypeExplain }

func (*Select) isStatement()      {}
func (*Insert) isStatement()      {}
func (*Update) isStatement()      {}
func (*Delete) isStatement()      {}
func (*CreateTable) isStatement() {}
func (*CreateIndex) isStatement() {}
func (*DropTable) isStatement()   {}
func (*Explain) isStatement()     {}

// IsReadOnly reports whether executing stmt cannot change stored data.
func IsReadOnly(stmt Statement) bool {
	switch stmt.(type) {
	case *Select, *Explain:
		return true
	}
	return false
}

// Limit returns a pointer to n for use in [Select.Limit].
func Limit(n uint64) *uint64 { return &n }
