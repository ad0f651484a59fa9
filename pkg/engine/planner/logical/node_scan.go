package logical

import (
	"slices"
	"strings"

	"github.com/sealdb/sealdb/pkg/engine/catalog"
	"github.com/sealdb/sealdb/pkg/engine/expr"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
)

// ScanFilter is a `column op value` predicate evaluated by the scan itself.
// Values holds one value, or the list of an IN filter.
type ScanFilter struct {
	Column string
	Op     types.FilterOp
	Values []types.Value
}

func (f ScanFilter) String() string {
	if f.Op == types.FilterOpIn {
		vals := make([]string, len(f.Values))
		for i, v := range f.Values {
			vals[i] = expr.NewLiteral(v).String()
		}
		return f.Column + " IN (" + strings.Join(vals, ", ") + ")"
	}
	return f.Column + " " + f.Op.String() + " " + expr.NewLiteral(f.Value()).String()
}

// Value returns the single comparison value of the filter.
func (f ScanFilter) Value() types.Value {
	if len(f.Values) == 0 {
		return types.Null
	}
	return f.Values[0]
}

// Expr converts the filter back to an expression over the column qualified
// with alias.
func (f ScanFilter) Expr(alias string) expr.Expr {
	col := expr.NewColumn(alias + "." + f.Column)
	if f.Op == types.FilterOpIn {
		vals := make([]expr.Expr, len(f.Values))
		for i, v := range f.Values {
			vals[i] = expr.NewLiteral(v)
		}
		return expr.In(col, vals...)
	}
	return expr.Binary(col, f.Op.BinOp(), expr.NewLiteral(f.Value()))
}

// Matches reports whether v satisfies the filter. NULL never matches.
func (f ScanFilter) Matches(v types.Value) (bool, error) {
	if f.Op == types.FilterOpIn {
		for _, want := range f.Values {
			res, err := expr.Apply(types.BinOpKindEq, v, want)
			if err != nil {
				return false, err
			}
			if res.Truthy() {
				return true, nil
			}
		}
		return false, nil
	}
	res, err := expr.Apply(f.Op.BinOp(), v, f.Value())
	if err != nil {
		return false, err
	}
	return res.Truthy(), nil
}

// FilterFromExpr converts `column op literal` (or `literal op column`, or
// `column IN (literals)`) over a column of alias into a scan filter.
func FilterFromExpr(e expr.Expr, alias string) (ScanFilter, bool) {
	bin, ok := e.(*expr.BinaryOp)
	if !ok {
		return ScanFilter{}, false
	}
	op, ok := types.FilterOpFromBinOp(bin.Op)
	if !ok {
		return ScanFilter{}, false
	}

	col, lhsCol := bin.Left.(*expr.Column)
	if bin.Op == types.BinOpKindIn {
		list, isList := bin.Right.(*expr.Function)
		if !lhsCol || !isList || list.Name != expr.FuncList || len(list.Args) == 0 {
			return ScanFilter{}, false
		}
		vals := make([]types.Value, len(list.Args))
		for i, a := range list.Args {
			lit, ok := a.(*expr.Literal)
			if !ok || lit.Value.IsNull() {
				return ScanFilter{}, false
			}
			vals[i] = lit.Value
		}
		name, ok := ownColumn(col.Name, alias)
		return ScanFilter{Column: name, Op: op, Values: vals}, ok
	}

	lit, rhsLit := bin.Right.(*expr.Literal)
	if !lhsCol || !rhsLit {
		// Normalize `literal op column`.
		var ok1, ok2 bool
		col, ok1 = bin.Right.(*expr.Column)
		lit, ok2 = bin.Left.(*expr.Literal)
		if !ok1 || !ok2 || op == types.FilterOpLike {
			return ScanFilter{}, false
		}
		op, _ = types.FilterOpFromBinOp(bin.Op.Flip())
	}
	if lit.Value.IsNull() {
		return ScanFilter{}, false
	}
	name, ok := ownColumn(col.Name, alias)
	return ScanFilter{Column: name, Op: op, Values: []types.Value{lit.Value}}, ok
}

// ownColumn strips alias from a column reference. Unqualified names are
// accepted as is.
func ownColumn(name, alias string) (string, bool) {
	q, col := SplitQualified(name)
	if q == "" {
		return col, true
	}
	return col, strings.EqualFold(q, alias)
}

// Scan reads rows of a stored table.
//
// Columns lists the table columns to read; output columns are named
// `alias.column`. Filters are conjunctive. Index names the secondary index
// chosen to drive the scan, if any, and Limit caps the rows read when non
// zero.
type Scan struct {
	Table   *catalog.Table
	Alias   string
	Columns []string
	Filters []ScanFilter
	Index   string
	Limit   uint64
}

// NewScan reads every column of table.
func NewScan(table *catalog.Table, alias string) *Scan {
	if alias == "" {
		alias = table.Name
	}
	return &Scan{Table: table, Alias: alias, Columns: table.ColumnNames()}
}

func (*Scan) Type() NodeType      { return NodeTypeScan }
func (*Scan) Children() []Node    { return nil }
func (*Scan) isNode()             {}
func (n *Scan) TableName() string { return n.Table.Name }

func (n *Scan) WithChildren(children ...Node) Node {
	mustArity(n, children, 0)
	c := *n
	return &c
}

func (n *Scan) Schema() []string {
	names := make([]string, len(n.Columns))
	for i, c := range n.Columns {
		names[i] = n.Alias + "." + c
	}
	return names
}

// Join combines rows of Left and Right for which Condition holds. A nil
// Condition is a cross join.
type Join struct {
	Left      Node
	Right     Node
	Condition expr.Expr
	JoinType  types.JoinType
}

func (*Join) Type() NodeType     { return NodeTypeJoin }
func (n *Join) Children() []Node { return []Node{n.Left, n.Right} }
func (*Join) isNode()            {}

func (n *Join) WithChildren(children ...Node) Node {
	mustArity(n, children, 2)
	c := *n
	c.Left, c.Right = children[0], children[1]
	return &c
}

func (n *Join) Schema() []string {
	return slices.Concat(n.Left.Schema(), n.Right.Schema())
}

// EquiKeys splits an equi-join condition into pairs of left and right key
// expressions. It reports false if the condition is anything other than a
// conjunction of equalities between one side and the other.
func (n *Join) EquiKeys() (left, right []expr.Expr, ok bool) {
	if n.Condition == nil {
		return nil, nil, false
	}
	ls, rs := n.Left.Schema(), n.Right.Schema()
	for _, c := range expr.SplitConjunction(n.Condition) {
		bin, isBin := c.(*expr.BinaryOp)
		if !isBin || bin.Op != types.BinOpKindEq {
			return nil, nil, false
		}
		switch {
		case RefersOnly(bin.Left, ls) && RefersOnly(bin.Right, rs):
			left, right = append(left, bin.Left), append(right, bin.Right)
		case RefersOnly(bin.Left, rs) && RefersOnly(bin.Right, ls):
			left, right = append(left, bin.Right), append(right, bin.Left)
		default:
			return nil, nil, false
		}
	}
	return left, right, len(left) > 0
}
