package logical

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pkg/errors"

	"github.com/sealdb/sealdb/pkg/engine/catalog"
	"github.com/sealdb/sealdb/pkg/engine/expr"
	qerrors "github.com/sealdb/sealdb/pkg/engine/internal/errors"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
	"github.com/sealdb/sealdb/pkg/engine/syntax"
)

// Build converts a parsed statement into a validated logical plan. Tables
// are resolved against cat. An EXPLAIN statement builds the plan of the
// statement it wraps.
//
// All errors are of kind [qerrors.KindPlanning].
func Build(stmt syntax.Statement, cat catalog.Catalog) (*QueryPlan, error) {
	if ex, ok := stmt.(*syntax.Explain); ok {
		stmt = ex.Statement
	}
	p := &planner{catalog: cat}
	root, err := p.statement(stmt)
	if err != nil {
		return nil, qerrors.New(qerrors.KindPlanning, err)
	}
	plan := &QueryPlan{Root: root}
	if err := plan.Validate(); err != nil {
		return nil, qerrors.New(qerrors.KindPlanning, err)
	}
	return plan, nil
}

type planner struct {
	catalog catalog.Catalog
}

func (p *planner) statement(stmt syntax.Statement) (Node, error) {
	switch s := stmt.(type) {
	case *syntax.Select:
		return p.selectStmt(s)
	case *syntax.Insert:
		return p.insert(s)
	case *syntax.Update:
		return p.update(s)
	case *syntax.Delete:
		return p.delete(s)
	case *syntax.CreateTable:
		return p.createTable(s)
	case *syntax.CreateIndex:
		return p.createIndex(s)
	case *syntax.DropTable:
		return &DropTable{Name: s.Name, IfExists: s.IfExists}, nil
	case *syntax.Explain:
		return nil, errors.New("EXPLAIN cannot be nested")
	case nil:
		return nil, errors.New("no statement")
	}
	return nil, errors.Wrapf(qerrors.ErrNotImplemented, "statement %T", stmt)
}

func (p *planner) selectStmt(s *syntax.Select) (Node, error) {
	// ORDER BY of a set operation applies to its combined output.
	var orderBy []syntax.OrderItem
	if s.SetOp == nil {
		orderBy = s.OrderBy
	}
	node, err := p.selectCore(s, orderBy)
	if err != nil {
		return nil, err
	}

	if s.SetOp != nil {
		right, err := p.selectStmt(s.SetOp.Right)
		if err != nil {
			return nil, err
		}
		if l, r := len(node.Schema()), len(right.Schema()); l != r {
			return nil, fmt.Errorf("each %s query must have the same number of columns, got %d and %d", s.SetOp.Kind, l, r)
		}
		node = &SetOp{Kind: s.SetOp.Kind, All: s.SetOp.All, Left: node, Right: right}

		if len(s.OrderBy) > 0 {
			keys := make([]SortKey, len(s.OrderBy))
			for i, o := range s.OrderBy {
				if err := CheckColumns(o.Expr, node.Schema()); err != nil {
					return nil, errors.Wrap(err, "ORDER BY")
				}
				keys[i] = SortKey{Expr: o.Expr, Order: o.Order}
			}
			node = &Sort{Keys: keys, Child: node}
		}
	}

	if s.Limit != nil || s.Offset > 0 {
		fetch := uint64(NoFetch)
		if s.Limit != nil {
			fetch = *s.Limit
		}
		node = &Limit{Skip: s.Offset, Fetch: fetch, Child: node}
	}
	return node, nil
}

func (p *planner) selectCore(s *syntax.Select, orderBy []syntax.OrderItem) (Node, error) {
	input, err := p.from(s.From)
	if err != nil {
		return nil, err
	}

	if s.Where != nil {
		if expr.ContainsAggregate(s.Where) {
			return nil, errors.New("aggregate functions are not allowed in WHERE")
		}
		if err := CheckColumns(s.Where, input.Schema()); err != nil {
			return nil, errors.Wrap(err, "WHERE")
		}
		input = &Filter{Condition: s.Where, Child: input}
	}

	items, hasStar, err := expandItems(s.Items, input.Schema())
	if err != nil {
		return nil, err
	}

	having := s.Having
	orderExprs := make([]expr.Expr, len(orderBy))
	for i, o := range orderBy {
		orderExprs[i] = o.Expr
	}

	aggExprs := make([]expr.Expr, 0, len(items)+len(orderExprs)+1)
	for _, it := range items {
		aggExprs = append(aggExprs, it.Expr)
	}
	aggExprs = append(aggExprs, orderExprs...)
	if having != nil {
		aggExprs = append(aggExprs, having)
	}
	aggregates, err := collectAggregates(aggExprs, input.Schema())
	if err != nil {
		return nil, err
	}

	if len(s.GroupBy) > 0 || len(aggregates) > 0 {
		if hasStar {
			return nil, errors.New("SELECT * is not allowed with GROUP BY or aggregates")
		}
		for _, g := range s.GroupBy {
			if expr.ContainsAggregate(g) {
				return nil, errors.New("aggregate functions are not allowed in GROUP BY")
			}
			if err := CheckColumns(g, input.Schema()); err != nil {
				return nil, errors.Wrap(err, "GROUP BY")
			}
		}
		input = &Aggregate{GroupBy: s.GroupBy, Aggregates: aggregates, Child: input}

		for i := range items {
			if items[i].Expr, err = groupRewrite(items[i].Expr, s.GroupBy); err != nil {
				return nil, err
			}
		}
		for i := range orderExprs {
			if orderExprs[i], err = groupRewrite(orderExprs[i], s.GroupBy); err != nil {
				return nil, err
			}
		}
		if having != nil {
			if having, err = groupRewrite(having, s.GroupBy); err != nil {
				return nil, err
			}
			if err := CheckColumns(having, input.Schema()); err != nil {
				return nil, errors.Wrap(err, "HAVING")
			}
			input = &Filter{Condition: having, Child: input}
		}
	} else if having != nil {
		return nil, errors.New("HAVING requires GROUP BY or an aggregate")
	}

	if len(orderBy) > 0 {
		keys := make([]SortKey, len(orderBy))
		for i, o := range orderBy {
			e := resolveOrderKey(orderExprs[i], items)
			if err := CheckColumns(e, input.Schema()); err != nil {
				return nil, errors.Wrap(err, "ORDER BY")
			}
			keys[i] = SortKey{Expr: e, Order: o.Order}
		}
		input = &Sort{Keys: keys, Child: input}
	}

	for _, it := range items {
		if err := CheckColumns(it.Expr, input.Schema()); err != nil {
			return nil, err
		}
	}
	var node Node = &Project{Columns: items, Child: input}
	if s.Distinct {
		node = &Distinct{Child: node}
	}
	return node, nil
}

func (p *planner) from(t syntax.TableExpr) (Node, error) {
	switch t := t.(type) {
	case nil:
		return &Values{Rows: [][]expr.Expr{{}}}, nil
	case *syntax.TableName:
		table, err := p.catalog.Table(t.Name)
		if err != nil {
			return nil, err
		}
		return NewScan(table, t.Alias), nil
	case *syntax.Subquery:
		if t.Alias == "" {
			return nil, errors.New("subquery in FROM must have an alias")
		}
		child, err := p.selectStmt(t.Select)
		if err != nil {
			return nil, err
		}
		return &SubqueryAlias{Alias: t.Alias, Child: child}, nil
	case *syntax.JoinExpr:
		left, err := p.from(t.Left)
		if err != nil {
			return nil, err
		}
		right, err := p.from(t.Right)
		if err != nil {
			return nil, err
		}
		join := &Join{Left: left, Right: right, Condition: t.On, JoinType: t.Type}
		if t.On == nil {
			join.JoinType = types.JoinTypeInner
		} else {
			if expr.ContainsAggregate(t.On) {
				return nil, errors.New("aggregate functions are not allowed in JOIN conditions")
			}
			if err := CheckColumns(t.On, join.Schema()); err != nil {
				return nil, errors.Wrap(err, "JOIN")
			}
		}
		return join, nil
	}
	return nil, errors.Wrapf(qerrors.ErrNotImplemented, "table expression %T", t)
}

// expandItems names the select items and expands `*` and `alias.*`.
func expandItems(items []syntax.SelectItem, schema []string) ([]NamedExpr, bool, error) {
	if len(items) == 0 {
		return nil, false, errors.New("SELECT has no columns")
	}
	out := make([]NamedExpr, 0, len(items))
	hasStar := false
	for _, it := range items {
		if col, ok := it.Expr.(*expr.Column); ok {
			q, c := col.Qualifier(), col.Unqualified()
			if c == expr.Star {
				hasStar = true
				n := len(out)
				for _, name := range schema {
					sq, sc := SplitQualified(name)
					if q == "" || strings.EqualFold(q, sq) {
						out = append(out, NamedExpr{Expr: expr.NewColumn(name), Name: sc})
					}
				}
				if len(out) == n {
					return nil, false, fmt.Errorf("%s matches no columns", col.Name)
				}
				continue
			}
		}
		out = append(out, NamedExpr{Expr: it.Expr, Name: itemName(it)})
	}
	return out, hasStar, nil
}

func itemName(it syntax.SelectItem) string {
	if it.Alias != "" {
		return it.Alias
	}
	if col, ok := it.Expr.(*expr.Column); ok {
		_, c := SplitQualified(col.Name)
		return c
	}
	return it.Expr.String()
}

// collectAggregates returns the distinct aggregate calls in exprs, in order of
// appearance, after checking their arguments against the input schema.
func collectAggregates(exprs []expr.Expr, schema []string) ([]*expr.Function, error) {
	var (
		out  []*expr.Function
		seen = map[string]struct{}{}
		err  error
	)
	for _, e := range exprs {
		expr.Inspect(e, func(e expr.Expr) bool {
			if err != nil {
				return false
			}
			f, ok := e.(*expr.Function)
			if !ok || !expr.IsAggregate(f) {
				return true
			}
			if err = checkAggregate(f, schema); err != nil {
				return false
			}
			if _, dup := seen[f.String()]; !dup {
				seen[f.String()] = struct{}{}
				out = append(out, f)
			}
			return false
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func checkAggregate(f *expr.Function, schema []string) error {
	if len(f.Args) != 1 {
		return fmt.Errorf("%s expects 1 argument, got %d", f.Name, len(f.Args))
	}
	arg := f.Args[0]
	if col, ok := arg.(*expr.Column); ok && col.Name == expr.Star {
		if f.Name != types.AggregateFuncCount.String() {
			return fmt.Errorf("%s(*) is not supported", f.Name)
		}
		return nil
	}
	if expr.ContainsAggregate(arg) {
		return fmt.Errorf("aggregate calls cannot be nested: %s", f)
	}
	return errors.Wrap(CheckColumns(arg, schema), f.String())
}

// groupRewrite replaces sub-expressions equal to a group key with a
// reference to the grouped column of the aggregate output.
func groupRewrite(e expr.Expr, groupBy []expr.Expr) (expr.Expr, error) {
	if len(groupBy) == 0 {
		return e, nil
	}
	return expr.Transform(e, func(sub expr.Expr) (expr.Expr, error) {
		if _, ok := sub.(*expr.Column); ok {
			return sub, nil
		}
		for _, g := range groupBy {
			if expr.Equal(sub, g) {
				return expr.NewColumn(g.String()), nil
			}
		}
		return sub, nil
	})
}

// resolveOrderKey replaces a reference to a select item, either by output
// name or by 1-based position, with the item's expression.
func resolveOrderKey(e expr.Expr, items []NamedExpr) expr.Expr {
	switch k := e.(type) {
	case *expr.Literal:
		if k.Value.Type() == types.ValueTypeInt {
			if pos := k.Value.Int(); pos >= 1 && int(pos) <= len(items) {
				return items[pos-1].Expr
			}
		}
	case *expr.Column:
		for _, it := range items {
			if strings.EqualFold(it.Name, k.Name) {
				return it.Expr
			}
		}
	}
	return e
}

func (p *planner) insert(s *syntax.Insert) (Node, error) {
	table, err := p.catalog.Table(s.Table)
	if err != nil {
		return nil, err
	}
	cols := s.Columns
	if len(cols) == 0 {
		cols = table.ColumnNames()
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		col, ok := table.Column(c)
		if !ok {
			return nil, errors.Wrapf(qerrors.ErrColumnNotFound, "%q in table %q", c, table.Name)
		}
		if slices.Contains(names, col.Name) {
			return nil, fmt.Errorf("column %q specified more than once", col.Name)
		}
		names[i] = col.Name
	}
	if !slices.Contains(names, table.PrimaryKey) {
		return nil, fmt.Errorf("primary key column %q must be provided", table.PrimaryKey)
	}
	if len(s.Rows) == 0 {
		return nil, errors.New("INSERT has no rows")
	}
	for i, row := range s.Rows {
		if len(row) != len(names) {
			return nil, fmt.Errorf("INSERT row %d has %d values, want %d", i, len(row), len(names))
		}
		for _, v := range row {
			if !expr.IsConstant(v) {
				return nil, fmt.Errorf("INSERT value %s is not a constant", v)
			}
		}
	}
	return &Insert{
		Table:   table,
		Columns: names,
		Source:  &Values{Columns: names, Rows: s.Rows},
	}, nil
}

func (p *planner) update(s *syntax.Update) (Node, error) {
	table, err := p.catalog.Table(s.Table)
	if err != nil {
		return nil, err
	}
	child, err := p.writeInput(table, s.Where)
	if err != nil {
		return nil, err
	}
	if len(s.Set) == 0 {
		return nil, errors.New("UPDATE has no assignments")
	}
	set := make([]Assignment, len(s.Set))
	for i, a := range s.Set {
		col, ok := table.Column(a.Column)
		if !ok {
			return nil, errors.Wrapf(qerrors.ErrColumnNotFound, "%q in table %q", a.Column, table.Name)
		}
		if table.IsPrimaryKey(col.Name) {
			return nil, fmt.Errorf("cannot update primary key column %q", col.Name)
		}
		if expr.ContainsAggregate(a.Value) {
			return nil, errors.New("aggregate functions are not allowed in UPDATE")
		}
		if err := CheckColumns(a.Value, child.Schema()); err != nil {
			return nil, err
		}
		set[i] = Assignment{Column: col.Name, Value: a.Value}
	}
	return &Update{Table: table, Set: set, Child: child}, nil
}

func (p *planner) delete(s *syntax.Delete) (Node, error) {
	table, err := p.catalog.Table(s.Table)
	if err != nil {
		return nil, err
	}
	child, err := p.writeInput(table, s.Where)
	if err != nil {
		return nil, err
	}
	return &Delete{Table: table, Child: child}, nil
}

// writeInput plans the rows targeted by UPDATE or DELETE.
func (p *planner) writeInput(table *catalog.Table, where expr.Expr) (Node, error) {
	var node Node = NewScan(table, "")
	if where == nil {
		return node, nil
	}
	if expr.ContainsAggregate(where) {
		return nil, errors.New("aggregate functions are not allowed in WHERE")
	}
	if err := CheckColumns(where, node.Schema()); err != nil {
		return nil, errors.Wrap(err, "WHERE")
	}
	return &Filter{Condition: where, Child: node}, nil
}

func (p *planner) createTable(s *syntax.CreateTable) (Node, error) {
	table := &catalog.Table{Name: s.Name, PrimaryKey: s.PrimaryKey}
	for _, c := range s.Columns {
		table.Columns = append(table.Columns, catalog.Column{Name: c.Name, Type: c.Type, NotNull: c.NotNull})
	}
	for _, idx := range s.Indexes {
		table.Indexes = append(table.Indexes, catalog.Index{Name: idx.Name, Columns: idx.Columns, Unique: idx.Unique})
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return &CreateTable{Table: table, IfNotExists: s.IfNotExists}, nil
}

func (p *planner) createIndex(s *syntax.CreateIndex) (Node, error) {
	table, err := p.catalog.Table(s.Table)
	if err != nil {
		return nil, err
	}
	idx := catalog.Index{Name: s.Index.Name, Columns: s.Index.Columns, Unique: s.Index.Unique}
	check := table.Clone()
	check.Indexes = append(check.Indexes, idx)
	if err := check.Validate(); err != nil {
		return nil, err
	}
	return &CreateIndex{Table: table, Index: idx}, nil
}
