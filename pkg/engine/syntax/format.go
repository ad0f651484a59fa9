package syntax

import (
	"strconv"
	"strings"

	"github.com/sealdb/sealdb/pkg/engine/expr"
)

func (t *TableName) String() string {
	if t.Alias != "" && t.Alias != t.Name {
		return t.Name + " AS " + t.Alias
	}
	return t.Name
}

func (s *Subquery) String() string {
	return "(" + s.Select.String() + ") AS " + s.Alias
}

func (j *JoinExpr) String() string {
	var sb strings.Builder
	sb.WriteString(j.Left.String())
	if j.On == nil {
		sb.WriteString(" CROSS JOIN ")
		sb.WriteString(j.Right.String())
		return sb.String()
	}
	sb.WriteByte(' ')
	sb.WriteString(j.Type.String())
	sb.WriteString(" JOIN ")
	sb.WriteString(j.Right.String())
	sb.WriteString(" ON ")
	sb.WriteString(j.On.String())
	return sb.String()
}

func (s *Select) String() string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if s.Distinct {
		sb.WriteString("DISTINCT ")
	}
	for i, item := range s.Items {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(item.Expr.String())
		if item.Alias != "" {
			sb.WriteString(" AS ")
			sb.WriteString(item.Alias)
		}
	}
	if s.From != nil {
		sb.WriteString(" FROM ")
		sb.WriteString(s.From.String())
	}
	if s.Where != nil {
		sb.WriteString(" WHERE ")
		sb.WriteString(s.Where.String())
	}
	if len(s.GroupBy) > 0 {
		sb.WriteString(" GROUP BY ")
		writeExprs(&sb, s.GroupBy)
	}
	if s.Having != nil {
		sb.WriteString(" HAVING ")
		sb.WriteString(s.Having.String())
	}
	if len(s.OrderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		for i, o := range s.OrderBy {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(o.Expr.String())
			sb.WriteByte(' ')
			sb.WriteString(o.Order.String())
		}
	}
	if s.Limit != nil {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.FormatUint(*s.Limit, 10))
	}
	if s.Offset > 0 {
		sb.WriteString(" OFFSET ")
		sb.WriteString(strconv.FormatUint(s.Offset, 10))
	}
	if s.SetOp != nil {
		sb.WriteByte(' ')
		sb.WriteString(s.SetOp.Kind.String())
		if s.SetOp.All {
			sb.WriteString(" ALL")
		}
		sb.WriteByte(' ')
		sb.WriteString(s.SetOp.Right.String())
	}
	return sb.String()
}

func (s *Insert) String() string {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(s.Table)
	if len(s.Columns) > 0 {
		sb.WriteString(" (")
		sb.WriteString(strings.Join(s.Columns, ", "))
		sb.WriteByte(')')
	}
	sb.WriteString(" VALUES ")
	for i, row := range s.Rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		writeExprs(&sb, row)
		sb.WriteByte(')')
	}
	return sb.String()
}

func (s *Update) String() string {
	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(s.Table)
	sb.WriteString(" SET ")
	for i, a := range s.Set {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(a.Column)
		sb.WriteString(" = ")
		sb.WriteString(a.Value.String())
	}
	if s.Where != nil {
		sb.WriteString(" WHERE ")
		sb.WriteString(s.Where.String())
	}
	return sb.String()
}

func (s *Delete) String() string {
	if s.Where == nil {
		return "DELETE FROM " + s.Table
	}
	return "DELETE FROM " + s.Table + " WHERE " + s.Where.String()
}

func (s *CreateTable) String() string {
	var sb strings.Builder
	sb.WriteString("CREATE TABLE ")
	if s.IfNotExists {
		sb.WriteString("IF NOT EXISTS ")
	}
	sb.WriteString(s.Name)
	sb.WriteString(" (")
	for i, c := range s.Columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(c.Name)
		sb.WriteByte(' ')
		sb.WriteString(strings.ToUpper(c.Type.String()))
		if c.NotNull {
			sb.WriteString(" NOT NULL")
		}
	}
	if s.PrimaryKey != "" {
		sb.WriteString(", PRIMARY KEY (")
		sb.WriteString(s.PrimaryKey)
		sb.WriteByte(')')
	}
	for _, idx := range s.Indexes {
		sb.WriteString(", ")
		sb.WriteString(idx.String())
	}
	sb.WriteByte(')')
	return sb.String()
}

func (d IndexDef) String() string {
	prefix := "INDEX "
	if d.Unique {
		prefix = "UNIQUE INDEX "
	}
	return prefix + d.Name + " (" + strings.Join(d.Columns, ", ") + ")"
}

func (s *CreateIndex) String() string {
	return "CREATE " + s.Index.String() + " ON " + s.Table
}

func (s *DropTable) String() string {
	if s.IfExists {
		return "DROP TABLE IF EXISTS " + s.Name
	}
	return "DROP TABLE " + s.Name
}

func (s *Explain) String() string {
	return "EXPLAIN " + s.Statement.String()
}

func writeExprs(sb *strings.Builder, exprs []expr.Expr) {
	for i, e := range exprs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(e.String())
	}
}
