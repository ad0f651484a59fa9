package logical

import (
	"strings"

	"github.com/sealdb/sealdb/pkg/engine/planner/internal/tree"
)

// BuildTree converts a logical plan node and its children into a tree
// structure for printing.
func BuildTree(n Node) *tree.Node {
	root := toTreeNode(n)
	for _, child := range n.Children() {
		root.Append(BuildTree(child))
	}
	return root
}

func toTreeNode(n Node) *tree.Node {
	node := tree.NewNode(n.Type().String(), "")
	switch n := n.(type) {
	case *Scan:
		node.Properties = []tree.Property{
			tree.Prop("table", n.Table.Name),
			tree.List("columns", n.Columns),
		}
		if n.Alias != n.Table.Name {
			node.Properties = append(node.Properties, tree.Prop("alias", n.Alias))
		}
		if n.Index != "" {
			node.Properties = append(node.Properties, tree.Prop("index", n.Index))
		}
		if n.Limit > 0 {
			node.Properties = append(node.Properties, tree.Prop("limit", n.Limit))
		}
		if len(n.Filters) > 0 {
			node.Properties = append(node.Properties, tree.List("filters", n.Filters))
		}
	case *Filter:
		node.Properties = []tree.Property{tree.Prop("condition", n.Condition)}
	case *Project:
		cols := make([]string, len(n.Columns))
		for i, c := range n.Columns {
			cols[i] = c.Expr.String()
			if _, name := SplitQualified(c.Expr.String()); name != c.Name {
				cols[i] += " AS " + c.Name
			}
		}
		node.Properties = []tree.Property{tree.List("columns", cols)}
	case *Join:
		node.Properties = []tree.Property{tree.Prop("type", n.JoinType)}
		if n.Condition != nil {
			node.Properties = append(node.Properties, tree.Prop("on", n.Condition))
		}
	case *Aggregate:
		node.Properties = []tree.Property{
			tree.List("group_by", n.GroupBy),
			tree.List("aggregates", n.Aggregates),
		}
	case *Sort:
		node.Properties = []tree.Property{tree.List("keys", n.Keys)}
	case *Limit:
		node.Properties = []tree.Property{tree.Prop("offset", n.Skip)}
		if n.Fetch != NoFetch {
			node.Properties = append(node.Properties, tree.Prop("fetch", n.Fetch))
		}
	case *SetOp:
		kind := n.Kind.String()
		if n.All {
			kind += " ALL"
		}
		node.Properties = []tree.Property{tree.Prop("kind", kind)}
	case *SubqueryAlias:
		node.Properties = []tree.Property{tree.Prop("alias", n.Alias)}
	case *Values:
		node.Properties = []tree.Property{
			tree.List("columns", n.Columns),
			tree.Prop("rows", len(n.Rows)),
		}
	case *Insert:
		node.Properties = []tree.Property{tree.Prop("table", n.Table.Name), tree.List("columns", n.Columns)}
	case *Update:
		set := make([]string, len(n.Set))
		for i, a := range n.Set {
			set[i] = a.Column + " = " + a.Value.String()
		}
		node.Properties = []tree.Property{tree.Prop("table", n.Table.Name), tree.List("set", set)}
	case *Delete:
		node.Properties = []tree.Property{tree.Prop("table", n.Table.Name)}
	case *CreateTable:
		node.Properties = []tree.Property{tree.Prop("table", n.Table.Name), tree.List("columns", n.Table.ColumnNames())}
	case *CreateIndex:
		node.Properties = []tree.Property{tree.Prop("table", n.Table.Name), tree.Prop("index", n.Index.Name)}
	case *DropTable:
		node.Properties = []tree.Property{tree.Prop("table", n.Name)}
	}
	return node
}

// PrintAsTree renders a logical plan as an indented tree.
func PrintAsTree(p *QueryPlan) string {
	if p == nil || p.Root == nil {
		return ""
	}
	var sb strings.Builder
	tree.NewPrinter(&sb).Print(BuildTree(p.Root))
	return sb.String()
}
