package physical

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/sealdb/sealdb/pkg/engine/planner/internal/tree"
	"github.com/sealdb/sealdb/pkg/engine/planner/logical"
)

// BuildTree converts a physical plan node and its children into a tree
// structure for printing. When withCost is set every node carries its
// estimated cost and row count.
func BuildTree(n Node, withCost bool) *tree.Node {
	root := toTreeNode(n)
	if withCost {
		est := n.Cost()
		root.Properties = append(root.Properties,
			tree.Prop("cost", fmt.Sprintf("%.2f..%.2f", est.Startup, est.Total)),
			tree.Prop("rows", fmt.Sprintf("%.0f", est.Rows)),
		)
	}
	for _, child := range n.Children() {
		root.Append(BuildTree(child, withCost))
	}
	return root
}

func nodeName(n Node) string {
	switch n := n.(type) {
	case *Scan:
		return n.Method.String()
	case *Join:
		return n.Algorithm.String()
	case *Aggregate:
		return n.Strategy.String()
	case *Sort:
		return n.Strategy.String()
	}
	return n.Type().String()
}

func toTreeNode(n Node) *tree.Node {
	node := tree.NewNode(nodeName(n), "")
	switch n := n.(type) {
	case *Scan:
		node.Properties = []tree.Property{
			tree.Prop("table", n.Table.Name),
			tree.List("columns", n.Columns),
		}
		if n.Alias != n.Table.Name {
			node.Properties = append(node.Properties, tree.Prop("alias", n.Alias))
		}
		if len(n.Indexes) > 0 {
			node.Properties = append(node.Properties, tree.List("indexes", n.Indexes))
		}
		if len(n.Keys) > 0 {
			node.Properties = append(node.Properties, tree.List("keys", n.Keys))
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
			if _, name := logical.SplitQualified(c.Expr.String()); name != c.Name && c.Expr.String() != c.Name {
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
		switch n.Strategy {
		case SortTopN:
			node.Properties = append(node.Properties, tree.Prop("n", n.N))
		case SortExternal:
			node.Properties = append(node.Properties, tree.Prop("memory", humanize.IBytes(n.MemoryBytes)))
		}
	case *Limit:
		node.Properties = []tree.Property{tree.Prop("offset", n.Skip)}
		if n.Fetch != logical.NoFetch {
			node.Properties = append(node.Properties, tree.Prop("fetch", n.Fetch))
		}
	case *SetOp:
		kind := n.Kind.String()
		if n.All {
			kind += " ALL"
		}
		node.Properties = []tree.Property{tree.Prop("kind", kind)}
	case *Values:
		node.Properties = []tree.Property{
			tree.List("columns", n.Columns),
			tree.Prop("rows", len(n.Rows)),
		}
	case *Parallel:
		node.Properties = []tree.Property{tree.Prop("workers", n.Workers)}
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

// PrintAsTree renders a physical plan with the estimated cost of every node.
func PrintAsTree(p *Plan) string {
	return render(p, true)
}

// PrintShape renders a physical plan without costs.
func PrintShape(p *Plan) string {
	return render(p, false)
}

func render(p *Plan, withCost bool) string {
	if p == nil || p.Root == nil {
		return ""
	}
	var sb strings.Builder
	tree.NewPrinter(&sb).Print(BuildTree(p.Root, withCost))
	return sb.String()
}
