package tree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrinter(t *testing.T) {
	root := NewNode("Limit", "", NewProperty("fetch", false, 10))
	filter := root.AddChild("Filter", "")
	filter.AddComment("Predicate", "", Prop("expr", "id = 1"))
	filter.AddChild("SeqScan", "",
		Prop("table", "users"),
		List("columns", []string{"id", "name"}),
	)

	expected := `Limit fetch=10
└── Filter
    │   └── Predicate expr=id = 1
    └── SeqScan table=users columns=(id, name)
`
	require.Equal(t, expected, String(root))
}

func TestPrinter_Siblings(t *testing.T) {
	root := NewNode("HashJoin", "1")
	root.AddChild("SeqScan", "2", Prop("table", "a"))
	root.AddChild("SeqScan", "3", NewProperty("table", false, "b"))

	expected := `HashJoin #1
├── SeqScan #2 table=a
└── SeqScan #3 table=b
`
	require.Equal(t, expected, String(root))
}
