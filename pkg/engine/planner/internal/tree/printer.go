package tree

import (
	"fmt"
	"io"
	"strings"
)

const (
	symConn = "├── "
	symLast = "└── "
	symPipe = "│   "
	symNone = "    "
	symCmt  = "    "
)

// Printer writes a [Node] and its descendants as an indented tree.
type Printer struct {
	w io.Writer
}

// NewPrinter creates a Printer that writes to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Print writes the tree rooted at root.
func (p *Printer) Print(root *Node) {
	p.printNode(root, "", "", true)
}

func (p *Printer) printNode(n *Node, prefix, connector string, isRoot bool) {
	fmt.Fprintf(p.w, "%s%s%s\n", prefix, connector, formatNode(n))

	childPrefix := prefix
	if !isRoot {
		if connector == symLast {
			childPrefix += symNone
		} else {
			childPrefix += symPipe
		}
	}

	for i, c := range n.Comments {
		conn := symConn
		if i == len(n.Comments)-1 {
			conn = symLast
		}
		cmtPrefix := childPrefix
		if len(n.Children) > 0 {
			cmtPrefix += symPipe
		} else {
			cmtPrefix += symCmt
		}
		p.printNode(c, cmtPrefix, conn, false)
	}

	for i, c := range n.Children {
		conn := symConn
		if i == len(n.Children)-1 {
			conn = symLast
		}
		p.printNode(c, childPrefix, conn, false)
	}
}

func formatNode(n *Node) string {
	var sb strings.Builder
	sb.WriteString(n.Name)
	if n.ID != "" {
		sb.WriteString(" #")
		sb.WriteString(n.ID)
	}
	for _, prop := range n.Properties {
		sb.WriteByte(' ')
		sb.WriteString(formatProperty(prop))
	}
	return sb.String()
}

func formatProperty(p Property) string {
	if !p.IsMultiValue {
		if len(p.Values) == 0 {
			return p.Key + "="
		}
		return fmt.Sprintf("%s=%v", p.Key, p.Values[0])
	}
	vals := make([]string, 0, len(p.Values))
	for _, v := range p.Values {
		vals = append(vals, fmt.Sprint(v))
	}
	return fmt.Sprintf("%s=(%s)", p.Key, strings.Join(vals, ", "))
}

// String renders the tree rooted at root.
func String(root *Node) string {
	var sb strings.Builder
	NewPrinter(&sb).Print(root)
	return sb.String()
}
