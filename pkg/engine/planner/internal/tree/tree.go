package tree

// Property is a key-value pair attached to a [Node]. A single-value
// property prints as `key=value`, a list property as `key=(v1, v2)`.
type Property struct {
	Key          string
	Values       []any
	IsMultiValue bool
}

// NewProperty creates a property. Set multi to print values as a list.
func NewProperty(key string, multi bool, values ...any) Property {
	return Property{Key: key, Values: values, IsMultiValue: multi}
}

// Prop is shorthand for a single-value property.
func Prop(key string, value any) Property {
	return Property{Key: key, Values: []any{value}}
}

// List is shorthand for a list property built from a typed slice.
func List[T any](key string, values []T) Property {
	vs := make([]any, len(values))
	for i := range values {
		vs[i] = values[i]
	}
	return Property{Key: key, Values: vs, IsMultiValue: true}
}

// Node is one vertex of a printable tree.
//
// Comments are printed before children and one level deeper. Plan printers
// use them for per-node details such as predicates or cost estimates.
type Node struct {
	ID         string
	Name       string
	Properties []Property
	Children   []*Node
	Comments   []*Node
}

// NewNode creates a node with the given name, identifier and properties.
func NewNode(name, id string, properties ...Property) *Node {
	return &Node{ID: id, Name: name, Properties: properties}
}

// AddChild appends a new child node and returns it.
func (n *Node) AddChild(name, id string, properties ...Property) *Node {
	child := NewNode(name, id, properties...)
	n.Children = append(n.Children, child)
	return child
}

// AddComment appends a new comment node and returns it.
func (n *Node) AddComment(name, id string, properties ...Property) *Node {
	c := NewNode(name, id, properties...)
	n.Comments = append(n.Comments, c)
	return c
}

// Append adds already built child nodes, skipping nil.
func (n *Node) Append(children ...*Node) {
	for _, c := range children {
		if c != nil {
			n.Children = append(n.Children, c)
		}
	}
}
