// Package dag provides depth-first walks over rooted graphs of plan nodes.
package dag

import "errors"

// WalkOrder defined the order in which current vertex and its children are
// visited.
type WalkOrder uint8

const (
	// PreOrderWalk processes the current vertex before visiting any of its
	// children.
	PreOrderWalk WalkOrder = iota

	// PostOrderWalk processes the current vertex after visiting all of its
	// children.
	PostOrderWalk
)

// ErrCycle is returned by [Walk] when a vertex is reachable from itself.
var ErrCycle = errors.New("graph contains a cycle")

// ErrShared is returned by [Walk] when a vertex is reachable through more
// than one parent, so the graph is not a tree.
var ErrShared = errors.New("vertex has more than one parent")

// WalkFunc is a function that gets invoked when walking a graph. Walking will
// stop if WalkFunc returns a non-nil error.
type WalkFunc[NodeType comparable] func(n NodeType) error

// ChildrenFunc returns the outgoing edges of a vertex.
type ChildrenFunc[NodeType comparable] func(n NodeType) []NodeType

// Walk performs a depth-first walk from root, invoking f for each vertex.
// Walk returns the error returned by f, or [ErrCycle] / [ErrShared] when the
// graph below root is not a tree.
func Walk[NodeType comparable](root NodeType, children ChildrenFunc[NodeType], f WalkFunc[NodeType], order WalkOrder) error {
	w := walker[NodeType]{
		children: children,
		visited:  make(map[NodeType]struct{}),
		onPath:   make(map[NodeType]struct{}),
	}
	switch order {
	case PreOrderWalk:
		return w.walk(root, f, true)
	case PostOrderWalk:
		return w.walk(root, f, false)
	default:
		return errors.New("unsupported walk order. must be one of PreOrderWalk and PostOrderWalk")
	}
}

type walker[NodeType comparable] struct {
	children ChildrenFunc[NodeType]
	visited  map[NodeType]struct{}
	onPath   map[NodeType]struct{}
}

func (w *walker[NodeType]) walk(n NodeType, f WalkFunc[NodeType], pre bool) error {
	if _, ok := w.onPath[n]; ok {
		return ErrCycle
	}
	if _, ok := w.visited[n]; ok {
		return ErrShared
	}
	w.visited[n] = struct{}{}
	w.onPath[n] = struct{}{}
	defer delete(w.onPath, n)

	if pre {
		if err := f(n); err != nil {
			return err
		}
	}

	for _, child := range w.children(n) {
		if err := w.walk(child, f, pre); err != nil {
			return err
		}
	}

	if !pre {
		return f(n)
	}
	return nil
}
