package dag

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type vertex struct {
	name     string
	children []*vertex
}

func childrenOf(v *vertex) []*vertex { return v.children }

func TestWalk(t *testing.T) {
	leafA := &vertex{name: "a"}
	leafB := &vertex{name: "b"}
	mid := &vertex{name: "mid", children: []*vertex{leafA, leafB}}
	root := &vertex{name: "root", children: []*vertex{mid}}

	for _, tc := range []struct {
		order    WalkOrder
		expected []string
	}{
		{PreOrderWalk, []string{"root", "mid", "a", "b"}},
		{PostOrderWalk, []string{"a", "b", "mid", "root"}},
	} {
		var visited []string
		err := Walk(root, childrenOf, func(v *vertex) error {
			visited = append(visited, v.name)
			return nil
		}, tc.order)
		require.NoError(t, err)
		require.Equal(t, tc.expected, visited)
	}
}

func TestWalk_StopsOnError(t *testing.T) {
	root := &vertex{name: "root", children: []*vertex{{name: "a"}, {name: "b"}}}
	stop := errors.New("stop")

	var visited []string
	err := Walk(root, childrenOf, func(v *vertex) error {
		visited = append(visited, v.name)
		if v.name == "a" {
			return stop
		}
		return nil
	}, PreOrderWalk)
	require.ErrorIs(t, err, stop)
	require.Equal(t, []string{"root", "a"}, visited)
}

func TestWalk_RejectsNonTrees(t *testing.T) {
	shared := &vertex{name: "shared"}
	diamond := &vertex{name: "root", children: []*vertex{shared, shared}}
	err := Walk(diamond, childrenOf, func(*vertex) error { return nil }, PreOrderWalk)
	require.ErrorIs(t, err, ErrShared)

	loop := &vertex{name: "loop"}
	loop.children = []*vertex{loop}
	err = Walk(loop, childrenOf, func(*vertex) error { return nil }, PostOrderWalk)
	require.ErrorIs(t, err, ErrCycle)
}
