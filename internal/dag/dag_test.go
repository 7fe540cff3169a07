package dag

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectCycle(t *testing.T) {
	nodes := []Node{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"c"}},
		{ID: "c", DependsOn: []string{"a"}},
	}
	path, found := DetectCycle(nodes)
	require.True(t, found)
	require.Equal(t, []string{"a", "b", "c", "a"}, path)
}

func TestDetectCycleNone(t *testing.T) {
	nodes := []Node{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: nil},
	}
	_, found := DetectCycle(nodes)
	require.False(t, found)
}

func TestMissingDeps(t *testing.T) {
	nodes := []Node{
		{ID: "a", DependsOn: []string{"ghost"}},
		{ID: "b", Status: "deleted", DependsOn: nil},
		{ID: "c", DependsOn: []string{"b"}},
	}
	missing := MissingDeps(nodes, "deleted")
	require.Len(t, missing, 2)
	require.Equal(t, MissingDep{TaskID: "a", DepID: "ghost", Reason: "unresolvable"}, missing[0])
	require.Equal(t, MissingDep{TaskID: "c", DepID: "b", Reason: "deleted"}, missing[1])
}

func TestIsClaimable(t *testing.T) {
	statusOf := map[string]string{"dep1": "verified", "dep2": "done"}
	n := Node{ID: "t1", Status: "ready", DependsOn: []string{"dep1"}}
	require.True(t, IsClaimable(n, "ready", "verified", statusOf))

	n2 := Node{ID: "t2", Status: "ready", DependsOn: []string{"dep2"}}
	require.False(t, IsClaimable(n2, "ready", "verified", statusOf))

	n3 := Node{ID: "t3", Status: "done", DependsOn: nil}
	require.False(t, IsClaimable(n3, "ready", "verified", statusOf))
}

func TestDependentsOf(t *testing.T) {
	nodes := []Node{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"a", "b"}},
	}
	require.Equal(t, []string{"b", "c"}, DependentsOf(nodes, "a"))
	require.Equal(t, []string{"b", "c"}, TransitiveDependentsOf(nodes, "a"))
}

func TestTopoOrder(t *testing.T) {
	nodes := []Node{
		{ID: "c", DependsOn: []string{"a", "b"}},
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
	}
	order, ok := TopoOrder(nodes)
	require.True(t, ok)
	require.Equal(t, []string{"a", "b", "c"}, order)
}

func TestTopoOrderCycle(t *testing.T) {
	nodes := []Node{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
	}
	_, ok := TopoOrder(nodes)
	require.False(t, ok)
}
