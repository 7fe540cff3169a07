// Package dag provides pure graph functions over a task dependency graph:
// cycle detection, missing-dependency detection, readiness computation, and
// topological ordering. It has no knowledge of the spec store or runtime
// store — callers adapt their own task representations into a []Node.
package dag

// Node is the minimal view of a task the DAG analyzer needs. Order in the
// slice passed to every function here is significant: cycle detection visits
// nodes in that order to stay deterministic.
type Node struct {
	ID        string
	Status    string
	DependsOn []string
}

// MissingDep names a dependency reference that does not resolve, either
// because the target does not exist or because it is soft-deleted.
type MissingDep struct {
	TaskID  string
	DepID   string
	Reason  string // "unresolvable" or "deleted"
}

// DetectCycle performs a depth-first search in node-insertion order and
// returns the first cycle found as an ordered path (A -> B -> ... -> A), or
// found=false if the graph is acyclic.
func DetectCycle(nodes []Node) (path []string, found bool) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	byID := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	color := make(map[string]int, len(nodes))
	var stack []string

	var dfs func(id string) ([]string, bool)
	dfs = func(id string) ([]string, bool) {
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range byID[id].DependsOn {
			if _, ok := byID[dep]; !ok {
				continue // unresolved deps are reported by MissingDeps, not cycles
			}
			switch color[dep] {
			case gray:
				// found a cycle: slice the stack from dep's first occurrence
				start := indexOf(stack, dep)
				cyc := append(append([]string{}, stack[start:]...), dep)
				return cyc, true
			case white:
				if cyc, ok := dfs(dep); ok {
					return cyc, true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil, false
	}

	for _, n := range nodes {
		if color[n.ID] == white {
			if cyc, ok := dfs(n.ID); ok {
				return cyc, true
			}
		}
	}
	return nil, false
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

// MissingDeps returns, in node-insertion order, every dependency reference
// that does not resolve to a live (non-deleted) node. The dependencies of a
// node that is itself deleted are not checked.
func MissingDeps(nodes []Node, deletedStatus string) []MissingDep {
	byID := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	var out []MissingDep
	for _, n := range nodes {
		if n.Status == deletedStatus {
			continue
		}
		for _, dep := range n.DependsOn {
			target, ok := byID[dep]
			switch {
			case !ok:
				out = append(out, MissingDep{TaskID: n.ID, DepID: dep, Reason: "unresolvable"})
			case target.Status == deletedStatus:
				out = append(out, MissingDep{TaskID: n.ID, DepID: dep, Reason: "deleted"})
			}
		}
	}
	return out
}

// IsClaimable reports whether a task is ready and every one of its
// dependencies is verified, per statusOf (a lookup from task ID to status).
func IsClaimable(n Node, readyStatus, verifiedStatus string, statusOf map[string]string) bool {
	if n.Status != readyStatus {
		return false
	}
	for _, dep := range n.DependsOn {
		if statusOf[dep] != verifiedStatus {
			return false
		}
	}
	return true
}

// DependentsOf returns the IDs of nodes that directly depend on id, in
// node-insertion order — the reverse index used for cascade deletion and for
// computing which tasks become newly ready after a verify.
func DependentsOf(nodes []Node, id string) []string {
	var out []string
	for _, n := range nodes {
		for _, dep := range n.DependsOn {
			if dep == id {
				out = append(out, n.ID)
				break
			}
		}
	}
	return out
}

// TransitiveDependentsOf returns every node reachable by following "depends
// on me" edges from id, used by cascade deletion.
func TransitiveDependentsOf(nodes []Node, id string) []string {
	seen := map[string]bool{}
	var out []string
	var visit func(string)
	visit = func(cur string) {
		for _, d := range DependentsOf(nodes, cur) {
			if !seen[d] {
				seen[d] = true
				out = append(out, d)
				visit(d)
			}
		}
	}
	visit(id)
	return out
}

// TopoOrder returns a topological ordering of nodes using Kahn's algorithm,
// breaking ties by input order, for graph export. It assumes the graph is
// already known to be acyclic; if not, it returns the partial order it could
// compute plus found=false.
func TopoOrder(nodes []Node) (order []string, ok bool) {
	byID := make(map[string]Node, len(nodes))
	inDegree := make(map[string]int, len(nodes))
	forward := make(map[string][]string)
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
		inDegree[n.ID] = 0
		ids = append(ids, n.ID)
	}
	for _, n := range nodes {
		for _, dep := range n.DependsOn {
			if _, exists := byID[dep]; !exists {
				continue
			}
			inDegree[n.ID]++
			forward[dep] = append(forward[dep], n.ID)
		}
	}
	var queue []string
	for _, id := range ids {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)
		for _, next := range forward[cur] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return order, len(order) == len(nodes)
}
