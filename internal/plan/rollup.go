package plan

import "sort"

// Edge is a directed blocked-by pair: Blocked waits on Blocker
type Edge struct {
	Blocked string
	Blocker string
}

// Rollup derives parent-level blocking edges from child-level dependency
// edges. For every edge whose endpoints resolve to different parents it
// emits (blocked's parent, blocker's parent); edges within the same parent
// produce nothing, and edges with an unknown parent on either side are
// ignored. The result is deduplicated and sorted.
//
// Applied once with task edges and a task → story lookup it yields story
// edges; applied again with those story edges and a story → epic lookup it
// yields epic edges.
func Rollup(edges []Edge, parentOf map[string]string) []Edge {
	seen := make(map[Edge]bool)
	var rolled []Edge

	for _, edge := range edges {
		blockedParent, ok := parentOf[edge.Blocked]
		if !ok {
			continue
		}
		blockerParent, ok := parentOf[edge.Blocker]
		if !ok {
			continue
		}
		if blockedParent == blockerParent {
			continue
		}

		up := Edge{Blocked: blockedParent, Blocker: blockerParent}
		if !seen[up] {
			seen[up] = true
			rolled = append(rolled, up)
		}
	}

	sortEdges(rolled)
	return rolled
}

// DependencyEdges extracts the declared depends_on edges from a plan,
// dropping self-references
func DependencyEdges(p *Plan) []Edge {
	var edges []Edge
	for _, item := range p.Items {
		for _, depID := range item.DependsOn {
			if depID == item.ID {
				continue
			}
			edges = append(edges, Edge{Blocked: item.ID, Blocker: depID})
		}
	}
	return edges
}

func sortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Blocked != edges[j].Blocked {
			return edges[i].Blocked < edges[j].Blocked
		}
		return edges[i].Blocker < edges[j].Blocker
	})
}
