// Package graphutil provides topological ordering and reachability
// helpers over the connection list of a scene, used by scene prep.
package graphutil

import (
	"fmt"
	"sort"

	"github.com/gogpu/rendergraph/dsl"
)

// Edge is a directed edge reduced to its endpoint node ids, discarding
// port identity; graph-level algorithms only need node adjacency.
type Edge struct {
	From string
	To   string
}

// EdgesFromConnections reduces a connection list to node-level edges.
func EdgesFromConnections(conns []dsl.Connection) []Edge {
	out := make([]Edge, len(conns))
	for i, c := range conns {
		out[i] = Edge{From: c.From.NodeID, To: c.To.NodeID}
	}
	return out
}

// CycleError reports a detected cycle, naming at least one participant.
type CycleError struct {
	NodeID string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("graphutil: cycle detected involving node %q", e.NodeID)
}

// TopologicalSort orders nodeIDs so that every edge points from an
// earlier to a later position, using Kahn's algorithm. Ties are broken
// by node id for determinism. Returns a *CycleError naming a surviving
// (unprocessed) node if the graph is not a DAG.
func TopologicalSort(nodeIDs []string, edges []Edge) ([]string, error) {
	inDegree := make(map[string]int, len(nodeIDs))
	adj := make(map[string][]string, len(nodeIDs))
	known := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		inDegree[id] = 0
		known[id] = true
	}
	for _, e := range edges {
		if !known[e.From] || !known[e.To] {
			continue
		}
		adj[e.From] = append(adj[e.From], e.To)
		inDegree[e.To]++
	}

	var ready []string
	for _, id := range nodeIDs {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(nodeIDs))
	for len(ready) > 0 {
		sort.Strings(ready)
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)

		next := append([]string(nil), adj[n]...)
		sort.Strings(next)
		for _, m := range next {
			inDegree[m]--
			if inDegree[m] == 0 {
				ready = append(ready, m)
			}
		}
	}

	if len(order) != len(nodeIDs) {
		for _, id := range nodeIDs {
			if inDegree[id] > 0 {
				return nil, &CycleError{NodeID: id}
			}
		}
		return nil, &CycleError{NodeID: ""}
	}
	return order, nil
}

// UpstreamReachable returns the set of node ids (including seed itself)
// that can reach seed via a directed path of edges. Used for
// dead-subgraph pruning from the scene's single render-target node.
func UpstreamReachable(seed string, edges []Edge) map[string]bool {
	predecessors := make(map[string][]string)
	for _, e := range edges {
		predecessors[e.To] = append(predecessors[e.To], e.From)
	}

	reached := map[string]bool{seed: true}
	queue := []string{seed}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, p := range predecessors[n] {
			if !reached[p] {
				reached[p] = true
				queue = append(queue, p)
			}
		}
	}
	return reached
}
