package contract

import (
	"sort"

	"route_prep/pkg/expand"
)

// dynamicGraph is the mutable adjacency the contractor works on. Every
// edge appears at both endpoints: at the source with its own direction
// flags, at the target with the flags swapped.
type dynamicGraph struct {
	adj [][]edgeEntry
}

// buildDynamicGraph normalizes the edge-based edges into adjacency lists.
// Parallel edges between the same pair collapse to the cheapest weight per
// direction; equal-weight opposite directions merge into one bidirectional
// entry, halving the entries the witness searches scan.
func buildDynamicGraph(numNodes uint32, edges []expand.EdgeBasedEdge) *dynamicGraph {
	type halfEdge struct {
		source, target uint32
		dist           int32
		id             uint32
		forward        bool
	}

	halves := make([]halfEdge, 0, 2*len(edges))
	for i := range edges {
		e := &edges[i]
		if e.Forward {
			halves = append(halves, halfEdge{source: e.Source, target: e.Target, dist: e.Weight, id: e.EdgeID, forward: true})
		}
		if e.Backward {
			halves = append(halves, halfEdge{source: e.Target, target: e.Source, dist: e.Weight, id: e.EdgeID, forward: true})
		}
	}

	// Cheapest weight per directed pair.
	sort.Slice(halves, func(i, j int) bool {
		if halves[i].source != halves[j].source {
			return halves[i].source < halves[j].source
		}
		if halves[i].target != halves[j].target {
			return halves[i].target < halves[j].target
		}
		return halves[i].dist < halves[j].dist
	})
	dedup := halves[:0]
	for i := range halves {
		if i > 0 && halves[i].source == dedup[len(dedup)-1].source && halves[i].target == dedup[len(dedup)-1].target {
			continue
		}
		dedup = append(dedup, halves[i])
	}

	g := &dynamicGraph{adj: make([][]edgeEntry, numNodes)}
	for _, h := range dedup {
		// Merge with an existing reverse entry of equal weight.
		if merged := g.tryMergeReverse(h.source, h.target, h.dist); merged {
			continue
		}
		data := EdgeData{
			Distance:      h.dist,
			ID:            h.id,
			OriginalEdges: 1,
			Forward:       true,
		}
		g.insert(h.source, h.target, data)
	}
	return g
}

// tryMergeReverse looks for an existing entry target→source with the same
// weight and upgrades it to bidirectional.
func (g *dynamicGraph) tryMergeReverse(source, target uint32, dist int32) bool {
	for i := range g.adj[source] {
		e := &g.adj[source][i]
		if e.target == target && e.data.Distance == dist && !e.data.Shortcut && e.data.Backward && !e.data.Forward {
			e.data.Forward = true
			for j := range g.adj[target] {
				m := &g.adj[target][j]
				if m.target == source && m.data.Distance == dist && !m.data.Shortcut && m.data.Forward && !m.data.Backward {
					m.data.Backward = true
					break
				}
			}
			return true
		}
	}
	return false
}

// insert adds the edge source→target (per data's flags) at both endpoints.
func (g *dynamicGraph) insert(source, target uint32, data EdgeData) {
	g.adj[source] = append(g.adj[source], edgeEntry{target: target, data: data})
	mirror := data
	mirror.Forward, mirror.Backward = data.Backward, data.Forward
	g.adj[target] = append(g.adj[target], edgeEntry{target: source, data: mirror})
}

// deleteEdgesTo removes all entries at node pointing to target.
func (g *dynamicGraph) deleteEdgesTo(node, target uint32) {
	entries := g.adj[node]
	kept := entries[:0]
	for _, e := range entries {
		if e.target != target {
			kept = append(kept, e)
		}
	}
	g.adj[node] = kept
}

// neighbors appends the distinct uncontracted neighbors of node to buf.
func (g *dynamicGraph) neighbors(node uint32, contracted []bool, buf []uint32) []uint32 {
	for _, e := range g.adj[node] {
		if contracted[e.target] {
			continue
		}
		seen := false
		for _, n := range buf {
			if n == e.target {
				seen = true
				break
			}
		}
		if !seen {
			buf = append(buf, e.target)
		}
	}
	return buf
}
