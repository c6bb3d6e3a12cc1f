package expand

import (
	"route_prep/pkg/storage"
)

// restrictionEntry is one restriction bucketed under its via node.
type restrictionEntry struct {
	fromNode storage.NodeID
	toNode   storage.NodeID
	isOnly   bool
}

// restrictionMap answers turn-legality questions for a via node.
// Intersections are small, so a per-node linear scan is fine.
type restrictionMap struct {
	byVia    map[storage.NodeID][]restrictionEntry
	unusable int
}

// newRestrictionMap buckets restrictions by via node, dropping records
// that reference unknown nodes or non-adjacent segments. hasEdge reports
// whether a directed node-based edge exists.
func newRestrictionMap(restrictions []storage.TurnRestriction, nodeCount uint32, hasEdge func(from, to storage.NodeID) bool) *restrictionMap {
	m := &restrictionMap{byVia: make(map[storage.NodeID][]restrictionEntry)}
	for _, r := range restrictions {
		if r.ViaNode >= nodeCount || r.FromNode >= nodeCount || r.ToNode >= nodeCount {
			m.unusable++
			continue
		}
		if !hasEdge(r.FromNode, r.ViaNode) || !hasEdge(r.ViaNode, r.ToNode) {
			m.unusable++
			continue
		}
		m.byVia[r.ViaNode] = append(m.byVia[r.ViaNode], restrictionEntry{
			fromNode: r.FromNode,
			toNode:   r.ToNode,
			isOnly:   r.IsOnly,
		})
	}
	return m
}

// isRestricted reports whether the turn from (u, via) onto (via, w) is
// forbidden, by a matching no-restriction or by an only-restriction naming
// a different exit.
func (m *restrictionMap) isRestricted(u, via, w storage.NodeID) bool {
	for _, e := range m.byVia[via] {
		if e.fromNode != u {
			continue
		}
		if e.isOnly {
			if e.toNode != w {
				return true
			}
		} else if e.toNode == w {
			return true
		}
	}
	return false
}

// uTurnNamed reports whether an only-restriction at via explicitly names
// the reverse segment back to u, which permits an otherwise forbidden
// u-turn.
func (m *restrictionMap) uTurnNamed(u, via storage.NodeID) bool {
	for _, e := range m.byVia[via] {
		if e.isOnly && e.fromNode == u && e.toNode == u {
			return true
		}
	}
	return false
}
