package rtree

import (
	"errors"

	"route_prep/pkg/expand"
	"route_prep/pkg/geo"
)

// ErrNoCandidate is returned when the index holds nothing usable for the
// query point.
var ErrNoCandidate = errors.New("no nearest edge-based node found")

// queue entry kinds, in tie-break order.
const (
	kindTree = iota
	kindLeaf
	kindItem
)

type queueEntry struct {
	dist  float64
	kind  uint8
	index uint32 // tree node index or leaf page
	node  expand.EdgeBasedNode
}

// searchQueue is a best-first min-heap keyed by distance, with ties broken
// by kind then index so traversal order is reproducible.
type searchQueue struct {
	items []queueEntry
}

func (q *searchQueue) less(a, b queueEntry) bool {
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	if a.kind != b.kind {
		return a.kind < b.kind
	}
	if a.index != b.index {
		return a.index < b.index
	}
	return a.node.ForwardEdgeBasedNodeID < b.node.ForwardEdgeBasedNodeID
}

func (q *searchQueue) Push(e queueEntry) {
	q.items = append(q.items, e)
	i := len(q.items) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if !q.less(q.items[i], q.items[parent]) {
			break
		}
		q.items[i], q.items[parent] = q.items[parent], q.items[i]
		i = parent
	}
}

func (q *searchQueue) Pop() queueEntry {
	top := q.items[0]
	n := len(q.items) - 1
	q.items[0] = q.items[n]
	q.items = q.items[:n]
	i := 0
	for {
		child := 2*i + 1
		if child >= n {
			break
		}
		if right := child + 1; right < n && q.less(q.items[right], q.items[child]) {
			child = right
		}
		if !q.less(q.items[child], q.items[i]) {
			break
		}
		q.items[i], q.items[child] = q.items[child], q.items[i]
		i = child
	}
	return top
}

func (q *searchQueue) Len() int { return len(q.items) }

// FindNearest returns the edge-based node whose segment is closest to the
// query point. Segments flagged ignore-in-grid are skipped; segments in a
// tiny component only win when nothing from the main network turns up.
func (t *Tree) FindNearest(lat, lon float64) (expand.EdgeBasedNode, error) {
	if len(t.nodes) == 0 {
		return expand.EdgeBasedNode{}, ErrNoCandidate
	}

	var q searchQueue
	root := t.nodes[0]
	q.Push(queueEntry{dist: root.bbox().MinDist(lat, lon), kind: kindTree, index: 0})

	var fallback expand.EdgeBasedNode
	haveFallback := false

	for q.Len() > 0 {
		cur := q.Pop()
		switch cur.kind {
		case kindTree:
			n := &t.nodes[cur.index]
			for c := uint32(0); c < uint32(n.ChildCount); c++ {
				child := n.FirstChild + c
				if n.LeafChildren != 0 {
					// Child bounds live in the leaf page itself; reuse the
					// parent box distance as the lower bound.
					q.Push(queueEntry{dist: cur.dist, kind: kindLeaf, index: child})
				} else {
					cn := &t.nodes[child]
					q.Push(queueEntry{dist: cn.bbox().MinDist(lat, lon), kind: kindTree, index: child})
				}
			}
		case kindLeaf:
			nodes, err := t.readLeaf(cur.index)
			if err != nil {
				return expand.EdgeBasedNode{}, err
			}
			for _, n := range nodes {
				if n.IgnoreInGrid {
					continue
				}
				d, _ := geo.PointToSegmentDist(lat, lon,
					geo.FixedToFloat(n.Lat1), geo.FixedToFloat(n.Lon1),
					geo.FixedToFloat(n.Lat2), geo.FixedToFloat(n.Lon2))
				q.Push(queueEntry{dist: d, kind: kindItem, node: n})
			}
		case kindItem:
			if cur.node.BelongsToTinyCC {
				if !haveFallback {
					fallback = cur.node
					haveFallback = true
				}
				continue
			}
			return cur.node, nil
		}
	}

	if haveFallback {
		return fallback, nil
	}
	return expand.EdgeBasedNode{}, ErrNoCandidate
}
