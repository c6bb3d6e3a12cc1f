package static

import (
	"math"

	"route_prep/pkg/contract"
)

// NoPath is returned by ShortestDistance when target is unreachable.
const NoPath = int32(-1)

// minHeap is a concrete-typed min-heap for the bidirectional search.
type minHeap struct {
	items []heapItem
}

type heapItem struct {
	node uint32
	dist int32
}

func (h *minHeap) Len() int { return len(h.items) }

func (h *minHeap) Push(node uint32, dist int32) {
	h.items = append(h.items, heapItem{node, dist})
	i := len(h.items) - 1
	item := h.items[i]
	for i > 0 {
		parent := (i - 1) / 2
		if item.dist >= h.items[parent].dist {
			break
		}
		h.items[i] = h.items[parent]
		i = parent
	}
	h.items[i] = item
}

func (h *minHeap) Pop() heapItem {
	top := h.items[0]
	n := len(h.items) - 1
	h.items[0] = h.items[n]
	h.items = h.items[:n]
	if n > 0 {
		h.siftDown(0)
	}
	return top
}

func (h *minHeap) siftDown(i int) {
	n := len(h.items)
	item := h.items[i]
	for {
		child := 2*i + 1
		if child >= n {
			break
		}
		if right := child + 1; right < n && h.items[right].dist < h.items[child].dist {
			child = right
		}
		if item.dist <= h.items[child].dist {
			break
		}
		h.items[i] = h.items[child]
		i = child
	}
	h.items[i] = item
}

func (h *minHeap) PeekDist() int32 {
	if len(h.items) == 0 {
		return math.MaxInt32
	}
	return h.items[0].dist
}

func (h *minHeap) Reset() { h.items = h.items[:0] }

// QueryState is reusable scratch for bidirectional queries.
type QueryState struct {
	distFwd []int32
	distBwd []int32
	touched []uint32
	fwdPQ   minHeap
	bwdPQ   minHeap
}

// NewQueryState allocates scratch for a graph with n nodes.
func NewQueryState(n uint32) *QueryState {
	distFwd := make([]int32, n)
	distBwd := make([]int32, n)
	for i := range distFwd {
		distFwd[i] = math.MaxInt32
		distBwd[i] = math.MaxInt32
	}
	return &QueryState{distFwd: distFwd, distBwd: distBwd}
}

// Reset clears only the touched entries.
func (qs *QueryState) Reset() {
	for _, node := range qs.touched {
		qs.distFwd[node] = math.MaxInt32
		qs.distBwd[node] = math.MaxInt32
	}
	qs.touched = qs.touched[:0]
	qs.fwdPQ.Reset()
	qs.bwdPQ.Reset()
}

func (qs *QueryState) touch(node uint32) {
	if qs.distFwd[node] == math.MaxInt32 && qs.distBwd[node] == math.MaxInt32 {
		qs.touched = append(qs.touched, node)
	}
}

// ShortestDistance runs the bidirectional upward Dijkstra over the
// contracted graph. Both searches only ever relax a node's own edge range:
// every stored edge leads to a later-contracted node, so the ranges form
// the upward graph in both directions.
func (g *Graph) ShortestDistance(source, target uint32, qs *QueryState) int32 {
	if source >= g.NumNodes || target >= g.NumNodes {
		return NoPath
	}
	qs.Reset()
	defer qs.Reset()

	qs.touch(source)
	qs.distFwd[source] = 0
	qs.fwdPQ.Push(source, 0)
	qs.touch(target)
	qs.distBwd[target] = 0
	qs.bwdPQ.Push(target, 0)

	best := int32(math.MaxInt32)

	for qs.fwdPQ.Len() > 0 || qs.bwdPQ.Len() > 0 {
		if qs.fwdPQ.PeekDist() >= best && qs.bwdPQ.PeekDist() >= best {
			break
		}
		if qs.fwdPQ.Len() > 0 && qs.fwdPQ.PeekDist() <= qs.bwdPQ.PeekDist() {
			cur := qs.fwdPQ.Pop()
			if cur.dist > qs.distFwd[cur.node] {
				continue
			}
			if d := qs.distBwd[cur.node]; d != math.MaxInt32 && cur.dist+d < best {
				best = cur.dist + d
			}
			lo, hi := g.EdgeRange(cur.node)
			for e := lo; e < hi; e++ {
				edge := &g.Edges[e]
				if !edge.Data.Forward {
					continue
				}
				nd := cur.dist + edge.Data.Distance
				if nd < qs.distFwd[edge.Target] {
					qs.touch(edge.Target)
					qs.distFwd[edge.Target] = nd
					qs.fwdPQ.Push(edge.Target, nd)
				}
			}
		} else if qs.bwdPQ.Len() > 0 {
			cur := qs.bwdPQ.Pop()
			if cur.dist > qs.distBwd[cur.node] {
				continue
			}
			if d := qs.distFwd[cur.node]; d != math.MaxInt32 && cur.dist+d < best {
				best = cur.dist + d
			}
			lo, hi := g.EdgeRange(cur.node)
			for e := lo; e < hi; e++ {
				edge := &g.Edges[e]
				if !edge.Data.Backward {
					continue
				}
				nd := cur.dist + edge.Data.Distance
				if nd < qs.distBwd[edge.Target] {
					qs.touch(edge.Target)
					qs.distBwd[edge.Target] = nd
					qs.bwdPQ.Push(edge.Target, nd)
				}
			}
		}
	}

	if best == math.MaxInt32 {
		return NoPath
	}
	return best
}

// smallestEdge finds the cheapest edge connecting u to w in travel
// direction u→w. The edge is stored at whichever endpoint was contracted
// first: at u it must carry the forward flag, at w the backward flag.
func (g *Graph) smallestEdge(u, w uint32) (Edge, bool) {
	best := Edge{Data: contract.EdgeData{Distance: math.MaxInt32}}
	found := false

	lo, hi := g.EdgeRange(u)
	for e := lo; e < hi; e++ {
		edge := &g.Edges[e]
		if edge.Target == w && edge.Data.Forward && edge.Data.Distance < best.Data.Distance {
			best = *edge
			found = true
		}
	}
	lo, hi = g.EdgeRange(w)
	for e := lo; e < hi; e++ {
		edge := &g.Edges[e]
		if edge.Target == u && edge.Data.Backward && edge.Data.Distance < best.Data.Distance {
			best = *edge
			found = true
		}
	}
	return best, found
}

// UnpackHop expands the cheapest u→w hop into the underlying edge-based
// node path, recursing through shortcut middle nodes with an explicit
// stack.
func (g *Graph) UnpackHop(u, w uint32) []uint32 {
	type frame struct{ from, to uint32 }
	stack := []frame{{u, w}}
	var path []uint32

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		edge, ok := g.smallestEdge(f.from, f.to)
		if !ok || !edge.Data.Shortcut {
			if len(path) == 0 || path[len(path)-1] != f.from {
				path = append(path, f.from)
			}
			path = append(path, f.to)
			continue
		}
		middle := edge.Data.ID
		// Right half pushed first so the left half unpacks first (LIFO).
		stack = append(stack, frame{middle, f.to})
		stack = append(stack, frame{f.from, middle})
	}
	return path
}
