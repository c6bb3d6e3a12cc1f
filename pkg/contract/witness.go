package contract

import "math"

const (
	// maxWitnessHops bounds the depth of a witness search.
	maxWitnessHops = 5
	// maxWitnessSettled caps the nodes settled per search. Truncating a
	// search can only produce an unnecessary shortcut, never a missing one.
	maxWitnessSettled = 1000
)

// witnessItem is one frontier entry of a witness search.
type witnessItem struct {
	node uint32
	dist int32
	hops int
}

// witnessState is the per-worker scratch for witness searches. Visited
// markers use a generation counter, so reset is a single increment rather
// than a sweep over the distance array. The frontier lives in the state
// itself as an implicit 4-ary heap: witness queues stay short, and the
// wider fan-out keeps the hot sift path within one or two levels.
type witnessState struct {
	dist  []int32
	gen   []uint32
	cur   uint32
	queue []witnessItem
}

func newWitnessState(numNodes uint32) *witnessState {
	return &witnessState{
		dist:  make([]int32, numNodes),
		gen:   make([]uint32, numNodes),
		queue: make([]witnessItem, 0, 256),
	}
}

func (ws *witnessState) reset() {
	ws.cur++
	ws.queue = ws.queue[:0]
}

func (ws *witnessState) distance(node uint32) int32 {
	if ws.gen[node] != ws.cur {
		return math.MaxInt32
	}
	return ws.dist[node]
}

func (ws *witnessState) setDistance(node uint32, d int32) {
	ws.gen[node] = ws.cur
	ws.dist[node] = d
}

// push inserts a frontier entry, hole-sifting it toward the root: one
// assignment per level instead of a three-assignment swap.
func (ws *witnessState) push(node uint32, dist int32, hops int) {
	ws.queue = append(ws.queue, witnessItem{node, dist, hops})
	i := len(ws.queue) - 1
	item := ws.queue[i]
	for i > 0 {
		parent := (i - 1) / 4
		if item.dist >= ws.queue[parent].dist {
			break
		}
		ws.queue[i] = ws.queue[parent]
		i = parent
	}
	ws.queue[i] = item
}

// pop removes the minimum-distance entry, sifting the displaced tail item
// down past the cheapest of up to four children per level.
func (ws *witnessState) pop() witnessItem {
	top := ws.queue[0]
	n := len(ws.queue) - 1
	item := ws.queue[n]
	ws.queue = ws.queue[:n]
	if n == 0 {
		return top
	}
	i := 0
	for {
		first := 4*i + 1
		if first >= n {
			break
		}
		end := first + 4
		if end > n {
			end = n
		}
		best := first
		for c := first + 1; c < end; c++ {
			if ws.queue[c].dist < ws.queue[best].dist {
				best = c
			}
		}
		if item.dist <= ws.queue[best].dist {
			break
		}
		ws.queue[i] = ws.queue[best]
		i = best
	}
	ws.queue[i] = item
	return top
}

// search runs a bounded forward Dijkstra from source, skipping the node
// being contracted and everything already contracted. After it returns,
// ws.distance holds upper bounds on the distances to all settled nodes;
// the caller compares them against candidate shortcut weights.
func (ws *witnessState) search(g *dynamicGraph, contracted []bool, source, excluded uint32, maxDist int32) {
	ws.reset()
	ws.setDistance(source, 0)
	ws.push(source, 0, 0)

	settled := 0
	for len(ws.queue) > 0 {
		cur := ws.pop()

		// Skip stale entries.
		if cur.dist > ws.distance(cur.node) {
			continue
		}
		settled++
		if settled >= maxWitnessSettled {
			break
		}
		if cur.dist > maxDist {
			break
		}
		if cur.hops >= maxWitnessHops {
			continue
		}

		for _, e := range g.adj[cur.node] {
			if !e.data.Forward || e.target == excluded || contracted[e.target] {
				continue
			}
			newDist := cur.dist + e.data.Distance
			if newDist > maxDist {
				continue
			}
			if newDist < ws.distance(e.target) {
				ws.setDistance(e.target, newDist)
				ws.push(e.target, newDist, cur.hops+1)
			}
		}
	}
}
