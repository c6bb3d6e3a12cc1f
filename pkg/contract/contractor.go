package contract

import (
	"container/heap"
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"route_prep/pkg/expand"
)

// Priority weights of the ordering term (see the priority function below).
const (
	weightEdgeQuotient     = 1
	weightOriginalQuotient = 1
)

// batchSize is how many heap candidates a round considers for the
// independent set. Fixed regardless of worker count so the contraction
// order depends only on the input.
const batchSize = 64

// InvariantError reports a broken internal invariant; it aborts the
// pipeline immediately.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string { return e.Msg }

// Contractor builds the hierarchy.
type Contractor struct {
	numNodes uint32
	g        *dynamicGraph

	contracted []bool
	priority   []int
	depth      []uint16

	workers int
	output  []QueryEdge
}

// shortcut is one edge to insert when its middle node is contracted.
type shortcut struct {
	from, to uint32
	data     EdgeData
}

// NewContractor prepares contraction of an edge-based graph with numNodes
// nodes.
func NewContractor(numNodes uint32, edges []expand.EdgeBasedEdge, workers int) *Contractor {
	if workers < 1 {
		workers = 1
	}
	return &Contractor{
		numNodes:   numNodes,
		g:          buildDynamicGraph(numNodes, edges),
		contracted: make([]bool, numNodes),
		priority:   make([]int, numNodes),
		depth:      make([]uint16, numNodes),
		workers:    workers,
	}
}

// Run contracts every node and returns the accumulated query edges.
// Cancellation is honored at round boundaries.
func (c *Contractor) Run(ctx context.Context) ([]QueryEdge, error) {
	log.Printf("initializing contractor: %d nodes", c.numNodes)

	pq := make(nodeQueue, 0, c.numNodes)
	initial := c.initialPriorities()
	for node := uint32(0); node < c.numNodes; node++ {
		if len(c.g.adj[node]) == 0 {
			continue // isolated
		}
		c.priority[node] = initial[node]
		pq = append(pq, queueEntry{priority: initial[node], node: node})
	}
	heap.Init(&pq)

	contractedCount := 0
	totalShortcuts := 0
	logInterval := 50000

	states := make([]*witnessState, c.workers)
	for i := range states {
		states[i] = newWitnessState(c.numNodes)
	}

	var neighborBuf []uint32

	for pq.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("contraction aborted: %w", err)
		}

		batch := c.popBatch(&pq, states[0])
		if len(batch) == 0 {
			continue
		}
		selected, rejected := c.selectIndependent(batch, &neighborBuf)
		for _, node := range rejected {
			heap.Push(&pq, queueEntry{priority: c.priority[node], node: node})
		}

		// Compute all shortcuts against the frozen graph.
		shortcuts := c.computeShortcuts(selected, states)
		for i, scs := range shortcuts {
			if scs == nil {
				continue
			}
			for _, sc := range scs {
				if sc.data.Distance <= 0 {
					return nil, &InvariantError{Msg: fmt.Sprintf(
						"non-positive shortcut weight %d for triple (%d, %d, %d)",
						sc.data.Distance, sc.from, selected[i], sc.to)}
				}
			}
		}

		// Apply contractions in id order.
		touched := neighborBuf[:0]
		for i, node := range selected {
			touched = c.g.neighbors(node, c.contracted, touched)
			c.applyContraction(node, shortcuts[i])
			contractedCount++
			totalShortcuts += len(shortcuts[i])
		}

		// Neighbors changed; recompute their priorities concurrently.
		c.updatePriorities(&pq, dedupSorted(touched), states)
		neighborBuf = touched[:0]

		remaining := int(c.numNodes) - contractedCount
		switch {
		case remaining < 1000:
			logInterval = 100
		case remaining < 10000:
			logInterval = 1000
		case remaining < 100000:
			logInterval = 10000
		}
		if contractedCount%logInterval < len(selected) {
			log.Printf("contracted %d/%d nodes, %d shortcuts so far", contractedCount, c.numNodes, totalShortcuts)
		}
	}

	log.Printf("contraction complete: %d shortcuts, %d query edges", totalShortcuts, len(c.output))
	return c.output, nil
}

// initialPriorities simulates the contraction of every node concurrently.
func (c *Contractor) initialPriorities() []int {
	prio := make([]int, c.numNodes)
	var wg sync.WaitGroup
	chunk := (int(c.numNodes) + c.workers - 1) / c.workers
	for w := 0; w < c.workers; w++ {
		lo := uint32(w * chunk)
		hi := lo + uint32(chunk)
		if hi > c.numNodes {
			hi = c.numNodes
		}
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func(lo, hi uint32) {
			defer wg.Done()
			ws := newWitnessState(c.numNodes)
			for node := lo; node < hi; node++ {
				if len(c.g.adj[node]) != 0 {
					prio[node] = c.simulate(node, ws)
				}
			}
		}(lo, hi)
	}
	wg.Wait()
	return prio
}

// popBatch pops up to batchSize nodes whose priority survives a lazy
// recomputation. Stale duplicates and already-contracted nodes fall out
// here.
func (c *Contractor) popBatch(pq *nodeQueue, ws *witnessState) []uint32 {
	var batch []uint32
	for pq.Len() > 0 && len(batch) < batchSize {
		entry := heap.Pop(pq).(queueEntry)
		if c.contracted[entry.node] || entry.priority != c.priority[entry.node] {
			continue
		}
		recomputed := c.simulate(entry.node, ws)
		if recomputed != entry.priority {
			c.priority[entry.node] = recomputed
			heap.Push(pq, queueEntry{priority: recomputed, node: entry.node})
			continue
		}
		batch = append(batch, entry.node)
	}
	return batch
}

// selectIndependent picks a maximal prefix-greedy subset of the batch
// whose contraction write sets (the node plus its neighbors) are pairwise
// disjoint. The batch arrives in (priority, id) order, which fixes the
// tie-break.
func (c *Contractor) selectIndependent(batch []uint32, buf *[]uint32) (selected, rejected []uint32) {
	marked := make(map[uint32]struct{}, 4*len(batch))
	for _, node := range batch {
		conflict := false
		if _, ok := marked[node]; ok {
			conflict = true
		}
		if !conflict {
			for _, e := range c.g.adj[node] {
				if c.contracted[e.target] {
					continue
				}
				if _, ok := marked[e.target]; ok {
					conflict = true
					break
				}
			}
		}
		if conflict {
			rejected = append(rejected, node)
			continue
		}
		selected = append(selected, node)
		marked[node] = struct{}{}
		for _, e := range c.g.adj[node] {
			if !c.contracted[e.target] {
				marked[e.target] = struct{}{}
			}
		}
	}
	return selected, rejected
}

// computeShortcuts runs the witness searches for all selected nodes in
// parallel, each worker with its own scratch.
func (c *Contractor) computeShortcuts(selected []uint32, states []*witnessState) [][]shortcut {
	result := make([][]shortcut, len(selected))
	if len(selected) == 1 {
		result[0] = c.findShortcuts(selected[0], states[0])
		return result
	}
	var wg sync.WaitGroup
	var next int
	var mu sync.Mutex
	workers := c.workers
	if workers > len(selected) {
		workers = len(selected)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(ws *witnessState) {
			defer wg.Done()
			for {
				mu.Lock()
				i := next
				next++
				mu.Unlock()
				if i >= len(selected) {
					return
				}
				result[i] = c.findShortcuts(selected[i], ws)
			}
		}(states[w])
	}
	wg.Wait()
	return result
}

// findShortcuts determines the shortcuts required to preserve distances
// once node is removed. One witness search per incoming neighbor covers
// all outgoing targets.
func (c *Contractor) findShortcuts(node uint32, ws *witnessState) []shortcut {
	var incoming, outgoing []edgeEntry
	for _, e := range c.g.adj[node] {
		if c.contracted[e.target] {
			continue
		}
		if e.data.Backward {
			incoming = append(incoming, e)
		}
		if e.data.Forward {
			outgoing = append(outgoing, e)
		}
	}
	if len(incoming) == 0 || len(outgoing) == 0 {
		return nil
	}

	var shortcuts []shortcut
	for _, in := range incoming {
		hasTarget := false
		var maxOut int32
		for _, out := range outgoing {
			if out.target == in.target {
				continue
			}
			hasTarget = true
			if out.data.Distance > maxOut {
				maxOut = out.data.Distance
			}
		}
		if !hasTarget {
			continue // every outgoing leads straight back
		}
		limit := in.data.Distance + maxOut

		ws.search(c.g, c.contracted, in.target, node, limit)

		for _, out := range outgoing {
			if out.target == in.target {
				continue
			}
			d := in.data.Distance + out.data.Distance
			if ws.distance(out.target) <= d {
				continue // witness found
			}
			shortcuts = append(shortcuts, shortcut{
				from: in.target,
				to:   out.target,
				data: EdgeData{
					Distance:      d,
					ID:            node,
					OriginalEdges: in.data.OriginalEdges + out.data.OriginalEdges,
					Shortcut:      true,
					Forward:       true,
				},
			})
		}
	}
	return mergeBidirectional(shortcuts)
}

// mergeBidirectional collapses symmetric equal-weight shortcut pairs into
// one bidirectional edge.
func mergeBidirectional(shortcuts []shortcut) []shortcut {
	merged := shortcuts[:0]
	for i := range shortcuts {
		if shortcuts[i].data.Distance < 0 {
			continue // tombstone from an earlier merge
		}
		s := shortcuts[i]
		for j := i + 1; j < len(shortcuts); j++ {
			o := &shortcuts[j]
			if o.from == s.to && o.to == s.from && o.data.Distance == s.data.Distance {
				s.data.Backward = true
				o.data.Distance = -1
				break
			}
		}
		merged = append(merged, s)
	}
	return merged
}

// simulate performs the witness searches of a contraction without applying
// it and evaluates the priority term:
//
//	priority = (shortcuts - removedEdges)*W_e + depth + origEdgesOfShortcuts*W_o
func (c *Contractor) simulate(node uint32, ws *witnessState) int {
	scs := c.findShortcuts(node, ws)

	removed := 0
	for _, e := range c.g.adj[node] {
		if !c.contracted[e.target] {
			removed++
		}
	}
	added := 0
	origSum := 0
	for _, sc := range scs {
		added++
		origSum += int(sc.data.OriginalEdges)
	}
	return (added-removed)*weightEdgeQuotient + int(c.depth[node]) + origSum*weightOriginalQuotient
}

// applyContraction emits node's edges to the output, removes the node from
// the graph, inserts its shortcuts and bumps neighbor depths.
func (c *Contractor) applyContraction(node uint32, shortcuts []shortcut) {
	for _, e := range c.g.adj[node] {
		c.output = append(c.output, QueryEdge{Source: node, Target: e.target, Data: e.data})
		c.g.deleteEdgesTo(e.target, node)
		if c.depth[node]+1 > c.depth[e.target] {
			c.depth[e.target] = c.depth[node] + 1
		}
	}
	c.g.adj[node] = nil
	c.contracted[node] = true

	for _, sc := range shortcuts {
		c.g.insert(sc.from, sc.to, sc.data)
	}
}

// updatePriorities recomputes priorities for the touched neighbors in
// parallel and pushes the changed ones.
func (c *Contractor) updatePriorities(pq *nodeQueue, nodes []uint32, states []*witnessState) {
	if len(nodes) == 0 {
		return
	}
	updated := make([]int, len(nodes))
	var wg sync.WaitGroup
	workers := c.workers
	if workers > len(nodes) {
		workers = len(nodes)
	}
	chunk := (len(nodes) + workers - 1) / workers
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > len(nodes) {
			hi = len(nodes)
		}
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func(ws *witnessState, lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				updated[i] = c.simulate(nodes[i], ws)
			}
		}(states[w], lo, hi)
	}
	wg.Wait()

	for i, node := range nodes {
		if updated[i] != c.priority[node] {
			c.priority[node] = updated[i]
			heap.Push(pq, queueEntry{priority: updated[i], node: node})
		}
	}
}

// dedupSorted sorts a node list ascending and drops duplicates in place.
func dedupSorted(nodes []uint32) []uint32 {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
	out := nodes[:0]
	for i, n := range nodes {
		if i > 0 && n == out[len(out)-1] {
			continue
		}
		out = append(out, n)
	}
	return out
}

// queueEntry keys the lazy ordering heap by (priority, node id); the id
// tie-break keeps runs deterministic.
type queueEntry struct {
	priority int
	node     uint32
}

type nodeQueue []queueEntry

func (pq nodeQueue) Len() int { return len(pq) }
func (pq nodeQueue) Less(i, j int) bool {
	if pq[i].priority != pq[j].priority {
		return pq[i].priority < pq[j].priority
	}
	return pq[i].node < pq[j].node
}
func (pq nodeQueue) Swap(i, j int) { pq[i], pq[j] = pq[j], pq[i] }

func (pq *nodeQueue) Push(x any) {
	*pq = append(*pq, x.(queueEntry))
}

func (pq *nodeQueue) Pop() any {
	old := *pq
	n := len(old)
	entry := old[n-1]
	*pq = old[:n-1]
	return entry
}
