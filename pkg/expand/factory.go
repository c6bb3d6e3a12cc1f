package expand

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"route_prep/pkg/geo"
	"route_prep/pkg/storage"
)

// ErrNoEdgeBasedNodes is returned when expansion produces an empty graph.
var ErrNoEdgeBasedNodes = errors.New("expansion produced no edge-based nodes")

// Profile is the slice of the vehicle profile the factory consumes.
type Profile interface {
	TrafficSignalPenalty() int32
	UTurnPenalty() int32
	TurnCost(angleIn, angleOut int16) (int32, error)
}

// Factory builds the edge-expanded graph from the node-based input.
type Factory struct {
	nodes        []storage.NodeInfo
	edges        []storage.ImportEdge
	restrictions []storage.TurnRestriction
	profile      Profile
	threads      int
}

// Result is the factory output. The edge-based edges are streamed to a
// temp-registry slot; the node list stays in memory for the R-tree and the
// .edges artifact.
type Result struct {
	Nodes                []EdgeBasedNode
	Turns                []TurnData
	EdgeSlot             int
	EdgeCount            int
	UnusableRestrictions int
}

// NewFactory assembles a factory. nodes must be indexed by dense NodeID;
// bollard and traffic-light flags ride on the NodeInfo records.
func NewFactory(nodes []storage.NodeInfo, edges []storage.ImportEdge, restrictions []storage.TurnRestriction, p Profile, threads int) *Factory {
	if threads < 1 {
		threads = 1
	}
	return &Factory{
		nodes:        nodes,
		edges:        edges,
		restrictions: restrictions,
		profile:      p,
		threads:      threads,
	}
}

// adjacency is the directed node-based graph in CSR layout.
type adjacency struct {
	firstOut []uint32
	directed []directedEdge // grouped by source
}

func (a *adjacency) outEdges(v storage.NodeID) []directedEdge {
	return a.directed[a.firstOut[v]:a.firstOut[v+1]]
}

// Run expands the graph and streams the edge-based edges to a fresh slot
// of tmp.
func (f *Factory) Run(tmp *storage.TempRegistry) (*Result, error) {
	nodeCount := uint32(len(f.nodes))

	directed, edgeSet := f.buildDirectedEdges()
	if len(directed) == 0 {
		return nil, ErrNoEdgeBasedNodes
	}
	adj := buildAdjacency(nodeCount, directed)

	rm := newRestrictionMap(f.restrictions, nodeCount, func(from, to storage.NodeID) bool {
		_, ok := edgeSet[edgeKey(from, to)]
		return ok
	})
	if rm.unusable > 0 {
		log.Printf("%d restrictions are unusable (unknown via node or non-adjacent edge)", rm.unusable)
	}

	tiny := markTinyComponents(nodeCount, f.edges)
	ebNodes := f.emitEdgeBasedNodes(directed, tiny)

	log.Printf("Generating edge-expanded graph: %d edge-based nodes", len(ebNodes))

	turnEdges, turns, err := f.expandTurns(adj, rm)
	if err != nil {
		return nil, err
	}

	slot, count, err := writeEdgeSlot(tmp, turnEdges)
	if err != nil {
		return nil, err
	}

	log.Printf("Edge expansion done: %d edge-based edges", count)

	return &Result{
		Nodes:                ebNodes,
		Turns:                turns,
		EdgeSlot:             slot,
		EdgeCount:            count,
		UnusableRestrictions: rm.unusable,
	}, nil
}

func edgeKey(from, to storage.NodeID) uint64 {
	return uint64(from)<<32 | uint64(to)
}

// buildDirectedEdges splits import edges into directed half-edges and
// assigns each a dense edge-based node id in input order.
func (f *Factory) buildDirectedEdges() ([]directedEdge, map[uint64]struct{}) {
	directed := make([]directedEdge, 0, 2*len(f.edges))
	edgeSet := make(map[uint64]struct{}, 2*len(f.edges))

	next := uint32(0)
	for i := range f.edges {
		e := &f.edges[i]
		fwdID, bwdID := InvalidEdgeBasedNode, InvalidEdgeBasedNode
		if e.Forward {
			fwdID = next
			next++
		}
		if e.Backward {
			bwdID = next
			next++
		}
		if e.Forward {
			directed = append(directed, directedEdge{
				source:        e.Source,
				target:        e.Target,
				ebNode:        fwdID,
				reverseEbNode: bwdID,
				duration:      e.Duration(),
				nameID:        e.NameID,
				ignoreInGrid:  e.IgnoreInGrid,
			})
			edgeSet[edgeKey(e.Source, e.Target)] = struct{}{}
		}
		if e.Backward {
			directed = append(directed, directedEdge{
				source:        e.Target,
				target:        e.Source,
				ebNode:        bwdID,
				reverseEbNode: fwdID,
				duration:      e.Duration(),
				nameID:        e.NameID,
				ignoreInGrid:  e.IgnoreInGrid,
			})
			edgeSet[edgeKey(e.Target, e.Source)] = struct{}{}
		}
	}
	return directed, edgeSet
}

func buildAdjacency(nodeCount uint32, directed []directedEdge) *adjacency {
	firstOut := make([]uint32, nodeCount+1)
	for i := range directed {
		firstOut[directed[i].source+1]++
	}
	for i := uint32(1); i <= nodeCount; i++ {
		firstOut[i] += firstOut[i-1]
	}

	grouped := make([]directedEdge, len(directed))
	pos := make([]uint32, nodeCount)
	copy(pos, firstOut[:nodeCount])
	for i := range directed {
		idx := pos[directed[i].source]
		grouped[idx] = directed[i]
		pos[directed[i].source]++
	}
	return &adjacency{firstOut: firstOut, directed: grouped}
}

// emitEdgeBasedNodes produces one record per edge-based node id, ordered
// by id.
func (f *Factory) emitEdgeBasedNodes(directed []directedEdge, tiny []bool) []EdgeBasedNode {
	nodes := make([]EdgeBasedNode, len(directed))
	for i := range directed {
		de := &directed[i]
		src := &f.nodes[de.source]
		dst := &f.nodes[de.target]
		nodes[de.ebNode] = EdgeBasedNode{
			ForwardEdgeBasedNodeID: de.ebNode,
			ReverseEdgeBasedNodeID: de.reverseEbNode,
			NameID:                 de.nameID,
			Lat1:                   src.Lat, Lon1: src.Lon,
			Lat2: dst.Lat, Lon2: dst.Lon,
			BelongsToTinyCC: tiny[de.source] && tiny[de.target],
			IgnoreInGrid:    de.ignoreInGrid,
		}
	}
	return nodes
}

// expandTurns walks every (in-edge, via, out-edge) triple and emits the
// legal turns. Work is split over the incoming directed edges; per-worker
// buffers are concatenated in partition order so the output is independent
// of scheduling.
func (f *Factory) expandTurns(adj *adjacency, rm *restrictionMap) ([]EdgeBasedEdge, []TurnData, error) {
	total := len(adj.directed)
	workers := f.threads
	if workers > total {
		workers = total
	}

	type partial struct {
		edges []EdgeBasedEdge
		turns []TurnData
		err   error
	}
	parts := make([]partial, workers)

	chunk := (total + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > total {
			hi = total
		}
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			parts[w].edges, parts[w].turns, parts[w].err = f.expandRange(adj, rm, lo, hi)
		}(w, lo, hi)
	}
	wg.Wait()

	var edges []EdgeBasedEdge
	var turns []TurnData
	for w := range parts {
		if parts[w].err != nil {
			return nil, nil, parts[w].err
		}
		edges = append(edges, parts[w].edges...)
		turns = append(turns, parts[w].turns...)
	}
	// Turn ids are assigned after the merge so they are dense and stable.
	for i := range edges {
		edges[i].EdgeID = uint32(i)
	}
	return edges, turns, nil
}

// expandRange processes incoming edges [lo, hi) of the CSR edge array.
func (f *Factory) expandRange(adj *adjacency, rm *restrictionMap, lo, hi int) ([]EdgeBasedEdge, []TurnData, error) {
	var edges []EdgeBasedEdge
	var turns []TurnData

	for i := lo; i < hi; i++ {
		in := &adj.directed[i]
		via := in.target
		viaInfo := &f.nodes[via]
		if viaInfo.IsBollard {
			continue
		}

		out := adj.outEdges(via)
		for j := range out {
			o := &out[j]
			isUTurn := o.ebNode == in.reverseEbNode
			if isUTurn {
				// U-turns only at dead ends, or when an only-restriction
				// explicitly routes back onto the reverse segment.
				if len(out) > 1 && !rm.uTurnNamed(in.source, via) {
					continue
				}
			} else if rm.isRestricted(in.source, via, o.target) {
				continue
			}

			angleIn := geo.FixedBearing(f.nodes[in.source].Lat, f.nodes[in.source].Lon, viaInfo.Lat, viaInfo.Lon)
			angleOut := geo.FixedBearing(viaInfo.Lat, viaInfo.Lon, f.nodes[o.target].Lat, f.nodes[o.target].Lon)

			cost, err := f.profile.TurnCost(angleIn, angleOut)
			if err != nil {
				return nil, nil, fmt.Errorf("turn at node %d: %w", via, err)
			}
			if viaInfo.IsTrafficLight {
				cost += f.profile.TrafficSignalPenalty()
			}
			if isUTurn {
				cost += f.profile.UTurnPenalty()
			}

			edges = append(edges, EdgeBasedEdge{
				Source:  in.ebNode,
				Target:  o.ebNode,
				Weight:  in.duration + cost,
				Forward: true,
			})
			turns = append(turns, TurnData{
				ViaNode:  via,
				NameID:   o.nameID,
				AngleIn:  angleIn,
				AngleOut: angleOut,
			})
		}
	}
	return edges, turns, nil
}
