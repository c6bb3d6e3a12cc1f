// Package static lays out the contracted graph in its final CSR form,
// writes and reads the query-graph artifact, and answers bidirectional
// shortest-path queries over it.
package static

import (
	"fmt"
	"sort"

	"route_prep/pkg/contract"
)

// Node is one CSR offset record. The entry at position N is the sentinel
// terminating the last node's edge range.
type Node struct {
	FirstEdge uint32
}

// Edge is one CSR edge record.
type Edge struct {
	Target uint32
	Data   contract.EdgeData
}

// Graph is the static query graph: edges of node v occupy
// [Nodes[v].FirstEdge, Nodes[v+1].FirstEdge).
type Graph struct {
	NumNodes uint32 // excludes the sentinel
	Nodes    []Node // len NumNodes+1
	Edges    []Edge
	Checksum uint32 // CRC32 of the edge-based node list, from the header
}

// Build sorts the contracted edges canonically and assigns CSR offsets.
// numNodes is the edge-based node count; edges referencing nodes beyond it
// break an internal invariant, as does a non-positive edge weight.
func Build(queryEdges []contract.QueryEdge, numNodes uint32) (*Graph, error) {
	sort.SliceStable(queryEdges, func(i, j int) bool {
		return queryEdges[i].Less(queryEdges[j])
	})

	for i := range queryEdges {
		e := &queryEdges[i]
		if e.Source >= numNodes || e.Target >= numNodes {
			return nil, &contract.InvariantError{Msg: fmt.Sprintf(
				"edge %d references node outside graph: %d -> %d (node count %d)",
				i, e.Source, e.Target, numNodes)}
		}
		if e.Data.Distance <= 0 {
			return nil, &contract.InvariantError{Msg: fmt.Sprintf(
				"edge %d has non-positive weight %d (source %d, target %d)",
				i, e.Data.Distance, e.Source, e.Target)}
		}
	}

	nodes := make([]Node, numNodes+1)
	edge := 0
	position := uint32(0)
	for node := uint32(0); node <= numNodes; node++ {
		lastEdge := edge
		for edge < len(queryEdges) && queryEdges[edge].Source == node {
			edge++
		}
		nodes[node].FirstEdge = position
		position += uint32(edge - lastEdge)
	}

	edges := make([]Edge, len(queryEdges))
	for i := range queryEdges {
		edges[i] = Edge{Target: queryEdges[i].Target, Data: queryEdges[i].Data}
	}

	g := &Graph{NumNodes: numNodes, Nodes: nodes, Edges: edges}
	if err := g.validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// validate checks the CSR invariants: monotonic offsets and a sentinel
// equal to the edge count.
func (g *Graph) validate() error {
	if uint32(len(g.Nodes)) != g.NumNodes+1 {
		return &contract.InvariantError{Msg: fmt.Sprintf(
			"node array length %d, want %d", len(g.Nodes), g.NumNodes+1)}
	}
	for i := 1; i < len(g.Nodes); i++ {
		if g.Nodes[i].FirstEdge < g.Nodes[i-1].FirstEdge {
			return &contract.InvariantError{Msg: fmt.Sprintf(
				"offset array decreases at node %d: %d < %d",
				i, g.Nodes[i].FirstEdge, g.Nodes[i-1].FirstEdge)}
		}
	}
	if g.Nodes[g.NumNodes].FirstEdge != uint32(len(g.Edges)) {
		return &contract.InvariantError{Msg: fmt.Sprintf(
			"sentinel offset %d != edge count %d",
			g.Nodes[g.NumNodes].FirstEdge, len(g.Edges))}
	}
	return nil
}

// EdgeRange returns the CSR slice bounds for node v.
func (g *Graph) EdgeRange(v uint32) (uint32, uint32) {
	return g.Nodes[v].FirstEdge, g.Nodes[v+1].FirstEdge
}
