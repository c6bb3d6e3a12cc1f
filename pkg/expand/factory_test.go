package expand

import (
	"testing"

	"route_prep/pkg/storage"
)

// testProfile is a scripted-profile stand-in with fixed deci-second
// penalties.
type testProfile struct {
	signal int32
	uturn  int32
	fn     func(in, out int16) int32
}

func (p testProfile) TrafficSignalPenalty() int32 { return p.signal }
func (p testProfile) UTurnPenalty() int32         { return p.uturn }
func (p testProfile) TurnCost(in, out int16) (int32, error) {
	if p.fn == nil {
		return 0, nil
	}
	return p.fn(in, out), nil
}

// gridNodes lays count nodes on a horizontal line, 0.001 degrees apart.
func gridNodes(count int) []storage.NodeInfo {
	nodes := make([]storage.NodeInfo, count)
	for i := range nodes {
		nodes[i] = storage.NodeInfo{
			ExternalID: uint64(1000 + i),
			Lat:        5252000,
			Lon:        1340000 + int32(i)*100,
		}
	}
	return nodes
}

// biEdge is a bidirectional segment with Speed 0, so Distance doubles as
// the deci-second duration.
func biEdge(source, target storage.NodeID, duration uint32) storage.ImportEdge {
	return storage.ImportEdge{Source: source, Target: target, Distance: duration, Forward: true, Backward: true}
}

func runFactory(t *testing.T, nodes []storage.NodeInfo, edges []storage.ImportEdge, restrictions []storage.TurnRestriction, p Profile, threads int) (*Result, []EdgeBasedEdge) {
	t.Helper()
	tmp, err := storage.NewTempRegistry()
	if err != nil {
		t.Fatalf("NewTempRegistry: %v", err)
	}
	t.Cleanup(tmp.RemoveAll)

	result, err := NewFactory(nodes, edges, restrictions, p, threads).Run(tmp)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	ebEdges, err := LoadEdgeBasedEdges(tmp, result.EdgeSlot, result.EdgeCount)
	if err != nil {
		t.Fatalf("LoadEdgeBasedEdges: %v", err)
	}
	return result, ebEdges
}

// ebNodeOf finds the edge-based node id of the directed segment
// source→target by matching endpoint coordinates.
func ebNodeOf(t *testing.T, nodes []storage.NodeInfo, ebNodes []EdgeBasedNode, source, target storage.NodeID) uint32 {
	t.Helper()
	for i := range ebNodes {
		n := &ebNodes[i]
		if n.Lat1 == nodes[source].Lat && n.Lon1 == nodes[source].Lon &&
			n.Lat2 == nodes[target].Lat && n.Lon2 == nodes[target].Lon {
			return n.ForwardEdgeBasedNodeID
		}
	}
	t.Fatalf("no edge-based node for segment %d -> %d", source, target)
	return 0
}

func hasTurn(edges []EdgeBasedEdge, source, target uint32) bool {
	for i := range edges {
		if edges[i].Source == source && edges[i].Target == target {
			return true
		}
	}
	return false
}

func turnWeight(t *testing.T, edges []EdgeBasedEdge, source, target uint32) int32 {
	t.Helper()
	for i := range edges {
		if edges[i].Source == source && edges[i].Target == target {
			return edges[i].Weight
		}
	}
	t.Fatalf("no edge-based edge %d -> %d", source, target)
	return 0
}

// A four-way intersection: center node 2 with arms 0, 1, 3, 4.
func fourWayGraph() ([]storage.NodeInfo, []storage.ImportEdge) {
	nodes := []storage.NodeInfo{
		{ExternalID: 1, Lat: 5252000, Lon: 1339000},
		{ExternalID: 2, Lat: 5253000, Lon: 1340000},
		{ExternalID: 3, Lat: 5252000, Lon: 1340000},
		{ExternalID: 4, Lat: 5251000, Lon: 1340000},
		{ExternalID: 5, Lat: 5252000, Lon: 1341000},
	}
	edges := []storage.ImportEdge{
		biEdge(0, 2, 100),
		biEdge(1, 2, 100),
		biEdge(3, 2, 100),
		biEdge(4, 2, 100),
	}
	return nodes, edges
}

func TestExpansionCountsAtIntersection(t *testing.T) {
	nodes, edges := fourWayGraph()
	result, ebEdges := runFactory(t, nodes, edges, nil, testProfile{}, 2)

	// Every directed segment becomes one edge-based node.
	if len(result.Nodes) != 8 {
		t.Errorf("edge-based nodes = %d, want 8", len(result.Nodes))
	}

	// Degree-4 intersection: 4*3 turns without u-turns; one dead-end
	// u-turn at each of the 4 arm tips.
	if len(ebEdges) != 4*3+4 {
		t.Errorf("edge-based edges = %d, want 16", len(ebEdges))
	}

	// Reverse ids pair up the two directions of each segment.
	for i := range result.Nodes {
		n := &result.Nodes[i]
		rev := result.Nodes[n.ReverseEdgeBasedNodeID]
		if rev.ReverseEdgeBasedNodeID != n.ForwardEdgeBasedNodeID {
			t.Errorf("node %d reverse linkage broken", i)
		}
	}
}

func TestOneWayExpansion(t *testing.T) {
	nodes := gridNodes(3)
	edges := []storage.ImportEdge{
		{Source: 0, Target: 1, Distance: 100, Forward: true},
		{Source: 1, Target: 2, Distance: 100, Forward: true},
	}
	result, ebEdges := runFactory(t, nodes, edges, nil, testProfile{}, 1)

	if len(result.Nodes) != 2 {
		t.Errorf("edge-based nodes = %d, want 2", len(result.Nodes))
	}
	if result.Nodes[0].ReverseEdgeBasedNodeID != InvalidEdgeBasedNode {
		t.Error("one-way segment must have no reverse edge-based node")
	}
	if len(ebEdges) != 1 {
		t.Fatalf("edge-based edges = %d, want 1", len(ebEdges))
	}
	if w := ebEdges[0].Weight; w != 100 {
		t.Errorf("turn weight = %d, want 100", w)
	}
}

func TestUTurnOnlyAtDeadEnds(t *testing.T) {
	nodes := gridNodes(3)
	edges := []storage.ImportEdge{biEdge(0, 1, 100), biEdge(1, 2, 100)}
	result, ebEdges := runFactory(t, nodes, edges, nil, testProfile{uturn: 200}, 1)

	eb01 := ebNodeOf(t, nodes, result.Nodes, 0, 1)
	eb10 := ebNodeOf(t, nodes, result.Nodes, 1, 0)
	eb12 := ebNodeOf(t, nodes, result.Nodes, 1, 2)
	eb21 := ebNodeOf(t, nodes, result.Nodes, 2, 1)

	// Interior node 1 has degree 2: no u-turn there.
	if hasTurn(ebEdges, eb01, eb10) {
		t.Error("u-turn at interior node must not be emitted")
	}
	// Dead ends at 0 and 2 allow turning around, with the penalty.
	if got := turnWeight(t, ebEdges, eb12, eb21); got != 100+200 {
		t.Errorf("dead-end u-turn weight = %d, want 300", got)
	}
	if got := turnWeight(t, ebEdges, eb10, eb01); got != 100+200 {
		t.Errorf("dead-end u-turn weight = %d, want 300", got)
	}
	// Straight-through turns carry only the segment duration.
	if got := turnWeight(t, ebEdges, eb01, eb12); got != 100 {
		t.Errorf("through turn weight = %d, want 100", got)
	}
}

func TestNoTurnRestriction(t *testing.T) {
	// Triangle 0-1-2, all bidirectional.
	nodes := []storage.NodeInfo{
		{ExternalID: 1, Lat: 5252000, Lon: 1340000},
		{ExternalID: 2, Lat: 5252000, Lon: 1341000},
		{ExternalID: 3, Lat: 5253000, Lon: 1340500},
	}
	edges := []storage.ImportEdge{biEdge(0, 1, 100), biEdge(1, 2, 100), biEdge(0, 2, 100)}
	restrictions := []storage.TurnRestriction{{ViaNode: 1, FromNode: 0, ToNode: 2}}

	result, ebEdges := runFactory(t, nodes, edges, restrictions, testProfile{}, 1)

	eb01 := ebNodeOf(t, nodes, result.Nodes, 0, 1)
	eb12 := ebNodeOf(t, nodes, result.Nodes, 1, 2)
	eb21 := ebNodeOf(t, nodes, result.Nodes, 2, 1)
	eb10 := ebNodeOf(t, nodes, result.Nodes, 1, 0)

	if hasTurn(ebEdges, eb01, eb12) {
		t.Error("restricted turn must not be emitted")
	}
	// Only that one triple is affected: the opposite direction stays.
	if !hasTurn(ebEdges, eb21, eb10) {
		t.Error("reverse-direction turn must survive")
	}
	if result.UnusableRestrictions != 0 {
		t.Errorf("UnusableRestrictions = %d, want 0", result.UnusableRestrictions)
	}
}

func TestOnlyTurnRestriction(t *testing.T) {
	nodes, edges := fourWayGraph()
	// From arm 0 through center 2, only the continuation onto arm 4.
	restrictions := []storage.TurnRestriction{{ViaNode: 2, FromNode: 0, ToNode: 4, IsOnly: true}}

	result, ebEdges := runFactory(t, nodes, edges, restrictions, testProfile{}, 1)

	eb02 := ebNodeOf(t, nodes, result.Nodes, 0, 2)
	eb24 := ebNodeOf(t, nodes, result.Nodes, 2, 4)
	eb21 := ebNodeOf(t, nodes, result.Nodes, 2, 1)
	eb23 := ebNodeOf(t, nodes, result.Nodes, 2, 3)

	if !hasTurn(ebEdges, eb02, eb24) {
		t.Error("the only permitted turn must be emitted")
	}
	if hasTurn(ebEdges, eb02, eb21) || hasTurn(ebEdges, eb02, eb23) {
		t.Error("turns other than the only-target must not be emitted")
	}
	// Other approaches are unaffected.
	eb12 := ebNodeOf(t, nodes, result.Nodes, 1, 2)
	if !hasTurn(ebEdges, eb12, eb23) {
		t.Error("only-restriction must not affect other approaches")
	}
}

func TestOnlyTurnNamingReverseAllowsUTurn(t *testing.T) {
	nodes, edges := fourWayGraph()
	restrictions := []storage.TurnRestriction{{ViaNode: 2, FromNode: 0, ToNode: 0, IsOnly: true}}

	result, ebEdges := runFactory(t, nodes, edges, restrictions, testProfile{uturn: 50}, 1)

	eb02 := ebNodeOf(t, nodes, result.Nodes, 0, 2)
	eb20 := ebNodeOf(t, nodes, result.Nodes, 2, 0)
	if got := turnWeight(t, ebEdges, eb02, eb20); got != 100+50 {
		t.Errorf("explicitly named u-turn weight = %d, want 150", got)
	}
}

func TestBollardBlocksAllTurns(t *testing.T) {
	nodes := gridNodes(3)
	nodes[1].IsBollard = true
	edges := []storage.ImportEdge{biEdge(0, 1, 100), biEdge(1, 2, 100)}

	result, ebEdges := runFactory(t, nodes, edges, nil, testProfile{uturn: 10}, 1)

	if len(result.Nodes) != 4 {
		t.Errorf("edge-based nodes = %d, want 4", len(result.Nodes))
	}
	// No turn crosses the bollard; only the dead-end u-turns at 0 and 2
	// remain.
	if len(ebEdges) != 2 {
		t.Fatalf("edge-based edges = %d, want 2", len(ebEdges))
	}
	eb01 := ebNodeOf(t, nodes, result.Nodes, 0, 1)
	eb12 := ebNodeOf(t, nodes, result.Nodes, 1, 2)
	if hasTurn(ebEdges, eb01, eb12) {
		t.Error("turn across bollard must not be emitted")
	}
}

func TestTrafficSignalPenalty(t *testing.T) {
	nodes := gridNodes(3)
	nodes[1].IsTrafficLight = true
	edges := []storage.ImportEdge{biEdge(0, 1, 100), biEdge(1, 2, 100)}

	result, ebEdges := runFactory(t, nodes, edges, nil, testProfile{signal: 500}, 1)

	eb01 := ebNodeOf(t, nodes, result.Nodes, 0, 1)
	eb12 := ebNodeOf(t, nodes, result.Nodes, 1, 2)

	// Crossing the signal costs the incoming segment's duration plus the
	// penalty: 100 + 500. The duration of segment 1->2 is charged on the
	// turns leaving it.
	if got := turnWeight(t, ebEdges, eb01, eb12); got != 600 {
		t.Errorf("signal turn weight = %d, want 600", got)
	}
}

func TestProfileTurnFunctionApplied(t *testing.T) {
	nodes := gridNodes(3)
	edges := []storage.ImportEdge{biEdge(0, 1, 100), biEdge(1, 2, 100)}
	p := testProfile{fn: func(in, out int16) int32 {
		if in == out {
			return 0 // straight on
		}
		return 77
	}}
	result, ebEdges := runFactory(t, nodes, edges, nil, p, 1)

	eb01 := ebNodeOf(t, nodes, result.Nodes, 0, 1)
	eb12 := ebNodeOf(t, nodes, result.Nodes, 1, 2)
	// The chain is a straight line: bearings match, no turn cost.
	if got := turnWeight(t, ebEdges, eb01, eb12); got != 100 {
		t.Errorf("straight turn weight = %d, want 100", got)
	}
}

func TestUnusableRestrictionsAreCounted(t *testing.T) {
	nodes := gridNodes(3)
	edges := []storage.ImportEdge{biEdge(0, 1, 100), biEdge(1, 2, 100)}
	restrictions := []storage.TurnRestriction{
		{ViaNode: 99, FromNode: 0, ToNode: 2}, // unknown via node
		{ViaNode: 1, FromNode: 2, ToNode: 2},  // usable: both segments exist
		{ViaNode: 2, FromNode: 0, ToNode: 1},  // (0, 2) is not a segment
	}
	result, _ := runFactory(t, nodes, edges, restrictions, testProfile{}, 1)

	if result.UnusableRestrictions != 2 {
		t.Errorf("UnusableRestrictions = %d, want 2", result.UnusableRestrictions)
	}
}

func TestExpansionDeterministicAcrossThreadCounts(t *testing.T) {
	nodes, edges := fourWayGraph()
	_, one := runFactory(t, nodes, edges, nil, testProfile{uturn: 5}, 1)
	_, four := runFactory(t, nodes, edges, nil, testProfile{uturn: 5}, 4)

	if len(one) != len(four) {
		t.Fatalf("edge counts differ: %d vs %d", len(one), len(four))
	}
	for i := range one {
		if one[i] != four[i] {
			t.Fatalf("edge %d differs: %+v vs %+v", i, one[i], four[i])
		}
	}
}

func TestEmptyExpansionFails(t *testing.T) {
	tmp, err := storage.NewTempRegistry()
	if err != nil {
		t.Fatal(err)
	}
	defer tmp.RemoveAll()

	_, err = NewFactory(gridNodes(2), nil, nil, testProfile{}, 1).Run(tmp)
	if err != ErrNoEdgeBasedNodes {
		t.Errorf("Run = %v, want ErrNoEdgeBasedNodes", err)
	}
}
