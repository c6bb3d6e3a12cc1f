package contract

import (
	"context"
	"errors"
	"testing"

	"route_prep/pkg/expand"
)

func fwdEdge(source, target uint32, weight int32) expand.EdgeBasedEdge {
	return expand.EdgeBasedEdge{Source: source, Target: target, Weight: weight, Forward: true}
}

// oneWayRing builds a directed cycle 0→1→…→n-1→0.
func oneWayRing(n uint32, weight int32) []expand.EdgeBasedEdge {
	edges := make([]expand.EdgeBasedEdge, 0, n)
	for i := uint32(0); i < n; i++ {
		edges = append(edges, fwdEdge(i, (i+1)%n, weight))
	}
	for i := range edges {
		edges[i].EdgeID = uint32(i)
	}
	return edges
}

func runContractor(t *testing.T, numNodes uint32, edges []expand.EdgeBasedEdge, workers int) []QueryEdge {
	t.Helper()
	out, err := NewContractor(numNodes, edges, workers).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return out
}

func TestEveryInputEdgeAppearsOnce(t *testing.T) {
	edges := oneWayRing(6, 10)
	out := runContractor(t, 6, edges, 1)

	for _, want := range edges {
		matches := 0
		for _, q := range out {
			if q.Data.Shortcut {
				continue
			}
			forward := q.Source == want.Source && q.Target == want.Target && q.Data.Forward
			backward := q.Source == want.Target && q.Target == want.Source && q.Data.Backward
			if (forward || backward) && q.Data.Distance == want.Weight {
				matches++
			}
		}
		if matches != 1 {
			t.Errorf("edge %d->%d appears %d times in output, want 1", want.Source, want.Target, matches)
		}
	}
}

func TestShortcutsPreserveRingDistances(t *testing.T) {
	edges := oneWayRing(8, 10)
	out := runContractor(t, 8, edges, 1)

	sawShortcut := false
	for _, q := range out {
		if !q.Data.Shortcut {
			continue
		}
		sawShortcut = true
		if q.Data.OriginalEdges < 2 {
			t.Errorf("shortcut %d->%d claims %d original edges", q.Source, q.Target, q.Data.OriginalEdges)
		}
		if q.Data.ID >= 8 {
			t.Errorf("shortcut %d->%d has middle node %d out of range", q.Source, q.Target, q.Data.ID)
		}
		// The ring is uniform: any path of k original edges costs 10k.
		if q.Data.Distance != int32(q.Data.OriginalEdges)*10 {
			t.Errorf("shortcut %d->%d weight %d != %d originals * 10",
				q.Source, q.Target, q.Data.Distance, q.Data.OriginalEdges)
		}
	}
	if !sawShortcut {
		t.Error("contracting a one-way ring must create shortcuts")
	}
}

func TestUpwardOrientation(t *testing.T) {
	// Each edge is stored at the endpoint contracted first; its target
	// must therefore still be uncontracted at that moment, i.e. no node
	// may emit an edge after one of its edges already pointed at it.
	edges := oneWayRing(8, 10)
	out := runContractor(t, 8, edges, 1)

	emitted := make(map[uint32]int) // node -> first output position
	for i, q := range out {
		if _, ok := emitted[q.Source]; !ok {
			emitted[q.Source] = i
		}
	}
	for _, q := range out {
		if pos, ok := emitted[q.Target]; ok && pos < emitted[q.Source] {
			t.Errorf("edge %d->%d stored at the later-contracted endpoint", q.Source, q.Target)
		}
	}
}

func TestNonPositiveShortcutWeightFails(t *testing.T) {
	// A zero-weight one-way cycle forces a zero-weight shortcut at the
	// first contraction.
	edges := oneWayRing(4, 0)
	_, err := NewContractor(4, edges, 1).Run(context.Background())
	var invariant *InvariantError
	if !errors.As(err, &invariant) {
		t.Fatalf("Run = %v, want InvariantError", err)
	}
}

func TestDeterministicAcrossWorkerCounts(t *testing.T) {
	// A denser graph: two interleaved rings.
	edges := oneWayRing(16, 10)
	for i := uint32(0); i < 16; i += 2 {
		edges = append(edges, fwdEdge(i, (i+5)%16, 35))
	}
	for i := range edges {
		edges[i].EdgeID = uint32(i)
	}

	one := runContractor(t, 16, edges, 1)
	four := runContractor(t, 16, edges, 4)

	if len(one) != len(four) {
		t.Fatalf("output lengths differ: %d vs %d", len(one), len(four))
	}
	for i := range one {
		if one[i] != four[i] {
			t.Fatalf("output %d differs: %+v vs %+v", i, one[i], four[i])
		}
	}
}

func TestCancellationAbortsBetweenRounds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewContractor(8, oneWayRing(8, 10), 1).Run(ctx)
	if err == nil {
		t.Fatal("cancelled context must abort contraction")
	}
}

func TestBidirectionalMerge(t *testing.T) {
	// Equal-weight opposite directions collapse into one bidirectional
	// entry, which the output preserves.
	edges := []expand.EdgeBasedEdge{
		fwdEdge(0, 1, 10),
		fwdEdge(1, 0, 10),
	}
	for i := range edges {
		edges[i].EdgeID = uint32(i)
	}
	out := runContractor(t, 2, edges, 1)

	if len(out) != 1 {
		t.Fatalf("output has %d edges, want 1 merged entry", len(out))
	}
	if !out[0].Data.Forward || !out[0].Data.Backward {
		t.Errorf("merged edge flags = %+v, want bidirectional", out[0].Data)
	}
}
