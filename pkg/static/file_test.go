package static

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"route_prep/pkg/expand"
)

func buildSmallGraph(t *testing.T) (*Graph, uint32) {
	t.Helper()
	nodes, edges := gridGraph(3, 100)
	result, _, g := pipeline(t, nodes, edges, nil, testProfile{})
	checksum, err := expand.NodeChecksum(result.Nodes)
	if err != nil {
		t.Fatal(err)
	}
	return g, checksum
}

func TestQueryGraphRoundTrip(t *testing.T) {
	g, checksum := buildSmallGraph(t)
	path := filepath.Join(t.TempDir(), "test.osrm.hsgr")

	if err := Write(path, checksum, g); err != nil {
		t.Fatalf("Write: %v", err)
	}

	loaded, err := Load(path, checksum)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.NumNodes != g.NumNodes {
		t.Errorf("NumNodes = %d, want %d", loaded.NumNodes, g.NumNodes)
	}
	if loaded.Checksum != checksum {
		t.Errorf("Checksum = %08x, want %08x", loaded.Checksum, checksum)
	}
	if len(loaded.Edges) != len(g.Edges) {
		t.Fatalf("edge count = %d, want %d", len(loaded.Edges), len(g.Edges))
	}
	for i := range g.Edges {
		if loaded.Edges[i] != g.Edges[i] {
			t.Errorf("edge %d = %+v, want %+v", i, loaded.Edges[i], g.Edges[i])
		}
	}
	for i := range g.Nodes {
		if loaded.Nodes[i] != g.Nodes[i] {
			t.Errorf("node %d = %+v, want %+v", i, loaded.Nodes[i], g.Nodes[i])
		}
	}

	// Queries over the reloaded graph behave identically.
	qs := NewQueryState(g.NumNodes)
	qs2 := NewQueryState(loaded.NumNodes)
	for s := uint32(0); s < g.NumNodes; s++ {
		for d := uint32(0); d < g.NumNodes; d++ {
			if g.ShortestDistance(s, d, qs) != loaded.ShortestDistance(s, d, qs2) {
				t.Fatalf("distances diverge for %d->%d", s, d)
			}
		}
	}
}

func TestLoadHeaderWithoutEdges(t *testing.T) {
	g, checksum := buildSmallGraph(t)
	path := filepath.Join(t.TempDir(), "test.osrm.hsgr")
	if err := Write(path, checksum, g); err != nil {
		t.Fatalf("Write: %v", err)
	}

	h, err := LoadHeader(path)
	if err != nil {
		t.Fatalf("LoadHeader: %v", err)
	}
	if h.Checksum != checksum {
		t.Errorf("header checksum = %08x, want %08x", h.Checksum, checksum)
	}
	if h.NodeCount != g.NumNodes+1 {
		t.Errorf("header node count = %d, want %d", h.NodeCount, g.NumNodes+1)
	}
}

func TestChecksumMismatchRejectedBeforeEdges(t *testing.T) {
	// The full drift scenario: regenerate the .edges artifact with one
	// byte flipped and the stored hsgr checksum no longer matches.
	nodes, edges := gridGraph(3, 100)
	result, _, g := pipeline(t, nodes, edges, nil, testProfile{})

	dir := t.TempDir()
	edgesPath := filepath.Join(dir, "test.osrm.edges")
	hsgrPath := filepath.Join(dir, "test.osrm.hsgr")

	checksum, err := expand.WriteEdgesFile(edgesPath, result.Nodes, result.Turns)
	if err != nil {
		t.Fatal(err)
	}
	if err := Write(hsgrPath, checksum, g); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(edgesPath)
	if err != nil {
		t.Fatal(err)
	}
	raw[30] ^= 0x01
	if err := os.WriteFile(edgesPath, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	_, freshChecksum, err := expand.LoadEdgeBasedNodes(edgesPath)
	if err != nil {
		t.Fatal(err)
	}
	if freshChecksum == checksum {
		t.Fatal("flip did not change the node-list checksum")
	}

	if _, err := Load(hsgrPath, freshChecksum); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("Load = %v, want ErrChecksumMismatch", err)
	}
}

func TestIncompatibleStampRejected(t *testing.T) {
	g, checksum := buildSmallGraph(t)
	path := filepath.Join(t.TempDir(), "test.osrm.hsgr")
	if err := Write(path, checksum, g); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	raw[0] ^= 0xFF // corrupt the stamp magic
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, 0); err == nil {
		t.Error("corrupted stamp must be rejected")
	}
}

func TestWriteIsByteIdentical(t *testing.T) {
	g, checksum := buildSmallGraph(t)
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.hsgr")
	pathB := filepath.Join(dir, "b.hsgr")

	if err := Write(pathA, checksum, g); err != nil {
		t.Fatal(err)
	}
	if err := Write(pathB, checksum, g); err != nil {
		t.Fatal(err)
	}
	a, err := os.ReadFile(pathA)
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(pathB)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("two writes of the same graph must be byte-identical")
	}
}

func TestPipelineIsByteIdenticalAcrossRuns(t *testing.T) {
	// End-to-end determinism: two independent runs over the same input
	// serialize to identical artifacts.
	run := func(path string) {
		nodes, edges := gridGraph(4, 100)
		result, _, g := pipeline(t, nodes, edges, nil, testProfile{})
		checksum, err := expand.NodeChecksum(result.Nodes)
		if err != nil {
			t.Fatal(err)
		}
		if err := Write(path, checksum, g); err != nil {
			t.Fatal(err)
		}
	}
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.hsgr")
	pathB := filepath.Join(dir, "b.hsgr")
	run(pathA)
	run(pathB)

	a, _ := os.ReadFile(pathA)
	b, _ := os.ReadFile(pathB)
	if !bytes.Equal(a, b) {
		t.Error("independent pipeline runs must produce byte-identical query graphs")
	}
}
