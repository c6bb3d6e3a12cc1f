package main

import (
	"os"
	"path/filepath"
	"testing"

	"route_prep/pkg/expand"
	"route_prep/pkg/rtree"
	"route_prep/pkg/static"
	"route_prep/pkg/storage"
)

func writeFixtures(t *testing.T, dir string) (graphPath, restrictionsPath, profilePath string) {
	t.Helper()

	nodes := []storage.NodeInfo{
		{ExternalID: 100, Lat: 5252000, Lon: 1340000},
		{ExternalID: 200, Lat: 5252000, Lon: 1340100, IsTrafficLight: true},
		{ExternalID: 300, Lat: 5252000, Lon: 1340200},
		{ExternalID: 400, Lat: 5252100, Lon: 1340100},
	}
	edges := []storage.ImportEdge{
		{Source: 0, Target: 1, Distance: 100, Forward: true, Backward: true},
		{Source: 1, Target: 2, Distance: 100, Forward: true, Backward: true},
		{Source: 1, Target: 3, Distance: 100, Forward: true, Backward: true},
		{Source: 0, Target: 3, Distance: 150, Forward: true, Backward: true},
	}
	restrictions := []storage.TurnRestriction{
		{ViaNode: 1, FromNode: 0, ToNode: 3},
	}

	graphPath = filepath.Join(dir, "fixture.osrm")
	restrictionsPath = graphPath + ".restrictions"
	profilePath = filepath.Join(dir, "profile.lua")

	if err := storage.WriteGraphFile(graphPath, nodes, edges); err != nil {
		t.Fatal(err)
	}
	if err := storage.WriteRestrictionsFile(restrictionsPath, restrictions); err != nil {
		t.Fatal(err)
	}
	profile := "traffic_signal_penalty = 5\nu_turn_penalty = 10\n"
	if err := os.WriteFile(profilePath, []byte(profile), 0o644); err != nil {
		t.Fatal(err)
	}
	return graphPath, restrictionsPath, profilePath
}

func TestRunProducesAllArtifacts(t *testing.T) {
	dir := t.TempDir()
	graphPath, restrictionsPath, profilePath := writeFixtures(t, dir)

	if err := run(graphPath, restrictionsPath, profilePath); err != nil {
		t.Fatalf("run: %v", err)
	}

	out := outputPaths(graphPath)
	for _, p := range []string{out.nodes, out.edges, out.graph, out.ramIndex, out.fileIndex} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("missing artifact %s: %v", p, err)
		}
	}

	// The node map round-trips.
	nodes, err := storage.LoadNodeInfoFile(out.nodes)
	if err != nil {
		t.Fatalf("LoadNodeInfoFile: %v", err)
	}
	if len(nodes) != 4 {
		t.Errorf("node map has %d entries, want 4", len(nodes))
	}

	// The stored checksum matches a fresh one over the .edges records.
	ebNodes, freshChecksum, err := expand.LoadEdgeBasedNodes(out.edges)
	if err != nil {
		t.Fatalf("LoadEdgeBasedNodes: %v", err)
	}
	g, err := static.Load(out.graph, freshChecksum)
	if err != nil {
		t.Fatalf("Load hsgr: %v", err)
	}
	if g.NumNodes != uint32(len(ebNodes)) {
		t.Errorf("query graph has %d nodes, want %d", g.NumNodes, len(ebNodes))
	}

	// The spatial index answers queries.
	tree, err := rtree.Open(out.ramIndex, out.fileIndex)
	if err != nil {
		t.Fatalf("rtree.Open: %v", err)
	}
	defer tree.Close()
	if _, err := tree.FindNearest(52.52, 13.401); err != nil {
		t.Errorf("FindNearest: %v", err)
	}
}

func TestRunFailsOnMissingInput(t *testing.T) {
	dir := t.TempDir()
	_, restrictionsPath, profilePath := writeFixtures(t, dir)

	err := run(filepath.Join(dir, "absent.osrm"), restrictionsPath, profilePath)
	if err == nil {
		t.Fatal("missing graph file must fail")
	}
}

func TestRunRemovesPartialOutputsOnFailure(t *testing.T) {
	dir := t.TempDir()
	graphPath, restrictionsPath, _ := writeFixtures(t, dir)

	// A profile without the mandatory scalars aborts after inputs load.
	badProfile := filepath.Join(dir, "bad.lua")
	if err := os.WriteFile(badProfile, []byte("-- empty"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := run(graphPath, restrictionsPath, badProfile); err == nil {
		t.Fatal("bad profile must fail")
	}

	out := outputPaths(graphPath)
	for _, p := range []string{out.nodes, out.edges, out.graph, out.ramIndex, out.fileIndex} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("partial artifact %s should have been removed", p)
		}
	}
}
