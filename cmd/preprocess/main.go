// Command preprocess turns a node-based road graph and its turn
// restrictions into the contraction-hierarchy query graph and the spatial
// index the routing engine serves from.
//
// Usage:
//
//	preprocess <osrm-data> <osrm-restrictions> [<profile.lua>]
//
// Thread count can be capped with a Threads key in contractor.ini.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"route_prep/pkg/config"
	"route_prep/pkg/contract"
	"route_prep/pkg/expand"
	"route_prep/pkg/profile"
	"route_prep/pkg/rtree"
	"route_prep/pkg/static"
	"route_prep/pkg/storage"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "usage:\n%s <osrm-data> <osrm-restrictions> [<profile>]\n", os.Args[0])
		os.Exit(-1)
	}
	if err := run(os.Args[1], os.Args[2], profilePath()); err != nil {
		log.Printf("preprocessing failed: %v", err)
		os.Exit(-1)
	}
}

func profilePath() string {
	if len(os.Args) > 3 {
		return os.Args[3]
	}
	return "profile.lua"
}

// outputs names every artifact of a run so failures can sweep partial
// files.
type outputs struct {
	nodes, edges, graph, ramIndex, fileIndex string
}

func outputPaths(prefix string) outputs {
	return outputs{
		nodes:     prefix + ".nodes",
		edges:     prefix + ".edges",
		graph:     prefix + ".hsgr",
		ramIndex:  prefix + ".ramIndex",
		fileIndex: prefix + ".fileIndex",
	}
}

func (o outputs) removeAll() {
	for _, p := range []string{o.nodes, o.edges, o.graph, o.ramIndex, o.fileIndex} {
		os.Remove(p)
	}
}

func run(graphPath, restrictionsPath, profilePath string) (err error) {
	start := time.Now()

	cfg, err := config.Load(config.DefaultFile)
	if err != nil {
		return err
	}
	log.Printf("using %d threads", cfg.Threads)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tmp, err := storage.NewTempRegistry()
	if err != nil {
		return err
	}
	defer tmp.RemoveAll()

	out := outputPaths(graphPath)
	defer func() {
		if err != nil {
			out.removeAll()
		}
	}()

	log.Printf("using restrictions from file: %s", restrictionsPath)
	restrictions, err := storage.LoadRestrictionsFile(restrictionsPath)
	if err != nil {
		return err
	}

	data, err := storage.LoadGraphFile(graphPath)
	if err != nil {
		return err
	}
	log.Printf("%d restrictions, %d bollard nodes, %d traffic lights",
		len(restrictions), len(data.BollardNodes), len(data.TrafficLightNodes))

	log.Printf("parsing speed profile from %s", profilePath)
	prof, err := profile.Load(profilePath)
	if err != nil {
		return err
	}
	defer prof.Close()

	// Stage B: edge expansion.
	log.Printf("generating edge-expanded graph representation")
	factory := expand.NewFactory(data.Nodes, data.Edges, restrictions, prof, cfg.Threads)
	expansion, err := factory.Run(tmp)
	if err != nil {
		return err
	}
	prof.Close()
	restrictions = nil
	data.Edges = nil

	log.Printf("writing node map ...")
	if err := storage.WriteNodeInfoFile(out.nodes, data.Nodes); err != nil {
		return err
	}
	data.Nodes = nil
	expansionDone := time.Now()

	checksum, err := expand.WriteEdgesFile(out.edges, expansion.Nodes, expansion.Turns)
	if err != nil {
		return err
	}
	expansion.Turns = nil
	log.Printf("CRC32: %d", checksum)

	// Stage F: spatial index over edge-based nodes.
	log.Printf("building r-tree ...")
	if err := rtree.Build(expansion.Nodes, out.ramIndex, out.fileIndex); err != nil {
		return err
	}
	ebNodeCount := uint32(len(expansion.Nodes))
	expansion.Nodes = nil

	// Stage D: contraction.
	ebEdges, err := expand.LoadEdgeBasedEdges(tmp, expansion.EdgeSlot, expansion.EdgeCount)
	if err != nil {
		return err
	}
	tmp.Free(expansion.EdgeSlot)

	contractionStart := time.Now()
	contractor := contract.NewContractor(ebNodeCount, ebEdges, cfg.Threads)
	ebEdges = nil
	queryEdges, err := contractor.Run(ctx)
	if err != nil {
		return err
	}
	contractionDuration := time.Since(contractionStart)
	log.Printf("contraction took %s", contractionDuration.Round(time.Millisecond))

	// Stage E: static query graph.
	log.Printf("building node array")
	graph, err := static.Build(queryEdges, ebNodeCount)
	if err != nil {
		return err
	}
	queryEdges = nil
	log.Printf("serializing compacted graph of %d edges", len(graph.Edges))
	if err := static.Write(out.graph, checksum, graph); err != nil {
		return err
	}

	expansionSecs := expansionDone.Sub(start).Seconds()
	if expansionSecs > 0 {
		log.Printf("expansion: %.0f nodes/sec and %.0f edges/sec",
			float64(data.NodeCount)/expansionSecs, float64(ebNodeCount)/expansionSecs)
	}
	if secs := contractionDuration.Seconds(); secs > 0 {
		log.Printf("contraction: %.0f nodes/sec and %.0f edges/sec",
			float64(ebNodeCount)/secs, float64(len(graph.Edges))/secs)
	}
	log.Printf("preprocessing took %s", time.Since(start).Round(time.Millisecond))
	log.Printf("finished preprocessing")
	return nil
}
