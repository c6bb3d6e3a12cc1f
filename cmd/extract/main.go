// Command extract converts an OpenStreetMap PBF extract into the binary
// node-based graph and restriction files the preprocess command consumes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"route_prep/pkg/geo"
	osmparser "route_prep/pkg/osm"
	"route_prep/pkg/storage"
)

func main() {
	input := flag.String("input", "", "Path to .osm.pbf file")
	output := flag.String("output", "map.osrm", "Output prefix; writes <prefix> and <prefix>.restrictions")
	bbox := flag.String("bbox", "", "Bounding box filter: minLat,minLng,maxLat,maxLng")
	flag.Parse()

	if *input == "" {
		fmt.Fprintln(os.Stderr, "Usage: extract --input <file.osm.pbf> [--output map.osrm] [--bbox minLat,minLng,maxLat,maxLng]")
		os.Exit(1)
	}

	var opts osmparser.ParseOptions
	if *bbox != "" {
		var minLat, minLng, maxLat, maxLng float64
		if _, err := fmt.Sscanf(*bbox, "%f,%f,%f,%f", &minLat, &minLng, &maxLat, &maxLng); err != nil {
			log.Fatalf("Invalid bbox format (expected minLat,minLng,maxLat,maxLng): %v", err)
		}
		opts.Clip = &geo.BBox{
			MinLat: geo.FloatToFixed(minLat), MinLon: geo.FloatToFixed(minLng),
			MaxLat: geo.FloatToFixed(maxLat), MaxLon: geo.FloatToFixed(maxLng),
		}
		log.Printf("Using bounding box filter: lat [%.4f, %.4f], lng [%.4f, %.4f]", minLat, maxLat, minLng, maxLng)
	}

	start := time.Now()

	log.Println("Opening OSM file...")
	f, err := os.Open(*input)
	if err != nil {
		log.Fatalf("Failed to open input file: %v", err)
	}
	defer f.Close()

	log.Println("Parsing OSM data...")
	result, err := osmparser.Parse(context.Background(), f, opts)
	if err != nil {
		log.Fatalf("Failed to parse OSM data: %v", err)
	}
	log.Printf("Parsed %d nodes, %d edges, %d restrictions",
		len(result.Nodes), len(result.Edges), len(result.Restrictions))

	if err := storage.WriteGraphFile(*output, result.Nodes, result.Edges); err != nil {
		log.Fatalf("Failed to write graph file: %v", err)
	}
	if err := storage.WriteRestrictionsFile(*output+".restrictions", result.Restrictions); err != nil {
		log.Fatalf("Failed to write restrictions file: %v", err)
	}

	info, _ := os.Stat(*output)
	log.Printf("Done in %s. Output: %s (%.1f MB)",
		time.Since(start).Round(time.Second), *output, float64(info.Size())/(1024*1024))
}
