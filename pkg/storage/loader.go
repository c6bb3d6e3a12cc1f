package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"route_prep/pkg/geo"
)

// ErrEmptyGraph is returned when an input file contains no usable edges.
var ErrEmptyGraph = errors.New("input graph has no usable edges")

// maxNodes and maxEdges bound header counts against corrupt files.
const (
	maxNodes = 200_000_000
	maxEdges = 500_000_000
)

// GraphData is the in-memory form of a .osrm input file.
type GraphData struct {
	NodeCount         uint32
	Nodes             []NodeInfo
	Edges             []ImportEdge
	BollardNodes      []NodeID
	TrafficLightNodes []NodeID
	SkippedRecords    int
}

// LoadGraphFile reads the node-based input graph. Edges with out-of-range
// node references or no direction flag are skipped and counted. Nodes with
// invalid coordinates or duplicate external ids are counted but kept, so
// node ids stay dense; an invalid coordinate is reset to (0, 0).
// Truncated files are fatal.
func LoadGraphFile(path string) (*GraphData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open graph file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReaderSize(f, 1<<20)

	var nodeCount uint64
	if err := readLE(r, &nodeCount); err != nil {
		return nil, fmt.Errorf("read node count: %w", err)
	}
	if nodeCount > maxNodes {
		return nil, fmt.Errorf("node count %d exceeds limit %d", nodeCount, maxNodes)
	}

	data := &GraphData{
		NodeCount: uint32(nodeCount),
		Nodes:     make([]NodeInfo, 0, nodeCount),
	}
	seen := make(map[uint64]struct{}, nodeCount)
	for i := uint64(0); i < nodeCount; i++ {
		var rec nodeRecord
		if err := readLE(r, &rec); err != nil {
			return nil, fmt.Errorf("read node %d: %w", i, err)
		}
		info := rec.info()
		if !geo.ValidCoordinate(info.Lat, info.Lon) {
			log.Printf("node %d has out-of-range coordinate (%d, %d)", i, info.Lat, info.Lon)
			data.SkippedRecords++
			info.Lat, info.Lon = 0, 0
		}
		if _, dup := seen[info.ExternalID]; dup {
			log.Printf("duplicate external node id %d at position %d", info.ExternalID, i)
			data.SkippedRecords++
		}
		seen[info.ExternalID] = struct{}{}
		data.Nodes = append(data.Nodes, info)
		if info.IsBollard {
			data.BollardNodes = append(data.BollardNodes, NodeID(i))
		}
		if info.IsTrafficLight {
			data.TrafficLightNodes = append(data.TrafficLightNodes, NodeID(i))
		}
	}

	var edgeCount uint64
	if err := readLE(r, &edgeCount); err != nil {
		return nil, fmt.Errorf("read edge count: %w", err)
	}
	if edgeCount > maxEdges {
		return nil, fmt.Errorf("edge count %d exceeds limit %d", edgeCount, maxEdges)
	}

	data.Edges = make([]ImportEdge, 0, edgeCount)
	for i := uint64(0); i < edgeCount; i++ {
		var e ImportEdge
		if err := readLE(r, &e); err != nil {
			return nil, fmt.Errorf("read edge %d: %w", i, err)
		}
		if e.Source >= data.NodeCount || e.Target >= data.NodeCount {
			log.Printf("edge %d references unknown node (%d -> %d)", i, e.Source, e.Target)
			data.SkippedRecords++
			continue
		}
		if !e.Forward && !e.Backward {
			log.Printf("edge %d has no direction flag", i)
			data.SkippedRecords++
			continue
		}
		data.Edges = append(data.Edges, e)
	}

	if data.SkippedRecords > 0 {
		log.Printf("skipped %d inconsistent input records", data.SkippedRecords)
	}
	if len(data.Edges) == 0 {
		return nil, ErrEmptyGraph
	}
	return data, nil
}

// LoadRestrictionsFile reads the .restrictions input. A stamp from a
// different build only warrants a warning; the records still load.
func LoadRestrictionsFile(path string) ([]TurnRestriction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open restrictions file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	stamp, err := ReadStamp(r)
	if err != nil {
		return nil, fmt.Errorf("read restrictions stamp: %w", err)
	}
	if !CurrentStamp().TestPrepare(stamp) {
		log.Printf("%s was prepared with a different build. Reprocess to get rid of this warning.", path)
	}

	var count uint32
	if err := readLE(r, &count); err != nil {
		return nil, fmt.Errorf("read restriction count: %w", err)
	}

	restrictions := make([]TurnRestriction, 0, count)
	for i := uint32(0); i < count; i++ {
		var rec restrictionRecord
		if err := readLE(r, &rec); err != nil {
			return nil, fmt.Errorf("read restriction %d: %w", i, err)
		}
		restrictions = append(restrictions, rec.restriction())
	}
	return restrictions, nil
}

// LoadNodeInfoFile reads a .nodes artifact back into memory.
func LoadNodeInfoFile(path string) ([]NodeInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open nodes file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReaderSize(f, 1<<20)

	stamp, err := ReadStamp(r)
	if err != nil {
		return nil, fmt.Errorf("read nodes stamp: %w", err)
	}
	if !CurrentStamp().TestPrepare(stamp) {
		return nil, fmt.Errorf("nodes file %s was prepared with an incompatible build", path)
	}

	var count uint64
	if err := readLE(r, &count); err != nil {
		return nil, fmt.Errorf("read node count: %w", err)
	}
	if count > maxNodes {
		return nil, fmt.Errorf("node count %d exceeds limit %d", count, maxNodes)
	}
	nodes := make([]NodeInfo, 0, count)
	for i := uint64(0); i < count; i++ {
		var rec nodeRecord
		if err := readLE(r, &rec); err != nil {
			if err == io.ErrUnexpectedEOF || err == io.EOF {
				return nil, fmt.Errorf("nodes file truncated at record %d", i)
			}
			return nil, fmt.Errorf("read node %d: %w", i, err)
		}
		nodes = append(nodes, rec.info())
	}
	return nodes, nil
}
