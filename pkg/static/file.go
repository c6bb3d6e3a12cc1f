package static

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"route_prep/pkg/contract"
	"route_prep/pkg/storage"
)

// ErrChecksumMismatch is returned when the query graph was built against a
// different edge-based node list than the one on disk.
var ErrChecksumMismatch = errors.New("query graph checksum mismatch")

// Edge flag bits in the hsgr edge record.
const (
	edgeFlagShortcut = 1 << 0
	edgeFlagForward  = 1 << 1
	edgeFlagBackward = 1 << 2
)

// edgeRecord is the on-disk layout of one static edge.
type edgeRecord struct {
	Target        uint32
	Distance      uint32
	ID            uint32
	OriginalEdges uint32
	Flags         uint8
}

// Header is the query-graph preamble, readable without touching the edge
// section.
type Header struct {
	Stamp     storage.BuildStamp
	Checksum  uint32
	NodeCount uint32 // includes the sentinel
	EdgeCount uint32 // follows the node array; LoadHeader leaves it zero
}

// Write serializes the query graph: stamp, edge-based node checksum, CSR
// node array with sentinel, then the edges.
func Write(path string, checksum uint32, g *Graph) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create query graph: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriterSize(f, 1<<20)

	if err := storage.WriteStamp(w); err != nil {
		return fmt.Errorf("write stamp: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, checksum); err != nil {
		return fmt.Errorf("write checksum: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(g.Nodes))); err != nil {
		return fmt.Errorf("write node count: %w", err)
	}
	for i := range g.Nodes {
		if err := binary.Write(w, binary.LittleEndian, g.Nodes[i].FirstEdge); err != nil {
			return fmt.Errorf("write node %d: %w", i, err)
		}
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(g.Edges))); err != nil {
		return fmt.Errorf("write edge count: %w", err)
	}
	for i := range g.Edges {
		e := &g.Edges[i]
		var flags uint8
		if e.Data.Shortcut {
			flags |= edgeFlagShortcut
		}
		if e.Data.Forward {
			flags |= edgeFlagForward
		}
		if e.Data.Backward {
			flags |= edgeFlagBackward
		}
		rec := edgeRecord{
			Target:        e.Target,
			Distance:      uint32(e.Data.Distance),
			ID:            e.Data.ID,
			OriginalEdges: e.Data.OriginalEdges,
			Flags:         flags,
		}
		if err := binary.Write(w, binary.LittleEndian, &rec); err != nil {
			return fmt.Errorf("write edge %d: %w", i, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush query graph: %w", err)
	}
	return f.Close()
}

// LoadHeader reads only the preamble; consumers use it to reject drifted
// artifacts before paying for the edge section.
func LoadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open query graph: %w", err)
	}
	defer f.Close()
	return readHeader(bufio.NewReader(f), path)
}

func readHeader(r *bufio.Reader, path string) (*Header, error) {
	var h Header
	stamp, err := storage.ReadStamp(r)
	if err != nil {
		return nil, fmt.Errorf("read stamp: %w", err)
	}
	if !storage.CurrentStamp().TestPrepare(stamp) {
		return nil, fmt.Errorf("query graph %s was prepared with an incompatible build", path)
	}
	h.Stamp = stamp
	if err := binary.Read(r, binary.LittleEndian, &h.Checksum); err != nil {
		return nil, fmt.Errorf("read checksum: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &h.NodeCount); err != nil {
		return nil, fmt.Errorf("read node count: %w", err)
	}
	return &h, nil
}

// Load reads a query graph back into memory. If expectedChecksum is
// non-zero and differs from the stored one, loading fails with
// ErrChecksumMismatch before the edge section is read.
func Load(path string, expectedChecksum uint32) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open query graph: %w", err)
	}
	defer f.Close()
	r := bufio.NewReaderSize(f, 1<<20)

	h, err := readHeader(r, path)
	if err != nil {
		return nil, err
	}
	if expectedChecksum != 0 && h.Checksum != expectedChecksum {
		return nil, fmt.Errorf("%w: stored %08x, edge-based nodes %08x",
			ErrChecksumMismatch, h.Checksum, expectedChecksum)
	}
	if h.NodeCount == 0 {
		return nil, fmt.Errorf("query graph has no nodes")
	}

	g := &Graph{NumNodes: h.NodeCount - 1, Checksum: h.Checksum}
	g.Nodes = make([]Node, h.NodeCount)
	for i := range g.Nodes {
		if err := binary.Read(r, binary.LittleEndian, &g.Nodes[i].FirstEdge); err != nil {
			return nil, fmt.Errorf("read node %d: %w", i, err)
		}
	}
	if err := binary.Read(r, binary.LittleEndian, &h.EdgeCount); err != nil {
		return nil, fmt.Errorf("read edge count: %w", err)
	}
	g.Edges = make([]Edge, h.EdgeCount)
	for i := range g.Edges {
		var rec edgeRecord
		if err := binary.Read(r, binary.LittleEndian, &rec); err != nil {
			return nil, fmt.Errorf("read edge %d: %w", i, err)
		}
		g.Edges[i] = Edge{
			Target: rec.Target,
			Data: contract.EdgeData{
				Distance:      int32(rec.Distance),
				ID:            rec.ID,
				OriginalEdges: rec.OriginalEdges,
				Shortcut:      rec.Flags&edgeFlagShortcut != 0,
				Forward:       rec.Flags&edgeFlagForward != 0,
				Backward:      rec.Flags&edgeFlagBackward != 0,
			},
		}
	}
	if err := g.validate(); err != nil {
		return nil, err
	}
	return g, nil
}
