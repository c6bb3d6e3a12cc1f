package expand

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"route_prep/pkg/storage"
)

// edgeRecordSize is the serialized size of one EdgeBasedEdge.
const edgeRecordSize = 18

// writeEdgeSlot streams the edge-based edges into a fresh temp slot so the
// expansion working set can be released before contraction re-reads them.
func writeEdgeSlot(tmp *storage.TempRegistry, edges []EdgeBasedEdge) (slot int, count int, err error) {
	slot, err = tmp.Allocate()
	if err != nil {
		return -1, 0, err
	}

	const batch = 1 << 14
	var buf bytes.Buffer
	for lo := 0; lo < len(edges); lo += batch {
		hi := lo + batch
		if hi > len(edges) {
			hi = len(edges)
		}
		buf.Reset()
		for i := lo; i < hi; i++ {
			if err := binary.Write(&buf, binary.LittleEndian, &edges[i]); err != nil {
				return -1, 0, fmt.Errorf("serialize edge %d: %w", i, err)
			}
		}
		if err := tmp.Write(slot, buf.Bytes()); err != nil {
			return -1, 0, err
		}
	}
	return slot, len(edges), nil
}

// LoadEdgeBasedEdges reads count edge-based edges back from a temp slot.
func LoadEdgeBasedEdges(tmp *storage.TempRegistry, slot int, count int) ([]EdgeBasedEdge, error) {
	raw := make([]byte, count*edgeRecordSize)
	if err := tmp.Read(slot, raw); err != nil {
		return nil, err
	}
	edges := make([]EdgeBasedEdge, count)
	r := bytes.NewReader(raw)
	for i := range edges {
		if err := binary.Read(r, binary.LittleEndian, &edges[i]); err != nil {
			return nil, fmt.Errorf("decode edge %d: %w", i, err)
		}
	}
	return edges, nil
}

// EncodeNodeRecord writes the on-disk form of one edge-based node; the
// R-tree leaf file shares this layout with the .edges artifact.
func EncodeNodeRecord(w io.Writer, n EdgeBasedNode) error {
	rec := n.record()
	return binary.Write(w, binary.LittleEndian, &rec)
}

// DecodeNodeRecord reads one edge-based node record.
func DecodeNodeRecord(r io.Reader) (EdgeBasedNode, error) {
	var rec edgeBasedNodeRecord
	if err := binary.Read(r, binary.LittleEndian, &rec); err != nil {
		return EdgeBasedNode{}, err
	}
	return rec.node(), nil
}

// serializeNodeRecords renders the edge-based node list into its on-disk
// byte sequence, the input of the query-graph checksum.
func serializeNodeRecords(nodes []EdgeBasedNode) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(nodes) * EdgeBasedNodeRecordSize)
	for i := range nodes {
		rec := nodes[i].record()
		if err := binary.Write(&buf, binary.LittleEndian, &rec); err != nil {
			return nil, fmt.Errorf("serialize edge-based node %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// NodeChecksum returns the CRC32 over the serialized edge-based node list.
func NodeChecksum(nodes []EdgeBasedNode) (uint32, error) {
	raw, err := serializeNodeRecords(nodes)
	if err != nil {
		return 0, err
	}
	return storage.Checksum(raw), nil
}

// WriteEdgesFile writes the .edges artifact: the stamped edge-based node
// list followed by the per-turn auxiliary records. It returns the CRC32
// over the node record bytes, which the query-graph header repeats so
// consumers can detect artifact drift.
func WriteEdgesFile(path string, nodes []EdgeBasedNode, turns []TurnData) (uint32, error) {
	raw, err := serializeNodeRecords(nodes)
	if err != nil {
		return 0, err
	}
	checksum := storage.Checksum(raw)

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create edges file: %w", err)
	}
	defer f.Close()

	if err := storage.WriteStamp(f); err != nil {
		return 0, fmt.Errorf("write stamp: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, uint64(len(nodes))); err != nil {
		return 0, fmt.Errorf("write node count: %w", err)
	}
	if _, err := f.Write(raw); err != nil {
		return 0, fmt.Errorf("write node records: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, uint64(len(turns))); err != nil {
		return 0, fmt.Errorf("write turn count: %w", err)
	}
	for i := range turns {
		if err := binary.Write(f, binary.LittleEndian, &turns[i]); err != nil {
			return 0, fmt.Errorf("write turn %d: %w", i, err)
		}
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close edges file: %w", err)
	}
	return checksum, nil
}

// LoadEdgeBasedNodes reads the node list back from a .edges artifact and
// recomputes its checksum.
func LoadEdgeBasedNodes(path string) ([]EdgeBasedNode, uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open edges file: %w", err)
	}
	defer f.Close()

	stamp, err := storage.ReadStamp(f)
	if err != nil {
		return nil, 0, fmt.Errorf("read edges stamp: %w", err)
	}
	if !storage.CurrentStamp().TestPrepare(stamp) {
		return nil, 0, fmt.Errorf("edges file %s was prepared with an incompatible build", path)
	}

	var count uint64
	if err := binary.Read(f, binary.LittleEndian, &count); err != nil {
		return nil, 0, fmt.Errorf("read node count: %w", err)
	}
	raw := make([]byte, count*EdgeBasedNodeRecordSize)
	if _, err := io.ReadFull(f, raw); err != nil {
		return nil, 0, fmt.Errorf("read node records: %w", err)
	}

	nodes := make([]EdgeBasedNode, count)
	r := bytes.NewReader(raw)
	for i := range nodes {
		var rec edgeBasedNodeRecord
		if err := binary.Read(r, binary.LittleEndian, &rec); err != nil {
			return nil, 0, fmt.Errorf("decode edge-based node %d: %w", i, err)
		}
		nodes[i] = rec.node()
	}
	return nodes, storage.Checksum(raw), nil
}
