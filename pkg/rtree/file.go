package rtree

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"route_prep/pkg/expand"
	"route_prep/pkg/storage"
)

// ErrEmptyTree is returned when building over an empty node list.
var ErrEmptyTree = errors.New("cannot build spatial index over zero nodes")

// Build bulk-loads the tree and writes both artifacts: the internal
// levels to ramPath, the leaf pages to filePath.
func Build(nodes []expand.EdgeBasedNode, ramPath, filePath string) error {
	if len(nodes) == 0 {
		return ErrEmptyTree
	}
	leaves := packLeaves(nodes)
	flat := buildLevels(leaves)

	if err := writeRAMIndex(ramPath, flat); err != nil {
		return err
	}
	return writeLeafFile(filePath, leaves)
}

func writeRAMIndex(path string, flat []treeNode) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create ram index: %w", err)
	}
	defer f.Close()

	if err := storage.WriteStamp(f); err != nil {
		return fmt.Errorf("write stamp: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(len(flat))); err != nil {
		return fmt.Errorf("write node count: %w", err)
	}
	for i := range flat {
		if err := binary.Write(f, binary.LittleEndian, &flat[i]); err != nil {
			return fmt.Errorf("write tree node %d: %w", i, err)
		}
	}
	return f.Close()
}

func writeLeafFile(path string, leaves []leaf) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create leaf file: %w", err)
	}
	defer f.Close()

	if err := storage.WriteStamp(f); err != nil {
		return fmt.Errorf("write stamp: %w", err)
	}

	var page bytes.Buffer
	for i := range leaves {
		page.Reset()
		if err := binary.Write(&page, binary.LittleEndian, uint32(len(leaves[i].nodes))); err != nil {
			return fmt.Errorf("write leaf %d count: %w", i, err)
		}
		for _, n := range leaves[i].nodes {
			if err := expand.EncodeNodeRecord(&page, n); err != nil {
				return fmt.Errorf("write leaf %d record: %w", i, err)
			}
		}
		if page.Len() > LeafPageSize {
			return fmt.Errorf("leaf %d overflows page size: %d bytes", i, page.Len())
		}
		buf := make([]byte, LeafPageSize)
		copy(buf, page.Bytes())
		if _, err := f.Write(buf); err != nil {
			return fmt.Errorf("write leaf %d page: %w", i, err)
		}
	}
	return f.Close()
}

// Tree is an opened spatial index: internal levels in memory, leaves read
// from disk per query.
type Tree struct {
	nodes    []treeNode
	leafFile *os.File
}

// Open loads the internal levels and keeps the leaf file open for paged
// reads.
func Open(ramPath, filePath string) (*Tree, error) {
	f, err := os.Open(ramPath)
	if err != nil {
		return nil, fmt.Errorf("open ram index: %w", err)
	}
	defer f.Close()

	stamp, err := storage.ReadStamp(f)
	if err != nil {
		return nil, fmt.Errorf("read ram index stamp: %w", err)
	}
	if !storage.CurrentStamp().TestPrepare(stamp) {
		return nil, fmt.Errorf("ram index %s was prepared with an incompatible build", ramPath)
	}

	var count uint32
	if err := binary.Read(f, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read tree node count: %w", err)
	}
	nodes := make([]treeNode, count)
	for i := range nodes {
		if err := binary.Read(f, binary.LittleEndian, &nodes[i]); err != nil {
			return nil, fmt.Errorf("read tree node %d: %w", i, err)
		}
	}

	lf, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open leaf file: %w", err)
	}
	lstamp, err := storage.ReadStamp(lf)
	if err != nil {
		lf.Close()
		return nil, fmt.Errorf("read leaf file stamp: %w", err)
	}
	if !storage.CurrentStamp().TestPrepare(lstamp) {
		lf.Close()
		return nil, fmt.Errorf("leaf file %s was prepared with an incompatible build", filePath)
	}

	return &Tree{nodes: nodes, leafFile: lf}, nil
}

// Close releases the leaf file handle.
func (t *Tree) Close() error {
	if t.leafFile != nil {
		err := t.leafFile.Close()
		t.leafFile = nil
		return err
	}
	return nil
}

// readLeaf loads one leaf page from disk.
func (t *Tree) readLeaf(page uint32) ([]expand.EdgeBasedNode, error) {
	buf := make([]byte, LeafPageSize)
	off := int64(16) + int64(page)*LeafPageSize
	if _, err := t.leafFile.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("read leaf page %d: %w", page, err)
	}
	r := bytes.NewReader(buf)
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("decode leaf page %d: %w", page, err)
	}
	if count > LeafCapacity {
		return nil, fmt.Errorf("leaf page %d claims %d records", page, count)
	}
	nodes := make([]expand.EdgeBasedNode, count)
	for i := range nodes {
		n, err := expand.DecodeNodeRecord(r)
		if err != nil {
			return nil, fmt.Errorf("decode leaf page %d record %d: %w", page, i, err)
		}
		nodes[i] = n
	}
	return nodes, nil
}
