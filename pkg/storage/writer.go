package storage

import (
	"fmt"
)

// WriteGraphFile writes a node-based input graph in the .osrm layout.
// Used by the extractor and by test fixtures; the preprocessing pipeline
// itself only reads this format.
func WriteGraphFile(path string, nodes []NodeInfo, edges []ImportEdge) error {
	out, err := createAtomic(path)
	if err != nil {
		return err
	}

	if err := writeLE(out, uint64(len(nodes))); err != nil {
		out.Abort()
		return fmt.Errorf("write node count: %w", err)
	}
	for i := range nodes {
		rec := nodes[i].record()
		if err := writeLE(out, &rec); err != nil {
			out.Abort()
			return fmt.Errorf("write node %d: %w", i, err)
		}
	}
	if err := writeLE(out, uint64(len(edges))); err != nil {
		out.Abort()
		return fmt.Errorf("write edge count: %w", err)
	}
	for i := range edges {
		if err := writeLE(out, &edges[i]); err != nil {
			out.Abort()
			return fmt.Errorf("write edge %d: %w", i, err)
		}
	}
	return out.Commit()
}

// WriteRestrictionsFile writes a stamped .restrictions file.
func WriteRestrictionsFile(path string, restrictions []TurnRestriction) error {
	out, err := createAtomic(path)
	if err != nil {
		return err
	}
	if err := WriteStamp(out); err != nil {
		out.Abort()
		return fmt.Errorf("write stamp: %w", err)
	}
	if err := writeLE(out, uint32(len(restrictions))); err != nil {
		out.Abort()
		return fmt.Errorf("write restriction count: %w", err)
	}
	for i := range restrictions {
		rec := restrictions[i].record()
		if err := writeLE(out, &rec); err != nil {
			out.Abort()
			return fmt.Errorf("write restriction %d: %w", i, err)
		}
	}
	return out.Commit()
}

// WriteNodeInfoFile writes the stamped .nodes artifact mapping internal
// node ids back to external ids and coordinates.
func WriteNodeInfoFile(path string, nodes []NodeInfo) error {
	out, err := createAtomic(path)
	if err != nil {
		return err
	}
	if err := WriteStamp(out); err != nil {
		out.Abort()
		return fmt.Errorf("write stamp: %w", err)
	}
	if err := writeLE(out, uint64(len(nodes))); err != nil {
		out.Abort()
		return fmt.Errorf("write node count: %w", err)
	}
	for i := range nodes {
		rec := nodes[i].record()
		if err := writeLE(out, &rec); err != nil {
			out.Abort()
			return fmt.Errorf("write node %d: %w", i, err)
		}
	}
	return out.Commit()
}
