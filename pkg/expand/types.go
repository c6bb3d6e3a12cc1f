// Package expand builds the edge-expanded graph: directed road segments
// become edge-based nodes, and the legal turns between them become
// edge-based edges.
package expand

import (
	"route_prep/pkg/storage"
)

// InvalidEdgeBasedNode marks a missing reverse direction on a one-way
// segment.
const InvalidEdgeBasedNode = ^uint32(0)

// EdgeBasedNode is one directed segment of the node-based graph. Its two
// endpoints define the bounding box used by the spatial index.
type EdgeBasedNode struct {
	ForwardEdgeBasedNodeID uint32
	ReverseEdgeBasedNodeID uint32
	NameID                 uint32
	Lat1, Lon1             int32
	Lat2, Lon2             int32
	BelongsToTinyCC        bool
	IgnoreInGrid           bool
}

// Edge-based node flag bits in the binary record.
const (
	ebnFlagTinyCC       = 1 << 0
	ebnFlagIgnoreInGrid = 1 << 1
)

// EdgeBasedNodeRecordSize is the on-disk size of one node record, shared
// with the R-tree leaf file.
const EdgeBasedNodeRecordSize = 29

// edgeBasedNodeRecord is the on-disk layout of an EdgeBasedNode.
type edgeBasedNodeRecord struct {
	ForwardEdgeBasedNodeID uint32
	ReverseEdgeBasedNodeID uint32
	NameID                 uint32
	Lat1, Lon1             int32
	Lat2, Lon2             int32
	Flags                  uint8
}

func (n EdgeBasedNode) record() edgeBasedNodeRecord {
	var flags uint8
	if n.BelongsToTinyCC {
		flags |= ebnFlagTinyCC
	}
	if n.IgnoreInGrid {
		flags |= ebnFlagIgnoreInGrid
	}
	return edgeBasedNodeRecord{
		ForwardEdgeBasedNodeID: n.ForwardEdgeBasedNodeID,
		ReverseEdgeBasedNodeID: n.ReverseEdgeBasedNodeID,
		NameID:                 n.NameID,
		Lat1:                   n.Lat1, Lon1: n.Lon1,
		Lat2: n.Lat2, Lon2: n.Lon2,
		Flags: flags,
	}
}

func (r edgeBasedNodeRecord) node() EdgeBasedNode {
	return EdgeBasedNode{
		ForwardEdgeBasedNodeID: r.ForwardEdgeBasedNodeID,
		ReverseEdgeBasedNodeID: r.ReverseEdgeBasedNodeID,
		NameID:                 r.NameID,
		Lat1:                   r.Lat1, Lon1: r.Lon1,
		Lat2: r.Lat2, Lon2: r.Lon2,
		BelongsToTinyCC: r.Flags&ebnFlagTinyCC != 0,
		IgnoreInGrid:    r.Flags&ebnFlagIgnoreInGrid != 0,
	}
}

// EdgeBasedEdge is one legal turn: it connects the edge-based node of the
// segment entering an intersection to the edge-based node of the segment
// leaving it. Weight is in deci-seconds and carries the incoming segment's
// duration plus all turn penalties.
type EdgeBasedEdge struct {
	Source   uint32
	Target   uint32
	EdgeID   uint32
	Weight   int32
	Forward  bool
	Backward bool
}

// TurnData is the per-turn auxiliary record the query engine reads from
// the .edges artifact alongside the node list.
type TurnData struct {
	ViaNode  storage.NodeID
	NameID   uint32
	AngleIn  int16
	AngleOut int16
}

// directedEdge is one direction of an import edge, the unit the expansion
// works on.
type directedEdge struct {
	source, target storage.NodeID
	ebNode         uint32
	reverseEbNode  uint32
	duration       int32
	nameID         uint32
	ignoreInGrid   bool
}
