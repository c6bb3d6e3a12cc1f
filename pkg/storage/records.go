// Package storage defines the binary records shared by the pipeline
// stages and reads and writes the stamped artifact files, including the
// temp-file registry for intermediate edge lists.
package storage

// NodeID identifies a node-based node. IDs are dense in [0, nodeCount).
type NodeID = uint32

// InvalidNodeID marks a missing node reference.
const InvalidNodeID NodeID = ^NodeID(0)

// NodeInfo maps an internal node back to its external identity and
// position. The flags mark nodes that alter turn expansion.
type NodeInfo struct {
	ExternalID     uint64
	Lat            int32 // fixed-point, 1e-5 degrees
	Lon            int32
	IsBollard      bool
	IsTrafficLight bool
}

// Node flag bits in the binary node record.
const (
	nodeFlagBollard      = 1 << 0
	nodeFlagTrafficLight = 1 << 1
)

// nodeRecord is the on-disk layout of one node in the .osrm input and the
// .nodes output.
type nodeRecord struct {
	Lat        int32
	Lon        int32
	ExternalID uint64
	Flags      uint8
}

func (n NodeInfo) record() nodeRecord {
	var flags uint8
	if n.IsBollard {
		flags |= nodeFlagBollard
	}
	if n.IsTrafficLight {
		flags |= nodeFlagTrafficLight
	}
	return nodeRecord{Lat: n.Lat, Lon: n.Lon, ExternalID: n.ExternalID, Flags: flags}
}

func (r nodeRecord) info() NodeInfo {
	return NodeInfo{
		ExternalID:     r.ExternalID,
		Lat:            r.Lat,
		Lon:            r.Lon,
		IsBollard:      r.Flags&nodeFlagBollard != 0,
		IsTrafficLight: r.Flags&nodeFlagTrafficLight != 0,
	}
}

// ImportEdge is one node-based input edge. At least one of Forward and
// Backward is set. Distance is in meters; Speed in km/h, with Speed <= 0
// meaning Distance already carries a deci-second duration.
type ImportEdge struct {
	Source       NodeID
	Target       NodeID
	Distance     uint32
	Forward      bool
	Backward     bool
	NameID       uint32
	Type         uint8
	IsRoundabout bool
	IgnoreInGrid bool
	Speed        int16
}

// Duration returns the deci-second travel time along the edge.
func (e ImportEdge) Duration() int32 {
	if e.Speed <= 0 {
		return int32(e.Distance)
	}
	// meters at km/h: t[ds] = m / (kmh/3.6) * 10 = m*36/kmh
	return int32(uint64(e.Distance) * 36 / uint64(e.Speed))
}

// TurnRestriction forbids a turn at ViaNode. From and To name the far
// endpoints of the adjacent segments, so (FromNode, ViaNode) and
// (ViaNode, ToNode) must be edges of the input graph. An only-restriction
// forbids every turn at ViaNode out of (FromNode, ViaNode) except the one
// onto (ViaNode, ToNode).
type TurnRestriction struct {
	ViaNode  NodeID
	FromNode NodeID
	ToNode   NodeID
	IsOnly   bool
}

// restrictionRecord is the on-disk layout in the .restrictions file.
type restrictionRecord struct {
	ViaNode  uint32
	FromNode uint32
	ToNode   uint32
	Flags    uint8
}

const restrictionFlagOnly = 1 << 0

func (r TurnRestriction) record() restrictionRecord {
	var flags uint8
	if r.IsOnly {
		flags |= restrictionFlagOnly
	}
	return restrictionRecord{ViaNode: r.ViaNode, FromNode: r.FromNode, ToNode: r.ToNode, Flags: flags}
}

func (r restrictionRecord) restriction() TurnRestriction {
	return TurnRestriction{
		ViaNode:  r.ViaNode,
		FromNode: r.FromNode,
		ToNode:   r.ToNode,
		IsOnly:   r.Flags&restrictionFlagOnly != 0,
	}
}
