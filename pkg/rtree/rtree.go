// Package rtree bulk-loads a packed R-tree over edge-based nodes with a
// sort-tile-recursive layout. Internal levels are kept in RAM; leaves live
// in a paged file that queries read on demand.
package rtree

import (
	"math"
	"sort"

	"route_prep/pkg/expand"
	"route_prep/pkg/geo"
)

const (
	// LeafCapacity is the number of edge-based nodes per leaf page and the
	// branching factor of the internal levels.
	LeafCapacity = 128
	// LeafPageSize is the on-disk page size of the leaf file.
	LeafPageSize = 4096
)

// treeNode is one internal node. FirstChild indexes into the node array,
// or into the leaf file when LeafChildren is set; the ChildCount children
// are contiguous.
type treeNode struct {
	MinLat, MinLon int32
	MaxLat, MaxLon int32
	FirstChild     uint32
	ChildCount     uint16
	LeafChildren   uint8
}

func (n *treeNode) bbox() geo.BBox {
	return geo.BBox{MinLat: n.MinLat, MinLon: n.MinLon, MaxLat: n.MaxLat, MaxLon: n.MaxLon}
}

// item pairs an edge-based node with its bounding box and center during
// the bulk load.
type item struct {
	node      expand.EdgeBasedNode
	box       geo.BBox
	centerLat int32
	centerLon int32
}

// leaf is one packed leaf page prior to serialization.
type leaf struct {
	box   geo.BBox
	nodes []expand.EdgeBasedNode
}

func makeItem(n expand.EdgeBasedNode) item {
	box := geo.EmptyBBox()
	box.ExtendPoint(n.Lat1, n.Lon1)
	box.ExtendPoint(n.Lat2, n.Lon2)
	return item{node: n, box: box, centerLat: box.CenterLat(), centerLon: box.CenterLon()}
}

// packLeaves tiles the items into leaves: sort by longitude center, cut
// into vertical slabs of √(leafCount) leaves each, sort every slab by
// latitude center and chop into runs of LeafCapacity.
func packLeaves(nodes []expand.EdgeBasedNode) []leaf {
	items := make([]item, len(nodes))
	for i := range nodes {
		items[i] = makeItem(nodes[i])
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].centerLon != items[j].centerLon {
			return items[i].centerLon < items[j].centerLon
		}
		return items[i].node.ForwardEdgeBasedNodeID < items[j].node.ForwardEdgeBasedNodeID
	})

	leafCount := (len(items) + LeafCapacity - 1) / LeafCapacity
	slabs := int(math.Ceil(math.Sqrt(float64(leafCount))))
	if slabs < 1 {
		slabs = 1
	}
	slabSize := slabs * LeafCapacity

	var leaves []leaf
	for lo := 0; lo < len(items); lo += slabSize {
		hi := lo + slabSize
		if hi > len(items) {
			hi = len(items)
		}
		slab := items[lo:hi]
		sort.SliceStable(slab, func(i, j int) bool {
			if slab[i].centerLat != slab[j].centerLat {
				return slab[i].centerLat < slab[j].centerLat
			}
			return slab[i].node.ForwardEdgeBasedNodeID < slab[j].node.ForwardEdgeBasedNodeID
		})
		for l := 0; l < len(slab); l += LeafCapacity {
			h := l + LeafCapacity
			if h > len(slab) {
				h = len(slab)
			}
			lf := leaf{box: geo.EmptyBBox()}
			for _, it := range slab[l:h] {
				lf.box.Extend(it.box)
				lf.nodes = append(lf.nodes, it.node)
			}
			leaves = append(leaves, lf)
		}
	}
	return leaves
}

// buildLevels packs the internal levels bottom-up over the leaf boxes and
// returns the flat node array with the root at index 0.
func buildLevels(leaves []leaf) []treeNode {
	// Lowest internal level points at leaf pages.
	var levels [][]treeNode
	level := make([]treeNode, 0, (len(leaves)+LeafCapacity-1)/LeafCapacity)
	for lo := 0; lo < len(leaves); lo += LeafCapacity {
		hi := lo + LeafCapacity
		if hi > len(leaves) {
			hi = len(leaves)
		}
		box := geo.EmptyBBox()
		for i := lo; i < hi; i++ {
			box.Extend(leaves[i].box)
		}
		level = append(level, treeNode{
			MinLat: box.MinLat, MinLon: box.MinLon,
			MaxLat: box.MaxLat, MaxLon: box.MaxLon,
			FirstChild:   uint32(lo),
			ChildCount:   uint16(hi - lo),
			LeafChildren: 1,
		})
	}
	levels = append(levels, level)

	for len(levels[len(levels)-1]) > 1 {
		below := levels[len(levels)-1]
		next := make([]treeNode, 0, (len(below)+LeafCapacity-1)/LeafCapacity)
		for lo := 0; lo < len(below); lo += LeafCapacity {
			hi := lo + LeafCapacity
			if hi > len(below) {
				hi = len(below)
			}
			box := geo.EmptyBBox()
			for i := lo; i < hi; i++ {
				box.Extend(below[i].bbox())
			}
			next = append(next, treeNode{
				MinLat: box.MinLat, MinLon: box.MinLon,
				MaxLat: box.MaxLat, MaxLon: box.MaxLon,
				FirstChild: uint32(lo), // rebased below
				ChildCount: uint16(hi - lo),
			})
		}
		levels = append(levels, next)
	}

	// Flatten top-down and rebase child indices to absolute positions.
	pos := 0
	levelStart := make([]int, len(levels))
	for li := len(levels) - 1; li >= 0; li-- {
		levelStart[li] = pos
		pos += len(levels[li])
	}
	flat := make([]treeNode, pos)
	for li := len(levels) - 1; li >= 0; li-- {
		for i, n := range levels[li] {
			if n.LeafChildren == 0 {
				n.FirstChild += uint32(levelStart[li-1])
			}
			flat[levelStart[li]+i] = n
		}
	}
	return flat
}
