package expand

import "route_prep/pkg/storage"

// tinyComponentThreshold is the node count below which a weakly connected
// component is considered unroutable noise: its segments are flagged so
// the nearest-neighbor query can prefer the main network.
const tinyComponentThreshold = 1000

// unionFind implements a disjoint-set structure with path halving and
// union by rank.
type unionFind struct {
	parent []uint32
	rank   []byte
	size   []uint32
}

func newUnionFind(n uint32) *unionFind {
	parent := make([]uint32, n)
	size := make([]uint32, n)
	for i := uint32(0); i < n; i++ {
		parent[i] = i
		size[i] = 1
	}
	return &unionFind{
		parent: parent,
		rank:   make([]byte, n),
		size:   size,
	}
}

func (uf *unionFind) find(x uint32) uint32 {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]] // path halving
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(x, y uint32) {
	rx := uf.find(x)
	ry := uf.find(y)
	if rx == ry {
		return
	}
	if uf.rank[rx] < uf.rank[ry] {
		rx, ry = ry, rx
	}
	uf.parent[ry] = rx
	uf.size[rx] += uf.size[ry]
	if uf.rank[rx] == uf.rank[ry] {
		uf.rank[rx]++
	}
}

// markTinyComponents returns, per node-based node, whether it belongs to a
// weakly connected component smaller than the threshold.
func markTinyComponents(nodeCount uint32, edges []storage.ImportEdge) []bool {
	uf := newUnionFind(nodeCount)
	for i := range edges {
		uf.union(edges[i].Source, edges[i].Target)
	}
	tiny := make([]bool, nodeCount)
	for i := uint32(0); i < nodeCount; i++ {
		tiny[i] = uf.size[uf.find(i)] < tinyComponentThreshold
	}
	return tiny
}
