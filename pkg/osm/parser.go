// Package osm turns an OpenStreetMap PBF extract into the binary
// node-based graph and restriction list the preprocessing pipeline
// consumes.
package osm

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"

	"route_prep/pkg/geo"
	"route_prep/pkg/storage"
)

// wayClass describes how a drivable highway class enters the routing
// graph: its compact type id for the ImportEdge record, the default speed
// in km/h, and whether the class itself implies one-way travel.
type wayClass struct {
	id     uint8
	speed  int16
	oneway bool
}

var wayClasses = map[string]wayClass{
	"motorway":       {id: 1, speed: 90, oneway: true},
	"motorway_link":  {id: 2, speed: 45, oneway: true},
	"trunk":          {id: 3, speed: 85},
	"trunk_link":     {id: 4, speed: 40},
	"primary":        {id: 5, speed: 65},
	"primary_link":   {id: 6, speed: 30},
	"secondary":      {id: 7, speed: 55},
	"secondary_link": {id: 8, speed: 25},
	"tertiary":       {id: 9, speed: 40},
	"tertiary_link":  {id: 10, speed: 20},
	"unclassified":   {id: 11, speed: 25},
	"residential":    {id: 12, speed: 25},
	"living_street":  {id: 13, speed: 10},
	"service":        {id: 14, speed: 15},
}

// onewayValues maps explicit oneway tag values onto (forward, backward).
// A tag listed here overrides whatever the class or junction implies.
var onewayValues = map[string][2]bool{
	"yes":        {true, false},
	"true":       {true, false},
	"1":          {true, false},
	"-1":         {false, true},
	"reverse":    {false, true},
	"no":         {true, true},
	"reversible": {false, false},
}

// classifyWay decides whether a way carries car traffic and in which
// directions. ok is false for ways the graph must not contain, including
// reversible lanes whose direction depends on the time of day.
func classifyWay(tags osm.Tags) (cls wayClass, forward, backward, ok bool) {
	cls, ok = wayClasses[tags.Find("highway")]
	if !ok {
		return wayClass{}, false, false, false
	}
	switch {
	case tags.Find("area") == "yes":
		// Mapped as a plaza outline, not a carriageway.
		ok = false
	case tags.Find("access") == "no", tags.Find("access") == "private":
		ok = false
	case tags.Find("motor_vehicle") == "no":
		ok = false
	}
	if !ok {
		return wayClass{}, false, false, false
	}

	if dir, tagged := onewayValues[tags.Find("oneway")]; tagged {
		forward, backward = dir[0], dir[1]
	} else {
		forward = true
		backward = !cls.oneway && tags.Find("junction") != "roundabout"
	}
	if !forward && !backward {
		return wayClass{}, false, false, false
	}
	return cls, forward, backward, true
}

// wayInfo holds one accepted way.
type wayInfo struct {
	ID           osm.WayID
	NodeIDs      []osm.NodeID
	Forward      bool
	Backward     bool
	Speed        int16
	Type         uint8
	NameID       uint32
	IsRoundabout bool
}

// rawRestriction is an unresolved turn restriction relation.
type rawRestriction struct {
	FromWay osm.WayID
	ViaNode osm.NodeID
	ToWay   osm.WayID
	IsOnly  bool
}

// ParseOptions configures the parser. Clip, when set, drops segments with
// an endpoint outside the box.
type ParseOptions struct {
	Clip *geo.BBox
}

// ParseResult is the extracted node-based graph in pipeline form.
type ParseResult struct {
	Nodes        []storage.NodeInfo
	Edges        []storage.ImportEdge
	Restrictions []storage.TurnRestriction
	Names        []string
}

type nodeAttrs struct {
	lat, lon float64
	bollard  bool
	signal   bool
}

// Parse reads an OSM PBF file twice: ways and restriction relations
// first, then coordinates and node tags for the nodes those ways
// referenced. The reader must implement io.ReadSeeker.
func Parse(ctx context.Context, rs io.ReadSeeker, opts ParseOptions) (*ParseResult, error) {
	// First scan: ways and restriction relations.
	needed := make(map[osm.NodeID]struct{})
	var ways []wayInfo
	wayIndex := make(map[osm.WayID]int)
	var rawRestrictions []rawRestriction
	names := []string{""}
	nameIDs := map[string]uint32{"": 0}

	scanner := osmpbf.New(ctx, rs, 1)
	scanner.SkipNodes = true

	for scanner.Scan() {
		switch obj := scanner.Object().(type) {
		case *osm.Way:
			cls, fwd, bwd, ok := classifyWay(obj.Tags)
			if !ok || len(obj.Nodes) < 2 {
				continue
			}
			nodeIDs := make([]osm.NodeID, len(obj.Nodes))
			for i, wn := range obj.Nodes {
				nodeIDs[i] = wn.ID
				needed[wn.ID] = struct{}{}
			}
			name := obj.Tags.Find("name")
			nameID, known := nameIDs[name]
			if !known {
				nameID = uint32(len(names))
				nameIDs[name] = nameID
				names = append(names, name)
			}
			wayIndex[obj.ID] = len(ways)
			ways = append(ways, wayInfo{
				ID:           obj.ID,
				NodeIDs:      nodeIDs,
				Forward:      fwd,
				Backward:     bwd,
				Speed:        cls.speed,
				Type:         cls.id,
				NameID:       nameID,
				IsRoundabout: obj.Tags.Find("junction") == "roundabout",
			})
		case *osm.Relation:
			if obj.Tags.Find("type") != "restriction" {
				continue
			}
			restriction := obj.Tags.Find("restriction")
			var only bool
			switch {
			case len(restriction) > 5 && restriction[:5] == "only_":
				only = true
			case len(restriction) > 3 && restriction[:3] == "no_":
				only = false
			default:
				continue
			}
			var raw rawRestriction
			raw.IsOnly = only
			valid := true
			for _, m := range obj.Members {
				switch m.Role {
				case "from":
					if m.Type != osm.TypeWay {
						valid = false
					}
					raw.FromWay = osm.WayID(m.Ref)
				case "via":
					if m.Type != osm.TypeNode {
						valid = false // via-way restrictions are not modeled
					}
					raw.ViaNode = osm.NodeID(m.Ref)
				case "to":
					if m.Type != osm.TypeWay {
						valid = false
					}
					raw.ToWay = osm.WayID(m.Ref)
				}
			}
			if valid && raw.FromWay != 0 && raw.ToWay != 0 && raw.ViaNode != 0 {
				rawRestrictions = append(rawRestrictions, raw)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		scanner.Close()
		return nil, fmt.Errorf("way scan: %w", err)
	}
	scanner.Close()

	log.Printf("way scan: %d drivable ways, %d restriction relations, %d nodes referenced",
		len(ways), len(rawRestrictions), len(needed))

	// Second scan: coordinates plus barrier/signal tags, only for nodes a
	// kept way actually references.
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind for node scan: %w", err)
	}

	attrs := make(map[osm.NodeID]nodeAttrs, len(needed))

	scanner = osmpbf.New(ctx, rs, 1)
	scanner.SkipWays = true
	scanner.SkipRelations = true

	for scanner.Scan() {
		n, ok := scanner.Object().(*osm.Node)
		if !ok {
			continue
		}
		if _, want := needed[n.ID]; !want {
			continue
		}
		attrs[n.ID] = nodeAttrs{
			lat:     n.Lat,
			lon:     n.Lon,
			bollard: n.Tags.Find("barrier") == "bollard",
			signal:  n.Tags.Find("highway") == "traffic_signals",
		}
	}
	if err := scanner.Err(); err != nil {
		scanner.Close()
		return nil, fmt.Errorf("node scan: %w", err)
	}
	scanner.Close()

	log.Printf("node scan: located %d of %d referenced nodes", len(attrs), len(needed))

	return assemble(ways, rawRestrictions, wayIndex, attrs, opts.Clip, names)
}

// assemble renumbers nodes densely, splits ways into segment edges and
// resolves restriction relations onto segments.
func assemble(ways []wayInfo, rawRestrictions []rawRestriction, wayIndex map[osm.WayID]int,
	attrs map[osm.NodeID]nodeAttrs, clip *geo.BBox, names []string) (*ParseResult, error) {

	result := &ParseResult{Names: names}
	nodeSet := make(map[osm.NodeID]storage.NodeID)

	addNode := func(id osm.NodeID) storage.NodeID {
		if idx, ok := nodeSet[id]; ok {
			return idx
		}
		a := attrs[id]
		idx := storage.NodeID(len(result.Nodes))
		nodeSet[id] = idx
		result.Nodes = append(result.Nodes, storage.NodeInfo{
			ExternalID:     uint64(id),
			Lat:            geo.FloatToFixed(a.lat),
			Lon:            geo.FloatToFixed(a.lon),
			IsBollard:      a.bollard,
			IsTrafficLight: a.signal,
		})
		return idx
	}

	inside := func(a nodeAttrs) bool {
		return clip == nil || clip.Contains(geo.FloatToFixed(a.lat), geo.FloatToFixed(a.lon))
	}

	var skipped, clipped int
	for _, w := range ways {
		for i := 0; i < len(w.NodeIDs)-1; i++ {
			fromID := w.NodeIDs[i]
			toID := w.NodeIDs[i+1]
			from, fromOk := attrs[fromID]
			to, toOk := attrs[toID]
			if !fromOk || !toOk {
				skipped++
				continue
			}
			if !inside(from) || !inside(to) {
				clipped++
				continue
			}
			dist := uint32(math.Round(geo.Haversine(from.lat, from.lon, to.lat, to.lon)))
			if dist == 0 {
				dist = 1 // avoid zero-weight edges
			}
			result.Edges = append(result.Edges, storage.ImportEdge{
				Source:       addNode(fromID),
				Target:       addNode(toID),
				Distance:     dist,
				Forward:      w.Forward,
				Backward:     w.Backward,
				NameID:       w.NameID,
				Type:         w.Type,
				IsRoundabout: w.IsRoundabout,
				Speed:        w.Speed,
			})
		}
	}
	if skipped > 0 {
		log.Printf("skipped %d segments with missing node coordinates", skipped)
	}
	if clipped > 0 {
		log.Printf("clipped %d segments outside the bounding box", clipped)
	}

	// Resolve restrictions: the from/to members must be ways passing
	// through the via node; the restricted segment endpoints are the way
	// nodes adjacent to it.
	var unresolved int
	for _, raw := range rawRestrictions {
		via, ok := nodeSet[raw.ViaNode]
		if !ok {
			unresolved++
			continue
		}
		fromNode, ok1 := adjacentNode(ways, wayIndex, raw.FromWay, raw.ViaNode, nodeSet)
		toNode, ok2 := adjacentNode(ways, wayIndex, raw.ToWay, raw.ViaNode, nodeSet)
		if !ok1 || !ok2 {
			unresolved++
			continue
		}
		result.Restrictions = append(result.Restrictions, storage.TurnRestriction{
			ViaNode:  via,
			FromNode: fromNode,
			ToNode:   toNode,
			IsOnly:   raw.IsOnly,
		})
	}
	if unresolved > 0 {
		log.Printf("dropped %d unresolvable restriction relations", unresolved)
	}
	return result, nil
}

// adjacentNode finds the way member next to the via node: its predecessor
// in the way when there is one, otherwise its successor. The caller does
// not care which as long as the segment touches via.
func adjacentNode(ways []wayInfo, wayIndex map[osm.WayID]int, wayID osm.WayID, via osm.NodeID, nodeSet map[osm.NodeID]storage.NodeID) (storage.NodeID, bool) {
	idx, ok := wayIndex[wayID]
	if !ok {
		return 0, false
	}
	nodes := ways[idx].NodeIDs
	for i, n := range nodes {
		if n != via {
			continue
		}
		if i > 0 {
			if id, ok := nodeSet[nodes[i-1]]; ok {
				return id, true
			}
		}
		if i+1 < len(nodes) {
			if id, ok := nodeSet[nodes[i+1]]; ok {
				return id, true
			}
		}
	}
	return 0, false
}
