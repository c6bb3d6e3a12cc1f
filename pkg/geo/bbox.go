package geo

import "math"

// BBox is an axis-aligned bounding box over fixed-point coordinates.
type BBox struct {
	MinLat, MinLon int32
	MaxLat, MaxLon int32
}

// EmptyBBox returns a box that extends to nothing.
func EmptyBBox() BBox {
	return BBox{
		MinLat: math.MaxInt32, MinLon: math.MaxInt32,
		MaxLat: math.MinInt32, MaxLon: math.MinInt32,
	}
}

// ExtendPoint grows the box to include the given point.
func (b *BBox) ExtendPoint(lat, lon int32) {
	if lat < b.MinLat {
		b.MinLat = lat
	}
	if lat > b.MaxLat {
		b.MaxLat = lat
	}
	if lon < b.MinLon {
		b.MinLon = lon
	}
	if lon > b.MaxLon {
		b.MaxLon = lon
	}
}

// Extend grows the box to include another box.
func (b *BBox) Extend(o BBox) {
	b.ExtendPoint(o.MinLat, o.MinLon)
	b.ExtendPoint(o.MaxLat, o.MaxLon)
}

// CenterLat returns the latitude midpoint of the box.
func (b BBox) CenterLat() int32 { return b.MinLat + (b.MaxLat-b.MinLat)/2 }

// CenterLon returns the longitude midpoint of the box.
func (b BBox) CenterLon() int32 { return b.MinLon + (b.MaxLon-b.MinLon)/2 }

// Contains reports whether the point lies inside the box.
func (b BBox) Contains(lat, lon int32) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// MinDist returns the distance in meters from a query point to the nearest
// point of the box; zero when the point is inside.
func (b BBox) MinDist(lat, lon float64) float64 {
	clLat := math.Min(math.Max(lat, FixedToFloat(b.MinLat)), FixedToFloat(b.MaxLat))
	clLon := math.Min(math.Max(lon, FixedToFloat(b.MinLon)), FixedToFloat(b.MaxLon))
	return EquirectangularDist(lat, lon, clLat, clLon)
}
