// Package region keeps records inside a closed geographic bounding box.
package region

import "github.com/paulmach/orb"

// Default bounds cover the Zwolle municipality plus the surrounding motorway
// network, wider than the visible map.
const (
	DefaultMinLat = 52.35
	DefaultMaxLat = 52.65
	DefaultMinLon = 5.85
	DefaultMaxLon = 6.35
)

// Region is a closed bounding box; points on an edge are inside.
type Region struct {
	bound orb.Bound
}

// New returns a Region for the given latitude and longitude bounds.
func New(minLat, maxLat, minLon, maxLon float64) Region {
	return Region{bound: orb.Bound{
		Min: orb.Point{minLon, minLat},
		Max: orb.Point{maxLon, maxLat},
	}}
}

// Default returns the Zwolle region.
func Default() Region {
	return New(DefaultMinLat, DefaultMaxLat, DefaultMinLon, DefaultMaxLon)
}

// Bound returns the underlying box in [lon, lat] order.
func (r Region) Bound() orb.Bound {
	return r.bound
}

// Contains reports whether p ([lon, lat]) lies inside or on the box.
func (r Region) Contains(p orb.Point) bool {
	return r.bound.Contains(p)
}

// AnyInside reports whether at least one vertex of ring lies inside the box.
// Large zones only need to overlap the area to be kept.
func (r Region) AnyInside(ring orb.Ring) bool {
	for _, p := range ring {
		if r.bound.Contains(p) {
			return true
		}
	}
	return false
}
