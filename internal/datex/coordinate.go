package datex

import (
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/kjstillabower/ndw-feed-service/internal/xmltree"
)

// ResolveCoordinate finds a display coordinate in a location element of any
// supported schema variant. Encodings are tried in priority order:
//
//  1. locationForDisplay, directly or under groupOfLocations
//  2. pointByCoordinates.pointCoordinates, directly or under groupOfLocations / locationReference
//  3. locationReference.locationForDisplay (display point of a linear location)
//  4. bare latitude / longitude children
//  5. the midpoint of a gmlLineString posList, directly or per locationContainedInItinerary
//
// The returned point is [lon, lat]. ok is false when no encoding yields two
// numeric values; that is not an error and the caller drops the record.
func ResolveCoordinate(loc *xmltree.Node) (orb.Point, bool) {
	if loc == nil {
		return orb.Point{}, false
	}
	candidates := []*xmltree.Node{
		loc.Child("locationForDisplay"),
		loc.Path("groupOfLocations.locationForDisplay"),
		loc.Path("pointByCoordinates.pointCoordinates"),
		loc.Path("groupOfLocations.pointByCoordinates.pointCoordinates"),
		loc.Path("locationReference.pointByCoordinates.pointCoordinates"),
		loc.Path("locationReference.locationForDisplay"),
		loc,
	}
	for _, c := range candidates {
		if p, ok := latLon(c); ok {
			return p, true
		}
	}

	var posLists []*xmltree.Node
	for _, item := range loc.Children("locationContainedInItinerary") {
		posLists = append(posLists, item.Path("location.gmlLineString.posList"))
	}
	posLists = append(posLists, loc.Path("gmlLineString.posList"))
	for _, pl := range posLists {
		if p, ok := posListMidpoint(pl.TextValue()); ok {
			return p, true
		}
	}
	return orb.Point{}, false
}

func latLon(n *xmltree.Node) (orb.Point, bool) {
	if n == nil {
		return orb.Point{}, false
	}
	lat, ok := parseNumber(n.Value("latitude"))
	if !ok {
		return orb.Point{}, false
	}
	lon, ok := parseNumber(n.Value("longitude"))
	if !ok {
		return orb.Point{}, false
	}
	return orb.Point{lon, lat}, true
}

// posListMidpoint picks the middle [lat lon] pair of a posList as a display
// point for a possibly long segment.
func posListMidpoint(s string) (orb.Point, bool) {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return orb.Point{}, false
	}
	mid := len(fields) / 4 * 2
	lat, ok := parseNumber(fields[mid])
	if !ok {
		return orb.Point{}, false
	}
	lon, ok := parseNumber(fields[mid+1])
	if !ok {
		return orb.Point{}, false
	}
	return orb.Point{lon, lat}, true
}

// parseRing reads a posList of [lat lon] pairs into [lon lat] points. A
// trailing unpaired value is ignored; any non-numeric value rejects the list.
func parseRing(s string) (orb.Ring, bool) {
	fields := strings.Fields(s)
	ring := make(orb.Ring, 0, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		lat, ok := parseNumber(fields[i])
		if !ok {
			return nil, false
		}
		lon, ok := parseNumber(fields[i+1])
		if !ok {
			return nil, false
		}
		ring = append(ring, orb.Point{lon, lat})
	}
	return ring, true
}

// parseNumber parses a decimal value. Empty, non-numeric and non-finite input
// is absent.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
