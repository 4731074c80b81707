package datex

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/kjstillabower/ndw-feed-service/internal/region"
	"github.com/kjstillabower/ndw-feed-service/internal/xmltree"
)

// EmissionZones converts the v3 controlled-zone table into polygon features.
// A multi-polygon zone yields one feature per polygon that touches area.
func EmissionZones(root *xmltree.Node, area region.Region) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, zone := range lookup(root, PathV3AccessRegulation) {
		props := geojson.Properties{
			"name":   multilingual(zone.Child("name")),
			"type":   zone.Value("controlledZoneType"),
			"status": zone.Value("status"),
			"url":    multilingual(zone.Child("urlForFurtherInformation")),
		}
		for _, cond := range zone.Find("trafficRegulationOrder.trafficRegulation.condition.conditions") {
			for _, ring := range zoneRings(cond.Child("locationByOrder"), area) {
				f := geojson.NewFeature(orb.Polygon{ring})
				f.Properties = props.Clone()
				fc.Append(f)
			}
		}
	}
	return fc
}

func zoneRings(loc *xmltree.Node, area region.Region) []orb.Ring {
	posLists := loc.Find("gmlMultiPolygon.gmlPolygon.exterior.posList")
	if len(posLists) == 0 {
		posLists = loc.Find("gmlPolygon.exterior.posList")
	}

	var rings []orb.Ring
	for _, pl := range posLists {
		ring, ok := parseRing(pl.Text)
		if !ok || len(ring) < 3 || !area.AnyInside(ring) {
			continue
		}
		if !ring.Closed() {
			ring = append(ring, ring[0])
		}
		rings = append(rings, ring)
	}
	return rings
}
