package datex

import (
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/kjstillabower/ndw-feed-service/internal/region"
	"github.com/kjstillabower/ndw-feed-service/internal/xmltree"
)

// SiteTable maps measurement site ids to their location. It is built once per
// refresh of the reference table and only read afterwards.
type SiteTable map[string]orb.Point

// MeasurementSites builds the id → point lookup for sites inside area.
func MeasurementSites(root *xmltree.Node, area region.Region) SiteTable {
	sites := make(SiteTable)
	for _, rec := range lookupFirst(root, PathV2MeasurementSiteRecord, pathMeasurementSiteRecord) {
		id := rec.Attr("id")
		if id == "" {
			continue
		}
		pt, ok := ResolveCoordinate(rec.Child("measurementSiteLocation"))
		if !ok || !area.Contains(pt) {
			continue
		}
		sites[id] = pt
	}
	return sites
}

// TrafficSpeed joins current speed and flow measurements onto known sites.
// A site reports the highest positive speed and the highest non-negative flow
// across its lanes; sites with neither are dropped.
func TrafficSpeed(root *xmltree.Node, sites SiteTable) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, m := range lookup(root, PathV2SiteMeasurements) {
		id := m.Child("measurementSiteReference").Attr("id")
		pt, ok := sites[id]
		if id == "" || !ok {
			continue
		}

		speed, flow := -1.0, -1.0
		for _, mv := range m.Children("measuredValue") {
			data := mv.Path("measuredValue.basicData")
			kind := data.Attr("type")
			switch {
			case strings.Contains(kind, "TrafficSpeed"):
				if v, ok := parseNumber(data.Path("averageVehicleSpeed").Value("speed")); ok && v > 0 && v > speed {
					speed = v
				}
			case strings.Contains(kind, "TrafficFlow"):
				if v, ok := parseNumber(data.Path("vehicleFlow").Value("vehicleFlowRate")); ok && v >= 0 && v > flow {
					flow = v
				}
			}
		}
		if speed < 0 && flow < 0 {
			continue
		}

		var speedProp, flowProp any
		if speed > 0 {
			speedProp = int(math.Round(speed))
		}
		if flow >= 0 {
			flowProp = flow
		}
		f := geojson.NewFeature(pt)
		f.Properties = geojson.Properties{
			"id":         id,
			"time":       m.Value("measurementTimeDefault"),
			"speed_kmh":  speedProp,
			"flow_veh_h": flowProp,
		}
		fc.Append(f)
	}
	return fc
}
