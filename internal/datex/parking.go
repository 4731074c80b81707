package datex

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/kjstillabower/ndw-feed-service/internal/region"
	"github.com/kjstillabower/ndw-feed-service/internal/xmltree"
)

// ParkingSite is one static truck parking record.
type ParkingSite struct {
	ID    string
	Name  string
	Point orb.Point
	// FreeOfCharge is nil when the table does not say.
	FreeOfCharge *bool
}

// ParkingSites maps parking record ids to their static description.
type ParkingSites map[string]ParkingSite

// ParkingTable reads the static truck parking table. Records without a
// resolvable location are skipped.
func ParkingTable(root *xmltree.Node) ParkingSites {
	sites := make(ParkingSites)
	for _, rec := range lookup(root, PathParkingRecord) {
		id := rec.Attr("id")
		if id == "" {
			continue
		}
		pt, ok := latLon(rec.Path("parkingLocation.pointByCoordinates.pointCoordinates"))
		if !ok {
			if pt, ok = ResolveCoordinate(rec.Child("parkingLocation")); !ok {
				continue
			}
		}
		site := ParkingSite{
			ID:    id,
			Name:  multilingual(rec.Child("parkingName")),
			Point: pt,
		}
		if b, ok := optionalBool(rec.Path("tariffsAndPayment").Value("freeOfCharge")).(bool); ok {
			site.FreeOfCharge = &b
		}
		sites[id] = site
	}
	return sites
}

// TruckParking joins live parking status onto the static table. Status
// records for unknown sites, or sites outside area, are dropped.
func TruckParking(statusRoot *xmltree.Node, table ParkingSites, area region.Region) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	records := lookupFirst(statusRoot, PathParkingRecordStatus, pathV3ParkingRecordStatus, pathV2ParkingRecordStatus)
	for _, st := range records {
		site, ok := table[st.Child("parkingRecordReference").Attr("id")]
		if !ok || !area.Contains(site.Point) {
			continue
		}
		var free any
		if site.FreeOfCharge != nil {
			free = *site.FreeOfCharge
		}
		occupancy := st.Child("parkingOccupancy")
		f := geojson.NewFeature(site.Point)
		f.Properties = geojson.Properties{
			"id":            site.ID,
			"name":          site.Name,
			"status":        st.Value("parkingSiteStatus"),
			"vacant":        optionalNumber(occupancy.Value("parkingNumberOfVacantSpaces")),
			"occupied":      optionalNumber(occupancy.Value("parkingNumberOfOccupiedSpaces")),
			"occupancy_pct": optionalNumber(occupancy.Value("parkingOccupancy")),
			"freeOfCharge":  free,
		}
		fc.Append(f)
	}
	return fc
}
