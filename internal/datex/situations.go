package datex

import (
	"github.com/paulmach/orb/geojson"

	"github.com/kjstillabower/ndw-feed-service/internal/region"
	"github.com/kjstillabower/ndw-feed-service/internal/xmltree"
)

// Situations converts a situation publication (v2 SOAP or v3 messageContainer)
// into point features, one per located situation record inside area.
func Situations(root *xmltree.Node, dataset string, area region.Region) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, sit := range lookupFirst(root, PathV2Situation, PathV3Situation) {
		records := sit.Children("situationRecord")
		if len(records) == 0 {
			records = []*xmltree.Node{sit}
		}
		for _, rec := range records {
			if f := situationFeature(sit, rec, dataset, area); f != nil {
				fc.Append(f)
			}
		}
	}
	return fc
}

func situationFeature(sit, rec *xmltree.Node, dataset string, area region.Region) *geojson.Feature {
	loc := rec.Child("groupOfLocations")
	if loc == nil {
		loc = rec.Child("locationReference")
	}
	if loc == nil {
		loc = rec
	}
	pt, ok := ResolveCoordinate(loc)
	if !ok || !area.Contains(pt) {
		return nil
	}

	severity := firstNonEmpty(sit.Value("overallSeverity"), rec.Value("severity"), "unknown")
	validity := rec.Child("validity")
	span := validity.Child("validityTimeSpecification")

	source := rec.Path("source.sourceName")
	if source == nil {
		source = rec.Child("sourceName")
	}

	f := geojson.NewFeature(pt)
	f.Properties = geojson.Properties{
		"id":             firstNonEmpty(sit.Attr("id"), rec.Attr("id")),
		"recordId":       rec.Attr("id"),
		"dataset":        dataset,
		"type":           firstNonEmpty(rec.Value("vehicleObstructionType"), stripPrefix(rec.Attr("type"))),
		"severity":       severity,
		"status":         validity.Value("validityStatus"),
		"source":         multilingual(source),
		"comment":        multilingual(rec.Path("generalPublicComment.comment")),
		"start":          span.Value("overallStartTime"),
		"end":            span.Value("overallEndTime"),
		"managementType": rec.Value("generalNetworkManagementType"),
	}
	return f
}
