package datex

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/kjstillabower/ndw-feed-service/internal/region"
	"github.com/kjstillabower/ndw-feed-service/internal/xmltree"
)

// Gantry is one variable message sign location from the DRIPS table. Road,
// Carriageway and Km are the keys used to attach lane signs to it.
type Gantry struct {
	ID          string
	Description string
	VMSType     string
	Mounting    string
	Point       orb.Point

	Road        string
	Carriageway string
	Km          float64
	HasKm       bool
}

// Feature renders the gantry as a point feature with its table properties.
func (g Gantry) Feature() *geojson.Feature {
	f := geojson.NewFeature(g.Point)
	f.Properties = geojson.Properties{
		"id":       g.ID,
		"name":     g.Description,
		"type":     g.VMSType,
		"mounting": g.Mounting,
	}
	return f
}

// Gantries reads the VMS unit table and returns every located sign inside area,
// in table order.
func Gantries(root *xmltree.Node, area region.Region) []Gantry {
	var out []Gantry
	for _, unit := range lookup(root, PathV2VMSUnitRecord) {
		for _, outer := range unit.Children("vmsRecord") {
			rec := outer.Child("vmsRecord")
			if rec == nil {
				rec = outer
			}
			loc := rec.Child("vmsLocation")
			if loc == nil {
				continue
			}
			pt, ok := ResolveCoordinate(loc)
			if !ok || !area.Contains(pt) {
				continue
			}
			g := Gantry{
				ID:          firstNonEmpty(unit.Attr("id"), outer.Attr("vmsIndex"), rec.Attr("id")),
				Description: multilingual(rec.Child("vmsDescription")),
				VMSType:     rec.Value("vmsType"),
				Mounting:    rec.Value("vmsPhysicalMounting"),
				Point:       pt,
			}
			g.Road, g.Carriageway, g.Km, g.HasKm = roadKey(rec, g.Description)
			out = append(out, g)
		}
	}
	return out
}

// VMSTable is the drips dataset: every gantry as a point feature.
func VMSTable(root *xmltree.Node, area region.Region) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, g := range Gantries(root, area) {
		fc.Append(g.Feature())
	}
	return fc
}

var (
	roadPattern        = regexp.MustCompile(`(?i)\b([ANS])\s?0*(\d{1,3})\b`)
	carriagewayPattern = regexp.MustCompile(`(?i)\b(HRL|HRR|Li|Re|links|rechts|L|R)\b`)
	kmPattern          = regexp.MustCompile(`(?i)\bkm\s*(\d{1,3}(?:[.,]\d{1,3})?)\b`)
	bareKmPattern      = regexp.MustCompile(`\b(\d{1,3}[.,]\d{1,3})\b`)
)

// roadKey derives road, carriageway and kilometre position. Structured
// location fields win; the free-text description fills whatever is missing.
func roadKey(rec *xmltree.Node, description string) (road, carriageway string, km float64, hasKm bool) {
	loc := rec.Child("vmsLocation")
	road = NormalizeRoad(firstNonEmpty(
		loc.Path("supplementaryPositionalDescription.roadInformation").Value("roadNumber"),
		loc.Value("roadNumber"),
	))
	if v, ok := parseNumber(loc.Value("km")); ok {
		km, hasKm = v, true
	}

	text := description
	if road == "" {
		if m := roadPattern.FindStringSubmatchIndex(text); m != nil {
			road = NormalizeRoad(text[m[2]:m[3]] + text[m[4]:m[5]])
			text = text[m[1]:]
		}
	}
	rest := text
	if m := carriagewayPattern.FindStringSubmatchIndex(text); m != nil {
		carriageway = NormalizeCarriageway(text[m[2]:m[3]])
		rest = text[m[1]:]
	}
	if !hasKm {
		km, hasKm = kmFromText(text, rest)
	}
	return road, carriageway, km, hasKm
}

// kmFromText prefers an explicit "km" marker anywhere in text and otherwise
// takes the first decimal in rest, so clock times and widths are skipped.
func kmFromText(text, rest string) (float64, bool) {
	m := kmPattern.FindStringSubmatch(text)
	if m == nil {
		m = bareKmPattern.FindStringSubmatch(rest)
	}
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// NormalizeRoad upper-cases a road number and drops zero padding, so "a028"
// and "A28" compare equal.
func NormalizeRoad(s string) string {
	s = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	if len(s) < 2 {
		return s
	}
	digits := strings.TrimLeft(s[1:], "0")
	if digits == "" {
		return s
	}
	return s[:1] + digits
}

// NormalizeCarriageway maps the side-of-road spellings used across NDW feeds
// onto "L" or "R". Unrecognized values are returned upper-cased.
func NormalizeCarriageway(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "L", "LI", "HRL", "LINKS", "LEFT":
		return "L"
	case "R", "RE", "HRR", "RECHTS", "RIGHT":
		return "R"
	}
	return strings.ToUpper(strings.TrimSpace(s))
}
