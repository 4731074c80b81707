// Package msi reads the matrix sign (MSI) state feed and attaches lane sign
// state to the gantries of the DRIPS table.
//
// The MSI feed is scanned as text: each <event> block is matched with regular
// expressions and reduced to the handful of fields the map needs.
package msi

import (
	"regexp"
	"strconv"
	"strings"
)

// Display codes reported by the MSI feed.
const (
	DisplayBlank           = "blank"
	DisplaySpeedLimit      = "speedlimit"
	DisplayLaneOpen        = "lane_open"
	DisplayLaneClosed      = "lane_closed"
	DisplayLaneClosedAhead = "lane_closed_ahead"
	DisplayRestrictionEnd  = "restriction_end"
)

// Event is one <event> block. Pointer and empty string fields are absent in
// the block and leave earlier state untouched when accumulated.
type Event struct {
	SignID      string
	Road        string
	Carriageway string
	Lane        *int
	Km          *float64
	// Display is the first element inside <display>; SpeedLimit is only set
	// for the speedlimit display.
	Display    string
	SpeedLimit *int
	Flashing   *bool
	Updated    string
}

var (
	eventPattern    = regexp.MustCompile(`(?s)<event\b[^>]*>(.*?)</event>`)
	signIDPattern   = regexp.MustCompile(`(?s)<sign_id>\s*(?:<uuid>)?\s*([^<\s]+)\s*(?:</uuid>)?\s*</sign_id>`)
	locationPattern = regexp.MustCompile(`(?s)<lanelocation>(.*?)</lanelocation>`)
	displayPattern  = regexp.MustCompile(`(?s)<display\b[^>/]*>(.*?)</display>`)
	elementPattern  = regexp.MustCompile(`<([A-Za-z_]+)[^>]*?(?:/>|>([^<]*)</[A-Za-z_]+>)`)
	flashingPattern = regexp.MustCompile(`(?s)<flashing\s*(?:/>|>\s*([^<]*?)\s*</flashing>)`)

	fieldPatterns = map[string]*regexp.Regexp{}
)

func init() {
	for _, name := range []string{"road", "carriageway", "lane", "km", "ts_state", "ts_event"} {
		fieldPatterns[name] = regexp.MustCompile(`(?s)<` + name + `>\s*([^<]*?)\s*</` + name + `>`)
	}
}

// ExtractEvents scans raw feed text for event blocks in document order.
// Blocks without a sign id are skipped.
func ExtractEvents(data []byte) []Event {
	text := string(data)
	var events []Event
	for _, m := range eventPattern.FindAllStringSubmatch(text, -1) {
		if ev, ok := parseEvent(m[1]); ok {
			events = append(events, ev)
		}
	}
	return events
}

func parseEvent(block string) (Event, bool) {
	id := signIDPattern.FindStringSubmatch(block)
	if id == nil {
		return Event{}, false
	}
	ev := Event{
		SignID:  id[1],
		Updated: firstField(block, "ts_state", "ts_event"),
	}

	if loc := locationPattern.FindStringSubmatch(block); loc != nil {
		ev.Road = field(loc[1], "road")
		ev.Carriageway = field(loc[1], "carriageway")
		if v, err := strconv.Atoi(field(loc[1], "lane")); err == nil {
			ev.Lane = &v
		}
		if v, err := strconv.ParseFloat(strings.Replace(field(loc[1], "km"), ",", ".", 1), 64); err == nil {
			ev.Km = &v
		}
	}

	if d := displayPattern.FindStringSubmatch(block); d != nil {
		ev.Display, ev.SpeedLimit = parseDisplay(d[1])
	}

	if f := flashingPattern.FindStringSubmatch(block); f != nil {
		on := f[1] != "false" && f[1] != "0"
		ev.Flashing = &on
	}
	return ev, true
}

// parseDisplay returns the code of the first element inside <display>, and
// its numeric payload when the code is speedlimit.
func parseDisplay(inner string) (string, *int) {
	for _, el := range elementPattern.FindAllStringSubmatch(inner, -1) {
		code := strings.ToLower(el[1])
		if code == "flashing" {
			continue
		}
		if code != DisplaySpeedLimit {
			return code, nil
		}
		if v, err := strconv.Atoi(strings.TrimSpace(el[2])); err == nil {
			return code, &v
		}
		return code, nil
	}
	return "", nil
}

func field(block, name string) string {
	if m := fieldPatterns[name].FindStringSubmatch(block); m != nil {
		return m[1]
	}
	return ""
}

func firstField(block string, names ...string) string {
	for _, n := range names {
		if v := field(block, n); v != "" {
			return v
		}
	}
	return ""
}

// Sign is the merged state of one sign unit.
type Sign struct {
	ID          string
	Road        string
	Carriageway string
	Lane        *int
	Km          *float64
	Display     string
	SpeedLimit  *int
	Flashing    bool
	Updated     string
}

// Accumulate merges events per sign id in feed order. A later event
// overwrites only the fields it carries; a display replaces the speed limit
// along with it. Signs are returned in order of first appearance.
func Accumulate(events []Event) []Sign {
	index := make(map[string]int)
	var signs []Sign
	for _, ev := range events {
		i, ok := index[ev.SignID]
		if !ok {
			i = len(signs)
			index[ev.SignID] = i
			signs = append(signs, Sign{ID: ev.SignID})
		}
		s := &signs[i]
		if ev.Road != "" {
			s.Road = ev.Road
		}
		if ev.Carriageway != "" {
			s.Carriageway = ev.Carriageway
		}
		if ev.Lane != nil {
			s.Lane = ev.Lane
		}
		if ev.Km != nil {
			s.Km = ev.Km
		}
		if ev.Display != "" {
			s.Display = ev.Display
			s.SpeedLimit = ev.SpeedLimit
		}
		if ev.Flashing != nil {
			s.Flashing = *ev.Flashing
		}
		if ev.Updated != "" {
			s.Updated = ev.Updated
		}
	}
	return signs
}
