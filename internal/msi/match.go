package msi

import (
	"math"
	"sort"

	"github.com/paulmach/orb/geojson"

	"github.com/kjstillabower/ndw-feed-service/internal/datex"
)

// DefaultMatchThreshold is the largest distance, in km along the road, at
// which a sign is still attributed to a gantry. The distance must be strictly
// smaller. It is a policy value awaiting domain review; deployments override
// it with msi.match_threshold_km.
const DefaultMatchThreshold = 5.0

// Lane is one sign in a gantry's lanes property.
type Lane struct {
	Lane       *int   `json:"lane"`
	Display    string `json:"display"`
	SpeedLimit *int   `json:"speedLimit"`
	Flashing   bool   `json:"flashing"`
	SignID     string `json:"signId"`
}

// Matcher attaches signs to the nearest gantry on the same road and side.
type Matcher struct {
	Threshold float64
}

// NewMatcher returns a Matcher; a non-positive threshold selects
// DefaultMatchThreshold.
func NewMatcher(threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}
	return &Matcher{Threshold: threshold}
}

// Match emits one feature per gantry, in gantry order, with the lane signs
// matched to it. Signs without road or km, or with no gantry in range, are
// dropped. Gantries without signs are emitted blank with no lanes.
func (m *Matcher) Match(gantries []datex.Gantry, signs []Sign) *geojson.FeatureCollection {
	groups := make(map[int][]Sign)
	for _, s := range signs {
		if i := m.nearest(gantries, s); i >= 0 {
			groups[i] = append(groups[i], s)
		}
	}

	fc := geojson.NewFeatureCollection()
	for i, g := range gantries {
		f := g.Feature()
		for k, v := range groupProperties(groups[i]) {
			f.Properties[k] = v
		}
		fc.Append(f)
	}
	return fc
}

func (m *Matcher) nearest(gantries []datex.Gantry, s Sign) int {
	if s.Road == "" || s.Km == nil {
		return -1
	}
	road := datex.NormalizeRoad(s.Road)
	side := ""
	if s.Carriageway != "" {
		side = datex.NormalizeCarriageway(s.Carriageway)
	}

	best, bestDiff := -1, 0.0
	for i, g := range gantries {
		if !g.HasKm || datex.NormalizeRoad(g.Road) != road {
			continue
		}
		if side != "" && g.Carriageway != side {
			continue
		}
		diff := math.Abs(g.Km - *s.Km)
		if diff >= m.Threshold {
			continue
		}
		if best < 0 || diff < bestDiff {
			best, bestDiff = i, diff
		}
	}
	return best
}

func groupProperties(signs []Sign) map[string]any {
	sort.SliceStable(signs, func(i, j int) bool {
		return laneIndex(signs[i]) < laneIndex(signs[j])
	})

	var (
		lanes                                                     = make([]Lane, 0, len(signs))
		minSpeed                                                  *int
		closed, closedAhead, speed, open, restrictionEnd, anyFlag bool
	)
	for _, s := range signs {
		display := s.Display
		if display == "" {
			display = DisplayBlank
		}
		lanes = append(lanes, Lane{
			Lane:       s.Lane,
			Display:    display,
			SpeedLimit: s.SpeedLimit,
			Flashing:   s.Flashing,
			SignID:     s.ID,
		})
		switch display {
		case DisplayLaneClosed:
			closed = true
		case DisplayLaneClosedAhead:
			closedAhead = true
		case DisplayLaneOpen:
			open = true
		case DisplayRestrictionEnd:
			restrictionEnd = true
		}
		if s.SpeedLimit != nil {
			speed = true
			if minSpeed == nil || *s.SpeedLimit < *minSpeed {
				v := *s.SpeedLimit
				minSpeed = &v
			}
		}
		anyFlag = anyFlag || s.Flashing
	}

	// lane_closed_ahead is reported through its flag only and does not rank.
	state := DisplayBlank
	switch {
	case closed:
		state = DisplayLaneClosed
	case speed:
		state = DisplaySpeedLimit
	case open:
		state = DisplayLaneOpen
	case restrictionEnd:
		state = DisplayRestrictionEnd
	}

	var minSpeedProp any
	if minSpeed != nil {
		minSpeedProp = *minSpeed
	}
	return map[string]any{
		"state":             state,
		"lanes":             lanes,
		"laneCount":         len(lanes),
		"minSpeedLimit":     minSpeedProp,
		"hasLaneClosed":      closed,
		"hasLaneClosedAhead": closedAhead,
		"hasSpeedLimit":      speed,
		"hasLaneOpen":        open,
		"hasRestrictionEnd":  restrictionEnd,
		"flashing":           anyFlag,
	}
}

func laneIndex(s Sign) int {
	if s.Lane == nil {
		return math.MaxInt
	}
	return *s.Lane
}
