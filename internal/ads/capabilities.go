package ads

import (
	"fmt"
	"strconv"
	"strings"
)

// Start/end field names seen across Misskey-family forks, in detection order.
var (
	startFieldAliases = []string{"start", "startat", "startsat", "startdate"}
	endFieldAliases   = []string{"end", "endat", "enddate", "expiresat"}
)

// Capabilities is what probing admin/ad/list taught us about this fork's ad
// payload schema.
type Capabilities struct {
	Ratio      bool   // fork exposes a ratio field
	Place      bool   // fork exposes a place field
	PlaceValue string // value to send for place
	StartField string // actual start field name, e.g. "startsAt"
	EndField   string // actual end field name, e.g. "expiresAt"
}

// DiscoverCapabilities infers the payload schema from the ads the server
// already has. placeOverride, when set, wins over the observed values. With
// no ads to learn from, defaults are the most common modern names and place
// "timeline" is still sent.
func DiscoverCapabilities(existing []map[string]any, placeOverride string) Capabilities {
	caps := Capabilities{}
	placeCounts := make(map[string]int)
	var placeOrder []string

	for _, ad := range existing {
		if _, ok := ad["ratio"]; ok {
			caps.Ratio = true
		}
		if v, ok := ad["place"]; ok {
			caps.Place = true
			if v != nil {
				s := toString(v)
				if _, seen := placeCounts[s]; !seen {
					placeOrder = append(placeOrder, s)
				}
				placeCounts[s]++
			}
		}
		for key := range ad {
			lk := strings.ToLower(key)
			if caps.StartField == "" && contains(startFieldAliases, lk) {
				caps.StartField = key
			}
			if caps.EndField == "" && contains(endFieldAliases, lk) {
				caps.EndField = key
			}
		}
	}

	switch {
	case placeOverride != "":
		caps.PlaceValue = placeOverride
		caps.Place = true
	case len(placeOrder) > 0:
		caps.PlaceValue = mostCommon(placeCounts, placeOrder)
	default:
		caps.PlaceValue = "timeline"
		caps.Place = true
	}

	if caps.StartField == "" {
		caps.StartField = "startsAt"
	}
	if caps.EndField == "" {
		caps.EndField = "expiresAt"
	}
	return caps
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// mostCommon breaks count ties by first-observed order.
func mostCommon(counts map[string]int, order []string) string {
	best, bestN := "", -1
	for _, s := range order {
		if counts[s] > bestN {
			best, bestN = s, counts[s]
		}
	}
	return best
}

// toString renders a JSON-decoded place value; whole floats print as ints.
func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
