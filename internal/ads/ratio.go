package ads

import "math"

// InverseRatio maps a topic's merged popularity score into the configured
// [min, max] float band, inverted: the least popular selected topic gets the
// highest ratio so the ad rotation boosts what needs the boost. With no
// scores at all, or when every score is equal, the midpoint of the band is
// returned; a tag absent from the map counts as minimum popularity.
func InverseRatio(scores map[string]int, tag string, min, max float64) float64 {
	if len(scores) == 0 {
		return (min + max) / 2.0
	}
	smin, smax := math.MaxInt, math.MinInt
	for _, v := range scores {
		if v < smin {
			smin = v
		}
		if v > smax {
			smax = v
		}
	}
	s, ok := scores[tag]
	if !ok {
		s = smin
	}

	var t float64
	if smax == smin {
		t = 0.5
	} else {
		t = float64(s-smin) / float64(smax-smin)
	}
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}

	ratio := min + (1.0-t)*(max-min)
	return math.Min(max, math.Max(min, ratio))
}

// ScaleRatio converts the float ratio to the server's integer space, first
// splitting the tag's budget evenly across its variants so multi-variant
// tags don't crowd out single-image ones. Result clamps to [1, scale].
func ScaleRatio(ratio float64, variants, scale int) int {
	if variants < 1 {
		variants = 1
	}
	scaled := ratio / float64(variants) * float64(scale)
	scaled = math.Max(1, math.Min(float64(scale), scaled))
	return int(math.Round(scaled))
}
