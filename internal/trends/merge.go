// Package trends merges per-server trending tag lists into one ranked list.
package trends

import (
	"sort"
	"strings"

	"github.com/hazyhaar/bubbleads/internal/connector"
)

// MergedTag is one tag with its score summed across all reporting servers.
type MergedTag struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// Normalize case-folds a tag name and strips the leading '#'.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimLeft(strings.TrimSpace(name), "#"))
}

// Merge folds per-domain tag lists into a single ranked list. Scores for
// the same normalized name are summed; the result is sorted by total score
// descending, ties kept in first-seen order. Iteration follows the order
// slice (the configured domain order), not map order, so the outcome is
// deterministic regardless of which fetches finished first.
//
// A domain that failed to respond simply has an empty (or missing) list;
// it contributes nothing and never aborts the merge. The exclude predicate
// drops tag names outright (NSFW filtering) and may be nil.
func Merge(order []string, perDomain map[string][]connector.TagScore, exclude func(string) bool) []MergedTag {
	totals := make(map[string]int)
	var seen []string

	for _, domain := range order {
		for _, ts := range perDomain[domain] {
			name := Normalize(ts.Name)
			if name == "" {
				continue
			}
			if exclude != nil && exclude(name) {
				continue
			}
			if _, ok := totals[name]; !ok {
				seen = append(seen, name)
			}
			totals[name] += ts.Score
		}
	}

	merged := make([]MergedTag, 0, len(seen))
	for _, name := range seen {
		merged = append(merged, MergedTag{Name: name, Score: totals[name]})
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	return merged
}

// Scores converts a merged list into a name→score map for ratio scaling.
func Scores(merged []MergedTag) map[string]int {
	out := make(map[string]int, len(merged))
	for _, m := range merged {
		out[m.Name] = m.Score
	}
	return out
}
