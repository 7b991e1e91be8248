package trends

import (
	"testing"

	"github.com/hazyhaar/bubbleads/internal/connector"
)

func TestMerge_SumsScoresAcrossDomains(t *testing.T) {
	// WHAT: Same normalized tag from several domains sums its scores.
	// WHY: The merged total is the popularity signal driving selection.
	perDomain := map[string][]connector.TagScore{
		"a.example": {{Name: "Cats", Score: 10}, {Name: "dogs", Score: 3}},
		"b.example": {{Name: "#cats", Score: 5}},
	}
	merged := Merge([]string{"a.example", "b.example"}, perDomain, nil)
	if len(merged) != 2 {
		t.Fatalf("merged: got %d tags, want 2", len(merged))
	}
	if merged[0].Name != "cats" || merged[0].Score != 15 {
		t.Errorf("top: got %+v, want cats/15", merged[0])
	}
	if merged[1].Name != "dogs" || merged[1].Score != 3 {
		t.Errorf("second: got %+v, want dogs/3", merged[1])
	}
}

func TestMerge_DeterministicOrderOnTies(t *testing.T) {
	// WHAT: Equal totals keep first-seen order, following the domain order
	// slice rather than map iteration.
	// WHY: Worker completion order must never change the outcome.
	perDomain := map[string][]connector.TagScore{
		"a.example": {{Name: "alpha", Score: 5}},
		"b.example": {{Name: "beta", Score: 5}},
	}
	for i := 0; i < 20; i++ {
		merged := Merge([]string{"a.example", "b.example"}, perDomain, nil)
		if merged[0].Name != "alpha" || merged[1].Name != "beta" {
			t.Fatalf("iteration %d: order changed: %+v", i, merged)
		}
	}
}

func TestMerge_MissingDomainContributesNothing(t *testing.T) {
	// WHAT: A domain with no entry in the map is simply skipped.
	// WHY: Failed fetches reduce coverage, they never abort the merge.
	perDomain := map[string][]connector.TagScore{
		"a.example": {{Name: "cats", Score: 2}},
	}
	merged := Merge([]string{"a.example", "down.example"}, perDomain, nil)
	if len(merged) != 1 || merged[0].Score != 2 {
		t.Fatalf("got %+v", merged)
	}
}

func TestMerge_ExcludePredicate(t *testing.T) {
	// WHAT: Excluded names never reach the merged list.
	// WHY: NSFW tags are filtered at merge time.
	perDomain := map[string][]connector.TagScore{
		"a.example": {{Name: "nsfw", Score: 100}, {Name: "cats", Score: 1}},
	}
	merged := Merge([]string{"a.example"}, perDomain, func(name string) bool {
		return name == "nsfw"
	})
	if len(merged) != 1 || merged[0].Name != "cats" {
		t.Fatalf("got %+v", merged)
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"#Cats":   "cats",
		"  DOGS ": "dogs",
		"##x":     "x",
		"plain":   "plain",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q): got %q, want %q", in, got, want)
		}
	}
}

func TestScores(t *testing.T) {
	m := []MergedTag{{Name: "a", Score: 3}, {Name: "b", Score: 1}}
	scores := Scores(m)
	if scores["a"] != 3 || scores["b"] != 1 {
		t.Fatalf("got %v", scores)
	}
}
