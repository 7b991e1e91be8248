package safety

import (
	"testing"

	"github.com/hazyhaar/bubbleads/internal/connector"
)

func TestTextHasNSFW(t *testing.T) {
	yes := []string{
		"nsfw",
		"this is #NSFW content",
		"lewd stuff",
		"<p>hidden <b>porn</b> in markup</p>",
	}
	for _, s := range yes {
		if !TextHasNSFW(s) {
			t.Errorf("should match: %q", s)
		}
	}
	no := []string{
		"",
		"unsafeword",     // no word boundary
		"transfers done", // "nsf" inside a word
		"adulting is hard but adulthood continues",
	}
	for _, s := range no {
		if TextHasNSFW(s) {
			t.Errorf("should not match: %q", s)
		}
	}
}

func TestIsNSFWTag(t *testing.T) {
	if !IsNSFWTag("NSFW") || !IsNSFWTag("#lewd") || !IsNSFWTag("18+") {
		t.Error("known tags should match case-insensitively")
	}
	if IsNSFWTag("cats") || IsNSFWTag("nsfwartist") {
		t.Error("unrelated tags should not match")
	}
}

func TestIsSafe(t *testing.T) {
	// WHAT: Sensitive flags, content warnings, body text and tags each
	// independently disqualify a post.
	cases := []struct {
		name string
		post connector.Post
		want bool
	}{
		{"clean", connector.Post{Text: "a nice cat"}, true},
		{"sensitive flag", connector.Post{Sensitive: true}, false},
		{"cw", connector.Post{ContentWarning: "nsfw"}, false},
		{"body", connector.Post{Text: "some lewd thing"}, false},
		{"tag", connector.Post{Tags: []string{"cats", "NSFW"}}, false},
	}
	for _, c := range cases {
		if got := IsSafe(c.post); got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, got, c.want)
		}
	}
}
