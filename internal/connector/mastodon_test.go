package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// testConfig points a connector at an httptest server.
func testConfig() Config {
	return Config{Scheme: "http"}
}

func testDomain(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestMastodonTrends_SumsHistoryUses(t *testing.T) {
	// WHAT: Trend score is the sum of history uses, coercing both the
	// string and numeric forms forks emit.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/trends/tags" {
			t.Errorf("path: %s", r.URL.Path)
		}
		w.Write([]byte(`[
			{"name":"cats","history":[{"uses":"12"},{"uses":3}]},
			{"name":"quiet","history":[]}
		]`))
	}))
	defer srv.Close()

	m := NewMastodon(testConfig())
	tags, err := m.Trends(context.Background(), testDomain(srv), 20)
	if err != nil {
		t.Fatalf("trends: %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("tags: got %d", len(tags))
	}
	if tags[0].Name != "cats" || tags[0].Score != 15 {
		t.Errorf("cats: got %+v", tags[0])
	}
	if tags[1].Score != 1 {
		t.Errorf("no history should default to 1, got %d", tags[1].Score)
	}
}

func TestMastodonTagTimeline_ScoreAndMedia(t *testing.T) {
	// WHAT: Post score is favs + 2·reblogs + replies; media prefers the
	// origin server's remote_url over the local cache.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/v1/timelines/tag/cats") {
			t.Errorf("path: %s", r.URL.Path)
		}
		w.Write([]byte(`[{
			"id":"1","uri":"https://o/1","url":"https://o/@u/1",
			"favourites_count":3,"reblogs_count":2,"replies_count":1,
			"sensitive":false,"spoiler_text":"","content":"<p>hi</p>",
			"tags":[{"name":"cats"}],
			"media_attachments":[{
				"type":"image","url":"https://cache/img.png",
				"remote_url":"https://origin/img.png","description":"a cat"
			}]
		}]`))
	}))
	defer srv.Close()

	m := NewMastodon(testConfig())
	posts, err := m.TagTimeline(context.Background(), testDomain(srv), "cats", 40)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("posts: got %d", len(posts))
	}
	p := posts[0]
	if p.Score != 3+2*2+1 {
		t.Errorf("score: got %d", p.Score)
	}
	if p.Media[0].URL != "https://origin/img.png" {
		t.Errorf("media should prefer remote_url: got %q", p.Media[0].URL)
	}
	if p.Media[0].Alt != "a cat" {
		t.Errorf("alt: got %q", p.Media[0].Alt)
	}
}

func TestMastodonProbe(t *testing.T) {
	// WHAT: Probe succeeds only when trends answer with at least one tag.
	full := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[{"name":"x","history":[]}]`))
	}))
	defer full.Close()
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer empty.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer broken.Close()

	m := NewMastodon(testConfig())
	if !m.Probe(context.Background(), testDomain(full)) {
		t.Error("full server should probe true")
	}
	if m.Probe(context.Background(), testDomain(empty)) {
		t.Error("empty trends should probe false")
	}
	if m.Probe(context.Background(), testDomain(broken)) {
		t.Error("404 should probe false")
	}
}

func TestNormalizeDomain(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Example.COM", "example.com", true},
		{"https://social.example/", "social.example", true},
		{"bücher.example", "xn--bcher-kva.example", true},
		{"   ", "", false},
	}
	for _, c := range cases {
		got, err := NormalizeDomain(c.in)
		if c.ok && (err != nil || got != c.want) {
			t.Errorf("NormalizeDomain(%q): got %q, %v", c.in, got, err)
		}
		if !c.ok && err == nil {
			t.Errorf("NormalizeDomain(%q): expected error", c.in)
		}
	}
}

func TestIdentityKey(t *testing.T) {
	// WHAT: URI wins, then URL, then the synthetic local key.
	if got := IdentityKey(Post{URI: "u", URL: "l", LocalID: "1"}, "d", "s"); got != "u" {
		t.Errorf("uri: got %q", got)
	}
	if got := IdentityKey(Post{URL: "l", LocalID: "1"}, "d", "s"); got != "l" {
		t.Errorf("url: got %q", got)
	}
	if got := IdentityKey(Post{LocalID: "1"}, "d.example", "mastodon"); got != "d.example#mastodon#1" {
		t.Errorf("synthetic: got %q", got)
	}
}

func TestPickImage(t *testing.T) {
	// WHAT: First non-sensitive image wins; sensitive and non-image
	// attachments are skipped.
	p := Post{Media: []Media{
		{URL: "v.mp4", Type: "video"},
		{URL: "hidden.png", Type: "image", Sensitive: true},
		{URL: "ok.png", Type: "image/png", Alt: "fine"},
	}}
	url, alt, ok := PickImage(p)
	if !ok || url != "ok.png" || alt != "fine" {
		t.Fatalf("got %q %q %v", url, alt, ok)
	}
	if _, _, ok := PickImage(Post{}); ok {
		t.Error("no media should not pick")
	}
}
