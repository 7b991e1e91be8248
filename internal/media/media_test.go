package media

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFetch_HashAndContentType(t *testing.T) {
	// WHAT: Fetch returns the bytes, the bare content type and the sha256
	// hex of exactly what was downloaded.
	body := []byte("fake image bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png; charset=binary")
		w.Write(body)
	}))
	defer srv.Close()

	d := NewDownloader(Config{})
	img, err := d.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(img.Bytes) != string(body) {
		t.Errorf("bytes mismatch")
	}
	if img.ContentType != "image/png" {
		t.Errorf("content type: got %q", img.ContentType)
	}
	want := fmt.Sprintf("%x", sha256.Sum256(body))
	if img.Hash != want {
		t.Errorf("hash: got %q, want %q", img.Hash, want)
	}
}

func TestFetch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	d := NewDownloader(Config{})
	if _, err := d.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("403 should fail")
	}
}

func TestGuessExt(t *testing.T) {
	cases := []struct {
		ctype string
		url   string
		want  string
	}{
		{"image/png", "https://x/pic", ".png"},
		{"image/webp", "https://x/pic", ".webp"},
		{"", "https://x/photo.JPEG?s=large", ".jpeg"},
		{"application/octet-stream", "https://x/img.gif", ".gif"},
		{"text/html", "https://x/page", ".jpg"},
		{"", "https://x/archive.tar.bz2", ".jpg"},
	}
	for _, c := range cases {
		if got := GuessExt(c.ctype, c.url); got != c.want {
			t.Errorf("GuessExt(%q, %q): got %q, want %q", c.ctype, c.url, got, c.want)
		}
	}
}

func TestSanitizeTag(t *testing.T) {
	cases := map[string]string{
		"Cats":        "cats",
		"café au jus": "caf-au-jus",
		"a_b-c.d":     "a_b-c.d",
	}
	for in, want := range cases {
		if got := SanitizeTag(in); got != want {
			t.Errorf("SanitizeTag(%q): got %q, want %q", in, got, want)
		}
	}
}

func TestFilename(t *testing.T) {
	day := time.Date(2026, 8, 26, 15, 0, 0, 0, time.UTC)
	got := Filename(day, "Cats&Dogs", "origin.example/", ".png")
	want := "2026-08-26_cats-dogs_origin.example.png"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
