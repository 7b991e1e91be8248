// Package connector implements the per-protocol source clients for the
// fediverse instances the pipeline reads from.
//
// Two API flavors are supported: Mastodon and Misskey/Sharkey. Both expose
// the same Connector contract so the rest of the pipeline never branches on
// protocol. The Detector probes a domain once and caches which flavor
// answered.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/idna"
)

// TagScore is one trending tag as reported by a single server.
type TagScore struct {
	Name  string
	Score int
}

// Media is one attachment on a post.
type Media struct {
	URL       string
	Type      string // "image" or a MIME type like "image/png"
	Alt       string
	Sensitive bool
}

// Post is a normalized tagged post from either API flavor.
type Post struct {
	URI            string
	URL            string
	LocalID        string
	Score          int
	Sensitive      bool
	ContentWarning string
	Text           string
	Tags           []string
	Media          []Media
}

// Connector is the uniform contract for one API flavor.
type Connector interface {
	// Name identifies the stack ("mastodon", "misskey").
	Name() string
	// Probe is a fast capability check, distinct from a full fetch.
	Probe(ctx context.Context, domain string) bool
	// Trends returns the server's trending tags, up to limit.
	Trends(ctx context.Context, domain string, limit int) ([]TagScore, error)
	// TagTimeline returns recent posts for a hashtag, up to limit.
	TagTimeline(ctx context.Context, domain, tag string, limit int) ([]Post, error)
}

// Config configures the HTTP side of a connector.
type Config struct {
	Timeout      time.Duration // full fetch timeout. Default: 25s.
	ProbeTimeout time.Duration // capability probe timeout. Default: 5s.
	MaxBytes     int64         // max response body size. Default: 8MB.
	UserAgent    string
	Scheme       string // "https" outside of tests
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 25 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 8 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "bubbleads/1.0"
	}
	if c.Scheme == "" {
		c.Scheme = "https"
	}
}

// NormalizeDomain lower-cases, trims and punycode-encodes a seed list
// domain so internationalized names resolve consistently.
func NormalizeDomain(raw string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(raw))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	d = strings.Trim(d, "/.")
	if d == "" {
		return "", fmt.Errorf("empty domain")
	}
	ascii, err := idna.Lookup.ToASCII(d)
	if err != nil {
		return "", fmt.Errorf("domain %q: %w", raw, err)
	}
	return ascii, nil
}

// IdentityKey builds a best-effort global identity for a post: the
// canonical URI when the source provides one, the URL otherwise, and a
// synthetic domain#stack#localID as a last resort. Centralized so identity
// comparison stays in one place.
func IdentityKey(p Post, domain, stack string) string {
	if p.URI != "" {
		return p.URI
	}
	if p.URL != "" {
		return p.URL
	}
	return domain + "#" + stack + "#" + p.LocalID
}

// PickImage returns the first non-sensitive image attachment of a post.
func PickImage(p Post) (url, alt string, ok bool) {
	for _, m := range p.Media {
		if m.Sensitive {
			continue
		}
		t := strings.ToLower(m.Type)
		if t != "image" && !strings.HasPrefix(t, "image/") {
			continue
		}
		if m.URL == "" {
			continue
		}
		return m.URL, m.Alt, true
	}
	return "", "", false
}

// httpClient is the shared HTTP plumbing for both connectors.
type httpClient struct {
	client *http.Client
	config Config
}

func newHTTPClient(cfg Config) httpClient {
	cfg.defaults()
	return httpClient{
		client: &http.Client{Timeout: cfg.Timeout},
		config: cfg,
	}
}

func (h *httpClient) baseURL(domain string) string {
	return h.config.Scheme + "://" + domain
}

// getJSON performs a GET and decodes the response body into out.
func (h *httpClient) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	return h.doJSON(req, out)
}

// postJSON performs a POST with a JSON body and decodes the response into out.
func (h *httpClient) postJSON(ctx context.Context, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return h.doJSON(req, out)
}

func (h *httpClient) doJSON(req *http.Request, out any) error {
	req.Header.Set("User-Agent", h.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("http %s: %w", req.Method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, h.config.MaxBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}
