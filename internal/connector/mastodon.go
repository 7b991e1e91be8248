package connector

import (
	"context"
	"fmt"
	"net/url"
)

// Mastodon speaks the Mastodon v1 public API.
type Mastodon struct {
	httpClient
}

// NewMastodon creates a Mastodon connector.
func NewMastodon(cfg Config) *Mastodon {
	return &Mastodon{httpClient: newHTTPClient(cfg)}
}

// Name implements Connector.
func (m *Mastodon) Name() string { return "mastodon" }

// Probe implements Connector with a one-tag trends request under the short
// probe timeout. A server counts as Mastodon only if the call succeeds and
// returns at least one tag.
func (m *Mastodon) Probe(ctx context.Context, domain string) bool {
	ctx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()
	tags, err := m.Trends(ctx, domain, 1)
	return err == nil && len(tags) > 0
}

type mastoTag struct {
	Name    string `json:"name"`
	History []struct {
		Uses any `json:"uses"` // string on most forks, number on some
	} `json:"history"`
}

// Trends implements Connector.
func (m *Mastodon) Trends(ctx context.Context, domain string, limit int) ([]TagScore, error) {
	u := fmt.Sprintf("%s/api/v1/trends/tags?limit=%d", m.baseURL(domain), limit)
	var raw []mastoTag
	if err := m.getJSON(ctx, u, &raw); err != nil {
		return nil, fmt.Errorf("mastodon trends %s: %w", domain, err)
	}

	tags := make([]TagScore, 0, len(raw))
	for _, item := range raw {
		if item.Name == "" {
			continue
		}
		score := 0
		for _, h := range item.History {
			score += asInt(h.Uses)
		}
		if score == 0 {
			score = 1 // presence counts as signal
		}
		tags = append(tags, TagScore{Name: item.Name, Score: score})
	}
	return tags, nil
}

type mastoStatus struct {
	ID              string `json:"id"`
	URI             string `json:"uri"`
	URL             string `json:"url"`
	Sensitive       bool   `json:"sensitive"`
	SpoilerText     string `json:"spoiler_text"`
	Content         string `json:"content"`
	FavouritesCount int    `json:"favourites_count"`
	ReblogsCount    int    `json:"reblogs_count"`
	RepliesCount    int    `json:"replies_count"`
	Tags            []struct {
		Name string `json:"name"`
	} `json:"tags"`
	MediaAttachments []struct {
		Type        string `json:"type"`
		URL         string `json:"url"`
		RemoteURL   string `json:"remote_url"`
		PreviewURL  string `json:"preview_url"`
		Description string `json:"description"`
	} `json:"media_attachments"`
}

// TagTimeline implements Connector.
func (m *Mastodon) TagTimeline(ctx context.Context, domain, tag string, limit int) ([]Post, error) {
	u := fmt.Sprintf("%s/api/v1/timelines/tag/%s?limit=%d",
		m.baseURL(domain), url.PathEscape(tag), limit)
	var raw []mastoStatus
	if err := m.getJSON(ctx, u, &raw); err != nil {
		return nil, fmt.Errorf("mastodon tag timeline %s #%s: %w", domain, tag, err)
	}

	posts := make([]Post, 0, len(raw))
	for _, s := range raw {
		p := Post{
			URI:            s.URI,
			URL:            s.URL,
			LocalID:        s.ID,
			Sensitive:      s.Sensitive,
			ContentWarning: s.SpoilerText,
			Text:           s.Content,
			Score:          s.FavouritesCount + 2*s.ReblogsCount + s.RepliesCount,
		}
		for _, t := range s.Tags {
			p.Tags = append(p.Tags, t.Name)
		}
		for _, a := range s.MediaAttachments {
			// Prefer the origin server's copy over the local cache.
			u := a.RemoteURL
			if u == "" {
				u = a.URL
			}
			if u == "" {
				u = a.PreviewURL
			}
			p.Media = append(p.Media, Media{URL: u, Type: a.Type, Alt: a.Description})
		}
		posts = append(posts, p)
	}
	return posts, nil
}

// asInt coerces the loosely typed numbers fediverse servers emit
// (JSON numbers on some forks, decimal strings on others).
func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		total := 0
		for _, r := range n {
			if r < '0' || r > '9' {
				return 0
			}
			total = total*10 + int(r-'0')
		}
		return total
	default:
		return 0
	}
}
