package connector

import (
	"context"
	"encoding/json"
	"fmt"
)

// Misskey speaks the Misskey/Sharkey API. Response shapes drift between
// forks, so trend parsing works from loosely typed JSON.
type Misskey struct {
	httpClient
}

// NewMisskey creates a Misskey connector.
func NewMisskey(cfg Config) *Misskey {
	return &Misskey{httpClient: newHTTPClient(cfg)}
}

// Name implements Connector.
func (m *Misskey) Name() string { return "misskey" }

// Probe implements Connector.
func (m *Misskey) Probe(ctx context.Context, domain string) bool {
	ctx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()
	tags, err := m.Trends(ctx, domain, 1)
	return err == nil && len(tags) > 0
}

// Trends implements Connector. Tries POST first (current forks), then GET
// (older forks). Items may be plain strings or objects with tag/name/hashtag
// and count or a chart series.
func (m *Misskey) Trends(ctx context.Context, domain string, limit int) ([]TagScore, error) {
	u := m.baseURL(domain) + "/api/hashtags/trend"

	var raw []json.RawMessage
	err := m.postJSON(ctx, u, map[string]any{"limit": limit}, &raw)
	if err != nil {
		if gerr := m.getJSON(ctx, u, &raw); gerr != nil {
			return nil, fmt.Errorf("misskey trends %s: %w", domain, err)
		}
	}

	tags := make([]TagScore, 0, len(raw))
	for _, item := range raw {
		if name, score, ok := parseTrendItem(item); ok {
			tags = append(tags, TagScore{Name: name, Score: score})
		}
	}
	return tags, nil
}

func parseTrendItem(item json.RawMessage) (string, int, bool) {
	var s string
	if err := json.Unmarshal(item, &s); err == nil {
		if s == "" {
			return "", 0, false
		}
		return s, 1, true
	}

	var obj map[string]any
	if err := json.Unmarshal(item, &obj); err != nil {
		return "", 0, false
	}

	name := ""
	for _, k := range []string{"tag", "name", "hashtag"} {
		if v, ok := obj[k].(string); ok && v != "" {
			name = v
			break
		}
	}
	if name == "" {
		return "", 0, false
	}

	score := 0
	if c, ok := obj["count"].(float64); ok {
		score = int(c)
	} else if chart, ok := obj["chart"].([]any); ok {
		for _, v := range chart {
			score += asInt(v)
		}
	}
	if score == 0 {
		score = 1
	}
	return name, score, true
}

type misskeyNote struct {
	ID           string         `json:"id"`
	URI          string         `json:"uri"`
	URL          string         `json:"url"`
	CW           string         `json:"cw"`
	Text         string         `json:"text"`
	RenoteCount  int            `json:"renoteCount"`
	RepliesCount int            `json:"repliesCount"`
	Reactions    map[string]any `json:"reactions"`
	Tags         []string       `json:"tags"`
	Files        []struct {
		Type         string `json:"type"`
		ContentType  string `json:"contentType"`
		URL          string `json:"url"`
		ThumbnailURL string `json:"thumbnailUrl"`
		Comment      string `json:"comment"`
		Name         string `json:"name"`
		IsSensitive  bool   `json:"isSensitive"`
	} `json:"files"`
}

// TagTimeline implements Connector. search-by-tag is the native endpoint;
// plain search with a #tag query covers forks that lack it.
func (m *Misskey) TagTimeline(ctx context.Context, domain, tag string, limit int) ([]Post, error) {
	base := m.baseURL(domain) + "/api"

	var raw []misskeyNote
	err := m.postJSON(ctx, base+"/notes/search-by-tag",
		map[string]any{"tag": tag, "limit": limit}, &raw)
	if err != nil {
		err = m.postJSON(ctx, base+"/notes/search",
			map[string]any{"query": "#" + tag, "limit": limit}, &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("misskey tag timeline %s #%s: %w", domain, tag, err)
	}

	posts := make([]Post, 0, len(raw))
	for _, n := range raw {
		score := 2*n.RenoteCount + n.RepliesCount
		for _, v := range n.Reactions {
			score += asInt(v)
		}
		p := Post{
			URI:            n.URI,
			URL:            n.URL,
			LocalID:        n.ID,
			ContentWarning: n.CW,
			Text:           n.Text,
			Tags:           n.Tags,
			Score:          score,
		}
		for _, f := range n.Files {
			t := f.Type
			if t == "" {
				t = f.ContentType
			}
			u := f.URL
			if u == "" {
				u = f.ThumbnailURL
			}
			alt := f.Comment
			if alt == "" {
				alt = f.Name
			}
			p.Media = append(p.Media, Media{URL: u, Type: t, Alt: alt, Sensitive: f.IsSensitive})
		}
		posts = append(posts, p)
	}
	return posts, nil
}
