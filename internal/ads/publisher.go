// Package ads publishes advertisement resources against a Misskey-family
// admin API whose payload schema varies unpredictably across forks.
//
// The publisher never assumes a schema up front: it learns field names and
// optional fields from the ads the server already carries, then brute-forces
// the date and weekday encodings through an ordered retry matrix. Ad titles
// are the sole identity for reconciliation.
package ads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/bubbleads/internal/sharkey"
)

// ErrSchemaExhausted means every date×weekday encoding was rejected; the
// remote schema could not be matched and the run must abort.
var ErrSchemaExhausted = errors.New("ad schema retry matrix exhausted")

var variantLabels = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Substrings in a failure body that mean the date encoding itself was
// rejected, so retrying other weekday shapes with the same dates is futile.
var epochRetryMarkers = []string{
	"format", "invalid date", "not a valid", "string is not",
	"must be integer", "must be number",
}

// Creative is one image variant ready to become an ad.
type Creative struct {
	Tag         string
	VariantRank int
	Origin      string
	ImageURL    string // drive URL
	Appearances int
	Score       int
}

// Override customizes one tag's ad beyond the computed defaults.
type Override struct {
	Priority  int    `yaml:"priority" json:"priority"`
	TargetURL string `yaml:"target_url" json:"target_url"`
}

// Config configures the publisher.
type Config struct {
	TitlePrefix     string  `yaml:"title_prefix"`
	DefaultPriority int     `yaml:"default_priority"`
	RatioMin        float64 `yaml:"ratio_min"`
	RatioMax        float64 `yaml:"ratio_max"`
	RatioScale      int     `yaml:"ratio_scale"`
	DurationDays    int     `yaml:"duration_days"`
	Place           string  `yaml:"place"` // override; empty = learn from server

	// Always-on mode: a fixed single weekday plus a far-future expiry, and
	// updates that leave dates, weekday and ratio alone so operator tuning
	// survives.
	AlwaysOn        bool `yaml:"always_on"`
	AlwaysOnWeekday int  `yaml:"always_on_weekday"` // 0 = Sunday

	Overrides map[string]Override `yaml:"overrides"`
}

func (c *Config) defaults() {
	if c.TitlePrefix == "" {
		c.TitlePrefix = "[TagAd] #"
	}
	if c.DefaultPriority == 0 {
		c.DefaultPriority = 50
	}
	if c.RatioMin == 0 {
		c.RatioMin = 0.40
	}
	if c.RatioMax == 0 {
		c.RatioMax = 1.00
	}
	if c.RatioScale == 0 {
		c.RatioScale = 100
	}
	if c.DurationDays == 0 {
		c.DurationDays = 7
	}
	if c.AlwaysOnWeekday < 0 || c.AlwaysOnWeekday > 6 {
		c.AlwaysOnWeekday = 1
	}
}

// Summary counts what one publish pass did.
type Summary struct {
	Created int
	Updated int
	Expired int
}

// Publisher reconciles the ad set on one instance with the latest upload
// manifest.
type Publisher struct {
	client *sharkey.Client
	config Config
	logger *slog.Logger
	now    func() time.Time
}

// NewPublisher creates a Publisher.
func NewPublisher(client *sharkey.Client, cfg Config, logger *slog.Logger) *Publisher {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{client: client, config: cfg, logger: logger, now: time.Now}
}

// Publish creates or updates one ad per creative and expires stale managed
// ads afterwards. scores is the merged tag→score map driving ratio scaling.
// Exhausting the retry matrix on any creative aborts the whole pass.
func (p *Publisher) Publish(ctx context.Context, creatives []Creative, scores map[string]int) (*Summary, error) {
	existing, err := p.client.ListAds(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ads: %w", err)
	}

	caps := DiscoverCapabilities(existing, p.config.Place)
	p.logger.Info("ad schema discovered",
		"ratio", caps.Ratio, "place", caps.Place, "place_value", caps.PlaceValue,
		"start_field", caps.StartField, "end_field", caps.EndField)
	if p.client.DryRun() {
		p.logger.Info("dry run: ad reconciliation is simulated, nothing will be written")
	}

	groups := groupByTag(creatives)
	tags := make([]string, 0, len(groups))
	for tag := range groups {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	now := p.now().UTC()
	summary := &Summary{}
	activeTitles := make(map[string]bool)

	for _, tag := range tags {
		variants := groups[tag]
		multi := len(variants) > 1
		if multi {
			p.logger.Info("splitting ratio budget across variants", "tag", tag, "variants", len(variants))
		}

		targetURL := p.client.BaseURL() + "/tags/" + tag
		priority := p.config.DefaultPriority
		if ov, ok := p.config.Overrides[tag]; ok {
			if ov.Priority != 0 {
				priority = ov.Priority
			}
			if ov.TargetURL != "" {
				targetURL = ov.TargetURL
			}
		}

		var ratioFloat float64
		if caps.Ratio {
			ratioFloat = InverseRatio(scores, tag, p.config.RatioMin, p.config.RatioMax)
		}

		for i, cr := range variants {
			title := p.title(tag, i, multi)
			activeTitles[title] = true

			payload := map[string]any{
				"title":    title,
				"memo":     p.memo(cr, now, i, len(variants)),
				"imageUrl": cr.ImageURL,
				"url":      targetURL,
				"priority": strconv.Itoa(priority),
			}
			if caps.Place {
				payload["place"] = caps.PlaceValue
			}
			if caps.Ratio {
				payload["ratio"] = ScaleRatio(ratioFloat, len(variants), p.config.RatioScale)
			}

			adID := findByTitle(existing, title)
			if err := p.submit(ctx, caps, payload, adID, now); err != nil {
				return nil, fmt.Errorf("publish %q: %w", title, err)
			}
			if adID != "" {
				summary.Updated++
				p.logger.Info("ad updated", "title", title, "ratio", payload["ratio"], "priority", priority)
			} else {
				summary.Created++
				p.logger.Info("ad created", "title", title, "ratio", payload["ratio"], "priority", priority)
			}
		}
	}

	summary.Expired = p.expireStale(ctx, existing, activeTitles, caps, now)
	return summary, nil
}

func (p *Publisher) title(tag string, index int, multi bool) string {
	if multi {
		return fmt.Sprintf("%s%s — featured (%c)", p.config.TitlePrefix, tag, variantLabels[index])
	}
	return fmt.Sprintf("%s%s — featured", p.config.TitlePrefix, tag)
}

func (p *Publisher) memo(cr Creative, now time.Time, index, total int) string {
	variant := "single"
	if total > 1 {
		variant = fmt.Sprintf("variant=%c/%d", variantLabels[index], total)
	}
	return strings.Join([]string{
		"Auto " + now.Format("2006-01-02"),
		fmt.Sprintf("consensus=%d", cr.Appearances),
		fmt.Sprintf("score=%d", cr.Score),
		fmt.Sprintf("duration=%dd", p.config.DurationDays),
		variant,
	}, " • ")
}

// submit sends one create/update through the retry matrix. Always-on mode
// bypasses the matrix: a single weekday bit with far-future expiry on
// create, and an update that touches nothing temporal.
func (p *Publisher) submit(ctx context.Context, caps Capabilities, payload map[string]any, adID string, now time.Time) error {
	opPath := "admin/ad/create"
	if adID != "" {
		payload["id"] = adID
		opPath = "admin/ad/update"
	}

	if p.config.AlwaysOn {
		return p.submitAlwaysOn(ctx, caps, payload, opPath, adID != "", now)
	}

	end := now.AddDate(0, 0, p.config.DurationDays)
	isoDates := map[string]any{
		caps.StartField: now.Format(time.RFC3339),
		caps.EndField:   end.Format(time.RFC3339),
	}
	epochDates := map[string]any{
		caps.StartField: now.UnixMilli(),
		caps.EndField:   end.UnixMilli(),
	}

	var lastBody string

	// First pass: ISO-8601 dates across every weekday encoding. A body that
	// signals a date-format rejection short-circuits straight to epoch.
	for _, dow := range weekdayCandidates() {
		ok, body := p.attempt(ctx, opPath, payload, isoDates, dow)
		if ok {
			return nil
		}
		lastBody = body
		if needsEpochRetry(body) {
			break
		}
	}

	for _, dow := range weekdayCandidates() {
		ok, body := p.attempt(ctx, opPath, payload, epochDates, dow)
		if ok {
			return nil
		}
		lastBody = body
	}

	return fmt.Errorf("%w: last response: %s", ErrSchemaExhausted, lastBody)
}

func (p *Publisher) submitAlwaysOn(ctx context.Context, caps Capabilities, payload map[string]any, opPath string, isUpdate bool, now time.Time) error {
	if isUpdate {
		trimmed := map[string]any{
			"id":       payload["id"],
			"memo":     payload["memo"],
			"imageUrl": payload["imageUrl"],
			"url":      payload["url"],
			"priority": payload["priority"],
		}
		ok, body, status, err := p.client.PostSoft(ctx, opPath, trimmed)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s: http %d: %s", opPath, status, sharkey.Snippet(body))
		}
		return nil
	}

	full := clone(payload)
	full[caps.StartField] = now.Format(time.RFC3339)
	full[caps.EndField] = now.AddDate(10, 0, 0).Format(time.RFC3339)
	full["dayOfWeek"] = 1 << p.config.AlwaysOnWeekday
	ok, body, status, err := p.client.PostSoft(ctx, opPath, full)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: http %d: %s", opPath, status, sharkey.Snippet(body))
	}
	return nil
}

func (p *Publisher) attempt(ctx context.Context, opPath string, payload, dates map[string]any, dayOfWeek any) (bool, string) {
	full := clone(payload)
	for k, v := range dates {
		full[k] = v
	}
	full["dayOfWeek"] = dayOfWeek

	ok, body, _, err := p.client.PostSoft(ctx, opPath, full)
	if err != nil {
		p.logger.Warn("ad submit attempt failed", "path", opPath, "error", err)
		return false, err.Error()
	}
	return ok, string(body)
}

// expireStale end-dates every managed ad whose title dropped out of the
// active set. Ads are expired, never deleted.
func (p *Publisher) expireStale(ctx context.Context, existing []map[string]any, active map[string]bool, caps Capabilities, now time.Time) int {
	expired := 0
	for _, ad := range existing {
		title, _ := ad["title"].(string)
		if !strings.HasPrefix(title, p.config.TitlePrefix) || active[title] {
			continue
		}
		id, _ := ad["id"].(string)
		if id == "" {
			continue
		}
		p.logger.Info("expiring stale ad", "title", title)
		payload := map[string]any{"id": id, caps.EndField: now.Format(time.RFC3339)}
		if ok, body, status, err := p.client.PostSoft(ctx, "admin/ad/update", payload); err != nil || !ok {
			p.logger.Warn("stale ad expiry failed", "title", title, "status", status,
				"body", sharkey.Snippet(body), "error", err)
			continue
		}
		expired++
	}
	return expired
}

// weekdayCandidates lists encodings in observed-frequency order.
func weekdayCandidates() []any {
	return []any{
		127,                           // bitmask, all days
		0,                             // some forks treat 0 as "every day"
		[]int{0, 1, 2, 3, 4, 5, 6},
		[]int{1, 2, 3, 4, 5, 6, 7},
		[]string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"},
	}
}

func needsEpochRetry(body string) bool {
	t := strings.ToLower(body)
	for _, marker := range epochRetryMarkers {
		if strings.Contains(t, marker) {
			return true
		}
	}
	return false
}

func findByTitle(ads []map[string]any, title string) string {
	for _, ad := range ads {
		if t, _ := ad["title"].(string); t == title {
			id, _ := ad["id"].(string)
			return id
		}
	}
	return ""
}

func groupByTag(creatives []Creative) map[string][]Creative {
	groups := make(map[string][]Creative)
	for _, cr := range creatives {
		tag := strings.ToLower(strings.TrimPrefix(cr.Tag, "#"))
		if tag == "" {
			continue
		}
		groups[tag] = append(groups[tag], cr)
	}
	for tag := range groups {
		sort.SliceStable(groups[tag], func(i, j int) bool {
			return groups[tag][i].VariantRank < groups[tag][j].VariantRank
		})
	}
	return groups
}

func clone(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
