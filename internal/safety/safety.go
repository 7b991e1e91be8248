// Package safety implements the NSFW heuristics applied before a post can
// become an advertisement candidate.
//
// Mastodon ships status text as HTML; tags are stripped with bluemonday's
// strict policy before the keyword scan so markup never hides or fakes a
// match.
package safety

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/bubbleads/internal/connector"
)

var (
	strict = bluemonday.StrictPolicy()

	// Word-boundary match so "nsfw" inside a longer word doesn't trigger.
	nsfwText = regexp.MustCompile(`(?i)(^|\W)#?(nsfw|18\+|lewd|porn|adult)\b`)
)

var nsfwTags = map[string]bool{
	"nsfw":  true,
	"18+":   true,
	"lewd":  true,
	"porn":  true,
	"adult": true,
}

// TextHasNSFW reports whether free text contains an adult-content marker.
// HTML is stripped first.
func TextHasNSFW(text string) bool {
	if text == "" {
		return false
	}
	return nsfwText.MatchString(strict.Sanitize(text))
}

// IsNSFWTag reports whether a normalized tag name is an adult-content tag.
func IsNSFWTag(name string) bool {
	return nsfwTags[strings.ToLower(strings.TrimPrefix(name, "#"))]
}

// IsSafe is the predicate the pipeline applies to every candidate post:
// not flagged sensitive, no NSFW marker in the content warning or body,
// and no NSFW hashtag.
func IsSafe(p connector.Post) bool {
	if p.Sensitive {
		return false
	}
	if TextHasNSFW(p.ContentWarning) || TextHasNSFW(p.Text) {
		return false
	}
	for _, t := range p.Tags {
		if IsNSFWTag(t) {
			return false
		}
	}
	return true
}
