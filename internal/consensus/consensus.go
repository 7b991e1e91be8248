// Package consensus picks one representative media candidate per topic from
// posts observed across many independent servers.
//
// The same post federates to multiple servers under one canonical URI, so
// the number of servers that independently surfaced an identity is a
// corroboration signal. Corroboration outranks raw popularity — but only
// when corroboration actually exists.
package consensus

import (
	"net/url"
	"sort"

	"github.com/hazyhaar/bubbleads/internal/connector"
)

// Record accumulates every observation of one post identity.
type Record struct {
	Key         string
	Appearances int
	BestScore   int
	ImageURL    string
	ImageAlt    string
	Origin      string // domain the best-scoring observation came from
}

// Set collects candidate records for a single topic. Records are owned by
// the selection pass for that topic and discarded afterwards.
type Set struct {
	byKey map[string]*Record
	order []*Record // insertion order, for stable tie-breaking
}

// NewSet creates an empty candidate set.
func NewSet() *Set {
	return &Set{byKey: make(map[string]*Record)}
}

// Len reports the number of distinct identities observed.
func (s *Set) Len() int { return len(s.order) }

// Add folds one observation into the set. Appearances always increments;
// the stored image/origin only move when the new score strictly exceeds
// the best seen so far. Distinct identities never merge.
func (s *Set) Add(key string, score int, imageURL, imageAlt, origin string) {
	rec, ok := s.byKey[key]
	if !ok {
		rec = &Record{Key: key, BestScore: -1, ImageURL: imageURL, ImageAlt: imageAlt, Origin: origin}
		s.byKey[key] = rec
		s.order = append(s.order, rec)
	}
	rec.Appearances++
	if score > rec.BestScore {
		rec.BestScore = score
		rec.ImageURL = imageURL
		rec.ImageAlt = imageAlt
		rec.Origin = origin
	}
}

// AddPost folds a connector post observed on a domain, provided it carries
// a usable image.
func (s *Set) AddPost(p connector.Post, domain, stack string) bool {
	img, alt, ok := connector.PickImage(p)
	if !ok {
		return false
	}
	origin := originDomain(p.URL, domain)
	s.Add(connector.IdentityKey(p, domain, stack), p.Score, img, alt, origin)
	return true
}

// ranked returns records ordered by (appearances desc, bestScore desc),
// stable on full ties: the first-inserted record wins. Insertion order is
// the configured domain scan order, so the outcome is reproducible.
func (s *Set) ranked() []*Record {
	out := make([]*Record, len(s.order))
	copy(out, s.order)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Appearances != out[j].Appearances {
			return out[i].Appearances > out[j].Appearances
		}
		return out[i].BestScore > out[j].BestScore
	})
	return out
}

// Select returns the winning record, or nil for an empty set.
//
// Rule: rank by (appearances, bestScore) and take the top. If the top
// record was seen on fewer than two servers, no identity was actually
// corroborated — fall back to the single record with the globally highest
// bestScore, favoring raw popularity over an unconfirmed sighting's rank.
// The fallback can pick a worse (appearances, score) pair than a close
// runner-up; that asymmetry is deliberate and kept as-is.
func (s *Set) Select() *Record {
	if len(s.order) == 0 {
		return nil
	}
	ranked := s.ranked()
	top := ranked[0]
	if top.Appearances >= 2 {
		return top
	}

	best := s.order[0]
	for _, rec := range s.order[1:] {
		if rec.BestScore > best.BestScore {
			best = rec
		}
	}
	return best
}

// SelectTop returns up to k records for multi-variant publishing. The first
// is always Select()'s winner; the rest follow the (appearances, bestScore)
// ranking, skipping the winner and any record reusing its image URL so one
// topic never shows the same picture twice.
func (s *Set) SelectTop(k int) []*Record {
	winner := s.Select()
	if winner == nil || k <= 0 {
		return nil
	}
	out := []*Record{winner}
	seenImages := map[string]bool{winner.ImageURL: true}

	for _, rec := range s.ranked() {
		if len(out) >= k {
			break
		}
		if rec == winner || seenImages[rec.ImageURL] {
			continue
		}
		seenImages[rec.ImageURL] = true
		out = append(out, rec)
	}
	return out
}

// originDomain extracts the host of the post's public URL, falling back to
// the server the observation came from.
func originDomain(postURL, domain string) string {
	if postURL == "" {
		return domain
	}
	u, err := url.Parse(postURL)
	if err != nil || u.Host == "" {
		return domain
	}
	return u.Host
}
