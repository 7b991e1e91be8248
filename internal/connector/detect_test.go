package connector

import (
	"context"
	"sync"
	"testing"
)

// fakeConnector probes true for a fixed set of domains.
type fakeConnector struct {
	name string
	hits map[string]bool

	mu     sync.Mutex
	probes int
}

func (f *fakeConnector) Name() string { return f.name }

func (f *fakeConnector) Probe(_ context.Context, domain string) bool {
	f.mu.Lock()
	f.probes++
	f.mu.Unlock()
	return f.hits[domain]
}

func (f *fakeConnector) Trends(context.Context, string, int) ([]TagScore, error) {
	return nil, nil
}

func (f *fakeConnector) TagTimeline(context.Context, string, string, int) ([]Post, error) {
	return nil, nil
}

func (f *fakeConnector) probeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probes
}

type memCache struct {
	mu     sync.Mutex
	stacks map[string]string
	puts   int
}

func (c *memCache) GetStacks(context.Context) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.stacks))
	for k, v := range c.stacks {
		out[k] = v
	}
	return out, nil
}

func (c *memCache) PutStack(_ context.Context, domain, stack string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stacks == nil {
		c.stacks = make(map[string]string)
	}
	c.stacks[domain] = stack
	c.puts++
	return nil
}

func TestDetect_ProbeOrderAndUnknown(t *testing.T) {
	// WHAT: The first connector whose probe answers names the stack;
	// domains nobody answers come back as StackUnknown.
	masto := &fakeConnector{name: "mastodon", hits: map[string]bool{"m.example": true}}
	missk := &fakeConnector{name: "misskey", hits: map[string]bool{"k.example": true}}
	d := NewDetector([]Connector{masto, missk}, nil, 2, nil)

	got := d.Detect(context.Background(), []string{"m.example", "k.example", "dead.example"})
	want := map[string]string{
		"m.example":    "mastodon",
		"k.example":    "misskey",
		"dead.example": StackUnknown,
	}
	for dom, stack := range want {
		if got[dom] != stack {
			t.Errorf("%s: got %q, want %q", dom, got[dom], stack)
		}
	}
}

func TestDetect_CachedDomainsSkipProbing(t *testing.T) {
	// WHAT: Domains already in the persistent cache are never re-probed.
	// WHY: Later stages and later runs reuse earlier probe work.
	masto := &fakeConnector{name: "mastodon", hits: map[string]bool{"m.example": true}}
	cache := &memCache{stacks: map[string]string{"m.example": "mastodon"}}
	d := NewDetector([]Connector{masto}, cache, 2, nil)

	got := d.Detect(context.Background(), []string{"m.example"})
	if got["m.example"] != "mastodon" {
		t.Fatalf("got %v", got)
	}
	if masto.probeCount() != 0 {
		t.Errorf("cached domain was probed %d times", masto.probeCount())
	}
}

func TestDetect_PersistsProbeResults(t *testing.T) {
	masto := &fakeConnector{name: "mastodon", hits: map[string]bool{"m.example": true}}
	cache := &memCache{}
	d := NewDetector([]Connector{masto}, cache, 2, nil)

	d.Detect(context.Background(), []string{"m.example", "dead.example"})
	if cache.stacks["m.example"] != "mastodon" || cache.stacks["dead.example"] != StackUnknown {
		t.Fatalf("cache: %v", cache.stacks)
	}

	// Second pass must come from memory: zero the counter and re-detect.
	before := masto.probeCount()
	d.Detect(context.Background(), []string{"m.example", "dead.example"})
	if masto.probeCount() != before {
		t.Error("second detect should not probe again")
	}
}

func TestLookup(t *testing.T) {
	// WHAT: Lookup maps a detected domain back to its connector; unknown
	// and undetected domains return false.
	masto := &fakeConnector{name: "mastodon", hits: map[string]bool{"m.example": true}}
	d := NewDetector([]Connector{masto}, nil, 1, nil)
	d.Detect(context.Background(), []string{"m.example", "dead.example"})

	if c, ok := d.Lookup("m.example"); !ok || c.Name() != "mastodon" {
		t.Errorf("lookup: got %v %v", c, ok)
	}
	if _, ok := d.Lookup("dead.example"); ok {
		t.Error("unknown stack should not resolve")
	}
	if _, ok := d.Lookup("never-seen.example"); ok {
		t.Error("undetected domain should not resolve")
	}
}
