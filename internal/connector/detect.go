package connector

import (
	"context"
	"log/slog"
	"sync"
)

// StackUnknown marks a domain no connector could speak to.
const StackUnknown = "unknown"

// StackCache persists probe results between runs so later stages and later
// runs skip re-probing. Implementations must tolerate concurrent reads.
type StackCache interface {
	GetStacks(ctx context.Context) (map[string]string, error)
	PutStack(ctx context.Context, domain, stack string) error
}

// Detector resolves which API flavor a domain speaks, caching the answer
// in memory and, when a StackCache is configured, durably.
type Detector struct {
	connectors []Connector // probe order matters: Mastodon answers publicly, probe it first
	cache      StackCache
	workers    int
	logger     *slog.Logger

	mu     sync.Mutex
	stacks map[string]string
}

// NewDetector creates a Detector probing the given connectors in order.
func NewDetector(connectors []Connector, cache StackCache, workers int, logger *slog.Logger) *Detector {
	if workers <= 0 {
		workers = 6
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		connectors: connectors,
		cache:      cache,
		workers:    workers,
		logger:     logger,
		stacks:     make(map[string]string),
	}
}

// Detect resolves stacks for all domains, probing uncached ones in
// parallel on a bounded pool. The returned map has an entry for every
// input domain, possibly StackUnknown.
func (d *Detector) Detect(ctx context.Context, domains []string) map[string]string {
	d.loadCache(ctx)

	d.mu.Lock()
	var missing []string
	for _, dom := range domains {
		if _, ok := d.stacks[dom]; !ok {
			missing = append(missing, dom)
		}
	}
	d.mu.Unlock()

	if len(missing) > 0 {
		d.logger.Info("probing domains for API compatibility", "count", len(missing))
		d.probeAll(ctx, missing)
	}

	out := make(map[string]string, len(domains))
	d.mu.Lock()
	for _, dom := range domains {
		stack, ok := d.stacks[dom]
		if !ok {
			stack = StackUnknown
		}
		out[dom] = stack
	}
	d.mu.Unlock()
	return out
}

// Lookup returns the connector for a previously detected domain.
func (d *Detector) Lookup(domain string) (Connector, bool) {
	d.mu.Lock()
	stack, ok := d.stacks[domain]
	d.mu.Unlock()
	if !ok || stack == StackUnknown {
		return nil, false
	}
	for _, c := range d.connectors {
		if c.Name() == stack {
			return c, true
		}
	}
	return nil, false
}

// Stack returns the cached stack name for a domain, or StackUnknown.
func (d *Detector) Stack(domain string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.stacks[domain]; ok {
		return s
	}
	return StackUnknown
}

func (d *Detector) loadCache(ctx context.Context) {
	if d.cache == nil {
		return
	}
	cached, err := d.cache.GetStacks(ctx)
	if err != nil {
		d.logger.Warn("detector: load stack cache", "error", err)
		return
	}
	d.mu.Lock()
	for dom, stack := range cached {
		if _, ok := d.stacks[dom]; !ok {
			d.stacks[dom] = stack
		}
	}
	d.mu.Unlock()
}

func (d *Detector) probeAll(ctx context.Context, domains []string) {
	type result struct {
		domain string
		stack  string
	}

	sem := make(chan struct{}, d.workers)
	results := make(chan result, len(domains))
	var wg sync.WaitGroup

	for _, dom := range domains {
		wg.Add(1)
		sem <- struct{}{}
		go func(dom string) {
			defer wg.Done()
			defer func() { <-sem }()
			results <- result{domain: dom, stack: d.probeOne(ctx, dom)}
		}(dom)
	}
	wg.Wait()
	close(results)

	// Merge on the coordinating goroutine only.
	for r := range results {
		d.mu.Lock()
		d.stacks[r.domain] = r.stack
		d.mu.Unlock()
		if d.cache != nil {
			if err := d.cache.PutStack(ctx, r.domain, r.stack); err != nil {
				d.logger.Warn("detector: persist stack", "domain", r.domain, "error", err)
			}
		}
		if r.stack == StackUnknown {
			d.logger.Warn("no supported API detected", "domain", r.domain)
		} else {
			d.logger.Debug("stack detected", "domain", r.domain, "stack", r.stack)
		}
	}
}

func (d *Detector) probeOne(ctx context.Context, domain string) string {
	for _, c := range d.connectors {
		if c.Probe(ctx, domain) {
			return c.Name()
		}
	}
	return StackUnknown
}
