// Package bubbleads orchestrates the trending-topics advertisement pipeline:
// aggregate trends across fediverse instances, pick representative images by
// cross-server consensus, deduplicate uploads by content hash, and publish
// the result as ads on a Sharkey/Misskey instance.
package bubbleads

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/bubbleads/internal/ads"
	"github.com/hazyhaar/bubbleads/internal/connector"
	"github.com/hazyhaar/bubbleads/internal/consensus"
	"github.com/hazyhaar/bubbleads/internal/db"
	"github.com/hazyhaar/bubbleads/internal/dedup"
	"github.com/hazyhaar/bubbleads/internal/media"
	"github.com/hazyhaar/bubbleads/internal/safety"
	"github.com/hazyhaar/bubbleads/internal/sharkey"
	"github.com/hazyhaar/bubbleads/internal/store"
	"github.com/hazyhaar/bubbleads/internal/trends"
)

// Service is the main pipeline orchestrator.
type Service struct {
	config     *Config
	logger     *slog.Logger
	db         *sql.DB
	store      *store.Store
	index      *dedup.Index
	connectors []connector.Connector
	detector   *connector.Detector
	sharkey    *sharkey.Client
	downloader *media.Downloader
	publisher  *ads.Publisher
	safe       func(connector.Post) bool
	now        func() time.Time
	busy       atomic.Bool
}

// ServiceOption customizes a Service at construction time.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithConnectors replaces the default Mastodon+Misskey connector set.
func WithConnectors(cs ...connector.Connector) ServiceOption {
	return func(s *Service) { s.connectors = cs }
}

// WithSafety replaces the NSFW predicate.
func WithSafety(pred func(connector.Post) bool) ServiceOption {
	return func(s *Service) { s.safe = pred }
}

// WithClock fixes the clock, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// New creates a Service, opening its database and applying schemas.
func New(cfg *Config, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	svc := &Service{
		config: cfg,
		logger: slog.Default(),
		safe:   safety.IsSafe,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	svc.db = database

	if svc.store, err = store.NewStore(database); err != nil {
		database.Close()
		return nil, err
	}
	if svc.index, err = dedup.NewIndex(database); err != nil {
		database.Close()
		return nil, err
	}

	if svc.connectors == nil {
		ccfg := connector.Config{
			Timeout:      cfg.HTTP.Timeout,
			ProbeTimeout: cfg.HTTP.ProbeTimeout,
			MaxBytes:     cfg.HTTP.MaxBytes,
			UserAgent:    cfg.HTTP.UserAgent,
		}
		svc.connectors = []connector.Connector{
			connector.NewMastodon(ccfg),
			connector.NewMisskey(ccfg),
		}
	}
	svc.detector = connector.NewDetector(svc.connectors, svc.store, cfg.Workers, svc.logger)

	svc.sharkey = sharkey.New(sharkey.Config{
		BaseURL: cfg.Sharkey.BaseURL,
		Token:   cfg.Sharkey.Token,
		Timeout: cfg.Sharkey.Timeout,
		DryRun:  cfg.Sharkey.DryRun,
	}, svc.logger)

	svc.downloader = media.NewDownloader(media.Config{
		Timeout:   cfg.HTTP.Timeout,
		UserAgent: cfg.HTTP.UserAgent,
	})

	svc.publisher = ads.NewPublisher(svc.sharkey, cfg.Ads, svc.logger)
	return svc, nil
}

// Close releases the database.
func (s *Service) Close() error {
	return s.db.Close()
}

// Store exposes the run-state store, for the web UI.
func (s *Service) Store() *store.Store { return s.store }

// RunStage dispatches a stage by name. Stages are exclusive: a second
// request while one runs returns ErrStageBusy.
func (s *Service) RunStage(ctx context.Context, stage string) error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrStageBusy
	}
	defer s.busy.Store(false)

	switch stage {
	case StageTrends:
		_, err := s.runTrends(ctx)
		return err
	case StageUploads:
		_, err := s.runUploads(ctx)
		return err
	case StageAds:
		_, err := s.runAds(ctx)
		return err
	case StageRun:
		_, err := s.run(ctx)
		return err
	default:
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidConfig, stage)
	}
}

// Busy reports whether a stage is currently running.
func (s *Service) Busy() bool { return s.busy.Load() }

// RunTrends aggregates trending tags across the seed domains, merges them
// into one ranked list and persists the run.
func (s *Service) RunTrends(ctx context.Context) (*TrendReport, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrStageBusy
	}
	defer s.busy.Store(false)
	return s.runTrends(ctx)
}

func (s *Service) runTrends(ctx context.Context) (*TrendReport, error) {
	stacks := s.detector.Detect(ctx, s.config.Domains)
	compatible := s.compatibleDomains(stacks)
	if len(compatible) == 0 {
		return nil, fmt.Errorf("%w: no compatible domains", ErrNoCandidate)
	}

	perDomain := s.fetchTrends(ctx, compatible)
	merged := trends.Merge(s.config.Domains, perDomain, safety.IsNSFWTag)
	if len(merged) == 0 {
		return nil, fmt.Errorf("%w: no trending tags reported", ErrNoCandidate)
	}

	selectN := s.config.Select
	if selectN > len(merged) {
		selectN = len(merged)
	}

	run := &store.TrendRun{SelectedCount: selectN, CreatedAt: s.now().UnixMilli()}
	tags := make([]store.TrendTag, 0, len(merged))
	selected := make([]string, 0, selectN)
	for i, m := range merged {
		sel := i < selectN
		if sel {
			selected = append(selected, m.Name)
		}
		tags = append(tags, store.TrendTag{Name: m.Name, Score: m.Score, Rank: i + 1, Selected: sel})
	}
	if err := s.store.InsertTrendRun(ctx, run, tags); err != nil {
		return nil, fmt.Errorf("persist trend run: %w", err)
	}

	s.logger.Info("trends merged", "run_id", run.ID,
		"domains", len(compatible), "tags", len(merged), "selected", selectN)
	return &TrendReport{RunID: run.ID, Merged: merged, Selected: selected, Stacks: stacks}, nil
}

// fetchTrends pulls per-domain trend lists on the bounded pool. Failures
// leave the domain's list empty; the merge tolerates that.
func (s *Service) fetchTrends(ctx context.Context, domains []string) map[string][]connector.TagScore {
	type result struct {
		domain string
		tags   []connector.TagScore
	}

	sem := make(chan struct{}, s.config.Workers)
	results := make(chan result, len(domains))
	var wg sync.WaitGroup

	for _, dom := range domains {
		conn, ok := s.detector.Lookup(dom)
		if !ok {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(dom string, conn connector.Connector) {
			defer wg.Done()
			defer func() { <-sem }()
			tags, err := conn.Trends(ctx, dom, s.config.TrendLimit)
			if err != nil {
				s.logger.Warn("trends fetch failed", "domain", dom, "error", err)
				return
			}
			results <- result{domain: dom, tags: tags}
		}(dom, conn)
	}
	wg.Wait()
	close(results)

	perDomain := make(map[string][]connector.TagScore)
	for r := range results {
		perDomain[r.domain] = r.tags
		s.logger.Debug("trends fetched", "domain", r.domain, "tags", len(r.tags))
	}
	return perDomain
}

// RunUploads scans the selected tags across compatible domains, picks
// consensus winners, and uploads their images to the drive with content-hash
// deduplication.
func (s *Service) RunUploads(ctx context.Context) (*UploadReport, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrStageBusy
	}
	defer s.busy.Store(false)
	return s.runUploads(ctx)
}

func (s *Service) runUploads(ctx context.Context) (*UploadReport, error) {
	run, err := s.store.LatestTrendRun(ctx)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, ErrNoRun
	}
	selected, err := s.store.TrendTags(ctx, run.ID, true)
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: run %s selected no tags", ErrNoCandidate, run.ID)
	}

	stacks := s.detector.Detect(ctx, s.config.Domains)
	compatible := s.compatibleDomains(stacks)
	if len(compatible) == 0 {
		return nil, fmt.Errorf("%w: no compatible domains", ErrNoCandidate)
	}

	folderID, err := s.sharkey.EnsureFolder(ctx, s.config.Folder)
	if err != nil {
		return nil, fmt.Errorf("ensure drive folder: %w", err)
	}

	report := &UploadReport{RunID: run.ID}
	day := s.now().UTC()

	for _, tag := range selected {
		set := s.scanTag(ctx, compatible, tag.Name)
		picks := set.SelectTop(s.config.Variants)
		if len(picks) == 0 {
			s.logger.Warn("no candidates for tag", "tag", tag.Name)
			report.Skipped++
			continue
		}
		for rank, rec := range picks {
			if err := s.uploadCandidate(ctx, run.ID, tag.Name, rank, rec, folderID, day, report); err != nil {
				s.logger.Warn("candidate upload failed", "tag", tag.Name, "error", err)
			}
		}
	}
	s.logger.Info("uploads stage done", "run_id", run.ID,
		"uploaded", report.Uploaded, "reused", report.Reused, "skipped", report.Skipped)
	return report, nil
}

// scanTag gathers candidate posts for one tag across all compatible domains
// on the bounded pool, folding them into a consensus set on the
// coordinating goroutine only.
func (s *Service) scanTag(ctx context.Context, domains []string, tag string) *consensus.Set {
	type result struct {
		domain string
		stack  string
		posts  []connector.Post
	}

	sem := make(chan struct{}, s.config.Workers)
	results := make(chan result, len(domains))
	var wg sync.WaitGroup

	for _, dom := range domains {
		conn, ok := s.detector.Lookup(dom)
		if !ok {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(dom string, conn connector.Connector) {
			defer wg.Done()
			defer func() { <-sem }()
			posts, err := conn.TagTimeline(ctx, dom, tag, s.config.ScanLimit)
			if err != nil {
				s.logger.Warn("tag scan failed", "domain", dom, "tag", tag, "error", err)
				return
			}
			results <- result{domain: dom, stack: conn.Name(), posts: posts}
		}(dom, conn)
	}
	wg.Wait()
	close(results)

	set := consensus.NewSet()
	for r := range results {
		hits := 0
		for _, p := range r.posts {
			if !s.safe(p) {
				continue
			}
			if set.AddPost(p, r.domain, r.stack) {
				hits++
			}
		}
		s.logger.Debug("tag scanned", "domain", r.domain, "tag", tag, "candidates", hits)
	}
	return set
}

// uploadCandidate downloads one consensus pick and pushes it to the drive,
// going through the dedup index first. A dedup hit whose remote
// reuse/rename fails degrades to a fresh upload.
func (s *Service) uploadCandidate(ctx context.Context, runID, tag string, rank int, rec *consensus.Record, folderID string, day time.Time, report *UploadReport) error {
	img, err := s.downloader.Fetch(ctx, rec.ImageURL)
	if err != nil {
		return fmt.Errorf("download %s: %w", rec.ImageURL, err)
	}

	ext := media.GuessExt(img.ContentType, rec.ImageURL)
	filename := media.Filename(day, tag, rec.Origin, ext)

	row := &store.Upload{
		RunID:       runID,
		Tag:         tag,
		VariantRank: rank,
		Origin:      rec.Origin,
		SourceURL:   rec.ImageURL,
		ImageAlt:    rec.ImageAlt,
		Appearances: rec.Appearances,
		Score:       rec.BestScore,
	}

	entry, err := s.index.Resolve(ctx, img.Hash)
	if err != nil {
		return fmt.Errorf("dedup resolve: %w", err)
	}
	if entry != nil {
		if err := s.reuseEntry(ctx, entry, folderID, filename); err != nil {
			s.logger.Warn("dedup reuse failed, re-uploading", "hash", img.Hash[:10], "error", err)
		} else {
			name := entry.Filename
			if s.config.DedupMode == dedup.ModeRename {
				name = filename
			}
			s.logger.Info("reusing deduplicated file", "tag", tag, "filename", name, "hash", img.Hash[:10])
			row.FileID, row.URL, row.Filename, row.Deduped = entry.FileID, entry.URL, name, true
			report.Reused++
			return s.store.InsertUpload(ctx, row)
		}
	}

	file, err := s.sharkey.UploadFile(ctx, folderID, filename, img.Bytes, img.ContentType)
	if err != nil {
		return fmt.Errorf("drive upload: %w", err)
	}
	fileURL := file.URL
	if fileURL == "" {
		fileURL = s.sharkey.BaseURL() + "/files/" + file.ID
	}
	if err := s.index.Store(ctx, &dedup.Entry{
		ContentHash: img.Hash, FileID: file.ID, Filename: filename, URL: fileURL,
	}); err != nil {
		return fmt.Errorf("dedup store: %w", err)
	}

	row.FileID, row.URL, row.Filename = file.ID, fileURL, filename
	report.Uploaded++
	return s.store.InsertUpload(ctx, row)
}

func (s *Service) reuseEntry(ctx context.Context, entry *dedup.Entry, folderID, filename string) error {
	if s.config.DedupMode == dedup.ModeRename {
		return s.sharkey.UpdateFile(ctx, entry.FileID, folderID, filename)
	}
	return s.sharkey.UpdateFile(ctx, entry.FileID, folderID, "")
}

// RunAds publishes one ad per uploaded variant and expires stale managed
// ads.
func (s *Service) RunAds(ctx context.Context) (*PublishReport, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrStageBusy
	}
	defer s.busy.Store(false)
	return s.runAds(ctx)
}

func (s *Service) runAds(ctx context.Context) (*PublishReport, error) {
	run, err := s.store.LatestTrendRun(ctx)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, ErrNoRun
	}
	uploads, err := s.store.Uploads(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	if len(uploads) == 0 {
		return nil, fmt.Errorf("%w: run %s has no uploads", ErrNoCandidate, run.ID)
	}

	allTags, err := s.store.TrendTags(ctx, run.ID, false)
	if err != nil {
		return nil, err
	}
	scores := make(map[string]int, len(allTags))
	for _, t := range allTags {
		scores[t.Name] = t.Score
	}

	creatives := make([]ads.Creative, 0, len(uploads))
	for _, u := range uploads {
		creatives = append(creatives, ads.Creative{
			Tag:         u.Tag,
			VariantRank: u.VariantRank,
			Origin:      u.Origin,
			ImageURL:    u.URL,
			Appearances: u.Appearances,
			Score:       u.Score,
		})
	}

	summary, err := s.publisher.Publish(ctx, creatives, scores)
	if err != nil {
		return nil, err
	}
	if err := s.store.InsertPublishSummary(ctx, &store.PublishSummary{
		RunID: run.ID, Created: summary.Created, Updated: summary.Updated, Expired: summary.Expired,
	}); err != nil {
		return nil, fmt.Errorf("persist publish summary: %w", err)
	}

	s.logger.Info("ads stage done", "run_id", run.ID,
		"created", summary.Created, "updated", summary.Updated, "expired", summary.Expired)
	return &PublishReport{
		RunID: run.ID, Created: summary.Created, Updated: summary.Updated, Expired: summary.Expired,
	}, nil
}

// Run executes the full pipeline: trends, uploads, ads.
func (s *Service) Run(ctx context.Context) (*RunReport, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrStageBusy
	}
	defer s.busy.Store(false)
	return s.run(ctx)
}

func (s *Service) run(ctx context.Context) (*RunReport, error) {
	tr, err := s.runTrends(ctx)
	if err != nil {
		return nil, err
	}
	ur, err := s.runUploads(ctx)
	if err != nil {
		return nil, err
	}
	pr, err := s.runAds(ctx)
	if err != nil {
		return nil, err
	}
	return &RunReport{Trends: tr, Uploads: ur, Publish: pr}, nil
}

func (s *Service) compatibleDomains(stacks map[string]string) []string {
	var out []string
	var skipped []string
	for _, dom := range s.config.Domains {
		if stacks[dom] == connector.StackUnknown {
			skipped = append(skipped, dom)
			continue
		}
		out = append(out, dom)
	}
	if len(skipped) > 0 {
		s.logger.Info("skipping incompatible domains", "count", len(skipped), "domains", skipped)
	}
	return out
}
