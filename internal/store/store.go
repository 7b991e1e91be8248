// Package store persists pipeline state between stages and between runs:
// trend runs with their merged tag lists, the upload manifest, publish
// summaries, and the cached domain→stack probe results.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Schema is applied on open; idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS trend_runs (
    id             TEXT PRIMARY KEY,
    created_at     INTEGER NOT NULL,
    selected_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_trend_runs_time ON trend_runs(created_at DESC);

CREATE TABLE IF NOT EXISTS trend_tags (
    run_id   TEXT NOT NULL REFERENCES trend_runs(id) ON DELETE CASCADE,
    name     TEXT NOT NULL,
    score    INTEGER NOT NULL,
    rank     INTEGER NOT NULL,
    selected INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, name)
);

CREATE TABLE IF NOT EXISTS domain_stacks (
    domain     TEXT PRIMARY KEY,
    stack      TEXT NOT NULL,
    checked_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS uploads (
    id           TEXT PRIMARY KEY,
    run_id       TEXT NOT NULL,
    tag          TEXT NOT NULL,
    variant_rank INTEGER NOT NULL DEFAULT 0,
    origin       TEXT NOT NULL DEFAULT '',
    source_url   TEXT NOT NULL DEFAULT '',
    file_id      TEXT NOT NULL,
    url          TEXT NOT NULL DEFAULT '',
    filename     TEXT NOT NULL,
    image_alt    TEXT NOT NULL DEFAULT '',
    appearances  INTEGER NOT NULL DEFAULT 0,
    score        INTEGER NOT NULL DEFAULT 0,
    deduped      INTEGER NOT NULL DEFAULT 0,
    created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_uploads_run ON uploads(run_id, tag, variant_rank);

CREATE TABLE IF NOT EXISTS publish_summaries (
    run_id     TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL,
    created    INTEGER NOT NULL DEFAULT 0,
    updated    INTEGER NOT NULL DEFAULT 0,
    expired    INTEGER NOT NULL DEFAULT 0
);
`

// TrendRun is one completed trends stage.
type TrendRun struct {
	ID            string `json:"id"`
	CreatedAt     int64  `json:"created_at"`
	SelectedCount int    `json:"selected_count"`
}

// TrendTag is one merged tag within a run.
type TrendTag struct {
	RunID    string `json:"run_id"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
	Rank     int    `json:"rank"`
	Selected bool   `json:"selected"`
}

// Upload is one manifest row produced by the uploads stage.
type Upload struct {
	ID          string
	RunID       string
	Tag         string
	VariantRank int
	Origin      string
	SourceURL   string
	FileID      string
	URL         string
	Filename    string
	ImageAlt    string
	Appearances int
	Score       int
	Deduped     bool
	CreatedAt   int64
}

// PublishSummary records what the ads stage did for a run.
type PublishSummary struct {
	RunID     string `json:"run_id"`
	CreatedAt int64  `json:"created_at"`
	Created   int    `json:"created"`
	Updated   int    `json:"updated"`
	Expired   int    `json:"expired"`
}

// Store wraps the shared pipeline database.
type Store struct {
	DB *sql.DB
}

// NewStore creates a Store and applies its schema.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("store schema: %w", err)
	}
	return &Store{DB: db}, nil
}

// InsertTrendRun records a completed trends stage with its full tag list.
// The run and its tags commit atomically.
func (s *Store) InsertTrendRun(ctx context.Context, run *TrendRun, tags []TrendTag) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = time.Now().UnixMilli()
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO trend_runs (id, created_at, selected_count) VALUES (?, ?, ?)`,
		run.ID, run.CreatedAt, run.SelectedCount,
	); err != nil {
		return err
	}
	for _, t := range tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trend_tags (run_id, name, score, rank, selected) VALUES (?, ?, ?, ?, ?)`,
			run.ID, t.Name, t.Score, t.Rank, t.Selected,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LatestTrendRun returns the most recent run, or nil when none exists.
func (s *Store) LatestTrendRun(ctx context.Context) (*TrendRun, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, created_at, selected_count FROM trend_runs
		ORDER BY created_at DESC, id DESC LIMIT 1`)

	var run TrendRun
	err := row.Scan(&run.ID, &run.CreatedAt, &run.SelectedCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// TrendTags returns a run's merged list in rank order. selectedOnly narrows
// to the tags the run actually picked for publishing.
func (s *Store) TrendTags(ctx context.Context, runID string, selectedOnly bool) ([]TrendTag, error) {
	q := `SELECT run_id, name, score, rank, selected FROM trend_tags WHERE run_id = ?`
	if selectedOnly {
		q += ` AND selected = 1`
	}
	q += ` ORDER BY rank ASC`

	rows, err := s.DB.QueryContext(ctx, q, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []TrendTag
	for rows.Next() {
		var t TrendTag
		if err := rows.Scan(&t.RunID, &t.Name, &t.Score, &t.Rank, &t.Selected); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// GetStacks returns all cached domain→stack probe results.
func (s *Store) GetStacks(ctx context.Context) (map[string]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT domain, stack FROM domain_stacks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var domain, stack string
		if err := rows.Scan(&domain, &stack); err != nil {
			return nil, err
		}
		out[domain] = stack
	}
	return out, rows.Err()
}

// PutStack caches one probe result, replacing any previous answer.
func (s *Store) PutStack(ctx context.Context, domain, stack string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO domain_stacks (domain, stack, checked_at) VALUES (?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET stack = excluded.stack, checked_at = excluded.checked_at`,
		domain, stack, time.Now().UnixMilli(),
	)
	return err
}

// InsertUpload adds one manifest row.
func (s *Store) InsertUpload(ctx context.Context, u *Upload) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt == 0 {
		u.CreatedAt = time.Now().UnixMilli()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO uploads (id, run_id, tag, variant_rank, origin, source_url,
		file_id, url, filename, image_alt, appearances, score, deduped, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.RunID, u.Tag, u.VariantRank, u.Origin, u.SourceURL,
		u.FileID, u.URL, u.Filename, u.ImageAlt, u.Appearances, u.Score, u.Deduped, u.CreatedAt,
	)
	return err
}

// Uploads returns a run's manifest ordered by tag then variant rank.
func (s *Store) Uploads(ctx context.Context, runID string) ([]Upload, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, run_id, tag, variant_rank, origin, source_url,
		file_id, url, filename, image_alt, appearances, score, deduped, created_at
		FROM uploads WHERE run_id = ? ORDER BY tag ASC, variant_rank ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uploads []Upload
	for rows.Next() {
		var u Upload
		if err := rows.Scan(&u.ID, &u.RunID, &u.Tag, &u.VariantRank, &u.Origin, &u.SourceURL,
			&u.FileID, &u.URL, &u.Filename, &u.ImageAlt, &u.Appearances, &u.Score, &u.Deduped, &u.CreatedAt,
		); err != nil {
			return nil, err
		}
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

// InsertPublishSummary records the ads stage outcome for a run; re-running
// the stage overwrites the previous summary.
func (s *Store) InsertPublishSummary(ctx context.Context, ps *PublishSummary) error {
	if ps.CreatedAt == 0 {
		ps.CreatedAt = time.Now().UnixMilli()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO publish_summaries (run_id, created_at, created, updated, expired)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			created_at = excluded.created_at,
			created = excluded.created,
			updated = excluded.updated,
			expired = excluded.expired`,
		ps.RunID, ps.CreatedAt, ps.Created, ps.Updated, ps.Expired,
	)
	return err
}

// PublishSummaryFor returns the summary for a run, or nil when the ads stage
// has not run yet.
func (s *Store) PublishSummaryFor(ctx context.Context, runID string) (*PublishSummary, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT run_id, created_at, created, updated, expired
		FROM publish_summaries WHERE run_id = ?`, runID)

	var ps PublishSummary
	err := row.Scan(&ps.RunID, &ps.CreatedAt, &ps.Created, &ps.Updated, &ps.Expired)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ps, nil
}
