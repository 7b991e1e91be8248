// Package dedup is the content-addressable upload index. Every image the
// pipeline has ever pushed to the drive is recorded under its sha256 hash;
// re-encountering the same bytes reuses the stored remote file instead of
// uploading a second copy.
package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Reuse modes for a dedup hit. "reuse" keeps the stored filename and only
// re-folders the remote file; "rename" rewrites the filename to the current
// topic while keeping the same remote identity.
const (
	ModeReuse  = "reuse"
	ModeRename = "rename"
)

// Schema is applied on open; idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS dedup_entries (
    content_hash TEXT PRIMARY KEY,
    file_id      TEXT NOT NULL,
    filename     TEXT NOT NULL,
    url          TEXT NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL,
    updated_at   INTEGER NOT NULL
);
`

// Entry is one indexed upload.
type Entry struct {
	ContentHash string
	FileID      string
	Filename    string
	URL         string
	CreatedAt   int64
	UpdatedAt   int64
}

// Index wraps the dedup table on a shared database.
type Index struct {
	DB *sql.DB
}

// NewIndex creates the index and applies its schema.
func NewIndex(db *sql.DB) (*Index, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("dedup schema: %w", err)
	}
	return &Index{DB: db}, nil
}

// Resolve looks up an entry by content hash. A miss returns (nil, nil).
func (x *Index) Resolve(ctx context.Context, hash string) (*Entry, error) {
	row := x.DB.QueryRowContext(ctx,
		`SELECT content_hash, file_id, filename, url, created_at, updated_at
		FROM dedup_entries WHERE content_hash = ?`, hash)

	var e Entry
	err := row.Scan(&e.ContentHash, &e.FileID, &e.Filename, &e.URL, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Store upserts an entry keyed by content hash. Re-storing the same hash is
// idempotent; it refreshes the remote identity and bumps updated_at.
func (x *Index) Store(ctx context.Context, e *Entry) error {
	now := time.Now().UnixMilli()
	if e.CreatedAt == 0 {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	_, err := x.DB.ExecContext(ctx,
		`INSERT INTO dedup_entries (content_hash, file_id, filename, url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			file_id = excluded.file_id,
			filename = excluded.filename,
			url = excluded.url,
			updated_at = excluded.updated_at`,
		e.ContentHash, e.FileID, e.Filename, e.URL, e.CreatedAt, e.UpdatedAt,
	)
	return err
}

// Count returns the number of indexed uploads.
func (x *Index) Count(ctx context.Context) (int, error) {
	var n int
	err := x.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM dedup_entries`).Scan(&n)
	return n, err
}
