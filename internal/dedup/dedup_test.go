package dedup

import (
	"context"
	"testing"

	"github.com/hazyhaar/bubbleads/internal/db"
	_ "modernc.org/sqlite"
)

func newIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := NewIndex(db.OpenMemory(t))
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	return idx
}

func TestResolve_MissReturnsNil(t *testing.T) {
	idx := newIndex(t)
	entry, err := idx.Resolve(context.Background(), "deadbeef")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if entry != nil {
		t.Fatalf("miss: got %+v, want nil", entry)
	}
}

func TestStoreResolve_RoundTrip(t *testing.T) {
	idx := newIndex(t)
	ctx := context.Background()

	in := &Entry{ContentHash: "abc123", FileID: "f1", Filename: "2026-08-26_cats_a.example.png", URL: "https://s/files/f1"}
	if err := idx.Store(ctx, in); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, err := idx.Resolve(ctx, "abc123")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got == nil || got.FileID != "f1" || got.Filename != in.Filename || got.URL != in.URL {
		t.Fatalf("round trip: got %+v", got)
	}
	if got.CreatedAt == 0 || got.UpdatedAt == 0 {
		t.Errorf("timestamps not set: %+v", got)
	}
}

func TestStore_IdempotentOnHash(t *testing.T) {
	// WHAT: Re-storing the same hash upserts, never duplicates.
	// WHY: The same bytes must map to exactly one remote file, forever.
	idx := newIndex(t)
	ctx := context.Background()

	if err := idx.Store(ctx, &Entry{ContentHash: "h", FileID: "f1", Filename: "a.png"}); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := idx.Store(ctx, &Entry{ContentHash: "h", FileID: "f2", Filename: "b.png"}); err != nil {
		t.Fatalf("re-store: %v", err)
	}

	n, err := idx.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("entries: got %d, want 1", n)
	}
	got, _ := idx.Resolve(ctx, "h")
	if got.FileID != "f2" {
		t.Errorf("upsert should refresh remote identity: got %q", got.FileID)
	}
}
