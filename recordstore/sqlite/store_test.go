package sqlite

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "records.db"), "")
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSqliteUpsertGetRoundtrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Upsert(ctx, "order", "o-1", map[string]any{"status": "new", "total": 100.0}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.Upsert(ctx, "order", "o-1", map[string]any{"status": "paid"}); err != nil {
		t.Fatalf("merge upsert: %v", err)
	}

	doc, err := store.Get(ctx, "order", "o-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc["status"] != "paid" {
		t.Fatalf("expected merged status paid, got %+v", doc)
	}
	if doc["total"] != 100.0 {
		t.Fatalf("earlier fields must survive the merge, got %+v", doc)
	}
}

func TestSqliteGetAbsent(t *testing.T) {
	store := openTestStore(t)
	doc, err := store.Get(context.Background(), "order", "missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc != nil {
		t.Fatalf("expected nil for absent row, got %+v", doc)
	}
}

func TestSqliteQueryByField(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	store.Upsert(ctx, "order", "o-1", map[string]any{"status": "paid"})
	store.Upsert(ctx, "order", "o-2", map[string]any{"status": "new"})
	store.Upsert(ctx, "invoice", "i-1", map[string]any{"status": "paid"})

	out, err := store.Query(ctx, "order", map[string]any{"status": "paid"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 1 || out[0]["id"] != "o-1" {
		t.Fatalf("expected only o-1, got %+v", out)
	}
}
