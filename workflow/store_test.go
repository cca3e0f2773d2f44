package workflow

import (
	"context"
	"testing"

	"github.com/goliatone/go-eventflow"
	"github.com/goliatone/go-eventflow/cache"
	"github.com/goliatone/go-eventflow/recordstore"
)

func TestMemoryStoreVersionedSave(t *testing.T) {
	store := NewMemoryStore()
	inst := NewInstance(orderWorkflow(), "acme", nil)

	v, err := store.SaveIfVersion(context.Background(), inst, 0)
	if err != nil {
		t.Fatalf("initial save: %v", err)
	}
	if v != 1 {
		t.Fatalf("expected version 1, got %d", v)
	}

	// stale writer loses
	if _, err := store.SaveIfVersion(context.Background(), inst, 0); !eventflow.IsCode(err, eventflow.ErrCodeVersionConflict) {
		t.Fatalf("expected EF_VERSION_CONFLICT, got %v", err)
	}

	loaded, err := store.Load(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := store.SaveIfVersion(context.Background(), loaded, loaded.Version); err != nil {
		t.Fatalf("save at current version: %v", err)
	}
}

func TestMemoryStoreLoadReturnsClones(t *testing.T) {
	store := NewMemoryStore()
	inst := NewInstance(orderWorkflow(), "", map[string]any{"k": "v"})
	if _, err := store.SaveIfVersion(context.Background(), inst, 0); err != nil {
		t.Fatalf("save: %v", err)
	}

	a, _ := store.Load(context.Background(), inst.ID)
	a.Context["k"] = "mutated"

	b, _ := store.Load(context.Background(), inst.ID)
	if b.Context["k"] != "v" {
		t.Fatal("loaded instances must not share state")
	}
}

func TestMemoryStoreLoadMissing(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Load(context.Background(), "nope")
	if !eventflow.IsCode(err, eventflow.ErrCodeInstanceNotFound) {
		t.Fatalf("expected EF_INSTANCE_NOT_FOUND, got %v", err)
	}
}

func TestWriteThroughSaveAndLoadHot(t *testing.T) {
	records := recordstore.NewMemory()
	store := NewWriteThroughStore(cache.New(), records)
	defer store.Close()

	inst := NewInstance(orderWorkflow(), "acme", map[string]any{"order_value": 1500})
	if _, err := store.SaveIfVersion(context.Background(), inst, 0); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Version != 1 || loaded.BusinessEntityID != "acme" {
		t.Fatalf("unexpected instance: %+v", loaded)
	}

	if _, err := store.SaveIfVersion(context.Background(), loaded, 0); !eventflow.IsCode(err, eventflow.ErrCodeVersionConflict) {
		t.Fatalf("expected EF_VERSION_CONFLICT, got %v", err)
	}
}

func TestWriteBehindReachesRecordStore(t *testing.T) {
	records := recordstore.NewMemory()
	store := NewWriteThroughStore(cache.New(), records)

	inst := NewInstance(orderWorkflow(), "acme", nil)
	if _, err := store.SaveIfVersion(context.Background(), inst, 0); err != nil {
		t.Fatalf("save: %v", err)
	}
	store.Close() // drains the write-behind queue

	doc, err := records.Get(context.Background(), RecordEntityType, inst.ID)
	if err != nil {
		t.Fatalf("record get: %v", err)
	}
	if doc == nil {
		t.Fatal("expected the instance persisted to the record store")
	}
	if doc["workflow_id"] != "order-approval" {
		t.Fatalf("unexpected record fields: %+v", doc)
	}
}

func TestLoadFallsBackToRecordStore(t *testing.T) {
	records := recordstore.NewMemory()
	first := NewWriteThroughStore(cache.New(), records)

	inst := NewInstance(orderWorkflow(), "acme", map[string]any{"order_value": 900})
	if _, err := first.SaveIfVersion(context.Background(), inst, 0); err != nil {
		t.Fatalf("save: %v", err)
	}
	first.Close()

	// fresh hot tier simulates a cold start
	second := NewWriteThroughStore(cache.New(), records)
	defer second.Close()

	loaded, err := second.Load(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("load after cold start: %v", err)
	}
	if loaded.Version != 1 || loaded.CurrentState != "pending" {
		t.Fatalf("unexpected recovered instance: %+v", loaded)
	}
}
