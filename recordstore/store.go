// Package recordstore defines the durable document-store collaborator the
// platform treats as ledger-of-record. Individual entity schemas are out of
// scope; documents are opaque field maps keyed by (entity type, id).
package recordstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-eventflow"
)

// Store is the record-store contract.
type Store interface {
	Get(ctx context.Context, entityType, id string) (map[string]any, error)
	Upsert(ctx context.Context, entityType, id string, fields map[string]any) error
	Query(ctx context.Context, entityType string, filter map[string]any) ([]map[string]any, error)
}

// Memory is a process-local Store for tests and demos.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]map[string]any // entityType::id -> fields
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]map[string]any)}
}

func docKey(entityType, id string) string {
	return strings.TrimSpace(entityType) + "::" + strings.TrimSpace(id)
}

// Get returns a copy of the stored document, or nil when absent.
func (m *Memory) Get(_ context.Context, entityType, id string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[docKey(entityType, id)]
	if !ok {
		return nil, nil
	}
	return copyFields(doc), nil
}

// Upsert merges fields into the stored document, creating it when absent.
func (m *Memory) Upsert(_ context.Context, entityType, id string, fields map[string]any) error {
	entityType = strings.TrimSpace(entityType)
	id = strings.TrimSpace(id)
	if entityType == "" || id == "" {
		return eventflow.CloneError(eventflow.ErrPreconditionFailed, "entity type and id required", nil, nil)
	}
	key := docKey(entityType, id)

	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[key]
	if !ok {
		doc = make(map[string]any, len(fields)+1)
		m.docs[key] = doc
	}
	for k, v := range fields {
		doc[k] = v
	}
	doc["id"] = id
	return nil
}

// Query returns documents of the entity type matching every filter field by
// loose equality, sorted by id for determinism.
func (m *Memory) Query(_ context.Context, entityType string, filter map[string]any) ([]map[string]any, error) {
	prefix := strings.TrimSpace(entityType) + "::"

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []map[string]any
	for key, doc := range m.docs {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if matchesFilter(doc, filter) {
			out = append(out, copyFields(doc))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return fmt.Sprint(out[i]["id"]) < fmt.Sprint(out[j]["id"])
	})
	return out, nil
}

func matchesFilter(doc, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := doc[k]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func copyFields(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
