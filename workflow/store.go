package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/goliatone/go-eventflow"
)

// InstanceStore persists workflow instances. SaveIfVersion only writes when
// the stored version matches expectedVersion, returning the new version.
type InstanceStore interface {
	Load(ctx context.Context, id string) (*Instance, error)
	SaveIfVersion(ctx context.Context, inst *Instance, expectedVersion int) (int, error)
}

// MemoryStore is an in-memory InstanceStore. Instances are stored and
// returned as clones so callers never share state with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[string]*Instance
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{instances: map[string]*Instance{}}
}

func (s *MemoryStore) Load(ctx context.Context, id string) (*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, eventflow.CloneError(eventflow.ErrInstanceNotFound,
			fmt.Sprintf("workflow instance %s not found", id), nil, nil)
	}
	return inst.Clone(), nil
}

func (s *MemoryStore) SaveIfVersion(ctx context.Context, inst *Instance, expectedVersion int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.instances[inst.ID]
	switch {
	case !exists && expectedVersion != 0:
		return 0, versionConflict(inst.ID, expectedVersion, 0)
	case exists && current.Version != expectedVersion:
		return 0, versionConflict(inst.ID, expectedVersion, current.Version)
	}
	saved := inst.Clone()
	saved.Version = expectedVersion + 1
	s.instances[inst.ID] = saved
	return saved.Version, nil
}

func versionConflict(id string, expected, actual int) error {
	return eventflow.CloneError(eventflow.ErrVersionConflict,
		fmt.Sprintf("workflow instance %s version mismatch", id), nil,
		map[string]any{
			"instance_id":      id,
			"expected_version": expected,
			"actual_version":   actual,
		})
}
