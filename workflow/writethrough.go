package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/goliatone/go-eventflow"
	"github.com/goliatone/go-eventflow/cache"
	"github.com/goliatone/go-eventflow/recordstore"
)

// RecordEntityType is the record store entity type used for persisted
// workflow instances.
const RecordEntityType = "workflow_instance"

const instanceKeyPrefix = "workflow::instance::"

// WriteThroughStore keeps in-flight instances in the hot cache tier, writing
// synchronously there and asynchronously to the entity record store. Loads
// fall back to the record store on a cache miss and re-warm the hot tier.
type WriteThroughStore struct {
	mu      sync.Mutex
	cache   *cache.Cache
	records recordstore.Store
	logger  eventflow.Logger
	onPanic func(funcName string, fields ...map[string]any)

	pending chan *Instance
	done    chan struct{}
	once    sync.Once
}

// WriteThroughOption configures a WriteThroughStore.
type WriteThroughOption func(*WriteThroughStore)

// WithWriteThroughLogger sets the logger used for write-behind failures.
func WithWriteThroughLogger(logger eventflow.Logger) WriteThroughOption {
	return func(s *WriteThroughStore) {
		s.logger = eventflow.NormalizeLogger(logger)
	}
}

// NewWriteThroughStore wires the hot tier and the record store together and
// starts the write-behind worker.
func NewWriteThroughStore(c *cache.Cache, records recordstore.Store, opts ...WriteThroughOption) *WriteThroughStore {
	s := &WriteThroughStore{
		cache:   c,
		records: records,
		logger:  eventflow.NormalizeLogger(nil),
		pending: make(chan *Instance, 128),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.onPanic = eventflow.MakePanicHandler(eventflow.LoggerPanicLogger(s.logger))
	go s.writeBehind()
	return s
}

// Close drains and stops the write-behind worker.
func (s *WriteThroughStore) Close() {
	s.once.Do(func() {
		close(s.pending)
		<-s.done
	})
}

func (s *WriteThroughStore) Load(ctx context.Context, id string) (*Instance, error) {
	if val, ok := s.cache.Get(cache.TierHot, instanceKeyPrefix+id); ok {
		if inst, ok := val.(*Instance); ok {
			return inst.Clone(), nil
		}
	}

	doc, err := s.records.Get(ctx, RecordEntityType, id)
	if err != nil {
		return nil, eventflow.CloneError(eventflow.ErrStoreUnavailable,
			fmt.Sprintf("workflow instance %s record load failed", id), err, nil)
	}
	if doc == nil {
		return nil, eventflow.CloneError(eventflow.ErrInstanceNotFound,
			fmt.Sprintf("workflow instance %s not found", id), nil, nil)
	}
	inst, err := instanceFromFields(doc)
	if err != nil {
		return nil, eventflow.CloneError(eventflow.ErrStoreUnavailable,
			fmt.Sprintf("workflow instance %s record is not decodable", id), err, nil)
	}
	s.cache.Set(cache.TierHot, instanceKeyPrefix+id, inst.Clone())
	return inst, nil
}

func (s *WriteThroughStore) SaveIfVersion(ctx context.Context, inst *Instance, expectedVersion int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.currentVersion(ctx, inst.ID)
	if err != nil {
		return 0, err
	}
	if current != expectedVersion {
		return 0, versionConflict(inst.ID, expectedVersion, current)
	}
	saved := inst.Clone()
	saved.Version = expectedVersion + 1
	s.cache.Set(cache.TierHot, instanceKeyPrefix+saved.ID, saved)

	select {
	case s.pending <- saved.Clone():
	default:
		// queue full, persist inline rather than dropping the write
		s.persist(ctx, saved)
	}
	return saved.Version, nil
}

func (s *WriteThroughStore) currentVersion(ctx context.Context, id string) (int, error) {
	if val, ok := s.cache.Get(cache.TierHot, instanceKeyPrefix+id); ok {
		if inst, ok := val.(*Instance); ok {
			return inst.Version, nil
		}
	}
	doc, err := s.records.Get(ctx, RecordEntityType, id)
	if err != nil || doc == nil {
		return 0, nil
	}
	inst, err := instanceFromFields(doc)
	if err != nil {
		return 0, nil
	}
	return inst.Version, nil
}

func (s *WriteThroughStore) writeBehind() {
	defer close(s.done)
	defer s.onPanic("workflow.WriteThroughStore.writeBehind")
	for inst := range s.pending {
		s.persist(context.Background(), inst)
	}
}

func (s *WriteThroughStore) persist(ctx context.Context, inst *Instance) {
	fields, err := instanceToFields(inst)
	if err != nil {
		s.logger.Error("workflow instance %s encode failed: %v", inst.ID, err)
		return
	}
	if err := s.records.Upsert(ctx, RecordEntityType, inst.ID, fields); err != nil {
		s.logger.Error("workflow instance %s write-behind failed: %v", inst.ID, err)
	}
}

func instanceToFields(inst *Instance) (map[string]any, error) {
	raw, err := json.Marshal(inst)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func instanceFromFields(fields map[string]any) (*Instance, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	inst := &Instance{}
	if err := json.Unmarshal(raw, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

var _ InstanceStore = (*WriteThroughStore)(nil)
