package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/goliatone/go-eventflow"
)

// Loader supplies the full handler catalog. Loaded at startup, refreshable.
type Loader interface {
	Load(ctx context.Context) ([]HandlerDescriptor, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context) ([]HandlerDescriptor, error)

func (f LoaderFunc) Load(ctx context.Context) ([]HandlerDescriptor, error) { return f(ctx) }

// StaticLoader serves a fixed descriptor list.
func StaticLoader(descs ...HandlerDescriptor) Loader {
	return LoaderFunc(func(context.Context) ([]HandlerDescriptor, error) {
		return descs, nil
	})
}

// Registry is the handler capability catalog.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]HandlerDescriptor
	loader Loader
	logger eventflow.Logger
	croner *cron.Cron
	cronID cron.EntryID
}

// Option customizes registry construction.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger eventflow.Logger) Option {
	return func(r *Registry) {
		r.logger = eventflow.NormalizeLogger(logger)
	}
}

// New builds a registry and performs the initial load.
func New(ctx context.Context, loader Loader, opts ...Option) (*Registry, error) {
	if loader == nil {
		return nil, eventflow.CloneError(eventflow.ErrConfigurationInvalid, "registry loader required", nil, nil)
	}
	r := &Registry{
		byID:   make(map[string]HandlerDescriptor),
		loader: loader,
		logger: eventflow.NormalizeLogger(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if err := r.Refresh(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Refresh reloads the catalog from the loader, replacing it wholesale.
func (r *Registry) Refresh(ctx context.Context) error {
	descs, err := r.loader.Load(ctx)
	if err != nil {
		return eventflow.CloneError(eventflow.ErrStoreUnavailable, "registry load failed", err, nil)
	}
	byID := make(map[string]HandlerDescriptor, len(descs))
	for _, d := range descs {
		d = d.normalize()
		if d.ID == "" {
			return eventflow.CloneError(eventflow.ErrConfigurationInvalid, "handler descriptor missing id", nil, nil)
		}
		if _, exists := byID[d.ID]; exists {
			return eventflow.CloneError(
				eventflow.ErrConfigurationInvalid,
				fmt.Sprintf("duplicate handler id %q", d.ID),
				nil,
				map[string]any{"handler_id": d.ID},
			)
		}
		byID[d.ID] = d
	}

	r.mu.Lock()
	r.byID = byID
	r.mu.Unlock()

	r.logger.Debug("registry refreshed handlers=%d", len(byID))
	return nil
}

// StartPeriodicRefresh schedules catalog refresh on the given cron spec.
func (r *Registry) StartPeriodicRefresh(spec string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.croner != nil {
		r.croner.Stop()
	}
	c := cron.New()
	id, err := c.AddFunc(spec, func() {
		if err := r.Refresh(context.Background()); err != nil {
			r.logger.Warn("periodic registry refresh failed: %v", err)
		}
	})
	if err != nil {
		return eventflow.CloneError(
			eventflow.ErrConfigurationInvalid,
			fmt.Sprintf("invalid refresh schedule %q", spec),
			err,
			nil,
		)
	}
	r.croner = c
	r.cronID = id
	c.Start()
	return nil
}

// StopPeriodicRefresh halts the scheduled refresh if running.
func (r *Registry) StopPeriodicRefresh() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.croner != nil {
		r.croner.Stop()
		r.croner = nil
	}
}

// Lookup returns the descriptor for a handler id.
func (r *Registry) Lookup(id string) (HandlerDescriptor, bool) {
	id = strings.TrimSpace(id)
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	return d, ok
}

// Has reports whether a handler id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.Lookup(id)
	return ok
}

// List returns descriptors advertising the capability, sorted by id.
// An empty capability lists the whole catalog.
func (r *Registry) List(capability string) []HandlerDescriptor {
	capability = normalizeToken(capability)
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]HandlerDescriptor, 0, len(r.byID))
	for _, d := range r.byID {
		if capability != "" && !d.HasCapability(capability) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MatchAll returns descriptors satisfying the capability + entity predicate,
// sorted by id for deterministic tie-breaking downstream.
func (r *Registry) MatchAll(capability, businessEntityID string) []HandlerDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]HandlerDescriptor, 0)
	for _, d := range r.byID {
		if Match(d, capability, businessEntityID) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
