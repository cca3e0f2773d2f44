// Package router classifies inbound events and selects a handler through an
// ordered list of strategies with early exit: direct map, pattern-derived
// domain, capability scan, business-entity scope, then the AI classification
// fallback. Only handlers whose circuit is closed or half-open are eligible;
// open handlers are replaced by the first non-open entry of their fallback
// chain.
package router

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-eventflow"
	"github.com/goliatone/go-eventflow/classify"
	"github.com/goliatone/go-eventflow/health"
	"github.com/goliatone/go-eventflow/registry"
)

// Strategy names emitted with every routing decision.
const (
	StrategyDirect     = "direct"
	StrategyPattern    = "pattern"
	StrategyCapability = "capability"
	StrategyEntity     = "business_entity"
	StrategyClassifier = "classifier"
)

// Resolution is one routing decision.
type Resolution struct {
	HandlerID string
	// Strategy that produced the primary candidate.
	Strategy string
	// Fallback is set when the primary candidate's circuit was open and a
	// fallback-chain entry was substituted.
	Fallback bool
	// Candidate is the primary handler the strategy selected, before any
	// fallback substitution.
	Candidate string
}

// Router applies routing strategies in fixed priority order.
type Router struct {
	cache      *RoutingCache
	domains    map[string]string
	reg        *registry.Registry
	tracker    *health.Tracker
	classifier classify.Classifier
	logger     eventflow.Logger
	sink       eventflow.LogSink
}

// Option customizes router construction.
type Option func(*Router)

// WithClassifier wires the AI classification fallback.
func WithClassifier(c classify.Classifier) Option {
	return func(r *Router) {
		r.classifier = c
	}
}

// WithLogger sets the router logger.
func WithLogger(logger eventflow.Logger) Option {
	return func(r *Router) {
		r.logger = eventflow.NormalizeLogger(logger)
	}
}

// WithSink sets the observability sink.
func WithSink(sink eventflow.LogSink) Option {
	return func(r *Router) {
		r.sink = sink
	}
}

// New builds a router over the given table, registry and health tracker.
func New(cfg Config, reg *registry.Registry, tracker *health.Tracker, opts ...Option) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, eventflow.CloneError(eventflow.ErrPreconditionFailed, "router requires a registry", nil, nil)
	}
	if tracker == nil {
		tracker = health.NewTracker(health.Config{})
	}
	domains := make(map[string]string, len(cfg.Domains))
	for k, v := range cfg.Domains {
		domains[normalizeKey(k)] = strings.TrimSpace(v)
	}
	r := &Router{
		cache:   NewRoutingCache(cfg.Direct),
		domains: domains,
		reg:     reg,
		tracker: tracker,
		logger:  eventflow.NormalizeLogger(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Cache exposes the routing cache for explicit flush/reload.
func (r *Router) Cache() *RoutingCache {
	return r.cache
}

// Route selects a handler for the event. Strategies run in fixed priority
// order and short-circuit on the first candidate with a healthy resolution.
func (r *Router) Route(ctx context.Context, evt eventflow.Event) (Resolution, error) {
	started := time.Now()
	evt = evt.Normalize()
	if err := evt.Validate(); err != nil {
		return Resolution{}, err
	}

	res, err := r.route(ctx, evt)

	outcome := "routed"
	meta := map[string]any{"event_type": evt.Type}
	if err != nil {
		outcome = "unroutable"
	} else {
		meta["handler_id"] = res.HandlerID
		meta["strategy"] = res.Strategy
		if res.Fallback {
			meta["fallback_from"] = res.Candidate
		}
	}
	eventflow.Observe(r.sink, eventflow.Record{
		TrackingID: evt.TrackingID,
		Component:  "router",
		Action:     "route",
		Outcome:    outcome,
		Metadata:   meta,
	}, started)

	return res, err
}

func (r *Router) route(ctx context.Context, evt eventflow.Event) (Resolution, error) {
	// 1. direct map
	if id, ok := r.cache.Lookup(evt.Type); ok {
		if res, ok := r.resolveHealthy(StrategyDirect, id); ok {
			return res, nil
		}
	}

	// 2. pattern-derived domain
	if id := r.matchDomain(evt.Type); id != "" {
		if res, ok := r.resolveHealthy(StrategyPattern, id); ok {
			r.cache.Memoize(evt.Type, id)
			return res, nil
		}
	}

	// 3. capability scan
	if evt.RequiredCapability != "" {
		if id := r.selectByCapability(evt); id != "" {
			if res, ok := r.resolveHealthy(StrategyCapability, id); ok {
				r.cache.Memoize(evt.Type, id)
				return res, nil
			}
		}
	}

	// 4. business-entity scope
	if evt.BusinessEntityID != "" {
		if id := r.selectByEntity(evt); id != "" {
			if res, ok := r.resolveHealthy(StrategyEntity, id); ok {
				r.cache.Memoize(evt.Type, id)
				return res, nil
			}
		}
	}

	// 5. AI classification fallback
	if r.classifier != nil {
		id, err := r.classifier.Classify(ctx, evt)
		if err != nil {
			r.logger.Warn("classifier failed tracking_id=%s: %v", evt.TrackingID, err)
		} else if id != "" {
			if !r.reg.Has(id) {
				return Resolution{}, eventflow.CloneError(
					eventflow.ErrUnroutableEvent,
					fmt.Sprintf("classifier returned unknown handler %q", id),
					eventflow.CloneError(eventflow.ErrClassifierRejected, "", nil, nil),
					r.errMeta(evt),
				)
			}
			if res, ok := r.resolveHealthy(StrategyClassifier, id); ok {
				r.cache.Memoize(evt.Type, id)
				return res, nil
			}
		}
	}

	return Resolution{}, eventflow.CloneError(
		eventflow.ErrUnroutableEvent,
		fmt.Sprintf("no healthy handler for event type %q", evt.Type),
		nil,
		r.errMeta(evt),
	)
}

func (r *Router) errMeta(evt eventflow.Event) map[string]any {
	return map[string]any{
		"tracking_id":         evt.TrackingID,
		"event_type":          evt.Type,
		"business_entity_id":  evt.BusinessEntityID,
		"required_capability": evt.RequiredCapability,
	}
}

// resolveHealthy applies circuit-breaker rules to a strategy candidate:
// routable candidates win outright, open ones are replaced by the first
// routable fallback-chain entry.
func (r *Router) resolveHealthy(strategy, candidate string) (Resolution, bool) {
	if r.tracker.Routable(candidate) {
		return Resolution{HandlerID: candidate, Strategy: strategy, Candidate: candidate}, true
	}
	desc, ok := r.reg.Lookup(candidate)
	if !ok {
		return Resolution{}, false
	}
	for _, fallback := range desc.FallbackChain {
		if fallback == candidate {
			continue
		}
		if r.reg.Has(fallback) && r.tracker.Routable(fallback) {
			return Resolution{
				HandlerID: fallback,
				Strategy:  strategy,
				Candidate: candidate,
				Fallback:  true,
			}, true
		}
	}
	return Resolution{}, false
}

// matchDomain derives domain tokens from the event type and looks each up
// in the domain table, longest token first for determinism.
func (r *Router) matchDomain(eventType string) string {
	if len(r.domains) == 0 {
		return ""
	}
	tokens := strings.FieldsFunc(normalizeKey(eventType), func(c rune) bool {
		return !('a' <= c && c <= 'z' || '0' <= c && c <= '9')
	})
	sort.SliceStable(tokens, func(i, j int) bool { return len(tokens[i]) > len(tokens[j]) })
	for _, tok := range tokens {
		if id, ok := r.domains[tok]; ok {
			return id
		}
	}
	return ""
}

// selectByCapability implements the capability strategy ordering: a single
// match wins; multiple matches are filtered by business entity, then
// tie-broken by highest recent success rate, then smallest id.
func (r *Router) selectByCapability(evt eventflow.Event) string {
	matches := r.reg.List(evt.RequiredCapability)
	if len(matches) == 0 {
		return ""
	}
	if len(matches) == 1 {
		return matches[0].ID
	}
	if evt.BusinessEntityID != "" {
		scoped := matches[:0:0]
		for _, d := range matches {
			if d.ServesEntity(evt.BusinessEntityID) {
				scoped = append(scoped, d)
			}
		}
		if len(scoped) > 0 {
			matches = scoped
		}
	}
	return r.pickBest(matches)
}

// selectByEntity picks among handlers explicitly scoped to the entity.
func (r *Router) selectByEntity(evt eventflow.Event) string {
	var scoped []registry.HandlerDescriptor
	for _, d := range r.reg.List("") {
		if len(d.BusinessEntities) == 0 {
			continue
		}
		if d.ServesEntity(evt.BusinessEntityID) {
			scoped = append(scoped, d)
		}
	}
	if len(scoped) == 0 {
		return ""
	}
	return r.pickBest(scoped)
}

// pickBest orders candidates by recent success rate, then id. Candidates
// arrive sorted by id, so a stable sort keeps the lexicographic tie-break.
func (r *Router) pickBest(candidates []registry.HandlerDescriptor) string {
	sort.SliceStable(candidates, func(i, j int) bool {
		return r.tracker.SuccessRate(candidates[i].ID) > r.tracker.SuccessRate(candidates[j].ID)
	})
	return candidates[0].ID
}
