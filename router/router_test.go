package router

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-eventflow"
	"github.com/goliatone/go-eventflow/classify"
	"github.com/goliatone/go-eventflow/health"
	"github.com/goliatone/go-eventflow/registry"
)

func newTestRegistry(t *testing.T, descs ...registry.HandlerDescriptor) *registry.Registry {
	t.Helper()
	reg, err := registry.New(context.Background(), registry.StaticLoader(descs...))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return reg
}

func newTestTracker() *health.Tracker {
	return health.NewTracker(health.Config{WindowSize: 10, FailureThreshold: 0.5, MinSamples: 5})
}

func TestDirectMapShortCircuits(t *testing.T) {
	reg := newTestRegistry(t,
		registry.HandlerDescriptor{ID: "order-svc"},
	)
	classifierCalled := false
	r, err := New(
		Config{Direct: map[string]string{"order.created": "order-svc"}},
		reg, newTestTracker(),
		WithClassifier(classify.ClassifierFunc(func(context.Context, eventflow.Event) (string, error) {
			classifierCalled = true
			return "", nil
		})),
	)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	res, err := r.Route(context.Background(), eventflow.NewEvent("order.created", nil))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.HandlerID != "order-svc" || res.Strategy != StrategyDirect {
		t.Fatalf("expected direct hit on order-svc, got %+v", res)
	}
	if classifierCalled {
		t.Fatal("direct map hit must not invoke the classifier")
	}
}

func TestPatternDomainMatchMemoizes(t *testing.T) {
	reg := newTestRegistry(t, registry.HandlerDescriptor{ID: "invoice-svc"})
	r, err := New(Config{Domains: map[string]string{"invoice": "invoice-svc"}}, reg, newTestTracker())
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	res, err := r.Route(context.Background(), eventflow.NewEvent("invoice.overdue.reminder", nil))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.Strategy != StrategyPattern || res.HandlerID != "invoice-svc" {
		t.Fatalf("expected pattern match, got %+v", res)
	}
	if id, ok := r.Cache().Lookup("invoice.overdue.reminder"); !ok || id != "invoice-svc" {
		t.Fatalf("expected memoized direct entry, got %q ok=%v", id, ok)
	}

	// second route hits the learned direct entry
	res2, err := r.Route(context.Background(), eventflow.NewEvent("invoice.overdue.reminder", nil))
	if err != nil {
		t.Fatalf("route again: %v", err)
	}
	if res2.Strategy != StrategyDirect {
		t.Fatalf("expected memoized direct strategy, got %q", res2.Strategy)
	}
}

// Unknown event types still route when the event carries a capability some
// handler advertises.
func TestCapabilityScanForUnknownType(t *testing.T) {
	reg := newTestRegistry(t,
		registry.HandlerDescriptor{ID: "doc-svc", Capabilities: []string{"document-generation"}},
		registry.HandlerDescriptor{ID: "mail-svc", Capabilities: []string{"notify"}},
	)
	r, err := New(Config{}, reg, newTestTracker())
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	evt := eventflow.NewEvent("totally.unknown.type", nil)
	evt.RequiredCapability = "document-generation"
	res, err := r.Route(context.Background(), evt)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.HandlerID != "doc-svc" || res.Strategy != StrategyCapability {
		t.Fatalf("expected capability match on doc-svc, got %+v", res)
	}
}

func TestCapabilityTieBreakBySuccessRate(t *testing.T) {
	reg := newTestRegistry(t,
		registry.HandlerDescriptor{ID: "a-svc", Capabilities: []string{"notify"}},
		registry.HandlerDescriptor{ID: "b-svc", Capabilities: []string{"notify"}},
	)
	tracker := newTestTracker()
	// a-svc has failures on record, b-svc is clean
	tracker.Record("a-svc", health.OutcomeFailure)
	tracker.Record("a-svc", health.OutcomeFailure)

	r, err := New(Config{}, reg, tracker)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	evt := eventflow.NewEvent("x.y", nil)
	evt.RequiredCapability = "notify"
	res, err := r.Route(context.Background(), evt)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.HandlerID != "b-svc" {
		t.Fatalf("expected healthiest handler b-svc, got %q", res.HandlerID)
	}
}

func TestBusinessEntityScopeIgnoresImplicitHandlers(t *testing.T) {
	reg := newTestRegistry(t,
		registry.HandlerDescriptor{ID: "acme-svc", BusinessEntities: []string{"acme"}},
		registry.HandlerDescriptor{ID: "generic-svc"},
	)
	r, err := New(Config{}, reg, newTestTracker())
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	evt := eventflow.NewEvent("some.event", nil)
	evt.BusinessEntityID = "acme"
	res, err := r.Route(context.Background(), evt)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.HandlerID != "acme-svc" || res.Strategy != StrategyEntity {
		t.Fatalf("expected explicitly scoped acme-svc, got %+v", res)
	}
}

// A handler above the failure threshold is replaced by its fallback chain,
// and the memoized mapping keeps the primary so recovery restores it.
func TestFallbackChainUnderFailureAndRecovery(t *testing.T) {
	reg := newTestRegistry(t,
		registry.HandlerDescriptor{
			ID:            "pay-svc",
			FallbackChain: []string{"pay-backup"},
		},
		registry.HandlerDescriptor{ID: "pay-backup"},
	)
	clockNow := time.Unix(5000, 0)
	tracker := health.NewTracker(
		health.Config{WindowSize: 10, FailureThreshold: 0.5, MinSamples: 5, Cooldown: 30 * time.Second},
		health.WithClock(func() time.Time { return clockNow }),
	)
	r, err := New(Config{Direct: map[string]string{"payment.settle": "pay-svc"}}, reg, tracker)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	for i := 0; i < 4; i++ {
		tracker.Record("pay-svc", health.OutcomeSuccess)
	}
	for i := 0; i < 6; i++ {
		tracker.Record("pay-svc", health.OutcomeFailure)
	}
	if tracker.State("pay-svc") != health.StateOpen {
		t.Fatal("expected pay-svc circuit open at 60% failures")
	}

	res, err := r.Route(context.Background(), eventflow.NewEvent("payment.settle", nil))
	if err != nil {
		t.Fatalf("route during outage: %v", err)
	}
	if res.HandlerID != "pay-backup" || !res.Fallback || res.Candidate != "pay-svc" {
		t.Fatalf("expected fallback to pay-backup from pay-svc, got %+v", res)
	}

	// cooldown elapses, probe succeeds, primary serves again
	clockNow = clockNow.Add(31 * time.Second)
	if !tracker.Allow("pay-svc") {
		t.Fatal("expected half-open probe")
	}
	tracker.Record("pay-svc", health.OutcomeSuccess)

	res2, err := r.Route(context.Background(), eventflow.NewEvent("payment.settle", nil))
	if err != nil {
		t.Fatalf("route after recovery: %v", err)
	}
	if res2.HandlerID != "pay-svc" || res2.Fallback {
		t.Fatalf("expected recovered primary pay-svc, got %+v", res2)
	}
}

func TestFallbackWalkSkipsEveryOpenHandler(t *testing.T) {
	reg := newTestRegistry(t,
		registry.HandlerDescriptor{
			ID:            "lead-svc",
			FallbackChain: []string{"lead-backup", "generic-svc"},
		},
		registry.HandlerDescriptor{ID: "lead-backup"},
		registry.HandlerDescriptor{ID: "generic-svc"},
	)
	tracker := newTestTracker()
	r, err := New(Config{Direct: map[string]string{"new.lead": "lead-svc"}}, reg, tracker)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	for _, id := range []string{"lead-svc", "lead-backup"} {
		for i := 0; i < 5; i++ {
			tracker.Record(id, health.OutcomeFailure)
		}
		if tracker.State(id) != health.StateOpen {
			t.Fatalf("expected %s circuit open", id)
		}
	}

	res, err := r.Route(context.Background(), eventflow.NewEvent("new.lead", nil))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.HandlerID != "generic-svc" || !res.Fallback {
		t.Fatalf("expected walk to reach generic-svc, got %+v", res)
	}
}

func TestClassifierFallback(t *testing.T) {
	reg := newTestRegistry(t, registry.HandlerDescriptor{ID: "legal-svc"})
	r, err := New(Config{}, reg, newTestTracker(),
		WithClassifier(classify.NewStaticClassifier(map[string]string{"contract": "legal-svc"})),
	)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	evt := eventflow.NewEvent("misc.upload", map[string]any{"doc": "signed contract attached"})
	res, err := r.Route(context.Background(), evt)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.HandlerID != "legal-svc" || res.Strategy != StrategyClassifier {
		t.Fatalf("expected classifier match, got %+v", res)
	}
}

func TestClassifierUnknownHandlerRejected(t *testing.T) {
	reg := newTestRegistry(t, registry.HandlerDescriptor{ID: "real-svc"})
	r, err := New(Config{}, reg, newTestTracker(),
		WithClassifier(classify.ClassifierFunc(func(context.Context, eventflow.Event) (string, error) {
			return "ghost-svc", nil
		})),
	)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	_, err = r.Route(context.Background(), eventflow.NewEvent("weird.event", nil))
	if !eventflow.IsCode(err, eventflow.ErrCodeUnroutableEvent) {
		t.Fatalf("expected EF_UNROUTABLE_EVENT, got %v", err)
	}
}

func TestUnroutableEmitsRecord(t *testing.T) {
	reg := newTestRegistry(t)
	sink := eventflow.NewMemorySink()
	r, err := New(Config{}, reg, newTestTracker(), WithSink(sink))
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	_, err = r.Route(context.Background(), eventflow.NewEvent("nobody.cares", nil))
	if !eventflow.IsCode(err, eventflow.ErrCodeUnroutableEvent) {
		t.Fatalf("expected EF_UNROUTABLE_EVENT, got %v", err)
	}

	recs := sink.ByComponent("router")
	if len(recs) != 1 {
		t.Fatalf("expected one routing record, got %d", len(recs))
	}
	if recs[0].Outcome != "unroutable" {
		t.Fatalf("expected unroutable outcome, got %q", recs[0].Outcome)
	}
	if recs[0].TrackingID == "" {
		t.Fatal("record must carry the tracking id")
	}
}

func TestRoutingCacheMemoizeIdempotent(t *testing.T) {
	c := NewRoutingCache(map[string]string{"seed.event": "seed-svc"})
	c.Memoize("learned.event", "first-svc")
	c.Memoize("learned.event", "second-svc")

	if id, _ := c.Lookup("learned.event"); id != "first-svc" {
		t.Fatalf("memoize must not overwrite, got %q", id)
	}

	c.Flush()
	if _, ok := c.Lookup("learned.event"); ok {
		t.Fatal("flush must drop learned entries")
	}
	if id, _ := c.Lookup("seed.event"); id != "seed-svc" {
		t.Fatalf("flush must keep the seed, got %q", id)
	}

	c.Reload(map[string]string{"other.event": "other-svc"})
	if _, ok := c.Lookup("seed.event"); ok {
		t.Fatal("reload must replace the seed")
	}
	if id, _ := c.Lookup("other.event"); id != "other-svc" {
		t.Fatalf("expected reloaded entry, got %q", id)
	}
}
