// Package cache implements the tiered context store shared by routing and
// workflow execution: hot (seconds, in-flight instance state), warm
// (minutes, cached record-store reads), cold (hours, derived data) and
// permanent (days, config/reference data refreshed on read). All tiers
// share one key-value contract plus tier-local publish.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-eventflow"
)

// Tier identifies one storage tier.
type Tier string

const (
	TierHot       Tier = "hot"
	TierWarm      Tier = "warm"
	TierCold      Tier = "cold"
	TierPermanent Tier = "permanent"
)

// Valid reports whether the tier is one of the four known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierHot, TierWarm, TierCold, TierPermanent:
		return true
	}
	return false
}

// DefaultTTL returns the tier's default entry lifetime.
func (t Tier) DefaultTTL() time.Duration {
	switch t {
	case TierHot:
		return 30 * time.Second
	case TierWarm:
		return 10 * time.Minute
	case TierCold:
		return 6 * time.Hour
	case TierPermanent:
		return 7 * 24 * time.Hour
	default:
		return time.Minute
	}
}

// Entry is one stored value with its tier and lifetime.
type Entry struct {
	Key       string
	Value     any
	Tier      Tier
	TTL       time.Duration
	WrittenAt time.Time
}

func (e Entry) expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.Sub(e.WrittenAt) >= e.TTL
}

// Subscriber receives tier-local publishes for a key prefix.
type Subscriber func(key string, value any)

type tierStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	subs    map[string][]Subscriber
}

// Cache is the four-tier hierarchy. Each tier is independent; cross-tier
// promotion is a caller policy, not a cache behavior.
type Cache struct {
	tiers  map[Tier]*tierStore
	logger eventflow.Logger
	now    func() time.Time
}

// Option customizes cache construction.
type Option func(*Cache)

// WithLogger sets the cache logger.
func WithLogger(logger eventflow.Logger) Option {
	return func(c *Cache) {
		c.logger = eventflow.NormalizeLogger(logger)
	}
}

// WithClock overrides time lookup for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New builds an empty cache hierarchy.
func New(opts ...Option) *Cache {
	c := &Cache{
		tiers: map[Tier]*tierStore{
			TierHot:       newTierStore(),
			TierWarm:      newTierStore(),
			TierCold:      newTierStore(),
			TierPermanent: newTierStore(),
		},
		logger: eventflow.NormalizeLogger(nil),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func newTierStore() *tierStore {
	return &tierStore{
		entries: make(map[string]Entry),
		subs:    make(map[string][]Subscriber),
	}
}

func (c *Cache) tier(t Tier) *tierStore {
	if ts, ok := c.tiers[t]; ok {
		return ts
	}
	return c.tiers[TierWarm]
}

// Set writes a value with the tier default TTL.
func (c *Cache) Set(tier Tier, key string, value any) {
	c.SetTTL(tier, key, value, tier.DefaultTTL())
}

// SetTTL writes a value with an explicit TTL. ttl<=0 means no expiry.
func (c *Cache) SetTTL(tier Tier, key string, value any, ttl time.Duration) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	ts := c.tier(tier)
	ts.mu.Lock()
	ts.entries[key] = Entry{
		Key:       key,
		Value:     value,
		Tier:      tier,
		TTL:       ttl,
		WrittenAt: c.now(),
	}
	ts.mu.Unlock()
}

// Get reads a live value. Permanent-tier reads refresh the entry's written
// time so reference data survives as long as it keeps being used.
func (c *Cache) Get(tier Tier, key string) (any, bool) {
	ts := c.tier(tier)
	now := c.now()

	ts.mu.Lock()
	defer ts.mu.Unlock()

	entry, ok := ts.entries[key]
	if !ok {
		return nil, false
	}
	if entry.expired(now) {
		delete(ts.entries, key)
		return nil, false
	}
	if tier == TierPermanent {
		entry.WrittenAt = now
		ts.entries[key] = entry
	}
	return entry.Value, true
}

// Delete removes a key from a tier.
func (c *Cache) Delete(tier Tier, key string) {
	ts := c.tier(tier)
	ts.mu.Lock()
	delete(ts.entries, key)
	ts.mu.Unlock()
}

// Publish writes a value and notifies tier-local subscribers whose prefix
// matches the key. Notification runs on the caller goroutine.
func (c *Cache) Publish(tier Tier, key string, value any) {
	c.Set(tier, key, value)

	ts := c.tier(tier)
	ts.mu.RLock()
	var notify []Subscriber
	for prefix, subs := range ts.subs {
		if strings.HasPrefix(key, prefix) {
			notify = append(notify, subs...)
		}
	}
	ts.mu.RUnlock()

	for _, sub := range notify {
		sub(key, value)
	}
}

// Subscribe registers a tier-local subscriber for a key prefix.
func (c *Cache) Subscribe(tier Tier, prefix string, sub Subscriber) {
	if sub == nil {
		return
	}
	ts := c.tier(tier)
	ts.mu.Lock()
	ts.subs[prefix] = append(ts.subs[prefix], sub)
	ts.mu.Unlock()
}

// Len reports the live entry count for a tier. Expired entries still
// waiting for the janitor are excluded.
func (c *Cache) Len(tier Tier) int {
	ts := c.tier(tier)
	now := c.now()
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	n := 0
	for _, entry := range ts.entries {
		if !entry.expired(now) {
			n++
		}
	}
	return n
}

// Sweep drops expired entries from every tier and returns the evicted count.
func (c *Cache) Sweep() int {
	now := c.now()
	evicted := 0
	for _, ts := range c.tiers {
		ts.mu.Lock()
		for key, entry := range ts.entries {
			if entry.expired(now) {
				delete(ts.entries, key)
				evicted++
			}
		}
		ts.mu.Unlock()
	}
	return evicted
}
