package health

import (
	"sync"
	"time"

	"github.com/goliatone/go-eventflow"
)

// State is the breaker state for one handler.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Outcome is one observed handler call result.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	OutcomeTimeout
)

// Config tunes the tracker. Zero values fall back to defaults.
type Config struct {
	// WindowSize is the number of recent outcomes kept per handler.
	WindowSize int
	// FailureThreshold is the failure rate (0..1] that opens the circuit.
	FailureThreshold float64
	// MinSamples is the minimum window fill before the threshold applies.
	MinSamples int
	// Cooldown is the initial open->half-open delay. Doubles on each
	// reopen up to MaxCooldown.
	Cooldown    time.Duration
	MaxCooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = 20
	}
	if c.FailureThreshold <= 0 || c.FailureThreshold > 1 {
		c.FailureThreshold = 0.5
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.MaxCooldown <= 0 {
		c.MaxCooldown = 10 * time.Minute
	}
	return c
}

type handlerHealth struct {
	window   []Outcome
	next     int
	filled   int
	state    State
	openedAt time.Time
	cooldown time.Duration
	probing  bool
}

// Tracker keeps a sliding outcome window and breaker state per handler.
// Counters are eventually consistent across concurrent callers: a brief race
// letting one extra call through a just-opening circuit is acceptable,
// bounded by the window size.
type Tracker struct {
	mu       sync.Mutex
	cfg      Config
	handlers map[string]*handlerHealth
	logger   eventflow.Logger
	now      func() time.Time
}

// Option customizes tracker construction.
type Option func(*Tracker)

// WithLogger sets the tracker logger.
func WithLogger(logger eventflow.Logger) Option {
	return func(t *Tracker) {
		t.logger = eventflow.NormalizeLogger(logger)
	}
}

// WithClock overrides time lookup, used by tests to drive cooldowns.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker builds a tracker with the given config.
func NewTracker(cfg Config, opts ...Option) *Tracker {
	t := &Tracker{
		cfg:      cfg.withDefaults(),
		handlers: make(map[string]*handlerHealth),
		logger:   eventflow.NormalizeLogger(nil),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

func (t *Tracker) handler(id string) *handlerHealth {
	h, ok := t.handlers[id]
	if !ok {
		h = &handlerHealth{
			window:   make([]Outcome, t.cfg.WindowSize),
			state:    StateClosed,
			cooldown: t.cfg.Cooldown,
		}
		t.handlers[id] = h
	}
	return h
}

// State returns the current breaker state, applying cooldown expiry.
func (t *Tracker) State(id string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stateLocked(t.handler(id))
}

func (t *Tracker) stateLocked(h *handlerHealth) State {
	if h.state == StateOpen && t.now().Sub(h.openedAt) >= h.cooldown {
		h.state = StateHalfOpen
		h.probing = false
	}
	return h.state
}

// Allow reports whether a call to the handler may proceed. Half-open allows
// a single trial probe until its outcome is recorded.
func (t *Tracker) Allow(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.handler(id)
	switch t.stateLocked(h) {
	case StateClosed:
		return true
	case StateHalfOpen:
		if h.probing {
			return false
		}
		h.probing = true
		return true
	default:
		return false
	}
}

// Routable reports whether the router may select this handler: closed and
// half-open handlers are eligible, open ones are not.
func (t *Tracker) Routable(id string) bool {
	return t.State(id) != StateOpen
}

// Record stores one call outcome and applies the breaker rules.
func (t *Tracker) Record(id string, outcome Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.handler(id)
	state := t.stateLocked(h)

	h.window[h.next] = outcome
	h.next = (h.next + 1) % len(h.window)
	if h.filled < len(h.window) {
		h.filled++
	}

	failed := outcome != OutcomeSuccess

	switch state {
	case StateHalfOpen:
		h.probing = false
		if failed {
			// reopen with doubled, capped cooldown
			h.cooldown = minDuration(h.cooldown*2, t.cfg.MaxCooldown)
			t.openLocked(id, h)
			return
		}
		h.state = StateClosed
		h.cooldown = t.cfg.Cooldown
		t.resetWindowLocked(h)
		t.logger.Info("circuit closed handler=%s", id)
	case StateClosed:
		if failed && t.breachedLocked(h) {
			t.openLocked(id, h)
		}
	case StateOpen:
		// late results while open only feed the window
	}
}

func (t *Tracker) openLocked(id string, h *handlerHealth) {
	h.state = StateOpen
	h.openedAt = t.now()
	h.probing = false
	t.logger.Warn("circuit opened handler=%s cooldown=%s", id, h.cooldown)
}

func (t *Tracker) resetWindowLocked(h *handlerHealth) {
	for i := range h.window {
		h.window[i] = OutcomeSuccess
	}
	h.next = 0
	h.filled = 0
}

func (t *Tracker) breachedLocked(h *handlerHealth) bool {
	if h.filled < t.cfg.MinSamples {
		return false
	}
	failures := 0
	for i := 0; i < h.filled; i++ {
		if h.window[i] != OutcomeSuccess {
			failures++
		}
	}
	return float64(failures)/float64(h.filled) >= t.cfg.FailureThreshold
}

// SuccessRate returns the recent success fraction for the handler. Handlers
// with an empty window score 1.0 so fresh handlers are not penalized.
func (t *Tracker) SuccessRate(id string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.handler(id)
	if h.filled == 0 {
		return 1.0
	}
	ok := 0
	for i := 0; i < h.filled; i++ {
		if h.window[i] == OutcomeSuccess {
			ok++
		}
	}
	return float64(ok) / float64(h.filled)
}

func minDuration(a, b time.Duration) time.Duration {
	if b > 0 && a > b {
		return b
	}
	return a
}
