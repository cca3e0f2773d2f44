// Package workflow implements the stateful process core: static workflow
// definitions, durable instances with optimistic versioning, and a
// transition engine with condition gating, conditional routing, dynamic
// handler assignment, bounded handler invocation, and scheduled retries.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-eventflow"
	"github.com/goliatone/go-eventflow/health"
	"github.com/goliatone/go-eventflow/registry"
	"github.com/google/uuid"
)

// HandlerInvoker executes a business handler during a transition attempt.
// It receives the triggering event and a snapshot of the instance context
// merged with the transition data, and may return data to merge back into
// the instance context on commit.
type HandlerInvoker interface {
	Invoke(ctx context.Context, handlerID string, evt eventflow.Event, snapshot map[string]any) (map[string]any, error)
}

// InvokerFunc adapts a function to the HandlerInvoker interface.
type InvokerFunc func(ctx context.Context, handlerID string, evt eventflow.Event, snapshot map[string]any) (map[string]any, error)

func (f InvokerFunc) Invoke(ctx context.Context, handlerID string, evt eventflow.Event, snapshot map[string]any) (map[string]any, error) {
	return f(ctx, handlerID, evt, snapshot)
}

// Scheduler defers a function by the given delay. The default uses
// time.AfterFunc; tests inject their own to drive retries deterministically.
type Scheduler func(delay time.Duration, fn func())

const maxRetryDelay = 5 * time.Minute

// ApplyRequest asks the engine to run one named transition on an instance.
type ApplyRequest struct {
	InstanceID string
	Transition string
	// TrackingID keys idempotent resubmission. Generated when empty.
	TrackingID string
	// HandlerID pins the handler, bypassing dynamic assignment.
	HandlerID string
	Event     *eventflow.Event
	Data      map[string]any
}

// Apply outcomes.
const (
	StatusApplied      = "applied"
	StatusPendingRetry = "pending_retry"
)

// ApplyResult reports a committed transition or a pending-retry
// acknowledgment.
type ApplyResult struct {
	Status    string
	Instance  *Instance
	FromState string
	ToState   string
	HandlerID string
	Attempt   int
}

// Engine owns the loaded workflow definitions and drives transitions.
// Transitions on the same instance are serialized by a per-instance lock;
// different instances proceed concurrently.
type Engine struct {
	defs    map[string]Definition
	store   InstanceStore
	actions *ActionRegistry
	invoker HandlerInvoker
	reg     *registry.Registry
	tracker *health.Tracker
	logger  eventflow.Logger
	sink    eventflow.LogSink

	schedule Scheduler
	onPanic  func(funcName string, fields ...map[string]any)

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]struct{}
}

// Option configures the engine.
type Option func(*Engine)

// WithActions sets the registry resolving pre/post action names.
func WithActions(actions *ActionRegistry) Option {
	return func(e *Engine) {
		e.actions = actions
	}
}

// WithInvoker sets the outbound handler invoker.
func WithInvoker(invoker HandlerInvoker) Option {
	return func(e *Engine) {
		e.invoker = invoker
	}
}

// WithRegistry enables dynamic handler assignment from state capability
// requirements.
func WithRegistry(reg *registry.Registry) Option {
	return func(e *Engine) {
		e.reg = reg
	}
}

// WithTracker feeds handler outcomes into circuit breaker accounting.
func WithTracker(tracker *health.Tracker) Option {
	return func(e *Engine) {
		e.tracker = tracker
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger eventflow.Logger) Option {
	return func(e *Engine) {
		e.logger = eventflow.NormalizeLogger(logger)
	}
}

// WithSink sets the observability sink receiving one record per attempt.
func WithSink(sink eventflow.LogSink) Option {
	return func(e *Engine) {
		e.sink = sink
	}
}

// WithScheduler overrides retry scheduling.
func WithScheduler(schedule Scheduler) Option {
	return func(e *Engine) {
		e.schedule = schedule
	}
}

// New validates the workflow set and builds an engine over the given store.
func New(set Set, store InstanceStore, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, eventflow.CloneError(eventflow.ErrConfigurationInvalid, "workflow engine requires an instance store", nil, nil)
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		defs:    make(map[string]Definition, len(set.Workflows)),
		store:   store,
		logger:  eventflow.NormalizeLogger(nil),
		locks:   map[string]*sync.Mutex{},
		pending: map[string]struct{}{},
		schedule: func(delay time.Duration, fn func()) {
			time.AfterFunc(delay, fn)
		},
	}
	for _, def := range set.Workflows {
		e.defs[strings.TrimSpace(def.ID)] = def
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.onPanic = eventflow.MakePanicHandler(eventflow.LoggerPanicLogger(e.logger))
	return e, nil
}

// Definition returns a loaded workflow by id.
func (e *Engine) Definition(id string) (Definition, bool) {
	def, ok := e.defs[strings.TrimSpace(id)]
	return def, ok
}

// WorkflowIDs lists loaded workflow ids, sorted.
func (e *Engine) WorkflowIDs() []string {
	out := make([]string, 0, len(e.defs))
	for id := range e.defs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CreateInstance starts a new instance at the workflow's initial state.
func (e *Engine) CreateInstance(ctx context.Context, workflowID, businessEntityID string, contextData map[string]any) (*Instance, error) {
	started := time.Now()
	def, ok := e.Definition(workflowID)
	if !ok {
		return nil, eventflow.CloneError(eventflow.ErrConfigurationInvalid,
			fmt.Sprintf("workflow %s is not loaded", workflowID), nil, nil)
	}
	inst := NewInstance(def, businessEntityID, contextData)
	version, err := e.store.SaveIfVersion(ctx, inst, 0)
	if err != nil {
		return nil, err
	}
	inst.Version = version
	eventflow.Observe(e.sink, eventflow.Record{
		Component: "workflow",
		Action:    "create",
		Outcome:   "created",
		Metadata: map[string]any{
			"workflow_id":   def.ID,
			"instance_id":   inst.ID,
			"initial_state": inst.CurrentState,
		},
	}, started)
	return inst, nil
}

// Instance loads the current state of an instance.
func (e *Engine) Instance(ctx context.Context, id string) (*Instance, error) {
	return e.store.Load(ctx, id)
}

// Pause stops an active instance from accepting transitions.
func (e *Engine) Pause(ctx context.Context, id string) error {
	return e.setStatus(ctx, id, StatusActive, StatusPaused)
}

// Resume reactivates a paused instance.
func (e *Engine) Resume(ctx context.Context, id string) error {
	return e.setStatus(ctx, id, StatusPaused, StatusActive)
}

func (e *Engine) setStatus(ctx context.Context, id string, from, to Status) error {
	mu := e.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	inst, err := e.store.Load(ctx, id)
	if err != nil {
		return err
	}
	if inst.Status != from {
		return eventflow.CloneError(eventflow.ErrPreconditionFailed,
			fmt.Sprintf("workflow instance %s is %s, expected %s", id, inst.Status, from), nil, nil)
	}
	work := inst.Clone()
	work.Status = to
	work.UpdatedAt = time.Now()
	_, err = e.store.SaveIfVersion(ctx, work, inst.Version)
	return err
}

// Apply runs one transition. It returns a committed result, a pending-retry
// acknowledgment when the attempt failed and retries remain, or an error.
// Resubmitting an already committed (tracking id, transition) pair returns
// the committed result without mutating the instance.
func (e *Engine) Apply(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	req.Transition = normalizeTransition(req.Transition)
	if strings.TrimSpace(req.TrackingID) == "" {
		req.TrackingID = uuid.NewString()
	}
	mu := e.lockFor(req.InstanceID)
	mu.Lock()
	defer mu.Unlock()
	return e.applyLocked(ctx, req, 1)
}

// applyLocked runs one attempt under the instance lock and emits one
// observability record for it.
func (e *Engine) applyLocked(ctx context.Context, req ApplyRequest, attempt int) (*ApplyResult, error) {
	started := time.Now()
	res, err := e.apply(ctx, req, attempt)

	rec := eventflow.Record{
		TrackingID: req.TrackingID,
		Component:  "workflow",
		Action:     "transition",
		Metadata: map[string]any{
			"instance_id": req.InstanceID,
			"transition":  req.Transition,
			"attempt":     attempt,
		},
	}
	switch {
	case err != nil:
		rec.Outcome = "error"
		rec.Metadata["error"] = err.Error()
		rec.Metadata["error_code"] = eventflow.ErrorCode(err)
	case res.Status == StatusPendingRetry:
		rec.Outcome = StatusPendingRetry
	default:
		rec.Outcome = StatusApplied
		rec.Metadata["from_state"] = res.FromState
		rec.Metadata["to_state"] = res.ToState
		if res.HandlerID != "" {
			rec.Metadata["handler_id"] = res.HandlerID
		}
	}
	eventflow.Observe(e.sink, rec, started)

	if res != nil && res.Instance != nil && res.Instance.Status.Terminal() {
		e.dropLock(req.InstanceID)
	}
	return res, err
}

func (e *Engine) apply(ctx context.Context, req ApplyRequest, attempt int) (*ApplyResult, error) {
	inst, err := e.store.Load(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}

	// idempotent replay of an already committed submission
	if entry, ok := inst.Applied(req.TrackingID, req.Transition); ok {
		return &ApplyResult{
			Status:    StatusApplied,
			Instance:  inst,
			FromState: entry.FromState,
			ToState:   entry.ToState,
			HandlerID: entry.HandlerID,
			Attempt:   entry.Attempt,
		}, nil
	}
	if e.isPending(pendKey(req)) {
		return &ApplyResult{Status: StatusPendingRetry, Instance: inst, FromState: inst.CurrentState, Attempt: attempt}, nil
	}

	if inst.Status.Terminal() {
		return nil, eventflow.CloneError(eventflow.ErrInstanceTerminal,
			fmt.Sprintf("workflow instance %s is %s", inst.ID, inst.Status), nil,
			map[string]any{"instance_id": inst.ID, "status": string(inst.Status)})
	}
	if inst.Status == StatusPaused {
		return nil, eventflow.CloneError(eventflow.ErrPreconditionFailed,
			fmt.Sprintf("workflow instance %s is paused", inst.ID), nil, nil)
	}

	def, ok := e.Definition(inst.WorkflowID)
	if !ok {
		return nil, eventflow.CloneError(eventflow.ErrConfigurationInvalid,
			fmt.Sprintf("workflow %s is not loaded", inst.WorkflowID), nil, nil)
	}
	tr, ok := findTransition(def, inst.CurrentState, req.Transition)
	if !ok {
		return nil, eventflow.CloneError(eventflow.ErrInvalidTransition,
			fmt.Sprintf("transition %s is not defined from state %s", req.Transition, inst.CurrentState), nil,
			map[string]any{
				"instance_id":   inst.ID,
				"workflow_id":   inst.WorkflowID,
				"current_state": inst.CurrentState,
				"transition":    req.Transition,
			})
	}

	merged := mergeData(inst.Context, req.Data)
	target, err := resolveTarget(tr, merged)
	if err != nil {
		return nil, err
	}

	res, attemptErr := e.attempt(ctx, inst, def, tr, target, req, attempt)
	if attemptErr == nil {
		return res, nil
	}

	if attempt > tr.RetryCount {
		e.markExhausted(ctx, req, tr, attempt, attemptErr)
		return nil, eventflow.CloneError(eventflow.ErrTransitionExhausted,
			fmt.Sprintf("transition %s exhausted after %d attempts", tr.Name, attempt), attemptErr,
			map[string]any{
				"instance_id":       inst.ID,
				"transition":        tr.Name,
				"attempts":          attempt,
				"retry_recommended": false,
			})
	}

	e.scheduleRetry(req, tr, attempt)
	return &ApplyResult{Status: StatusPendingRetry, Instance: inst, FromState: inst.CurrentState, Attempt: attempt}, nil
}

// attempt runs pre actions, handler invocation, and post actions on a clone
// of the instance, then commits state, history, and context in one
// versioned save. A failure at any step leaves the stored instance
// untouched.
func (e *Engine) attempt(ctx context.Context, inst *Instance, def Definition, tr Transition, target string, req ApplyRequest, attempt int) (*ApplyResult, error) {
	work := inst.Clone()
	ac := &ActionContext{
		Instance:   work,
		Transition: tr,
		Target:     target,
		Data:       req.Data,
		HandlerID:  req.HandlerID,
	}

	if e.actions != nil {
		if err := e.actions.run(ctx, tr.PreActions, ac); err != nil {
			return nil, err
		}
	}

	handlerID := ac.HandlerID
	if handlerID == "" {
		handlerID = e.assignHandler(def, target, work)
	}
	if handlerID != "" && e.invoker != nil {
		out, err := e.invoke(ctx, tr, handlerID, req, work)
		if err != nil {
			return nil, err
		}
		for k, v := range out {
			work.Context[k] = v
		}
	}

	for k, v := range req.Data {
		work.Context[k] = v
	}

	if e.actions != nil {
		if err := e.actions.run(ctx, tr.PostActions, ac); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	from := inst.CurrentState
	work.CurrentState = target
	if st, ok := def.State(target); ok && st.Terminal {
		work.Status = StatusCompleted
	}
	work.History = append(work.History, HistoryEntry{
		TrackingID: req.TrackingID,
		Transition: tr.Name,
		FromState:  from,
		ToState:    target,
		HandlerID:  handlerID,
		Outcome:    OutcomeApplied,
		Attempt:    attempt,
		At:         now,
	})
	work.UpdatedAt = now

	version, err := e.store.SaveIfVersion(ctx, work, inst.Version)
	if err != nil {
		return nil, err
	}
	work.Version = version

	return &ApplyResult{
		Status:    StatusApplied,
		Instance:  work,
		FromState: from,
		ToState:   target,
		HandlerID: handlerID,
		Attempt:   attempt,
	}, nil
}

// invoke calls the handler inside the transition's timeout bound, recording
// the outcome for circuit breaker accounting. The call runs on its own
// goroutine so a handler that ignores its context cannot hold the attempt
// open: at the deadline the attempt fails as a timeout and the still-running
// call is abandoned.
func (e *Engine) invoke(ctx context.Context, tr Transition, handlerID string, req ApplyRequest, work *Instance) (map[string]any, error) {
	if e.tracker != nil && !e.tracker.Allow(handlerID) {
		return nil, eventflow.CloneError(eventflow.ErrPreconditionFailed,
			fmt.Sprintf("handler %s is not accepting work", handlerID), nil,
			map[string]any{"handler_id": handlerID})
	}

	ictx := ctx
	if d := tr.Timeout(); d > 0 {
		var cancel context.CancelFunc
		ictx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	var evt eventflow.Event
	if req.Event != nil {
		evt = *req.Event
	}
	snapshot := mergeData(work.Context, req.Data)

	type invocation struct {
		out map[string]any
		err error
	}
	done := make(chan invocation, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- invocation{err: fmt.Errorf("handler %s panicked: %v", handlerID, r)}
			}
		}()
		out, err := e.invoker.Invoke(ictx, handlerID, evt, snapshot)
		done <- invocation{out: out, err: err}
	}()

	var out map[string]any
	var err error
	select {
	case inv := <-done:
		out, err = inv.out, inv.err
	case <-ictx.Done():
		err = ictx.Err()
	}
	// a return after the deadline is a timeout even when the handler
	// reported success
	if err == nil && ictx.Err() != nil {
		err = ictx.Err()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			if e.tracker != nil {
				e.tracker.Record(handlerID, health.OutcomeTimeout)
			}
			return nil, eventflow.CloneError(eventflow.ErrHandlerTimeout,
				fmt.Sprintf("handler %s exceeded %s", handlerID, tr.Timeout()), err,
				map[string]any{"handler_id": handlerID, "timeout_seconds": tr.TimeoutSeconds})
		}
		if e.tracker != nil {
			e.tracker.Record(handlerID, health.OutcomeFailure)
		}
		return nil, err
	}
	if e.tracker != nil {
		e.tracker.Record(handlerID, health.OutcomeSuccess)
	}
	return out, nil
}

// assignHandler picks a handler for the target state's capability
// requirement, preferring routable candidates.
func (e *Engine) assignHandler(def Definition, target string, work *Instance) string {
	st, ok := def.State(target)
	if !ok || st.AssignedCapability == "" || e.reg == nil {
		return ""
	}
	candidates := e.reg.MatchAll(st.AssignedCapability, work.BusinessEntityID)
	for _, d := range candidates {
		if e.tracker == nil || e.tracker.Routable(d.ID) {
			return d.ID
		}
	}
	if len(candidates) > 0 {
		return candidates[0].ID
	}
	return ""
}

// markExhausted records the terminal failure: status goes to error and an
// error history entry captures the last cause. This is the one permitted
// mutation outside a committed transition.
func (e *Engine) markExhausted(ctx context.Context, req ApplyRequest, tr Transition, attempt int, cause error) {
	inst, err := e.store.Load(ctx, req.InstanceID)
	if err != nil {
		e.logger.Error("workflow instance %s exhaustion load failed: %v", req.InstanceID, err)
		return
	}
	work := inst.Clone()
	work.Status = StatusError
	work.History = append(work.History, HistoryEntry{
		TrackingID: req.TrackingID,
		Transition: tr.Name,
		FromState:  inst.CurrentState,
		Outcome:    OutcomeError,
		Error:      cause.Error(),
		Attempt:    attempt,
		At:         time.Now(),
	})
	work.UpdatedAt = time.Now()
	if _, err := e.store.SaveIfVersion(ctx, work, inst.Version); err != nil {
		e.logger.Error("workflow instance %s exhaustion save failed: %v", req.InstanceID, err)
	}
	e.dropLock(req.InstanceID)
}

// scheduleRetry defers the next attempt with the transition's backoff and
// records the pending key so resubmission acknowledges instead of forking.
func (e *Engine) scheduleRetry(req ApplyRequest, tr Transition, failedAttempt int) {
	key := pendKey(req)
	e.setPending(key)

	delay := retryDelay(tr, failedAttempt)
	next := failedAttempt + 1
	e.logger.Warn("workflow instance %s transition %s attempt %d failed, retrying in %s",
		req.InstanceID, tr.Name, failedAttempt, delay)

	e.schedule(delay, func() {
		defer e.onPanic("workflow.Engine.retry", map[string]any{
			"instance_id": req.InstanceID,
			"transition":  tr.Name,
			"attempt":     next,
		})
		mu := e.lockFor(req.InstanceID)
		mu.Lock()
		defer mu.Unlock()
		e.clearPending(key)
		if _, err := e.applyLocked(context.Background(), req, next); err != nil {
			e.logger.Error("workflow instance %s transition %s attempt %d: %v",
				req.InstanceID, tr.Name, next, err)
		}
	})
}

func retryDelay(tr Transition, failedAttempt int) time.Duration {
	delay := tr.RetryDelay()
	if delay <= 0 {
		delay = time.Second
	}
	if tr.ExponentialBackoff {
		for i := 1; i < failedAttempt; i++ {
			delay *= 2
			if delay >= maxRetryDelay {
				return maxRetryDelay
			}
		}
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

// resolveTarget gates the transition on its condition groups and resolves
// the target state. A satisfied conditional routing rule wins over the
// default target, and can rescue a transition whose groups vetoed it.
func resolveTarget(tr Transition, merged map[string]any) (string, error) {
	routed := ""
	for _, rule := range tr.ConditionalRouting {
		cond, err := ParseExpr(rule.When)
		if err != nil {
			return "", eventflow.CloneError(eventflow.ErrConfigurationInvalid,
				fmt.Sprintf("transition %s routing expression %q invalid", tr.Name, rule.When), err, nil)
		}
		ok, err := cond.Eval(merged)
		if err != nil {
			return "", eventflow.CloneError(eventflow.ErrConfigurationInvalid,
				fmt.Sprintf("transition %s routing expression %q failed", tr.Name, rule.When), err, nil)
		}
		if ok {
			routed = normalizeState(rule.To)
			break
		}
	}

	satisfied, err := EvalGroups(tr.ConditionGroups, merged)
	if err != nil {
		return "", eventflow.CloneError(eventflow.ErrConfigurationInvalid,
			fmt.Sprintf("transition %s condition evaluation failed", tr.Name), err, nil)
	}
	if !satisfied && routed == "" {
		return "", eventflow.CloneError(eventflow.ErrConditionNotMet,
			fmt.Sprintf("transition %s conditions not met", tr.Name), nil,
			map[string]any{"transition": tr.Name})
	}
	if routed != "" {
		return routed, nil
	}
	return normalizeState(tr.To), nil
}

func findTransition(def Definition, fromState, name string) (Transition, bool) {
	fromState = normalizeState(fromState)
	name = normalizeTransition(name)
	for _, tr := range def.Transitions {
		if normalizeState(tr.From) == fromState && normalizeTransition(tr.Name) == name {
			return tr, true
		}
	}
	return Transition{}, false
}

func mergeData(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

func pendKey(req ApplyRequest) string {
	return req.InstanceID + "::" + req.Transition + "::" + req.TrackingID
}

func (e *Engine) setPending(key string) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	e.pending[key] = struct{}{}
}

func (e *Engine) clearPending(key string) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	delete(e.pending, key)
}

func (e *Engine) isPending(key string) bool {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	_, ok := e.pending[key]
	return ok
}

func (e *Engine) lockFor(id string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	mu, ok := e.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[id] = mu
	}
	return mu
}

// dropLock evicts the instance's lock entry. Terminal instances reject
// every transition on load, so a fresh mutex handed to a late caller
// cannot guard a mutation.
func (e *Engine) dropLock(id string) {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	delete(e.locks, id)
}
