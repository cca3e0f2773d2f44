// Package dispatcher is the inbound submission surface. It validates and
// normalizes events, routes them to a handler, and when the event type is
// bound to a workflow transition, drives that transition through the engine.
package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-eventflow"
	"github.com/goliatone/go-eventflow/router"
	"github.com/goliatone/go-eventflow/workflow"
)

// Submission outcomes.
const (
	StatusRouted     = "routed"
	StatusUnroutable = "unroutable"
	StatusError      = "error"
)

// Response acknowledges one submitted event.
type Response struct {
	Status     string `json:"status"`
	TrackingID string `json:"tracking_id"`
	HandlerID  string `json:"handler_id,omitempty"`
	Strategy   string `json:"strategy,omitempty"`
	// InstanceID and ToState are set when the event drove a workflow
	// transition.
	InstanceID string `json:"instance_id,omitempty"`
	ToState    string `json:"to_state,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Binding ties an event type to a workflow transition. The instance id is
// taken from the event payload under InstanceField (default "instance_id").
type Binding struct {
	WorkflowID    string `json:"workflow_id" yaml:"workflow_id"`
	Transition    string `json:"transition" yaml:"transition"`
	InstanceField string `json:"instance_field,omitempty" yaml:"instance_field,omitempty"`
	// CreateInstance starts a new instance instead of transitioning an
	// existing one.
	CreateInstance bool `json:"create_instance,omitempty" yaml:"create_instance,omitempty"`
}

// Dispatcher accepts events and coordinates router and workflow engine.
type Dispatcher struct {
	router   *router.Router
	engine   *workflow.Engine
	bindings map[string]Binding
	logger   eventflow.Logger
	sink     eventflow.LogSink
}

// Option configures the dispatcher.
type Option func(*Dispatcher)

// WithEngine wires the workflow engine for bound event types.
func WithEngine(engine *workflow.Engine) Option {
	return func(d *Dispatcher) {
		d.engine = engine
	}
}

// WithBindings maps event types to workflow transitions.
func WithBindings(bindings map[string]Binding) Option {
	return func(d *Dispatcher) {
		d.bindings = make(map[string]Binding, len(bindings))
		for evtType, b := range bindings {
			d.bindings[strings.ToLower(strings.TrimSpace(evtType))] = b
		}
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger eventflow.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = eventflow.NormalizeLogger(logger)
	}
}

// WithSink sets the observability sink.
func WithSink(sink eventflow.LogSink) Option {
	return func(d *Dispatcher) {
		d.sink = sink
	}
}

// New builds a dispatcher over the given router.
func New(r *router.Router, opts ...Option) (*Dispatcher, error) {
	if r == nil {
		return nil, eventflow.CloneError(eventflow.ErrConfigurationInvalid, "dispatcher requires a router", nil, nil)
	}
	d := &Dispatcher{
		router:   r,
		bindings: map[string]Binding{},
		logger:   eventflow.NormalizeLogger(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d, nil
}

// Submit validates, routes, and when bound, transitions. The response always
// carries the tracking id so callers can correlate and resubmit
// idempotently.
func (d *Dispatcher) Submit(ctx context.Context, evt eventflow.Event) (Response, error) {
	started := time.Now()
	evt = evt.Normalize()
	resp := Response{TrackingID: evt.TrackingID}

	if err := evt.Validate(); err != nil {
		resp.Status = StatusError
		resp.Error = err.Error()
		d.observe(resp, evt, started)
		return resp, err
	}

	res, err := d.router.Route(ctx, evt)
	if err != nil {
		if eventflow.IsCode(err, eventflow.ErrCodeUnroutableEvent) {
			resp.Status = StatusUnroutable
		} else {
			resp.Status = StatusError
		}
		resp.Error = err.Error()
		d.observe(resp, evt, started)
		return resp, err
	}
	resp.Status = StatusRouted
	resp.HandlerID = res.HandlerID
	resp.Strategy = res.Strategy

	binding, bound := d.bindings[strings.ToLower(evt.Type)]
	if !bound || d.engine == nil {
		d.observe(resp, evt, started)
		return resp, nil
	}

	if err := d.transition(ctx, evt, binding, res.HandlerID, &resp); err != nil {
		resp.Status = StatusError
		resp.Error = err.Error()
		d.observe(resp, evt, started)
		return resp, err
	}
	d.observe(resp, evt, started)
	return resp, nil
}

func (d *Dispatcher) transition(ctx context.Context, evt eventflow.Event, binding Binding, handlerID string, resp *Response) error {
	if binding.CreateInstance {
		inst, err := d.engine.CreateInstance(ctx, binding.WorkflowID, evt.BusinessEntityID, evt.Payload)
		if err != nil {
			return err
		}
		resp.InstanceID = inst.ID
		resp.ToState = inst.CurrentState
		return nil
	}

	field := binding.InstanceField
	if field == "" {
		field = "instance_id"
	}
	instanceID, _ := evt.Payload[field].(string)
	if strings.TrimSpace(instanceID) == "" {
		return eventflow.CloneError(eventflow.ErrBadEvent,
			fmt.Sprintf("event %s bound to workflow %s but payload lacks %s", evt.Type, binding.WorkflowID, field),
			nil, map[string]any{"tracking_id": evt.TrackingID})
	}

	res, err := d.engine.Apply(ctx, workflow.ApplyRequest{
		InstanceID: instanceID,
		Transition: binding.Transition,
		TrackingID: evt.TrackingID,
		HandlerID:  handlerID,
		Event:      &evt,
		Data:       evt.Payload,
	})
	if err != nil {
		return err
	}
	resp.InstanceID = instanceID
	resp.ToState = res.ToState
	if res.Status == workflow.StatusPendingRetry {
		resp.ToState = ""
	}
	return nil
}

func (d *Dispatcher) observe(resp Response, evt eventflow.Event, started time.Time) {
	eventflow.Observe(d.sink, eventflow.Record{
		TrackingID: evt.TrackingID,
		Component:  "dispatcher",
		Action:     "submit",
		Outcome:    resp.Status,
		Metadata: map[string]any{
			"event_type": evt.Type,
			"handler_id": resp.HandlerID,
			"strategy":   resp.Strategy,
		},
	}, started)
}

// Invokers is a HandlerInvoker backed by registered functions keyed by
// handler id. The engine records invocation outcomes against the health
// tracker, so implementations stay plain functions.
type Invokers struct {
	mu    sync.RWMutex
	funcs map[string]workflow.InvokerFunc
}

// NewInvokers creates an empty invoker registry.
func NewInvokers() *Invokers {
	return &Invokers{funcs: map[string]workflow.InvokerFunc{}}
}

// Register binds a handler id to its implementation.
func (v *Invokers) Register(handlerID string, fn workflow.InvokerFunc) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.funcs[strings.ToLower(strings.TrimSpace(handlerID))] = fn
}

func (v *Invokers) Invoke(ctx context.Context, handlerID string, evt eventflow.Event, snapshot map[string]any) (map[string]any, error) {
	v.mu.RLock()
	fn, ok := v.funcs[strings.ToLower(strings.TrimSpace(handlerID))]
	v.mu.RUnlock()
	if !ok {
		return nil, eventflow.CloneError(eventflow.ErrUnroutableEvent,
			fmt.Sprintf("no invoker registered for handler %s", handlerID), nil, nil)
	}
	return fn(ctx, handlerID, evt, snapshot)
}

var _ workflow.HandlerInvoker = (*Invokers)(nil)
