package dispatcher

import (
	"context"
	"testing"

	"github.com/goliatone/go-eventflow"
	"github.com/goliatone/go-eventflow/health"
	"github.com/goliatone/go-eventflow/registry"
	"github.com/goliatone/go-eventflow/router"
	"github.com/goliatone/go-eventflow/workflow"
)

func orderWorkflow() workflow.Definition {
	return workflow.Definition{
		ID: "order-approval",
		States: []workflow.State{
			{Name: "pending", Initial: true},
			{Name: "review"},
			{Name: "approved", Terminal: true},
		},
		Transitions: []workflow.Transition{
			{Name: "submit", From: "pending", To: "review"},
			{Name: "approve", From: "review", To: "approved"},
		},
	}
}

func newTestStack(t *testing.T, opts ...Option) (*Dispatcher, *workflow.Engine) {
	t.Helper()
	reg, err := registry.New(context.Background(), registry.StaticLoader(
		registry.HandlerDescriptor{ID: "order-svc", Capabilities: []string{"order-processing"}},
	))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	tracker := health.NewTracker(health.Config{})
	rt, err := router.New(
		router.Config{Direct: map[string]string{
			"order.created":   "order-svc",
			"order.submitted": "order-svc",
		}},
		reg, tracker,
	)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	engine, err := workflow.New(
		workflow.Set{Workflows: []workflow.Definition{orderWorkflow()}},
		workflow.NewMemoryStore(),
	)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	opts = append([]Option{WithEngine(engine)}, opts...)
	d, err := New(rt, opts...)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return d, engine
}

func TestSubmitRoutesEvent(t *testing.T) {
	d, _ := newTestStack(t)
	resp, err := d.Submit(context.Background(), eventflow.NewEvent("order.created", nil))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.Status != StatusRouted || resp.HandlerID != "order-svc" {
		t.Fatalf("expected routed to order-svc, got %+v", resp)
	}
	if resp.TrackingID == "" {
		t.Fatal("response must carry the tracking id")
	}
}

func TestSubmitRejectsEmptyType(t *testing.T) {
	d, _ := newTestStack(t)
	resp, err := d.Submit(context.Background(), eventflow.Event{})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if resp.Status != StatusError {
		t.Fatalf("expected error status, got %q", resp.Status)
	}
}

func TestSubmitUnroutable(t *testing.T) {
	d, _ := newTestStack(t)
	resp, err := d.Submit(context.Background(), eventflow.NewEvent("nobody.handles.this", nil))
	if !eventflow.IsCode(err, eventflow.ErrCodeUnroutableEvent) {
		t.Fatalf("expected EF_UNROUTABLE_EVENT, got %v", err)
	}
	if resp.Status != StatusUnroutable {
		t.Fatalf("expected unroutable status, got %q", resp.Status)
	}
}

func TestBindingCreatesInstance(t *testing.T) {
	d, engine := newTestStack(t, WithBindings(map[string]Binding{
		"order.created": {WorkflowID: "order-approval", CreateInstance: true},
	}))

	resp, err := d.Submit(context.Background(), eventflow.NewEvent("order.created", map[string]any{"order_value": 900}))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.InstanceID == "" || resp.ToState != "pending" {
		t.Fatalf("expected new instance at pending, got %+v", resp)
	}

	inst, err := engine.Instance(context.Background(), resp.InstanceID)
	if err != nil {
		t.Fatalf("load instance: %v", err)
	}
	if inst.Context["order_value"] != 900 {
		t.Fatal("event payload must seed the instance context")
	}
}

func TestBindingDrivesTransition(t *testing.T) {
	d, engine := newTestStack(t, WithBindings(map[string]Binding{
		"order.submitted": {WorkflowID: "order-approval", Transition: "submit"},
	}))

	inst, err := engine.CreateInstance(context.Background(), "order-approval", "", nil)
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}

	resp, err := d.Submit(context.Background(), eventflow.NewEvent("order.submitted", map[string]any{
		"instance_id": inst.ID,
	}))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.InstanceID != inst.ID || resp.ToState != "review" {
		t.Fatalf("expected transition to review, got %+v", resp)
	}
}

func TestBindingWithoutInstanceIDFails(t *testing.T) {
	d, _ := newTestStack(t, WithBindings(map[string]Binding{
		"order.submitted": {WorkflowID: "order-approval", Transition: "submit"},
	}))

	resp, err := d.Submit(context.Background(), eventflow.NewEvent("order.submitted", nil))
	if !eventflow.IsCode(err, eventflow.ErrCodeBadEvent) {
		t.Fatalf("expected EF_BAD_EVENT, got %v", err)
	}
	if resp.Status != StatusError {
		t.Fatalf("expected error status, got %q", resp.Status)
	}
}

func TestConfigValidateBindings(t *testing.T) {
	cfg := Config{
		Router:    router.Config{},
		Workflows: []workflow.Definition{orderWorkflow()},
		Bindings: map[string]Binding{
			"order.created": {WorkflowID: "other-workflow", Transition: "submit"},
		},
	}
	if err := cfg.Validate(); !eventflow.IsCode(err, eventflow.ErrCodeConfigurationInvalid) {
		t.Fatalf("expected EF_CONFIGURATION_INVALID for unknown workflow, got %v", err)
	}
}

func TestParseConfigYAML(t *testing.T) {
	raw := []byte(`
router:
  direct:
    order.created: order-svc
  domains:
    invoice: billing-svc
handlers:
  - handler_id: order-svc
    capabilities: [order-processing]
  - handler_id: billing-svc
    capabilities: [billing]
workflows:
  - workflow_id: order-approval
    states:
      - name: pending
        initial: true
      - name: approved
        terminal: true
    transitions:
      - name: approve
        from: pending
        to: approved
bindings:
  order.created:
    workflow_id: order-approval
    create_instance: true
`)
	cfg, err := ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Router.Direct["order.created"] != "order-svc" {
		t.Fatalf("router table not decoded: %+v", cfg.Router)
	}
	if len(cfg.Handlers) != 2 || len(cfg.Workflows) != 1 {
		t.Fatalf("unexpected config shape: %+v", cfg)
	}
	if b := cfg.Bindings["order.created"]; !b.CreateInstance || b.WorkflowID != "order-approval" {
		t.Fatalf("binding not decoded: %+v", b)
	}
}
