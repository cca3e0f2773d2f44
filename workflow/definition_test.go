package workflow

import (
	"testing"

	"github.com/goliatone/go-eventflow"
)

func orderWorkflow() Definition {
	return Definition{
		ID: "order-approval",
		States: []State{
			{Name: "pending", Initial: true},
			{Name: "review"},
			{Name: "priority_review"},
			{Name: "approved", Terminal: true},
		},
		Transitions: []Transition{
			{
				Name: "submit",
				From: "pending",
				To:   "review",
				ConditionGroups: []ConditionGroup{
					{Conditions: []Condition{{Field: "order_value", Op: OpGt, Value: 1000}}},
				},
				ConditionalRouting: []RoutingRule{
					{When: "order_value > 1000", To: "priority_review"},
				},
			},
			{Name: "approve", From: "review", To: "approved"},
			{Name: "approve", From: "priority_review", To: "approved"},
		},
	}
}

func TestDefinitionValidateAccepts(t *testing.T) {
	if err := orderWorkflow().Validate(); err != nil {
		t.Fatalf("valid workflow rejected: %v", err)
	}
}

func TestDefinitionValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Definition)
	}{
		{"missing id", func(d *Definition) { d.ID = "" }},
		{"no states", func(d *Definition) { d.States = nil }},
		{"duplicate state", func(d *Definition) {
			d.States = append(d.States, State{Name: "Pending"})
		}},
		{"unknown from", func(d *Definition) { d.Transitions[0].From = "nowhere" }},
		{"unknown to", func(d *Definition) { d.Transitions[0].To = "nowhere" }},
		{"duplicate transition key", func(d *Definition) {
			d.Transitions = append(d.Transitions, Transition{Name: "submit", From: "pending", To: "review"})
		}},
		{"bad routing expr", func(d *Definition) {
			d.Transitions[0].ConditionalRouting[0].When = "order_value ~ 1"
		}},
		{"routing to unknown state", func(d *Definition) {
			d.Transitions[0].ConditionalRouting[0].To = "nowhere"
		}},
		{"bad condition op", func(d *Definition) {
			d.Transitions[0].ConditionGroups[0].Conditions[0].Op = "between"
		}},
		{"negative retry count", func(d *Definition) { d.Transitions[0].RetryCount = -1 }},
	}
	for _, tc := range cases {
		def := orderWorkflow()
		tc.mutate(&def)
		err := def.Validate()
		if err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
		if !eventflow.IsCode(err, eventflow.ErrCodeConfigurationInvalid) {
			t.Fatalf("%s: expected EF_CONFIGURATION_INVALID, got %q", tc.name, eventflow.ErrorCode(err))
		}
	}
}

func TestInitialStateResolution(t *testing.T) {
	def := orderWorkflow()
	if got := def.InitialState(); got != "pending" {
		t.Fatalf("expected flagged initial state pending, got %q", got)
	}

	def.Initial = "review"
	if got := def.InitialState(); got != "review" {
		t.Fatalf("explicit initial field wins, got %q", got)
	}

	plain := Definition{ID: "w", States: []State{{Name: "first"}, {Name: "second"}}}
	if got := plain.InitialState(); got != "first" {
		t.Fatalf("first declared state is the default initial, got %q", got)
	}
}

func TestParseSetYAML(t *testing.T) {
	raw := []byte(`
version: 1
workflows:
  - workflow_id: order-approval
    states:
      - name: pending
        initial: true
      - name: review
      - name: priority_review
      - name: approved
        terminal: true
    transitions:
      - name: submit
        from: pending
        to: review
        retry_count: 3
        retry_delay_seconds: 1
        exponential_backoff: true
        timeout_seconds: 30
        condition_groups:
          - logic: and
            conditions:
              - field: order_value
                op: gt
                value: 1000
        conditional_routing:
          - when: order_value > 1000
            to: priority_review
      - name: approve
        from: review
        to: approved
      - name: approve
        from: priority_review
        to: approved
`)
	set, err := ParseSet(raw)
	if err != nil {
		t.Fatalf("parse set: %v", err)
	}
	if len(set.Workflows) != 1 {
		t.Fatalf("expected one workflow, got %d", len(set.Workflows))
	}
	def := set.Workflows[0]
	if def.ID != "order-approval" {
		t.Fatalf("unexpected workflow id %q", def.ID)
	}
	tr := def.Transitions[0]
	if tr.RetryCount != 3 || tr.RetryDelaySeconds != 1 || !tr.ExponentialBackoff {
		t.Fatalf("retry config not decoded: %+v", tr)
	}
	if tr.TimeoutSeconds != 30 {
		t.Fatalf("timeout not decoded: %+v", tr)
	}
	if len(tr.ConditionGroups) != 1 || len(tr.ConditionalRouting) != 1 {
		t.Fatalf("conditions not decoded: %+v", tr)
	}
}

func TestParseSetRejectsDuplicateWorkflowIDs(t *testing.T) {
	raw := []byte(`
workflows:
  - workflow_id: w1
    states: [{name: a}]
  - workflow_id: w1
    states: [{name: a}]
`)
	if _, err := ParseSet(raw); err == nil {
		t.Fatal("expected duplicate workflow id error")
	}
}
