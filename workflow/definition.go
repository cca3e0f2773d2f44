package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-eventflow"
)

// State is one named workflow state.
type State struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Terminal    bool   `json:"terminal,omitempty" yaml:"terminal,omitempty"`
	Initial     bool   `json:"initial,omitempty" yaml:"initial,omitempty"`
	// AssignedCapability drives dynamic handler assignment when a
	// transition targets this state and no handler was supplied.
	AssignedCapability string `json:"assigned_capability,omitempty" yaml:"assigned_capability,omitempty"`
}

// Condition is one structured comparison evaluated against merged
// context + transition data.
type Condition struct {
	Field string `json:"field" yaml:"field"`
	Op    string `json:"op" yaml:"op"`
	Value any    `json:"value,omitempty" yaml:"value,omitempty"`
}

// ConditionGroup combines conditions with one logic mode. Groups on a
// transition are ANDed together; conditions inside a group combine per the
// group's logic (and|or, default and).
type ConditionGroup struct {
	Logic      string      `json:"logic,omitempty" yaml:"logic,omitempty"`
	Conditions []Condition `json:"conditions" yaml:"conditions"`
}

// RoutingRule routes the transition to an alternate target when its
// expression is satisfied. Rules are evaluated in order, first match wins.
// Expressions use the same grammar as structured conditions.
type RoutingRule struct {
	When string `json:"when" yaml:"when"`
	To   string `json:"to" yaml:"to"`
}

// Transition moves an instance between states.
type Transition struct {
	Name               string           `json:"name" yaml:"name"`
	From               string           `json:"from" yaml:"from"`
	To                 string           `json:"to" yaml:"to"`
	ConditionGroups    []ConditionGroup `json:"condition_groups,omitempty" yaml:"condition_groups,omitempty"`
	ConditionalRouting []RoutingRule    `json:"conditional_routing,omitempty" yaml:"conditional_routing,omitempty"`
	RetryCount         int              `json:"retry_count,omitempty" yaml:"retry_count,omitempty"`
	RetryDelaySeconds  int              `json:"retry_delay_seconds,omitempty" yaml:"retry_delay_seconds,omitempty"`
	ExponentialBackoff bool             `json:"exponential_backoff,omitempty" yaml:"exponential_backoff,omitempty"`
	PreActions         []string         `json:"pre_actions,omitempty" yaml:"pre_actions,omitempty"`
	PostActions        []string         `json:"post_actions,omitempty" yaml:"post_actions,omitempty"`
	TimeoutSeconds     int              `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
}

// RetryDelay returns the base delay between retry attempts.
func (t Transition) RetryDelay() time.Duration {
	if t.RetryDelaySeconds <= 0 {
		return 0
	}
	return time.Duration(t.RetryDelaySeconds) * time.Second
}

// Timeout returns the handler invocation bound, zero meaning unbounded.
func (t Transition) Timeout() time.Duration {
	if t.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// Definition is one static workflow, loaded at startup and immutable at
// runtime.
type Definition struct {
	ID          string       `json:"workflow_id" yaml:"workflow_id"`
	States      []State      `json:"states" yaml:"states"`
	Transitions []Transition `json:"transitions" yaml:"transitions"`
	Initial     string       `json:"initial,omitempty" yaml:"initial,omitempty"`
}

// InitialState resolves the starting state: the explicit Initial field, the
// state flagged initial, or the first declared state.
func (d Definition) InitialState() string {
	if s := normalizeState(d.Initial); s != "" {
		return s
	}
	for _, st := range d.States {
		if st.Initial {
			return normalizeState(st.Name)
		}
	}
	if len(d.States) == 0 {
		return ""
	}
	return normalizeState(d.States[0].Name)
}

// State returns the state config by name.
func (d Definition) State(name string) (State, bool) {
	name = normalizeState(name)
	for _, st := range d.States {
		if normalizeState(st.Name) == name {
			return st, true
		}
	}
	return State{}, false
}

// Validate ensures the workflow definition is well formed.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return configErr("workflow id required", nil)
	}
	if len(d.States) == 0 {
		return configErr(fmt.Sprintf("workflow %s requires at least one state", d.ID), nil)
	}
	stateSet := make(map[string]State, len(d.States))
	initialCount := 0
	for _, st := range d.States {
		name := normalizeState(st.Name)
		if name == "" {
			return configErr(fmt.Sprintf("workflow %s has empty state name", d.ID), nil)
		}
		if _, exists := stateSet[name]; exists {
			return configErr(fmt.Sprintf("workflow %s duplicate state %s", d.ID, st.Name), nil)
		}
		stateSet[name] = st
		if st.Initial {
			initialCount++
		}
	}
	if initialCount > 1 {
		return configErr(fmt.Sprintf("workflow %s has multiple initial states", d.ID), nil)
	}
	if init := normalizeState(d.Initial); init != "" {
		if _, ok := stateSet[init]; !ok {
			return configErr(fmt.Sprintf("workflow %s initial references unknown state %s", d.ID, d.Initial), nil)
		}
	}
	transitionSet := make(map[string]struct{}, len(d.Transitions))
	for _, tr := range d.Transitions {
		name := normalizeTransition(tr.Name)
		if name == "" {
			return configErr(fmt.Sprintf("workflow %s transition missing name", d.ID), nil)
		}
		from := normalizeState(tr.From)
		to := normalizeState(tr.To)
		if from == "" || to == "" {
			return configErr(fmt.Sprintf("workflow %s transition %s missing from/to", d.ID, tr.Name), nil)
		}
		key := from + "::" + name
		if _, exists := transitionSet[key]; exists {
			return configErr(fmt.Sprintf("workflow %s duplicate transition for from=%s name=%s", d.ID, tr.From, tr.Name), nil)
		}
		transitionSet[key] = struct{}{}
		if _, ok := stateSet[from]; !ok {
			return configErr(fmt.Sprintf("workflow %s transition %s references unknown from state %s", d.ID, tr.Name, tr.From), nil)
		}
		if _, ok := stateSet[to]; !ok {
			return configErr(fmt.Sprintf("workflow %s transition %s references unknown to state %s", d.ID, tr.Name, tr.To), nil)
		}
		for _, rule := range tr.ConditionalRouting {
			if _, err := ParseExpr(rule.When); err != nil {
				return configErr(fmt.Sprintf("workflow %s transition %s routing expression %q invalid", d.ID, tr.Name, rule.When), err)
			}
			if _, ok := stateSet[normalizeState(rule.To)]; !ok {
				return configErr(fmt.Sprintf("workflow %s transition %s routes to unknown state %s", d.ID, tr.Name, rule.To), nil)
			}
		}
		for gi, group := range tr.ConditionGroups {
			if err := group.validate(); err != nil {
				return configErr(fmt.Sprintf("workflow %s transition %s condition group %d invalid", d.ID, tr.Name, gi), err)
			}
		}
		if tr.RetryCount < 0 {
			return configErr(fmt.Sprintf("workflow %s transition %s negative retry count", d.ID, tr.Name), nil)
		}
	}
	return nil
}

func (g ConditionGroup) validate() error {
	switch strings.ToLower(strings.TrimSpace(g.Logic)) {
	case "", "and", "or":
	default:
		return fmt.Errorf("unsupported logic %q", g.Logic)
	}
	if len(g.Conditions) == 0 {
		return fmt.Errorf("condition group requires conditions")
	}
	for _, c := range g.Conditions {
		if _, ok := lookupOp(c.Op); !ok {
			return fmt.Errorf("unsupported operator %q", c.Op)
		}
		if strings.TrimSpace(c.Field) == "" {
			return fmt.Errorf("condition field required")
		}
	}
	return nil
}

// Set is a collection of workflows loaded from config.
type Set struct {
	Version   int          `json:"version,omitempty" yaml:"version,omitempty"`
	Workflows []Definition `json:"workflows" yaml:"workflows"`
}

// Validate checks every contained workflow.
func (s Set) Validate() error {
	seen := make(map[string]struct{}, len(s.Workflows))
	for idx, def := range s.Workflows {
		if err := def.Validate(); err != nil {
			return configErr(fmt.Sprintf("workflow[%d]", idx), err)
		}
		id := strings.TrimSpace(def.ID)
		if _, exists := seen[id]; exists {
			return configErr(fmt.Sprintf("duplicate workflow id %s", id), nil)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func configErr(message string, source error) error {
	return eventflow.CloneError(eventflow.ErrConfigurationInvalid, message, source, nil)
}

func normalizeState(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeTransition(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
