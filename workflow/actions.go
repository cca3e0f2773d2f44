package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-eventflow"
)

// ActionContext carries everything an action can see and mutate during a
// transition attempt. Instance is the attempt's working clone; mutations are
// discarded when the attempt fails.
type ActionContext struct {
	Instance   *Instance
	Transition Transition
	Target     string
	Data       map[string]any
	// HandlerID may be set by a pre action to pin the handler for this
	// attempt, overriding dynamic assignment.
	HandlerID string
}

// Action is a pre or post transition hook.
type Action func(ctx context.Context, ac *ActionContext) error

// ActionRegistry maps action names referenced from workflow config to
// implementations.
type ActionRegistry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewActionRegistry creates an empty registry.
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{actions: map[string]Action{}}
}

// Register adds an action, replacing any existing one of the same name.
func (r *ActionRegistry) Register(name string, action Action) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return eventflow.CloneError(eventflow.ErrConfigurationInvalid, "action name required", nil, nil)
	}
	if action == nil {
		return eventflow.CloneError(eventflow.ErrConfigurationInvalid,
			fmt.Sprintf("action %s requires an implementation", name), nil, nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[name] = action
	return nil
}

// Lookup returns the named action.
func (r *ActionRegistry) Lookup(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	action, ok := r.actions[strings.ToLower(strings.TrimSpace(name))]
	return action, ok
}

// Names lists registered action names, sorted.
func (r *ActionRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.actions))
	for name := range r.actions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// run executes the named actions in order, stopping at the first error.
func (r *ActionRegistry) run(ctx context.Context, names []string, ac *ActionContext) error {
	for _, name := range names {
		action, ok := r.Lookup(name)
		if !ok {
			return eventflow.CloneError(eventflow.ErrConfigurationInvalid,
				fmt.Sprintf("action %s is not registered", name), nil, nil)
		}
		if err := action(ctx, ac); err != nil {
			return fmt.Errorf("action %s: %w", name, err)
		}
	}
	return nil
}
