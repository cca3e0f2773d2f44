package workflow

import (
	"time"

	"github.com/google/uuid"
)

// Status reflects the instance lifecycle.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal reports whether the instance accepts further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// HistoryEntry records one committed transition or a terminal failure.
type HistoryEntry struct {
	TrackingID string    `json:"tracking_id"`
	Transition string    `json:"transition"`
	FromState  string    `json:"from_state"`
	ToState    string    `json:"to_state,omitempty"`
	HandlerID  string    `json:"handler_id,omitempty"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	Attempt    int       `json:"attempt"`
	At         time.Time `json:"at"`
}

const (
	OutcomeApplied = "applied"
	OutcomeError   = "error"
)

// Instance is one live run of a workflow definition. Version supports
// optimistic concurrency on save.
type Instance struct {
	ID               string         `json:"id"`
	WorkflowID       string         `json:"workflow_id"`
	CurrentState     string         `json:"current_state"`
	Status           Status         `json:"status"`
	BusinessEntityID string         `json:"business_entity_id,omitempty"`
	Context          map[string]any `json:"context,omitempty"`
	History          []HistoryEntry `json:"history,omitempty"`
	Version          int            `json:"version"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// NewInstance builds an active instance positioned at the definition's
// initial state.
func NewInstance(def Definition, businessEntityID string, contextData map[string]any) *Instance {
	now := time.Now()
	inst := &Instance{
		ID:               uuid.NewString(),
		WorkflowID:       def.ID,
		CurrentState:     def.InitialState(),
		Status:           StatusActive,
		BusinessEntityID: businessEntityID,
		Context:          map[string]any{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for k, v := range contextData {
		inst.Context[k] = v
	}
	return inst
}

// Clone deep copies the instance so mutation stays private until commit.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	out := *i
	out.Context = make(map[string]any, len(i.Context))
	for k, v := range i.Context {
		out.Context[k] = v
	}
	out.History = make([]HistoryEntry, len(i.History))
	copy(out.History, i.History)
	return &out
}

// Applied reports whether the instance already committed the transition for
// the given tracking id, making resubmission idempotent.
func (i *Instance) Applied(trackingID, transition string) (HistoryEntry, bool) {
	transition = normalizeTransition(transition)
	for idx := len(i.History) - 1; idx >= 0; idx-- {
		entry := i.History[idx]
		if entry.TrackingID == trackingID &&
			normalizeTransition(entry.Transition) == transition &&
			entry.Outcome == OutcomeApplied {
			return entry, true
		}
	}
	return HistoryEntry{}, false
}
