package eventflow

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority orders event handling urgency.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether the priority is one of the known levels.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// NormalizePriority maps free-form input to a known priority, defaulting to normal.
func NormalizePriority(s string) Priority {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return PriorityNormal
	}
	return p
}

// Event is an externally triggered business event. Events are treated as
// immutable values; the tracking id threads through every derived record.
type Event struct {
	Type               string         `json:"event_type" yaml:"event_type"`
	TrackingID         string         `json:"tracking_id" yaml:"tracking_id"`
	Priority           Priority       `json:"priority,omitempty" yaml:"priority,omitempty"`
	BusinessEntityID   string         `json:"business_entity_id,omitempty" yaml:"business_entity_id,omitempty"`
	Payload            map[string]any `json:"payload,omitempty" yaml:"payload,omitempty"`
	RequiredCapability string         `json:"required_capability,omitempty" yaml:"required_capability,omitempty"`
	ReceivedAt         time.Time      `json:"received_at,omitempty" yaml:"received_at,omitempty"`
}

// NewEvent builds an event, generating a tracking id when absent and
// defaulting the priority to normal.
func NewEvent(eventType string, payload map[string]any) Event {
	return Event{
		Type:       strings.TrimSpace(eventType),
		TrackingID: NewTrackingID(),
		Priority:   PriorityNormal,
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	}
}

// Normalize fills generated fields on a caller-constructed event without
// touching anything the caller already set.
func (e Event) Normalize() Event {
	out := e
	out.Type = strings.TrimSpace(out.Type)
	if strings.TrimSpace(out.TrackingID) == "" {
		out.TrackingID = NewTrackingID()
	}
	if !out.Priority.Valid() {
		out.Priority = PriorityNormal
	}
	if out.ReceivedAt.IsZero() {
		out.ReceivedAt = time.Now().UTC()
	}
	return out
}

// Validate checks the minimum shape required for routing.
func (e Event) Validate() error {
	if strings.TrimSpace(e.Type) == "" {
		return CloneError(ErrBadEvent, "event type is required", nil, map[string]any{
			"tracking_id": e.TrackingID,
		})
	}
	return nil
}

// NewTrackingID returns a fresh correlation identifier.
func NewTrackingID() string {
	return uuid.NewString()
}
