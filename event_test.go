package eventflow

import (
	"testing"
)

func TestNewEventDefaults(t *testing.T) {
	evt := NewEvent("order.created", map[string]any{"order_value": 100})
	if evt.Type != "order.created" {
		t.Fatalf("expected type order.created, got %q", evt.Type)
	}
	if evt.TrackingID == "" {
		t.Fatal("expected generated tracking id")
	}
	if evt.Priority != PriorityNormal {
		t.Fatalf("expected normal priority, got %q", evt.Priority)
	}
	if evt.ReceivedAt.IsZero() {
		t.Fatal("expected received timestamp")
	}
}

func TestNormalizePreservesCallerFields(t *testing.T) {
	evt := Event{Type: "  invoice.paid  ", TrackingID: "trk-1", Priority: "bogus"}
	out := evt.Normalize()
	if out.Type != "invoice.paid" {
		t.Fatalf("expected trimmed type, got %q", out.Type)
	}
	if out.TrackingID != "trk-1" {
		t.Fatalf("tracking id must survive normalize, got %q", out.TrackingID)
	}
	if out.Priority != PriorityNormal {
		t.Fatalf("invalid priority should normalize to normal, got %q", out.Priority)
	}
}

func TestValidateRequiresType(t *testing.T) {
	evt := Event{TrackingID: "trk-2"}
	err := evt.Validate()
	if err == nil {
		t.Fatal("expected validation error for empty event type")
	}
	if !IsCode(err, "EF_BAD_EVENT") {
		t.Fatalf("expected EF_BAD_EVENT, got %q", ErrorCode(err))
	}
}

func TestNormalizePriority(t *testing.T) {
	cases := []struct {
		in   string
		want Priority
	}{
		{"critical", PriorityCritical},
		{" HIGH ", PriorityHigh},
		{"low", PriorityLow},
		{"", PriorityNormal},
		{"urgent", PriorityNormal},
	}
	for _, tc := range cases {
		if got := NormalizePriority(tc.in); got != tc.want {
			t.Fatalf("NormalizePriority(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCloneErrorKeepsCodeAndMetadata(t *testing.T) {
	err := CloneError(ErrVersionConflict, "instance order-1 version mismatch", nil, map[string]any{
		"expected_version": 2,
	})
	if !IsCode(err, "EF_VERSION_CONFLICT") {
		t.Fatalf("expected EF_VERSION_CONFLICT, got %q", ErrorCode(err))
	}
	if err.Message != "instance order-1 version mismatch" {
		t.Fatalf("unexpected message %q", err.Message)
	}
	if ErrVersionConflict.Message == err.Message {
		t.Fatal("template must not be mutated by CloneError")
	}
}
