package classify

import (
	"context"
	"strings"
	"testing"

	"github.com/goliatone/go-eventflow"
)

func TestStaticClassifierMatchesEventType(t *testing.T) {
	c := NewStaticClassifier(map[string]string{
		"refund":  "refund-svc",
		"invoice": "billing-svc",
	})
	evt := eventflow.NewEvent("customer.refund.requested", nil)
	id, err := c.Classify(context.Background(), evt)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if id != "refund-svc" {
		t.Fatalf("expected refund-svc, got %q", id)
	}
}

func TestStaticClassifierScansPayloadStrings(t *testing.T) {
	c := NewStaticClassifier(map[string]string{"escalation": "support-svc"})
	evt := eventflow.NewEvent("ticket.updated", map[string]any{
		"note":  "customer requested an ESCALATION",
		"count": 3,
	})
	id, err := c.Classify(context.Background(), evt)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if id != "support-svc" {
		t.Fatalf("expected support-svc, got %q", id)
	}
}

func TestStaticClassifierNoOpinion(t *testing.T) {
	c := NewStaticClassifier(map[string]string{"refund": "refund-svc"})
	id, err := c.Classify(context.Background(), eventflow.NewEvent("inventory.sync", nil))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if id != "" {
		t.Fatalf("expected no opinion, got %q", id)
	}
}

func TestPromptListsCandidates(t *testing.T) {
	evt := eventflow.NewEvent("order.created", map[string]any{"region": "emea"})
	evt.BusinessEntityID = "acme"
	prompt := Prompt(evt, []string{"order-svc", "fallback-svc"})

	for _, want := range []string{"order.created", "acme", "order-svc", "fallback-svc", "NONE"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestExtractID(t *testing.T) {
	candidates := []string{"order-svc", "billing-svc"}
	cases := []struct {
		output string
		want   string
	}{
		{"order-svc", "order-svc"},
		{"  Billing-SVC  ", "billing-svc"},
		{"The best handler is order-svc.", "order-svc"},
		{"NONE", ""},
		{"no suitable handler", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := ExtractID(tc.output, candidates); got != tc.want {
			t.Fatalf("ExtractID(%q) = %q, want %q", tc.output, got, tc.want)
		}
	}
}
