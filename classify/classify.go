// Package classify defines the last-resort, content-based classification
// contract the router falls back to when no table or capability strategy
// matches an event. Classifier internals are a collaborator concern; this
// package hosts the contract plus deterministic implementations for tests
// and demos, with model-backed adapters in subpackages.
package classify

import (
	"context"
	"sort"
	"strings"

	"github.com/goliatone/go-eventflow"
)

// Classifier maps an event to a handler id. An empty id with a nil error
// means the classifier has no opinion; the router treats that as a miss.
type Classifier interface {
	Classify(ctx context.Context, evt eventflow.Event) (string, error)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(ctx context.Context, evt eventflow.Event) (string, error)

func (f ClassifierFunc) Classify(ctx context.Context, evt eventflow.Event) (string, error) {
	return f(ctx, evt)
}

// StaticClassifier matches keywords in the event type and string payload
// values against handler ids. Deterministic, process-local, used by tests
// and examples in place of a model-backed classifier.
type StaticClassifier struct {
	rules map[string]string
}

// NewStaticClassifier builds a classifier from keyword -> handler id rules.
func NewStaticClassifier(rules map[string]string) *StaticClassifier {
	normalized := make(map[string]string, len(rules))
	for kw, id := range rules {
		kw = strings.ToLower(strings.TrimSpace(kw))
		id = strings.TrimSpace(id)
		if kw == "" || id == "" {
			continue
		}
		normalized[kw] = id
	}
	return &StaticClassifier{rules: normalized}
}

// Classify scans event type first, then string payload values, matching
// keywords in sorted order so results are stable.
func (c *StaticClassifier) Classify(_ context.Context, evt eventflow.Event) (string, error) {
	if c == nil || len(c.rules) == 0 {
		return "", nil
	}
	haystack := strings.ToLower(evt.Type)
	var payloadParts []string
	for _, v := range evt.Payload {
		if s, ok := v.(string); ok {
			payloadParts = append(payloadParts, strings.ToLower(s))
		}
	}
	sort.Strings(payloadParts)
	haystack += " " + strings.Join(payloadParts, " ")

	keywords := make([]string, 0, len(c.rules))
	for kw := range c.rules {
		keywords = append(keywords, kw)
	}
	sort.Strings(keywords)

	for _, kw := range keywords {
		if strings.Contains(haystack, kw) {
			return c.rules[kw], nil
		}
	}
	return "", nil
}

// Prompt renders the classification prompt shared by the model-backed
// adapters: event summary plus the candidate handler ids the model must
// choose from.
func Prompt(evt eventflow.Event, candidates []string) string {
	var sb strings.Builder
	sb.WriteString("Select the single best handler for this business event.\n")
	sb.WriteString("Respond with exactly one handler id from the candidates, or NONE.\n\n")
	sb.WriteString("event_type: ")
	sb.WriteString(evt.Type)
	sb.WriteString("\n")
	if evt.BusinessEntityID != "" {
		sb.WriteString("business_entity_id: ")
		sb.WriteString(evt.BusinessEntityID)
		sb.WriteString("\n")
	}
	if evt.RequiredCapability != "" {
		sb.WriteString("required_capability: ")
		sb.WriteString(evt.RequiredCapability)
		sb.WriteString("\n")
	}
	if len(evt.Payload) > 0 {
		keys := make([]string, 0, len(evt.Payload))
		for k := range evt.Payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("payload:\n")
		for _, k := range keys {
			if s, ok := evt.Payload[k].(string); ok {
				sb.WriteString("  ")
				sb.WriteString(k)
				sb.WriteString(": ")
				sb.WriteString(s)
				sb.WriteString("\n")
			}
		}
	}
	sb.WriteString("\ncandidates:\n")
	for _, id := range candidates {
		sb.WriteString("  - ")
		sb.WriteString(id)
		sb.WriteString("\n")
	}
	return sb.String()
}

// ExtractID pulls a handler id out of free-form model output. The first
// candidate appearing verbatim wins; a NONE answer or no match yields "".
func ExtractID(output string, candidates []string) string {
	output = strings.TrimSpace(output)
	if output == "" || strings.EqualFold(output, "NONE") {
		return ""
	}
	// exact answer is the common case
	for _, id := range candidates {
		if strings.EqualFold(output, id) {
			return id
		}
	}
	lower := strings.ToLower(output)
	for _, id := range candidates {
		if strings.Contains(lower, strings.ToLower(id)) {
			return id
		}
	}
	return ""
}
