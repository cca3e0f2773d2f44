package registry

import (
	"sort"
	"strings"
)

// HandlerDescriptor declares what one processing unit can do. Descriptors
// are pure values: health state lives in the health tracker, keyed by ID.
type HandlerDescriptor struct {
	ID               string         `json:"handler_id" yaml:"handler_id"`
	Capabilities     []string       `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	BusinessEntities []string       `json:"business_entities,omitempty" yaml:"business_entities,omitempty"`
	FallbackChain    []string       `json:"fallback_chain,omitempty" yaml:"fallback_chain,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

func (d HandlerDescriptor) normalize() HandlerDescriptor {
	out := d
	out.ID = strings.TrimSpace(d.ID)
	out.Capabilities = normalizeSet(d.Capabilities)
	out.BusinessEntities = normalizeSet(d.BusinessEntities)
	out.FallbackChain = normalizeChain(d.FallbackChain)
	return out
}

// HasCapability reports whether the descriptor advertises the capability.
func (d HandlerDescriptor) HasCapability(capability string) bool {
	capability = normalizeToken(capability)
	if capability == "" {
		return false
	}
	for _, c := range d.Capabilities {
		if normalizeToken(c) == capability {
			return true
		}
	}
	return false
}

// ServesEntity reports whether the descriptor is scoped to the business
// entity. Descriptors with no entity scope serve every entity.
func (d HandlerDescriptor) ServesEntity(entityID string) bool {
	entityID = normalizeToken(entityID)
	if entityID == "" || len(d.BusinessEntities) == 0 {
		return true
	}
	for _, e := range d.BusinessEntities {
		if normalizeToken(e) == entityID {
			return true
		}
	}
	return false
}

// Match is the pure matching predicate used for capability-based routing and
// dynamic handler assignment. Empty capability matches any descriptor;
// entity scoping applies as in ServesEntity.
func Match(d HandlerDescriptor, capability, businessEntityID string) bool {
	if capability = normalizeToken(capability); capability != "" && !d.HasCapability(capability) {
		return false
	}
	return d.ServesEntity(businessEntityID)
}

func normalizeToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeSet(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = normalizeToken(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// normalizeChain preserves order, fallback chains are ordered by preference.
func normalizeChain(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
