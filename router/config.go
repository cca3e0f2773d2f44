package router

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-eventflow"
)

// Config is the static routing table loaded at startup.
type Config struct {
	// Direct maps event types straight to handler ids.
	Direct map[string]string `json:"direct,omitempty" yaml:"direct,omitempty"`
	// Domains maps pattern-derived domain tokens to handler ids.
	Domains map[string]string `json:"domains,omitempty" yaml:"domains,omitempty"`
}

// Validate checks the table for empty keys and targets.
func (c Config) Validate() error {
	for k, v := range c.Direct {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			return eventflow.CloneError(
				eventflow.ErrConfigurationInvalid,
				fmt.Sprintf("direct map entry %q -> %q has empty key or handler", k, v),
				nil,
				nil,
			)
		}
	}
	for k, v := range c.Domains {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			return eventflow.CloneError(
				eventflow.ErrConfigurationInvalid,
				fmt.Sprintf("domain map entry %q -> %q has empty key or handler", k, v),
				nil,
				nil,
			)
		}
	}
	return nil
}
