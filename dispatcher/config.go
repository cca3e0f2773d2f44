package dispatcher

import (
	"os"
	"strings"

	"github.com/goliatone/go-eventflow"
	"github.com/goliatone/go-eventflow/registry"
	"github.com/goliatone/go-eventflow/router"
	"github.com/goliatone/go-eventflow/workflow"
	"gopkg.in/yaml.v3"
)

// Config is the full platform configuration: routing rules, handler
// descriptors, workflow definitions, and event-to-transition bindings.
type Config struct {
	Router    router.Config                `json:"router" yaml:"router"`
	Handlers  []registry.HandlerDescriptor `json:"handlers,omitempty" yaml:"handlers,omitempty"`
	Workflows []workflow.Definition        `json:"workflows,omitempty" yaml:"workflows,omitempty"`
	Bindings  map[string]Binding           `json:"bindings,omitempty" yaml:"bindings,omitempty"`
}

// WorkflowSet wraps the workflow definitions for the engine.
func (c Config) WorkflowSet() workflow.Set {
	return workflow.Set{Workflows: c.Workflows}
}

// Validate checks the whole configuration.
func (c Config) Validate() error {
	if err := c.Router.Validate(); err != nil {
		return err
	}
	if err := c.WorkflowSet().Validate(); err != nil {
		return err
	}
	workflows := make(map[string]struct{}, len(c.Workflows))
	for _, def := range c.Workflows {
		workflows[strings.TrimSpace(def.ID)] = struct{}{}
	}
	for evtType, b := range c.Bindings {
		if strings.TrimSpace(evtType) == "" {
			return eventflow.CloneError(eventflow.ErrConfigurationInvalid, "binding requires an event type", nil, nil)
		}
		if _, ok := workflows[strings.TrimSpace(b.WorkflowID)]; !ok {
			return eventflow.CloneError(eventflow.ErrConfigurationInvalid,
				"binding for "+evtType+" references unknown workflow "+b.WorkflowID, nil, nil)
		}
		if !b.CreateInstance && strings.TrimSpace(b.Transition) == "" {
			return eventflow.CloneError(eventflow.ErrConfigurationInvalid,
				"binding for "+evtType+" requires a transition", nil, nil)
		}
	}
	return nil
}

// ParseConfig decodes YAML or JSON configuration and validates it.
func ParseConfig(raw []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, eventflow.CloneError(eventflow.ErrConfigurationInvalid, "decode configuration", err, nil)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and parses configuration from a file.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, eventflow.CloneError(eventflow.ErrConfigurationInvalid, "read configuration "+path, err, nil)
	}
	return ParseConfig(raw)
}
