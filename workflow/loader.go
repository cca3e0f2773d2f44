package workflow

import (
	"os"

	"github.com/goliatone/go-eventflow"
	"gopkg.in/yaml.v3"
)

// ParseSet decodes a workflow set from YAML or JSON and validates it.
// JSON parses as a YAML subset, so one decoder covers both.
func ParseSet(raw []byte) (Set, error) {
	var set Set
	if err := yaml.Unmarshal(raw, &set); err != nil {
		return Set{}, eventflow.CloneError(eventflow.ErrConfigurationInvalid, "decode workflow set", err, nil)
	}
	if err := set.Validate(); err != nil {
		return Set{}, err
	}
	return set, nil
}

// LoadSet reads and parses a workflow set from a file.
func LoadSet(path string) (Set, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Set{}, eventflow.CloneError(eventflow.ErrConfigurationInvalid, "read workflow set "+path, err, nil)
	}
	return ParseSet(raw)
}
