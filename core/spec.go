package core

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ParseTaskSpec parses a task spec from YAML. Since YAML is a superset of JSON, JSON documents
// are accepted as well.
func ParseTaskSpec(data []byte) (*TaskSpec, error) {
	var spec TaskSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parsing task spec: %w", err)
	}

	return &spec, nil
}
