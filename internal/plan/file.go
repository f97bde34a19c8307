package plan

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Document is the on-disk YAML form of a plan, as written by the
// planner or by hand for the CLI.
//
//	plan_id: fix-build-1
//	intent: mutate
//	steps:
//	  - id: s1
//	    tool: file_read
//	    arguments: {path: main.go}
//	  - id: s2
//	    tool: file_write
//	    arguments: {path: main.go, content: "..."}
//	    requires_confirmation: true
type Document struct {
	Plan `yaml:",inline"`
}

// LoadFile reads and validates a YAML plan document.
func LoadFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML plan document.
func Parse(data []byte) (*Plan, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	p := doc.Plan
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
