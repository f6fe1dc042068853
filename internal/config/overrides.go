package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// waitOverride is one entry in the stabilization overrides file. Budget is a
// Go duration string ("15m", "90s").
type waitOverride struct {
	Service string `yaml:"service"`
	Budget  string `yaml:"budget"`
}

// overridesFile is the parsed YAML structure:
// overrides: [{service, budget}]
type overridesFile struct {
	Overrides []waitOverride `yaml:"overrides"`
}

// LoadWaitOverrides parses per-service stabilization wait budgets from a YAML
// file. Returns nil if path is empty (no overrides configured).
func LoadWaitOverrides(path string) (map[string]time.Duration, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wait overrides file: %w", err)
	}

	var of overridesFile
	if err := yaml.Unmarshal(data, &of); err != nil {
		return nil, fmt.Errorf("parse wait overrides file: %w", err)
	}

	if len(of.Overrides) == 0 {
		return nil, fmt.Errorf("wait overrides file contains no entries")
	}

	out := make(map[string]time.Duration, len(of.Overrides))
	for i, o := range of.Overrides {
		if o.Service == "" {
			return nil, fmt.Errorf("override %d: service is required", i)
		}
		if _, dup := out[o.Service]; dup {
			return nil, fmt.Errorf("service %q: duplicate override", o.Service)
		}
		budget, err := time.ParseDuration(o.Budget)
		if err != nil {
			return nil, fmt.Errorf("service %q: invalid budget: %w", o.Service, err)
		}
		if budget <= 0 {
			return nil, fmt.Errorf("service %q: budget must be greater than zero", o.Service)
		}
		out[o.Service] = budget
	}

	return out, nil
}
