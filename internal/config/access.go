package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// GetPath retrieves a value using a dot-notation path such as
// "service.tick_interval", or an entity address such as "task:core:qc".
func (c *Config) GetPath(path string) (any, error) {
	if kind, name, ok := strings.Cut(path, ":"); ok {
		return c.GetEntity(kind, name)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return getValue(m, path)
}

// GetEntity retrieves a first-class entity by kind and name. A name of "*"
// returns every entity of that kind.
func (c *Config) GetEntity(kind, name string) (any, error) {
	switch kind {
	case "task":
		if name == "*" {
			return c.Tasks, nil
		}
		if t, ok := c.Tasks[name]; ok {
			return t, nil
		}
		for _, tc := range c.TaskClones {
			if tc.ID == name {
				return tc, nil
			}
		}
		return nil, fmt.Errorf("task %q not found", name)

	case "pipeline":
		if name == "*" {
			return c.Pipelines, nil
		}
		if p, ok := c.Pipelines[name]; ok {
			return p, nil
		}
		for _, pc := range c.PipelineClones {
			if pc.ID == name {
				return pc, nil
			}
		}
		return nil, fmt.Errorf("pipeline %q not found", name)

	case "engine":
		if name == "*" {
			return c.Engines, nil
		}
		for _, e := range c.Engines {
			if e.Location == name {
				return e, nil
			}
		}
		return nil, fmt.Errorf("engine for location %q not found", name)

	case "trigger":
		if name == "*" {
			return c.Triggers, nil
		}
		for _, t := range c.Triggers {
			if t.Name == name {
				return t, nil
			}
		}
		return nil, fmt.Errorf("trigger %q not found", name)

	default:
		return nil, fmt.Errorf("unsupported entity type %q", kind)
	}
}

func getValue(m map[string]any, path string) (any, error) {
	var current any = m
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			continue
		}
		node, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path %q breaks at %q (not a map)", path, part)
		}
		val, exists := node[part]
		if !exists {
			return nil, fmt.Errorf("path %q: key %q not found", path, part)
		}
		current = val
	}
	return current, nil
}
