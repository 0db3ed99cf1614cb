package config

import (
	"fmt"
	"strings"
)

// Task kinds accepted under tasks.<id>.kind.
const (
	KindExec    = "exec"
	KindJar     = "jar"
	KindBuiltin = "builtin"
)

// Engine types accepted under engines[].type.
const (
	EngineLocal = "local"
	EngineHTTP  = "http"
)

// validate checks structure only. Cross references between tasks and
// pipelines are resolved when the pipeline registry is built.
func validate(cfg *Config) error {
	if cfg.Service.TickInterval <= 0 {
		return fmt.Errorf("service.tick_interval must be positive")
	}
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.MaxWorkers <= 0 {
		return fmt.Errorf("service.max_workers must be positive")
	}
	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if cfg.Workspace.Dir == "" {
		return fmt.Errorf("workspace.dir is required")
	}

	if cfg.API.Enabled {
		if err := checkUnresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		for i, tok := range cfg.API.Auth.Tokens {
			field := fmt.Sprintf("api.auth.tokens[%d].token", i)
			if tok.Token == "" {
				return fmt.Errorf("%s is required", field)
			}
			if err := checkUnresolved(field, tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
			}
		}
	}

	if err := validateEngines(cfg.Engines); err != nil {
		return err
	}

	for id, t := range cfg.Tasks {
		if err := validateTask(id, t); err != nil {
			return err
		}
	}
	for i, tc := range cfg.TaskClones {
		if tc.ID == "" || tc.Base == "" {
			return fmt.Errorf("task_clones[%d]: id and base are required", i)
		}
		if tc.AutoRetry != nil && *tc.AutoRetry < 0 {
			return fmt.Errorf("task_clones[%d]: auto_retry must not be negative", i)
		}
	}
	for id, p := range cfg.Pipelines {
		if len(p.Tasks) == 0 {
			return fmt.Errorf("pipeline %q: tasks must be non-empty", id)
		}
	}
	for i, pc := range cfg.PipelineClones {
		if pc.ID == "" || pc.Base == "" {
			return fmt.Errorf("pipeline_clones[%d]: id and base are required", i)
		}
		if len(pc.Tasks) == 0 {
			return fmt.Errorf("pipeline_clones[%d]: tasks must be non-empty", i)
		}
	}

	seen := map[string]bool{}
	for i, tr := range cfg.Triggers {
		if tr.Container == "" || tr.Name == "" || tr.Type == "" || tr.Pipeline == "" || tr.Path == "" {
			return fmt.Errorf("triggers[%d]: container, name, type, pipeline and path are required", i)
		}
		key := tr.Container + "\x00" + tr.Name
		if seen[key] {
			return fmt.Errorf("triggers[%d]: duplicate name %q in container %q", i, tr.Name, tr.Container)
		}
		seen[key] = true
	}

	if cfg.Webhooks != nil {
		if err := validateWebhooks(cfg.Webhooks); err != nil {
			return err
		}
	}
	return nil
}

func validateEngines(engines []EngineConfig) error {
	locations := map[string]bool{}
	for i, e := range engines {
		if e.Location == "" {
			return fmt.Errorf("engines[%d].location is required", i)
		}
		if locations[e.Location] {
			return fmt.Errorf("engines[%d]: duplicate location %q", i, e.Location)
		}
		locations[e.Location] = true

		switch e.Type {
		case EngineLocal:
		case EngineHTTP:
			if e.URL == "" {
				return fmt.Errorf("engines[%d]: url is required for http engines", i)
			}
			if err := checkUnresolved(fmt.Sprintf("engines[%d].token", i), e.Token); err != nil {
				return err
			}
		default:
			return fmt.Errorf("engines[%d]: unknown type %q (want %s or %s)", i, e.Type, EngineLocal, EngineHTTP)
		}
	}
	return nil
}

func validateWebhooks(wc *WebhooksConfig) error {
	if wc.Listen == "" {
		return fmt.Errorf("webhooks.listen is required")
	}
	paths := map[string]bool{}
	for i, ep := range wc.Endpoints {
		if !strings.HasPrefix(ep.Path, "/") {
			return fmt.Errorf("webhooks.endpoints[%d].path must start with /", i)
		}
		if paths[ep.Path] {
			return fmt.Errorf("webhooks.endpoints[%d]: duplicate path %q", i, ep.Path)
		}
		paths[ep.Path] = true
		if ep.Pipeline == "" {
			return fmt.Errorf("webhooks.endpoints[%d].pipeline is required", i)
		}
		field := fmt.Sprintf("webhooks.endpoints[%d].secret", i)
		if ep.Secret == "" {
			return fmt.Errorf("%s is required", field)
		}
		if err := checkUnresolved(field, ep.Secret); err != nil {
			return err
		}
	}
	return nil
}

func validateTask(id string, t TaskConf) error {
	if !strings.Contains(id, ":") {
		return fmt.Errorf("task %q: id must be namespace:name", id)
	}
	if t.AutoRetry < 0 {
		return fmt.Errorf("task %q: auto_retry must not be negative", id)
	}
	switch t.Kind {
	case KindExec:
		if strings.TrimSpace(t.Command) == "" {
			return fmt.Errorf("task %q: command is required for exec tasks", id)
		}
	case KindJar:
		if t.Jar == nil || t.Jar.Path == "" {
			return fmt.Errorf("task %q: jar.path is required for jar tasks", id)
		}
	case KindBuiltin:
		if t.Builtin == "" {
			return fmt.Errorf("task %q: builtin is required for builtin tasks", id)
		}
	default:
		return fmt.Errorf("task %q: unknown kind %q", id, t.Kind)
	}
	return nil
}

func checkUnresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}
