// Package doctor checks a loaded conduit configuration for problems that
// loading alone does not catch: dangling references, unreachable engines,
// missing executables and risky auth settings.
package doctor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/mattjoyce/conduit/internal/auth"
	"github.com/mattjoyce/conduit/internal/config"
	"github.com/mattjoyce/conduit/internal/pipeline"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration against the built pipeline registry.
type Doctor struct {
	cfg          *config.Config
	registry     *pipeline.Registry
	triggerTypes map[string]bool
	lookPath     func(string) (string, error)
	stat         func(string) (os.FileInfo, error)
}

// New creates a Doctor. triggerTypes lists the registered trigger type names.
func New(cfg *config.Config, registry *pipeline.Registry, triggerTypes []string) *Doctor {
	types := make(map[string]bool, len(triggerTypes))
	for _, t := range triggerTypes {
		types[t] = true
	}
	return &Doctor{
		cfg:          cfg,
		registry:     registry,
		triggerTypes: types,
		lookPath:     exec.LookPath,
		stat:         os.Stat,
	}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateAPIConfig(r)
	d.validateTokenScopes(r)
	d.validateEngines(r)
	d.validateTaskLocations(r)
	d.validateTriggers(r)
	d.validateWebhooks(r)
	d.warnUnusedTasks(r)
	d.warnMissingExecutables(r)
	d.warnDeprecatedSyntax(r)
	d.warnSuspiciousIntervals(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if d.cfg.API.Auth.APIKey == "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "api", "api.auth", "API enabled but no authentication configured")
	}
}

func (d *Doctor) validateTokenScopes(r *Result) {
	known := make(map[string]bool, len(auth.KnownScopes))
	for _, s := range auth.KnownScopes {
		known[s.Name] = true
	}
	for i, token := range d.cfg.API.Auth.Tokens {
		for j, scope := range token.Scopes {
			if known[scope] {
				continue
			}
			field := fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j)
			if strings.HasSuffix(scope, ":rw") && known[strings.TrimSuffix(scope, ":rw")+":ro"] {
				continue
			}
			d.addError(r, "token_scopes", field, fmt.Sprintf("unknown scope %q", scope))
		}
	}
}

func (d *Doctor) validateEngines(r *Result) {
	for i, e := range d.cfg.Engines {
		if e.Type == config.EngineHTTP && e.Token == "" {
			d.addWarning(r, "engines", fmt.Sprintf("engines[%d].token", i),
				fmt.Sprintf("remote engine %q has no token; requests will be unauthenticated", e.Location))
		}
	}
}

// validateTaskLocations checks that every task a pipeline uses runs at a
// configured engine location.
func (d *Doctor) validateTaskLocations(r *Result) {
	locations := make(map[string]bool, len(d.cfg.Engines))
	for _, e := range d.cfg.Engines {
		locations[e.Location] = true
	}
	seen := make(map[pipeline.TaskID]bool)
	for _, p := range d.registry.Pipelines() {
		for _, id := range p.TaskProgression() {
			if seen[id] {
				continue
			}
			seen[id] = true
			f, ok := d.registry.Factory(id)
			if !ok {
				continue
			}
			loc := f.ExecutionLocation()
			if !locations[loc] {
				d.addError(r, "locations", "tasks."+id.String(),
					fmt.Sprintf("task runs at location %q but no engine is configured there (pipeline %s)", loc, p.ID()))
			}
		}
	}
}

func (d *Doctor) validateTriggers(r *Result) {
	for i, t := range d.cfg.Triggers {
		field := fmt.Sprintf("triggers[%d]", i)
		if !d.triggerTypes[t.Type] {
			d.addError(r, "triggers", field+".type", fmt.Sprintf("unknown trigger type %q", t.Type))
		}
		if _, err := d.registry.PipelineByName(t.Pipeline); err != nil {
			d.addError(r, "triggers", field+".pipeline", fmt.Sprintf("unknown pipeline %q", t.Pipeline))
		}
		if t.Path != "" && t.IsEnabled() {
			if _, err := d.stat(t.Path); err != nil {
				d.addWarning(r, "triggers", field+".path", fmt.Sprintf("watched path %q is not accessible", t.Path))
			}
		}
	}
}

func (d *Doctor) validateWebhooks(r *Result) {
	if d.cfg.Webhooks == nil {
		return
	}
	if d.cfg.API.Enabled && d.cfg.Webhooks.Listen == d.cfg.API.Listen {
		d.addError(r, "webhooks", "webhooks.listen", "webhooks.listen conflicts with api.listen")
	}
	for i, ep := range d.cfg.Webhooks.Endpoints {
		if _, err := d.registry.PipelineByName(ep.Pipeline); err != nil {
			d.addError(r, "webhooks", fmt.Sprintf("webhooks.endpoints[%d].pipeline", i),
				fmt.Sprintf("unknown pipeline %q", ep.Pipeline))
		}
	}
}

func (d *Doctor) warnUnusedTasks(r *Result) {
	used := make(map[string]bool)
	for _, p := range d.registry.Pipelines() {
		for _, id := range p.TaskProgression() {
			used[id.String()] = true
		}
	}
	bases := make(map[string]bool)
	for _, tc := range d.cfg.TaskClones {
		bases[tc.Base] = true
	}
	for id := range d.cfg.Tasks {
		if !used[id] && !bases[id] {
			d.addWarning(r, "unused", "tasks."+id, "task is not used by any pipeline")
		}
	}
	for i, tc := range d.cfg.TaskClones {
		if !used[tc.ID] && !bases[tc.ID] {
			d.addWarning(r, "unused", fmt.Sprintf("task_clones[%d]", i),
				fmt.Sprintf("task %q is not used by any pipeline", tc.ID))
		}
	}
}

func (d *Doctor) warnMissingExecutables(r *Result) {
	needJava := false
	for id, t := range d.cfg.Tasks {
		switch t.Kind {
		case config.KindExec:
			exe := t.Exe
			if exe == "" {
				if fields := strings.Fields(t.Command); len(fields) > 0 && !strings.HasPrefix(fields[0], "${") {
					exe = fields[0]
				}
			}
			if exe == "" {
				continue
			}
			if !d.executableExists(exe, t.ModuleDir) {
				d.addWarning(r, "executables", "tasks."+id+".exe",
					fmt.Sprintf("executable %q not found", exe))
			}
		case config.KindJar:
			needJava = true
			if t.Jar == nil {
				continue
			}
			path := t.Jar.Path
			if !filepath.IsAbs(path) && d.cfg.Service.ToolsDir != "" {
				path = filepath.Join(d.cfg.Service.ToolsDir, path)
			}
			if _, err := d.stat(path); err != nil {
				d.addWarning(r, "executables", "tasks."+id+".jar.path",
					fmt.Sprintf("jar %q not found", path))
			}
		}
	}
	if needJava {
		if _, err := d.lookPath(d.cfg.Service.JavaPath); err != nil {
			d.addWarning(r, "executables", "service.java_path",
				fmt.Sprintf("java runtime %q not found", d.cfg.Service.JavaPath))
		}
	}
}

func (d *Doctor) executableExists(exe, moduleDir string) bool {
	if strings.ContainsRune(exe, filepath.Separator) {
		if !filepath.IsAbs(exe) && moduleDir != "" {
			exe = filepath.Join(moduleDir, exe)
		}
		_, err := d.stat(exe)
		return err == nil
	}
	if d.cfg.Service.ToolsDir != "" {
		if _, err := d.stat(filepath.Join(d.cfg.Service.ToolsDir, exe)); err == nil {
			return true
		}
	}
	_, err := d.lookPath(exe)
	return err == nil
}

func (d *Doctor) warnDeprecatedSyntax(r *Result) {
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) > 0 {
		d.addWarning(r, "deprecated", "api.auth",
			"both api_key and tokens configured; prefer tokens array only")
	}
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "deprecated", "api.auth.api_key",
			"legacy api_key grants full access; migrate to tokens array with scopes")
	}
}

func (d *Doctor) warnSuspiciousIntervals(r *Result) {
	if d.cfg.Service.TickInterval < time.Second {
		d.addWarning(r, "schedule", "service.tick_interval",
			fmt.Sprintf("tick interval %s is very short (< 1s)", d.cfg.Service.TickInterval))
	}
	if d.cfg.Service.TickInterval > time.Hour {
		d.addWarning(r, "schedule", "service.tick_interval",
			fmt.Sprintf("tick interval %s delays trigger scans and job advancement", d.cfg.Service.TickInterval))
	}
}

// FormatHuman returns a human-readable summary of the result.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
