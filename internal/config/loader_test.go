package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal config gets defaults",
			yaml: `
state:
  path: ./test.db
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.TickInterval != 10*time.Second {
					t.Errorf("tick_interval default not applied: %v", cfg.Service.TickInterval)
				}
				if cfg.Service.MaxWorkers != 4 {
					t.Errorf("max_workers default not applied: %d", cfg.Service.MaxWorkers)
				}
				if cfg.State.Path != "./test.db" {
					t.Errorf("state.path not parsed")
				}
				if len(cfg.Engines) != 1 || cfg.Engines[0].Location != "webserver" {
					t.Errorf("default local engine missing: %+v", cfg.Engines)
				}
			},
		},
		{
			name: "tasks and pipelines",
			yaml: `
service:
  tick_interval: 2s
engines:
  - type: local
    location: webserver
  - type: http
    location: cluster
    url: http://worker:8090
tasks:
  ms:convert:
    kind: exec
    command: msconvert ${input.raw} -o ${output.mzxml}
    location: cluster
    auto_retry: 2
    timeout: 30m
  ms:checksum:
    kind: builtin
    builtin: checksum
pipelines:
  ms:standard:
    description: Standard
    tasks: [ms:convert, ms:checksum]
`,
			checkFn: func(t *testing.T, cfg *Config) {
				conv, ok := cfg.Tasks["ms:convert"]
				if !ok {
					t.Fatal("ms:convert missing")
				}
				if conv.AutoRetry != 2 || conv.Timeout != 30*time.Minute || conv.Location != "cluster" {
					t.Errorf("task fields not parsed: %+v", conv)
				}
				if got := cfg.Pipelines["ms:standard"].Tasks; len(got) != 2 || got[1] != "ms:checksum" {
					t.Errorf("pipeline tasks = %v", got)
				}
				if cfg.Engines[1].URL != "http://worker:8090" {
					t.Errorf("engine url not parsed")
				}
			},
		},
		{
			name: "env var interpolation",
			yaml: `
state:
  path: ${CONDUIT_TEST_DB}
api:
  enabled: true
  auth:
    api_key: ${CONDUIT_TEST_KEY}
`,
			env: map[string]string{
				"CONDUIT_TEST_DB":  "/tmp/test.db",
				"CONDUIT_TEST_KEY": "secret123",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.State.Path != "/tmp/test.db" {
					t.Errorf("state.path = %q", cfg.State.Path)
				}
				if cfg.API.Auth.APIKey != "secret123" {
					t.Errorf("api_key = %q", cfg.API.Auth.APIKey)
				}
			},
		},
		{
			name: "unresolved api key",
			yaml: `
api:
  enabled: true
  auth:
    api_key: ${CONDUIT_TEST_MISSING_KEY}
`,
			wantErr: "CONDUIT_TEST_MISSING_KEY",
		},
		{
			name: "unknown task kind",
			yaml: `
tasks:
  ms:x:
    kind: python
`,
			wantErr: `unknown kind "python"`,
		},
		{
			name: "http engine without url",
			yaml: `
engines:
  - type: http
    location: cluster
`,
			wantErr: "url is required",
		},
		{
			name: "duplicate engine location",
			yaml: `
engines:
  - type: local
    location: webserver
  - type: local
    location: webserver
`,
			wantErr: "duplicate location",
		},
		{
			name: "bad log level",
			yaml: `
service:
  log_level: chatty
`,
			wantErr: "log_level",
		},
		{
			name: "webhook endpoints",
			yaml: `
webhooks:
  listen: 127.0.0.1:8081
  endpoints:
    - path: /hooks/instrument
      pipeline: ms:standard
      container: /lab
      secret: ${CONDUIT_TEST_HOOK_SECRET}
`,
			env: map[string]string{"CONDUIT_TEST_HOOK_SECRET": "s3cret"},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Webhooks == nil || len(cfg.Webhooks.Endpoints) != 1 {
					t.Fatalf("webhooks not parsed: %+v", cfg.Webhooks)
				}
				if got := cfg.Webhooks.Endpoints[0].Secret; got != "s3cret" {
					t.Errorf("secret = %q, want interpolated value", got)
				}
			},
		},
		{
			name: "webhook path must be absolute",
			yaml: `
webhooks:
  listen: 127.0.0.1:8081
  endpoints:
    - path: hooks
      pipeline: ms:standard
      secret: x
`,
			wantErr: "must start with /",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := writeFile(t, t.TempDir(), "config.yaml", tt.yaml)

			cfg, err := Load(path)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Load() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadIncludesMerge(t *testing.T) {
	dir := t.TempDir()
	root := writeFile(t, dir, "config.yaml", `
include:
  - tasks.yaml
service:
  tick_interval: 5s
tasks:
  ms:a:
    kind: builtin
    builtin: noop
triggers:
  - container: /home
    name: one
    type: file-watcher
    pipeline: ms:p
    path: /in
`)
	writeFile(t, dir, "tasks.yaml", `
include:
  - nested/pipelines.yaml
service:
  tick_interval: 7s
tasks:
  ms:b:
    kind: builtin
    builtin: checksum
triggers:
  - container: /home
    name: two
    type: file-watcher
    pipeline: ms:p
    path: /in2
`)
	writeFile(t, dir, "nested/pipelines.yaml", `
pipelines:
  ms:p:
    tasks: [ms:a, ms:b]
`)

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.TickInterval != 7*time.Second {
		t.Errorf("included scalar did not override: %v", cfg.Service.TickInterval)
	}
	if len(cfg.Tasks) != 2 {
		t.Errorf("tasks not merged: %v", cfg.Tasks)
	}
	if len(cfg.Triggers) != 2 {
		t.Errorf("triggers not appended: %v", cfg.Triggers)
	}
	if _, ok := cfg.Pipelines["ms:p"]; !ok {
		t.Errorf("nested include not loaded")
	}
	if len(cfg.SourceFiles) != 3 || cfg.SourceFiles[0] != root {
		t.Errorf("SourceFiles = %v", cfg.SourceFiles)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	root := writeFile(t, dir, "config.yaml", "include: [a.yaml]\n")
	writeFile(t, dir, "a.yaml", "include: [config.yaml]\n")

	_, err := Load(root)
	if err == nil || !strings.Contains(err.Error(), "circular") {
		t.Fatalf("expected circular include error, got %v", err)
	}
}

func TestLoadMissingInclude(t *testing.T) {
	dir := t.TempDir()
	root := writeFile(t, dir, "config.yaml", "include: [missing.yaml]\n")

	_, err := Load(root)
	if err == nil || !strings.Contains(err.Error(), "file not found") {
		t.Fatalf("expected missing include error, got %v", err)
	}
}

func TestLoadDirectoryArgument(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "service:\n  name: dirmode\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "dirmode" {
		t.Errorf("name = %q", cfg.Service.Name)
	}
}

func TestInterpolateEnvLeavesUnknown(t *testing.T) {
	t.Setenv("CONDUIT_KNOWN", "yes")
	got := interpolateEnv("${CONDUIT_KNOWN} ${CONDUIT_SURELY_UNSET_VAR}")
	if got != "yes ${CONDUIT_SURELY_UNSET_VAR}" {
		t.Errorf("interpolateEnv = %q", got)
	}
}

func TestGetPathAndEntity(t *testing.T) {
	cfg, err := Parse([]byte(`
service:
  name: conduit-test
tasks:
  ms:a:
    kind: builtin
    builtin: noop
task_clones:
  - id: ms:a2
    base: ms:a
engines:
  - type: local
    location: webserver
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	v, err := cfg.GetPath("service.name")
	if err != nil || v != "conduit-test" {
		t.Errorf("GetPath(service.name) = %v, %v", v, err)
	}
	if _, err := cfg.GetPath("service.nope"); err == nil {
		t.Errorf("expected error for missing key")
	}
	if _, err := cfg.GetPath("task:ms:a2"); err != nil {
		t.Errorf("clone lookup failed: %v", err)
	}
	e, err := cfg.GetPath("engine:webserver")
	if err != nil {
		t.Fatalf("engine lookup failed: %v", err)
	}
	if e.(EngineConfig).Type != "local" {
		t.Errorf("engine = %+v", e)
	}
	if _, err := cfg.GetEntity("widget", "x"); err == nil {
		t.Errorf("expected unsupported entity error")
	}
}

func TestTaskCloneZeroOverrides(t *testing.T) {
	cfg, err := Parse([]byte(`
tasks:
  ms:a:
    kind: exec
    command: convert ${input.raw}
    auto_retry: 3
    timeout: 10m
task_clones:
  - id: ms:once
    base: ms:a
    auto_retry: 0
    timeout: 0s
  - id: ms:same
    base: ms:a
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	once, same := cfg.TaskClones[0], cfg.TaskClones[1]
	if once.AutoRetry == nil || *once.AutoRetry != 0 {
		t.Errorf("auto_retry: 0 not kept: %v", once.AutoRetry)
	}
	if once.Timeout == nil || *once.Timeout != 0 {
		t.Errorf("timeout: 0s not kept: %v", once.Timeout)
	}
	if same.AutoRetry != nil || same.Timeout != nil {
		t.Errorf("unset overrides should stay nil: %+v", same)
	}

	if _, err := Parse([]byte(`
tasks:
  ms:a:
    kind: exec
    command: convert
task_clones:
  - id: ms:neg
    base: ms:a
    auto_retry: -1
`)); err == nil {
		t.Errorf("expected negative auto_retry to be rejected")
	}
}
