package config

import "time"

// Config represents the complete conduit configuration.
type Config struct {
	Include        []string                `yaml:"include,omitempty"`
	Service        ServiceConfig           `yaml:"service"`
	State          StateConfig             `yaml:"state"`
	Workspace      WorkspaceConfig         `yaml:"workspace"`
	API            APIConfig               `yaml:"api,omitempty"`
	Engines        []EngineConfig          `yaml:"engines,omitempty"`
	Tasks          map[string]TaskConf     `yaml:"tasks,omitempty"`
	TaskClones     []TaskCloneConf         `yaml:"task_clones,omitempty"`
	Pipelines      map[string]PipelineConf `yaml:"pipelines,omitempty"`
	PipelineClones []PipelineCloneConf     `yaml:"pipeline_clones,omitempty"`
	Triggers       []TriggerConf           `yaml:"triggers,omitempty"`
	Webhooks       *WebhooksConfig         `yaml:"webhooks,omitempty"`

	// SourceFiles lists every file that contributed to this config, root first.
	SourceFiles []string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name             string        `yaml:"name"`
	TickInterval     time.Duration `yaml:"tick_interval"`
	LogLevel         string        `yaml:"log_level"`
	LogFile          string        `yaml:"log_file,omitempty"`
	JavaPath         string        `yaml:"java_path,omitempty"`
	ToolsDir         string        `yaml:"tools_dir,omitempty"`
	MaxWorkers       int           `yaml:"max_workers"`
	HistoryRetention time.Duration `yaml:"history_retention"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// WorkspaceConfig defines where per-job work directories live.
type WorkspaceConfig struct {
	Dir       string        `yaml:"dir"`
	Retention time.Duration `yaml:"retention"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a single bearer token with full access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// EngineConfig declares one execution engine. Location is unique per process.
type EngineConfig struct {
	Type     string `yaml:"type"`
	Location string `yaml:"location"`
	URL      string `yaml:"url,omitempty"`
	Token    string `yaml:"token,omitempty"`
}

// TaskConf declares a base task factory. The map key is its "namespace:name" id.
type TaskConf struct {
	Kind            string               `yaml:"kind"`
	Command         string               `yaml:"command,omitempty"`
	Exe             string               `yaml:"exe,omitempty"`
	ModuleDir       string               `yaml:"module_dir,omitempty"`
	SwitchFormat    string               `yaml:"switch_format,omitempty"`
	Jar             *JarConf             `yaml:"jar,omitempty"`
	Builtin         string               `yaml:"builtin,omitempty"`
	StatusName      string               `yaml:"status_name,omitempty"`
	Location        string               `yaml:"location,omitempty"`
	AutoRetry       int                  `yaml:"auto_retry,omitempty"`
	Timeout         time.Duration        `yaml:"timeout,omitempty"`
	Join            bool                 `yaml:"join,omitempty"`
	GroupParam      string               `yaml:"group_param,omitempty"`
	ProtocolActions []string             `yaml:"protocol_actions,omitempty"`
	InputExtensions []string             `yaml:"input_extensions,omitempty"`
	Inputs          map[string]string    `yaml:"inputs,omitempty"`
	Outputs         map[string]string    `yaml:"outputs,omitempty"`
	Params          map[string]ParamConf `yaml:"params,omitempty"`
	Env             map[string]string    `yaml:"env,omitempty"`
}

// JarConf describes a Java task launched with "java -jar".
type JarConf struct {
	Path         string   `yaml:"path"`
	Package      string   `yaml:"package,omitempty"`
	VersionParam string   `yaml:"version_param,omitempty"`
	JVM          []string `yaml:"jvm,omitempty"`
}

// ParamConf declares one job parameter consumed by a command.
type ParamConf struct {
	Switch   string `yaml:"switch,omitempty"`
	Optional bool   `yaml:"optional,omitempty"`
	Default  string `yaml:"default,omitempty"`
}

// TaskCloneConf derives a new factory from Base with overridden settings.
type TaskCloneConf struct {
	ID         string            `yaml:"id"`
	Base       string            `yaml:"base"`
	StatusName string            `yaml:"status_name,omitempty"`
	Location   string            `yaml:"location,omitempty"`
	// AutoRetry and Timeout are pointers so a clone can set them back to 0.
	AutoRetry  *int              `yaml:"auto_retry,omitempty"`
	Timeout    *time.Duration    `yaml:"timeout,omitempty"`
	GroupParam string            `yaml:"group_param,omitempty"`
	Params     map[string]string `yaml:"params,omitempty"`
}

// PipelineConf declares a base pipeline. The map key is its id.
type PipelineConf struct {
	Description         string   `yaml:"description,omitempty"`
	Protocol            string   `yaml:"protocol,omitempty"`
	ProtocolDescription string   `yaml:"protocol_description,omitempty"`
	InputExtensions     []string `yaml:"input_extensions,omitempty"`
	Tasks               []string `yaml:"tasks"`
}

// PipelineCloneConf derives a pipeline from Base with its own progression.
type PipelineCloneConf struct {
	ID                  string   `yaml:"id"`
	Base                string   `yaml:"base"`
	Description         string   `yaml:"description,omitempty"`
	Protocol            string   `yaml:"protocol,omitempty"`
	ProtocolDescription string   `yaml:"protocol_description,omitempty"`
	InputExtensions     []string `yaml:"input_extensions,omitempty"`
	Tasks               []string `yaml:"tasks"`
}

// TriggerConf seeds a trigger configuration at startup.
type TriggerConf struct {
	Container   string            `yaml:"container"`
	Name        string            `yaml:"name"`
	Type        string            `yaml:"type"`
	Description string            `yaml:"description,omitempty"`
	Enabled     *bool             `yaml:"enabled,omitempty"`
	Pipeline    string            `yaml:"pipeline"`
	Path        string            `yaml:"path"`
	Pattern     string            `yaml:"pattern,omitempty"`
	Recursive   bool              `yaml:"recursive,omitempty"`
	Quiet       time.Duration     `yaml:"quiet,omitempty"`
	Params      map[string]string `yaml:"params,omitempty"`
}

// IsEnabled defaults to true when unset.
func (t TriggerConf) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// WebhooksConfig declares signed HTTP endpoints that submit jobs.
type WebhooksConfig struct {
	Listen    string                `yaml:"listen"`
	Endpoints []WebhookEndpointConf `yaml:"endpoints"`
}

// WebhookEndpointConf binds one webhook path to a pipeline.
type WebhookEndpointConf struct {
	Path      string `yaml:"path"`
	Pipeline  string `yaml:"pipeline"`
	Container string `yaml:"container,omitempty"`
	Secret    string `yaml:"secret"`
	// SignatureHeader defaults to X-Hub-Signature-256.
	SignatureHeader string `yaml:"signature_header,omitempty"`
	// MaxBodySize accepts plain bytes or a KB, MB or GB suffix.
	MaxBodySize string `yaml:"max_body_size,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:             "conduit",
			TickInterval:     10 * time.Second,
			LogLevel:         "info",
			JavaPath:         "java",
			MaxWorkers:       4,
			HistoryRetention: 30 * 24 * time.Hour,
		},
		State: StateConfig{
			Path: "./data/state.db",
		},
		Workspace: WorkspaceConfig{
			Dir:       "./data/workspaces",
			Retention: 7 * 24 * time.Hour,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Engines: []EngineConfig{
			{Type: "local", Location: "webserver"},
		},
	}
}
