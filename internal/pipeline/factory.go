package pipeline

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/conduit/internal/command"
	"github.com/mattjoyce/conduit/internal/config"
	"github.com/mattjoyce/conduit/internal/job"
)

// WebServer is the execution location of the server process itself. Tasks
// located here run in-process on the local engine.
const WebServer = "webserver"

// Kind selects how a factory's tasks execute.
type Kind string

const (
	KindExec    Kind = config.KindExec
	KindJar     Kind = config.KindJar
	KindBuiltin Kind = config.KindBuiltin
)

// Env is process-wide runtime configuration shared by every factory.
type Env struct {
	ToolsDir string
	JavaPath string
}

// TaskFactory creates tasks bound to a job. Factories are immutable once
// registered; CloneAndConfigure derives new ones.
type TaskFactory struct {
	id              TaskID
	kind            Kind
	opts            factoryOpts
	join            bool
	protocolActions []string
	inputExts       []string
	outputs         map[string]string
	template        *command.Template
	moduleDir       string
	builtin         string
	procEnv         map[string]string
	env             Env
}

// NewFactory builds a base factory from its configuration.
func NewFactory(id TaskID, conf config.TaskConf, env Env) (*TaskFactory, error) {
	if id.IsZero() {
		return nil, fmt.Errorf("task id is empty")
	}
	f := &TaskFactory{
		id:   id,
		kind: Kind(conf.Kind),
		opts: factoryOpts{
			StatusName: conf.StatusName,
			Location:   conf.Location,
			AutoRetry:  conf.AutoRetry,
			Timeout:    conf.Timeout,
			GroupParam: conf.GroupParam,
		},
		join:            conf.Join,
		protocolActions: slices.Clone(conf.ProtocolActions),
		inputExts:       normalizeExts(conf.InputExtensions),
		outputs:         maps.Clone(conf.Outputs),
		moduleDir:       conf.ModuleDir,
		builtin:         conf.Builtin,
		procEnv:         maps.Clone(conf.Env),
		env:             env,
	}
	if f.outputs == nil {
		f.outputs = map[string]string{}
	}

	decl := command.Declarations{
		Inputs:  conf.Inputs,
		Outputs: conf.Outputs,
		Params:  make(map[string]command.Param, len(conf.Params)),
	}
	format := command.SwitchFormatByName(conf.SwitchFormat)
	for name, p := range conf.Params {
		decl.Params[name] = command.Param{
			Name:     name,
			Switch:   p.Switch,
			Format:   format,
			Optional: p.Optional,
			Default:  p.Default,
		}
	}

	switch f.kind {
	case KindExec:
		t, err := command.Parse(conf.Command, conf.Exe, conf.ModuleDir, decl)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", id, err)
		}
		f.template = t
	case KindJar:
		t, err := jarTemplate(conf, decl)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", id, err)
		}
		f.template = t
	case KindBuiltin:
		if _, ok := builtins[conf.Builtin]; !ok {
			return nil, fmt.Errorf("task %s: unknown builtin %q (known: %s)", id, conf.Builtin, strings.Join(Builtins(), ", "))
		}
	default:
		return nil, fmt.Errorf("task %s: unknown kind %q", id, conf.Kind)
	}

	// Outputs discovered in the command line (${output.tsv}) are declared outputs too.
	if f.template != nil {
		for k, ext := range f.template.Outputs {
			f.outputs[k] = ext
		}
	}
	return f, nil
}

func jarTemplate(conf config.TaskConf, decl command.Declarations) (*command.Template, error) {
	t := &command.Template{
		Exe:     conf.Jar.Path,
		Inputs:  maps.Clone(decl.Inputs),
		Outputs: maps.Clone(decl.Outputs),
		Params:  decl.Params,
	}
	if t.Inputs == nil {
		t.Inputs = map[string]string{}
	}
	if t.Outputs == nil {
		t.Outputs = map[string]string{}
	}
	if strings.TrimSpace(conf.Command) != "" {
		parsed, err := command.Parse(conf.Command, conf.Jar.Path, conf.ModuleDir, decl)
		if err != nil {
			return nil, err
		}
		t = parsed
	}

	jvm := make([]command.Converter, 0, len(conf.Jar.JVM))
	for _, opt := range conf.Jar.JVM {
		jvm = append(jvm, command.Literal{Value: opt})
	}
	launcher := command.Jar{
		JarPath:         conf.Jar.Path,
		SoftwarePackage: conf.Jar.Package,
		VersionParam:    conf.Jar.VersionParam,
		JVM:             jvm,
	}
	t.Command = command.List{Converters: append([]command.Converter{launcher}, t.Command.Converters...)}
	return t, nil
}

func (f *TaskFactory) ID() TaskID { return f.id }

// ActiveID is the id under which the factory runs for j.
func (f *TaskFactory) ActiveID(*job.Job) TaskID { return f.id }

func (f *TaskFactory) Kind() Kind { return f.kind }

// StatusName is the sub-status shown while the task runs. Defaults to the
// task name.
func (f *TaskFactory) StatusName() string {
	if f.opts.StatusName != "" {
		return f.opts.StatusName
	}
	return f.id.Name
}

// ExecutionLocation names the engine that runs this task.
func (f *TaskFactory) ExecutionLocation() string {
	if f.opts.Location != "" {
		return f.opts.Location
	}
	return WebServer
}

// AutoRetry is the number of automatic retries allowed for this task.
func (f *TaskFactory) AutoRetry() int { return f.opts.AutoRetry }

// Timeout bounds a single task run. Zero means no limit.
func (f *TaskFactory) Timeout() time.Duration { return f.opts.Timeout }

func (f *TaskFactory) IsJoin() bool { return f.join }

func (f *TaskFactory) GroupParameterName() string { return f.opts.GroupParam }

func (f *TaskFactory) ProtocolActionNames() []string { return slices.Clone(f.protocolActions) }

func (f *TaskFactory) InputExtensions() []string { return slices.Clone(f.inputExts) }

// Outputs maps output keys to file extensions.
func (f *TaskFactory) Outputs() map[string]string { return maps.Clone(f.outputs) }

// ParamDefaults are job parameter values used when the job does not set them.
func (f *TaskFactory) ParamDefaults() map[string]string { return maps.Clone(f.opts.Params) }

// ParamNames lists the job parameters the command line consumes.
func (f *TaskFactory) ParamNames() []string {
	if f.template == nil {
		return nil
	}
	return f.template.ParamNames()
}

// CloneAndConfigure derives a new factory registered as s.CloneID. The
// receiver is left untouched.
func (f *TaskFactory) CloneAndConfigure(s FactorySettings) (*TaskFactory, error) {
	if s.CloneID.IsZero() {
		return nil, &CloneError{Source: f.id, Target: s.CloneID, Reason: "clone id is empty"}
	}
	if !s.BaseID.IsZero() && s.BaseID != f.id {
		return nil, &CloneError{Source: f.id, Target: s.CloneID, Reason: fmt.Sprintf("settings are based on %s", s.BaseID)}
	}
	if f.kind == KindBuiltin {
		return nil, &CloneError{Source: f.id, Target: s.CloneID, Reason: "builtin tasks cannot be cloned"}
	}
	opts, err := mergeOverrides(f.opts, s.Overrides)
	if err != nil {
		return nil, &CloneError{Source: f.id, Target: s.CloneID, Reason: err.Error()}
	}

	c := *f
	c.id = s.CloneID
	c.opts = opts
	c.protocolActions = slices.Clone(f.protocolActions)
	c.inputExts = slices.Clone(f.inputExts)
	c.outputs = maps.Clone(f.outputs)
	c.procEnv = maps.Clone(f.procEnv)
	return &c, nil
}

// CreateTask binds a fresh task to j.
func (f *TaskFactory) CreateTask(j *job.Job) (Task, error) {
	if j.WorkDir == "" {
		return nil, fmt.Errorf("%w: job %s has no work directory", ErrIncompatibleJob, j.ID)
	}
	if len(f.inputExts) > 0 && !f.matchesAnyInput(j.Inputs) {
		return nil, fmt.Errorf("%w: %s accepts %v", ErrIncompatibleJob, f.id, f.inputExts)
	}
	bound := j.Clone()
	switch f.kind {
	case KindBuiltin:
		return &builtinTask{factory: f, job: bound, fn: builtins[f.builtin]}, nil
	default:
		return &commandTask{factory: f, job: bound}, nil
	}
}

// IsJobComplete reports whether every declared output already exists in the
// job's work directory. Factories without outputs are never complete up front.
func (f *TaskFactory) IsJobComplete(_ context.Context, j *job.Job) (bool, error) {
	if len(f.outputs) == 0 || j.WorkDir == "" {
		return false, nil
	}
	for _, ext := range f.outputs {
		_, err := os.Stat(outputPath(j, ext))
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("check output of %s: %w", f.id, err)
		}
	}
	return true, nil
}

// IsParticipant reports whether the task takes part in j. A job opts out with
// the parameter "<group>, skip" set to true.
func (f *TaskFactory) IsParticipant(_ context.Context, j *job.Job) (bool, error) {
	if g := f.opts.GroupParam; g != "" && strings.EqualFold(j.Param(g+", skip"), "true") {
		return false, nil
	}
	if len(f.inputExts) == 0 {
		return true, nil
	}
	return f.matchesAnyInput(j.Inputs), nil
}

// IsAutoRetryEnabled reports whether failures of this task on j may be
// retried automatically.
func (f *TaskFactory) IsAutoRetryEnabled(j *job.Job) bool {
	return f.AutoRetry() > 0 && !strings.EqualFold(j.Param(job.ParamAutoRetry), "false")
}

func (f *TaskFactory) matchesAnyInput(inputs []string) bool {
	for _, in := range inputs {
		if matchesExt(in, f.inputExts) {
			return true
		}
	}
	return false
}

func (f *TaskFactory) params(j *job.Job) map[string]string {
	out := maps.Clone(f.opts.Params)
	if out == nil {
		out = map[string]string{}
	}
	for k, v := range j.Params {
		out[k] = v
	}
	return out
}

// invocation resolves the command's file and parameter bindings for j.
func (f *TaskFactory) invocation(j *job.Job) *command.Invocation {
	inv := &command.Invocation{
		Params:    f.params(j),
		Inputs:    map[string][]string{},
		Outputs:   map[string]string{},
		WorkDir:   j.WorkDir,
		ModuleDir: f.moduleDir,
		ToolsDir:  f.env.ToolsDir,
		JavaPath:  f.env.JavaPath,
	}
	if f.template != nil {
		for key, ext := range f.template.Inputs {
			for _, in := range j.Inputs {
				if ext == "" || matchesExt(in, []string{ext}) {
					inv.Inputs[key] = append(inv.Inputs[key], in)
				}
			}
		}
	}
	for key, ext := range f.outputs {
		inv.Outputs[key] = outputPath(j, ext)
	}
	return inv
}

// outputPath names a task output: the primary input's base name with ext, or
// the job id when the job has no inputs.
func outputPath(j *job.Job, ext string) string {
	base := j.ID
	if len(j.Inputs) > 0 {
		b := filepath.Base(j.Inputs[0])
		base = strings.TrimSuffix(b, filepath.Ext(b))
	}
	return filepath.Join(j.WorkDir, base+ext)
}

func matchesExt(path string, exts []string) bool {
	lower := strings.ToLower(path)
	for _, ext := range exts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func normalizeExts(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	sort.Strings(out)
	return slices.Compact(out)
}
