package pipeline

import (
	"fmt"
	"sort"

	"github.com/mattjoyce/conduit/internal/config"
	"github.com/mattjoyce/conduit/internal/job"
)

// Registry resolves task factories and pipelines by id. It is built once at
// startup and read concurrently afterwards.
type Registry struct {
	factories map[TaskID]*TaskFactory
	pipelines map[TaskID]*TaskPipeline
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[TaskID]*TaskFactory),
		pipelines: make(map[TaskID]*TaskPipeline),
	}
}

// LoadRegistry builds the registry from configuration: base tasks, task
// clones in order, base pipelines, then pipeline clones in order. Every
// progression entry must resolve to a registered factory.
func LoadRegistry(cfg *config.Config) (*Registry, error) {
	r := NewRegistry()
	env := Env{ToolsDir: cfg.Service.ToolsDir, JavaPath: cfg.Service.JavaPath}

	for _, key := range sortedKeys(cfg.Tasks) {
		id, err := ParseTaskID(key)
		if err != nil {
			return nil, fmt.Errorf("tasks: %w", err)
		}
		f, err := NewFactory(id, cfg.Tasks[key], env)
		if err != nil {
			return nil, err
		}
		if err := r.AddFactory(f); err != nil {
			return nil, err
		}
	}

	for i, tc := range cfg.TaskClones {
		cloneID, err := ParseTaskID(tc.ID)
		if err != nil {
			return nil, fmt.Errorf("task_clones[%d]: %w", i, err)
		}
		baseID, err := ParseTaskID(tc.Base)
		if err != nil {
			return nil, fmt.Errorf("task_clones[%d]: %w", i, err)
		}
		base, ok := r.factories[baseID]
		if !ok {
			return nil, fmt.Errorf("task_clones[%d]: %w: %s", i, ErrUnknownTask, baseID)
		}
		clone, err := base.CloneAndConfigure(FactorySettings{
			CloneID: cloneID,
			BaseID:  baseID,
			Overrides: FactoryOverrides{
				StatusName: tc.StatusName,
				Location:   tc.Location,
				AutoRetry:  tc.AutoRetry,
				Timeout:    tc.Timeout,
				GroupParam: tc.GroupParam,
				Params:     tc.Params,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("task_clones[%d]: %w", i, err)
		}
		if err := r.AddFactory(clone); err != nil {
			return nil, fmt.Errorf("task_clones[%d]: %w", i, err)
		}
	}

	for _, key := range sortedKeys(cfg.Pipelines) {
		pc := cfg.Pipelines[key]
		id, err := ParseTaskID(key)
		if err != nil {
			return nil, fmt.Errorf("pipelines: %w", err)
		}
		progression, err := parseProgression(pc.Tasks)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", id, err)
		}
		p, err := NewPipeline(id, PipelineInfo{
			Description:              pc.Description,
			ProtocolIdentifier:       pc.Protocol,
			ProtocolShortDescription: pc.ProtocolDescription,
			InputExtensions:          pc.InputExtensions,
		}, progression)
		if err != nil {
			return nil, err
		}
		if err := r.AddPipeline(p); err != nil {
			return nil, err
		}
	}

	for i, pc := range cfg.PipelineClones {
		cloneID, err := ParseTaskID(pc.ID)
		if err != nil {
			return nil, fmt.Errorf("pipeline_clones[%d]: %w", i, err)
		}
		baseID, err := ParseTaskID(pc.Base)
		if err != nil {
			return nil, fmt.Errorf("pipeline_clones[%d]: %w", i, err)
		}
		base, ok := r.pipelines[baseID]
		if !ok {
			return nil, fmt.Errorf("pipeline_clones[%d]: %w %s", i, ErrUnknownPipeline, baseID)
		}
		progression, err := parseProgression(pc.Tasks)
		if err != nil {
			return nil, fmt.Errorf("pipeline_clones[%d]: %w", i, err)
		}
		clone, err := base.CloneAndConfigure(PipelineSettings{
			CloneID:                  cloneID,
			BaseID:                   baseID,
			Description:              pc.Description,
			ProtocolIdentifier:       pc.Protocol,
			ProtocolShortDescription: pc.ProtocolDescription,
			InputExtensions:          pc.InputExtensions,
		}, progression)
		if err != nil {
			return nil, fmt.Errorf("pipeline_clones[%d]: %w", i, err)
		}
		if err := r.AddPipeline(clone); err != nil {
			return nil, fmt.Errorf("pipeline_clones[%d]: %w", i, err)
		}
	}
	return r, nil
}

// AddFactory registers f. Ids are never replaced.
func (r *Registry) AddFactory(f *TaskFactory) error {
	if _, exists := r.factories[f.ID()]; exists {
		return fmt.Errorf("task %s already registered", f.ID())
	}
	r.factories[f.ID()] = f
	return nil
}

// AddPipeline registers p after checking that every task in its progression
// is known.
func (r *Registry) AddPipeline(p *TaskPipeline) error {
	if _, exists := r.pipelines[p.ID()]; exists {
		return fmt.Errorf("pipeline %s already registered", p.ID())
	}
	for i, id := range p.progression {
		if _, ok := r.factories[id]; !ok {
			return fmt.Errorf("pipeline %s: task[%d]: %w: %s", p.ID(), i, ErrUnknownTask, id)
		}
	}
	r.pipelines[p.ID()] = p
	return nil
}

func (r *Registry) Factory(id TaskID) (*TaskFactory, bool) {
	f, ok := r.factories[id]
	return f, ok
}

func (r *Registry) Pipeline(id TaskID) (*TaskPipeline, bool) {
	p, ok := r.pipelines[id]
	return p, ok
}

// PipelineByName parses id and looks it up.
func (r *Registry) PipelineByName(id string) (*TaskPipeline, error) {
	tid, err := ParseTaskID(id)
	if err != nil {
		return nil, err
	}
	p, ok := r.pipelines[tid]
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrUnknownPipeline, id)
	}
	return p, nil
}

// Pipelines returns every pipeline ordered by id.
func (r *Registry) Pipelines() []*TaskPipeline {
	out := make([]*TaskPipeline, 0, len(r.pipelines))
	for _, p := range r.pipelines {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID().String() < out[j].ID().String() })
	return out
}

// ActiveFactory resolves the pipeline of j and the factory at its active task.
func (r *Registry) ActiveFactory(j *job.Job) (*TaskPipeline, *TaskFactory, error) {
	p, err := r.PipelineByName(j.PipelineID)
	if err != nil {
		return nil, nil, err
	}
	f, err := r.FactoryAt(p, j.ActiveTask)
	if err != nil {
		return nil, nil, err
	}
	return p, f, nil
}

// FactoryAt returns the factory at progression index i of p.
func (r *Registry) FactoryAt(p *TaskPipeline, i int) (*TaskFactory, error) {
	id, ok := p.TaskAt(i)
	if !ok {
		return nil, fmt.Errorf("pipeline %s has no task at index %d", p.ID(), i)
	}
	f, ok := r.factories[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	return f, nil
}

// NextJoin returns the index of the first join task after index from, or 0
// when the rest of the progression has none.
func (r *Registry) NextJoin(p *TaskPipeline, from int) int {
	for i := from + 1; i < p.Len(); i++ {
		if f, err := r.FactoryAt(p, i); err == nil && f.IsJoin() {
			return i
		}
	}
	return 0
}

func parseProgression(ids []string) ([]TaskID, error) {
	out := make([]TaskID, 0, len(ids))
	for i, s := range ids {
		id, err := ParseTaskID(s)
		if err != nil {
			return nil, fmt.Errorf("task[%d]: %w", i, err)
		}
		out = append(out, id)
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
