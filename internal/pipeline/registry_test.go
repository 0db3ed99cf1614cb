package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/conduit/internal/config"
	"github.com/mattjoyce/conduit/internal/job"
)

func registryConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Tasks = map[string]config.TaskConf{
		"ms:convert": {Kind: "exec", Command: "convert ${input.raw} ${output.mzxml}", Location: "cluster", AutoRetry: 1},
		"ms:search":  {Kind: "exec", Command: "search ${input}"},
		"ms:merge":   {Kind: "builtin", Builtin: "noop", Join: true},
		"ms:sum":     {Kind: "builtin", Builtin: "checksum"},
	}
	cfg.TaskClones = []config.TaskCloneConf{
		{ID: "ms:convert-local", Base: "ms:convert", Location: "webserver", AutoRetry: ptr(2)},
		{ID: "ms:convert-once", Base: "ms:convert", AutoRetry: ptr(0)},
	}
	cfg.Pipelines = map[string]config.PipelineConf{
		"ms:full": {Description: "Full", Tasks: []string{"ms:convert", "ms:search", "ms:merge", "ms:sum"}},
	}
	cfg.PipelineClones = []config.PipelineCloneConf{
		{ID: "ms:local", Base: "ms:full", Description: "Local", Tasks: []string{"ms:convert-local", "ms:sum"}},
	}
	return cfg
}

func TestLoadRegistry(t *testing.T) {
	r, err := LoadRegistry(registryConfig())
	require.NoError(t, err)

	f, ok := r.Factory(MustParseTaskID("ms:convert-local"))
	require.True(t, ok)
	assert.Equal(t, WebServer, f.ExecutionLocation())
	assert.Equal(t, 2, f.AutoRetry())

	once, ok := r.Factory(MustParseTaskID("ms:convert-once"))
	require.True(t, ok)
	assert.Equal(t, 0, once.AutoRetry())
	assert.Equal(t, "cluster", once.ExecutionLocation())

	base, ok := r.Factory(MustParseTaskID("ms:convert"))
	require.True(t, ok)
	assert.Equal(t, "cluster", base.ExecutionLocation())

	pipes := r.Pipelines()
	require.Len(t, pipes, 2)
	assert.Equal(t, "ms:full", pipes[0].ID().String())
	assert.Equal(t, "ms:local", pipes[1].ID().String())

	full, err := r.PipelineByName("ms:full")
	require.NoError(t, err)
	assert.Equal(t, 2, r.NextJoin(full, 0))
	assert.Equal(t, 0, r.NextJoin(full, 2))

	p, af, err := r.ActiveFactory(&job.Job{PipelineID: "ms:full", ActiveTask: 1})
	require.NoError(t, err)
	assert.Same(t, full, p)
	assert.Equal(t, "ms:search", af.ID().String())

	_, _, err = r.ActiveFactory(&job.Job{PipelineID: "ms:full", ActiveTask: 9})
	assert.Error(t, err)
	_, _, err = r.ActiveFactory(&job.Job{PipelineID: "ms:nope"})
	assert.Error(t, err)
}

func TestLoadRegistryUnknownTask(t *testing.T) {
	cfg := registryConfig()
	cfg.Pipelines["ms:broken"] = config.PipelineConf{Tasks: []string{"ms:missing"}}

	_, err := LoadRegistry(cfg)
	assert.True(t, errors.Is(err, ErrUnknownTask), "got %v", err)
}

func TestLoadRegistryCloneOfUnknownBase(t *testing.T) {
	cfg := registryConfig()
	cfg.TaskClones = append(cfg.TaskClones, config.TaskCloneConf{ID: "ms:x", Base: "ms:missing"})

	_, err := LoadRegistry(cfg)
	assert.True(t, errors.Is(err, ErrUnknownTask), "got %v", err)
}

func TestLoadRegistryBuiltinClone(t *testing.T) {
	cfg := registryConfig()
	cfg.TaskClones = append(cfg.TaskClones, config.TaskCloneConf{ID: "ms:sum2", Base: "ms:sum"})

	_, err := LoadRegistry(cfg)
	var cerr *CloneError
	assert.ErrorAs(t, err, &cerr)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	f, err := NewFactory(MustParseTaskID("a:b"), config.TaskConf{Kind: "builtin", Builtin: "noop"}, Env{})
	require.NoError(t, err)
	require.NoError(t, r.AddFactory(f))
	assert.Error(t, r.AddFactory(f))

	p, err := NewPipeline(MustParseTaskID("a:p"), PipelineInfo{}, []TaskID{f.ID()})
	require.NoError(t, err)
	require.NoError(t, r.AddPipeline(p))
	assert.Error(t, r.AddPipeline(p))
}
