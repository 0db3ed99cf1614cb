package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/conduit/internal/config"
	"github.com/mattjoyce/conduit/internal/job"
)

func execFactory(t *testing.T, conf config.TaskConf) *TaskFactory {
	t.Helper()
	if conf.Kind == "" {
		conf.Kind = config.KindExec
	}
	f, err := NewFactory(MustParseTaskID("test:task"), conf, Env{})
	require.NoError(t, err)
	return f
}

func testJob(t *testing.T, inputs ...string) *job.Job {
	t.Helper()
	return &job.Job{
		ID:         "job-1",
		PipelineID: "test:pipe",
		WorkDir:    t.TempDir(),
		Inputs:     inputs,
		Params:     map[string]string{},
	}
}

func TestNewFactoryDefaults(t *testing.T) {
	f := execFactory(t, config.TaskConf{Command: "cp ${input.txt} ${output.out}"})

	assert.Equal(t, KindExec, f.Kind())
	assert.Equal(t, "task", f.StatusName())
	assert.Equal(t, WebServer, f.ExecutionLocation())
	assert.Equal(t, 0, f.AutoRetry())
	assert.False(t, f.IsJoin())
	assert.Equal(t, map[string]string{"output.out": ".out"}, f.Outputs())
}

func TestNewFactoryRejectsBadConfig(t *testing.T) {
	_, err := NewFactory(MustParseTaskID("a:b"), config.TaskConf{Kind: "builtin", Builtin: "nope"}, Env{})
	assert.ErrorContains(t, err, "unknown builtin")

	_, err = NewFactory(MustParseTaskID("a:b"), config.TaskConf{Kind: "python"}, Env{})
	assert.ErrorContains(t, err, "unknown kind")

	_, err = NewFactory(TaskID{}, config.TaskConf{Kind: "exec", Command: "true"}, Env{})
	assert.Error(t, err)
}

func TestJarFactoryArgs(t *testing.T) {
	f, err := NewFactory(MustParseTaskID("ms:search"), config.TaskConf{
		Kind:    config.KindJar,
		Command: "--db ${database} ${input.mzxml}",
		Jar:     &config.JarConf{Path: "search.jar", Package: "search", VersionParam: "version", JVM: []string{"-Xmx2g"}},
	}, Env{ToolsDir: "/opt/tools", JavaPath: "/usr/bin/java"})
	require.NoError(t, err)

	j := &job.Job{ID: "j", WorkDir: "/w", Inputs: []string{"/d/a.mzxml"}, Params: map[string]string{"database": "human.fasta", "version": "2.1"}}
	args, err := f.template.Args(f.invocation(j))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/usr/bin/java", "-Xmx2g", "-client", "-jar", "/opt/tools/search-2.1/search.jar",
		"--db", "human.fasta", "/d/a.mzxml",
	}, args)
	assert.Equal(t, []string{"database"}, f.ParamNames())
}

func TestCloneAndConfigure(t *testing.T) {
	base := execFactory(t, config.TaskConf{
		Command:   "convert ${input.raw}",
		AutoRetry: 1,
		Timeout:   time.Minute,
		Location:  "cluster",
	})
	clone, err := base.CloneAndConfigure(FactorySettings{
		CloneID: MustParseTaskID("test:fast"),
		BaseID:  base.ID(),
		Overrides: FactoryOverrides{
			StatusName: "FAST CONVERT",
			AutoRetry:  ptr(3),
			Params:     map[string]string{"mode": "fast"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "test:fast", clone.ID().String())
	assert.Equal(t, "FAST CONVERT", clone.StatusName())
	assert.Equal(t, 3, clone.AutoRetry())
	assert.Equal(t, "cluster", clone.ExecutionLocation(), "zero override keeps base location")
	assert.Equal(t, time.Minute, clone.Timeout())
	assert.Equal(t, map[string]string{"mode": "fast"}, clone.ParamDefaults())

	// the base is untouched
	assert.Equal(t, "test:task", base.ID().String())
	assert.Equal(t, 1, base.AutoRetry())
	assert.Empty(t, base.ParamDefaults())
}

func ptr[T any](v T) *T { return &v }

func TestCloneCanResetToZero(t *testing.T) {
	base := execFactory(t, config.TaskConf{
		Command:   "convert ${input.raw}",
		AutoRetry: 2,
		Timeout:   time.Minute,
		Location:  "cluster",
	})
	clone, err := base.CloneAndConfigure(FactorySettings{
		CloneID: MustParseTaskID("test:once"),
		Overrides: FactoryOverrides{
			Location:  WebServer,
			AutoRetry: ptr(0),
			Timeout:   ptr(time.Duration(0)),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, clone.AutoRetry())
	assert.Equal(t, time.Duration(0), clone.Timeout())
	assert.Equal(t, WebServer, clone.ExecutionLocation())
	assert.False(t, clone.IsAutoRetryEnabled(&job.Job{}))

	assert.Equal(t, 2, base.AutoRetry())
	assert.Equal(t, time.Minute, base.Timeout())

	_, err = base.CloneAndConfigure(FactorySettings{
		CloneID:   MustParseTaskID("test:bad"),
		Overrides: FactoryOverrides{AutoRetry: ptr(-1)},
	})
	var cerr *CloneError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Reason, "negative")
}

func TestCloneAndConfigureErrors(t *testing.T) {
	base := execFactory(t, config.TaskConf{Command: "true"})

	var cerr *CloneError
	_, err := base.CloneAndConfigure(FactorySettings{BaseID: base.ID()})
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Reason, "clone id")

	_, err = base.CloneAndConfigure(FactorySettings{CloneID: MustParseTaskID("x:y"), BaseID: MustParseTaskID("other:base")})
	require.ErrorAs(t, err, &cerr)

	noop, err := NewFactory(MustParseTaskID("b:noop"), config.TaskConf{Kind: "builtin", Builtin: "noop"}, Env{})
	require.NoError(t, err)
	_, err = noop.CloneAndConfigure(FactorySettings{CloneID: MustParseTaskID("b:noop2")})
	require.ErrorAs(t, err, &cerr)
}

func TestCreateTaskIncompatible(t *testing.T) {
	f := execFactory(t, config.TaskConf{Command: "convert ${input}", InputExtensions: []string{"RAW"}})

	_, err := f.CreateTask(testJob(t, "/d/a.mzxml"))
	assert.True(t, errors.Is(err, ErrIncompatibleJob))

	noDir := testJob(t, "/d/a.raw")
	noDir.WorkDir = ""
	_, err = f.CreateTask(noDir)
	assert.True(t, errors.Is(err, ErrIncompatibleJob))

	task, err := f.CreateTask(testJob(t, "/d/a.raw"))
	require.NoError(t, err)
	assert.Same(t, f, task.Factory())
}

func TestIsParticipant(t *testing.T) {
	ctx := context.Background()
	grouped := execFactory(t, config.TaskConf{Command: "true", GroupParam: "qc"})
	raw := execFactory(t, config.TaskConf{Command: "true", InputExtensions: []string{".raw"}})

	ok, err := grouped.IsParticipant(ctx, testJob(t, "/d/a.txt"))
	require.NoError(t, err)
	assert.True(t, ok)

	skipped := testJob(t, "/d/a.txt")
	skipped.Params["qc, skip"] = "TRUE"
	ok, err = grouped.IsParticipant(ctx, skipped)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = raw.IsParticipant(ctx, testJob(t, "/d/a.txt", "/d/b.RAW"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = raw.IsParticipant(ctx, testJob(t, "/d/a.txt"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsAutoRetryEnabled(t *testing.T) {
	none := execFactory(t, config.TaskConf{Command: "true"})
	some := execFactory(t, config.TaskConf{Command: "true", AutoRetry: 2})

	j := testJob(t)
	assert.False(t, none.IsAutoRetryEnabled(j))
	assert.True(t, some.IsAutoRetryEnabled(j))

	j.Params[job.ParamAutoRetry] = "false"
	assert.False(t, some.IsAutoRetryEnabled(j))
}

func TestIsJobComplete(t *testing.T) {
	ctx := context.Background()
	f := execFactory(t, config.TaskConf{Command: "convert ${input.raw} ${output.mzxml}"})
	j := testJob(t, "/d/sample.raw")

	done, err := f.IsJobComplete(ctx, j)
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, os.WriteFile(filepath.Join(j.WorkDir, "sample.mzxml"), []byte("x"), 0o644))
	done, err = f.IsJobComplete(ctx, j)
	require.NoError(t, err)
	assert.True(t, done)

	noOutputs := execFactory(t, config.TaskConf{Command: "true"})
	done, err = noOutputs.IsJobComplete(ctx, j)
	require.NoError(t, err)
	assert.False(t, done)
}

func TestOutputPathWithoutInputs(t *testing.T) {
	j := &job.Job{ID: "abc", WorkDir: "/w"}
	assert.Equal(t, filepath.Join("/w", "abc.tsv"), outputPath(j, ".tsv"))
}
