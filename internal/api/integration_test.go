package api_test

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/conduit/internal/api"
	"github.com/mattjoyce/conduit/internal/config"
	"github.com/mattjoyce/conduit/internal/engine"
	"github.com/mattjoyce/conduit/internal/events"
	"github.com/mattjoyce/conduit/internal/job"
	"github.com/mattjoyce/conduit/internal/pipeline"
	"github.com/mattjoyce/conduit/internal/runner"
	"github.com/mattjoyce/conduit/internal/storage"
	"github.com/mattjoyce/conduit/internal/workspace"
)

const apiKey = "integration-key"

// TestAPIIntegration runs a job end to end: submit over HTTP, execute on the
// local engine, then read status, history and the event stream.
func TestAPIIntegration(t *testing.T) {
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer db.Close()

	hub := events.NewHub(256)
	store := job.NewStore(db).WithNotifier(hub)

	reg, err := pipeline.LoadRegistry(&config.Config{
		Tasks: map[string]config.TaskConf{
			"core:checksum": {Kind: config.KindBuiltin, Builtin: "checksum"},
		},
		Pipelines: map[string]config.PipelineConf{
			"qc:checksum": {Tasks: []string{"core:checksum"}},
		},
	})
	require.NoError(t, err)

	ws, err := workspace.NewDirManager(filepath.Join(t.TempDir(), "ws"))
	require.NoError(t, err)
	router := engine.NewRouter()
	coord := engine.NewCoordinator(store, reg, router, ws)
	local := engine.NewLocalEngine(store, runner.New(reg, store, pipeline.WebServer), coord, time.Hour, 1)
	require.NoError(t, router.Register(local))

	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	srv := api.New(api.Config{APIKey: apiKey}, coord, store, reg, nil, hub, logger)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	input := filepath.Join(t.TempDir(), "sample.raw")
	require.NoError(t, os.WriteFile(input, []byte("spectra"), 0o644))

	body, _ := json.Marshal(api.SubmitJobRequest{Container: "/home", Pipeline: "qc:checksum", Inputs: []string{input}})
	resp := call(t, http.MethodPost, ts.URL+"/jobs", body)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var submitted api.JobResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submitted))
	resp.Body.Close()
	assert.Equal(t, "waiting", submitted.Status)

	local.Drain(ctx)

	resp = call(t, http.MethodGet, ts.URL+"/jobs/"+submitted.JobID, nil)
	var got api.JobResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	assert.Equal(t, "complete", got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.FileExists(t, filepath.Join(got.WorkDir, "sample.raw.blake3"))

	resp = call(t, http.MethodGet, ts.URL+"/jobs/"+submitted.JobID+"/history", nil)
	var hist api.HistoryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&hist))
	resp.Body.Close()
	require.NotEmpty(t, hist.History)
	assert.Equal(t, "waiting", hist.History[0].Status)
	assert.Equal(t, "complete", hist.History[len(hist.History)-1].Status)

	// A cancelled job that finished already keeps its final status.
	resp = call(t, http.MethodPost, ts.URL+"/jobs/"+submitted.JobID+"/cancel", nil)
	var cancelled api.CancelResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cancelled))
	resp.Body.Close()
	assert.Equal(t, "complete", cancelled.Status)

	// The event stream replays the job's status changes.
	streamCtx, stop := context.WithTimeout(ctx, 5*time.Second)
	defer stop()
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, ts.URL+"/events?job="+submitted.JobID, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	stream, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()
	assert.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))

	var statuses []string
	scanner := bufio.NewScanner(stream.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev struct {
			JobID  string `json:"job_id"`
			Status string `json:"status"`
		}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		assert.Equal(t, submitted.JobID, ev.JobID)
		statuses = append(statuses, ev.Status)
		if ev.Status == "complete" {
			break
		}
	}
	require.NotEmpty(t, statuses)
	assert.Equal(t, "waiting", statuses[0])
	assert.Equal(t, "complete", statuses[len(statuses)-1])
	assert.Contains(t, statuses, "running")
}

func call(t *testing.T, method, url string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}
