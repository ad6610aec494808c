package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pkt.systems/pslog"

	"pipematrix/events"
	"pipematrix/runner"
	"pipematrix/runner/storage"
)

const projectConfig = `
name: zarr
install:
  - run: pip install -r requirements.txt
build:
  run: pip install .
test:
  run: pytest
matrix:
  - name: py37
    interpreter_path: /opt/python/3.7
    interpreter_version: "3.7"
  - name: py38
    interpreter_path: /opt/python/3.8
    interpreter_version: "3.8"
`

type fixture struct {
	api     *API
	mux     *http.ServeMux
	baseDir string
	calls   chan runner.RunOptions
}

func newFixture(t *testing.T, run PipelineFunc) *fixture {
	t.Helper()
	baseDir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(baseDir, "zarr"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(baseDir, "zarr", runner.ConfigFileName), []byte(projectConfig), 0o644))

	store, err := storage.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{baseDir: baseDir, calls: make(chan runner.RunOptions, 4)}
	if run == nil {
		run = func(ctx context.Context, configPath string, opts runner.RunOptions) ([]*runner.RunResult, error) {
			f.calls <- opts
			return []*runner.RunResult{
				{Entry: "py37", Status: runner.RunSucceeded, TestsStatus: runner.TestsPassed, CleanupStatus: runner.CleanupStopped},
				{Entry: "py38", Status: runner.RunFailed, FailingStage: runner.StageTest, TestsStatus: runner.TestsFailed, CleanupStatus: runner.CleanupStopped},
			}, nil
		}
	}

	f.api = &API{
		Store:  store,
		Broker: events.NewEventBroker(testLogger()),
		Projects: &runner.ProjectsConfig{Projects: []runner.Project{
			{Name: "zarr", Path: "zarr"},
			{Name: "gone", Path: "gone"},
		}},
		BaseDir:  baseDir,
		Parallel: 1,
		Run:      run,
	}
	f.mux = http.NewServeMux()
	f.api.Routes(f.mux)
	return f
}

func testLogger() pslog.Logger {
	return pslog.NewWithOptions(io.Discard, pslog.Options{Mode: pslog.ModeStructured, NoColor: true})
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req = req.WithContext(pslog.ContextWithLogger(req.Context(), testLogger()))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) recordRun(t *testing.T, entry, status string) int {
	t.Helper()
	run, err := f.api.Store.CreateRun("uuid-"+entry, "zarr", "/work/pipematrix.yml", entry, "3.7")
	require.NoError(t, err)
	_, err = f.api.Store.CreateStageExecution(run.ID, "environment", "environment", "")
	require.NoError(t, err)
	require.NoError(t, f.api.Store.FinishRun(run.ID, storage.RunOutcome{
		Status:        status,
		TestsStatus:   runner.TestsPassed,
		CleanupStatus: runner.CleanupStopped,
		Duration:      time.Second,
	}))
	return run.ID
}

func TestGetRuns(t *testing.T) {
	f := newFixture(t, nil)
	f.recordRun(t, "py37", runner.RunSucceeded)
	f.recordRun(t, "py38", runner.RunFailed)

	rec := f.do(t, http.MethodGet, "/api/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var runs []storage.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	assert.Len(t, runs, 2)

	rec = f.do(t, http.MethodGet, "/api/runs?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	assert.Len(t, runs, 1)

	rec = f.do(t, http.MethodGet, "/api/runs?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRun(t *testing.T) {
	f := newFixture(t, nil)
	id := f.recordRun(t, "py37", runner.RunSucceeded)

	rec := f.do(t, http.MethodGet, "/api/runs/"+strconv.Itoa(id), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "py37", resp.Run.Entry)
	require.Len(t, resp.Stages, 1)
	assert.Equal(t, "environment", resp.Stages[0].Stage)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/runs/999", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/runs/abc", "").Code)
}

func TestPostRun(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/run", `{"config_path": "zarr/pipematrix.yml", "entries": ["py38"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp MatrixResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, runner.Summary{Total: 2, Succeeded: 1, Failed: 1}, resp.Summary)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, runner.StageTest, resp.Results[1].FailingStage)

	opts := <-f.calls
	assert.Equal(t, []string{"py38"}, opts.Entries)
	assert.Same(t, f.api.Store, opts.Storage)
}

func TestPostRunRejectsBadRequests(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/run", `{`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/run", `{}`).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/run", `{"config_path": "missing.yml"}`).Code)
}

func TestPostRunRuntimeError(t *testing.T) {
	f := newFixture(t, func(context.Context, string, runner.RunOptions) ([]*runner.RunResult, error) {
		return nil, runner.NewRuntimeError(errors.New(`matrix entry "py99" not found`))
	})

	rec := f.do(t, http.MethodPost, "/api/run", `{"config_path": "zarr/pipematrix.yml", "entries": ["py99"]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "py99")
}

func TestGetProjects(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/projects", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var projects []ProjectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &projects))
	require.Len(t, projects, 2)
	assert.True(t, projects[0].Valid)
	assert.False(t, projects[1].Valid)
	assert.NotEmpty(t, projects[1].Error)
}

func TestPostProjectRun(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/projects/zarr/run?entry=py37&entry=py38", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case opts := <-f.calls:
		assert.Equal(t, "zarr", opts.Project)
		assert.Equal(t, []string{"py37", "py38"}, opts.Entries)
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline was not started")
	}

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/projects/missing/run", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/projects/gone/run", "").Code)
}

func TestWaitCoversCancelledBackgroundRuns(t *testing.T) {
	started := make(chan struct{})
	var stopped atomic.Bool
	f := newFixture(t, func(ctx context.Context, configPath string, opts runner.RunOptions) ([]*runner.RunResult, error) {
		close(started)
		<-ctx.Done()
		// the runner stops the service on a detached context after cancellation
		time.Sleep(50 * time.Millisecond)
		stopped.Store(true)
		return nil, ctx.Err()
	})
	serverCtx, shutdown := context.WithCancel(context.Background())
	f.api.Context = serverCtx

	rec := f.do(t, http.MethodPost, "/api/projects/zarr/run", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline was not started")
	}
	// the request is over; only the server context may end the run
	assert.False(t, stopped.Load())

	shutdown()
	f.api.Wait()
	assert.True(t, stopped.Load())
}

func TestGetProjectRunsAndStats(t *testing.T) {
	f := newFixture(t, nil)
	f.recordRun(t, "py37", runner.RunSucceeded)

	rec := f.do(t, http.MethodGet, "/api/projects/zarr/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []storage.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)

	rec = f.do(t, http.MethodGet, "/api/projects/zarr/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats []storage.EntryRunStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Len(t, stats, 2)
	assert.Equal(t, "py37", stats[0].Entry)
	assert.Equal(t, 1, stats[0].StageCount)
	// py38 never ran
	assert.Equal(t, "py38", stats[1].Entry)
	assert.Zero(t, stats[1].RunID)
	assert.Equal(t, "3.8", stats[1].InterpreterVersion)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSSEStreamsBroadcasts(t *testing.T) {
	f := newFixture(t, nil)
	srv := httptest.NewServer(f.mux)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return f.api.Broker.Clients() == 1 }, 5*time.Second, 10*time.Millisecond)
	f.api.Broker.Broadcast(events.RunStarted, map[string]string{"entry": "py37"})

	scanner := bufio.NewScanner(resp.Body)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if strings.HasPrefix(scanner.Text(), "data: {\"entry\"") {
			break
		}
	}
	assert.Contains(t, lines, "event: connected")
	assert.Contains(t, lines, "event: "+events.RunStarted)
	assert.Contains(t, lines, `data: {"entry":"py37"}`)
}
