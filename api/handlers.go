package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"pkt.systems/pslog"

	"pipematrix/events"
	"pipematrix/runner"
	"pipematrix/runner/storage"
)

// PipelineFunc runs the pipeline at configPath; runner.RunPipeline in production
type PipelineFunc func(ctx context.Context, configPath string, opts runner.RunOptions) ([]*runner.RunResult, error)

// API serves run history and triggers matrix runs
type API struct {
	Store    *storage.Storage
	Broker   *events.EventBroker
	Projects *runner.ProjectsConfig
	BaseDir  string
	Parallel int
	Run      PipelineFunc

	// Context cancels runs still in flight when the server shuts down.
	// Nil lets them run to completion.
	Context context.Context

	runs sync.WaitGroup
}

// Wait blocks until every run started through the API has returned,
// including its service stop
func (a *API) Wait() {
	a.runs.Wait()
}

// background returns a context for a run that outlives its request. It keeps
// the request's values and is cancelled with a.Context.
func (a *API) background(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	if a.Context == nil {
		return ctx, cancel
	}
	stop := context.AfterFunc(a.Context, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Routes registers every endpoint on mux
func (a *API) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/runs", a.GetRuns())
	mux.HandleFunc("GET /api/runs/{id}", a.GetRun())
	mux.HandleFunc("POST /api/run", a.PostRun())
	mux.HandleFunc("GET /api/projects", a.GetProjects())
	mux.HandleFunc("GET /api/projects/{name}/runs", a.GetProjectRuns())
	mux.HandleFunc("POST /api/projects/{name}/run", a.PostProjectRun())
	mux.HandleFunc("GET /api/projects/{name}/stats", a.GetProjectStats())
	mux.HandleFunc("GET /api/events", SSEHandler(a.Broker))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

// GetRuns returns the most recent runs
func (a *API) GetRuns() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := limitParam(r, 100)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		runs, err := a.Store.GetRuns(limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to get runs: "+err.Error())
			return
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

// RunResponse is a run with its stage executions
type RunResponse struct {
	Run    *storage.Run              `json:"run"`
	Stages []*storage.StageExecution `json:"stages"`
}

// GetRun returns a single run with its stage executions
func (a *API) GetRun() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID, err := strconv.Atoi(r.PathValue("id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid run ID")
			return
		}

		run, err := a.Store.GetRun(runID)
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		stages, err := a.Store.GetStageExecutions(runID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to get stages: "+err.Error())
			return
		}

		writeJSON(w, http.StatusOK, RunResponse{Run: run, Stages: stages})
	}
}

// RunRequest triggers a pipeline by config path
type RunRequest struct {
	ConfigPath string   `json:"config_path"`
	Entries    []string `json:"entries,omitempty"`
}

// MatrixResponse reports the outcome of a synchronous matrix run
type MatrixResponse struct {
	Summary runner.Summary       `json:"summary"`
	Results []*runner.RunResult `json:"results"`
}

// PostRun runs a pipeline and waits for every entry to finish
func (a *API) PostRun() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
			return
		}
		if req.ConfigPath == "" {
			writeError(w, http.StatusBadRequest, "config_path is required")
			return
		}

		configPath := req.ConfigPath
		if !filepath.IsAbs(configPath) {
			configPath = filepath.Join(a.BaseDir, configPath)
		}
		if _, err := os.Stat(configPath); err != nil {
			writeError(w, http.StatusNotFound, "config file not found: "+configPath)
			return
		}

		pslog.Ctx(r.Context()).Info("triggering pipeline", "config", configPath, "entries", req.Entries)
		a.runs.Add(1)
		defer a.runs.Done()
		results, err := a.Run(r.Context(), configPath, runner.RunOptions{
			Storage:  a.Store,
			Broker:   a.Broker,
			Entries:  req.Entries,
			Parallel: a.Parallel,
		})
		if err != nil {
			status := http.StatusInternalServerError
			if runner.IsRuntimeError(err) {
				status = http.StatusUnprocessableEntity
			}
			writeError(w, status, err.Error())
			return
		}

		writeJSON(w, http.StatusOK, MatrixResponse{Summary: runner.Summarize(results), Results: results})
	}
}

// ProjectResponse is a project with its validation state
type ProjectResponse struct {
	runner.Project
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// GetProjects returns all configured projects
func (a *API) GetProjects() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects := make([]ProjectResponse, 0, len(a.Projects.Projects))
		for _, project := range a.Projects.Projects {
			pr := ProjectResponse{Project: project, Valid: true}
			if err := project.Validate(a.BaseDir); err != nil {
				pr.Valid = false
				pr.Error = err.Error()
			}
			projects = append(projects, pr)
		}
		writeJSON(w, http.StatusOK, projects)
	}
}

// GetProjectRuns returns runs for a specific project
func (a *API) GetProjectRuns() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := limitParam(r, 100)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		runs, err := a.Store.GetProjectRuns(r.PathValue("name"), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to get runs: "+err.Error())
			return
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

// PostProjectRun starts a matrix run for a project and returns immediately
func (a *API) PostProjectRun() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectName := r.PathValue("name")
		project, err := a.Projects.GetProject(projectName)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		if err := project.Validate(a.BaseDir); err != nil {
			writeError(w, http.StatusBadRequest, "invalid project: "+err.Error())
			return
		}

		configPath := project.ConfigPath(a.BaseDir)
		entries := r.URL.Query()["entry"]
		log := pslog.Ctx(r.Context()).With("project", projectName)
		log.Info("triggering pipeline", "config", configPath, "entries", entries)

		ctx, cancel := a.background(r)
		a.runs.Add(1)
		go func() {
			defer a.runs.Done()
			defer cancel()
			results, err := a.Run(ctx, configPath, runner.RunOptions{
				Storage:  a.Store,
				Broker:   a.Broker,
				Project:  projectName,
				Entries:  entries,
				Parallel: a.Parallel,
			})
			if err != nil {
				log.Error("pipeline execution failed", "err", err)
				return
			}
			summary := runner.Summarize(results)
			log.Info("pipeline completed", "succeeded", summary.Succeeded, "failed", summary.Failed)
		}()

		writeJSON(w, http.StatusAccepted, map[string]any{
			"message": "pipeline started for " + projectName,
			"status":  "starting",
			"entries": entries,
		})
	}
}

// GetProjectStats returns the latest runs per matrix entry, with a
// placeholder for entries that never ran
func (a *API) GetProjectStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectName := r.PathValue("name")

		stats, err := a.Store.GetLatestRunsByEntry(projectName, 5)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to get project stats: "+err.Error())
			return
		}

		if project, err := a.Projects.GetProject(projectName); err == nil {
			if cfg, err := runner.LoadConfig(project.ConfigPath(a.BaseDir)); err == nil {
				withRuns := make(map[string]bool, len(stats))
				for _, stat := range stats {
					withRuns[stat.Entry] = true
				}
				for _, entry := range cfg.Matrix {
					if !withRuns[entry.Name] {
						stats = append(stats, storage.EntryRunStats{
							Entry:              entry.Name,
							InterpreterVersion: entry.InterpreterVersion,
						})
					}
				}
			}
		}

		writeJSON(w, http.StatusOK, stats)
	}
}

func limitParam(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("invalid limit")
	}
	return limit, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
