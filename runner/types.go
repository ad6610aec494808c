package runner

import (
	"io"
	"time"

	"pipematrix/events"
	"pipematrix/runner/storage"
)

// StageID identifies one ordered stage of a pipeline run
type StageID string

const (
	StageEnvironment       StageID = "environment"
	StageDependencyInstall StageID = "dependency_install"
	StageBuild             StageID = "build"
	StageServiceStart      StageID = "service_start"
	StageTest              StageID = "test"
	StageServiceStop       StageID = "service_stop"
)

// Stages lists every stage in execution order
var Stages = []StageID{
	StageEnvironment,
	StageDependencyInstall,
	StageBuild,
	StageServiceStart,
	StageTest,
	StageServiceStop,
}

// RunState is the last state a run reached
type RunState string

const (
	StatePending        RunState = "pending"
	StateEnvReady       RunState = "env_ready"
	StateDepsInstalled  RunState = "deps_installed"
	StateBuilt          RunState = "built"
	StateServiceRunning RunState = "service_running"
	StateTestsRun       RunState = "tests_run"
	StateServiceStopped RunState = "service_stopped"
	StateSucceeded      RunState = "succeeded"
	StateFailed         RunState = "failed"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"

	RunSucceeded = "succeeded"
	RunFailed    = "failed"

	TestsPassed = "passed"
	TestsFailed = "failed"
	TestsNotRun = "not_run"

	CleanupStopped = "stopped"
	CleanupFailed  = "failed"
)

// RunResult represents the result of running the pipeline for one matrix entry
type RunResult struct {
	RunID         string        `json:"run_id"`
	HistoryID     int           `json:"history_id,omitempty"`
	Entry         string        `json:"entry"`
	Status        string        `json:"status"` // "succeeded" or "failed"
	State         RunState      `json:"state"`
	FailingStage  StageID       `json:"failing_stage,omitempty"`
	TestsStatus   string        `json:"tests_status"`
	CleanupStatus string        `json:"cleanup_status"`
	Stages        []StageResult `json:"stages"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
	Error         error         `json:"-"`
}

// Succeeded reports whether stages environment through test all succeeded
func (r *RunResult) Succeeded() bool {
	return r.Status == RunSucceeded
}

// Passed applies the aggregate policy. A failed service stop only fails
// an otherwise successful run when strictCleanup is set.
func (r *RunResult) Passed(strictCleanup bool) bool {
	if !r.Succeeded() {
		return false
	}
	if strictCleanup && r.CleanupStatus == CleanupFailed {
		return false
	}
	return true
}

// Stage returns the result of the given stage, if it ran
func (r *RunResult) Stage(id StageID) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Stage == id {
			return s, true
		}
	}
	return StageResult{}, false
}

// StageResult represents the result of executing a single stage
type StageResult struct {
	Stage    StageID       `json:"stage"`
	Status   string        `json:"status"` // "success" or "failed"
	ExitCode int           `json:"exit_code"`
	Output   string        `json:"output"`
	Steps    []StepResult  `json:"steps,omitempty"`
	Duration time.Duration `json:"duration"`
	Error    error         `json:"-"`
}

// StepResult represents the result of executing a single command within a stage
type StepResult struct {
	Name     string        `json:"name"`
	Command  string        `json:"command"`
	Status   string        `json:"status"`
	ExitCode int           `json:"exit_code"`
	Output   string        `json:"output"`
	Duration time.Duration `json:"duration"`
}

// RunOptions configures how the pipeline should be executed
type RunOptions struct {
	Storage  *storage.Storage     // Optional storage for run history
	Broker   *events.EventBroker  // Optional event broker for SSE clients
	Stream   io.Writer            // Optional terminal stream for command output
	Commands CommandRunner        // Defaults to ShellRunner
	Project  string               // Project name recorded in history
	Entries  []string             // Optional: run only these matrix entries (empty = run all)
	Parallel int                  // Maximum entries running at once (<= 1 = sequential)
	BaseEnv  []string             // Defaults to os.Environ()
}
