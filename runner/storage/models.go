package storage

import "time"

// Run represents one pipeline run for a matrix entry
type Run struct {
	ID                 int        `json:"id"`
	RunUUID            string     `json:"run_uuid"`
	Project            string     `json:"project"`
	ConfigPath         string     `json:"config_path"`
	Entry              string     `json:"entry"`
	InterpreterVersion string     `json:"interpreter_version"`
	Status             string     `json:"status"` // "running", "succeeded", "failed"
	FailingStage       string     `json:"failing_stage,omitempty"`
	TestsStatus        string     `json:"tests_status"`
	CleanupStatus      string     `json:"cleanup_status"`
	StartedAt          time.Time  `json:"started_at"`
	FinishedAt         *time.Time `json:"finished_at,omitempty"`
	Duration           *string    `json:"duration,omitempty"`
}

// RunOutcome is what a finished run records
type RunOutcome struct {
	Status        string
	FailingStage  string
	TestsStatus   string
	CleanupStatus string
	Duration      time.Duration
}

// StageExecution represents execution of a single stage command
type StageExecution struct {
	ID         int        `json:"id"`
	RunID      int        `json:"run_id"`
	Stage      string     `json:"stage"`
	Name       string     `json:"name"`
	Command    string     `json:"command"`
	Status     string     `json:"status"` // "running", "success", "failed"
	ExitCode   int        `json:"exit_code"`
	Output     string     `json:"output"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Duration   *string    `json:"duration,omitempty"`
}
