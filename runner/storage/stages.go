package storage

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// CreateStageExecution creates a new stage execution record
func (s *Storage) CreateStageExecution(runID int, stage, name, command string) (*StageExecution, error) {
	now := time.Now().UTC()
	var id int
	err := s.db.QueryRow(
		s.rebind(`INSERT INTO stage_executions (run_id, stage, name, status, command, started_at) VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		runID, stage, name, "running", command, now,
	).Scan(&id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create stage execution")
	}

	return &StageExecution{
		ID:        id,
		RunID:     runID,
		Stage:     stage,
		Name:      name,
		Status:    "running",
		Command:   command,
		StartedAt: now,
	}, nil
}

// FinishStageExecution updates stage execution with output, status, and finish time
func (s *Storage) FinishStageExecution(executionID int, status string, exitCode int, output string, duration time.Duration) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		s.rebind("UPDATE stage_executions SET status = ?, exit_code = ?, output = ?, finished_at = ?, duration = ? WHERE id = ?"),
		status, exitCode, output, now, duration.String(), executionID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update stage execution")
	}
	return nil
}

// GetStageExecutions retrieves all stage executions for a run in execution order
func (s *Storage) GetStageExecutions(runID int) ([]*StageExecution, error) {
	rows, err := s.db.Query(
		s.rebind(`SELECT id, run_id, stage, name, command, status, exit_code, output, started_at, finished_at, duration FROM stage_executions WHERE run_id = ? ORDER BY id ASC`),
		runID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query stage executions")
	}
	defer rows.Close()

	executions := make([]*StageExecution, 0)
	for rows.Next() {
		var e StageExecution
		var output sql.NullString
		var finishedAt sql.NullTime
		var duration sql.NullString

		err := rows.Scan(&e.ID, &e.RunID, &e.Stage, &e.Name, &e.Command, &e.Status, &e.ExitCode, &output, &e.StartedAt, &finishedAt, &duration)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan stage execution")
		}

		if output.Valid {
			e.Output = output.String
		}
		if finishedAt.Valid {
			e.FinishedAt = &finishedAt.Time
		}
		if duration.Valid {
			durationStr := duration.String
			e.Duration = &durationStr
		}

		executions = append(executions, &e)
	}

	return executions, rows.Err()
}
