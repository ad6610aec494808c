package storage

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when a run does not exist
var ErrNotFound = errors.New("run not found")

const runColumns = `id, run_uuid, project, config_path, entry, interpreter_version, status, failing_stage, tests_status, cleanup_status, started_at, finished_at, duration`

// CreateRun creates a new run record in the running state
func (s *Storage) CreateRun(runUUID, project, configPath, entry, interpreterVersion string) (*Run, error) {
	now := time.Now().UTC()
	var id int
	err := s.db.QueryRow(
		s.rebind(`INSERT INTO runs (run_uuid, project, config_path, entry, interpreter_version, status, started_at) VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		runUUID, project, configPath, entry, interpreterVersion, "running", now,
	).Scan(&id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create run")
	}

	return &Run{
		ID:                 id,
		RunUUID:            runUUID,
		Project:            project,
		ConfigPath:         configPath,
		Entry:              entry,
		InterpreterVersion: interpreterVersion,
		Status:             "running",
		StartedAt:          now,
	}, nil
}

// FinishRun records the outcome and finish time of a run
func (s *Storage) FinishRun(runID int, outcome RunOutcome) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		s.rebind("UPDATE runs SET status = ?, failing_stage = ?, tests_status = ?, cleanup_status = ?, finished_at = ?, duration = ? WHERE id = ?"),
		outcome.Status, outcome.FailingStage, outcome.TestsStatus, outcome.CleanupStatus, now, outcome.Duration.String(), runID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to finish run")
	}
	return nil
}

// GetRuns retrieves all runs, ordered by most recent first
func (s *Storage) GetRuns(limit int) ([]*Run, error) {
	return s.queryRuns(s.rebind("SELECT "+runColumns+" FROM runs ORDER BY started_at DESC, id DESC LIMIT ?"), limit)
}

// GetProjectRuns retrieves the runs of one project, most recent first
func (s *Storage) GetProjectRuns(project string, limit int) ([]*Run, error) {
	return s.queryRuns(s.rebind("SELECT "+runColumns+" FROM runs WHERE project = ? ORDER BY started_at DESC, id DESC LIMIT ?"), project, limit)
}

func (s *Storage) queryRuns(query string, args ...any) ([]*Run, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query runs")
	}
	defer rows.Close()

	runs := make([]*Run, 0)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

// GetRun retrieves a single run by ID
func (s *Storage) GetRun(runID int) (*Run, error) {
	row := s.db.QueryRow(s.rebind("SELECT "+runColumns+" FROM runs WHERE id = ?"), runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var finishedAt sql.NullTime
	var duration sql.NullString

	err := row.Scan(&r.ID, &r.RunUUID, &r.Project, &r.ConfigPath, &r.Entry, &r.InterpreterVersion,
		&r.Status, &r.FailingStage, &r.TestsStatus, &r.CleanupStatus, &r.StartedAt, &finishedAt, &duration)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan run")
	}

	if finishedAt.Valid {
		r.FinishedAt = &finishedAt.Time
	}
	if duration.Valid {
		durationStr := duration.String
		r.Duration = &durationStr
	}
	return &r, nil
}
