package storage

import (
	"database/sql"

	"github.com/pkg/errors"
)

// EntryRunStats summarises one recent run of a matrix entry
type EntryRunStats struct {
	Entry              string  `json:"entry"`
	InterpreterVersion string  `json:"interpreter_version"`
	RunID              int     `json:"run_id"`
	Status             string  `json:"status"`
	FailingStage       string  `json:"failing_stage,omitempty"`
	Duration           *string `json:"duration,omitempty"`
	StartedAt          string  `json:"started_at"`
	StageCount         int     `json:"stage_count"`
}

// GetLatestRunsByEntry returns up to limit latest runs for each matrix entry of a project
func (s *Storage) GetLatestRunsByEntry(project string, limit int) ([]EntryRunStats, error) {
	// Plain GROUP BY instead of window functions so both backends accept it
	query := `
		SELECT
			r.entry,
			r.interpreter_version,
			r.id,
			r.status,
			r.failing_stage,
			r.duration,
			r.started_at,
			COUNT(se.id) AS stage_count
		FROM runs r
		LEFT JOIN stage_executions se ON r.id = se.run_id
		WHERE r.project = ?
		GROUP BY r.id, r.entry, r.interpreter_version, r.status, r.failing_stage, r.duration, r.started_at
		ORDER BY r.entry, r.started_at DESC, r.id DESC
	`

	rows, err := s.db.Query(s.rebind(query), project)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query latest runs")
	}
	defer rows.Close()

	entryCounts := make(map[string]int)
	stats := make([]EntryRunStats, 0)

	for rows.Next() {
		var stat EntryRunStats
		var duration sql.NullString

		err := rows.Scan(
			&stat.Entry,
			&stat.InterpreterVersion,
			&stat.RunID,
			&stat.Status,
			&stat.FailingStage,
			&duration,
			&stat.StartedAt,
			&stat.StageCount,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan run stats")
		}

		if entryCounts[stat.Entry] >= limit {
			continue
		}
		entryCounts[stat.Entry]++

		if duration.Valid {
			durationStr := duration.String
			stat.Duration = &durationStr
		}

		stats = append(stats, stat)
	}

	return stats, rows.Err()
}
