package storage

import (
	"database/sql"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// Storage handles database operations
type Storage struct {
	db      *sql.DB
	dialect dialect
}

// Open creates a new storage instance. PostgreSQL URLs use the pgx driver,
// anything else is treated as a SQLite database file.
func Open(dsn string) (*Storage, error) {
	driver, d := "sqlite3", dialectSQLite
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver, d = "pgx", dialectPostgres
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if d == dialectSQLite {
		// One writer at a time; parallel matrix entries share the file.
		db.SetMaxOpenConns(1)
	}

	storage := &Storage{db: db, dialect: d}
	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to initialize schema")
	}

	return storage, nil
}

// initSchema creates the database tables
func (s *Storage) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id {{id}},
			run_uuid TEXT NOT NULL,
			project TEXT NOT NULL DEFAULT '',
			config_path TEXT NOT NULL,
			entry TEXT NOT NULL,
			interpreter_version TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			failing_stage TEXT NOT NULL DEFAULT '',
			tests_status TEXT NOT NULL DEFAULT '',
			cleanup_status TEXT NOT NULL DEFAULT '',
			started_at {{time}} NOT NULL,
			finished_at {{time}},
			duration TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS stage_executions (
			id {{id}},
			run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			stage TEXT NOT NULL,
			name TEXT NOT NULL,
			command TEXT NOT NULL,
			status TEXT NOT NULL,
			exit_code INTEGER NOT NULL DEFAULT 0,
			output TEXT,
			started_at {{time}} NOT NULL,
			finished_at {{time}},
			duration TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_project ON runs(project)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_entry ON runs(entry)`,
		`CREATE INDEX IF NOT EXISTS idx_stage_executions_run_id ON stage_executions(run_id)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(s.ddl(query)); err != nil {
			return errors.Wrap(err, "failed to execute schema query")
		}
	}
	return nil
}

func (s *Storage) ddl(query string) string {
	idType, timeType := "INTEGER PRIMARY KEY AUTOINCREMENT", "DATETIME"
	if s.dialect == dialectPostgres {
		idType, timeType = "BIGSERIAL PRIMARY KEY", "TIMESTAMPTZ"
	}
	return strings.NewReplacer("{{id}}", idType, "{{time}}", timeType).Replace(query)
}

// rebind rewrites ? placeholders for the active dialect
func (s *Storage) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}
