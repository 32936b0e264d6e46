/*
PURPOSE:
  Persists finished load test reports in SQLite so past runs can be listed
  and compared.

REQUIREMENTS:
  Implementation-discovered:
  - One row per run (parameters + summary), one row per request.
  - Metrics are inserted in a single transaction with a prepared statement;
    a run of a few hundred thousand requests must not take minutes.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine.Run (when history_db is set), internal/cli history
  - Uses: github.com/mattn/go-sqlite3

ERROR HANDLING:
  - All errors are wrapped and returned; a failed save rolls back.

USAGE:
  store, err := history.Open("kali.db")
  defer store.Close()
  err = store.Save(report)
  runs, err := store.List(20)
*/

package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/daryltucker/kali/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id                TEXT PRIMARY KEY,
	host              TEXT,
	port              INTEGER NOT NULL,
	duration          INTEGER NOT NULL,
	rps               INTEGER NOT NULL,
	load_test_type    TEXT NOT NULL,
	workers           INTEGER NOT NULL,
	started_at        INTEGER NOT NULL,
	finished_at       INTEGER NOT NULL,
	total             INTEGER NOT NULL,
	success           INTEGER NOT NULL,
	failure           INTEGER NOT NULL,
	avg_response_time REAL NOT NULL,
	p50_response_time INTEGER NOT NULL,
	p90_response_time INTEGER NOT NULL,
	p99_response_time INTEGER NOT NULL,
	created_at        DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS request_metrics (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	host          TEXT NOT NULL,
	response_time INTEGER NOT NULL,
	success       INTEGER NOT NULL,
	timestamp     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_request_metrics_run ON request_metrics(run_id);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
`

// Run is the stored summary of one load test.
type Run struct {
	ID           string
	Host         string
	Port         uint16
	Duration     uint64
	RPS          uint32
	LoadTestType string
	Workers      int
	StartedAt    time.Time
	FinishedAt   time.Time
	Summary      model.Summary
}

// Store handles run history persistence
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// ":memory:" databases exist per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores a report and all of its request metrics.
func (s *Store) Save(report *model.LoadTestReport) error {
	if report.RunID == "" {
		return fmt.Errorf("report has no run id")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sum := report.Summary
	_, err = tx.Exec(`
		INSERT INTO runs
		(id, host, port, duration, rps, load_test_type, workers, started_at, finished_at,
		 total, success, failure, avg_response_time, p50_response_time, p90_response_time, p99_response_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, report.RunID, report.Host, report.Port, report.Duration, report.RPS, report.LoadTestType,
		report.Workers, report.StartedAt, report.FinishedAt,
		sum.Total, sum.Success, sum.Failure, sum.AvgResponseTime, sum.P50, sum.P90, sum.P99)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO request_metrics (run_id, host, response_time, success, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare metrics insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range report.Metrics {
		if _, err := stmt.Exec(report.RunID, m.Host, m.ResponseTime, m.Success, m.Timestamp); err != nil {
			return fmt.Errorf("failed to insert metric: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// List returns up to limit runs, most recent first. limit <= 0 returns all.
func (s *Store) List(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT id, COALESCE(host, ''), port, duration, rps, load_test_type, workers, started_at, finished_at,
		       total, success, failure, avg_response_time, p50_response_time, p90_response_time, p99_response_time
		FROM runs
		ORDER BY started_at DESC, created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		err := rows.Scan(&r.ID, &r.Host, &r.Port, &r.Duration, &r.RPS, &r.LoadTestType, &r.Workers,
			&started, &finished,
			&r.Summary.Total, &r.Summary.Success, &r.Summary.Failure, &r.Summary.AvgResponseTime,
			&r.Summary.P50, &r.Summary.P90, &r.Summary.P99)
		if err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(started, 0)
		r.FinishedAt = time.Unix(finished, 0)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Metrics returns the stored request metrics of a run in insertion order.
func (s *Store) Metrics(runID string) ([]model.RequestMetrics, error) {
	rows, err := s.db.Query(`
		SELECT host, response_time, success, timestamp
		FROM request_metrics WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.RequestMetrics{}
	for rows.Next() {
		var m model.RequestMetrics
		if err := rows.Scan(&m.Host, &m.ResponseTime, &m.Success, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
