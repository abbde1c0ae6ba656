// Package stats keeps a persistent history of health checks, restarts and
// operations in SQLite so status output can report per-service statistics
// across daemon restarts.
package stats

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/core-tools/hsu-mcp-master/pkg/errors"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Fixed-width UTC timestamps so that text ordering matches time ordering
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// HealthRecord is one persisted probe verdict
type HealthRecord struct {
	ServiceID string
	Healthy   bool
	Latency   time.Duration
	Reason    string
	CheckedAt time.Time
}

// RestartRecord is one executed restart attempt
type RestartRecord struct {
	ServiceID string
	Attempt   int
	Success   bool
	Error     string
	At        time.Time
}

// OperationRecord is one finished facade operation
type OperationRecord struct {
	ID          string
	Operation   string
	Environment string
	Success     bool
	Errors      int
	Warnings    int
	StartedAt   time.Time
	FinishedAt  time.Time
}

// ServiceSummary aggregates the history of one service
type ServiceSummary struct {
	ServiceID     string        `json:"service_id"`
	Checks        int           `json:"checks"`
	Failures      int           `json:"failures"`
	Restarts      int           `json:"restarts"`
	LastReason    string        `json:"last_reason,omitempty"`
	LastCheckedAt time.Time     `json:"last_checked_at,omitempty"`
	AvgLatency    time.Duration `json:"avg_latency"`
}

// Store is the SQLite-backed statistics store
type Store struct {
	db *sql.DB
}

// Open creates the parent directory if needed, opens SQLite with WAL mode
// and runs migrations.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, errors.NewIOError("failed to create stats directory", err).WithContext("path", path)
		}
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, errors.NewIOError("failed to open stats database", err).WithContext("path", path)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, errors.NewIOError(fmt.Sprintf("stats pragma %q failed", p), err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.NewIOError("stats migration failed", err).WithContext("path", path)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS health_checks (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			service_id  TEXT    NOT NULL,
			healthy     INTEGER NOT NULL,
			latency_us  INTEGER NOT NULL DEFAULT 0,
			reason      TEXT    NOT NULL DEFAULT '',
			checked_at  TEXT    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_health_checks_service ON health_checks(service_id, checked_at);

		CREATE TABLE IF NOT EXISTS restarts (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			service_id  TEXT    NOT NULL,
			attempt     INTEGER NOT NULL,
			success     INTEGER NOT NULL,
			error       TEXT    NOT NULL DEFAULT '',
			at          TEXT    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_restarts_service ON restarts(service_id, at);

		CREATE TABLE IF NOT EXISTS operations (
			id          TEXT    PRIMARY KEY,
			operation   TEXT    NOT NULL,
			environment TEXT    NOT NULL DEFAULT '',
			success     INTEGER NOT NULL,
			errors      INTEGER NOT NULL DEFAULT 0,
			warnings    INTEGER NOT NULL DEFAULT 0,
			started_at  TEXT    NOT NULL,
			finished_at TEXT    NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordHealth stores a cycle's verdicts in one transaction
func (s *Store) RecordHealth(records []HealthRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return errors.NewIOError("failed to begin stats transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO health_checks (service_id, healthy, latency_us, reason, checked_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.NewIOError("failed to prepare health insert", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(r.ServiceID, boolInt(r.Healthy), r.Latency.Microseconds(), r.Reason,
			r.CheckedAt.UTC().Format(timeLayout)); err != nil {
			return errors.NewIOError("failed to record health check", err).WithContext("service_id", r.ServiceID)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.NewIOError("failed to commit health checks", err)
	}
	return nil
}

func (s *Store) RecordRestart(r RestartRecord) error {
	_, err := s.db.Exec(`INSERT INTO restarts (service_id, attempt, success, error, at) VALUES (?, ?, ?, ?, ?)`,
		r.ServiceID, r.Attempt, boolInt(r.Success), r.Error, r.At.UTC().Format(timeLayout))
	if err != nil {
		return errors.NewIOError("failed to record restart", err).WithContext("service_id", r.ServiceID)
	}
	return nil
}

func (s *Store) RecordOperation(r OperationRecord) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO operations
		(id, operation, environment, success, errors, warnings, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Operation, r.Environment, boolInt(r.Success), r.Errors, r.Warnings,
		r.StartedAt.UTC().Format(timeLayout), r.FinishedAt.UTC().Format(timeLayout))
	if err != nil {
		return errors.NewIOError("failed to record operation", err).WithContext("operation", r.Operation)
	}
	return nil
}

// RecentOperations returns up to limit operations, newest first
func (s *Store) RecentOperations(limit int) ([]OperationRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT id, operation, environment, success, errors, warnings, started_at, finished_at
		FROM operations ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.NewIOError("failed to query operations", err)
	}
	defer rows.Close()

	var out []OperationRecord
	for rows.Next() {
		var (
			r                 OperationRecord
			success           int
			started, finished string
		)
		if err := rows.Scan(&r.ID, &r.Operation, &r.Environment, &success, &r.Errors, &r.Warnings, &started, &finished); err != nil {
			return nil, errors.NewIOError("failed to scan operation", err)
		}
		r.Success = success != 0
		r.StartedAt, _ = time.Parse(timeLayout, started)
		r.FinishedAt, _ = time.Parse(timeLayout, finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Summary aggregates the history of one service. A service with no history
// yields a zero summary carrying its id.
func (s *Store) Summary(serviceID string) (ServiceSummary, error) {
	summary := ServiceSummary{ServiceID: serviceID}

	var (
		failures   sql.NullInt64
		avgLatency sql.NullFloat64
		lastAt     sql.NullString
	)
	err := s.db.QueryRow(`SELECT COUNT(*), SUM(CASE WHEN healthy = 0 THEN 1 ELSE 0 END), AVG(latency_us), MAX(checked_at)
		FROM health_checks WHERE service_id = ?`, serviceID).Scan(&summary.Checks, &failures, &avgLatency, &lastAt)
	if err != nil {
		return summary, errors.NewIOError("failed to summarize health checks", err).WithContext("service_id", serviceID)
	}
	summary.Failures = int(failures.Int64)
	summary.AvgLatency = time.Duration(avgLatency.Float64) * time.Microsecond
	if lastAt.Valid {
		summary.LastCheckedAt, _ = time.Parse(timeLayout, lastAt.String)
	}

	var reason sql.NullString
	err = s.db.QueryRow(`SELECT reason FROM health_checks WHERE service_id = ? AND healthy = 0
		ORDER BY checked_at DESC, id DESC LIMIT 1`, serviceID).Scan(&reason)
	if err != nil && err != sql.ErrNoRows {
		return summary, errors.NewIOError("failed to query last failure", err).WithContext("service_id", serviceID)
	}
	summary.LastReason = reason.String

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM restarts WHERE service_id = ?`, serviceID).Scan(&summary.Restarts); err != nil {
		return summary, errors.NewIOError("failed to count restarts", err).WithContext("service_id", serviceID)
	}
	return summary, nil
}

// Summaries returns one summary per id, in the given order
func (s *Store) Summaries(serviceIDs []string) (map[string]ServiceSummary, error) {
	out := make(map[string]ServiceSummary, len(serviceIDs))
	for _, id := range serviceIDs {
		summary, err := s.Summary(id)
		if err != nil {
			return nil, err
		}
		out[id] = summary
	}
	return out, nil
}

// Prune deletes health checks and restarts older than the cutoff and returns
// the number of rows removed
func (s *Store) Prune(before time.Time) (int64, error) {
	cutoff := before.UTC().Format(timeLayout)
	var total int64
	for _, query := range []string{
		`DELETE FROM health_checks WHERE checked_at < ?`,
		`DELETE FROM restarts WHERE at < ?`,
		`DELETE FROM operations WHERE finished_at < ?`,
	} {
		res, err := s.db.Exec(query, cutoff)
		if err != nil {
			return total, errors.NewIOError("failed to prune statistics", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// Reset drops all recorded history
func (s *Store) Reset() error {
	_, err := s.db.Exec(`DELETE FROM health_checks; DELETE FROM restarts; DELETE FROM operations;`)
	if err != nil {
		return errors.NewIOError("failed to reset statistics", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
