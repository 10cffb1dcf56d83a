// Package history keeps every result row of every run in SQLite, so runs can
// be compared and the best known makespan per instance looked up.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ChuLiYu/rcpsp-batch/pkg/types"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Run summarizes one batch run.
type Run struct {
	RunID     string
	Started   time.Time
	Finished  time.Time
	Instances int
	ByStatus  map[types.Status]int
}

// Store manages the history database.
type Store struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time
}

// NewStore opens (and creates if needed) the database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA busy_timeout=5000", // Must be first
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, dbPath: dbPath, now: time.Now}, nil
}

// execWithRetry retries "database is locked" with exponential backoff.
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record stores one result row of a run.
func (s *Store) Record(ctx context.Context, runID string, row types.Row) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO results (run_id, file_name, lower_bound, upper_bound, makespan, status, solve_seconds, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, row.FileName,
		nullInt(row.LowerBound), nullInt(row.UpperBound), nullInt(row.Makespan),
		string(row.Status), row.SolveSeconds, s.now().UTC())
	if err != nil {
		return fmt.Errorf("record %s: %w", row.FileName, err)
	}
	return nil
}

// Rows returns the rows of one run in the order they were recorded.
func (s *Store) Rows(ctx context.Context, runID string) ([]types.Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_name, lower_bound, upper_bound, makespan, status, solve_seconds
		FROM results WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []types.Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Best returns the smallest makespan ever recorded for fileName. ok is false
// when no run produced a makespan for it.
func (s *Store) Best(ctx context.Context, fileName string) (types.Row, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT file_name, lower_bound, upper_bound, makespan, status, solve_seconds
		FROM results
		WHERE file_name = ? AND makespan IS NOT NULL
		ORDER BY makespan ASC, CASE status WHEN 'optimal' THEN 0 ELSE 1 END, id ASC
		LIMIT 1`, fileName)

	r, err := scanRow(row)
	if err == sql.ErrNoRows {
		return types.Row{}, false, nil
	}
	if err != nil {
		return types.Row{}, false, err
	}
	return r, true, nil
}

// Runs lists the most recent runs first. limit <= 0 means all.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	query := `
		SELECT run_id, MIN(recorded_at), MAX(recorded_at), COUNT(*)
		FROM results
		GROUP BY run_id
		ORDER BY MIN(id) DESC`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished string
		if err := rows.Scan(&r.RunID, &started, &finished, &r.Instances); err != nil {
			rows.Close()
			return nil, err
		}
		r.Started = parseTime(started)
		r.Finished = parseTime(finished)
		runs = append(runs, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range runs {
		counts, err := s.statusCounts(ctx, runs[i].RunID)
		if err != nil {
			return nil, err
		}
		runs[i].ByStatus = counts
	}
	return runs, nil
}

func (s *Store) statusCounts(ctx context.Context, runID string) (map[types.Status]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM results WHERE run_id = ? GROUP BY status`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[types.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[types.Status(status)] = n
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRow(sc scanner) (types.Row, error) {
	var r types.Row
	var lower, upper, makespan sql.NullInt64
	var status string
	if err := sc.Scan(&r.FileName, &lower, &upper, &makespan, &status, &r.SolveSeconds); err != nil {
		return types.Row{}, err
	}
	r.LowerBound = fromNull(lower)
	r.UpperBound = fromNull(upper)
	r.Makespan = fromNull(makespan)
	r.Status = types.Status(status)
	return r, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func fromNull(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	return types.IntPtr(int(v.Int64))
}

// parseTime accepts the layouts go-sqlite3 uses for TIMESTAMP aggregates.
func parseTime(s string) time.Time {
	layouts := []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04:05.999999999Z07:00",
		time.RFC3339Nano,
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
