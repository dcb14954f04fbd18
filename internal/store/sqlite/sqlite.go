package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/appforge/runnerd/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// Path is a filesystem path to the database file; use ":memory:" for tests.

type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS dev_server_state(
			project_id TEXT PRIMARY KEY,
			pid INTEGER NOT NULL,
			port INTEGER NOT NULL,
			state TEXT NOT NULL,
			failure_reason TEXT NULL,
			started_at TIMESTAMP NOT NULL,
			stopped_at TIMESTAMP NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_dev_server_state_state ON dev_server_state(state);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) UpsertStatus(ctx context.Context, rec store.Record) error {
	rec.UpdatedAt = time.Now().UTC()
	var reason sql.NullString
	if rec.FailureReason != "" {
		reason = sql.NullString{String: rec.FailureReason, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dev_server_state(project_id, pid, port, state, failure_reason, started_at, stopped_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			pid=excluded.pid,
			port=excluded.port,
			state=excluded.state,
			failure_reason=excluded.failure_reason,
			started_at=excluded.started_at,
			stopped_at=excluded.stopped_at,
			updated_at=excluded.updated_at;`,
		rec.ProjectID, rec.PID, rec.Port, rec.State, reason, rec.StartedAt.UTC(), rec.StoppedAt, rec.UpdatedAt)
	return err
}

func (s *DB) GetByProject(ctx context.Context, projectID string) (store.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT project_id, pid, port, state, failure_reason, started_at, stopped_at, updated_at
		FROM dev_server_state WHERE project_id=?;`, projectID)
	return scanRecord(row)
}

func (s *DB) List(ctx context.Context) ([]store.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, pid, port, state, failure_reason, started_at, stopped_at, updated_at
		FROM dev_server_state ORDER BY project_id;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var recs []store.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *DB) Delete(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dev_server_state WHERE project_id=?;`, projectID)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (store.Record, error) {
	var rec store.Record
	var reason sql.NullString
	err := row.Scan(&rec.ProjectID, &rec.PID, &rec.Port, &rec.State, &reason, &rec.StartedAt, &rec.StoppedAt, &rec.UpdatedAt)
	if err != nil {
		return store.Record{}, err
	}
	rec.FailureReason = reason.String
	return rec, nil
}
