// Package store persists the last known lifecycle state per project so
// operators can inspect what a restarted daemon used to manage. Writes are
// best-effort; the in-memory registry stays authoritative.
package store

import (
	"context"
	"database/sql"
	"time"
)

// Record is the minimal unit of state persisted for a project's dev server.
// ProjectID is unique across all records. UpdatedAt is UTC.
type Record struct {
	ProjectID     string
	PID           int
	Port          int
	State         string
	FailureReason string
	StartedAt     time.Time
	StoppedAt     sql.NullTime
	UpdatedAt     time.Time
}

// Store keeps one row per project, upserted on lifecycle edges.
type Store interface {
	EnsureSchema(ctx context.Context) error
	UpsertStatus(ctx context.Context, rec Record) error
	GetByProject(ctx context.Context, projectID string) (Record, error)
	List(ctx context.Context) ([]Record, error)
	Delete(ctx context.Context, projectID string) error
	Close() error
}
