package sqlite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/appforge/runnerd/internal/store"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return db
}

func TestUpsertAndGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	rec := store.Record{
		ProjectID: "proj-1",
		PID:       101,
		Port:      3000,
		State:     "starting",
		StartedAt: time.Now().UTC(),
	}
	if err := db.UpsertStatus(ctx, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := db.GetByProject(ctx, "proj-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PID != 101 || got.Port != 3000 || got.State != "starting" {
		t.Fatalf("got %+v", got)
	}

	// upsert same project replaces the row
	rec.State = "failed"
	rec.FailureReason = "immediate_crash"
	rec.StoppedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	if err := db.UpsertStatus(ctx, rec); err != nil {
		t.Fatalf("upsert 2: %v", err)
	}
	got, err = db.GetByProject(ctx, "proj-1")
	if err != nil {
		t.Fatalf("get 2: %v", err)
	}
	if got.State != "failed" || got.FailureReason != "immediate_crash" || !got.StoppedAt.Valid {
		t.Fatalf("got %+v", got)
	}

	recs, err := db.List(ctx)
	if err != nil || len(recs) != 1 {
		t.Fatalf("list: %v (%d)", err, len(recs))
	}
}

func TestDelete(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_ = db.UpsertStatus(ctx, store.Record{ProjectID: "p", State: "running", StartedAt: time.Now()})
	if err := db.Delete(ctx, "p"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.GetByProject(ctx, "p"); err == nil {
		t.Fatalf("expected missing row after delete")
	}
}

func TestEmptyPathRejected(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
