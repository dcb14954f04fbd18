package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/appforge/runnerd/internal/store"
	"github.com/appforge/runnerd/internal/supervisor"
)

func newTestServer(t *testing.T) (*httptest.Server, *supervisor.Supervisor) {
	t.Helper()
	sup := supervisor.New(supervisor.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	r := NewRouter(sup, Options{BasePath: "/api"})
	ts := httptest.NewServer(r.Handler())
	t.Cleanup(ts.Close)
	return ts, sup
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestStartValidation(t *testing.T) {
	ts, _ := newTestServer(t)
	cases := []struct {
		name string
		body supervisor.StartOptions
	}{
		{"missing project", supervisor.StartOptions{Command: "sleep 1", WorkDir: "/tmp"}},
		{"unsafe project", supervisor.StartOptions{ProjectID: "../etc", Command: "sleep 1", WorkDir: "/tmp"}},
		{"missing command", supervisor.StartOptions{ProjectID: "p1", WorkDir: "/tmp"}},
		{"relative workdir", supervisor.StartOptions{ProjectID: "p1", Command: "sleep 1", WorkDir: "relative/dir"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/api/start", tc.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			if e := decode[map[string]string](t, resp); e["error"] == "" {
				t.Fatalf("expected error body, got %v", e)
			}
		})
	}
}

func TestStartInvalidJSON(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Post(ts.URL+"/api/start", "application/json", bytes.NewReader([]byte("{nope")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	ts, sup := newTestServer(t)
	dir := t.TempDir()

	resp := postJSON(t, ts.URL+"/api/start", supervisor.StartOptions{
		ProjectID: "life",
		Command:   "sleep 30",
		WorkDir:   dir,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d", resp.StatusCode)
	}
	st := decode[supervisor.Status](t, resp)
	if st.ProjectID != "life" || st.State != supervisor.StateStarting {
		t.Fatalf("status = %+v", st)
	}
	if st.Port == 0 {
		t.Fatalf("a port should have been allocated")
	}
	if st.PID == 0 {
		t.Fatalf("pid missing from start response")
	}

	resp, err := http.Get(ts.URL + "/api/status?project=life")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status endpoint = %d", resp.StatusCode)
	}
	if got := decode[supervisor.Status](t, resp); got.ProjectID != "life" {
		t.Fatalf("status = %+v", got)
	}

	resp = postJSON(t, ts.URL+"/api/stop?project=life&timeout=5s&reason=test", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d", resp.StatusCode)
	}
	sr := decode[stopResp](t, resp)
	if !sr.OK || !sr.Stopped {
		t.Fatalf("stop response = %+v", sr)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := sup.Get("life"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("record not removed after stop")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStopRequiresProject(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := postJSON(t, ts.URL+"/api/stop", nil)
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStopUnknownProject(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := postJSON(t, ts.URL+"/api/stop?project=ghost", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if sr := decode[stopResp](t, resp); sr.Stopped {
		t.Fatalf("stopped = true for unknown project")
	}
}

func TestStatusAllEmpty(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := decode[[]supervisor.Status](t, resp); len(got) != 0 {
		t.Fatalf("statuses = %+v", got)
	}
}

func TestStatusUnknownProject(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/status?project=ghost")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHealthCheckValidation(t *testing.T) {
	ts, _ := newTestServer(t)
	for _, url := range []string{
		ts.URL + "/api/health-check",
		ts.URL + "/api/health-check?project=p1",
		ts.URL + "/api/health-check?project=p1&port=0",
	} {
		resp := postJSON(t, url, nil)
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", url, resp.StatusCode)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

// fakeStore implements store.Store in memory for read-back tests.
type fakeStore struct {
	mu   sync.Mutex
	rows map[string]store.Record
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string]store.Record{}}
}

func (f *fakeStore) EnsureSchema(context.Context) error { return nil }

func (f *fakeStore) UpsertStatus(_ context.Context, rec store.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[rec.ProjectID] = rec
	return nil
}

func (f *fakeStore) GetByProject(_ context.Context, projectID string) (store.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.rows[projectID]
	if !ok {
		return store.Record{}, fmt.Errorf("no row for %s", projectID)
	}
	return rec, nil
}

func (f *fakeStore) List(context.Context) ([]store.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Record, 0, len(f.rows))
	for _, rec := range f.rows {
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeStore) Delete(_ context.Context, projectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, projectID)
	return nil
}

func (f *fakeStore) Close() error { return nil }

func TestStatusAllMergesPersisted(t *testing.T) {
	fs := newFakeStore()
	_ = fs.UpsertStatus(context.Background(), store.Record{
		ProjectID:     "old-proj",
		PID:           999,
		Port:          3456,
		State:         "failed",
		FailureReason: "immediate_crash",
		StartedAt:     time.Now().Add(-time.Hour).UTC(),
		StoppedAt:     sql.NullTime{Time: time.Now().Add(-time.Hour).UTC(), Valid: true},
	})

	sup := supervisor.New(supervisor.Options{
		Store:  fs,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	r := NewRouter(sup, Options{BasePath: "/api", Store: fs})
	ts := httptest.NewServer(r.Handler())
	t.Cleanup(ts.Close)

	rec := sup.Start(supervisor.StartOptions{ProjectID: "live-proj", Command: "sleep 30", WorkDir: t.TempDir()})
	t.Cleanup(func() {
		sup.Stop(context.Background(), "live-proj", supervisor.StopOptions{Timeout: 2 * time.Second})
		select {
		case <-rec.WaitDone():
		case <-time.After(5 * time.Second):
		}
	})

	resp, err := http.Get(ts.URL + "/api/status?all=1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	rep := decode[statusAllResp](t, resp)
	if len(rep.Live) != 1 || rep.Live[0].ProjectID != "live-proj" {
		t.Fatalf("live = %+v", rep.Live)
	}
	if len(rep.Persisted) != 1 || rep.Persisted[0].ProjectID != "old-proj" {
		t.Fatalf("persisted = %+v", rep.Persisted)
	}
	p := rep.Persisted[0]
	if p.State != "failed" || p.FailureReason != "immediate_crash" || p.StoppedAt == nil {
		t.Fatalf("persisted row = %+v", p)
	}
}

func TestStatusAllLiveSupersedesStoreRow(t *testing.T) {
	fs := newFakeStore()
	sup := supervisor.New(supervisor.Options{
		Store:  fs,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	r := NewRouter(sup, Options{BasePath: "/api", Store: fs})
	ts := httptest.NewServer(r.Handler())
	t.Cleanup(ts.Close)

	// starting upserts a store row for the same project
	rec := sup.Start(supervisor.StartOptions{ProjectID: "dual", Command: "sleep 30", WorkDir: t.TempDir()})
	t.Cleanup(func() {
		sup.Stop(context.Background(), "dual", supervisor.StopOptions{Timeout: 2 * time.Second})
		select {
		case <-rec.WaitDone():
		case <-time.After(5 * time.Second):
		}
	})

	resp, err := http.Get(ts.URL + "/api/status?all=1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	rep := decode[statusAllResp](t, resp)
	if len(rep.Live) != 1 {
		t.Fatalf("live = %+v", rep.Live)
	}
	if len(rep.Persisted) != 0 {
		t.Fatalf("live project leaked into persisted: %+v", rep.Persisted)
	}
}

func TestStatusAllWithoutStore(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/status?all=1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	rep := decode[statusAllResp](t, resp)
	if len(rep.Live) != 0 || len(rep.Persisted) != 0 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestSanitizeBase(t *testing.T) {
	cases := map[string]string{
		"":       "",
		"/":      "",
		"api":    "/api",
		"/api/":  "/api",
		" /api ": "/api",
	}
	for in, want := range cases {
		if got := sanitizeBase(in); got != want {
			t.Fatalf("sanitizeBase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsSafeName(t *testing.T) {
	for _, ok := range []string{"proj-1", "a.b_c", "X9"} {
		if !isSafeName(ok) {
			t.Fatalf("%q should be safe", ok)
		}
	}
	for _, bad := range []string{"", "a/b", "..", "a..b", "a b", "a\\b", ".hidden", strings.Repeat("a", maxProjectIDLen+1)} {
		if isSafeName(bad) {
			t.Fatalf("%q should be rejected", bad)
		}
	}
}
