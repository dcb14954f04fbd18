package registry

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegisterProcess(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody registerRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Secret: "s3cret", RunnerID: "runner-1", Logger: discard()})
	started := time.Now()
	c.RegisterProcess(context.Background(), "proj-1", 4321, "npm run dev", started)

	if gotPath != "/api/runner/process/register" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer s3cret" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if gotBody.ProjectID != "proj-1" || gotBody.PID != 4321 || gotBody.RunnerID != "runner-1" {
		t.Fatalf("body = %+v", gotBody)
	}
	if gotBody.Command != "npm run dev" {
		t.Fatalf("command = %q", gotBody.Command)
	}
}

func TestUnregisterProcess(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Logger: discard()})
	c.UnregisterProcess(context.Background(), "proj-2")

	if gotMethod != http.MethodDelete {
		t.Fatalf("method = %q", gotMethod)
	}
	if gotPath != "/api/runner/process/proj-2" {
		t.Fatalf("path = %q", gotPath)
	}
}

func TestCallsNeverPanicOnDeadServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // immediately unreachable

	c := New(Config{BaseURL: srv.URL, Logger: discard(), Timeout: 200 * time.Millisecond})
	c.RegisterProcess(context.Background(), "p", 1, "cmd", time.Now())
	c.UnregisterProcess(context.Background(), "p")
	// reaching here without panic or error escalation is the contract
}

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv(EnvAPIBaseURL, "")
	t.Setenv(EnvSharedSecret, "")
	t.Setenv(EnvRunnerID, "")
	c := FromEnv(discard())
	if c.baseURL != defaultBaseURL {
		t.Fatalf("baseURL = %q", c.baseURL)
	}
}
