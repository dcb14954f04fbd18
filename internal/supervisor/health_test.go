package supervisor

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/appforge/runnerd/internal/failure"
	"github.com/tidwall/gjson"
)

func TestVerifyPortBound(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()
	port := ln.Addr().(*net.TCPAddr).Port

	s := testSupervisor(t, Options{})
	if err := s.Verify(context.Background(), port, nil, 3); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyExitedShortCircuits(t *testing.T) {
	s := testSupervisor(t, Options{})
	rec := s.Start(StartOptions{
		ProjectID: "dead",
		Command:   "echo cannot-find-module >&2; exit 1",
		WorkDir:   t.TempDir(),
	})
	waitExited(t, rec, 5*time.Second)

	// even with the port bound, an exited record must fail the check
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()
	port := ln.Addr().(*net.TCPAddr).Port

	verr := s.Verify(context.Background(), port, rec, 5)
	if verr == nil {
		t.Fatalf("expected failure for exited record")
	}
	if !strings.Contains(verr.Error(), "exited") {
		t.Fatalf("error should mention exit: %v", verr)
	}
	if !strings.Contains(verr.Error(), "cannot-find-module") {
		t.Fatalf("error should carry captured stderr: %v", verr)
	}
}

func TestVerifyTimeout(t *testing.T) {
	s := testSupervisor(t, Options{})
	// a fresh ephemeral port with nothing bound
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	time.Sleep(50 * time.Millisecond)

	verr := s.Verify(context.Background(), port, nil, 1)
	if verr == nil {
		t.Fatalf("expected timeout")
	}
	if !strings.Contains(verr.Error(), "timed out") {
		t.Fatalf("error = %v", verr)
	}
}

func TestRunHealthCheckSuccess(t *testing.T) {
	s := testSupervisor(t, Options{HealthAttempts: 3})
	rec := s.Start(StartOptions{ProjectID: "web", Command: "sleep 5", WorkDir: t.TempDir()})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()
	port := ln.Addr().(*net.TCPAddr).Port

	res := s.RunHealthCheck(context.Background(), "web", port)
	if !res.Healthy {
		t.Fatalf("result = %+v", res)
	}
	if rec.State() != StateRunning {
		t.Fatalf("state = %s, want %s", rec.State(), StateRunning)
	}
	if rec.Snapshot().LastHealthCheckAt.IsZero() {
		t.Fatalf("health check time not stamped")
	}
	s.Stop(context.Background(), "web", StopOptions{Timeout: 2 * time.Second})
}

func TestRunHealthCheckFailureRemediatesAndKills(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "package.json")
	if err := os.WriteFile(manifestPath, []byte(`{"scripts":{"dev":"vite --port 3000"}}`), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	s := testSupervisor(t, Options{HealthAttempts: 1})
	rec := s.Start(StartOptions{ProjectID: "sick", Command: "sleep 30", WorkDir: dir})

	// nothing listens on this port
	ln, _ := net.Listen("tcp", "127.0.0.1:0")
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	time.Sleep(50 * time.Millisecond)

	res := s.RunHealthCheck(context.Background(), "sick", port)
	if res.Healthy {
		t.Fatalf("expected unhealthy result")
	}
	if !res.PortFixed {
		t.Fatalf("expected manifest remediation, result = %+v", res)
	}
	f := rec.Failure()
	if f == nil || f.Reason != failure.ReasonHealthCheckTimeout {
		t.Fatalf("failure = %+v", f)
	}
	waitExited(t, rec, 5*time.Second)

	data, _ := os.ReadFile(manifestPath)
	if got := gjson.GetBytes(data, "scripts.dev").String(); !strings.Contains(got, "--port "+strconv.Itoa(port)) {
		t.Fatalf("manifest not rewritten: %q", got)
	}
}

func TestRunHealthCheckCancelledContextLeavesProcessAlone(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "package.json")
	original := []byte(`{"scripts":{"dev":"vite --port 3000"}}`)
	if err := os.WriteFile(manifestPath, original, 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	s := testSupervisor(t, Options{})
	rec := s.Start(StartOptions{ProjectID: "hangup", Command: "sleep 30", WorkDir: dir})
	defer s.Stop(context.Background(), "hangup", StopOptions{Timeout: 2 * time.Second})

	ln, _ := net.Listen("tcp", "127.0.0.1:0")
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := s.RunHealthCheck(ctx, "hangup", port)
	if res.Healthy {
		t.Fatalf("expected unhealthy result for aborted check")
	}
	if res.PortFixed {
		t.Fatalf("aborted check must not remediate the manifest")
	}
	if rec.Failure() != nil {
		t.Fatalf("aborted check must not mark the record failed: %+v", rec.Failure())
	}
	time.Sleep(100 * time.Millisecond)
	if rec.HasExited() {
		t.Fatalf("aborted check must not kill the process")
	}
	data, _ := os.ReadFile(manifestPath)
	if string(data) != string(original) {
		t.Fatalf("manifest changed: %s", data)
	}
}

func TestRunHealthCheckUnknownProject(t *testing.T) {
	s := testSupervisor(t, Options{})
	res := s.RunHealthCheck(context.Background(), "nope", 3000)
	if res.Healthy || res.Error == "" {
		t.Fatalf("result = %+v", res)
	}
}
