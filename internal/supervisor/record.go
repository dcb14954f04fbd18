package supervisor

import (
	"bytes"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/appforge/runnerd/internal/failure"
)

// State is the lifecycle state of one project's dev server.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// Record is the live handle for one project's dev server. A record is created
// per start request and is terminal once Stopped or Failed; restarting a
// project produces a fresh record.
type Record struct {
	mu        sync.Mutex
	projectID string
	command   string
	workDir   string
	port      int

	state             State
	startedAt         time.Time
	lastHealthCheckAt time.Time
	stopReason        string
	failure           *failure.Classification

	// diag buffers stderr captured during the first captureWindow after
	// start. The buffer survives for the life of the record; only appends
	// stop once the window closes.
	diag          bytes.Buffer
	captureWindow time.Duration

	cmd       *exec.Cmd
	waitDone  chan struct{}
	outCloser io.WriteCloser
	errCloser io.WriteCloser

	// hasExited flips the instant the OS reports exit, before any state
	// bookkeeping runs. Concurrent health checks poll it lock-free.
	hasExited atomic.Bool
	// killed is set once SIGKILL has been sent, so escalation happens at
	// most once per record.
	killed atomic.Bool
	// finalized guards the registry removal and remote deregistration so
	// a racing Stop and exit monitor run them exactly once.
	finalized atomic.Bool
}

// Status is a point-in-time copy of a record, safe to serialize.
type Status struct {
	ProjectID         string                  `json:"project_id"`
	State             State                   `json:"state"`
	PID               int                     `json:"pid,omitempty"`
	Port              int                     `json:"port,omitempty"`
	Command           string                  `json:"command"`
	WorkDir           string                  `json:"work_dir"`
	StartedAt         time.Time               `json:"started_at,omitempty"`
	LastHealthCheckAt time.Time               `json:"last_health_check_at,omitempty"`
	StopReason        string                  `json:"stop_reason,omitempty"`
	Failure           *failure.Classification `json:"failure,omitempty"`
	Stderr            string                  `json:"stderr,omitempty"`
}

func newRecord(opts StartOptions, captureWindow time.Duration) *Record {
	return &Record{
		projectID:     opts.ProjectID,
		command:       opts.Command,
		workDir:       opts.WorkDir,
		port:          opts.Port,
		state:         StateIdle,
		captureWindow: captureWindow,
		waitDone:      make(chan struct{}),
	}
}

func (r *Record) ProjectID() string { return r.projectID }
func (r *Record) Command() string   { return r.command }
func (r *Record) WorkDir() string   { return r.workDir }

func (r *Record) Port() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.port
}

func (r *Record) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Record) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// HasExited reports whether the OS has reaped the process. It is readable
// without taking the record lock.
func (r *Record) HasExited() bool { return r.hasExited.Load() }

// PID returns the child's OS pid, or 0 before a successful spawn.
func (r *Record) PID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd != nil && r.cmd.Process != nil {
		return r.cmd.Process.Pid
	}
	return 0
}

func (r *Record) StartedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startedAt
}

// Failure returns the classification attached when the record failed.
func (r *Record) Failure() *failure.Classification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failure
}

func (r *Record) setFailure(c failure.Classification) {
	r.mu.Lock()
	r.state = StateFailed
	r.failure = &c
	r.mu.Unlock()
}

func (r *Record) setStarted(cmd *exec.Cmd, out, errW io.WriteCloser) {
	r.mu.Lock()
	r.cmd = cmd
	r.outCloser = out
	r.errCloser = errW
	r.startedAt = time.Now()
	r.state = StateStarting
	r.mu.Unlock()
}

func (r *Record) markStopping(reason string) {
	r.mu.Lock()
	r.state = StateStopping
	r.stopReason = reason
	r.mu.Unlock()
}

func (r *Record) markHealthy() {
	r.mu.Lock()
	r.state = StateRunning
	r.lastHealthCheckAt = time.Now()
	r.mu.Unlock()
}

// appendDiag buffers stderr output while the capture window is open.
func (r *Record) appendDiag(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startedAt.IsZero() || time.Since(r.startedAt) >= r.captureWindow {
		return
	}
	r.diag.WriteString(line)
	r.diag.WriteByte('\n')
}

// DiagOutput returns the stderr text captured in the early window.
func (r *Record) DiagOutput() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.diag.String()
}

// WaitDone is closed by the exit monitor once the process has been reaped.
func (r *Record) WaitDone() <-chan struct{} { return r.waitDone }

func (r *Record) closeWriters() {
	r.mu.Lock()
	out, errW := r.outCloser, r.errCloser
	r.outCloser, r.errCloser = nil, nil
	r.mu.Unlock()
	if out != nil {
		_ = out.Close()
	}
	if errW != nil {
		_ = errW.Close()
	}
}

// Snapshot returns a copy of the current record state.
func (r *Record) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Status{
		ProjectID:         r.projectID,
		State:             r.state,
		Port:              r.port,
		Command:           r.command,
		WorkDir:           r.workDir,
		StartedAt:         r.startedAt,
		LastHealthCheckAt: r.lastHealthCheckAt,
		StopReason:        r.stopReason,
		Failure:           r.failure,
		Stderr:            r.diag.String(),
	}
	if r.cmd != nil && r.cmd.Process != nil {
		st.PID = r.cmd.Process.Pid
	}
	return st
}
