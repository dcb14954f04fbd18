// Package supervisor owns the spawn, state tracking, health verification and
// teardown of one dev server process per project.
package supervisor

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/appforge/runnerd/internal/failure"
	"github.com/appforge/runnerd/internal/history"
	"github.com/appforge/runnerd/internal/logger"
	"github.com/appforge/runnerd/internal/metrics"
	"github.com/appforge/runnerd/internal/netutil"
	"github.com/appforge/runnerd/internal/registry"
	"github.com/appforge/runnerd/internal/store"
)

// shellPath runs every dev command. Projects routinely rely on bash-isms in
// their scripts, so the generic /bin/sh is deliberately not used.
const shellPath = "/bin/bash"

// Defaults for tunable windows.
const (
	DefaultCaptureWindow  = 5 * time.Second
	DefaultMaxPortWait    = 5 * time.Second
	DefaultHealthAttempts = 10
	DefaultStopTimeout    = 10 * time.Second

	healthPollInterval = time.Second
	killGracePeriod    = 2 * time.Second
	killReapWait       = time.Second
)

// ErrPortWaitTimeout is returned by StartAsync when the requested port is
// still occupied after the pre-flight wait.
var ErrPortWaitTimeout = errors.New("port still in use after wait")

// IsPortWaitTimeout reports whether err is the StartAsync pre-flight failure.
func IsPortWaitTimeout(err error) bool { return errors.Is(err, ErrPortWaitTimeout) }

// StartOptions are the immutable launch parameters for one dev server.
type StartOptions struct {
	ProjectID string   `json:"project_id"`
	Command   string   `json:"command"`
	WorkDir   string   `json:"work_dir"`
	Port      int      `json:"port,omitempty"`
	Env       []string `json:"env,omitempty"`
}

// Options configures a Supervisor instance.
type Options struct {
	CaptureWindow  time.Duration
	HealthAttempts int
	StopTimeout    time.Duration
	Log            logger.Config
	Registry       *registry.Client
	Store          store.Store
	Sinks          []history.Sink
	Hooks          Hooks
	Logger         *slog.Logger
}

// Supervisor tracks at most one dev server process per project. The registry
// map is exclusively owned here; callers interact only through Start, Stop,
// RunHealthCheck and the status accessors.
//
// Concurrent Start calls for the same project are the caller's to serialize:
// a race leaves one winner in the registry and an orphaned record that can
// still be stopped through its own handle.
type Supervisor struct {
	mu      sync.RWMutex
	records map[string]*Record

	captureWindow  time.Duration
	healthAttempts int
	stopTimeout    time.Duration
	logCfg         logger.Config
	reg            *registry.Client
	st             store.Store
	sinks          []history.Sink
	hooks          Hooks
	logger         *slog.Logger
}

// New constructs a Supervisor. Zero-value options fall back to defaults; a
// nil Registry disables remote registration.
func New(opts Options) *Supervisor {
	if opts.CaptureWindow <= 0 {
		opts.CaptureWindow = DefaultCaptureWindow
	}
	if opts.HealthAttempts <= 0 {
		opts.HealthAttempts = DefaultHealthAttempts
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Supervisor{
		records:        make(map[string]*Record),
		captureWindow:  opts.CaptureWindow,
		healthAttempts: opts.HealthAttempts,
		stopTimeout:    opts.StopTimeout,
		logCfg:         opts.Log,
		reg:            opts.Registry,
		st:             opts.Store,
		sinks:          opts.Sinks,
		hooks:          opts.Hooks,
		logger:         opts.Logger,
	}
}

// Get returns the active record for a project, if any.
func (s *Supervisor) Get(projectID string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[projectID]
	return rec, ok
}

// Statuses returns a snapshot of every active record.
func (s *Supervisor) Statuses() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Status, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Snapshot())
	}
	return out
}

// Start spawns the project's dev server. Structural failures (missing
// working directory, spawn errors) are reported by returning a record
// already in StateFailed rather than by an error value, so callers inspect
// the record uniformly wherever the failure occurred.
func (s *Supervisor) Start(opts StartOptions) *Record {
	rec := newRecord(opts, s.captureWindow)

	if fi, err := os.Stat(opts.WorkDir); err != nil || !fi.IsDir() {
		rec.setFailure(failure.Classification{
			Reason:     failure.ReasonDirectoryMissing,
			Message:    fmt.Sprintf("working directory does not exist: %s", opts.WorkDir),
			Suggestion: failure.Suggestion(failure.ReasonDirectoryMissing),
		})
		rec.hasExited.Store(true)
		close(rec.waitDone)
		metrics.IncFailure(string(failure.ReasonDirectoryMissing))
		s.logger.Warn("start rejected, missing workdir", "project", opts.ProjectID, "workdir", opts.WorkDir)
		return rec
	}

	// #nosec G204 -- the command is the project's own dev script
	cmd := exec.Command(shellPath, "-c", opts.Command)
	cmd.Dir = opts.WorkDir
	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return s.failSpawn(rec, fmt.Errorf("stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return s.failSpawn(rec, fmt.Errorf("stderr pipe: %w", err))
	}

	outW, errW := s.logCfg.Writers(opts.ProjectID)

	s.mu.Lock()
	s.records[opts.ProjectID] = rec
	n := len(s.records)
	s.mu.Unlock()
	metrics.SetActiveProcesses(n)

	if err := cmd.Start(); err != nil {
		s.removeRecord(rec)
		return s.failSpawn(rec, err)
	}
	rec.setStarted(cmd, outW, errW)
	metrics.IncStart(opts.ProjectID)
	s.logger.Info("dev server spawned", "project", opts.ProjectID, "pid", cmd.Process.Pid, "port", opts.Port)

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if outW != nil {
				_, _ = outW.Write(append([]byte(line), '\n'))
			}
			s.hooks.emitLog(LogEvent{ProjectID: opts.ProjectID, Stream: StreamStdout, Line: line})
		}
	}()
	go func() {
		defer readers.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if errW != nil {
				_, _ = errW.Write(append([]byte(line), '\n'))
			}
			rec.appendDiag(line)
			s.hooks.emitLog(LogEvent{ProjectID: opts.ProjectID, Stream: StreamStderr, Line: line})
		}
	}()

	// Remote registration is fire-and-forget: the registry is advisory.
	if s.reg != nil {
		go s.reg.RegisterProcess(context.Background(), opts.ProjectID, cmd.Process.Pid, opts.Command, rec.StartedAt())
	}
	s.recordStart(rec)

	go s.monitor(rec, cmd, &readers)
	return rec
}

// StartAsync is the pre-flight variant: when a port is requested and still
// occupied it waits up to maxPortWait for release, failing without spawning
// if the occupant never lets go.
func (s *Supervisor) StartAsync(ctx context.Context, opts StartOptions, maxPortWait time.Duration) (*Record, error) {
	if maxPortWait <= 0 {
		maxPortWait = DefaultMaxPortWait
	}
	if opts.Port > 0 && netutil.IsPortInUse(opts.Port) {
		s.logger.Info("port occupied, waiting for release", "project", opts.ProjectID, "port", opts.Port)
		if !netutil.WaitForRelease(ctx, opts.Port, maxPortWait, netutil.DefaultReleasePoll) {
			return nil, fmt.Errorf("project %s: port %d: %w", opts.ProjectID, opts.Port, ErrPortWaitTimeout)
		}
	}
	return s.Start(opts), nil
}

// failSpawn finalizes a record whose process could not be created at all.
func (s *Supervisor) failSpawn(rec *Record, err error) *Record {
	cls := failure.Classify(err, rec.workDir, rec.StartedAt())
	rec.setFailure(cls)
	rec.hasExited.Store(true)
	select {
	case <-rec.waitDone:
	default:
		close(rec.waitDone)
	}
	metrics.IncFailure(string(cls.Reason))
	s.logger.Error("spawn failed", "project", rec.projectID, "reason", cls.Reason, "error", err)
	s.hooks.emitError(ErrorEvent{ProjectID: rec.projectID, Err: err})
	return rec
}

// monitor reaps the process and resolves the record's terminal state.
func (s *Supervisor) monitor(rec *Record, cmd *exec.Cmd, readers *sync.WaitGroup) {
	readers.Wait()
	waitErr := cmd.Wait()
	rec.hasExited.Store(true)
	rec.closeWriters()

	code, signal := exitStatus(cmd, waitErr)
	wasStopping := rec.State() == StateStopping

	var reason failure.Reason
	if code == 0 || wasStopping {
		rec.setState(StateStopped)
	} else {
		classifyErr := waitErr
		if classifyErr == nil {
			classifyErr = fmt.Errorf("exit status %d", code)
		}
		if diag := rec.DiagOutput(); diag != "" {
			classifyErr = fmt.Errorf("%w: %s", classifyErr, diag)
		}
		cls := failure.Classify(classifyErr, rec.workDir, rec.StartedAt())
		rec.setFailure(cls)
		reason = cls.Reason
		metrics.IncFailure(string(reason))
		s.logger.Warn("dev server failed", "project", rec.projectID, "code", code,
			"signal", signal, "reason", reason)
	}
	// Terminal state is resolved before waitDone closes so that a Stop
	// racing this monitor observes the final state, not Stopping.
	close(rec.waitDone)

	s.hooks.emitExit(ExitEvent{
		ProjectID:     rec.projectID,
		Code:          code,
		Signal:        signal,
		State:         rec.State(),
		FailureReason: reason,
		Stderr:        rec.DiagOutput(),
	})
	s.finalize(rec)
}

// finalize removes the record from the registry and reports the stop, exactly
// once even when the exit monitor races a Stop call.
func (s *Supervisor) finalize(rec *Record) {
	if !rec.finalized.CompareAndSwap(false, true) {
		return
	}
	s.removeRecord(rec)
	if s.reg != nil {
		go s.reg.UnregisterProcess(context.Background(), rec.projectID)
	}
	s.recordStop(rec)
}

// removeRecord deletes the record's registry slot, but only while it still
// owns it: a newer record for the same project must not be evicted.
func (s *Supervisor) removeRecord(rec *Record) {
	s.mu.Lock()
	if cur, ok := s.records[rec.projectID]; ok && cur == rec {
		delete(s.records, rec.projectID)
	}
	n := len(s.records)
	s.mu.Unlock()
	metrics.SetActiveProcesses(n)
}

// recordStart persists the new process best-effort.
func (s *Supervisor) recordStart(rec *Record) {
	st := rec.Snapshot()
	ctx := context.Background()
	if s.st != nil {
		err := s.st.UpsertStatus(ctx, store.Record{
			ProjectID: st.ProjectID,
			PID:       st.PID,
			Port:      st.Port,
			State:     string(st.State),
			StartedAt: st.StartedAt,
		})
		if err != nil {
			s.logger.Warn("store upsert failed", "project", st.ProjectID, "error", err)
		}
	}
	s.send(history.Event{
		Type:       history.EventStart,
		OccurredAt: time.Now().UTC(),
		ProjectID:  st.ProjectID,
		PID:        st.PID,
		Port:       st.Port,
		State:      string(st.State),
	})
}

// recordStop persists the terminal state best-effort.
func (s *Supervisor) recordStop(rec *Record) {
	st := rec.Snapshot()
	ctx := context.Background()
	reason := ""
	evType := history.EventStop
	if st.Failure != nil {
		reason = string(st.Failure.Reason)
		evType = history.EventFail
	}
	if s.st != nil {
		err := s.st.UpsertStatus(ctx, store.Record{
			ProjectID:     st.ProjectID,
			PID:           st.PID,
			Port:          st.Port,
			State:         string(st.State),
			FailureReason: reason,
			StartedAt:     st.StartedAt,
			StoppedAt:     sql.NullTime{Time: time.Now().UTC(), Valid: true},
		})
		if err != nil {
			s.logger.Warn("store upsert failed", "project", st.ProjectID, "error", err)
		}
	}
	s.send(history.Event{
		Type:          evType,
		OccurredAt:    time.Now().UTC(),
		ProjectID:     st.ProjectID,
		PID:           st.PID,
		Port:          st.Port,
		State:         string(st.State),
		FailureReason: reason,
		Detail:        st.StopReason,
	})
}

func (s *Supervisor) send(e history.Event) {
	for _, sink := range s.sinks {
		if err := sink.Send(context.Background(), e); err != nil {
			s.logger.Warn("history sink send failed", "project", e.ProjectID, "error", err)
		}
	}
}

// exitStatus extracts the exit code and terminating signal.
func exitStatus(cmd *exec.Cmd, waitErr error) (int, string) {
	ps := cmd.ProcessState
	if ps == nil {
		if waitErr != nil {
			return -1, ""
		}
		return 0, ""
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -1, ws.Signal().String()
	}
	return ps.ExitCode(), ""
}
