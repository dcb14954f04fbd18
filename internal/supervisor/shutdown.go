package supervisor

import (
	"context"
	"sync"
	"syscall"
	"time"

	"github.com/appforge/runnerd/internal/metrics"
	"github.com/appforge/runnerd/internal/netutil"
)

// TunnelCloser is the capability used to tear down the public reverse-proxy
// mapping for a port during graceful shutdown.
type TunnelCloser interface {
	CloseTunnel(ctx context.Context, port int) error
}

// StopOptions tune one stop sequence.
type StopOptions struct {
	// Timeout bounds the SIGTERM wait before escalating. Zero means the
	// supervisor default.
	Timeout time.Duration
	// Reason is recorded on the record for diagnostics.
	Reason string
	// Tunnel, when set together with a port, has its mapping closed first.
	Tunnel TunnelCloser
	// Port overrides the record's port for tunnel close and force kill.
	Port int
	// ForceKillPort additionally kills whatever is listening on the port,
	// guarding against orphans this record never tracked.
	ForceKillPort bool
}

// Stop runs the graceful termination sequence for a project's dev server:
// tunnel close, SIGTERM, bounded wait, SIGKILL escalation, optional port
// reclamation, then deregistration. It returns true once the sequence has
// run; false when no active record existed (the force-kill fallback may still
// have fired in that case).
func (s *Supervisor) Stop(ctx context.Context, projectID string, opts StopOptions) bool {
	if opts.Timeout <= 0 {
		opts.Timeout = s.stopTimeout
	}
	rec, ok := s.Get(projectID)
	if !ok {
		// No tracked process. Reclaim the port anyway when asked to: an
		// orphan from a previous runner may still hold it.
		if opts.ForceKillPort && opts.Port > 0 {
			s.logger.Warn("no record, force killing port occupant", "project", projectID, "port", opts.Port)
			if err := netutil.KillByPort(opts.Port); err != nil {
				s.logger.Warn("force kill failed", "port", opts.Port, "error", err)
			}
			netutil.WaitForRelease(ctx, opts.Port, 2*time.Second, 200*time.Millisecond)
		}
		return false
	}

	rec.markStopping(opts.Reason)
	s.logger.Info("stopping dev server", "project", projectID, "reason", opts.Reason)

	port := opts.Port
	if port == 0 {
		port = rec.Port()
	}
	if opts.Tunnel != nil && port > 0 {
		if err := opts.Tunnel.CloseTunnel(ctx, port); err != nil {
			s.logger.Warn("tunnel close failed", "project", projectID, "port", port, "error", err)
		}
	}

	s.signalTerm(rec)

	select {
	case <-rec.WaitDone():
	case <-time.After(opts.Timeout):
	}

	if !rec.HasExited() && !rec.killed.Load() {
		s.signalKill(rec)
		select {
		case <-rec.WaitDone():
		case <-time.After(killReapWait):
			// best-effort; the monitor will finish the bookkeeping
		}
	}

	if opts.ForceKillPort && port > 0 {
		if err := netutil.KillByPort(port); err != nil {
			s.logger.Debug("port reclamation found nothing to kill", "port", port, "error", err)
		}
		netutil.WaitForRelease(ctx, port, 2*time.Second, 200*time.Millisecond)
	}

	s.finalize(rec)
	metrics.IncStop(projectID)
	return true
}

// StopAll terminates every active dev server concurrently. Failures stopping
// one project never prevent the others from stopping.
func (s *Supervisor) StopAll(ctx context.Context, tunnel TunnelCloser) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(projectID string) {
			defer wg.Done()
			s.Stop(ctx, projectID, StopOptions{Tunnel: tunnel, Reason: "shutdown"})
		}(id)
	}
	wg.Wait()
}

// terminate kills a process with the standard grace window. Used by the
// health-check failure path.
func (s *Supervisor) terminate(rec *Record, grace time.Duration) {
	if rec.HasExited() {
		return
	}
	s.signalTerm(rec)
	select {
	case <-rec.WaitDone():
		return
	case <-time.After(grace):
	}
	if !rec.HasExited() && !rec.killed.Load() {
		s.signalKill(rec)
		select {
		case <-rec.WaitDone():
		case <-time.After(killReapWait):
		}
	}
}

// signalTerm sends SIGTERM to the process group so the shell's children get
// it too.
func (s *Supervisor) signalTerm(rec *Record) {
	if pid := rec.PID(); pid > 0 {
		_ = syscall.Kill(-pid, syscall.SIGTERM)
	}
}

func (s *Supervisor) signalKill(rec *Record) {
	if pid := rec.PID(); pid > 0 && rec.killed.CompareAndSwap(false, true) {
		metrics.IncKillEscalation()
		s.logger.Warn("escalating to SIGKILL", "project", rec.projectID, "pid", pid)
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}
}
