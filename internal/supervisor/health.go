package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/appforge/runnerd/internal/failure"
	"github.com/appforge/runnerd/internal/manifest"
	"github.com/appforge/runnerd/internal/metrics"
	"github.com/appforge/runnerd/internal/netutil"
)

// ErrHealthTimeout marks a verification that ran out of attempts with the
// port still unbound, as opposed to the process dying underneath it.
var ErrHealthTimeout = errors.New("health check timed out")

// HealthResult reports the outcome of a health check cycle.
type HealthResult struct {
	Healthy   bool   `json:"healthy"`
	Error     string `json:"error,omitempty"`
	PortFixed bool   `json:"port_fixed"`
}

// Verify polls once per second until the port is bound or maxAttempts runs
// out. A bound listener is sufficient evidence of health: many frameworks
// bind the socket before their bundle step finishes, so an HTTP-level check
// would produce false negatives. When rec is non-nil its exit flag is
// consulted first on every iteration so a crashed server fails fast with its
// captured stderr.
func (s *Supervisor) Verify(ctx context.Context, port int, rec *Record, maxAttempts int) error {
	if maxAttempts <= 0 {
		maxAttempts = s.healthAttempts
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if rec != nil && rec.HasExited() {
			return exitedError(rec)
		}
		if netutil.IsPortInUse(port) {
			return nil
		}
		if attempt == maxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(healthPollInterval):
		}
	}
	if rec != nil {
		if diag := rec.DiagOutput(); diag != "" {
			return fmt.Errorf("%w: port %d never bound: %s", ErrHealthTimeout, port, diag)
		}
	}
	return fmt.Errorf("%w: port %d never bound", ErrHealthTimeout, port)
}

func exitedError(rec *Record) error {
	if diag := rec.DiagOutput(); diag != "" {
		return fmt.Errorf("process exited before becoming healthy: %s", diag)
	}
	return fmt.Errorf("process exited before becoming healthy")
}

// RunHealthCheck is the operational wrapper around Verify. Success moves the
// record to Running and stamps the check time. Failure triggers a best-effort
// manifest port remediation, marks the record Failed, and kills the process
// (SIGTERM, escalating to SIGKILL after the grace period).
func (s *Supervisor) RunHealthCheck(ctx context.Context, projectID string, port int) HealthResult {
	rec, ok := s.Get(projectID)
	if !ok {
		return HealthResult{Healthy: false, Error: fmt.Sprintf("no active process for project %s", projectID)}
	}

	if err := s.Verify(ctx, port, rec, s.healthAttempts); err != nil {
		// A caller hanging up mid-poll is no verdict on the server: report the
		// aborted check without remediating or killing anything.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return HealthResult{Healthy: false, Error: err.Error()}
		}
		metrics.IncHealthCheck("unhealthy")

		portFixed, fixErr := manifest.FixPortInProjectConfig(rec.WorkDir(), port)
		if fixErr != nil {
			s.logger.Warn("manifest remediation failed", "project", projectID, "error", fixErr)
		}
		if portFixed {
			metrics.IncPortFix()
			s.logger.Info("manifest port rewritten", "project", projectID, "port", port)
		}

		reason := failure.ReasonHealthCheckFailed
		if errors.Is(err, ErrHealthTimeout) {
			reason = failure.ReasonHealthCheckTimeout
		}
		rec.setFailure(failure.Classification{
			Reason:     reason,
			Message:    err.Error(),
			Suggestion: failure.Suggestion(reason),
		})
		s.terminate(rec, killGracePeriod)
		return HealthResult{Healthy: false, Error: err.Error(), PortFixed: portFixed}
	}

	rec.markHealthy()
	metrics.IncHealthCheck("healthy")
	s.logger.Info("dev server healthy", "project", projectID, "port", port)
	return HealthResult{Healthy: true}
}
