package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serverStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "runnerd",
			Subsystem: "devserver",
			Name:      "starts_total",
			Help:      "Number of dev server spawn attempts that produced a process.",
		}, []string{"project"},
	)
	serverFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "runnerd",
			Subsystem: "devserver",
			Name:      "failures_total",
			Help:      "Number of dev server failures by classified reason.",
		}, []string{"reason"},
	)
	serverStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "runnerd",
			Subsystem: "devserver",
			Name:      "stops_total",
			Help:      "Number of completed stop sequences.",
		}, []string{"project"},
	)
	healthChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "runnerd",
			Subsystem: "devserver",
			Name:      "health_checks_total",
			Help:      "Health check outcomes.",
		}, []string{"result"},
	)
	killEscalations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "runnerd",
			Subsystem: "devserver",
			Name:      "kill_escalations_total",
			Help:      "Number of times SIGTERM had to escalate to SIGKILL.",
		},
	)
	portFixes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "runnerd",
			Subsystem: "devserver",
			Name:      "port_fixes_total",
			Help:      "Number of successful manifest port remediations.",
		},
	)
	activeProcesses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "runnerd",
			Subsystem: "devserver",
			Name:      "active_processes",
			Help:      "Current number of tracked dev server processes.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{serverStarts, serverFailures, serverStops, healthChecks, killEscalations, portFixes, activeProcesses}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics for the
// DefaultGatherer. The caller wires the route.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncStart(project string) {
	if regOK.Load() {
		serverStarts.WithLabelValues(project).Inc()
	}
}
func IncFailure(reason string) {
	if regOK.Load() {
		serverFailures.WithLabelValues(reason).Inc()
	}
}
func IncStop(project string) {
	if regOK.Load() {
		serverStops.WithLabelValues(project).Inc()
	}
}
func IncHealthCheck(result string) {
	if regOK.Load() {
		healthChecks.WithLabelValues(result).Inc()
	}
}
func IncKillEscalation() {
	if regOK.Load() {
		killEscalations.Inc()
	}
}
func IncPortFix() {
	if regOK.Load() {
		portFixes.Inc()
	}
}
func SetActiveProcesses(n int) {
	if regOK.Load() {
		activeProcesses.Set(float64(n))
	}
}
