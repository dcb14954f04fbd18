// Package runnerd manages the lifecycle of one dev server process per
// project: spawn, port negotiation, health checks, failure diagnosis and
// teardown.
package runnerd

import (
	"net/http"
	"time"

	cfg "github.com/appforge/runnerd/internal/config"
	"github.com/appforge/runnerd/internal/failure"
	"github.com/appforge/runnerd/internal/history"
	"github.com/appforge/runnerd/internal/logger"
	"github.com/appforge/runnerd/internal/metrics"
	"github.com/appforge/runnerd/internal/netutil"
	"github.com/appforge/runnerd/internal/registry"
	iapi "github.com/appforge/runnerd/internal/server"
	"github.com/appforge/runnerd/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Supervisor = supervisor.Supervisor

type Options = supervisor.Options

type StartOptions = supervisor.StartOptions

type StopOptions = supervisor.StopOptions

type Record = supervisor.Record

type Status = supervisor.Status

type State = supervisor.State

type HealthResult = supervisor.HealthResult

type Hooks = supervisor.Hooks

type LogEvent = supervisor.LogEvent

type ExitEvent = supervisor.ExitEvent

type TunnelCloser = supervisor.TunnelCloser

type FailureReason = failure.Reason

type FailureClassification = failure.Classification

type HistorySink = history.Sink

type RegistryClient = registry.Client

type LogConfig = logger.Config

const (
	StateIdle     = supervisor.StateIdle
	StateStarting = supervisor.StateStarting
	StateRunning  = supervisor.StateRunning
	StateStopping = supervisor.StateStopping
	StateStopped  = supervisor.StateStopped
	StateFailed   = supervisor.StateFailed
)

// New constructs a supervisor with the given options.
func New(opts Options) *Supervisor { return supervisor.New(opts) }

// LoadConfig reads a TOML daemon configuration file.
func LoadConfig(path string) (*cfg.FileConfig, error) { return cfg.Load(path) }

// RegistryFromEnv builds the platform registry client from API_BASE_URL,
// RUNNER_SHARED_SECRET and RUNNER_ID.
func RegistryFromEnv() *RegistryClient { return registry.FromEnv(nil) }

// FindAvailablePort scans upward from start for a free TCP port.
func FindAvailablePort(start, maxAttempts int) (int, error) {
	return netutil.FindAvailablePort(start, maxAttempts)
}

// IsPortInUse probes whether a TCP port is already bound.
func IsPortInUse(port int) bool { return netutil.IsPortInUse(port) }

// NewHTTPServer starts an HTTP server exposing the daemon API for the given
// supervisor.
func NewHTTPServer(addr string, sup *Supervisor, basePath string) (*http.Server, error) {
	return iapi.NewServer(addr, sup, iapi.Options{BasePath: basePath})
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the
// default registry. It returns any immediate listen error; otherwise it runs
// the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
