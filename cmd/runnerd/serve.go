package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/appforge/runnerd/internal/config"
	"github.com/appforge/runnerd/internal/history"
	"github.com/appforge/runnerd/internal/history/factory"
	"github.com/appforge/runnerd/internal/logger"
	"github.com/appforge/runnerd/internal/metrics"
	"github.com/appforge/runnerd/internal/registry"
	"github.com/appforge/runnerd/internal/server"
	"github.com/appforge/runnerd/internal/store"
	"github.com/appforge/runnerd/internal/store/sqlite"
	"github.com/appforge/runnerd/internal/supervisor"
)

// runServe runs the daemon until SIGINT or SIGTERM, then stops every managed
// dev server before exiting.
func runServe(flags *ServeFlags) error {
	cfg := config.Default()
	if flags.ConfigPath != "" {
		loaded, err := config.Load(flags.ConfigPath)
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		cfg = loaded
	}

	if flags.Daemonize {
		return spawnDaemon(flags)
	}

	log := logger.NewDaemonLogger(os.Stderr, cfg.LogLevel())

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Warn("metrics registration failed", "error", err)
	}

	var st store.Store
	if cfg.Store != nil && cfg.Store.DSN != "" {
		db, err := sqlite.New(cfg.Store.DSN)
		if err != nil {
			return fmt.Errorf("open state store: %w", err)
		}
		if err := db.EnsureSchema(context.Background()); err != nil {
			return fmt.Errorf("state store schema: %w", err)
		}
		st = db
		defer func() { _ = db.Close() }()
	}

	var sinks []history.Sink
	for _, dsn := range cfg.HistoryDSNs() {
		sink, err := factory.NewFromDSN(dsn)
		if err != nil {
			// a broken sink never blocks startup
			log.Warn("history sink skipped", "dsn", dsn, "error", err)
			continue
		}
		sinks = append(sinks, sink)
		defer func() { _ = sink.Close() }()
	}

	reg := buildRegistry(cfg, log)

	sup := supervisor.New(supervisor.Options{
		CaptureWindow:  cfg.CaptureWindow,
		HealthAttempts: cfg.HealthAttempts,
		StopTimeout:    cfg.StopTimeout,
		Log:            cfg.LoggerConfig(),
		Registry:       reg,
		Store:          st,
		Sinks:          sinks,
		Logger:         log,
	})

	srv, err := server.NewServer(cfg.Listen, sup, server.Options{
		BasePath:        cfg.BasePath,
		BasePort:        cfg.BasePort,
		MaxPortAttempts: cfg.MaxPortAttempts,
		Store:           st,
	})
	if err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	log.Info("runnerd listening", "addr", cfg.Listen, "base_path", cfg.BasePath)

	if flags.PidFile != "" {
		if err := writePidFile(flags.PidFile, os.Getpid()); err != nil {
			log.Warn("pid file write failed", "path", flags.PidFile, "error", err)
		}
		defer func() { _ = removePidFile(flags.PidFile) }()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sup.StopAll(shutdownCtx, nil)
	_ = srv.Shutdown(shutdownCtx)
	return nil
}

// buildRegistry prefers the config section, falling back to environment
// variables so a bare daemon still reports to the platform API.
func buildRegistry(cfg *config.FileConfig, log *slog.Logger) *registry.Client {
	if cfg.Registry != nil {
		return registry.New(registry.Config{
			BaseURL:  cfg.Registry.BaseURL,
			Secret:   cfg.Registry.SharedSecret,
			RunnerID: cfg.Registry.RunnerID,
			Logger:   log,
		})
	}
	return registry.FromEnv(log)
}
