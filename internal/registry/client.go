// Package registry reports process ownership to the platform API. Every call
// is advisory: failures are logged and never surfaced to lifecycle code,
// because local process state is authoritative and remote bookkeeping is not.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Environment variables consumed by FromEnv.
const (
	EnvAPIBaseURL   = "API_BASE_URL"
	EnvSharedSecret = "RUNNER_SHARED_SECRET"
	EnvRunnerID     = "RUNNER_ID"

	defaultBaseURL = "http://localhost:3000"
)

// Client talks to the process-registry endpoints of the platform API.
type Client struct {
	baseURL  string
	secret   string
	runnerID string
	client   *http.Client
	logger   *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL  string
	Secret   string
	RunnerID string
	Timeout  time.Duration
	Logger   *slog.Logger
}

// New creates a registry client. Zero-value fields fall back to defaults.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL:  cfg.BaseURL,
		secret:   cfg.Secret,
		runnerID: cfg.RunnerID,
		logger:   cfg.Logger,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

// FromEnv builds a client from API_BASE_URL, RUNNER_SHARED_SECRET and
// RUNNER_ID.
func FromEnv(logger *slog.Logger) *Client {
	return New(Config{
		BaseURL:  os.Getenv(EnvAPIBaseURL),
		Secret:   os.Getenv(EnvSharedSecret),
		RunnerID: os.Getenv(EnvRunnerID),
		Logger:   logger,
	})
}

type registerRequest struct {
	ProjectID string    `json:"projectId"`
	PID       int       `json:"pid"`
	Command   string    `json:"command"`
	RunnerID  string    `json:"runnerId"`
	StartedAt time.Time `json:"startedAt"`
}

// RegisterProcess tells the platform which OS process now serves projectID.
// Errors are logged and swallowed; the call is never retried.
func (c *Client) RegisterProcess(ctx context.Context, projectID string, pid int, command string, startedAt time.Time) {
	body, err := json.Marshal(registerRequest{
		ProjectID: projectID,
		PID:       pid,
		Command:   command,
		RunnerID:  c.runnerID,
		StartedAt: startedAt.UTC(),
	})
	if err != nil {
		c.logger.Warn("registry register encode failed", "project", projectID, "error", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/runner/process/register", bytes.NewReader(body))
	if err != nil {
		c.logger.Warn("registry register request failed", "project", projectID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	c.do(req, "register", projectID)
}

// UnregisterProcess removes the project's process record from the platform.
// Best-effort like RegisterProcess.
func (c *Client) UnregisterProcess(ctx context.Context, projectID string) {
	u := c.baseURL + "/api/runner/process/" + url.PathEscape(projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		c.logger.Warn("registry unregister request failed", "project", projectID, "error", err)
		return
	}
	c.authorize(req)
	c.do(req, "unregister", projectID)
}

func (c *Client) authorize(req *http.Request) {
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}
}

func (c *Client) do(req *http.Request, op, projectID string) {
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("registry call failed", "op", op, "project", projectID, "error", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		c.logger.Warn("registry call rejected", "op", op, "project", projectID,
			"error", fmt.Sprintf("status %d", resp.StatusCode))
	}
}
