// Package client provides a typed HTTP client for the runnerd daemon API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client communicates with a running runnerd daemon.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

// DefaultConfig returns the configuration matching the daemon's defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8240/api",
		Timeout: 30 * time.Second,
	}
}

// New creates a runnerd API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the daemon is running and answering.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Start spawns a dev server and returns its initial status.
func (c *Client) Start(ctx context.Context, req StartRequest) (ProcessStatus, error) {
	var st ProcessStatus
	body, err := json.Marshal(req)
	if err != nil {
		return st, fmt.Errorf("marshal request: %w", err)
	}
	err = c.doJSON(ctx, http.MethodPost, c.baseURL+"/start", body, &st)
	return st, err
}

// Stop tears down a project's dev server.
func (c *Client) Stop(ctx context.Context, req StopRequest) (StopResult, error) {
	q := url.Values{}
	q.Set("project", req.ProjectID)
	if req.Timeout > 0 {
		q.Set("timeout", req.Timeout.String())
	}
	if req.Reason != "" {
		q.Set("reason", req.Reason)
	}
	if req.Port > 0 {
		q.Set("port", strconv.Itoa(req.Port))
	}
	if req.Force {
		q.Set("force", "1")
	}
	var res StopResult
	err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/stop?"+q.Encode(), nil, &res)
	return res, err
}

// HealthCheck runs a health check cycle for a project's port.
func (c *Client) HealthCheck(ctx context.Context, projectID string, port int) (HealthResult, error) {
	q := url.Values{}
	q.Set("project", projectID)
	q.Set("port", strconv.Itoa(port))
	var res HealthResult
	err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/health-check?"+q.Encode(), nil, &res)
	return res, err
}

// Status returns one project's status.
func (c *Client) Status(ctx context.Context, projectID string) (ProcessStatus, error) {
	q := url.Values{}
	q.Set("project", projectID)
	var st ProcessStatus
	err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/status?"+q.Encode(), nil, &st)
	return st, err
}

// Statuses returns every active dev server.
func (c *Client) Statuses(ctx context.Context) ([]ProcessStatus, error) {
	var sts []ProcessStatus
	err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/status", nil, &sts)
	return sts, err
}

// StatusesAll returns live statuses plus the state store's rows from earlier
// daemon runs.
func (c *Client) StatusesAll(ctx context.Context) (StatusReport, error) {
	var rep StatusReport
	err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/status?all=1", nil, &rep)
	return rep, err
}

// doJSON performs a request and decodes the JSON response into out when the
// call succeeds, or into an ErrorResponse when it does not.
func (c *Client) doJSON(ctx context.Context, method, rawURL string, body []byte, out any) error {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "url", rawURL, "error", err)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if decErr := json.NewDecoder(resp.Body).Decode(&errResp); decErr != nil || errResp.Error == "" {
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("API error: %s", errResp.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
