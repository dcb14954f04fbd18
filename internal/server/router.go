package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/appforge/runnerd/internal/metrics"
	"github.com/appforge/runnerd/internal/netutil"
	"github.com/appforge/runnerd/internal/store"
	"github.com/appforge/runnerd/internal/supervisor"
)

// Router provides embeddable HTTP handlers for managing dev servers.
// Endpoints:
//   POST {basePath}/start         body: StartOptions JSON
//   POST {basePath}/stop          query: project=...&timeout=5s&force=1&port=N
//   POST {basePath}/health-check  query: project=...&port=N
//   GET  {basePath}/status        query: project=... (single), empty (live),
//                                 or all=1 (live plus last known rows from
//                                 previous daemon runs)
//   GET  {basePath}/metrics       prometheus exposition
// basePath may be empty or start with '/'; no trailing slash.

type Router struct {
	sup             *supervisor.Supervisor
	basePath        string
	basePort        int
	maxPortAttempts int
	maxPortWait     time.Duration
	tunnel          supervisor.TunnelCloser
	st              store.Store
}

type Options struct {
	BasePath        string
	BasePort        int
	MaxPortAttempts int
	// MaxPortWait bounds how long a start waits for a previously used port to
	// free up before giving up.
	MaxPortWait time.Duration
	// Tunnel, when set, is closed for a project's port during stop.
	Tunnel supervisor.TunnelCloser
	// Store, when set, backs the ?all=1 status read-back.
	Store store.Store
}

// NewRouter constructs a Router over a supervisor.
func NewRouter(sup *supervisor.Supervisor, opts Options) *Router {
	if opts.BasePort <= 0 {
		opts.BasePort = 3001
	}
	if opts.MaxPortAttempts <= 0 {
		opts.MaxPortAttempts = netutil.DefaultMaxPortAttempts
	}
	if opts.MaxPortWait <= 0 {
		opts.MaxPortWait = supervisor.DefaultMaxPortWait
	}
	return &Router{
		sup:             sup,
		basePath:        sanitizeBase(opts.BasePath),
		basePort:        opts.BasePort,
		maxPortAttempts: opts.MaxPortAttempts,
		maxPortWait:     opts.MaxPortWait,
		tunnel:          opts.Tunnel,
		st:              opts.Store,
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.POST("/health-check", r.handleHealthCheck)
	group.GET("/status", r.handleStatus)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, sup *supervisor.Supervisor, opts Options) (*http.Server, error) {
	r := NewRouter(sup, opts)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type stopResp struct {
	OK      bool `json:"ok"`
	Stopped bool `json:"stopped"`
}

// statusAllResp is the ?all=1 payload: live records plus rows the store kept
// from earlier daemon runs for projects no longer in the registry.
type statusAllResp struct {
	Live      []supervisor.Status `json:"live"`
	Persisted []persistedStatus   `json:"persisted,omitempty"`
}

type persistedStatus struct {
	ProjectID     string     `json:"project_id"`
	State         string     `json:"state"`
	PID           int        `json:"pid,omitempty"`
	Port          int        `json:"port,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	StartedAt     time.Time  `json:"started_at,omitempty"`
	StoppedAt     *time.Time `json:"stopped_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func persistedFromRow(row store.Record) persistedStatus {
	p := persistedStatus{
		ProjectID:     row.ProjectID,
		State:         row.State,
		PID:           row.PID,
		Port:          row.Port,
		FailureReason: row.FailureReason,
		StartedAt:     row.StartedAt,
		UpdatedAt:     row.UpdatedAt,
	}
	if row.StoppedAt.Valid {
		t := row.StoppedAt.Time
		p.StoppedAt = &t
	}
	return p
}

func (r *Router) handleStart(c *gin.Context) {
	var opts supervisor.StartOptions
	if err := c.ShouldBindJSON(&opts); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if opts.ProjectID == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "project_id required"})
		return
	}
	if !isSafeName(opts.ProjectID) {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid project_id: allowed [A-Za-z0-9._-] and no '..' or path separators"})
		return
	}
	if opts.Command == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "command required"})
		return
	}
	if !isSafeAbsPath(opts.WorkDir) {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid work_dir: must be absolute path without traversal"})
		return
	}
	if opts.Port == 0 {
		port, err := netutil.FindAvailablePort(r.basePort, r.maxPortAttempts)
		if err != nil {
			c.JSON(http.StatusConflict, errorResp{Error: err.Error()})
			return
		}
		opts.Port = port
	}
	rec, err := r.sup.StartAsync(c.Request.Context(), opts, r.maxPortWait)
	if err != nil {
		code := http.StatusBadRequest
		if supervisor.IsPortWaitTimeout(err) {
			code = http.StatusConflict
		}
		c.JSON(code, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec.Snapshot())
}

func (r *Router) handleStop(c *gin.Context) {
	project := c.Query("project")
	if project == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "project query param required"})
		return
	}
	opts := supervisor.StopOptions{
		Reason: c.DefaultQuery("reason", "api"),
		Tunnel: r.tunnel,
	}
	if s := c.Query("timeout"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			opts.Timeout = d
		}
	}
	if s := c.Query("port"); s != "" {
		if p, err := strconv.Atoi(s); err == nil {
			opts.Port = p
		}
	}
	if s := c.Query("force"); s == "1" || s == "true" {
		opts.ForceKillPort = true
	}
	stopped := r.sup.Stop(c.Request.Context(), project, opts)
	c.JSON(http.StatusOK, stopResp{OK: true, Stopped: stopped})
}

func (r *Router) handleHealthCheck(c *gin.Context) {
	project := c.Query("project")
	if project == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "project query param required"})
		return
	}
	port, err := strconv.Atoi(c.Query("port"))
	if err != nil || port < 1 || port > 65535 {
		c.JSON(http.StatusBadRequest, errorResp{Error: "port query param required"})
		return
	}
	c.JSON(http.StatusOK, r.sup.RunHealthCheck(c.Request.Context(), project, port))
}

func (r *Router) handleStatus(c *gin.Context) {
	project := c.Query("project")
	if project != "" {
		rec, ok := r.sup.Get(project)
		if !ok {
			c.JSON(http.StatusNotFound, errorResp{Error: "no active process for project " + project})
			return
		}
		c.JSON(http.StatusOK, rec.Snapshot())
		return
	}
	live := r.sup.Statuses()
	if all := c.Query("all"); all != "1" && all != "true" {
		c.JSON(http.StatusOK, live)
		return
	}
	resp := statusAllResp{Live: live}
	if r.st != nil {
		rows, err := r.st.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, errorResp{Error: "state store read: " + err.Error()})
			return
		}
		active := make(map[string]bool, len(live))
		for _, st := range live {
			active[st.ProjectID] = true
		}
		for _, row := range rows {
			// live snapshot supersedes whatever the store has for it
			if active[row.ProjectID] {
				continue
			}
			resp.Persisted = append(resp.Persisted, persistedFromRow(row))
		}
	}
	c.JSON(http.StatusOK, resp)
}
