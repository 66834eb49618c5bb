package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/ptyvisor/internal/domain"
	"github.com/loykin/ptyvisor/internal/extract"
	mng "github.com/loykin/ptyvisor/internal/manager"
	"github.com/loykin/ptyvisor/internal/metrics"
	"github.com/loykin/ptyvisor/internal/usage"
)

// Backend is what the router drives. The root Core implements it.
type Backend interface {
	Start(ctx context.Context, d domain.Domain, key string, cfg mng.SpawnConfig) (mng.Handle, error)
	Write(h mng.Handle, text string)
	Resize(h mng.Handle, cols, rows uint16)
	Stop(h mng.Handle)
	Kill(h mng.Handle)
	StopAll()
	List() []mng.Info
	Errors(h mng.Handle) (mng.ErrorReport, bool)
	DismissError(h mng.Handle)
	Subscribe() (<-chan mng.Event, func())
	FetchUsage(ctx context.Context) (*usage.Metrics, error)
	CachedUsage() usage.Snapshot
}

// Sampler supplies the latest resource sample for a handle.
type Sampler interface {
	Sample(domain, key string) (metrics.ResourceSample, bool)
}

// Router provides embeddable HTTP handlers for the supervisor.
// Endpoints, relative to basePath:
//
//	POST /processes                       start (body: startReq)
//	GET  /processes                       list
//	POST /processes/stop-all
//	POST /processes/:domain/:key/write    body: {"data": "..."}
//	POST /processes/:domain/:key/resize   body: {"cols": 120, "rows": 30}
//	POST /processes/:domain/:key/stop
//	POST /processes/:domain/:key/kill
//	GET  /processes/:domain/:key/errors
//	POST /processes/:domain/:key/errors/dismiss
//	GET  /events                          server-sent events; ?domain=&key= filter
//	POST /usage/fetch
//	GET  /usage
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	core     Backend
	sampler  Sampler
	basePath string
	logger   *slog.Logger
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(core Backend, basePath string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{core: core, basePath: sanitizeBase(basePath), logger: logger}
}

// WithSampler attaches resource samples to list responses.
func (r *Router) WithSampler(s Sampler) *Router {
	r.sampler = s
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	r.Register(g.Group(r.basePath))
	return g
}

// Register mounts the routes on an existing gin group.
func (r *Router) Register(group *gin.RouterGroup) {
	group.POST("/processes", r.handleStart)
	group.GET("/processes", r.handleList)
	group.POST("/processes/stop-all", r.handleStopAll)

	p := group.Group("/processes/:domain/:key")
	p.POST("/write", r.withHandle(r.handleWrite))
	p.POST("/resize", r.withHandle(r.handleResize))
	p.POST("/stop", r.withHandle(r.handleStop))
	p.POST("/kill", r.withHandle(r.handleKill))
	p.GET("/errors", r.withHandle(r.handleErrors))
	p.POST("/errors/dismiss", r.withHandle(r.handleDismiss))

	group.GET("/events", r.handleEvents)
	group.POST("/usage/fetch", r.handleFetchUsage)
	group.GET("/usage", r.handleCachedUsage)
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, r *Router) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No write timeout: /events streams for as long as the client stays.
		IdleTimeout: 60 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server stopped", "addr", addr, "error", err)
		}
	}()
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type startReq struct {
	Domain  string   `json:"domain"`
	Key     string   `json:"key"`
	Command string   `json:"command"`
	Args    []string `json:"args"`
	WorkDir string   `json:"work_dir"`
	Env     []string `json:"env"`
	Cols    uint16   `json:"cols"`
	Rows    uint16   `json:"rows"`
}

type startResp struct {
	Handle mng.Handle `json:"handle"`
}

type writeReq struct {
	Data string `json:"data"`
}

type resizeReq struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

type processView struct {
	mng.Info
	Resources *metrics.ResourceSample `json:"resources,omitempty"`
}

type inFlightResp struct {
	InFlight bool `json:"in_flight"`
}

func (r *Router) handleStart(c *gin.Context) {
	var req startReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	d, err := visibleDomain(req.Domain)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.Key != "" && !isSafeKey(req.Key) {
		writeError(c, http.StatusBadRequest, errBadKey.Error())
		return
	}
	if !isSafeWorkDir(req.WorkDir) {
		writeError(c, http.StatusBadRequest, "invalid work_dir: must be absolute path without traversal")
		return
	}
	h, err := r.core.Start(c.Request.Context(), d, req.Key, mng.SpawnConfig{
		Command: req.Command,
		Args:    req.Args,
		WorkDir: req.WorkDir,
		Env:     req.Env,
		Cols:    req.Cols,
		Rows:    req.Rows,
	})
	if err != nil {
		var se *mng.SpawnError
		if errors.As(err, &se) {
			writeError(c, http.StatusBadRequest, err.Error())
			return
		}
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(c, http.StatusCreated, startResp{Handle: h})
}

func (r *Router) handleList(c *gin.Context) {
	infos := r.core.List()
	out := make([]processView, 0, len(infos))
	for _, info := range infos {
		v := processView{Info: info}
		if r.sampler != nil {
			if s, ok := r.sampler.Sample(string(info.Handle.Domain), info.Handle.Key); ok {
				v.Resources = &s
			}
		}
		out = append(out, v)
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleStopAll(c *gin.Context) {
	r.core.StopAll()
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

// withHandle parses :domain/:key. Unknown handles are not an error; the
// supervisor ignores them.
func (r *Router) withHandle(fn func(c *gin.Context, h mng.Handle)) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := visibleDomain(c.Param("domain"))
		if err != nil {
			writeError(c, http.StatusBadRequest, err.Error())
			return
		}
		key := c.Param("key")
		if !isSafeKey(key) {
			writeError(c, http.StatusBadRequest, errBadKey.Error())
			return
		}
		fn(c, mng.Handle{Domain: d, Key: key})
	}
}

func (r *Router) handleWrite(c *gin.Context, h mng.Handle) {
	var req writeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	r.core.Write(h, req.Data)
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleResize(c *gin.Context, h mng.Handle) {
	var req resizeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Cols == 0 || req.Rows == 0 {
		writeError(c, http.StatusBadRequest, "cols and rows must be positive")
		return
	}
	r.core.Resize(h, req.Cols, req.Rows)
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context, h mng.Handle) {
	r.core.Stop(h)
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleKill(c *gin.Context, h mng.Handle) {
	r.core.Kill(h)
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleErrors(c *gin.Context, h mng.Handle) {
	rep, _ := r.core.Errors(h)
	if rep.Recent == nil {
		rep.Recent = []extract.ErrorRecord{}
	}
	writeJSON(c, http.StatusOK, rep)
}

func (r *Router) handleDismiss(c *gin.Context, h mng.Handle) {
	r.core.DismissError(h)
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

// handleEvents streams events as server-sent events until the client leaves.
func (r *Router) handleEvents(c *gin.Context) {
	var filter mng.Handle
	if ds := c.Query("domain"); ds != "" {
		d, err := domain.Parse(ds)
		if err != nil {
			writeError(c, http.StatusBadRequest, err.Error())
			return
		}
		filter.Domain = d
	}
	filter.Key = c.Query("key")

	events, cancel := r.core.Subscribe()
	defer cancel()
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	r.logger.Debug("event stream opened", "remote", c.ClientIP(), "domain", filter.Domain, "key", filter.Key)

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-events:
			if !ok {
				return false
			}
			if filter.Domain != "" && ev.Handle.Domain != filter.Domain {
				return true
			}
			if filter.Key != "" && ev.Handle.Key != filter.Key {
				return true
			}
			c.SSEvent(string(ev.Kind), ev)
			return true
		}
	})
}

func (r *Router) handleFetchUsage(c *gin.Context) {
	m, err := r.core.FetchUsage(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusBadGateway, err.Error())
		return
	}
	if m == nil {
		// Another fetch is running and nothing is cached yet.
		writeJSON(c, http.StatusAccepted, inFlightResp{InFlight: true})
		return
	}
	writeJSON(c, http.StatusOK, m)
}

func (r *Router) handleCachedUsage(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.core.CachedUsage())
}
