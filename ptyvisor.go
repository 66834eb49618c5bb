package ptyvisor

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/ptyvisor/internal/config"
	"github.com/loykin/ptyvisor/internal/domain"
	"github.com/loykin/ptyvisor/internal/env"
	"github.com/loykin/ptyvisor/internal/history"
	"github.com/loykin/ptyvisor/internal/manager"
	"github.com/loykin/ptyvisor/internal/metrics"
	"github.com/loykin/ptyvisor/internal/process"
	iapi "github.com/loykin/ptyvisor/internal/server"
	"github.com/loykin/ptyvisor/internal/usage"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Domain = domain.Domain

const (
	Terminal   = domain.Terminal
	Minecraft  = domain.Minecraft
	FiveM      = domain.FiveM
	Automation = domain.Automation
)

type Handle = manager.Handle

type SpawnConfig = manager.SpawnConfig

type SpawnError = manager.SpawnError

type Event = manager.Event

type EventKind = manager.EventKind

const (
	EventData   = manager.EventData
	EventExit   = manager.EventExit
	EventStatus = manager.EventStatus
	EventCount  = manager.EventCount
	EventError  = manager.EventError
)

type Info = manager.Info

type ErrorReport = manager.ErrorReport

type Metrics = usage.Metrics

type UsageSnapshot = usage.Snapshot

type FetchError = usage.FetchError

type Config = cfg.Config

// Options wires a Core. Every field is optional.
type Options struct {
	// Config defaults to config.Default().
	Config *Config
	Logger *slog.Logger
	// History receives lifecycle events. The caller owns and closes it.
	History *history.Dispatcher
	// Spawner and KillTree replace the native PTY layer, mostly for tests.
	Spawner  process.Spawner
	KillTree func(pid int) error
	// SubscriberBuffer is the per-subscriber event channel capacity.
	SubscriberBuffer int
}

// Core is the process-wide context object: it owns the supervisor, the event
// broadcaster and the usage engine together with its cache. Create one per
// embedding; nothing here is global.
type Core struct {
	cfg    Config
	logger *slog.Logger
	events *manager.Broadcaster
	sup    *manager.Supervisor
	usage  *usage.Engine
}

func New(opts Options) (*Core, error) {
	c := cfg.Default()
	if opts.Config != nil {
		c = *opts.Config
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	vars, err := c.GlobalEnv()
	if err != nil {
		return nil, err
	}
	e := env.New()
	if !c.UseOSEnv {
		e = env.Isolated()
	}
	for _, kv := range vars {
		if k, v, ok := strings.Cut(kv, "="); ok {
			e.Set(k, v)
		}
	}

	var transcripts func(manager.Handle) io.WriteCloser
	if c.Log.File.TranscriptDir != "" {
		files := c.Log.File
		transcripts = func(h manager.Handle) io.WriteCloser {
			return files.TranscriptWriter(string(h.Domain) + "-" + h.Key)
		}
	}

	events := manager.NewBroadcaster(opts.SubscriberBuffer, logger)
	sup := manager.NewSupervisor(manager.Options{
		Spawner:     opts.Spawner,
		KillTree:    opts.KillTree,
		Emitter:     events,
		Env:         e,
		History:     opts.History,
		Logger:      logger.With("component", "supervisor"),
		Timings:     c.ManagerTimings(),
		Transcripts: transcripts,
	})
	eng := usage.NewEngine(c.UsageEngine(), usage.Options{
		Launcher: usage.SupervisorLauncher{Supervisor: sup, WorkDir: c.Usage.WorkDir},
		History:  opts.History,
		Logger:   logger.With("component", "usage"),
	})
	return &Core{cfg: c, logger: logger, events: events, sup: sup, usage: eng}, nil
}

// Start spawns cfg under (d, key), replacing whatever runs there. ctx only
// gates the call; the process outlives it.
func (c *Core) Start(ctx context.Context, d Domain, key string, sc SpawnConfig) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{Domain: d, Key: key}, err
	}
	return c.sup.Spawn(d, key, sc)
}

func (c *Core) Write(h Handle, text string)              { c.sup.Write(h, text) }
func (c *Core) Resize(h Handle, cols, rows uint16)       { c.sup.Resize(h, cols, rows) }
func (c *Core) Stop(h Handle)                            { c.sup.Stop(h) }
func (c *Core) Kill(h Handle)                            { c.sup.Kill(h) }
func (c *Core) StopAll()                                 { c.sup.StopAll() }
func (c *Core) List() []Info                             { return c.sup.List() }
func (c *Core) Get(h Handle) (Info, bool)                { return c.sup.Get(h) }
func (c *Core) Errors(h Handle) (ErrorReport, bool)      { return c.sup.Errors(h) }
func (c *Core) DismissError(h Handle)                    { c.sup.DismissError(h) }
func (c *Core) Subscribe() (<-chan Event, func())        { return c.events.Subscribe() }
func (c *Core) Wait(ctx context.Context, h Handle) error { return c.sup.Wait(ctx, h) }

// FetchUsage refreshes usage metrics. See usage.Engine.FetchUsage.
func (c *Core) FetchUsage(ctx context.Context) (*Metrics, error) { return c.usage.FetchUsage(ctx) }

func (c *Core) CachedUsage() UsageSnapshot { return c.usage.Cached() }

// Shutdown stops everything and waits for the processes to exit or ctx to end.
func (c *Core) Shutdown(ctx context.Context) error {
	c.logger.Info("shutting down", "processes", len(c.sup.List()))
	return c.sup.Shutdown(ctx)
}

// Targets lists live pids for resource sampling.
func (c *Core) Targets() []metrics.Target { return c.sup.Targets() }

// Config returns the effective configuration.
func (c *Core) Config() Config { return c.cfg }

// Router returns HTTP handlers for this core, mountable in any server.
func (c *Core) Router(basePath string) *iapi.Router {
	return iapi.NewRouter(c, basePath, c.logger.With("component", "http"))
}

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// NewHTTPServer starts an HTTP server exposing c on addr.
func NewHTTPServer(addr, basePath string, c *Core) *http.Server {
	return iapi.NewServer(addr, c.Router(basePath))
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics serves /metrics from the default registry on addr. It blocks
// until the server fails.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
