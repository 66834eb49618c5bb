package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/ptyvisor/internal/history"
	"github.com/loykin/ptyvisor/internal/metrics"
)

// Config holds the engine's paths, commands and timing constants.
type Config struct {
	CredentialsPath string `mapstructure:"credentials_path"`
	Provider        string `mapstructure:"provider"`
	Endpoint        string `mapstructure:"endpoint"`
	CLICommand      string `mapstructure:"cli_command"`
	QueryCommand    string `mapstructure:"query_command"`
	AuxKey          string `mapstructure:"aux_key"`

	APITimeout time.Duration `mapstructure:"-"`
	AppSettle  time.Duration `mapstructure:"-"`
	DataSettle time.Duration `mapstructure:"-"`
	KeyStagger time.Duration `mapstructure:"-"`
	Deadline   time.Duration `mapstructure:"-"`
}

func DefaultConfig() Config {
	return Config{
		CredentialsPath: "~/.claude/.credentials.json",
		Provider:        "claudeAi",
		Endpoint:        "https://api.anthropic.com/api/oauth/usage",
		CLICommand:      "claude",
		QueryCommand:    "/usage",
		AuxKey:          "\t",
		APITimeout:      10 * time.Second,
		AppSettle:       1500 * time.Millisecond,
		DataSettle:      2 * time.Second,
		KeyStagger:      300 * time.Millisecond,
		Deadline:        25 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Provider == "" {
		c.Provider = d.Provider
	}
	if c.CLICommand == "" {
		c.CLICommand = d.CLICommand
	}
	if c.QueryCommand == "" {
		c.QueryCommand = d.QueryCommand
	}
	if c.APITimeout <= 0 {
		c.APITimeout = d.APITimeout
	}
	if c.AppSettle <= 0 {
		c.AppSettle = d.AppSettle
	}
	if c.DataSettle <= 0 {
		c.DataSettle = d.DataSettle
	}
	if c.KeyStagger <= 0 {
		c.KeyStagger = d.KeyStagger
	}
	if c.Deadline <= 0 {
		c.Deadline = d.Deadline
	}
	return c
}

// Observer receives the driven process's output. *session implements it.
type Observer interface {
	Output(chunk string)
	Exited(code int)
}

// Launcher starts the bare interactive shell an automation session drives.
type Launcher interface {
	Launch(obs Observer) (Terminal, error)
}

// Options wires optional collaborators.
type Options struct {
	Launcher   Launcher
	HTTPClient *http.Client
	History    *history.Dispatcher
	Logger     *slog.Logger
}

// Engine fetches usage metrics, preferring the direct API and falling back to
// scripting the CLI. At most one fetch runs at a time.
type Engine struct {
	cfg      Config
	launcher Launcher
	client   *http.Client
	history  *history.Dispatcher
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	snap Snapshot
}

func NewEngine(cfg Config, opts Options) *Engine {
	cfg = cfg.withDefaults()
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	return &Engine{
		cfg:      cfg,
		launcher: opts.Launcher,
		client:   opts.HTTPClient,
		history:  opts.History,
		logger:   opts.Logger,
		now:      time.Now,
	}
}

// Cached returns the current snapshot.
func (e *Engine) Cached() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap
}

// FetchUsage returns fresh metrics. While another fetch is in flight it
// returns the cached value, possibly nil, without error. Direct API failures
// are never returned; an automation run that finds nothing yields a
// *FetchError and leaves the cache as it was.
//
// ctx bounds the direct API request and how long the caller waits. An
// automation session, once started, settles only on its own deadline or when
// the driven process exits; a caller that gives up early gets ctx's error
// while the session still refreshes the cache.
func (e *Engine) FetchUsage(ctx context.Context) (*Metrics, error) {
	e.mu.Lock()
	if e.snap.InFlight {
		data := e.snap.Data
		e.mu.Unlock()
		e.logger.Debug("usage fetch already in flight, returning cache")
		return data, nil
	}
	e.snap.InFlight = true
	e.mu.Unlock()

	done := make(chan fetchResult, 1)
	go func() {
		m, err := e.fetch(ctx)
		e.mu.Lock()
		e.snap.InFlight = false
		e.mu.Unlock()
		done <- fetchResult{metrics: m, err: err}
	}()

	select {
	case r := <-done:
		return r.metrics, r.err
	case <-ctx.Done():
		e.logger.Debug("usage fetch caller left, session continues", "error", ctx.Err())
		return nil, fmt.Errorf("usage fetch: %w", ctx.Err())
	}
}

type fetchResult struct {
	metrics *Metrics
	err     error
}

func (e *Engine) fetch(ctx context.Context) (*Metrics, error) {
	start := time.Now()
	m, err := e.viaAPI(ctx)
	if err == nil {
		metrics.ObserveUsageFetch(string(SourceAPI), "ok", time.Since(start).Seconds())
		e.store(m, "")
		return m, nil
	}
	result := "error"
	if errors.Is(err, ErrNoCredential) || errors.Is(err, ErrCredentialExpired) {
		result = "skipped"
	}
	metrics.ObserveUsageFetch(string(SourceAPI), result, time.Since(start).Seconds())
	e.logger.Debug("usage api path unavailable, falling back to automation", "error", err)

	start = time.Now()
	id := uuid.NewString()
	m, err = e.viaAutomation(id)
	if err != nil {
		metrics.ObserveUsageFetch(string(SourceAutomation), "error", time.Since(start).Seconds())
		e.logger.Warn("usage automation failed", "session", id, "error", err)
		return nil, &FetchError{SessionID: id, Err: err}
	}
	metrics.ObserveUsageFetch(string(SourceAutomation), "ok", time.Since(start).Seconds())
	e.store(m, id)
	return m, nil
}

func (e *Engine) viaAPI(ctx context.Context) (*Metrics, error) {
	if e.cfg.CredentialsPath == "" || e.cfg.Endpoint == "" {
		return nil, ErrNoCredential
	}
	cred, err := ReadCredential(e.cfg.CredentialsPath, e.cfg.Provider)
	if err != nil {
		return nil, err
	}
	if cred.Expired(e.now()) {
		return nil, fmt.Errorf("%w at %s", ErrCredentialExpired, cred.ExpiresAt.Format(time.RFC3339))
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.APITimeout)
	defer cancel()
	return fetchAPI(ctx, e.client, e.cfg.Endpoint, cred.AccessToken)
}

func (e *Engine) viaAutomation(id string) (*Metrics, error) {
	if e.launcher == nil {
		return nil, ErrNoLauncher
	}
	s := newSession(id, e.cfg, e.logger)
	term, err := e.launcher.Launch(s)
	if err != nil {
		s.finalize()
		<-s.done
		return nil, fmt.Errorf("launch automation shell: %w", err)
	}
	s.attach(term)
	e.logger.Debug("automation session started", "session", id)

	r := <-s.done
	e.logger.Debug("automation session settled", "session", id, "phase", r.phase, "found", r.metrics != nil)
	if r.metrics == nil {
		return nil, fmt.Errorf("%w (reached %s)", ErrNoMetrics, r.phase)
	}
	return r.metrics, nil
}

func (e *Engine) store(m *Metrics, sessionID string) {
	m.FetchedAt = e.now()
	e.mu.Lock()
	e.snap.Data = m
	e.snap.LastFetchTime = m.FetchedAt
	e.mu.Unlock()

	for name, v := range map[string]*float64{"session": m.Session, "weekly": m.Weekly, "tier": m.Tier} {
		if v != nil {
			metrics.SetUsagePercent(name, *v)
		}
	}
	ev := history.NewEvent(history.EventUsage, "usage", sessionID)
	ev.Command = string(m.Source)
	ev.Detail = m.String()
	e.history.Record(ev)
	e.logger.Info("usage fetched", "source", m.Source, "metrics", m.String(), "session", sessionID)
}
