package manager

import (
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/ptyvisor/internal/domain"
	"github.com/loykin/ptyvisor/internal/env"
	"github.com/loykin/ptyvisor/internal/extract"
	"github.com/loykin/ptyvisor/internal/history"
	"github.com/loykin/ptyvisor/internal/metrics"
	"github.com/loykin/ptyvisor/internal/process"
)

// Timings holds the supervisor's delays. Zero fields fall back to defaults.
type Timings struct {
	// BatchQuantum is how long output is coalesced before relaying.
	BatchQuantum time.Duration
	// Grace overrides a domain profile's grace window.
	Grace map[domain.Domain]time.Duration
	// StopAllGrace is the uniform window used by StopAll.
	StopAllGrace time.Duration
}

const (
	DefaultBatchQuantum = 16 * time.Millisecond
	DefaultStopAllGrace = 2 * time.Second
)

func (t Timings) withDefaults() Timings {
	if t.BatchQuantum <= 0 {
		t.BatchQuantum = DefaultBatchQuantum
	}
	if t.StopAllGrace <= 0 {
		t.StopAllGrace = DefaultStopAllGrace
	}
	return t
}

// Options wires the supervisor's collaborators. Only Emitter is needed for
// useful output; everything else has a default.
type Options struct {
	Spawner  process.Spawner
	KillTree func(pid int) error
	Emitter  Emitter
	Env      *env.Env
	History  *history.Dispatcher
	Logger   *slog.Logger
	Timings  Timings
	// Transcripts returns a writer for a handle's raw output, or nil.
	Transcripts func(h Handle) io.WriteCloser
}

// Supervisor owns the registry of PTY-backed processes. At most one live
// record exists per handle.
type Supervisor struct {
	opts   Options
	logger *slog.Logger

	// spawnMu serializes spawns so two requests for one handle cannot interleave.
	spawnMu sync.Mutex

	mu      sync.Mutex
	procs   map[Handle]*record
	live    map[*record]struct{}
	errLogs map[Handle]*extract.ErrorLog

	nextKey atomic.Uint64
}

func NewSupervisor(opts Options) *Supervisor {
	if opts.Spawner == nil {
		opts.Spawner = process.PTYSpawner{}
	}
	if opts.KillTree == nil {
		opts.KillTree = process.KillTree
	}
	if opts.Emitter == nil {
		opts.Emitter = EmitterFunc(func(Event) {})
	}
	if opts.Env == nil {
		opts.Env = env.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Timings = opts.Timings.withDefaults()
	return &Supervisor{
		opts:    opts,
		logger:  opts.Logger,
		procs:   make(map[Handle]*record),
		live:    make(map[*record]struct{}),
		errLogs: make(map[Handle]*extract.ErrorLog),
	}
}

// Spawn starts cfg under handle (d, key). An empty key gets the next
// monotonically increasing id not already in use. A process already
// registered under the handle is sent its graceful stop before the new one is
// started; it is detached only once the new one is registered.
func (s *Supervisor) Spawn(d domain.Domain, key string, cfg SpawnConfig) (Handle, error) {
	h := Handle{Domain: d, Key: key}
	prof, err := domain.Lookup(d)
	if err != nil {
		return h, &SpawnError{Handle: h, Command: cfg.Command, Err: err}
	}
	s.spawnMu.Lock()
	defer s.spawnMu.Unlock()
	if h.Key == "" {
		h.Key = s.freeKey(d)
	}

	workDir := process.ResolveWorkDir(cfg.WorkDir)
	path, args, err := prof.Resolve(cfg.Command, cfg.Args, workDir)
	if err != nil {
		metrics.IncSpawnFailure(string(d))
		return h, &SpawnError{Handle: h, Command: cfg.Command, Err: err}
	}

	s.mu.Lock()
	old := s.procs[h]
	var prior []*record
	for r := range s.live {
		if r.handle == h {
			prior = append(prior, r)
		}
	}
	if old != nil {
		delete(s.procs, h)
	}
	s.mu.Unlock()
	if old != nil {
		s.logger.Info("replacing process", "handle", h.String(), "pid", old.getPID())
		s.stopRecord(old, s.graceFor(old.profile), "replaced")
	}

	command := strings.TrimSpace(strings.Join(append([]string{path}, args...), " "))
	rec := newRecord(h, prof, workDir, command, cfg.Observer)
	if prof.TracksErrors {
		rec.tracker.WithErrorLog(s.errorLog(h))
	}
	if s.opts.Transcripts != nil && !prof.Hidden {
		rec.transcript = s.opts.Transcripts(h)
	}

	// Hold emitMu until registration so early output and exit queue behind it.
	rec.emitMu.Lock()
	defer rec.emitMu.Unlock()
	started := rec.tracker.Started()

	native, err := s.opts.Spawner.Spawn(process.SpawnOptions{
		Path:   path,
		Args:   args,
		Dir:    workDir,
		Env:    s.opts.Env.Merge(cfg.Env),
		Cols:   cfg.Cols,
		Rows:   cfg.Rows,
		OnData: func(b []byte) { s.onData(rec, b) },
		OnExit: func(code int) { s.onExit(rec, code) },
	})
	if err != nil {
		if rec.transcript != nil {
			_ = rec.transcript.Close()
		}
		if old != nil {
			// The old process keeps its handle, and its exit, until it is gone.
			s.mu.Lock()
			if _, alive := s.live[old]; alive && s.procs[h] == nil {
				s.procs[h] = old
			}
			s.mu.Unlock()
		}
		metrics.IncSpawnFailure(string(d))
		return h, &SpawnError{Handle: h, Command: command, Err: err}
	}
	pid := native.PID()
	rec.mu.Lock()
	rec.native = native
	rec.pid = pid
	rec.mu.Unlock()

	s.mu.Lock()
	// Earlier processes under h go quiet only once the replacement is live.
	for _, r := range prior {
		r.replaced.Store(true)
	}
	s.procs[h] = rec
	s.live[rec] = struct{}{}
	n := s.countLocked(d)
	s.mu.Unlock()

	metrics.IncSpawn(string(d))
	metrics.SetRunning(string(d), n)
	ev := history.NewEvent(history.EventSpawn, string(d), h.Key)
	ev.PID = pid
	ev.Command = command
	s.opts.History.Record(ev)
	s.logger.Info("process spawned", "handle", h.String(), "pid", pid, "cmd", command, "dir", workDir)

	for _, e := range started {
		s.emitExtracted(rec, e)
	}
	return h, nil
}

// freeKey returns the next numeric key not held by a live process in d.
// Caller holds spawnMu.
func (s *Supervisor) freeKey(d domain.Domain) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		key := strconv.FormatUint(s.nextKey.Add(1), 10)
		h := Handle{Domain: d, Key: key}
		if _, taken := s.procs[h]; taken {
			continue
		}
		busy := false
		for r := range s.live {
			if r.handle == h {
				busy = true
				break
			}
		}
		if !busy {
			return key
		}
	}
}

// Write forwards text to the process. Unknown handles are ignored.
func (s *Supervisor) Write(h Handle, text string) {
	rec := s.lookup(h)
	if rec == nil {
		return
	}
	if _, err := rec.getNative().Write([]byte(text)); err != nil {
		s.logger.Debug("write failed", "handle", h.String(), "error", err)
	}
}

// Resize changes the terminal geometry. Unknown handles are ignored.
func (s *Supervisor) Resize(h Handle, cols, rows uint16) {
	rec := s.lookup(h)
	if rec == nil || cols == 0 || rows == 0 {
		return
	}
	if err := rec.getNative().Resize(cols, rows); err != nil {
		s.logger.Debug("resize failed", "handle", h.String(), "error", err)
	}
}

// Kill removes the handle immediately and tree-kills the process without
// waiting for it to exit. The exit event still follows.
func (s *Supervisor) Kill(h Handle) {
	s.mu.Lock()
	rec := s.procs[h]
	if rec != nil {
		delete(s.procs, h)
	}
	s.mu.Unlock()
	if rec == nil {
		return
	}
	metrics.IncStop(string(h.Domain), "killed")
	go s.forceKill(rec, "kill requested")
}

// Has reports whether h is registered.
func (s *Supervisor) Has(h Handle) bool {
	return s.lookup(h) != nil
}

// Get returns a snapshot of h.
func (s *Supervisor) Get(h Handle) (Info, bool) {
	rec := s.lookup(h)
	if rec == nil {
		return Info{}, false
	}
	return rec.info(), true
}

// List returns every registered process, hidden domains excluded, ordered by
// domain then key.
func (s *Supervisor) List() []Info {
	s.mu.Lock()
	recs := make([]*record, 0, len(s.procs))
	for _, r := range s.procs {
		if !r.profile.Hidden {
			recs = append(recs, r)
		}
	}
	s.mu.Unlock()
	out := make([]Info, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.info())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Handle.Domain != out[j].Handle.Domain {
			return out[i].Handle.Domain < out[j].Handle.Domain
		}
		return lessKey(out[i].Handle.Key, out[j].Handle.Key)
	})
	return out
}

// Targets lists registered pids for resource sampling.
func (s *Supervisor) Targets() []metrics.Target {
	s.mu.Lock()
	recs := make([]*record, 0, len(s.procs))
	for _, r := range s.procs {
		recs = append(recs, r)
	}
	s.mu.Unlock()
	out := make([]metrics.Target, 0, len(recs))
	for _, r := range recs {
		out = append(out, metrics.Target{Domain: string(r.handle.Domain), Key: r.handle.Key, PID: int32(r.getPID())})
	}
	return out
}

// Errors returns the error state kept for h. It survives process exit.
func (s *Supervisor) Errors(h Handle) (ErrorReport, bool) {
	s.mu.Lock()
	l := s.errLogs[h]
	s.mu.Unlock()
	if l == nil {
		return ErrorReport{}, false
	}
	rep := ErrorReport{Recent: l.Recent()}
	if last, ok := l.Last(); ok {
		rep.Last = &last
	}
	return rep, true
}

// DismissError clears the last-error slot for h.
func (s *Supervisor) DismissError(h Handle) {
	s.mu.Lock()
	l := s.errLogs[h]
	s.mu.Unlock()
	if l != nil {
		l.Dismiss()
	}
}

func (s *Supervisor) lookup(h Handle) *record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[h]
}

func (s *Supervisor) errorLog(h Handle) *extract.ErrorLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.errLogs[h]
	if l == nil {
		l = &extract.ErrorLog{}
		s.errLogs[h] = l
	}
	return l
}

func (s *Supervisor) countLocked(d domain.Domain) int {
	n := 0
	for h := range s.procs {
		if h.Domain == d {
			n++
		}
	}
	return n
}

func (s *Supervisor) graceFor(p domain.Profile) time.Duration {
	if g, ok := s.opts.Timings.Grace[p.Domain]; ok && g > 0 {
		return g
	}
	return p.Grace
}

func (s *Supervisor) onData(rec *record, chunk []byte) {
	if rec.transcript != nil {
		_, _ = rec.transcript.Write(chunk)
	}
	text := string(chunk)
	if rec.observer != nil {
		rec.observer.Output(text)
	}
	if rec.profile.Hidden {
		return
	}

	rec.emitMu.Lock()
	defer rec.emitMu.Unlock()

	rec.mu.Lock()
	evs := rec.tracker.Feed(text)
	if rec.profile.Batched {
		rec.buf.WriteString(text)
		if !rec.flushScheduled {
			rec.flushScheduled = true
			time.AfterFunc(s.opts.Timings.BatchQuantum, func() { s.flush(rec) })
		}
	}
	rec.mu.Unlock()

	if !rec.profile.Batched {
		s.emit(rec, Event{Kind: EventData, Data: text})
	}
	for _, e := range evs {
		s.emitExtracted(rec, e)
	}
}

func (s *Supervisor) flush(rec *record) {
	rec.emitMu.Lock()
	defer rec.emitMu.Unlock()
	s.flushLocked(rec)
}

// flushLocked emits the pending batch. Caller holds emitMu.
func (s *Supervisor) flushLocked(rec *record) {
	rec.mu.Lock()
	data := rec.buf.String()
	rec.buf.Reset()
	rec.flushScheduled = false
	rec.mu.Unlock()
	if data == "" {
		return
	}
	metrics.IncFlush(string(rec.handle.Domain))
	s.emit(rec, Event{Kind: EventData, Data: data})
}

func (s *Supervisor) onExit(rec *record, code int) {
	rec.emitMu.Lock()
	rec.exited.Store(true)
	rec.stopGraceTimer()
	s.flushLocked(rec)

	s.mu.Lock()
	if s.procs[rec.handle] == rec {
		delete(s.procs, rec.handle)
	}
	delete(s.live, rec)
	n := s.countLocked(rec.handle.Domain)
	s.mu.Unlock()

	rec.mu.Lock()
	evs := rec.tracker.Exited()
	pid := rec.pid
	rec.mu.Unlock()
	for _, e := range evs {
		s.emitExtracted(rec, e)
	}
	s.emit(rec, Event{Kind: EventExit, Code: code})
	rec.emitMu.Unlock()

	close(rec.done)
	if rec.transcript != nil {
		_ = rec.transcript.Close()
	}
	d := string(rec.handle.Domain)
	metrics.IncExit(d)
	metrics.SetRunning(d, n)
	metrics.DeletePlayers(d, rec.handle.Key)
	ev := history.NewEvent(history.EventExit, d, rec.handle.Key)
	ev.PID = pid
	ev.ExitCode = code
	s.opts.History.Record(ev)
	s.logger.Info("process exited", "handle", rec.handle.String(), "pid", pid, "code", code)

	if rec.observer != nil {
		rec.observer.Exited(code)
	}
}

// emit stamps and forwards ev unless the record is hidden or replaced.
// Caller holds rec.emitMu.
func (s *Supervisor) emit(rec *record, ev Event) {
	if rec.profile.Hidden || rec.replaced.Load() {
		return
	}
	ev.Handle = rec.handle
	ev.Time = time.Now()
	metrics.IncEvent(string(ev.Kind))
	s.opts.Emitter.Emit(ev)
}

func (s *Supervisor) emitExtracted(rec *record, e extract.Event) {
	if e.Kind != extract.KindError && !rec.profile.TracksStatus {
		return
	}
	switch e.Kind {
	case extract.KindStatus:
		s.emit(rec, Event{Kind: EventStatus, Status: e.Status})
	case extract.KindCount:
		metrics.SetPlayers(string(rec.handle.Domain), rec.handle.Key, e.Count)
		s.emit(rec, Event{Kind: EventCount, Count: e.Count, Max: e.Max})
	case extract.KindError:
		hev := history.NewEvent(history.EventError, string(rec.handle.Domain), rec.handle.Key)
		hev.Detail = e.Error.Message
		s.opts.History.Record(hev)
		s.emit(rec, Event{Kind: EventError, Error: e.Error})
	}
}

// lessKey orders numeric keys numerically and everything else lexically.
func lessKey(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}
