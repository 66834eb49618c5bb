package manager

import (
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/ptyvisor/internal/domain"
	"github.com/loykin/ptyvisor/internal/extract"
	"github.com/loykin/ptyvisor/internal/process"
)

// record is the registry's private view of one process.
//
// Lock order: emitMu before Supervisor.mu, emitMu before mu. Nothing holds mu
// or Supervisor.mu while taking emitMu.
type record struct {
	handle    Handle
	profile   domain.Profile
	workDir   string
	command   string
	startedAt time.Time
	observer  Observer
	done      chan struct{}

	// emitMu serializes everything this record sends to the emitter.
	emitMu sync.Mutex

	mu             sync.Mutex
	native         process.Native
	pid            int
	tracker        *extract.Tracker
	buf            strings.Builder
	flushScheduled bool
	graceTimer     *time.Timer
	transcript     io.WriteCloser

	exited   atomic.Bool
	stopping atomic.Bool
	forced   atomic.Bool
	// replaced records belong to a handle that now names a newer process.
	replaced atomic.Bool
}

func newRecord(h Handle, p domain.Profile, workDir, command string, obs Observer) *record {
	return &record{
		handle:    h,
		profile:   p,
		workDir:   workDir,
		command:   command,
		startedAt: time.Now(),
		observer:  obs,
		done:      make(chan struct{}),
		tracker:   extract.NewTracker(h.Domain),
	}
}

func (r *record) getPID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pid
}

func (r *record) getNative() process.Native {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.native
}

func (r *record) setGraceTimer(t *time.Timer) {
	r.mu.Lock()
	r.graceTimer = t
	r.mu.Unlock()
}

func (r *record) stopGraceTimer() {
	r.mu.Lock()
	if r.graceTimer != nil {
		r.graceTimer.Stop()
	}
	r.mu.Unlock()
}

func (r *record) info() Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	info := Info{
		Handle:     r.handle,
		PID:        r.pid,
		WorkDir:    r.workDir,
		Command:    r.command,
		StartedAt:  r.startedAt,
		Players:    r.tracker.Count(),
		MaxPlayers: r.tracker.Max(),
		Stopping:   r.stopping.Load(),
	}
	// Status only means something where readiness is tracked.
	if r.profile.TracksStatus {
		info.Status = r.tracker.Status()
	}
	return info
}
