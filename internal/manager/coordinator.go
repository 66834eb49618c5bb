package manager

import (
	"context"
	"time"

	"github.com/loykin/ptyvisor/internal/history"
	"github.com/loykin/ptyvisor/internal/metrics"
)

// Stop asks the process behind h to exit by writing its domain's stop
// command. If it is still alive when the grace window ends, its whole process
// tree is killed. Unknown handles are ignored.
func (s *Supervisor) Stop(h Handle) {
	rec := s.lookup(h)
	if rec == nil {
		return
	}
	s.stopRecord(rec, s.graceFor(rec.profile), "graceful")
}

// StopAll detaches every registered process and stops each with the uniform
// StopAll grace window. The registry is empty when it returns.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	recs := make([]*record, 0, len(s.procs))
	for h, r := range s.procs {
		recs = append(recs, r)
		delete(s.procs, h)
	}
	s.mu.Unlock()
	for _, r := range recs {
		s.stopRecord(r, s.opts.Timings.StopAllGrace, "stop_all")
	}
	if len(recs) > 0 {
		s.logger.Info("stopping all processes", "count", len(recs))
	}
}

// Shutdown runs StopAll and waits for every process, including detached
// ones, to exit. When ctx ends first the survivors are killed immediately.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.StopAll()

	s.mu.Lock()
	pending := make([]*record, 0, len(s.live))
	for r := range s.live {
		pending = append(pending, r)
	}
	s.mu.Unlock()

	for i, r := range pending {
		select {
		case <-r.done:
		case <-ctx.Done():
			for _, rest := range pending[i:] {
				s.forceKill(rest, "shutdown deadline")
			}
			return ctx.Err()
		}
	}
	return nil
}

// Wait blocks until the process behind h exits or ctx ends.
func (s *Supervisor) Wait(ctx context.Context, h Handle) error {
	rec := s.lookup(h)
	if rec == nil {
		return nil
	}
	select {
	case <-rec.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stopRecord is a no-op for a record that already exited or is stopping.
func (s *Supervisor) stopRecord(rec *record, grace time.Duration, mode string) {
	if rec.exited.Load() || !rec.stopping.CompareAndSwap(false, true) {
		return
	}
	h := rec.handle
	if n := rec.getNative(); n != nil {
		if _, err := n.Write([]byte(rec.profile.StopCommand)); err != nil {
			s.logger.Debug("stop command write failed", "handle", h.String(), "error", err)
		}
	}
	metrics.IncStop(string(h.Domain), mode)
	ev := history.NewEvent(history.EventStop, string(h.Domain), h.Key)
	ev.PID = rec.getPID()
	ev.Detail = mode
	s.opts.History.Record(ev)
	s.logger.Info("stopping process", "handle", h.String(), "mode", mode, "grace", grace)

	rec.setGraceTimer(time.AfterFunc(grace, func() {
		if !rec.exited.Load() {
			s.forceKill(rec, "grace expired")
		}
	}))
}

// forceKill tree-kills rec at most once.
func (s *Supervisor) forceKill(rec *record, reason string) {
	if rec.exited.Load() || !rec.forced.CompareAndSwap(false, true) {
		return
	}
	h := rec.handle
	pid := rec.getPID()
	if pid <= 0 {
		return
	}
	s.logger.Warn("force killing process tree", "handle", h.String(), "pid", pid, "reason", reason)
	if err := s.opts.KillTree(pid); err != nil {
		metrics.IncForceKillFailure(string(h.Domain))
		s.logger.Warn("force kill failed", "handle", h.String(), "pid", pid, "error", err)
	}
	ev := history.NewEvent(history.EventForceKill, string(h.Domain), h.Key)
	ev.PID = pid
	ev.Detail = reason
	s.opts.History.Record(ev)
}
