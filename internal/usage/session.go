package usage

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/loykin/ptyvisor/internal/extract"
)

// Phase is a step of the automation session. Phases only move forward.
type Phase string

const (
	PhaseWaitingPrompt   Phase = "waiting_prompt"
	PhaseWaitingAppReady Phase = "waiting_app_ready"
	PhaseWaitingData     Phase = "waiting_data"
	PhaseDone            Phase = "done"
)

const maxSessionText = 256 << 10

var (
	promptRe   = regexp.MustCompile(`[$#%>❯]\s*$`)
	appReadyRe = regexp.MustCompile(`(?i)(welcome to claude|\? for shortcuts|claude code v?\d)`)
	percentUse = regexp.MustCompile(`(?i)\d\s*%\s*used`)
	dataLabel  = regexp.MustCompile(`(?i)current\s+(session|week)`)
)

// Terminal is the driven process as seen by a session. Neither method may
// call back into the session synchronously.
type Terminal interface {
	Write(text string)
	Kill()
}

type result struct {
	metrics *Metrics
	text    string
	phase   Phase
}

// session drives one scripted CLI interaction. It is the Observer of the
// hidden process and settles exactly once.
type session struct {
	id     string
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	phase   Phase
	raw     strings.Builder
	mark    int
	armed   bool
	term    Terminal
	pending []string
	killed  bool
	timers  []*time.Timer

	settle sync.Once
	done   chan result
}

func newSession(id string, cfg Config, logger *slog.Logger) *session {
	s := &session{
		id:     id,
		cfg:    cfg,
		logger: logger.With("session", id),
		phase:  PhaseWaitingPrompt,
		done:   make(chan result, 1),
	}
	s.mu.Lock()
	s.after(cfg.Deadline, func() {
		s.logger.Debug("automation deadline reached", "phase", s.currentPhase())
		s.finalize()
	})
	s.mu.Unlock()
	return s
}

// attach binds the launched terminal. Writes issued before it are replayed;
// a session that already settled kills the terminal at once.
func (s *session) attach(t Terminal) {
	s.mu.Lock()
	s.term = t
	pending := s.pending
	s.pending = nil
	kill := s.phase == PhaseDone && !s.killed
	if kill {
		s.killed = true
	}
	s.mu.Unlock()
	if kill {
		t.Kill()
		return
	}
	for _, p := range pending {
		t.Write(p)
	}
}

func (s *session) Output(chunk string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseDone {
		return
	}
	if s.raw.Len() < maxSessionText {
		s.raw.WriteString(chunk)
	}
	text := extract.Strip(s.raw.String())
	tail := ""
	if s.mark <= len(text) {
		tail = text[s.mark:]
	}

	switch s.phase {
	case PhaseWaitingPrompt:
		if promptRe.MatchString(text) {
			s.logger.Debug("shell prompt detected")
			s.phase = PhaseWaitingAppReady
			s.mark = len(text)
			s.writeLocked(s.cfg.CLICommand + "\r")
		}
	case PhaseWaitingAppReady:
		if !s.armed && appReadyRe.MatchString(tail) {
			s.logger.Debug("cli ready, sending query")
			s.armed = true
			s.after(s.cfg.AppSettle, s.sendQuery)
		}
	case PhaseWaitingData:
		if s.armed {
			return
		}
		if percentUse.MatchString(tail) || (dataLabel.MatchString(tail) && strings.Contains(tail, "%")) {
			s.logger.Debug("usage data detected")
			s.armed = true
			s.after(s.cfg.DataSettle, s.finalize)
		}
	}
}

// Exited settles the session from whatever output accumulated.
func (s *session) Exited(code int) {
	s.logger.Debug("automation process exited", "code", code, "phase", s.currentPhase())
	s.finalize()
}

// sendQuery writes the query, then the auxiliary key and the terminator on a
// stagger; the CLI drops keys that arrive together.
func (s *session) sendQuery() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseWaitingAppReady {
		return
	}
	s.phase = PhaseWaitingData
	s.armed = false
	s.mark = len(extract.Strip(s.raw.String()))
	s.writeLocked(s.cfg.QueryCommand)
	step := s.cfg.KeyStagger
	if s.cfg.AuxKey != "" {
		s.after(step, func() { s.writeIfLive(s.cfg.AuxKey) })
		step += s.cfg.KeyStagger
	}
	s.after(step, func() { s.writeIfLive("\r") })
}

func (s *session) writeIfLive(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseDone {
		s.writeLocked(text)
	}
}

func (s *session) writeLocked(text string) {
	if s.term == nil {
		s.pending = append(s.pending, text)
		return
	}
	s.term.Write(text)
}

// after schedules fn; the caller holds mu.
func (s *session) after(d time.Duration, fn func()) {
	s.timers = append(s.timers, time.AfterFunc(d, fn))
}

func (s *session) currentPhase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// finalize runs at most once: it stops timers, kills the process and parses.
func (s *session) finalize() {
	s.settle.Do(func() {
		s.mu.Lock()
		reached := s.phase
		s.phase = PhaseDone
		for _, t := range s.timers {
			t.Stop()
		}
		s.timers = nil
		raw := s.raw.String()
		term := s.term
		kill := term != nil && !s.killed
		if kill {
			s.killed = true
		}
		s.mu.Unlock()

		if kill {
			term.Kill()
		}
		m, ok := Parse(raw)
		if !ok {
			m = nil
		}
		s.done <- result{metrics: m, text: extract.Strip(raw), phase: reached}
	})
}
