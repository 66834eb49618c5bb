package extract

import (
	"strconv"
	"strings"
	"time"

	"github.com/loykin/ptyvisor/internal/domain"
)

// Status is the coarse lifecycle of a game-server style process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
)

// Kind identifies an extracted event.
type Kind string

const (
	KindStatus Kind = "status"
	KindCount  Kind = "count"
	KindError  Kind = "error"
)

// Event is a semantic change detected in the output stream.
type Event struct {
	Kind   Kind         `json:"kind"`
	Status Status       `json:"status,omitempty"`
	Count  int          `json:"count"`
	Max    int          `json:"max,omitempty"`
	Error  *ErrorRecord `json:"error,omitempty"`
}

const (
	maxCarry      = 4096
	contextLines  = 5
	trailingLines = 2 // lines after an error added to its stored context
)

type trailing struct {
	seq  uint64
	left int
}

// Tracker applies a domain's rules to one process's output. It is not safe for
// concurrent use except through Errors(), which is independently locked.
type Tracker struct {
	rules  *RuleSet
	now    func() time.Time
	carry  string
	recent []string
	trail  []trailing

	status Status
	count  int
	max    int
	errors *ErrorLog
}

// NewTracker returns a tracker for d. Domains without rules still track
// status transitions driven by Started and Exited.
func NewTracker(d domain.Domain) *Tracker {
	return &Tracker{rules: RulesFor(d), now: time.Now, status: StatusStopped, errors: &ErrorLog{}}
}

// WithErrorLog makes the tracker record into l, which may outlive it.
func (t *Tracker) WithErrorLog(l *ErrorLog) *Tracker {
	if l != nil {
		t.errors = l
	}
	return t
}

// WithClock replaces the timestamp source; used by tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

func (t *Tracker) Status() Status    { return t.status }
func (t *Tracker) Count() int        { return t.count }
func (t *Tracker) Max() int          { return t.max }
func (t *Tracker) Errors() *ErrorLog { return t.errors }

// Started marks the process as launched.
func (t *Tracker) Started() []Event {
	return t.setStatus(StatusStarting, nil)
}

// Exited marks the process as gone. Any partial line is discarded.
func (t *Tracker) Exited() []Event {
	t.carry = ""
	evs := t.setStatus(StatusStopped, nil)
	return t.setCount(0, evs)
}

// Feed consumes a raw chunk and returns the events it produced, in line order.
func (t *Tracker) Feed(chunk string) []Event {
	if t.rules.empty() {
		return nil
	}
	text := t.carry + chunk
	t.carry = ""
	cut := strings.LastIndexAny(text, "\r\n")
	if cut < 0 {
		t.keepCarry(text)
		return nil
	}
	t.keepCarry(text[cut+1:])

	var evs []Event
	for _, line := range strings.Split(Strip(text[:cut+1]), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		evs = t.line(line, evs)
	}
	return evs
}

func (t *Tracker) keepCarry(s string) {
	if len(s) > maxCarry {
		s = s[len(s)-maxCarry:]
	}
	t.carry = s
}

func (t *Tracker) line(line string, evs []Event) []Event {
	r := t.rules
	t.extendTrail(line)
	if firstMatch(r.Ready, line) != nil {
		evs = t.setStatus(StatusRunning, evs)
	}
	if m := firstMatch(r.Count, line); m != nil {
		n, _ := strconv.Atoi(m[1])
		if len(m) > 2 && m[2] != "" {
			t.max, _ = strconv.Atoi(m[2])
		}
		evs = t.setCount(n, evs)
	} else if firstMatch(r.Join, line) != nil {
		evs = t.setCount(t.count+1, evs)
	} else if firstMatch(r.Leave, line) != nil {
		evs = t.setCount(t.count-1, evs)
	}
	if firstMatch(r.Errors, line) != nil {
		rec := ErrorRecord{
			Timestamp: t.now(),
			Message:   line,
			Context:   strings.Join(append(append([]string(nil), t.recent...), line), "\n"),
		}
		seq := t.errors.Add(rec)
		t.trail = append(t.trail, trailing{seq: seq, left: trailingLines})
		evs = append(evs, Event{Kind: KindError, Error: &rec})
	}
	t.recent = append(t.recent, line)
	if len(t.recent) > contextLines {
		t.recent = t.recent[len(t.recent)-contextLines:]
	}
	return evs
}

// extendTrail appends line to errors still collecting trailing context.
func (t *Tracker) extendTrail(line string) {
	kept := t.trail[:0]
	for _, tr := range t.trail {
		t.errors.AppendContext(tr.seq, line)
		if tr.left--; tr.left > 0 {
			kept = append(kept, tr)
		}
	}
	t.trail = kept
}

func (t *Tracker) setStatus(s Status, evs []Event) []Event {
	if t.status == s {
		return evs
	}
	t.status = s
	return append(evs, Event{Kind: KindStatus, Status: s, Count: t.count, Max: t.max})
}

// setCount clamps at zero and emits only on change.
func (t *Tracker) setCount(n int, evs []Event) []Event {
	if n < 0 {
		n = 0
	}
	if n == t.count {
		return evs
	}
	t.count = n
	return append(evs, Event{Kind: KindCount, Count: n, Max: t.max})
}
