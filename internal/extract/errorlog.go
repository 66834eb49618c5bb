package extract

import (
	"sync"
	"time"
)

// MaxErrors bounds the per-handle error ring.
const MaxErrors = 10

// ErrorRecord is one detected error with the lines around it.
type ErrorRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Context   string    `json:"context"`
}

// ErrorLog keeps the most recent errors and a "last error" slot that only
// Dismiss clears. Safe for concurrent use.
type ErrorLog struct {
	mu      sync.Mutex
	ring    [MaxErrors]ErrorRecord
	seqs    [MaxErrors]uint64
	start   int
	size    int
	seq     uint64
	last    *ErrorRecord
	lastSeq uint64
}

// Add appends rec, evicting the oldest entry when full. The returned sequence
// number identifies the entry for AppendContext.
func (l *ErrorLog) Add(rec ErrorRecord) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	i := l.start
	if l.size < MaxErrors {
		i = (l.start + l.size) % MaxErrors
		l.size++
	} else {
		l.start = (l.start + 1) % MaxErrors
	}
	l.ring[i] = rec
	l.seqs[i] = l.seq
	r := rec
	l.last = &r
	l.lastSeq = l.seq
	return l.seq
}

// AppendContext adds a trailing line to the entry seq, wherever it is still
// held. Evicted or dismissed entries are left alone.
func (l *ErrorLog) AppendContext(seq uint64, line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for n := 0; n < l.size; n++ {
		i := (l.start + n) % MaxErrors
		if l.seqs[i] == seq {
			l.ring[i].Context += "\n" + line
			break
		}
	}
	if l.last != nil && l.lastSeq == seq {
		l.last.Context += "\n" + line
	}
}

// Recent returns the retained errors, oldest first.
func (l *ErrorLog) Recent() []ErrorRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ErrorRecord, 0, l.size)
	for i := 0; i < l.size; i++ {
		out = append(out, l.ring[(l.start+i)%MaxErrors])
	}
	return out
}

func (l *ErrorLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Last returns a copy of the most recent undismissed error, if any.
func (l *ErrorLog) Last() (ErrorRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil {
		return ErrorRecord{}, false
	}
	return *l.last, true
}

// Dismiss clears the last-error slot. The ring is left intact.
func (l *ErrorLog) Dismiss() {
	l.mu.Lock()
	l.last = nil
	l.mu.Unlock()
}
