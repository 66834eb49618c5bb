package manager

import (
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/ptyvisor/internal/extract"
	"github.com/loykin/ptyvisor/internal/metrics"
)

// EventKind identifies an outbound event.
type EventKind string

const (
	EventData   EventKind = "data"
	EventExit   EventKind = "exit"
	EventStatus EventKind = "status"
	EventCount  EventKind = "count"
	EventError  EventKind = "error"
)

// Event is one notification on a handle's stream.
type Event struct {
	Handle Handle               `json:"handle"`
	Kind   EventKind            `json:"kind"`
	Time   time.Time            `json:"time"`
	Data   string               `json:"data,omitempty"`
	Code   int                  `json:"code"`
	Status extract.Status       `json:"status,omitempty"`
	Count  int                  `json:"count"`
	Max    int                  `json:"max,omitempty"`
	Error  *extract.ErrorRecord `json:"error,omitempty"`
}

// Emitter receives events. Emit must not block.
type Emitter interface {
	Emit(ev Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(ev Event) { f(ev) }

// DefaultSubscriberBuffer is the per-subscriber channel capacity.
const DefaultSubscriberBuffer = 1024

// Broadcaster fans events out to subscribers. A subscriber that falls behind
// loses events rather than stalling the output path; delivered events keep
// their order.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[uint64]chan Event
	next   uint64
	buffer int
	logger *slog.Logger
}

func NewBroadcaster(buffer int, logger *slog.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{subs: make(map[uint64]chan Event), buffer: buffer, logger: logger}
}

func (b *Broadcaster) Emit(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			metrics.IncEventDropped()
			b.logger.Warn("subscriber lagging, event dropped", "subscriber", id, "handle", ev.Handle.String(), "kind", ev.Kind)
		}
	}
}

// Subscribe returns a channel of future events and a cancel func that closes it.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers reports the number of active subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
