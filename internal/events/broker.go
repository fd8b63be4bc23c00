package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cmdgate/cmdgate/pkg/types"
)

// Command lifecycle events emitted by the exec path.
const (
	EventCommandStart   = "command_start"
	EventCommandEnd     = "command_end"
	EventCommandTimeout = "command_timeout"
	EventCommandDenied  = "command_denied"
)

// Broker fans audit events out to live subscribers. Publishing never
// blocks: a subscriber that cannot keep up loses events, which are
// counted and logged at a sampled rate.
type Broker struct {
	mu      sync.RWMutex
	subs    map[chan types.Event]struct{}
	dropped atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[chan types.Event]struct{})}
}

// Subscribe registers a new subscriber channel with the given buffer.
func (b *Broker) Subscribe(buf int) chan types.Event {
	if buf <= 0 {
		buf = 100
	}
	ch := make(chan types.Event, buf)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Broker) Unsubscribe(ch chan types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

func (b *Broker) Publish(ev types.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			count := b.dropped.Add(1)
			if count == 1 || count%100 == 0 {
				slog.Warn("events: dropped event on slow subscriber",
					"type", ev.Type, "total_dropped", count)
			}
		}
	}
}

// DroppedCount returns the total number of events dropped due to slow subscribers.
func (b *Broker) DroppedCount() int64 {
	return b.dropped.Load()
}
