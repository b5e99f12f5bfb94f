package daemon

import (
	"sync"
	"time"

	"github.com/1broseidon/vidwall/internal/ipc"
	"github.com/1broseidon/vidwall/internal/scheduler"
)

const (
	eventRingSize   = 256
	subscriberQueue = 16
)

// Bus keeps the latest status of every output and fans status changes out
// as events. Publishing never blocks: a subscriber whose queue is full
// misses the event.
type Bus struct {
	mu       sync.Mutex
	nextID   uint64
	ring     []ipc.Event
	latest   map[string]scheduler.Status
	subs     map[chan ipc.Event]struct{}
	dropped  uint64
	fallback string
	now      func() time.Time
}

// NewBus returns an empty bus. fallback, when set, is attached to every
// event as the backend diagnostic.
func NewBus(fallback string) *Bus {
	return &Bus{
		latest:   make(map[string]scheduler.Status),
		subs:     make(map[chan ipc.Event]struct{}),
		fallback: fallback,
		now:      time.Now,
	}
}

// Publish records st as the output's latest status and emits an event.
func (b *Bus) Publish(st scheduler.Status) ipc.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest[st.Output] = st
	return b.emitLocked(st.Output, st.State.String(), st.Reason, st.Skips)
}

// Note emits an event that carries no scheduler status, such as an output
// that resolved to no configuration.
func (b *Bus) Note(output, state, reason string) ipc.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.emitLocked(output, state, reason, 0)
}

// Forget drops the stored status of a removed output.
func (b *Bus) Forget(output string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.latest, output)
}

// Latest returns the last published status of output.
func (b *Bus) Latest(output string) (scheduler.Status, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.latest[output]
	return st, ok
}

func (b *Bus) emitLocked(output, state, reason string, skips uint64) ipc.Event {
	b.nextID++
	ev := ipc.Event{
		ID:       b.nextID,
		Time:     b.now(),
		Output:   output,
		State:    state,
		Reason:   reason,
		Skips:    skips,
		Fallback: b.fallback,
	}
	if len(b.ring) == eventRingSize {
		copy(b.ring, b.ring[1:])
		b.ring = b.ring[:eventRingSize-1]
	}
	b.ring = append(b.ring, ev)

	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped++
		}
	}
	return ev
}

// Subscribe returns a channel of future events and a function that
// unsubscribes and closes it.
func (b *Bus) Subscribe() (<-chan ipc.Event, func()) {
	ch := make(chan ipc.Event, subscriberQueue)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Since returns the buffered events with an ID greater than id, oldest
// first.
func (b *Bus) Since(id uint64) []ipc.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ipc.Event, 0, len(b.ring))
	for _, ev := range b.ring {
		if ev.ID > id {
			out = append(out, ev)
		}
	}
	return out
}

// Dropped counts events slow subscribers missed.
func (b *Bus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
