// Package power reports whether the machine runs on battery.
package power

import (
	"context"
	"log/slog"
	"sync"

	"github.com/1broseidon/vidwall/internal/logging"
)

// Monitor reports the battery state and its changes.
type Monitor interface {
	OnBattery() bool
	// Subscribe returns a channel that receives the new state on every
	// change. Slow readers only see the latest value.
	Subscribe() <-chan bool
	Close() error
}

// Open returns a UPower monitor, or a sysfs poller when the system bus or
// UPower is unavailable.
func Open(ctx context.Context, logger *slog.Logger) Monitor {
	logger = logging.OrDiscard(logger)
	m, err := NewUPower(ctx, logger)
	if err == nil {
		return m
	}
	logger.Info("upower unavailable, polling sysfs", "error", err)
	return NewSysfs(ctx, SysfsConfig{Logger: logger})
}

// broadcaster holds the current state and fans changes out to subscribers.
type broadcaster struct {
	mu     sync.Mutex
	state  bool
	subs   []chan bool
	closed bool
}

func (b *broadcaster) OnBattery() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *broadcaster) Subscribe() <-chan bool {
	ch := make(chan bool, 1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// set stores v and notifies subscribers when it differs from the current
// state. It reports whether the state changed.
func (b *broadcaster) set(v bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || v == b.state {
		return false
	}
	b.state = v
	for _, ch := range b.subs {
		// Replace a stale unread value with the newest one.
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
	return true
}

func (b *broadcaster) closeSubs() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

// Static is a monitor whose state is set by hand.
type Static struct {
	broadcaster
}

// NewStatic returns a monitor reporting onBattery until Set is called.
func NewStatic(onBattery bool) *Static {
	s := &Static{}
	s.state = onBattery
	return s
}

// Set changes the reported state.
func (s *Static) Set(onBattery bool) { s.set(onBattery) }

func (s *Static) Close() error {
	s.closeSubs()
	return nil
}
