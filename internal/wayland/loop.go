// Package wayland runs a go-wayland client connection on one goroutine and
// lets the rest of the daemon hand it requests.
package wayland

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/rajveermalviya/go-wayland/wayland/client"
	"golang.org/x/sys/unix"

	"github.com/1broseidon/vidwall/internal/logging"
)

var ErrClosed = errors.New("wayland: connection closed")

// ProtocolError is a fatal wl_display.error sent by the compositor.
type ProtocolError struct {
	Code    uint32
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("wayland: protocol error (code %d): %s", e.Code, e.Message)
}

// SocketPath resolves the compositor socket from WAYLAND_DISPLAY and
// XDG_RUNTIME_DIR.
func SocketPath() (string, error) {
	name := os.Getenv("WAYLAND_DISPLAY")
	if name == "" {
		name = "wayland-0"
	}
	if filepath.IsAbs(name) {
		return name, nil
	}
	runDir := os.Getenv("XDG_RUNTIME_DIR")
	if runDir == "" {
		return "", errors.New("XDG_RUNTIME_DIR not set")
	}
	return filepath.Join(runDir, name), nil
}

type call struct {
	fn  func() error
	res chan error
}

// Loop owns a client connection. The go-wayland context is not safe for
// concurrent use, so every request and every event handler runs on the
// goroutine executing Run. Other goroutines submit work with Do.
//
// Until Run starts, the connecting goroutine may use Display and Context
// directly to install its registry handlers.
type Loop struct {
	display *client.Display
	ctx     *client.Context
	sock    int // the connection socket, polled for input
	wake    int // eventfd signalled when calls are queued
	logger  *slog.Logger

	mu    sync.Mutex
	queue []call
	err   error
	freed bool

	done     chan struct{}
	failOnce sync.Once
	freeOnce sync.Once
	started  chan struct{}
	runOnce  sync.Once
}

// Connect dials the compositor at path, or at SocketPath when path is
// empty.
func Connect(path string, logger *slog.Logger) (*Loop, error) {
	if path == "" {
		p, err := SocketPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	before, err := socketFDs()
	if err != nil {
		return nil, err
	}
	display, err := client.Connect(path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Wayland at %s: %w", path, err)
	}
	ctx := display.Context()
	sock, err := connFD(before, path)
	if err != nil {
		_ = ctx.Close()
		return nil, err
	}
	wake, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = ctx.Close()
		return nil, fmt.Errorf("eventfd: %w", err)
	}

	l := &Loop{
		display: display,
		ctx:     ctx,
		sock:    sock,
		wake:    wake,
		logger:  logging.OrDiscard(logger),
		done:    make(chan struct{}),
		started: make(chan struct{}),
	}
	display.SetErrorHandler(func(e client.DisplayErrorEvent) {
		perr := &ProtocolError{Code: e.Code, Message: e.Message}
		l.logger.Error("wayland protocol error", "code", perr.Code, "message", perr.Message)
		l.fail(perr)
	})
	return l, nil
}

func (l *Loop) Display() *client.Display { return l.display }
func (l *Loop) Context() *client.Context { return l.ctx }

// Run dispatches events and queued calls until the connection fails or
// Close is called. It must be called once.
func (l *Loop) Run() error {
	l.runOnce.Do(func() { close(l.started) })
	defer l.free()

	fds := []unix.PollFd{
		{Fd: int32(l.sock), Events: unix.POLLIN},
		{Fd: int32(l.wake), Events: unix.POLLIN},
	}
	for {
		select {
		case <-l.done:
			return l.Err()
		default:
		}
		fds[0].Revents, fds[1].Revents = 0, 0
		if _, err := unix.Poll(fds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			l.fail(fmt.Errorf("wayland: poll: %w", err))
			continue
		}
		if fds[1].Revents != 0 {
			l.drainWake()
			l.runQueued()
		}
		if fds[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			if err := l.ctx.Dispatch(); err != nil {
				l.fail(fmt.Errorf("wayland: dispatch: %w", err))
			}
		}
	}
}

// Do runs fn on the loop goroutine and returns its error. It must not be
// called from an event handler.
func (l *Loop) Do(fn func() error) error {
	c := call{fn: fn, res: make(chan error, 1)}
	l.mu.Lock()
	if l.err != nil {
		err := l.err
		l.mu.Unlock()
		return err
	}
	l.queue = append(l.queue, c)
	l.mu.Unlock()
	l.poke()

	select {
	case err := <-c.res:
		return err
	case <-l.done:
		return l.Err()
	}
}

// Roundtrip blocks until the compositor has handled every request sent
// so far and the events they caused have been dispatched. Run must be
// active on another goroutine.
func (l *Loop) Roundtrip(ctx context.Context) error {
	synced := make(chan struct{})
	err := l.Do(func() error {
		cb, err := l.display.Sync()
		if err != nil {
			return err
		}
		cb.SetDoneHandler(func(client.CallbackDoneEvent) { close(synced) })
		return nil
	})
	if err != nil {
		return err
	}
	select {
	case <-synced:
		return nil
	case <-l.done:
		return l.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) runQueued() {
	l.mu.Lock()
	q := l.queue
	l.queue = nil
	l.mu.Unlock()
	for _, c := range q {
		c.res <- c.fn()
	}
}

func (l *Loop) poke() {
	var one [8]byte
	one[0] = 1 // little endian counter increment
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.freed {
		_, _ = unix.Write(l.wake, one[:])
	}
}

func (l *Loop) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(l.wake, buf[:])
}

func (l *Loop) fail(err error) {
	l.failOnce.Do(func() {
		l.mu.Lock()
		l.err = err
		q := l.queue
		l.queue = nil
		l.mu.Unlock()
		for _, c := range q {
			c.res <- err
		}
		close(l.done)
	})
}

// free releases the connection. Run calls it on exit; Close calls it when
// Run never started.
func (l *Loop) free() {
	l.freeOnce.Do(func() {
		_ = l.ctx.Close()
		l.mu.Lock()
		l.freed = true
		_ = unix.Close(l.wake)
		l.mu.Unlock()
	})
}

// Done is closed once the connection has failed or been closed.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Err returns the error that ended the connection, if any.
func (l *Loop) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close stops Run and releases the connection.
func (l *Loop) Close() error {
	l.fail(ErrClosed)
	select {
	case <-l.started:
		l.poke()
	default:
		l.runOnce.Do(func() { close(l.started) })
		l.free()
	}
	return nil
}
