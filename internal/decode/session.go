package decode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/1broseidon/vidwall/internal/logging"
)

var (
	// ErrNotReady means no fresh frame arrived by the deadline.
	ErrNotReady = errors.New("no fresh frame")
	// ErrSessionClosed is returned by pulls on a released session.
	ErrSessionClosed = errors.New("decode session closed")
)

// maxConsecutiveSkips bounds how many frames in a row the pump drops before
// it publishes one and re-bases its clock, so a decoder that is permanently
// slower than real time still shows progress.
const maxConsecutiveSkips = 30

// positionInterval is how often a session persists its playback position.
const positionInterval = 5 * time.Second

// SessionStats is a snapshot of one session.
type SessionStats struct {
	Key       string        `json:"key"`
	Refs      int           `json:"refs"`
	Decoded   uint64        `json:"decoded"`
	Skipped   uint64        `json:"skipped"`
	Position  time.Duration `json:"position"`
	Restarts  int           `json:"restarts"`
	Finished  bool          `json:"finished"`
	LastError string        `json:"last_error,omitempty"`
}

// SessionConfig configures a session.
type SessionConfig struct {
	// MaxSkipIntervals is how far, in content intervals, decode may lag
	// before intermediate frames are dropped.
	MaxSkipIntervals int
	Positions        PositionStore
	Logger           *slog.Logger
	// Now is the clock; tests replace it.
	Now func() time.Time
}

// Session shares one engine between every output showing the same key. A
// background pump decodes at most one frame ahead of what it publishes;
// consumers read the newest published frame through a Cursor.
type Session struct {
	key    Key
	opener Opener
	cfg    SessionConfig
	logger *slog.Logger

	mu       sync.Mutex
	engine   *onceEngine
	latest   *Frame
	seq      uint64
	epochs   uint64 // added to engine epochs across restarts
	maxEpoch uint64
	skipped  uint64
	decoded  uint64
	err      error
	finished bool
	running  bool
	starting bool // an engine open is in progress
	restarts int
	closed   bool
	cursors  map[*Cursor]struct{}
	active   int           // cursors not suspended
	wake     chan struct{} // closed when active or closed changes
	hintW    int
	hintH    int
	refs     int

	cancel context.CancelFunc
	done   chan struct{}
}

func newSession(key Key, opener Opener, cfg SessionConfig) *Session {
	if cfg.MaxSkipIntervals <= 0 {
		cfg.MaxSkipIntervals = 2
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Session{
		key:     key,
		opener:  opener,
		cfg:     cfg,
		logger:  logging.OrDiscard(cfg.Logger).With("source", key.String()),
		cursors: make(map[*Cursor]struct{}),
		wake:    make(chan struct{}),
	}
}

// onceEngine lets the pump and close both close the engine.
type onceEngine struct {
	Engine
	once sync.Once
	err  error
}

func (e *onceEngine) Close() error {
	e.once.Do(func() { e.err = e.Engine.Close() })
	return e.err
}

func (e *onceEngine) HintSize(width, height int) {
	if h, ok := e.Engine.(SizeHinter); ok {
		h.HintSize(width, height)
	}
}

// Key returns the session key.
func (s *Session) Key() Key { return s.key }

// start opens the engine and runs the pump. The caller set s.starting under
// s.mu and holds no lock.
func (s *Session) start(ctx context.Context) error {
	opened, err := s.opener(ctx, s.key)
	if err != nil {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
		return err
	}
	engine := &onceEngine{Engine: opened}

	s.mu.Lock()
	s.starting = false
	if s.closed {
		s.mu.Unlock()
		_ = engine.Close()
		return ErrSessionClosed
	}
	if s.engine != nil {
		// Restarted engines count epochs from zero again.
		s.epochs = s.maxEpoch + 1
	}
	s.engine = engine
	s.err = nil
	s.finished = false
	s.running = true
	if s.hintW > 0 {
		engine.HintSize(s.hintW, s.hintH)
	}
	pumpCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go s.pump(pumpCtx, engine, done)
	return nil
}

// Restart reopens the engine after a decode failure. It is a no-op while the
// pump is healthy or another restart is opening the engine, so several
// consumers may call it for the same failure.
func (s *Session) Restart(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.running || s.starting {
		s.mu.Unlock()
		return nil
	}
	s.starting = true
	s.restarts++
	s.mu.Unlock()

	s.logger.Info("restarting decode")
	return s.start(ctx)
}

// HintSize tells the engine the largest output size showing this session.
func (s *Session) HintSize(width, height int) {
	s.mu.Lock()
	if width <= s.hintW && height <= s.hintH {
		s.mu.Unlock()
		return
	}
	s.hintW, s.hintH = max(s.hintW, width), max(s.hintH, height)
	w, h := s.hintW, s.hintH
	engine := s.engine
	s.mu.Unlock()

	if engine != nil {
		engine.HintSize(w, h)
	}
}

// waitActive parks the pump while every consumer is suspended. It reports
// whether it parked, and false for ok once ctx is done or the session closed.
func (s *Session) waitActive(ctx context.Context) (parked, ok bool) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return parked, false
		}
		if len(s.cursors) == 0 || s.active > 0 {
			s.mu.Unlock()
			if parked {
				s.logger.Debug("decode resumed")
			}
			return parked, true
		}
		wake := s.wake
		s.mu.Unlock()

		if !parked {
			s.logger.Debug("decode parked, every consumer is suspended")
			parked = true
		}
		select {
		case <-wake:
		case <-ctx.Done():
			return parked, false
		}
	}
}

func (s *Session) wakeLocked() {
	close(s.wake)
	s.wake = make(chan struct{})
}

func (s *Session) pump(ctx context.Context, engine *onceEngine, done chan struct{}) {
	defer close(done)
	defer func() { _ = engine.Close() }()

	interval := engine.Interval()
	maxLag := time.Duration(s.cfg.MaxSkipIntervals) * interval

	var (
		clockBase time.Time     // wall time of ptsBase
		ptsBase   time.Duration // PTS anchored to clockBase
		epoch     uint64
		haveClock bool
		streak    int
		lastSave  = s.cfg.Now()
	)

	for {
		parked, ok := s.waitActive(ctx)
		if !ok {
			s.pumpStopped(ctx, ctx.Err())
			return
		}
		if parked {
			// The content clock stood still while parked.
			haveClock = false
			streak = 0
		}

		f, err := engine.Next(ctx)
		if err != nil {
			s.pumpStopped(ctx, err)
			return
		}

		now := s.cfg.Now()
		if !haveClock || f.Epoch != epoch || interval == 0 {
			clockBase, ptsBase, epoch, haveClock = now, f.PTS, f.Epoch, true
		}
		due := clockBase.Add(f.PTS - ptsBase)

		if interval > 0 {
			lag := now.Sub(due)
			if lag > maxLag && streak < maxConsecutiveSkips {
				streak++
				f.Release()
				s.mu.Lock()
				s.skipped++
				s.decoded++
				s.mu.Unlock()
				continue
			}
			if streak >= maxConsecutiveSkips {
				clockBase, ptsBase = now, f.PTS
				due = now
			}
			streak = 0

			// Hold the decoded frame until it is due: the one frame of
			// lookahead.
			if wait := due.Sub(now); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					f.Release()
					s.pumpStopped(ctx, ctx.Err())
					return
				}
			}
		}

		if !s.publish(f) {
			return
		}
		if s.cfg.Positions != nil && interval > 0 && s.cfg.Now().Sub(lastSave) >= positionInterval {
			lastSave = s.cfg.Now()
			s.savePosition(f.PTS)
		}
	}
}

// publish makes f the newest frame. It takes over the pump's reference.
func (s *Session) publish(f *Frame) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		f.Release()
		return false
	}
	s.seq++
	f.Seq = s.seq
	f.Epoch += s.epochs
	if f.Epoch > s.maxEpoch {
		s.maxEpoch = f.Epoch
	}
	old := s.latest
	s.latest = f
	s.decoded++
	cursors := make([]*Cursor, 0, len(s.cursors))
	for c := range s.cursors {
		cursors = append(cursors, c)
	}
	s.mu.Unlock()

	if old != nil {
		old.Release()
	}
	for _, c := range cursors {
		c.notify()
	}
	return true
}

// pumpStopped records why the pump ended. The pump closes its engine.
func (s *Session) pumpStopped(ctx context.Context, err error) {
	s.mu.Lock()
	s.running = false
	switch {
	case ctx.Err() != nil || s.closed:
	case errors.Is(err, io.EOF):
		s.finished = true
	default:
		s.err = err
	}
	failed := s.err
	cursors := make([]*Cursor, 0, len(s.cursors))
	for c := range s.cursors {
		cursors = append(cursors, c)
	}
	s.mu.Unlock()

	if failed != nil {
		s.logger.Warn("decode failed", "error", failed)
		for _, c := range cursors {
			c.notify()
		}
	}
}

func (s *Session) savePosition(pts time.Duration) {
	if err := s.cfg.Positions.SetPosition(s.key.PositionKey(), pts); err != nil {
		s.logger.Warn("save playback position failed", "error", err)
	}
}

// Stats returns a snapshot of the session.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := SessionStats{
		Key:      s.key.String(),
		Refs:     s.refs,
		Decoded:  s.decoded,
		Skipped:  s.skipped,
		Restarts: s.restarts,
		Finished: s.finished,
	}
	if s.latest != nil {
		st.Position = s.latest.PTS
	}
	if s.err != nil {
		st.LastError = s.err.Error()
	}
	return st
}

// Skipped returns the number of frames dropped to catch up.
func (s *Session) Skipped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipped
}

// Err returns the pending decode failure, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// close stops the pump, records the position and drops the latest frame.
func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.wakeLocked()
	cancel, done, engine := s.cancel, s.done, s.engine
	latest := s.latest
	s.latest = nil
	video := engine != nil && engine.Interval() > 0
	s.mu.Unlock()

	if engine != nil {
		_ = engine.Close()
	}
	if cancel != nil {
		cancel()
		<-done
	}
	if latest != nil {
		if s.cfg.Positions != nil && video {
			s.savePosition(latest.PTS)
		}
		latest.Release()
	}
}

// Cursor is one consumer's view of a session. Each cursor remembers the
// last frame it consumed, so consumers never starve one another.
type Cursor struct {
	s         *Session
	lastSeq   uint64
	ready     chan struct{}
	suspended bool // guarded by s.mu
}

// NewCursor registers an active consumer.
func (s *Session) NewCursor() *Cursor {
	c := &Cursor{s: s, ready: make(chan struct{}, 1)}
	s.mu.Lock()
	s.cursors[c] = struct{}{}
	s.active++
	s.wakeLocked()
	pending := s.latest != nil || s.err != nil
	s.mu.Unlock()
	if pending {
		c.notify()
	}
	return c
}

// Close unregisters the cursor.
func (c *Cursor) Close() {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cursors[c]; !ok {
		return
	}
	delete(s.cursors, c)
	if !c.suspended {
		s.active--
	}
	s.wakeLocked()
}

// Suspend marks the consumer as not presenting. Decoding parks while every
// consumer of the session is suspended.
func (c *Cursor) Suspend() { c.setSuspended(true) }

// Resume marks the consumer as presenting again and wakes a parked decoder.
func (c *Cursor) Resume() { c.setSuspended(false) }

func (c *Cursor) setSuspended(v bool) {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cursors[c]; !ok || c.suspended == v {
		return
	}
	c.suspended = v
	if v {
		s.active--
	} else {
		s.active++
	}
	s.wakeLocked()
}

// Ready is signalled when a new frame is published or decode fails.
func (c *Cursor) Ready() <-chan struct{} { return c.ready }

func (c *Cursor) notify() {
	select {
	case c.ready <- struct{}{}:
	default:
	}
}

// Pull returns the newest frame this cursor has not consumed yet, waiting
// until deadline. The caller owns one reference to the returned frame. A
// pending decode failure is returned as an error.
func (c *Cursor) Pull(deadline time.Time) (*Frame, error) {
	for {
		f, err := c.take()
		if f != nil || err != nil {
			return f, err
		}
		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, ErrNotReady
		}
		timer := time.NewTimer(wait)
		select {
		case <-c.ready:
			timer.Stop()
		case <-timer.C:
			f, err := c.take()
			if f != nil || err != nil {
				return f, err
			}
			return nil, ErrNotReady
		}
	}
}

func (c *Cursor) take() (*Frame, error) {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.latest != nil && s.latest.Seq > c.lastSeq {
		c.lastSeq = s.latest.Seq
		return s.latest.Retain(), nil
	}
	if s.err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.key.PositionKey(), s.err)
	}
	return nil, nil
}

// Latest returns the newest frame regardless of what the cursor consumed,
// or nil. The caller owns one reference.
func (c *Cursor) Latest() *Frame {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if c.s.latest == nil {
		return nil
	}
	return c.s.latest.Retain()
}
