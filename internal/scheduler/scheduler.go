// Package scheduler drives one output: it pulls frames from a decode session
// at the output's pacing budget, renders them and applies power policy.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/1broseidon/vidwall/internal/config"
	"github.com/1broseidon/vidwall/internal/decode"
	"github.com/1broseidon/vidwall/internal/logging"
	"github.com/1broseidon/vidwall/internal/output"
	"github.com/1broseidon/vidwall/internal/render"
)

const defaultFPS = 60

var ErrRetriesExhausted = errors.New("decode retries exhausted")

// Source is the decode session an output shows.
type Source interface {
	NewCursor() *decode.Cursor
	Restart(ctx context.Context) error
	HintSize(width, height int)
	Skipped() uint64
}

// Target is the surface an output renders into. Do runs fn with the render
// context and fails once the surface is being torn down.
type Target interface {
	Do(fn func(rc render.Context, t output.Transform) error) error
	FrameDone() <-chan struct{}
	Size() (int, int)
}

// Config configures one scheduler.
type Config struct {
	Output string
	Source Source
	Target Target

	Layout      config.Layout
	FPSLimit    int
	RefreshHz   float64
	ToneMap     config.ToneMap
	HDRMode     config.HDRMode
	Passthrough bool

	PauseOnBattery    bool
	BatteryFPS        int
	PauseOnFullscreen bool

	DecodeRetries int
	DecodeBackoff time.Duration

	Logger *slog.Logger
	// OnStatus is called after state changes and overload flips. It must
	// not block.
	OnStatus func(Status)
}

// Status is a snapshot of one scheduler.
type Status struct {
	Output     string        `json:"output"`
	State      State         `json:"state"`
	Reason     string        `json:"reason,omitempty"`
	Paused     bool          `json:"paused"`
	OnBattery  bool          `json:"on_battery"`
	Fullscreen bool          `json:"fullscreen"`
	TargetFPS  float64       `json:"target_fps"`
	Presented  uint64        `json:"presented"`
	Discarded  uint64        `json:"discarded"`
	Epoch      uint64        `json:"epoch"`
	PTS        time.Duration `json:"pts"`
	Skips      uint64        `json:"skips"`
	Retries    int           `json:"retries"`
	Timing     TimingStats   `json:"timing"`
}

// Scheduler runs the frame loop of one output.
type Scheduler struct {
	cfg    Config
	logger *slog.Logger
	fsm    FSM
	wake   chan struct{}
	done   chan struct{}

	mu         sync.Mutex
	paused     bool
	onBattery  bool
	fullscreen bool
	fpsLimit   int
	refreshHz  float64
	dirty      bool
	reason     string
	presented  uint64
	discarded  uint64
	epoch      uint64
	pts        time.Duration
	retries    int
	timing     Timing
}

// New returns a scheduler in the Connecting state.
func New(cfg Config) *Scheduler {
	if cfg.DecodeRetries < 0 {
		cfg.DecodeRetries = 0
	}
	if cfg.DecodeBackoff <= 0 {
		cfg.DecodeBackoff = config.DefaultDecodeBackoff
	}
	if cfg.Layout == "" {
		cfg.Layout = config.LayoutFill
	}
	return &Scheduler{
		cfg:       cfg,
		logger:    logging.OrDiscard(cfg.Logger).With("output", cfg.Output),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		fpsLimit:  cfg.FPSLimit,
		refreshHz: cfg.RefreshHz,
	}
}

func (s *Scheduler) Output() string { return s.cfg.Output }
func (s *Scheduler) State() State   { return s.fsm.State() }

// Done is closed when Run returns.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

// Status returns a snapshot.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Output:     s.cfg.Output,
		State:      s.fsm.State(),
		Reason:     s.reason,
		Paused:     s.paused,
		OnBattery:  s.onBattery,
		Fullscreen: s.fullscreen,
		TargetFPS:  s.targetFPSLocked(),
		Presented:  s.presented,
		Discarded:  s.discarded,
		Epoch:      s.epoch,
		PTS:        s.pts,
		Retries:    s.retries,
		Timing:     s.timing.Stats(),
	}
	if s.cfg.Source != nil {
		st.Skips = s.cfg.Source.Skipped()
	}
	return st
}

// Pause suspends the output until Resume.
func (s *Scheduler) Pause()  { s.update(func() { s.paused = true }) }
func (s *Scheduler) Resume() { s.update(func() { s.paused = false }) }

// SetOnBattery feeds the power monitor's state.
func (s *Scheduler) SetOnBattery(v bool) { s.update(func() { s.onBattery = v }) }

// SetFullscreen feeds the fullscreen detector's state for this output.
func (s *Scheduler) SetFullscreen(v bool) { s.update(func() { s.fullscreen = v }) }

// SetFPSLimit changes the fps ceiling; zero removes it.
func (s *Scheduler) SetFPSLimit(fps int) { s.update(func() { s.fpsLimit = max(fps, 0) }) }

func (s *Scheduler) SetRefreshHz(hz float64) { s.update(func() { s.refreshHz = hz }) }

// Invalidate asks for the latest frame to be drawn again, after a resize.
func (s *Scheduler) Invalidate() {
	if w, h := s.cfg.Target.Size(); w > 0 && h > 0 {
		s.cfg.Source.HintSize(w, h)
	}
	s.update(func() { s.dirty = true })
}

func (s *Scheduler) update(fn func()) {
	s.mu.Lock()
	fn()
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// TearDown moves the scheduler to its terminal state. Call it after Run
// has returned.
func (s *Scheduler) TearDown() {
	if err := s.setState(StateTornDown, ""); err != nil {
		s.logger.Debug("teardown", "error", err)
	}
}

func (s *Scheduler) targetFPSLocked() float64 {
	fps := float64(defaultFPS)
	if s.refreshHz > 0 {
		fps = s.refreshHz
	}
	if s.fpsLimit > 0 {
		fps = float64(s.fpsLimit)
	}
	if s.cfg.PauseOnBattery && s.onBattery && s.cfg.BatteryFPS > 0 && fps > float64(s.cfg.BatteryFPS) {
		fps = float64(s.cfg.BatteryFPS)
	}
	return fps
}

func (s *Scheduler) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(float64(time.Second) / s.targetFPSLocked())
}

// suspendReasonLocked returns why the output should be suspended, or "".
func (s *Scheduler) suspendReasonLocked() string {
	switch {
	case s.paused:
		return "paused"
	case s.cfg.PauseOnFullscreen && s.fullscreen:
		return "fullscreen window"
	case s.cfg.PauseOnBattery && s.onBattery && s.cfg.BatteryFPS <= 0:
		return "on battery"
	}
	return ""
}

// applyPolicy moves between Active and Suspended.
func (s *Scheduler) applyPolicy() {
	s.mu.Lock()
	reason := s.suspendReasonLocked()
	s.mu.Unlock()

	switch state := s.fsm.State(); {
	case reason != "" && state == StateActive:
		_ = s.setState(StateSuspended, reason)
	case reason == "" && state == StateSuspended:
		_ = s.setState(StateActive, "")
	}
}

func (s *Scheduler) setState(to State, reason string) error {
	from := s.fsm.State()
	if err := s.fsm.Transition(to); err != nil {
		return err
	}
	s.mu.Lock()
	s.reason = reason
	s.mu.Unlock()

	attrs := []any{"from", from.String(), "to", to.String()}
	if reason != "" {
		attrs = append(attrs, "reason", reason)
	}
	if to == StateErrored {
		s.logger.Error("output errored", attrs...)
	} else {
		s.logger.Info("output state changed", attrs...)
	}
	s.emit()
	return nil
}

func (s *Scheduler) emit() {
	if s.cfg.OnStatus != nil {
		s.cfg.OnStatus(s.Status())
	}
}

// Run drives the output until ctx is done or the output errors. The target
// must already be committed.
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.done)
	if err := s.setState(StateActive, ""); err != nil {
		return err
	}
	if w, h := s.cfg.Target.Size(); w > 0 && h > 0 {
		s.cfg.Source.HintSize(w, h)
	}
	cursor := s.cfg.Source.NewCursor()
	defer cursor.Close()

	l := &loop{s: s, cursor: cursor, pace: time.NewTimer(time.Hour)}
	l.pace.Stop()
	defer l.stop()
	frameDone := s.cfg.Target.FrameDone()
	l.paced = frameDone != nil

	s.applyPolicy()
	l.follow()
	for {
		var ready <-chan struct{}
		var callback <-chan struct{}
		if s.fsm.State() == StateActive {
			ready, callback = cursor.Ready(), frameDone
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
		case <-ready:
		case <-callback:
			l.awaiting = false
		case <-l.pace.C:
		case <-l.retryC:
			l.retryC = nil
			if err := s.cfg.Source.Restart(ctx); err != nil && ctx.Err() == nil {
				if err := l.failed(err); err != nil {
					return err
				}
			}
			continue
		}

		s.applyPolicy()
		if !l.follow() {
			continue
		}
		if err := l.tick(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// loop is the state private to Run.
type loop struct {
	s          *Scheduler
	cursor     *decode.Cursor
	pace       *time.Timer
	paced      bool
	awaiting   bool // presented, frame callback not yet received
	lastRender time.Time
	retryTimer *time.Timer
	retryC     <-chan time.Time
}

// follow suspends the cursor outside Active, so a session whose consumers
// are all paused or suspended stops decoding. It reports whether the output
// is active.
func (l *loop) follow() bool {
	if l.s.fsm.State() != StateActive {
		l.cursor.Suspend()
		return false
	}
	l.cursor.Resume()
	return true
}

func (l *loop) stop() {
	l.pace.Stop()
	if l.retryTimer != nil {
		l.retryTimer.Stop()
	}
}

// tick renders when a render is due and a frame is available.
func (l *loop) tick(ctx context.Context) error {
	s := l.s
	interval := s.interval()
	now := time.Now()
	if !l.lastRender.IsZero() {
		if l.paced && l.awaiting && now.Sub(l.lastRender) < 2*interval {
			return nil
		}
		if wait := interval - now.Sub(l.lastRender) - interval/10; wait > 0 {
			if !l.paced {
				l.pace.Reset(wait)
			}
			return nil
		}
	}

	f, err := l.cursor.Pull(now)
	switch {
	case err == nil:
	case errors.Is(err, decode.ErrNotReady):
		s.mu.Lock()
		dirty := s.dirty
		s.mu.Unlock()
		if !dirty {
			return nil
		}
		if f = l.cursor.Latest(); f == nil {
			return nil
		}
	case errors.Is(err, decode.ErrSessionClosed):
		return err
	default:
		if l.retryC != nil {
			return nil
		}
		return l.failed(err)
	}

	return l.present(ctx, f, interval)
}

func (l *loop) present(ctx context.Context, f *decode.Frame, interval time.Duration) error {
	s := l.s
	defer f.Release()

	s.mu.Lock()
	stale := s.presented > 0 && !f.Newer(s.epoch, s.pts)
	if stale {
		s.discarded++
	}
	s.dirty = false
	s.mu.Unlock()
	if stale {
		s.logger.Debug("discarding stale frame", "epoch", f.Epoch, "pts", f.PTS)
		return nil
	}

	start := time.Now()
	err := s.cfg.Target.Do(func(rc render.Context, t output.Transform) error {
		return s.draw(ctx, rc, t, f)
	})
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, render.ErrAborted) {
			return ctx.Err()
		}
		reason := fmt.Sprintf("render: %v", err)
		_ = s.setState(StateErrored, reason)
		return fmt.Errorf("%s: %w", s.cfg.Output, err)
	}
	elapsed := time.Since(start)

	s.mu.Lock()
	s.presented++
	s.epoch, s.pts = f.Epoch, f.PTS
	s.retries = 0
	flipped := s.timing.Record(elapsed, interval)
	overloaded := s.timing.Overloaded()
	s.mu.Unlock()

	if flipped {
		if overloaded {
			s.logger.Warn("render overloaded", "budget", interval, "last", elapsed)
		} else {
			s.logger.Info("render recovered", "budget", interval)
		}
		s.emit()
	}

	l.lastRender = start
	if l.paced {
		l.awaiting = true
		l.pace.Reset(2 * interval)
	} else {
		l.pace.Reset(interval)
	}
	return nil
}

func (s *Scheduler) draw(ctx context.Context, rc render.Context, t output.Transform, f *decode.Frame) error {
	textures := make([]*render.Texture, 0, len(f.Planes))
	defer func() {
		for _, tex := range textures {
			rc.ReleaseTexture(tex)
		}
	}()
	for _, p := range f.Planes {
		tex, err := rc.UploadTexture(p)
		if err != nil {
			return fmt.Errorf("upload texture: %w", err)
		}
		textures = append(textures, tex)
	}

	w, h := rc.Size()
	layers := render.LayersFor(textures, f.Planes, s.cfg.Layout, w, h, t)
	tm := render.PlanToneMap(f.Color, s.cfg.Passthrough, s.cfg.HDRMode, s.cfg.ToneMap)
	if err := rc.Render(ctx, layers, tm); err != nil {
		return err
	}
	color := f.Color
	return rc.Present(ctx, &color)
}

// failed counts a decode failure and schedules a restart, or gives up.
func (l *loop) failed(cause error) error {
	s := l.s
	s.mu.Lock()
	s.retries++
	n := s.retries
	s.mu.Unlock()

	if n > s.cfg.DecodeRetries {
		_ = s.setState(StateErrored, cause.Error())
		return fmt.Errorf("%s: %w: %w", s.cfg.Output, ErrRetriesExhausted, cause)
	}
	backoff := s.cfg.DecodeBackoff << (n - 1)
	s.logger.Warn("decode failed, retrying", "error", cause, "attempt", n, "backoff", backoff)
	if l.retryTimer == nil {
		l.retryTimer = time.NewTimer(backoff)
	} else {
		l.retryTimer.Reset(backoff)
	}
	l.retryC = l.retryTimer.C
	return nil
}
