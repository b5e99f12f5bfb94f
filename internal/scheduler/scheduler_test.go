package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1broseidon/vidwall/internal/colorspace"
	"github.com/1broseidon/vidwall/internal/config"
	"github.com/1broseidon/vidwall/internal/decode"
	"github.com/1broseidon/vidwall/internal/output"
	"github.com/1broseidon/vidwall/internal/platform"
	"github.com/1broseidon/vidwall/internal/render"
	"github.com/1broseidon/vidwall/internal/surface"
)

func onePixel(pts time.Duration, epoch uint64) *decode.Frame {
	f := decode.NewFrame([]decode.Plane{{Pix: []byte{10, 20, 30, 255}, Width: 1, Height: 1, Opacity: 1}}, pts, colorspace.Metadata{}, nil)
	f.Epoch = epoch
	return f
}

// streamEngine emits frames every interval forever.
type streamEngine struct {
	interval time.Duration
	n        int
}

func (e *streamEngine) Interval() time.Duration { return e.interval }
func (e *streamEngine) Close() error            { return nil }
func (e *streamEngine) Next(ctx context.Context) (*decode.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pts := time.Duration(e.n) * e.interval
	e.n++
	return onePixel(pts, 0), nil
}

// feedEngine emits the frames the test sends it.
type feedEngine struct {
	frames chan *decode.Frame
}

func (e *feedEngine) Interval() time.Duration { return 0 }
func (e *feedEngine) Close() error            { return nil }
func (e *feedEngine) Next(ctx context.Context) (*decode.Frame, error) {
	select {
	case f := <-e.frames:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// failEngine fails on its first Next.
type failEngine struct{ err error }

func (e failEngine) Interval() time.Duration { return 10 * time.Millisecond }
func (e failEngine) Close() error            { return nil }
func (e failEngine) Next(context.Context) (*decode.Frame, error) {
	return nil, e.err
}

type rig struct {
	comp    *platform.Headless
	desc    *surface.Descriptor
	session *decode.Session
}

func newRig(t *testing.T, paced bool, opener decode.Opener) *rig {
	t.Helper()
	o := output.Output{
		Name:      "DP-1",
		Connected: true,
		Geometry:  output.Geometry{Width: 32, Height: 18, Scale: 1, RefreshMHz: 60000},
	}
	comp := platform.NewHeadless(o)
	comp.Paced = paced
	sm := surface.NewManager(comp, render.NewSoftware(), nil)
	eff := output.Effective{Source: config.Source{Type: config.SourceVideo, Path: "/videos/loop.mp4"}, Layout: config.LayoutFill}
	desc, err := sm.Activate(context.Background(), o, eff)
	require.NoError(t, err)
	t.Cleanup(func() { sm.Deactivate(desc) })

	dm := decode.NewManager(decode.SessionConfig{MaxSkipIntervals: 2})
	key, err := decode.NewKey(eff.Source, decode.Params{Loop: true})
	require.NoError(t, err)
	session, err := dm.Acquire(context.Background(), key, opener)
	require.NoError(t, err)
	t.Cleanup(func() { dm.Release(session) })

	return &rig{comp: comp, desc: desc, session: session}
}

func (r *rig) surface() *platform.HeadlessSurface { return r.comp.Surfaces()[0] }

func (r *rig) config() Config {
	return Config{
		Output:        "DP-1",
		Source:        r.session,
		Target:        r.desc,
		Layout:        config.LayoutFill,
		RefreshHz:     60,
		DecodeRetries: config.DefaultDecodeRetries,
		DecodeBackoff: time.Millisecond,
	}
}

func openWith(engines ...decode.Engine) decode.Opener {
	var mu sync.Mutex
	i := 0
	return func(context.Context, decode.Key) (decode.Engine, error) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(engines) {
			return nil, errors.New("no more engines")
		}
		e := engines[i]
		i++
		return e, nil
	}
}

func start(t *testing.T, s *Scheduler) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-s.Done()
	})
	return cancel, errc
}

func TestCanTransition(t *testing.T) {
	legal := map[[2]State]bool{
		{StateConnecting, StateActive}:  true,
		{StateConnecting, StateErrored}: true,
		{StateActive, StateSuspended}:   true,
		{StateSuspended, StateActive}:   true,
		{StateActive, StateErrored}:     true,
		{StateSuspended, StateErrored}:  true,
		{StateErrored, StateConnecting}: true,
	}
	all := []State{StateConnecting, StateActive, StateSuspended, StateErrored, StateTornDown}
	for _, from := range all {
		for _, to := range all {
			want := legal[[2]State{from, to}] || (to == StateTornDown && from != StateTornDown)
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestFSMRejectsIllegalTransition(t *testing.T) {
	var f FSM
	require.ErrorIs(t, f.Transition(StateSuspended), ErrIllegalTransition)
	assert.Equal(t, StateConnecting, f.State())

	require.NoError(t, f.Transition(StateActive))
	require.ErrorIs(t, f.Transition(StateConnecting), ErrIllegalTransition)
	assert.Equal(t, StateActive, f.State())

	require.NoError(t, f.Transition(StateTornDown))
	require.ErrorIs(t, f.Transition(StateTornDown), ErrIllegalTransition)
}

func TestTimingOverloadAndRecovery(t *testing.T) {
	var tm Timing
	budget := 10 * time.Millisecond

	for i := 0; i < 11; i++ {
		assert.False(t, tm.Record(9*time.Millisecond, budget), "sample %d", i)
	}
	assert.True(t, tm.Record(9*time.Millisecond, budget), "third frame over the threshold")
	assert.True(t, tm.Overloaded())

	// Average falls below 0.60 of the budget at the eighth fast sample.
	for i := 1; i < 10; i++ {
		assert.False(t, tm.Record(time.Millisecond, budget), "fast sample %d", i)
	}
	assert.True(t, tm.Record(time.Millisecond, budget))
	assert.False(t, tm.Overloaded())

	st := tm.Stats()
	assert.Equal(t, 22, st.Samples)
	assert.Equal(t, 9*time.Millisecond, st.Max)
	assert.Equal(t, budget, st.Budget)
}

func TestTimingNeedsMinimumSamples(t *testing.T) {
	var tm Timing
	for i := 0; i < timingMinSamples-1; i++ {
		assert.False(t, tm.Record(time.Second, time.Millisecond))
	}
	assert.False(t, tm.Overloaded())
	assert.Equal(t, time.Second, tm.Stats().Average)

	tm.Reset()
	assert.Zero(t, tm.Stats().Samples)
}

func TestTimingWindowIsBounded(t *testing.T) {
	var tm Timing
	for i := 0; i < 3*timingWindow; i++ {
		tm.Record(time.Duration(i)*time.Microsecond, time.Second)
	}
	st := tm.Stats()
	assert.Equal(t, timingWindow, st.Samples)
	// Only the last 60 samples (120µs..179µs) remain.
	assert.Equal(t, 179*time.Microsecond, st.Max)
	assert.Equal(t, time.Duration(149500)*time.Nanosecond, st.Average)
}

func TestTargetFPS(t *testing.T) {
	tests := []struct {
		name      string
		refresh   float64
		limit     int
		battery   bool
		batFPS    int
		wantFPS   float64
		wantPause string
	}{
		{name: "default", wantFPS: 60},
		{name: "refresh", refresh: 144, wantFPS: 144},
		{name: "ceiling", refresh: 144, limit: 30, wantFPS: 30},
		{name: "battery clamp", refresh: 60, battery: true, batFPS: 15, wantFPS: 15},
		{name: "battery above ceiling", limit: 10, battery: true, batFPS: 15, wantFPS: 10},
		{name: "battery without fps", refresh: 60, battery: true, wantFPS: 60, wantPause: "on battery"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(Config{Output: "DP-1", RefreshHz: tt.refresh, FPSLimit: tt.limit, PauseOnBattery: true, BatteryFPS: tt.batFPS})
			s.onBattery = tt.battery
			assert.Equal(t, tt.wantFPS, s.targetFPSLocked())
			assert.Equal(t, tt.wantPause, s.suspendReasonLocked())
		})
	}
}

func TestRunPresentsFrames(t *testing.T) {
	r := newRig(t, false, openWith(&streamEngine{interval: 10 * time.Millisecond}))
	var events []Status
	var mu sync.Mutex
	cfg := r.config()
	cfg.OnStatus = func(st Status) {
		mu.Lock()
		events = append(events, st)
		mu.Unlock()
	}
	s := New(cfg)
	assert.Equal(t, StateConnecting, s.State())
	start(t, s)

	require.Eventually(t, func() bool { return s.Status().Presented >= 5 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateActive, s.State())
	assert.Greater(t, r.surface().Presents(), 5)

	st := s.Status()
	assert.Greater(t, st.PTS, time.Duration(0))
	assert.Equal(t, float64(60), st.TargetFPS)
	assert.Positive(t, st.Timing.Samples)

	mu.Lock()
	require.NotEmpty(t, events)
	assert.Equal(t, StateActive, events[0].State)
	mu.Unlock()
}

func TestPresentedPTSNeverDecreases(t *testing.T) {
	engine := &feedEngine{frames: make(chan *decode.Frame)}
	r := newRig(t, false, openWith(engine))
	cfg := r.config()
	cfg.FPSLimit = 1000
	s := New(cfg)
	start(t, s)

	send := func(pts time.Duration, epoch uint64) {
		engine.frames <- onePixel(pts, epoch)
	}
	waitFor := func(cond func(Status) bool) {
		require.Eventually(t, func() bool { return cond(s.Status()) }, 2*time.Second, 2*time.Millisecond)
	}

	send(0, 0)
	waitFor(func(st Status) bool { return st.Presented == 1 })
	send(40*time.Millisecond, 0)
	waitFor(func(st Status) bool { return st.Presented == 2 })

	send(20*time.Millisecond, 0)
	waitFor(func(st Status) bool { return st.Discarded == 1 })
	assert.Equal(t, uint64(2), s.Status().Presented)
	assert.Equal(t, 40*time.Millisecond, s.Status().PTS)

	// A new epoch restarts the timeline.
	send(0, 1)
	waitFor(func(st Status) bool { return st.Presented == 3 })
	st := s.Status()
	assert.Equal(t, uint64(1), st.Epoch)
	assert.Equal(t, time.Duration(0), st.PTS)
}

func TestBatteryPolicy(t *testing.T) {
	r := newRig(t, false, openWith(&streamEngine{interval: 10 * time.Millisecond}))
	cfg := r.config()
	cfg.PauseOnBattery = true
	s := New(cfg)
	start(t, s)
	require.Eventually(t, func() bool { return s.Status().Presented > 0 }, 2*time.Second, 5*time.Millisecond)

	s.SetOnBattery(true)
	require.Eventually(t, func() bool { return s.State() == StateSuspended }, 200*time.Millisecond, time.Millisecond)
	assert.Equal(t, "on battery", s.Status().Reason)

	// No renders while suspended.
	presents := r.surface().Presents()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, presents, r.surface().Presents())

	// The output is the session's only consumer, so decoding parks too.
	require.Eventually(t, func() bool {
		before := r.session.Stats().Decoded
		time.Sleep(30 * time.Millisecond)
		return r.session.Stats().Decoded == before
	}, time.Second, time.Millisecond)

	s.SetOnBattery(false)
	require.Eventually(t, func() bool { return s.State() == StateActive }, 200*time.Millisecond, time.Millisecond)
	require.Eventually(t, func() bool { return r.surface().Presents() > presents }, 2*time.Second, 5*time.Millisecond)
}

func TestBatteryFPSClampsInsteadOfSuspending(t *testing.T) {
	r := newRig(t, false, openWith(&streamEngine{interval: 10 * time.Millisecond}))
	cfg := r.config()
	cfg.PauseOnBattery = true
	cfg.BatteryFPS = 20
	s := New(cfg)
	start(t, s)
	require.Eventually(t, func() bool { return s.Status().Presented > 0 }, 2*time.Second, 5*time.Millisecond)

	s.SetOnBattery(true)
	require.Eventually(t, func() bool { return s.Status().TargetFPS == 20 }, time.Second, time.Millisecond)
	assert.Equal(t, StateActive, s.State())
}

func TestFullscreenAndManualPause(t *testing.T) {
	r := newRig(t, false, openWith(&streamEngine{interval: 10 * time.Millisecond}))
	cfg := r.config()
	cfg.PauseOnFullscreen = true
	s := New(cfg)
	start(t, s)
	require.Eventually(t, func() bool { return s.State() == StateActive }, time.Second, time.Millisecond)

	s.SetFullscreen(true)
	require.Eventually(t, func() bool { return s.State() == StateSuspended }, time.Second, time.Millisecond)
	assert.Equal(t, "fullscreen window", s.Status().Reason)

	s.Pause()
	s.SetFullscreen(false)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateSuspended, s.State(), "manual pause holds")

	s.Resume()
	require.Eventually(t, func() bool { return s.State() == StateActive }, time.Second, time.Millisecond)
	assert.False(t, r.surface().Destroyed())
}

func TestDecodeRetriesExhausted(t *testing.T) {
	boom := errors.New("corrupt stream")
	r := newRig(t, false, openWith(failEngine{boom}, failEngine{boom}, failEngine{boom}))
	cfg := r.config()
	cfg.DecodeRetries = 2
	var errored atomic.Bool
	cfg.OnStatus = func(st Status) {
		if st.State == StateErrored {
			errored.Store(true)
		}
	}
	s := New(cfg)
	_, errc := start(t, s)

	var err error
	select {
	case err = <-errc:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not give up")
	}
	require.ErrorIs(t, err, ErrRetriesExhausted)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, StateErrored, s.State())
	assert.True(t, errored.Load())
	assert.Equal(t, 3, s.Status().Retries)
	assert.Equal(t, 2, r.session.Stats().Restarts)

	// The surface keeps the initial black fill.
	assert.Equal(t, 1, r.surface().Presents())
	assert.False(t, r.surface().Destroyed())
}

func TestDecodeRecoversAfterRestart(t *testing.T) {
	r := newRig(t, false, openWith(failEngine{errors.New("eagain")}, &streamEngine{interval: 10 * time.Millisecond}))
	s := New(r.config())
	start(t, s)

	require.Eventually(t, func() bool { return s.Status().Presented > 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateActive, s.State())
	assert.Zero(t, s.Status().Retries)
}

func TestPacedSurfaceWaitsForFrameDone(t *testing.T) {
	r := newRig(t, true, openWith(&streamEngine{interval: 5 * time.Millisecond}))
	cfg := r.config()
	cfg.FPSLimit = 10
	s := New(cfg)
	start(t, s)

	require.Eventually(t, func() bool { return s.Status().Presented == 1 }, 2*time.Second, time.Millisecond)
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, uint64(1), s.Status().Presented, "no frame callback yet")

	r.surface().SignalFrame()
	require.Eventually(t, func() bool { return s.Status().Presented == 2 }, time.Second, time.Millisecond)

	// Without callbacks the fallback timer keeps the output moving at
	// half the budget.
	require.Eventually(t, func() bool { return s.Status().Presented >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestTearDownAfterRun(t *testing.T) {
	r := newRig(t, false, openWith(&streamEngine{interval: 10 * time.Millisecond}))
	s := New(r.config())
	cancel, errc := start(t, s)
	require.Eventually(t, func() bool { return s.State() == StateActive }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-errc)
	s.TearDown()
	assert.Equal(t, StateTornDown, s.State())

	// Policy calls after the loop exits must not block.
	s.Pause()
	s.SetOnBattery(true)
	s.SetFPSLimit(5)
}
