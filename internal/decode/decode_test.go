package decode

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1broseidon/vidwall/internal/colorspace"
	"github.com/1broseidon/vidwall/internal/config"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// scriptEngine emits frames with PTS n*interval, advancing the fake clock
// by cost per frame, and returns io.EOF after total frames.
type scriptEngine struct {
	interval time.Duration
	cost     time.Duration
	total    int
	clock    *fakeClock
	failWith error

	n      int
	closed atomic.Bool
}

func (e *scriptEngine) Interval() time.Duration { return e.interval }
func (e *scriptEngine) Close() error            { e.closed.Store(true); return nil }

func (e *scriptEngine) Next(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.failWith != nil {
		return nil, e.failWith
	}
	if e.n >= e.total {
		return nil, io.EOF
	}
	if e.clock != nil {
		e.clock.Advance(e.cost)
	}
	pts := time.Duration(e.n) * e.interval
	e.n++
	return NewFrame([]Plane{{Pix: make([]byte, 4), Width: 1, Height: 1, Opacity: 1}}, pts, colorspace.Metadata{}, nil), nil
}

// stillEngine emits one frame and then blocks.
type stillEngine struct {
	emitted bool
	closed  atomic.Bool
}

func (e *stillEngine) Interval() time.Duration { return 0 }
func (e *stillEngine) Close() error            { e.closed.Store(true); return nil }

func (e *stillEngine) Next(ctx context.Context) (*Frame, error) {
	if !e.emitted {
		e.emitted = true
		return NewFrame([]Plane{{Pix: make([]byte, 4), Width: 1, Height: 1, Opacity: 1}}, 0, colorspace.Metadata{}, nil), nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func openerFor(engines ...Engine) (Opener, *atomic.Int32) {
	var calls atomic.Int32
	return func(ctx context.Context, key Key) (Engine, error) {
		i := int(calls.Add(1)) - 1
		if i >= len(engines) {
			return nil, errors.New("no more engines")
		}
		return engines[i], nil
	}, &calls
}

func videoKey(t *testing.T, path string) Key {
	t.Helper()
	k, err := NewKey(config.Source{Type: config.SourceVideo, Path: path}, Params{HWDec: true, Loop: true})
	require.NoError(t, err)
	return k
}

func TestFrameReleaseRunsOnce(t *testing.T) {
	var released atomic.Int32
	f := NewFrame(nil, 0, colorspace.Metadata{}, func() { released.Add(1) })
	f.Retain()
	f.Retain()
	assert.Equal(t, 3, f.Refs())

	f.Release()
	f.Release()
	assert.Zero(t, released.Load())
	f.Release()
	assert.EqualValues(t, 1, released.Load())
	assert.Panics(t, func() { f.Release() })
}

func TestFrameNewer(t *testing.T) {
	f := &Frame{Epoch: 1, PTS: 0}
	assert.True(t, f.Newer(0, 5*time.Second), "new epoch wins over a higher pts")
	assert.False(t, (&Frame{Epoch: 1, PTS: time.Second}).Newer(1, 2*time.Second))
	assert.True(t, (&Frame{Epoch: 1, PTS: 2 * time.Second}).Newer(1, 2*time.Second))
}

func TestKeyCanonical(t *testing.T) {
	a, err := NewKey(config.Source{Path: "/videos/../videos/waves.mp4"}, Params{HWDec: true, Loop: true})
	require.NoError(t, err)
	b, err := NewKey(config.Source{Type: config.SourceVideo, Path: "/videos/waves.mp4"}, Params{HWDec: true, Loop: true})
	require.NoError(t, err)
	assert.Equal(t, a.String(), b.String())

	c, err := NewKey(config.Source{Path: "/videos/waves.mp4"}, Params{HWDec: false, Loop: true})
	require.NoError(t, err)
	assert.NotEqual(t, a.String(), c.String(), "hwdec is a decode parameter")
	assert.Equal(t, a.PositionKey(), c.PositionKey())

	img, err := NewKey(config.Source{Path: "/pics/a.png"}, Params{HWDec: true, Loop: true})
	require.NoError(t, err)
	assert.Equal(t, config.SourceImage, img.Type)
	assert.Equal(t, "image:/pics/a.png", img.String())

	seq, err := NewKey(config.Source{Type: config.SourceSequence, Path: "/frames"}, Params{Loop: true})
	require.NoError(t, err)
	assert.Equal(t, config.DefaultSequenceFPS, seq.FPS)

	_, err = NewKey(config.Source{}, Params{})
	assert.Error(t, err)
}

func TestBudgetBlocksAtLimit(t *testing.T) {
	b := NewBudget(2, 100)
	ctx := context.Background()

	first, err := b.Acquire(ctx, 1024)
	require.NoError(t, err)
	_, err = b.Acquire(ctx, 1024)
	require.NoError(t, err)
	assert.Equal(t, PressureCritical, b.Pressure())

	got := make(chan []byte, 1)
	go func() {
		buf, err := b.Acquire(ctx, 512)
		if err == nil {
			got <- buf
		}
	}()

	select {
	case <-got:
		t.Fatal("acquire should block while the budget is full")
	case <-time.After(50 * time.Millisecond):
	}

	b.Release(first)
	select {
	case buf := <-got:
		assert.Len(t, buf, 512)
	case <-time.After(time.Second):
		t.Fatal("acquire did not resume after release")
	}
	assert.Equal(t, 2, b.Stats().Buffers)
}

func TestBudgetPressureLevels(t *testing.T) {
	b := NewBudget(8, 100)
	ctx := context.Background()
	var bufs [][]byte
	for i := 0; i < 6; i++ {
		buf, err := b.Acquire(ctx, 16)
		require.NoError(t, err)
		bufs = append(bufs, buf)
	}
	assert.Equal(t, PressureNormal, b.Pressure(), "6/8 is exactly 0.75")

	buf, err := b.Acquire(ctx, 16)
	require.NoError(t, err)
	bufs = append(bufs, buf)
	assert.Equal(t, PressureWarning, b.Pressure())

	buf, err = b.Acquire(ctx, 16)
	require.NoError(t, err)
	bufs = append(bufs, buf)
	assert.Equal(t, PressureCritical, b.Pressure())
	assert.Equal(t, "critical", b.Stats().Pressure)

	for _, buf := range bufs {
		b.Release(buf)
	}
	assert.Equal(t, PressureNormal, b.Pressure())
}

func TestBudgetOversizedSingleBuffer(t *testing.T) {
	b := NewBudget(8, 1)
	buf, err := b.Acquire(context.Background(), 4<<20)
	require.NoError(t, err)
	assert.Len(t, buf, 4<<20)
}

func TestBudgetCloseUnblocks(t *testing.T) {
	b := NewBudget(1, 100)
	_, err := b.Acquire(context.Background(), 8)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := b.Acquire(context.Background(), 8)
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	b.Close()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrBudgetClosed)
	case <-time.After(time.Second):
		t.Fatal("close did not unblock acquire")
	}
}

func TestManagerSharesSessions(t *testing.T) {
	engine := &stillEngine{}
	opener, calls := openerFor(engine)
	m := NewManager(SessionConfig{})
	ctx := context.Background()
	key := videoKey(t, "/videos/waves.mp4")

	a, err := m.Acquire(ctx, key, opener)
	require.NoError(t, err)
	b, err := m.Acquire(ctx, key, opener)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.EqualValues(t, 1, calls.Load(), "one engine per canonical key")
	assert.Equal(t, 1, m.Len())

	m.Release(a)
	assert.Equal(t, 1, m.Len(), "one reference keeps the session alive")
	assert.False(t, engine.closed.Load())

	m.Release(b)
	assert.Equal(t, 0, m.Len())
	assert.True(t, engine.closed.Load())
}

func TestManagerAcquireOpenError(t *testing.T) {
	m := NewManager(SessionConfig{})
	boom := errors.New("no such file")
	_, err := m.Acquire(context.Background(), videoKey(t, "/missing.mp4"), func(context.Context, Key) (Engine, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, m.Len())
}

func TestCursorsShareFrames(t *testing.T) {
	m := NewManager(SessionConfig{})
	opener, _ := openerFor(&stillEngine{})
	s, err := m.Acquire(context.Background(), videoKey(t, "/v.mp4"), opener)
	require.NoError(t, err)
	defer m.Release(s)

	c1, c2 := s.NewCursor(), s.NewCursor()
	defer c1.Close()
	defer c2.Close()

	deadline := time.Now().Add(time.Second)
	f1, err := c1.Pull(deadline)
	require.NoError(t, err)
	f2, err := c2.Pull(deadline)
	require.NoError(t, err)
	assert.Same(t, f1, f2, "a frame is decoded once and shared")
	assert.Equal(t, 3, f1.Refs())

	_, err = c1.Pull(time.Now().Add(20 * time.Millisecond))
	assert.ErrorIs(t, err, ErrNotReady, "a consumed frame is not returned again")

	f1.Release()
	f2.Release()
}

func TestSessionSkipsWhenDecodeLags(t *testing.T) {
	clock := newFakeClock()
	engine := &scriptEngine{interval: 10 * time.Millisecond, cost: 50 * time.Millisecond, total: 100, clock: clock}
	opener, _ := openerFor(engine)
	m := NewManager(SessionConfig{MaxSkipIntervals: 2, Now: clock.Now})

	s, err := m.Acquire(context.Background(), videoKey(t, "/slow.mp4"), opener)
	require.NoError(t, err)
	defer m.Release(s)

	c := s.NewCursor()
	defer c.Close()

	var (
		lastPTS  time.Duration = -1
		lastSkip uint64
	)
	require.Eventually(t, func() bool {
		if f, err := c.Pull(time.Now()); err == nil {
			assert.Greater(t, f.PTS, lastPTS, "published pts only grows")
			lastPTS = f.PTS
			f.Release()
		}
		skips := s.Skipped()
		assert.GreaterOrEqual(t, skips, lastSkip, "skip count is monotonic")
		lastSkip = skips
		return s.Stats().Finished
	}, 2*time.Second, time.Millisecond)

	st := s.Stats()
	assert.EqualValues(t, 96, st.Skipped)
	assert.EqualValues(t, 100, st.Decoded)
	assert.Equal(t, 93*10*time.Millisecond, st.Position, "the newest decoded frame is the one kept")
}

func TestSessionRestartAfterFailure(t *testing.T) {
	boom := errors.New("corrupt stream")
	opener, calls := openerFor(&scriptEngine{failWith: boom}, &stillEngine{})
	m := NewManager(SessionConfig{})
	s, err := m.Acquire(context.Background(), videoKey(t, "/bad.mp4"), opener)
	require.NoError(t, err)
	defer m.Release(s)

	c := s.NewCursor()
	defer c.Close()

	_, err = c.Pull(time.Now().Add(time.Second))
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.Restart(context.Background()))
	require.NoError(t, s.Restart(context.Background()), "restart while healthy is a no-op")
	assert.EqualValues(t, 2, calls.Load())

	f, err := c.Pull(time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.Epoch, "a restarted engine starts a new epoch")
	f.Release()
	assert.Equal(t, 1, s.Stats().Restarts)
}

func TestPullAfterReleaseFails(t *testing.T) {
	m := NewManager(SessionConfig{})
	opener, _ := openerFor(&stillEngine{})
	s, err := m.Acquire(context.Background(), videoKey(t, "/v.mp4"), opener)
	require.NoError(t, err)
	c := s.NewCursor()
	m.Release(s)

	_, err = c.Pull(time.Now().Add(10 * time.Millisecond))
	assert.ErrorIs(t, err, ErrSessionClosed)
}

// allocEngine draws one buffer per frame from an allocator, like the real
// engines, and counts its Next calls.
type allocEngine struct {
	alloc    Allocator
	size     int
	interval time.Duration

	n      int
	nexts  atomic.Int64
	closed atomic.Bool
}

func (e *allocEngine) Interval() time.Duration { return e.interval }
func (e *allocEngine) Close() error            { e.closed.Store(true); return nil }

func (e *allocEngine) Next(ctx context.Context) (*Frame, error) {
	e.nexts.Add(1)
	buf, err := e.alloc.Acquire(ctx, e.size)
	if err != nil {
		return nil, err
	}
	pts := time.Duration(e.n) * e.interval
	e.n++
	p := Plane{Pix: buf, Width: 1, Height: e.size / 4, Stride: 4, Opacity: 1}
	return NewFrame([]Plane{p}, pts, colorspace.Metadata{}, func() { e.alloc.Release(buf) }), nil
}

func TestConcurrentRestartOpensOneEngine(t *testing.T) {
	boom := errors.New("decoder crashed")
	var (
		opens   atomic.Int32
		mu      sync.Mutex
		engines []*stillEngine
	)
	opener := func(ctx context.Context, key Key) (Engine, error) {
		if opens.Add(1) == 1 {
			return &scriptEngine{failWith: boom}, nil
		}
		time.Sleep(50 * time.Millisecond)
		e := &stillEngine{}
		mu.Lock()
		engines = append(engines, e)
		mu.Unlock()
		return e, nil
	}

	m := NewManager(SessionConfig{})
	s, err := m.Acquire(context.Background(), videoKey(t, "/shared.mp4"), opener)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Err() != nil }, time.Second, time.Millisecond)

	// Two outputs on the same session retry at the same moment.
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			assert.NoError(t, s.Restart(context.Background()))
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 2, opens.Load(), "one failed open plus exactly one restart")
	assert.Equal(t, 1, s.Stats().Restarts)

	m.Release(s)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, engines, 1)
	assert.True(t, engines[0].closed.Load(), "the restarted engine closes with the session")
}

func TestSessionsProgressUnderSharedBudget(t *testing.T) {
	// Three sessions at 3.3 MB per frame put a 10 MB budget at critical
	// pressure as soon as each has published one frame.
	budget := NewBudget(8, 10)
	m := NewManager(SessionConfig{})
	const frameSize = 3_300_000

	var sessions []*Session
	for _, path := range []string{"/a.mp4", "/b.mp4", "/c.mp4"} {
		e := &allocEngine{alloc: budget.NewAccount(DefaultReserve), size: frameSize, interval: 5 * time.Millisecond}
		opener, _ := openerFor(e)
		s, err := m.Acquire(context.Background(), videoKey(t, path), opener)
		require.NoError(t, err)
		sessions = append(sessions, s)
	}

	require.Eventually(t, func() bool {
		for _, s := range sessions {
			if s.Stats().Decoded < 10 {
				return false
			}
		}
		return true
	}, 3*time.Second, 5*time.Millisecond, "every session keeps decoding at critical pressure")
	assert.Equal(t, PressureCritical.String(), budget.Stats().Pressure)

	for _, s := range sessions {
		m.Release(s)
	}
	assert.Eventually(t, func() bool { return budget.Stats().Buffers == 0 }, time.Second, time.Millisecond)
}

func TestAccountReserveBypassesPressure(t *testing.T) {
	b := NewBudget(2, 100)
	ctx := context.Background()
	_, err := b.Acquire(ctx, 8)
	require.NoError(t, err)
	_, err = b.Acquire(ctx, 8)
	require.NoError(t, err)
	require.Equal(t, PressureCritical, b.Pressure())

	a := b.NewAccount(0)
	first, err := a.Acquire(ctx, 8)
	require.NoError(t, err)
	_, err = a.Acquire(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, DefaultReserve, a.Held())

	blocked, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = a.Acquire(blocked, 8)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "beyond the reserve the shared limits apply")

	a.Release(first)
	assert.Equal(t, 1, a.Held())
	_, err = a.Acquire(ctx, 8)
	assert.NoError(t, err)
}

func TestDecodeParksWhileConsumersSuspended(t *testing.T) {
	e := &allocEngine{alloc: NewBudget(8, 100), size: 16, interval: 2 * time.Millisecond}
	opener, _ := openerFor(e)
	m := NewManager(SessionConfig{})
	s, err := m.Acquire(context.Background(), videoKey(t, "/loop.mp4"), opener)
	require.NoError(t, err)
	defer m.Release(s)

	c1, c2 := s.NewCursor(), s.NewCursor()
	defer c1.Close()
	defer c2.Close()

	steady := func() bool {
		before := e.nexts.Load()
		time.Sleep(30 * time.Millisecond)
		return e.nexts.Load() == before
	}
	advancing := func(by int64) func() bool {
		from := e.nexts.Load()
		return func() bool { return e.nexts.Load() >= from+by }
	}

	require.Eventually(t, advancing(5), time.Second, time.Millisecond)

	c1.Suspend()
	require.Eventually(t, advancing(5), time.Second, time.Millisecond, "one active consumer keeps decode running")

	c2.Suspend()
	require.Eventually(t, steady, time.Second, time.Millisecond, "decode parks once every consumer is suspended")
	decoded := s.Stats().Decoded
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, decoded, s.Stats().Decoded)

	c2.Resume()
	require.Eventually(t, advancing(5), time.Second, time.Millisecond, "resume wakes the decoder")

	// Closing the last active consumer parks it as well.
	c2.Close()
	require.Eventually(t, steady, time.Second, time.Millisecond)
}
