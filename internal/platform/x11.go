package platform

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/1broseidon/vidwall/internal/logging"
	"github.com/1broseidon/vidwall/internal/output"
	"github.com/1broseidon/vidwall/internal/x11"
)

// RandR change notifications are not routed through xgbutil's event loop,
// so X11 hotplug is detected by polling.
const x11PollInterval = 2 * time.Second

type x11Compositor struct {
	conn   *x11.Connection
	logger *slog.Logger

	mu       sync.Mutex
	monitors map[string]x11.Monitor
	outputs  map[string]output.Output

	events chan output.Event
	stop   chan struct{}
	once   sync.Once
}

// OpenX11 connects to the X server named by DISPLAY.
func OpenX11(ctx context.Context, logger *slog.Logger) (Compositor, error) {
	conn, err := x11.NewConnection()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X11: %w", err)
	}
	c := &x11Compositor{
		conn:     conn,
		logger:   logging.OrDiscard(logger).With("platform", "x11"),
		monitors: make(map[string]x11.Monitor),
		outputs:  make(map[string]output.Output),
		events:   make(chan output.Event, 32),
		stop:     make(chan struct{}),
	}
	if _, err := c.rescan(); err != nil {
		conn.Close()
		return nil, err
	}
	go c.poll()
	return c, nil
}

func (c *x11Compositor) Name() string { return "x11" }

func outputFromMonitor(m x11.Monitor) output.Output {
	return output.Output{
		Name: m.Name,
		Geometry: output.Geometry{
			X:          m.X,
			Y:          m.Y,
			Width:      m.Width,
			Height:     m.Height,
			Scale:      1,
			Transform:  output.Transform(m.Transform()),
			RefreshMHz: m.RefreshMHz,
		},
		Connected: m.Connected,
	}
}

// rescan refreshes monitors and returns the events since the last scan.
func (c *x11Compositor) rescan() ([]output.Event, error) {
	mons, err := c.conn.GetMonitors()
	if err != nil {
		return nil, err
	}
	nextMons := make(map[string]x11.Monitor, len(mons))
	next := make(map[string]output.Output, len(mons))
	for _, m := range mons {
		if !m.Connected {
			continue
		}
		nextMons[m.Name] = m
		next[m.Name] = outputFromMonitor(m)
	}

	c.mu.Lock()
	events := diffOutputs(c.outputs, next)
	c.monitors, c.outputs = nextMons, next
	c.mu.Unlock()
	return events, nil
}

func (c *x11Compositor) poll() {
	defer close(c.events)
	ticker := time.NewTicker(x11PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			events, err := c.rescan()
			if err != nil {
				c.logger.Warn("monitor scan failed", "error", err)
				continue
			}
			for _, ev := range events {
				select {
				case c.events <- ev:
				case <-c.stop:
					return
				}
			}
		}
	}
}

func (c *x11Compositor) Outputs() []output.Output {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedOutputs(c.outputs)
}

func (c *x11Compositor) Events() <-chan output.Event { return c.events }

func (c *x11Compositor) monitor(name string) (x11.Monitor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.monitors[name]
	return m, ok
}

func (c *x11Compositor) monitorList() []x11.Monitor {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]x11.Monitor, 0, len(c.monitors))
	for _, m := range c.monitors {
		out = append(out, m)
	}
	return out
}

func (c *x11Compositor) CreateSurface(ctx context.Context, spec SurfaceSpec) (Surface, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mon, ok := c.monitor(spec.Output)
	if !ok {
		return nil, unknownOutput(spec.Output)
	}
	bg, err := c.conn.NewBackground(mon, spec.Namespace)
	if err != nil {
		return nil, err
	}
	return &x11Surface{name: spec.Output, bg: bg, mon: mon}, nil
}

func (c *x11Compositor) Close() error {
	c.once.Do(func() { close(c.stop) })
	c.conn.Close()
	return nil
}

type x11Surface struct {
	name string

	mu  sync.Mutex
	bg  *x11.Background
	mon x11.Monitor
}

func (s *x11Surface) Output() string { return s.name }

func (s *x11Surface) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bg.Size()
}

// BufferTransform is normal: RandR rotates CRTC contents itself.
func (s *x11Surface) BufferTransform() output.Transform { return output.TransformNormal }

func (s *x11Surface) Configure(g output.Geometry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mon.X, s.mon.Y = g.X, g.Y
	s.mon.Width, s.mon.Height = g.PixelSize()
	return s.bg.Resize(s.mon)
}

func (s *x11Surface) Present(img Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bg.Present(img.Pix, img.Stride, img.Width, img.Height)
}

// FrameDone is nil: core X11 has no frame callbacks.
func (s *x11Surface) FrameDone() <-chan struct{} { return nil }

func (s *x11Surface) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bg.Destroy()
	return nil
}

// x11Fullscreen polls EWMH state for fullscreen clients.
type x11Fullscreen struct {
	comp     *x11Compositor
	interval time.Duration
}

func (d *x11Fullscreen) Watch(ctx context.Context, fn func(map[string]bool)) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	var last map[string]bool
	for {
		state, err := d.comp.conn.FullscreenMonitors(d.comp.monitorList())
		if err != nil {
			d.comp.logger.Debug("fullscreen scan failed", "error", err)
		} else if last == nil || !maps.Equal(last, state) {
			last = state
			fn(state)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
