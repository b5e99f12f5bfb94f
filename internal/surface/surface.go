// Package surface owns the background surface and render context of every
// active output.
package surface

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/1broseidon/vidwall/internal/logging"
	"github.com/1broseidon/vidwall/internal/output"
	"github.com/1broseidon/vidwall/internal/platform"
	"github.com/1broseidon/vidwall/internal/render"
)

var (
	ErrAlreadyActive = errors.New("output already has an active surface")
	ErrClosed        = errors.New("surface descriptor closed")
	ErrSizeMismatch  = errors.New("surface size does not match output geometry")
)

// Descriptor is the live surface of one output.
type Descriptor struct {
	output string
	spec   platform.SurfaceSpec

	closed atomic.Bool
	// mu is held shared while rendering and exclusively while resizing or
	// tearing down.
	mu        sync.RWMutex
	surface   platform.Surface
	rc        render.Context
	geometry  output.Geometry
	transform output.Transform
	target    render.Target
}

func (d *Descriptor) Output() string             { return d.output }
func (d *Descriptor) Spec() platform.SurfaceSpec { return d.spec }
func (d *Descriptor) Closed() bool               { return d.closed.Load() }

// Size returns the surface size in pixels.
func (d *Descriptor) Size() (int, int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.surface.Size()
}

func (d *Descriptor) Geometry() output.Geometry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.geometry
}

// FrameDone forwards the surface's pacing channel.
func (d *Descriptor) FrameDone() <-chan struct{} {
	return d.surface.FrameDone()
}

// Do runs fn with the render context while holding off teardown. It fails
// with ErrClosed once Deactivate has started.
func (d *Descriptor) Do(fn func(rc render.Context, t output.Transform) error) error {
	if d.closed.Load() {
		return ErrClosed
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed.Load() {
		return ErrClosed
	}
	return fn(d.rc, d.transform)
}

// Manager creates and destroys descriptors. It holds at most one per output
// name.
type Manager struct {
	comp    platform.Compositor
	backend render.Backend
	logger  *slog.Logger

	mu     sync.Mutex
	active map[string]*Descriptor
}

func NewManager(comp platform.Compositor, backend render.Backend, logger *slog.Logger) *Manager {
	return &Manager{
		comp:    comp,
		backend: backend,
		logger:  logging.OrDiscard(logger),
		active:  make(map[string]*Descriptor),
	}
}

// Activate builds the surface for o: create and anchor the background
// surface, size it, commit a black buffer and bind a render context. A
// failing step undoes the ones before it.
func (m *Manager) Activate(ctx context.Context, o output.Output, eff output.Effective) (*Descriptor, error) {
	if !o.Geometry.Valid() {
		return nil, fmt.Errorf("activate %s: %w", o.Name, output.ErrInvalidGeometry)
	}

	m.mu.Lock()
	if _, ok := m.active[o.Name]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("activate %s: %w", o.Name, ErrAlreadyActive)
	}
	// Reserve the name while the slow steps run.
	m.active[o.Name] = nil
	m.mu.Unlock()

	d, err := m.build(ctx, o, eff)
	m.mu.Lock()
	if err != nil {
		delete(m.active, o.Name)
	} else {
		m.active[o.Name] = d
	}
	m.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("activate %s: %w", o.Name, err)
	}

	w, h := d.surface.Size()
	m.logger.Info("surface active",
		"output", o.Name,
		"width", w,
		"height", h,
		"transform", d.transform.String(),
		"backend", m.backend.Name(),
	)
	return d, nil
}

func (m *Manager) build(ctx context.Context, o output.Output, eff output.Effective) (*Descriptor, error) {
	spec := platform.BackgroundSpec(o.Name)
	surf, err := m.comp.CreateSurface(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("create surface: %w", err)
	}
	fail := func(err error) (*Descriptor, error) {
		if derr := surf.Destroy(); derr != nil {
			m.logger.Debug("destroy after failed activation", "output", o.Name, "error", derr)
		}
		return nil, err
	}

	if err := surf.Configure(o.Geometry); err != nil {
		return fail(fmt.Errorf("configure surface: %w", err))
	}
	if err := checkSize(surf, o.Geometry); err != nil {
		return fail(err)
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	transform := surf.BufferTransform()
	w, h := surf.Size()
	if err := surf.Present(blackImage(transform, w, h)); err != nil {
		return fail(fmt.Errorf("commit initial buffer: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	target := render.Target{
		Output:      o.Name,
		Width:       w,
		Height:      h,
		Transform:   transform,
		Passthrough: eff.HDRPassthrough && o.HDRPassthrough,
		Presenter:   surf,
	}
	rc, err := m.backend.Initialize(target)
	if err != nil {
		return fail(fmt.Errorf("initialize %s context: %w", m.backend.Name(), err))
	}

	return &Descriptor{
		output:    o.Name,
		spec:      spec,
		surface:   surf,
		rc:        rc,
		geometry:  o.Geometry,
		transform: transform,
		target:    target,
	}, nil
}

// Resize applies new geometry to an existing surface. The surface is kept;
// the render context is resized, or rebuilt when the buffer transform
// changed.
func (m *Manager) Resize(d *Descriptor, g output.Geometry) error {
	if !g.Valid() {
		return fmt.Errorf("resize %s: %w", d.output, output.ErrInvalidGeometry)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed.Load() {
		return fmt.Errorf("resize %s: %w", d.output, ErrClosed)
	}

	if err := d.surface.Configure(g); err != nil {
		return fmt.Errorf("resize %s: %w", d.output, err)
	}
	if err := checkSize(d.surface, g); err != nil {
		return fmt.Errorf("resize %s: %w", d.output, err)
	}
	w, h := d.surface.Size()
	transform := d.surface.BufferTransform()

	if transform == d.transform {
		if err := d.rc.Resize(w, h); err != nil {
			return fmt.Errorf("resize %s context: %w", d.output, err)
		}
	} else {
		target := d.target
		target.Width, target.Height, target.Transform = w, h, transform
		rc, err := m.backend.Initialize(target)
		if err != nil {
			return fmt.Errorf("rebuild %s context: %w", d.output, err)
		}
		d.rc.Teardown()
		d.rc, d.target, d.transform = rc, target, transform
	}
	d.geometry = g
	d.target.Width, d.target.Height = w, h

	m.logger.Debug("surface resized", "output", d.output, "width", w, "height", h, "transform", transform.String())
	return nil
}

// Deactivate closes d, waits for an in-flight render, destroys the surface
// and frees the render context. It is safe to call more than once.
func (m *Manager) Deactivate(d *Descriptor) {
	if d == nil || d.closed.Swap(true) {
		return
	}
	d.mu.Lock()
	if err := d.surface.Destroy(); err != nil {
		m.logger.Warn("destroy surface failed", "output", d.output, "error", err)
	}
	d.rc.Teardown()
	d.mu.Unlock()

	m.mu.Lock()
	if m.active[d.output] == d {
		delete(m.active, d.output)
	}
	m.mu.Unlock()
	m.logger.Info("surface deactivated", "output", d.output)
}

// Get returns the active descriptor for name.
func (m *Manager) Get(name string) (*Descriptor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.active[name]
	return d, ok && d != nil
}

// Active lists output names with a live descriptor, sorted.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.active))
	for name, d := range m.active {
		if d != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Close deactivates every descriptor.
func (m *Manager) Close() {
	m.mu.Lock()
	all := make([]*Descriptor, 0, len(m.active))
	for _, d := range m.active {
		if d != nil {
			all = append(all, d)
		}
	}
	m.mu.Unlock()
	for _, d := range all {
		m.Deactivate(d)
	}
}

func checkSize(surf platform.Surface, g output.Geometry) error {
	w, h := surf.Size()
	gw, gh := g.PixelSize()
	if w != gw || h != gh {
		return fmt.Errorf("%w: got %dx%d, want %dx%d", ErrSizeMismatch, w, h, gw, gh)
	}
	return nil
}

// blackImage is an opaque black buffer in the surface's buffer orientation.
func blackImage(t output.Transform, w, h int) platform.Image {
	bw, bh := render.BufferSize(t, w, h)
	pix := make([]byte, bw*bh*4)
	for i := 3; i < len(pix); i += 4 {
		pix[i] = 0xff
	}
	return platform.Image{Pix: pix, Width: bw, Height: bh, Stride: bw * 4}
}
