package platform

import (
	"context"
	"sync"

	"github.com/1broseidon/vidwall/internal/output"
)

// Headless is an in-memory compositor. It backs --headless runs and tests.
type Headless struct {
	mu       sync.Mutex
	outputs  map[string]output.Output
	surfaces []*HeadlessSurface
	events   chan output.Event
	closed   bool

	// Paced makes surfaces expose a FrameDone channel driven by
	// HeadlessSurface.SignalFrame.
	Paced bool
	// CreateErr, when set, fails every CreateSurface call.
	CreateErr error
}

var _ Compositor = (*Headless)(nil)

// NewHeadless returns a compositor that reports the given outputs.
func NewHeadless(outputs ...output.Output) *Headless {
	h := &Headless{
		outputs: make(map[string]output.Output),
		events:  make(chan output.Event, 64),
	}
	for _, o := range outputs {
		h.outputs[o.Name] = o
	}
	return h
}

func (h *Headless) Name() string { return "headless" }

func (h *Headless) Outputs() []output.Output {
	h.mu.Lock()
	defer h.mu.Unlock()
	return sortedOutputs(h.outputs)
}

func (h *Headless) Events() <-chan output.Event { return h.events }

// SetOutput adds or updates an output and emits the matching event.
func (h *Headless) SetOutput(o output.Output) {
	h.mu.Lock()
	_, known := h.outputs[o.Name]
	h.outputs[o.Name] = o
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return
	}
	kind := output.EventAdded
	if known {
		kind = output.EventChanged
	}
	h.events <- output.Event{Kind: kind, Output: o}
}

// RemoveOutput forgets an output, closes its surfaces and emits a removal.
func (h *Headless) RemoveOutput(name string) {
	h.mu.Lock()
	o, ok := h.outputs[name]
	delete(h.outputs, name)
	for _, s := range h.surfaces {
		if s.spec.Output == name {
			s.markClosed()
		}
	}
	closed := h.closed
	h.mu.Unlock()
	if ok && !closed {
		h.events <- output.Event{Kind: output.EventRemoved, Output: o}
	}
}

func (h *Headless) CreateSurface(ctx context.Context, spec SurfaceSpec) (Surface, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.CreateErr != nil {
		return nil, h.CreateErr
	}
	o, ok := h.outputs[spec.Output]
	if !ok {
		return nil, unknownOutput(spec.Output)
	}
	s := &HeadlessSurface{spec: spec, geometry: o.Geometry, closed: make(chan struct{})}
	if h.Paced {
		s.frame = make(chan struct{}, 1)
	}
	h.surfaces = append(h.surfaces, s)
	return s, nil
}

// Surfaces returns every surface created so far, destroyed ones included.
func (h *Headless) Surfaces() []*HeadlessSurface {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*HeadlessSurface(nil), h.surfaces...)
}

// LiveSurfaces returns surfaces that have not been destroyed.
func (h *Headless) LiveSurfaces() []*HeadlessSurface {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*HeadlessSurface
	for _, s := range h.surfaces {
		if !s.Destroyed() {
			out = append(out, s)
		}
	}
	return out
}

func (h *Headless) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.events)
	}
	return nil
}

// HeadlessSurface records what was presented to it.
type HeadlessSurface struct {
	mu        sync.Mutex
	spec      SurfaceSpec
	geometry  output.Geometry
	presents  int
	last      Image
	frame     chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	destroyed bool

	// PresentErr, when set, fails Present.
	PresentErr error
}

func (s *HeadlessSurface) Spec() SurfaceSpec { return s.spec }
func (s *HeadlessSurface) Output() string    { return s.spec.Output }

func (s *HeadlessSurface) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.geometry.PixelSize()
}

func (s *HeadlessSurface) BufferTransform() output.Transform {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.geometry.Transform
}

func (s *HeadlessSurface) Configure(g output.Geometry) error {
	s.mu.Lock()
	s.geometry = g
	s.mu.Unlock()
	return nil
}

func (s *HeadlessSurface) Present(img Image) error {
	select {
	case <-s.closed:
		return ErrSurfaceClosed
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PresentErr != nil {
		return s.PresentErr
	}
	s.presents++
	s.last = Image{
		Pix:    append([]byte(nil), img.Pix...),
		Width:  img.Width,
		Height: img.Height,
		Stride: img.Stride,
		HDR:    img.HDR,
	}
	return nil
}

func (s *HeadlessSurface) FrameDone() <-chan struct{} {
	if s.frame == nil {
		return nil
	}
	return s.frame
}

// SignalFrame delivers a frame-done callback; extra signals coalesce.
func (s *HeadlessSurface) SignalFrame() {
	if s.frame == nil {
		return
	}
	select {
	case s.frame <- struct{}{}:
	default:
	}
}

func (s *HeadlessSurface) Destroy() error {
	s.mu.Lock()
	s.destroyed = true
	s.mu.Unlock()
	s.markClosed()
	return nil
}

func (s *HeadlessSurface) markClosed() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// Presents returns how many frames were presented.
func (s *HeadlessSurface) Presents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presents
}

// LastImage returns a copy of the most recent frame.
func (s *HeadlessSurface) LastImage() Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *HeadlessSurface) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}
