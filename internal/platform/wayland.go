package platform

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/rajveermalviya/go-wayland/wayland/client"

	"github.com/1broseidon/vidwall/internal/logging"
	"github.com/1broseidon/vidwall/internal/output"
	"github.com/1broseidon/vidwall/internal/proto/wlr_layer_shell"
	"github.com/1broseidon/vidwall/internal/proto/wp_viewporter"
	"github.com/1broseidon/vidwall/internal/wayland"
)

// wl_shm format codes are fourcc except for the two mandatory formats.
const shmFormatXRGB8888 uint32 = 1

type wlOutput struct {
	obj       *wayland.Output
	out       output.Output
	announced bool
}

// waylandCompositor drives a layer-shell compositor. Registry and output
// handlers run on the loop goroutine; everything else reaches the
// connection through loop.Do.
type waylandCompositor struct {
	loop     *wayland.Loop
	registry *client.Registry
	logger   *slog.Logger

	// Bound during the initial roundtrips, read-only afterwards.
	compositor *client.Compositor
	shm        *client.Shm
	layerShell *wlr_layer_shell.ZwlrLayerShellV1
	viewporter *wp_viewporter.WpViewporter

	mu      sync.Mutex
	outputs map[uint32]*wlOutput
	queued  []output.Event
	wake    chan struct{}

	events chan output.Event
}

// OpenWayland connects to the compositor named by WAYLAND_DISPLAY and binds
// the globals background surfaces need.
func OpenWayland(ctx context.Context, logger *slog.Logger) (Compositor, error) {
	logger = logging.OrDiscard(logger).With("platform", "wayland")
	loop, err := wayland.Connect("", logger)
	if err != nil {
		return nil, err
	}
	registry, err := loop.Display().GetRegistry()
	if err != nil {
		_ = loop.Close()
		return nil, fmt.Errorf("failed to get registry: %w", err)
	}
	w := &waylandCompositor{
		loop:     loop,
		registry: registry,
		logger:   logger,
		outputs:  make(map[uint32]*wlOutput),
		wake:     make(chan struct{}, 1),
		events:   make(chan output.Event, 32),
	}
	registry.SetGlobalHandler(w.onGlobal)
	registry.SetGlobalRemoveHandler(w.onGlobalRemove)

	go func() {
		err := loop.Run()
		logger.Debug("wayland dispatch ended", "error", err)
	}()
	go w.forward()

	// First roundtrip collects globals; the second collects output state
	// for the outputs bound during the first.
	for i := 0; i < 2; i++ {
		if err := loop.Roundtrip(ctx); err != nil {
			_ = loop.Close()
			return nil, fmt.Errorf("wayland roundtrip: %w", err)
		}
	}

	if w.compositor == nil || w.shm == nil || w.layerShell == nil {
		_ = loop.Close()
		return nil, ErrLayerShellMissing
	}
	return w, nil
}

func (w *waylandCompositor) Name() string { return "wayland" }

func (w *waylandCompositor) onGlobal(e client.RegistryGlobalEvent) {
	ctx := w.loop.Context()
	var err error
	switch e.Interface {
	case "wl_compositor":
		c := client.NewCompositor(ctx)
		if err = w.registry.Bind(e.Name, e.Interface, min(e.Version, 4), c); err == nil {
			w.compositor = c
		}
	case "wl_shm":
		s := client.NewShm(ctx)
		if err = w.registry.Bind(e.Name, e.Interface, 1, s); err == nil {
			w.shm = s
		}
	case wlr_layer_shell.ZwlrLayerShellV1InterfaceName:
		ls := wlr_layer_shell.NewZwlrLayerShellV1(ctx)
		if err = w.registry.Bind(e.Name, e.Interface, min(e.Version, 4), ls); err == nil {
			w.layerShell = ls
		}
	case wp_viewporter.WpViewporterInterfaceName:
		vp := wp_viewporter.NewWpViewporter(ctx)
		if err = w.registry.Bind(e.Name, e.Interface, 1, vp); err == nil {
			w.viewporter = vp
		}
	case "wl_output":
		var o *wayland.Output
		if o, err = wayland.BindOutput(ctx, w.registry, e, w.onOutputDone); err == nil {
			w.mu.Lock()
			w.outputs[e.Name] = &wlOutput{obj: o}
			w.mu.Unlock()
		}
	}
	if err != nil {
		w.logger.Warn("failed to bind global", "interface", e.Interface, "error", err)
	}
}

func (w *waylandCompositor) onGlobalRemove(e client.RegistryGlobalRemoveEvent) {
	w.mu.Lock()
	wo, ok := w.outputs[e.Name]
	delete(w.outputs, e.Name)
	w.mu.Unlock()
	if !ok {
		return
	}
	_ = wo.obj.Release()
	if wo.announced {
		w.emit(output.Event{Kind: output.EventRemoved, Output: wo.out})
	}
}

func (w *waylandCompositor) onOutputDone(o *wayland.Output) {
	out := outputFromInfo(o.Info(), o.GlobalName())

	w.mu.Lock()
	wo, ok := w.outputs[o.GlobalName()]
	if !ok {
		w.mu.Unlock()
		return
	}
	kind := output.EventChanged
	if !wo.announced {
		kind = output.EventAdded
	} else if wo.out == out {
		w.mu.Unlock()
		return
	}
	wo.out, wo.announced = out, true
	w.mu.Unlock()

	w.emit(output.Event{Kind: kind, Output: out})
}

// outputFromInfo converts wl_output state. Modes are in pixels; the
// geometry carries the logical size.
func outputFromInfo(info wayland.OutputInfo, global uint32) output.Output {
	name := info.Name
	if name == "" {
		name = fmt.Sprintf("wl-output-%d", global)
	}
	scale := float64(info.Scale)
	if scale <= 0 {
		scale = 1
	}
	t := output.Transform(info.Transform)
	pw, ph := int(info.Width), int(info.Height)
	if t.Rotated() {
		pw, ph = ph, pw
	}
	return output.Output{
		Name:        name,
		Description: info.Description,
		Geometry: output.Geometry{
			X:          int(info.X),
			Y:          int(info.Y),
			Width:      int(math.Round(float64(pw) / scale)),
			Height:     int(math.Round(float64(ph) / scale)),
			Scale:      scale,
			Transform:  t,
			RefreshMHz: int(info.RefreshMHz),
		},
		Connected: true,
	}
}

// emit queues an event without blocking the loop goroutine, which may
// owe a reply to a caller that is itself the event consumer.
func (w *waylandCompositor) emit(ev output.Event) {
	w.mu.Lock()
	w.queued = append(w.queued, ev)
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// forward moves queued events onto the events channel in order and
// closes it once the connection is gone.
func (w *waylandCompositor) forward() {
	defer close(w.events)
	for {
		w.mu.Lock()
		batch := w.queued
		w.queued = nil
		w.mu.Unlock()
		for _, ev := range batch {
			select {
			case w.events <- ev:
			case <-w.loop.Done():
				return
			}
		}
		select {
		case <-w.wake:
		case <-w.loop.Done():
			return
		}
	}
}

func (w *waylandCompositor) Outputs() []output.Output {
	w.mu.Lock()
	defer w.mu.Unlock()
	m := make(map[string]output.Output, len(w.outputs))
	for _, wo := range w.outputs {
		if wo.announced {
			m[wo.out.Name] = wo.out
		}
	}
	return sortedOutputs(m)
}

func (w *waylandCompositor) Events() <-chan output.Event { return w.events }

func (w *waylandCompositor) findOutput(name string) (*wlOutput, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, wo := range w.outputs {
		if wo.announced && wo.out.Name == name {
			cp := *wo
			return &cp, true
		}
	}
	return nil, false
}

func (w *waylandCompositor) CreateSurface(ctx context.Context, spec SurfaceSpec) (Surface, error) {
	wo, ok := w.findOutput(spec.Output)
	if !ok {
		return nil, unknownOutput(spec.Output)
	}

	s := &waylandSurface{
		comp:       w,
		name:       spec.Output,
		fallback:   wo.out.Geometry,
		scale:      wo.out.Geometry.Scale,
		transform:  wo.out.Geometry.Transform,
		configured: make(chan struct{}),
		frame:      make(chan struct{}, 1),
		closed:     make(chan struct{}),
	}
	err := w.loop.Do(func() error {
		surf, err := w.compositor.CreateSurface()
		if err != nil {
			return err
		}
		s.surf = surf
		ls, err := w.layerShell.GetLayerSurface(surf, wo.obj.Proxy(), uint32(spec.Layer), spec.Namespace)
		if err != nil {
			return err
		}
		s.layer = ls
		ls.SetConfigureHandler(s.onConfigure)
		ls.SetClosedHandler(func(wlr_layer_shell.ZwlrLayerSurfaceV1ClosedEvent) { s.markClosed() })

		if w.viewporter != nil {
			if s.viewport, err = w.viewporter.GetViewport(surf); err != nil {
				return err
			}
		}
		setup := []func() error{
			func() error { return ls.SetSize(0, 0) },
			func() error { return ls.SetAnchor(uint32(spec.Anchor)) },
			func() error { return ls.SetExclusiveZone(int32(spec.ExclusiveZone)) },
			func() error {
				return ls.SetKeyboardInteractivity(uint32(wlr_layer_shell.ZwlrLayerSurfaceV1KeyboardInteractivityNone))
			},
			surf.Commit,
		}
		for _, step := range setup {
			if err := step(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = s.Destroy()
		return nil, err
	}

	select {
	case <-s.configured:
		return s, nil
	case <-w.loop.Done():
		_ = s.Destroy()
		return nil, w.loop.Err()
	case <-ctx.Done():
		_ = s.Destroy()
		return nil, ctx.Err()
	}
}

func (w *waylandCompositor) Close() error {
	return w.loop.Close()
}

type shmBuffer struct {
	file   *wayland.ShmFile
	buf    *client.Buffer
	width  int
	height int
	stride int

	mu   sync.Mutex
	busy bool
}

func (b *shmBuffer) setBusy(v bool) {
	b.mu.Lock()
	b.busy = v
	b.mu.Unlock()
}

func (b *shmBuffer) isBusy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.busy
}

type waylandSurface struct {
	comp     *waylandCompositor
	name     string
	fallback output.Geometry

	// Protocol objects, touched only on the loop goroutine.
	surf     *client.Surface
	layer    *wlr_layer_shell.ZwlrLayerSurfaceV1
	viewport *wp_viewporter.WpViewport

	// geomMu guards the size state, which the configure handler writes
	// on the loop goroutine. It is never held across loop.Do.
	geomMu    sync.Mutex
	logicalW  int
	logicalH  int
	scale     float64
	transform output.Transform

	// mu serialises Present and Destroy.
	mu        sync.Mutex
	bufs      [2]*shmBuffer
	next      int
	destroyed bool

	configured     chan struct{}
	configuredOnce sync.Once
	frame          chan struct{}
	closed         chan struct{}
	closeOnce      sync.Once
}

func (s *waylandSurface) Output() string { return s.name }

func (s *waylandSurface) onConfigure(e wlr_layer_shell.ZwlrLayerSurfaceV1ConfigureEvent) {
	if err := s.layer.AckConfigure(e.Serial); err != nil {
		s.comp.logger.Warn("failed to ack configure", "output", s.name, "error", err)
	}
	s.geomMu.Lock()
	s.logicalW, s.logicalH = int(e.Width), int(e.Height)
	if s.logicalW == 0 || s.logicalH == 0 {
		s.logicalW, s.logicalH = s.fallback.Width, s.fallback.Height
	}
	s.geomMu.Unlock()
	s.configuredOnce.Do(func() { close(s.configured) })
}

func (s *waylandSurface) markClosed() {
	s.closeOnce.Do(func() { close(s.closed) })
}

func (s *waylandSurface) Size() (int, int) {
	s.geomMu.Lock()
	defer s.geomMu.Unlock()
	return int(math.Round(float64(s.logicalW) * s.scale)), int(math.Round(float64(s.logicalH) * s.scale))
}

func (s *waylandSurface) BufferTransform() output.Transform {
	s.geomMu.Lock()
	defer s.geomMu.Unlock()
	return s.transform
}

func (s *waylandSurface) Configure(g output.Geometry) error {
	s.geomMu.Lock()
	defer s.geomMu.Unlock()
	if g.Scale > 0 {
		s.scale = g.Scale
	}
	s.transform = g.Transform
	s.fallback = g
	if s.logicalW == 0 || s.logicalH == 0 {
		s.logicalW, s.logicalH = g.Width, g.Height
	}
	return nil
}

// buffer returns a free buffer of the requested size, allocating or
// reallocating one of the two slots as needed. Callers hold s.mu.
func (s *waylandSurface) buffer(width, height int) (*shmBuffer, error) {
	for i := 0; i < len(s.bufs); i++ {
		idx := (s.next + i) % len(s.bufs)
		b := s.bufs[idx]
		if b != nil && b.isBusy() {
			continue
		}
		if b != nil && b.width == width && b.height == height {
			s.next = (idx + 1) % len(s.bufs)
			return b, nil
		}
		if b != nil {
			s.freeBuffers(b)
			s.bufs[idx] = nil
		}
		nb, err := s.allocBuffer(width, height)
		if err != nil {
			return nil, err
		}
		s.bufs[idx] = nb
		s.next = (idx + 1) % len(s.bufs)
		return nb, nil
	}
	return nil, ErrBuffersBusy
}

func (s *waylandSurface) allocBuffer(width, height int) (*shmBuffer, error) {
	stride := width * 4
	size := stride * height
	file, err := wayland.AllocShm(size)
	if err != nil {
		return nil, err
	}
	b := &shmBuffer{file: file, width: width, height: height, stride: stride}
	err = s.comp.loop.Do(func() error {
		pool, err := s.comp.shm.CreatePool(file.FD(), int32(size))
		if err != nil {
			return err
		}
		defer pool.Destroy()
		buf, err := pool.CreateBuffer(0, int32(width), int32(height), int32(stride), shmFormatXRGB8888)
		if err != nil {
			return err
		}
		buf.SetReleaseHandler(func(client.BufferReleaseEvent) { b.setBusy(false) })
		b.buf = buf
		return nil
	})
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return b, nil
}

// freeBuffers destroys the protocol buffers, then unmaps their memory.
func (s *waylandSurface) freeBuffers(bufs ...*shmBuffer) {
	_ = s.comp.loop.Do(func() error {
		for _, b := range bufs {
			if b != nil && b.buf != nil {
				_ = b.buf.Destroy()
			}
		}
		return nil
	})
	for _, b := range bufs {
		if b != nil {
			_ = b.file.Close()
		}
	}
}

func (s *waylandSurface) Present(img Image) error {
	select {
	case <-s.closed:
		return ErrSurfaceClosed
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrSurfaceClosed
	}

	b, err := s.buffer(img.Width, img.Height)
	if err != nil {
		return err
	}
	wayland.CopyRGBAToXRGB(b.file.Bytes(), b.stride, img.Pix, img.Stride, img.Width, img.Height)

	s.geomMu.Lock()
	transform, scale := s.transform, s.scale
	logicalW, logicalH := s.logicalW, s.logicalH
	s.geomMu.Unlock()

	b.setBusy(true)
	err = s.comp.loop.Do(func() error {
		if err := s.surf.Attach(b.buf, 0, 0); err != nil {
			return err
		}
		if err := s.surf.DamageBuffer(0, 0, int32(img.Width), int32(img.Height)); err != nil {
			return err
		}
		if err := s.surf.SetBufferTransform(int32(transform)); err != nil {
			return err
		}
		if s.viewport != nil {
			if err := s.viewport.SetDestination(int32(logicalW), int32(logicalH)); err != nil {
				return err
			}
		} else if err := s.surf.SetBufferScale(int32(math.Max(1, math.Round(scale)))); err != nil {
			return err
		}
		cb, err := s.surf.Frame()
		if err != nil {
			return err
		}
		cb.SetDoneHandler(func(client.CallbackDoneEvent) {
			select {
			case s.frame <- struct{}{}:
			default:
			}
		})
		return s.surf.Commit()
	})
	if err != nil {
		b.setBusy(false)
	}
	return err
}

func (s *waylandSurface) FrameDone() <-chan struct{} { return s.frame }

func (s *waylandSurface) Destroy() error {
	s.markClosed()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return nil
	}
	s.destroyed = true

	err := s.comp.loop.Do(func() error {
		if s.viewport != nil {
			_ = s.viewport.Destroy()
			s.viewport = nil
		}
		if s.layer != nil {
			_ = s.layer.Destroy()
		}
		if s.surf != nil {
			return s.surf.Destroy()
		}
		return nil
	})
	s.freeBuffers(s.bufs[:]...)
	s.bufs = [2]*shmBuffer{}
	return err
}
