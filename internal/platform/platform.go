// Package platform abstracts the display server: output enumeration,
// hotplug events and background surfaces that frames are presented to.
package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/1broseidon/vidwall/internal/colorspace"
	"github.com/1broseidon/vidwall/internal/output"
	"github.com/1broseidon/vidwall/internal/proto/wlr_layer_shell"
)

var (
	ErrNoDisplay         = errors.New("no Wayland or X11 display found")
	ErrLayerShellMissing = errors.New("compositor does not support zwlr_layer_shell_v1")
	ErrUnknownOutput     = errors.New("unknown output")
	ErrSurfaceClosed     = errors.New("surface closed by compositor")
	ErrBuffersBusy       = errors.New("no free buffer to present into")
)

// Layer is a layer-shell stacking layer.
type Layer int

const (
	LayerBackground = Layer(wlr_layer_shell.ZwlrLayerShellV1LayerBackground)
	LayerBottom     = Layer(wlr_layer_shell.ZwlrLayerShellV1LayerBottom)
)

// Anchor is a bitmask of the edges a surface is pinned to.
type Anchor uint32

const (
	AnchorTop    = Anchor(wlr_layer_shell.ZwlrLayerSurfaceV1AnchorTop)
	AnchorBottom = Anchor(wlr_layer_shell.ZwlrLayerSurfaceV1AnchorBottom)
	AnchorLeft   = Anchor(wlr_layer_shell.ZwlrLayerSurfaceV1AnchorLeft)
	AnchorRight  = Anchor(wlr_layer_shell.ZwlrLayerSurfaceV1AnchorRight)

	AnchorAll = AnchorTop | AnchorBottom | AnchorLeft | AnchorRight
)

// Namespace is the layer-shell namespace of every surface we create.
const Namespace = "vidwall"

// SurfaceSpec describes the surface to create on one output.
type SurfaceSpec struct {
	Output        string
	Layer         Layer
	Anchor        Anchor
	ExclusiveZone int
	Namespace     string
}

// BackgroundSpec is a full-output background surface that reserves no space
// and ignores other surfaces' exclusive zones.
func BackgroundSpec(outputName string) SurfaceSpec {
	return SurfaceSpec{
		Output:        outputName,
		Layer:         LayerBackground,
		Anchor:        AnchorAll,
		ExclusiveZone: -1,
		Namespace:     Namespace,
	}
}

// Image is a rendered RGBA8 frame ready to present.
type Image struct {
	Pix    []byte
	Width  int
	Height int
	Stride int
	HDR    *colorspace.Metadata
}

// Surface is a presentable background surface bound to one output.
type Surface interface {
	Output() string
	// Size is the surface size in pixels, in display orientation.
	Size() (int, int)
	// BufferTransform is the transform presented images must be rendered
	// with; rotated transforms swap the image dimensions.
	BufferTransform() output.Transform
	Configure(g output.Geometry) error
	Present(img Image) error
	// FrameDone signals when the compositor wants the next frame. A nil
	// channel means the platform has no frame pacing.
	FrameDone() <-chan struct{}
	Destroy() error
}

// Compositor is a connection to the display server.
type Compositor interface {
	Name() string
	Outputs() []output.Output
	Events() <-chan output.Event
	CreateSurface(ctx context.Context, spec SurfaceSpec) (Surface, error)
	Close() error
}

// FullscreenDetector reports which outputs are covered by a fullscreen
// window. Watch calls fn whenever the set may have changed and blocks until
// ctx is done.
type FullscreenDetector interface {
	Watch(ctx context.Context, fn func(map[string]bool)) error
}

// Options selects and configures the platform.
type Options struct {
	Headless bool
	// Outputs seeds the headless compositor.
	Outputs []output.Output
	Logger  *slog.Logger
}

// Open connects to the running display server: Wayland when WAYLAND_DISPLAY
// is set, X11 when DISPLAY is set.
func Open(ctx context.Context, opts Options) (Compositor, error) {
	if opts.Headless {
		return NewHeadless(opts.Outputs...), nil
	}
	if os.Getenv("WAYLAND_DISPLAY") != "" {
		return OpenWayland(ctx, opts.Logger)
	}
	if os.Getenv("DISPLAY") != "" {
		return OpenX11(ctx, opts.Logger)
	}
	return nil, ErrNoDisplay
}

func sortedOutputs(m map[string]output.Output) []output.Output {
	out := make([]output.Output, 0, len(m))
	for _, o := range m {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// diffOutputs compares two output snapshots keyed by name.
func diffOutputs(prev, next map[string]output.Output) []output.Event {
	var events []output.Event
	for _, o := range sortedOutputs(next) {
		old, ok := prev[o.Name]
		switch {
		case !ok:
			events = append(events, output.Event{Kind: output.EventAdded, Output: o})
		case old != o:
			events = append(events, output.Event{Kind: output.EventChanged, Output: o})
		}
	}
	for _, o := range sortedOutputs(prev) {
		if _, ok := next[o.Name]; !ok {
			events = append(events, output.Event{Kind: output.EventRemoved, Output: o})
		}
	}
	return events
}

func unknownOutput(name string) error {
	return fmt.Errorf("%w: %s", ErrUnknownOutput, name)
}
