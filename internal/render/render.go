// Package render turns decoded frames into output-sized RGBA images. It
// hides the GPU backend behind a small capability interface; the backend is
// chosen once per process.
package render

import (
	"context"
	"errors"

	"github.com/1broseidon/vidwall/internal/colorspace"
	"github.com/1broseidon/vidwall/internal/config"
	"github.com/1broseidon/vidwall/internal/decode"
	"github.com/1broseidon/vidwall/internal/output"
	"github.com/1broseidon/vidwall/internal/platform"
)

// Backend names.
const (
	BackendVulkan   = "vulkan"
	BackendOpenGL   = "opengl"
	BackendSoftware = "software"
)

var (
	ErrBackendNotAvailable = errors.New("render backend not available")
	ErrVulkanNotCompiled   = errors.New("vulkan support not compiled in")
	ErrAborted             = errors.New("render aborted")
	ErrTornDown            = errors.New("render context torn down")
	ErrNothingRendered     = errors.New("present called before render")
)

// Presenter receives finished frames; platform.Surface satisfies it.
type Presenter interface {
	Present(img platform.Image) error
}

// Target describes the output a context renders for.
type Target struct {
	Output    string
	Width     int // pixels
	Height    int // pixels
	Transform output.Transform
	// Passthrough forwards HDR metadata instead of tone mapping.
	Passthrough bool
	Presenter   Presenter
}

// Texture is an uploaded plane owned by the context that created it.
type Texture struct {
	Width  int
	Height int

	id     uint64
	pixels []byte // packed RGBA8, CPU side
	handle any    // backend resource
}

// Layer is one textured quad to composite.
type Layer struct {
	Texture   *Texture
	Transform Affine // source pixel space -> output pixel space
	Blend     config.Blend
	Opacity   float64
}

// ToneMap configures the HDR stage for one render call. A zero value
// disables it.
type ToneMap struct {
	Operator config.ToneMap
	Transfer colorspace.Transfer
	Peak     float64 // nits
}

// Enabled reports whether the stage runs.
func (t ToneMap) Enabled() bool {
	return t.Operator != "" && t.Transfer.IsHDR()
}

// Backend is a process-wide GPU backend. Open creates the shared objects,
// Close destroys them; neither runs on the hot path.
type Backend interface {
	Name() string
	Open() error
	Initialize(target Target) (Context, error)
	Close()
}

// Context holds one output's GPU resources.
type Context interface {
	UploadTexture(p decode.Plane) (*Texture, error)
	ReleaseTexture(t *Texture)
	Render(ctx context.Context, layers []Layer, tm ToneMap) error
	// Present waits for the last render and hands the pixels to the
	// target's presenter along with the metadata to forward, if any.
	Present(ctx context.Context, hdr *colorspace.Metadata) error
	Resize(width, height int) error
	Size() (int, int)
	// Teardown waits for in-flight GPU work before freeing resources.
	Teardown()
}

// PlanToneMap decides whether frames with the given metadata need tone
// mapping on an output.
func PlanToneMap(meta colorspace.Metadata, passthrough bool, mode config.HDRMode, op config.ToneMap) ToneMap {
	if mode == config.HDRModeDisable || passthrough {
		return ToneMap{}
	}
	transfer := meta.Transfer
	if mode == config.HDRModeForce && !transfer.IsHDR() {
		transfer = colorspace.TransferPQ
	}
	if !transfer.IsHDR() {
		return ToneMap{}
	}
	return ToneMap{Operator: op, Transfer: transfer, Peak: meta.PeakNits()}
}

// LayersFor builds the layer stack for a frame: one layer per plane, placed
// by the layout and the plane's own scale and offset.
func LayersFor(textures []*Texture, planes []decode.Plane, layout config.Layout, width, height int, t output.Transform) []Layer {
	layers := make([]Layer, 0, len(textures))
	for i, tex := range textures {
		p := planes[i]
		m := LayoutTransform(layout, tex.Width, tex.Height, width, height, t)
		scale := p.Scale
		if scale == 0 {
			scale = 1
		}
		if scale != 1 || p.OffsetX != 0 || p.OffsetY != 0 {
			cx, cy := float64(width)/2, float64(height)/2
			m = Translate(cx+p.OffsetX*float64(width), cy+p.OffsetY*float64(height)).
				Mul(Scale(scale, scale)).
				Mul(Translate(-cx, -cy)).
				Mul(m)
		}
		blend := p.Blend
		if blend == "" {
			blend = config.BlendNormal
		}
		layers = append(layers, Layer{Texture: tex, Transform: m, Blend: blend, Opacity: p.Opacity})
	}
	return layers
}
