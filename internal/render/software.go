package render

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/1broseidon/vidwall/internal/colorspace"
	"github.com/1broseidon/vidwall/internal/decode"
	"github.com/1broseidon/vidwall/internal/platform"
)

// softwareBackend renders on the CPU with the same math as the compute
// shader. Headless runs and tests use it; it is never picked by auto.
type softwareBackend struct{}

// NewSoftware returns the CPU reference backend.
func NewSoftware() Backend { return softwareBackend{} }

func (softwareBackend) Name() string { return BackendSoftware }
func (softwareBackend) Open() error  { return nil }
func (softwareBackend) Close()       {}

func (softwareBackend) Initialize(target Target) (Context, error) {
	if target.Width <= 0 || target.Height <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", target.Width, target.Height)
	}
	c := &softwareContext{target: target}
	c.alloc(target.Width, target.Height)
	return c, nil
}

type softwareContext struct {
	mu       sync.Mutex
	target   Target
	accum    []byte
	bw, bh   int
	rendered bool
	torn     bool
}

func (c *softwareContext) alloc(w, h int) {
	c.target.Width, c.target.Height = w, h
	c.bw, c.bh = BufferSize(c.target.Transform, w, h)
	c.accum = make([]byte, c.bw*c.bh*4)
	c.rendered = false
}

func (c *softwareContext) Size() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target.Width, c.target.Height
}

func (c *softwareContext) UploadTexture(p decode.Plane) (*Texture, error) {
	pix, err := packPlane(p)
	if err != nil {
		return nil, err
	}
	return &Texture{Width: p.Width, Height: p.Height, pixels: pix}, nil
}

func (c *softwareContext) ReleaseTexture(t *Texture) {
	if t != nil {
		t.pixels = nil
	}
}

func (c *softwareContext) Render(ctx context.Context, layers []Layer, tm ToneMap) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.torn {
		return ErrTornDown
	}
	if ctx.Err() != nil {
		return ErrAborted
	}

	for i := 0; i < len(c.accum); i += 4 {
		c.accum[i], c.accum[i+1], c.accum[i+2], c.accum[i+3] = 0, 0, 0, 0xff
	}
	for _, l := range layers {
		if ctx.Err() != nil {
			c.rendered = false
			return ErrAborted
		}
		if l.Texture == nil || l.Texture.pixels == nil {
			continue
		}
		inv, ok := l.Transform.Invert()
		if !ok {
			continue
		}
		compositeLayer(c.accum, c.bw, c.bh, l, inv, tm)
	}
	c.rendered = true
	return nil
}

func compositeLayer(dst []byte, bw, bh int, l Layer, inv Affine, tm ToneMap) {
	tex := l.Texture
	for y := 0; y < bh; y++ {
		for x := 0; x < bw; x++ {
			sx, sy := inv.Apply(float64(x)+0.5, float64(y)+0.5)
			r, g, b, a := sampleBilinear(tex.pixels, tex.Width, tex.Height, sx, sy)
			if a <= 0 {
				continue
			}
			r, g, b = ToneMapPixel(tm, r, g, b)
			alpha := a * l.Opacity
			i := (y*bw + x) * 4
			dst[i+0] = toByte(Composite(l.Blend, float64(dst[i+0])/255, r, alpha))
			dst[i+1] = toByte(Composite(l.Blend, float64(dst[i+1])/255, g, alpha))
			dst[i+2] = toByte(Composite(l.Blend, float64(dst[i+2])/255, b, alpha))
		}
	}
}

// sampleBilinear samples packed RGBA8 at a point in pixel space (texel
// centers at +0.5). Points outside the texture have zero coverage.
func sampleBilinear(pix []byte, w, h int, x, y float64) (r, g, b, a float64) {
	if x < 0 || y < 0 || x >= float64(w) || y >= float64(h) {
		return 0, 0, 0, 0
	}
	u, v := x-0.5, y-0.5
	x0, y0 := int(math.Floor(u)), int(math.Floor(v))
	fx, fy := u-float64(x0), v-float64(y0)

	var acc [4]float64
	for _, tap := range [4]struct {
		dx, dy int
		w      float64
	}{
		{0, 0, (1 - fx) * (1 - fy)},
		{1, 0, fx * (1 - fy)},
		{0, 1, (1 - fx) * fy},
		{1, 1, fx * fy},
	} {
		tx := clampInt(x0+tap.dx, 0, w-1)
		ty := clampInt(y0+tap.dy, 0, h-1)
		i := (ty*w + tx) * 4
		for ch := 0; ch < 4; ch++ {
			acc[ch] += float64(pix[i+ch]) / 255 * tap.w
		}
	}
	return acc[0], acc[1], acc[2], acc[3]
}

func (c *softwareContext) Present(ctx context.Context, hdr *colorspace.Metadata) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.torn {
		return ErrTornDown
	}
	if ctx.Err() != nil {
		return ErrAborted
	}
	if !c.rendered {
		return ErrNothingRendered
	}
	if c.target.Presenter == nil {
		return nil
	}
	img := platform.Image{Pix: c.accum, Width: c.bw, Height: c.bh, Stride: c.bw * 4}
	if c.target.Passthrough {
		img.HDR = hdr
	}
	return c.target.Presenter.Present(img)
}

func (c *softwareContext) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid size %dx%d", width, height)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.torn {
		return ErrTornDown
	}
	c.alloc(width, height)
	return nil
}

func (c *softwareContext) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.torn = true
	c.accum = nil
}

// packPlane copies a plane into tightly packed RGBA8.
func packPlane(p decode.Plane) ([]byte, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return nil, fmt.Errorf("invalid plane size %dx%d", p.Width, p.Height)
	}
	stride := p.Stride
	if stride == 0 {
		stride = p.Width * 4
	}
	if len(p.Pix) < stride*(p.Height-1)+p.Width*4 {
		return nil, fmt.Errorf("plane buffer too small: %d bytes for %dx%d stride %d", len(p.Pix), p.Width, p.Height, stride)
	}
	row := p.Width * 4
	if stride == row {
		return append([]byte(nil), p.Pix[:row*p.Height]...), nil
	}
	out := make([]byte, row*p.Height)
	for y := 0; y < p.Height; y++ {
		copy(out[y*row:], p.Pix[y*stride:y*stride+row])
	}
	return out, nil
}

func toByte(v float64) byte {
	return byte(clampUnit(v)*255 + 0.5)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
