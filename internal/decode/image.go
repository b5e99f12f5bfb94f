package decode

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"sync"
	"time"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/1broseidon/vidwall/internal/colorspace"
	"github.com/1broseidon/vidwall/internal/config"
)

var sdrColor = colorspace.Metadata{Space: colorspace.SpaceSDR, Transfer: colorspace.TransferSRGB}

// LoadImage decodes an image file into RGBA. When maxW and maxH are positive
// and the image is larger than needed to cover a maxW×maxH output, it is
// scaled down first.
func LoadImage(path string, maxW, maxH int) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return prescale(src, maxW, maxH), nil
}

func prescale(src image.Image, maxW, maxH int) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxW > 0 && maxH > 0 && w > 0 && h > 0 {
		s := math.Max(float64(maxW)/float64(w), float64(maxH)/float64(h))
		if s < 1 {
			dw := max(int(math.Ceil(float64(w)*s)), 1)
			dh := max(int(math.Ceil(float64(h)*s)), 1)
			dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
			draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
			return dst
		}
	}
	if rgba, ok := src.(*image.RGBA); ok && b.Min == (image.Point{}) {
		return rgba
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// planeFrom copies img into a budget buffer.
func planeFrom(ctx context.Context, budget Allocator, img *image.RGBA) (Plane, []byte, error) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	buf, err := budget.Acquire(ctx, w*h*4)
	if err != nil {
		return Plane{}, nil, err
	}
	row := w * 4
	for y := 0; y < h; y++ {
		copy(buf[y*row:(y+1)*row], img.Pix[y*img.Stride:y*img.Stride+row])
	}
	return Plane{Pix: buf, Width: w, Height: h, Stride: row, Blend: config.BlendNormal, Opacity: 1, Scale: 1}, buf, nil
}

// staticEngine emits one frame, then again only when the size hint grows.
type staticEngine struct {
	budget Allocator
	build  func(ctx context.Context, maxW, maxH int) (*Frame, error)

	mu      sync.Mutex
	maxW    int
	maxH    int
	emitted bool
	grown   chan struct{}
}

func newStaticEngine(budget Allocator, build func(ctx context.Context, maxW, maxH int) (*Frame, error)) *staticEngine {
	return &staticEngine{budget: budget, build: build, grown: make(chan struct{}, 1)}
}

func (e *staticEngine) Interval() time.Duration { return 0 }
func (e *staticEngine) Close() error            { return nil }

func (e *staticEngine) HintSize(width, height int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if width <= e.maxW && height <= e.maxH {
		return
	}
	e.maxW, e.maxH = max(e.maxW, width), max(e.maxH, height)
	if e.emitted {
		select {
		case e.grown <- struct{}{}:
		default:
		}
	}
}

func (e *staticEngine) Next(ctx context.Context) (*Frame, error) {
	e.mu.Lock()
	emitted := e.emitted
	e.mu.Unlock()
	if emitted {
		select {
		case <-e.grown:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	e.mu.Lock()
	maxW, maxH := e.maxW, e.maxH
	e.emitted = true
	e.mu.Unlock()
	return e.build(ctx, maxW, maxH)
}

// OpenImage returns an engine for a single still image.
func OpenImage(path string, budget Allocator) (Engine, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return newStaticEngine(budget, func(ctx context.Context, maxW, maxH int) (*Frame, error) {
		img, err := LoadImage(path, maxW, maxH)
		if err != nil {
			return nil, err
		}
		p, buf, err := planeFrom(ctx, budget, img)
		if err != nil {
			return nil, err
		}
		return NewFrame([]Plane{p}, 0, sdrColor, func() { budget.Release(buf) }), nil
	}), nil
}

// OpenScene returns an engine emitting one multi-plane frame per layer
// stack.
func OpenScene(layers []config.SceneLayer, budget Allocator) (Engine, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("scene has no layers")
	}
	for _, l := range layers {
		if _, err := os.Stat(l.Image); err != nil {
			return nil, fmt.Errorf("scene layer: %w", err)
		}
	}
	return newStaticEngine(budget, func(ctx context.Context, maxW, maxH int) (*Frame, error) {
		planes := make([]Plane, 0, len(layers))
		bufs := make([][]byte, 0, len(layers))
		release := func() {
			for _, b := range bufs {
				budget.Release(b)
			}
		}
		for _, l := range layers {
			lw, lh := maxW, maxH
			if l.Scale > 1 {
				lw, lh = int(math.Ceil(float64(maxW)*l.Scale)), int(math.Ceil(float64(maxH)*l.Scale))
			}
			img, err := LoadImage(l.Image, lw, lh)
			if err != nil {
				release()
				return nil, err
			}
			p, buf, err := planeFrom(ctx, budget, img)
			if err != nil {
				release()
				return nil, err
			}
			bufs = append(bufs, buf)
			p.Blend = l.Blend
			if p.Blend == "" {
				p.Blend = config.BlendNormal
			}
			p.Opacity, p.Scale, p.OffsetX, p.OffsetY = l.Opacity, l.Scale, l.OffsetX, l.OffsetY
			if p.Scale == 0 {
				p.Scale = 1
			}
			planes = append(planes, p)
		}
		return NewFrame(planes, 0, sdrColor, release), nil
	}), nil
}
