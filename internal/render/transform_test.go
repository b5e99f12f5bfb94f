package render

import (
	"math"
	"testing"

	"github.com/1broseidon/vidwall/internal/config"
	"github.com/1broseidon/vidwall/internal/decode"
	"github.com/1broseidon/vidwall/internal/output"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestLayout(t *testing.T) {
	tests := []struct {
		layout         config.Layout
		wantA, wantE   float64
		wantTX, wantTY float64
	}{
		{config.LayoutFill, 1, 1, -50, 0},
		{config.LayoutFit, 0.5, 0.5, 0, 25},
		{config.LayoutStretch, 0.5, 1, 0, 0},
		{config.LayoutCenter, 1, 1, -50, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.layout), func(t *testing.T) {
			m := Layout(tt.layout, 200, 100, 100, 100)
			if !approx(m.A, tt.wantA) || !approx(m.E, tt.wantE) || !approx(m.C, tt.wantTX) || !approx(m.F, tt.wantTY) {
				t.Fatalf("Layout(%s) = %+v", tt.layout, m)
			}
		})
	}

	if got := Layout(config.LayoutFill, 0, 100, 100, 100); got != Identity {
		t.Fatalf("degenerate source should give identity, got %+v", got)
	}
}

func TestOutputTransformMapsOntoBuffer(t *testing.T) {
	const w, h = 160, 90
	for tr := output.TransformNormal; tr <= output.TransformFlipped270; tr++ {
		t.Run(tr.String(), func(t *testing.T) {
			m := OutputTransform(tr, w, h)
			bw, bh := BufferSize(tr, w, h)
			if tr.Rotated() && (bw != h || bh != w) {
				t.Fatalf("BufferSize(%s) = %dx%d, want swapped", tr, bw, bh)
			}

			want := map[[2]float64]bool{
				{0, 0}: true, {float64(bw), 0}: true,
				{0, float64(bh)}: true, {float64(bw), float64(bh)}: true,
			}
			for _, p := range [][2]float64{{0, 0}, {w, 0}, {0, h}, {w, h}} {
				x, y := m.Apply(p[0], p[1])
				key := [2]float64{math.Round(x), math.Round(y)}
				if !want[key] {
					t.Fatalf("corner %v mapped to (%g,%g), outside %dx%d buffer corners", p, x, y, bw, bh)
				}
				delete(want, key)
			}
		})
	}
}

func TestOutputTransformOrientation(t *testing.T) {
	// The top-left of the display is the bottom-left of a buffer rotated
	// by 90 degrees.
	x, y := OutputTransform(output.Transform90, 100, 50).Apply(0, 0)
	if !approx(x, 50) || !approx(y, 0) {
		t.Fatalf("90: got (%g,%g)", x, y)
	}
	x, y = OutputTransform(output.TransformFlipped, 100, 50).Apply(10, 5)
	if !approx(x, 90) || !approx(y, 5) {
		t.Fatalf("flipped: got (%g,%g)", x, y)
	}
}

func TestAffineInvert(t *testing.T) {
	m := Translate(10, -4).Mul(Rotate(math.Pi / 6)).Mul(Scale(2, 3))
	inv, ok := m.Invert()
	if !ok {
		t.Fatal("expected invertible")
	}
	x, y := inv.Apply(m.Apply(7, 11))
	if !approx(x, 7) || !approx(y, 11) {
		t.Fatalf("round trip gave (%g,%g)", x, y)
	}
	if _, ok := Scale(0, 1).Invert(); ok {
		t.Fatal("singular matrix inverted")
	}
}

func TestLayersForAppliesPlaneOffsets(t *testing.T) {
	tex := []*Texture{{Width: 100, Height: 100}, {Width: 100, Height: 100}}
	planes := []decode.Plane{
		{Scale: 1, Opacity: 1},
		{Scale: 0.5, OffsetX: 0.25, Opacity: 0.5, Blend: config.BlendScreen},
	}
	layers := LayersFor(tex, planes, config.LayoutStretch, 100, 100, output.TransformNormal)
	if len(layers) != 2 {
		t.Fatalf("got %d layers", len(layers))
	}
	if layers[0].Blend != config.BlendNormal || layers[0].Transform != Identity {
		t.Fatalf("base layer = %+v", layers[0])
	}
	// The half-size layer is centered, then shifted right by a quarter
	// of the output width.
	x, y := layers[1].Transform.Apply(50, 50)
	if !approx(x, 75) || !approx(y, 50) {
		t.Fatalf("layer center mapped to (%g,%g)", x, y)
	}
	x, _ = layers[1].Transform.Apply(0, 50)
	if !approx(x, 50) {
		t.Fatalf("layer left edge mapped to %g", x)
	}
	if layers[1].Blend != config.BlendScreen || layers[1].Opacity != 0.5 {
		t.Fatalf("top layer = %+v", layers[1])
	}
}
