package render

import (
	"math"

	"github.com/1broseidon/vidwall/internal/config"
	"github.com/1broseidon/vidwall/internal/output"
)

// Affine is a 2D affine map:
//
//	x' = A*x + B*y + C
//	y' = D*x + E*y + F
type Affine struct {
	A, B, C float64
	D, E, F float64
}

// Identity is the identity map.
var Identity = Affine{A: 1, E: 1}

func Translate(tx, ty float64) Affine { return Affine{A: 1, C: tx, E: 1, F: ty} }
func Scale(sx, sy float64) Affine     { return Affine{A: sx, E: sy} }

// Rotate rotates clockwise by the given angle in radians (y axis down).
func Rotate(rad float64) Affine {
	s, c := math.Sincos(rad)
	return Affine{A: c, B: -s, D: s, E: c}
}

// Mul returns m∘o: o is applied first.
func (m Affine) Mul(o Affine) Affine {
	return Affine{
		A: m.A*o.A + m.B*o.D,
		B: m.A*o.B + m.B*o.E,
		C: m.A*o.C + m.B*o.F + m.C,
		D: m.D*o.A + m.E*o.D,
		E: m.D*o.B + m.E*o.E,
		F: m.D*o.C + m.E*o.F + m.F,
	}
}

// Apply maps a point.
func (m Affine) Apply(x, y float64) (float64, float64) {
	return m.A*x + m.B*y + m.C, m.D*x + m.E*y + m.F
}

// Invert returns the inverse map; ok is false for a singular matrix.
func (m Affine) Invert() (Affine, bool) {
	det := m.A*m.E - m.B*m.D
	if math.Abs(det) < 1e-12 {
		return Affine{}, false
	}
	inv := 1 / det
	a := m.E * inv
	b := -m.B * inv
	d := -m.D * inv
	e := m.A * inv
	return Affine{
		A: a, B: b, C: -(a*m.C + b*m.F),
		D: d, E: e, F: -(d*m.C + e*m.F),
	}, true
}

// Layout places a sw×sh source inside a dw×dh destination.
func Layout(layout config.Layout, sw, sh, dw, dh int) Affine {
	if sw <= 0 || sh <= 0 || dw <= 0 || dh <= 0 {
		return Identity
	}
	fsw, fsh, fdw, fdh := float64(sw), float64(sh), float64(dw), float64(dh)

	var sx, sy float64
	switch layout {
	case config.LayoutStretch:
		sx, sy = fdw/fsw, fdh/fsh
	case config.LayoutFit:
		s := math.Min(fdw/fsw, fdh/fsh)
		sx, sy = s, s
	case config.LayoutCenter:
		sx, sy = 1, 1
	default: // fill
		s := math.Max(fdw/fsw, fdh/fsh)
		sx, sy = s, s
	}
	tx := (fdw - fsw*sx) / 2
	ty := (fdh - fsh*sy) / 2
	return Translate(tx, ty).Mul(Scale(sx, sy))
}

// OutputTransform maps surface coordinates (w×h, display orientation) into
// buffer coordinates for a buffer submitted with transform t.
func OutputTransform(t output.Transform, w, h int) Affine {
	fw, fh := float64(w), float64(h)
	switch t {
	case output.TransformFlipped:
		return Affine{A: -1, C: fw, E: 1}
	case output.Transform90:
		return Affine{B: -1, C: fh, D: 1}
	case output.TransformFlipped90:
		return Affine{B: -1, C: fh, D: -1, F: fw}
	case output.Transform180:
		return Affine{A: -1, C: fw, E: -1, F: fh}
	case output.TransformFlipped180:
		return Affine{A: 1, E: -1, F: fh}
	case output.Transform270:
		return Affine{B: 1, D: -1, F: fw}
	case output.TransformFlipped270:
		return Affine{B: 1, D: 1}
	}
	return Identity
}

// BufferSize returns the buffer dimensions for a w×h surface under t.
func BufferSize(t output.Transform, w, h int) (int, int) {
	if t.Rotated() {
		return h, w
	}
	return w, h
}

// LayoutTransform composes the layout with the output transform: source
// pixels to buffer pixels for a w×h (display orientation) surface.
func LayoutTransform(layout config.Layout, sw, sh, w, h int, t output.Transform) Affine {
	return OutputTransform(t, w, h).Mul(Layout(layout, sw, sh, w, h))
}
