// Package output tracks connected display outputs and resolves which
// configuration rule applies to each of them.
package output

import (
	"fmt"
	"math"
)

// Transform is the output rotation/flip, numbered like wl_output.transform.
type Transform int

const (
	TransformNormal Transform = iota
	Transform90
	Transform180
	Transform270
	TransformFlipped
	TransformFlipped90
	TransformFlipped180
	TransformFlipped270
)

// Rotated reports whether the transform swaps width and height.
func (t Transform) Rotated() bool {
	return t == Transform90 || t == Transform270 || t == TransformFlipped90 || t == TransformFlipped270
}

// Degrees returns the clockwise rotation in degrees.
func (t Transform) Degrees() int {
	return int(t%4) * 90
}

// Flipped reports whether the transform mirrors horizontally.
func (t Transform) Flipped() bool {
	return t >= TransformFlipped
}

func (t Transform) String() string {
	if t < TransformNormal || t > TransformFlipped270 {
		return fmt.Sprintf("transform(%d)", int(t))
	}
	s := fmt.Sprintf("%d", t.Degrees())
	if t.Flipped() {
		s = "flipped-" + s
	}
	return s
}

// Geometry is an output's placement in the compositor's logical space.
type Geometry struct {
	X, Y          int
	Width, Height int // logical size
	Scale         float64
	Transform     Transform
	RefreshMHz    int // refresh rate in mHz, 0 when unknown
}

// PixelSize returns the buffer size the output needs: logical size × scale.
func (g Geometry) PixelSize() (int, int) {
	scale := g.Scale
	if scale <= 0 {
		scale = 1
	}
	return int(math.Round(float64(g.Width) * scale)), int(math.Round(float64(g.Height) * scale))
}

// RefreshHz returns the refresh rate in Hz, or 0 when unknown.
func (g Geometry) RefreshHz() float64 {
	return float64(g.RefreshMHz) / 1000
}

// Valid reports whether the geometry can back a surface.
func (g Geometry) Valid() bool {
	return g.Width > 0 && g.Height > 0
}

// Output is one display as reported by the compositor.
type Output struct {
	Name           string
	Description    string
	Geometry       Geometry
	Connected      bool
	HDRPassthrough bool
}

func (o Output) String() string {
	w, h := o.Geometry.PixelSize()
	return fmt.Sprintf("%s %dx%d@%gx", o.Name, w, h, o.Geometry.Scale)
}

// EventKind is the kind of a hotplug event.
type EventKind int

const (
	EventAdded EventKind = iota
	EventChanged
	EventRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "added"
	case EventChanged:
		return "changed"
	case EventRemoved:
		return "removed"
	}
	return "unknown"
}

// Event is a hotplug notification from the compositor.
type Event struct {
	Kind   EventKind
	Output Output
}
