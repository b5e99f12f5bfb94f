// Package decode turns sources into reference-counted RGBA frames and shares
// one decode session between every output that shows the same content.
package decode

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/1broseidon/vidwall/internal/colorspace"
	"github.com/1broseidon/vidwall/internal/config"
)

// Plane is one RGBA8 image of a frame. Scene frames carry several planes
// composited in order; the placement fields are relative to the output.
type Plane struct {
	Pix    []byte
	Width  int
	Height int
	Stride int

	Blend   config.Blend
	Opacity float64
	Scale   float64
	OffsetX float64 // fraction of output width
	OffsetY float64 // fraction of output height
}

// Frame is a decoded picture. Frames are shared between outputs; every
// holder calls Retain and Release, and the pixel buffers return to the
// budget when the last reference goes.
type Frame struct {
	Planes []Plane
	PTS    time.Duration
	// Epoch increments each time a source restarts its timeline (loop
	// wrap, seek, engine restart). PTS is monotonic within one epoch.
	Epoch uint64
	Seq   uint64
	Color colorspace.Metadata

	refs    atomic.Int32
	once    sync.Once
	release func()
}

// NewFrame returns a frame holding one reference. release runs once when
// the last reference is dropped.
func NewFrame(planes []Plane, pts time.Duration, color colorspace.Metadata, release func()) *Frame {
	f := &Frame{Planes: planes, PTS: pts, Color: color, release: release}
	f.refs.Store(1)
	return f
}

// Retain adds a reference and returns f.
func (f *Frame) Retain() *Frame {
	f.refs.Add(1)
	return f
}

// Release drops a reference.
func (f *Frame) Release() {
	n := f.refs.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		panic("decode: frame released too many times")
	}
	f.once.Do(func() {
		if f.release != nil {
			f.release()
		}
	})
}

// Refs returns the current reference count.
func (f *Frame) Refs() int { return int(f.refs.Load()) }

// Size returns the first plane's dimensions.
func (f *Frame) Size() (int, int) {
	if len(f.Planes) == 0 {
		return 0, 0
	}
	return f.Planes[0].Width, f.Planes[0].Height
}

// Newer reports whether f should be shown after a frame with the given
// epoch and PTS.
func (f *Frame) Newer(epoch uint64, pts time.Duration) bool {
	if f.Epoch != epoch {
		return f.Epoch > epoch
	}
	return f.PTS >= pts
}
