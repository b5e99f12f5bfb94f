package wayland

import (
	"sync"

	"github.com/rajveermalviya/go-wayland/wayland/client"
)

// OutputInfo is the accumulated state of a wl_output.
type OutputInfo struct {
	Name        string
	Description string
	Make        string
	Model       string
	X, Y        int32
	Width       int32
	Height      int32
	RefreshMHz  int32
	Scale       int32
	Transform   int32
}

// Output tracks a bound wl_output. Events collect into a pending copy
// that becomes current on done, which is how the protocol groups an
// atomic update.
type Output struct {
	wl      *client.Output
	global  uint32
	version uint32
	onDone  func(*Output)

	mu      sync.Mutex
	pending OutputInfo
	info    OutputInfo
	dirty   bool
}

// BindOutput binds the wl_output global announced by e and reports each
// completed update to onDone, on the loop goroutine.
func BindOutput(ctx *client.Context, reg *client.Registry, e client.RegistryGlobalEvent, onDone func(*Output)) (*Output, error) {
	wl := client.NewOutput(ctx)
	o := newOutput(wl, e.Name, min(e.Version, 4), onDone)
	wl.SetGeometryHandler(o.geometry)
	wl.SetModeHandler(o.mode)
	wl.SetScaleHandler(o.scale)
	wl.SetNameHandler(o.name)
	wl.SetDescriptionHandler(o.description)
	wl.SetDoneHandler(o.done)
	if err := reg.Bind(e.Name, e.Interface, o.version, wl); err != nil {
		return nil, err
	}
	return o, nil
}

func newOutput(wl *client.Output, global, version uint32, onDone func(*Output)) *Output {
	return &Output{wl: wl, global: global, version: version, onDone: onDone}
}

// Proxy is the bound wl_output, for requests that name an output.
func (o *Output) Proxy() *client.Output { return o.wl }

// GlobalName is the registry name the output was announced under.
func (o *Output) GlobalName() uint32 { return o.global }

// Info returns the last complete state.
func (o *Output) Info() OutputInfo {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.info
}

// update applies fn to the pending state, seeded from the current state
// on the first event of an update.
func (o *Output) update(fn func(*OutputInfo)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.dirty {
		o.pending, o.dirty = o.info, true
	}
	fn(&o.pending)
}

func (o *Output) geometry(e client.OutputGeometryEvent) {
	o.update(func(i *OutputInfo) {
		i.X, i.Y = int32(e.X), int32(e.Y)
		i.Make, i.Model = e.Make, e.Model
		i.Transform = int32(e.Transform)
	})
}

func (o *Output) mode(e client.OutputModeEvent) {
	if e.Flags&uint32(client.OutputModeCurrent) == 0 {
		return
	}
	o.update(func(i *OutputInfo) {
		i.Width, i.Height, i.RefreshMHz = int32(e.Width), int32(e.Height), int32(e.Refresh)
	})
}

func (o *Output) scale(e client.OutputScaleEvent) {
	o.update(func(i *OutputInfo) { i.Scale = int32(e.Factor) })
}

func (o *Output) name(e client.OutputNameEvent) {
	o.update(func(i *OutputInfo) { i.Name = e.Name })
}

func (o *Output) description(e client.OutputDescriptionEvent) {
	o.update(func(i *OutputInfo) { i.Description = e.Description })
}

func (o *Output) done(client.OutputDoneEvent) {
	o.mu.Lock()
	if o.dirty {
		o.info, o.dirty = o.pending, false
	}
	fn := o.onDone
	o.mu.Unlock()
	if fn != nil {
		fn(o)
	}
}

// Release destroys the output object when the bound version allows it.
func (o *Output) Release() error {
	if o.wl == nil || o.version < 3 {
		return nil
	}
	return o.wl.Release()
}
