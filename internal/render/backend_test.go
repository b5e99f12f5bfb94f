package render

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"math"
	"sync"
	"testing"

	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1broseidon/vidwall/internal/colorspace"
	"github.com/1broseidon/vidwall/internal/config"
	"github.com/1broseidon/vidwall/internal/decode"
	"github.com/1broseidon/vidwall/internal/output"
	"github.com/1broseidon/vidwall/internal/platform"
)

type capturePresenter struct {
	mu     sync.Mutex
	images []platform.Image
}

func (p *capturePresenter) Present(img platform.Image) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	img.Pix = append([]byte(nil), img.Pix...)
	p.images = append(p.images, img)
	return nil
}

func (p *capturePresenter) last() platform.Image {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.images[len(p.images)-1]
}

func solidPlane(w, h int, r, g, b, a byte) decode.Plane {
	pix := make([]byte, w*h*4)
	for i := 0; i < len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = r, g, b, a
	}
	return decode.Plane{Pix: pix, Width: w, Height: h, Stride: w * 4, Opacity: 1, Scale: 1}
}

func pixelAt(img platform.Image, x, y int) [4]byte {
	i := y*img.Stride + x*4
	return [4]byte{img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3]}
}

func newSoftwareContext(t *testing.T, w, h int, tr output.Transform, p Presenter) Context {
	t.Helper()
	ctx, err := NewSoftware().Initialize(Target{Output: "TEST-1", Width: w, Height: h, Transform: tr, Presenter: p})
	require.NoError(t, err)
	t.Cleanup(ctx.Teardown)
	return ctx
}

func TestSoftwareStretchFillsOutput(t *testing.T) {
	p := &capturePresenter{}
	rc := newSoftwareContext(t, 4, 2, output.TransformNormal, p)

	plane := solidPlane(1, 1, 255, 0, 0, 255)
	tex, err := rc.UploadTexture(plane)
	require.NoError(t, err)

	layers := LayersFor([]*Texture{tex}, []decode.Plane{plane}, config.LayoutStretch, 4, 2, output.TransformNormal)
	require.NoError(t, rc.Render(context.Background(), layers, ToneMap{}))
	require.NoError(t, rc.Present(context.Background(), nil))

	img := p.last()
	assert.Equal(t, 4, img.Width)
	assert.Equal(t, 2, img.Height)
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			assert.Equal(t, [4]byte{255, 0, 0, 255}, pixelAt(img, x, y), "pixel %d,%d", x, y)
		}
	}
}

func TestSoftwareRotatedOutput(t *testing.T) {
	p := &capturePresenter{}
	rc := newSoftwareContext(t, 4, 2, output.Transform180, p)

	// Red on the left, blue on the right.
	plane := decode.Plane{
		Pix:   []byte{255, 0, 0, 255, 0, 0, 255, 255},
		Width: 2, Height: 1, Stride: 8, Opacity: 1, Scale: 1,
	}
	tex, err := rc.UploadTexture(plane)
	require.NoError(t, err)
	layers := LayersFor([]*Texture{tex}, []decode.Plane{plane}, config.LayoutStretch, 4, 2, output.Transform180)
	require.NoError(t, rc.Render(context.Background(), layers, ToneMap{}))
	require.NoError(t, rc.Present(context.Background(), nil))

	img := p.last()
	assert.Equal(t, [4]byte{0, 0, 255, 255}, pixelAt(img, 0, 0), "buffer left is display right")
	assert.Equal(t, [4]byte{255, 0, 0, 255}, pixelAt(img, 3, 1))

	rc90 := newSoftwareContext(t, 4, 2, output.Transform90, p)
	w, h := rc90.Size()
	assert.Equal(t, 4, w)
	assert.Equal(t, 2, h)
	require.NoError(t, rc90.Render(context.Background(), nil, ToneMap{}))
	require.NoError(t, rc90.Present(context.Background(), nil))
	img = p.last()
	assert.Equal(t, 2, img.Width, "rotated buffers swap dimensions")
	assert.Equal(t, 4, img.Height)
}

func TestSoftwareOpacityAndLetterbox(t *testing.T) {
	p := &capturePresenter{}
	rc := newSoftwareContext(t, 4, 4, output.TransformNormal, p)

	plane := solidPlane(4, 2, 255, 255, 255, 255)
	plane.Opacity = 0.5
	tex, err := rc.UploadTexture(plane)
	require.NoError(t, err)
	layers := LayersFor([]*Texture{tex}, []decode.Plane{plane}, config.LayoutFit, 4, 4, output.TransformNormal)
	require.NoError(t, rc.Render(context.Background(), layers, ToneMap{}))
	require.NoError(t, rc.Present(context.Background(), nil))

	img := p.last()
	assert.Equal(t, [4]byte{0, 0, 0, 255}, pixelAt(img, 0, 0), "letterbox stays black")
	assert.Equal(t, [4]byte{128, 128, 128, 255}, pixelAt(img, 1, 1))
	assert.Equal(t, [4]byte{0, 0, 0, 255}, pixelAt(img, 3, 3))
}

func TestSoftwareToneMapsHDR(t *testing.T) {
	p := &capturePresenter{}
	rc := newSoftwareContext(t, 1, 1, output.TransformNormal, p)

	plane := solidPlane(1, 1, 255, 255, 255, 255)
	tex, err := rc.UploadTexture(plane)
	require.NoError(t, err)
	layers := LayersFor([]*Texture{tex}, []decode.Plane{plane}, config.LayoutFill, 1, 1, output.TransformNormal)

	tm := PlanToneMap(colorspace.Metadata{Transfer: colorspace.TransferPQ, MaxLuminance: 1000}, false, config.HDRModeAuto, config.ToneMapClamp)
	require.True(t, tm.Enabled())
	require.NoError(t, rc.Render(context.Background(), layers, tm))
	require.NoError(t, rc.Present(context.Background(), nil))
	assert.Equal(t, byte(255), pixelAt(p.last(), 0, 0)[0], "PQ peak clamps to white")

	// A mid PQ code is far darker than the same SDR code once mapped.
	mid := solidPlane(1, 1, 128, 128, 128, 255)
	tex2, err := rc.UploadTexture(mid)
	require.NoError(t, err)
	layers = LayersFor([]*Texture{tex2}, []decode.Plane{mid}, config.LayoutFill, 1, 1, output.TransformNormal)
	require.NoError(t, rc.Render(context.Background(), layers, PlanToneMap(colorspace.Metadata{Transfer: colorspace.TransferPQ}, false, config.HDRModeAuto, config.ToneMapACES)))
	require.NoError(t, rc.Present(context.Background(), nil))
	assert.NotEqual(t, byte(128), pixelAt(p.last(), 0, 0)[0])
}

func TestSoftwareLifecycleErrors(t *testing.T) {
	p := &capturePresenter{}
	rc, err := NewSoftware().Initialize(Target{Width: 2, Height: 2, Passthrough: true, Presenter: p})
	require.NoError(t, err)

	assert.ErrorIs(t, rc.Present(context.Background(), nil), ErrNothingRendered)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, rc.Render(cancelled, nil, ToneMap{}), ErrAborted)

	require.NoError(t, rc.Render(context.Background(), nil, ToneMap{}))
	meta := &colorspace.Metadata{Transfer: colorspace.TransferPQ}
	require.NoError(t, rc.Present(context.Background(), meta))
	assert.Same(t, meta, p.last().HDR, "passthrough forwards metadata")

	require.NoError(t, rc.Resize(3, 1))
	assert.ErrorIs(t, rc.Present(context.Background(), nil), ErrNothingRendered, "resize drops the old frame")
	assert.Error(t, rc.Resize(0, 1))

	rc.Teardown()
	assert.ErrorIs(t, rc.Render(context.Background(), nil, ToneMap{}), ErrTornDown)
	assert.ErrorIs(t, rc.Present(context.Background(), nil), ErrTornDown)

	_, err = NewSoftware().Initialize(Target{Width: 0, Height: 2})
	assert.Error(t, err)
}

func TestPackPlaneStride(t *testing.T) {
	p := decode.Plane{Pix: []byte{1, 2, 3, 4, 9, 9, 5, 6, 7, 8}, Width: 1, Height: 2, Stride: 6}
	pix, err := packPlane(p)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, pix)

	_, err = packPlane(decode.Plane{Pix: []byte{1}, Width: 1, Height: 1})
	assert.Error(t, err)
}

func TestPassParamsLayout(t *testing.T) {
	l := Layer{Texture: &Texture{Width: 640, Height: 360}, Blend: config.BlendMultiply, Opacity: 0.25}
	inv := Affine{A: 1, B: 2, C: 3, D: 4, E: 5, F: 6}
	tm := ToneMap{Operator: config.ToneMapFilmic, Transfer: colorspace.TransferHLG, Peak: 1000}
	p := newPassParams(l, inv, 1920, 1080, tm)
	p.Clear = true
	b := p.bytes()
	require.Len(t, b, paramsSize)

	le := binary.LittleEndian
	f := func(off int) float32 { return math.Float32frombits(le.Uint32(b[off:])) }
	assert.EqualValues(t, 1920, le.Uint32(b[0:]))
	assert.EqualValues(t, 360, le.Uint32(b[12:]))
	assert.EqualValues(t, 3, f(24))
	assert.EqualValues(t, 4, f(32))
	assert.EqualValues(t, 6, f(40))
	assert.Equal(t, blendMultiply, le.Uint32(b[48:]))
	assert.EqualValues(t, 0.25, f(52))
	assert.Equal(t, toneFilmic, le.Uint32(b[56:]))
	assert.Equal(t, transferHLG, le.Uint32(b[60:]))
	assert.EqualValues(t, 1000, f(64))
	assert.EqualValues(t, 1, le.Uint32(b[68:]))

	sdr := newPassParams(l, inv, 1, 1, ToneMap{})
	assert.Zero(t, sdr.Tone)
}

// fakeBackend is a registry entry whose Open result is scripted.
type fakeBackend struct {
	name    string
	openErr error
}

func (b *fakeBackend) Name() string                       { return b.name }
func (b *fakeBackend) Open() error                        { return b.openErr }
func (b *fakeBackend) Initialize(Target) (Context, error) { return nil, errors.New("not implemented") }
func (b *fakeBackend) Close()                             {}

func swapFactory(t *testing.T, name string, f Factory) {
	t.Helper()
	registryMu.Lock()
	prev, had := factories[name]
	registryMu.Unlock()
	if f == nil {
		Unregister(name)
	} else {
		Register(name, f)
	}
	t.Cleanup(func() {
		if had {
			Register(name, prev)
		} else {
			Unregister(name)
		}
	})
}

func fakeFactory(name string, err error) Factory {
	return func(*slog.Logger) Backend { return &fakeBackend{name: name, openErr: err} }
}

func TestSelectFallsBackToOpenGL(t *testing.T) {
	swapFactory(t, BackendVulkan, fakeFactory(BackendVulkan, errors.New("no vulkan ICD")))
	swapFactory(t, BackendOpenGL, fakeFactory(BackendOpenGL, nil))

	for _, r := range []config.Renderer{config.RendererAuto, config.RendererVulkan} {
		b, fb, err := Select(r, nil)
		require.NoError(t, err)
		assert.Equal(t, BackendOpenGL, b.Name())
		require.NotNil(t, fb)
		assert.Equal(t, BackendVulkan, fb.From)
		assert.Contains(t, fb.String(), "no vulkan ICD")
	}
}

func TestSelectPrefersVulkan(t *testing.T) {
	swapFactory(t, BackendVulkan, fakeFactory(BackendVulkan, nil))
	swapFactory(t, BackendOpenGL, fakeFactory(BackendOpenGL, nil))

	b, fb, err := Select(config.RendererAuto, nil)
	require.NoError(t, err)
	assert.Equal(t, BackendVulkan, b.Name())
	assert.Nil(t, fb)
}

func TestSelectVulkanNotCompiled(t *testing.T) {
	swapFactory(t, BackendVulkan, nil)
	swapFactory(t, BackendOpenGL, fakeFactory(BackendOpenGL, nil))

	b, fb, err := Select(config.RendererAuto, nil)
	require.NoError(t, err)
	assert.Equal(t, BackendOpenGL, b.Name())
	require.NotNil(t, fb)
	assert.Equal(t, ErrVulkanNotCompiled.Error(), fb.Reason)
}

func TestSelectErrors(t *testing.T) {
	swapFactory(t, BackendVulkan, fakeFactory(BackendVulkan, errors.New("vk down")))
	swapFactory(t, BackendOpenGL, fakeFactory(BackendOpenGL, errors.New("gl down")))

	_, _, err := Select(config.RendererOpenGL, nil)
	assert.EqualError(t, err, "gl down")

	_, fb, err := Select(config.RendererAuto, nil)
	assert.Error(t, err)
	assert.NotNil(t, fb)

	_, _, err = Select("metal", nil)
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	assert.True(t, IsRegistered(BackendSoftware))
	assert.Contains(t, Available(), BackendSoftware)
	assert.Nil(t, Get("missing", nil))
}

func TestHALBackendOnNoopDevice(t *testing.T) {
	b := newHALBackend("noop", 0, &noop.API{}, nil)
	require.NoError(t, b.Open())
	defer b.Close()
	require.NoError(t, b.Open(), "open is idempotent")

	p := &capturePresenter{}
	rc, err := b.Initialize(Target{Output: "NOOP-1", Width: 8, Height: 4, Transform: output.Transform90, Presenter: p})
	require.NoError(t, err)
	w, h := rc.Size()
	assert.Equal(t, 8, w)
	assert.Equal(t, 4, h)

	assert.ErrorIs(t, rc.Present(context.Background(), nil), ErrNothingRendered)

	plane := solidPlane(2, 2, 10, 20, 30, 255)
	tex, err := rc.UploadTexture(plane)
	require.NoError(t, err)
	layers := LayersFor([]*Texture{tex}, []decode.Plane{plane}, config.LayoutFill, 8, 4, output.Transform90)
	require.NoError(t, rc.Render(context.Background(), layers, ToneMap{}))

	// Releasing while the render is in flight defers the free.
	rc.ReleaseTexture(tex)
	require.NoError(t, rc.Present(context.Background(), nil))
	require.Len(t, p.images, 1)
	assert.Equal(t, 4, p.images[0].Width, "rotated buffer")
	assert.Equal(t, 8, p.images[0].Height)
	assert.Len(t, p.images[0].Pix, 4*8*4)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, rc.Render(cancelled, nil, ToneMap{}), ErrAborted)

	require.NoError(t, rc.Resize(16, 8))
	w, _ = rc.Size()
	assert.Equal(t, 16, w)

	rc.Teardown()
	rc.Teardown()
	assert.ErrorIs(t, rc.Render(context.Background(), nil, ToneMap{}), ErrTornDown)
	_, err = rc.UploadTexture(plane)
	assert.ErrorIs(t, err, ErrTornDown)
}

func TestHALBackendInitializeBeforeOpen(t *testing.T) {
	b := newHALBackend("noop", 0, &noop.API{}, nil)
	_, err := b.Initialize(Target{Width: 1, Height: 1})
	assert.ErrorIs(t, err, ErrBackendNotAvailable)
}

// lagQueue reports submissions complete only after a number of polls.
type lagQueue struct {
	hal.Queue
	mu       sync.Mutex
	last     uint64
	polls    int
	lag      int
	writeErr error
}

func (q *lagQueue) Submit(cmds []hal.CommandBuffer) (uint64, error) {
	idx, err := q.Queue.Submit(cmds)
	q.mu.Lock()
	q.last, q.polls = idx, 0
	q.mu.Unlock()
	return idx, err
}

func (q *lagQueue) PollCompleted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.polls++
	if q.polls <= q.lag {
		return q.last - 1
	}
	return q.last
}

func (q *lagQueue) WriteBuffer(buf hal.Buffer, offset uint64, data []byte) error {
	if q.writeErr != nil {
		return q.writeErr
	}
	return q.Queue.WriteBuffer(buf, offset, data)
}

func TestHALPresentWaitsForSubmission(t *testing.T) {
	b := newHALBackend("noop", 0, &noop.API{}, nil)
	require.NoError(t, b.Open())
	defer b.Close()

	p := &capturePresenter{}
	rc, err := b.Initialize(Target{Output: "NOOP-1", Width: 4, Height: 2, Presenter: p})
	require.NoError(t, err)
	defer rc.Teardown()
	hc := rc.(*halContext)
	q := &lagQueue{Queue: hc.queue, lag: 3}
	hc.queue = q

	require.NoError(t, rc.Render(context.Background(), nil, ToneMap{}))
	require.NoError(t, rc.Present(context.Background(), nil))

	q.mu.Lock()
	polls := q.polls
	q.mu.Unlock()
	assert.Greater(t, polls, 3, "present must poll until the submission completes")
	require.Len(t, p.images, 1)
	assert.Len(t, p.images[0].Pix, 4*2*4)
}

func TestHALWriteErrorsSurface(t *testing.T) {
	b := newHALBackend("noop", 0, &noop.API{}, nil)
	require.NoError(t, b.Open())
	defer b.Close()

	rc, err := b.Initialize(Target{Output: "NOOP-1", Width: 4, Height: 2})
	require.NoError(t, err)
	defer rc.Teardown()
	hc := rc.(*halContext)
	boom := errors.New("device lost")
	hc.queue = &lagQueue{Queue: hc.queue, writeErr: boom}

	_, err = rc.UploadTexture(solidPlane(2, 2, 1, 2, 3, 255))
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, rc.Render(context.Background(), nil, ToneMap{}), boom)
	assert.ErrorIs(t, rc.Present(context.Background(), nil), ErrNothingRendered)
}
