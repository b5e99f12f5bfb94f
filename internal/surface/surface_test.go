package surface

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1broseidon/vidwall/internal/config"
	"github.com/1broseidon/vidwall/internal/decode"
	"github.com/1broseidon/vidwall/internal/output"
	"github.com/1broseidon/vidwall/internal/platform"
	"github.com/1broseidon/vidwall/internal/render"
)

func testOutput(name string, w, h int, scale float64) output.Output {
	return output.Output{
		Name:      name,
		Connected: true,
		Geometry:  output.Geometry{Width: w, Height: h, Scale: scale, RefreshMHz: 60000},
	}
}

func effective() output.Effective {
	return output.Effective{
		Source: config.Source{Type: config.SourceImage, Path: "/wall.png"},
		Layout: config.LayoutFill,
	}
}

type failingBackend struct{ err error }

func (b failingBackend) Name() string { return "failing" }
func (b failingBackend) Open() error  { return nil }
func (b failingBackend) Close()       {}
func (b failingBackend) Initialize(render.Target) (render.Context, error) {
	return nil, b.err
}

func TestActivateBuildsBackgroundSurface(t *testing.T) {
	o := testOutput("DP-1", 1280, 720, 1.5)
	comp := platform.NewHeadless(o)
	m := NewManager(comp, render.NewSoftware(), nil)

	d, err := m.Activate(context.Background(), o, effective())
	require.NoError(t, err)

	spec := d.Spec()
	assert.Equal(t, platform.LayerBackground, spec.Layer)
	assert.Equal(t, platform.AnchorAll, spec.Anchor)
	assert.Equal(t, -1, spec.ExclusiveZone)

	w, h := d.Size()
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)

	surfaces := comp.LiveSurfaces()
	require.Len(t, surfaces, 1)
	assert.Equal(t, 1, surfaces[0].Presents(), "initial black buffer")
	img := surfaces[0].LastImage()
	require.Equal(t, 1920, img.Width)
	assert.Equal(t, []byte{0, 0, 0, 0xff}, img.Pix[:4])

	assert.Equal(t, []string{"DP-1"}, m.Active())
}

func TestActivateTwiceFails(t *testing.T) {
	o := testOutput("DP-1", 800, 600, 1)
	comp := platform.NewHeadless(o)
	m := NewManager(comp, render.NewSoftware(), nil)

	_, err := m.Activate(context.Background(), o, effective())
	require.NoError(t, err)
	_, err = m.Activate(context.Background(), o, effective())
	require.ErrorIs(t, err, ErrAlreadyActive)
	assert.Len(t, comp.LiveSurfaces(), 1)
}

func TestActivateRollsBack(t *testing.T) {
	o := testOutput("HDMI-A-1", 800, 600, 1)

	t.Run("backend init", func(t *testing.T) {
		comp := platform.NewHeadless(o)
		boom := errors.New("no device")
		m := NewManager(comp, failingBackend{err: boom}, nil)

		_, err := m.Activate(context.Background(), o, effective())
		require.ErrorIs(t, err, boom)
		assert.Empty(t, comp.LiveSurfaces())
		assert.Len(t, comp.Surfaces(), 1)
		assert.Empty(t, m.Active())

		// The name is free again.
		m.backend = render.NewSoftware()
		_, err = m.Activate(context.Background(), o, effective())
		require.NoError(t, err)
	})

	t.Run("create surface", func(t *testing.T) {
		comp := platform.NewHeadless(o)
		m := NewManager(comp, render.NewSoftware(), nil)
		comp.CreateErr = platform.ErrLayerShellMissing

		_, err := m.Activate(context.Background(), o, effective())
		require.ErrorIs(t, err, platform.ErrLayerShellMissing)
		assert.Empty(t, comp.Surfaces())
	})

	t.Run("cancelled", func(t *testing.T) {
		comp := platform.NewHeadless(o)
		m := NewManager(comp, render.NewSoftware(), nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := m.Activate(ctx, o, effective())
		require.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, comp.LiveSurfaces())
	})

	t.Run("invalid geometry", func(t *testing.T) {
		bad := testOutput("DP-9", 0, 0, 1)
		m := NewManager(platform.NewHeadless(bad), render.NewSoftware(), nil)
		_, err := m.Activate(context.Background(), bad, effective())
		require.ErrorIs(t, err, output.ErrInvalidGeometry)
	})
}

func TestResizeKeepsSurface(t *testing.T) {
	o := testOutput("DP-1", 1920, 1080, 1)
	comp := platform.NewHeadless(o)
	m := NewManager(comp, render.NewSoftware(), nil)
	d, err := m.Activate(context.Background(), o, effective())
	require.NoError(t, err)

	tests := []struct {
		name   string
		g      output.Geometry
		wantW  int
		wantH  int
		rotate bool
	}{
		{name: "scale", g: output.Geometry{Width: 1280, Height: 720, Scale: 1.5}, wantW: 1920, wantH: 1080},
		{name: "fractional", g: output.Geometry{Width: 1707, Height: 960, Scale: 1.25}, wantW: 2134, wantH: 1200},
		{name: "rotate", g: output.Geometry{Width: 1080, Height: 1920, Scale: 1, Transform: output.Transform90}, wantW: 1080, wantH: 1920, rotate: true},
		{name: "rotate back", g: output.Geometry{Width: 2560, Height: 1440, Scale: 1}, wantW: 2560, wantH: 1440},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, m.Resize(d, tt.g))
			w, h := d.Size()
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
			assert.Equal(t, tt.g, d.Geometry())

			err := d.Do(func(rc render.Context, tr output.Transform) error {
				cw, ch := rc.Size()
				assert.Equal(t, tt.wantW, cw)
				assert.Equal(t, tt.wantH, ch)
				assert.Equal(t, tt.rotate, tr.Rotated())
				return nil
			})
			require.NoError(t, err)
		})
	}
	assert.Len(t, comp.Surfaces(), 1, "resize must not recreate the surface")
}

func TestDeactivate(t *testing.T) {
	o := testOutput("DP-1", 640, 480, 1)
	comp := platform.NewHeadless(o)
	m := NewManager(comp, render.NewSoftware(), nil)
	d, err := m.Activate(context.Background(), o, effective())
	require.NoError(t, err)

	m.Deactivate(d)
	m.Deactivate(d)

	assert.True(t, d.Closed())
	assert.Empty(t, comp.LiveSurfaces())
	assert.Empty(t, m.Active())
	_, ok := m.Get("DP-1")
	assert.False(t, ok)

	called := false
	err = d.Do(func(render.Context, output.Transform) error { called = true; return nil })
	require.ErrorIs(t, err, ErrClosed)
	assert.False(t, called)
	require.ErrorIs(t, m.Resize(d, o.Geometry), ErrClosed)
}

func TestDeactivateWaitsForRender(t *testing.T) {
	o := testOutput("DP-1", 64, 64, 1)
	comp := platform.NewHeadless(o)
	m := NewManager(comp, render.NewSoftware(), nil)
	d, err := m.Activate(context.Background(), o, effective())
	require.NoError(t, err)

	inRender := make(chan struct{})
	finish := make(chan struct{})
	var renderErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		renderErr = d.Do(func(rc render.Context, tr output.Transform) error {
			close(inRender)
			<-finish
			plane := decode.Plane{Pix: make([]byte, 4*4*4), Width: 4, Height: 4}
			tex, err := rc.UploadTexture(plane)
			if err != nil {
				return err
			}
			defer rc.ReleaseTexture(tex)
			w, h := rc.Size()
			layers := render.LayersFor([]*render.Texture{tex}, []decode.Plane{plane}, config.LayoutFill, w, h, tr)
			if err := rc.Render(context.Background(), layers, render.ToneMap{}); err != nil {
				return err
			}
			return rc.Present(context.Background(), nil)
		})
	}()

	<-inRender
	deactivated := make(chan struct{})
	go func() {
		m.Deactivate(d)
		close(deactivated)
	}()

	select {
	case <-deactivated:
		t.Fatal("Deactivate returned while a render was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(finish)
	wg.Wait()
	<-deactivated

	require.NoError(t, renderErr)
	assert.Equal(t, 2, comp.Surfaces()[0].Presents())
	assert.True(t, comp.Surfaces()[0].Destroyed())
}

func TestCloseDeactivatesAll(t *testing.T) {
	a, b := testOutput("DP-1", 100, 100, 1), testOutput("DP-2", 100, 100, 2)
	comp := platform.NewHeadless(a, b)
	m := NewManager(comp, render.NewSoftware(), nil)
	_, err := m.Activate(context.Background(), a, effective())
	require.NoError(t, err)
	_, err = m.Activate(context.Background(), b, effective())
	require.NoError(t, err)
	require.Equal(t, []string{"DP-1", "DP-2"}, m.Active())

	m.Close()
	assert.Empty(t, m.Active())
	assert.Empty(t, comp.LiveSurfaces())
}
