package x11

import (
	"fmt"
	"image"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/xgraphics"
	"github.com/BurntSushi/xgbutil/xwindow"
)

// Background is an unmanaged window covering one monitor, kept below every
// other window.
type Background struct {
	conn *Connection
	win  *xwindow.Window
	img  *xgraphics.Image

	width, height int
}

// NewBackground creates and maps a background window over mon.
func (c *Connection) NewBackground(mon Monitor, name string) (*Background, error) {
	win, err := xwindow.Generate(c.XUtil)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate window id: %w", err)
	}
	err = win.CreateChecked(c.Root, mon.X, mon.Y, mon.Width, mon.Height,
		xproto.CwBackPixel|xproto.CwOverrideRedirect,
		0, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create background window: %w", err)
	}

	// Compositing managers and pagers read these even for unmanaged windows.
	_ = ewmh.WmWindowTypeSet(c.XUtil, win.Id, []string{"_NET_WM_WINDOW_TYPE_DESKTOP"})
	_ = ewmh.WmStateSet(c.XUtil, win.Id, []string{
		"_NET_WM_STATE_BELOW",
		"_NET_WM_STATE_STICKY",
		"_NET_WM_STATE_SKIP_TASKBAR",
		"_NET_WM_STATE_SKIP_PAGER",
	})
	_ = ewmh.WmNameSet(c.XUtil, win.Id, name)

	win.Map()
	b := &Background{conn: c, win: win}
	b.lower()
	if err := b.Resize(mon); err != nil {
		win.Destroy()
		return nil, err
	}
	return b, nil
}

func (b *Background) lower() {
	xproto.ConfigureWindow(b.conn.XUtil.Conn(), b.win.Id,
		xproto.ConfigWindowStackMode, []uint32{xproto.StackModeBelow})
}

// Size returns the window size in pixels.
func (b *Background) Size() (int, int) {
	return b.width, b.height
}

// Resize moves the window onto mon and reallocates the backing image.
func (b *Background) Resize(mon Monitor) error {
	if mon.Width <= 0 || mon.Height <= 0 {
		return fmt.Errorf("invalid monitor size %dx%d", mon.Width, mon.Height)
	}
	b.win.MoveResize(mon.X, mon.Y, mon.Width, mon.Height)
	if b.img != nil && b.width == mon.Width && b.height == mon.Height {
		return nil
	}
	if b.img != nil {
		b.img.Destroy()
		b.img = nil
	}
	img := xgraphics.New(b.conn.XUtil, image.Rect(0, 0, mon.Width, mon.Height))
	if err := img.XSurfaceSet(b.win.Id); err != nil {
		img.Destroy()
		return fmt.Errorf("failed to attach pixmap: %w", err)
	}
	b.img = img
	b.width, b.height = mon.Width, mon.Height
	return nil
}

// Present copies RGBA pixels into the window. xgraphics stores BGRA.
func (b *Background) Present(pix []byte, stride, width, height int) error {
	if b.img == nil {
		return fmt.Errorf("background has no backing image")
	}
	w := min(width, b.width)
	h := min(height, b.height)
	for y := 0; y < h; y++ {
		src := pix[y*stride : y*stride+w*4]
		dst := b.img.Pix[y*b.img.Stride : y*b.img.Stride+w*4]
		for x := 0; x < w*4; x += 4 {
			dst[x+0] = src[x+2]
			dst[x+1] = src[x+1]
			dst[x+2] = src[x+0]
			dst[x+3] = 0xff
		}
	}
	b.img.XDraw()
	b.img.XPaint(b.win.Id)
	b.lower()
	return nil
}

// Destroy unmaps and frees the window.
func (b *Background) Destroy() {
	if b.img != nil {
		b.img.Destroy()
		b.img = nil
	}
	b.win.Destroy()
}
