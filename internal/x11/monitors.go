package x11

import (
	"fmt"

	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"
)

// Monitor represents a physical display driven by one CRTC.
type Monitor struct {
	ID         int
	Name       string
	X          int
	Y          int
	Width      int
	Height     int
	RefreshMHz int
	Rotation   uint16 // randr rotation/reflection bits
	Connected  bool
}

// Transform maps the RandR rotation bits to the wl_output.transform
// numbering: 0-3 are clockwise quarter turns, 4-7 the same with a flip.
func (m Monitor) Transform() int {
	t := 0
	switch {
	case m.Rotation&randr.RotationRotate90 != 0:
		t = 1
	case m.Rotation&randr.RotationRotate180 != 0:
		t = 2
	case m.Rotation&randr.RotationRotate270 != 0:
		t = 3
	}
	if m.Rotation&(randr.RotationReflectX|randr.RotationReflectY) != 0 {
		t += 4
	}
	return t
}

// GetMonitors retrieves all active monitors using XRandR
func (c *Connection) GetMonitors() ([]Monitor, error) {
	resources, err := randr.GetScreenResources(c.XUtil.Conn(), c.Root).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get screen resources: %w", err)
	}

	modes := make(map[uint32]randr.ModeInfo, len(resources.Modes))
	for _, mi := range resources.Modes {
		modes[mi.Id] = mi
	}

	var monitors []Monitor

	for i, crtc := range resources.Crtcs {
		crtcInfo, err := randr.GetCrtcInfo(c.XUtil.Conn(), crtc, resources.ConfigTimestamp).Reply()
		if err != nil {
			continue
		}

		// Skip disabled CRTCs
		if crtcInfo.Width == 0 || crtcInfo.Height == 0 || len(crtcInfo.Outputs) == 0 {
			continue
		}

		mon := Monitor{
			ID:        i,
			Name:      fmt.Sprintf("Monitor%d", i),
			X:         int(crtcInfo.X),
			Y:         int(crtcInfo.Y),
			Width:     int(crtcInfo.Width),
			Height:    int(crtcInfo.Height),
			Rotation:  crtcInfo.Rotation,
			Connected: true,
		}
		outputInfo, err := randr.GetOutputInfo(c.XUtil.Conn(), crtcInfo.Outputs[0], resources.ConfigTimestamp).Reply()
		if err == nil {
			mon.Name = string(outputInfo.Name)
			mon.Connected = outputInfo.Connection == randr.ConnectionConnected
		}
		if mi, ok := modes[uint32(crtcInfo.Mode)]; ok {
			mon.RefreshMHz = refreshMHz(mi)
		}

		monitors = append(monitors, mon)
	}

	return monitors, nil
}

func refreshMHz(mi randr.ModeInfo) int {
	total := uint64(mi.Htotal) * uint64(mi.Vtotal)
	if total == 0 {
		return 0
	}
	return int(uint64(mi.DotClock) * 1000 / total)
}

// MonitorForWindow returns the monitor containing the window's center.
func (c *Connection) MonitorForWindow(monitors []Monitor, windowID xproto.Window) *Monitor {
	geom, err := xproto.GetGeometry(c.XUtil.Conn(), xproto.Drawable(windowID)).Reply()
	if err != nil {
		return nil
	}

	translate, err := xproto.TranslateCoordinates(
		c.XUtil.Conn(),
		windowID,
		c.Root,
		0, 0,
	).Reply()
	if err != nil {
		return nil
	}

	return monitorAt(monitors,
		int(translate.DstX)+int(geom.Width)/2,
		int(translate.DstY)+int(geom.Height)/2,
	)
}

func monitorAt(monitors []Monitor, x, y int) *Monitor {
	for i := range monitors {
		mon := &monitors[i]
		if x >= mon.X && x < mon.X+mon.Width && y >= mon.Y && y < mon.Y+mon.Height {
			return mon
		}
	}
	return nil
}
