package x11

import (
	"fmt"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil/ewmh"
)

// GetCurrentDesktop returns the current virtual desktop number (0-indexed).
// Uses _NET_CURRENT_DESKTOP atom. Returns 0 with an error if detection fails.
func (c *Connection) GetCurrentDesktop() (int, error) {
	desktop, err := ewmh.CurrentDesktopGet(c.XUtil)
	if err != nil {
		return 0, fmt.Errorf("failed to get current desktop: %w", err)
	}
	return int(desktop), nil
}

// GetWindowDesktop returns the desktop number a window is on.
// Uses _NET_WM_DESKTOP atom. Returns -1 for "sticky" windows (visible on all desktops).
func (c *Connection) GetWindowDesktop(windowID xproto.Window) (int, error) {
	desktop, err := ewmh.WmDesktopGet(c.XUtil, windowID)
	if err != nil {
		return 0, fmt.Errorf("failed to get window desktop: %w", err)
	}
	// 0xFFFFFFFF means the window is on all desktops (sticky)
	if desktop == 0xFFFFFFFF {
		return -1, nil
	}
	return int(desktop), nil
}

// FullscreenMonitors returns the names of monitors that currently show a
// visible fullscreen client on the current desktop.
func (c *Connection) FullscreenMonitors(monitors []Monitor) (map[string]bool, error) {
	clients, err := ewmh.ClientListGet(c.XUtil)
	if err != nil {
		return nil, fmt.Errorf("failed to get client list: %w", err)
	}
	current, desktopErr := c.GetCurrentDesktop()

	out := make(map[string]bool)
	for _, win := range clients {
		if !c.isVisibleFullscreen(win) {
			continue
		}
		if desktopErr == nil {
			if d, err := c.GetWindowDesktop(win); err == nil && d != -1 && d != current {
				continue
			}
		}
		if mon := c.MonitorForWindow(monitors, win); mon != nil {
			out[mon.Name] = true
		}
	}
	return out, nil
}

func (c *Connection) isVisibleFullscreen(win xproto.Window) bool {
	states, err := ewmh.WmStateGet(c.XUtil, win)
	if err != nil {
		return false
	}
	return hasFullscreenState(states)
}

func hasFullscreenState(states []string) bool {
	fullscreen := false
	for _, state := range states {
		switch state {
		case "_NET_WM_STATE_HIDDEN":
			return false
		case "_NET_WM_STATE_FULLSCREEN":
			fullscreen = true
		}
	}
	return fullscreen
}
