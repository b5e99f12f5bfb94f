package platform

import (
	"context"
	"log/slog"
	"time"

	"github.com/1broseidon/vidwall/internal/hyprland"
	"github.com/1broseidon/vidwall/internal/logging"
)

// NewFullscreenDetector picks a detector for the running session: Hyprland
// IPC when available, EWMH polling on X11, otherwise one that never reports
// fullscreen.
func NewFullscreenDetector(comp Compositor, logger *slog.Logger) FullscreenDetector {
	logger = logging.OrDiscard(logger)
	if hyprland.Available() {
		if c, err := hyprland.NewClient(logger); err == nil {
			return c
		}
	}
	if xc, ok := comp.(*x11Compositor); ok {
		return &x11Fullscreen{comp: xc, interval: time.Second}
	}
	logger.Info("fullscreen detection unavailable for compositor", "compositor", comp.Name())
	return NoFullscreen{}
}

// NoFullscreen never reports a fullscreen output.
type NoFullscreen struct{}

func (NoFullscreen) Watch(ctx context.Context, fn func(map[string]bool)) error {
	<-ctx.Done()
	return ctx.Err()
}

// StaticFullscreen reports a fixed set once. Tests use it.
type StaticFullscreen map[string]bool

func (s StaticFullscreen) Watch(ctx context.Context, fn func(map[string]bool)) error {
	fn(map[string]bool(s))
	<-ctx.Done()
	return ctx.Err()
}
