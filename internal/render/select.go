package render

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/1broseidon/vidwall/internal/config"
	"github.com/1broseidon/vidwall/internal/logging"
)

// Fallback records that the requested backend was replaced.
type Fallback struct {
	From   string
	To     string
	Reason string
}

func (f Fallback) String() string {
	return fmt.Sprintf("%s -> %s: %s", f.From, f.To, f.Reason)
}

// Select picks and opens the process-wide backend for the configured
// renderer. A non-nil Fallback reports that a different backend than the
// preferred one was opened.
func Select(renderer config.Renderer, logger *slog.Logger) (Backend, *Fallback, error) {
	logger = logging.OrDiscard(logger)

	switch renderer {
	case config.RendererOpenGL:
		b, err := open(BackendOpenGL, logger)
		if err != nil {
			return nil, nil, err
		}
		return b, nil, nil

	case config.RendererVulkan, config.RendererAuto, "":
		b, err := open(BackendVulkan, logger)
		if err == nil {
			return b, nil, nil
		}
		fb := &Fallback{From: BackendVulkan, To: BackendOpenGL, Reason: err.Error()}
		if errors.Is(err, ErrVulkanNotCompiled) {
			logger.Warn("vulkan not compiled in, using opengl", "requested", string(renderer))
		} else {
			logger.Warn("vulkan unavailable, falling back to opengl", "error", err)
		}
		gl, glErr := open(BackendOpenGL, logger)
		if glErr != nil {
			return nil, fb, fmt.Errorf("no render backend: vulkan: %v; opengl: %w", err, glErr)
		}
		return gl, fb, nil
	}
	return nil, nil, fmt.Errorf("unknown renderer %q", renderer)
}

func open(name string, logger *slog.Logger) (Backend, error) {
	b := Get(name, logger)
	if b == nil {
		if name == BackendVulkan {
			return nil, ErrVulkanNotCompiled
		}
		return nil, fmt.Errorf("%w: %s", ErrBackendNotAvailable, name)
	}
	if err := b.Open(); err != nil {
		return nil, err
	}
	return b, nil
}
