package render

import (
	"log/slog"

	"github.com/gogpu/gputypes"
	_ "github.com/gogpu/wgpu/hal/gles"
)

func init() {
	Register(BackendOpenGL, func(logger *slog.Logger) Backend {
		return newHALBackend(BackendOpenGL, gputypes.BackendGL, nil, logger)
	})
}
