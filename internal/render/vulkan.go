//go:build !novulkan

package render

import (
	"log/slog"

	"github.com/gogpu/gputypes"
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// VulkanCompiled reports whether this binary carries the Vulkan backend.
const VulkanCompiled = true

func init() {
	Register(BackendVulkan, func(logger *slog.Logger) Backend {
		return newHALBackend(BackendVulkan, gputypes.BackendVulkan, nil, logger)
	})
}
