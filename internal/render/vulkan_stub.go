//go:build novulkan

package render

// VulkanCompiled reports whether this binary carries the Vulkan backend.
const VulkanCompiled = false
