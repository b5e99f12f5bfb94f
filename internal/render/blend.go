package render

import "github.com/1broseidon/vidwall/internal/config"

// Blend codes shared with the compute shader.
const (
	blendNormal uint32 = iota
	blendAdditive
	blendMultiply
	blendScreen
	blendOverlay
)

func blendCode(b config.Blend) uint32 {
	switch b {
	case config.BlendAdditive:
		return blendAdditive
	case config.BlendMultiply:
		return blendMultiply
	case config.BlendScreen:
		return blendScreen
	case config.BlendOverlay:
		return blendOverlay
	}
	return blendNormal
}

// BlendChannel combines one channel of the top layer onto the base before
// opacity is applied. Values are in [0,1].
func BlendChannel(mode config.Blend, base, top float64) float64 {
	switch mode {
	case config.BlendAdditive:
		return min(base+top, 1)
	case config.BlendMultiply:
		return base * top
	case config.BlendScreen:
		return 1 - (1-base)*(1-top)
	case config.BlendOverlay:
		if base < 0.5 {
			return 2 * base * top
		}
		return 1 - 2*(1-base)*(1-top)
	}
	return top
}

// Composite blends top over base with the layer's coverage and opacity.
func Composite(mode config.Blend, base, top, alpha float64) float64 {
	b := BlendChannel(mode, base, top)
	return base + (b-base)*alpha
}
