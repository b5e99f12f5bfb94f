package render

import (
	"math"

	"github.com/1broseidon/vidwall/internal/colorspace"
	"github.com/1broseidon/vidwall/internal/config"
)

// Operator codes shared with the compute shader.
const (
	toneOff uint32 = iota
	toneClamp
	toneReinhard
	toneFilmic
	toneACES
	tonePerceptual
)

const (
	transferNone uint32 = iota
	transferPQ
	transferHLG
)

// hlgNominalPeak is the display peak HLG signals are rendered against.
const hlgNominalPeak = 1000.0

func operatorCode(op config.ToneMap) uint32 {
	switch op {
	case config.ToneMapClamp:
		return toneClamp
	case config.ToneMapReinhard:
		return toneReinhard
	case config.ToneMapFilmic:
		return toneFilmic
	case config.ToneMapACES:
		return toneACES
	case config.ToneMapPerceptual:
		return tonePerceptual
	}
	return toneClamp
}

func transferCode(t colorspace.Transfer) uint32 {
	switch t {
	case colorspace.TransferPQ:
		return transferPQ
	case colorspace.TransferHLG:
		return transferHLG
	}
	return transferNone
}

// ToNits decodes an HDR-encoded channel value to absolute nits.
func ToNits(t colorspace.Transfer, v float64) float64 {
	switch t {
	case colorspace.TransferPQ:
		return colorspace.PQToNits(v)
	case colorspace.TransferHLG:
		return colorspace.HLGToLinear(v) * hlgNominalPeak
	}
	return v * colorspace.ReferenceWhite
}

// hable is John Hable's Uncharted 2 curve.
func hable(x float64) float64 {
	const a, b, c, d, e, f = 0.15, 0.50, 0.10, 0.20, 0.02, 0.30
	return (x*(a*x+c*b)+d*e)/(x*(a*x+b)+d*f) - e/f
}

// acesFit is Krzysztof Narkowicz's ACES filmic fit.
func acesFit(x float64) float64 {
	return (x * (2.51*x + 0.03)) / (x*(2.43*x+0.59) + 0.14)
}

// eetf is a BT.2390-style knee in the PQ domain mapping peak nits onto
// reference white.
func eetf(nits, peak float64) float64 {
	if peak <= colorspace.ReferenceWhite {
		return math.Min(nits, colorspace.ReferenceWhite)
	}
	srcPeak := colorspace.NitsToPQ(peak)
	e1 := colorspace.NitsToPQ(nits) / srcPeak
	maxL := colorspace.NitsToPQ(colorspace.ReferenceWhite) / srcPeak
	ks := 1.5*maxL - 0.5
	e2 := e1
	if e1 >= ks {
		t := (e1 - ks) / (1 - ks)
		t2, t3 := t*t, t*t*t
		e2 = (2*t3-3*t2+1)*ks + (t3-2*t2+t)*(1-ks) + (-2*t3+3*t2)*maxL
	}
	return colorspace.PQToNits(math.Min(e2, maxL) * srcPeak)
}

// ToneMapValue maps absolute nits to display-linear [0,1] with the given
// operator and content peak.
func ToneMapValue(op config.ToneMap, nits, peak float64) float64 {
	x := math.Max(nits, 0) / colorspace.ReferenceWhite
	w := math.Max(peak, colorspace.ReferenceWhite) / colorspace.ReferenceWhite

	var y float64
	switch op {
	case config.ToneMapReinhard:
		y = x * (1 + x/(w*w)) / (1 + x)
	case config.ToneMapFilmic:
		y = hable(2*x) / hable(2*w)
	case config.ToneMapACES:
		y = acesFit(x)
	case config.ToneMapPerceptual:
		y = eetf(nits, peak) / colorspace.ReferenceWhite
	default:
		y = x
	}
	return clampUnit(y)
}

// ToneMapPixel converts one HDR-encoded RGB triple to sRGB-encoded SDR.
func ToneMapPixel(tm ToneMap, r, g, b float64) (float64, float64, float64) {
	if !tm.Enabled() {
		return r, g, b
	}
	f := func(v float64) float64 {
		return colorspace.LinearToSRGB(ToneMapValue(tm.Operator, ToNits(tm.Transfer, v), tm.Peak))
	}
	return f(r), f(g), f(b)
}

func clampUnit(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
