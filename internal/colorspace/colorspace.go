// Package colorspace describes the color properties of decoded frames and
// provides the transfer functions used by the HDR pipeline.
package colorspace

import (
	"math"
	"strings"
)

// Space is the color space (primaries family) of a stream.
type Space int

const (
	SpaceUnknown Space = iota
	SpaceSDR           // BT.709 / sRGB
	SpaceHDR10         // BT.2020
	SpaceHLG
	SpaceDolbyVision
)

func (s Space) String() string {
	switch s {
	case SpaceSDR:
		return "sdr"
	case SpaceHDR10:
		return "hdr10"
	case SpaceHLG:
		return "hlg"
	case SpaceDolbyVision:
		return "dolby-vision"
	}
	return "unknown"
}

// Transfer is the electro-optical transfer function of a stream.
type Transfer int

const (
	TransferUnknown Transfer = iota
	TransferSRGB
	TransferPQ
	TransferHLG
)

func (t Transfer) String() string {
	switch t {
	case TransferSRGB:
		return "srgb"
	case TransferPQ:
		return "pq"
	case TransferHLG:
		return "hlg"
	}
	return "unknown"
}

// IsHDR reports whether t is an HDR transfer.
func (t Transfer) IsHDR() bool {
	return t == TransferPQ || t == TransferHLG
}

// ParseSpace maps ffprobe color_space/color_primaries values.
func ParseSpace(value string) Space {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "bt709", "bt.709", "srgb":
		return SpaceSDR
	case "bt2020", "bt2020nc", "bt2020c", "bt.2020-ncl", "bt.2020-cl":
		return SpaceHDR10
	}
	return SpaceUnknown
}

// ParseTransfer maps ffprobe color_transfer values.
func ParseTransfer(value string) Transfer {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "srgb", "iec61966-2-1", "bt709", "bt.709", "bt.1886":
		return TransferSRGB
	case "pq", "smpte2084", "st2084":
		return TransferPQ
	case "hlg", "arib-std-b67":
		return TransferHLG
	}
	return TransferUnknown
}

// Metadata is the HDR description attached to a frame. Luminance values are
// in nits; zero means unknown.
type Metadata struct {
	Space        Space
	Transfer     Transfer
	Primaries    string
	MaxLuminance float64
	AvgLuminance float64
	MinLuminance float64
}

// IsHDR reports whether the metadata describes HDR content.
func (m Metadata) IsHDR() bool {
	return m.Transfer.IsHDR() || m.Space == SpaceHDR10 || m.Space == SpaceHLG || m.Space == SpaceDolbyVision
}

// PeakNits returns the mastering peak, defaulting to 1000 nits for PQ and
// HLG content that carries no luminance metadata.
func (m Metadata) PeakNits() float64 {
	if m.MaxLuminance > 0 {
		return m.MaxLuminance
	}
	if m.IsHDR() {
		return 1000
	}
	return ReferenceWhite
}

// Describe returns a short label such as "HDR10" or "HLG".
func (m Metadata) Describe() string {
	switch {
	case !m.IsHDR():
		return "SDR"
	case m.Space == SpaceDolbyVision:
		return "Dolby Vision"
	case m.Transfer == TransferPQ:
		return "HDR10"
	case m.Transfer == TransferHLG:
		return "HLG"
	}
	return "HDR"
}

// ReferenceWhite is the SDR reference white in nits (BT.2408).
const ReferenceWhite = 203.0

// PQ (SMPTE ST 2084) constants.
const (
	pqM1 = 2610.0 / 16384.0
	pqM2 = 2523.0 / 4096.0 * 128.0
	pqC1 = 3424.0 / 4096.0
	pqC2 = 2413.0 / 4096.0 * 32.0
	pqC3 = 2392.0 / 4096.0 * 32.0
)

// PQToNits decodes a PQ signal in [0,1] to absolute luminance in nits.
func PQToNits(e float64) float64 {
	e = clamp01(e)
	p := math.Pow(e, 1/pqM2)
	num := math.Max(p-pqC1, 0)
	den := pqC2 - pqC3*p
	return 10000 * math.Pow(num/den, 1/pqM1)
}

// NitsToPQ encodes absolute luminance in nits to a PQ signal.
func NitsToPQ(nits float64) float64 {
	y := math.Max(nits, 0) / 10000
	p := math.Pow(y, pqM1)
	return math.Pow((pqC1+pqC2*p)/(1+pqC3*p), pqM2)
}

// HLG (ARIB STD-B67) constants.
const (
	hlgA = 0.17883277
	hlgB = 0.28466892
	hlgC = 0.55991073
)

// HLGToLinear applies the HLG inverse OETF, returning scene light in [0,1].
func HLGToLinear(e float64) float64 {
	e = clamp01(e)
	if e <= 0.5 {
		return e * e / 3
	}
	return (math.Exp((e-hlgC)/hlgA) + hlgB) / 12
}

// LinearToSRGB applies the sRGB OETF to a linear value in [0,1].
func LinearToSRGB(v float64) float64 {
	v = clamp01(v)
	if v <= 0.0031308 {
		return 12.92 * v
	}
	return 1.055*math.Pow(v, 1/2.4) - 0.055
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
