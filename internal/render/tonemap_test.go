package render

import (
	"testing"

	"github.com/1broseidon/vidwall/internal/colorspace"
	"github.com/1broseidon/vidwall/internal/config"
)

var allOperators = []config.ToneMap{
	config.ToneMapClamp,
	config.ToneMapReinhard,
	config.ToneMapFilmic,
	config.ToneMapACES,
	config.ToneMapPerceptual,
}

func TestToneMapValueMonotonicAndBounded(t *testing.T) {
	const peak = 1000.0
	for _, op := range allOperators {
		t.Run(string(op), func(t *testing.T) {
			prev := -1.0
			for nits := 0.0; nits <= 2*peak; nits += 5 {
				v := ToneMapValue(op, nits, peak)
				if v < 0 || v > 1 {
					t.Fatalf("ToneMapValue(%g) = %g out of range", nits, v)
				}
				if v+1e-9 < prev {
					t.Fatalf("not monotonic at %g nits: %g < %g", nits, v, prev)
				}
				prev = v
			}
			if ToneMapValue(op, 0, peak) > 1e-6 {
				t.Fatalf("black is not black")
			}
		})
	}
}

func TestToneMapKeepsPeakInRange(t *testing.T) {
	if v := ToneMapValue(config.ToneMapClamp, 1000, 1000); v != 1 {
		t.Fatalf("clamp at peak = %g, want 1", v)
	}
	if v := ToneMapValue(config.ToneMapReinhard, 1000, 1000); v < 0.99 {
		t.Fatalf("extended reinhard maps the peak to white, got %g", v)
	}
	if v := ToneMapValue(config.ToneMapPerceptual, 4000, 1000); v > 1+1e-9 {
		t.Fatalf("perceptual exceeds white: %g", v)
	}
}

func TestToNits(t *testing.T) {
	if got := ToNits(colorspace.TransferPQ, 1); got < 9999 || got > 10001 {
		t.Fatalf("PQ 1.0 = %g nits", got)
	}
	if got := ToNits(colorspace.TransferHLG, 1); got < 999 || got > 1001 {
		t.Fatalf("HLG 1.0 = %g nits", got)
	}
	if got := ToNits(colorspace.TransferSRGB, 1); got != colorspace.ReferenceWhite {
		t.Fatalf("SDR 1.0 = %g nits", got)
	}
}

func TestToneMapPixelDisabledIsIdentity(t *testing.T) {
	r, g, b := ToneMapPixel(ToneMap{}, 0.1, 0.5, 0.9)
	if r != 0.1 || g != 0.5 || b != 0.9 {
		t.Fatalf("disabled tone map changed pixel: %g %g %g", r, g, b)
	}
}

func TestPlanToneMap(t *testing.T) {
	hdr := colorspace.Metadata{Space: colorspace.SpaceHDR10, Transfer: colorspace.TransferPQ, MaxLuminance: 4000}
	sdr := colorspace.Metadata{Space: colorspace.SpaceSDR, Transfer: colorspace.TransferSRGB}

	tests := []struct {
		name        string
		meta        colorspace.Metadata
		passthrough bool
		mode        config.HDRMode
		enabled     bool
		peak        float64
	}{
		{name: "hdr auto", meta: hdr, mode: config.HDRModeAuto, enabled: true, peak: 4000},
		{name: "sdr auto", meta: sdr, mode: config.HDRModeAuto},
		{name: "hdr passthrough", meta: hdr, passthrough: true, mode: config.HDRModeAuto},
		{name: "hdr disabled", meta: hdr, mode: config.HDRModeDisable},
		{name: "sdr forced", meta: sdr, mode: config.HDRModeForce, enabled: true, peak: colorspace.ReferenceWhite},
		{name: "hlg without metadata", meta: colorspace.Metadata{Transfer: colorspace.TransferHLG}, mode: config.HDRModeAuto, enabled: true, peak: 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm := PlanToneMap(tt.meta, tt.passthrough, tt.mode, config.ToneMapACES)
			if tm.Enabled() != tt.enabled {
				t.Fatalf("Enabled() = %v, want %v", tm.Enabled(), tt.enabled)
			}
			if tt.enabled && tm.Peak != tt.peak {
				t.Fatalf("Peak = %g, want %g", tm.Peak, tt.peak)
			}
		})
	}
}

func TestBlendChannel(t *testing.T) {
	tests := []struct {
		mode      config.Blend
		base, top float64
		want      float64
	}{
		{config.BlendNormal, 0.2, 0.6, 0.6},
		{config.BlendAdditive, 0.7, 0.6, 1},
		{config.BlendMultiply, 0.5, 0.5, 0.25},
		{config.BlendScreen, 0.5, 0.5, 0.75},
		{config.BlendOverlay, 0.25, 0.5, 0.25},
		{config.BlendOverlay, 0.75, 0.5, 0.75},
	}
	for _, tt := range tests {
		if got := BlendChannel(tt.mode, tt.base, tt.top); !approx(got, tt.want) {
			t.Errorf("BlendChannel(%s, %g, %g) = %g, want %g", tt.mode, tt.base, tt.top, got, tt.want)
		}
	}
	if got := Composite(config.BlendNormal, 0, 1, 0.25); !approx(got, 0.25) {
		t.Errorf("Composite with quarter alpha = %g", got)
	}
}

func TestShaderCodesMatchConfig(t *testing.T) {
	if blendCode(config.BlendOverlay) != blendOverlay || blendCode("") != blendNormal {
		t.Fatal("blend codes drifted")
	}
	if operatorCode(config.ToneMapPerceptual) != tonePerceptual || operatorCode(config.ToneMapClamp) != toneClamp {
		t.Fatal("operator codes drifted")
	}
	if transferCode(colorspace.TransferHLG) != transferHLG || transferCode(colorspace.TransferSRGB) != transferNone {
		t.Fatal("transfer codes drifted")
	}
}
