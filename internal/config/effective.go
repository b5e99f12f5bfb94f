package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type ValidationError struct {
	Path   string
	Origin Origin
	Err    error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Origin.Kind == OriginFile && e.Origin.File != "" && e.Origin.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s: %v", e.Origin.File, e.Origin.Line, e.Origin.Column, e.Path, e.Err)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

func BuildEffectiveConfig(raw RawConfig) (*Config, error) {
	cfg := DefaultConfig()

	if raw.Renderer != nil {
		cfg.Renderer = *raw.Renderer
	}
	if raw.Source != nil {
		src, err := buildSource(*raw.Source)
		if err != nil {
			return nil, &ValidationError{Path: "source", Err: err}
		}
		cfg.Source = src
	}
	if raw.Layout != nil {
		cfg.Layout = *raw.Layout
	}
	if raw.FPSLimit != nil {
		cfg.FPSLimit = *raw.FPSLimit
	}
	if raw.PauseOnBattery != nil {
		cfg.PauseOnBattery = *raw.PauseOnBattery
	}
	if raw.BatteryFPS != nil {
		cfg.BatteryFPS = *raw.BatteryFPS
	}
	if raw.PauseOnFullscreen != nil {
		cfg.PauseOnFullscreen = *raw.PauseOnFullscreen
	}
	if raw.HDRToneMap != nil {
		cfg.HDRToneMap = *raw.HDRToneMap
	}
	if raw.HDRMode != nil {
		cfg.HDRMode = *raw.HDRMode
	}
	if raw.HWDec != nil {
		cfg.HWDec = *raw.HWDec
	}
	if raw.Loop != nil {
		cfg.Loop = *raw.Loop
	}
	if raw.StartTime != nil {
		d, err := parseDuration(*raw.StartTime)
		if err != nil {
			return nil, &ValidationError{Path: "start_time", Err: err}
		}
		cfg.StartTime = d
	}
	if raw.ResumePlayback != nil {
		cfg.ResumePlayback = *raw.ResumePlayback
	}
	if raw.DecodeRetries != nil {
		cfg.DecodeRetries = *raw.DecodeRetries
	}
	if raw.DecodeBackoff != nil {
		d, err := parseDuration(*raw.DecodeBackoff)
		if err != nil {
			return nil, &ValidationError{Path: "decode_backoff", Err: err}
		}
		cfg.DecodeBackoff = d
	}
	if raw.MaxSkipIntervals != nil {
		cfg.MaxSkipIntervals = *raw.MaxSkipIntervals
	}
	if raw.MaxBuffers != nil {
		cfg.MaxBuffers = *raw.MaxBuffers
	}
	if raw.MaxMemoryMB != nil {
		cfg.MaxMemoryMB = *raw.MaxMemoryMB
	}
	if raw.FFmpegPath != nil {
		cfg.FFmpegPath = expandHome(*raw.FFmpegPath)
	}
	if raw.LogLevel != nil {
		cfg.LogLevel = strings.ToLower(*raw.LogLevel)
	}
	if raw.LogFormat != nil {
		cfg.LogFormat = strings.ToLower(*raw.LogFormat)
	}

	for i, rawRule := range raw.Outputs {
		rule, err := buildOutputRule(cfg, rawRule)
		if err != nil {
			return nil, &ValidationError{Path: fmt.Sprintf("outputs[%d]", i), Err: err}
		}
		cfg.Outputs = append(cfg.Outputs, rule)
	}

	return cfg, nil
}

func buildOutputRule(cfg *Config, raw RawOutputRule) (OutputRule, error) {
	if raw.Match == nil {
		return OutputRule{}, fmt.Errorf("match is required")
	}
	match, err := ParseMatch(*raw.Match)
	if err != nil {
		return OutputRule{}, err
	}

	rule := OutputRule{
		Match:      match,
		Source:     cfg.Source,
		Layout:     cfg.Layout,
		FPSLimit:   cfg.FPSLimit,
		HDRToneMap: cfg.HDRToneMap,
	}
	if raw.Source != nil {
		src, err := buildSource(*raw.Source)
		if err != nil {
			return OutputRule{}, fmt.Errorf("source: %w", err)
		}
		rule.Source = src
	}
	if raw.Layout != nil {
		rule.Layout = *raw.Layout
	}
	if raw.FPSLimit != nil {
		rule.FPSLimit = *raw.FPSLimit
	}
	if raw.HDRToneMap != nil {
		rule.HDRToneMap = *raw.HDRToneMap
	}
	if raw.HDRPassthrough != nil {
		rule.HDRPassthrough = *raw.HDRPassthrough
	}
	if raw.Disabled != nil {
		rule.Disabled = *raw.Disabled
	}
	return rule, nil
}

func buildSource(raw RawSource) (Source, error) {
	var src Source
	if raw.Path != nil {
		src.Path = expandHome(strings.TrimSpace(*raw.Path))
	}
	if raw.FPS != nil {
		src.FPS = *raw.FPS
	}

	switch {
	case raw.Type != nil:
		src.Type = *raw.Type
	case len(raw.Layers) > 0:
		src.Type = SourceScene
	case src.Path != "":
		if info, err := os.Stat(src.Path); err == nil && info.IsDir() {
			src.Type = SourceSequence
		} else {
			src.Type = InferSourceType(src.Path)
		}
	}

	if src.Type == SourceSequence && src.FPS == 0 {
		src.FPS = DefaultSequenceFPS
	}

	for _, rl := range raw.Layers {
		layer := SceneLayer{
			Blend:   BlendNormal,
			Opacity: 1,
			Scale:   1,
		}
		if rl.Image != nil {
			layer.Image = expandHome(*rl.Image)
		}
		if rl.Blend != nil {
			layer.Blend = *rl.Blend
		}
		if rl.Opacity != nil {
			layer.Opacity = *rl.Opacity
		}
		if rl.Scale != nil {
			layer.Scale = *rl.Scale
		}
		if rl.OffsetX != nil {
			layer.OffsetX = *rl.OffsetX
		}
		if rl.OffsetY != nil {
			layer.OffsetY = *rl.OffsetY
		}
		src.Layers = append(src.Layers, layer)
	}
	return src, nil
}

func parseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// NormalizeSource completes a source given at runtime (over the control
// socket) the way the file loader would and validates it. Zero layer
// opacity and scale mean "unset".
func NormalizeSource(src Source) (Source, error) {
	src.Path = expandHome(strings.TrimSpace(src.Path))
	if src.Type == "" {
		switch {
		case len(src.Layers) > 0:
			src.Type = SourceScene
		case src.Path != "":
			if info, err := os.Stat(src.Path); err == nil && info.IsDir() {
				src.Type = SourceSequence
			} else {
				src.Type = InferSourceType(src.Path)
			}
		}
	}
	if src.Type == SourceSequence && src.FPS == 0 {
		src.FPS = DefaultSequenceFPS
	}
	layers := make([]SceneLayer, len(src.Layers))
	for i, l := range src.Layers {
		l.Image = expandHome(l.Image)
		if l.Blend == "" {
			l.Blend = BlendNormal
		}
		if l.Opacity == 0 {
			l.Opacity = 1
		}
		if l.Scale == 0 {
			l.Scale = 1
		}
		layers[i] = l
	}
	if len(layers) > 0 {
		src.Layers = layers
	}
	if err := validateSource(src); err != nil {
		return Source{}, err
	}
	return src, nil
}

// ValidateLayout reports whether l is a known layout.
func ValidateLayout(l Layout) error {
	return validateLayout(l)
}
