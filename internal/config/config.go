package config

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"
)

// Renderer selects the process-wide GPU backend.
type Renderer string

const (
	RendererAuto   Renderer = "auto"
	RendererVulkan Renderer = "vulkan"
	RendererOpenGL Renderer = "opengl"
)

// Layout controls how a source is placed on an output.
type Layout string

const (
	LayoutFill    Layout = "fill"
	LayoutFit     Layout = "fit"
	LayoutStretch Layout = "stretch"
	LayoutCenter  Layout = "center"
)

// ToneMap names the HDR -> SDR operator.
type ToneMap string

const (
	ToneMapClamp      ToneMap = "clamp"
	ToneMapReinhard   ToneMap = "reinhard"
	ToneMapFilmic     ToneMap = "filmic"
	ToneMapACES       ToneMap = "aces"
	ToneMapPerceptual ToneMap = "perceptual"
)

// HDRMode controls when tone mapping is considered at all.
type HDRMode string

const (
	HDRModeAuto    HDRMode = "auto"
	HDRModeForce   HDRMode = "force"
	HDRModeDisable HDRMode = "disable"
)

// SourceType identifies the decode engine for a source.
type SourceType string

const (
	SourceVideo    SourceType = "video"
	SourceImage    SourceType = "image"
	SourceSequence SourceType = "sequence"
	SourceScene    SourceType = "scene"
)

// Blend is a layer blend mode.
type Blend string

const (
	BlendNormal   Blend = "normal"
	BlendAdditive Blend = "additive"
	BlendMultiply Blend = "multiply"
	BlendScreen   Blend = "screen"
	BlendOverlay  Blend = "overlay"
)

const (
	DefaultSequenceFPS      = 30.0
	DefaultDecodeRetries    = 3
	DefaultDecodeBackoff    = 100 * time.Millisecond
	DefaultMaxSkipIntervals = 2
	DefaultMaxBuffers       = 8
	DefaultMaxMemoryMB      = 100
)

var imageExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".bmp": {}, ".webp": {},
}

// SceneLayer is one image in a layered scene.
type SceneLayer struct {
	Image   string  `yaml:"image" json:"image"`
	Blend   Blend   `yaml:"blend" json:"blend,omitempty"`
	Opacity float64 `yaml:"opacity" json:"opacity,omitempty"`
	Scale   float64 `yaml:"scale" json:"scale,omitempty"`
	OffsetX float64 `yaml:"offset_x" json:"offset_x,omitempty"`
	OffsetY float64 `yaml:"offset_y" json:"offset_y,omitempty"`
}

// Source is a content reference. A bare YAML string is a path whose type is
// inferred from its extension.
type Source struct {
	Type   SourceType   `yaml:"type" json:"type,omitempty"`
	Path   string       `yaml:"path" json:"path,omitempty"`
	FPS    float64      `yaml:"fps,omitempty" json:"fps,omitempty"`
	Layers []SceneLayer `yaml:"layers,omitempty" json:"layers,omitempty"`
}

// IsZero reports whether no source is configured.
func (s Source) IsZero() bool {
	return s.Path == "" && len(s.Layers) == 0
}

// String renders a short human description.
func (s Source) String() string {
	switch s.Type {
	case SourceScene:
		return fmt.Sprintf("scene(%d layers)", len(s.Layers))
	case "":
		return s.Path
	default:
		return string(s.Type) + ":" + s.Path
	}
}

// Equal reports whether two sources describe the same content.
func (s Source) Equal(o Source) bool {
	if s.Type != o.Type || s.Path != o.Path || s.FPS != o.FPS || len(s.Layers) != len(o.Layers) {
		return false
	}
	for i := range s.Layers {
		if s.Layers[i] != o.Layers[i] {
			return false
		}
	}
	return true
}

// InferSourceType guesses a type from a path.
func InferSourceType(path string) SourceType {
	if _, ok := imageExtensions[strings.ToLower(filepath.Ext(path))]; ok {
		return SourceImage
	}
	return SourceVideo
}

// OutputRule is one per-output match rule with fully resolved settings.
// Fields not set in the file inherit the top-level values.
type OutputRule struct {
	Match          Match
	Source         Source
	Layout         Layout
	FPSLimit       int
	HDRToneMap     ToneMap
	HDRPassthrough bool
	Disabled       bool
}

// Config is the effective configuration consumed by the daemon.
type Config struct {
	Renderer          Renderer
	Source            Source
	Layout            Layout
	FPSLimit          int // 0 means follow the output refresh rate
	PauseOnBattery    bool
	BatteryFPS        int // 0 means suspend on battery
	PauseOnFullscreen bool
	HDRToneMap        ToneMap
	HDRMode           HDRMode
	HWDec             bool
	Loop              bool
	StartTime         time.Duration
	ResumePlayback    bool
	DecodeRetries     int
	DecodeBackoff     time.Duration
	MaxSkipIntervals  int
	MaxBuffers        int
	MaxMemoryMB       int
	FFmpegPath        string
	LogLevel          string
	LogFormat         string
	Outputs           []OutputRule
}

// DefaultConfig returns the built-in defaults. No source is configured, so
// outputs stay inactive until the user provides one.
func DefaultConfig() *Config {
	return &Config{
		Renderer:         RendererAuto,
		Layout:           LayoutFill,
		HDRToneMap:       ToneMapACES,
		HDRMode:          HDRModeAuto,
		HWDec:            true,
		Loop:             true,
		DecodeRetries:    DefaultDecodeRetries,
		DecodeBackoff:    DefaultDecodeBackoff,
		MaxSkipIntervals: DefaultMaxSkipIntervals,
		MaxBuffers:       DefaultMaxBuffers,
		MaxMemoryMB:      DefaultMaxMemoryMB,
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// Rules returns the configured output rules. When none are configured and a
// top-level source exists, a single default rule built from the top-level
// settings is returned.
func (c *Config) Rules() []OutputRule {
	if len(c.Outputs) > 0 {
		return c.Outputs
	}
	if c.Source.IsZero() {
		return nil
	}
	return []OutputRule{{
		Match:      Match{Kind: MatchDefault},
		Source:     c.Source,
		Layout:     c.Layout,
		FPSLimit:   c.FPSLimit,
		HDRToneMap: c.HDRToneMap,
	}}
}

// Validate performs strict validation of the effective configuration.
func (c *Config) Validate() error {
	switch c.Renderer {
	case RendererAuto, RendererVulkan, RendererOpenGL:
	default:
		return &ValidationError{Path: "renderer", Err: fmt.Errorf("renderer must be one of: auto, vulkan, opengl")}
	}
	if err := validateLayout(c.Layout); err != nil {
		return &ValidationError{Path: "layout", Err: err}
	}
	if err := validateToneMap(c.HDRToneMap); err != nil {
		return &ValidationError{Path: "hdr_tone_map", Err: err}
	}
	switch c.HDRMode {
	case HDRModeAuto, HDRModeForce, HDRModeDisable:
	default:
		return &ValidationError{Path: "hdr_mode", Err: fmt.Errorf("hdr_mode must be one of: auto, force, disable")}
	}
	if c.FPSLimit < 0 {
		return &ValidationError{Path: "fps_limit", Err: fmt.Errorf("fps_limit must be >= 0")}
	}
	if c.BatteryFPS < 0 {
		return &ValidationError{Path: "battery_fps", Err: fmt.Errorf("battery_fps must be >= 0")}
	}
	if c.StartTime < 0 {
		return &ValidationError{Path: "start_time", Err: fmt.Errorf("start_time must be >= 0")}
	}
	if c.DecodeRetries < 0 || c.DecodeRetries > 10 {
		return &ValidationError{Path: "decode_retries", Err: fmt.Errorf("decode_retries must be between 0 and 10")}
	}
	if c.DecodeBackoff <= 0 {
		return &ValidationError{Path: "decode_backoff", Err: fmt.Errorf("decode_backoff must be > 0")}
	}
	if c.MaxSkipIntervals < 1 {
		return &ValidationError{Path: "max_skip_intervals", Err: fmt.Errorf("max_skip_intervals must be >= 1")}
	}
	if c.MaxBuffers < 2 {
		return &ValidationError{Path: "max_buffers", Err: fmt.Errorf("max_buffers must be >= 2")}
	}
	if c.MaxMemoryMB < 16 {
		return &ValidationError{Path: "max_memory_mb", Err: fmt.Errorf("max_memory_mb must be >= 16")}
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return &ValidationError{Path: "log_level", Err: fmt.Errorf("log_level must be one of: debug, info, warn, error")}
	}
	switch c.LogFormat {
	case "text", "json", "logfmt":
	default:
		return &ValidationError{Path: "log_format", Err: fmt.Errorf("log_format must be one of: text, json, logfmt")}
	}
	if !c.Source.IsZero() {
		if err := validateSource(c.Source); err != nil {
			return &ValidationError{Path: "source", Err: err}
		}
	}

	defaults := 0
	for i, rule := range c.Outputs {
		path := fmt.Sprintf("outputs[%d]", i)
		if rule.Match.Kind == MatchDefault {
			defaults++
			if defaults > 1 {
				return &ValidationError{Path: path + ".match", Err: fmt.Errorf("only one default rule is allowed")}
			}
		}
		if rule.Disabled {
			continue
		}
		if rule.Source.IsZero() {
			return &ValidationError{Path: path + ".source", Err: fmt.Errorf("rule %q has no source and no top-level source is set", rule.Match)}
		}
		if err := validateSource(rule.Source); err != nil {
			return &ValidationError{Path: path + ".source", Err: err}
		}
		if err := validateLayout(rule.Layout); err != nil {
			return &ValidationError{Path: path + ".layout", Err: err}
		}
		if err := validateToneMap(rule.HDRToneMap); err != nil {
			return &ValidationError{Path: path + ".hdr_tone_map", Err: err}
		}
		if rule.FPSLimit < 0 {
			return &ValidationError{Path: path + ".fps_limit", Err: fmt.Errorf("fps_limit must be >= 0")}
		}
	}

	return nil
}

func validateLayout(l Layout) error {
	switch l {
	case LayoutFill, LayoutFit, LayoutStretch, LayoutCenter:
		return nil
	}
	return fmt.Errorf("layout must be one of: fill, fit, stretch, center")
}

func validateToneMap(t ToneMap) error {
	switch t {
	case ToneMapClamp, ToneMapReinhard, ToneMapFilmic, ToneMapACES, ToneMapPerceptual:
		return nil
	}
	return fmt.Errorf("hdr_tone_map must be one of: clamp, reinhard, filmic, aces, perceptual")
}

func validateBlend(b Blend) error {
	switch b {
	case BlendNormal, BlendAdditive, BlendMultiply, BlendScreen, BlendOverlay:
		return nil
	}
	return fmt.Errorf("blend must be one of: normal, additive, multiply, screen, overlay")
}

func validateSource(s Source) error {
	switch s.Type {
	case SourceVideo, SourceImage, SourceSequence:
		if strings.TrimSpace(s.Path) == "" {
			return fmt.Errorf("%s source requires a path", s.Type)
		}
	case SourceScene:
		if len(s.Layers) == 0 {
			return fmt.Errorf("scene source requires at least one layer")
		}
		for i, layer := range s.Layers {
			if strings.TrimSpace(layer.Image) == "" {
				return fmt.Errorf("layers[%d]: image is required", i)
			}
			if err := validateBlend(layer.Blend); err != nil {
				return fmt.Errorf("layers[%d]: %w", i, err)
			}
			if layer.Opacity < 0 || layer.Opacity > 1 || math.IsNaN(layer.Opacity) {
				return fmt.Errorf("layers[%d]: opacity must be between 0 and 1", i)
			}
			if layer.Scale <= 0 {
				return fmt.Errorf("layers[%d]: scale must be > 0", i)
			}
		}
	default:
		return fmt.Errorf("source type must be one of: video, image, sequence, scene")
	}
	if s.FPS < 0 {
		return fmt.Errorf("fps must be >= 0")
	}
	return nil
}
