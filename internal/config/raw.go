package config

import (
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// IncludeList supports either:
//
//	include: "/path/to/file.yaml"
//
// or:
//
//	include:
//	  - "/path/to/file.yaml"
//	  - "/path/to/dir"
type IncludeList []string

func (l *IncludeList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case 0:
		*l = nil
		return nil
	case yaml.ScalarNode:
		if value.Tag != "!!str" {
			return fmt.Errorf("include must be a string or list of strings")
		}
		*l = []string{value.Value}
		return nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind != yaml.ScalarNode || item.Tag != "!!str" {
				return fmt.Errorf("include entries must be strings")
			}
			out = append(out, item.Value)
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("include must be a string or list of strings")
	}
}

type RawSceneLayer struct {
	Image   *string  `yaml:"image"`
	Blend   *Blend   `yaml:"blend"`
	Opacity *float64 `yaml:"opacity"`
	Scale   *float64 `yaml:"scale"`
	OffsetX *float64 `yaml:"offset_x"`
	OffsetY *float64 `yaml:"offset_y"`
}

// RawSource supports either a bare path:
//
//	source: ~/Videos/waves.mp4
//
// or a mapping:
//
//	source:
//	  type: sequence
//	  path: ~/Pictures/frames
//	  fps: 24
type RawSource struct {
	Type   *SourceType     `yaml:"type"`
	Path   *string         `yaml:"path"`
	FPS    *float64        `yaml:"fps"`
	Layers []RawSceneLayer `yaml:"layers"`
}

func (s *RawSource) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Tag != "!!str" {
			return fmt.Errorf("source must be a path or a mapping")
		}
		path := value.Value
		*s = RawSource{Path: &path}
		return nil
	case yaml.MappingNode:
		type plain RawSource
		var out plain
		if err := value.Decode(&out); err != nil {
			return err
		}
		*s = RawSource(out)
		return nil
	default:
		return fmt.Errorf("source must be a path or a mapping")
	}
}

type RawOutputRule struct {
	Match          *string    `yaml:"match"`
	Source         *RawSource `yaml:"source"`
	Layout         *Layout    `yaml:"layout"`
	FPSLimit       *int       `yaml:"fps_limit"`
	HDRToneMap     *ToneMap   `yaml:"hdr_tone_map"`
	HDRPassthrough *bool      `yaml:"hdr_passthrough"`
	Disabled       *bool      `yaml:"disabled"`
}

type RawConfig struct {
	Include           IncludeList     `yaml:"include"`
	Renderer          *Renderer       `yaml:"renderer"`
	Source            *RawSource      `yaml:"source"`
	Layout            *Layout         `yaml:"layout"`
	FPSLimit          *int            `yaml:"fps_limit"`
	PauseOnBattery    *bool           `yaml:"pause_on_battery"`
	BatteryFPS        *int            `yaml:"battery_fps"`
	PauseOnFullscreen *bool           `yaml:"pause_on_fullscreen"`
	HDRToneMap        *ToneMap        `yaml:"hdr_tone_map"`
	HDRMode           *HDRMode        `yaml:"hdr_mode"`
	HWDec             *bool           `yaml:"hwdec"`
	Loop              *bool           `yaml:"loop"`
	StartTime         *string         `yaml:"start_time"`
	ResumePlayback    *bool           `yaml:"resume_playback"`
	DecodeRetries     *int            `yaml:"decode_retries"`
	DecodeBackoff     *string         `yaml:"decode_backoff"`
	MaxSkipIntervals  *int            `yaml:"max_skip_intervals"`
	MaxBuffers        *int            `yaml:"max_buffers"`
	MaxMemoryMB       *int            `yaml:"max_memory_mb"`
	FFmpegPath        *string         `yaml:"ffmpeg_path"`
	LogLevel          *string         `yaml:"log_level"`
	LogFormat         *string         `yaml:"log_format"`
	Outputs           []RawOutputRule `yaml:"outputs"`
}

// merge overlays non-nil scalar settings. Output rules go through
// mergeRules, which also reports where each earlier rule moved.
func (c RawConfig) merge(overlay RawConfig) RawConfig {
	out := c

	if overlay.Renderer != nil {
		out.Renderer = overlay.Renderer
	}
	if overlay.Source != nil {
		out.Source = overlay.Source
	}
	if overlay.Layout != nil {
		out.Layout = overlay.Layout
	}
	if overlay.FPSLimit != nil {
		out.FPSLimit = overlay.FPSLimit
	}
	if overlay.PauseOnBattery != nil {
		out.PauseOnBattery = overlay.PauseOnBattery
	}
	if overlay.BatteryFPS != nil {
		out.BatteryFPS = overlay.BatteryFPS
	}
	if overlay.PauseOnFullscreen != nil {
		out.PauseOnFullscreen = overlay.PauseOnFullscreen
	}
	if overlay.HDRToneMap != nil {
		out.HDRToneMap = overlay.HDRToneMap
	}
	if overlay.HDRMode != nil {
		out.HDRMode = overlay.HDRMode
	}
	if overlay.HWDec != nil {
		out.HWDec = overlay.HWDec
	}
	if overlay.Loop != nil {
		out.Loop = overlay.Loop
	}
	if overlay.StartTime != nil {
		out.StartTime = overlay.StartTime
	}
	if overlay.ResumePlayback != nil {
		out.ResumePlayback = overlay.ResumePlayback
	}
	if overlay.DecodeRetries != nil {
		out.DecodeRetries = overlay.DecodeRetries
	}
	if overlay.DecodeBackoff != nil {
		out.DecodeBackoff = overlay.DecodeBackoff
	}
	if overlay.MaxSkipIntervals != nil {
		out.MaxSkipIntervals = overlay.MaxSkipIntervals
	}
	if overlay.MaxBuffers != nil {
		out.MaxBuffers = overlay.MaxBuffers
	}
	if overlay.MaxMemoryMB != nil {
		out.MaxMemoryMB = overlay.MaxMemoryMB
	}
	if overlay.FFmpegPath != nil {
		out.FFmpegPath = overlay.FFmpegPath
	}
	if overlay.LogLevel != nil {
		out.LogLevel = overlay.LogLevel
	}
	if overlay.LogFormat != nil {
		out.LogFormat = overlay.LogFormat
	}

	return out
}

// selector is the normalized match of a rule, so "*" and "default" name
// the same rule. Rules without a usable match never collide.
func (r RawOutputRule) selector() (string, bool) {
	if r.Match == nil {
		return "", false
	}
	if m, err := ParseMatch(*r.Match); err == nil {
		return m.String(), true
	}
	return strings.TrimSpace(*r.Match), true
}

// mergeRules puts overlay's rules first, then the base rules overlay does
// not replace. moved[i] is the new index of base[i], or -1 if an overlay
// rule with the same selector replaced it.
func mergeRules(base, overlay []RawOutputRule) ([]RawOutputRule, []int) {
	named := make(map[string]bool, len(overlay))
	for _, r := range overlay {
		if sel, ok := r.selector(); ok {
			named[sel] = true
		}
	}

	out := slices.Clone(overlay)
	moved := make([]int, len(base))
	for i, r := range base {
		if sel, ok := r.selector(); ok && named[sel] {
			moved[i] = -1
			continue
		}
		moved[i] = len(out)
		out = append(out, r)
	}
	return out, moved
}

// anchor resolves relative media paths against dir, the directory of the
// file that named them.
func (c *RawConfig) anchor(dir string) {
	c.Source.anchor(dir)
	for i := range c.Outputs {
		c.Outputs[i].Source.anchor(dir)
	}
}

func (s *RawSource) anchor(dir string) {
	if s == nil {
		return
	}
	if s.Path != nil {
		p := anchorPath(dir, *s.Path)
		s.Path = &p
	}
	for i := range s.Layers {
		if img := s.Layers[i].Image; img != nil {
			p := anchorPath(dir, *img)
			s.Layers[i].Image = &p
		}
	}
}
