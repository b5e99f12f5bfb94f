package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Explain returns the effective value at the given YAML-like path and its source.
//
// Supported paths include:
//
//	renderer
//	source
//	layout
//	fps_limit
//	pause_on_battery
//	battery_fps
//	pause_on_fullscreen
//	hdr_tone_map
//	hdr_mode
//	decode_retries
//	decode_backoff
//	max_buffers
//	outputs
//	outputs[<i>].match
//	outputs[<i>].source
//	outputs[<i>].layout
func Explain(res *LoadResult, path string) (any, Origin, error) {
	if res == nil || res.Config == nil {
		return nil, Origin{}, fmt.Errorf("no config loaded")
	}
	if path == "" {
		return nil, Origin{}, fmt.Errorf("path is empty")
	}

	value, err := lookupValue(res.Config, path)
	if err != nil {
		return nil, Origin{}, err
	}

	if src, ok := res.Origins[path]; ok {
		return value, src, nil
	}
	// Rule fields not set in the file inherit top-level values.
	if _, field, ok := splitRulePath(path); ok && field != "" {
		if src, ok := res.Origins[field]; ok {
			return value, src, nil
		}
	}
	return value, Origin{Kind: OriginDefault, Name: "defaults"}, nil
}

func lookupValue(cfg *Config, path string) (any, error) {
	if strings.HasPrefix(path, "outputs[") {
		return lookupRuleValue(cfg, path)
	}

	switch path {
	case "renderer":
		return cfg.Renderer, nil
	case "source":
		return cfg.Source.String(), nil
	case "layout":
		return cfg.Layout, nil
	case "fps_limit":
		return cfg.FPSLimit, nil
	case "pause_on_battery":
		return cfg.PauseOnBattery, nil
	case "battery_fps":
		return cfg.BatteryFPS, nil
	case "pause_on_fullscreen":
		return cfg.PauseOnFullscreen, nil
	case "hdr_tone_map":
		return cfg.HDRToneMap, nil
	case "hdr_mode":
		return cfg.HDRMode, nil
	case "hwdec":
		return cfg.HWDec, nil
	case "loop":
		return cfg.Loop, nil
	case "start_time":
		return cfg.StartTime.String(), nil
	case "resume_playback":
		return cfg.ResumePlayback, nil
	case "decode_retries":
		return cfg.DecodeRetries, nil
	case "decode_backoff":
		return cfg.DecodeBackoff.String(), nil
	case "max_skip_intervals":
		return cfg.MaxSkipIntervals, nil
	case "max_buffers":
		return cfg.MaxBuffers, nil
	case "max_memory_mb":
		return cfg.MaxMemoryMB, nil
	case "ffmpeg_path":
		return cfg.FFmpegPath, nil
	case "log_level":
		return cfg.LogLevel, nil
	case "log_format":
		return cfg.LogFormat, nil
	case "outputs":
		matches := make([]string, 0, len(cfg.Outputs))
		for _, rule := range cfg.Outputs {
			matches = append(matches, rule.Match.String())
		}
		return matches, nil
	}
	return nil, fmt.Errorf("unknown path: %s", path)
}

// splitRulePath splits "outputs[2].layout" into 2 and "layout".
func splitRulePath(path string) (int, string, bool) {
	rest, ok := strings.CutPrefix(path, "outputs[")
	if !ok {
		return 0, "", false
	}
	num, field, ok := strings.Cut(rest, "]")
	if !ok {
		return 0, "", false
	}
	idx, err := strconv.Atoi(num)
	if err != nil || idx < 0 {
		return 0, "", false
	}
	return idx, strings.TrimPrefix(field, "."), true
}

func rulePath(idx int, field string) string {
	if field == "" {
		return fmt.Sprintf("outputs[%d]", idx)
	}
	return fmt.Sprintf("outputs[%d].%s", idx, field)
}

func lookupRuleValue(cfg *Config, path string) (any, error) {
	idx, field, ok := splitRulePath(path)
	if !ok {
		return nil, fmt.Errorf("unknown path: %s", path)
	}
	if idx >= len(cfg.Outputs) {
		return nil, fmt.Errorf("no output rule at %s", rulePath(idx, ""))
	}
	rule := cfg.Outputs[idx]

	switch field {
	case "":
		return rule.Match.String(), nil
	case "match":
		return rule.Match.String(), nil
	case "source":
		return rule.Source.String(), nil
	case "layout":
		return rule.Layout, nil
	case "fps_limit":
		return rule.FPSLimit, nil
	case "hdr_tone_map":
		return rule.HDRToneMap, nil
	case "hdr_passthrough":
		return rule.HDRPassthrough, nil
	case "disabled":
		return rule.Disabled, nil
	}
	return nil, fmt.Errorf("unknown path: %s", path)
}
