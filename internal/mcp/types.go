package mcp

// OutputTarget selects one output. An empty name means all outputs.
type OutputTarget struct {
	Output string `json:"output,omitempty" jsonschema:"Output connector name such as DP-1 (default: all outputs)"`
}

// GetStatusInput is the input for the get_status tool.
type GetStatusInput struct {
	Output string `json:"output,omitempty" jsonschema:"Only report this output (default: every output)"`
}

// OutputInfo describes one output as reported by the daemon.
type OutputInfo struct {
	Name      string  `json:"name"`
	State     string  `json:"state"`
	Active    bool    `json:"active"`
	Match     string  `json:"match,omitempty"`
	Source    string  `json:"source,omitempty"`
	Layout    string  `json:"layout,omitempty"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Scale     float64 `json:"scale"`
	RefreshHz float64 `json:"refresh_hz,omitempty"`
	TargetFPS float64 `json:"target_fps,omitempty"`
	Presented uint64  `json:"presented"`
	Discarded uint64  `json:"discarded"`
	Paused    bool    `json:"paused"`
	Reason    string  `json:"reason,omitempty"`
}

// GetStatusOutput is the output for the get_status tool.
type GetStatusOutput struct {
	Compositor    string       `json:"compositor"`
	Backend       string       `json:"backend"`
	Fallback      string       `json:"fallback,omitempty"`
	OnBattery     bool         `json:"on_battery"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Sessions      int          `json:"sessions"`
	Outputs       []OutputInfo `json:"outputs"`
}

// SetLayoutInput is the input for the set_layout tool.
type SetLayoutInput struct {
	Output string `json:"output,omitempty" jsonschema:"Output connector name (default: all outputs)"`
	Layout string `json:"layout" jsonschema:"One of fill, fit, stretch or center"`
}

// SwitchSourceInput is the input for the switch_source tool.
type SwitchSourceInput struct {
	Output string  `json:"output,omitempty" jsonschema:"Output connector name (default: all outputs)"`
	Path   string  `json:"path" jsonschema:"Path to a video, image or image sequence directory"`
	Type   string  `json:"type,omitempty" jsonschema:"video, image or sequence (default: inferred from the path)"`
	FPS    float64 `json:"fps,omitempty" jsonschema:"Frame rate for image sequences (default: 30)"`
}

// ActionOutput is the output for tools that only acknowledge a change.
type ActionOutput struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}
