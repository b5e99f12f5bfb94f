package output

import (
	"errors"
	"testing"

	"github.com/1broseidon/vidwall/internal/config"
)

func mustMatch(t *testing.T, s string) config.Match {
	t.Helper()
	m, err := config.ParseMatch(s)
	if err != nil {
		t.Fatalf("ParseMatch(%q): %v", s, err)
	}
	return m
}

func rule(t *testing.T, match, path string) config.OutputRule {
	t.Helper()
	return config.OutputRule{
		Match:      mustMatch(t, match),
		Source:     config.Source{Type: config.SourceVideo, Path: path},
		Layout:     config.LayoutFill,
		HDRToneMap: config.ToneMapACES,
	}
}

func testOutput(name string) Output {
	return Output{
		Name:      name,
		Connected: true,
		Geometry:  Geometry{Width: 1920, Height: 1080, Scale: 1, RefreshMHz: 60000},
	}
}

func TestResolve_PriorityOrder(t *testing.T) {
	rules := []config.OutputRule{
		rule(t, "default", "/default.mp4"),
		rule(t, "regex:^DP-\\d$", "/regex.mp4"),
		rule(t, "suffix:-1", "/suffix.mp4"),
		rule(t, "prefix:DP-", "/prefix.mp4"),
		rule(t, "exact:DP-2", "/exact.mp4"),
		rule(t, "glob:HDMI-?-*", "/glob.mp4"),
	}
	reg, err := NewRegistry(rules, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	tests := []struct {
		name string
		want string
	}{
		{name: "DP-2", want: "/exact.mp4"},
		{name: "DP-1", want: "/prefix.mp4"},
		{name: "eDP-1", want: "/suffix.mp4"},
		{name: "HDMI-A-2", want: "/glob.mp4"},
		{name: "Virtual-3", want: "/default.mp4"},
	}
	for _, tt := range tests {
		eff, err := reg.Resolve(testOutput(tt.name))
		if err != nil {
			t.Errorf("Resolve(%q) error: %v", tt.name, err)
			continue
		}
		if eff.Source.Path != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.name, eff.Source.Path, tt.want)
		}
	}
}

func TestResolve_PrefixBeatsDefault(t *testing.T) {
	reg, err := NewRegistry([]config.OutputRule{
		rule(t, "exact:DP-2", "/exact.mp4"),
		rule(t, "prefix:DP-", "/prefix.mp4"),
		rule(t, "default", "/default.mp4"),
	}, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	eff, err := reg.Resolve(testOutput("DP-1"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if eff.Match.Kind != config.MatchPrefix {
		t.Fatalf("resolved via %s, want prefix rule", eff.Match)
	}
}

func TestResolve_FirstMatchWinsWithinTier(t *testing.T) {
	reg, err := NewRegistry([]config.OutputRule{
		rule(t, "prefix:DP", "/first.mp4"),
		rule(t, "prefix:DP-", "/second.mp4"),
	}, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	eff, err := reg.Resolve(testOutput("DP-1"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if eff.Source.Path != "/first.mp4" {
		t.Fatalf("got %q, want /first.mp4", eff.Source.Path)
	}
}

func TestAdded_NoRuleLeavesOutputInactive(t *testing.T) {
	reg, err := NewRegistry([]config.OutputRule{rule(t, "exact:DP-2", "/a.mp4")}, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	ch := reg.Added(testOutput("HDMI-A-1"))
	if ch.Action != ActionInactive {
		t.Fatalf("action = %v, want inactive", ch.Action)
	}
	if !errors.Is(ch.Reason, ErrNoMatchingRule) {
		t.Fatalf("reason = %v, want ErrNoMatchingRule", ch.Reason)
	}

	snap, ok := reg.Get("HDMI-A-1")
	if !ok || snap.Resolved {
		t.Fatalf("expected output recorded as unresolved, got %+v ok=%v", snap, ok)
	}
}

func TestAdded_DisabledRule(t *testing.T) {
	disabled := rule(t, "exact:eDP-1", "/a.mp4")
	disabled.Disabled = true
	reg, err := NewRegistry([]config.OutputRule{disabled, rule(t, "default", "/b.mp4")}, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	ch := reg.Added(testOutput("eDP-1"))
	if ch.Action != ActionInactive || !errors.Is(ch.Reason, ErrOutputDisabled) {
		t.Fatalf("got %v / %v, want inactive / disabled", ch.Action, ch.Reason)
	}
}

func TestChanged_Actions(t *testing.T) {
	reg, err := NewRegistry([]config.OutputRule{rule(t, "default", "/a.mp4")}, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	o := testOutput("DP-1")
	if ch := reg.Added(o); ch.Action != ActionActivate {
		t.Fatalf("add action = %v", ch.Action)
	}

	if ch := reg.Changed(o); ch.Action != ActionNone {
		t.Fatalf("identical change action = %v, want none", ch.Action)
	}

	o.Geometry.Scale = 2
	ch := reg.Changed(o)
	if ch.Action != ActionResize {
		t.Fatalf("scale change action = %v, want resize", ch.Action)
	}
	if w, h := ch.Output.Geometry.PixelSize(); w != 3840 || h != 2160 {
		t.Fatalf("pixel size = %dx%d, want 3840x2160", w, h)
	}

	layout := config.LayoutFit
	changes, err := reg.SetOverride("DP-1", Override{Layout: &layout})
	if err != nil {
		t.Fatalf("SetOverride: %v", err)
	}
	if len(changes) != 1 || changes[0].Action != ActionRecreate {
		t.Fatalf("layout override changes = %+v, want one recreate", changes)
	}

	fps := 24
	changes, err = reg.SetOverride("", Override{FPSLimit: &fps})
	if err != nil {
		t.Fatalf("SetOverride: %v", err)
	}
	if len(changes) != 1 || changes[0].Action != ActionUpdate || changes[0].Effective.FPSLimit != 24 {
		t.Fatalf("fps override changes = %+v, want one update", changes)
	}
}

func TestChanged_UnknownOutputIsAdded(t *testing.T) {
	reg, err := NewRegistry([]config.OutputRule{rule(t, "default", "/a.mp4")}, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if ch := reg.Changed(testOutput("DP-3")); ch.Action != ActionActivate {
		t.Fatalf("action = %v, want activate", ch.Action)
	}
}

func TestSetRules_ReportsPerOutputChanges(t *testing.T) {
	reg, err := NewRegistry([]config.OutputRule{rule(t, "default", "/a.mp4")}, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	reg.Added(testOutput("DP-1"))
	reg.Added(testOutput("HDMI-A-1"))

	changes, err := reg.SetRules([]config.OutputRule{rule(t, "prefix:DP-", "/b.mp4")})
	if err != nil {
		t.Fatalf("SetRules: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(changes))
	}
	if changes[0].Output.Name != "DP-1" || changes[0].Action != ActionRecreate {
		t.Fatalf("DP-1 change = %+v, want recreate", changes[0])
	}
	if changes[1].Output.Name != "HDMI-A-1" || changes[1].Action != ActionInactive {
		t.Fatalf("HDMI-A-1 change = %+v, want inactive", changes[1])
	}
}

func TestRemoved(t *testing.T) {
	reg, err := NewRegistry([]config.OutputRule{rule(t, "default", "/a.mp4")}, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	reg.Added(testOutput("DP-1"))

	if ch := reg.Removed("DP-1"); ch.Action != ActionRemove {
		t.Fatalf("action = %v, want remove", ch.Action)
	}
	if ch := reg.Removed("DP-1"); ch.Action != ActionNone || !errors.Is(ch.Reason, ErrUnknownOutput) {
		t.Fatalf("second remove = %+v", ch)
	}
	if len(reg.Outputs()) != 0 {
		t.Fatalf("expected no outputs left")
	}
}

func TestGeometry_PixelSizeRounds(t *testing.T) {
	tests := []struct {
		g          Geometry
		wantW, wantH int
	}{
		{g: Geometry{Width: 1920, Height: 1080, Scale: 1}, wantW: 1920, wantH: 1080},
		{g: Geometry{Width: 1707, Height: 960, Scale: 1.5}, wantW: 2561, wantH: 1440},
		{g: Geometry{Width: 1280, Height: 720, Scale: 0}, wantW: 1280, wantH: 720},
	}
	for _, tt := range tests {
		w, h := tt.g.PixelSize()
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("PixelSize(%+v) = %dx%d, want %dx%d", tt.g, w, h, tt.wantW, tt.wantH)
		}
	}
}

func TestTransform(t *testing.T) {
	if !Transform90.Rotated() || Transform180.Rotated() {
		t.Fatal("unexpected Rotated()")
	}
	if TransformFlipped270.Degrees() != 270 || !TransformFlipped270.Flipped() {
		t.Fatal("unexpected flipped-270 properties")
	}
	if TransformFlipped90.String() != "flipped-90" {
		t.Fatalf("String() = %q", TransformFlipped90.String())
	}
}
