package hyprland

import "testing"

func TestParseFullscreen(t *testing.T) {
	monitors := []byte(`[
		{"id":0,"name":"DP-1","activeWorkspace":{"id":1,"name":"1"}},
		{"id":1,"name":"HDMI-A-1","activeWorkspace":{"id":4,"name":"4"}}
	]`)
	workspaces := []byte(`[
		{"id":1,"name":"1","monitor":"DP-1","hasfullscreen":false},
		{"id":2,"name":"2","monitor":"DP-1","hasfullscreen":true},
		{"id":4,"name":"4","monitor":"HDMI-A-1","hasfullscreen":true}
	]`)

	got, err := parseFullscreen(monitors, workspaces)
	if err != nil {
		t.Fatalf("parseFullscreen: %v", err)
	}
	if got["DP-1"] {
		t.Error("DP-1 active workspace has no fullscreen window")
	}
	if !got["HDMI-A-1"] {
		t.Error("HDMI-A-1 active workspace should report fullscreen")
	}
}

func TestParseFullscreen_BadJSON(t *testing.T) {
	if _, err := parseFullscreen([]byte("ok"), []byte("[]")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestRelevantEvent(t *testing.T) {
	tests := map[string]bool{
		"fullscreen>>1":            true,
		"workspace>>3":             true,
		"activewindow>>kitty,term": false,
		"submap>>":                 false,
		"monitorremoved>>DP-2":     true,
	}
	for line, want := range tests {
		if got := relevantEvent(line); got != want {
			t.Errorf("relevantEvent(%q) = %v, want %v", line, got, want)
		}
	}
}

func TestNewClient_RequiresSignature(t *testing.T) {
	t.Setenv("HYPRLAND_INSTANCE_SIGNATURE", "")
	if _, err := NewClient(nil); err != ErrNotRunning {
		t.Fatalf("NewClient err = %v, want ErrNotRunning", err)
	}
}
