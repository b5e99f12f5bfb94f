package x11

import "testing"

func TestHasFullscreenState(t *testing.T) {
	tests := []struct {
		name   string
		states []string
		want   bool
	}{
		{"none", nil, false},
		{"fullscreen", []string{"_NET_WM_STATE_FULLSCREEN"}, true},
		{"hidden fullscreen", []string{"_NET_WM_STATE_FULLSCREEN", "_NET_WM_STATE_HIDDEN"}, false},
		{"maximized", []string{"_NET_WM_STATE_MAXIMIZED_HORZ", "_NET_WM_STATE_MAXIMIZED_VERT"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hasFullscreenState(tt.states); got != tt.want {
				t.Fatalf("hasFullscreenState(%v) = %v, want %v", tt.states, got, tt.want)
			}
		})
	}
}
