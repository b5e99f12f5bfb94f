package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/mattn/go-runewidth"

	"github.com/1broseidon/vidwall/internal/config"
	"github.com/1broseidon/vidwall/internal/ipc"
	"github.com/1broseidon/vidwall/internal/scheduler"
)

func TestParseHeadlessOutput(t *testing.T) {
	tests := []struct {
		input   string
		name    string
		w, h    int
		scale   float64
		mhz     int
		wantErr bool
	}{
		{input: "HEADLESS-1=1920x1080", name: "HEADLESS-1", w: 1920, h: 1080, scale: 1, mhz: 60000},
		{input: "DP-1=2560x1440@144*1.5", name: "DP-1", w: 2560, h: 1440, scale: 1.5, mhz: 144000},
		{input: "eDP-1=1280x800@59.94", name: "eDP-1", w: 1280, h: 800, scale: 1, mhz: 59940},
		{input: "1920x1080", wantErr: true},
		{input: "=1920x1080", wantErr: true},
		{input: "DP-1=widexhigh", wantErr: true},
		{input: "DP-1=0x1080", wantErr: true},
		{input: "DP-1=1920x1080@0", wantErr: true},
		{input: "DP-1=1920x1080*-2", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			o, err := parseHeadlessOutput(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseHeadlessOutput(%q) succeeded, want error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseHeadlessOutput(%q): %v", tt.input, err)
			}
			g := o.Geometry
			if o.Name != tt.name || g.Width != tt.w || g.Height != tt.h || g.Scale != tt.scale || g.RefreshMHz != tt.mhz {
				t.Errorf("got %s %dx%d scale=%g mhz=%d", o.Name, g.Width, g.Height, g.Scale, g.RefreshMHz)
			}
			if !o.Connected {
				t.Error("headless outputs are connected")
			}
		})
	}
}

func testStatus() *ipc.StatusData {
	return &ipc.StatusData{
		Compositor: "wayland",
		Backend:    "opengl",
		Fallback:   "vulkan -> opengl: no ICD",
		Sessions:   1,
		Outputs: []ipc.OutputStatus{
			{Name: "HDMI-A-1", Width: 1920, Height: 1080, Scale: 1, Reason: "no matching output rule and no default"},
			{
				Name: "DP-1", Width: 2560, Height: 1440, Scale: 1.5, Layout: config.LayoutFill,
				Source: "video:/home/u/Videos/ocean.mp4", Active: true,
				Scheduler: &scheduler.Status{State: scheduler.StateActive, TargetFPS: 30, Paused: true},
			},
		},
	}
}

func TestPrintStatusAlignsColumns(t *testing.T) {
	var buf bytes.Buffer
	printStatus(&buf, testStatus(), 0)
	out := buf.String()

	if !strings.Contains(out, "backend:    opengl (fallback vulkan -> opengl: no ICD)") {
		t.Errorf("missing fallback line:\n%s", out)
	}

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	var table []string
	for i, l := range lines {
		if strings.HasPrefix(l, "OUTPUT") {
			table = lines[i:]
			break
		}
	}
	if len(table) != 3 {
		t.Fatalf("table has %d lines, want 3:\n%s", len(table), out)
	}
	if !strings.HasPrefix(table[1], "DP-1") || !strings.HasPrefix(table[2], "HDMI-A-1") {
		t.Errorf("outputs not sorted by name:\n%s", out)
	}
	col := strings.Index(table[0], "SOURCE")
	if got := strings.Index(table[1], "video:"); got != col {
		t.Errorf("source column at %d, header at %d:\n%s", got, col, out)
	}
	if !strings.Contains(table[1], "active (paused)") || !strings.Contains(table[1], "2560x1440@1.5x") {
		t.Errorf("unexpected DP-1 row: %q", table[1])
	}
	if !strings.Contains(table[2], "inactive") || !strings.Contains(table[2], "[no matching output rule and no default]") {
		t.Errorf("unexpected HDMI-A-1 row: %q", table[2])
	}
}

func TestWriteTableTruncatesLastColumn(t *testing.T) {
	rows := [][]string{
		{"NAME", "PATH"},
		{"画面", "/very/long/path/to/a/wallpaper/video.mkv"},
	}
	var buf bytes.Buffer
	writeTable(&buf, rows, 24)

	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		if w := runewidth.StringWidth(line); w > 24 {
			t.Errorf("line %q is %d cells wide, want <= 24", line, w)
		}
	}
	if !strings.Contains(buf.String(), "…") {
		t.Errorf("expected truncation marker:\n%s", buf.String())
	}

	buf.Reset()
	writeTable(&buf, rows, 0)
	if !strings.Contains(buf.String(), "video.mkv") {
		t.Errorf("width 0 must not truncate:\n%s", buf.String())
	}
}
