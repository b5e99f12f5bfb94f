package platform

import (
	"context"
	"errors"
	"testing"

	"github.com/1broseidon/vidwall/internal/output"
	"github.com/1broseidon/vidwall/internal/wayland"
)

func testOutput(name string, w, h int) output.Output {
	return output.Output{Name: name, Connected: true, Geometry: output.Geometry{Width: w, Height: h, Scale: 1}}
}

func TestBackgroundSpec(t *testing.T) {
	spec := BackgroundSpec("DP-1")
	if spec.Layer != LayerBackground {
		t.Fatalf("layer = %v, want background", spec.Layer)
	}
	if spec.Anchor != AnchorAll || spec.Anchor != 15 {
		t.Fatalf("anchor = %d, want all four edges", spec.Anchor)
	}
	if spec.ExclusiveZone != -1 {
		t.Fatalf("exclusive zone = %d, want -1", spec.ExclusiveZone)
	}
	if spec.Namespace != Namespace {
		t.Fatalf("namespace = %q", spec.Namespace)
	}
}

func TestDiffOutputs(t *testing.T) {
	prev := map[string]output.Output{
		"DP-1":   testOutput("DP-1", 1920, 1080),
		"HDMI-1": testOutput("HDMI-1", 1280, 720),
	}
	next := map[string]output.Output{
		"DP-1": testOutput("DP-1", 2560, 1440),
		"DP-2": testOutput("DP-2", 1920, 1080),
	}

	events := diffOutputs(prev, next)
	want := []struct {
		kind output.EventKind
		name string
	}{
		{output.EventChanged, "DP-1"},
		{output.EventAdded, "DP-2"},
		{output.EventRemoved, "HDMI-1"},
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(want), events)
	}
	for i, w := range want {
		if events[i].Kind != w.kind || events[i].Output.Name != w.name {
			t.Errorf("event %d = %s %s, want %s %s", i, events[i].Kind, events[i].Output.Name, w.kind, w.name)
		}
	}

	if got := diffOutputs(next, next); len(got) != 0 {
		t.Fatalf("identical snapshots produced events: %+v", got)
	}
}

func TestOutputFromInfo(t *testing.T) {
	info := wayland.OutputInfo{
		Name:       "eDP-1",
		Width:      2560,
		Height:     1600,
		Scale:      2,
		Transform:  1,
		RefreshMHz: 60001,
	}
	o := outputFromInfo(info, 9)
	if o.Name != "eDP-1" {
		t.Fatalf("name = %q", o.Name)
	}
	// Rotated 90: logical size swaps then divides by scale.
	if o.Geometry.Width != 800 || o.Geometry.Height != 1280 {
		t.Fatalf("logical size = %dx%d, want 800x1280", o.Geometry.Width, o.Geometry.Height)
	}
	if w, h := o.Geometry.PixelSize(); w != 1600 || h != 2560 {
		t.Fatalf("pixel size = %dx%d, want 1600x2560", w, h)
	}

	unnamed := outputFromInfo(wayland.OutputInfo{Width: 100, Height: 100}, 9)
	if unnamed.Name != "wl-output-9" || unnamed.Geometry.Scale != 1 {
		t.Fatalf("unnamed output = %+v", unnamed)
	}
}

func TestHeadless_SurfaceLifecycle(t *testing.T) {
	h := NewHeadless(testOutput("DP-1", 4, 2))
	h.Paced = true
	ctx := context.Background()

	if _, err := h.CreateSurface(ctx, BackgroundSpec("nope")); !errors.Is(err, ErrUnknownOutput) {
		t.Fatalf("CreateSurface(unknown) err = %v, want ErrUnknownOutput", err)
	}

	s, err := h.CreateSurface(ctx, BackgroundSpec("DP-1"))
	if err != nil {
		t.Fatalf("CreateSurface: %v", err)
	}
	if w, hgt := s.Size(); w != 4 || hgt != 2 {
		t.Fatalf("Size = %dx%d, want 4x2", w, hgt)
	}

	img := Image{Pix: make([]byte, 4*2*4), Width: 4, Height: 2, Stride: 16}
	if err := s.Present(img); err != nil {
		t.Fatalf("Present: %v", err)
	}
	hs := h.Surfaces()[0]
	if hs.Presents() != 1 {
		t.Fatalf("Presents = %d, want 1", hs.Presents())
	}

	hs.SignalFrame()
	hs.SignalFrame()
	select {
	case <-s.FrameDone():
	default:
		t.Fatal("expected a frame-done signal")
	}
	select {
	case <-s.FrameDone():
		t.Fatal("frame-done signals should coalesce")
	default:
	}

	h.RemoveOutput("DP-1")
	if err := s.Present(img); !errors.Is(err, ErrSurfaceClosed) {
		t.Fatalf("Present after removal err = %v, want ErrSurfaceClosed", err)
	}
	ev := <-h.Events()
	if ev.Kind != output.EventRemoved || ev.Output.Name != "DP-1" {
		t.Fatalf("event = %+v, want removal of DP-1", ev)
	}

	if err := s.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if len(h.LiveSurfaces()) != 0 {
		t.Fatal("destroyed surface still reported live")
	}
}

func TestHeadless_UnpacedHasNoFrameChannel(t *testing.T) {
	h := NewHeadless(testOutput("DP-1", 4, 2))
	s, err := h.CreateSurface(context.Background(), BackgroundSpec("DP-1"))
	if err != nil {
		t.Fatalf("CreateSurface: %v", err)
	}
	if s.FrameDone() != nil {
		t.Fatal("unpaced surface should return a nil FrameDone channel")
	}
}

func TestHeadless_SetOutputEmitsAddThenChange(t *testing.T) {
	h := NewHeadless()
	h.SetOutput(testOutput("DP-1", 10, 10))
	h.SetOutput(testOutput("DP-1", 20, 10))
	if ev := <-h.Events(); ev.Kind != output.EventAdded {
		t.Fatalf("first event = %s, want added", ev.Kind)
	}
	if ev := <-h.Events(); ev.Kind != output.EventChanged {
		t.Fatalf("second event = %s, want changed", ev.Kind)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-h.Events(); ok {
		t.Fatal("events channel should be closed")
	}
}
