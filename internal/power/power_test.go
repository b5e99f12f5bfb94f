package power

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
)

func writeSupply(t *testing.T, root, name, kind, status string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if kind != "" {
		if err := os.WriteFile(filepath.Join(dir, "type"), []byte(kind+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if status != "" {
		if err := os.WriteFile(filepath.Join(dir, "status"), []byte(status+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestReadBattery(t *testing.T) {
	tests := []struct {
		name     string
		supplies [][3]string // name, type, status
		want     bool
	}{
		{name: "no supplies", want: false},
		{name: "charging", supplies: [][3]string{{"BAT0", "Battery", "Charging"}}, want: false},
		{name: "discharging", supplies: [][3]string{{"BAT0", "Battery", "Discharging"}}, want: true},
		{name: "second battery discharging", supplies: [][3]string{{"BAT0", "Battery", "Full"}, {"BAT1", "Battery", "Discharging"}}, want: true},
		{name: "mains only", supplies: [][3]string{{"AC", "Mains", ""}}, want: false},
		{name: "peripheral with status ignored", supplies: [][3]string{{"hidpp_battery_0", "USB", "Discharging"}}, want: false},
		{name: "untyped supply", supplies: [][3]string{{"BAT0", "", "Discharging"}}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			for _, s := range tt.supplies {
				writeSupply(t, root, s[0], s[1], s[2])
			}
			got, err := ReadBattery(root)
			if err != nil {
				t.Fatalf("ReadBattery: %v", err)
			}
			if got != tt.want {
				t.Fatalf("ReadBattery() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := ReadBattery(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestSysfsPollsChanges(t *testing.T) {
	root := t.TempDir()
	writeSupply(t, root, "BAT0", "Battery", "Charging")

	m := NewSysfs(context.Background(), SysfsConfig{Root: root, Interval: 10 * time.Millisecond})
	defer m.Close()
	if m.OnBattery() {
		t.Fatal("initial state should be on AC")
	}
	ch := m.Subscribe()

	writeSupply(t, root, "BAT0", "Battery", "Discharging")
	select {
	case v := <-ch:
		if !v {
			t.Fatal("expected on-battery notification")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notification after unplugging")
	}
	if !m.OnBattery() {
		t.Fatal("OnBattery() should follow the poll")
	}
}

func TestStaticCoalescesAndCloses(t *testing.T) {
	s := NewStatic(false)
	ch := s.Subscribe()

	s.Set(false) // no change, no notification
	s.Set(true)
	s.Set(false)
	s.Set(true)

	if v := <-ch; !v {
		t.Fatal("subscriber should see only the latest state")
	}
	select {
	case v := <-ch:
		t.Fatalf("unexpected extra value %v", v)
	default:
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	s.Set(false) // must not panic after close
	if _, ok := <-s.Subscribe(); ok {
		t.Fatal("subscribe after close should return a closed channel")
	}
}

func TestOnBatteryFromSignal(t *testing.T) {
	sig := func(iface string, changed map[string]dbus.Variant) *dbus.Signal {
		return &dbus.Signal{
			Path: upowerPath,
			Name: propsChanged,
			Body: []interface{}{iface, changed, []string{}},
		}
	}
	tests := []struct {
		name   string
		sig    *dbus.Signal
		want   bool
		wantOK bool
	}{
		{name: "on battery", sig: sig(upowerService, map[string]dbus.Variant{"OnBattery": dbus.MakeVariant(true)}), want: true, wantOK: true},
		{name: "on ac", sig: sig(upowerService, map[string]dbus.Variant{"OnBattery": dbus.MakeVariant(false)}), wantOK: true},
		{name: "other property", sig: sig(upowerService, map[string]dbus.Variant{"LidIsClosed": dbus.MakeVariant(true)})},
		{name: "other interface", sig: sig("org.freedesktop.UPower.Device", map[string]dbus.Variant{"OnBattery": dbus.MakeVariant(true)})},
		{name: "wrong type", sig: sig(upowerService, map[string]dbus.Variant{"OnBattery": dbus.MakeVariant("yes")})},
		{name: "nil", sig: nil},
		{name: "short body", sig: &dbus.Signal{Path: upowerPath, Name: propsChanged, Body: []interface{}{upowerService}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := onBatteryFromSignal(tt.sig)
			if ok != tt.wantOK || got != tt.want {
				t.Fatalf("onBatteryFromSignal() = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
