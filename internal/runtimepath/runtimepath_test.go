package runtimepath

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir_UsesXDGRuntimeDirWhenSet(t *testing.T) {
	td := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", td)

	got, err := Dir()
	if err != nil {
		t.Fatalf("Dir() error: %v", err)
	}
	want := filepath.Join(td, "vidwall")
	if got != want {
		t.Fatalf("Dir() = %q, want %q", got, want)
	}
	info, err := os.Stat(got)
	if err != nil {
		t.Fatalf("stat runtime dir: %v", err)
	}
	if info.Mode().Perm() != 0700 {
		t.Fatalf("runtime dir mode = %v, want 0700", info.Mode().Perm())
	}
}

func TestDir_FallbacksWhenXDGRuntimeDirMissing(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")

	got, err := Dir()
	if err != nil {
		t.Skipf("no writable fallback runtime dir: %v", err)
	}

	wantRun := fmt.Sprintf("/run/user/%d/vidwall", os.Getuid())
	wantTmp := fmt.Sprintf("/tmp/vidwall-runtime-%d", os.Getuid())
	if got != wantRun && got != wantTmp {
		t.Fatalf("Dir() = %q, want %q or %q", got, wantRun, wantTmp)
	}
}

func TestSocketPathAndStateDBPath(t *testing.T) {
	td := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", td)
	t.Setenv("XDG_STATE_HOME", filepath.Join(td, "state"))

	socket, err := SocketPath()
	if err != nil {
		t.Fatalf("SocketPath() error: %v", err)
	}
	if !strings.HasSuffix(socket, "/vidwall/vidwall.sock") {
		t.Fatalf("SocketPath() = %q, missing suffix", socket)
	}

	db, err := StateDBPath()
	if err != nil {
		t.Fatalf("StateDBPath() error: %v", err)
	}
	if db != filepath.Join(td, "state", "vidwall", "state.db") {
		t.Fatalf("StateDBPath() = %q", db)
	}
}
