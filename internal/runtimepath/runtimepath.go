package runtimepath

import (
	"fmt"
	"os"
	"path/filepath"
)

const appName = "vidwall"

// Dir returns the per-user runtime directory holding the control socket.
// Priority:
// 1) $XDG_RUNTIME_DIR/vidwall
// 2) /run/user/<uid>/vidwall (if /run/user/<uid> exists)
// 3) /tmp/vidwall-runtime-<uid>
// The directory is created with mode 0700.
func Dir() (string, error) {
	var dir string
	uid := os.Getuid()
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		dir = filepath.Join(runtimeDir, appName)
	} else if info, err := os.Stat(fmt.Sprintf("/run/user/%d", uid)); err == nil && info.IsDir() {
		dir = filepath.Join(fmt.Sprintf("/run/user/%d", uid), appName)
	} else {
		dir = fmt.Sprintf("/tmp/%s-runtime-%d", appName, uid)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create runtime dir: %w", err)
	}
	return dir, nil
}

// SocketPath returns the daemon control socket path.
func SocketPath() (string, error) {
	runtimeDir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(runtimeDir, appName+".sock"), nil
}

// StateDir returns the persistent state directory ($XDG_STATE_HOME/vidwall,
// falling back to ~/.local/state/vidwall).
func StateDir() (string, error) {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		base = filepath.Join(home, ".local", "state")
	}
	dir := filepath.Join(base, appName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create state dir: %w", err)
	}
	return dir, nil
}

// StateDBPath returns the playback state database path.
func StateDBPath() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "state.db"), nil
}
