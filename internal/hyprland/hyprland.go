// Package hyprland reads monitor and workspace state from Hyprland's IPC
// sockets to tell which outputs are covered by a fullscreen window.
package hyprland

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/1broseidon/vidwall/internal/logging"
)

var ErrNotRunning = errors.New("hyprland: HYPRLAND_INSTANCE_SIGNATURE not set")

// Workspace is the subset of a j/workspaces entry we care about.
type Workspace struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Monitor       string `json:"monitor"`
	HasFullscreen bool   `json:"hasfullscreen"`
}

// Monitor is the subset of a j/monitors entry we care about.
type Monitor struct {
	ID              int    `json:"id"`
	Name            string `json:"name"`
	ActiveWorkspace struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"activeWorkspace"`
}

// Client talks to one Hyprland instance.
type Client struct {
	dir    string
	logger *slog.Logger
}

// Available reports whether the environment points at a Hyprland session.
func Available() bool {
	return os.Getenv("HYPRLAND_INSTANCE_SIGNATURE") != ""
}

// NewClient resolves the socket directory from the environment.
func NewClient(logger *slog.Logger) (*Client, error) {
	sig := os.Getenv("HYPRLAND_INSTANCE_SIGNATURE")
	if sig == "" {
		return nil, ErrNotRunning
	}
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	return &Client{
		dir:    filepath.Join(runtimeDir, "hypr", sig),
		logger: logging.OrDiscard(logger),
	}, nil
}

func (c *Client) dial(ctx context.Context, sockName string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", filepath.Join(c.dir, sockName))
	if err != nil {
		return nil, fmt.Errorf("cannot open Hyprland socket %s: %w", sockName, err)
	}
	return conn, nil
}

func (c *Client) command(ctx context.Context, cmd string) ([]byte, error) {
	conn, err := c.dial(ctx, ".socket.sock")
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if _, err := conn.Write([]byte(cmd)); err != nil {
		return nil, err
	}
	return io.ReadAll(conn)
}

// FullscreenOutputs returns the monitors whose active workspace holds a
// fullscreen window.
func (c *Client) FullscreenOutputs(ctx context.Context) (map[string]bool, error) {
	mons, err := c.command(ctx, "j/monitors")
	if err != nil {
		return nil, fmt.Errorf("error getting monitors: %w", err)
	}
	wss, err := c.command(ctx, "j/workspaces")
	if err != nil {
		return nil, fmt.Errorf("error getting workspaces: %w", err)
	}
	return parseFullscreen(mons, wss)
}

func parseFullscreen(monitorsJSON, workspacesJSON []byte) (map[string]bool, error) {
	var monitors []Monitor
	if err := json.Unmarshal(monitorsJSON, &monitors); err != nil {
		return nil, fmt.Errorf("decode monitors: %w", err)
	}
	var workspaces []Workspace
	if err := json.Unmarshal(workspacesJSON, &workspaces); err != nil {
		return nil, fmt.Errorf("decode workspaces: %w", err)
	}

	full := make(map[int]bool, len(workspaces))
	for _, ws := range workspaces {
		full[ws.ID] = ws.HasFullscreen
	}
	out := make(map[string]bool, len(monitors))
	for _, m := range monitors {
		out[m.Name] = full[m.ActiveWorkspace.ID]
	}
	return out, nil
}

// relevantEvent reports whether a socket2 line can change fullscreen state.
func relevantEvent(line string) bool {
	name, _, _ := strings.Cut(line, ">>")
	switch name {
	case "fullscreen", "workspace", "workspacev2", "focusedmon", "focusedmonv2",
		"closewindow", "movewindow", "movewindowv2", "moveworkspace", "moveworkspacev2",
		"monitoradded", "monitorremoved", "openwindow":
		return true
	}
	return false
}

// Watch calls fn with the fullscreen map once immediately and again after
// every relevant event, until ctx is done or the event socket closes.
func (c *Client) Watch(ctx context.Context, fn func(map[string]bool)) error {
	if state, err := c.FullscreenOutputs(ctx); err != nil {
		c.logger.Warn("hyprland initial state", "error", err)
	} else {
		fn(state)
	}

	conn, err := c.dial(ctx, ".socket2.sock")
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		if !relevantEvent(scanner.Text()) {
			continue
		}
		state, err := c.FullscreenOutputs(ctx)
		if err != nil {
			c.logger.Debug("hyprland state refresh failed", "error", err)
			continue
		}
		fn(state)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}
