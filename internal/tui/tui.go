// Package tui is a live terminal monitor for a running daemon: per-output
// state and frame counters, with keys to pause, relayout and switch sources.
package tui

import (
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/1broseidon/vidwall/internal/config"
	"github.com/1broseidon/vidwall/internal/ipc"
)

// Client is the part of the control socket client the monitor drives.
type Client interface {
	GetStatus() (*ipc.StatusData, error)
	Pause(output string) error
	Resume(output string) error
	Reload() error
	SetLayout(output string, layout config.Layout) error
	SwitchSource(output string, src config.Source) error
}

var _ Client = (*ipc.Client)(nil)

// Run opens the monitor and blocks until the user quits.
func Run(client Client, refresh time.Duration) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("monitor requires an interactive terminal (stdin/stdout must be TTYs)")
	}
	if refresh <= 0 {
		refresh = time.Second
	}
	_, err := tea.NewProgram(newModel(client, refresh), tea.WithAltScreen()).Run()
	return err
}
