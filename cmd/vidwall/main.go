package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/1broseidon/vidwall/internal/ipc"
)

var socketPath string

var rootCmd = &cobra.Command{
	Use:           "vidwall",
	Short:         "Animated video wallpapers for Wayland and X11",
	Long:          "vidwall plays videos, images and image sequences as the desktop background on every connected output.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{msg: err.Error()}
	})
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "Control socket path (default: $XDG_RUNTIME_DIR/vidwall/vidwall.sock)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(topCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(layoutCmd)
	rootCmd.AddCommand(sourceCmd)
	rootCmd.AddCommand(fpsCmd)
	rootCmd.AddCommand(quitCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(mcpCmd)
}

// usageError marks bad invocations, which exit with status 2.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return usageError{msg: err.Error()}
		}
		return nil
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var ue usageError
		if errors.As(err, &ue) || strings.HasPrefix(err.Error(), "unknown command") {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newClient() *ipc.Client {
	if socketPath != "" {
		return ipc.NewClientAt(socketPath)
	}
	return ipc.NewClient()
}
