package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/1broseidon/vidwall/internal/daemon"
	"github.com/1broseidon/vidwall/internal/output"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the vidwall daemon (foreground)",
	Long: `Start the vidwall daemon in the foreground.

The daemon connects to the Wayland compositor (or the X server when
WAYLAND_DISPLAY is unset), plays the configured source on every output and
listens on the control socket. SIGHUP and edits to the config file reload
the configuration; SIGINT and SIGTERM stop it.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().String("config", "", "Config file path (default: ~/.config/vidwall/config.yaml)")
	daemonCmd.Flags().Bool("headless", false, "Render into an in-memory compositor instead of a display server")
	daemonCmd.Flags().StringSlice("headless-output", []string{"HEADLESS-1=1920x1080@60"}, "Headless output as NAME=WxH[@HZ][*SCALE]; repeatable")
	daemonCmd.Flags().Bool("no-watch", false, "Do not reload when the config file changes")
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	configPath, _ := flags.GetString("config")
	headless, _ := flags.GetBool("headless")
	specs, _ := flags.GetStringSlice("headless-output")
	noWatch, _ := flags.GetBool("no-watch")

	opts := daemon.Options{
		ConfigPath:    configPath,
		Headless:      headless,
		SocketPath:    socketPath,
		WatchConfig:   !noWatch,
		HandleSignals: true,
	}
	if headless {
		for _, spec := range specs {
			o, err := parseHeadlessOutput(spec)
			if err != nil {
				return usageError{msg: err.Error()}
			}
			opts.HeadlessOutputs = append(opts.HeadlessOutputs, o)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := daemon.New(opts).Run(ctx)
	if errors.Is(err, daemon.ErrAlreadyRunning) {
		return fmt.Errorf("%w (use 'vidwall quit' to stop it)", err)
	}
	return err
}

// parseHeadlessOutput parses NAME=WxH[@HZ][*SCALE], e.g. "DP-1=2560x1440@144*1.5".
func parseHeadlessOutput(spec string) (output.Output, error) {
	bad := fmt.Errorf("invalid headless output %q (want NAME=WxH[@HZ][*SCALE])", spec)

	name, geom, ok := strings.Cut(spec, "=")
	if !ok || name == "" {
		return output.Output{}, bad
	}
	scale := 1.0
	if g, s, ok := strings.Cut(geom, "*"); ok {
		if _, err := fmt.Sscanf(s, "%g", &scale); err != nil || scale <= 0 {
			return output.Output{}, bad
		}
		geom = g
	}
	hz := 60.0
	if g, r, ok := strings.Cut(geom, "@"); ok {
		if _, err := fmt.Sscanf(r, "%g", &hz); err != nil || hz <= 0 {
			return output.Output{}, bad
		}
		geom = g
	}
	var w, h int
	if _, err := fmt.Sscanf(geom, "%dx%d", &w, &h); err != nil || w <= 0 || h <= 0 {
		return output.Output{}, bad
	}

	return output.Output{
		Name:      name,
		Connected: true,
		Geometry: output.Geometry{
			Width:      w,
			Height:     h,
			Scale:      scale,
			RefreshMHz: int(math.Round(hz * 1000)),
		},
	}, nil
}
