package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/1broseidon/vidwall/internal/config"
	"github.com/1broseidon/vidwall/internal/tui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and per-output status",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, _ []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		st, err := newClient().GetStatus()
		if err != nil {
			return err
		}
		if asJSON {
			return writeJSON(st)
		}
		printStatus(os.Stdout, st, terminalWidth())
		return nil
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print buffered output state changes",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, _ []string) error {
		since, _ := cmd.Flags().GetUint64("since")
		asJSON, _ := cmd.Flags().GetBool("json")
		events, err := newClient().GetEvents(since)
		if err != nil {
			return err
		}
		if asJSON {
			return writeJSON(events)
		}
		printEvents(os.Stdout, events)
		return nil
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause [output]",
	Short: "Pause playback on one output, or on all of them",
	Args:  usageArgs(cobra.MaximumNArgs(1)),
	RunE: func(_ *cobra.Command, args []string) error {
		name := optionalArg(args)
		if err := newClient().Pause(name); err != nil {
			return err
		}
		fmt.Printf("paused %s\n", targetName(name))
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume [output]",
	Short: "Resume playback on one output, or on all of them",
	Args:  usageArgs(cobra.MaximumNArgs(1)),
	RunE: func(_ *cobra.Command, args []string) error {
		name := optionalArg(args)
		if err := newClient().Resume(name); err != nil {
			return err
		}
		fmt.Printf("resumed %s\n", targetName(name))
		return nil
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the daemon configuration",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(_ *cobra.Command, _ []string) error {
		if err := newClient().Reload(); err != nil {
			return err
		}
		fmt.Println("config reloaded")
		return nil
	},
}

var layoutCmd = &cobra.Command{
	Use:   "layout <fill|fit|stretch|center> [output]",
	Short: "Override the layout until the daemon restarts",
	Args:  usageArgs(cobra.RangeArgs(1, 2)),
	RunE: func(_ *cobra.Command, args []string) error {
		layout := config.Layout(strings.ToLower(args[0]))
		if err := config.ValidateLayout(layout); err != nil {
			return usageError{msg: err.Error()}
		}
		name := optionalArg(args[1:])
		if err := newClient().SetLayout(name, layout); err != nil {
			return err
		}
		fmt.Printf("layout %s on %s\n", layout, targetName(name))
		return nil
	},
}

var sourceCmd = &cobra.Command{
	Use:   "source <path> [output]",
	Short: "Play a different video, image or image sequence",
	Long: `Play a different source until the daemon restarts.

The type is inferred from the path: a directory is an image sequence, an
image extension is a still image, anything else is a video.`,
	Args: usageArgs(cobra.RangeArgs(1, 2)),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, _ := cmd.Flags().GetString("type")
		fps, _ := cmd.Flags().GetFloat64("fps")
		if fps < 0 {
			return usageError{msg: "--fps must be >= 0"}
		}
		path := args[0]
		if !strings.HasPrefix(path, "~") {
			// The daemon resolves paths against its own working directory.
			abs, err := filepath.Abs(path)
			if err != nil {
				return err
			}
			path = abs
		}
		src := config.Source{Type: config.SourceType(typ), Path: path, FPS: fps}
		name := optionalArg(args[1:])
		if err := newClient().SwitchSource(name, src); err != nil {
			return err
		}
		fmt.Printf("playing %s on %s\n", path, targetName(name))
		return nil
	},
}

var fpsCmd = &cobra.Command{
	Use:   "fps <limit> [output]",
	Short: "Set a runtime frame rate ceiling (0 follows the refresh rate)",
	Args:  usageArgs(cobra.RangeArgs(1, 2)),
	RunE: func(_ *cobra.Command, args []string) error {
		fps, err := strconv.Atoi(args[0])
		if err != nil || fps < 0 {
			return usageError{msg: fmt.Sprintf("invalid fps limit %q", args[0])}
		}
		name := optionalArg(args[1:])
		if err := newClient().SetFPS(name, fps); err != nil {
			return err
		}
		fmt.Printf("fps limit %d on %s\n", fps, targetName(name))
		return nil
	},
}

var quitCmd = &cobra.Command{
	Use:   "quit",
	Short: "Stop the running daemon",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(_ *cobra.Command, _ []string) error {
		return newClient().Quit()
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "Output in JSON format")
	eventsCmd.Flags().Bool("json", false, "Output in JSON format")
	eventsCmd.Flags().Uint64("since", 0, "Only show events after this id")
	sourceCmd.Flags().String("type", "", "Source type: video, image or sequence (default: inferred)")
	sourceCmd.Flags().Float64("fps", 0, "Frame rate for image sequences")
}

func optionalArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func targetName(output string) string {
	if output == "" {
		return "all outputs"
	}
	return output
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Live per-output monitor with playback controls",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, _ []string) error {
		refresh, _ := cmd.Flags().GetDuration("refresh")
		return tui.Run(newClient(), refresh)
	},
}

func init() {
	topCmd.Flags().Duration("refresh", time.Second, "Status refresh interval")
}
