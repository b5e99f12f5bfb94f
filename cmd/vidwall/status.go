package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"github.com/1broseidon/vidwall/internal/ipc"
)

const columnGap = 2

func printStatus(w io.Writer, st *ipc.StatusData, width int) {
	backend := st.Backend
	if st.Fallback != "" {
		backend += " (fallback " + st.Fallback + ")"
	}
	power := "ac"
	if st.OnBattery {
		power = "battery"
	}
	fmt.Fprintf(w, "compositor: %s\n", st.Compositor)
	fmt.Fprintf(w, "backend:    %s\n", backend)
	fmt.Fprintf(w, "power:      %s\n", power)
	fmt.Fprintf(w, "sessions:   %d\n", st.Sessions)
	fmt.Fprintf(w, "uptime:     %s\n", (time.Duration(st.UptimeSeconds) * time.Second).String())
	if st.ConfigFile != "" {
		fmt.Fprintf(w, "config:     %s\n", st.ConfigFile)
	}
	fmt.Fprintln(w)

	if len(st.Outputs) == 0 {
		fmt.Fprintln(w, "no outputs")
		return
	}
	outputs := append([]ipc.OutputStatus(nil), st.Outputs...)
	sort.Slice(outputs, func(i, j int) bool { return outputs[i].Name < outputs[j].Name })

	rows := [][]string{{"OUTPUT", "STATE", "SIZE", "FPS", "LAYOUT", "SOURCE"}}
	for _, o := range outputs {
		rows = append(rows, statusRow(o))
	}
	writeTable(w, rows, width)
}

func statusRow(o ipc.OutputStatus) []string {
	state := "inactive"
	fps := "-"
	if sc := o.Scheduler; sc != nil {
		state = sc.State.String()
		if sc.Paused {
			state += " (paused)"
		}
		if sc.TargetFPS > 0 {
			fps = strconv.FormatFloat(sc.TargetFPS, 'f', -1, 64)
		}
	}
	size := fmt.Sprintf("%dx%d", o.Width, o.Height)
	if o.Scale != 0 && o.Scale != 1 {
		size += fmt.Sprintf("@%gx", o.Scale)
	}
	layout := string(o.Layout)
	if layout == "" {
		layout = "-"
	}
	src := o.Source
	if src == "" {
		src = "-"
	}
	if o.Reason != "" {
		src += " [" + o.Reason + "]"
	}
	return []string{o.Name, state, size, fps, layout, src}
}

func printEvents(w io.Writer, events []ipc.Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, "no events")
		return
	}
	rows := [][]string{{"ID", "TIME", "OUTPUT", "STATE", "SKIPS", "REASON"}}
	for _, ev := range events {
		reason := ev.Reason
		if reason == "" {
			reason = "-"
		}
		rows = append(rows, []string{
			strconv.FormatUint(ev.ID, 10),
			ev.Time.Local().Format("15:04:05.000"),
			ev.Output,
			ev.State,
			strconv.FormatUint(ev.Skips, 10),
			reason,
		})
	}
	writeTable(w, rows, 0)
}

// writeTable aligns every column but the last by display width. With a
// positive width the last column is cut to fit the terminal.
func writeTable(w io.Writer, rows [][]string, width int) {
	cols := len(rows[0])
	widths := make([]int, cols)
	for _, r := range rows {
		for i, c := range r[:cols-1] {
			widths[i] = max(widths[i], runewidth.StringWidth(c))
		}
	}
	used := 0
	for _, cw := range widths[:cols-1] {
		used += cw + columnGap
	}

	for _, r := range rows {
		var b strings.Builder
		for i, c := range r {
			if i == cols-1 {
				if room := width - used; width > 0 && room > 3 {
					c = runewidth.Truncate(c, room, "…")
				}
				b.WriteString(c)
				break
			}
			b.WriteString(runewidth.FillRight(c, widths[i]+columnGap))
		}
		fmt.Fprintln(w, strings.TrimRight(b.String(), " "))
	}
}

// terminalWidth returns the stdout terminal width, or 0 when stdout is not
// a terminal.
func terminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	w, _, err := term.GetSize(fd)
	if err != nil {
		return 0
	}
	return w
}
