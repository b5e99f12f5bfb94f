package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/1broseidon/vidwall/internal/ipc"
)

var (
	barStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("250")).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Padding(0, 1)

	messageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Padding(0, 1)

	okDot   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("●")
	downDot = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render("●")
)

const helpText = "↑/↓: select  p: pause/resume  P/U: pause/resume all  l: next layout  s: source  r: reload  q: quit"

func tableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("15")).
		Background(lipgloss.Color("62")).
		Bold(false)
	return s
}

// columns sizes the table for a terminal width; the source column takes
// what is left.
func columns(width int) []table.Column {
	cols := []table.Column{
		{Title: "Output", Width: 12},
		{Title: "State", Width: 18},
		{Title: "Size", Width: 16},
		{Title: "FPS", Width: 6},
		{Title: "Frames", Width: 10},
		{Title: "Layout", Width: 8},
		{Title: "Source", Width: 0},
	}
	used := 0
	for _, c := range cols[:len(cols)-1] {
		used += c.Width + 2
	}
	cols[len(cols)-1].Width = max(12, width-used-2)
	return cols
}

func outputRow(o ipc.OutputStatus) table.Row {
	state, fps, frames := "inactive", "-", "-"
	if sc := o.Scheduler; sc != nil {
		state = sc.State.String()
		if sc.Paused {
			state += " (paused)"
		}
		if sc.TargetFPS > 0 {
			fps = strconv.FormatFloat(sc.TargetFPS, 'f', -1, 64)
		}
		frames = strconv.FormatUint(sc.Presented, 10)
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
	return table.Row{o.Name, state, size, fps, frames, layout, src}
}

// View implements tea.Model.
func (m model) View() string {
	if m.form != nil {
		return lipgloss.JoinVertical(lipgloss.Left,
			m.renderBar(),
			"",
			m.form.View(),
			helpStyle.Render("enter: next/apply  esc: cancel"),
		)
	}

	var body string
	switch {
	case m.err != nil:
		body = errorStyle.Render(m.err.Error())
	case m.status == nil:
		body = helpStyle.Render("connecting...")
	case len(m.outputs) == 0:
		body = helpStyle.Render("no outputs")
	default:
		body = m.table.View()
	}

	parts := []string{m.renderBar(), body}
	if m.message != "" {
		style := messageStyle
		if strings.HasPrefix(m.message, "error:") {
			style = errorStyle
		}
		parts = append(parts, style.Render(m.message))
	}
	parts = append(parts, helpStyle.Render(helpText))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m model) renderBar() string {
	style := barStyle
	if m.width > 0 {
		style = style.Width(m.width)
	}
	st := m.status
	if st == nil {
		return style.Render(downDot + " daemon not connected")
	}
	parts := []string{
		okDot + " " + st.Compositor,
		"backend:" + st.Backend,
	}
	if st.Fallback != "" {
		parts = append(parts, "fallback:"+st.Fallback)
	}
	if st.OnBattery {
		parts = append(parts, "battery")
	}
	parts = append(parts,
		fmt.Sprintf("sessions:%d", st.Sessions),
		"up:"+(time.Duration(st.UptimeSeconds)*time.Second).String(),
	)
	return style.Render(strings.Join(parts, "  "))
}
