package tui

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/1broseidon/vidwall/internal/config"
	"github.com/1broseidon/vidwall/internal/ipc"
)

var layoutCycle = []config.Layout{config.LayoutFill, config.LayoutFit, config.LayoutStretch, config.LayoutCenter}

type statusMsg struct {
	status *ipc.StatusData
	err    error
}

type tickMsg time.Time

type actionMsg struct {
	text string
	err  error
}

// sourceEdit holds the values bound to the source form. It lives on the
// heap so the form keeps writing to it while the model is copied.
type sourceEdit struct {
	output string
	path   string
	layout string
}

// model is the root bubbletea model.
type model struct {
	client  Client
	refresh time.Duration

	status  *ipc.StatusData
	outputs []ipc.OutputStatus // table row order
	err     error
	message string

	table table.Model
	form  *huh.Form
	edit  *sourceEdit

	width  int
	height int
}

func newModel(client Client, refresh time.Duration) model {
	t := table.New(
		table.WithColumns(columns(80)),
		table.WithFocused(true),
		table.WithHeight(8),
	)
	t.SetStyles(tableStyles())
	return model{client: client, refresh: refresh, table: t}
}

// Init implements tea.Model.
func (m model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.tick())
}

func (m model) fetch() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		st, err := client.GetStatus()
		return statusMsg{status: st, err: err}
	}
}

func (m model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func act(text string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return actionMsg{text: text, err: fn()}
	}
}

// Update implements tea.Model.
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.form != nil {
		return m.updateForm(msg)
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.table.SetColumns(columns(msg.Width))
		m.table.SetHeight(max(3, msg.Height-6))
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.fetch(), m.tick())

	case statusMsg:
		m.setStatus(msg.status, msg.err)
		return m, nil

	case actionMsg:
		if msg.err != nil {
			m.message = "error: " + msg.err.Error()
		} else {
			m.message = msg.text
		}
		return m, m.fetch()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			return m, act("config reloaded", m.client.Reload)
		case "P":
			return m, act("paused all outputs", func() error { return m.client.Pause("") })
		case "U":
			return m, act("resumed all outputs", func() error { return m.client.Resume("") })
		case "p":
			o, ok := m.selected()
			if !ok {
				return m, nil
			}
			name := o.Name
			if o.Scheduler != nil && o.Scheduler.Paused {
				return m, act("resumed "+name, func() error { return m.client.Resume(name) })
			}
			return m, act("paused "+name, func() error { return m.client.Pause(name) })
		case "l":
			o, ok := m.selected()
			if !ok {
				return m, nil
			}
			name, next := o.Name, nextLayout(o.Layout)
			return m, act(fmt.Sprintf("layout %s on %s", next, name), func() error {
				return m.client.SetLayout(name, next)
			})
		case "s":
			o, ok := m.selected()
			if !ok {
				return m, nil
			}
			return m.openForm(o)
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *model) setStatus(st *ipc.StatusData, err error) {
	m.err = err
	if err != nil {
		m.status = nil
		m.outputs = nil
		m.table.SetRows(nil)
		return
	}
	m.status = st
	m.outputs = append([]ipc.OutputStatus(nil), st.Outputs...)
	sort.Slice(m.outputs, func(i, j int) bool { return m.outputs[i].Name < m.outputs[j].Name })

	rows := make([]table.Row, 0, len(m.outputs))
	for _, o := range m.outputs {
		rows = append(rows, outputRow(o))
	}
	m.table.SetRows(rows)
	if c := m.table.Cursor(); c >= len(rows) || c < 0 {
		m.table.SetCursor(max(0, len(rows)-1))
	}
}

func (m model) selected() (ipc.OutputStatus, bool) {
	c := m.table.Cursor()
	if c < 0 || c >= len(m.outputs) {
		return ipc.OutputStatus{}, false
	}
	return m.outputs[c], true
}

func nextLayout(cur config.Layout) config.Layout {
	for i, l := range layoutCycle {
		if l == cur {
			return layoutCycle[(i+1)%len(layoutCycle)]
		}
	}
	return layoutCycle[0]
}

// sourcePath strips the "type:" prefix that status puts on sources.
func sourcePath(s string) string {
	for _, t := range []config.SourceType{config.SourceVideo, config.SourceImage, config.SourceSequence} {
		if p, ok := strings.CutPrefix(s, string(t)+":"); ok {
			return p
		}
	}
	return s
}

func (m model) openForm(o ipc.OutputStatus) (tea.Model, tea.Cmd) {
	layout := string(o.Layout)
	if layout == "" {
		layout = string(config.LayoutFill)
	}
	m.edit = &sourceEdit{output: o.Name, path: sourcePath(o.Source), layout: layout}

	opts := make([]string, len(layoutCycle))
	for i, l := range layoutCycle {
		opts[i] = string(l)
	}
	w := max(40, m.width-4)
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Source for " + o.Name).
				Placeholder("/path/to/video.mp4").
				Value(&m.edit.path).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("path is required")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Layout").
				Options(huh.NewOptions(opts...)...).
				Value(&m.edit.layout),
		),
	).WithWidth(w)
	return m, m.form.Init()
}

func (m model) updateForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "esc" {
			m.form, m.edit = nil, nil
			return m, nil
		}
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
	case statusMsg:
		m.setStatus(msg.status, msg.err)
		return m, nil
	case tickMsg:
		return m, tea.Batch(m.fetch(), m.tick())
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}
	switch m.form.State {
	case huh.StateCompleted:
		edit := *m.edit
		m.form, m.edit = nil, nil
		return m, m.applyEdit(edit)
	case huh.StateAborted:
		m.form, m.edit = nil, nil
		return m, nil
	}
	return m, cmd
}

func (m model) applyEdit(e sourceEdit) tea.Cmd {
	client := m.client
	return act(fmt.Sprintf("playing %s on %s", e.path, e.output), func() error {
		if err := client.SwitchSource(e.output, config.Source{Path: strings.TrimSpace(e.path)}); err != nil {
			return err
		}
		return client.SetLayout(e.output, config.Layout(e.layout))
	})
}
