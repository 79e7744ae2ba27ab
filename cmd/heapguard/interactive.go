package main

import (
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/heapguard/bounds"
	"github.com/wippyai/heapguard/codegen"
	"github.com/wippyai/heapguard/errors"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const (
	fieldOffset = iota
	fieldSize
	fieldIndex
	numFields
)

type interactiveModel struct {
	err     error
	session *session
	opts    options
	inputs  []textinput.Model
	view    explain
	focus   int
}

// explain is the rendered outcome of one access.
type explain struct {
	plan   string
	code   string
	result string
	trap   bool
}

type loadedMsg struct {
	err     error
	session *session
}

func newInteractiveModel(opts options) *interactiveModel {
	m := &interactiveModel{opts: opts}
	m.inputs = make([]textinput.Model, numFields)
	for i, f := range []struct {
		prompt, value string
	}{
		{"offset: ", strconv.FormatUint(uint64(opts.offset), 10)},
		{"size:   ", strconv.FormatUint(uint64(opts.size), 10)},
		{"index:  ", fmt.Sprintf("%#x", opts.addr)},
	} {
		ti := textinput.New()
		ti.Prompt = f.prompt
		ti.SetValue(f.value)
		ti.Width = 24
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	return m
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.load
}

func (m *interactiveModel) load() tea.Msg {
	s, err := newSession(m.opts)
	return loadedMsg{session: s, err: err}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			if m.session != nil {
				m.session.Close()
			}
			return m, tea.Quit

		case "tab", "down":
			m.setFocus((m.focus + 1) % numFields)
			return m, nil

		case "shift+tab", "up":
			m.setFocus((m.focus + numFields - 1) % numFields)
			return m, nil

		case "ctrl+s":
			if m.session != nil {
				m.session.opts.tunables.SpectreMitigations = !m.session.opts.tunables.SpectreMitigations
				m.session.emitter = codegen.NewEmitter(bounds.NewPlanner(m.session.opts.tunables.BoundsConfig()))
				m.refresh()
			}
			return m, nil

		case "enter":
			m.refresh()
			return m, nil
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.session = msg.session
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

func (m *interactiveModel) setFocus(i int) {
	m.inputs[m.focus].Blur()
	m.focus = i
	m.inputs[m.focus].Focus()
}

// refresh re-plans the access from the current inputs.
func (m *interactiveModel) refresh() {
	m.err = nil
	offset, err := strconv.ParseUint(m.inputs[fieldOffset].Value(), 0, 32)
	if err != nil {
		m.err = fmt.Errorf("offset: %w", err)
		return
	}
	size, err := strconv.ParseUint(m.inputs[fieldSize].Value(), 0, 8)
	if err != nil || size == 0 || size > 16 {
		m.err = errors.InvalidInput(errors.PhaseConfig, "size must be 1..16")
		return
	}
	index, err := strconv.ParseUint(m.inputs[fieldIndex].Value(), 0, 64)
	if err != nil {
		m.err = fmt.Errorf("index: %w", err)
		return
	}

	s := m.session
	s.opts.offset = uint32(offset)
	s.opts.size = uint8(size)
	s.opts.addr = index
	m.view = s.explain()
}

// explain plans, emits and evaluates the session's access without
// touching memory.
func (s *session) explain() explain {
	var ex explain
	plan := s.emitter.Planner().Plan(s.mem.Descriptor(), s.opts.offset, s.opts.size)
	ex.plan = plan.String()

	f, _, err := s.build()
	if err != nil {
		ex.result, ex.trap = err.Error(), true
		return ex
	}
	ex.code = f.String()

	addr, err := f.Eval(s.env())
	var trap *errors.Trap
	switch {
	case stderrors.As(err, &trap):
		ex.result, ex.trap = "trap: "+trap.Code.String(), true
	case err != nil:
		ex.result, ex.trap = err.Error(), true
	case addr == 0:
		ex.result, ex.trap = "null (clamped by speculation guard)", true
	default:
		zone := s.mem.Region().Classify(uintptr(addr))
		ex.result = fmt.Sprintf("%#x (base+%#x) %s", addr, addr-uint64(s.mem.Base()), zone)
	}
	return ex
}

func (m *interactiveModel) View() string {
	if m.session == nil {
		if m.err != nil {
			return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress esc to quit.", m.err))
		}
		return "Reserving memory..."
	}

	var b strings.Builder
	s := m.session

	b.WriteString(titleStyle.Render("heapguard"))
	b.WriteString(" ")
	b.WriteString(s.mem.Descriptor().String())
	b.WriteString("\n\n")

	for _, in := range m.inputs {
		b.WriteString(in.View())
		b.WriteString("\n")
	}
	spectre := "off"
	if s.opts.tunables.SpectreMitigations {
		spectre = "on"
	}
	b.WriteString(labelStyle.Render("spectre: "))
	b.WriteString(spectre)
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n\n")
	} else {
		b.WriteString(labelStyle.Render("plan: "))
		b.WriteString(planStyle.Render(m.view.plan))
		b.WriteString("\n\n")
		b.WriteString(m.view.code)
		b.WriteString("\n")
		if m.view.trap {
			b.WriteString(errorStyle.Render(m.view.result))
		} else {
			b.WriteString(resultStyle.Render(m.view.result))
		}
		b.WriteString("\n\n")
	}

	b.WriteString(helpStyle.Render("tab next field • enter evaluate • ctrl+s toggle spectre • esc quit"))
	return b.String()
}

func runInteractive(opts options) error {
	p := tea.NewProgram(newInteractiveModel(opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
