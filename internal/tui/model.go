// Package tui is a Bubble Tea dashboard that follows one production run: the
// status message, both slots and the archive size.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/JakeFAU/realtime-booklist/internal/pipeline"
)

// Options configures the dashboard.
type Options struct {
	// States is the pipeline subscription.
	States <-chan pipeline.State
	// Run executes the run the dashboard follows.
	Run func() error
	// Archived reports the archive size; optional.
	Archived func() int
}

type stateMsg pipeline.State

type statesClosedMsg struct{}

type runDoneMsg struct{ err error }

// Model is the root dashboard state.
type Model struct {
	opts     Options
	spinner  spinner.Model
	state    pipeline.State
	finished bool
	quitting bool
	err      error
}

// New creates a dashboard model.
func New(opts Options) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#D68910"))
	return Model{opts: opts, spinner: sp, state: pipeline.State{RenderingIndex: -1}}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForState(m.opts.States), runCmd(m.opts.Run))
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case stateMsg:
		m.state = pipeline.State(msg)
		return m, waitForState(m.opts.States)

	case statesClosedMsg:
		return m, nil

	case runDoneMsg:
		m.finished = true
		m.err = msg.err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("书 间 回 想 · ECHOES"))
	b.WriteString("\n\n")

	switch {
	case m.err != nil:
		b.WriteString(errorStyle.Render(m.state.Message))
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render(m.err.Error()))
	case m.state.Running:
		b.WriteString(m.spinner.View() + " " + messageStyle.Render(m.state.Message))
	case m.state.Message != "":
		b.WriteString(messageStyle.Render(m.state.Message))
	default:
		b.WriteString(messageStyle.Render("产线待命"))
	}
	b.WriteString("\n\n")

	cards := make([]string, 0, len(m.state.Slots))
	for i, slot := range m.state.Slots {
		name := slot.Name
		if name == "" {
			name = mutedStyle.Render("空闲")
		} else {
			name = "《" + name + "》"
		}
		cards = append(cards, slotStyle.Render(fmt.Sprintf("槽位 %d  %s\n%s", i+1, badge(slot.Status), name)))
	}
	if len(cards) > 0 {
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cards...))
		b.WriteString("\n")
	}

	if m.state.Artifact != nil {
		b.WriteString(fmt.Sprintf("\n数据资产包: %s (%d bytes)\n", m.state.Artifact.Name, m.state.Artifact.Size))
	}
	if m.opts.Archived != nil {
		b.WriteString(mutedStyle.Render(fmt.Sprintf("已归档书目: %d", m.opts.Archived())))
		b.WriteString("\n")
	}
	if !m.finished {
		b.WriteString("\n" + helpStyle.Render("q 退出面板"))
	}
	b.WriteString("\n")
	return b.String()
}

// Err is the run result once the run has finished.
func (m Model) Err() error {
	return m.err
}

// Finished reports whether the followed run returned.
func (m Model) Finished() bool {
	return m.finished
}

func waitForState(ch <-chan pipeline.State) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return statesClosedMsg{}
		}
		return stateMsg(s)
	}
}

func runCmd(run func() error) tea.Cmd {
	if run == nil {
		return nil
	}
	return func() tea.Msg {
		return runDoneMsg{err: run()}
	}
}

// Run shows the dashboard until the run finishes or the user quits, and
// returns the run's error. Quitting early leaves the run going in the
// background until the process exits.
func Run(ctx context.Context, opts Options) error {
	final, err := tea.NewProgram(New(opts), tea.WithContext(ctx)).Run()
	if err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	if m, ok := final.(Model); ok {
		return m.Err()
	}
	return nil
}
