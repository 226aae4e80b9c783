package main

import (
	"context"
	"io"
	"os"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

type passDoneMsg struct{}

type progressModel struct {
	spinner spinner.Model
	label   string
	done    bool
}

func newProgressModel(label string) progressModel {
	return progressModel{
		spinner: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("14"))),
		),
		label: label,
	}
}

func (m progressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case passDoneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m progressModel) View() string {
	if m.done {
		return ""
	}
	return m.spinner.View() + " " + m.label + "\n"
}

// withSpinner runs fn while drawing a spinner on out. Cancelling ctx stops
// both; fn's error is returned.
func withSpinner(ctx context.Context, out io.Writer, label string, fn func(context.Context) error) error {
	p := tea.NewProgram(newProgressModel(label),
		tea.WithContext(ctx),
		tea.WithOutput(out),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)

	errc := make(chan error, 1)
	go func() {
		err := fn(ctx)
		p.Send(passDoneMsg{})
		errc <- err
	}()

	// Spinner failures never fail the pass.
	_, _ = p.Run()
	return <-errc
}
