package status

import (
	"context"
	"io"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

type taskDoneMsg struct {
	err error
}

type spinnerModel struct {
	label   string
	spinner spinner.Model
	run     func() error
	err     error
	done    bool
}

func (m spinnerModel) Init() tea.Cmd {
	run := m.run
	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		return taskDoneMsg{err: run()}
	})
}

func (m spinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case taskDoneMsg:
		m.err = msg.err
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	default:
		return m, nil
	}
}

func (m spinnerModel) View() string {
	if m.done {
		return ""
	}
	return m.spinner.View() + " " + m.label + "\n"
}

// Spin runs fn while drawing a spinner on out. The spinner line is cleared
// once fn returns.
func Spin(ctx context.Context, out io.Writer, label string, fn func(ctx context.Context) error) error {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(newStyles().prompt))
	m := spinnerModel{
		label:   label,
		spinner: sp,
		run:     func() error { return fn(ctx) },
	}

	p := tea.NewProgram(m, tea.WithContext(ctx), tea.WithInput(nil), tea.WithOutput(out))
	finalModel, err := p.Run()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}

	done, ok := finalModel.(spinnerModel)
	if !ok {
		return ErrUnexpectedRenderModel
	}
	return done.err
}
