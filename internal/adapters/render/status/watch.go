package status

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bnema/possync/internal/domain"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ChatBackend is what the live chat view needs from the sync layer.
type ChatBackend interface {
	Messages() []domain.Message
	Send(ctx context.Context, body string) error
	Typing(typing bool) error
}

// WatchEvent is pushed by the caller whenever the channel or the
// conversation changes.
type WatchEvent struct {
	State       domain.ConnectionState
	Attempt     int
	Delay       time.Duration
	PeerTyping  bool
	HasTyping   bool
	Description string
}

type watchEventMsg WatchEvent

type watchClosedMsg struct{}

type sendDoneMsg struct {
	err error
}

type WatchModel struct {
	ctx        context.Context
	peerID     string
	userID     string
	backend    ChatBackend
	events     <-chan WatchEvent
	input      textinput.Model
	spinner    spinner.Model
	styles     styles
	now        func() time.Time
	state      domain.ConnectionState
	attempt    int
	delay      time.Duration
	peerTyping bool
	typingSent bool
	messages   []domain.Message
	lastErr    error
	note       string
}

func NewWatchModel(ctx context.Context, peerID, userID string, backend ChatBackend, events <-chan WatchEvent) WatchModel {
	input := textinput.New()
	input.Placeholder = "type a message, enter to send, esc to quit"
	input.CharLimit = 2000
	input.Focus()

	s := newStyles()
	input.PromptStyle = s.prompt

	return WatchModel{
		ctx:      ctx,
		peerID:   peerID,
		userID:   userID,
		backend:  backend,
		events:   events,
		input:    input,
		spinner:  spinner.New(spinner.WithSpinner(spinner.MiniDot), spinner.WithStyle(s.prompt)),
		styles:   s,
		now:      time.Now,
		state:    domain.StateDisconnected,
		messages: backend.Messages(),
	}
}

func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitForWatchEvent(m.events))
}

func waitForWatchEvent(events <-chan WatchEvent) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-events
		if !ok {
			return watchClosedMsg{}
		}
		return watchEventMsg(event)
	}
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.stopTyping()
			return m, tea.Quit
		case tea.KeyEnter:
			body := strings.TrimSpace(m.input.Value())
			if body == "" {
				return m, nil
			}
			m.input.Reset()
			m.stopTyping()
			m.messages = m.backend.Messages()
			return m, m.send(body)
		}

		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		if m.input.Value() != "" && !m.typingSent {
			m.typingSent = m.backend.Typing(true) == nil
		} else if m.input.Value() == "" {
			m.stopTyping()
		}
		return m, cmd

	case sendDoneMsg:
		m.lastErr = msg.err
		m.messages = m.backend.Messages()
		return m, nil

	case watchEventMsg:
		if msg.State != "" {
			m.state = msg.State
			m.attempt = msg.Attempt
			m.delay = msg.Delay
		}
		if msg.HasTyping {
			m.peerTyping = msg.PeerTyping
		}
		if msg.Description != "" {
			m.note = msg.Description
		}
		m.messages = m.backend.Messages()
		return m, waitForWatchEvent(m.events)

	case watchClosedMsg:
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *WatchModel) stopTyping() {
	if !m.typingSent {
		return
	}
	_ = m.backend.Typing(false)
	m.typingSent = false
}

func (m WatchModel) send(body string) tea.Cmd {
	ctx, backend := m.ctx, m.backend
	return func() tea.Msg {
		return sendDoneMsg{err: backend.Send(ctx, body)}
	}
}

func (m WatchModel) View() string {
	s := m.styles
	status := renderConnection(m.state, m.attempt, m.delay, s)
	if m.state == domain.StateConnecting || m.state == domain.StateReconnecting {
		status = m.spinner.View() + " " + status
	}

	lines := []string{
		lipgloss.JoinHorizontal(lipgloss.Top, s.title.Render("Chat with "+m.peerID), "  ", status),
	}

	opts := RenderOptions{Now: m.now()}
	if len(m.messages) == 0 {
		lines = append(lines, s.empty.Render("No messages yet."))
	}
	for _, msg := range m.messages {
		lines = append(lines, messageLine(msg, m.userID, opts, s))
	}

	if m.peerTyping {
		lines = append(lines, s.pending.Render(fmt.Sprintf("%s is typing...", m.peerID)))
	}
	if m.note != "" {
		lines = append(lines, s.header.Render(m.note))
	}
	if m.lastErr != nil {
		lines = append(lines, s.warning.Render("send failed: "+m.lastErr.Error()))
	}

	lines = append(lines, s.section.Render(m.input.View()))
	return lipgloss.JoinVertical(lipgloss.Left, lines...) + "\n"
}
