// Package tui is a terminal host for the assistant. It has no microphone or
// speaker, so only typed chat is available.
package tui

import (
	"context"
	"errors"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/chadiek/chitti/internal/agent"
	"github.com/chadiek/chitti/internal/speech"
	"github.com/chadiek/chitti/internal/transcript"
)

// Controller is the part of agent.Controller the terminal drives.
type Controller interface {
	Submit(ctx context.Context, text string) error
	ToggleVoice(ctx context.Context) error
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	modeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	userStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("33"))
	botStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
	statusStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("240"))
	inputStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("245")).Padding(0, 1)
)

// Model is the bubbletea model of one chat.
type Model struct {
	ctl       Controller
	ctx       context.Context
	assistant string

	messages  []transcript.Message
	mode      agent.Mode
	controls  bool
	listening bool
	speaking  bool
	input     []rune
	status    string
	width     int
	height    int
}

func New(ctx context.Context, ctl Controller, assistant string) Model {
	return Model{ctl: ctl, ctx: ctx, assistant: assistant, controls: true}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
	case messageMsg:
		m.messages = append(m.messages, transcript.Message(msg))
	case modeMsg:
		m.mode = agent.Mode(msg)
	case controlsMsg:
		m.controls = bool(msg)
	case listeningMsg:
		m.listening = bool(msg)
	case speakingMsg:
		m.speaking = bool(msg)
	case rejectedMsg:
		m.status = describe(msg.err)
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return m, tea.Quit
	case tea.KeyEnter:
		if !m.controls {
			m.status = "waiting for " + m.assistant
			return m, nil
		}
		text := string(m.input)
		m.input = m.input[:0]
		m.status = ""
		// the controller blocks on the view, which needs this loop free
		return m, func() tea.Msg {
			if err := m.ctl.Submit(m.ctx, text); err != nil {
				return rejectedMsg{err}
			}
			return nil
		}
	case tea.KeyCtrlV:
		return m, func() tea.Msg {
			if err := m.ctl.ToggleVoice(m.ctx); err != nil {
				return rejectedMsg{err}
			}
			return nil
		}
	case tea.KeyBackspace:
		if len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}
	case tea.KeySpace:
		m.input = append(m.input, ' ')
	case tea.KeyRunes:
		m.input = append(m.input, k.Runes...)
	}
	return m, nil
}

func describe(err error) string {
	switch {
	case errors.Is(err, agent.ErrEmptyInput):
		return "type something first"
	case errors.Is(err, agent.ErrBusy), errors.Is(err, agent.ErrSpeaking):
		return "busy, try again in a moment"
	case errors.Is(err, speech.ErrUnsupported):
		return "voice input is not available in the terminal"
	default:
		return err.Error()
	}
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.assistant))
	b.WriteString(" ")
	b.WriteString(modeStyle.Render("[" + m.mode.String() + "]"))
	b.WriteString("\n\n")

	msgs := m.messages
	// keep the input box on screen
	if limit := m.height - 6; m.height > 0 && limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	for _, msg := range msgs {
		if msg.IsBot {
			b.WriteString(botStyle.Render(m.assistant + ": "))
		} else {
			b.WriteString(userStyle.Render("You: "))
		}
		b.WriteString(msg.Text)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	switch {
	case m.speaking:
		b.WriteString(statusStyle.Render(m.assistant + " is speaking..."))
	case m.mode == agent.ModeAwaitingReply:
		b.WriteString(statusStyle.Render(m.assistant + " is thinking..."))
	case m.listening:
		b.WriteString(statusStyle.Render("listening..."))
	case m.status != "":
		b.WriteString(statusStyle.Render(m.status))
	}
	b.WriteString("\n")

	box := inputStyle
	if m.width > 4 {
		box = box.Width(m.width - 4)
	}
	b.WriteString(box.Render("> " + string(m.input)))
	b.WriteString("\n")
	b.WriteString(statusStyle.Render("enter: send  ctrl+v: voice  esc: quit"))
	return b.String()
}
