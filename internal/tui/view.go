package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/chadiek/chitti/internal/agent"
	"github.com/chadiek/chitti/internal/transcript"
)

type (
	messageMsg   transcript.Message
	modeMsg      agent.Mode
	controlsMsg  bool
	listeningMsg bool
	speakingMsg  bool
	rejectedMsg  struct{ err error }
)

// View forwards controller updates into a running program. Updates sent
// before Attach are dropped.
type View struct {
	mu   sync.Mutex
	send func(tea.Msg)
}

// Attach routes updates to p.
func (v *View) Attach(p *tea.Program) {
	v.mu.Lock()
	v.send = p.Send
	v.mu.Unlock()
}

func (v *View) post(m tea.Msg) {
	v.mu.Lock()
	send := v.send
	v.mu.Unlock()
	if send != nil {
		send(m)
	}
}

func (v *View) MessageAppended(m transcript.Message) { v.post(messageMsg(m)) }
func (v *View) ModeChanged(m agent.Mode)             { v.post(modeMsg(m)) }
func (v *View) ControlsEnabled(enabled bool)         { v.post(controlsMsg(enabled)) }
func (v *View) ListeningChanged(active bool)         { v.post(listeningMsg(active)) }
func (v *View) SpeakingChanged(active bool)          { v.post(speakingMsg(active)) }
