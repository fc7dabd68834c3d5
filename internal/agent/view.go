package agent

import "github.com/chadiek/chitti/internal/transcript"

// View renders controller state. Methods are called from the controller's
// loop goroutine and must not block for long or call back into the
// controller synchronously.
type View interface {
	MessageAppended(m transcript.Message)
	ModeChanged(m Mode)
	// ControlsEnabled toggles the send button, voice button and text input.
	ControlsEnabled(enabled bool)
	ListeningChanged(active bool)
	SpeakingChanged(active bool)
}

// NopView discards every update.
type NopView struct{}

func (NopView) MessageAppended(transcript.Message) {}
func (NopView) ModeChanged(Mode)                   {}
func (NopView) ControlsEnabled(bool)               {}
func (NopView) ListeningChanged(bool)              {}
func (NopView) SpeakingChanged(bool)               {}
