package widget

import (
	"github.com/chadiek/chitti/internal/agent"
	"github.com/chadiek/chitti/internal/transcript"
)

// socketView renders controller updates as server frames.
type socketView struct {
	out       frameSender
	assistant string
}

func (v *socketView) MessageAppended(m transcript.Message) {
	_ = v.out.sendJSON(messageFrame{Type: TypeMessage, Message: m})
}

func (v *socketView) ModeChanged(m agent.Mode) {
	_ = v.out.sendJSON(modeFrame{Type: TypeMode, Mode: m.String()})
}

func (v *socketView) ControlsEnabled(enabled bool) {
	_ = v.out.sendJSON(controlsFrame{Type: TypeControls, Enabled: enabled})
}

func (v *socketView) ListeningChanged(active bool) {
	_ = v.out.sendJSON(activeFrame{Type: TypeListening, Active: active})
}

func (v *socketView) SpeakingChanged(active bool) {
	f := activeFrame{Type: TypeSpeaking, Active: active}
	if active {
		f.Label = v.assistant + " is speaking..."
	}
	_ = v.out.sendJSON(f)
}
