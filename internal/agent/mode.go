package agent

// Mode is the controller's single interaction state.
type Mode int32

const (
	ModeIdle Mode = iota
	ModeListening
	ModeAwaitingReply
	ModeSpeaking
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeListening:
		return "listening"
	case ModeAwaitingReply:
		return "awaiting_reply"
	case ModeSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}
