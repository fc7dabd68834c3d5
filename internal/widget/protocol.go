package widget

import (
	"github.com/chadiek/chitti/internal/speech"
	"github.com/chadiek/chitti/internal/transcript"
)

// Client frame types.
const (
	TypeSubmit            = "submit"
	TypeVoice             = "voice"
	TypeRecognitionResult = "recognition-result"
	TypeRecognitionError  = "recognition-error"
	TypeSpeechStart       = "speech-start"
	TypeSpeechEnd         = "speech-end"
	TypeSpeechError       = "speech-error"
)

// Server frame types.
const (
	TypeHello         = "hello"
	TypeMessage       = "message"
	TypeMode          = "mode"
	TypeControls      = "controls"
	TypeListening     = "listening"
	TypeSpeaking      = "speaking"
	TypeRecognize     = "recognize"
	TypeRecognizeStop = "recognize-stop"
	TypeSpeak         = "speak"
	TypeSpeakCancel   = "speak-cancel"
	TypeAudioEnd      = "audio-end"
	TypeAudioReset    = "audio-reset"
	TypeRejected      = "rejected"
	TypeError         = "error"
)

// ClientFrame is any JSON frame sent by the page. Fields not used by a type
// are left empty.
type ClientFrame struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Session   uint64 `json:"session,omitempty"`
	Utterance uint64 `json:"utterance,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Capabilities tells the page which voice controls to show.
type Capabilities struct {
	VoiceInput  bool `json:"voice_input"`
	VoiceOutput bool `json:"voice_output"`
}

type helloFrame struct {
	Type         string       `json:"type"`
	SessionID    string       `json:"session_id"`
	Assistant    string       `json:"assistant"`
	Capabilities Capabilities `json:"capabilities"`
	Voice        speech.Voice `json:"voice"`
}

type messageFrame struct {
	Type    string             `json:"type"`
	Message transcript.Message `json:"message"`
}

type modeFrame struct {
	Type string `json:"type"`
	Mode string `json:"mode"`
}

type controlsFrame struct {
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

type activeFrame struct {
	Type   string `json:"type"`
	Active bool   `json:"active"`
	Label  string `json:"label,omitempty"`
}

type recognizeFrame struct {
	Type    string `json:"type"`
	Session uint64 `json:"session"`
	Lang    string `json:"lang,omitempty"`
}

type speakFrame struct {
	Type      string  `json:"type"`
	Utterance uint64  `json:"utterance"`
	Text      string  `json:"text,omitempty"`
	Lang      string  `json:"lang,omitempty"`
	Rate      float64 `json:"rate"`
	Pitch     float64 `json:"pitch"`
	Volume    float64 `json:"volume"`
}

type speakCancelFrame struct {
	Type      string `json:"type"`
	Utterance uint64 `json:"utterance"`
}

type signalFrame struct {
	Type string `json:"type"`
}

type rejectedFrame struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
