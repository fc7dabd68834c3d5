// Package speech wraps host speech capabilities behind two small controllers:
// Input captures one utterance per session, Output speaks one utterance at a
// time. Capabilities are injected, so a browser page, a cloud provider or a
// test double can back either controller.
package speech

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnsupported is returned when no capability backs the controller.
	ErrUnsupported = errors.New("speech: capability not supported")
	// ErrListening is returned by Input.Start while a session is active.
	ErrListening = errors.New("speech: already listening")
	// ErrOutputActive is returned by Input.Start while speech output is playing.
	ErrOutputActive = errors.New("speech: output is speaking")
	// ErrEmptyText is returned by Output.Speak for blank text.
	ErrEmptyText = errors.New("speech: empty text")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("speech: closed")
)

// Capture failure reasons. They mirror the reasons browsers report so the
// widget can pass them through unchanged.
const (
	ReasonAborted  = "aborted"
	ReasonNoSpeech = "no-speech"
	ReasonTimeout  = "timeout"
	ReasonNetwork  = "network"
	ReasonFailed   = "capture-failed"
)

// CaptureError is a recognition failure reported by a Recognizer.
type CaptureError struct {
	Reason string
	Err    error
}

func (e *CaptureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("speech: capture %s: %v", e.Reason, e.Err)
	}
	return "speech: capture " + e.Reason
}

func (e *CaptureError) Unwrap() error { return e.Err }

// SynthesisError is a failed utterance. It only ends the speaking state.
type SynthesisError struct {
	Utterance uint64
	Err       error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("speech: synthesis of utterance %d: %v", e.Utterance, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// Recognizer captures a single utterance. It returns ctx.Err() when the
// context is cancelled and a *CaptureError when capture fails.
type Recognizer interface {
	Recognize(ctx context.Context) (string, error)
}

// Synthesizer speaks one utterance and blocks until playback finishes, fails,
// or ctx is cancelled.
type Synthesizer interface {
	Synthesize(ctx context.Context, u Utterance) error
}

// Utterance is one unit of speech output.
type Utterance struct {
	ID    uint64
	Text  string
	Voice Voice
}

// Voice holds synthesis parameters.
type Voice struct {
	Language string  `json:"lang" mapstructure:"language"`
	Rate     float64 `json:"rate" mapstructure:"rate"`
	Pitch    float64 `json:"pitch" mapstructure:"pitch"`
	Volume   float64 `json:"volume" mapstructure:"volume"`
}

// DefaultVoice is a moderate-rate English voice.
func DefaultVoice() Voice {
	return Voice{Language: "en-US", Rate: 1.0, Pitch: 1.0, Volume: 0.9}
}

// Validate checks the parameters against the ranges browsers accept.
func (v Voice) Validate() error {
	switch {
	case v.Language == "":
		return errors.New("speech: voice language is required")
	case v.Rate < 0.1 || v.Rate > 10:
		return fmt.Errorf("speech: voice rate %.2f outside 0.1..10", v.Rate)
	case v.Pitch < 0 || v.Pitch > 2:
		return fmt.Errorf("speech: voice pitch %.2f outside 0..2", v.Pitch)
	case v.Volume < 0 || v.Volume > 1:
		return fmt.Errorf("speech: voice volume %.2f outside 0..1", v.Volume)
	}
	return nil
}
