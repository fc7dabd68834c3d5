// Package agent implements the interaction controller that turns typed or
// spoken user input into completion requests and spoken replies.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/chadiek/chitti/internal/llm"
	"github.com/chadiek/chitti/internal/speech"
	"github.com/chadiek/chitti/internal/transcript"
)

var (
	// ErrSpeaking rejects triggers while a reply is being spoken.
	ErrSpeaking = errors.New("agent: assistant is speaking")
	// ErrBusy rejects triggers while a reply is outstanding.
	ErrBusy = errors.New("agent: awaiting reply")
	// ErrEmptyInput rejects blank submissions.
	ErrEmptyInput = errors.New("agent: empty input")
	// ErrClosed is returned once Run has exited.
	ErrClosed = errors.New("agent: controller closed")
)

// MsgCaptureError is appended when voice capture fails for any reason other
// than a user cancel.
const MsgCaptureError = "Voice input error. Try again or use text."

// DefaultGreeting introduces the assistant.
const DefaultGreeting = "Hello! I'm CHITTI, your advanced humanoid companion powered by Groq. I can chat via text or voice. Ask me anything!"

// Completer answers a single utterance with no prior context.
type Completer interface {
	Complete(ctx context.Context, utterance string) (string, error)
}

// VoiceInput is the speech input controller as seen by the agent.
type VoiceInput interface {
	Start() (uint64, error)
	Stop()
	Events() <-chan speech.InputEvent
}

// VoiceOutput is the speech output controller as seen by the agent.
type VoiceOutput interface {
	Speak(text string) (uint64, error)
	Cancel()
	Events() <-chan speech.OutputEvent
}

type requestKind int

const (
	reqSubmit requestKind = iota
	reqVoice
)

type request struct {
	kind requestKind
	text string
	resp chan error
}

type reply struct {
	turn uint64
	text string
	err  error
}

// Option configures a Controller.
type Option func(*Controller)

// WithGreeting appends text as a bot message when Run starts.
func WithGreeting(text string) Option {
	return func(c *Controller) { c.greeting = strings.TrimSpace(text) }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// Controller is the interaction state machine. All state changes happen on
// the goroutine running Run; public triggers hand requests to it and wait
// for the guard's verdict.
type Controller struct {
	store  *transcript.Store
	llm    Completer
	input  VoiceInput
	output VoiceOutput
	view   View
	log    zerolog.Logger

	greeting string

	requests chan request
	replies  chan reply
	done     chan struct{}
	running  atomic.Bool
	snapshot atomic.Int32

	// loop-owned
	mode      Mode
	turn      uint64
	session   uint64
	utterance uint64
}

// New wires a controller. input and output may wrap nil capabilities, in
// which case voice triggers report speech.ErrUnsupported and replies are
// not spoken. A nil view discards updates.
func New(store *transcript.Store, completer Completer, input VoiceInput, output VoiceOutput, view View, opts ...Option) *Controller {
	if view == nil {
		view = NopView{}
	}
	c := &Controller{
		store:    store,
		llm:      completer,
		input:    input,
		output:   output,
		view:     view,
		log:      zerolog.Nop(),
		requests: make(chan request),
		replies:  make(chan reply, 1),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Mode returns a snapshot of the current mode.
func (c *Controller) Mode() Mode { return Mode(c.snapshot.Load()) }

// Transcript returns the messages so far, oldest first.
func (c *Controller) Transcript() []transcript.Message { return c.store.Messages() }

// Submit sends typed text. It returns once the text was accepted or
// rejected; the reply arrives asynchronously through the view.
func (c *Controller) Submit(ctx context.Context, text string) error {
	return c.do(ctx, request{kind: reqSubmit, text: text})
}

// ToggleVoice starts voice capture when idle and stops it when listening.
func (c *Controller) ToggleVoice(ctx context.Context) error {
	return c.do(ctx, request{kind: reqVoice})
}

func (c *Controller) do(ctx context.Context, r request) error {
	r.resp = make(chan error, 1)
	select {
	case c.requests <- r:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-r.resp
}

// Run processes triggers and capability events until ctx is cancelled.
// It may be called once.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("agent: Run called twice")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.input.Stop()
		c.output.Cancel()
		close(c.done)
	}()

	if c.greeting != "" {
		c.appendMessage(c.greeting, true)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-c.requests:
			r.resp <- c.handleRequest(ctx, r)
		case ev := <-c.input.Events():
			c.handleInput(ctx, ev)
		case ev := <-c.output.Events():
			c.handleOutput(ev)
		case r := <-c.replies:
			c.handleReply(r)
		}
	}
}

func (c *Controller) handleRequest(ctx context.Context, r request) error {
	switch c.mode {
	case ModeSpeaking:
		return ErrSpeaking
	case ModeAwaitingReply:
		return ErrBusy
	}
	switch r.kind {
	case reqSubmit:
		text := strings.TrimSpace(r.text)
		if text == "" {
			return ErrEmptyInput
		}
		if c.mode == ModeListening {
			c.stopListening()
		}
		c.beginTurn(ctx, text)
		return nil
	case reqVoice:
		if c.mode == ModeListening {
			c.stopListening()
			c.setMode(ModeIdle)
			return nil
		}
		id, err := c.input.Start()
		if err != nil {
			return err
		}
		c.session = id
		c.setMode(ModeListening)
		c.view.ListeningChanged(true)
		return nil
	}
	return fmt.Errorf("agent: unknown request %d", r.kind)
}

func (c *Controller) stopListening() {
	c.input.Stop()
	c.session = 0
	c.view.ListeningChanged(false)
}

func (c *Controller) handleInput(ctx context.Context, ev speech.InputEvent) {
	if ev.Kind == speech.InputStarted || c.mode != ModeListening || ev.Session != c.session {
		return
	}
	c.session = 0
	c.view.ListeningChanged(false)
	switch ev.Kind {
	case speech.InputUtterance:
		c.log.Debug().Uint64("session", ev.Session).Str("text", ev.Text).Msg("heard")
		c.beginTurn(ctx, ev.Text)
	case speech.InputFailed:
		if !ev.Aborted() {
			c.appendMessage(MsgCaptureError, true)
		}
		c.setMode(ModeIdle)
	}
}

// beginTurn appends the user message and starts the completion.
func (c *Controller) beginTurn(ctx context.Context, text string) {
	if !c.appendMessage(text, false) {
		c.setMode(ModeIdle)
		return
	}
	c.view.ControlsEnabled(false)
	c.turn++
	c.setMode(ModeAwaitingReply)
	go c.complete(ctx, c.turn, text)
}

func (c *Controller) complete(ctx context.Context, turn uint64, text string) {
	r := reply{turn: turn}
	defer func() {
		if p := recover(); p != nil {
			r.text, r.err = "", fmt.Errorf("agent: completion panicked: %v", p)
		}
		select {
		case c.replies <- r:
		case <-c.done:
		}
	}()
	r.text, r.err = c.llm.Complete(ctx, text)
	if r.err == nil && strings.TrimSpace(r.text) == "" {
		r.err = &llm.Error{Kind: llm.KindMalformed, Detail: "empty reply"}
	}
}

func (c *Controller) handleReply(r reply) {
	if c.mode != ModeAwaitingReply || r.turn != c.turn {
		return
	}
	defer c.view.ControlsEnabled(true)

	if r.err != nil {
		kind, _ := llm.KindOf(r.err)
		c.log.Warn().Err(r.err).Stringer("kind", kind).Msg("completion failed")
		c.appendMessage(llm.UserMessage(r.err), true)
		c.setMode(ModeIdle)
		return
	}
	text := strings.TrimSpace(r.text)
	c.appendMessage(text, true)

	id, err := c.output.Speak(text)
	if err != nil {
		if !errors.Is(err, speech.ErrUnsupported) {
			c.log.Warn().Err(err).Msg("speech output did not start")
		}
		c.setMode(ModeIdle)
		return
	}
	c.utterance = id
	c.setMode(ModeSpeaking)
	c.view.SpeakingChanged(true)
}

func (c *Controller) handleOutput(ev speech.OutputEvent) {
	if ev.Kind != speech.OutputFinished || ev.Utterance != c.utterance {
		return
	}
	c.utterance = 0
	c.view.SpeakingChanged(false)
	if c.mode == ModeSpeaking {
		c.setMode(ModeIdle)
	}
}

func (c *Controller) appendMessage(text string, isBot bool) bool {
	m, err := c.store.Append(text, isBot)
	if err != nil {
		c.log.Warn().Err(err).Bool("bot", isBot).Msg("message dropped")
		return false
	}
	c.view.MessageAppended(m)
	return true
}

func (c *Controller) setMode(m Mode) {
	if m == c.mode {
		return
	}
	c.log.Debug().Stringer("from", c.mode).Stringer("to", m).Msg("mode")
	c.mode = m
	c.snapshot.Store(int32(m))
	c.view.ModeChanged(m)
}
