package speech

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// InputEventKind identifies an Input event.
type InputEventKind int

const (
	InputStarted InputEventKind = iota + 1
	InputUtterance
	InputFailed
)

func (k InputEventKind) String() string {
	switch k {
	case InputStarted:
		return "started"
	case InputUtterance:
		return "utterance"
	case InputFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// InputEvent is emitted by Input. Every session emits InputStarted followed
// by exactly one InputUtterance or InputFailed.
type InputEvent struct {
	Kind    InputEventKind
	Session uint64
	Text    string // InputUtterance only
	Reason  string // InputFailed only
	Err     error  // InputFailed only, for logs
}

// Aborted reports whether a failure was a user-initiated cancel.
func (e InputEvent) Aborted() bool { return e.Kind == InputFailed && e.Reason == ReasonAborted }

// InputOption configures an Input.
type InputOption func(*Input)

// WithGate rejects Start while busy reports true. Wire it to Output.Speaking.
func WithGate(busy func() bool) InputOption {
	return func(in *Input) { in.gate = busy }
}

// WithCaptureTimeout bounds every capture session.
func WithCaptureTimeout(d time.Duration) InputOption {
	return func(in *Input) { in.timeout = d }
}

// WithInputLogger sets the logger.
func WithInputLogger(l zerolog.Logger) InputOption {
	return func(in *Input) { in.log = l }
}

type capture struct {
	id      uint64
	cancel  context.CancelFunc
	stopped bool
}

// Input is the one-shot speech input controller.
type Input struct {
	rec     Recognizer
	gate    func() bool
	timeout time.Duration
	log     zerolog.Logger

	events    chan InputEvent
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	next    uint64
	current *capture
	done    bool
}

// NewInput wraps rec. A nil rec yields an Input whose Start reports
// ErrUnsupported.
func NewInput(rec Recognizer, opts ...InputOption) *Input {
	in := &Input{
		rec:    rec,
		log:    zerolog.Nop(),
		events: make(chan InputEvent, 16),
		closed: make(chan struct{}),
	}
	for _, o := range opts {
		o(in)
	}
	return in
}

// Supported reports whether a recognizer is configured.
func (in *Input) Supported() bool { return in.rec != nil }

// Events delivers session events.
func (in *Input) Events() <-chan InputEvent { return in.events }

// Listening reports whether a capture session is active.
func (in *Input) Listening() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.current != nil
}

// Start begins a capture session and returns its id.
func (in *Input) Start() (uint64, error) {
	if in.rec == nil {
		return 0, ErrUnsupported
	}
	in.mu.Lock()
	switch {
	case in.done:
		in.mu.Unlock()
		return 0, ErrClosed
	case in.current != nil:
		in.mu.Unlock()
		return 0, ErrListening
	case in.gate != nil && in.gate():
		in.mu.Unlock()
		return 0, ErrOutputActive
	}
	in.next++
	ctx, cancel := context.WithCancel(context.Background())
	if in.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), in.timeout)
	}
	c := &capture{id: in.next, cancel: cancel}
	in.current = c
	in.mu.Unlock()

	in.emit(InputEvent{Kind: InputStarted, Session: c.id})
	go in.run(ctx, c)
	return c.id, nil
}

// Stop cancels the active session. The session ends with ReasonAborted and
// never delivers an utterance.
func (in *Input) Stop() {
	in.mu.Lock()
	c := in.current
	if c != nil {
		c.stopped = true
		in.current = nil
	}
	in.mu.Unlock()
	if c != nil {
		c.cancel()
	}
}

// Close stops any session and releases event consumers.
func (in *Input) Close() {
	in.closeOnce.Do(func() {
		in.mu.Lock()
		in.done = true
		in.mu.Unlock()
		in.Stop()
		close(in.closed)
	})
}

func (in *Input) run(ctx context.Context, c *capture) {
	defer c.cancel()
	text, err := in.rec.Recognize(ctx)

	in.mu.Lock()
	stopped := c.stopped
	if in.current == c {
		in.current = nil
	}
	in.mu.Unlock()

	ev := InputEvent{Kind: InputFailed, Session: c.id}
	text = strings.TrimSpace(text)
	switch {
	case stopped:
		ev.Reason = ReasonAborted
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil:
		ev.Reason = ReasonTimeout
		ev.Err = err
	case errors.Is(err, context.Canceled):
		ev.Reason = ReasonAborted
	case err != nil:
		ev.Reason = ReasonFailed
		var ce *CaptureError
		if errors.As(err, &ce) && ce.Reason != "" {
			ev.Reason = ce.Reason
		}
		ev.Err = err
	case text == "":
		ev.Reason = ReasonNoSpeech
	default:
		ev = InputEvent{Kind: InputUtterance, Session: c.id, Text: text}
	}
	if ev.Kind == InputFailed && ev.Reason != ReasonAborted {
		in.log.Warn().Uint64("session", c.id).Str("reason", ev.Reason).Err(ev.Err).Msg("speech capture failed")
	}
	in.emit(ev)
}

func (in *Input) emit(ev InputEvent) {
	select {
	case in.events <- ev:
	case <-in.closed:
	}
}
