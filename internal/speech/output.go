package speech

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// OutputEventKind identifies an Output event.
type OutputEventKind int

const (
	OutputStarted OutputEventKind = iota + 1
	OutputFinished
)

func (k OutputEventKind) String() string {
	switch k {
	case OutputStarted:
		return "started"
	case OutputFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// OutputEvent is emitted by Output. Each Speak call yields exactly one
// OutputStarted and one OutputFinished.
type OutputEvent struct {
	Kind      OutputEventKind
	Utterance uint64
	// Err is a *SynthesisError when synthesis failed.
	Err error
	// Superseded marks the finish of an utterance replaced by a later Speak.
	Superseded bool
	// Cancelled marks the finish of an utterance stopped by Cancel.
	Cancelled bool
}

type utterance struct {
	id         uint64
	cancel     context.CancelFunc
	superseded bool
	cancelled  bool
}

// OutputOption configures an Output.
type OutputOption func(*Output)

// WithVoice sets synthesis parameters.
func WithVoice(v Voice) OutputOption {
	return func(o *Output) { o.voice = v }
}

// WithOutputLogger sets the logger.
func WithOutputLogger(l zerolog.Logger) OutputOption {
	return func(o *Output) { o.log = l }
}

// Output is the speech output controller. At most one utterance is audible;
// the last Speak wins.
type Output struct {
	syn   Synthesizer
	voice Voice
	log   zerolog.Logger

	events    chan OutputEvent
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	next    uint64
	current *utterance
	done    bool
}

// NewOutput wraps syn. A nil syn yields an Output whose Speak reports
// ErrUnsupported.
func NewOutput(syn Synthesizer, opts ...OutputOption) *Output {
	o := &Output{
		syn:    syn,
		voice:  DefaultVoice(),
		log:    zerolog.Nop(),
		events: make(chan OutputEvent, 16),
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Supported reports whether a synthesizer is configured.
func (o *Output) Supported() bool { return o.syn != nil }

// Voice returns the configured synthesis parameters.
func (o *Output) Voice() Voice { return o.voice }

// Events delivers utterance events.
func (o *Output) Events() <-chan OutputEvent { return o.events }

// Speaking reports whether an utterance is in progress.
func (o *Output) Speaking() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current != nil
}

// Speak cancels any utterance in progress and starts speaking text.
func (o *Output) Speak(text string) (uint64, error) {
	if o.syn == nil {
		return 0, ErrUnsupported
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, ErrEmptyText
	}
	o.mu.Lock()
	if o.done {
		o.mu.Unlock()
		return 0, ErrClosed
	}
	if prev := o.current; prev != nil {
		prev.superseded = true
		prev.cancel()
	}
	o.next++
	ctx, cancel := context.WithCancel(context.Background())
	u := &utterance{id: o.next, cancel: cancel}
	o.current = u
	o.mu.Unlock()

	go o.run(ctx, u, Utterance{ID: u.id, Text: text, Voice: o.voice})
	return u.id, nil
}

// Cancel stops the utterance in progress, if any.
func (o *Output) Cancel() {
	o.mu.Lock()
	u := o.current
	if u != nil {
		u.cancelled = true
		o.current = nil
	}
	o.mu.Unlock()
	if u != nil {
		u.cancel()
	}
}

// Close cancels speech and releases event consumers.
func (o *Output) Close() {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.done = true
		o.mu.Unlock()
		o.Cancel()
		close(o.closed)
	})
}

func (o *Output) run(ctx context.Context, u *utterance, req Utterance) {
	defer u.cancel()
	o.emit(OutputEvent{Kind: OutputStarted, Utterance: u.id})

	err := o.syn.Synthesize(ctx, req)

	o.mu.Lock()
	if o.current == u {
		o.current = nil
	}
	ev := OutputEvent{Kind: OutputFinished, Utterance: u.id, Superseded: u.superseded, Cancelled: u.cancelled}
	o.mu.Unlock()

	if err != nil && !(errors.Is(err, context.Canceled) && (ev.Superseded || ev.Cancelled)) {
		ev.Err = &SynthesisError{Utterance: u.id, Err: err}
		o.log.Warn().Uint64("utterance", u.id).Err(err).Msg("speech synthesis failed")
	}
	o.emit(ev)
}

func (o *Output) emit(ev OutputEvent) {
	select {
	case o.events <- ev:
	case <-o.closed:
	}
}
