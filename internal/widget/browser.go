package widget

import (
	"context"
	"errors"
	"sync"

	"github.com/chadiek/chitti/internal/speech"
)

type frameSender interface {
	sendJSON(v any) error
}

type outcome struct {
	text string
	err  error
}

// pendingSet correlates outgoing requests with the page's replies.
type pendingSet struct {
	mu      sync.Mutex
	next    uint64
	waiting map[uint64]chan outcome
}

func (p *pendingSet) register(id uint64) chan outcome {
	ch := make(chan outcome, 1)
	p.mu.Lock()
	if p.waiting == nil {
		p.waiting = make(map[uint64]chan outcome)
	}
	p.waiting[id] = ch
	p.mu.Unlock()
	return ch
}

func (p *pendingSet) newID() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return p.next
}

func (p *pendingSet) forget(id uint64) {
	p.mu.Lock()
	delete(p.waiting, id)
	p.mu.Unlock()
}

// resolve delivers o to the request id. Unknown or already resolved ids are
// ignored, which covers late replies to cancelled requests.
func (p *pendingSet) resolve(id uint64, o outcome) bool {
	p.mu.Lock()
	ch, ok := p.waiting[id]
	delete(p.waiting, id)
	p.mu.Unlock()
	if ok {
		ch <- o
	}
	return ok
}

// ClientRecognizer drives the page's speech recognition. Each Recognize
// sends a recognize frame and waits for the matching recognition-result or
// recognition-error.
type ClientRecognizer struct {
	out     frameSender
	lang    string
	pending pendingSet
}

func newClientRecognizer(out frameSender, lang string) *ClientRecognizer {
	return &ClientRecognizer{out: out, lang: lang}
}

func (r *ClientRecognizer) Recognize(ctx context.Context) (string, error) {
	id := r.pending.newID()
	ch := r.pending.register(id)
	defer r.pending.forget(id)

	if err := r.out.sendJSON(recognizeFrame{Type: TypeRecognize, Session: id, Lang: r.lang}); err != nil {
		return "", &speech.CaptureError{Reason: speech.ReasonNetwork, Err: err}
	}
	select {
	case o := <-ch:
		return o.text, o.err
	case <-ctx.Done():
		_ = r.out.sendJSON(recognizeFrame{Type: TypeRecognizeStop, Session: id})
		return "", ctx.Err()
	}
}

// Result resolves a capture with recognized text.
func (r *ClientRecognizer) Result(session uint64, text string) bool {
	return r.pending.resolve(session, outcome{text: text})
}

// Fail resolves a capture with the page's error code ("no-speech",
// "not-allowed", "aborted", ...).
func (r *ClientRecognizer) Fail(session uint64, reason string) bool {
	if reason == "" {
		reason = speech.ReasonFailed
	}
	return r.pending.resolve(session, outcome{err: &speech.CaptureError{Reason: reason}})
}

// ClientSynthesizer drives the page's speech synthesis. Synthesize sends a
// speak frame and blocks until speech-end or speech-error arrives.
type ClientSynthesizer struct {
	out     frameSender
	pending pendingSet
}

func newClientSynthesizer(out frameSender) *ClientSynthesizer {
	return &ClientSynthesizer{out: out}
}

func (s *ClientSynthesizer) Synthesize(ctx context.Context, u speech.Utterance) error {
	ch := s.pending.register(u.ID)
	defer s.pending.forget(u.ID)

	err := s.out.sendJSON(speakFrame{
		Type:      TypeSpeak,
		Utterance: u.ID,
		Text:      u.Text,
		Lang:      u.Voice.Language,
		Rate:      u.Voice.Rate,
		Pitch:     u.Voice.Pitch,
		Volume:    u.Voice.Volume,
	})
	if err != nil {
		return err
	}
	select {
	case o := <-ch:
		return o.err
	case <-ctx.Done():
		_ = s.out.sendJSON(speakCancelFrame{Type: TypeSpeakCancel, Utterance: u.ID})
		return ctx.Err()
	}
}

// End resolves an utterance that finished playing.
func (s *ClientSynthesizer) End(utterance uint64) bool {
	return s.pending.resolve(utterance, outcome{})
}

// Fail resolves an utterance the page could not play.
func (s *ClientSynthesizer) Fail(utterance uint64, reason string) bool {
	if reason == "" {
		reason = "synthesis failed"
	}
	return s.pending.resolve(utterance, outcome{err: errors.New("browser: " + reason)})
}
