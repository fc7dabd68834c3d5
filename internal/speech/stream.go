package speech

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// PCMStreamer streams 48kHz PCM mono audio for the given text.
type PCMStreamer interface {
	StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error)
}

// PCMSink consumes 48kHz PCM bytes and delivers them to the listener.
type PCMSink interface {
	WritePCM(pcm []byte)
	// FlushTail marks the end of an utterance's audio and blocks until it
	// has been delivered or ctx is done.
	FlushTail(ctx context.Context) error
	// Reset drops any queued audio immediately (cancellation).
	Reset()
}

// chunkReply splits a reply into sentence-like chunks so a cancelled
// utterance stops at the next sentence boundary instead of after the whole
// reply has been synthesized. Splits on '.', '?', '!' and newlines, keeping
// punctuation.
func chunkReply(reply string) []string {
	txt := strings.TrimSpace(reply)
	if txt == "" {
		return nil
	}
	var chunks []string
	var b strings.Builder
	flush := func() {
		if chunk := strings.TrimSpace(b.String()); chunk != "" {
			chunks = append(chunks, chunk)
		}
		b.Reset()
	}
	for _, r := range txt {
		switch r {
		case '.', '!', '?':
			b.WriteRune(r)
			flush()
		case '\n', '\r':
			flush()
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return chunks
}

// StreamSynthesizer adapts a server-side PCM streamer (Deepgram, ElevenLabs)
// into a Synthesizer that plays into Sink. Utterances share the sink; only
// the most recent one may reset it.
type StreamSynthesizer struct {
	Streamer PCMStreamer
	Sink     PCMSink
	Logger   zerolog.Logger

	mu    sync.Mutex
	owner uint64
}

func (s *StreamSynthesizer) claim(id uint64) {
	s.mu.Lock()
	s.owner = id
	s.mu.Unlock()
}

// reset drops queued audio unless a newer utterance has taken the sink.
func (s *StreamSynthesizer) reset(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner == id {
		s.Sink.Reset()
	}
}

// Synthesize streams u chunk by chunk. It returns ctx.Err() after resetting
// the sink when cancelled and the first stream error otherwise.
func (s *StreamSynthesizer) Synthesize(ctx context.Context, u Utterance) error {
	s.claim(u.ID)
	for _, chunk := range chunkReply(u.Text) {
		if err := ctx.Err(); err != nil {
			s.reset(u.ID)
			return err
		}
		pcmCh, errCh := s.Streamer.StreamPCM48k(ctx, chunk)
		var streamErr error
		openPCM, openErr := true, true
		for openPCM || openErr {
			select {
			case b, ok := <-pcmCh:
				if !ok {
					openPCM = false
					continue
				}
				if len(b) > 0 && ctx.Err() == nil {
					s.Sink.WritePCM(b)
				}
			case e, ok := <-errCh:
				if !ok {
					openErr = false
					continue
				}
				if e != nil && streamErr == nil {
					streamErr = e
				}
			case <-ctx.Done():
				s.reset(u.ID)
				return ctx.Err()
			}
		}
		if streamErr != nil {
			s.Logger.Warn().Uint64("utterance", u.ID).Err(streamErr).Msg("tts stream error")
			s.reset(u.ID)
			return streamErr
		}
	}
	if err := s.Sink.FlushTail(ctx); err != nil {
		s.reset(u.ID)
		return err
	}
	return nil
}

// Transcriber is a streaming speech-to-text session fed with 16kHz
// little-endian mono PCM.
type Transcriber interface {
	Connect() error
	SendPCM16KLE(pcm []byte) error
	// Finalize delivers the text of each completed utterance.
	Finalize() <-chan string
	Close() error
}

// AudioFeed routes microphone audio to whichever transcriber is listening.
// Audio written while nobody listens is dropped.
type AudioFeed struct {
	mu  sync.Mutex
	dst Transcriber
}

// Write forwards pcm to the attached transcriber.
func (f *AudioFeed) Write(pcm []byte) {
	f.mu.Lock()
	dst := f.dst
	f.mu.Unlock()
	if dst != nil {
		_ = dst.SendPCM16KLE(pcm)
	}
}

func (f *AudioFeed) attach(t Transcriber) {
	f.mu.Lock()
	f.dst = t
	f.mu.Unlock()
}

func (f *AudioFeed) detach(t Transcriber) {
	f.mu.Lock()
	if f.dst == t {
		f.dst = nil
	}
	f.mu.Unlock()
}

// StreamRecognizer adapts a server-side streaming transcriber into a
// one-shot Recognizer: it opens a transcriber per capture session and
// returns the first finalized utterance.
type StreamRecognizer struct {
	Dial func() Transcriber
	Feed *AudioFeed
}

// Recognize opens a transcriber, routes Feed audio to it and waits for one
// utterance.
func (r *StreamRecognizer) Recognize(ctx context.Context) (string, error) {
	t := r.Dial()
	defer func() { _ = t.Close() }()
	if err := t.Connect(); err != nil {
		return "", &CaptureError{Reason: ReasonNetwork, Err: err}
	}

	r.Feed.attach(t)
	defer r.Feed.detach(t)

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case text, ok := <-t.Finalize():
		if !ok {
			return "", &CaptureError{Reason: ReasonNoSpeech}
		}
		return text, nil
	}
}
