package widget

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/chadiek/chitti/internal/agent"
	"github.com/chadiek/chitti/internal/speech"
	"github.com/chadiek/chitti/internal/transcript"
)

// micChunkBytes is 100ms of 16kHz mono s16le, the chunk size streaming
// transcribers expect.
const micChunkBytes = 3200

// Session is one connected page: a controller plus the capabilities and
// view bound to its socket.
type Session struct {
	ID string

	sock   *socket
	ctl    *agent.Controller
	input  *speech.Input
	output *speech.Output
	caps   Capabilities
	voice  speech.Voice
	name   string
	log    zerolog.Logger

	rec   *ClientRecognizer
	syn   *ClientSynthesizer
	feed  *speech.AudioFeed
	paced *PacedWriter
	mic   []byte
}

func newSession(conn *websocket.Conn, h *Handler) *Session {
	id := uuid.NewString()
	log := h.log.With().Str("session", id).Logger()
	s := &Session{
		ID:    id,
		sock:  newSocket(conn, log),
		voice: h.opts.Voice,
		name:  h.opts.Assistant,
		log:   log,
	}

	var rec speech.Recognizer
	switch h.input {
	case InputBrowser:
		s.rec = newClientRecognizer(s.sock, h.opts.Voice.Language)
		rec = s.rec
	case InputServer:
		s.feed = &speech.AudioFeed{}
		rec = &speech.StreamRecognizer{Dial: h.transcribers, Feed: s.feed}
	}

	var syn speech.Synthesizer
	switch h.output {
	case OutputBrowser:
		s.syn = newClientSynthesizer(s.sock)
		syn = s.syn
	case OutputServer:
		s.paced = newPacedWriter(s.sock.sendBinary, s.sock.sendJSON)
		syn = &speech.StreamSynthesizer{Streamer: h.streamer, Sink: s.paced, Logger: log}
	}

	s.output = speech.NewOutput(syn, speech.WithVoice(h.opts.Voice), speech.WithOutputLogger(log))
	s.input = speech.NewInput(rec,
		speech.WithGate(s.output.Speaking),
		speech.WithCaptureTimeout(h.opts.CaptureTimeout),
		speech.WithInputLogger(log),
	)
	s.caps = Capabilities{VoiceInput: s.input.Supported(), VoiceOutput: s.output.Supported()}

	opts := []agent.Option{agent.WithLogger(log)}
	if h.opts.Greeting != "" {
		opts = append(opts, agent.WithGreeting(h.opts.Greeting))
	}
	view := &socketView{out: s.sock, assistant: h.opts.Assistant}
	s.ctl = agent.New(transcript.NewStore(), h.completer, s.input, s.output, view, opts...)
	return s
}

// Run serves the page until the socket closes or ctx is cancelled.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.log.Info().Bool("voice_input", s.caps.VoiceInput).Bool("voice_output", s.caps.VoiceOutput).Msg("session started")
	_ = s.sock.sendJSON(helloFrame{
		Type:         TypeHello,
		SessionID:    s.ID,
		Assistant:    s.name,
		Capabilities: s.caps,
		Voice:        s.voice,
	})

	var wg conc.WaitGroup
	wg.Go(s.sock.writePump)
	if s.paced != nil {
		wg.Go(s.paced.Run)
	}
	wg.Go(func() {
		if err := s.ctl.Run(ctx); err != nil {
			s.log.Error().Err(err).Msg("controller stopped")
		}
	})
	wg.Go(func() {
		<-ctx.Done()
		s.sock.close()
	})

	s.readPump(ctx)

	cancel()
	s.sock.close()
	if s.paced != nil {
		s.paced.Close()
	}
	wg.Wait()
	s.input.Close()
	s.output.Close()
	s.log.Info().Int("messages", len(s.ctl.Transcript())).Msg("session ended")
}

func (s *Session) readPump(ctx context.Context) {
	s.sock.prepareRead()
	for {
		kind, data, err := s.sock.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Warn().Err(err).Msg("socket read failed")
			}
			return
		}
		if kind == websocket.BinaryMessage {
			s.pushMic(data)
			continue
		}
		var f ClientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			_ = s.sock.sendJSON(errorFrame{Type: TypeError, Error: "invalid frame"})
			continue
		}
		s.dispatch(ctx, f)
	}
}

func (s *Session) dispatch(ctx context.Context, f ClientFrame) {
	switch f.Type {
	case TypeSubmit:
		s.reject(ctx, s.ctl.Submit(ctx, f.Text))
	case TypeVoice:
		s.reject(ctx, s.ctl.ToggleVoice(ctx))
	case TypeRecognitionResult:
		if s.rec == nil || !s.rec.Result(f.Session, f.Text) {
			s.log.Debug().Uint64("capture", f.Session).Msg("stale recognition result")
		}
	case TypeRecognitionError:
		if s.rec == nil || !s.rec.Fail(f.Session, f.Error) {
			s.log.Debug().Uint64("capture", f.Session).Msg("stale recognition error")
		}
	case TypeSpeechStart:
		s.log.Debug().Uint64("utterance", f.Utterance).Msg("page started speaking")
	case TypeSpeechEnd:
		if s.syn != nil {
			s.syn.End(f.Utterance)
		}
	case TypeSpeechError:
		if s.syn != nil {
			s.syn.Fail(f.Utterance, f.Error)
		}
	default:
		_ = s.sock.sendJSON(errorFrame{Type: TypeError, Error: "unknown frame type " + f.Type})
	}
}

// reject tells the page why a trigger was refused.
func (s *Session) reject(ctx context.Context, err error) {
	if err == nil || ctx.Err() != nil {
		return
	}
	_ = s.sock.sendJSON(rejectedFrame{Type: TypeRejected, Reason: rejectReason(err)})
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, agent.ErrSpeaking), errors.Is(err, speech.ErrOutputActive):
		return "speaking"
	case errors.Is(err, agent.ErrBusy):
		return "busy"
	case errors.Is(err, agent.ErrEmptyInput):
		return "empty"
	case errors.Is(err, speech.ErrUnsupported):
		return "unsupported"
	case errors.Is(err, speech.ErrListening):
		return "listening"
	case errors.Is(err, agent.ErrClosed), errors.Is(err, speech.ErrClosed):
		return "closed"
	default:
		return "failed"
	}
}

// pushMic regroups microphone audio into fixed chunks for the transcriber.
func (s *Session) pushMic(pcm []byte) {
	if s.feed == nil {
		return
	}
	s.mic = append(s.mic, pcm...)
	for len(s.mic) >= micChunkBytes {
		chunk := make([]byte, micChunkBytes)
		copy(chunk, s.mic[:micChunkBytes])
		s.feed.Write(chunk)
		s.mic = s.mic[micChunkBytes:]
	}
}
