// Package widget serves the chat widget over a websocket. Each connection
// gets its own interaction controller; the page's speech recognition and
// synthesis, or server-side providers, back the controller's speech
// capabilities.
package widget

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/chadiek/chitti/internal/agent"
	"github.com/chadiek/chitti/internal/speech"
)

// InputMode selects what backs speech input.
type InputMode string

const (
	InputBrowser InputMode = "browser"
	InputServer  InputMode = "server"
	InputNone    InputMode = "none"
)

// OutputMode selects what backs speech output.
type OutputMode string

const (
	OutputBrowser OutputMode = "browser"
	OutputServer  OutputMode = "server"
	OutputNone    OutputMode = "none"
)

// Options configure every session served by a Handler.
type Options struct {
	Assistant      string
	Greeting       string
	Voice          speech.Voice
	Input          InputMode
	Output         OutputMode
	CaptureTimeout time.Duration
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithTranscriber supplies server-side recognition; dial opens one
// streaming session per capture. Required for InputServer.
func WithTranscriber(dial func() speech.Transcriber) HandlerOption {
	return func(h *Handler) { h.transcribers = dial }
}

// WithStreamer supplies server-side synthesis. Required for OutputServer.
func WithStreamer(st speech.PCMStreamer) HandlerOption {
	return func(h *Handler) { h.streamer = st }
}

// WithCheckOrigin overrides the upgrader's origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) HandlerOption {
	return func(h *Handler) { h.upgrader.CheckOrigin = fn }
}

// Handler upgrades requests to widget sessions.
type Handler struct {
	completer    agent.Completer
	opts         Options
	log          zerolog.Logger
	transcribers func() speech.Transcriber
	streamer     speech.PCMStreamer
	upgrader     websocket.Upgrader

	input  InputMode
	output OutputMode

	ctx    context.Context
	cancel context.CancelFunc
	active atomic.Int64
}

func NewHandler(completer agent.Completer, opts Options, log zerolog.Logger, hopts ...HandlerOption) *Handler {
	if opts.Assistant == "" {
		opts.Assistant = "CHITTI"
	}
	if opts.Voice == (speech.Voice{}) {
		opts.Voice = speech.DefaultVoice()
	}
	h := &Handler{
		completer: completer,
		opts:      opts,
		log:       log.With().Str("component", "widget").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  65536,
			WriteBufferSize: 65536,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, o := range hopts {
		o(h)
	}
	h.input = resolveInput(opts.Input, h.transcribers != nil, h.log)
	h.output = resolveOutput(opts.Output, h.streamer != nil, h.log)
	h.ctx, h.cancel = context.WithCancel(context.Background())
	return h
}

func resolveInput(m InputMode, haveServer bool, log zerolog.Logger) InputMode {
	switch m {
	case "", InputBrowser:
		return InputBrowser
	case InputServer:
		if haveServer {
			return InputServer
		}
		log.Warn().Msg("server speech input requested without a transcriber, voice input disabled")
	}
	return InputNone
}

func resolveOutput(m OutputMode, haveServer bool, log zerolog.Logger) OutputMode {
	switch m {
	case "", OutputBrowser:
		return OutputBrowser
	case OutputServer:
		if haveServer {
			return OutputServer
		}
		log.Warn().Msg("server speech output requested without a streamer, voice output disabled")
	}
	return OutputNone
}

// Status summarizes the handler for readiness probes.
type Status struct {
	Input    InputMode  `json:"input"`
	Output   OutputMode `json:"output"`
	Sessions int64      `json:"sessions"`
}

func (h *Handler) Status() Status {
	return Status{Input: h.input, Output: h.output, Sessions: h.active.Load()}
}

// ServeHTTP upgrades the request and serves the session until it ends.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	sess := newSession(conn, h)
	h.active.Add(1)
	defer h.active.Add(-1)
	sess.Run(h.ctx)
}

// Shutdown ends every live session. Hijacked connections are not closed by
// http.Server.Shutdown, so the server calls this alongside it.
func (h *Handler) Shutdown() {
	h.cancel()
}
