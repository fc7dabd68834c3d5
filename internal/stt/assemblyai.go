package stt

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// DefaultURL is the AssemblyAI v3 streaming endpoint.
const DefaultURL = "wss://streaming.assemblyai.com/v3/ws"

const (
	// DefaultSilence is the inactivity window that ends an utterance.
	// Kept conservative so speakers are not cut mid-sentence.
	DefaultSilence = 700 * time.Millisecond
	// DefaultContinuation is added to the window when the last word suggests
	// the speaker will continue ("and", "if", "with").
	DefaultContinuation = 1200 * time.Millisecond
	// DefaultGrace absorbs late transcript updates before finalizing.
	DefaultGrace = 250 * time.Millisecond
)

// writeWait bounds each write so Close never waits on a stalled peer.
const writeWait = 5 * time.Second

// Options tune an AssemblyAI transcriber. Zero values use the defaults.
type Options struct {
	URL          string
	Silence      time.Duration
	Continuation time.Duration
	Grace        time.Duration
}

func (o Options) withDefaults() Options {
	if o.URL == "" {
		o.URL = DefaultURL
	}
	if o.Silence <= 0 {
		o.Silence = DefaultSilence
	}
	if o.Continuation <= 0 {
		o.Continuation = DefaultContinuation
	}
	if o.Grace <= 0 {
		o.Grace = DefaultGrace
	}
	return o
}

// AssemblyAI is a one-shot streaming transcriber: it delivers the first
// utterance that ends in silence on Finalize and then closes that channel.
// It implements speech.Transcriber.
type AssemblyAI struct {
	apiKey string
	opts   Options
	log    zerolog.Logger

	conn       *websocket.Conn
	audio      chan []byte
	stopCh     chan struct{}
	writerDone chan struct{}
	mu      sync.RWMutex
	running bool

	finalCh  chan string
	endMu    sync.Mutex
	finished bool

	accMu        sync.Mutex
	latest       string
	lastUpdate   time.Time
	lastVoice    time.Time
	silenceTimer *time.Timer
}

// Message types sent by the streaming API.
type beginMessage struct {
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type turnMessage struct {
	Transcript    string `json:"transcript"`
	TurnFormatted bool   `json:"turn_is_formatted"`
}

type terminationMessage struct {
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

type errorMessage struct {
	Error string `json:"error"`
}

// NewAssemblyAI returns an unconnected transcriber.
func NewAssemblyAI(apiKey string, opts Options, log zerolog.Logger) *AssemblyAI {
	return &AssemblyAI{
		apiKey:  apiKey,
		opts:    opts.withDefaults(),
		log:     log.With().Str("component", "assemblyai").Logger(),
		audio:   make(chan []byte, 1000),
		stopCh:  make(chan struct{}),
		finalCh: make(chan string, 1),
	}
}

// Finalize delivers the finished utterance. The channel is closed without a
// value when the stream ends before anything was said.
func (s *AssemblyAI) Finalize() <-chan string { return s.finalCh }

// Connect opens the streaming session.
func (s *AssemblyAI) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if s.apiKey == "" {
		return errors.New("assemblyai: API key is empty")
	}

	params := url.Values{}
	params.Set("sample_rate", "16000")
	params.Set("format_turns", "false")
	params.Set("encoding", "pcm_s16le")
	wsURL := s.opts.URL + "?" + params.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.Dial(wsURL, http.Header{"Authorization": {s.apiKey}})
	if err != nil {
		if resp != nil {
			s.log.Warn().Int("status", resp.StatusCode).Msg("handshake rejected")
		}
		return fmt.Errorf("assemblyai: connect: %w", err)
	}

	now := time.Now()
	s.conn = conn
	s.running = true
	s.accMu.Lock()
	s.lastUpdate = now
	s.lastVoice = now
	s.accMu.Unlock()

	s.writerDone = make(chan struct{})
	go s.readLoop(conn)
	go s.writeLoop(conn, s.writerDone)
	s.log.Debug().Msg("streaming session connected")
	return nil
}

// SendPCM16KLE queues 16 kHz little-endian mono PCM for the session.
func (s *AssemblyAI) SendPCM16KLE(pcm []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return errors.New("assemblyai: not connected")
	}
	s.detectVoiceActivity(pcm)
	select {
	case s.audio <- pcm:
	default:
		s.log.Debug().Msg("audio buffer full, dropping packet")
	}
	return nil
}

// Close terminates the session. It is safe to call more than once.
func (s *AssemblyAI) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		s.end()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.accMu.Lock()
	if s.silenceTimer != nil {
		s.silenceTimer.Stop()
		s.silenceTimer = nil
	}
	s.accMu.Unlock()
	if s.conn != nil {
		// the writer sends Terminate and owns the conn until it returns
		<-s.writerDone
		_ = s.conn.Close()
		s.conn = nil
	}
	s.end()
	return nil
}

// deliver hands text to Finalize once and ends the session's output.
func (s *AssemblyAI) deliver(text string) {
	s.endMu.Lock()
	defer s.endMu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	s.finalCh <- text
	close(s.finalCh)
}

func (s *AssemblyAI) end() {
	s.endMu.Lock()
	defer s.endMu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	close(s.finalCh)
}

// detectVoiceActivity records the time of the last frame whose RMS energy
// crosses the voice threshold.
func (s *AssemblyAI) detectVoiceActivity(pcm []byte) {
	const minSamples = 160 // 10ms at 16kHz
	if len(pcm) < minSamples*2 {
		return
	}
	step := 2
	if len(pcm) > 3200 {
		step = 4
	}
	var sum float64
	count := 0
	for i := 0; i+1 < len(pcm); i += 2 * step {
		v := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		sum += float64(v) * float64(v)
		count++
	}
	if count == 0 {
		return
	}
	const voiceRMS = 250.0
	if math.Sqrt(sum/float64(count)) >= voiceRMS {
		s.accMu.Lock()
		s.lastVoice = time.Now()
		s.accMu.Unlock()
	}
}

func (s *AssemblyAI) readLoop(conn *websocket.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("read loop recovered")
		}
	}()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopCh:
			default:
				s.log.Warn().Err(err).Msg("stream read failed")
				s.flushPending()
			}
			return
		}
		s.handle(msg)
	}
}

func (s *AssemblyAI) handle(msg []byte) {
	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &base); err != nil {
		s.log.Warn().Err(err).Msg("undecodable stream message")
		return
	}
	switch base.Type {
	case "Begin":
		var m beginMessage
		if err := json.Unmarshal(msg, &m); err == nil {
			s.log.Debug().Str("id", m.ID).Time("expires_at", time.Unix(m.ExpiresAt, 0)).Msg("session began")
		}
	case "Turn":
		var m turnMessage
		if err := json.Unmarshal(msg, &m); err != nil || m.Transcript == "" {
			return
		}
		s.accMu.Lock()
		s.latest = m.Transcript
		s.lastUpdate = time.Now()
		s.armLocked(s.opts.Silence)
		s.accMu.Unlock()
	case "Termination":
		var m terminationMessage
		if err := json.Unmarshal(msg, &m); err == nil {
			s.log.Debug().Float64("audio_s", m.AudioDurationSeconds).Float64("session_s", m.SessionDurationSeconds).Msg("session terminated")
		}
		s.flushPending()
	case "Error":
		var m errorMessage
		if err := json.Unmarshal(msg, &m); err == nil {
			s.log.Warn().Str("error", m.Error).Msg("provider error")
		}
	default:
		s.log.Debug().Str("type", base.Type).Msg("unknown stream message")
	}
}

// armLocked (re)starts the silence timer. Callers hold accMu.
func (s *AssemblyAI) armLocked(wait time.Duration) {
	if s.silenceTimer == nil {
		s.silenceTimer = time.AfterFunc(wait, s.finalizeOnSilence)
		return
	}
	s.silenceTimer.Stop()
	s.silenceTimer.Reset(wait)
}

func (s *AssemblyAI) threshold(text string) time.Duration {
	if isContinuationLikely(text) {
		return s.opts.Silence + s.opts.Continuation
	}
	return s.opts.Silence
}

// finalizeOnSilence runs when the silence timer fires. It re-arms the timer
// while text or voice energy is still recent, otherwise it waits one grace
// period for late updates and delivers the utterance.
func (s *AssemblyAI) finalizeOnSilence() {
	select {
	case <-s.stopCh:
		return
	default:
	}

	s.accMu.Lock()
	now := time.Now()
	threshold := s.threshold(s.latest)
	sinceText := now.Sub(s.lastUpdate)
	sinceVoice := now.Sub(s.lastVoice)
	if sinceText < threshold || sinceVoice < threshold {
		wait := threshold
		if rem := threshold - sinceText; sinceText < threshold && rem < wait {
			wait = rem
		}
		if rem := threshold - sinceVoice; sinceVoice < threshold && rem < wait {
			wait = rem
		}
		s.armLocked(max(wait, 10*time.Millisecond))
		s.accMu.Unlock()
		return
	}
	seen := s.lastUpdate
	s.accMu.Unlock()

	time.Sleep(s.opts.Grace)

	s.accMu.Lock()
	if s.lastUpdate.After(seen) {
		threshold = s.threshold(s.latest)
		wait := threshold
		if rem := threshold - time.Since(s.lastUpdate); rem > 10*time.Millisecond && rem < wait {
			wait = rem
		}
		s.armLocked(wait)
		s.accMu.Unlock()
		return
	}
	text := strings.TrimSpace(s.latest)
	s.accMu.Unlock()

	if text == "" {
		return
	}
	s.deliver(text)
}

// flushPending delivers whatever was heard when the stream ends early.
func (s *AssemblyAI) flushPending() {
	s.accMu.Lock()
	text := strings.TrimSpace(s.latest)
	s.accMu.Unlock()
	if text == "" {
		s.end()
		return
	}
	s.deliver(text)
}

// writeLoop is the only writer on conn. On stop it sends Terminate and
// closes done.
func (s *AssemblyAI) writeLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-s.stopCh:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteJSON(map[string]string{"type": "Terminate"})
			return
		case pcm := <-s.audio:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
				s.log.Warn().Err(err).Msg("sending audio failed")
				return
			}
		}
	}
}

// isContinuationLikely reports whether the last word suggests the speaker
// will keep going (conjunctions, prepositions, fillers).
func isContinuationLikely(text string) bool {
	w := lastWord(text)
	if w == "" {
		return false
	}
	_, ok := continuationWords[w]
	return ok
}

func lastWord(text string) string {
	fields := strings.FieldsFunc(strings.TrimSpace(text), func(r rune) bool { return !unicode.IsLetter(r) })
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[len(fields)-1])
}

var continuationWords = map[string]struct{}{
	"and": {}, "or": {}, "but": {}, "nor": {}, "yet": {}, "so": {},
	"if": {}, "when": {}, "while": {}, "though": {}, "although": {},
	"because": {}, "since": {}, "unless": {}, "until": {}, "whereas": {},
	"also": {}, "plus": {}, "um": {}, "uh": {}, "like": {},
	"about": {}, "with": {}, "to": {}, "of": {}, "for": {}, "on": {}, "in": {}, "at": {},
}
