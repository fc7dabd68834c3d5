package speech

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkReply_SplitsAndTrims(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"  Hello world.  How are you?\nI am fine!  ", []string{"Hello world.", "How are you?", "I am fine!"}},
		{"no punctuation here", []string{"no punctuation here"}},
		{"", nil},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, chunkReply(tc.in), "input %q", tc.in)
	}
}

type fakeStreamer struct {
	mu     sync.Mutex
	chunks []string
	err    error
	block  bool
}

func (f *fakeStreamer) StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	f.mu.Lock()
	f.chunks = append(f.chunks, text)
	f.mu.Unlock()
	pcm := make(chan []byte, 4)
	errc := make(chan error, 1)
	go func() {
		defer close(pcm)
		defer close(errc)
		if f.err != nil {
			errc <- f.err
			return
		}
		if f.block {
			<-ctx.Done()
			return
		}
		pcm <- []byte{1, 0, 2, 0}
		pcm <- []byte{3, 0}
	}()
	return pcm, errc
}

type recordingSink struct {
	wrote   int32
	flushes int32
	resets  int32
}

func (s *recordingSink) WritePCM(p []byte) { atomic.AddInt32(&s.wrote, 1) }
func (s *recordingSink) Reset()            { atomic.AddInt32(&s.resets, 1) }
func (s *recordingSink) FlushTail(ctx context.Context) error {
	atomic.AddInt32(&s.flushes, 1)
	return ctx.Err()
}

func TestStreamSynthesizer_StreamsEveryChunk(t *testing.T) {
	st := &fakeStreamer{}
	sink := &recordingSink{}
	syn := &StreamSynthesizer{Streamer: st, Sink: sink}

	err := syn.Synthesize(context.Background(), Utterance{ID: 1, Text: "One. Two!"})
	require.NoError(t, err)
	assert.Equal(t, []string{"One.", "Two!"}, st.chunks)
	assert.Equal(t, int32(4), atomic.LoadInt32(&sink.wrote))
	assert.Equal(t, int32(1), atomic.LoadInt32(&sink.flushes))
	assert.Equal(t, int32(0), atomic.LoadInt32(&sink.resets))
}

func TestStreamSynthesizer_ErrorResetsSink(t *testing.T) {
	sink := &recordingSink{}
	syn := &StreamSynthesizer{Streamer: &fakeStreamer{err: errors.New("tts down")}, Sink: sink}

	err := syn.Synthesize(context.Background(), Utterance{ID: 1, Text: "Hello."})
	assert.EqualError(t, err, "tts down")
	assert.Equal(t, int32(1), atomic.LoadInt32(&sink.resets))
	assert.Equal(t, int32(0), atomic.LoadInt32(&sink.flushes))
}

func TestStreamSynthesizer_CancelResetsSink(t *testing.T) {
	sink := &recordingSink{}
	syn := &StreamSynthesizer{Streamer: &fakeStreamer{block: true}, Sink: sink}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	err := syn.Synthesize(ctx, Utterance{ID: 1, Text: "A long reply."})
	assert.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&sink.resets), int32(1))
}

type fakeTranscriber struct {
	mu         sync.Mutex
	connectErr error
	audio      [][]byte
	finals     chan string
	closed     bool
}

func (f *fakeTranscriber) Connect() error { return f.connectErr }
func (f *fakeTranscriber) SendPCM16KLE(pcm []byte) error {
	f.mu.Lock()
	f.audio = append(f.audio, pcm)
	f.mu.Unlock()
	return nil
}
func (f *fakeTranscriber) Finalize() <-chan string { return f.finals }
func (f *fakeTranscriber) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func TestStreamSynthesizer_ReplacedUtteranceLeavesSinkAlone(t *testing.T) {
	st := &fakeStreamer{block: true}
	sink := &recordingSink{}
	syn := &StreamSynthesizer{Streamer: st, Sink: sink}
	started := func(n int) func() bool {
		return func() bool {
			st.mu.Lock()
			defer st.mu.Unlock()
			return len(st.chunks) == n
		}
	}

	ctx1, cancel1 := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() { first <- syn.Synthesize(ctx1, Utterance{ID: 1, Text: "First."}) }()
	require.Eventually(t, started(1), time.Second, 5*time.Millisecond)

	ctx2, cancel2 := context.WithCancel(context.Background())
	second := make(chan error, 1)
	go func() { second <- syn.Synthesize(ctx2, Utterance{ID: 2, Text: "Second."}) }()
	require.Eventually(t, started(2), time.Second, 5*time.Millisecond)

	cancel1()
	assert.ErrorIs(t, <-first, context.Canceled)
	assert.Equal(t, int32(0), atomic.LoadInt32(&sink.resets), "the replaced utterance must not reset the new one's audio")

	cancel2()
	assert.ErrorIs(t, <-second, context.Canceled)
	assert.Equal(t, int32(1), atomic.LoadInt32(&sink.resets))
}

func TestStreamRecognizer_ReturnsFirstUtteranceAndRoutesAudio(t *testing.T) {
	tr := &fakeTranscriber{finals: make(chan string, 1)}
	feed := &AudioFeed{}
	rec := &StreamRecognizer{Dial: func() Transcriber { return tr }, Feed: feed}

	feed.Write([]byte{9}) // nobody listening yet, dropped

	done := make(chan struct{})
	var text string
	var err error
	go func() {
		text, err = rec.Recognize(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool {
		feed.Write([]byte{1, 2})
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return len(tr.audio) > 0
	}, time.Second, 5*time.Millisecond)
	tr.finals <- "turn on the lights"
	<-done

	require.NoError(t, err)
	assert.Equal(t, "turn on the lights", text)
	tr.mu.Lock()
	assert.True(t, tr.closed)
	for _, a := range tr.audio {
		assert.Equal(t, []byte{1, 2}, a)
	}
	tr.mu.Unlock()
}

func TestStreamRecognizer_ConnectFailureIsNetworkCapture(t *testing.T) {
	tr := &fakeTranscriber{connectErr: errors.New("dial failed"), finals: make(chan string)}
	rec := &StreamRecognizer{Dial: func() Transcriber { return tr }, Feed: &AudioFeed{}}

	_, err := rec.Recognize(context.Background())
	var ce *CaptureError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ReasonNetwork, ce.Reason)
	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.True(t, tr.closed, "a failed connect still closes the transcriber")
}

func TestStreamRecognizer_Cancel(t *testing.T) {
	tr := &fakeTranscriber{finals: make(chan string)}
	rec := &StreamRecognizer{Dial: func() Transcriber { return tr }, Feed: &AudioFeed{}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := rec.Recognize(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
