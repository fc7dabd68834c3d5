package stt

import (
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func TestDetectVoiceActivity_LoudFrameUpdatesLastVoice(t *testing.T) {
	s := NewAssemblyAI("test", Options{}, zerolog.Nop())
	samples := make([]byte, 160*2)
	for i := 0; i < 160; i++ {
		binary.LittleEndian.PutUint16(samples[i*2:(i+1)*2], 3000)
	}
	s.detectVoiceActivity(samples)
	if s.lastVoice.IsZero() {
		t.Fatalf("expected loud frame to register as voice")
	}

	quiet := NewAssemblyAI("test", Options{}, zerolog.Nop())
	quiet.detectVoiceActivity(make([]byte, 160*2))
	if !quiet.lastVoice.IsZero() {
		t.Fatalf("silent frame registered as voice")
	}
}

func TestHelpers_LastWordAndContinuation(t *testing.T) {
	if lastWord("") != "" {
		t.Fatalf("lastWord empty mismatch")
	}
	if lastWord("hi there!") != "there" {
		t.Fatalf("lastWord basic mismatch")
	}
	if !isContinuationLikely("we should and") {
		t.Fatalf("expected continuation likely when last word is 'and'")
	}
	if isContinuationLikely("complete sentence.") {
		t.Fatalf("did not expect continuation likely")
	}
}

func TestConnect_RequiresKey(t *testing.T) {
	s := NewAssemblyAI("", Options{}, zerolog.Nop())
	if err := s.Connect(); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

// fakeStream upgrades the request, checks the handshake and plays turns.
func fakeStream(t *testing.T, turns []string, gotAuth chan<- string) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization") + "|" + r.URL.Query().Get("sample_rate") + "|" + r.URL.Query().Get("encoding")
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Begin","id":"abc","expires_at":0}`))
		for _, turn := range turns {
			_ = conn.WriteJSON(map[string]any{"type": "Turn", "transcript": turn})
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestAssemblyAI_DeliversUtteranceAfterSilence(t *testing.T) {
	gotAuth := make(chan string, 1)
	srv := fakeStream(t, []string{"turn on", "turn on the lights"}, gotAuth)
	defer srv.Close()

	s := NewAssemblyAI("secret", Options{
		URL:          "ws" + strings.TrimPrefix(srv.URL, "http"),
		Silence:      30 * time.Millisecond,
		Continuation: 30 * time.Millisecond,
		Grace:        10 * time.Millisecond,
	}, zerolog.Nop())
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()

	if got := <-gotAuth; got != "secret|16000|pcm_s16le" {
		t.Fatalf("unexpected handshake %q", got)
	}

	select {
	case text, ok := <-s.Finalize():
		if !ok || text != "turn on the lights" {
			t.Fatalf("got %q ok=%v", text, ok)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no utterance finalized")
	}
	if _, ok := <-s.Finalize(); ok {
		t.Fatalf("expected finalize channel to close after one utterance")
	}
}

func TestAssemblyAI_CloseWithoutSpeechClosesFinalize(t *testing.T) {
	gotAuth := make(chan string, 1)
	srv := fakeStream(t, nil, gotAuth)
	defer srv.Close()

	s := NewAssemblyAI("secret", Options{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}, zerolog.Nop())
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := s.SendPCM16KLE(make([]byte, 320)); err != nil {
		t.Fatalf("send: %v", err)
	}
	_ = s.Close()
	_ = s.Close()
	if _, ok := <-s.Finalize(); ok {
		t.Fatalf("expected closed finalize channel")
	}
	if err := s.SendPCM16KLE(make([]byte, 320)); err == nil {
		t.Fatalf("expected error after close")
	}
}

func TestAssemblyAI_CloseWhileStreamingSendsTerminateLast(t *testing.T) {
	texts := make(chan string, 16)
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		defer close(texts)
		for {
			kind, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.TextMessage {
				texts <- string(msg)
			}
		}
	}))
	defer srv.Close()

	s := NewAssemblyAI("secret", Options{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}, zerolog.Nop())
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// mic audio keeps arriving while the capture ends
	stop := make(chan struct{})
	fed := make(chan struct{})
	go func() {
		defer close(fed)
		for {
			select {
			case <-stop:
				return
			default:
				_ = s.SendPCM16KLE(make([]byte, 3200))
			}
		}
	}()
	time.Sleep(20 * time.Millisecond)
	_ = s.Close()
	close(stop)
	<-fed

	select {
	case msg := <-texts:
		if !strings.Contains(msg, `"Terminate"`) {
			t.Fatalf("expected Terminate, got %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no Terminate received")
	}
	if _, ok := <-s.Finalize(); ok {
		t.Fatalf("expected closed finalize channel")
	}
}
