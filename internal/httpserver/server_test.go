package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/chadiek/chitti/internal/config"
	"github.com/chadiek/chitti/internal/widget"
)

type echoCompleter struct{}

func (echoCompleter) Complete(_ context.Context, u string) (string, error) { return "you said " + u, nil }

func newTestServer(cfg config.HTTPConfig) *Server {
	h := widget.NewHandler(echoCompleter{}, widget.Options{Output: widget.OutputNone}, zerolog.Nop())
	return New(cfg, h, zerolog.Nop())
}

func TestServer_Healthz(t *testing.T) {
	srv := newTestServer(config.HTTPConfig{})
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Fatalf("expected ok, got %q", w.Body.String())
	}
}

func TestServer_Readyz(t *testing.T) {
	srv := newTestServer(config.HTTPConfig{})
	r := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var st widget.Status
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("invalid readiness body: %v", err)
	}
	if st.Input != widget.InputBrowser || st.Output != widget.OutputNone || st.Sessions != 0 {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestWS_Unauthorized(t *testing.T) {
	srv := newTestServer(config.HTTPConfig{AuthToken: "secret"})
	// No token provided
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	// Wrong token provided
	r2 := httptest.NewRequest(http.MethodGet, "/ws?token=wrong", nil)
	w2 := httptest.NewRecorder()
	srv.Router.ServeHTTP(w2, r2)
	if w2.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w2.Code)
	}
}

func TestWS_NotAnUpgrade(t *testing.T) {
	srv := newTestServer(config.HTTPConfig{})
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestWS_SubmitRoundTrip(t *testing.T) {
	srv := newTestServer(config.HTTPConfig{AuthToken: "secret"})
	ts := httptest.NewServer(srv.Router)
	defer ts.Close()
	defer srv.Widget.Shutdown()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=secret"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "submit", "text": "hi"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var texts []string
	deadline := time.Now().Add(2 * time.Second)
	for len(texts) < 2 {
		_ = conn.SetReadDeadline(deadline)
		var f struct {
			Type    string `json:"type"`
			Message struct {
				Text string `json:"text"`
			} `json:"message"`
		}
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read: %v (got %v)", err, texts)
		}
		if f.Type == "message" {
			texts = append(texts, f.Message.Text)
		}
	}
	if texts[0] != "hi" || texts[1] != "you said hi" {
		t.Fatalf("unexpected messages %v", texts)
	}
}
