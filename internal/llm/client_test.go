package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(srv *httptest.Server) *Client {
	c := NewClient("key", "model")
	c.BaseURL = srv.URL
	c.HTTPClient = srv.Client()
	c.Timeout = time.Second
	return c
}

func TestComplete_NoKeySendsNothing(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	c.APIKey = ""
	_, err := c.Complete(context.Background(), "hi")
	if kind, _ := KindOf(err); kind != KindUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatalf("expected no request without a key")
	}
}

func TestComplete_SendsSingleUserTurn(t *testing.T) {
	var got chatCompletionsRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Hi there!  "}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	reply, err := c.Complete(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if reply != "Hi there!" {
		t.Fatalf("reply = %q", reply)
	}
	if auth != "Bearer key" {
		t.Fatalf("authorization header = %q", auth)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" || got.Messages[0].Content != "Hello" {
		t.Fatalf("expected exactly one user message, got %+v", got.Messages)
	}
	if got.Model != "model" || got.MaxTokens != DefaultMaxTokens || got.Temperature != DefaultTemperature {
		t.Fatalf("unexpected request params: %+v", got)
	}
}

func TestComplete_ClassifiesFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		want    Kind
	}{
		{"unauthorized", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(401)
			_, _ = w.Write([]byte(`{"error":{"message":"Invalid API Key","code":"invalid_api_key"}}`))
		}, KindUnauthorized},
		{"forbidden", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(403) }, KindUnauthorized},
		{"rate_limited", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(429) }, KindRateLimited},
		{"rate_limit_code", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(400)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","code":"rate_limit_exceeded"}}`))
		}, KindRateLimited},
		{"status_non_2xx", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500); _, _ = w.Write([]byte("oops")) }, KindServerError},
		{"bad_request", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(400) }, KindServerError},
		{"bad_json", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("not-json")) }, KindMalformed},
		{"empty_choices", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(200)
			_, _ = w.Write([]byte(`{"choices":[]}`))
		}, KindMalformed},
		{"blank_content", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"   "}}]}`))
		}, KindMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			c := newTestClient(srv)
			_, err := c.Complete(context.Background(), "hi")
			if err == nil {
				t.Fatalf("expected error; got nil")
			}
			kind, ok := KindOf(err)
			if !ok || kind != tc.want {
				t.Fatalf("kind = %v, want %v (err=%v)", kind, tc.want, err)
			}
		})
	}
}

func TestComplete_ServerErrorKeepsProviderDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(503)
		_, _ = w.Write([]byte(`{"error":{"message":"model overloaded"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Complete(context.Background(), "hi")
	var le *Error
	if !errors.As(err, &le) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if le.Status != 503 || le.Detail != "model overloaded" {
		t.Fatalf("unexpected error fields: %+v", le)
	}
}

func TestComplete_TimeoutIsNetwork(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(srv)
	c.Timeout = 50 * time.Millisecond
	start := time.Now()
	_, err := c.Complete(context.Background(), "hi")
	if kind, _ := KindOf(err); kind != KindNetwork {
		t.Fatalf("expected network kind on timeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout not enforced")
	}
}

func TestComplete_TransportFailureIsNetwork(t *testing.T) {
	c := NewClient("key", "model")
	c.HTTPClient = &http.Client{Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("dial tcp: connection refused")
	})}
	_, err := c.Complete(context.Background(), "hi")
	if kind, _ := KindOf(err); kind != KindNetwork {
		t.Fatalf("expected network kind, got %v", err)
	}
}

func TestUserMessage_DistinctPerKind(t *testing.T) {
	seen := map[string]Kind{}
	for _, k := range []Kind{KindUnauthorized, KindRateLimited, KindNetwork, KindServerError, KindMalformed} {
		msg := UserMessage(&Error{Kind: k, Detail: "secret detail"})
		if prev, dup := seen[msg]; dup {
			t.Fatalf("kinds %v and %v share message %q", prev, k, msg)
		}
		seen[msg] = k
	}
	if UserMessage(errors.New("boom")) != MsgNetwork {
		t.Fatalf("unclassified errors should read as connectivity problems")
	}
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
