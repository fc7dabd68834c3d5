package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL     = "https://api.groq.com/openai/v1"
	DefaultModel       = "llama-3.1-8b-instant"
	DefaultMaxTokens   = 400
	DefaultTemperature = 0.7
	DefaultTimeout     = 30 * time.Second

	maxResponseBytes = 1 << 20
)

// Client sends single-turn chat completions to an OpenAI-compatible endpoint.
type Client struct {
	HTTPClient  *http.Client
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	// Timeout bounds every call; on expiry the call fails with KindNetwork.
	Timeout time.Duration
	Logger  zerolog.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionsRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      chatMessage `json:"message"`
}

type chatCompletionsResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func NewClient(apiKey, model string) *Client {
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		HTTPClient:  &http.Client{},
		BaseURL:     DefaultBaseURL,
		APIKey:      apiKey,
		Model:       model,
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
		Timeout:     DefaultTimeout,
		Logger:      zerolog.Nop(),
	}
}

// Complete sends utterance as the whole prompt and returns the trimmed reply.
// Every failure is an *Error.
func (c *Client) Complete(ctx context.Context, utterance string) (string, error) {
	reply, err := c.complete(ctx, utterance)
	if err != nil {
		var le *Error
		if errors.As(err, &le) {
			c.Logger.Warn().Str("kind", le.Kind.String()).Int("status", le.Status).Err(err).Msg("completion failed")
		}
		return "", err
	}
	return reply, nil
}

func (c *Client) complete(ctx context.Context, utterance string) (string, error) {
	if c.APIKey == "" {
		return "", &Error{Kind: KindUnauthorized, Detail: "api key missing"}
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqBody, err := json.Marshal(chatCompletionsRequest{
		Model:       c.Model,
		Messages:    []chatMessage{{Role: "user", Content: utterance}},
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
	})
	if err != nil {
		return "", &Error{Kind: KindMalformed, Detail: "encode request", Err: err}
	}
	endpoint := strings.TrimRight(c.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", &Error{Kind: KindNetwork, Detail: "build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", &Error{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", &Error{Kind: KindNetwork, Status: resp.StatusCode, Detail: "read body", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", classifyStatus(resp.StatusCode, body)
	}

	var cr chatCompletionsResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return "", &Error{Kind: KindMalformed, Status: resp.StatusCode, Detail: "decode response", Err: err}
	}
	if len(cr.Choices) == 0 {
		return "", &Error{Kind: KindMalformed, Status: resp.StatusCode, Detail: "empty choices"}
	}
	answer := strings.TrimSpace(cr.Choices[0].Message.Content)
	if answer == "" {
		return "", &Error{Kind: KindMalformed, Status: resp.StatusCode, Detail: "empty content"}
	}
	return answer, nil
}

// classifyStatus maps a non-2xx response onto a Kind, preferring the status
// code and falling back to the provider's error code.
func classifyStatus(status int, body []byte) *Error {
	var eb apiErrorBody
	_ = json.Unmarshal(body, &eb)
	detail := eb.Error.Message
	if detail == "" {
		detail = "unknown error"
	}
	e := &Error{Kind: KindServerError, Status: status, Detail: detail}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		e.Kind = KindUnauthorized
		return e
	case http.StatusTooManyRequests:
		e.Kind = KindRateLimited
		return e
	}
	code := strings.ToLower(eb.Error.Code + " " + eb.Error.Type)
	switch {
	case strings.Contains(code, "invalid_api_key"), strings.Contains(code, "authentication"):
		e.Kind = KindUnauthorized
	case strings.Contains(code, "rate_limit"):
		e.Kind = KindRateLimited
	}
	return e
}
