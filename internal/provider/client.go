// Package provider implements the HTTP client for the external language-model
// provider. The provider speaks the OpenAI-compatible chat-completions
// protocol; every call is stateless: the backend forwards exactly one user
// message and no prior-turn context.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Completer is the narrow contract the chat service depends on. The concrete
// Client implements it; tests substitute fakes.
type Completer interface {
	// Complete sends a single user message and returns the assistant text.
	// model may be empty, in which case the client's default model is used.
	Complete(ctx context.Context, model, content string) (string, error)
}

// Error is returned for any provider-side failure: transport errors,
// timeouts, non-2xx statuses, and malformed response bodies. The chat service
// maps it to its upstream-failure sentinel.
type Error struct {
	Status int    // HTTP status, 0 for transport errors
	Detail string // provider-supplied message, when available
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("provider: %s", e.Detail)
	}
	return fmt.Sprintf("provider: status %d: %s", e.Status, e.Detail)
}

// Client calls the chat-completions endpoint of an OpenAI-compatible API
// (OpenRouter, LM Studio, and the like).
type Client struct {
	baseURL string
	apiKey  string
	model   string
	httpc   *http.Client

	// Request knobs, fixed per client.
	MaxTokens   int
	Temperature float64
}

// New constructs a Client. timeout bounds every call end-to-end; a turn whose
// provider call exceeds it fails as an upstream error rather than stalling
// unrelated requests.
func New(baseURL, apiKey, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		model:       model,
		httpc:       &http.Client{Timeout: timeout},
		MaxTokens:   1000,
		Temperature: 0.7,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type providerError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete implements Completer.
func (c *Client) Complete(ctx context.Context, model, content string) (string, error) {
	if model == "" {
		model = c.model
	}
	body, err := json.Marshal(completionRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: content}},
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
	})
	if err != nil {
		return "", &Error{Detail: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Detail: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", &Error{Detail: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &Error{Status: resp.StatusCode, Detail: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var pe providerError
		detail := http.StatusText(resp.StatusCode)
		if json.Unmarshal(raw, &pe) == nil && pe.Error.Message != "" {
			detail = pe.Error.Message
		}
		return "", &Error{Status: resp.StatusCode, Detail: detail}
	}

	var out completionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &Error{Status: resp.StatusCode, Detail: "malformed response body"}
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", &Error{Status: resp.StatusCode, Detail: "empty completion"}
	}
	return out.Choices[0].Message.Content, nil
}
