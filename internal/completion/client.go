// Package completion talks to an OpenAI-compatible chat completions endpoint.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Minute

// ErrUnavailable wraps every failure to obtain a reply: transport errors,
// timeouts, non-2xx responses and malformed or empty payloads.
var ErrUnavailable = errors.New("completion service unavailable")

// Message is one entry of the history sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config describes the endpoint and the fixed request shape.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	// MaxTokens is sent verbatim; -1 asks the server not to cap the reply.
	MaxTokens int
	Timeout   time.Duration
}

type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

type Client struct {
	endpoint string
	cfg      Config
	http     httpDoer
}

// NewClient builds a Client. A nil doer gets an http.Client with cfg.Timeout.
func NewClient(cfg Config, doer httpDoer) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("completion: base url is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("completion: model is required")
	}

	if doer == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		doer = &http.Client{Timeout: timeout}
	}

	return &Client{
		endpoint: base + "/chat/completions",
		cfg:      cfg,
		http:     doer,
	}, nil
}

// Complete sends history and returns the content of the first choice.
// It never retries and never invents a reply.
func (c *Client) Complete(ctx context.Context, history []Message) (string, error) {
	payload := chatRequest{
		Model:       c.cfg.Model,
		Messages:    history,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Stream:      false,
	}
	if payload.Messages == nil {
		payload.Messages = []Message{}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: create chat request: %v", ErrUnavailable, err)
	}

	request.Header.Set("Content-Type", "application/json")
	if key := strings.TrimSpace(c.cfg.APIKey); key != "" {
		request.Header.Set("Authorization", "Bearer "+key)
	}

	response, err := c.http.Do(request)
	if err != nil {
		return "", fmt.Errorf("%w: call chat api: %v", ErrUnavailable, err)
	}
	defer response.Body.Close()

	respBody, err := io.ReadAll(response.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read chat response: %v", ErrUnavailable, err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return "", buildAPIError(response.StatusCode, respBody)
	}

	var apiResp chatResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("%w: decode chat response: %v", ErrUnavailable, err)
	}

	if apiResp.Error != nil && apiResp.Error.Message != "" {
		return "", fmt.Errorf("%w: %s", ErrUnavailable, apiResp.Error.Message)
	}

	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("%w: chat response contained no choices", ErrUnavailable)
	}

	return apiResp.Choices[0].Message.Content, nil
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
}

type chatChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Error   *apiError    `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code,omitempty"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`
}

type errorEnvelope struct {
	Error *apiError `json:"error,omitempty"`
}

func decodeAPIError(body []byte) *apiError {
	if len(body) == 0 {
		return nil
	}

	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil
	}

	if envelope.Error == nil {
		return nil
	}

	envelope.Error.Message = strings.TrimSpace(envelope.Error.Message)
	return envelope.Error
}

func buildAPIError(statusCode int, body []byte) error {
	if apiErr := decodeAPIError(body); apiErr != nil {
		if apiErr.Code != "" && apiErr.Message != "" {
			return fmt.Errorf("%w: api error (%d, %s): %s", ErrUnavailable, statusCode, apiErr.Code, apiErr.Message)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("%w: api error (%d): %s", ErrUnavailable, statusCode, apiErr.Message)
		}
		if apiErr.Code != "" {
			return fmt.Errorf("%w: api error (%d, %s)", ErrUnavailable, statusCode, apiErr.Code)
		}
	}

	snippet := strings.TrimSpace(string(body))
	if snippet == "" {
		snippet = http.StatusText(statusCode)
	}
	if len(snippet) > 256 {
		snippet = snippet[:256]
	}

	return fmt.Errorf("%w: api error (%d): %s", ErrUnavailable, statusCode, snippet)
}
