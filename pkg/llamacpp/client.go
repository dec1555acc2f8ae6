// Package llamacpp talks to a llama.cpp server through its OpenAI-compatible
// chat endpoint. Keypoint requests ask for a JSON object reply.
package llamacpp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultURL is the llama.cpp server address used when none is configured
const DefaultURL = "http://localhost:8080"

const (
	chatPath   = "/v1/chat/completions"
	healthPath = "/health"

	defaultTimeout   = 300 * time.Second
	defaultMaxTokens = 2048
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	jsonMode   bool
}

// Message is one chat turn. Content is a string in replies and a list of
// parts in keypoint requests.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// Part is a text or image_url content element
type Part struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// ResponseFormat constrains the reply; llama.cpp maps json_object to a
// JSON grammar
type ResponseFormat struct {
	Type string `json:"type"`
}

// Request is the chat completion body sent to the server
type Request struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Stream         bool            `json:"stream"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// Response is the subset of the chat completion reply the detector reads
type Response struct {
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

type Choice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// apiError is the error body llama.cpp returns on failed requests
type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Option configures a Client
type Option func(*Client)

// WithJSONMode toggles the json_object response format. Some older servers
// reject the field.
func WithJSONMode(enabled bool) Option {
	return func(c *Client) { c.jsonMode = enabled }
}

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(serverURL string, opts ...Option) (*Client, error) {
	if serverURL == "" {
		serverURL = DefaultURL
	}
	if !strings.HasPrefix(serverURL, "http://") && !strings.HasPrefix(serverURL, "https://") {
		return nil, fmt.Errorf("invalid llama.cpp URL %q: scheme must be http or https", serverURL)
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(serverURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		jsonMode:   true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SimpleQuery sends the prompt and a JPEG data URL and returns the reply text
func (c *Client) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}

	parts := []Part{{Type: "text", Text: prompt}}
	if imgB64 != "" {
		parts = append(parts, Part{
			Type:     "image_url",
			ImageURL: &ImageURL{URL: "data:image/jpeg;base64," + imgB64},
		})
	}

	// greedy decoding keeps coordinates reproducible
	req := Request{
		Model:       model,
		Messages:    []Message{{Role: "user", Content: parts}},
		Temperature: 0,
		MaxTokens:   defaultMaxTokens,
	}
	if c.jsonMode && imgB64 != "" {
		req.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}

	var resp Response
	if err := c.post(ctx, chatPath, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in llama.cpp response")
	}

	choice := resp.Choices[0]
	text := replyText(choice.Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty response from llama.cpp server")
	}
	if choice.FinishReason == "length" {
		return "", fmt.Errorf("llama.cpp reply truncated at %d tokens", defaultMaxTokens)
	}
	return text, nil
}

// Health reports whether the server has finished loading its model
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("llama.cpp server unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return fmt.Errorf("llama.cpp server not ready (status %d): %s", resp.StatusCode, errorMessage(body))
	}
	return nil
}

// replyText returns string content, or the first non-empty text part
func replyText(content any) string {
	switch content := content.(type) {
	case string:
		return content
	case []any:
		for _, item := range content {
			part, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := part["text"].(string); ok && text != "" {
				return text
			}
		}
	}
	return ""
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("llama.cpp request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("llama.cpp returned status %d: %s", resp.StatusCode, errorMessage(data))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// errorMessage extracts error.message from an error body, falling back to
// the raw text
func errorMessage(body []byte) string {
	var e apiError
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return strings.TrimSpace(string(body))
}
