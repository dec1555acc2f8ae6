// Package ollama runs keypoint queries against a local Ollama server.
package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// DefaultTimeout bounds a query when the caller's context has no deadline.
// Vision models on CPU are slow.
const DefaultTimeout = 300 * time.Second

// jsonFormat asks Ollama to constrain the reply to a JSON value
var jsonFormat = json.RawMessage(`"json"`)

// Client wraps the Ollama API client
type Client struct {
	client    *api.Client
	keepAlive *api.Duration
}

// NewClient creates a new Ollama client
func NewClient(ollamaURL string) (*Client, error) {
	return NewClientWithHTTP(ollamaURL, http.DefaultClient)
}

// NewClientWithHTTP creates a client using hc for transport
func NewClientWithHTTP(ollamaURL string, hc *http.Client) (*Client, error) {
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL: %q", ollamaURL)
	}

	// Drop any path such as /api/chat
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	return &Client{
		client: api.NewClient(baseURL, hc),
		// keep the model warm between detection ticks of a session
		keepAlive: &api.Duration{Duration: 10 * time.Minute},
	}, nil
}

// SimpleQuery sends the prompt and image and returns the reply text. With an
// image the reply is constrained to JSON.
func (c *Client) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	msg := api.Message{Role: "user", Content: prompt}
	streamFalse := false
	req := &api.ChatRequest{
		Model:     model,
		Stream:    &streamFalse,
		KeepAlive: c.keepAlive,
		Options:   modelOptions(model),
	}

	if imgB64 != "" {
		imgBytes, err := base64.StdEncoding.DecodeString(imgB64)
		if err != nil {
			return "", fmt.Errorf("failed to decode base64 image: %w", err)
		}
		msg.Images = []api.ImageData{api.ImageData(imgBytes)}
		req.Format = jsonFormat
	}
	req.Messages = []api.Message{msg}

	var reply strings.Builder
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		reply.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat error: %w", err)
	}
	if strings.TrimSpace(reply.String()) == "" {
		return "", fmt.Errorf("empty response from ollama")
	}

	return reply.String(), nil
}

// Health checks that the server answers
func (c *Client) Health(ctx context.Context) error {
	if err := c.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("ollama server unreachable: %w", err)
	}
	return nil
}

// HasModel reports whether model has been pulled. A tag-less name matches
// any tag.
func (c *Client) HasModel(ctx context.Context, model string) (bool, error) {
	list, err := c.client.List(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list ollama models: %w", err)
	}

	for _, m := range list.Models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		if name == model {
			return true, nil
		}
		if !strings.Contains(model, ":") && strings.HasPrefix(name, model+":") {
			return true, nil
		}
	}
	return false, nil
}

// modelOptions keeps keypoint output deterministic; MiniCPM-V 4.x needs a
// larger context for the image tokens
func modelOptions(model string) map[string]any {
	options := map[string]any{
		"temperature": 0.0,
	}

	modelLower := strings.ToLower(model)
	if strings.Contains(modelLower, "minicpm-v4") ||
		strings.Contains(modelLower, "minicpm-v-4") ||
		strings.Contains(modelLower, "minicpmv4") {
		options["top_p"] = 0.8
		options["num_ctx"] = 4096
	}
	return options
}
