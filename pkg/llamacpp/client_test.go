package llamacpp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSimpleQuery(t *testing.T) {
	var got Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != chatPath {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(Response{
			Choices: []Choice{{Message: Message{Role: "assistant", Content: `{"keypoints": []}`}, FinishReason: "stop"}},
		})
	}))
	defer server.Close()

	c, err := NewClient(server.URL + "/")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	reply, err := c.SimpleQuery(context.Background(), "qwen2-vl", "find keypoints", "aGVsbG8=")
	if err != nil {
		t.Fatalf("SimpleQuery failed: %v", err)
	}
	if reply != `{"keypoints": []}` {
		t.Errorf("Unexpected reply %q", reply)
	}
	if got.Model != "qwen2-vl" || len(got.Messages) != 1 {
		t.Errorf("Unexpected request: %+v", got)
	}
	if got.ResponseFormat == nil || got.ResponseFormat.Type != "json_object" {
		t.Errorf("Expected json_object response format, got %+v", got.ResponseFormat)
	}

	parts, ok := got.Messages[0].Content.([]any)
	if !ok || len(parts) != 2 {
		t.Fatalf("Expected text and image parts, got %#v", got.Messages[0].Content)
	}
	image := parts[1].(map[string]any)["image_url"].(map[string]any)
	if !strings.HasPrefix(image["url"].(string), "data:image/jpeg;base64,") {
		t.Errorf("Expected a JPEG data URL, got %v", image["url"])
	}
}

func TestSimpleQueryWithoutJSONMode(t *testing.T) {
	var got Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(Response{Choices: []Choice{{Message: Message{Content: "ok"}}}})
	}))
	defer server.Close()

	c, _ := NewClient(server.URL, WithJSONMode(false))
	if _, err := c.SimpleQuery(context.Background(), "m", "p", "aGVsbG8="); err != nil {
		t.Fatalf("SimpleQuery failed: %v", err)
	}
	if got.ResponseFormat != nil {
		t.Errorf("Expected no response format, got %+v", got.ResponseFormat)
	}
}

func TestSimpleQueryErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"server error", http.StatusServiceUnavailable, `{"error":{"code":503,"message":"Loading model"}}`, "Loading model"},
		{"plain error", http.StatusBadRequest, "bad request", "bad request"},
		{"no choices", http.StatusOK, `{"choices":[]}`, "no choices"},
		{"empty content", http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":""}}]}`, "empty response"},
		{"truncated", http.StatusOK, `{"choices":[{"message":{"content":"{\"keypoints\":["},"finish_reason":"length"}]}`, "truncated"},
		{"invalid json", http.StatusOK, `not json`, "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c, _ := NewClient(server.URL)
			_, err := c.SimpleQuery(context.Background(), "m", "p", "")
			if err == nil {
				t.Fatal("Expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	ready := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != healthPath {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"code":503,"message":"Loading model"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	c, _ := NewClient(server.URL)
	if err := c.Health(context.Background()); err == nil || !strings.Contains(err.Error(), "Loading model") {
		t.Errorf("Expected loading error, got %v", err)
	}
	ready = true
	if err := c.Health(context.Background()); err != nil {
		t.Errorf("Expected healthy server, got %v", err)
	}
}

func TestNewClientRejectsBadScheme(t *testing.T) {
	if _, err := NewClient("localhost:8080"); err == nil {
		t.Error("Expected error for URL without scheme")
	}
	c, err := NewClient("")
	if err != nil || c.baseURL != DefaultURL {
		t.Errorf("Expected default URL, got %v (%v)", c, err)
	}
}

func TestReplyText(t *testing.T) {
	if got := replyText("plain"); got != "plain" {
		t.Errorf("Expected plain, got %q", got)
	}
	parts := []any{
		map[string]any{"type": "text", "text": ""},
		map[string]any{"type": "text", "text": "second"},
	}
	if got := replyText(parts); got != "second" {
		t.Errorf("Expected second, got %q", got)
	}
	if got := replyText(42); got != "" {
		t.Errorf("Expected empty for unknown content, got %q", got)
	}
}
