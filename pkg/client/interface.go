// Package client defines the vision model backend used for pose detection.
package client

import (
	"context"
)

// VisionClient sends one prompt with one base64-encoded image to a vision
// model and returns the raw text reply
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
}

// Backend names accepted by the configuration
const (
	BackendOllama   = "ollama"
	BackendLlamaCpp = "llamacpp"
	BackendGemini   = "gemini"
)
