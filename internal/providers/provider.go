package providers

import (
	"context"
	"time"
)

// Generator is a content generation backend.
type Generator interface {
	// Generate submits one request. Errors are classifiable with Classify.
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error)

	// Name returns the provider identifier (e.g., "gemini").
	Name() string
}

// Part is one ordered piece of request content: text, or binary data with
// a MIME type.
type Part struct {
	Text     string
	MIMEType string
	Data     []byte
}

// TextPart returns a text part.
func TextPart(s string) Part {
	return Part{Text: s}
}

// BlobPart returns a binary part.
func BlobPart(mimeType string, data []byte) Part {
	return Part{MIMEType: mimeType, Data: data}
}

// IsBlob reports whether the part carries binary data.
func (p Part) IsBlob() bool {
	return len(p.Data) > 0
}

// GenerateRequest is a request to a generator.
type GenerateRequest struct {
	// Model is the backend model identifier.
	Model string

	// Parts are sent in order.
	Parts []Part

	// Schema, when set, requests structured JSON output matching it.
	Schema map[string]any

	// Generation parameters
	MaxTokens   int
	Temperature float64

	// Request tracking
	RequestID string
}

// GenerateResult is the response of a generator.
type GenerateResult struct {
	// Text output (structured JSON when a schema was requested)
	Text string `json:"text,omitempty"`

	// Binary output, e.g. a generated image
	Data     []byte `json:"-"`
	MIMEType string `json:"mime_type,omitempty"`

	// Truncated is set when the backend stopped at its token limit.
	Truncated bool `json:"truncated,omitempty"`

	// Token counts
	PromptTokens int `json:"prompt_tokens"`
	OutputTokens int `json:"output_tokens"`

	// Provider info
	Provider  string `json:"provider"`
	ModelUsed string `json:"model_used"`
	RequestID string `json:"request_id,omitempty"`

	ExecutionTime time.Duration `json:"execution_time"`
}
