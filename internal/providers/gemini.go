package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	GeminiName         = "gemini"
	geminiDefaultModel = "gemini-2.5-flash"
)

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey       string
	DefaultModel string
	// Endpoint overrides the API endpoint (tests, proxies).
	Endpoint string
}

// GeminiClient implements Generator with the Google generative AI SDK.
// It returns text and inline image data.
type GeminiClient struct {
	apiKey       string
	defaultModel string
	client       *genai.Client
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = geminiDefaultModel
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		apiKey:       cfg.APIKey,
		defaultModel: cfg.DefaultModel,
		client:       client,
	}, nil
}

// Name returns the provider identifier.
func (c *GeminiClient) Name() string {
	return GeminiName
}

// Close releases the underlying connection.
func (c *GeminiClient) Close() error {
	return c.client.Close()
}

// Generate sends the parts to the model. A schema switches the model to
// JSON output constrained by the converted schema.
func (c *GeminiClient) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	start := time.Now()
	if req == nil {
		return nil, errors.New("request is required")
	}

	modelName := req.Model
	if modelName == "" {
		modelName = c.defaultModel
	}
	model := c.client.GenerativeModel(modelName)
	if req.Schema != nil {
		schema, err := toGeminiSchema(req.Schema)
		if err != nil {
			return nil, err
		}
		model.ResponseMIMEType = "application/json"
		model.ResponseSchema = schema
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.Temperature > 0 {
		model.SetTemperature(float32(req.Temperature))
	}

	parts := make([]genai.Part, 0, len(req.Parts))
	for _, p := range req.Parts {
		if p.IsBlob() {
			parts = append(parts, genai.Blob{MIMEType: p.MIMEType, Data: p.Data})
			continue
		}
		if strings.TrimSpace(p.Text) != "" {
			parts = append(parts, genai.Text(p.Text))
		}
	}
	if len(parts) == 0 {
		return nil, errors.New("request has no content")
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, mapGeminiError(err)
	}

	result, err := geminiResult(resp)
	if err != nil {
		return nil, err
	}
	result.ModelUsed = modelName
	result.RequestID = req.RequestID
	result.ExecutionTime = time.Since(start)
	return result, nil
}

// geminiResult flattens the first candidate into a result.
func geminiResult(resp *genai.GenerateContentResponse) (*GenerateResult, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("Gemini returned no candidates")
	}
	cand := resp.Candidates[0]

	result := &GenerateResult{
		Provider:  GeminiName,
		Truncated: cand.FinishReason == genai.FinishReasonMaxTokens,
	}
	var text strings.Builder
	for _, part := range cand.Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			text.WriteString(string(p))
		case genai.Blob:
			if result.Data == nil {
				result.Data = p.Data
				result.MIMEType = p.MIMEType
			}
		}
	}
	result.Text = text.String()
	if resp.UsageMetadata != nil {
		result.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	if result.Text == "" && result.Data == nil {
		return nil, fmt.Errorf("Gemini returned an empty response (finish reason %s)", cand.FinishReason)
	}
	return result, nil
}

// mapGeminiError converts API errors into typed errors. Gemini reports both
// per-minute and per-day limits as 429; only the latter is a quota error.
func mapGeminiError(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}
	var retryAfter time.Duration
	if gerr.Header != nil {
		retryAfter = parseRetryAfter(gerr.Header.Get("Retry-After"))
	}
	msg := strings.ToLower(gerr.Message)
	quota := strings.Contains(msg, "per day") || strings.Contains(msg, "perday")
	return statusError("Gemini", gerr.Code, gerr.Message, retryAfter, quota)
}

var _ Generator = (*GeminiClient)(nil)
