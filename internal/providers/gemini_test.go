package providers

import (
	"errors"
	"net/http"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
)

func TestGeminiResult(t *testing.T) {
	t.Run("text and image", func(t *testing.T) {
		resp := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{Parts: []genai.Part{
					genai.Text("caption"),
					genai.Blob{MIMEType: "image/png", Data: []byte{1, 2, 3}},
				}},
				FinishReason: genai.FinishReasonStop,
			}},
			UsageMetadata: &genai.UsageMetadata{PromptTokenCount: 7, CandidatesTokenCount: 3},
		}

		result, err := geminiResult(resp)
		if err != nil {
			t.Fatalf("geminiResult() error = %v", err)
		}
		if result.Text != "caption" {
			t.Errorf("Text = %q", result.Text)
		}
		if result.MIMEType != "image/png" || len(result.Data) != 3 {
			t.Errorf("image = %s/%d bytes", result.MIMEType, len(result.Data))
		}
		if result.PromptTokens != 7 || result.OutputTokens != 3 {
			t.Errorf("tokens = %d/%d", result.PromptTokens, result.OutputTokens)
		}
		if result.Truncated {
			t.Error("Truncated should be false")
		}
	})

	t.Run("max tokens marks truncated", func(t *testing.T) {
		resp := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Content:      &genai.Content{Parts: []genai.Part{genai.Text(`[{"pageNumber":1`)}},
				FinishReason: genai.FinishReasonMaxTokens,
			}},
		}
		result, err := geminiResult(resp)
		if err != nil {
			t.Fatalf("geminiResult() error = %v", err)
		}
		if !result.Truncated {
			t.Error("Truncated should be true")
		}
	})

	t.Run("no candidates", func(t *testing.T) {
		if _, err := geminiResult(&genai.GenerateContentResponse{}); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("empty content", func(t *testing.T) {
		resp := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{Content: &genai.Content{}, FinishReason: genai.FinishReasonSafety}},
		}
		if _, err := geminiResult(resp); err == nil {
			t.Error("expected error for empty response")
		}
	})
}

func TestMapGeminiError(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", "5")

	perMinute := mapGeminiError(&googleapi.Error{
		Code:    http.StatusTooManyRequests,
		Message: "Resource has been exhausted (requests per minute)",
		Header:  header,
	})
	if Classify(perMinute) != ClassRateLimited {
		t.Errorf("per-minute 429 class = %v", Classify(perMinute))
	}
	if RetryAfter(perMinute).Seconds() != 5 {
		t.Errorf("RetryAfter() = %v", RetryAfter(perMinute))
	}

	perDay := mapGeminiError(&googleapi.Error{
		Code:    http.StatusTooManyRequests,
		Message: "Quota exceeded for requests per day",
	})
	if Classify(perDay) != ClassQuotaExceeded {
		t.Errorf("per-day 429 class = %v", Classify(perDay))
	}

	badRequest := mapGeminiError(&googleapi.Error{Code: http.StatusBadRequest, Message: "invalid"})
	if Classify(badRequest) != ClassOther {
		t.Errorf("400 class = %v", Classify(badRequest))
	}

	plain := errors.New("dial tcp: refused")
	if mapGeminiError(plain) != plain {
		t.Error("non-API errors should pass through")
	}
}
