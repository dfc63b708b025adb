package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const openAICompletionBody = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-test",
  "choices": [{
    "index": 0,
    "finish_reason": "stop",
    "message": {"role": "assistant", "content": "{\"pages\":[]}"}
  }],
  "usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
}`

func TestOpenAIClient_Generate(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("request body is not JSON: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, openAICompletionBody)
	}))
	defer srv.Close()

	client := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/"})
	result, err := client.Generate(context.Background(), &GenerateRequest{
		Model: "gpt-test",
		Parts: []Part{TextPart("write pages")},
		Schema: map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "object", "properties": map[string]any{"prompt": map[string]any{"type": "string"}}},
		},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if result.Text != `{"pages":[]}` {
		t.Errorf("Text = %q", result.Text)
	}
	if result.Truncated {
		t.Error("Truncated should be false for finish_reason stop")
	}
	if result.PromptTokens != 12 || result.OutputTokens != 4 {
		t.Errorf("tokens = %d/%d, want 12/4", result.PromptTokens, result.OutputTokens)
	}
	if result.Provider != OpenAIName {
		t.Errorf("Provider = %q", result.Provider)
	}

	if captured["model"] != "gpt-test" {
		t.Errorf("model = %v", captured["model"])
	}
	format, ok := captured["response_format"].(map[string]any)
	if !ok {
		t.Fatalf("response_format missing: %v", captured)
	}
	if format["type"] != "json_schema" {
		t.Errorf("response_format.type = %v", format["type"])
	}
}

func TestOpenAIClient_Errors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		body       string
		want       ErrorClass
	}{
		{
			name:       "rate limited",
			status:     http.StatusTooManyRequests,
			retryAfter: "2",
			body:       `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`,
			want:       ClassRateLimited,
		},
		{
			name:   "quota",
			status: http.StatusTooManyRequests,
			body:   `{"error":{"message":"You exceeded your current quota","type":"insufficient_quota","code":"insufficient_quota"}}`,
			want:   ClassQuotaExceeded,
		},
		{
			name:   "bad request",
			status: http.StatusBadRequest,
			body:   `{"error":{"message":"Invalid schema","type":"invalid_request_error"}}`,
			want:   ClassOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			client := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/"})
			_, err := client.Generate(context.Background(), &GenerateRequest{Parts: []Part{TextPart("hi")}})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := Classify(err); got != tt.want {
				t.Errorf("Classify() = %v, want %v (err: %v)", got, tt.want, err)
			}
			if tt.retryAfter != "" && RetryAfter(err).Seconds() != 2 {
				t.Errorf("RetryAfter() = %v, want 2s", RetryAfter(err))
			}
		})
	}
}

func TestOpenAIClient_EmptyRequest(t *testing.T) {
	client := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: "http://127.0.0.1:1/"})
	if _, err := client.Generate(context.Background(), &GenerateRequest{}); err == nil {
		t.Error("expected error for request without parts")
	}
}
