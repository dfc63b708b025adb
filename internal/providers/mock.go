package providers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const MockClientName = "mock"

// MockClient is a Generator for tests and dry runs.
type MockClient struct {
	// Configurable behavior
	Latency      time.Duration
	ShouldFail   bool
	FailAfter    int // Fail after N requests (0 = never)
	ResponseText string
	ResponseData []byte
	ResponseMIME string

	// FailFunc, when set, is consulted before every request with the
	// 1-based request count. A non-nil return fails the request.
	FailFunc func(req *GenerateRequest, n int64) error

	// RespondFunc, when set, produces the response text per request.
	RespondFunc func(req *GenerateRequest) string

	// State
	requestCount atomic.Int64
	inFlight     atomic.Int64
	maxInFlight  atomic.Int64

	mu     sync.Mutex
	models []string
}

// NewMockClient creates a new mock client with sensible defaults.
func NewMockClient() *MockClient {
	return &MockClient{
		Latency:      10 * time.Millisecond,
		ResponseText: "mock response",
	}
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	return MockClientName
}

// Generate returns the configured response after Latency.
func (c *MockClient) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	if req == nil {
		return nil, errors.New("request is required")
	}
	start := time.Now()
	count := c.requestCount.Add(1)

	c.mu.Lock()
	c.models = append(c.models, req.Model)
	c.mu.Unlock()

	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		peak := c.maxInFlight.Load()
		if n <= peak || c.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}

	select {
	case <-time.After(c.Latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if c.ShouldFail {
		return nil, fmt.Errorf("mock client configured to fail")
	}
	if c.FailAfter > 0 && int(count) > c.FailAfter {
		return nil, fmt.Errorf("mock client failed after %d requests", c.FailAfter)
	}
	if c.FailFunc != nil {
		if err := c.FailFunc(req, count); err != nil {
			return nil, err
		}
	}

	text := c.ResponseText
	if c.RespondFunc != nil {
		text = c.RespondFunc(req)
	}

	promptTokens := 0
	for _, p := range req.Parts {
		promptTokens += len(p.Text) / 4
	}

	return &GenerateResult{
		Text:          text,
		Data:          c.ResponseData,
		MIMEType:      c.ResponseMIME,
		PromptTokens:  promptTokens,
		OutputTokens:  len(text) / 4,
		Provider:      MockClientName,
		ModelUsed:     req.Model,
		RequestID:     fmt.Sprintf("mock-%d", count),
		ExecutionTime: time.Since(start),
	}, nil
}

// RequestCount returns the number of requests made.
func (c *MockClient) RequestCount() int64 {
	return c.requestCount.Load()
}

// MaxInFlight returns the highest number of concurrent requests observed.
func (c *MockClient) MaxInFlight() int64 {
	return c.maxInFlight.Load()
}

// Models returns the model of every request, in arrival order.
func (c *MockClient) Models() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.models))
	copy(out, c.models)
	return out
}

// Reset clears the request counters.
func (c *MockClient) Reset() {
	c.requestCount.Store(0)
	c.maxInFlight.Store(0)
	c.mu.Lock()
	c.models = nil
	c.mu.Unlock()
}

var _ Generator = (*MockClient)(nil)
