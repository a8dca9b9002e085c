package providers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const MockClientName = "mock"

// MockClient is an LLMClient for testing.
//
// Replies are chosen by matching the prompt text: the first key of Errors,
// then of Replies (in sorted key order) contained in the last message wins.
// Otherwise ResponseText is returned.
type MockClient struct {
	// Configurable behavior
	Latency      time.Duration
	ShouldFail   bool
	FailAfter    int // Fail after N requests (0 = never)
	ResponseText string
	Replies      map[string]string
	Errors       map[string]error

	// Reply, when set, overrides all scripted behavior.
	Reply func(req *ChatRequest) (string, error)

	// State
	requestCount atomic.Int64
	inFlight     atomic.Int64
	maxInFlight  atomic.Int64

	mu       sync.Mutex
	requests []ChatRequest
}

// NewMockClient creates a new mock client with sensible defaults.
func NewMockClient() *MockClient {
	return &MockClient{
		Latency:      time.Millisecond,
		ResponseText: "mock response",
	}
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	return MockClientName
}

// Chat sends a mock chat request.
func (c *MockClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()
	count := c.requestCount.Add(1)

	cur := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		peak := c.maxInFlight.Load()
		if cur <= peak || c.maxInFlight.CompareAndSwap(peak, cur) {
			break
		}
	}

	c.mu.Lock()
	c.requests = append(c.requests, *req)
	c.mu.Unlock()

	if c.ShouldFail {
		return nil, fmt.Errorf("mock client configured to fail")
	}
	if c.FailAfter > 0 && int(count) > c.FailAfter {
		return nil, fmt.Errorf("mock client failed after %d requests", c.FailAfter)
	}

	// Simulate latency
	if c.Latency > 0 {
		timer := time.NewTimer(c.Latency)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	text, err := c.reply(req)
	if err != nil {
		return nil, err
	}

	promptTokens := 0
	for _, m := range req.Messages {
		promptTokens += len(m.Content) / 4 // Rough estimate
	}
	completionTokens := len(text) / 4

	return &ChatResult{
		Content:          text,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		ExecutionTime:    time.Since(start),
		Provider:         MockClientName,
		ModelUsed:        req.Model,
		RequestID:        req.RequestID,
	}, nil
}

func (c *MockClient) reply(req *ChatRequest) (string, error) {
	if c.Reply != nil {
		return c.Reply(req)
	}

	prompt := ""
	if n := len(req.Messages); n > 0 {
		prompt = req.Messages[n-1].Content
	}

	for _, key := range sortedKeys(c.Errors) {
		if strings.Contains(prompt, key) {
			return "", c.Errors[key]
		}
	}
	for _, key := range sortedKeys(c.Replies) {
		if strings.Contains(prompt, key) {
			return c.Replies[key], nil
		}
	}
	return c.ResponseText, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RequestCount returns the number of requests made.
func (c *MockClient) RequestCount() int64 {
	return c.requestCount.Load()
}

// MaxConcurrent returns the highest number of overlapping Chat calls seen.
func (c *MockClient) MaxConcurrent() int64 {
	return c.maxInFlight.Load()
}

// Requests returns a copy of every request received, in arrival order.
func (c *MockClient) Requests() []ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ChatRequest(nil), c.requests...)
}

// Reset resets the request counter and history.
func (c *MockClient) Reset() {
	c.requestCount.Store(0)
	c.maxInFlight.Store(0)
	c.mu.Lock()
	c.requests = nil
	c.mu.Unlock()
}

// Verify interface
var _ LLMClient = (*MockClient)(nil)
