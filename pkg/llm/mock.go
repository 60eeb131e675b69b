package llm

import (
	"context"
	"sync"
)

// MockClient is a scripted Client for tests. Responses are returned in queue
// order; the last one repeats once the queue is drained.
type MockClient struct {
	mu        sync.Mutex
	responses []string
	requests  []CompletionRequest
	err       error
}

// NewMockClient returns a mock that replies with the given responses in order.
func NewMockClient(responses ...string) *MockClient {
	return &MockClient{responses: responses}
}

// SetError makes every subsequent Complete call fail with err.
func (m *MockClient) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Enqueue appends responses to the script.
func (m *MockClient) Enqueue(responses ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, responses...)
}

// Reset replaces the remaining script with the given responses.
func (m *MockClient) Reset(responses ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = responses
}

// Requests returns a copy of all requests seen so far.
func (m *MockClient) Requests() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CompletionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// Complete implements the Client interface.
func (m *MockClient) Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return CompletionResponse{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, in)
	if m.err != nil {
		return CompletionResponse{}, m.err
	}

	var content string
	switch {
	case len(m.responses) == 0:
		content = ""
	case len(m.responses) == 1:
		content = m.responses[0]
	default:
		content = m.responses[0]
		m.responses = m.responses[1:]
	}

	return CompletionResponse{Content: content, StopReason: "end_turn"}, nil
}

func (m *MockClient) ModelName() string {
	return "mock"
}
