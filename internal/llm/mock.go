package llm

import (
	"context"
	"sync"
)

// MockGenerator provides canned completions for testing. Responses are
// consumed in order; when exhausted the last one repeats.
type MockGenerator struct {
	mu        sync.Mutex
	responses []string
	calls     []GenerateRequest
	err       error
	healthErr error
}

// NewMockGenerator creates a mock that returns the given responses.
func NewMockGenerator(responses ...string) *MockGenerator {
	return &MockGenerator{responses: responses}
}

// FailWith makes Generate return err.
func (m *MockGenerator) FailWith(err error) *MockGenerator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// UnhealthyWith makes Healthy return err.
func (m *MockGenerator) UnhealthyWith(err error) *MockGenerator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthErr = err
	return m
}

// Generate returns the next canned response.
func (m *MockGenerator) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)
	if m.err != nil {
		return nil, m.err
	}

	content := ""
	if len(m.responses) > 0 {
		idx := len(m.calls) - 1
		if idx >= len(m.responses) {
			idx = len(m.responses) - 1
		}
		content = m.responses[idx]
	}

	return &GenerateResponse{Content: content, FinishReason: "stop"}, nil
}

// Healthy reports the configured health state.
func (m *MockGenerator) Healthy(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthErr
}

// Model returns the mock model name.
func (m *MockGenerator) Model() string {
	return "mock-chat-model"
}

// Calls returns the generation requests seen so far.
func (m *MockGenerator) Calls() []GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]GenerateRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

var _ Generator = (*MockGenerator)(nil)
