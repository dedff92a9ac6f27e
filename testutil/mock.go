// Package testutil provides test helpers for docent (MockProvider, MockFunction).
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/docent-ai/docent"
)

// MockProvider is a scripted Provider implementation for tests. Responses are
// returned in order; when the script runs out, the last response repeats. Set
// Err to fail every call instead.
type MockProvider struct {
	Responses []docent.ChatResponse
	Err       error
	NameVal   string

	mu       sync.Mutex
	calls    int
	requests []docent.ChatRequest
}

// Chat returns the next scripted response and records the request.
func (m *MockProvider) Chat(_ context.Context, req docent.ChatRequest) (*docent.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	m.calls++
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return &docent.ChatResponse{}, nil
	}
	idx := m.calls - 1
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	resp := m.Responses[idx]
	return &resp, nil
}

// StreamChat yields the next scripted response's content as a single chunk.
func (m *MockProvider) StreamChat(ctx context.Context, req docent.ChatRequest, yield func(string) error) error {
	resp, err := m.Chat(ctx, req)
	if err != nil {
		return err
	}
	if resp.Content == "" {
		return nil
	}
	return yield(resp.Content)
}

// Name identifies the provider.
func (m *MockProvider) Name() string {
	if m.NameVal != "" {
		return m.NameVal
	}
	return "mock"
}

// Calls returns how many Chat calls were made.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Request returns the i-th recorded request.
func (m *MockProvider) Request(i int) docent.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.requests) {
		panic(fmt.Sprintf("testutil: no recorded request %d (have %d)", i, len(m.requests)))
	}
	return m.requests[i]
}

// MockFunction is a configurable Function implementation for tests.
type MockFunction struct {
	NameVal   string
	DescVal   string
	ParamsVal map[string]any
	CallFn    func(ctx context.Context, argsJSON []byte) (any, error)
}

// Name returns the function name.
func (m *MockFunction) Name() string {
	if m.NameVal != "" {
		return m.NameVal
	}
	return "mock"
}

// Description returns the function description.
func (m *MockFunction) Description() string { return m.DescVal }

// Parameters returns the declared schema (or an empty map).
func (m *MockFunction) Parameters() map[string]any {
	if m.ParamsVal != nil {
		return m.ParamsVal
	}
	return map[string]any{}
}

// Call runs CallFn if set, otherwise returns nil.
func (m *MockFunction) Call(ctx context.Context, argsJSON []byte) (any, error) {
	if m.CallFn != nil {
		return m.CallFn(ctx, argsJSON)
	}
	return nil, nil
}

var (
	_ docent.Provider = (*MockProvider)(nil)
	_ docent.Function = (*MockFunction)(nil)
)
