package docent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProvider returns canned responses in order; the last one repeats.
type scriptedProvider struct {
	responses []ChatResponse
	err       error

	mu       sync.Mutex
	count    int
	requests []ChatRequest
}

func (p *scriptedProvider) Chat(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	p.count++
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return &ChatResponse{}, nil
	}
	idx := p.count - 1
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	resp := p.responses[idx]
	return &resp, nil
}

func (p *scriptedProvider) StreamChat(ctx context.Context, req ChatRequest, yield func(string) error) error {
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return err
	}
	return yield(resp.Content)
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

func (p *scriptedProvider) request(i int) ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

func newOrchestrator(t *testing.T, provider Provider, opts ...OrchestratorOption) *Orchestrator {
	t.Helper()
	reg := NewRegistry()
	reg.Register(newAddFunction(t))
	calls := NewCallManager(reg, WithDefaultTimeout(time.Second))
	return NewOrchestrator(provider, calls, opts...)
}

func TestOrchestrator_NoToolCalls_ShortCircuit(t *testing.T) {
	provider := &scriptedProvider{
		responses: []ChatResponse{{Content: "plain answer", Usage: Usage{TotalTokens: 10}}},
	}
	o := newOrchestrator(t, provider)

	res, err := o.Run(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain answer", res.Content)
	assert.Nil(t, res.ToolExecutionResults)
	assert.False(t, res.FromCache)
	assert.Equal(t, 1, provider.calls(), "no follow-up call expected")
	assert.Equal(t, 10, res.Usage.TotalTokens)
}

func TestOrchestrator_ToolRound(t *testing.T) {
	provider := &scriptedProvider{
		responses: []ChatResponse{
			{ToolCalls: []ToolCall{{
				ID:       "call-1",
				Type:     ToolTypeFunction,
				Function: FunctionCall{Name: "add", Arguments: raw(`{"a": 2, "b": 3}`)},
			}}},
			{Content: "the sum is 5"},
		},
	}
	o := newOrchestrator(t, provider)

	res, err := o.Run(context.Background(), "what is 2+3?", nil)
	require.NoError(t, err)
	assert.Equal(t, "the sum is 5", res.Content)
	require.Len(t, res.ToolExecutionResults, 1)
	assert.Equal(t, "call-1", res.ToolExecutionResults[0].ToolCallID)
	assert.True(t, res.ToolExecutionResults[0].Result.Success)
	require.Equal(t, 2, provider.calls())

	// Initial request offers tools; the follow-up must not.
	initial := provider.request(0)
	require.NotEmpty(t, initial.Tools)
	assert.Equal(t, ToolChoiceAuto, initial.ToolChoice)

	followup := provider.request(1)
	assert.Empty(t, followup.Tools, "tools must be stripped from the follow-up")
	assert.Empty(t, followup.ToolChoice)

	// The conversation sent on follow-up carries the assistant tool-call
	// message and a role=tool result echoing the call id.
	last := followup.Messages[len(followup.Messages)-1]
	assert.Equal(t, RoleTool, last.Role)
	assert.Equal(t, "call-1", last.ToolCallID)
	assert.JSONEq(t, `{"sum": 5}`, last.Content)
	assistant := followup.Messages[len(followup.Messages)-2]
	assert.Equal(t, RoleAssistant, assistant.Role)
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "call-1", assistant.ToolCalls[0].ID)
}

func TestOrchestrator_ToolFailureFoldedIntoConversation(t *testing.T) {
	provider := &scriptedProvider{
		responses: []ChatResponse{
			{ToolCalls: []ToolCall{{
				ID:       "call-1",
				Type:     ToolTypeFunction,
				Function: FunctionCall{Name: "nonexistent", Arguments: raw(`{}`)},
			}}},
			{Content: "that tool is unavailable"},
		},
	}
	o := newOrchestrator(t, provider)

	res, err := o.Run(context.Background(), "do the thing", nil)
	require.NoError(t, err, "a tool failure must not fail the round")
	assert.Equal(t, "that tool is unavailable", res.Content)
	require.Len(t, res.ToolExecutionResults, 1)
	assert.False(t, res.ToolExecutionResults[0].Result.Success)

	followup := provider.request(1)
	last := followup.Messages[len(followup.Messages)-1]
	assert.Equal(t, RoleTool, last.Role)
	assert.Contains(t, last.Content, "Error:")
}

func TestOrchestrator_ProviderFailureIsFatal(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("connection refused")}
	o := newOrchestrator(t, provider)

	_, err := o.Run(context.Background(), "hello", nil)
	require.Error(t, err)
	var se *ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "initial", se.Stage)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestOrchestrator_FollowupFailureIsFatal(t *testing.T) {
	provider := &followupFailingProvider{}
	o := newOrchestrator(t, provider)

	_, err := o.Run(context.Background(), "hello", nil)
	require.Error(t, err)
	var se *ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "followup", se.Stage)
}

type followupFailingProvider struct{ count int }

func (p *followupFailingProvider) Chat(_ context.Context, _ ChatRequest) (*ChatResponse, error) {
	p.count++
	if p.count == 1 {
		return &ChatResponse{ToolCalls: []ToolCall{{
			ID:       "c1",
			Type:     ToolTypeFunction,
			Function: FunctionCall{Name: "add", Arguments: raw(`{"a": 1, "b": 1}`)},
		}}}, nil
	}
	return nil, errors.New("followup down")
}

func (p *followupFailingProvider) StreamChat(context.Context, ChatRequest, func(string) error) error {
	return errors.New("followup down")
}

func (p *followupFailingProvider) Name() string { return "failing" }

func TestOrchestrator_CacheHitSkipsProvider(t *testing.T) {
	provider := &scriptedProvider{
		responses: []ChatResponse{{Content: "cached answer"}},
	}
	o := newOrchestrator(t, provider, WithResponseCache(NewCache(WithTTL(time.Minute))))

	first, err := o.Run(context.Background(), "same prompt", nil)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := o.Run(context.Background(), "same prompt", nil)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, "cached answer", second.Content)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, 1, provider.calls(), "cache hit must not invoke the provider")
}

func TestOrchestrator_WithoutCacheBypasses(t *testing.T) {
	provider := &scriptedProvider{
		responses: []ChatResponse{{Content: "answer"}},
	}
	o := newOrchestrator(t, provider, WithResponseCache(NewCache()))

	_, err := o.Run(context.Background(), "p", nil)
	require.NoError(t, err)
	res, err := o.Run(context.Background(), "p", nil, WithoutCache())
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, 2, provider.calls())
}

func TestOrchestrator_ToolChoicePropagated(t *testing.T) {
	provider := &scriptedProvider{
		responses: []ChatResponse{{Content: "ok"}},
	}
	o := newOrchestrator(t, provider)

	_, err := o.Run(context.Background(), "p", nil, WithToolChoice(ToolChoiceFunction("add")))
	require.NoError(t, err)
	assert.Equal(t, ToolChoice("function:add"), provider.request(0).ToolChoice)
}

func TestOrchestrator_SystemPromptAndHistory(t *testing.T) {
	provider := &scriptedProvider{
		responses: []ChatResponse{{Content: "ok"}},
	}
	o := newOrchestrator(t, provider, WithSystemPrompt("You are a documentation assistant."))

	history := []Message{
		{Role: RoleUser, Content: "earlier question"},
		{Role: RoleAssistant, Content: "earlier answer"},
	}
	_, err := o.Run(context.Background(), "new question", history)
	require.NoError(t, err)

	req := provider.request(0)
	require.Len(t, req.Messages, 4)
	assert.Equal(t, RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "earlier question", req.Messages[1].Content)
	assert.Equal(t, "earlier answer", req.Messages[2].Content)
	assert.Equal(t, RoleUser, req.Messages[3].Role)
	assert.Equal(t, "new question", req.Messages[3].Content)
}

func TestOrchestrator_HistoryOptimized(t *testing.T) {
	provider := &scriptedProvider{
		responses: []ChatResponse{{Content: "ok"}},
	}
	opt := NewOptimizer()
	history := messageFixture(50)
	budget := opt.EstimateTokens(history) / 4
	o := newOrchestrator(t, provider, WithOptimizer(opt, budget, 2))

	res, err := o.Run(context.Background(), "q", history)
	require.NoError(t, err)
	assert.True(t, res.Optimization.WasOptimized)
	assert.Equal(t, MethodTruncation, res.Optimization.Method)
	req := provider.request(0)
	// system-less: optimized history + user prompt
	assert.Less(t, len(req.Messages), len(history)+1)
}

func TestOrchestrator_BackfillsMissingCallIDs(t *testing.T) {
	provider := &scriptedProvider{
		responses: []ChatResponse{
			{ToolCalls: []ToolCall{{
				Function: FunctionCall{Name: "add", Arguments: raw(`{"a": 1, "b": 2}`)},
			}}},
			{Content: "done"},
		},
	}
	o := newOrchestrator(t, provider)

	res, err := o.Run(context.Background(), "q", nil)
	require.NoError(t, err)
	require.Len(t, res.ToolCalls, 1)
	assert.NotEmpty(t, res.ToolCalls[0].ID)
	assert.Equal(t, ToolTypeFunction, res.ToolCalls[0].Type)
	assert.Equal(t, res.ToolCalls[0].ID, res.ToolExecutionResults[0].ToolCallID)
}

func TestOrchestrator_RunStream_DeliversAllContent(t *testing.T) {
	provider := &scriptedProvider{
		responses: []ChatResponse{{Content: strings.Repeat("streamed content. ", 20)}},
	}
	o := newOrchestrator(t, provider, WithStreamDelivery(7, 0))

	var got strings.Builder
	res, err := o.RunStream(context.Background(), "q", nil, func(chunk string) error {
		got.WriteString(chunk)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, res.Content, got.String())
}

func TestOrchestrator_RunStream_YieldErrorAborts(t *testing.T) {
	provider := &scriptedProvider{
		responses: []ChatResponse{{Content: strings.Repeat("x", 1000)}},
	}
	o := newOrchestrator(t, provider, WithStreamDelivery(10, 0))

	var chunks int
	_, err := o.RunStream(context.Background(), "q", nil, func(string) error {
		chunks++
		if chunks >= 3 {
			return errors.New("consumer gone")
		}
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStreamAborted)
	assert.Equal(t, 3, chunks)
}
