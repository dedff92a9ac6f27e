package docent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// CallManager validates and executes function calls against a Registry. It
// owns execution policy: per-call timeout, panic recovery, observation hooks,
// and graceful shutdown. The registry stays a pure dispatch table.
type CallManager struct {
	registry *Registry
	opts     callManagerOptions
	mu       sync.Mutex
	done     chan struct{}
	running  sync.WaitGroup
}

// NewCallManager creates a CallManager over registry.
func NewCallManager(registry *Registry, opts ...CallManagerOption) *CallManager {
	o := callManagerOptions{
		timeout:       5 * time.Second,
		recoverPanics: true,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &CallManager{
		registry: registry,
		opts:     o,
		done:     make(chan struct{}),
	}
}

// Execute runs one function call: look up the definition, parse and validate
// the serialized arguments, invoke the handler, and classify the outcome.
// Lookup misses, malformed JSON, schema violations, and handler errors all
// come back as CallResult with Success=false; nothing propagates except via
// the returned result. A handler panic becomes a SystemError when panic
// recovery is enabled.
func (m *CallManager) Execute(ctx context.Context, call FunctionCall) CallResult {
	return m.execute(ctx, "", call)
}

// Registry returns the dispatch table this manager executes against.
func (m *CallManager) Registry() *Registry { return m.registry }

func (m *CallManager) execute(ctx context.Context, callID string, call FunctionCall) (result CallResult) {
	m.mu.Lock()
	select {
	case <-m.done:
		m.mu.Unlock()
		return CallResult{Err: ErrShutdown}
	default:
	}
	fn, ok := m.registry.Get(call.Name)
	m.running.Add(1)
	m.mu.Unlock()
	defer m.running.Done()

	if !ok {
		return CallResult{Err: &ClientError{
			Reason: fmt.Sprintf("function %q not found", call.Name),
			Err:    ErrFunctionNotFound,
		}}
	}

	timeout := m.opts.timeout
	if fm, ok := fn.(FunctionMetadata); ok && fm.Timeout() > 0 {
		timeout = fm.Timeout()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	summary := ExecutionSummary{ToolCallID: callID, FunctionName: call.Name}
	start := time.Now()
	// The after hook always runs with the final summary; the recover defer is
	// registered after it so it runs first on panic and sets summary.Err
	// before the hook observes it.
	defer func() {
		dur := time.Since(start)
		if m.opts.onAfter != nil {
			m.opts.onAfter(ctx, call, summary, dur)
		}
	}()
	if m.opts.recoverPanics {
		defer func() {
			if p := recover(); p != nil {
				summary.Err = &SystemError{Err: &panicError{p: p}}
				result = CallResult{Err: summary.Err}
			}
		}()
	}

	if m.opts.onBefore != nil {
		m.opts.onBefore(ctx, call)
	}

	res, err := fn.Call(ctx, call.Arguments)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		summary.Err = err
		m.opts.logger.Error("function call failed", "function", call.Name, "error", err)
		return CallResult{Err: err}
	}
	summary.ResultBytes = resultSize(res)
	return CallResult{Success: true, Result: res}
}

// ExecuteToolCalls executes each call independently and sequentially,
// preserving input order in the output. One failing call never aborts the
// batch: its error is captured in the corresponding result. Tool calls whose
// type is not "function" fail with ErrUnsupportedToolType.
func (m *CallManager) ExecuteToolCalls(ctx context.Context, calls []ToolCall) []ToolCallResult {
	if len(calls) == 0 {
		return nil
	}
	results := make([]ToolCallResult, 0, len(calls))
	for _, call := range calls {
		tcr := ToolCallResult{ToolCallID: call.ID, FunctionName: call.Function.Name}
		if call.Type != "" && call.Type != ToolTypeFunction {
			tcr.Result = CallResult{Err: &ClientError{
				Reason: fmt.Sprintf("tool type %q not supported", call.Type),
				Err:    ErrUnsupportedToolType,
			}}
		} else {
			tcr.Result = m.execute(ctx, call.ID, call.Function)
		}
		results = append(results, tcr)
	}
	return results
}

// Shutdown closes the manager for new calls and waits for in-flight
// executions or ctx to cancel.
func (m *CallManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	select {
	case <-m.done:
		m.mu.Unlock()
		return nil
	default:
		close(m.done)
	}
	m.mu.Unlock()
	done := make(chan struct{})
	go func() {
		m.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func resultSize(res any) int64 {
	switch v := res.(type) {
	case string:
		return int64(len(v))
	case []byte:
		return int64(len(v))
	default:
		return 0
	}
}
