package docent

import (
	"context"
	"log/slog"
	"time"
)

// Middleware wraps a Function with cross-cutting behavior (logging, recovery,
// timeout).
type Middleware func(Function) Function

// WithLogging returns a middleware that logs start, end, duration, and errors.
func WithLogging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Function) Function {
		return &loggingFunction{functionBase: functionBase{next: next}, logger: logger}
	}
}

// WithRecovery returns a middleware that recovers panics and returns SystemError.
func WithRecovery() Middleware {
	return func(next Function) Function {
		return &recoveryFunction{functionBase{next: next}}
	}
}

// WithTimeoutMiddleware returns a middleware that enforces a per-function
// timeout. Named with a "Middleware" suffix to avoid collision with the
// FunctionOption WithTimeout. When both the call-manager default timeout and
// this middleware apply, the effective timeout is the minimum of the two.
func WithTimeoutMiddleware(d time.Duration) Middleware {
	return func(next Function) Function {
		return &timeoutFunction{functionBase: functionBase{next: next}, timeout: d}
	}
}

// functionBase delegates Function and FunctionMetadata to the wrapped Function.
type functionBase struct{ next Function }

func (b *functionBase) Name() string               { return b.next.Name() }
func (b *functionBase) Description() string        { return b.next.Description() }
func (b *functionBase) Parameters() map[string]any { return b.next.Parameters() }

func (b *functionBase) Timeout() time.Duration {
	if fm, ok := b.next.(FunctionMetadata); ok {
		return fm.Timeout()
	}
	return 0
}

func (b *functionBase) Tags() []string {
	if fm, ok := b.next.(FunctionMetadata); ok {
		return fm.Tags()
	}
	return nil
}

func (b *functionBase) Version() string {
	if fm, ok := b.next.(FunctionMetadata); ok {
		return fm.Version()
	}
	return ""
}

type loggingFunction struct {
	functionBase
	logger *slog.Logger
}

func (m *loggingFunction) Call(ctx context.Context, args []byte) (any, error) {
	m.logger.Info("function start", "function", m.next.Name())
	start := time.Now()
	res, err := m.next.Call(ctx, args)
	dur := time.Since(start)
	if err != nil {
		m.logger.Error("function error", "function", m.next.Name(), "duration", dur, "error", err)
		return nil, err
	}
	m.logger.Info("function end", "function", m.next.Name(), "duration", dur)
	return res, nil
}

type recoveryFunction struct{ functionBase }

func (r *recoveryFunction) Call(ctx context.Context, args []byte) (res any, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = &SystemError{Err: &panicError{p: p}}
		}
	}()
	return r.next.Call(ctx, args)
}

type timeoutFunction struct {
	functionBase
	timeout time.Duration
}

func (t *timeoutFunction) Timeout() time.Duration {
	if t.timeout > 0 {
		return t.timeout
	}
	return t.functionBase.Timeout()
}

func (t *timeoutFunction) Call(ctx context.Context, args []byte) (any, error) {
	if t.timeout <= 0 {
		return t.next.Call(ctx, args)
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Call(ctx, args)
}
