package docent

import (
	"context"
	"log/slog"
	"time"
)

// functionOptions hold optional per-function settings.
type functionOptions struct {
	timeout    time.Duration
	tags       []string
	version    string
	permissive bool
}

// FunctionOption configures a function built by NewFunction or NewRawFunction.
type FunctionOption func(*functionOptions)

// WithTimeout sets a per-function execution timeout, overriding the call
// manager default for this function.
func WithTimeout(d time.Duration) FunctionOption {
	return func(o *functionOptions) {
		o.timeout = d
	}
}

// WithTags sets function tags (metadata for discovery).
func WithTags(tags ...string) FunctionOption {
	return func(o *functionOptions) {
		o.tags = tags
	}
}

// WithVersion sets the function version.
func WithVersion(version string) FunctionOption {
	return func(o *functionOptions) {
		o.version = version
	}
}

// WithPermissiveArguments disables unknown-key rejection for a raw function:
// the declared schema is compiled as-is instead of being closed. Typed
// functions built with NewFunction are always strict.
func WithPermissiveArguments() FunctionOption {
	return func(o *functionOptions) {
		o.permissive = true
	}
}

// CallManagerOption configures a CallManager.
type CallManagerOption func(*callManagerOptions)

type callManagerOptions struct {
	timeout       time.Duration
	recoverPanics bool
	logger        *slog.Logger
	onBefore      func(context.Context, FunctionCall)
	onAfter       func(context.Context, FunctionCall, ExecutionSummary, time.Duration)
}

// WithDefaultTimeout sets the default execution timeout for function calls.
func WithDefaultTimeout(d time.Duration) CallManagerOption {
	return func(o *callManagerOptions) {
		o.timeout = d
	}
}

// WithRecoverPanics enables panic recovery in Execute (returns SystemError).
func WithRecoverPanics(enable bool) CallManagerOption {
	return func(o *callManagerOptions) {
		o.recoverPanics = enable
	}
}

// WithCallLogger sets the structured logger used for call failures.
func WithCallLogger(logger *slog.Logger) CallManagerOption {
	return func(o *callManagerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithOnBeforeExecute sets a hook called before each function execution.
func WithOnBeforeExecute(fn func(context.Context, FunctionCall)) CallManagerOption {
	return func(o *callManagerOptions) {
		o.onBefore = fn
	}
}

// WithOnAfterExecute sets a hook called after each function execution with the
// final ExecutionSummary, success or error.
func WithOnAfterExecute(fn func(context.Context, FunctionCall, ExecutionSummary, time.Duration)) CallManagerOption {
	return func(o *callManagerOptions) {
		o.onAfter = fn
	}
}
