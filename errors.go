package docent

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is to check.
var (
	ErrFunctionNotFound    = errors.New("function not found")
	ErrValidation          = errors.New("invalid arguments")
	ErrArgumentParse       = errors.New("invalid JSON arguments")
	ErrUnsupportedToolType = errors.New("unsupported tool type")
	ErrTimeout             = errors.New("function execution timeout")
	ErrShutdown            = errors.New("registry is shutting down")
	ErrStreamAborted       = errors.New("stream aborted by consumer")
	ErrAggregateOverflow   = errors.New("aggregated stream exceeds maximum length")
)

// ClientError is an error that should be sent back to the model for
// self-correction (invalid JSON, schema violation, unknown function). Do not
// put stack traces or internal details in Reason. Err optionally wraps a
// sentinel (e.g. ErrValidation) for errors.Is/errors.As.
type ClientError struct {
	Reason string
	Err    error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("invalid tool input: %s", e.Reason)
}

// Unwrap supports errors.Is/errors.As on wrapped chains.
func (e *ClientError) Unwrap() error { return e.Err }

// SystemError represents an internal failure (handler panicked, serialization
// broke). The model must not see the underlying message or stack.
type SystemError struct {
	Err error
}

func (e *SystemError) Error() string {
	return "internal system error during function execution"
}

func (e *SystemError) Unwrap() error { return e.Err }

// ExecutionError wraps an error returned by a function handler. Unlike
// SystemError its message is surfaced in the tool-result message, giving the
// model a chance to explain the failure in the final answer.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string {
	return "function execution failed: " + e.Err.Error()
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ServiceError is a fatal provider-call failure. Tool-execution errors are
// folded into the conversation instead; only provider failures (initial or
// follow-up) surface to the caller, wrapped in ServiceError.
type ServiceError struct {
	Stage string // "initial", "followup", "summarize"
	Err   error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("provider call failed (%s): %v", e.Stage, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// IsClientError returns true if err is or wraps a ClientError.
func IsClientError(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce)
}

// IsSystemError returns true if err is or wraps a SystemError.
func IsSystemError(err error) bool {
	var se *SystemError
	return errors.As(err, &se)
}

// wrapArgumentParseError returns a ClientError for JSON unmarshal failures so
// parse errors read the same from every entry point.
func wrapArgumentParseError(err error) error {
	return &ClientError{Reason: "json parse error: " + err.Error(), Err: ErrArgumentParse}
}

// panicError wraps a recovered panic value for SystemError.
type panicError struct{ p any }

func (e *panicError) Error() string {
	return "panic: " + fmt.Sprint(e.p)
}
