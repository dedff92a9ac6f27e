package docent

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// function is the internal implementation of Function built by NewFunction or
// NewRawFunction.
type function struct {
	name        string
	description string
	schema      map[string]any
	call        func(context.Context, []byte) (any, error)
	opts        functionOptions
}

// NewFunction builds a Function from a typed handler. Schema generation and
// validation are delegated to Extractor[T]: the schema shown to the model and
// the schema arguments are validated against are the same one. Call runs
// ParseAndValidate, invokes fn, and returns its result. Returns an error if
// schema generation fails (e.g. unsupported type).
func NewFunction[T any, R any](
	name, description string,
	fn func(ctx context.Context, args T) (R, error),
	opts ...FunctionOption,
) (Function, error) {
	var o functionOptions
	for _, opt := range opts {
		opt(&o)
	}
	ext, err := NewExtractor[T]()
	if err != nil {
		return nil, err
	}
	call := func(ctx context.Context, argsJSON []byte) (any, error) {
		args, err := ext.ParseAndValidate(argsJSON)
		if err != nil {
			return nil, err
		}
		res, err := fn(ctx, args)
		if err != nil {
			return nil, wrapHandlerError(err)
		}
		return res, nil
	}
	return &function{
		name:        name,
		description: description,
		schema:      ext.Schema(),
		call:        call,
		opts:        o,
	}, nil
}

// NewRawFunction creates a Function from a raw JSON Schema map and a handler
// that receives validated JSON. This is the registration path for opaque
// callables declared at runtime (the tool implementations themselves live
// outside this package). schemaMap and fn must be non-nil. By default the
// schema is closed before compilation so undeclared keys are rejected; pass
// WithPermissiveArguments to keep the schema as declared. The provided
// schemaMap is never mutated; a deep copy is made first.
func NewRawFunction(
	name, description string,
	schemaMap map[string]any,
	fn func(ctx context.Context, argsJSON []byte) (any, error),
	opts ...FunctionOption,
) (Function, error) {
	var o functionOptions
	for _, opt := range opts {
		opt(&o)
	}
	if schemaMap == nil {
		return nil, fmt.Errorf("raw function schema map must not be nil")
	}
	if fn == nil {
		return nil, fmt.Errorf("raw function handler must not be nil")
	}
	data, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("failed to deep copy schema map: %w", err)
	}
	var schemaCopy map[string]any
	if err := json.Unmarshal(data, &schemaCopy); err != nil {
		return nil, fmt.Errorf("failed to deep copy schema map: %w", err)
	}
	if !o.permissive {
		closeSchema(schemaCopy)
	}
	stripSchemaIDs(schemaCopy)
	compiled, err := compileRawSchema(schemaCopy)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	call := func(ctx context.Context, argsJSON []byte) (any, error) {
		var v any
		if err := json.Unmarshal(argsJSON, &v); err != nil {
			return nil, wrapArgumentParseError(err)
		}
		if err := validateAgainstSchema(compiled, v); err != nil {
			return nil, err
		}
		res, err := fn(ctx, argsJSON)
		if err != nil {
			return nil, wrapHandlerError(err)
		}
		return res, nil
	}
	return &function{
		name:        name,
		description: description,
		schema:      schemaCopy,
		call:        call,
		opts:        o,
	}, nil
}

func (f *function) Name() string        { return f.name }
func (f *function) Description() string { return f.description }

// Parameters returns a shallow copy of the JSON Schema (top-level keys only).
// Nested maps are shared; callers must not mutate them.
func (f *function) Parameters() map[string]any { return maps.Clone(f.schema) }

func (f *function) Call(ctx context.Context, argsJSON []byte) (any, error) {
	return f.call(ctx, argsJSON)
}

func (f *function) Timeout() time.Duration { return f.opts.timeout }
func (f *function) Tags() []string         { return append([]string(nil), f.opts.tags...) }
func (f *function) Version() string        { return f.opts.version }

// Definition exports the model-facing description of fn.
func Definition(fn Function) FunctionDefinition {
	return FunctionDefinition{
		Name:        fn.Name(),
		Description: fn.Description(),
		Parameters:  fn.Parameters(),
	}
}

// wrapHandlerError passes ClientError through and wraps anything else as
// ExecutionError. Handler error messages are surfaced to the model; only
// panics and serialization failures hide behind SystemError.
func wrapHandlerError(err error) error {
	if err == nil {
		return nil
	}
	if IsClientError(err) {
		return err
	}
	return &ExecutionError{Err: err}
}

var (
	_ Function         = (*function)(nil)
	_ FunctionMetadata = (*function)(nil)
)
