package docent

import (
	"context"
	"encoding/json"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolTypeFunction is the only tool-call type the call manager executes.
const ToolTypeFunction = "function"

// Message is a single conversation turn. A conversation is an ordered slice of
// Messages; ordering is chronological and must survive optimization except for
// explicit truncation or summarization.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Timestamp  time.Time  `json:"timestamp,omitzero"`
}

// FunctionDefinition describes a registered function to the model. Parameters
// is a JSON Schema object ({type: "object", properties: {...}, required: [...]}).
// Definitions are immutable once registered; re-registering a name overwrites
// the prior entry atomically.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// FunctionCall is a single execution request as produced by the model.
// Arguments is the serialized JSON payload.
type FunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolCall wraps a FunctionCall with the provider-assigned ID that must be
// echoed back when reporting results. IDs are unique within one response.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// Function is the contract for a model-callable instrument. It is
// provider-agnostic. Call validates argsJSON against Parameters before
// invoking the underlying handler and returns the handler's result.
type Function interface {
	Name() string
	Description() string
	// Parameters returns a valid JSON Schema as a map, compatible with
	// model tool definitions.
	Parameters() map[string]any
	Call(ctx context.Context, argsJSON []byte) (any, error)
}

// FunctionMetadata is implemented by functions created with NewFunction and
// NewRawFunction. CallManager uses Timeout() to override its default execution
// timeout; Tags and Version are exposed for discovery.
type FunctionMetadata interface {
	Timeout() time.Duration
	Tags() []string
	Version() string
}

// CallResult is the outcome of executing one FunctionCall. Exactly one of
// Result and Err is meaningful: Success implies Err == nil.
type CallResult struct {
	Success bool
	Result  any
	Err     error
}

// ToolCallResult pairs an executed ToolCall with its outcome, preserving the
// provider-assigned ID so the result message can echo it.
type ToolCallResult struct {
	ToolCallID   string
	FunctionName string
	Result       CallResult
}

// Content serializes the result (or the error text) for a role=tool message.
// Error text is sent back to the model so it can explain the failure.
func (r ToolCallResult) Content() string {
	if !r.Result.Success {
		return "Error: " + r.Result.Err.Error()
	}
	b, err := json.Marshal(r.Result.Result)
	if err != nil {
		return "Error: result not serializable"
	}
	return string(b)
}

// ExecutionSummary is passed to the after-execution hook (WithOnAfterExecute)
// when a function execution finishes, success or error.
type ExecutionSummary struct {
	ToolCallID   string
	FunctionName string
	Err          error
	ResultBytes  int64
}
