package docent

import "context"

// ToolChoice controls whether the model may, must, or must not call tools.
type ToolChoice string

const (
	// ToolChoiceAuto lets the model decide (default).
	ToolChoiceAuto ToolChoice = "auto"
	// ToolChoiceNone forbids tool calls for this request.
	ToolChoiceNone ToolChoice = "none"
	// ToolChoiceRequired forces the model to call at least one tool.
	ToolChoiceRequired ToolChoice = "required"
)

// ToolChoiceFunction pins the model to one named function.
func ToolChoiceFunction(name string) ToolChoice { return ToolChoice("function:" + name) }

// ChatRequest is the input to a Provider. Options carries provider-specific
// knobs; keys beginning with "stream" are transport-only and excluded from
// cache canonicalization.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Tools       []FunctionDefinition
	ToolChoice  ToolChoice
	MaxTokens   int
	Temperature float64
	Options     map[string]any
}

// ChatResponse is the output of a Provider call.
type ChatResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// Usage tracks token consumption reported by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates usage across calls within one orchestration round.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Provider is the model port: any backend that accepts a message list plus
// tool schemas and returns content with optional tool-call requests. The core
// depends only on this contract, never on a concrete wire format.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// StreamChat yields incremental content chunks. If yield returns an
	// error the provider must stop producing and return it.
	StreamChat(ctx context.Context, req ChatRequest, yield func(delta string) error) error
	Name() string
}
