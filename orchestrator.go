package docent

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// runState tracks the orchestration round for logging. A round either
// short-circuits from initial to done (no tool calls) or walks the full
// sequence: tools requested → executed → follow-up sent → done.
type runState int

const (
	stateInitial runState = iota
	stateToolsRequested
	stateToolsExecuted
	stateFollowupSent
	stateDone
)

func (s runState) String() string {
	switch s {
	case stateInitial:
		return "initial"
	case stateToolsRequested:
		return "tools_requested"
	case stateToolsExecuted:
		return "tools_executed"
	case stateFollowupSent:
		return "followup_sent"
	case stateDone:
		return "done"
	default:
		return "unknown"
	}
}

// RunResult is the outcome of one orchestration round. When tools ran, the
// original tool calls and their execution results are attached for
// observability; ToolExecutionResults is nil when the model called none.
type RunResult struct {
	RunID                string
	Content              string
	ToolCalls            []ToolCall
	ToolExecutionResults []ToolCallResult
	Usage                Usage
	FromCache            bool
	Optimization         Report
}

// Orchestrator drives the two-phase tool-calling protocol against a Provider.
// It holds its collaborators by reference (call manager, optimizer, cache)
// rather than inheriting their behavior; each is injected at construction and
// shared across rounds. Per-round state lives on the stack, so independent
// rounds may run concurrently.
type Orchestrator struct {
	provider  Provider
	calls     *CallManager
	optimizer *Optimizer
	cache     *Cache
	logger    *slog.Logger
	opts      orchestratorOptions
}

type orchestratorOptions struct {
	model           string
	systemPrompt    string
	maxTokens       int
	temperature     float64
	historyBudget   int
	preserveRecent  int
	streamChunkSize int
	streamRate      float64
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithModel sets the model name passed to the provider.
func WithModel(model string) OrchestratorOption {
	return func(o *Orchestrator) { o.opts.model = model }
}

// WithSystemPrompt prepends a system message to every round.
func WithSystemPrompt(prompt string) OrchestratorOption {
	return func(o *Orchestrator) { o.opts.systemPrompt = prompt }
}

// WithMaxTokens caps the provider completion length.
func WithMaxTokens(n int) OrchestratorOption {
	return func(o *Orchestrator) { o.opts.maxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) OrchestratorOption {
	return func(o *Orchestrator) { o.opts.temperature = t }
}

// WithOptimizer enables history optimization with the given budget: history
// is fitted into maxTokens with the last preserveRecent messages untouched.
func WithOptimizer(opt *Optimizer, maxTokens, preserveRecent int) OrchestratorOption {
	return func(o *Orchestrator) {
		o.optimizer = opt
		o.opts.historyBudget = maxTokens
		o.opts.preserveRecent = preserveRecent
	}
}

// WithResponseCache enables response caching. Pass nil to disable.
func WithResponseCache(cache *Cache) OrchestratorOption {
	return func(o *Orchestrator) { o.cache = cache }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithStreamDelivery tunes RunStream: chunk size in bytes and maximum chunks
// per second (0 disables throttling).
func WithStreamDelivery(chunkSize int, perSecond float64) OrchestratorOption {
	return func(o *Orchestrator) {
		if chunkSize > 0 {
			o.opts.streamChunkSize = chunkSize
		}
		o.opts.streamRate = perSecond
	}
}

// NewOrchestrator creates an Orchestrator over provider and calls. The call
// manager's registry supplies the tool definitions offered to the model.
func NewOrchestrator(provider Provider, calls *CallManager, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		provider: provider,
		calls:    calls,
		logger:   slog.Default(),
		opts: orchestratorOptions{
			temperature:     0.7,
			streamChunkSize: 64,
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// runOptions are per-round overrides.
type runOptions struct {
	toolChoice   ToolChoice
	skipCache    bool
	extraOptions map[string]any
}

// RunOption configures a single orchestration round.
type RunOption func(*runOptions)

// WithToolChoice overrides the tool-choice strategy for this round
// (ToolChoiceAuto, ToolChoiceNone, ToolChoiceRequired, or
// ToolChoiceFunction(name)).
func WithToolChoice(choice ToolChoice) RunOption {
	return func(o *runOptions) { o.toolChoice = choice }
}

// WithoutCache bypasses the response cache for this round, both lookup and store.
func WithoutCache() RunOption {
	return func(o *runOptions) { o.skipCache = true }
}

// WithRequestOptions attaches provider-specific options. They participate in
// cache canonicalization unless stream-prefixed.
func WithRequestOptions(options map[string]any) RunOption {
	return func(o *runOptions) { o.extraOptions = options }
}

// Run executes one orchestration round: optional cache lookup, initial
// provider call with tool schemas, execution of any requested tool calls, and
// a follow-up provider call carrying the tool results. Provider failures are
// fatal and surface as *ServiceError; individual tool failures are folded into
// the conversation so the model can explain them.
func (o *Orchestrator) Run(ctx context.Context, prompt string, history []Message, opts ...RunOption) (*RunResult, error) {
	ro := runOptions{toolChoice: ToolChoiceAuto}
	for _, opt := range opts {
		opt(&ro)
	}
	runID := uuid.NewString()
	logger := o.logger.With("run_id", runID)

	cacheKey := ""
	if o.cache != nil && !ro.skipCache {
		cacheKey = Key(prompt, o.cacheOptions(ro))
		if value, ok := o.cache.Get(cacheKey); ok {
			if cached, ok := value.(*RunResult); ok {
				logger.Info("cache hit", "state", stateDone)
				hit := *cached
				hit.RunID = runID
				hit.FromCache = true
				return &hit, nil
			}
		}
	}

	result := &RunResult{RunID: runID}
	messages := o.buildMessages(prompt, history, result)

	tools := o.calls.Registry().Definitions()
	logger.Debug("state transition", "state", stateInitial, "tools", len(tools))
	initial, err := o.provider.Chat(ctx, ChatRequest{
		Model:       o.opts.model,
		Messages:    messages,
		Tools:       tools,
		ToolChoice:  ro.toolChoice,
		MaxTokens:   o.opts.maxTokens,
		Temperature: o.opts.temperature,
		Options:     ro.extraOptions,
	})
	if err != nil {
		return nil, &ServiceError{Stage: "initial", Err: err}
	}
	result.Usage.Add(initial.Usage)

	if len(initial.ToolCalls) == 0 {
		logger.Debug("state transition", "state", stateDone, "short_circuit", true)
		result.Content = initial.Content
		o.store(cacheKey, result)
		return result, nil
	}

	toolCalls := backfillCallIDs(initial.ToolCalls)
	result.ToolCalls = toolCalls
	logger.Debug("state transition", "state", stateToolsRequested, "calls", len(toolCalls))

	executions := o.calls.ExecuteToolCalls(ctx, toolCalls)
	result.ToolExecutionResults = executions
	logger.Debug("state transition", "state", stateToolsExecuted)

	// Fold the assistant's tool-call message and one tool-result message per
	// executed call into the conversation.
	messages = append(messages, Message{
		Role:      RoleAssistant,
		Content:   initial.Content,
		ToolCalls: toolCalls,
	})
	for _, exec := range executions {
		messages = append(messages, Message{
			Role:       RoleTool,
			Content:    exec.Content(),
			ToolCallID: exec.ToolCallID,
		})
	}
	messages = o.refitFollowup(messages, len(executions), result)

	// Tools and tool choice are stripped here so the follow-up cannot recurse
	// into another tool round.
	logger.Debug("state transition", "state", stateFollowupSent)
	followup, err := o.provider.Chat(ctx, ChatRequest{
		Model:       o.opts.model,
		Messages:    messages,
		MaxTokens:   o.opts.maxTokens,
		Temperature: o.opts.temperature,
		Options:     ro.extraOptions,
	})
	if err != nil {
		return nil, &ServiceError{Stage: "followup", Err: err}
	}
	result.Usage.Add(followup.Usage)
	result.Content = followup.Content

	logger.Debug("state transition", "state", stateDone)
	o.store(cacheKey, result)
	return result, nil
}

// RunStream executes a round and delivers the final content incrementally
// through the streaming pipeline (fixed-size chunks under rate control).
// Cancelling ctx or returning an error from yield stops chunk production
// promptly; a yield error is reported as ErrStreamAborted.
func (o *Orchestrator) RunStream(ctx context.Context, prompt string, history []Message, yield func(chunk string) error, opts ...RunOption) (*RunResult, error) {
	result, err := o.Run(ctx, prompt, history, opts...)
	if err != nil {
		return nil, err
	}
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	chunks := Throttle(streamCtx, ChunkString(streamCtx, result.Content, o.opts.streamChunkSize), o.opts.streamRate)
	for chunk := range chunks {
		if err := yield(chunk); err != nil {
			cancel()
			return nil, ErrStreamAborted
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return result, nil
}

// buildMessages assembles system prompt + optimized history + user prompt.
func (o *Orchestrator) buildMessages(prompt string, history []Message, result *RunResult) []Message {
	if o.optimizer != nil && o.opts.historyBudget > 0 {
		history, result.Optimization = o.optimizer.Optimize(history, o.opts.historyBudget, o.opts.preserveRecent)
	}
	messages := make([]Message, 0, len(history)+2)
	if o.opts.systemPrompt != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: o.opts.systemPrompt})
	}
	messages = append(messages, history...)
	messages = append(messages, Message{Role: RoleUser, Content: prompt, Timestamp: time.Now()})
	return messages
}

// refitFollowup re-runs the optimizer over the extended message list when tool
// results push it over budget. The assistant tool-call message, the tool
// results, and the user prompt are always preserved verbatim.
func (o *Orchestrator) refitFollowup(messages []Message, executed int, result *RunResult) []Message {
	if o.optimizer == nil || o.opts.historyBudget <= 0 {
		return messages
	}
	if o.optimizer.EstimateTokens(messages) <= o.opts.historyBudget {
		return messages
	}
	preserve := executed + 2 // assistant tool-call message + results + user prompt
	fitted, report := o.optimizer.Optimize(messages, o.opts.historyBudget, preserve)
	if report.WasOptimized {
		result.Optimization = report
	}
	return fitted
}

func (o *Orchestrator) cacheOptions(ro runOptions) map[string]any {
	options := map[string]any{
		"model":       o.opts.model,
		"tool_choice": string(ro.toolChoice),
		"max_tokens":  o.opts.maxTokens,
		"temperature": o.opts.temperature,
	}
	for k, v := range ro.extraOptions {
		options[k] = v
	}
	return options
}

func (o *Orchestrator) store(cacheKey string, result *RunResult) {
	if o.cache == nil || cacheKey == "" {
		return
	}
	o.cache.Set(cacheKey, result)
}

// backfillCallIDs assigns IDs to tool calls the provider left unidentified so
// results can still be correlated, and normalizes an empty type to "function".
func backfillCallIDs(calls []ToolCall) []ToolCall {
	out := make([]ToolCall, len(calls))
	copy(out, calls)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = uuid.NewString()
		}
		if out[i].Type == "" {
			out[i].Type = ToolTypeFunction
		}
	}
	return out
}
