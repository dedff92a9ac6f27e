package docent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Optimization methods reported by Optimizer.
const (
	MethodNone          = "none"
	MethodTruncation    = "truncation"
	MethodSummarization = "summarization"
)

// Report describes what an optimization pass did to a conversation. Consumers
// use it for logging and UX ("history truncated, N messages removed"); it
// never carries an error, degraded outcomes are recorded in Fallback.
type Report struct {
	WasOptimized     bool   `json:"was_optimized"`
	Method           string `json:"method"`
	OriginalMessages int    `json:"original_messages"`
	FinalMessages    int    `json:"final_messages"`
	OriginalTokens   int    `json:"original_tokens"`
	FinalTokens      int    `json:"final_tokens"`
	RemovedMessages  int    `json:"removed_messages"`
	// BudgetExceeded is set when the preserved recent messages alone exceed
	// the token budget; exactly those messages are returned in that case.
	BudgetExceeded bool `json:"budget_exceeded,omitempty"`
	// Fallback records a non-fatal degradation, e.g. a failed summarization
	// call that degraded to plain truncation.
	Fallback string `json:"fallback,omitempty"`
}

// TokenEstimator estimates how many tokens a piece of text occupies. Plug in a
// real tokenizer when one is available; the default is a character heuristic.
type TokenEstimator interface {
	EstimateText(text string) int
}

// heuristicEstimator approximates one token per four characters, the usual
// rule of thumb for English text.
type heuristicEstimator struct{}

func (heuristicEstimator) EstimateText(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// messageTokenOverhead covers role and framing tokens per message.
const messageTokenOverhead = 4

// Optimizer keeps multi-turn conversations within a token budget via greedy
// truncation, or within a message-count threshold via summarization. All
// methods preserve the relative order of surviving messages.
type Optimizer struct {
	estimator        TokenEstimator
	summaryProvider  Provider
	summaryModel     string
	summaryThreshold int
	recentWindow     int
	logger           *slog.Logger
}

// OptimizerOption configures an Optimizer.
type OptimizerOption func(*Optimizer)

// WithEstimator replaces the default character-heuristic token estimator.
func WithEstimator(e TokenEstimator) OptimizerOption {
	return func(o *Optimizer) {
		if e != nil {
			o.estimator = e
		}
	}
}

// WithSummaryProvider enables summarization mode using provider and model.
// Without a provider, OptimizeWithSummary always degrades to truncation.
func WithSummaryProvider(provider Provider, model string) OptimizerOption {
	return func(o *Optimizer) {
		o.summaryProvider = provider
		o.summaryModel = model
	}
}

// WithSummaryThreshold sets the message count above which OptimizeWithSummary
// summarizes. Default 20.
func WithSummaryThreshold(n int) OptimizerOption {
	return func(o *Optimizer) {
		if n > 0 {
			o.summaryThreshold = n
		}
	}
}

// WithRecentWindow sets how many recent messages summarization keeps verbatim.
// Default 6.
func WithRecentWindow(n int) OptimizerOption {
	return func(o *Optimizer) {
		if n > 0 {
			o.recentWindow = n
		}
	}
}

// WithOptimizerLogger sets the structured logger.
func WithOptimizerLogger(logger *slog.Logger) OptimizerOption {
	return func(o *Optimizer) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewOptimizer creates an Optimizer.
func NewOptimizer(opts ...OptimizerOption) *Optimizer {
	o := &Optimizer{
		estimator:        heuristicEstimator{},
		summaryThreshold: 20,
		recentWindow:     6,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// EstimateMessageTokens estimates tokens for one message: role overhead plus
// content and any serialized tool-call arguments.
func (o *Optimizer) EstimateMessageTokens(msg Message) int {
	total := messageTokenOverhead + o.estimator.EstimateText(msg.Content)
	for _, tc := range msg.ToolCalls {
		total += o.estimator.EstimateText(tc.Function.Name)
		total += o.estimator.EstimateText(string(tc.Function.Arguments))
	}
	return total
}

// EstimateTokens estimates the total token count of a conversation.
func (o *Optimizer) EstimateTokens(history []Message) int {
	total := 0
	for _, msg := range history {
		total += o.EstimateMessageTokens(msg)
	}
	return total
}

// Optimize fits history into maxTokens. The last preserveRecent messages are
// always kept verbatim, even if by themselves they exceed the budget (that
// degraded case returns exactly those messages with BudgetExceeded set rather
// than failing). Older messages are walked newest first and included greedily
// while the running total stays within budget; the walk stops at the first
// message that would overflow. Chronological order is restored before return.
func (o *Optimizer) Optimize(history []Message, maxTokens, preserveRecent int) ([]Message, Report) {
	report := Report{
		Method:           MethodNone,
		OriginalMessages: len(history),
		OriginalTokens:   o.EstimateTokens(history),
	}
	report.FinalMessages = report.OriginalMessages
	report.FinalTokens = report.OriginalTokens

	if len(history) == 0 || report.OriginalTokens <= maxTokens {
		return history, report
	}
	if preserveRecent < 0 {
		preserveRecent = 0
	}
	if preserveRecent > len(history) {
		preserveRecent = len(history)
	}

	recent := history[len(history)-preserveRecent:]
	recentTokens := o.EstimateTokens(recent)

	report.WasOptimized = true
	report.Method = MethodTruncation

	if recentTokens > maxTokens {
		out := append([]Message(nil), recent...)
		report.FinalMessages = len(out)
		report.FinalTokens = recentTokens
		report.RemovedMessages = len(history) - len(out)
		report.BudgetExceeded = true
		o.logger.Warn("preserved messages alone exceed token budget",
			"preserve_recent", preserveRecent, "tokens", recentTokens, "budget", maxTokens)
		return out, report
	}

	older := history[:len(history)-preserveRecent]
	budget := maxTokens - recentTokens
	var kept []Message
	for i := len(older) - 1; i >= 0; i-- {
		cost := o.EstimateMessageTokens(older[i])
		if cost > budget {
			break
		}
		budget -= cost
		kept = append(kept, older[i])
	}
	// kept is newest-first; rebuild in chronological order.
	out := make([]Message, 0, len(kept)+len(recent))
	for i := len(kept) - 1; i >= 0; i-- {
		out = append(out, kept[i])
	}
	out = append(out, recent...)

	report.FinalMessages = len(out)
	report.FinalTokens = o.EstimateTokens(out)
	report.RemovedMessages = len(history) - len(out)
	o.logger.Info("history truncated",
		"removed", report.RemovedMessages, "final_tokens", report.FinalTokens, "budget", maxTokens)
	return out, report
}

// OptimizeWithSummary compresses history by summarizing its older part when
// the message count (not token count) exceeds the configured threshold. The
// older slice is summarized with a one-shot provider completion and the result
// spliced as [system messages] + [summary] + [recent messages]. A failed
// summarization call never propagates: the older slice is dropped entirely
// (plain truncation) and the failure recorded in the report.
func (o *Optimizer) OptimizeWithSummary(ctx context.Context, history []Message) ([]Message, Report) {
	report := Report{
		Method:           MethodNone,
		OriginalMessages: len(history),
		OriginalTokens:   o.EstimateTokens(history),
	}
	report.FinalMessages = report.OriginalMessages
	report.FinalTokens = report.OriginalTokens

	if len(history) <= o.summaryThreshold || len(history) <= o.recentWindow {
		return history, report
	}

	recent := history[len(history)-o.recentWindow:]
	older := history[:len(history)-o.recentWindow]

	var system []Message
	var summarizable []Message
	for _, msg := range older {
		if msg.Role == RoleSystem {
			system = append(system, msg)
		} else {
			summarizable = append(summarizable, msg)
		}
	}

	report.WasOptimized = true

	summary, err := o.summarize(ctx, summarizable)
	if err != nil {
		report.Method = MethodTruncation
		report.Fallback = fmt.Sprintf("summarization failed, dropped older messages: %v", err)
		o.logger.Warn("summarization failed, falling back to truncation", "error", err)
		out := make([]Message, 0, len(system)+len(recent))
		out = append(out, system...)
		out = append(out, recent...)
		report.FinalMessages = len(out)
		report.FinalTokens = o.EstimateTokens(out)
		report.RemovedMessages = len(summarizable)
		return out, report
	}

	report.Method = MethodSummarization
	out := make([]Message, 0, len(system)+1+len(recent))
	out = append(out, system...)
	out = append(out, Message{
		Role:    RoleSystem,
		Content: "Summary of earlier conversation: " + summary,
	})
	out = append(out, recent...)
	report.FinalMessages = len(out)
	report.FinalTokens = o.EstimateTokens(out)
	report.RemovedMessages = len(summarizable)
	return out, report
}

func (o *Optimizer) summarize(ctx context.Context, history []Message) (string, error) {
	if o.summaryProvider == nil {
		return "", fmt.Errorf("no summary provider configured")
	}
	var sb strings.Builder
	for _, msg := range history {
		sb.WriteString(string(msg.Role))
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	resp, err := o.summaryProvider.Chat(ctx, ChatRequest{
		Model: o.summaryModel,
		Messages: []Message{
			{Role: RoleSystem, Content: "Summarize the following conversation concisely, keeping facts, decisions, and open questions."},
			{Role: RoleUser, Content: sb.String()},
		},
	})
	if err != nil {
		return "", &ServiceError{Stage: "summarize", Err: err}
	}
	return resp.Content, nil
}
