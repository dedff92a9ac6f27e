// Package docent is the orchestration core of an LLM-backed documentation
// assistant. It turns a user prompt plus optional conversation history into a
// final natural-language answer, transparently executing the tools (functions)
// the model asks for, feeding their results back to the model, and caching and
// optimizing along the way.
//
// # Overview
//
// Models produce tool calls as JSON. This package turns that JSON into concrete
// Go function calls: unmarshal → validate (against the same JSON Schema shown
// to the model) → execute → marshal the result or return a clear error the
// model can self-correct from. On top of that sits the Orchestrator, which
// drives the two-phase protocol: initial model call with tool schemas, tool
// execution, follow-up call carrying the tool results.
//
// Pipeline: Go function + argument struct → NewFunction (reflection + schema)
// → Function → Registry → CallManager (unmarshal, validate, call, marshal) →
// CallResult → Orchestrator → final answer.
//
// # Key concepts
//
//   - Single Source of Truth: one set of struct tags drives both the schema
//     sent to the model and the validation of incoming JSON.
//   - Partial Success: ExecuteToolCalls collects all results; one failure does
//     not cancel the others, and its message is folded back into the
//     conversation so the model can explain it.
//   - Self-Correction: ClientError carries human-readable messages back to the
//     model; SystemError hides internal details.
//
// See Function, FunctionCall, CallResult for the execution types, Registry and
// CallManager for setup, and Orchestrator for the full protocol. Conversation
// budgeting lives in Optimizer, response deduplication in Cache, and
// incremental delivery in the stream operators (ChunkString, Buffer, Throttle,
// Filter, Transform, Aggregate).
package docent
