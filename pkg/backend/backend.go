// Package backend defines the contract between the response engine and a
// local inference backend, plus the stream pump shared by all adapters.
//
// An adapter translates a canonical Request into its native streaming call
// and reports output through a Producer. Start turns the producer into a
// pull-based Stream of TokenEvent values with first-token and idle
// timeouts applied.
package backend

import (
	"context"
	"encoding/json"
)

// Backend is a streaming inference backend. Implementations must be safe
// for concurrent use.
type Backend interface {
	// Name returns the backend identifier (e.g., "ollama", "openai").
	Name() string

	// Stream starts a generation. It blocks until the backend produced its
	// first event and fails with an *Error of kind ErrUnavailable or
	// ErrTimeout when no event arrives. The returned stream is not
	// resumable; restarting means calling Stream again.
	Stream(ctx context.Context, req *Request) (*Stream, error)

	// Close releases backend resources.
	Close() error
}

// Request is a canonical chat request in backend-neutral form.
type Request struct {
	Model           string
	Messages        []Message
	Tools           []Tool
	ToolChoice      string // "auto", "none", "required", or empty
	ForcedTool      string // set when a specific function is required
	Temperature     *float64
	TopP            *float64
	MaxTokens       *int
	ReasoningEffort string
}

// Message roles in backend requests.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one chat turn.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	Reasoning  string     `json:"reasoning,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

// ToolCall is a completed function call replayed from history.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool is a function the model may call.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// EventKind selects the variant of a TokenEvent.
type EventKind int

const (
	EventTextDelta EventKind = iota
	EventReasoningDelta
	EventToolCallDelta
	EventFinish
)

func (k EventKind) String() string {
	switch k {
	case EventTextDelta:
		return "text_delta"
	case EventReasoningDelta:
		return "reasoning_delta"
	case EventToolCallDelta:
		return "tool_call_delta"
	case EventFinish:
		return "finish"
	}
	return "unknown"
}

// FinishReason is the backend's reason for ending a generation.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishLength    FinishReason = "length"
	FinishToolCalls FinishReason = "tool_calls"
	FinishError     FinishReason = "error"
)

// Usage holds backend-reported token counts.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// TokenEvent is one unit of backend output.
//
//   - EventTextDelta, EventReasoningDelta: Text holds the new fragment.
//   - EventToolCallDelta: CallID identifies the call, Name is set at least
//     once per call, Arguments holds the new argument fragment.
//   - EventFinish: Reason, optional Usage, and Err when Reason is FinishError.
type TokenEvent struct {
	Kind      EventKind
	Text      string
	CallID    string
	Name      string
	Arguments string
	Reason    FinishReason
	Usage     *Usage
	Err       error
}

// TextDelta returns a text fragment event.
func TextDelta(text string) TokenEvent {
	return TokenEvent{Kind: EventTextDelta, Text: text}
}

// ReasoningDelta returns a reasoning fragment event.
func ReasoningDelta(text string) TokenEvent {
	return TokenEvent{Kind: EventReasoningDelta, Text: text}
}

// ToolCallDelta returns a function-call fragment event.
func ToolCallDelta(callID, name, arguments string) TokenEvent {
	return TokenEvent{Kind: EventToolCallDelta, CallID: callID, Name: name, Arguments: arguments}
}

// Finish returns a finish event.
func Finish(reason FinishReason, usage *Usage) TokenEvent {
	return TokenEvent{Kind: EventFinish, Reason: reason, Usage: usage}
}

// FinishWithError returns a finish event for a failed generation.
func FinishWithError(err error) TokenEvent {
	return TokenEvent{Kind: EventFinish, Reason: FinishError, Err: err}
}
