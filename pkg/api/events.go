package api

import (
	"encoding/json"
	"fmt"
)

// StreamEventType identifies the type of a streaming event.
type StreamEventType string

// Lifecycle events. Exactly one of the terminal events (completed, failed)
// ends every stream.
const (
	EventResponseCreated   StreamEventType = "response.created"
	EventResponseCompleted StreamEventType = "response.completed"
	EventResponseFailed    StreamEventType = "response.failed"
)

// Item and delta events.
const (
	EventOutputItemAdded       StreamEventType = "response.output_item.added"
	EventContentPartAdded      StreamEventType = "response.content_part.added"
	EventOutputTextDelta       StreamEventType = "response.output_text.delta"
	EventReasoningTextDelta    StreamEventType = "response.reasoning_text.delta"
	EventFunctionCallArgsDelta StreamEventType = "response.function_call_arguments.delta"
	EventOutputItemDone        StreamEventType = "response.output_item.done"
)

// Web search progress events, emitted between output_item.added and
// output_item.done of a web_search_call item.
const (
	EventWebSearchCallInProgress StreamEventType = "response.web_search_call.in_progress"
	EventWebSearchCallSearching  StreamEventType = "response.web_search_call.searching"
	EventWebSearchCallCompleted  StreamEventType = "response.web_search_call.completed"
)

// IsTerminal reports whether t ends a stream.
func (t StreamEventType) IsTerminal() bool {
	return t == EventResponseCompleted || t == EventResponseFailed
}

// StreamEvent is a single server-sent event. Which fields are meaningful
// depends on Type; MarshalJSON writes exactly those fields.
type StreamEvent struct {
	Type           StreamEventType    `json:"type"`
	SequenceNumber int                `json:"sequence_number"`
	Response       *Response          `json:"response,omitempty"`
	Item           *Item              `json:"item,omitempty"`
	Part           *OutputContentPart `json:"part,omitempty"`
	Delta          string             `json:"delta,omitempty"`
	ItemID         string             `json:"item_id,omitempty"`
	OutputIndex    int                `json:"output_index"`
	ContentIndex   int                `json:"content_index"`
}

// MarshalJSON serializes the event with the field set of its type.
func (e StreamEvent) MarshalJSON() ([]byte, error) {
	head := struct {
		Type           StreamEventType `json:"type"`
		SequenceNumber int             `json:"sequence_number"`
	}{e.Type, e.SequenceNumber}

	switch e.Type {
	case EventResponseCreated, EventResponseCompleted, EventResponseFailed:
		return json.Marshal(struct {
			Type           StreamEventType `json:"type"`
			SequenceNumber int             `json:"sequence_number"`
			Response       *Response       `json:"response"`
		}{head.Type, head.SequenceNumber, e.Response})

	case EventOutputItemAdded, EventOutputItemDone:
		return json.Marshal(struct {
			Type           StreamEventType `json:"type"`
			SequenceNumber int             `json:"sequence_number"`
			OutputIndex    int             `json:"output_index"`
			Item           *Item           `json:"item"`
		}{head.Type, head.SequenceNumber, e.OutputIndex, e.Item})

	case EventContentPartAdded:
		return json.Marshal(struct {
			Type           StreamEventType    `json:"type"`
			SequenceNumber int                `json:"sequence_number"`
			ItemID         string             `json:"item_id"`
			OutputIndex    int                `json:"output_index"`
			ContentIndex   int                `json:"content_index"`
			Part           *OutputContentPart `json:"part"`
		}{head.Type, head.SequenceNumber, e.ItemID, e.OutputIndex, e.ContentIndex, e.Part})

	case EventOutputTextDelta, EventReasoningTextDelta:
		return json.Marshal(struct {
			Type           StreamEventType `json:"type"`
			SequenceNumber int             `json:"sequence_number"`
			ItemID         string          `json:"item_id"`
			OutputIndex    int             `json:"output_index"`
			ContentIndex   int             `json:"content_index"`
			Delta          string          `json:"delta"`
			Logprobs       []struct{}      `json:"logprobs"`
		}{head.Type, head.SequenceNumber, e.ItemID, e.OutputIndex, e.ContentIndex, e.Delta, []struct{}{}})

	case EventWebSearchCallInProgress, EventWebSearchCallSearching, EventWebSearchCallCompleted:
		return json.Marshal(struct {
			Type           StreamEventType `json:"type"`
			SequenceNumber int             `json:"sequence_number"`
			ItemID         string          `json:"item_id"`
			OutputIndex    int             `json:"output_index"`
		}{head.Type, head.SequenceNumber, e.ItemID, e.OutputIndex})

	case EventFunctionCallArgsDelta:
		return json.Marshal(struct {
			Type           StreamEventType `json:"type"`
			SequenceNumber int             `json:"sequence_number"`
			ItemID         string          `json:"item_id"`
			OutputIndex    int             `json:"output_index"`
			Delta          string          `json:"delta"`
		}{head.Type, head.SequenceNumber, e.ItemID, e.OutputIndex, e.Delta})
	}

	return nil, fmt.Errorf("unknown stream event type %q", e.Type)
}
