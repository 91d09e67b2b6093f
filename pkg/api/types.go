package api

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Content types
// ---------------------------------------------------------------------------

// ContentPart represents a part of input content. Type is input_text,
// output_text (assistant turns replayed as input) or text.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// OutputContentPart represents a part of model output content.
type OutputContentPart struct {
	Type        string       `json:"-"`
	Text        string       `json:"-"`
	Annotations []Annotation `json:"-"`
}

// Annotation represents an annotation on output text, such as a citation.
type Annotation struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	StartIndex int    `json:"start_index,omitempty"`
	EndIndex   int    `json:"end_index,omitempty"`
}

type outputContentWire struct {
	Type        string       `json:"type"`
	Text        string       `json:"text"`
	Annotations []Annotation `json:"annotations"`
	Logprobs    []struct{}   `json:"logprobs"`
}

// MarshalJSON ensures annotations and logprobs are always arrays, never null.
func (p OutputContentPart) MarshalJSON() ([]byte, error) {
	w := outputContentWire{
		Type:        p.Type,
		Text:        p.Text,
		Annotations: p.Annotations,
		Logprobs:    []struct{}{},
	}
	if w.Annotations == nil {
		w.Annotations = []Annotation{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON deserializes an OutputContentPart. Empty annotation lists
// decode to nil so that values survive a marshal round trip unchanged.
func (p *OutputContentPart) UnmarshalJSON(data []byte) error {
	var w outputContentWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p.Type = w.Type
	p.Text = w.Text
	p.Annotations = nil
	if len(w.Annotations) > 0 {
		p.Annotations = w.Annotations
	}
	return nil
}

// ---------------------------------------------------------------------------
// Item type-specific data
// ---------------------------------------------------------------------------

// MessageRole represents the role of a message sender.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleDeveloper MessageRole = "developer"
)

// ItemType represents the type of an item in a conversation.
type ItemType string

const (
	ItemTypeMessage            ItemType = "message"
	ItemTypeFunctionCall       ItemType = "function_call"
	ItemTypeFunctionCallOutput ItemType = "function_call_output"
	ItemTypeReasoning          ItemType = "reasoning"
	ItemTypeWebSearchCall      ItemType = "web_search_call"
)

// ItemStatus represents the processing status of an item.
type ItemStatus string

const (
	ItemStatusInProgress ItemStatus = "in_progress"
	ItemStatusIncomplete ItemStatus = "incomplete"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusFailed     ItemStatus = "failed"
)

// MessageData holds the data specific to a message item. Input messages
// use Content, assistant output uses Output.
type MessageData struct {
	Role    MessageRole         `json:"role"`
	Content []ContentPart       `json:"content,omitempty"`
	Output  []OutputContentPart `json:"output,omitempty"`
}

// Text returns the concatenated text of all parts.
func (m *MessageData) Text() string {
	var b bytes.Buffer
	for _, p := range m.Content {
		b.WriteString(p.Text)
	}
	for _, p := range m.Output {
		b.WriteString(p.Text)
	}
	return b.String()
}

// FunctionCallData holds the data specific to a function call item.
// Error is set when the accumulated arguments are not valid JSON.
type FunctionCallData struct {
	Name      string    `json:"name"`
	CallID    string    `json:"call_id"`
	Arguments string    `json:"arguments"`
	Error     *APIError `json:"error,omitempty"`
}

// FunctionCallOutputData holds the data specific to a function call output item.
type FunctionCallOutputData struct {
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

// ReasoningData holds the reasoning text produced by thinking models.
type ReasoningData struct {
	Text string `json:"text"`
}

// WebSearchCallData records a search the server ran on the model's behalf.
type WebSearchCallData struct {
	Query string `json:"query"`
}

type webSearchAction struct {
	Type  string `json:"type"`
	Query string `json:"query"`
}

// ---------------------------------------------------------------------------
// Item
// ---------------------------------------------------------------------------

// Item is one unit of conversation: a message, a function call, a function
// call output, a reasoning step or a web search. Exactly one of the data
// pointers matching Type is set.
type Item struct {
	ID     string     `json:"id"`
	Type   ItemType   `json:"type"`
	Status ItemStatus `json:"status"`

	Message            *MessageData            `json:"message,omitempty"`
	FunctionCall       *FunctionCallData       `json:"function_call,omitempty"`
	FunctionCallOutput *FunctionCallOutputData `json:"function_call_output,omitempty"`
	Reasoning          *ReasoningData          `json:"reasoning,omitempty"`
	WebSearchCall      *WebSearchCallData      `json:"web_search_call,omitempty"`
}

type itemWireBase struct {
	ID     string     `json:"id,omitempty"`
	Type   ItemType   `json:"type"`
	Status ItemStatus `json:"status,omitempty"`
}

// MarshalJSON serializes an Item to the flat Responses wire format, where
// type-specific fields sit at the top level.
func (item Item) MarshalJSON() ([]byte, error) {
	base := itemWireBase{ID: item.ID, Type: item.Type, Status: item.Status}

	switch item.Type {
	case ItemTypeMessage:
		w := struct {
			itemWireBase
			Role    MessageRole `json:"role"`
			Content []any       `json:"content"`
		}{itemWireBase: base, Content: []any{}}
		if item.Message != nil {
			w.Role = item.Message.Role
			for _, p := range item.Message.Output {
				w.Content = append(w.Content, p)
			}
			for _, p := range item.Message.Content {
				w.Content = append(w.Content, p)
			}
		}
		return json.Marshal(w)

	case ItemTypeFunctionCall:
		w := struct {
			itemWireBase
			CallID    string    `json:"call_id"`
			Name      string    `json:"name"`
			Arguments string    `json:"arguments"`
			Error     *APIError `json:"error,omitempty"`
		}{itemWireBase: base}
		if fc := item.FunctionCall; fc != nil {
			w.CallID, w.Name, w.Arguments, w.Error = fc.CallID, fc.Name, fc.Arguments, fc.Error
		}
		return json.Marshal(w)

	case ItemTypeFunctionCallOutput:
		w := struct {
			itemWireBase
			CallID string `json:"call_id"`
			Output string `json:"output"`
		}{itemWireBase: base}
		if fo := item.FunctionCallOutput; fo != nil {
			w.CallID, w.Output = fo.CallID, fo.Output
		}
		return json.Marshal(w)

	case ItemTypeReasoning:
		type reasoningPart struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		w := struct {
			itemWireBase
			Summary []reasoningPart `json:"summary"`
			Content []reasoningPart `json:"content"`
		}{itemWireBase: base, Summary: []reasoningPart{}, Content: []reasoningPart{}}
		if item.Reasoning != nil && item.Reasoning.Text != "" {
			w.Content = append(w.Content, reasoningPart{Type: "reasoning_text", Text: item.Reasoning.Text})
		}
		return json.Marshal(w)

	case ItemTypeWebSearchCall:
		w := struct {
			itemWireBase
			Action webSearchAction `json:"action"`
		}{itemWireBase: base, Action: webSearchAction{Type: "search"}}
		if ws := item.WebSearchCall; ws != nil {
			w.Action.Query = ws.Query
		}
		return json.Marshal(w)
	}

	return nil, fmt.Errorf("unknown item type %q", item.Type)
}

// UnmarshalJSON accepts the flat wire format, the nested internal format,
// and the shorthand {"role": ..., "content": ...} message form with no type.
// Message content may be a plain string or a list of parts.
func (item *Item) UnmarshalJSON(data []byte) error {
	var base struct {
		ID     string     `json:"id"`
		Type   ItemType   `json:"type"`
		Status ItemStatus `json:"status"`

		Role      MessageRole     `json:"role"`
		Content   json.RawMessage `json:"content"`
		CallID    string          `json:"call_id"`
		Name      string          `json:"name"`
		Arguments string          `json:"arguments"`
		Output    json.RawMessage `json:"output"`
		Error     *APIError       `json:"error"`

		Message            *MessageData            `json:"message"`
		FunctionCall       *FunctionCallData       `json:"function_call"`
		FunctionCallOutput *FunctionCallOutputData `json:"function_call_output"`
		Reasoning          *ReasoningData          `json:"reasoning"`
		WebSearchCall      *WebSearchCallData      `json:"web_search_call"`
		Action             *webSearchAction        `json:"action"`
	}
	if err := json.Unmarshal(data, &base); err != nil {
		return err
	}

	*item = Item{ID: base.ID, Type: base.Type, Status: base.Status}
	if item.Type == "" && (base.Role != "" || base.Message != nil) {
		item.Type = ItemTypeMessage
	}

	switch item.Type {
	case ItemTypeMessage:
		if base.Message != nil {
			item.Message = base.Message
			return nil
		}
		item.Message = &MessageData{Role: base.Role}
		return item.Message.decodeContent(base.Content)

	case ItemTypeFunctionCall:
		if base.FunctionCall != nil {
			item.FunctionCall = base.FunctionCall
			return nil
		}
		item.FunctionCall = &FunctionCallData{
			Name:      base.Name,
			CallID:    base.CallID,
			Arguments: base.Arguments,
			Error:     base.Error,
		}

	case ItemTypeFunctionCallOutput:
		if base.FunctionCallOutput != nil {
			item.FunctionCallOutput = base.FunctionCallOutput
			return nil
		}
		out := ""
		if len(base.Output) > 0 {
			if err := json.Unmarshal(base.Output, &out); err != nil {
				// Structured outputs are passed through as raw JSON.
				out = string(base.Output)
			}
		}
		item.FunctionCallOutput = &FunctionCallOutputData{CallID: base.CallID, Output: out}

	case ItemTypeReasoning:
		if base.Reasoning != nil {
			item.Reasoning = base.Reasoning
			return nil
		}
		item.Reasoning = &ReasoningData{Text: reasoningText(base.Content)}

	case ItemTypeWebSearchCall:
		if base.WebSearchCall != nil {
			item.WebSearchCall = base.WebSearchCall
			return nil
		}
		item.WebSearchCall = &WebSearchCallData{}
		if base.Action != nil {
			item.WebSearchCall.Query = base.Action.Query
		}
	}

	return nil
}

func (m *MessageData) decodeContent(raw json.RawMessage) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		partType := "input_text"
		if m.Role == RoleAssistant {
			partType = "output_text"
		}
		m.Content = []ContentPart{{Type: partType, Text: s}}
		return nil
	}

	// Assistant messages produced by this server carry output parts.
	if m.Role == RoleAssistant {
		var parts []OutputContentPart
		if err := json.Unmarshal(raw, &parts); err != nil {
			return fmt.Errorf("content: %w", err)
		}
		if len(parts) > 0 {
			m.Output = parts
		}
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return fmt.Errorf("content: %w", err)
	}
	if len(parts) > 0 {
		m.Content = parts
	}
	return nil
}

func reasoningText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []ContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var b bytes.Buffer
	for _, p := range parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// InputItems is the request input. On the wire it is either a string,
// shorthand for a single user message, or a list of items.
type InputItems []Item

// UnmarshalJSON decodes either form.
func (in *InputItems) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*in = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*in = InputItems{{
			Type:    ItemTypeMessage,
			Message: &MessageData{Role: RoleUser, Content: []ContentPart{{Type: "input_text", Text: s}}},
		}}
		return nil
	}
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	if items == nil {
		items = []Item{}
	}
	*in = items
	return nil
}

// ---------------------------------------------------------------------------
// Tools
// ---------------------------------------------------------------------------

// ToolChoice is either a mode string ("auto", "required", "none") or a
// specific function selection.
type ToolChoice struct {
	String   string              `json:"-"`
	Function *ToolChoiceFunction `json:"-"`
}

// ToolChoiceFunction selects a particular function by name.
type ToolChoiceFunction struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

var (
	ToolChoiceAuto     = ToolChoice{String: "auto"}
	ToolChoiceRequired = ToolChoice{String: "required"}
	ToolChoiceNone     = ToolChoice{String: "none"}
)

// MarshalJSON serializes ToolChoice as either a JSON string or an object.
func (tc ToolChoice) MarshalJSON() ([]byte, error) {
	if tc.Function != nil {
		return json.Marshal(tc.Function)
	}
	if tc.String != "" {
		return json.Marshal(tc.String)
	}
	return nil, fmt.Errorf("tool_choice has neither mode nor function")
}

// UnmarshalJSON deserializes ToolChoice from either a string or an object.
func (tc *ToolChoice) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*tc = ToolChoice{String: s}
		return nil
	}
	var f ToolChoiceFunction
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("tool_choice must be a string or object: %w", err)
	}
	*tc = ToolChoice{Function: &f}
	return nil
}

// Tool types accepted in a request. A web_search tool carries no name or
// parameters; the server runs the search itself.
const (
	ToolTypeFunction  = "function"
	ToolTypeWebSearch = "web_search"

	// WebSearchToolName is the function name the backend model sees for
	// the web_search tool.
	WebSearchToolName = "web_search"
)

// ToolDefinition describes a tool available to the model.
type ToolDefinition struct {
	Type        string          `json:"type"`
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Strict      bool            `json:"strict"`
}

// HasWebSearch reports whether tools include the web_search tool.
func HasWebSearch(tools []ToolDefinition) bool {
	for _, t := range tools {
		if t.Type == ToolTypeWebSearch {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Request and Response
// ---------------------------------------------------------------------------

// CreateResponseRequest is the body of POST /v1/responses.
type CreateResponseRequest struct {
	Model              string           `json:"model"`
	Input              InputItems       `json:"input"`
	Instructions       string           `json:"instructions,omitempty"`
	Tools              []ToolDefinition `json:"tools,omitempty"`
	ToolChoice         *ToolChoice      `json:"tool_choice,omitempty"`
	ParallelToolCalls  *bool            `json:"parallel_tool_calls,omitempty"`
	Store              *bool            `json:"store,omitempty"`
	Stream             bool             `json:"stream,omitempty"`
	PreviousResponseID string           `json:"previous_response_id,omitempty"`
	MaxOutputTokens    *int             `json:"max_output_tokens,omitempty"`
	Temperature        *float64         `json:"temperature,omitempty"`
	TopP               *float64         `json:"top_p,omitempty"`
	Reasoning          *ReasoningConfig `json:"reasoning,omitempty"`
	Metadata           map[string]any   `json:"metadata,omitempty"`
	User               string           `json:"user,omitempty"`
}

// ResponseStatus represents the overall status of a response.
type ResponseStatus string

const (
	ResponseStatusInProgress ResponseStatus = "in_progress"
	ResponseStatusCompleted  ResponseStatus = "completed"
	ResponseStatusIncomplete ResponseStatus = "incomplete"
	ResponseStatusFailed     ResponseStatus = "failed"
	ResponseStatusCancelled  ResponseStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s ResponseStatus) IsTerminal() bool {
	return s != ResponseStatusInProgress && s != ""
}

// Response is the response object returned by the Responses API.
// Nullable fields use pointer types and are always present on the wire.
type Response struct {
	ID                 string             `json:"id"`
	Object             string             `json:"object"`
	CreatedAt          int64              `json:"created_at"`
	CompletedAt        *int64             `json:"completed_at"`
	Status             ResponseStatus     `json:"status"`
	IncompleteDetails  *IncompleteDetails `json:"incomplete_details"`
	Model              string             `json:"model"`
	PreviousResponseID *string            `json:"previous_response_id"`
	Instructions       *string            `json:"instructions"`
	Output             []Item             `json:"output"`
	Error              *APIError          `json:"error"`
	Tools              []ToolDefinition   `json:"tools"`
	ToolChoice         *ToolChoice        `json:"tool_choice,omitempty"`
	ParallelToolCalls  bool               `json:"parallel_tool_calls"`
	Temperature        *float64           `json:"temperature"`
	TopP               *float64           `json:"top_p"`
	MaxOutputTokens    *int               `json:"max_output_tokens"`
	Reasoning          *ReasoningConfig   `json:"reasoning"`
	Usage              *Usage             `json:"usage"`
	Store              bool               `json:"store"`
	Metadata           map[string]any     `json:"metadata"`
	User               string             `json:"user,omitempty"`
}

// IncompleteDetails explains why a response is incomplete.
type IncompleteDetails struct {
	Reason string `json:"reason"`
}

// ReasoningConfig holds reasoning configuration, echoed in the response.
type ReasoningConfig struct {
	Effort  *string `json:"effort"`
	Summary *string `json:"summary,omitempty"`
}

// Usage holds token usage for a response. TotalTokens is always
// InputTokens + OutputTokens.
type Usage struct {
	InputTokens         int                 `json:"input_tokens"`
	OutputTokens        int                 `json:"output_tokens"`
	TotalTokens         int                 `json:"total_tokens"`
	InputTokensDetails  InputTokensDetails  `json:"input_tokens_details"`
	OutputTokensDetails OutputTokensDetails `json:"output_tokens_details"`
}

// NewUsage builds a Usage with a consistent total.
func NewUsage(input, output int) *Usage {
	return &Usage{InputTokens: input, OutputTokens: output, TotalTokens: input + output}
}

// InputTokensDetails provides a breakdown of input token usage.
type InputTokensDetails struct {
	CachedTokens int `json:"cached_tokens"`
}

// OutputTokensDetails provides a breakdown of output token usage.
type OutputTokensDetails struct {
	ReasoningTokens int `json:"reasoning_tokens"`
}
