package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rhuss/localresp/pkg/api"
	"github.com/rhuss/localresp/pkg/backend"
)

type assemblerState int

const (
	stateIdle assemblerState = iota
	stateStarted
	stateItemOpen
	stateAwaitingTools
	stateCompleted
	stateFailed
)

func (s assemblerState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateStarted:
		return "started"
	case stateItemOpen:
		return "item_open"
	case stateAwaitingTools:
		return "awaiting_tools"
	case stateCompleted:
		return "completed"
	case stateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// openItem is an output item that is still receiving deltas.
type openItem struct {
	index  int
	id     string
	kind   api.ItemType
	callID string
	name   string
	text   strings.Builder

	// web_search_call items only.
	query  string
	status api.ItemStatus
}

// ToolCall is a call to a tool the server runs itself. The assembler holds
// its item open until ResolveTool is called.
type ToolCall struct {
	ItemID    string
	CallID    string
	Name      string
	Arguments string // "{}" when the model sent invalid JSON
	Query     string
	Err       error // arguments unusable; the call cannot run
}

// Assembler turns backend token events into the Responses event sequence
// and keeps the response object in step with it. It performs no I/O: each
// method returns the events produced by that step, and the caller writes
// them in order.
//
// Message and reasoning items are closed as soon as output of another kind
// arrives. Function-call items stay open until finish, one per call id, so
// fragments of parallel calls may interleave.
//
// Calls to web_search, once enabled with ServeWebSearch, become
// web_search_call items. A backend turn that ends with only such calls
// pauses the response instead of completing it; the caller runs the
// searches, resolves each call and resumes with the next backend stream.
type Assembler struct {
	resp      *api.Response
	state     assemblerState
	seq       int
	webSearch bool

	open      []*openItem // ordered by output index
	message   *openItem
	reasoning *openItem
	calls     map[string]*openItem
	acc       *toolCallAccumulator

	usage         *backend.Usage
	raw           strings.Builder
	toolCallFails int
	now           func() time.Time
}

// NewAssembler creates an assembler for resp. resp must carry its id,
// model and request echo fields; the assembler owns Status, Output, Error,
// Usage and the completion fields from here on.
func NewAssembler(resp *api.Response) *Assembler {
	resp.Status = api.ResponseStatusInProgress
	if resp.Output == nil {
		resp.Output = []api.Item{}
	}
	return &Assembler{
		resp:  resp,
		calls: make(map[string]*openItem),
		acc:   newToolCallAccumulator(),
		now:   time.Now,
	}
}

// Response returns the response being assembled.
func (a *Assembler) Response() *api.Response {
	return a.resp
}

// Done reports whether a terminal state was reached.
func (a *Assembler) Done() bool {
	return a.state == stateCompleted || a.state == stateFailed
}

// RawOutput returns the concatenated text and argument fragments received
// from the backend.
func (a *Assembler) RawOutput() string {
	return a.raw.String()
}

// ToolCallFailures returns the number of function calls whose arguments
// were not valid JSON.
func (a *Assembler) ToolCallFailures() int {
	return a.toolCallFails
}

func (a *Assembler) next() int {
	n := a.seq
	a.seq++
	return n
}

// Start emits response.created.
func (a *Assembler) Start() []api.StreamEvent {
	if a.state != stateIdle {
		return nil
	}
	a.state = stateStarted
	snapshot := *a.resp
	snapshot.Output = []api.Item{}
	return []api.StreamEvent{{
		Type:           api.EventResponseCreated,
		SequenceNumber: a.next(),
		Response:       &snapshot,
	}}
}

// Advance consumes one backend event.
func (a *Assembler) Advance(ev backend.TokenEvent) []api.StreamEvent {
	if a.Done() || a.state == stateAwaitingTools {
		return nil
	}
	events := a.Start()

	switch ev.Kind {
	case backend.EventTextDelta:
		events = append(events, a.textDelta(ev.Text)...)
	case backend.EventReasoningDelta:
		events = append(events, a.reasoningDelta(ev.Text)...)
	case backend.EventToolCallDelta:
		events = append(events, a.toolCallDelta(ev)...)
	case backend.EventFinish:
		events = append(events, a.finish(ev)...)
	default:
		events = append(events, a.fail(api.NewServerError(fmt.Sprintf("unknown backend event kind %d", ev.Kind)))...)
	}
	return events
}

// Fail ends the stream with response.failed. Partial output is kept and
// items that were still open are marked incomplete. Before Start there is
// no stream to end and no events are returned.
func (a *Assembler) Fail(err error) []api.StreamEvent {
	if a.Done() {
		return nil
	}
	if a.state == stateIdle {
		a.abandonOpen()
		a.state = stateFailed
		buildTerminal(a.resp, nil, api.ResponseStatusFailed, backend.ToAPIError(err), a.now())
		return nil
	}
	return a.fail(backend.ToAPIError(err))
}

// Cancel marks the response cancelled. Nothing is emitted: the client that
// would receive the events is gone or asked for the cancellation.
func (a *Assembler) Cancel() {
	if a.Done() {
		return
	}
	a.abandonOpen()
	a.state = stateFailed
	buildTerminal(a.resp, nil, api.ResponseStatusCancelled, nil, a.now())
}

func (a *Assembler) textDelta(text string) []api.StreamEvent {
	if text == "" {
		return nil
	}
	var events []api.StreamEvent
	if a.message == nil {
		if a.reasoning != nil {
			events = append(events, a.close(a.reasoning))
		}
		var it *openItem
		it, events = a.openMessage(events)
		a.message = it
	}
	a.message.text.WriteString(text)
	a.raw.WriteString(text)
	return append(events, api.StreamEvent{
		Type:           api.EventOutputTextDelta,
		SequenceNumber: a.next(),
		ItemID:         a.message.id,
		OutputIndex:    a.message.index,
		ContentIndex:   0,
		Delta:          text,
	})
}

func (a *Assembler) reasoningDelta(text string) []api.StreamEvent {
	if text == "" {
		return nil
	}
	var events []api.StreamEvent
	if a.reasoning == nil {
		if a.message != nil {
			events = append(events, a.close(a.message))
		}
		it := a.openItem(api.ItemTypeReasoning, api.Item{
			Type:      api.ItemTypeReasoning,
			Reasoning: &api.ReasoningData{},
		})
		events = append(events, a.addedEvent(it))
		a.reasoning = it
	}
	a.reasoning.text.WriteString(text)
	return append(events, api.StreamEvent{
		Type:           api.EventReasoningTextDelta,
		SequenceNumber: a.next(),
		ItemID:         a.reasoning.id,
		OutputIndex:    a.reasoning.index,
		ContentIndex:   0,
		Delta:          text,
	})
}

func (a *Assembler) toolCallDelta(ev backend.TokenEvent) []api.StreamEvent {
	var events []api.StreamEvent
	if a.message != nil || a.reasoning != nil {
		events = append(events, a.closeTextItems()...)
	}

	it, ok := a.calls[ev.CallID]
	if err := a.acc.append(ev.CallID, ev.Name, ev.Arguments); err != nil {
		return append(events, a.fail(api.NewModelError(api.CodeStreamInvariant, err.Error()))...)
	}
	if !ok && a.serves(ev.Name) {
		it = a.openItem(api.ItemTypeWebSearchCall, api.Item{
			Type:          api.ItemTypeWebSearchCall,
			WebSearchCall: &api.WebSearchCallData{},
		})
		it.callID = ev.CallID
		it.name = ev.Name
		it.status = api.ItemStatusIncomplete
		a.calls[ev.CallID] = it
		events = append(events, a.addedEvent(it), a.progressEvent(api.EventWebSearchCallInProgress, it))
	} else if !ok {
		it = a.openItem(api.ItemTypeFunctionCall, api.Item{
			Type: api.ItemTypeFunctionCall,
			FunctionCall: &api.FunctionCallData{
				Name:   ev.Name,
				CallID: ev.CallID,
			},
		})
		it.callID = ev.CallID
		it.name = ev.Name
		a.calls[ev.CallID] = it
		events = append(events, a.addedEvent(it))
	}
	if it.name == "" && ev.Name != "" {
		it.name = ev.Name
	}
	if ev.Arguments == "" {
		return events
	}
	it.text.WriteString(ev.Arguments)
	a.raw.WriteString(ev.Arguments)
	if it.kind == api.ItemTypeWebSearchCall {
		return events
	}
	return append(events, api.StreamEvent{
		Type:           api.EventFunctionCallArgsDelta,
		SequenceNumber: a.next(),
		ItemID:         it.id,
		OutputIndex:    it.index,
		Delta:          ev.Arguments,
	})
}

func (a *Assembler) finish(ev backend.TokenEvent) []api.StreamEvent {
	if ev.Reason == backend.FinishError {
		err := ev.Err
		if err == nil {
			err = backend.Unavailable(nil, "backend reported an error")
		}
		return a.fail(backend.ToAPIError(err))
	}

	a.addUsage(ev.Usage)
	if (ev.Reason == backend.FinishToolCalls || ev.Reason == backend.FinishStop) && a.onlyServedCalls() {
		return a.suspend()
	}
	events := a.closeAll()

	switch ev.Reason {
	case backend.FinishStop, backend.FinishToolCalls:
		a.state = stateCompleted
		buildTerminal(a.resp, a.usage, api.ResponseStatusCompleted, nil, a.now())
		return append(events, a.terminalEvent(api.EventResponseCompleted))
	case backend.FinishLength:
		a.state = stateCompleted
		buildTerminal(a.resp, a.usage, api.ResponseStatusIncomplete, nil, a.now())
		return append(events, a.terminalEvent(api.EventResponseCompleted))
	default:
		a.state = stateFailed
		buildTerminal(a.resp, a.usage, api.ResponseStatusFailed,
			api.NewModelError(api.CodeUnknownFinishReason,
				fmt.Sprintf("backend finished with unknown reason %q", ev.Reason)), a.now())
		return append(events, a.terminalEvent(api.EventResponseFailed))
	}
}

// ServeWebSearch makes calls to the web_search function server-side calls.
func (a *Assembler) ServeWebSearch() {
	a.webSearch = true
}

func (a *Assembler) serves(name string) bool {
	return a.webSearch && name == api.WebSearchToolName
}

// AwaitingTools reports whether the response is paused on served calls.
func (a *Assembler) AwaitingTools() bool {
	return a.state == stateAwaitingTools
}

// PendingTools returns the served calls of the paused turn in output order.
func (a *Assembler) PendingTools() []ToolCall {
	if a.state != stateAwaitingTools {
		return nil
	}
	var calls []ToolCall
	for _, it := range a.open {
		if it.kind != api.ItemTypeWebSearchCall {
			continue
		}
		call := ToolCall{ItemID: it.id, CallID: it.callID, Name: it.name, Arguments: it.text.String(), Query: it.query}
		if it.query == "" {
			call.Err = fmt.Errorf("web_search needs a query, got arguments %q", call.Arguments)
			call.Arguments = "{}"
		}
		calls = append(calls, call)
	}
	return calls
}

// ResolveTool closes the item of a served call once it ran. ok is false
// when the call failed.
func (a *Assembler) ResolveTool(callID string, ok bool) []api.StreamEvent {
	it, found := a.calls[callID]
	if a.state != stateAwaitingTools || !found || it.kind != api.ItemTypeWebSearchCall {
		return nil
	}
	var events []api.StreamEvent
	it.status = api.ItemStatusFailed
	if ok {
		it.status = api.ItemStatusCompleted
		events = append(events, a.progressEvent(api.EventWebSearchCallCompleted, it))
	}
	return append(events, a.close(it))
}

// Resume continues a paused response. Output of the next backend stream
// is appended after the resolved calls.
func (a *Assembler) Resume() {
	if a.state != stateAwaitingTools {
		return
	}
	a.state = stateStarted
	if len(a.open) > 0 {
		a.state = stateItemOpen
	}
	// Call ids are only unique within one backend turn.
	a.acc = newToolCallAccumulator()
}

// Exhaust ends a paused response when no further backend turn is allowed.
// Unresolved calls are closed incomplete and the response is incomplete.
func (a *Assembler) Exhaust() []api.StreamEvent {
	if a.state != stateAwaitingTools {
		return nil
	}
	events := a.closeAll()
	a.state = stateCompleted
	buildTerminal(a.resp, a.usage, api.ResponseStatusIncomplete, nil, a.now())
	a.resp.IncompleteDetails = &api.IncompleteDetails{Reason: "max_tool_calls"}
	return append(events, a.terminalEvent(api.EventResponseCompleted))
}

// onlyServedCalls reports whether the turn produced served calls and no
// function calls for the client.
func (a *Assembler) onlyServedCalls() bool {
	served := false
	for _, it := range a.open {
		switch it.kind {
		case api.ItemTypeWebSearchCall:
			served = true
		case api.ItemTypeFunctionCall:
			return false
		}
	}
	return served
}

// suspend closes the turn's text items, extracts the search queries and
// pauses the response.
func (a *Assembler) suspend() []api.StreamEvent {
	events := a.closeTextItems()
	for _, it := range a.open {
		call, apiErr := a.acc.finalize(it.callID)
		if apiErr == nil {
			var args struct {
				Query string `json:"query"`
			}
			if json.Unmarshal([]byte(call.Arguments), &args) == nil {
				it.query = strings.TrimSpace(args.Query)
			}
		}
		it.text.Reset()
		it.text.WriteString(call.Arguments)

		item := a.resp.Output[it.index]
		item.WebSearchCall = &api.WebSearchCallData{Query: it.query}
		a.resp.Output[it.index] = item
		events = append(events, a.progressEvent(api.EventWebSearchCallSearching, it))
	}
	a.state = stateAwaitingTools
	return events
}

func (a *Assembler) addUsage(u *backend.Usage) {
	if u == nil {
		return
	}
	if a.usage == nil {
		a.usage = &backend.Usage{}
	}
	a.usage.InputTokens += u.InputTokens
	a.usage.OutputTokens += u.OutputTokens
}

func (a *Assembler) progressEvent(t api.StreamEventType, it *openItem) api.StreamEvent {
	return api.StreamEvent{
		Type:           t,
		SequenceNumber: a.next(),
		ItemID:         it.id,
		OutputIndex:    it.index,
	}
}

func (a *Assembler) fail(apiErr *api.APIError) []api.StreamEvent {
	a.abandonOpen()
	a.state = stateFailed
	buildTerminal(a.resp, nil, api.ResponseStatusFailed, apiErr, a.now())
	return []api.StreamEvent{a.terminalEvent(api.EventResponseFailed)}
}

func (a *Assembler) terminalEvent(t api.StreamEventType) api.StreamEvent {
	return api.StreamEvent{
		Type:           t,
		SequenceNumber: a.next(),
		Response:       a.resp,
	}
}

// openItem allocates the next output index for item and records it in the
// response as in progress.
func (a *Assembler) openItem(kind api.ItemType, item api.Item) *openItem {
	it := &openItem{
		index: len(a.resp.Output),
		id:    api.NewItemID(kind),
		kind:  kind,
	}
	item.ID = it.id
	item.Status = api.ItemStatusInProgress
	a.resp.Output = append(a.resp.Output, item)
	a.open = append(a.open, it)
	a.state = stateItemOpen
	return it
}

func (a *Assembler) openMessage(events []api.StreamEvent) (*openItem, []api.StreamEvent) {
	it := a.openItem(api.ItemTypeMessage, api.Item{
		Type:    api.ItemTypeMessage,
		Message: &api.MessageData{Role: api.RoleAssistant},
	})
	events = append(events, a.addedEvent(it), api.StreamEvent{
		Type:           api.EventContentPartAdded,
		SequenceNumber: a.next(),
		ItemID:         it.id,
		OutputIndex:    it.index,
		ContentIndex:   0,
		Part:           &api.OutputContentPart{Type: "output_text"},
	})
	return it, events
}

func (a *Assembler) addedEvent(it *openItem) api.StreamEvent {
	item := a.resp.Output[it.index]
	return api.StreamEvent{
		Type:           api.EventOutputItemAdded,
		SequenceNumber: a.next(),
		OutputIndex:    it.index,
		Item:           &item,
	}
}

// closeTextItems closes the open message and reasoning items.
func (a *Assembler) closeTextItems() []api.StreamEvent {
	var events []api.StreamEvent
	for _, it := range append([]*openItem(nil), a.open...) {
		if it.kind == api.ItemTypeMessage || it.kind == api.ItemTypeReasoning {
			events = append(events, a.close(it))
		}
	}
	return events
}

// closeAll closes every open item in output index order.
func (a *Assembler) closeAll() []api.StreamEvent {
	var events []api.StreamEvent
	for len(a.open) > 0 {
		events = append(events, a.close(a.open[0]))
	}
	return events
}

// close finalizes one item and emits output_item.done. Item data is
// replaced rather than mutated so earlier event payloads stay unchanged.
func (a *Assembler) close(it *openItem) api.StreamEvent {
	a.detach(it)
	item := a.resp.Output[it.index]
	item.Status = api.ItemStatusCompleted

	switch it.kind {
	case api.ItemTypeMessage:
		item.Message = &api.MessageData{
			Role:   api.RoleAssistant,
			Output: []api.OutputContentPart{{Type: "output_text", Text: it.text.String()}},
		}
	case api.ItemTypeReasoning:
		item.Reasoning = &api.ReasoningData{Text: it.text.String()}
	case api.ItemTypeFunctionCall:
		call, apiErr := a.acc.finalize(it.callID)
		fc := &api.FunctionCallData{Name: it.name, CallID: it.callID, Arguments: call.Arguments}
		if apiErr != nil {
			item.Status = api.ItemStatusIncomplete
			fc.Error = apiErr
			a.toolCallFails++
		}
		item.FunctionCall = fc
	case api.ItemTypeWebSearchCall:
		item.Status = it.status
		item.WebSearchCall = &api.WebSearchCallData{Query: it.query}
	}

	a.resp.Output[it.index] = item
	return api.StreamEvent{
		Type:           api.EventOutputItemDone,
		SequenceNumber: a.next(),
		OutputIndex:    it.index,
		Item:           &item,
	}
}

// abandonOpen keeps partial output of open items and marks them incomplete.
func (a *Assembler) abandonOpen() {
	for _, it := range a.open {
		item := a.resp.Output[it.index]
		item.Status = api.ItemStatusIncomplete
		switch it.kind {
		case api.ItemTypeMessage:
			item.Message = &api.MessageData{
				Role:   api.RoleAssistant,
				Output: []api.OutputContentPart{{Type: "output_text", Text: it.text.String()}},
			}
		case api.ItemTypeReasoning:
			item.Reasoning = &api.ReasoningData{Text: it.text.String()}
		case api.ItemTypeFunctionCall:
			item.FunctionCall = &api.FunctionCallData{Name: it.name, CallID: it.callID, Arguments: it.text.String()}
		case api.ItemTypeWebSearchCall:
			item.WebSearchCall = &api.WebSearchCallData{Query: it.query}
		}
		a.resp.Output[it.index] = item
	}
	a.open = nil
	a.message = nil
	a.reasoning = nil
	clear(a.calls)
}

func (a *Assembler) detach(it *openItem) {
	for i, o := range a.open {
		if o == it {
			a.open = append(a.open[:i], a.open[i+1:]...)
			break
		}
	}
	switch {
	case it == a.message:
		a.message = nil
	case it == a.reasoning:
		a.reasoning = nil
	case it.kind == api.ItemTypeFunctionCall, it.kind == api.ItemTypeWebSearchCall:
		delete(a.calls, it.callID)
	}
	if len(a.open) == 0 && a.state == stateItemOpen {
		a.state = stateStarted
	}
}
