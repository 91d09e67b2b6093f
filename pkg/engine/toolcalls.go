package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rhuss/localresp/pkg/api"
)

// toolCall is one function call reassembled from backend fragments.
// Arguments is set by finalize; until then Fragments owns the text.
type toolCall struct {
	CallID    string
	Name      string
	Fragments []string
	Arguments string
}

// toolCallAccumulator collects argument fragments per call id. Fragments of
// different calls may interleave; within a call they are kept in arrival
// order.
type toolCallAccumulator struct {
	calls     map[string]*toolCall
	finalized map[string]bool
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{
		calls:     make(map[string]*toolCall),
		finalized: make(map[string]bool),
	}
}

// append records a fragment. The first non-empty name wins. Appending to a
// call that was already finalized is an error.
func (a *toolCallAccumulator) append(callID, name, fragment string) error {
	if a.finalized[callID] {
		return fmt.Errorf("fragment for finalized tool call %s", callID)
	}
	tc, ok := a.calls[callID]
	if !ok {
		tc = &toolCall{CallID: callID}
		a.calls[callID] = tc
	}
	if tc.Name == "" {
		tc.Name = name
	}
	if fragment != "" {
		tc.Fragments = append(tc.Fragments, fragment)
	}
	return nil
}

// finalize concatenates the fragments of a call and checks that they form
// a JSON value. A call with no fragments gets "{}". On invalid JSON the raw
// text is kept and an invalid_function_call error is returned alongside.
func (a *toolCallAccumulator) finalize(callID string) (toolCall, *api.APIError) {
	tc, ok := a.calls[callID]
	if !ok {
		tc = &toolCall{CallID: callID}
	}
	delete(a.calls, callID)
	a.finalized[callID] = true

	call := toolCall{CallID: tc.CallID, Name: tc.Name}
	if len(tc.Fragments) == 0 {
		call.Arguments = "{}"
		return call, nil
	}
	call.Arguments = strings.Join(tc.Fragments, "")

	var v any
	if err := json.Unmarshal([]byte(call.Arguments), &v); err != nil {
		return call, api.NewInvalidFunctionCallError(
			fmt.Sprintf("arguments for %s are not valid JSON: %v", call.Name, err))
	}
	return call, nil
}
