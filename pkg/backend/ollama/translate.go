package ollama

import (
	"encoding/json"
	"fmt"

	ollamaapi "github.com/ollama/ollama/api"

	"github.com/rhuss/localresp/pkg/api"
	"github.com/rhuss/localresp/pkg/backend"
)

// translateRequest converts a canonical request to an Ollama chat request.
// Ollama has no tool_choice; "none" drops the tools and a forced function
// narrows the tool list to that function.
func translateRequest(req *backend.Request) (*ollamaapi.ChatRequest, error) {
	stream := true
	chatReq := &ollamaapi.ChatRequest{
		Model:   req.Model,
		Stream:  &stream,
		Options: make(map[string]any),
	}

	for i, m := range req.Messages {
		msg := ollamaapi.Message{
			Role:       m.Role,
			Content:    m.Content,
			Thinking:   m.Reasoning,
			ToolCallID: m.ToolCallID,
			ToolName:   m.ToolName,
		}
		for _, tc := range m.ToolCalls {
			var args ollamaapi.ToolCallFunctionArguments
			if tc.Arguments != "" {
				if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
					return nil, api.NewInvalidRequestError(fmt.Sprintf("input[%d].arguments", i),
						fmt.Sprintf("function call arguments for %q are not a JSON object: %v", tc.Name, err))
				}
			}
			msg.ToolCalls = append(msg.ToolCalls, ollamaapi.ToolCall{
				ID: tc.ID,
				Function: ollamaapi.ToolCallFunction{
					Name:      tc.Name,
					Arguments: args,
				},
			})
		}
		chatReq.Messages = append(chatReq.Messages, msg)
	}

	if req.ToolChoice != "none" {
		for _, t := range req.Tools {
			if req.ForcedTool != "" && t.Name != req.ForcedTool {
				continue
			}
			tool, err := convertTool(t)
			if err != nil {
				return nil, err
			}
			chatReq.Tools = append(chatReq.Tools, tool)
		}
	}

	if req.Temperature != nil {
		chatReq.Options["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		chatReq.Options["top_p"] = *req.TopP
	}
	if req.MaxTokens != nil {
		chatReq.Options["num_predict"] = *req.MaxTokens
	}
	if req.ReasoningEffort != "" {
		chatReq.Think = &ollamaapi.ThinkValue{Value: req.ReasoningEffort}
	}

	return chatReq, nil
}

func convertTool(t backend.Tool) (ollamaapi.Tool, error) {
	var params ollamaapi.ToolFunctionParameters
	if len(t.Parameters) > 0 {
		if err := json.Unmarshal(t.Parameters, &params); err != nil {
			return ollamaapi.Tool{}, api.NewInvalidRequestError("tools",
				fmt.Sprintf("parameters of tool %q cannot be used with ollama: %v", t.Name, err))
		}
	}
	if params.Type == "" {
		params.Type = "object"
	}
	return ollamaapi.Tool{
		Type: "function",
		Function: ollamaapi.ToolFunction{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		},
	}, nil
}

// converter turns Ollama chat chunks into token events. Ollama delivers
// each tool call complete in one chunk, so every call becomes a single
// fragment.
type converter struct {
	sawToolCall bool
}

func (c *converter) process(resp ollamaapi.ChatResponse) []backend.TokenEvent {
	var events []backend.TokenEvent

	if resp.Message.Thinking != "" {
		events = append(events, backend.ReasoningDelta(resp.Message.Thinking))
	}
	if resp.Message.Content != "" {
		events = append(events, backend.TextDelta(resp.Message.Content))
	}
	for _, tc := range resp.Message.ToolCalls {
		callID := tc.ID
		if callID == "" {
			callID = api.NewCallID()
		}
		args := "{}"
		if data, err := json.Marshal(tc.Function.Arguments); err == nil && string(data) != "null" {
			args = string(data)
		}
		events = append(events, backend.ToolCallDelta(callID, tc.Function.Name, args))
		c.sawToolCall = true
	}

	if resp.Done {
		usage := &backend.Usage{
			InputTokens:  resp.PromptEvalCount,
			OutputTokens: resp.EvalCount,
		}
		events = append(events, backend.Finish(c.finishReason(resp.DoneReason), usage))
	}
	return events
}

func (c *converter) finishReason(doneReason string) backend.FinishReason {
	switch doneReason {
	case "", "stop":
		if c.sawToolCall {
			return backend.FinishToolCalls
		}
		return backend.FinishStop
	case "length":
		return backend.FinishLength
	}
	return backend.FinishReason(doneReason)
}
