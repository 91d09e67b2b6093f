package engine

import (
	"github.com/rhuss/localresp/pkg/api"
	"github.com/rhuss/localresp/pkg/backend"
)

// translateRequest converts a validated request plus its rebuilt history
// into a backend request. Instructions become the leading system message.
func translateRequest(req *api.CreateResponseRequest, history []api.Item) *backend.Request {
	br := &backend.Request{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxOutputTokens,
	}

	if req.Instructions != "" {
		br.Messages = append(br.Messages, backend.Message{
			Role:    backend.RoleSystem,
			Content: req.Instructions,
		})
	}
	br.Messages = appendItems(br.Messages, history)
	br.Messages = appendItems(br.Messages, req.Input)

	for _, t := range req.Tools {
		if t.Type == api.ToolTypeWebSearch {
			br.Tools = append(br.Tools, webSearchTool)
			continue
		}
		br.Tools = append(br.Tools, backend.Tool{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}

	if tc := req.ToolChoice; tc != nil {
		if tc.Function != nil {
			br.ToolChoice = "required"
			br.ForcedTool = tc.Function.Name
		} else {
			br.ToolChoice = tc.String
		}
	}

	if req.Reasoning != nil && req.Reasoning.Effort != nil {
		br.ReasoningEffort = *req.Reasoning.Effort
	}

	return br
}

// appendItems converts items to chat messages. Consecutive function calls,
// and a function call directly after assistant text or reasoning, are merged
// into one assistant message, which is how chat backends expect parallel
// calls. web_search_call items are dropped: their results are not stored
// and the assistant answer that follows them already uses the findings.
func appendItems(msgs []backend.Message, items []api.Item) []backend.Message {
	callNames := make(map[string]string)
	for _, m := range msgs {
		for _, tc := range m.ToolCalls {
			callNames[tc.ID] = tc.Name
		}
	}

	for _, item := range items {
		switch item.Type {
		case api.ItemTypeMessage:
			if item.Message == nil {
				continue
			}
			switch item.Message.Role {
			case api.RoleAssistant:
				text := item.Message.Text()
				if last := lastAssistant(msgs); last != nil && last.Content == "" && len(last.ToolCalls) == 0 {
					last.Content = text
					continue
				}
				msgs = append(msgs, backend.Message{Role: backend.RoleAssistant, Content: text})
			case api.RoleSystem, api.RoleDeveloper:
				msgs = append(msgs, backend.Message{Role: backend.RoleSystem, Content: item.Message.Text()})
			default:
				msgs = append(msgs, backend.Message{Role: backend.RoleUser, Content: item.Message.Text()})
			}

		case api.ItemTypeFunctionCall:
			fc := item.FunctionCall
			if fc == nil {
				continue
			}
			args := fc.Arguments
			if args == "" {
				args = "{}"
			}
			callNames[fc.CallID] = fc.Name
			call := backend.ToolCall{ID: fc.CallID, Name: fc.Name, Arguments: args}
			if last := lastAssistant(msgs); last != nil {
				last.ToolCalls = append(last.ToolCalls, call)
				continue
			}
			msgs = append(msgs, backend.Message{Role: backend.RoleAssistant, ToolCalls: []backend.ToolCall{call}})

		case api.ItemTypeFunctionCallOutput:
			fo := item.FunctionCallOutput
			if fo == nil {
				continue
			}
			msgs = append(msgs, backend.Message{
				Role:       backend.RoleTool,
				Content:    fo.Output,
				ToolCallID: fo.CallID,
				ToolName:   callNames[fo.CallID],
			})

		case api.ItemTypeReasoning:
			if item.Reasoning == nil || item.Reasoning.Text == "" {
				continue
			}
			msgs = append(msgs, backend.Message{Role: backend.RoleAssistant, Reasoning: item.Reasoning.Text})
		}
	}
	return msgs
}

// lastAssistant returns the final message if it is an assistant turn.
func lastAssistant(msgs []backend.Message) *backend.Message {
	if len(msgs) == 0 {
		return nil
	}
	last := &msgs[len(msgs)-1]
	if last.Role != backend.RoleAssistant {
		return nil
	}
	return last
}
