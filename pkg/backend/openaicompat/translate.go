package openaicompat

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"
	"github.com/openai/openai-go/v3/shared/constant"

	"github.com/rhuss/localresp/pkg/api"
	"github.com/rhuss/localresp/pkg/backend"
)

// translateRequest converts a backend request into Chat Completions params.
func translateRequest(req *backend.Request) (openai.ChatCompletionNewParams, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(req.Model),
	}
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: param.NewOpt(true),
	}

	for _, m := range req.Messages {
		msg, err := translateMessage(m)
		if err != nil {
			return params, err
		}
		params.Messages = append(params.Messages, msg)
	}

	if req.ToolChoice != "none" {
		for _, t := range req.Tools {
			if req.ForcedTool != "" && t.Name != req.ForcedTool {
				continue
			}
			tool, err := translateTool(t)
			if err != nil {
				return params, err
			}
			params.Tools = append(params.Tools, tool)
		}
	}
	if len(params.Tools) > 0 {
		choice := req.ToolChoice
		if req.ForcedTool != "" {
			choice = "required"
		}
		if choice != "" {
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: param.NewOpt(choice)}
		}
	}

	if req.MaxTokens != nil {
		params.MaxCompletionTokens = openai.Int(int64(*req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}
	if req.ReasoningEffort != "" {
		params.ReasoningEffort = shared.ReasoningEffort(req.ReasoningEffort)
	}
	return params, nil
}

func translateMessage(m backend.Message) (openai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case backend.RoleSystem:
		return openai.SystemMessage(m.Content), nil
	case backend.RoleUser:
		return openai.UserMessage(m.Content), nil
	case backend.RoleTool:
		return openai.ToolMessage(m.Content, m.ToolCallID), nil
	case backend.RoleAssistant:
		msg := openai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" || len(m.ToolCalls) == 0 {
			msg.Content.OfString = param.NewOpt(m.Content)
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
				OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
					Type: constant.ValueOf[constant.Function](),
				},
			})
		}
		return openai.ChatCompletionMessageParamUnion{OfAssistant: &msg}, nil
	default:
		return openai.ChatCompletionMessageParamUnion{}, api.NewInvalidRequestError("input", "unsupported message role "+m.Role)
	}
}

func translateTool(t backend.Tool) (openai.ChatCompletionToolUnionParam, error) {
	var schema map[string]any
	if len(t.Parameters) > 0 {
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			return openai.ChatCompletionToolUnionParam{}, api.NewInvalidRequestError("tools", "tool "+t.Name+" has invalid parameters")
		}
	}
	if schema == nil {
		schema = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	fn := openai.FunctionDefinitionParam{
		Name:       t.Name,
		Parameters: schema,
	}
	if t.Description != "" {
		fn.Description = openai.String(t.Description)
	}
	return openai.ChatCompletionToolUnionParam{
		OfFunction: &openai.ChatCompletionFunctionToolParam{
			Function: fn,
			Type:     constant.ValueOf[constant.Function](),
		},
	}, nil
}

// demuxer turns chunks into token events. Chat Completions identifies
// tool-call fragments by index and sends the call id only on the first
// fragment, so ids are remembered per index.
type demuxer struct {
	calls    map[int64]string
	reason   string
	usage    *backend.Usage
	sawCalls bool
}

func newDemuxer() *demuxer {
	return &demuxer{calls: make(map[int64]string)}
}

func (d *demuxer) process(chunk openai.ChatCompletionChunk) []backend.TokenEvent {
	var events []backend.TokenEvent

	if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
		d.usage = &backend.Usage{
			InputTokens:  int(chunk.Usage.PromptTokens),
			OutputTokens: int(chunk.Usage.CompletionTokens),
		}
	}

	for _, choice := range chunk.Choices {
		if choice.Index != 0 {
			continue
		}
		if r := reasoningText(choice.Delta); r != "" {
			events = append(events, backend.ReasoningDelta(r))
		}
		if choice.Delta.Content != "" {
			events = append(events, backend.TextDelta(choice.Delta.Content))
		}
		for _, tc := range choice.Delta.ToolCalls {
			id, ok := d.calls[tc.Index]
			if !ok {
				id = tc.ID
				if id == "" {
					id = api.NewCallID()
				}
				d.calls[tc.Index] = id
			}
			d.sawCalls = true
			events = append(events, backend.ToolCallDelta(id, tc.Function.Name, tc.Function.Arguments))
		}
		if choice.FinishReason != "" {
			d.reason = choice.FinishReason
		}
	}
	return events
}

// finish returns the terminal event once the stream is drained. Usage
// arrives in a trailing chunk after the finish reason, so the finish event
// is held back until then.
func (d *demuxer) finish() (backend.TokenEvent, bool) {
	if d.reason == "" {
		return backend.TokenEvent{}, false
	}
	return backend.Finish(d.finishReason(), d.usage), true
}

func (d *demuxer) finishReason() backend.FinishReason {
	switch d.reason {
	case "stop":
		if d.sawCalls {
			return backend.FinishToolCalls
		}
		return backend.FinishStop
	case "length":
		return backend.FinishLength
	case "tool_calls", "function_call":
		return backend.FinishToolCalls
	default:
		return backend.FinishReason(d.reason)
	}
}

// reasoningText extracts the non-standard reasoning fields emitted by vLLM
// ("reasoning_content") and llama.cpp / Ollama ("reasoning").
func reasoningText(delta openai.ChatCompletionChunkChoiceDelta) string {
	for _, key := range []string{"reasoning_content", "reasoning"} {
		f, ok := delta.JSON.ExtraFields[key]
		if !ok || f.Raw() == "" {
			continue
		}
		var s string
		if err := json.Unmarshal([]byte(f.Raw()), &s); err == nil && s != "" {
			return s
		}
	}
	return ""
}

func mapError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error()
		}
		return backend.FromStatus(apiErr.StatusCode, msg)
	}
	return backend.Classify(err)
}
