package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Chat Completions wire types, limited to the fields the mock emits.

type chatRequest struct {
	Model         string        `json:"model"`
	Messages      []chatMessage `json:"messages"`
	Stream        bool          `json:"stream"`
	Tools         []chatTool    `json:"tools,omitempty"`
	StreamOptions *struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options,omitempty"`
}

type chatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content,omitempty"`
}

// text returns the message content for both the string and the parts form.
func (m chatMessage) text() string {
	var s string
	if json.Unmarshal(m.Content, &s) == nil {
		return s
	}
	var parts []struct {
		Text string `json:"text"`
	}
	json.Unmarshal(m.Content, &parts)
	for _, p := range parts {
		s += p.Text
	}
	return s
}

type chatTool struct {
	Function struct {
		Name string `json:"name"`
	} `json:"function"`
}

type chatChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []chunkChoice `json:"choices"`
	Usage   *chatUsage    `json:"usage,omitempty"`
}

type chunkChoice struct {
	Index        int        `json:"index"`
	Delta        chunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

type chunkDelta struct {
	Role             string          `json:"role,omitempty"`
	Content          string          `json:"content,omitempty"`
	ReasoningContent string          `json:"reasoning_content,omitempty"`
	ToolCalls        []deltaToolCall `json:"tool_calls,omitempty"`
}

type deltaToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func openaiChat(delay time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "invalid request: "+err.Error())
			return
		}
		if !req.Stream {
			writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "mock backend only supports streaming")
			return
		}

		var tools []string
		for _, t := range req.Tools {
			tools = append(tools, t.Function.Name)
		}
		lastUser := ""
		for i := len(req.Messages) - 1; i >= 0; i-- {
			if req.Messages[i].Role == "user" {
				lastUser = req.Messages[i].text()
				break
			}
		}
		s := plan(lastUser, tools, len(req.Messages))
		if s.fail {
			writeOpenAIError(w, http.StatusServiceUnavailable, "server_error", "model is loading")
			return
		}

		model := req.Model
		if model == "" {
			model = "mock-model"
		}
		base := chatChunk{
			ID:      fmt.Sprintf("chatcmpl-mock-%d", time.Now().UnixNano()),
			Object:  "chat.completion.chunk",
			Created: time.Now().Unix(),
			Model:   model,
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		rc := http.NewResponseController(w)
		send := func(c chatChunk) {
			data, _ := json.Marshal(c)
			fmt.Fprintf(w, "data: %s\n\n", data)
			rc.Flush()
		}
		withDelta := func(d chunkDelta, finish *string) chatChunk {
			c := base
			c.Choices = []chunkChoice{{Delta: d, FinishReason: finish}}
			return c
		}

		send(withDelta(chunkDelta{Role: "assistant"}, nil))
		calls := 0
		for _, c := range s.chunks {
			if !pause(r.Context(), delay) {
				return
			}
			switch {
			case c.call != nil:
				for _, d := range toolCallFragments(calls, c.call) {
					send(withDelta(d, nil))
				}
				calls++
			case c.reasoning != "":
				send(withDelta(chunkDelta{ReasoningContent: c.reasoning}, nil))
			default:
				send(withDelta(chunkDelta{Content: c.text}, nil))
			}
		}
		finish := s.finish
		send(withDelta(chunkDelta{}, &finish))

		if req.StreamOptions != nil && req.StreamOptions.IncludeUsage {
			u := base
			u.Choices = []chunkChoice{}
			u.Usage = &chatUsage{
				PromptTokens:     s.promptTokens,
				CompletionTokens: s.completionTokens(),
				TotalTokens:      s.promptTokens + s.completionTokens(),
			}
			send(u)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		rc.Flush()
	}
}

// toolCallFragments splits a call the way streaming servers do: the first
// fragment carries id and name, the rest carry argument pieces only.
func toolCallFragments(index int, c *scriptedCall) []chunkDelta {
	head := deltaToolCall{Index: index, ID: c.id, Type: "function"}
	head.Function.Name = c.name
	out := []chunkDelta{{ToolCalls: []deltaToolCall{head}}}

	args := c.arguments
	for len(args) > 0 {
		n := min(8, len(args))
		frag := deltaToolCall{Index: index}
		frag.Function.Arguments = args[:n]
		out = append(out, chunkDelta{ToolCalls: []deltaToolCall{frag}})
		args = args[n:]
	}
	return out
}

func openaiModels(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data": []map[string]any{
			{"id": "mock-model", "object": "model", "created": time.Now().Unix(), "owned_by": "mock"},
		},
	})
}

func writeOpenAIError(w http.ResponseWriter, status int, typ, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"type": typ, "message": msg},
	})
}
