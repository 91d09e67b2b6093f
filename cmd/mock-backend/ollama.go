package main

import (
	"encoding/json"
	"net/http"
	"time"

	ollamaapi "github.com/ollama/ollama/api"
)

func ollamaChat(delay time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ollamaapi.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeOllamaError(w, http.StatusBadRequest, "invalid request: "+err.Error())
			return
		}

		var tools []string
		for _, t := range req.Tools {
			tools = append(tools, t.Function.Name)
		}
		lastUser := ""
		for i := len(req.Messages) - 1; i >= 0; i-- {
			if req.Messages[i].Role == "user" {
				lastUser = req.Messages[i].Content
				break
			}
		}
		s := plan(lastUser, tools, len(req.Messages))
		if s.fail {
			writeOllamaError(w, http.StatusServiceUnavailable, "model is loading")
			return
		}

		model := req.Model
		if model == "" {
			model = "mock-model"
		}
		final := ollamaapi.ChatResponse{
			Model:      model,
			CreatedAt:  time.Now().UTC(),
			Message:    ollamaapi.Message{Role: "assistant"},
			Done:       true,
			DoneReason: ollamaDoneReason(s.finish),
			Metrics: ollamaapi.Metrics{
				PromptEvalCount: s.promptTokens,
				EvalCount:       s.completionTokens(),
			},
		}

		if req.Stream != nil && !*req.Stream {
			final.Message.Content = s.text()
			final.Message.Thinking = s.reasoning()
			for _, c := range s.calls() {
				final.Message.ToolCalls = append(final.Message.ToolCalls, ollamaToolCall(c))
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(final)
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		rc := http.NewResponseController(w)
		enc := json.NewEncoder(w)
		for _, c := range s.chunks {
			if !pause(r.Context(), delay) {
				return
			}
			msg := ollamaapi.Message{Role: "assistant", Content: c.text, Thinking: c.reasoning}
			if c.call != nil {
				msg.ToolCalls = []ollamaapi.ToolCall{ollamaToolCall(c.call)}
			}
			enc.Encode(ollamaapi.ChatResponse{Model: model, CreatedAt: time.Now().UTC(), Message: msg})
			rc.Flush()
		}
		enc.Encode(final)
		rc.Flush()
	}
}

// Ollama reports "stop" even when the turn ends in tool calls.
func ollamaDoneReason(finish string) string {
	if finish == "tool_calls" {
		return "stop"
	}
	return finish
}

func ollamaToolCall(c *scriptedCall) ollamaapi.ToolCall {
	var args ollamaapi.ToolCallFunctionArguments
	json.Unmarshal([]byte(c.arguments), &args)
	return ollamaapi.ToolCall{
		ID:       c.id,
		Function: ollamaapi.ToolCallFunction{Name: c.name, Arguments: args},
	}
}

func ollamaTags(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ollamaapi.ListResponse{
		Models: []ollamaapi.ListModelResponse{{Name: "mock-model", Model: "mock-model"}},
	})
}

func writeOllamaError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
