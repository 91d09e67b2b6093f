package engine

import (
	"context"
	"encoding/json"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rhuss/localresp/pkg/api"
	"github.com/rhuss/localresp/pkg/backend"
	"github.com/rhuss/localresp/pkg/transport"
)

// WebSearcher runs searches for the web_search tool. The returned text is
// handed to the model as the tool result.
type WebSearcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// webSearchTool is what the backend model sees for a web_search request tool.
var webSearchTool = backend.Tool{
	Name:        api.WebSearchToolName,
	Description: "Search the web for current information. Returns titles, URLs and snippets.",
	Parameters:  json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"Search query"}},"required":["query"]}`),
}

// runTools executes the served calls the assembler is holding, resolves
// their items and appends the exchange to the backend conversation so the
// next turn sees the results.
func (r *run) runTools(ctx context.Context) error {
	calls := r.asm.PendingTools()
	assistant := backend.Message{Role: backend.RoleAssistant}
	results := make([]backend.Message, 0, len(calls))

	for _, call := range calls {
		output, ok := r.engine.search(ctx, call)
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.write(ctx, r.asm.ResolveTool(call.CallID, ok)); err != nil {
			return err
		}
		assistant.ToolCalls = append(assistant.ToolCalls, backend.ToolCall{
			ID:        call.CallID,
			Name:      call.Name,
			Arguments: call.Arguments,
		})
		results = append(results, backend.Message{
			Role:       backend.RoleTool,
			Content:    output,
			ToolCallID: call.CallID,
			ToolName:   call.Name,
		})
	}

	r.breq.Messages = append(r.breq.Messages, assistant)
	r.breq.Messages = append(r.breq.Messages, results...)
	// A required tool call was satisfied by the search.
	if r.breq.ToolChoice == "required" && r.breq.ForcedTool == "" {
		r.breq.ToolChoice = "auto"
	}
	r.asm.Resume()
	return nil
}

// search runs one web_search call. The model receives the output in every
// case; ok is false when no search results were produced.
func (e *Engine) search(ctx context.Context, call ToolCall) (output string, ok bool) {
	ctx, span := e.tracer.Start(ctx, "tool.web_search", trace.WithAttributes(
		attribute.String("tool.call_id", call.CallID),
		attribute.String("tool.query", call.Query),
	))
	defer span.End()

	if call.Err != nil {
		recordSpanError(span, call.Err)
		return "invalid arguments: " + call.Err.Error(), false
	}
	out, err := e.cfg.WebSearch.Search(ctx, call.Query)
	if err != nil {
		recordSpanError(span, err)
		slog.WarnContext(ctx, "web search failed",
			"call_id", call.CallID,
			"request_id", transport.RequestIDFromContext(ctx),
			"error", err)
		return "search failed: " + err.Error(), false
	}
	return out, true
}
