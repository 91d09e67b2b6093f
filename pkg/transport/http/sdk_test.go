package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	gohttp "net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"

	"github.com/rhuss/localresp/pkg/backend/ollama"
	"github.com/rhuss/localresp/pkg/engine"
)

// fakeOllama answers /api/chat with queued NDJSON scripts and records the
// decoded requests.
type fakeOllama struct {
	mu       sync.Mutex
	scripts  [][]string
	requests []map[string]any
}

func (f *fakeOllama) ServeHTTP(w gohttp.ResponseWriter, r *gohttp.Request) {
	if r.URL.Path != "/api/chat" {
		gohttp.NotFound(w, r)
		return
	}
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.requests = append(f.requests, body)
	var lines []string
	if len(f.scripts) > 0 {
		lines, f.scripts = f.scripts[0], f.scripts[1:]
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/x-ndjson")
	for _, l := range lines {
		fmt.Fprintln(w, l)
		w.(gohttp.Flusher).Flush()
	}
}

func (f *fakeOllama) messages(i int) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs, _ := f.requests[i]["messages"].([]any)
	return msgs
}

func textReply(parts ...string) []string {
	var lines []string
	for _, p := range parts {
		lines = append(lines, fmt.Sprintf(`{"model":"llama3","message":{"role":"assistant","content":%q},"done":false}`, p))
	}
	return append(lines, `{"model":"llama3","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":9,"eval_count":3}`)
}

// newStack wires the Ollama adapter, the engine and the HTTP server the way
// the serve command does, and returns an SDK client pointed at it.
func newStack(t *testing.T, fake *fakeOllama) (openai.Client, *mockStore) {
	t.Helper()
	upstream := httptest.NewServer(fake)
	t.Cleanup(upstream.Close)

	b, err := ollama.New(ollama.Config{BaseURL: upstream.URL})
	if err != nil {
		t.Fatalf("ollama.New: %v", err)
	}
	store := newMockStore()
	eng, err := engine.New(b, store, engine.Config{})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	srv := httptest.NewServer(NewServer(eng, store).Handler())
	t.Cleanup(srv.Close)

	client := openai.NewClient(
		option.WithBaseURL(srv.URL+"/v1/"),
		option.WithAPIKey("unused"),
		option.WithMaxRetries(0),
	)
	return client, store
}

func TestOpenAISDK_ResponsesAndChaining(t *testing.T) {
	fake := &fakeOllama{scripts: [][]string{
		textReply("Paris", " is the capital."),
		textReply("About 2 million."),
	}}
	client, _ := newStack(t, fake)
	ctx := context.Background()

	first, err := client.Responses.New(ctx, responses.ResponseNewParams{
		Model: shared.ResponsesModel("llama3"),
		Input: responses.ResponseNewParamsInputUnion{OfString: openai.String("Capital of France?")},
	})
	if err != nil {
		t.Fatalf("Responses.New: %v", err)
	}
	if first.OutputText() != "Paris is the capital." {
		t.Errorf("output text = %q", first.OutputText())
	}
	if first.Status != responses.ResponseStatusCompleted {
		t.Errorf("status = %q", first.Status)
	}
	if first.Usage.InputTokens != 9 || first.Usage.OutputTokens != 3 || first.Usage.TotalTokens != 12 {
		t.Errorf("usage = %+v", first.Usage)
	}

	got, err := client.Responses.Get(ctx, first.ID, responses.ResponseGetParams{})
	if err != nil {
		t.Fatalf("Responses.Get: %v", err)
	}
	if got.OutputText() != first.OutputText() {
		t.Errorf("stored output = %q", got.OutputText())
	}

	second, err := client.Responses.New(ctx, responses.ResponseNewParams{
		Model:              shared.ResponsesModel("llama3"),
		PreviousResponseID: openai.String(first.ID),
		Input:              responses.ResponseNewParamsInputUnion{OfString: openai.String("Population?")},
	})
	if err != nil {
		t.Fatalf("chained Responses.New: %v", err)
	}
	if second.OutputText() != "About 2 million." {
		t.Errorf("second output = %q", second.OutputText())
	}
	if msgs := fake.messages(1); len(msgs) != 3 {
		t.Errorf("chained request sent %d messages to the backend, want 3", len(msgs))
	}
}

func TestOpenAISDK_Streaming(t *testing.T) {
	fake := &fakeOllama{scripts: [][]string{textReply("Hel", "lo")}}
	client, store := newStack(t, fake)

	stream := client.Responses.NewStreaming(context.Background(), responses.ResponseNewParams{
		Model: shared.ResponsesModel("llama3"),
		Input: responses.ResponseNewParamsInputUnion{OfString: openai.String("hi")},
	})

	var types []string
	var seq []int64
	var final responses.Response
	for stream.Next() {
		ev := stream.Current()
		types = append(types, ev.Type)
		seq = append(seq, ev.SequenceNumber)
		if ev.Type == "response.completed" {
			final = ev.Response
		}
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("stream: %v", err)
	}

	want := []string{
		"response.created",
		"response.output_item.added",
		"response.content_part.added",
		"response.output_text.delta",
		"response.output_text.delta",
		"response.output_item.done",
		"response.completed",
	}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, types[i], want[i])
		}
		if seq[i] != int64(i) {
			t.Errorf("event %d sequence_number = %d", i, seq[i])
		}
	}
	if final.OutputText() != "Hello" {
		t.Errorf("final output = %q", final.OutputText())
	}
	if _, err := store.GetResponse(context.Background(), final.ID); err != nil {
		t.Errorf("streamed response not stored: %v", err)
	}
}

func TestOpenAISDK_ToolCall(t *testing.T) {
	fake := &fakeOllama{scripts: [][]string{{
		`{"model":"llama3","message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"get_weather","arguments":{"city":"Paris"}}}]},"done":false}`,
		`{"model":"llama3","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":20,"eval_count":8}`,
	}}}
	client, _ := newStack(t, fake)

	resp, err := client.Responses.New(context.Background(), responses.ResponseNewParams{
		Model: shared.ResponsesModel("llama3"),
		Input: responses.ResponseNewParamsInputUnion{OfString: openai.String("Weather in Paris?")},
		Tools: []responses.ToolUnionParam{{
			OfFunction: &responses.FunctionToolParam{
				Name:   "get_weather",
				Strict: openai.Bool(false),
				Parameters: map[string]any{
					"type":       "object",
					"properties": map[string]any{"city": map[string]any{"type": "string"}},
				},
			},
		}},
	})
	if err != nil {
		t.Fatalf("Responses.New: %v", err)
	}
	if len(resp.Output) != 1 {
		t.Fatalf("got %d output items, want 1", len(resp.Output))
	}
	item := resp.Output[0]
	if item.Type != "function_call" || item.Name != "get_weather" || item.CallID == "" {
		t.Errorf("item = %+v", item)
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(item.Arguments), &args); err != nil || args["city"] != "Paris" {
		t.Errorf("arguments = %q", item.Arguments)
	}
}

func TestOpenAISDK_BackendDown(t *testing.T) {
	store := newMockStore()
	b, err := ollama.New(ollama.Config{BaseURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatal(err)
	}
	eng, _ := engine.New(b, store, engine.Config{})
	srv := httptest.NewServer(NewServer(eng, store).Handler())
	defer srv.Close()

	client := openai.NewClient(option.WithBaseURL(srv.URL+"/v1/"), option.WithAPIKey("unused"), option.WithMaxRetries(0))
	_, err = client.Responses.New(context.Background(), responses.ResponseNewParams{
		Model: shared.ResponsesModel("llama3"),
		Input: responses.ResponseNewParamsInputUnion{OfString: openai.String("hi")},
	})
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *openai.Error, got %v", err)
	}
	if apiErr.StatusCode != gohttp.StatusBadGateway {
		t.Errorf("status = %d, want 502", apiErr.StatusCode)
	}
}
