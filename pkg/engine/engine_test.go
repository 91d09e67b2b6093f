package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/rhuss/localresp/pkg/api"
	"github.com/rhuss/localresp/pkg/backend"
	"github.com/rhuss/localresp/pkg/storage"
	"github.com/rhuss/localresp/pkg/transport"
)

// scriptedBackend implements backend.Backend by replaying a fixed list of
// token events through backend.Start.
type scriptedBackend struct {
	mu      sync.Mutex
	events  []backend.TokenEvent
	err     error
	block   bool // keep the stream open after the script until cancelled
	calls   int
	lastReq *backend.Request
}

func (b *scriptedBackend) Name() string { return "scripted" }
func (b *scriptedBackend) Close() error { return nil }

func (b *scriptedBackend) Stream(ctx context.Context, req *backend.Request) (*backend.Stream, error) {
	b.mu.Lock()
	b.calls++
	b.lastReq = req
	b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	return backend.Start(ctx, backend.Timeouts{}, func(ctx context.Context, emit func(backend.TokenEvent) error) error {
		for _, ev := range b.events {
			if err := emit(ev); err != nil {
				return err
			}
		}
		if b.block {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})
}

// recordingWriter implements transport.ResponseWriter and keeps everything
// written to it.
type recordingWriter struct {
	events   []api.StreamEvent
	response *api.Response
	onEvent  func(api.StreamEvent) error
}

func (w *recordingWriter) WriteEvent(_ context.Context, ev api.StreamEvent) error {
	if w.onEvent != nil {
		if err := w.onEvent(ev); err != nil {
			return err
		}
	}
	w.events = append(w.events, ev)
	return nil
}

func (w *recordingWriter) WriteResponse(_ context.Context, resp *api.Response) error {
	w.response = resp
	return nil
}

func (w *recordingWriter) Flush() error { return nil }

// fakeStore implements transport.ResponseStore in memory.
type fakeStore struct {
	mu        sync.Mutex
	responses map[string]api.Response
	inputs    map[string][]api.Item
	saveErr   error
	saves     int
}

var _ transport.ResponseStore = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		responses: make(map[string]api.Response),
		inputs:    make(map[string][]api.Item),
	}
}

func (s *fakeStore) SaveResponse(_ context.Context, resp *api.Response, input []api.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.responses[resp.ID] = *resp
	s.inputs[resp.ID] = input
	return nil
}

func (s *fakeStore) GetResponse(_ context.Context, id string) (*api.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.responses[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &resp, nil
}

func (s *fakeStore) GetInputItems(_ context.Context, id string) ([]api.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	input, ok := s.inputs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return input, nil
}

func (s *fakeStore) DeleteResponse(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.responses, id)
	delete(s.inputs, id)
	return nil
}

func (s *fakeStore) HealthCheck(_ context.Context) error { return nil }
func (s *fakeStore) Close() error                        { return nil }

func userMessage(text string) api.Item {
	return api.Item{
		Type: api.ItemTypeMessage,
		Message: &api.MessageData{
			Role:    api.RoleUser,
			Content: []api.ContentPart{{Type: "input_text", Text: text}},
		},
	}
}

func assistantMessage(text string) api.Item {
	return api.Item{
		ID:     api.NewItemID(api.ItemTypeMessage),
		Type:   api.ItemTypeMessage,
		Status: api.ItemStatusCompleted,
		Message: &api.MessageData{
			Role:   api.RoleAssistant,
			Output: []api.OutputContentPart{{Type: "output_text", Text: text}},
		},
	}
}

func textScript(parts ...string) []backend.TokenEvent {
	var evs []backend.TokenEvent
	for _, p := range parts {
		evs = append(evs, backend.TextDelta(p))
	}
	return append(evs, backend.Finish(backend.FinishStop, &backend.Usage{InputTokens: 4, OutputTokens: len(parts)}))
}

func newTestEngine(t *testing.T, b backend.Backend, store transport.ResponseStore, cfg Config) *Engine {
	t.Helper()
	e, err := New(b, store, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestNew_NilBackend(t *testing.T) {
	if _, err := New(nil, nil, Config{}); err == nil {
		t.Fatal("expected error for nil backend")
	}
}

func TestCreateResponse_Streaming(t *testing.T) {
	b := &scriptedBackend{events: textScript("Hello", ", ", "world")}
	store := newFakeStore()
	e := newTestEngine(t, b, store, Config{})

	w := &recordingWriter{}
	w.onEvent = func(ev api.StreamEvent) error {
		if !ev.Type.IsTerminal() {
			return nil
		}
		// The response must be retrievable once its terminal event is out.
		saved, err := store.GetResponse(context.Background(), ev.Response.ID)
		if err != nil {
			t.Errorf("response not persisted before terminal event: %v", err)
			return nil
		}
		if saved.Status != api.ResponseStatusCompleted {
			t.Errorf("persisted status = %s", saved.Status)
		}
		return nil
	}

	req := &api.CreateResponseRequest{
		Model:  "llama3",
		Stream: true,
		Input:  api.InputItems{userMessage("hi")},
	}
	if err := e.CreateResponse(context.Background(), req, w); err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}

	checkSequence(t, w.events)
	if w.response != nil {
		t.Error("streaming request also received WriteResponse")
	}
	final := w.events[len(w.events)-1].Response
	if final.Status != api.ResponseStatusCompleted {
		t.Errorf("status = %s", final.Status)
	}
	if got := final.Output[0].Message.Text(); got != "Hello, world" {
		t.Errorf("text = %q", got)
	}
	if final.Usage == nil || final.Usage.InputTokens != 4 || final.Usage.OutputTokens != 3 || final.Usage.TotalTokens != 7 {
		t.Errorf("usage = %+v", final.Usage)
	}
	if !strings.HasPrefix(final.ID, "resp_") {
		t.Errorf("id = %q", final.ID)
	}

	input, err := store.GetInputItems(context.Background(), final.ID)
	if err != nil {
		t.Fatalf("GetInputItems: %v", err)
	}
	if len(input) != 1 || input[0].ID == "" {
		t.Errorf("stored input = %+v, want one item with an id", input)
	}
	if req.Input[0].ID != "" {
		t.Error("request input was modified")
	}
}

func TestCreateResponse_NonStreaming(t *testing.T) {
	b := &scriptedBackend{events: textScript("four")}
	e := newTestEngine(t, b, nil, Config{})

	w := &recordingWriter{}
	req := &api.CreateResponseRequest{Model: "llama3", Input: api.InputItems{userMessage("2+2?")}}
	if err := e.CreateResponse(context.Background(), req, w); err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}
	if len(w.events) != 0 {
		t.Errorf("non-streaming request received %d events", len(w.events))
	}
	if w.response == nil {
		t.Fatal("no response written")
	}
	if w.response.Status != api.ResponseStatusCompleted {
		t.Errorf("status = %s", w.response.Status)
	}
	if w.response.Object != "response" || w.response.Model != "llama3" {
		t.Errorf("response = %+v", w.response)
	}
	if w.response.Tools == nil || w.response.Metadata == nil {
		t.Error("tools and metadata must be echoed as empty, not null")
	}
	if !w.response.ParallelToolCalls {
		t.Error("parallel_tool_calls should default to true")
	}
}

func TestCreateResponse_ValidationError(t *testing.T) {
	b := &scriptedBackend{events: textScript("x")}
	e := newTestEngine(t, b, nil, Config{})

	w := &recordingWriter{}
	err := e.CreateResponse(context.Background(), &api.CreateResponseRequest{Input: api.InputItems{userMessage("hi")}}, w)
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *api.APIError, got %v", err)
	}
	if apiErr.Kind() != api.KindValidation || apiErr.Param != "model" {
		t.Errorf("error = %+v", apiErr)
	}
	if b.calls != 0 {
		t.Error("backend called for an invalid request")
	}
	if len(w.events) != 0 || w.response != nil {
		t.Error("writer used for an invalid request")
	}
}

func TestCreateResponse_DefaultsApplied(t *testing.T) {
	b := &scriptedBackend{events: textScript("ok")}
	temp := 0.2
	e := newTestEngine(t, b, nil, Config{
		DefaultModel:           "qwen2",
		DefaultTemperature:     &temp,
		DefaultMaxOutputTokens: 64,
	})

	w := &recordingWriter{}
	req := &api.CreateResponseRequest{Input: api.InputItems{userMessage("hi")}, Instructions: "be brief"}
	if err := e.CreateResponse(context.Background(), req, w); err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}
	if b.lastReq.Model != "qwen2" {
		t.Errorf("model = %q", b.lastReq.Model)
	}
	if b.lastReq.Temperature == nil || *b.lastReq.Temperature != 0.2 {
		t.Errorf("temperature = %v", b.lastReq.Temperature)
	}
	if b.lastReq.MaxTokens == nil || *b.lastReq.MaxTokens != 64 {
		t.Errorf("max tokens = %v", b.lastReq.MaxTokens)
	}
	if b.lastReq.Messages[0].Role != backend.RoleSystem || b.lastReq.Messages[0].Content != "be brief" {
		t.Errorf("first message = %+v", b.lastReq.Messages[0])
	}
	if w.response.Instructions == nil || *w.response.Instructions != "be brief" {
		t.Errorf("instructions not echoed: %v", w.response.Instructions)
	}
	if req.Model != "" {
		t.Error("request was modified in place")
	}
}

func TestCreateResponse_BackendErrorsBeforeOutput(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"unavailable", backend.Unavailable(errors.New("connection refused"), ""), api.CodeBackendUnavailable},
		{"timeout", backend.Timeout(nil, "no output"), api.CodeBackendTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &scriptedBackend{err: tt.err}
			store := newFakeStore()
			e := newTestEngine(t, b, store, Config{})

			w := &recordingWriter{}
			err := e.CreateResponse(context.Background(), &api.CreateResponseRequest{
				Model: "m", Stream: true, Input: api.InputItems{userMessage("hi")},
			}, w)
			var apiErr *api.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *api.APIError, got %v", err)
			}
			if apiErr.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", apiErr.Code, tt.wantCode)
			}
			if len(w.events) != 0 {
				t.Errorf("%d events written before failure", len(w.events))
			}
			if store.saves != 0 {
				t.Error("failed-before-output response was persisted")
			}
		})
	}
}

func TestCreateResponse_NonStreamingFailureAfterOutput(t *testing.T) {
	b := &scriptedBackend{events: []backend.TokenEvent{
		backend.TextDelta("par"),
		backend.FinishWithError(backend.Unavailable(nil, "backend crashed")),
	}}
	store := newFakeStore()
	e := newTestEngine(t, b, store, Config{})

	w := &recordingWriter{}
	err := e.CreateResponse(context.Background(), &api.CreateResponseRequest{
		Model: "m", Input: api.InputItems{userMessage("hi")},
	}, w)
	if err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}
	if w.response == nil || w.response.Status != api.ResponseStatusFailed {
		t.Fatalf("response = %+v, want failed", w.response)
	}
	if w.response.Error == nil || w.response.Error.Code != api.CodeBackendUnavailable {
		t.Errorf("error = %+v", w.response.Error)
	}
	saved, err := store.GetResponse(context.Background(), w.response.ID)
	if err != nil {
		t.Fatalf("failed response not persisted: %v", err)
	}
	if saved.Status != api.ResponseStatusFailed {
		t.Errorf("persisted status = %s", saved.Status)
	}
}

func TestCreateResponse_StoreDisabled(t *testing.T) {
	b := &scriptedBackend{events: textScript("x")}
	store := newFakeStore()
	e := newTestEngine(t, b, store, Config{})

	off := false
	w := &recordingWriter{}
	err := e.CreateResponse(context.Background(), &api.CreateResponseRequest{
		Model: "m", Store: &off, Input: api.InputItems{userMessage("hi")},
	}, w)
	if err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}
	if store.saves != 0 {
		t.Errorf("store=false response saved %d times", store.saves)
	}
	if w.response.Store {
		t.Error("store flag not echoed as false")
	}
}

func TestCreateResponse_StoreFailureIsAWarning(t *testing.T) {
	b := &scriptedBackend{events: textScript("x")}
	store := newFakeStore()
	store.saveErr = errors.New("disk full")

	var warnings []string
	e := newTestEngine(t, b, store, Config{
		Warn: func(_ context.Context, op string, err error) {
			warnings = append(warnings, op+": "+err.Error())
		},
	})

	w := &recordingWriter{}
	err := e.CreateResponse(context.Background(), &api.CreateResponseRequest{
		Model: "m", Stream: true, Input: api.InputItems{userMessage("hi")},
	}, w)
	if err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}
	if len(warnings) != 1 || warnings[0] != "save: disk full" {
		t.Errorf("warnings = %v", warnings)
	}
	if last := w.events[len(w.events)-1]; last.Type != api.EventResponseCompleted {
		t.Errorf("terminal event = %s, want completed", last.Type)
	}
}

func TestCreateResponse_ConversationChain(t *testing.T) {
	store := newFakeStore()
	prev := &api.Response{ID: "resp_prev", Status: api.ResponseStatusCompleted, Output: []api.Item{assistantMessage("Paris.")}}
	_ = store.SaveResponse(context.Background(), prev, []api.Item{userMessage("Capital of France?")})

	b := &scriptedBackend{events: textScript("About 2 million.")}
	e := newTestEngine(t, b, store, Config{})

	w := &recordingWriter{}
	err := e.CreateResponse(context.Background(), &api.CreateResponseRequest{
		Model:              "m",
		PreviousResponseID: "resp_prev",
		Input:              api.InputItems{userMessage("Population?")},
	}, w)
	if err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}

	msgs := b.lastReq.Messages
	want := []struct{ role, content string }{
		{backend.RoleUser, "Capital of France?"},
		{backend.RoleAssistant, "Paris."},
		{backend.RoleUser, "Population?"},
	}
	if len(msgs) != len(want) {
		t.Fatalf("got %d messages, want %d: %+v", len(msgs), len(want), msgs)
	}
	for i, m := range want {
		if msgs[i].Role != m.role || msgs[i].Content != m.content {
			t.Errorf("message %d = %s %q, want %s %q", i, msgs[i].Role, msgs[i].Content, m.role, m.content)
		}
	}
	if w.response.PreviousResponseID == nil || *w.response.PreviousResponseID != "resp_prev" {
		t.Errorf("previous_response_id = %v", w.response.PreviousResponseID)
	}

	// Only the request's own input is stored with the new response.
	input, _ := store.GetInputItems(context.Background(), w.response.ID)
	if len(input) != 1 || input[0].Message.Text() != "Population?" {
		t.Errorf("stored input = %+v", input)
	}
}

func TestCreateResponse_PreviousResponseNotFound(t *testing.T) {
	b := &scriptedBackend{events: textScript("x")}
	e := newTestEngine(t, b, newFakeStore(), Config{})

	err := e.CreateResponse(context.Background(), &api.CreateResponseRequest{
		Model: "m", PreviousResponseID: "resp_missing", Input: api.InputItems{userMessage("hi")},
	}, &recordingWriter{})
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Kind() != api.KindValidation {
		t.Fatalf("expected invalid request error, got %v", err)
	}
	if apiErr.Param != "previous_response_id" {
		t.Errorf("param = %q", apiErr.Param)
	}
	if b.calls != 0 {
		t.Error("backend called for a broken chain")
	}
}

func TestCreateResponse_ClientDisconnect(t *testing.T) {
	b := &scriptedBackend{events: textScript("a", "b", "c")}
	store := newFakeStore()
	e := newTestEngine(t, b, store, Config{})

	gone := errors.New("broken pipe")
	w := &recordingWriter{}
	w.onEvent = func(ev api.StreamEvent) error {
		if ev.Type == api.EventOutputTextDelta {
			return gone
		}
		return nil
	}

	err := e.CreateResponse(context.Background(), &api.CreateResponseRequest{
		Model: "m", Stream: true, Input: api.InputItems{userMessage("hi")},
	}, w)
	if api.KindOf(err) != api.KindStreamAborted {
		t.Fatalf("expected cancelled error, got %v", err)
	}
	for _, ev := range w.events {
		if ev.Type.IsTerminal() {
			t.Errorf("terminal event %s written after disconnect", ev.Type)
		}
	}

	id := w.events[0].Response.ID
	saved, err := store.GetResponse(context.Background(), id)
	if err != nil {
		t.Fatalf("cancelled response not persisted: %v", err)
	}
	if saved.Status != api.ResponseStatusCancelled {
		t.Errorf("persisted status = %s, want cancelled", saved.Status)
	}
}

func TestCreateResponse_ContextCancelledMidStream(t *testing.T) {
	b := &scriptedBackend{events: []backend.TokenEvent{backend.TextDelta("thinking...")}, block: true}
	store := newFakeStore()
	e := newTestEngine(t, b, store, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var id string
	ctx = transport.ContextWithInFlight(ctx, func(rid string) { id = rid })

	w := &recordingWriter{}
	w.onEvent = func(ev api.StreamEvent) error {
		if ev.Type == api.EventOutputTextDelta {
			cancel()
		}
		return nil
	}

	err := e.CreateResponse(ctx, &api.CreateResponseRequest{
		Model: "m", Stream: true, Input: api.InputItems{userMessage("hi")},
	}, w)
	if api.KindOf(err) != api.KindStreamAborted {
		t.Fatalf("expected cancelled error, got %v", err)
	}
	if id == "" {
		t.Fatal("response id was not registered as in flight")
	}
	saved, err := store.GetResponse(context.Background(), id)
	if err != nil {
		t.Fatalf("cancelled response not persisted: %v", err)
	}
	if saved.Status != api.ResponseStatusCancelled {
		t.Errorf("status = %s, want cancelled", saved.Status)
	}
	if got := saved.Output[0].Message.Text(); got != "thinking..." {
		t.Errorf("partial output = %q", got)
	}
}

func TestCreateResponse_DebugMetadata(t *testing.T) {
	b := &scriptedBackend{events: textScript("raw text")}
	e := newTestEngine(t, b, nil, Config{})

	w := &recordingWriter{}
	err := e.CreateResponse(context.Background(), &api.CreateResponseRequest{
		Model:    "m",
		Input:    api.InputItems{userMessage("hi")},
		Metadata: map[string]any{"__debug": true},
	}, w)
	if err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}
	md := w.response.Metadata
	if in, _ := md[debugInputKey].(string); !strings.Contains(in, `"hi"`) {
		t.Errorf("%s = %q", debugInputKey, in)
	}
	if out, _ := md[debugOutputKey].(string); out != "raw text" {
		t.Errorf("%s = %q", debugOutputKey, out)
	}
}

func TestCreateResponse_Spans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	b := &scriptedBackend{events: textScript("x")}
	e := newTestEngine(t, b, nil, Config{})
	err := e.CreateResponse(context.Background(), &api.CreateResponseRequest{
		Model: "m", Input: api.InputItems{userMessage("hi")},
	}, &recordingWriter{})
	if err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}

	names := map[string]bool{}
	for _, s := range exporter.GetSpans() {
		names[s.Name] = true
	}
	for _, want := range []string{"responses.create", "backend.stream"} {
		if !names[want] {
			t.Errorf("span %q not recorded; got %v", want, names)
		}
	}
}
