package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rhuss/localresp/pkg/api"
)

func TestWriteResponseJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	w := newSSEResponseWriter(rec)

	resp := &api.Response{ID: "resp_jsonABCDEFGHIJ1234567890", Object: "response", Status: api.ResponseStatusCompleted}
	if err := w.WriteResponse(context.Background(), resp); err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var got api.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != resp.ID || got.Status != api.ResponseStatusCompleted {
		t.Errorf("got %+v", got)
	}
}

func TestWriteEventSSEFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	w := newSSEResponseWriter(rec)

	err := w.WriteEvent(context.Background(), api.StreamEvent{
		Type:           api.EventOutputTextDelta,
		SequenceNumber: 3,
		ItemID:         "msg_1",
		Delta:          "Hello",
	})
	if err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}

	body := rec.Body.String()
	if !strings.HasPrefix(body, "event: response.output_text.delta\ndata: ") {
		t.Errorf("unexpected frame start: %q", body)
	}
	if !strings.HasSuffix(body, "\n\n") {
		t.Errorf("frame not terminated by a blank line: %q", body)
	}

	data := strings.TrimSuffix(strings.TrimPrefix(body, "event: response.output_text.delta\ndata: "), "\n\n")
	var payload map[string]any
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		t.Fatalf("data is not JSON: %v", err)
	}
	if payload["delta"] != "Hello" || payload["sequence_number"] != float64(3) {
		t.Errorf("payload = %v", payload)
	}
}

func TestWriteEventSSEHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	w := newSSEResponseWriter(rec)
	_ = w.WriteEvent(context.Background(), api.StreamEvent{Type: api.EventResponseCreated, Response: &api.Response{}})

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q", cc)
	}
}

func TestWriteEventTerminalSendsDone(t *testing.T) {
	rec := httptest.NewRecorder()
	w := newSSEResponseWriter(rec)

	_ = w.WriteEvent(context.Background(), api.StreamEvent{Type: api.EventResponseCreated, Response: &api.Response{}})
	err := w.WriteEvent(context.Background(), api.StreamEvent{
		Type:           api.EventResponseCompleted,
		SequenceNumber: 1,
		Response:       &api.Response{Status: api.ResponseStatusCompleted},
	})
	if err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	if !strings.HasSuffix(rec.Body.String(), "data: [DONE]\n\n") {
		t.Errorf("missing [DONE] after terminal event: %q", rec.Body.String())
	}
	if _, open := w.openStream(); open {
		t.Error("stream still open after terminal event")
	}
}

func TestWriteEventAfterTerminalReturnsError(t *testing.T) {
	rec := httptest.NewRecorder()
	w := newSSEResponseWriter(rec)
	_ = w.WriteEvent(context.Background(), api.StreamEvent{Type: api.EventResponseFailed, Response: &api.Response{}})

	if err := w.WriteEvent(context.Background(), api.StreamEvent{Type: api.EventOutputTextDelta}); err == nil {
		t.Error("expected error writing after a terminal event")
	}
}

func TestWriteEventCancelledContext(t *testing.T) {
	rec := httptest.NewRecorder()
	w := newSSEResponseWriter(rec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.WriteEvent(ctx, api.StreamEvent{Type: api.EventResponseCreated, Response: &api.Response{}}); err == nil {
		t.Fatal("expected error for a cancelled context")
	}
	if rec.Body.Len() != 0 {
		t.Errorf("wrote %d bytes for a cancelled context", rec.Body.Len())
	}
}

func TestWriteResponseAfterWriteEventReturnsError(t *testing.T) {
	rec := httptest.NewRecorder()
	w := newSSEResponseWriter(rec)
	_ = w.WriteEvent(context.Background(), api.StreamEvent{Type: api.EventResponseCreated, Response: &api.Response{}})

	if err := w.WriteResponse(context.Background(), &api.Response{}); !errors.Is(err, errStreamStarted) {
		t.Errorf("err = %v, want errStreamStarted", err)
	}
}

func TestWriteEventAfterWriteResponseReturnsError(t *testing.T) {
	rec := httptest.NewRecorder()
	w := newSSEResponseWriter(rec)
	_ = w.WriteResponse(context.Background(), &api.Response{})

	if err := w.WriteEvent(context.Background(), api.StreamEvent{Type: api.EventResponseCreated, Response: &api.Response{}}); !errors.Is(err, errWriterDone) {
		t.Errorf("err = %v, want errWriterDone", err)
	}
}

func TestOpenStreamTracksSequence(t *testing.T) {
	rec := httptest.NewRecorder()
	w := newSSEResponseWriter(rec)

	if _, open := w.openStream(); open {
		t.Error("idle writer reported an open stream")
	}
	_ = w.WriteEvent(context.Background(), api.StreamEvent{Type: api.EventResponseCreated, Response: &api.Response{}})
	_ = w.WriteEvent(context.Background(), api.StreamEvent{Type: api.EventOutputTextDelta, SequenceNumber: 1, Delta: "x"})

	seq, open := w.openStream()
	if !open || seq != 2 {
		t.Errorf("openStream = %d, %v; want 2, true", seq, open)
	}
}
