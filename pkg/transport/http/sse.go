package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/rhuss/localresp/pkg/api"
	"github.com/rhuss/localresp/pkg/transport"
)

var (
	errWriterDone      = errors.New("response already finished")
	errStreamStarted   = errors.New("event stream already started")
	doneFrame          = []byte("data: [DONE]\n\n")
	streamHeaderValues = [][2]string{
		{"Content-Type", "text/event-stream"},
		{"Cache-Control", "no-cache"},
		{"Connection", "keep-alive"},
		{"X-Accel-Buffering", "no"},
	}
)

// writeMode records which of the two output shapes a writer committed to.
type writeMode uint8

const (
	modeUnset writeMode = iota
	modeEvents
	modeDone
)

// sseResponseWriter answers a single request either as one JSON body or
// as a server-sent event stream ending in a [DONE] marker. The first
// write decides which.
type sseResponseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController

	mu      sync.Mutex
	mode    writeMode
	nextSeq int
}

var _ transport.ResponseWriter = (*sseResponseWriter)(nil)

func newSSEResponseWriter(w http.ResponseWriter) *sseResponseWriter {
	return &sseResponseWriter{w: w, rc: http.NewResponseController(w)}
}

func writeFrame(w io.Writer, name string, payload []byte) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload)
	return err
}

// WriteEvent sends event as one frame and flushes it. A terminal event is
// followed by the [DONE] marker and closes the writer.
func (s *sseResponseWriter) WriteEvent(ctx context.Context, event api.StreamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == modeDone {
		return errWriterDone
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Type, err)
	}
	if s.mode == modeUnset {
		h := s.w.Header()
		for _, kv := range streamHeaderValues {
			h.Set(kv[0], kv[1])
		}
		s.mode = modeEvents
	}

	if err := writeFrame(s.w, string(event.Type), payload); err != nil {
		return fmt.Errorf("write %s event: %w", event.Type, err)
	}
	s.nextSeq = event.SequenceNumber + 1
	if event.Type.IsTerminal() {
		s.mode = modeDone
		if _, err := s.w.Write(doneFrame); err != nil {
			return fmt.Errorf("write done marker: %w", err)
		}
	}
	return s.rc.Flush()
}

// WriteResponse sends resp as a JSON body. It fails once an event has
// been written.
func (s *sseResponseWriter) WriteResponse(_ context.Context, resp *api.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.mode {
	case modeEvents:
		return errStreamStarted
	case modeDone:
		return errWriterDone
	}
	s.mode = modeDone
	s.w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(s.w).Encode(resp); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	return nil
}

func (s *sseResponseWriter) Flush() error {
	return s.rc.Flush()
}

// hasWritten reports whether anything was sent to the client.
func (s *sseResponseWriter) hasWritten() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode != modeUnset
}

// openStream reports whether an event stream was started and not yet
// terminated. It returns the sequence number the next event must carry.
func (s *sseResponseWriter) openStream() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSeq, s.mode == modeEvents
}
