package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/localresp/pkg/api"
	"github.com/rhuss/localresp/pkg/debug"
	"github.com/rhuss/localresp/pkg/observability"
	"github.com/rhuss/localresp/pkg/storage"
	"github.com/rhuss/localresp/pkg/transport"
)

// Adapter serves the Responses API over HTTP.
// It routes requests to the appropriate handler and serializes responses.
type Adapter struct {
	creator  transport.ResponseCreator
	store    transport.ResponseStore // nil if stateless-only
	inflight *transport.InFlightRegistry
	mux      *http.ServeMux
	config   Config
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	MaxBodySize int64

	// MetricsPath is where Prometheus metrics are served. Empty disables
	// the endpoint.
	MetricsPath string

	// HealthTimeout bounds the store check behind /healthz.
	HealthTimeout time.Duration
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		MaxBodySize:   10 << 20, // 10 MB
		MetricsPath:   "/metrics",
		HealthTimeout: 2 * time.Second,
	}
}

// NewAdapter creates an HTTP adapter with the given ResponseCreator and options.
// The ResponseStore is optional; when nil, GET and DELETE endpoints return
// an error indicating the operation is not available.
// Middleware is applied to the ResponseCreator in the given order.
func NewAdapter(creator transport.ResponseCreator, store transport.ResponseStore, cfg Config, middlewares ...transport.Middleware) *Adapter {
	if len(middlewares) > 0 {
		creator = transport.Chain(middlewares...)(creator)
	}

	a := &Adapter{
		creator:  creator,
		store:    store,
		inflight: transport.NewInFlightRegistry(),
		mux:      http.NewServeMux(),
		config:   cfg,
	}

	a.mux.HandleFunc("POST /v1/responses", a.handleCreateResponse)
	a.mux.HandleFunc("GET /v1/responses/{id}/input_items", a.handleListInputItems)
	a.mux.HandleFunc("GET /v1/responses/{id}", a.handleGetResponse)
	a.mux.HandleFunc("DELETE /v1/responses/{id}", a.handleDeleteResponse)
	a.mux.HandleFunc("POST /v1/responses/{id}/cancel", a.handleCancelResponse)
	a.mux.HandleFunc("GET /healthz", a.handleHealth)
	if cfg.MetricsPath != "" {
		a.mux.Handle("GET "+cfg.MetricsPath, promhttp.Handler())
	}

	return a
}

// Handler returns the http.Handler for this adapter. Use this to integrate
// with an http.Server or test with httptest. The returned handler includes
// request ID propagation and request metrics.
func (a *Adapter) Handler() http.Handler {
	return httpRequestIDMiddleware(observability.MetricsMiddleware(a.mux))
}

// InFlight returns the number of responses currently being generated.
func (a *Adapter) InFlight() int {
	return a.inflight.Len()
}

// httpRequestIDMiddleware puts a request id on the context before any
// handler runs: the caller's X-Request-ID when it is usable, a fresh one
// otherwise. The id is echoed in the response headers.
func httpRequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(transport.RequestIDHeader)
		if !transport.ValidRequestID(id) {
			id = transport.NewRequestID()
		}
		r = r.WithContext(transport.ContextWithRequestID(r.Context(), id))
		rw := &requestIDResponseWriter{ResponseWriter: w, r: r}
		next.ServeHTTP(rw, r)
	})
}

// requestIDResponseWriter wraps http.ResponseWriter to inject the
// X-Request-ID header before the first write.
type requestIDResponseWriter struct {
	http.ResponseWriter
	r           *http.Request
	headersSent bool
}

func (w *requestIDResponseWriter) WriteHeader(statusCode int) {
	w.ensureRequestIDHeader()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *requestIDResponseWriter) Write(b []byte) (int, error) {
	w.ensureRequestIDHeader()
	return w.ResponseWriter.Write(b)
}

func (w *requestIDResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter for http.NewResponseController.
func (w *requestIDResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *requestIDResponseWriter) ensureRequestIDHeader() {
	if w.headersSent {
		return
	}
	w.headersSent = true
	if id := transport.RequestIDFromContext(w.r.Context()); id != "" {
		w.ResponseWriter.Header().Set(transport.RequestIDHeader, id)
	}
}

// handleCreateResponse handles POST /v1/responses for both the streaming
// and the non-streaming form.
func (a *Adapter) handleCreateResponse(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != "application/json" {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("content_type", "Content-Type must be application/json"),
				http.StatusUnsupportedMediaType,
			)
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
				http.StatusRequestEntityTooLarge,
			)
			return
		}
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("body", "failed to read request body: "+err.Error()),
			http.StatusBadRequest,
		)
		return
	}

	req, apiErr := api.DecodeRequest(bytes.NewReader(body))
	if apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}
	debug.Log("http", "create response", "model", req.Model, "stream", req.Stream, "input_items", len(req.Input))

	// The response id is only known once the creator allocates it. The hook
	// registers the id so DELETE and the cancel endpoint can stop this
	// request while it runs.
	ctx, cancel := context.WithCancelCause(r.Context())
	defer cancel(nil)

	var registeredID string
	ctx = transport.ContextWithInFlight(ctx, func(id string) {
		registeredID = id
		a.inflight.Register(id, cancel)
	})
	defer func() {
		if registeredID != "" {
			a.inflight.Remove(registeredID)
		}
	}()

	rw := newSSEResponseWriter(w)
	if err := a.creator.CreateResponse(ctx, req, rw); err != nil {
		a.writeHandlerError(ctx, r, w, rw, err)
	}
}

// handleGetResponse handles GET /v1/responses/{id}.
func (a *Adapter) handleGetResponse(w http.ResponseWriter, r *http.Request) {
	id, ok := a.storedID(w, r, "response retrieval")
	if !ok {
		return
	}

	resp, err := a.store.GetResponse(r.Context(), id)
	if err != nil {
		writeStoreError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListInputItems handles GET /v1/responses/{id}/input_items.
func (a *Adapter) handleListInputItems(w http.ResponseWriter, r *http.Request) {
	id, ok := a.storedID(w, r, "input items retrieval")
	if !ok {
		return
	}

	items, err := a.store.GetInputItems(r.Context(), id)
	if err != nil {
		writeStoreError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, transport.NewItemList(items))
}

// handleDeleteResponse handles DELETE /v1/responses/{id}.
// It first checks the in-flight registry (for cancelling active requests),
// then falls through to the response store for standard deletion.
func (a *Adapter) handleDeleteResponse(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !api.ValidateResponseID(id) {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("id", "malformed response ID"),
			http.StatusBadRequest,
		)
		return
	}

	if a.inflight.Cancel(id) {
		slog.InfoContext(r.Context(), "in-flight response cancelled", "response_id", id, "via", "delete")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if a.store == nil {
		writeNoStore(w, "response deletion")
		return
	}

	if err := a.store.DeleteResponse(r.Context(), id); err != nil {
		writeStoreError(w, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCancelResponse handles POST /v1/responses/{id}/cancel. Only
// responses that are still being generated can be cancelled.
func (a *Adapter) handleCancelResponse(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !api.ValidateResponseID(id) {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("id", "malformed response ID"),
			http.StatusBadRequest,
		)
		return
	}

	if !a.inflight.Cancel(id) {
		transport.WriteAPIError(w, api.NewNotFoundError("response "+id+" is not in progress"))
		return
	}
	slog.InfoContext(r.Context(), "in-flight response cancelled", "response_id", id, "via", "cancel")
	w.WriteHeader(http.StatusNoContent)
}

// handleHealth handles GET /healthz.
func (a *Adapter) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":                   "ok",
		"in_flight":                a.inflight.Len(),
		"oldest_in_flight_seconds": a.inflight.OldestAge().Seconds(),
	}
	if a.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), a.config.HealthTimeout)
		defer cancel()
		if err := a.store.HealthCheck(ctx); err != nil {
			status["status"] = "unavailable"
			status["error"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
	}
	writeJSON(w, http.StatusOK, status)
}

// storedID validates the path id for a store lookup. It writes the error
// response itself and returns false when the lookup cannot proceed.
func (a *Adapter) storedID(w http.ResponseWriter, r *http.Request, op string) (string, bool) {
	if a.store == nil {
		writeNoStore(w, op)
		return "", false
	}
	id := r.PathValue("id")
	if !api.ValidateResponseID(id) {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("id", "malformed response ID"),
			http.StatusBadRequest,
		)
		return "", false
	}
	return id, true
}

// writeHandlerError reports an error returned by the creator.
//
// Before anything was written the error becomes a JSON error response with
// the status derived from its kind. Cancellation writes nothing when the
// client is gone. If a stream was started but not terminated, a
// response.failed event closes it.
func (a *Adapter) writeHandlerError(ctx context.Context, r *http.Request, w http.ResponseWriter, rw *sseResponseWriter, err error) {
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		apiErr = api.NewServerError(err.Error())
	}

	if apiErr.Kind() == api.KindStreamAborted {
		// Explicitly cancelled while the caller still waits for a
		// non-streaming answer.
		if transport.CancelRequested(ctx) && !rw.hasWritten() {
			transport.WriteErrorResponse(w, apiErr, http.StatusConflict)
		}
		return
	}

	if seq, open := rw.openStream(); open {
		failEvent := api.StreamEvent{
			Type:           api.EventResponseFailed,
			SequenceNumber: seq,
			Response: &api.Response{
				Object: "response",
				Status: api.ResponseStatusFailed,
				Error:  apiErr,
				Output: []api.Item{},
			},
		}
		if werr := rw.WriteEvent(context.WithoutCancel(r.Context()), failEvent); werr != nil {
			slog.WarnContext(r.Context(), "failed to terminate stream", "error", werr)
		}
		return
	}
	if rw.hasWritten() {
		slog.ErrorContext(r.Context(), "error after response was written", "error", err)
		return
	}

	transport.WriteAPIError(w, apiErr)
}

func writeStoreError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		transport.WriteAPIError(w, api.NewNotFoundError("response "+id+" not found"))
		return
	}
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		transport.WriteAPIError(w, apiErr)
		return
	}
	transport.WriteAPIError(w, api.NewServerError(err.Error()))
}

func writeNoStore(w http.ResponseWriter, op string) {
	transport.WriteErrorResponse(w,
		api.NewInvalidRequestError("", op+" is not available (no store configured)"),
		http.StatusNotImplemented,
	)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
