package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rhuss/localresp/pkg/api"
	"github.com/rhuss/localresp/pkg/backend"
	"github.com/rhuss/localresp/pkg/debug"
	"github.com/rhuss/localresp/pkg/observability"
	"github.com/rhuss/localresp/pkg/transport"
)

const tracerName = "github.com/rhuss/localresp/pkg/engine"

// Engine drives one request through normalization, the backend stream,
// event assembly and finalization. It implements transport.ResponseCreator.
type Engine struct {
	backend   backend.Backend
	store     transport.ResponseStore
	finalizer *Finalizer
	cfg       Config
	tracer    trace.Tracer
}

// Ensure Engine implements transport.ResponseCreator at compile time.
var _ transport.ResponseCreator = (*Engine)(nil)

// New creates a new Engine. The backend must not be nil. The store can be
// nil for stateless operation.
func New(b backend.Backend, store transport.ResponseStore, cfg Config) (*Engine, error) {
	if b == nil {
		return nil, fmt.Errorf("engine: backend must not be nil")
	}
	return &Engine{
		backend:   b,
		store:     store,
		finalizer: NewFinalizer(store, cfg.Warn),
		cfg:       cfg,
		tracer:    otel.Tracer(tracerName),
	}, nil
}

// CreateResponse handles a streaming or non-streaming create request.
//
// Errors returned before the first event (validation, backend unavailable,
// backend timeout) leave w untouched so the transport can answer with an
// HTTP error. Once response.created has been produced the stream always
// ends with exactly one terminal event, except on cancellation, where
// nothing more is written and a cancelled error is returned.
func (e *Engine) CreateResponse(ctx context.Context, req *api.CreateResponseRequest, w transport.ResponseWriter) error {
	ctx, span := e.tracer.Start(ctx, "responses.create")
	defer span.End()

	norm, breq, err := e.normalize(ctx, req)
	if err != nil {
		recordSpanError(span, err)
		return err
	}

	resp := newResponse(norm)
	span.SetAttributes(
		attribute.String("response.id", resp.ID),
		attribute.String("response.model", resp.Model),
		attribute.Bool("response.stream", norm.Stream),
	)
	transport.MarkInFlight(ctx, resp.ID)
	debug.Log("engine", "starting response", "id", resp.ID, "model", resp.Model,
		"messages", len(breq.Messages), "tools", len(breq.Tools), "stream", norm.Stream)

	run := &run{
		engine: e,
		asm:    NewAssembler(resp),
		breq:   breq,
		input:  inputItems(norm.Input),
		stream: norm.Stream,
		debug:  api.DebugEnabled(norm.Metadata),
		w:      w,
	}
	if api.HasWebSearch(norm.Tools) {
		run.asm.ServeWebSearch()
	}

	for turn := 1; ; turn++ {
		done, err := run.turn(ctx, span, turn)
		if err != nil {
			return err
		}
		if done {
			break
		}
		if turn >= e.cfg.maxToolTurns() {
			debug.Log("engine", "tool turn limit reached", "id", resp.ID, "turns", turn)
			if err := run.write(ctx, run.asm.Exhaust()); err != nil {
				return run.cancel(ctx, span)
			}
			break
		}
		if err := run.runTools(ctx); err != nil {
			return run.cancel(ctx, span)
		}
	}

	if resp.Error != nil {
		recordSpanError(span, resp.Error)
	}
	span.SetAttributes(attribute.String("response.status", string(resp.Status)))

	if !norm.Stream {
		return w.WriteResponse(ctx, resp)
	}
	return nil
}

// normalize validates req, applies defaults, rebuilds the conversation
// history and produces the backend request. req itself is not modified.
func (e *Engine) normalize(ctx context.Context, req *api.CreateResponseRequest) (*api.CreateResponseRequest, *backend.Request, error) {
	r := *req
	if r.Model == "" {
		r.Model = e.cfg.DefaultModel
	}
	if apiErr := api.ValidateRequest(&r, e.cfg.validation()); apiErr != nil {
		return nil, nil, apiErr
	}
	if e.cfg.WebSearch == nil && api.HasWebSearch(r.Tools) {
		return nil, nil, api.NewInvalidRequestError("tools", "web_search is not enabled on this server")
	}

	var history []api.Item
	if r.PreviousResponseID != "" {
		h, err := loadConversationHistory(ctx, e.store, r.PreviousResponseID, e.cfg.maxHistoryDepth())
		if err != nil {
			return nil, nil, err
		}
		history = h
	}

	if r.Temperature == nil && e.cfg.DefaultTemperature != nil {
		t := *e.cfg.DefaultTemperature
		r.Temperature = &t
	}
	if r.MaxOutputTokens == nil && e.cfg.DefaultMaxOutputTokens > 0 {
		n := e.cfg.DefaultMaxOutputTokens
		r.MaxOutputTokens = &n
	}

	return &r, translateRequest(&r, history), nil
}

// startBackend opens the backend stream and records its outcome.
func (e *Engine) startBackend(ctx context.Context, breq *backend.Request) (*backend.Stream, error) {
	name := e.backend.Name()
	start := time.Now()
	stream, err := e.backend.Stream(ctx, breq)
	if err != nil {
		result := "unavailable"
		switch {
		case backend.IsCancelled(err) || ctx.Err() != nil:
			observability.BackendRequestsTotal.WithLabelValues(name, breq.Model, "cancelled").Inc()
			return nil, api.NewCancelledError("request cancelled before the backend responded")
		case errors.Is(err, backend.ErrTimeout):
			result = "timeout"
		}
		observability.BackendRequestsTotal.WithLabelValues(name, breq.Model, result).Inc()
		return nil, backend.ToAPIError(err)
	}
	observability.BackendRequestsTotal.WithLabelValues(name, breq.Model, "ok").Inc()
	observability.BackendLatency.WithLabelValues(name, breq.Model).Observe(time.Since(start).Seconds())
	return stream, nil
}

// turn streams one backend call into the assembler. It reports true once
// the response is terminal and false when served tool calls wait to run.
// A failure to open the first stream is returned before anything was
// written; later turns end the stream with response.failed instead.
func (r *run) turn(ctx context.Context, span trace.Span, n int) (bool, error) {
	e := r.engine
	bctx, bspan := e.tracer.Start(ctx, "backend.stream", trace.WithAttributes(
		attribute.String("backend.name", e.backend.Name()),
		attribute.Int("backend.turn", n),
	))
	defer bspan.End()

	stream, err := e.startBackend(bctx, r.breq)
	if err != nil {
		recordSpanError(bspan, err)
		switch {
		case n == 1:
			recordSpanError(span, err)
			return false, err
		case ctx.Err() != nil:
			return false, r.cancel(ctx, span)
		}
		if err := r.write(ctx, r.asm.Fail(err)); err != nil {
			return false, r.cancel(ctx, span)
		}
		return true, nil
	}
	defer stream.Close()

	if err := r.write(ctx, r.asm.Start()); err != nil {
		return false, r.cancel(ctx, span)
	}
	for !r.asm.Done() && !r.asm.AwaitingTools() {
		ev, ok := stream.Next(bctx)
		if !ok {
			if ctx.Err() != nil {
				return false, r.cancel(ctx, span)
			}
			ev = backend.FinishWithError(backend.Unavailable(nil, "backend stream closed without a finish event"))
		}
		if err := r.write(ctx, r.asm.Advance(ev)); err != nil {
			return false, r.cancel(ctx, span)
		}
	}
	if apiErr := r.asm.Response().Error; apiErr != nil {
		recordSpanError(bspan, apiErr)
	}
	return r.asm.Done(), nil
}

// run is the per-request state shared by the write and cancel paths.
type run struct {
	engine *Engine
	asm    *Assembler
	breq   *backend.Request
	input  []api.Item
	stream bool
	debug  bool
	w      transport.ResponseWriter
}

// write hands events to the client. The response is finalized and
// persisted before its terminal event goes out. Non-streaming requests
// discard the events and receive the final object instead.
func (r *run) write(ctx context.Context, events []api.StreamEvent) error {
	for _, ev := range events {
		if ev.Type.IsTerminal() {
			r.finish(ctx)
		}
		observability.StreamEventsTotal.WithLabelValues(string(ev.Type)).Inc()
		if !r.stream {
			continue
		}
		if err := r.w.WriteEvent(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// finish records usage, attaches debug metadata and persists the response.
func (r *run) finish(ctx context.Context) {
	resp := r.asm.Response()
	if n := r.asm.ToolCallFailures(); n > 0 {
		observability.ToolCallParseFailuresTotal.Add(float64(n))
	}
	if u := resp.Usage; u != nil {
		name := r.engine.backend.Name()
		observability.BackendTokensTotal.WithLabelValues(name, resp.Model, "input").Add(float64(u.InputTokens))
		observability.BackendTokensTotal.WithLabelValues(name, resp.Model, "output").Add(float64(u.OutputTokens))
	}
	if r.debug {
		attachDebug(resp, r.breq, r.asm.RawOutput())
	}
	r.engine.finalizer.persist(ctx, resp, r.input)
}

// cancel stops the response without emitting further events. If the
// terminal event was already produced the response is left as it is.
func (r *run) cancel(ctx context.Context, span trace.Span) error {
	if !r.asm.Done() {
		r.asm.Cancel()
		r.finish(ctx)
	}
	resp := r.asm.Response()
	debug.Log("engine", "response cancelled", "id", resp.ID, "status", resp.Status)
	apiErr := api.NewCancelledError("response " + resp.ID + " was cancelled")
	span.SetStatus(codes.Error, apiErr.Message)
	return apiErr
}

// newResponse creates the in-progress response object for a normalized
// request, echoing the request parameters.
func newResponse(req *api.CreateResponseRequest) *api.Response {
	resp := &api.Response{
		ID:                api.NewResponseID(),
		Object:            "response",
		CreatedAt:         time.Now().Unix(),
		Status:            api.ResponseStatusInProgress,
		Model:             req.Model,
		Output:            []api.Item{},
		Tools:             req.Tools,
		ToolChoice:        req.ToolChoice,
		ParallelToolCalls: true,
		Temperature:       req.Temperature,
		TopP:              req.TopP,
		MaxOutputTokens:   req.MaxOutputTokens,
		Reasoning:         req.Reasoning,
		Store:             api.ResolveStore(req),
		Metadata:          req.Metadata,
		User:              req.User,
	}
	if resp.Tools == nil {
		resp.Tools = []api.ToolDefinition{}
	}
	if resp.ToolChoice == nil {
		tc := api.ToolChoiceAuto
		resp.ToolChoice = &tc
	}
	if req.ParallelToolCalls != nil {
		resp.ParallelToolCalls = *req.ParallelToolCalls
	}
	if resp.Metadata == nil {
		resp.Metadata = map[string]any{}
	}
	if req.PreviousResponseID != "" {
		prev := req.PreviousResponseID
		resp.PreviousResponseID = &prev
	}
	if req.Instructions != "" {
		instr := req.Instructions
		resp.Instructions = &instr
	}
	return resp
}

// inputItems copies the request input and assigns ids to items that have
// none, so stored input items can be listed.
func inputItems(in []api.Item) []api.Item {
	out := make([]api.Item, len(in))
	copy(out, in)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = api.NewItemID(out[i].Type)
		}
	}
	return out
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
