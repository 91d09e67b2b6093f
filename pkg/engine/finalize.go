package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"time"

	"github.com/rhuss/localresp/pkg/api"
	"github.com/rhuss/localresp/pkg/backend"
	"github.com/rhuss/localresp/pkg/observability"
	"github.com/rhuss/localresp/pkg/transport"
)

// Debug metadata keys added when the request sets metadata.__debug.
const (
	debugInputKey  = "__debug_input"
	debugOutputKey = "__debug_output"
)

// WarningFunc receives non-fatal problems. The response is still returned
// to the client after a warning.
type WarningFunc func(ctx context.Context, op string, err error)

// logWarning is the default WarningFunc.
func logWarning(ctx context.Context, op string, err error) {
	slog.WarnContext(ctx, "response store operation failed",
		"operation", op,
		"request_id", transport.RequestIDFromContext(ctx),
		"error", err)
	observability.StoreFailuresTotal.WithLabelValues(op).Inc()
}

// buildTerminal fills in the fields that are fixed once a response reaches
// a terminal status.
func buildTerminal(resp *api.Response, usage *backend.Usage, status api.ResponseStatus, apiErr *api.APIError, now time.Time) {
	completed := now.Unix()
	resp.CompletedAt = &completed
	resp.Status = status
	resp.Error = apiErr
	resp.IncompleteDetails = nil
	if status == api.ResponseStatusIncomplete {
		resp.IncompleteDetails = &api.IncompleteDetails{Reason: "max_output_tokens"}
	}
	if usage != nil {
		resp.Usage = api.NewUsage(usage.InputTokens, usage.OutputTokens)
	}
}

// Finalizer persists terminal responses and attaches debug metadata.
type Finalizer struct {
	store transport.ResponseStore
	warn  WarningFunc
}

// NewFinalizer creates a Finalizer. store may be nil; warn may be nil.
func NewFinalizer(store transport.ResponseStore, warn WarningFunc) *Finalizer {
	if warn == nil {
		warn = logWarning
	}
	return &Finalizer{store: store, warn: warn}
}

// persist saves resp with the request's own input items. It runs before the
// terminal event is written so a client can chain on the id immediately.
// Failures are reported through the warning function only.
func (f *Finalizer) persist(ctx context.Context, resp *api.Response, input []api.Item) {
	if f.store == nil || !resp.Store {
		return
	}
	// The response must be stored even when the client has gone away.
	ctx = context.WithoutCancel(ctx)
	if err := f.store.SaveResponse(ctx, resp, input); err != nil {
		f.warn(ctx, "save", err)
	}
}

// attachDebug adds the backend request and the raw backend output to the
// response metadata.
func attachDebug(resp *api.Response, req *backend.Request, rawOutput string) {
	input, err := json.Marshal(req)
	if err != nil {
		input = []byte(err.Error())
	}
	md := make(map[string]any, len(resp.Metadata)+2)
	maps.Copy(md, resp.Metadata)
	md[debugInputKey] = string(input)
	md[debugOutputKey] = rawOutput
	resp.Metadata = md
}
