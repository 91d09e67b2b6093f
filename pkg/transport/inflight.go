package transport

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCancelRequested is the context cause of a response stopped through
// the cancel endpoint or DELETE while it was still generating. Client
// disconnects leave the plain context.Canceled cause instead.
var ErrCancelRequested = errors.New("cancel requested")

type inFlight struct {
	cancel  context.CancelCauseFunc
	started time.Time
}

// InFlightRegistry maps the ids of responses that are still generating to
// the cancel function of their request context. Safe for concurrent use.
type InFlightRegistry struct {
	mu      sync.Mutex
	entries map[string]inFlight
	now     func() time.Time
}

func NewInFlightRegistry() *InFlightRegistry {
	return &InFlightRegistry{
		entries: make(map[string]inFlight),
		now:     time.Now,
	}
}

// Register records id as generating. A second registration of the same id
// replaces the first.
func (r *InFlightRegistry) Register(id string, cancel context.CancelCauseFunc) {
	r.mu.Lock()
	r.entries[id] = inFlight{cancel: cancel, started: r.now()}
	r.mu.Unlock()
}

// Cancel stops the response with ErrCancelRequested as the cause and
// forgets it. It reports false when id is not generating.
func (r *InFlightRegistry) Cancel(id string) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()

	if !ok {
		return false
	}
	e.cancel(ErrCancelRequested)
	return true
}

// Remove forgets id without cancelling it.
func (r *InFlightRegistry) Remove(id string) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

func (r *InFlightRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// OldestAge returns how long the longest-running response has been
// generating, or zero when nothing is in flight.
func (r *InFlightRegistry) OldestAge() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var oldest time.Time
	for _, e := range r.entries {
		if oldest.IsZero() || e.started.Before(oldest) {
			oldest = e.started
		}
	}
	if oldest.IsZero() {
		return 0
	}
	return r.now().Sub(oldest)
}

// CancelRequested reports whether ctx was stopped through the registry.
func CancelRequested(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrCancelRequested)
}

type inFlightKeyType struct{}

// ContextWithInFlight installs a hook that the engine calls with the
// response id as soon as it is allocated.
func ContextWithInFlight(ctx context.Context, register func(id string)) context.Context {
	return context.WithValue(ctx, inFlightKeyType{}, register)
}

// MarkInFlight calls the hook installed with ContextWithInFlight, if any.
func MarkInFlight(ctx context.Context, id string) {
	if register, ok := ctx.Value(inFlightKeyType{}).(func(string)); ok && register != nil {
		register(id)
	}
}
