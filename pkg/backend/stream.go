package backend

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Default timeouts, matching the behaviour of the original Ollama bridge.
const (
	DefaultFirstTokenTimeout = 30 * time.Second
	DefaultIdleTimeout       = 15 * time.Second
)

// Timeouts bound how long a stream may wait for backend output. Zero
// disables the corresponding limit.
type Timeouts struct {
	FirstToken time.Duration
	Idle       time.Duration
}

// Producer runs a backend call and reports its output through emit. emit
// blocks until the consumer takes the event and returns an error once the
// stream is cancelled; producers must stop when it does. A producer returns
// nil after emitting a finish event, or an error if the call failed.
type Producer func(ctx context.Context, emit func(TokenEvent) error) error

// Stream is a pull-based sequence of token events. Events are handed over
// through unbuffered channels, so at most one event is in flight between
// the backend and the consumer.
type Stream struct {
	events <-chan TokenEvent
	cancel context.CancelFunc
	done   chan struct{}
}

// Start runs produce in its own goroutine and waits for its first event.
// Failures before that event are returned as errors and no Stream is
// created. Afterwards the stream always ends with exactly one finish event
// unless it is cancelled: producer errors, idle timeouts and streams that
// stop without a finish reason become FinishError events.
func Start(ctx context.Context, t Timeouts, produce Producer) (*Stream, error) {
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)

	raw := make(chan TokenEvent)
	errc := make(chan error, 1)
	go func() {
		defer close(raw)
		errc <- produce(ctx, func(ev TokenEvent) error {
			select {
			case raw <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	firstTimer, firstC := newTimer(t.FirstToken)
	defer stopTimer(firstTimer)

	var first TokenEvent
	select {
	case ev, ok := <-raw:
		if !ok {
			err := <-errc
			cancel()
			if err == nil {
				err = Unavailable(nil, "backend stream ended before producing output")
			}
			return nil, Classify(err)
		}
		if ev.Kind == EventFinish && ev.Err != nil {
			cancel()
			return nil, Classify(ev.Err)
		}
		first = ev
	case <-firstC:
		cancel()
		return nil, Timeout(nil, fmt.Sprintf("no output from backend within %s", t.FirstToken))
	case <-parent.Done():
		cancel()
		return nil, parent.Err()
	}

	out := make(chan TokenEvent)
	s := &Stream{events: out, cancel: cancel, done: make(chan struct{})}
	go s.forward(ctx, out, first, raw, errc, t.Idle)
	return s, nil
}

// Events returns the channel of token events. It is closed after the
// finish event or on cancellation.
func (s *Stream) Events() <-chan TokenEvent {
	return s.events
}

// Next blocks until the next event is available. It returns false when the
// stream is exhausted or ctx is done.
func (s *Stream) Next(ctx context.Context) (TokenEvent, bool) {
	select {
	case ev, ok := <-s.events:
		return ev, ok
	case <-ctx.Done():
		return TokenEvent{}, false
	}
}

// Close cancels the backend call and waits for the stream to shut down.
// It is safe to call more than once.
func (s *Stream) Close() {
	s.cancel()
	<-s.done
}

func (s *Stream) forward(ctx context.Context, out chan<- TokenEvent, first TokenEvent,
	raw <-chan TokenEvent, errc <-chan error, idle time.Duration) {
	defer close(s.done)
	defer close(out)

	send := func(ev TokenEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !send(first) {
		return
	}
	finished := first.Kind == EventFinish

	idleTimer, idleC := newTimer(idle)
	defer stopTimer(idleTimer)

	for {
		select {
		case ev, ok := <-raw:
			if !ok {
				err := <-errc
				if finished || ctx.Err() != nil {
					return
				}
				if err == nil {
					err = Unavailable(nil, "backend stream ended without a finish reason")
				}
				send(FinishWithError(Classify(err)))
				return
			}
			if finished {
				continue
			}
			// The idle clock covers waiting on the backend only, not a
			// consumer that is slow to take the event.
			stopTimer(idleTimer)
			if !send(ev) {
				return
			}
			finished = ev.Kind == EventFinish
			if idleTimer != nil {
				idleTimer.Reset(idle)
			}
		case <-idleC:
			if !finished {
				send(FinishWithError(Timeout(nil, fmt.Sprintf("no token from backend for %s", idle))))
			}
			s.cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

func newTimer(d time.Duration) (*time.Timer, <-chan time.Time) {
	if d <= 0 {
		return nil, nil
	}
	t := time.NewTimer(d)
	return t, t.C
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// IsCancelled reports whether err is a caller cancellation rather than a
// backend failure.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}
