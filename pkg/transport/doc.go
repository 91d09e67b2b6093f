// Package transport defines the handler interfaces and middleware chain
// between the HTTP/SSE layer and the response engine.
//
// # Handler Interfaces
//
//   - ResponseCreator handles the create-response operation. The engine
//     implements it; middleware wraps it.
//   - ResponseStore persists finished responses and their input items so
//     conversations can be continued with previous_response_id.
//   - ResponseWriter abstracts streaming (SSE events) and non-streaming
//     (one JSON object) output.
//
// # Middleware
//
// Built-in middleware provides panic recovery, request ID assignment
// (X-Request-ID, generated with google/uuid), structured logging via
// log/slog and token-bucket rate limiting via golang.org/x/time/rate.
//
// # Cancellation
//
// InFlightRegistry maps response ids to cancel functions. The HTTP layer
// installs a registration hook in the request context with
// ContextWithInFlight; the engine calls MarkInFlight once it has allocated
// the response id. Cancels through the registry carry ErrCancelRequested
// as the context cause, which tells them apart from client disconnects.
package transport
