package transport

import (
	"context"

	"github.com/rhuss/localresp/pkg/api"
)

// ResponseCreator handles the core create-response operation. The
// implementation receives a validated or raw request and writes the result
// (streaming events or a complete response) to the ResponseWriter.
//
// An error returned before anything was written is reported by the
// transport as an HTTP error. Once streaming has started the creator is
// responsible for ending the stream itself.
type ResponseCreator interface {
	CreateResponse(ctx context.Context, req *api.CreateResponseRequest, w ResponseWriter) error
}

// ResponseCreatorFunc is an adapter that allows using an ordinary function
// as a ResponseCreator.
type ResponseCreatorFunc func(ctx context.Context, req *api.CreateResponseRequest, w ResponseWriter) error

// CreateResponse calls f(ctx, req, w).
func (f ResponseCreatorFunc) CreateResponse(ctx context.Context, req *api.CreateResponseRequest, w ResponseWriter) error {
	return f(ctx, req, w)
}

// ItemList is the list envelope returned by the input items endpoint.
type ItemList struct {
	Object  string     `json:"object"`
	Data    []api.Item `json:"data"`
	HasMore bool       `json:"has_more"`
	FirstID string     `json:"first_id"`
	LastID  string     `json:"last_id"`
}

// NewItemList wraps items in a list envelope.
func NewItemList(items []api.Item) *ItemList {
	l := &ItemList{Object: "list", Data: items}
	if l.Data == nil {
		l.Data = []api.Item{}
	}
	if len(items) > 0 {
		l.FirstID = items[0].ID
		l.LastID = items[len(items)-1].ID
	}
	return l
}

// ResponseStore persists responses. Implementations are safe for
// concurrent use; each id has a single writer.
type ResponseStore interface {
	// SaveResponse stores a response together with the request's own input
	// items. Returns storage.ErrConflict if the id is already stored.
	SaveResponse(ctx context.Context, resp *api.Response, input []api.Item) error

	// GetResponse retrieves a response by id. Returns storage.ErrNotFound
	// if it does not exist.
	GetResponse(ctx context.Context, id string) (*api.Response, error)

	// GetInputItems returns the input items stored with a response.
	// Returns storage.ErrNotFound if the response does not exist.
	GetInputItems(ctx context.Context, id string) ([]api.Item, error)

	// DeleteResponse removes a response and its input items.
	DeleteResponse(ctx context.Context, id string) error

	// HealthCheck verifies the store backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases connections and resources.
	Close() error
}

// ResponseWriter abstracts streaming and non-streaming output for the handler.
//
// WriteEvent and WriteResponse are mutually exclusive on a single writer
// instance. Calling WriteEvent after WriteResponse (or vice versa) returns
// an error, as does calling WriteEvent after a terminal event.
type ResponseWriter interface {
	// WriteEvent sends a single streaming event.
	WriteEvent(ctx context.Context, event api.StreamEvent) error

	// WriteResponse sends a complete non-streaming response.
	WriteResponse(ctx context.Context, resp *api.Response) error

	// Flush ensures buffered data is sent to the client. Returns an error
	// if the client has disconnected.
	Flush() error
}
