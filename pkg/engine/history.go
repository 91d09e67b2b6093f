package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rhuss/localresp/pkg/api"
	"github.com/rhuss/localresp/pkg/storage"
	"github.com/rhuss/localresp/pkg/transport"
)

// loadConversationHistory rebuilds the item history behind responseID:
// input(r0) + output(r0) + input(r1) + output(r1) + ... in chronological
// order. It follows previous_response_id links iteratively, rejects cycles
// and stops with an error after maxDepth responses.
//
// Every failure is a validation error on previous_response_id; the backend
// has not been called at this point.
func loadConversationHistory(ctx context.Context, store transport.ResponseStore, responseID string, maxDepth int) ([]api.Item, error) {
	const param = "previous_response_id"
	if store == nil {
		return nil, api.NewInvalidRequestError(param, "conversation chaining requires a response store")
	}

	type link struct {
		input  []api.Item
		output []api.Item
	}
	var chain []link
	visited := make(map[string]bool)

	currentID := responseID
	for currentID != "" {
		if visited[currentID] {
			return nil, api.NewInvalidRequestError(param, "cycle detected in response chain at "+currentID)
		}
		if len(chain) >= maxDepth {
			return nil, api.NewInvalidRequestError(param, fmt.Sprintf("response chain is deeper than %d", maxDepth))
		}
		visited[currentID] = true

		resp, err := store.GetResponse(ctx, currentID)
		if err != nil {
			return nil, chainError(currentID, err)
		}
		input, err := store.GetInputItems(ctx, currentID)
		if err != nil {
			return nil, chainError(currentID, err)
		}

		chain = append(chain, link{input: input, output: resp.Output})
		currentID = ""
		if resp.PreviousResponseID != nil {
			currentID = *resp.PreviousResponseID
		}
	}

	var items []api.Item
	for i := len(chain) - 1; i >= 0; i-- {
		items = append(items, chain[i].input...)
		items = append(items, chain[i].output...)
	}
	return items, nil
}

func chainError(id string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return api.NewInvalidRequestError("previous_response_id", "previous response "+id+" not found")
	}
	return api.NewServerError(fmt.Sprintf("loading previous response %s: %v", id, err))
}
