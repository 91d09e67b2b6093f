// Package websearch runs searches for the web_search tool against a
// self-hosted search engine and formats the hits for the model.
package websearch

import "context"

// Result is one search hit.
type Result struct {
	Title   string
	URL     string
	Snippet string
}

// Adapter queries one search engine.
type Adapter interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}
