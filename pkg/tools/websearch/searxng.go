package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// SearXNG queries the JSON API of a SearXNG instance. The instance must
// have the json format enabled in its search.formats setting.
type SearXNG struct {
	BaseURL    string
	Categories string
	HTTPClient *http.Client
}

// NewSearXNG creates a SearXNG adapter for baseURL.
func NewSearXNG(baseURL string, client *http.Client) *SearXNG {
	if client == nil {
		client = http.DefaultClient
	}
	return &SearXNG{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Categories: "general",
		HTTPClient: client,
	}
}

type searxngResponse struct {
	Results []searxngResult `json:"results"`
}

type searxngResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Search runs query and returns at most maxResults hits in ranking order.
func (s *SearXNG) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	params := url.Values{
		"q":          {query},
		"format":     {"json"},
		"categories": {s.Categories},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4<<10)
		return nil, fmt.Errorf("searxng returned status %d", resp.StatusCode)
	}

	var sr searxngResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode searxng response: %w", err)
	}

	hits := sr.Results
	if maxResults > 0 && len(hits) > maxResults {
		hits = hits[:maxResults]
	}
	results := make([]Result, 0, len(hits))
	for _, r := range hits {
		results = append(results, Result{
			Title:   stripTags(r.Title),
			URL:     r.URL,
			Snippet: stripTags(r.Content),
		})
	}
	return results, nil
}

func stripTags(s string) string {
	return strings.TrimSpace(tagPattern.ReplaceAllString(s, ""))
}
