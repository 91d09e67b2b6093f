package websearch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/rhuss/localresp/pkg/debug"
	"github.com/rhuss/localresp/pkg/observability"
)

// BackendSearXNG is the only search engine supported so far.
const BackendSearXNG = "searxng"

// Config configures a Provider.
type Config struct {
	Backend    string        // default: searxng
	URL        string        // base URL of the search engine, required
	MaxResults int           // default: 5
	Timeout    time.Duration // per search, default: 10s
	CacheSize  int           // cached queries, 0 disables the cache
	CacheTTL   time.Duration // default: 10m
}

func (c Config) withDefaults() Config {
	if c.Backend == "" {
		c.Backend = BackendSearXNG
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 5
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 10 * time.Minute
	}
	return c
}

// Provider runs web searches and formats the results for the model.
type Provider struct {
	adapter Adapter
	cfg     Config
	cache   *expirable.LRU[string, []Result]
}

// New creates a Provider for the configured search engine.
func New(cfg Config) (*Provider, error) {
	cfg = cfg.withDefaults()
	switch cfg.Backend {
	case BackendSearXNG:
		if cfg.URL == "" {
			return nil, errors.New("web_search: url is required for searxng")
		}
		return NewWithAdapter(NewSearXNG(cfg.URL, &http.Client{Timeout: cfg.Timeout}), cfg), nil
	default:
		return nil, fmt.Errorf("web_search: unknown backend %q", cfg.Backend)
	}
}

// NewWithAdapter creates a Provider on top of an existing adapter.
func NewWithAdapter(a Adapter, cfg Config) *Provider {
	cfg = cfg.withDefaults()
	p := &Provider{adapter: a, cfg: cfg}
	if cfg.CacheSize > 0 {
		p.cache = expirable.NewLRU[string, []Result](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return p
}

// Search runs query and returns the hits as text for the model. An empty
// result set is not an error.
func (p *Provider) Search(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		observability.WebSearchQueriesTotal.WithLabelValues(p.cfg.Backend, "error").Inc()
		return "", errors.New("query must not be empty")
	}

	key := strings.ToLower(query)
	if p.cache != nil {
		if results, ok := p.cache.Get(key); ok {
			observability.WebSearchQueriesTotal.WithLabelValues(p.cfg.Backend, "cached").Inc()
			debug.Log("tools", "web search cache hit", "query", query, "results", len(results))
			return formatResults(query, results), nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	start := time.Now()
	results, err := p.adapter.Search(ctx, query, p.cfg.MaxResults)
	observability.WebSearchDuration.WithLabelValues(p.cfg.Backend).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.WebSearchQueriesTotal.WithLabelValues(p.cfg.Backend, "error").Inc()
		return "", err
	}
	observability.WebSearchQueriesTotal.WithLabelValues(p.cfg.Backend, "success").Inc()
	debug.Log("tools", "web search", "query", query, "results", len(results), "elapsed", time.Since(start))

	if p.cache != nil {
		p.cache.Add(key, results)
	}
	return formatResults(query, results), nil
}

func formatResults(query string, results []Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for %q.", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Search results for %q:\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "\n[%d] %s\n    URL: %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "    %s\n", r.Snippet)
		}
	}
	return b.String()
}
