package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration for required fields and valid values.
// Every problem is reported, each with its field path.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Server.MaxBodySize <= 0 {
		add("server.max_body_size must be > 0, got %d", c.Server.MaxBodySize)
	}

	switch c.Backend.Type {
	case BackendOllama, BackendOpenAI:
	default:
		add("backend.type must be %q or %q, got %q", BackendOllama, BackendOpenAI, c.Backend.Type)
	}
	if c.Backend.URL == "" {
		add("backend.url is required")
	} else if u, err := url.Parse(c.Backend.URL); err != nil || u.Scheme == "" || u.Host == "" {
		add("backend.url must be an absolute URL, got %q", c.Backend.URL)
	}
	if c.Backend.FirstTokenTimeout < 0 {
		add("backend.first_token_timeout must be >= 0")
	}
	if c.Backend.IdleTimeout < 0 {
		add("backend.idle_timeout must be >= 0")
	}
	if c.Backend.OAuth.TokenURL != "" {
		if c.Backend.Type != BackendOpenAI {
			add("backend.oauth requires backend.type %q", BackendOpenAI)
		}
		if c.Backend.OAuth.ClientID == "" || c.Backend.OAuth.ClientSecret == "" {
			add("backend.oauth.client_id and client_secret are required with token_url")
		}
	}

	if t := c.Engine.DefaultTemperature; t != nil && (*t < 0 || *t > 2) {
		add("engine.default_temperature must be in [0, 2], got %v", *t)
	}
	if c.Engine.DefaultMaxOutputTokens < 0 {
		add("engine.default_max_output_tokens must be >= 0")
	}
	if c.Engine.MaxHistoryDepth < 0 {
		add("engine.max_history_depth must be >= 0")
	}
	if c.Engine.MaxToolTurns < 0 {
		add("engine.max_tool_turns must be >= 0")
	}

	if ws := c.WebSearch; ws.URL != "" {
		if ws.Backend != "searxng" {
			add("web_search.backend must be %q, got %q", "searxng", ws.Backend)
		}
		if u, err := url.Parse(ws.URL); err != nil || u.Scheme == "" || u.Host == "" {
			add("web_search.url must be an absolute URL, got %q", ws.URL)
		}
		if ws.MaxResults < 0 || ws.CacheSize < 0 {
			add("web_search.max_results and web_search.cache_size must be >= 0")
		}
		if ws.Timeout < 0 || ws.CacheTTL < 0 {
			add("web_search.timeout and web_search.cache_ttl must be >= 0")
		}
	}

	switch c.Storage.Type {
	case StorageMemory:
		if c.Storage.Memory.MaxSize < 0 {
			add("storage.memory.max_size must be >= 0")
		}
	case StoragePostgres:
		if c.Storage.Postgres.DSN == "" {
			add("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is %q", StoragePostgres)
		}
	case StorageRedis:
		if c.Storage.Redis.URL == "" {
			add("storage.redis.url or storage.redis.url_file is required when storage.type is %q", StorageRedis)
		}
		if c.Storage.Redis.TTL < 0 {
			add("storage.redis.ttl must be >= 0")
		}
	case StorageSQLite:
		if c.Storage.SQLite.Path == "" {
			add("storage.sqlite.path is required when storage.type is %q", StorageSQLite)
		}
	default:
		add("storage.type must be one of memory, postgres, redis, sqlite, got %q", c.Storage.Type)
	}

	if c.RateLimit.RequestsPerSecond < 0 {
		add("rate_limit.requests_per_second must be >= 0")
	}
	if c.RateLimit.Burst < 0 {
		add("rate_limit.burst must be >= 0")
	}

	if c.Observability.Metrics.Enabled && !strings.HasPrefix(c.Observability.Metrics.Path, "/") {
		add("observability.metrics.path must start with /, got %q", c.Observability.Metrics.Path)
	}
	tr := c.Observability.Tracing
	switch tr.Exporter {
	case "otlphttp", "otlpgrpc", "none":
	default:
		add("observability.tracing.exporter must be otlphttp, otlpgrpc or none, got %q", tr.Exporter)
	}
	if tr.SampleRatio < 0 || tr.SampleRatio > 1 {
		add("observability.tracing.sample_ratio must be in [0, 1], got %v", tr.SampleRatio)
	}

	switch strings.ToUpper(c.Logging.Level) {
	case "ERROR", "WARN", "WARNING", "INFO", "DEBUG", "TRACE", "":
	default:
		add("logging.level must be ERROR, WARN, INFO, DEBUG or TRACE, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		add("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return errors.Join(errs...)
}
