package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rhuss/localresp/pkg/backend"
	"github.com/rhuss/localresp/pkg/backend/ollama"
	"github.com/rhuss/localresp/pkg/backend/openaicompat"
	"github.com/rhuss/localresp/pkg/config"
	"github.com/rhuss/localresp/pkg/engine"
	"github.com/rhuss/localresp/pkg/storage/memory"
	"github.com/rhuss/localresp/pkg/storage/postgres"
	"github.com/rhuss/localresp/pkg/storage/redis"
	"github.com/rhuss/localresp/pkg/storage/sqlite"
	"github.com/rhuss/localresp/pkg/tools/websearch"
	"github.com/rhuss/localresp/pkg/transport"
	transporthttp "github.com/rhuss/localresp/pkg/transport/http"
)

func newBackend(cfg *config.Config) (backend.Backend, error) {
	timeouts := backend.Timeouts{
		FirstToken: cfg.Backend.FirstTokenTimeout,
		Idle:       cfg.Backend.IdleTimeout,
	}

	switch cfg.Backend.Type {
	case config.BackendOllama:
		return ollama.New(ollama.Config{
			BaseURL:  cfg.Backend.URL,
			Timeouts: timeouts,
		})
	case config.BackendOpenAI:
		oc := openaicompat.Config{
			BaseURL:    cfg.Backend.URL,
			APIKey:     cfg.Backend.APIKey,
			MaxRetries: cfg.Backend.MaxRetries,
			Timeouts:   timeouts,
		}
		if o := cfg.Backend.OAuth; o.TokenURL != "" {
			oc.OAuth = &openaicompat.OAuthConfig{
				TokenURL:     o.TokenURL,
				ClientID:     o.ClientID,
				ClientSecret: o.ClientSecret,
				Scopes:       o.Scopes,
			}
		}
		return openaicompat.New(oc)
	default:
		return nil, fmt.Errorf("unknown backend type %q", cfg.Backend.Type)
	}
}

func newStore(ctx context.Context, cfg *config.Config) (transport.ResponseStore, error) {
	sc := cfg.Storage
	switch sc.Type {
	case config.StorageMemory:
		slog.Info("storage enabled", "type", sc.Type, "max_size", sc.Memory.MaxSize)
		return memory.New(sc.Memory.MaxSize), nil
	case config.StoragePostgres:
		slog.Info("storage enabled", "type", sc.Type, "migrate_on_start", sc.Postgres.MigrateOnStart)
		return postgres.New(ctx, postgres.Config{
			DSN:            sc.Postgres.DSN,
			MaxConns:       sc.Postgres.MaxConns,
			MigrateOnStart: sc.Postgres.MigrateOnStart,
		})
	case config.StorageRedis:
		slog.Info("storage enabled", "type", sc.Type, "ttl", sc.Redis.TTL)
		return redis.New(ctx, redis.Config{
			URL:       sc.Redis.URL,
			KeyPrefix: sc.Redis.KeyPrefix,
			TTL:       sc.Redis.TTL,
		})
	case config.StorageSQLite:
		slog.Info("storage enabled", "type", sc.Type, "path", sc.SQLite.Path)
		return sqlite.New(ctx, sqlite.Config{Path: sc.SQLite.Path})
	default:
		return nil, fmt.Errorf("unknown storage type %q", sc.Type)
	}
}

// newWebSearch returns nil when no search engine is configured.
func newWebSearch(cfg *config.Config) (*websearch.Provider, error) {
	ws := cfg.WebSearch
	if ws.URL == "" {
		return nil, nil
	}
	slog.Info("web search enabled", "backend", ws.Backend, "url", ws.URL, "cache_size", ws.CacheSize)
	return websearch.New(websearch.Config{
		Backend:    ws.Backend,
		URL:        ws.URL,
		MaxResults: ws.MaxResults,
		Timeout:    ws.Timeout,
		CacheSize:  ws.CacheSize,
		CacheTTL:   ws.CacheTTL,
	})
}

func engineConfig(cfg *config.Config, search *websearch.Provider) engine.Config {
	ec := engine.Config{
		DefaultModel:           cfg.Backend.DefaultModel,
		DefaultTemperature:     cfg.Engine.DefaultTemperature,
		DefaultMaxOutputTokens: cfg.Engine.DefaultMaxOutputTokens,
		MaxHistoryDepth:        cfg.Engine.MaxHistoryDepth,
		MaxToolTurns:           cfg.Engine.MaxToolTurns,
	}
	// A nil *Provider must not become a non-nil interface.
	if search != nil {
		ec.WebSearch = search
	}
	return ec
}

func serverOptions(cfg *config.Config, logger *slog.Logger) []transporthttp.ServerOption {
	metricsPath := ""
	if cfg.Observability.Metrics.Enabled {
		metricsPath = cfg.Observability.Metrics.Path
	}
	return []transporthttp.ServerOption{
		transporthttp.WithAddr(cfg.Addr()),
		transporthttp.WithMaxBodySize(cfg.Server.MaxBodySize),
		transporthttp.WithTimeouts(cfg.Server.ReadHeaderTimeout, cfg.Server.IdleTimeout),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithMetricsPath(metricsPath),
		transporthttp.WithRateLimit(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		transporthttp.WithLogger(logger),
	}
}
