// Package redis provides a Redis implementation of transport.ResponseStore.
// Each response is one key holding the encoded storage.Record, with an
// optional expiry.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rhuss/localresp/pkg/api"
	"github.com/rhuss/localresp/pkg/storage"
	"github.com/rhuss/localresp/pkg/transport"
)

// DefaultKeyPrefix is prepended to response ids when Config.KeyPrefix is empty.
const DefaultKeyPrefix = "localresp:response:"

// Config holds Redis connection and retention settings.
type Config struct {
	// URL is a redis:// or rediss:// connection URL.
	URL string

	// KeyPrefix namespaces the keys written by the store.
	KeyPrefix string

	// TTL expires stored responses. Zero keeps them until deleted.
	TTL time.Duration
}

// Store is a Redis-backed ResponseStore.
type Store struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

// Ensure Store implements transport.ResponseStore at compile time.
var _ transport.ResponseStore = (*Store)(nil)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewFromClient(client, cfg), nil
}

// NewFromClient wraps an existing client. The store owns the client and
// closes it in Close.
func NewFromClient(client *goredis.Client, cfg Config) *Store {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{client: client, prefix: prefix, ttl: cfg.TTL}
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

// SaveResponse stores the record only if the id is not present yet.
func (s *Store) SaveResponse(ctx context.Context, resp *api.Response, input []api.Item) error {
	data, err := storage.EncodeRecord(resp, input)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, s.key(resp.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("storing response: %w", err)
	}
	if !ok {
		return storage.ErrConflict
	}
	return nil
}

// GetResponse retrieves a response by id.
func (s *Store) GetResponse(ctx context.Context, id string) (*api.Response, error) {
	rec, err := s.record(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.Response, nil
}

// GetInputItems retrieves the input items stored with a response.
func (s *Store) GetInputItems(ctx context.Context, id string) ([]api.Item, error) {
	rec, err := s.record(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.Input, nil
}

func (s *Store) record(ctx context.Context, id string) (*storage.Record, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading response: %w", err)
	}
	return storage.DecodeRecord(data)
}

// DeleteResponse removes a response key.
func (s *Store) DeleteResponse(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return fmt.Errorf("deleting response: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// HealthCheck pings the server.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}
