// Package memory provides an in-memory implementation of transport.ResponseStore
// for testing and single-process deployments. Responses are lost when the
// process restarts. The store is bounded; the least recently used response
// is evicted once it is full.
package memory

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rhuss/localresp/pkg/api"
	"github.com/rhuss/localresp/pkg/storage"
	"github.com/rhuss/localresp/pkg/transport"
)

// DefaultMaxSize bounds the store when New is called with maxSize <= 0.
const DefaultMaxSize = 10000

// Store is an in-memory ResponseStore backed by an LRU cache. Entries are
// kept encoded, so readers always get their own copy.
type Store struct {
	// mu serializes check-and-add in SaveResponse; the cache itself is
	// safe for concurrent use.
	mu    sync.Mutex
	cache *lru.Cache[string, []byte]
}

// Ensure Store implements transport.ResponseStore at compile time.
var _ transport.ResponseStore = (*Store)(nil)

// New creates a store holding at most maxSize responses.
func New(maxSize int) *Store {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	cache, err := lru.New[string, []byte](maxSize)
	if err != nil {
		// Only returned for a non-positive size.
		panic(fmt.Sprintf("memory store: %v", err))
	}
	return &Store{cache: cache}
}

// SaveResponse stores a copy of resp and its input items.
func (s *Store) SaveResponse(_ context.Context, resp *api.Response, input []api.Item) error {
	data, err := storage.EncodeRecord(resp, input)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cache.Contains(resp.ID) {
		return storage.ErrConflict
	}
	s.cache.Add(resp.ID, data)
	return nil
}

// GetResponse returns a copy of the stored response.
func (s *Store) GetResponse(_ context.Context, id string) (*api.Response, error) {
	rec, err := s.record(id)
	if err != nil {
		return nil, err
	}
	return rec.Response, nil
}

// GetInputItems returns a copy of the input items stored with a response.
func (s *Store) GetInputItems(_ context.Context, id string) ([]api.Item, error) {
	rec, err := s.record(id)
	if err != nil {
		return nil, err
	}
	return rec.Input, nil
}

// DeleteResponse removes a response and its input items.
func (s *Store) DeleteResponse(_ context.Context, id string) error {
	if !s.cache.Remove(id) {
		return storage.ErrNotFound
	}
	return nil
}

// HealthCheck always succeeds for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close drops all stored responses.
func (s *Store) Close() error {
	s.cache.Purge()
	return nil
}

// Len returns the number of stored responses.
func (s *Store) Len() int {
	return s.cache.Len()
}

func (s *Store) record(id string) (*storage.Record, error) {
	data, ok := s.cache.Get(id)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return storage.DecodeRecord(data)
}
