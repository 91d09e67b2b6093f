// Package postgres provides a PostgreSQL implementation of transport.ResponseStore.
// It uses pgx/v5 for connection pooling and keeps each response and its input
// items as JSONB in a single row.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/localresp/pkg/api"
	"github.com/rhuss/localresp/pkg/storage"
	"github.com/rhuss/localresp/pkg/transport"
)

// Store is a PostgreSQL-backed ResponseStore.
type Store struct {
	pool *pgxpool.Pool
}

// Ensure Store implements transport.ResponseStore at compile time.
var _ transport.ResponseStore = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied first.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName

	if cfg.MigrateOnStart {
		if err := Migrate(cfg.DSN); err != nil {
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Store{pool: pool}, nil
}

// SaveResponse inserts a response row. An existing id is left untouched
// and storage.ErrConflict is returned.
func (s *Store) SaveResponse(ctx context.Context, resp *api.Response, input []api.Item) error {
	if resp == nil {
		return fmt.Errorf("saving response: nil response")
	}
	if input == nil {
		input = []api.Item{}
	}

	respJSON, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshaling response: %w", err)
	}
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("marshaling input: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO responses (id, previous_response_id, status, model, created_at, response, input)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`,
		resp.ID, resp.PreviousResponseID, string(resp.Status), resp.Model,
		time.Unix(resp.CreatedAt, 0).UTC(), respJSON, inputJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting response: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrConflict
	}
	return nil
}

// GetResponse retrieves a response by id.
func (s *Store) GetResponse(ctx context.Context, id string) (*api.Response, error) {
	var data []byte
	if err := s.queryColumn(ctx, "response", id, &data); err != nil {
		return nil, err
	}

	var resp api.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshaling response %s: %w", id, err)
	}
	return &resp, nil
}

// GetInputItems retrieves the input items stored with a response.
func (s *Store) GetInputItems(ctx context.Context, id string) ([]api.Item, error) {
	var data []byte
	if err := s.queryColumn(ctx, "input", id, &data); err != nil {
		return nil, err
	}

	items := []api.Item{}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("unmarshaling input of %s: %w", id, err)
	}
	return items, nil
}

// queryColumn scans one JSONB column of the row with the given id. column
// is always a constant from this file.
func (s *Store) queryColumn(ctx context.Context, column, id string, dst *[]byte) error {
	err := s.pool.QueryRow(ctx, "SELECT "+column+" FROM responses WHERE id = $1", id).Scan(dst)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("querying response: %w", err)
	}
	return nil
}

// DeleteResponse removes a response row.
func (s *Store) DeleteResponse(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM responses WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deleting response: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
