// Package sqlite provides a single-file SQLite implementation of
// transport.ResponseStore for local deployments that want responses to
// survive restarts without running a database server.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/rhuss/localresp/pkg/api"
	"github.com/rhuss/localresp/pkg/storage"
	"github.com/rhuss/localresp/pkg/transport"
)

const schema = `
CREATE TABLE IF NOT EXISTS responses (
	id                   TEXT PRIMARY KEY,
	previous_response_id TEXT,
	status               TEXT    NOT NULL,
	model                TEXT    NOT NULL,
	created_at           INTEGER NOT NULL,
	response             TEXT    NOT NULL,
	input                TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_responses_created_at ON responses (created_at);
`

// Config holds SQLite settings.
type Config struct {
	// Path is the database file. It is created if missing.
	Path string

	// BusyTimeoutMS is how long a writer waits on a locked database
	// (default: 5000).
	BusyTimeoutMS int
}

// Store is a SQLite-backed ResponseStore. The database runs in WAL mode,
// so reads do not block the writer.
type Store struct {
	db *sqlx.DB
}

// Ensure Store implements transport.ResponseStore at compile time.
var _ transport.ResponseStore = (*Store)(nil)

type row struct {
	ID                 string         `db:"id"`
	PreviousResponseID sql.NullString `db:"previous_response_id"`
	Status             string         `db:"status"`
	Model              string         `db:"model"`
	CreatedAt          int64          `db:"created_at"`
	Response           string         `db:"response"`
	Input              string         `db:"input"`
}

// New opens (or creates) the database file and applies the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	if cfg.BusyTimeoutMS == 0 {
		cfg.BusyTimeoutMS = 5000
	}

	db, err := sqlx.Open("sqlite", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying sqlite schema: %w", err)
	}

	return &Store{db: db}, nil
}

func dsn(cfg Config) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeoutMS))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + cfg.Path + "?" + q.Encode()
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

	r := row{
		ID:        resp.ID,
		Status:    string(resp.Status),
		Model:     resp.Model,
		CreatedAt: resp.CreatedAt,
		Response:  string(respJSON),
		Input:     string(inputJSON),
	}
	if resp.PreviousResponseID != nil {
		r.PreviousResponseID = sql.NullString{String: *resp.PreviousResponseID, Valid: true}
	}

	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO responses (id, previous_response_id, status, model, created_at, response, input)
		VALUES (:id, :previous_response_id, :status, :model, :created_at, :response, :input)
		ON CONFLICT (id) DO NOTHING
	`, r)
	if err != nil {
		return fmt.Errorf("inserting response: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("inserting response: %w", err)
	}
	if n == 0 {
		return storage.ErrConflict
	}
	return nil
}

// GetResponse retrieves a response by id.
func (s *Store) GetResponse(ctx context.Context, id string) (*api.Response, error) {
	var data string
	if err := s.get(ctx, &data, "SELECT response FROM responses WHERE id = ?", id); err != nil {
		return nil, err
	}

	var resp api.Response
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		return nil, fmt.Errorf("unmarshaling response %s: %w", id, err)
	}
	return &resp, nil
}

// GetInputItems retrieves the input items stored with a response.
func (s *Store) GetInputItems(ctx context.Context, id string) ([]api.Item, error) {
	var data string
	if err := s.get(ctx, &data, "SELECT input FROM responses WHERE id = ?", id); err != nil {
		return nil, err
	}

	items := []api.Item{}
	if err := json.Unmarshal([]byte(data), &items); err != nil {
		return nil, fmt.Errorf("unmarshaling input of %s: %w", id, err)
	}
	return items, nil
}

func (s *Store) get(ctx context.Context, dst any, query, id string) error {
	err := s.db.GetContext(ctx, dst, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("querying response: %w", err)
	}
	return nil
}

// DeleteResponse removes a response row.
func (s *Store) DeleteResponse(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM responses WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting response: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting response: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// HealthCheck verifies the database file is usable.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
