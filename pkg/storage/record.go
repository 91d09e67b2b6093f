package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rhuss/localresp/pkg/api"
)

// Every backend reports these so the HTTP layer can map them to 404 and
// to a duplicate-id failure without knowing which backend is configured.
var (
	ErrNotFound = errors.New("response not found")
	ErrConflict = errors.New("response id already stored")
)

// Record is what a store keeps per response id: the response object and
// the input items of the request that produced it.
type Record struct {
	Response *api.Response `json:"response"`
	Input    []api.Item    `json:"input"`
}

// EncodeRecord serializes a response and its input items. A nil input is
// stored as an empty list.
func EncodeRecord(resp *api.Response, input []api.Item) ([]byte, error) {
	if resp == nil {
		return nil, fmt.Errorf("encoding record: nil response")
	}
	if input == nil {
		input = []api.Item{}
	}
	data, err := json.Marshal(Record{Response: resp, Input: input})
	if err != nil {
		return nil, fmt.Errorf("encoding record %s: %w", resp.ID, err)
	}
	return data, nil
}

// DecodeRecord parses data written by EncodeRecord. Every call returns
// fresh values, so callers may modify them freely.
func DecodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	if rec.Response == nil {
		return nil, fmt.Errorf("decoding record: missing response")
	}
	if rec.Input == nil {
		rec.Input = []api.Item{}
	}
	return &rec, nil
}
