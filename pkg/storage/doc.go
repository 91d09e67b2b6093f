// Package storage holds what the response store backends share: sentinel
// errors and the encoded record format.
//
// The backends (memory, postgres, redis, sqlite) implement
// transport.ResponseStore, defined in pkg/transport/handler.go.
package storage
