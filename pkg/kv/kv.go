// Package kv provides the narrow key-value surface the memory layers sit on:
// string values with TTL, JSON list logs, hash records, and a maintenance
// pattern scan.
//
// Keys are flat strings built by the callers (e.g. "profile:alice",
// "conversation:alice:conv-1"). The package includes a Redis-backed
// implementation for production use and an in-memory implementation for
// testing.
package kv

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when a key does not exist in the store.
	ErrNotFound = errors.New("kv: not found")
)

// Store is the typed key-value surface used by the memory layers.
//
// All list entries are UTF-8 JSON. Implementations never panic; every
// method returns an error or an empty result, and callers decide on
// fallbacks.
type Store interface {
	// Get retrieves a string value. Returns ErrNotFound if not present.
	Get(ctx context.Context, key string) (string, error)

	// SetEx stores a string value with a TTL. Overwrites any existing value
	// and resets the TTL.
	SetEx(ctx context.Context, key string, ttl time.Duration, value string) error

	// Del removes keys. No error if a key does not exist.
	Del(ctx context.Context, keys ...string) error

	// LPush prepends values to a list, creating it if absent.
	LPush(ctx context.Context, key string, values ...string) error

	// LTrim keeps only the first n list entries.
	LTrim(ctx context.Context, key string, n int64) error

	// LRange returns up to the first n list entries, newest first when the
	// list is written with LPush. Returns an empty slice for a missing key.
	LRange(ctx context.Context, key string, n int64) ([]string, error)

	// Expire sets a TTL on an existing key. No-op for a missing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// HSet writes fields of a hash.
	HSet(ctx context.Context, key string, fields map[string]string) error

	// HGetAll returns all fields of a hash. Empty map for a missing key.
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// Keys returns all keys matching a glob pattern. Maintenance use only:
	// the scan is not suited to hot paths.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
