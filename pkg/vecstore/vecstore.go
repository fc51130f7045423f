// Package vecstore provides a named-collection vector store interface for
// semantic memory.
//
// The [Store] interface defines the contract for collection management,
// point upsert, and filtered similarity search. Implementations include a
// Qdrant-backed store for production use ([NewQdrant]) and an in-memory
// brute-force store for testing ([NewMemory]).
//
// This package follows the same pattern as [kv]: a narrow interface with
// pluggable backends.
package vecstore

import "context"

// Match is a single result from a vector similarity search.
type Match struct {
	// ID is the identifier of the matched point.
	ID string

	// Score is the cosine similarity in [0, 1] (higher is closer).
	Score float32

	// Payload is the stored metadata of the matched point.
	Payload map[string]any
}

// SearchParams bounds a similarity search.
type SearchParams struct {
	// Limit is the maximum number of matches to return.
	Limit int

	// MinScore drops matches below this similarity. Zero means no floor.
	MinScore float32

	// Must filters matches to points whose payload fields equal these
	// values exactly.
	Must map[string]string
}

// Store is the interface for a vector store with named collections.
//
// All implementations must be safe for concurrent use. Methods never
// panic; they return an error or an empty result.
type Store interface {
	// EnsureCollection creates a cosine-metric collection if it does not
	// already exist. Idempotent.
	EnsureCollection(ctx context.Context, name string, dim int) error

	// Upsert adds or replaces a point in a collection.
	Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]any) error

	// Search returns matches ordered by descending score.
	Search(ctx context.Context, collection string, query []float32, params SearchParams) ([]Match, error)

	// Delete removes a point by ID. No error if the ID does not exist.
	Delete(ctx context.Context, collection, id string) error

	// Health reports whether the backend is reachable.
	Health(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}
