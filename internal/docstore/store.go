// Package docstore is the thin typed adapter over the external document
// store. The coordination core only ever needs five primitives; keeping the
// surface this narrow lets memory, redis, and postgres implementations stay
// interchangeable.
package docstore

import (
	"context"

	"anchorid/pkg/domainerrors"
)

// ErrNotFound keeps store-level 404s consistent across implementations.
var ErrNotFound = domainerrors.New(domainerrors.CodeNotFound, "record not found")

// Document is a stored value plus its optimistic-concurrency version. Version
// starts at 1 on insert and increments on every successful update.
type Document struct {
	Key     string
	Value   []byte
	Version int64
}

// Store is the contract every document store implementation satisfies.
// Implementations must be safe for concurrent use; they are shared singletons.
type Store interface {
	// InsertIfAbsent writes the value only when no document exists under key.
	// Returns false without writing when the key is already present.
	InsertIfAbsent(ctx context.Context, key string, value []byte) (bool, error)

	// Get returns the document under key or ErrNotFound.
	Get(ctx context.Context, key string) (Document, error)

	// UpdateIfVersion replaces the value only when the stored version matches
	// expectedVersion. Returns false without writing on a version mismatch.
	UpdateIfVersion(ctx context.Context, key string, value []byte, expectedVersion int64) (bool, error)

	// AppendToArray appends item to the sequence stored under key, creating
	// the sequence if needed. Returns the new sequence length.
	AppendToArray(ctx context.Context, key string, item []byte) (int, error)

	// ListArray returns the full sequence under key in append order. A missing
	// key yields an empty sequence, not an error.
	ListArray(ctx context.Context, key string) ([][]byte, error)

	// QueryByField returns all documents whose JSON value has a top-level
	// string field equal to value.
	QueryByField(ctx context.Context, field, value string) ([]Document, error)
}
