// Package docstore is the transactional JSON document store the consumer,
// shadow executor, and watchdog write through. Two implementations: an
// in-memory store for tests and single-process runs, and SQLite for
// durable deployments. A transaction sees its own writes and commits
// atomically; conflicting creates surface as ErrExists so callers can
// build create-once semantics on top.
package docstore

import (
	"context"
	"errors"
)

// Doc is one stored JSON document.
type Doc map[string]any

var (
	ErrExists   = errors.New("docstore: document already exists")
	ErrNotFound = errors.New("docstore: document not found")
)

// Tx is the per-transaction view. Reads observe the transaction's own
// pending writes.
type Tx interface {
	Get(collection, id string) (Doc, bool, error)
	// Create fails with ErrExists when the document is already present.
	Create(collection, id string, doc Doc) error
	Set(collection, id string, doc Doc) error
	Delete(collection, id string) error
}

// Store is the document store shared by the consumer and its neighbors.
type Store interface {
	// RunTransaction executes fn atomically. A returned error rolls the
	// transaction back and is passed through to the caller.
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error
	Get(ctx context.Context, collection, id string) (Doc, bool, error)
	// List returns up to limit documents from a collection, most recently
	// written first.
	List(ctx context.Context, collection string, limit int) ([]Doc, error)
	Close() error
}

// Clone deep-copies a document so callers can never alias store-internal
// state.
func Clone(d Doc) Doc {
	if d == nil {
		return nil
	}
	return Doc(cloneValue(map[string]any(d)).(map[string]any))
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = cloneValue(inner)
		}
		return out
	case Doc:
		return cloneValue(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return t
	}
}
