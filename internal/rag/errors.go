package rag

import (
	"errors"
	"fmt"
)

// ErrShutdown is returned by stores and providers when an operation is
// attempted after graceful teardown has begun. Ingestion paths treat it as a
// benign no-op; retrieval paths propagate it so a shutdown mid-search never
// fabricates results.
var ErrShutdown = errors.New("rag: system is shutting down")

// StorageError wraps a vector-store read/write failure. Callers must treat a
// failed search as "no results", not "zero relevance".
type StorageError struct {
	// Op is the store operation that failed (e.g. "upsert", "query").
	Op string

	// Collection is the collection involved, if any.
	Collection string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("rag: storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("rag: storage %s on %q: %v", e.Op, e.Collection, e.Err)
}

// Unwrap returns the underlying cause for errors.Is / errors.As matching.
func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err as a StorageError for the given operation and
// collection. Returns nil when err is nil.
func NewStorageError(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Collection: collection, Err: err}
}

// IsStorage reports whether err is (or wraps) a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
