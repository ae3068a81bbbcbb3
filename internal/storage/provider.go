// Package storage defines the collection abstraction used to persist records and users.
//
// A collection is a whole table stored as one document: every read loads all
// items, every write replaces all items. Writers go through Update, which
// serializes them per collection and refuses to overwrite a document that
// changed since it was read.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/starford/assistenze/internal/apperr"
)

// AnyVersion disables the version check of SaveAll.
const AnyVersion = "*"

var (
	// ErrVersionMismatch is returned when the stored document changed since it was read.
	ErrVersionMismatch = fmt.Errorf("storage: version mismatch: %w", apperr.ErrConflict)

	// ErrSkip may be returned by a MutateFunc to end Update without writing.
	ErrSkip = errors.New("storage: skip write")
)

// Snapshot is the content of a collection at a given version.
// An empty Version means no document is stored yet.
type Snapshot[T any] struct {
	Items   []T
	Version string
}

// Exists reports whether the collection has a backing document.
func (s Snapshot[T]) Exists() bool {
	return s.Version != ""
}

// MutateFunc computes the new content of a collection from its current snapshot.
type MutateFunc[T any] func(Snapshot[T]) ([]T, error)

// Collection is the interface for whole-document collections.
type Collection[T any] interface {
	// Load reads the full collection. A missing document yields an empty,
	// non-existent snapshot and no error.
	Load(ctx context.Context) (Snapshot[T], error)
	// SaveAll replaces the collection if its current version equals ifVersion
	// (pass "" to require that no document exists, AnyVersion to skip the check).
	// It returns the new version.
	SaveAll(ctx context.Context, items []T, ifVersion string) (string, error)
	// Update runs fn on the current snapshot and saves its result, holding the
	// collection's writer lock for the whole read-modify-write cycle.
	Update(ctx context.Context, fn MutateFunc[T]) (Snapshot[T], error)
}
