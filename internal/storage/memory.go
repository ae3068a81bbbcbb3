package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/starford/assistenze/internal/checksum"
)

// Memory is an in-memory Collection. It keeps the serialized document so
// callers never share item memory with the store, like the file-backed one.
type Memory[T any] struct {
	mu     sync.Mutex
	data   []byte
	exists bool
	err    error
}

var _ Collection[struct{}] = (*Memory[struct{}])(nil)

// NewMemory returns an empty collection with no backing document.
func NewMemory[T any]() *Memory[T] {
	return &Memory[T]{}
}

// Seed replaces the content and marks the document as existing.
func (m *Memory[T]) Seed(items []T) error {
	data, err := encode(items)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
	m.exists = true
	return nil
}

// SetError makes every following operation fail with err (nil restores normal behavior).
func (m *Memory[T]) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Load decodes the stored document.
func (m *Memory[T]) Load(ctx context.Context) (Snapshot[T], error) {
	if err := ctx.Err(); err != nil {
		return Snapshot[T]{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load()
}

// SaveAll replaces the document if its version still equals ifVersion.
func (m *Memory[T]) SaveAll(ctx context.Context, items []T, ifVersion string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if ifVersion != AnyVersion && ifVersion != m.version() {
		return "", ErrVersionMismatch
	}
	return m.save(items)
}

// Update performs a locked read-modify-write cycle.
func (m *Memory[T]) Update(ctx context.Context, fn MutateFunc[T]) (Snapshot[T], error) {
	if err := ctx.Err(); err != nil {
		return Snapshot[T]{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, err := m.load()
	if err != nil {
		return Snapshot[T]{}, err
	}
	items, err := fn(snap)
	if errors.Is(err, ErrSkip) {
		return snap, nil
	}
	if err != nil {
		return Snapshot[T]{}, err
	}
	version, err := m.save(items)
	if err != nil {
		return Snapshot[T]{}, err
	}
	return Snapshot[T]{Items: nonNil(items), Version: version}, nil
}

func (m *Memory[T]) load() (Snapshot[T], error) {
	if m.err != nil {
		return Snapshot[T]{}, m.err
	}
	if !m.exists {
		return Snapshot[T]{Items: []T{}}, nil
	}
	items, err := decode[T](m.data)
	if err != nil {
		return Snapshot[T]{}, fmt.Errorf("storage: decode memory document: %w", err)
	}
	return Snapshot[T]{Items: items, Version: m.version()}, nil
}

func (m *Memory[T]) save(items []T) (string, error) {
	data, err := encode(items)
	if err != nil {
		return "", err
	}
	m.data = data
	m.exists = true
	return m.version(), nil
}

func (m *Memory[T]) version() string {
	if !m.exists {
		return ""
	}
	return checksum.Sum(m.data)
}
