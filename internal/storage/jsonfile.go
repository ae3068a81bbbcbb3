package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/starford/assistenze/internal/checksum"
)

// JSONFile implements Collection backed by a single JSON array file.
type JSONFile[T any] struct {
	path string
	mu   sync.Mutex // serializes writers
}

var _ Collection[struct{}] = (*JSONFile[struct{}])(nil)

// NewJSONFile creates a collection stored in dir/name.
// The directory must already exist; name must be a plain file name.
func NewJSONFile[T any](dir, name string) (*JSONFile[T], error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve dir: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: not a directory: %s", abs)
	}
	if name == "" || filepath.Base(name) != name || name == "." || name == ".." {
		return nil, fmt.Errorf("storage: invalid collection file name: %q", name)
	}
	return &JSONFile[T]{path: filepath.Join(abs, name)}, nil
}

// Path returns the absolute path of the backing file.
func (f *JSONFile[T]) Path() string {
	return f.path
}

// Load reads and decodes the whole file.
func (f *JSONFile[T]) Load(ctx context.Context) (Snapshot[T], error) {
	if err := ctx.Err(); err != nil {
		return Snapshot[T]{}, err
	}
	return f.load()
}

// SaveAll overwrites the file if its version still equals ifVersion.
func (f *JSONFile[T]) SaveAll(ctx context.Context, items []T, ifVersion string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if ifVersion != AnyVersion {
		cur, err := f.currentVersion()
		if err != nil {
			return "", err
		}
		if cur != ifVersion {
			return "", ErrVersionMismatch
		}
	}
	return f.write(items)
}

// Update performs a locked read-modify-write cycle.
func (f *JSONFile[T]) Update(ctx context.Context, fn MutateFunc[T]) (Snapshot[T], error) {
	if err := ctx.Err(); err != nil {
		return Snapshot[T]{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	snap, err := f.load()
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

	// Another process may have replaced the file while fn ran.
	cur, err := f.currentVersion()
	if err != nil {
		return Snapshot[T]{}, err
	}
	if cur != snap.Version {
		return Snapshot[T]{}, ErrVersionMismatch
	}

	version, err := f.write(items)
	if err != nil {
		return Snapshot[T]{}, err
	}
	return Snapshot[T]{Items: nonNil(items), Version: version}, nil
}

func (f *JSONFile[T]) load() (Snapshot[T], error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot[T]{Items: []T{}}, nil
	}
	if err != nil {
		return Snapshot[T]{}, fmt.Errorf("storage: read %s: %w", filepath.Base(f.path), err)
	}
	items, err := decode[T](data)
	if err != nil {
		return Snapshot[T]{}, fmt.Errorf("storage: corrupt JSON in %s: %w", filepath.Base(f.path), err)
	}
	return Snapshot[T]{Items: items, Version: checksum.Sum(data)}, nil
}

func (f *JSONFile[T]) currentVersion() (string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("storage: read %s: %w", filepath.Base(f.path), err)
	}
	return checksum.Sum(data), nil
}

// write atomically replaces the file: tmp file → fsync → rename.
func (f *JSONFile[T]) write(items []T) (string, error) {
	data, err := encode(items)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(f.path)

	tmp, err := os.CreateTemp(dir, ".assistenze-tmp-*")
	if err != nil {
		return "", fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return "", fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return "", fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return checksum.Sum(data), nil
}

func encode[T any](items []T) ([]byte, error) {
	data, err := json.MarshalIndent(nonNil(items), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("storage: marshal: %w", err)
	}
	return data, nil
}

func decode[T any](data []byte) ([]T, error) {
	var items []T
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, err
		}
	}
	return nonNil(items), nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
