// Package sqlitestore provides storage collections kept as JSON documents in SQLite.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/assistenze/internal/checksum"
	"github.com/starford/assistenze/internal/storage"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS collections (
	name       TEXT PRIMARY KEY,
	body       TEXT NOT NULL DEFAULT '[]',
	version    TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// DB wraps a sql.DB holding every collection of the application.
type DB struct {
	conn *sql.DB
	mu   sync.Mutex // serializes writers of this process
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlitestore: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlitestore: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Collection implements storage.Collection as one row of the collections table.
type Collection[T any] struct {
	db   *DB
	name string
}

var _ storage.Collection[struct{}] = (*Collection[struct{}])(nil)

// NewCollection returns the collection stored under name.
func NewCollection[T any](db *DB, name string) *Collection[T] {
	return &Collection[T]{db: db, name: name}
}

// Load reads the full collection. A missing row yields an empty snapshot.
func (c *Collection[T]) Load(ctx context.Context) (storage.Snapshot[T], error) {
	return c.load(ctx, c.db.conn)
}

// SaveAll replaces the collection if its version still equals ifVersion.
func (c *Collection[T]) SaveAll(ctx context.Context, items []T, ifVersion string) (string, error) {
	var version string
	err := c.inTx(ctx, func(tx *sql.Tx) error {
		if ifVersion != storage.AnyVersion {
			snap, err := c.load(ctx, tx)
			if err != nil {
				return err
			}
			if snap.Version != ifVersion {
				return storage.ErrVersionMismatch
			}
		}
		v, err := c.save(ctx, tx, items)
		version = v
		return err
	})
	if err != nil {
		return "", err
	}
	return version, nil
}

// Update runs fn and saves its result inside one immediate transaction.
func (c *Collection[T]) Update(ctx context.Context, fn storage.MutateFunc[T]) (storage.Snapshot[T], error) {
	var out storage.Snapshot[T]
	err := c.inTx(ctx, func(tx *sql.Tx) error {
		snap, err := c.load(ctx, tx)
		if err != nil {
			return err
		}
		items, err := fn(snap)
		if errors.Is(err, storage.ErrSkip) {
			out = snap
			return nil
		}
		if err != nil {
			return err
		}
		if items == nil {
			items = []T{}
		}
		version, err := c.save(ctx, tx, items)
		if err != nil {
			return err
		}
		out = storage.Snapshot[T]{Items: items, Version: version}
		return nil
	})
	if err != nil {
		return storage.Snapshot[T]{}, err
	}
	return out, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (c *Collection[T]) load(ctx context.Context, q querier) (storage.Snapshot[T], error) {
	var body, version string
	err := q.QueryRowContext(ctx, `SELECT body, version FROM collections WHERE name = ?`, c.name).Scan(&body, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Snapshot[T]{Items: []T{}}, nil
	}
	if err != nil {
		return storage.Snapshot[T]{}, fmt.Errorf("sqlitestore: load %s: %w", c.name, err)
	}
	var items []T
	if err := json.Unmarshal([]byte(body), &items); err != nil {
		return storage.Snapshot[T]{}, fmt.Errorf("sqlitestore: corrupt JSON in %s: %w", c.name, err)
	}
	if items == nil {
		items = []T{}
	}
	return storage.Snapshot[T]{Items: items, Version: version}, nil
}

func (c *Collection[T]) save(ctx context.Context, tx *sql.Tx, items []T) (string, error) {
	if items == nil {
		items = []T{}
	}
	body, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("sqlitestore: marshal %s: %w", c.name, err)
	}
	version := checksum.Sum(body)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO collections (name, body, version, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			body       = excluded.body,
			version    = excluded.version,
			updated_at = excluded.updated_at
	`, c.name, string(body), version, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("sqlitestore: save %s: %w", c.name, err)
	}
	return version, nil
}

func (c *Collection[T]) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	tx, err := c.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlitestore: commit: %w", err)
	}
	return nil
}
