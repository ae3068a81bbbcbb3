package sqlitestore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/starford/assistenze/internal/apperr"
	"github.com/starford/assistenze/internal/storage"
)

type row struct {
	ID string `json:"id"`
}

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "assistenze-test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM collections`).Scan(&count); err != nil {
		t.Fatalf("collections table missing: %v", err)
	}
}

func TestLoadMissingCollection(t *testing.T) {
	c := NewCollection[row](testDB(t), "records")
	snap, err := c.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Exists() || len(snap.Items) != 0 || snap.Items == nil {
		t.Errorf("snap = %+v, want empty non-existent", snap)
	}
}

func TestSaveAllVersionCheck(t *testing.T) {
	c := NewCollection[row](testDB(t), "records")
	ctx := context.Background()

	v1, err := c.SaveAll(ctx, []row{{ID: "a"}}, "")
	if err != nil {
		t.Fatalf("SaveAll: %v", err)
	}
	if _, err := c.SaveAll(ctx, []row{{ID: "b"}}, ""); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("err = %v, want conflict", err)
	}
	if _, err := c.SaveAll(ctx, []row{{ID: "b"}}, v1); err != nil {
		t.Fatalf("SaveAll with current version: %v", err)
	}
	snap, _ := c.Load(ctx)
	if len(snap.Items) != 1 || snap.Items[0].ID != "b" {
		t.Errorf("items = %+v", snap.Items)
	}
	if snap.Version == v1 {
		t.Error("version did not change")
	}
}

func TestCollectionsAreIndependent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	records := NewCollection[row](db, "records")
	users := NewCollection[row](db, "users")

	if _, err := records.SaveAll(ctx, []row{{ID: "r"}}, storage.AnyVersion); err != nil {
		t.Fatal(err)
	}
	snap, _ := users.Load(ctx)
	if snap.Exists() {
		t.Error("users should not exist")
	}
}

func TestUpdateSkipAndError(t *testing.T) {
	c := NewCollection[row](testDB(t), "records")
	ctx := context.Background()

	snap, err := c.Update(ctx, func(storage.Snapshot[row]) ([]row, error) { return nil, storage.ErrSkip })
	if err != nil || snap.Exists() {
		t.Fatalf("skip: snap=%+v err=%v", snap, err)
	}
	boom := errors.New("boom")
	if _, err := c.Update(ctx, func(storage.Snapshot[row]) ([]row, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	snap, _ = c.Load(ctx)
	if snap.Exists() {
		t.Error("failed update must not create the collection")
	}
}

func TestConcurrentUpdates(t *testing.T) {
	c := NewCollection[row](testDB(t), "records")
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Update(ctx, func(s storage.Snapshot[row]) ([]row, error) {
				return append(s.Items, row{ID: fmt.Sprint(i)}), nil
			})
			if err != nil {
				t.Errorf("Update: %v", err)
			}
		}(i)
	}
	wg.Wait()

	snap, _ := c.Load(ctx)
	if len(snap.Items) != n {
		t.Errorf("len = %d, want %d", len(snap.Items), n)
	}
}
