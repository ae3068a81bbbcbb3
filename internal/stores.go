package internal

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/starford/assistenze/internal/models"
	"github.com/starford/assistenze/internal/sqlitestore"
	"github.com/starford/assistenze/internal/storage"
)

// SQLite collection names.
const (
	recordsCollection = "records"
	usersCollection   = "users"
)

// stores holds the collections selected by the storage driver.
type stores struct {
	records storage.Collection[models.Record]
	users   storage.Collection[models.User]
	// watchDir is the directory holding the collection files, empty when
	// the driver does not keep them as plain files.
	watchDir string
	close    func() error
}

func openStores(cfg StorageConfig) (*stores, error) {
	switch cfg.Driver {
	case StorageDriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		db, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &stores{
			records: sqlitestore.NewCollection[models.Record](db, recordsCollection),
			users:   sqlitestore.NewCollection[models.User](db, usersCollection),
			close:   db.Close,
		}, nil

	default:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		records, err := storage.NewJSONFile[models.Record](cfg.DataDir, RecordsFile)
		if err != nil {
			return nil, err
		}
		users, err := storage.NewJSONFile[models.User](cfg.DataDir, UsersFile)
		if err != nil {
			return nil, err
		}
		return &stores{
			records:  records,
			users:    users,
			watchDir: filepath.Dir(records.Path()),
			close:    func() error { return nil },
		}, nil
	}
}
