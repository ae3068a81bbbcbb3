// Package testutil provides shared test helpers for setting up stores and services.
package testutil

import (
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/starford/assistenze/internal/auth"
	"github.com/starford/assistenze/internal/models"
	"github.com/starford/assistenze/internal/storage"
)

// Secret signs the tokens issued in tests.
const Secret = "test-secret"

// Records returns an in-memory record collection. Passing items seeds it,
// so the collection counts as existing.
func Records(t *testing.T, items ...models.Record) *storage.Memory[models.Record] {
	t.Helper()
	m := storage.NewMemory[models.Record]()
	if len(items) > 0 {
		if err := m.Seed(items); err != nil {
			t.Fatal(err)
		}
	}
	return m
}

// RecordFile creates a records.json collection in a temporary directory.
func RecordFile(t *testing.T) *storage.JSONFile[models.Record] {
	t.Helper()
	c, err := storage.NewJSONFile[models.Record](t.TempDir(), "records.json")
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// Auth creates an auth service over an in-memory users collection, using
// the cheapest bcrypt cost to keep tests fast.
func Auth(t *testing.T, admins ...string) (*auth.Service, *storage.Memory[models.User]) {
	t.Helper()
	users := storage.NewMemory[models.User]()
	svc, err := auth.NewService(users, auth.Config{
		Secret:     Secret,
		Admins:     admins,
		BcryptCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatal(err)
	}
	return svc, users
}
