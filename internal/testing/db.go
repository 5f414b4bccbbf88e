// Package testing provides testing utilities and helpers for the ledgersync project.
package testing

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/aristath/ledgersync/internal/database"
)

// NewTestDB creates a file-backed SQLite database in a per-test temp dir with
// the schema for name ("state" or "cache") applied. The database is closed
// automatically when the test ends.
func NewTestDB(t *testing.T, name string) *database.DB {
	t.Helper()

	profile := database.ProfileLedger
	if name == "cache" {
		profile = database.ProfileCache
	}

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), fmt.Sprintf("%s.db", name)),
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
	})

	return db
}
