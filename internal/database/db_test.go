package database

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDB(t *testing.T, name string, profile DatabaseProfile) *DB {
	t.Helper()
	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: profile,
		Name:    name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNew_CreatesDirectoryAndDefaultsProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "x.db")
	db, err := New(Config{Path: path, Name: "x"})
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, ProfileStandard, db.Profile())
	assert.Equal(t, path, db.Path())
	assert.Equal(t, "x", db.Name())
}

func TestBuildConnectionString(t *testing.T) {
	ledger := buildConnectionString("/tmp/a.db", ProfileLedger)
	assert.Contains(t, ledger, "/tmp/a.db?_pragma=journal_mode(WAL)")
	assert.Contains(t, ledger, "synchronous(FULL)")

	cache := buildConnectionString("/tmp/b.db", ProfileCache)
	assert.Contains(t, cache, "synchronous(OFF)")

	uri := buildConnectionString("file:memdb?mode=memory", ProfileStandard)
	assert.Contains(t, uri, "file:memdb?mode=memory&_pragma=journal_mode(WAL)")
}

func TestMigrate_StateSchema(t *testing.T) {
	db := newDB(t, "state", ProfileLedger)
	require.NoError(t, db.Migrate())
	// Idempotent
	require.NoError(t, db.Migrate())

	for _, table := range []string{"queued_writes", "kv"} {
		var name string
		err := db.Conn().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestMigrate_CacheSchema(t *testing.T) {
	db := newDB(t, "cache", ProfileCache)
	require.NoError(t, db.Migrate())

	var name string
	err := db.Conn().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='responses'").Scan(&name)
	require.NoError(t, err)
}

func TestMigrate_UnknownNameIsNoop(t *testing.T) {
	db := newDB(t, "other", ProfileStandard)
	assert.NoError(t, db.Migrate())
}

func TestWithTransaction(t *testing.T) {
	db := newDB(t, "state", ProfileLedger)
	require.NoError(t, db.Migrate())

	insert := func(tx *sql.Tx, key string) error {
		_, err := tx.Exec("INSERT INTO kv (namespace, key, value, updated_at) VALUES ('t', ?, 'v', 0)", key)
		return err
	}

	t.Run("commits on success", func(t *testing.T) {
		err := WithTransaction(db.Conn(), func(tx *sql.Tx) error { return insert(tx, "a") })
		require.NoError(t, err)

		var count int
		require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM kv WHERE key='a'").Scan(&count))
		assert.Equal(t, 1, count)
	})

	t.Run("rolls back on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
			require.NoError(t, insert(tx, "b"))
			return boom
		})
		require.ErrorIs(t, err, boom)

		var count int
		require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM kv WHERE key='b'").Scan(&count))
		assert.Equal(t, 0, count)
	})

	t.Run("rolls back on panic", func(t *testing.T) {
		err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
			require.NoError(t, insert(tx, "c"))
			panic("kaboom")
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "panic in transaction")

		var count int
		require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM kv WHERE key='c'").Scan(&count))
		assert.Equal(t, 0, count)
	})

	t.Run("nil db", func(t *testing.T) {
		assert.Error(t, WithTransaction(nil, func(*sql.Tx) error { return nil }))
	})
}

func TestWALCheckpoint(t *testing.T) {
	db := newDB(t, "cache", ProfileCache)
	require.NoError(t, db.Migrate())
	assert.NoError(t, db.WALCheckpoint(""))
}
