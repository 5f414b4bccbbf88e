package kv

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)

	_, err = db.Exec(`
		CREATE TABLE kv (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (namespace, key)
		)
	`)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return db
}

func TestRepository_GetSet(t *testing.T) {
	repo := NewRepository(setupTestDB(t), zerolog.Nop())

	value, err := repo.Get("ns", "missing")
	require.NoError(t, err)
	assert.Nil(t, value)

	require.NoError(t, repo.Set("ns", "k", "v1"))
	require.NoError(t, repo.Set("ns", "k", "v2"))

	value, err = repo.Get("ns", "k")
	require.NoError(t, err)
	require.NotNil(t, value)
	assert.Equal(t, "v2", *value)
}

func TestRepository_SetIfAbsent(t *testing.T) {
	repo := NewRepository(setupTestDB(t), zerolog.Nop())

	stored, err := repo.SetIfAbsent("ns", "device", "first")
	require.NoError(t, err)
	assert.Equal(t, "first", stored)

	stored, err = repo.SetIfAbsent("ns", "device", "second")
	require.NoError(t, err)
	assert.Equal(t, "first", stored)
}

func TestRepository_DeleteNamespace(t *testing.T) {
	repo := NewRepository(setupTestDB(t), zerolog.Nop())

	require.NoError(t, repo.Set("a", "1", "x"))
	require.NoError(t, repo.Set("a", "2", "y"))
	require.NoError(t, repo.Set("b", "1", "z"))

	n, err := repo.DeleteNamespace("a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	all, err := repo.GetAll("a")
	require.NoError(t, err)
	assert.Empty(t, all)

	all, err = repo.GetAll("b")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"1": "z"}, all)
}

func TestRepository_Delete(t *testing.T) {
	repo := NewRepository(setupTestDB(t), zerolog.Nop())

	require.NoError(t, repo.Set("ns", "k", "v"))
	require.NoError(t, repo.Delete("ns", "k"))
	require.NoError(t, repo.Delete("ns", "k"))

	value, err := repo.Get("ns", "k")
	require.NoError(t, err)
	assert.Nil(t, value)
}
