// Package kv provides a namespaced key-value repository over the state
// database's kv table. Namespaces let a caller wipe everything it owns in one
// statement (session keys on logout, the last health status).
package kv

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Repository handles kv table operations for one database.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new kv repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "kv").Logger(),
	}
}

// Get retrieves a value. Returns nil if the key doesn't exist (not an error).
func (r *Repository) Get(namespace, key string) (*string, error) {
	var value string
	err := r.db.QueryRow(
		"SELECT value FROM kv WHERE namespace = ? AND key = ?",
		namespace, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", namespace, key, err)
	}
	return &value, nil
}

// Set upserts a value.
func (r *Repository) Set(namespace, key, value string) error {
	_, err := r.db.Exec(`
		INSERT INTO kv (namespace, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, namespace, key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to set %s/%s: %w", namespace, key, err)
	}
	return nil
}

// SetIfAbsent inserts a value only when the key is missing and returns the
// value that ends up stored.
func (r *Repository) SetIfAbsent(namespace, key, value string) (string, error) {
	_, err := r.db.Exec(`
		INSERT INTO kv (namespace, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO NOTHING
	`, namespace, key, value, time.Now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("failed to insert %s/%s: %w", namespace, key, err)
	}

	stored, err := r.Get(namespace, key)
	if err != nil {
		return "", err
	}
	if stored == nil {
		return "", fmt.Errorf("%s/%s vanished after insert", namespace, key)
	}
	return *stored, nil
}

// Delete removes a single key. Deleting a missing key is not an error.
func (r *Repository) Delete(namespace, key string) error {
	if _, err := r.db.Exec("DELETE FROM kv WHERE namespace = ? AND key = ?", namespace, key); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

// DeleteNamespace removes every key in a namespace and reports how many rows went.
func (r *Repository) DeleteNamespace(namespace string) (int64, error) {
	result, err := r.db.Exec("DELETE FROM kv WHERE namespace = ?", namespace)
	if err != nil {
		return 0, fmt.Errorf("failed to clear namespace %s: %w", namespace, err)
	}
	n, _ := result.RowsAffected()
	r.log.Debug().Str("namespace", namespace).Int64("rows", n).Msg("Cleared namespace")
	return n, nil
}

// GetAll returns every key/value in a namespace.
func (r *Repository) GetAll(namespace string) (map[string]string, error) {
	rows, err := r.db.Query("SELECT key, value FROM kv WHERE namespace = ?", namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list namespace %s: %w", namespace, err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			r.log.Warn().Err(err).Msg("Failed to scan kv row")
			continue
		}
		result[key] = value
	}
	return result, rows.Err()
}
