// Package clientdata provides the persistent response cache used by the
// ledger API client. Entries carry the time they were stored; freshness is
// decided by the TTL the reader supplies, not at write time.
package clientdata

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Entry is a cached response body and the moment it was stored.
type Entry struct {
	Data     json.RawMessage
	StoredAt time.Time
}

// Repository provides cache operations over cache.db's responses table.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a new response cache repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// WithClock replaces the repository's clock. Used by tests that need to
// step across a TTL boundary.
func (r *Repository) WithClock(now func() time.Time) *Repository {
	r.now = now
	return r
}

// Key builds the cache identity for a request: method, endpoint and the
// query sorted by parameter name. Headers never take part.
func Key(method, endpoint string, query url.Values) string {
	key := strings.ToUpper(method) + " " + endpoint
	if encoded := query.Encode(); encoded != "" {
		key += "?" + encoded
	}
	return key
}

// Store upserts data under key, stamping it with the current time.
func (r *Repository) Store(key, endpoint string, data json.RawMessage) error {
	if !json.Valid(data) {
		return fmt.Errorf("refusing to cache invalid JSON for %s", key)
	}

	_, err := r.db.Exec(
		"INSERT OR REPLACE INTO responses (cache_key, endpoint, data, stored_at) VALUES (?, ?, ?, ?)",
		key, endpoint, string(data), r.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to store cache entry %s: %w", key, err)
	}
	return nil
}

// GetIfFresh returns the entry only if it is younger than ttl.
// Returns nil, nil if the key doesn't exist or the entry has aged out.
func (r *Repository) GetIfFresh(key string, ttl time.Duration) (*Entry, error) {
	entry, err := r.Get(key)
	if err != nil || entry == nil {
		return nil, err
	}
	if r.now().Sub(entry.StoredAt) >= ttl {
		return nil, nil
	}
	return entry, nil
}

// Get returns the entry regardless of age.
// Stale data is still useful as a fallback when the remote is unreachable.
// Returns nil, nil if the key doesn't exist.
func (r *Repository) Get(key string) (*Entry, error) {
	var data string
	var storedAt int64
	err := r.db.QueryRow(
		"SELECT data, stored_at FROM responses WHERE cache_key = ?", key,
	).Scan(&data, &storedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry %s: %w", key, err)
	}

	return &Entry{
		Data:     json.RawMessage(data),
		StoredAt: time.UnixMilli(storedAt),
	}, nil
}

// Delete removes a specific entry.
func (r *Repository) Delete(key string) error {
	if _, err := r.db.Exec("DELETE FROM responses WHERE cache_key = ?", key); err != nil {
		return fmt.Errorf("failed to delete cache entry %s: %w", key, err)
	}
	return nil
}

// InvalidateEndpoint removes every entry cached for endpoint, whatever its
// query. Returns the number of rows deleted.
func (r *Repository) InvalidateEndpoint(endpoint string) (int64, error) {
	result, err := r.db.Exec("DELETE FROM responses WHERE endpoint = ?", endpoint)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate %s: %w", endpoint, err)
	}
	return result.RowsAffected()
}

// DeleteOlderThan removes entries stored more than maxAge ago.
func (r *Repository) DeleteOlderThan(maxAge time.Duration) (int64, error) {
	cutoff := r.now().Add(-maxAge).UnixMilli()

	result, err := r.db.Exec("DELETE FROM responses WHERE stored_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale cache entries: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// Clear empties the cache. Called on logout.
func (r *Repository) Clear() error {
	if _, err := r.db.Exec("DELETE FROM responses"); err != nil {
		return fmt.Errorf("failed to clear response cache: %w", err)
	}
	return nil
}

// Count returns the number of cached entries.
func (r *Repository) Count() (int, error) {
	var n int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM responses").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", err)
	}
	return n, nil
}
