package queue

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/ledgersync/internal/database"
	"github.com/aristath/ledgersync/internal/domain"
)

// Store persists the queue.
type Store interface {
	Load() ([]QueuedWrite, error)
	// Save replaces the persisted queue with items, atomically.
	Save(items []QueuedWrite) error
}

// storedPayload is the msgpack form of a TransactionRecord. Amounts travel
// as decimal strings so no precision is lost.
type storedPayload struct {
	Year          int    `msgpack:"y"`
	Month         int    `msgpack:"m"`
	Day           int    `msgpack:"d"`
	Category      string `msgpack:"cat"`
	PaymentMethod string `msgpack:"pay"`
	Detail        string `msgpack:"det,omitempty"`
	Reference     string `msgpack:"ref,omitempty"`
	Debit         string `msgpack:"dr"`
	Credit        string `msgpack:"cr"`
}

func encodePayload(rec domain.TransactionRecord) ([]byte, error) {
	return msgpack.Marshal(storedPayload{
		Year:          rec.Year,
		Month:         rec.Month,
		Day:           rec.Day,
		Category:      rec.Category,
		PaymentMethod: rec.PaymentMethod,
		Detail:        rec.Detail,
		Reference:     rec.Reference,
		Debit:         rec.Debit.String(),
		Credit:        rec.Credit.String(),
	})
}

func decodePayload(raw []byte) (domain.TransactionRecord, error) {
	var p storedPayload
	if err := msgpack.Unmarshal(raw, &p); err != nil {
		return domain.TransactionRecord{}, err
	}

	debit, err := decimal.NewFromString(p.Debit)
	if err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("bad debit %q: %w", p.Debit, err)
	}
	credit, err := decimal.NewFromString(p.Credit)
	if err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("bad credit %q: %w", p.Credit, err)
	}

	return domain.TransactionRecord{
		Year:          p.Year,
		Month:         p.Month,
		Day:           p.Day,
		Category:      p.Category,
		PaymentMethod: p.PaymentMethod,
		Detail:        p.Detail,
		Reference:     p.Reference,
		Debit:         debit,
		Credit:        credit,
	}, nil
}

// SQLiteStore keeps the queue in state.db's queued_writes table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new queue store.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Load returns the persisted queue in FIFO order.
func (s *SQLiteStore) Load() ([]QueuedWrite, error) {
	rows, err := s.db.Query(`
		SELECT id, enqueued_at, retry_count, payload
		FROM queued_writes
		ORDER BY position ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load queue: %w", err)
	}
	defer rows.Close()

	var items []QueuedWrite
	for rows.Next() {
		var (
			item       QueuedWrite
			enqueuedAt int64
			raw        []byte
		)
		if err := rows.Scan(&item.ID, &enqueuedAt, &item.RetryCount, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan queued write: %w", err)
		}
		payload, err := decodePayload(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode queued write %s: %w", item.ID, err)
		}
		item.EnqueuedAt = time.UnixMilli(enqueuedAt)
		item.Payload = payload
		items = append(items, item)
	}

	return items, rows.Err()
}

// Save replaces every row in one transaction.
func (s *SQLiteStore) Save(items []QueuedWrite) error {
	encoded := make([][]byte, len(items))
	for i, item := range items {
		raw, err := encodePayload(item.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode queued write %s: %w", item.ID, err)
		}
		encoded[i] = raw
	}

	return database.WithTransaction(s.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM queued_writes"); err != nil {
			return fmt.Errorf("failed to clear queue: %w", err)
		}

		stmt, err := tx.Prepare(`
			INSERT INTO queued_writes (id, position, enqueued_at, retry_count, payload)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		for i, item := range items {
			if _, err := stmt.Exec(item.ID, i, item.EnqueuedAt.UnixMilli(), item.RetryCount, encoded[i]); err != nil {
				return fmt.Errorf("failed to insert queued write %s: %w", item.ID, err)
			}
		}
		return nil
	})
}
