package queue

import (
	"errors"
	"time"

	"github.com/aristath/ledgersync/internal/domain"
)

// MaxRetries is the number of failed transient deliveries after which a
// write is abandoned.
const MaxRetries = 3

// ErrDrainInProgress is returned by Drain while another pass is running.
var ErrDrainInProgress = errors.New("drain already in progress")

// QueuedWrite is one pending transaction submission.
type QueuedWrite struct {
	ID         string                   `json:"id"`
	EnqueuedAt time.Time                `json:"enqueuedAt"`
	Payload    domain.TransactionRecord `json:"payload"`
	RetryCount int                      `json:"retryCount"`
}

// DrainResult summarises one pass.
type DrainResult struct {
	Attempted int  `json:"attempted"`
	Delivered int  `json:"delivered"`
	Retried   int  `json:"retried"`
	Abandoned int  `json:"abandoned"`
	Rejected  int  `json:"rejected"`
	Remaining int  `json:"remaining"`
	Paused    bool `json:"paused"`
}

// Stats are cumulative counters since process start plus the current depth.
type Stats struct {
	Depth       int       `json:"depth"`
	Delivered   uint64    `json:"delivered"`
	Abandoned   uint64    `json:"abandoned"`
	Rejected    uint64    `json:"rejected"`
	Paused      bool      `json:"paused"`
	Draining    bool      `json:"draining"`
	LastDrainAt time.Time `json:"lastDrainAt,omitempty"`
}
