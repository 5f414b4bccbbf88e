// Package queue is the offline write queue: submissions are persisted first
// and delivered to the remote service by a drain loop with a bounded retry
// budget per write.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/ledgersync/internal/clients/ledgerapi"
	"github.com/aristath/ledgersync/internal/domain"
	"github.com/aristath/ledgersync/internal/events"
)

// Deliverer sends one transaction to the remote service.
type Deliverer interface {
	SubmitTransaction(ctx context.Context, rec domain.TransactionRecord) error
}

// Emitter publishes queue outcomes.
type Emitter interface {
	Emit(module string, data events.EventData)
}

const module = "queue"

// Manager owns the queue. All methods are safe for concurrent use.
type Manager struct {
	store     Store
	deliverer Deliverer
	bus       Emitter
	sleep     ledgerapi.SleepFunc
	log       zerolog.Logger

	mu        sync.Mutex
	items     []QueuedWrite
	dirty     bool // in-memory state not yet persisted
	paused    bool
	lastDrain time.Time

	draining atomic.Bool
	trigger  chan struct{}

	delivered atomic.Uint64
	abandoned atomic.Uint64
	rejected  atomic.Uint64
}

// NewManager loads the persisted queue and returns a manager over it.
// bus may be nil.
func NewManager(store Store, deliverer Deliverer, bus Emitter, log zerolog.Logger) (*Manager, error) {
	items, err := store.Load()
	if err != nil {
		return nil, err
	}

	m := &Manager{
		store:     store,
		deliverer: deliverer,
		bus:       bus,
		log:       log.With().Str("component", "write_queue").Logger(),
		items:     items,
		trigger:   make(chan struct{}, 1),
	}

	m.log.Info().Int("pending", len(items)).Msg("Write queue loaded")
	return m, nil
}

// SetSleep replaces the rate-limit sleeper. Tests use it to avoid real waits.
func (m *Manager) SetSleep(sleep ledgerapi.SleepFunc) {
	m.sleep = sleep
}

// Enqueue validates and persists a new write, then asks for a drain.
// If persisting fails the write is not kept and the error is returned.
func (m *Manager) Enqueue(ctx context.Context, rec domain.TransactionRecord) (string, error) {
	if err := rec.Validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	item := QueuedWrite{
		ID:         uuid.NewString(),
		EnqueuedAt: time.Now(),
		Payload:    rec,
	}

	m.mu.Lock()
	m.items = append(m.items, item)
	if err := m.store.Save(m.items); err != nil {
		m.items = m.items[:len(m.items)-1]
		m.mu.Unlock()
		m.log.Error().Err(err).Str("write_id", item.ID).Msg("Failed to persist queued write")
		return "", fmt.Errorf("failed to persist queued write: %w", err)
	}
	m.dirty = false
	depth := len(m.items)
	m.mu.Unlock()

	m.log.Debug().Str("write_id", item.ID).Int("depth", depth).Msg("Write enqueued")
	m.Trigger()
	return item.ID, nil
}

// Trigger wakes up the drain loop.
// This is non-blocking and can be called from any goroutine.
func (m *Manager) Trigger() {
	select {
	case m.trigger <- struct{}{}:
	default:
		// Trigger already pending
	}
}

// Pause stops draining until Resume. Used when the session is gone.
func (m *Manager) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.paused {
		m.log.Info().Msg("Write queue paused")
	}
	m.paused = true
}

// Resume clears a pause and requests a drain.
func (m *Manager) Resume() {
	m.mu.Lock()
	was := m.paused
	m.paused = false
	m.mu.Unlock()

	if was {
		m.log.Info().Msg("Write queue resumed")
	}
	m.Trigger()
}

type verdict struct {
	remove     bool
	retryCount int
}

// Drain attempts every queued write once, in FIFO order.
// Returns ErrDrainInProgress without side effects if a pass is running.
func (m *Manager) Drain(ctx context.Context) (DrainResult, error) {
	if !m.draining.CompareAndSwap(false, true) {
		return DrainResult{}, ErrDrainInProgress
	}
	defer m.draining.Store(false)

	m.mu.Lock()
	if m.paused {
		remaining := len(m.items)
		m.mu.Unlock()
		return DrainResult{Paused: true, Remaining: remaining}, nil
	}
	snapshot := make([]QueuedWrite, len(m.items))
	copy(snapshot, m.items)
	m.mu.Unlock()

	var result DrainResult
	verdicts := make(map[string]verdict, len(snapshot))

	for _, item := range snapshot {
		if ctx.Err() != nil {
			break
		}

		result.Attempted++
		err := ledgerapi.WithRateLimitRetry(ctx, m.sleep, func(ctx context.Context) error {
			return m.deliverer.SubmitTransaction(ctx, item.Payload)
		})

		switch {
		case err == nil:
			verdicts[item.ID] = verdict{remove: true}
			result.Delivered++
			m.delivered.Add(1)
			m.emit(events.WriteDelivered, item, "")

		case ctx.Err() != nil:
			// Shutdown mid-delivery is not the write's fault.
			result.Attempted--

		case errors.Is(err, ledgerapi.ErrSessionExpired):
			m.log.Warn().Str("write_id", item.ID).Msg("Session expired, pausing queue")
			m.Pause()
			result.Attempted--
			result.Paused = true

		case ledgerapi.IsPermanent(err):
			verdicts[item.ID] = verdict{remove: true}
			result.Rejected++
			m.rejected.Add(1)
			m.log.Error().
				Err(err).
				Str("write_id", item.ID).
				Interface("payload", item.Payload).
				Msg("Write rejected by server, dropping")
			m.emit(events.WriteRejected, item, err.Error())

		default:
			retries := item.RetryCount + 1
			if retries >= MaxRetries {
				verdicts[item.ID] = verdict{remove: true, retryCount: retries}
				result.Abandoned++
				m.abandoned.Add(1)
				item.RetryCount = retries
				m.log.Error().
					Err(err).
					Str("write_id", item.ID).
					Int("retry_count", retries).
					Interface("payload", item.Payload).
					Msg("Write abandoned after exhausting retries")
				m.emit(events.WriteAbandoned, item, err.Error())
			} else {
				verdicts[item.ID] = verdict{retryCount: retries}
				result.Retried++
				m.log.Warn().
					Err(err).
					Str("write_id", item.ID).
					Int("retry_count", retries).
					Msg("Write delivery failed, will retry")
			}
		}

		if result.Paused {
			break
		}
	}

	remaining, persistErr := m.apply(verdicts)
	result.Remaining = remaining

	m.log.Info().
		Int("attempted", result.Attempted).
		Int("delivered", result.Delivered).
		Int("retried", result.Retried).
		Int("abandoned", result.Abandoned).
		Int("rejected", result.Rejected).
		Int("remaining", result.Remaining).
		Bool("paused", result.Paused).
		Msg("Drain pass finished")

	if result.Attempted > 0 || result.Paused {
		if m.bus != nil {
			m.bus.Emit(module, &events.QueueDrainedData{
				Attempted: result.Attempted,
				Delivered: result.Delivered,
				Abandoned: result.Abandoned,
				Rejected:  result.Rejected,
				Remaining: result.Remaining,
				Paused:    result.Paused,
			})
		}
	}

	return result, persistErr
}

// apply folds a pass's verdicts into the live list, which may have grown
// since the snapshot, and persists it.
func (m *Manager) apply(verdicts map[string]verdict) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastDrain = time.Now()

	if len(verdicts) == 0 && !m.dirty {
		return len(m.items), nil
	}

	kept := m.items[:0:0]
	for _, item := range m.items {
		v, seen := verdicts[item.ID]
		if seen && v.remove {
			continue
		}
		if seen {
			item.RetryCount = v.retryCount
		}
		kept = append(kept, item)
	}
	m.items = kept

	if err := m.store.Save(m.items); err != nil {
		m.dirty = true
		m.log.Error().Err(err).Msg("Failed to persist queue after drain, will retry next pass")
		return len(m.items), fmt.Errorf("failed to persist queue: %w", err)
	}
	m.dirty = false
	return len(m.items), nil
}

func (m *Manager) emit(t events.EventType, item QueuedWrite, errMsg string) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(module, &events.WriteOutcomeData{
		Type:       t,
		WriteID:    item.ID,
		RetryCount: item.RetryCount,
		Error:      errMsg,
		Payload:    item.Payload,
	})
}

// Run drains once at start, then on every Trigger and, when interval is
// positive, on a fixed ticker. It returns when ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	m.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.trigger:
			m.runOnce(ctx)
		case <-tick:
			m.runOnce(ctx)
		}
	}
}

func (m *Manager) runOnce(ctx context.Context) {
	if _, err := m.Drain(ctx); err != nil && !errors.Is(err, ErrDrainInProgress) {
		m.log.Warn().Err(err).Msg("Drain failed")
	}
}

// Pending returns a copy of the queue in FIFO order.
func (m *Manager) Pending() []QueuedWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]QueuedWrite, len(m.items))
	copy(out, m.items)
	return out
}

// Stats returns current depth and cumulative counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Depth:       len(m.items),
		Delivered:   m.delivered.Load(),
		Abandoned:   m.abandoned.Load(),
		Rejected:    m.rejected.Load(),
		Paused:      m.paused,
		Draining:    m.draining.Load(),
		LastDrainAt: m.lastDrain,
	}
}
