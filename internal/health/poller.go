// Package health polls the remote status endpoint on a schedule and keeps
// the latest result across restarts.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/ledgersync/internal/domain"
	"github.com/aristath/ledgersync/internal/events"
	"github.com/aristath/ledgersync/internal/kv"
)

const (
	// Namespace holds the last persisted status. It is wiped on logout.
	Namespace = "ledgersync.health"
	lastKey   = "last"

	// DefaultInterval is used when the configured interval is not positive.
	DefaultInterval = 30 * time.Second
)

// Checker performs one status request.
type Checker interface {
	Health(ctx context.Context) (domain.HealthStatus, error)
}

// Emitter publishes poll results.
type Emitter interface {
	Emit(module string, data events.EventData)
}

// Callback receives every poll result.
type Callback func(domain.HealthStatus)

// Poller runs Checker on an interval.
type Poller struct {
	checker  Checker
	repo     *kv.Repository
	bus      Emitter
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	log      zerolog.Logger

	mu       sync.Mutex
	runner   *cron.Cron
	callback Callback
	cancel   context.CancelFunc
	ctx      context.Context
	inflight sync.WaitGroup
	last     *domain.HealthStatus
}

// NewPoller creates a poller and loads the last persisted status. bus may be nil.
func NewPoller(checker Checker, repo *kv.Repository, bus Emitter, interval time.Duration, log zerolog.Logger) (*Poller, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	p := &Poller{
		checker:  checker,
		repo:     repo,
		bus:      bus,
		interval: interval,
		timeout:  interval,
		now:      time.Now,
		log:      log.With().Str("component", "health_poller").Logger(),
	}

	raw, err := repo.Get(Namespace, lastKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load last health status: %w", err)
	}
	if raw != nil {
		var status domain.HealthStatus
		if err := json.Unmarshal([]byte(*raw), &status); err != nil {
			p.log.Warn().Err(err).Msg("Discarding unreadable health status")
		} else {
			p.last = &status
		}
	}

	return p, nil
}

// Start schedules polling and runs the first tick immediately. Calling Start
// on a running poller does nothing.
func (p *Poller) Start(callback Callback) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.runner != nil {
		p.log.Debug().Msg("Health poller already running")
		return nil
	}

	runner := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := runner.AddFunc(fmt.Sprintf("@every %s", p.interval), p.tick); err != nil {
		return fmt.Errorf("failed to schedule health poll: %w", err)
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.callback = callback
	p.runner = runner
	runner.Start()

	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		p.tick()
	}()

	p.log.Info().Dur("interval", p.interval).Msg("Health poller started")
	return nil
}

// Stop cancels polling and waits for in-flight ticks.
func (p *Poller) Stop() {
	p.mu.Lock()
	runner, cancel := p.runner, p.cancel
	p.runner, p.cancel, p.callback = nil, nil, nil
	p.mu.Unlock()

	if runner == nil {
		return
	}

	cancel()
	<-runner.Stop().Done()
	p.inflight.Wait()
	p.log.Info().Msg("Health poller stopped")
}

// Running reports whether Start has been called without a matching Stop.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runner != nil
}

func (p *Poller) tick() {
	p.mu.Lock()
	parent, callback := p.ctx, p.callback
	p.mu.Unlock()
	if parent == nil {
		return
	}

	ctx, cancel := context.WithTimeout(parent, p.timeout)
	defer cancel()

	status := p.Poll(ctx)
	if callback != nil && parent.Err() == nil {
		callback(status)
	}
}

// Poll performs a single check, records the result and returns it. A failed
// check yields Healthy=false and keeps the previous LastSync. A check cut
// short by cancellation records nothing and returns the last known status.
func (p *Poller) Poll(ctx context.Context) domain.HealthStatus {
	status, err := p.checker.Health(ctx)

	p.mu.Lock()
	prev := p.last
	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		p.mu.Unlock()
		p.log.Debug().Err(err).Msg("Health check cancelled")
		if prev != nil {
			return *prev
		}
		return domain.HealthStatus{Error: err.Error()}
	}
	if err != nil {
		status = domain.HealthStatus{Error: err.Error()}
		if prev != nil {
			status.LastSync = prev.LastSync
			status.SyncedAccounts = prev.SyncedAccounts
		}
	}
	if status.CheckedAt.IsZero() {
		status.CheckedAt = p.now()
	}
	p.last = &status
	p.mu.Unlock()

	changed := prev != nil && prev.Healthy != status.Healthy

	if err != nil {
		p.log.Warn().Err(err).Msg("Health check failed")
	} else {
		p.log.Debug().Bool("healthy", status.Healthy).Int("synced_accounts", status.SyncedAccounts).Msg("Health polled")
	}
	if changed {
		p.log.Info().Bool("healthy", status.Healthy).Msg("Health status changed")
	}

	if data, mErr := json.Marshal(status); mErr == nil {
		if sErr := p.repo.Set(Namespace, lastKey, string(data)); sErr != nil {
			p.log.Warn().Err(sErr).Msg("Failed to persist health status")
		}
	}

	if p.bus != nil {
		p.bus.Emit("health", &events.HealthData{
			Changed:        changed,
			Healthy:        status.Healthy,
			LastSync:       status.LastSync,
			SyncedAccounts: status.SyncedAccounts,
			Error:          status.Error,
		})
	}

	return status
}

// Last returns the most recent status, persisted or fresh.
func (p *Poller) Last() (domain.HealthStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return domain.HealthStatus{}, false
	}
	return *p.last, true
}

// Clear forgets the last status. Registered as a logout hook.
func (p *Poller) Clear() error {
	p.mu.Lock()
	p.last = nil
	p.mu.Unlock()

	if _, err := p.repo.DeleteNamespace(Namespace); err != nil {
		return fmt.Errorf("failed to clear health status: %w", err)
	}
	return nil
}
