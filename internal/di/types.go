// Package di wires the application's components together.
package di

import (
	"github.com/aristath/ledgersync/internal/clientdata"
	"github.com/aristath/ledgersync/internal/clients/ledgerapi"
	"github.com/aristath/ledgersync/internal/database"
	"github.com/aristath/ledgersync/internal/events"
	"github.com/aristath/ledgersync/internal/health"
	"github.com/aristath/ledgersync/internal/kv"
	"github.com/aristath/ledgersync/internal/queue"
	"github.com/aristath/ledgersync/internal/reconciliation"
	"github.com/aristath/ledgersync/internal/scheduler"
	"github.com/aristath/ledgersync/internal/session"
)

// Container holds all dependencies for the application. It is created by
// Wire and is the single source of truth for component instances.
type Container struct {
	// Databases
	StateDB *database.DB // queue, session, health status (ledger profile)
	CacheDB *database.DB // response cache (cache profile)

	// Repositories
	KVRepo     *kv.Repository
	CacheRepo  *clientdata.Repository
	QueueStore queue.Store

	// Services
	EventBus       *events.Bus
	Session        *session.Store
	APIClient      *ledgerapi.Client
	QueueManager   *queue.Manager
	Reconciliation *reconciliation.Engine
	HealthPoller   *health.Poller
	Scheduler      *scheduler.Scheduler
}

// Close releases the databases. Background components must be stopped first.
func (c *Container) Close() error {
	var firstErr error
	for _, db := range []*database.DB{c.StateDB, c.CacheDB} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
