package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/ledgersync/internal/clients/ledgerapi"
	"github.com/aristath/ledgersync/internal/config"
	"github.com/aristath/ledgersync/internal/events"
	"github.com/aristath/ledgersync/internal/health"
	"github.com/aristath/ledgersync/internal/queue"
	"github.com/aristath/ledgersync/internal/reconciliation"
	"github.com/aristath/ledgersync/internal/session"
)

// InitializeServices creates the services and connects them through the
// event bus and session hooks. Nothing is started here.
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	container.EventBus = events.NewBus(log)

	sess, err := session.NewStore(container.KVRepo, log)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	container.Session = sess

	// Session transitions become bus events so the queue can pause and resume.
	bus := container.EventBus
	sess.OnChange(func(c session.Change) {
		bus.Emit("session", &events.SessionChangedData{Active: c.Active, Reason: c.Reason})
	})

	client, err := ledgerapi.NewClient(ledgerapi.Config{
		BaseURL: cfg.APIBaseURL,
		Timeout: cfg.RequestTimeout,
	}, sess, container.CacheRepo, log)
	if err != nil {
		return fmt.Errorf("failed to create API client: %w", err)
	}
	container.APIClient = client

	manager, err := queue.NewManager(container.QueueStore, client, bus, log)
	if err != nil {
		return fmt.Errorf("failed to create queue manager: %w", err)
	}
	container.QueueManager = manager
	queue.RegisterListeners(bus, manager, log)
	if !sess.Active() {
		// Nothing can be delivered until a token is set.
		manager.Pause()
	}

	container.Reconciliation = reconciliation.NewEngine(client, cfg.Currency, log)

	poller, err := health.NewPoller(client, container.KVRepo, bus, cfg.HealthPollInterval, log)
	if err != nil {
		return fmt.Errorf("failed to create health poller: %w", err)
	}
	container.HealthPoller = poller

	// Queued writes belong to the device and survive logout.
	sess.OnLogout(container.CacheRepo.Clear)
	sess.OnLogout(poller.Clear)

	log.Info().Bool("session_active", sess.Active()).Int("queued", manager.Stats().Depth).Msg("Services initialized")
	return nil
}
