package queue

import (
	"github.com/rs/zerolog"

	"github.com/aristath/ledgersync/internal/events"
)

// RegisterListeners pauses the queue when the session ends and resumes it
// (with a drain) when a new one starts.
func RegisterListeners(bus *events.Bus, manager *Manager, log zerolog.Logger) {
	log = log.With().Str("component", "queue_listeners").Logger()

	bus.Subscribe(events.SessionExpired, func(event *events.Event) {
		log.Debug().Str("module", event.Module).Msg("Session ended, pausing write queue")
		manager.Pause()
	})

	bus.Subscribe(events.SessionStarted, func(event *events.Event) {
		log.Debug().Str("module", event.Module).Msg("Session started, resuming write queue")
		manager.Resume()
	})
}
