package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/subcommands"

	"github.com/aristath/ledgersync/internal/domain"
	"github.com/aristath/ledgersync/internal/server"
)

type serveCmd struct{}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "run the local API server and background sync" }
func (*serveCmd) Usage() string {
	return `ledgersync serve

  Starts the HTTP API, the write queue drain loop, the health poller and
  maintenance jobs. Stops on SIGINT or SIGTERM.
`
}

func (*serveCmd) SetFlags(f *flag.FlagSet) {}

func (c *serveCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	a, err := newApp(true)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	defer a.close()

	log := a.log
	container := a.container
	log.Info().Str("api", a.cfg.APIBaseURL).Msg("Starting ledgersync")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := server.New(server.Config{
		Log:     log,
		Port:    a.cfg.Port,
		DevMode: a.cfg.DevMode,
		Queue:   container.QueueManager,
		Auditor: container.Reconciliation,
		Health:  container.HealthPoller,
		Session: container.Session,
		Options: container.APIClient,
		Bus:     container.EventBus,
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	queueDone := make(chan struct{})
	go func() {
		defer close(queueDone)
		container.QueueManager.Run(ctx, a.cfg.DrainInterval)
	}()

	if err := container.HealthPoller.Start(func(s domain.HealthStatus) {
		if !s.Healthy {
			return
		}
		// The remote answered; flush anything queued while offline.
		container.QueueManager.Trigger()
	}); err != nil {
		log.Error().Err(err).Msg("Failed to start health poller")
	}

	container.Scheduler.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	status := subcommands.ExitSuccess
	select {
	case <-quit:
	case err := <-serverErr:
		log.Error().Err(err).Msg("Server failed")
		status = subcommands.ExitFailure
	}

	log.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	container.HealthPoller.Stop()
	container.Scheduler.Stop()
	cancel()
	<-queueDone

	log.Info().Msg("Stopped")
	return status
}
