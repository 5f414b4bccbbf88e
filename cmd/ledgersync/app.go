package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/rs/zerolog"

	"github.com/aristath/ledgersync/internal/config"
	"github.com/aristath/ledgersync/internal/di"
	"github.com/aristath/ledgersync/pkg/logger"
)

// app is the wired process state shared by every command.
type app struct {
	cfg       *config.Config
	log       zerolog.Logger
	container *di.Container
	jobs      *di.JobInstances
}

// newApp loads configuration and wires the container. Logs go to stderr
// so report output on stdout stays clean.
func newApp(pretty bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: pretty})
	logger.SetGlobalLogger(log)

	container, jobs, err := di.Wire(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to wire dependencies: %w", err)
	}

	return &app{cfg: cfg, log: log, container: container, jobs: jobs}, nil
}

func (a *app) close() {
	if err := a.container.Close(); err != nil {
		a.log.Error().Err(err).Msg("Failed to close databases")
	}
}

func printMarkdown(md string) {
	out, err := glamour.Render(md, "auto")
	if err != nil {
		fmt.Print(md)
		return
	}
	fmt.Print(out)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}
