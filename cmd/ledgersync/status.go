package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/google/subcommands"

	"github.com/aristath/ledgersync/internal/domain"
	"github.com/aristath/ledgersync/internal/queue"
)

type statusCmd struct {
	offline bool
}

func (*statusCmd) Name() string     { return "status" }
func (*statusCmd) Synopsis() string { return "show session, queue and remote health" }
func (*statusCmd) Usage() string {
	return `ledgersync status [-offline]

  Polls the remote status endpoint once (unless -offline, which shows the
  last known result) and prints it with the session and queue state.
`
}

func (c *statusCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.offline, "offline", false, "Do not contact the remote service")
}

func (c *statusCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	a, err := newApp(false)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	defer a.close()

	var health *domain.HealthStatus
	if c.offline {
		if last, ok := a.container.HealthPoller.Last(); ok {
			health = &last
		}
	} else {
		polled := a.container.HealthPoller.Poll(ctx)
		health = &polled
	}

	printMarkdown(statusMarkdown(a.container.Session.Active(), a.container.Session.DeviceID(),
		a.container.QueueManager.Stats(), health))
	return subcommands.ExitSuccess
}

func statusMarkdown(active bool, deviceID string, stats queue.Stats, health *domain.HealthStatus) string {
	var b strings.Builder
	b.WriteString("# ledgersync status\n\n")

	session := "logged out"
	if active {
		session = "logged in"
	}
	fmt.Fprintf(&b, "- Session: %s (device `%s`)\n", session, deviceID)
	fmt.Fprintf(&b, "- Queue: %d pending", stats.Depth)
	if stats.Paused {
		b.WriteString(", paused")
	}
	b.WriteString("\n")

	switch {
	case health == nil:
		b.WriteString("- Remote: unknown\n")
	case health.Healthy:
		fmt.Fprintf(&b, "- Remote: healthy, %d accounts synced, last sync %s\n",
			health.SyncedAccounts, formatTime(health.LastSync))
	default:
		fmt.Fprintf(&b, "- Remote: unhealthy (%s), last sync %s\n", health.Error, formatTime(health.LastSync))
	}
	return b.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}
