package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/subcommands"
)

type loginCmd struct {
	token string
}

func (*loginCmd) Name() string     { return "login" }
func (*loginCmd) Synopsis() string { return "store the API token" }
func (*loginCmd) Usage() string {
	return `ledgersync login [-token <token>]

  Stores the bearer token used for every request. Without -token the
  token is read from the first line of stdin.
`
}

func (c *loginCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.token, "token", "", "Bearer token")
}

func (c *loginCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	token := c.token
	if token == "" {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			fail(fmt.Errorf("failed to read token: %w", err))
			return subcommands.ExitUsageError
		}
		token = strings.TrimSpace(line)
	}

	a, err := newApp(false)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	defer a.close()

	if err := a.container.Session.SetToken(token); err != nil {
		fail(err)
		return subcommands.ExitUsageError
	}
	fmt.Printf("logged in (device %s)\n", a.container.Session.DeviceID())
	return subcommands.ExitSuccess
}

type logoutCmd struct{}

func (*logoutCmd) Name() string     { return "logout" }
func (*logoutCmd) Synopsis() string { return "forget the token and cached data" }
func (*logoutCmd) Usage() string {
	return `ledgersync logout

  Removes the token, the response cache and the last health status.
  Queued writes are kept and delivered after the next login.
`
}

func (*logoutCmd) SetFlags(f *flag.FlagSet) {}

func (c *logoutCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	a, err := newApp(false)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	defer a.close()

	if err := a.container.Session.Logout(); err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	fmt.Printf("logged out (%d writes still queued)\n", a.container.QueueManager.Stats().Depth)
	return subcommands.ExitSuccess
}
