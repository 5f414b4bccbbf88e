// Command ledgersync runs the bookkeeping sync core: a local API server
// with the offline write queue, plus one-shot commands for audits, queue
// inspection and session management.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")

	for _, c := range commands {
		commander.Register(c, "")
	}

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}

var commands = []subcommands.Command{
	&serveCmd{},
	&auditCmd{},
	&addCmd{},
	&queueCmd{},
	&drainCmd{},
	&loginCmd{},
	&logoutCmd{},
	&statusCmd{},
}
