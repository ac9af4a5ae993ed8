// Command stockauthctl runs maintenance tasks against the credential store.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"

	"github.com/stockauth/stockauth/pkg/logger"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.CommandsCommand(), "")
	commander.Register(&migrateCmd{}, "store")
	commander.Register(&seedAdminCmd{}, "users")

	flag.Parse()
	logger.Init(logger.Options{Level: "info", Pretty: true, Service: "stockauthctl"})
	os.Exit(int(commander.Execute(context.Background())))
}
