package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/stockauth/stockauth/internal/core/service"
	"github.com/stockauth/stockauth/internal/infrastructure/config"
	"github.com/stockauth/stockauth/internal/infrastructure/db"
	"github.com/stockauth/stockauth/pkg/logger"
)

type seedAdminCmd struct {
	username string
	email    string
}

func (*seedAdminCmd) Name() string     { return "seed-admin" }
func (*seedAdminCmd) Synopsis() string { return "create the admin account if it does not exist" }
func (*seedAdminCmd) Usage() string {
	return `seed-admin -username <name> -email <email>

  Creates an admin account. The password is read from STOCKAUTH_ADMIN_PASSWORD.
  Running it again for an existing admin does nothing.
`
}

func (c *seedAdminCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.username, "username", "admin", "Admin username")
	f.StringVar(&c.email, "email", "", "Admin email (required)")
}

func (c *seedAdminCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	password := os.Getenv("STOCKAUTH_ADMIN_PASSWORD")
	if c.email == "" || password == "" {
		fmt.Fprintln(os.Stderr, "Error: -email and STOCKAUTH_ADMIN_PASSWORD are required.")
		return subcommands.ExitUsageError
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	store, err := db.Open(ctx, cfg, true, logger.Component("store"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer store.Close(ctx)

	seeder := service.NewAdminSeeder(store.Credentials, logger.Component("admin"))
	admin, created, err := seeder.Seed(ctx, service.AdminInput{Username: c.username, Email: c.email, Password: password})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	if created {
		fmt.Printf("admin %q created (id %d)\n", admin.Username, admin.ID)
	} else {
		fmt.Printf("admin %q already exists (id %d)\n", admin.Username, admin.ID)
	}
	return subcommands.ExitSuccess
}
