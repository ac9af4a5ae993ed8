// Package db opens the credential store selected by configuration.
package db

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/stockauth/stockauth/internal/core/ports"
	"github.com/stockauth/stockauth/internal/infrastructure/config"
	"github.com/stockauth/stockauth/internal/infrastructure/db/memory"
	mongostore "github.com/stockauth/stockauth/internal/infrastructure/db/mongo"
	"github.com/stockauth/stockauth/internal/infrastructure/db/postgres"
)

// Store is an opened credential store with its readiness checks.
type Store struct {
	Credentials ports.CredentialStore
	Pingers     map[string]func(ctx context.Context) error
	closers     []func(ctx context.Context) error
}

// Close releases every connection the store opened.
func (s *Store) Close(ctx context.Context) error {
	var first error
	for _, c := range s.closers {
		if err := c(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Open connects to the driver named by cfg.Store.Driver. Postgres schemas are
// migrated when migrate is true.
func Open(ctx context.Context, cfg *config.Config, migrate bool, log zerolog.Logger) (*Store, error) {
	s := &Store{Pingers: make(map[string]func(ctx context.Context) error)}

	switch cfg.Store.Driver {
	case config.StoreMemory:
		log.Warn().Msg("using in-memory credential store, data is lost on restart")
		s.Credentials = memory.NewCredentialStore()

	case config.StoreMongo:
		client, database, err := mongostore.Connect(ctx, mongostore.Config{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database})
		if err != nil {
			return nil, err
		}
		store := mongostore.NewCredentialStore(database)
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(ctx)
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		s.Credentials = store
		s.Pingers["mongodb"] = func(ctx context.Context) error { return client.Ping(ctx, nil) }
		s.closers = append(s.closers, client.Disconnect)
		log.Info().Str("database", cfg.Mongo.Database).Msg("connected to mongodb")

	case config.StorePostgres:
		sqlDB, err := postgres.Open(ctx, postgres.Config{DSN: cfg.PG.DSN, MaxOpenConns: cfg.PG.MaxOpenConns})
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := postgres.Migrate(ctx, sqlDB); err != nil {
				_ = sqlDB.Close()
				return nil, err
			}
		}
		s.Credentials = postgres.NewCredentialStore(sqlDB)
		s.Pingers["postgres"] = sqlDB.PingContext
		s.closers = append(s.closers, func(context.Context) error { return sqlDB.Close() })
		log.Info().Msg("connected to postgres")

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	return s, nil
}
