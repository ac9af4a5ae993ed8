// Command stockauthd serves the platform and broker session API.
//
// @title                       Stock Auth API
// @version                     1.0
// @description                 Platform login, TOTP two-factor enrollment and broker session linking.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/stockauth/stockauth/internal/api"
	"github.com/stockauth/stockauth/internal/api/handler"
	"github.com/stockauth/stockauth/internal/api/metrics"
	"github.com/stockauth/stockauth/internal/core/ports"
	"github.com/stockauth/stockauth/internal/core/service"
	"github.com/stockauth/stockauth/internal/infrastructure/broker"
	"github.com/stockauth/stockauth/internal/infrastructure/config"
	"github.com/stockauth/stockauth/internal/infrastructure/crypto"
	"github.com/stockauth/stockauth/internal/infrastructure/db"
	redisstore "github.com/stockauth/stockauth/internal/infrastructure/db/redis"
	"github.com/stockauth/stockauth/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	port := pflag.String("port", "", "listen port (overrides PORT)")
	logLevel := pflag.String("log-level", "", "log level (overrides LOG_LEVEL)")
	pretty := pflag.Bool("pretty", false, "human-readable console logs")
	storeDriver := pflag.String("store", "", "credential store: mongo, postgres or memory (overrides STORE_DRIVER)")
	pflag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		log := logger.Init(logger.Options{Service: "stockauthd"})
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if *port != "" {
		cfg.Port = *port
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *storeDriver != "" {
		cfg.Store.Driver = *storeDriver
	}

	log := logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty || *pretty,
		Service: "stockauthd",
	})

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	store, err := db.Open(ctx, cfg, true, logger.Component("store"))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.Error().Err(err).Msg("closing store")
		}
	}()

	readiness := make(map[string]handler.Pinger, len(store.Pingers)+1)
	for name, ping := range store.Pingers {
		readiness[name] = ping
	}

	var guard ports.StepGuard
	if cfg.Auth.ReplayGuard {
		rdb, err := redisstore.Connect(ctx, redisstore.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			return err
		}
		defer rdb.Close()
		guard = redisstore.NewStepGuard(rdb)
		readiness["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		log.Info().Str("addr", cfg.Redis.Addr).Msg("totp replay guard enabled")
	}

	box, err := crypto.NewSecretBox([]byte(cfg.Auth.EncryptionKey))
	if err != nil {
		return err
	}

	brokers, err := broker.NewDirectory(cfg.Broker.Mode, broker.AngelConfig{
		BaseURL:        cfg.Broker.AngelBaseURL,
		ClientLocalIP:  cfg.Broker.ClientLocalIP,
		ClientPublicIP: cfg.Broker.ClientPublicIP,
		MACAddress:     cfg.Broker.MACAddress,
	}, &http.Client{Timeout: cfg.Broker.Timeout})
	if err != nil {
		return err
	}
	brokers.Wrap(metrics.InstrumentGateway)

	tokens := service.NewTokenIssuer([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenIssuer, cfg.Auth.TokenTTL)
	sessions := service.NewSessionService(
		store.Credentials,
		box,
		tokens,
		service.NewTOTPEngine(cfg.Auth.TOTPIssuer),
		brokers,
		logger.Component("session"),
		service.SessionOptions{BrokerTimeout: cfg.Broker.Timeout, StepGuard: guard},
	)

	e := api.NewRouter(api.Deps{
		Sessions:   sessions,
		Tokens:     tokens,
		Readiness:  readiness,
		Logger:     logger.Component("http"),
		Registerer: prometheus.DefaultRegisterer,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Str("store", cfg.Store.Driver).Str("broker_mode", cfg.Broker.Mode).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
