package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sigweihq/knowpay/pkg/chains"
	"github.com/sigweihq/knowpay/pkg/chains/evm"
	"github.com/sigweihq/knowpay/pkg/chains/svm"
	"github.com/sigweihq/knowpay/pkg/config"
	"github.com/sigweihq/knowpay/pkg/constants"
	"github.com/sigweihq/knowpay/pkg/database"
	"github.com/sigweihq/knowpay/pkg/ledger"
	"github.com/sigweihq/knowpay/pkg/server"
	"github.com/sigweihq/knowpay/pkg/verifier"
	"github.com/sigweihq/knowpay/pkg/webhook"
	"github.com/sigweihq/knowpay/pkg/x402"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("knowpay stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	readiness := config.NewReadiness(cfg)
	if err := readiness.Check(); err != nil {
		// keep serving so /readyz reports the problem, payment routes fail closed
		logger.Error("network configuration is inconsistent", "network", cfg.Network, "error", err)
	}

	registry := chains.NewRegistry()
	endpoints := map[string][]string{cfg.Network: cfg.Endpoints()}
	svm.RegisterSVMReaders(registry, logger, endpoints, cfg.RPCTimeout)
	evm.RegisterEVMReaders(registry, logger, endpoints, cfg.RPCTimeout)
	if !registry.IsSupported(cfg.Network) {
		return &chains.UnsupportedNetworkError{Network: cfg.Network}
	}

	db, err := database.Open(ctx, database.MySQL(cfg.DatabaseDSN), logger, database.Options{},
		append(ledger.Models(), webhook.Models()...)...)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	sealer, err := webhook.NewSealer(cfg.WebhookSecretKey)
	if err != nil {
		return err
	}
	webhookStore := webhook.NewGormStore(db)
	dispatcherOpts := webhook.DispatcherOptions{Timeout: cfg.WebhookTimeout}
	scheduler := webhook.NewScheduler(webhook.NewDispatcher(sealer, dispatcherOpts, logger), webhookStore, logger)
	publisher := webhook.NewPublisher(webhookStore, scheduler, cfg.WebhookMaxAttempts, logger)

	store := ledger.NewGormStore(db)
	purchases := ledger.New(store, verifier.New(registry, cfg.RPCTimeout, logger), registry, publisher, ledger.Options{
		Network:        cfg.Network,
		ProgramID:      cfg.ProgramID,
		FeeVault:       cfg.FeeVault,
		FeeBasisPoints: cfg.FeeBasisPoints,
	}, logger)

	negotiator, err := x402.NewNegotiator(cfg, registry, readiness, logger)
	if err != nil {
		return err
	}

	deps := server.Deps{
		Config:     cfg,
		Purchases:  purchases,
		Catalog:    store,
		Negotiator: negotiator,
		Webhooks:   webhook.NewService(webhookStore, sealer, dispatcherOpts, logger),
		Readiness:  readiness,
		Logger:     logger,
	}
	if cfg.CacheEnabled() {
		client, err := server.NewRedisClient(ctx, cfg)
		if err != nil {
			logger.Warn("cache unavailable, continuing without it", "error", err)
		} else {
			defer client.Close()
			deps.AccessCache = server.NewAccessCache(client, constants.AccessCacheTTL, logger)
			deps.LimiterStorage = server.NewLimiterStorage(cfg)
		}
	}
	srv := server.New(deps)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("knowpay listening", "addr", cfg.Addr, "network", cfg.Network, "fee_split", negotiator.SplitEnabled())
		errCh <- srv.Listen(cfg.Addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("server shutdown failed", "error", err)
	}

	// let confirmed sales finish their side effects and deliveries
	purchases.Wait()
	publisher.Wait()
	return nil
}
