package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"example.com/devicesync/internal/config"
	"example.com/devicesync/internal/logging"
	"example.com/devicesync/internal/outbox"
	"example.com/devicesync/internal/persistence/postgres"
	httptransport "example.com/devicesync/internal/transport/http"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, "device-sync-dlqmanager")
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	manager := outbox.NewDLQManager(db.Pool, logger, cfg.DLQMaxRetries, cfg.DLQBaseDelay)

	metricsCfg := httptransport.DefaultServerConfig(cfg.MetricsAddress)
	metricsSrv := httptransport.NewServer(metricsCfg, promhttp.Handler())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httptransport.Run(ctx, metricsSrv, metricsCfg.ShutdownTimeout, logger.Named("metrics")); err != nil {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	logger.Info("dlq manager started",
		zap.Duration("interval", cfg.DLQPollInterval),
		zap.Int("max_retries", cfg.DLQMaxRetries),
		zap.Int("batch_size", cfg.DLQBatchSize),
	)
	manager.Run(ctx, cfg.DLQPollInterval, cfg.DLQBatchSize)

	logger.Info("dlq manager shutting down")
	wg.Wait()
}
