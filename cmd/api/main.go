package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"example.com/devicesync/internal/api"
	"example.com/devicesync/internal/auth"
	"example.com/devicesync/internal/config"
	"example.com/devicesync/internal/domain"
	"example.com/devicesync/internal/ingest"
	"example.com/devicesync/internal/logging"
	"example.com/devicesync/internal/migrate"
	"example.com/devicesync/internal/observability"
	"example.com/devicesync/internal/outbox"
	"example.com/devicesync/internal/persistence/memory"
	"example.com/devicesync/internal/persistence/postgres"
	"example.com/devicesync/internal/route"
	"example.com/devicesync/internal/syncgw"
	httptransport "example.com/devicesync/internal/transport/http"
	"example.com/devicesync/internal/vendor"
)

type stores struct {
	connections domain.ConnectionStore
	activities  domain.ActivityStore
	reader      domain.DeviceActivityReader
}

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, "device-sync-api")
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	if err := observability.InitSentry(observability.SentryConfig{
		DSN:         cfg.SentryDSN,
		Environment: cfg.SentryEnvironment,
		ServerName:  "device-sync-api",
	}, logger); err != nil {
		logger.Warn("sentry disabled", zap.Error(err))
	}
	defer observability.FlushSentry(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var st stores
	var dispatcher *outbox.Dispatcher
	if cfg.PostgresURL == "memory" {
		logger.Warn("using in-memory store, data and events are not persisted")
		store := memory.NewStore()
		st = stores{connections: store, activities: store, reader: store}
	} else {
		if cfg.RunMigrations {
			if err := migrate.Up(ctx, cfg.PostgresURL); err != nil {
				logger.Fatal("migrations failed", zap.Error(err))
			}
		}

		db, err := postgres.New(ctx, cfg.PostgresURL)
		if err != nil {
			logger.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer db.Close()

		activityRepo := postgres.NewActivityRepo(db)
		st = stores{connections: postgres.NewConnectionRepo(db), activities: activityRepo, reader: activityRepo}

		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers, postgres.TopicSpecs()...)
		defer producer.Close()

		registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
		dispatcher = outbox.NewDispatcher(db.Pool, producer, registry, logger.Named("outbox"), cfg.OutboxPollInterval, cfg.OutboxBatchSize)
		go dispatcher.Start(ctx)
	}

	client := vendor.NewClient(vendor.Config{
		BaseURL:        cfg.Device.APIBaseURL,
		ConsumerKey:    cfg.Device.ConsumerKey,
		ConsumerSecret: cfg.Device.ConsumerSecret,
		Timeout:        cfg.Device.RequestTimeout,
	})

	engine := ingest.NewEngine(st.activities, st.connections, ingest.WithLogger(logger.Named("ingest")))
	gateway := syncgw.NewGateway(st.connections, client, engine, syncgw.Config{
		PullWindow:       cfg.Device.PullWindow,
		DefaultPullRange: cfg.Device.DefaultPullRange,
		PushDeadline:     cfg.Device.WebhookDeadline,
	}, syncgw.WithLogger(logger.Named("sync")))
	resolver := route.NewResolver(st.connections, st.reader, client, route.WithLogger(logger.Named("route")))

	handler := api.NewHandler(gateway, resolver, st.connections, st.reader, logger.Named("http"))
	router := api.NewRouter(handler, auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, logger.Named("http"))

	serverCfg := httptransport.APIServerConfig(cfg.HTTPAddress, cfg.Device.WebhookDeadline)
	server := httptransport.NewServer(serverCfg, router)
	if err := httptransport.Run(ctx, server, serverCfg.ShutdownTimeout, logger); err != nil {
		logger.Error("http server stopped", zap.Error(err))
	}
	stop()

	if dispatcher != nil {
		dispatcher.Wait()
	}
	logger.Info("device-sync-api stopped")
}
